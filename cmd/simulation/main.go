package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wbobeirne/run-lnd-store/internal/auth"
	"github.com/wbobeirne/run-lnd-store/internal/database"
	"github.com/wbobeirne/run-lnd-store/internal/identity"
	"github.com/wbobeirne/run-lnd-store/internal/lightning"
	"github.com/wbobeirne/run-lnd-store/internal/orders"
	"github.com/wbobeirne/run-lnd-store/internal/payments"
	"github.com/wbobeirne/run-lnd-store/internal/types"
	"github.com/wbobeirne/run-lnd-store/pkg/middleware"
)

const (
	minBuyers     = 10
	maxBuyers     = 40
	numWorkers    = 5
	serverAddress = "http://localhost:8080"
	wsAddress     = "ws://localhost:8080"

	challengeMessage = "I run LND"
	shirtCost        = 500_000 // sats
	invoiceExpiry    = 15 * time.Minute
	stockPerSize     = 15
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	mu         sync.Mutex
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

func (rs *routeStats) addFailure() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.failures++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP and websocket communication with the store API
type simulationClient struct {
	baseURL string
	wsURL   string
	client  *http.Client
	stats   map[string]*routeStats
}

func newSimulationClient() *simulationClient {
	return &simulationClient{
		baseURL: serverAddress,
		wsURL:   wsAddress,
		client:  &http.Client{Timeout: 10 * time.Second},
		stats: map[string]*routeStats{
			"stock":     {name: "Get Stock"},
			"create":    {name: "Create Order"},
			"subscribe": {name: "Payment Subscribe"},
			"shipping":  {name: "Submit Shipping"},
			"get":       {name: "Get Order"},
		},
	}
}

// orderEnvelope mirrors the POST /api/order response payload.
type orderEnvelope struct {
	ID             string `json:"id"`
	PaymentRequest string `json:"paymentRequest"`
	HasPaid        bool   `json:"hasPaid"`
	Size           string `json:"size"`
	AccessToken    string `json:"accessToken"`
}

func (sc *simulationClient) getStock() (map[string]types.StockInfo, error) {
	start := time.Now()
	defer func() { sc.stats["stock"].addDuration(time.Since(start)) }()

	resp, err := sc.client.Get(sc.baseURL + "/api/stock")
	if err != nil {
		sc.stats["stock"].addFailure()
		return nil, err
	}
	defer resp.Body.Close()

	var result struct {
		Data map[string]types.StockInfo `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		sc.stats["stock"].addFailure()
		return nil, err
	}
	return result.Data, nil
}

// createOrder submits a signed order request and returns the order envelope
func (sc *simulationClient) createOrder(pubkey string, size types.Size) (*orderEnvelope, error) {
	start := time.Now()
	defer func() { sc.stats["create"].addDuration(time.Since(start)) }()

	body, err := json.Marshal(map[string]string{
		"message":   challengeMessage,
		"signature": lightning.Signature(pubkey),
		"size":      string(size),
	})
	if err != nil {
		return nil, err
	}

	resp, err := sc.client.Post(sc.baseURL+"/api/order", "application/json", bytes.NewBuffer(body))
	if err != nil {
		sc.stats["create"].addFailure()
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		sc.stats["create"].addFailure()
		return nil, err
	}
	log.Debug().Str("response", string(respBody)).Msg("Create order response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		sc.stats["create"].addFailure()
		return nil, fmt.Errorf("create order failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Data orderEnvelope `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		sc.stats["create"].addFailure()
		return nil, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	if result.Data.ID == "" {
		sc.stats["create"].addFailure()
		return nil, fmt.Errorf("no order ID in response: %s", string(respBody))
	}
	return &result.Data, nil
}

// awaitPayment subscribes over websocket and blocks until the single
// payment event arrives
func (sc *simulationClient) awaitPayment(order *orderEnvelope) (payments.Event, error) {
	start := time.Now()
	defer func() { sc.stats["subscribe"].addDuration(time.Since(start)) }()

	url := fmt.Sprintf("%s/api/order/%s/subscribe?token=%s", sc.wsURL, order.ID, order.AccessToken)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		sc.stats["subscribe"].addFailure()
		return payments.Event{}, err
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	var ev payments.Event
	if err := conn.ReadJSON(&ev); err != nil {
		sc.stats["subscribe"].addFailure()
		return payments.Event{}, err
	}
	return ev, nil
}

// submitShipping fills in the fulfillment fields for a paid order
func (sc *simulationClient) submitShipping(order *orderEnvelope, buyer int) error {
	start := time.Now()
	defer func() { sc.stats["shipping"].addDuration(time.Since(start)) }()

	body, err := json.Marshal(map[string]string{
		"email":    fmt.Sprintf("buyer%d@example.com", buyer),
		"name":     fmt.Sprintf("Simulated Buyer %d", buyer),
		"address1": fmt.Sprintf("%d Lightning Way", buyer),
		"city":     "Satsville",
		"state":    "LN",
		"zip":      "21000000",
		"country":  "US",
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPut,
		fmt.Sprintf("%s/api/order/%s", sc.baseURL, order.ID), bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+order.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats["shipping"].addFailure()
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		sc.stats["shipping"].addFailure()
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("submit shipping failed with status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// getOrder retrieves the public view of an order
func (sc *simulationClient) getOrder(orderID string) (*types.Order, error) {
	start := time.Now()
	defer func() { sc.stats["get"].addDuration(time.Since(start)) }()

	resp, err := sc.client.Get(fmt.Sprintf("%s/api/order/%s", sc.baseURL, orderID))
	if err != nil {
		sc.stats["get"].addFailure()
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		sc.stats["get"].addFailure()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("get order failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Data types.Order `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		sc.stats["get"].addFailure()
		return nil, err
	}
	return &result.Data, nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

type buyerResult struct {
	size    types.Size
	paid    bool
	shipped bool
	err     error
}

// main runs the storefront simulation: an in-process server backed by a
// fake Lightning node, and a swarm of buyers proving identity, paying
// invoices, and submitting shipping info.
func main() {
	fakeNode := lightning.NewFakeClient()

	go func() {
		if err := startServer(fakeNode); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	simClient := newSimulationClient()

	targetBuyers := rand.Intn(maxBuyers-minBuyers) + minBuyers
	log.Info().Int("target_buyers", targetBuyers).Msg("Starting simulation")

	startTime := time.Now()
	resultsChan := make(chan buyerResult, targetBuyers)
	buyersChan := make(chan int, targetBuyers)
	for i := 0; i < targetBuyers; i++ {
		buyersChan <- i
	}
	close(buyersChan)

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for buyer := range buyersChan {
				resultsChan <- runBuyer(buyer, simClient, fakeNode)
				time.Sleep(time.Duration(rand.Intn(200)) * time.Millisecond)
			}
		}()
	}
	wg.Wait()
	close(resultsChan)

	// Aggregate results
	var paid, shipped, failed int
	sizeCounts := make(map[types.Size]int)
	for result := range resultsChan {
		if result.err != nil {
			failed++
			continue
		}
		sizeCounts[result.size]++
		if result.paid {
			paid++
		}
		if result.shipped {
			shipped++
		}
	}

	stock, err := simClient.getStock()
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch final stock")
	}

	duration := time.Since(startTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("STORE SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf(`
Order Statistics
----------------
Total Buyers:   %d
Paid Orders:    %d
Shipped Orders: %d
Failed Buyers:  %d
Duration:       %v

Size Distribution
-----------------
`, targetBuyers, paid, shipped, failed, duration.Round(time.Millisecond))

	for _, size := range types.Sizes {
		count := sizeCounts[size]
		bar := strings.Repeat("#", count)
		remaining := ""
		if info, ok := stock[string(size)]; ok {
			remaining = fmt.Sprintf(" (%d/%d left)", info.Available, info.Total)
		}
		fmt.Printf("%-3s: %s (%d)%s\n", size, bar, count, remaining)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	successRate := float64(shipped) / float64(targetBuyers) * 100
	log.Info().
		Float64("success_rate", successRate).
		Int("total_buyers", targetBuyers).
		Int("paid", paid).
		Int("shipped", shipped).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}

// runBuyer walks one simulated buyer through the full purchase flow.
// Around one buyer in five abandons their invoice unpaid.
func runBuyer(buyer int, simClient *simulationClient, fakeNode *lightning.FakeClient) buyerResult {
	pubkey := fmt.Sprintf("02simnode%04d", buyer)
	size := types.Sizes[rand.Intn(len(types.Sizes))]
	result := buyerResult{size: size}

	if _, err := simClient.getStock(); err != nil {
		result.err = err
		return result
	}

	order, err := simClient.createOrder(pubkey, size)
	if err != nil {
		log.Error().Err(err).Int("buyer", buyer).Msg("Failed to create order")
		result.err = err
		return result
	}
	log.Info().Int("buyer", buyer).Str("order_id", order.ID).Str("size", string(size)).
		Msg("Order created")

	if rand.Intn(5) == 0 {
		// Walks away without paying; their reservation expires on its own.
		return result
	}

	// Pay the invoice once the subscription is up, then wait for the event.
	paymentDone := make(chan struct{})
	go func() {
		defer close(paymentDone)
		time.Sleep(time.Duration(rand.Intn(300)+50) * time.Millisecond)
		fakeNode.SettlePaymentRequest(order.PaymentRequest)
	}()

	ev, err := simClient.awaitPayment(order)
	<-paymentDone
	if err != nil {
		log.Error().Err(err).Int("buyer", buyer).Msg("Payment subscription failed")
		result.err = err
		return result
	}
	if !ev.Success {
		result.err = fmt.Errorf("expected success event, got %+v", ev)
		return result
	}
	result.paid = true
	log.Info().Int("buyer", buyer).Str("order_id", order.ID).Msg("Payment confirmed")

	if err := simClient.submitShipping(order, buyer); err != nil {
		log.Error().Err(err).Int("buyer", buyer).Msg("Failed to submit shipping")
		result.err = err
		return result
	}
	result.shipped = true

	final, err := simClient.getOrder(order.ID)
	if err != nil {
		result.err = err
		return result
	}
	if !final.HasPaid {
		result.err = fmt.Errorf("order %s paid but record shows unpaid", order.ID)
	}
	return result
}

// startServer initializes and starts the store API server against the
// fake Lightning node
func startServer(fakeNode *lightning.FakeClient) error {
	gin.SetMode(gin.ReleaseMode)

	db, err := database.NewDatabase("file::memory:?cache=shared")
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	stock := make(map[types.Size]int, len(types.Sizes))
	for _, size := range types.Sizes {
		stock[size] = stockPerSize
	}

	authService := auth.NewService("simulation-secret-key")
	identityService := identity.NewService(fakeNode, challengeMessage)
	orderService := orders.NewService(orders.ServiceParams{
		DB:            db,
		LN:            fakeNode,
		Verifier:      identityService,
		Tokens:        authService,
		ShirtCost:     shirtCost,
		InvoiceExpiry: invoiceExpiry,
		Stock:         stock,
	})

	watcher := payments.NewWatcher(orderService.DB(), fakeNode)
	go watcher.Start(context.Background())

	router := gin.Default()
	identityHandlers := identity.NewGinHandlers(identityService)
	orderHandlers := orders.NewGinHandlers(orderService)
	paymentHandlers := payments.NewGinHandlers(watcher, orderService)

	api := router.Group("/api")
	{
		api.GET("/stock", orderHandlers.StockHandler())
		api.GET("/node", identityHandlers.NodeInfoHandler())
		api.POST("/verify", identityHandlers.VerifyHandler())
		api.POST("/order", orderHandlers.CreateOrderHandler())
		api.GET("/order/:id", orderHandlers.GetOrderHandler())
		api.GET("/order/:id/qr", orderHandlers.OrderQRHandler())

		protected := api.Group("/order/:id", middleware.OrderToken(authService))
		{
			protected.PUT("", orderHandlers.UpdateShippingHandler())
			protected.GET("/subscribe", paymentHandlers.SubscribeHandler())
		}
	}

	return router.Run(":8080")
}
