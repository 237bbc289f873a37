package orders

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbobeirne/run-lnd-store/internal/auth"
	"github.com/wbobeirne/run-lnd-store/internal/identity"
	"github.com/wbobeirne/run-lnd-store/internal/lightning"
	"github.com/wbobeirne/run-lnd-store/internal/types"
	"github.com/wbobeirne/run-lnd-store/pkg/middleware"
)

type apiResponse struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

type orderPayload struct {
	ID             string `json:"id"`
	Pubkey         string `json:"pubkey"`
	PaymentRequest string `json:"paymentRequest"`
	HasPaid        bool   `json:"hasPaid"`
	Size           string `json:"size"`
	Email          string `json:"email"`
	Name           string `json:"name"`
	AccessToken    string `json:"accessToken"`
}

func newTestRouter(t *testing.T) (*gin.Engine, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc, _ := newTestService(t, time.Hour, defaultStock())
	handlers := NewGinHandlers(svc)

	router := gin.New()
	api := router.Group("/api")
	api.GET("/stock", handlers.StockHandler())
	api.POST("/order", handlers.CreateOrderHandler())
	api.GET("/order/:id", handlers.GetOrderHandler())
	api.GET("/order/:id/qr", handlers.OrderQRHandler())
	protected := api.Group("/order/:id", middleware.OrderToken(auth.NewService("test-secret")))
	protected.PUT("", handlers.UpdateShippingHandler())

	return router, svc
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp apiResponse
	if ct := w.Header().Get("Content-Type"); w.Body.Len() > 0 && ct == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func createOrderViaAPI(t *testing.T, router *gin.Engine, pubkey string, size types.Size) orderPayload {
	t.Helper()
	w, resp := doJSON(t, router, http.MethodPost, "/api/order", gin.H{
		"message":   testChallenge,
		"signature": lightning.Signature(pubkey),
		"size":      size,
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, resp.Error)

	var order orderPayload
	require.NoError(t, json.Unmarshal(resp.Data, &order))
	return order
}

func TestStockEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	w, resp := doJSON(t, router, http.MethodGet, "/api/stock", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var stock map[string]types.StockInfo
	require.NoError(t, json.Unmarshal(resp.Data, &stock))
	require.Contains(t, stock, "M")
	assert.Equal(t, 3, stock["M"].Total)
	assert.Equal(t, 3, stock["M"].Available)
	assert.False(t, stock["M"].Pending)
}

func TestCreateOrderEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	order := createOrderViaAPI(t, router, "02alice", types.SizeM)
	assert.NotEmpty(t, order.ID)
	assert.Equal(t, "02alice", order.Pubkey)
	assert.NotEmpty(t, order.PaymentRequest)
	assert.NotEmpty(t, order.AccessToken)
	assert.False(t, order.HasPaid)

	// Held unit shows up in stock immediately.
	_, resp := doJSON(t, router, http.MethodGet, "/api/stock", nil, nil)
	var stock map[string]types.StockInfo
	require.NoError(t, json.Unmarshal(resp.Data, &stock))
	assert.Equal(t, 2, stock["M"].Available)
	assert.True(t, stock["M"].Pending)
}

func TestCreateOrderEndpointBadSignature(t *testing.T) {
	router, _ := newTestRouter(t)

	w, resp := doJSON(t, router, http.MethodPost, "/api/order", gin.H{
		"message":   testChallenge,
		"signature": "garbage",
		"size":      types.SizeM,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, identity.MsgInvalidSignature, resp.Error)
}

func TestCreateOrderEndpointMissingFields(t *testing.T) {
	router, _ := newTestRouter(t)

	w, resp := doJSON(t, router, http.MethodPost, "/api/order", gin.H{
		"message": testChallenge,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, resp.Error)
}

func TestGetOrderEndpointNotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	w, resp := doJSON(t, router, http.MethodGet, "/api/order/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "No order found", resp.Error)
}

func TestUpdateShippingEndpoint(t *testing.T) {
	router, svc := newTestRouter(t)
	order := createOrderViaAPI(t, router, "02alice", types.SizeM)

	_, err := svc.DB().MarkOrderPaid(orderRHash(t, svc, order.ID))
	require.NoError(t, err)

	shipping := gin.H{"email": "a@b.c", "name": "Alice"}

	// No token.
	w, _ := doJSON(t, router, http.MethodPut, "/api/order/"+order.ID, shipping, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Token for a different order.
	other := createOrderViaAPI(t, router, "02bob", types.SizeL)
	w, _ = doJSON(t, router, http.MethodPut, "/api/order/"+order.ID, shipping, map[string]string{
		"Authorization": "Bearer " + other.AccessToken,
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// The right token.
	w, resp := doJSON(t, router, http.MethodPut, "/api/order/"+order.ID, shipping, map[string]string{
		"Authorization": "Bearer " + order.AccessToken,
	})
	require.Equal(t, http.StatusOK, w.Code, resp.Error)

	var updated orderPayload
	require.NoError(t, json.Unmarshal(resp.Data, &updated))
	assert.Equal(t, "a@b.c", updated.Email)
	assert.Equal(t, "Alice", updated.Name)
}

func TestOrderQREndpoint(t *testing.T) {
	router, _ := newTestRouter(t)
	order := createOrderViaAPI(t, router, "02alice", types.SizeM)

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/order/%s/qr", order.ID), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "\x89PNG", w.Body.String()[:4])
}

func orderRHash(t *testing.T, svc *Service, orderID string) string {
	t.Helper()
	order, err := svc.GetOrder(orderID)
	require.NoError(t, err)
	require.NotNil(t, order)
	return order.RHash
}
