package payments

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/wbobeirne/run-lnd-store/internal/lightning"
	"github.com/wbobeirne/run-lnd-store/internal/types"
)

// Event is the single message a payment subscription resolves to.
type Event struct {
	Success bool   `json:"success,omitempty"`
	Expired bool   `json:"expired,omitempty"`
	Error   string `json:"error,omitempty"`
}

// MsgStreamLost tells a subscriber the settlement stream dropped and they
// should re-subscribe.
const MsgStreamLost = "Lost connection to the payment stream, please re-subscribe"

// expiryGrace pads the expiry timer so a settlement racing the deadline
// still wins when it genuinely landed in time. Variable so tests can run
// expiries quickly.
var expiryGrace = 3 * time.Second

// OrderStore is the slice of order persistence the watcher needs.
type OrderStore interface {
	MarkOrderPaid(rHash string) (*types.Order, error)
}

// Watcher bridges the node's process-wide invoice stream to per-order
// subscriptions. Settlements are persisted whether or not anyone is
// subscribed, so payment state converges even if the buyer's browser was
// closed when the invoice settled.
//
// Subscriptions are registered by payment hash, so each stream event costs
// one map lookup rather than a scan over every open subscription.
type Watcher struct {
	store  OrderStore
	ln     lightning.Client
	logger zerolog.Logger

	mu      sync.Mutex
	waiters map[string][]*Subscription
}

// NewWatcher creates a watcher over the given store and node client.
func NewWatcher(store OrderStore, ln lightning.Client) *Watcher {
	return &Watcher{
		store:   store,
		ln:      ln,
		logger:  zlog.With().Str("component", "payment_watcher").Logger(),
		waiters: make(map[string][]*Subscription),
	}
}

// Start consumes the settlement stream until ctx is cancelled. The stream
// is opened once and re-opened on failure with backoff; every drop is
// surfaced to the subscribers that were waiting at the time.
func (w *Watcher) Start(ctx context.Context) {
	w.logger.Info().Msg("starting payment watcher")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("shutting down payment watcher")
			return
		default:
		}

		stream, err := w.ln.SubscribeInvoices(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("failed to subscribe to invoices, retrying in 10s")
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Second):
				continue
			}
		}

		w.consume(ctx, stream)
	}
}

func (w *Watcher) consume(ctx context.Context, stream lightning.InvoiceStream) {
	for {
		invoice, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// The stream is the durability backstop for payment state, so
			// losing it is alert-worthy even though we reconnect.
			w.logger.Error().Err(err).Msg("settlement stream closed unexpectedly")
			w.failAll()
			select {
			case <-ctx.Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		w.handleInvoice(invoice)
	}
}

func (w *Watcher) handleInvoice(invoice *lightning.Invoice) {
	if !invoice.Settled {
		// An unsettled update still carries the authoritative creation
		// time and TTL; tighten waiting expiry timers to match.
		w.resetDeadlines(invoice)
		return
	}

	order, err := w.store.MarkOrderPaid(invoice.PaymentHash)
	if err != nil {
		w.logger.Error().Err(err).Str("payment_hash", invoice.PaymentHash).
			Msg("failed to mark order paid")
		return
	}
	if order == nil {
		// Settlement for an invoice we didn't issue an order against.
		return
	}

	w.logger.Info().Str("order_id", order.OrderID).Int64("amt_paid_sat", invoice.AmtPaidSat).
		Msg("received payment for order")

	w.mu.Lock()
	subs := w.waiters[invoice.PaymentHash]
	delete(w.waiters, invoice.PaymentHash)
	w.mu.Unlock()

	for _, sub := range subs {
		sub.fire(Event{Success: true})
	}
}

func (w *Watcher) resetDeadlines(invoice *lightning.Invoice) {
	if invoice.CreationDate.IsZero() || invoice.Expiry <= 0 {
		return
	}
	deadline := invoice.ExpiresAt().Add(expiryGrace)

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sub := range w.waiters[invoice.PaymentHash] {
		sub.resetTimer(time.Until(deadline))
	}
}

func (w *Watcher) failAll() {
	w.mu.Lock()
	all := w.waiters
	w.waiters = make(map[string][]*Subscription)
	w.mu.Unlock()

	for _, subs := range all {
		for _, sub := range subs {
			sub.fire(Event{Error: MsgStreamLost})
		}
	}
}

// Subscribe resolves an order's payment outcome. Orders already paid or
// already expired resolve immediately from the record; otherwise the
// subscription waits for the matching settlement event or its expiry
// timer, whichever the facts support first. Exactly one event is ever
// delivered. Callers must Close when done.
func (w *Watcher) Subscribe(order *types.Order) *Subscription {
	sub := &Subscription{
		watcher: w,
		rHash:   order.RHash,
		ch:      make(chan Event, 1),
	}
	sub.C = sub.ch

	if order.HasPaid {
		sub.fire(Event{Success: true})
		return sub
	}
	if order.IsExpired() {
		sub.fire(Event{Expired: true})
		return sub
	}

	w.mu.Lock()
	w.waiters[order.RHash] = append(w.waiters[order.RHash], sub)
	sub.timer = time.AfterFunc(time.Until(order.Expires.Add(expiryGrace)), func() {
		w.unregister(sub)
		sub.fire(Event{Expired: true})
	})
	w.mu.Unlock()

	return sub
}

func (w *Watcher) unregister(sub *Subscription) {
	w.mu.Lock()
	defer w.mu.Unlock()
	subs := w.waiters[sub.rHash]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(w.waiters, sub.rHash)
	} else {
		w.waiters[sub.rHash] = subs
	}
}

// Subscription is a one-shot wait on a single order's payment outcome.
type Subscription struct {
	// C delivers exactly one Event.
	C <-chan Event

	watcher *Watcher
	rHash   string
	ch      chan Event

	mu    sync.Mutex
	timer *time.Timer
	done  bool
}

func (s *Subscription) fire(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.ch <- ev
}

func (s *Subscription) resetTimer(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done || s.timer == nil {
		return
	}
	if d < 0 {
		d = 0
	}
	s.timer.Reset(d)
}

// Close detaches the subscription and cancels its expiry timer. Safe to
// call regardless of whether an event was delivered; subscriptions churn
// per order while the stream lives for the process, so leaking them is
// not an option.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	alreadyDone := s.done
	s.done = true
	s.mu.Unlock()

	if !alreadyDone {
		s.watcher.unregister(s)
	}
}
