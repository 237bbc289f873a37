package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/wbobeirne/run-lnd-store/internal/auth"
	"github.com/wbobeirne/run-lnd-store/internal/identity"
	"github.com/wbobeirne/run-lnd-store/internal/lightning"
	"github.com/wbobeirne/run-lnd-store/internal/types"
)

var (
	// ErrInvalidSize means the requested size is not one of the fixed set.
	ErrInvalidSize = errors.New("invalid size")
	// ErrInvoiceIssuance means the node failed to create an invoice. The
	// caller may retry the whole order; the resume path makes that safe.
	ErrInvoiceIssuance = errors.New("failed to create invoice")
)

// ServiceParams wires up an order lifecycle service.
type ServiceParams struct {
	DB            *gorm.DB
	LN            lightning.Client
	Verifier      *identity.Service
	Tokens        *auth.Service
	ShirtCost     int64
	InvoiceExpiry time.Duration
	Stock         map[types.Size]int
}

// Service orchestrates the order lifecycle: create-or-resume against the
// one-active-order-per-pubkey rule, reconciliation of out-of-band
// settlements, and fulfillment data capture.
type Service struct {
	db       *Database
	ledger   *StockLedger
	ln       lightning.Client
	verifier *identity.Service
	tokens   *auth.Service
	cost     int64
	expiry   time.Duration
	logger   zerolog.Logger
}

// NewService creates a new order service from its parameters.
func NewService(p ServiceParams) *Service {
	db := NewDatabase(p.DB)
	return &Service{
		db:       db,
		ledger:   NewStockLedger(db, p.Stock),
		ln:       p.LN,
		verifier: p.Verifier,
		tokens:   p.Tokens,
		cost:     p.ShirtCost,
		expiry:   p.InvoiceExpiry,
		logger:   zlog.With().Str("component", "orders").Logger(),
	}
}

// Ledger exposes the stock ledger for handlers and the simulator.
func (s *Service) Ledger() *StockLedger {
	return s.ledger
}

// DB exposes the order database for collaborators like the payment watcher.
func (s *Service) DB() *Database {
	return s.db
}

// CreateOrResumeOrder proves node ownership, then either resumes the
// pubkey's active order or reserves stock and issues a fresh invoice.
//
// The signature is re-verified on every call rather than trusting an
// earlier /verify: order creation must stand on its own proof. Resume is
// idempotent, a buyer retrying after a refresh or a flaky connection gets
// the same order and invoice back, never a second reservation.
func (s *Service) CreateOrResumeOrder(ctx context.Context, message, signature string, size types.Size) (*types.OrderEnvelope, error) {
	ident, err := s.verifier.Verify(ctx, message, signature)
	if err != nil {
		return nil, err
	}

	existing, err := s.db.GetLatestOrderForPubkey(ident.Pubkey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.reconcileSettlement(ctx, existing)
		if existing.IsActive() {
			return s.envelope(existing)
		}
	}

	if !size.Valid() {
		return nil, ErrInvalidSize
	}

	invoice, err := s.ln.AddInvoice(ctx, fmt.Sprintf("RUN LND Shirt (%s)", size), s.cost, s.expiry)
	if err != nil {
		s.logger.Error().Err(err).Str("pubkey", ident.Pubkey).Msg("invoice creation failed")
		return nil, fmt.Errorf("%w: %s", ErrInvoiceIssuance, err)
	}

	order := &types.Order{
		OrderID:        uuid.New().String(),
		Pubkey:         ident.Pubkey,
		PaymentRequest: invoice.PaymentRequest,
		RHash:          invoice.PaymentHash,
		AddIndex:       invoice.AddIndex,
		Expires:        invoice.CreationDate.Add(invoice.Expiry),
		Size:           size,
	}

	err = s.db.CreateOrderReserving(order, s.ledger.Ceiling(size))
	if errors.Is(err, ErrActiveOrderExists) {
		// Lost a race against a concurrent request from the same pubkey.
		// Resume whatever won; the orphaned invoice just expires.
		winner, lookupErr := s.db.GetLatestOrderForPubkey(ident.Pubkey)
		if lookupErr == nil && winner != nil && winner.IsActive() {
			return s.envelope(winner)
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("order_id", order.OrderID).Str("pubkey", order.Pubkey).
		Str("size", string(size)).Msg("created order")
	return s.envelope(order)
}

// reconcileSettlement checks the order's invoice directly against the node
// and marks the order paid if it settled without the watcher observing it.
// Lookup failure is logged and otherwise ignored, the local flag stands.
func (s *Service) reconcileSettlement(ctx context.Context, order *types.Order) {
	if order.HasPaid {
		return
	}
	invoice, err := s.ln.LookupInvoice(ctx, order.RHash)
	if err != nil {
		s.logger.Warn().Err(err).Str("order_id", order.OrderID).
			Msg("could not look up invoice for order")
		return
	}
	if !invoice.Settled {
		return
	}
	if _, err := s.db.MarkOrderPaid(order.RHash); err != nil {
		s.logger.Error().Err(err).Str("order_id", order.OrderID).
			Msg("failed to persist reconciled settlement")
		return
	}
	order.HasPaid = true
}

// GetOrder retrieves an order by its ID. Returns nil when no order matches.
func (s *Service) GetOrder(orderID string) (*types.Order, error) {
	return s.db.GetOrderByID(orderID)
}

// FinalizeShipping writes the allow-listed fulfillment fields onto an
// order and returns it fully serialized. Returns nil when no order matches.
func (s *Service) FinalizeShipping(orderID string, details types.ShippingDetails) (*types.Order, error) {
	order, err := s.db.GetOrderByID(orderID)
	if err != nil || order == nil {
		return nil, err
	}
	if err := s.db.UpdateShipping(order, details); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Service) envelope(order *types.Order) (*types.OrderEnvelope, error) {
	token, err := s.tokens.MintOrderToken(order.OrderID)
	if err != nil {
		return nil, err
	}
	return &types.OrderEnvelope{Order: order, AccessToken: token}, nil
}
