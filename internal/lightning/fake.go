package lightning

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

// FakeClient is an in-memory stand-in for a Lightning node, used by tests
// and the order-flow simulator. A signature of the form "sig:<pubkey>"
// verifies as that pubkey; anything else is invalid.
type FakeClient struct {
	mu       sync.Mutex
	invoices map[string]*Invoice
	nodes    map[string]*NodeInfo
	streams  []*fakeStream
	addIndex uint64

	// Error overrides for simulating upstream failures.
	VerifyErr  error
	NodeErr    error
	InvoiceErr error
	LookupErr  error
}

// NewFakeClient returns an empty fake node.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		invoices: make(map[string]*Invoice),
		nodes:    make(map[string]*NodeInfo),
	}
}

// RegisterNode adds graph metadata for a pubkey, making GetNodeInfo resolve it.
func (f *FakeClient) RegisterNode(info *NodeInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes[info.Pubkey] = info
}

// Signature returns the signature that verifies as pubkey.
func Signature(pubkey string) string {
	return "sig:" + pubkey
}

func (f *FakeClient) VerifyMessage(ctx context.Context, msg, signature string) (*Verification, error) {
	if f.VerifyErr != nil {
		return nil, f.VerifyErr
	}
	pubkey, ok := strings.CutPrefix(signature, "sig:")
	if !ok || pubkey == "" {
		return &Verification{Valid: false}, nil
	}
	return &Verification{Valid: true, Pubkey: pubkey}, nil
}

func (f *FakeClient) GetNodeInfo(ctx context.Context, pubkey string) (*NodeInfo, error) {
	if f.NodeErr != nil {
		return nil, f.NodeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.nodes[pubkey]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, pubkey)
	}
	return info, nil
}

func (f *FakeClient) AddInvoice(ctx context.Context, memo string, amount int64, expiry time.Duration) (*Invoice, error) {
	if f.InvoiceErr != nil {
		return nil, f.InvoiceErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var preimage [32]byte
	if _, err := rand.Read(preimage[:]); err != nil {
		return nil, err
	}
	hash := sha256.Sum256(preimage[:])
	paymentHash := hex.EncodeToString(hash[:])

	f.addIndex++
	invoice := &Invoice{
		PaymentRequest: "lnbc-fake-" + paymentHash[:16],
		PaymentHash:    paymentHash,
		AddIndex:       f.addIndex,
		CreationDate:   time.Now(),
		Expiry:         expiry,
	}
	f.invoices[paymentHash] = invoice
	return invoice, nil
}

func (f *FakeClient) LookupInvoice(ctx context.Context, paymentHash string) (*Invoice, error) {
	if f.LookupErr != nil {
		return nil, f.LookupErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	invoice, ok := f.invoices[paymentHash]
	if !ok {
		return nil, fmt.Errorf("%w: no invoice with hash %s", ErrNodeNotFound, paymentHash)
	}
	cp := *invoice
	return &cp, nil
}

func (f *FakeClient) SubscribeInvoices(ctx context.Context) (InvoiceStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stream := &fakeStream{ctx: ctx, ch: make(chan *Invoice, 16)}
	f.streams = append(f.streams, stream)
	return stream, nil
}

// Settle marks an invoice paid and pushes the settlement to every open
// stream, mirroring LND's at-least-once invoice notifications.
func (f *FakeClient) Settle(paymentHash string) {
	f.mu.Lock()
	invoice, ok := f.invoices[paymentHash]
	if ok {
		invoice.Settled = true
		invoice.AmtPaidSat = 1
	}
	streams := append([]*fakeStream(nil), f.streams...)
	f.mu.Unlock()

	if !ok {
		return
	}
	cp := *invoice
	for _, s := range streams {
		s.push(&cp)
	}
}

// SettlePaymentRequest settles by encoded invoice rather than payment
// hash, for callers that only ever saw the public order fields.
func (f *FakeClient) SettlePaymentRequest(payReq string) bool {
	f.mu.Lock()
	var hash string
	for _, invoice := range f.invoices {
		if invoice.PaymentRequest == payReq {
			hash = invoice.PaymentHash
			break
		}
	}
	f.mu.Unlock()
	if hash == "" {
		return false
	}
	f.Settle(hash)
	return true
}

// StreamCount reports how many invoice streams are open, so callers can
// wait for a consumer to attach before settling.
func (f *FakeClient) StreamCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams)
}

// FailStreams terminates every open stream with err, simulating the node
// connection dropping.
func (f *FakeClient) FailStreams(err error) {
	f.mu.Lock()
	streams := f.streams
	f.streams = nil
	f.mu.Unlock()
	for _, s := range streams {
		s.fail(err)
	}
}

func (f *FakeClient) Close() error {
	return nil
}

type fakeStream struct {
	ctx  context.Context
	ch   chan *Invoice
	mu   sync.Mutex
	err  error
	done chan struct{}
}

func (s *fakeStream) push(invoice *Invoice) {
	select {
	case s.ch <- invoice:
	case <-s.ctx.Done():
	}
}

func (s *fakeStream) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		s.done = make(chan struct{})
		s.err = err
		close(s.done)
	}
}

func (s *fakeStream) Recv() (*Invoice, error) {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		done = make(chan struct{}) // never closed
	}

	select {
	case invoice := <-s.ch:
		return invoice, nil
	case <-done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return nil, s.err
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	}
}
