package lightning

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable means the node RPC could not be reached. Callers may
	// retry the whole operation.
	ErrUnavailable = errors.New("lightning node unreachable")
	// ErrNodeNotFound means a pubkey has no entry in the network graph,
	// usually because the node has no public channels.
	ErrNodeNotFound = errors.New("node not found in network graph")
)

// Verification is the result of checking a signed message.
type Verification struct {
	Valid  bool
	Pubkey string
}

// NodeInfo is the graph metadata of a node.
type NodeInfo struct {
	Pubkey       string
	Alias        string
	Color        string
	Capacity     int64
	ChannelCount uint32
}

// Invoice describes a payment request issued by (or looked up from) the
// node. The same shape carries settlement updates on the invoice stream.
type Invoice struct {
	PaymentRequest string
	PaymentHash    string
	AddIndex       uint64
	Settled        bool
	AmtPaidSat     int64
	CreationDate   time.Time
	Expiry         time.Duration
}

// ExpiresAt is the absolute expiry of the invoice.
func (i *Invoice) ExpiresAt() time.Time {
	return i.CreationDate.Add(i.Expiry)
}

// InvoiceStream delivers invoice state changes as they happen on the node.
// Recv blocks until the next event, a stream error, or context cancellation.
type InvoiceStream interface {
	Recv() (*Invoice, error)
}

// Client is the capability surface this service needs from a Lightning
// node. Implemented for LND over gRPC, and by FakeClient in tests.
type Client interface {
	// VerifyMessage checks a signature over msg and recovers the signing
	// node's pubkey. Valid is false when the signer has no public channels,
	// since recovery goes through the network graph.
	VerifyMessage(ctx context.Context, msg, signature string) (*Verification, error)

	// GetNodeInfo fetches graph metadata for a pubkey.
	GetNodeInfo(ctx context.Context, pubkey string) (*NodeInfo, error)

	// AddInvoice creates an invoice for the given amount in satoshis.
	AddInvoice(ctx context.Context, memo string, amount int64, expiry time.Duration) (*Invoice, error)

	// LookupInvoice fetches the current state of an invoice by payment hash.
	LookupInvoice(ctx context.Context, paymentHash string) (*Invoice, error)

	// SubscribeInvoices opens a stream of invoice updates. The stream stays
	// open until the context is cancelled or the connection drops.
	SubscribeInvoices(ctx context.Context) (InvoiceStream, error)

	Close() error
}
