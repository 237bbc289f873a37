package lightning

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"
)

// rpcTimeout bounds every unary call to the node. The invoice subscription
// stream is exempt, it lives for the process lifetime.
const rpcTimeout = 30 * time.Second

// LNDOptions configures the connection to an LND node. Macaroons and the
// TLS cert can each be given as hex or as a file path; hex wins when both
// are set. Readonly and invoice macaroons are kept separate so neither
// credential can do the other's job.
type LNDOptions struct {
	Address              string
	TLSCertHex           string
	TLSCertPath          string
	ReadonlyMacaroonHex  string
	ReadonlyMacaroonPath string
	InvoiceMacaroonHex   string
	InvoiceMacaroonPath  string
}

// LNDClient implements Client against LND's gRPC API. It keeps two
// connections, one per macaroon.
type LNDClient struct {
	readonly lnrpc.LightningClient
	invoice  lnrpc.LightningClient
	conns    []*grpc.ClientConn
	logger   zerolog.Logger
}

// NewLNDClient dials LND and verifies the connection by fetching the
// node's own info, retrying a few times since LND may still be starting.
func NewLNDClient(ctx context.Context, opts LNDOptions) (*LNDClient, error) {
	if opts.Address == "" {
		return nil, errors.New("LND address is required")
	}

	tlsCreds, err := transportCredentials(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load LND TLS credentials: %w", err)
	}

	readonlyConn, err := dial(ctx, opts.Address, tlsCreds, opts.ReadonlyMacaroonHex, opts.ReadonlyMacaroonPath)
	if err != nil {
		return nil, fmt.Errorf("failed to dial LND (readonly): %w", err)
	}
	invoiceConn, err := dial(ctx, opts.Address, tlsCreds, opts.InvoiceMacaroonHex, opts.InvoiceMacaroonPath)
	if err != nil {
		readonlyConn.Close()
		return nil, fmt.Errorf("failed to dial LND (invoice): %w", err)
	}

	client := &LNDClient{
		readonly: lnrpc.NewLightningClient(readonlyConn),
		invoice:  lnrpc.NewLightningClient(invoiceConn),
		conns:    []*grpc.ClientConn{readonlyConn, invoiceConn},
		logger:   zlog.With().Str("component", "lnd").Logger(),
	}

	var info *lnrpc.GetInfoResponse
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		callCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
		info, err = client.readonly.GetInfo(callCtx, &lnrpc.GetInfoRequest{})
		cancel()
		if err == nil {
			break
		}
		client.logger.Error().Err(err).Int("attempt", i+1).Msg("failed to connect to LND, retrying in 2s")
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			client.Close()
			return nil, ctx.Err()
		}
	}
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to LND: %w", err)
	}

	client.logger.Info().Str("alias", info.Alias).Str("pubkey", info.IdentityPubkey).Msg("connected to LND")
	return client, nil
}

func (c *LNDClient) VerifyMessage(ctx context.Context, msg, signature string) (*Verification, error) {
	ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	resp, err := c.readonly.VerifyMessage(ctx, &lnrpc.VerifyMessageRequest{
		Msg:       []byte(msg),
		Signature: signature,
	})
	if err != nil {
		return nil, mapRPCError(err)
	}
	return &Verification{Valid: resp.Valid, Pubkey: resp.Pubkey}, nil
}

func (c *LNDClient) GetNodeInfo(ctx context.Context, pubkey string) (*NodeInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	resp, err := c.readonly.GetNodeInfo(ctx, &lnrpc.NodeInfoRequest{PubKey: pubkey})
	if err != nil {
		return nil, mapRPCError(err)
	}

	info := &NodeInfo{
		Pubkey:       pubkey,
		Capacity:     resp.TotalCapacity,
		ChannelCount: resp.NumChannels,
	}
	if resp.Node != nil {
		info.Alias = resp.Node.Alias
		info.Color = resp.Node.Color
	}
	return info, nil
}

func (c *LNDClient) AddInvoice(ctx context.Context, memo string, amount int64, expiry time.Duration) (*Invoice, error) {
	ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	resp, err := c.invoice.AddInvoice(ctx, &lnrpc.Invoice{
		Memo:   memo,
		Value:  amount,
		Expiry: int64(expiry / time.Second),
	})
	if err != nil {
		return nil, mapRPCError(err)
	}

	return &Invoice{
		PaymentRequest: resp.PaymentRequest,
		PaymentHash:    hex.EncodeToString(resp.RHash),
		AddIndex:       resp.AddIndex,
		CreationDate:   time.Now(),
		Expiry:         expiry,
	}, nil
}

func (c *LNDClient) LookupInvoice(ctx context.Context, paymentHash string) (*Invoice, error) {
	ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	rHash, err := hex.DecodeString(paymentHash)
	if err != nil {
		return nil, fmt.Errorf("invalid payment hash: %w", err)
	}

	resp, err := c.invoice.LookupInvoice(ctx, &lnrpc.PaymentHash{RHash: rHash})
	if err != nil {
		return nil, mapRPCError(err)
	}
	return lndInvoiceToInvoice(resp), nil
}

func (c *LNDClient) SubscribeInvoices(ctx context.Context) (InvoiceStream, error) {
	stream, err := c.invoice.SubscribeInvoices(ctx, &lnrpc.InvoiceSubscription{})
	if err != nil {
		return nil, mapRPCError(err)
	}
	return &lndInvoiceStream{stream: stream}, nil
}

func (c *LNDClient) Close() error {
	var firstErr error
	for _, conn := range c.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type lndInvoiceStream struct {
	stream lnrpc.Lightning_SubscribeInvoicesClient
}

func (s *lndInvoiceStream) Recv() (*Invoice, error) {
	invoice, err := s.stream.Recv()
	if err != nil {
		return nil, err
	}
	return lndInvoiceToInvoice(invoice), nil
}

func lndInvoiceToInvoice(invoice *lnrpc.Invoice) *Invoice {
	return &Invoice{
		PaymentRequest: invoice.PaymentRequest,
		PaymentHash:    hex.EncodeToString(invoice.RHash),
		AddIndex:       invoice.AddIndex,
		Settled:        invoice.State == lnrpc.Invoice_SETTLED,
		AmtPaidSat:     invoice.AmtPaidSat,
		CreationDate:   time.Unix(invoice.CreationDate, 0),
		Expiry:         time.Duration(invoice.Expiry) * time.Second,
	}
}

func mapRPCError(err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", ErrUnavailable, err)
	case codes.NotFound:
		return fmt.Errorf("%w: %s", ErrNodeNotFound, err)
	}
	return err
}

func transportCredentials(opts LNDOptions) (credentials.TransportCredentials, error) {
	var certPEM []byte
	switch {
	case opts.TLSCertHex != "":
		decoded, err := hex.DecodeString(opts.TLSCertHex)
		if err != nil {
			return nil, fmt.Errorf("invalid TLS cert hex: %w", err)
		}
		certPEM = decoded
	case opts.TLSCertPath != "":
		data, err := os.ReadFile(opts.TLSCertPath)
		if err != nil {
			return nil, err
		}
		certPEM = data
	default:
		// No cert pinned, trust the system roots.
		return credentials.NewTLS(&tls.Config{}), nil
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(certPEM) {
		return nil, errors.New("failed to parse LND TLS certificate")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

func dial(ctx context.Context, address string, tlsCreds credentials.TransportCredentials, macaroonHex, macaroonPath string) (*grpc.ClientConn, error) {
	if macaroonHex == "" {
		if macaroonPath == "" {
			return nil, errors.New("macaroon is required")
		}
		data, err := os.ReadFile(macaroonPath)
		if err != nil {
			return nil, err
		}
		macaroonHex = hex.EncodeToString(data)
	}

	return grpc.DialContext(ctx, address,
		grpc.WithTransportCredentials(tlsCreds),
		grpc.WithPerRPCCredentials(macaroonCredential{hex: macaroonHex}),
	)
}

// macaroonCredential attaches a macaroon to every RPC.
type macaroonCredential struct {
	hex string
}

func (m macaroonCredential) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{"macaroon": m.hex}, nil
}

func (m macaroonCredential) RequireTransportSecurity() bool {
	return true
}
