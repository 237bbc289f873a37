package identity

import (
	"context"
	"errors"
	"fmt"

	zlog "github.com/rs/zerolog/log"

	"github.com/wbobeirne/run-lnd-store/internal/lightning"
	"github.com/wbobeirne/run-lnd-store/internal/types"
)

var (
	// ErrInvalidSignature means the signature did not verify, or the signed
	// message was not the expected challenge.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrNodeUnavailable means the verifying node RPC could not be reached.
	// The whole operation is safe to retry.
	ErrNodeUnavailable = errors.New("verification service unavailable")
)

// User-facing copy for the two rejection cases. Infra failures never leak
// upstream detail, they get a generic retry message at the boundary.
const (
	MsgInvalidSignature = "Invalid signature, make sure you copied it correctly and you signed using a mainnet node."
	MsgNoPublicNode     = "Could not find your node on the network. Make sure you're on a mainnet node, and have at least one public channel open, and try again."
)

// Identity is a verified claim over a Lightning node. Node metadata is
// best-effort: nil when the graph lookup failed, without failing the
// verification itself.
type Identity struct {
	Pubkey string
	Node   *types.NodeInfo
}

// Service verifies signed challenge messages against the node RPC. It is
// pure verification: no orders are read or written here.
type Service struct {
	ln        lightning.Client
	challenge string
}

// NewService creates an identity verifier for the configured challenge
// message.
func NewService(ln lightning.Client, challenge string) *Service {
	return &Service{ln: ln, challenge: challenge}
}

// Verify checks that message is the deployment's challenge and that
// signature was produced over it by a reachable node. The recovered pubkey
// is returned along with graph metadata when available.
func (s *Service) Verify(ctx context.Context, message, signature string) (*Identity, error) {
	if message != s.challenge {
		return nil, ErrInvalidSignature
	}

	verification, err := s.ln.VerifyMessage(ctx, message, signature)
	if err != nil {
		if errors.Is(err, lightning.ErrUnavailable) {
			return nil, fmt.Errorf("%w: %s", ErrNodeUnavailable, err)
		}
		// LND rejects malformed signatures with an RPC error rather than
		// valid=false.
		return nil, ErrInvalidSignature
	}
	if !verification.Valid || verification.Pubkey == "" {
		return nil, ErrInvalidSignature
	}

	identity := &Identity{Pubkey: verification.Pubkey}
	node, err := s.GetNodeInfo(ctx, verification.Pubkey)
	if err != nil {
		zlog.Warn().Err(err).Str("pubkey", verification.Pubkey).
			Msg("verified signature but could not fetch node metadata")
		return identity, nil
	}
	identity.Node = node
	return identity, nil
}

// GetNodeInfo fetches graph metadata for a pubkey.
func (s *Service) GetNodeInfo(ctx context.Context, pubkey string) (*types.NodeInfo, error) {
	info, err := s.ln.GetNodeInfo(ctx, pubkey)
	if err != nil {
		return nil, err
	}
	return &types.NodeInfo{
		Pubkey:       info.Pubkey,
		Alias:        info.Alias,
		Color:        info.Color,
		Capacity:     info.Capacity,
		ChannelCount: info.ChannelCount,
	}, nil
}
