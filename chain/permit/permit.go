// Package permit builds and signs ERC-2612 permit authorizations.
package permit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"golang.org/x/sync/errgroup"

	"deltavault/chain"
)

// DefaultTTL is added to the current time when no deadline is supplied.
const DefaultTTL = time.Hour

// fallbackVersion is used for tokens without a version() getter.
const fallbackVersion = "1"

var (
	// ErrSignatureRejected is returned when the signer refuses or fails to sign.
	ErrSignatureRejected = errors.New("permit: signature rejected")
	// ErrInvalidRequest marks malformed permit requests.
	ErrInvalidRequest = errors.New("permit: invalid request")
)

// Backend is the RPC surface needed to assemble a permit.
type Backend interface {
	chain.Caller
	chain.ChainIDReader
}

// Request identifies the allowance being authorised.
type Request struct {
	Owner    common.Address
	Token    common.Address
	Spender  common.Address
	Value    *big.Int
	Deadline *big.Int
}

func (r Request) validate() error {
	if r.Owner == (common.Address{}) {
		return fmt.Errorf("owner required")
	}
	if r.Token == (common.Address{}) {
		return fmt.Errorf("token required")
	}
	if r.Spender == (common.Address{}) {
		return fmt.Errorf("spender required")
	}
	if err := chain.CheckUint256(r.Value); err != nil {
		return fmt.Errorf("value: %w", err)
	}
	if r.Deadline != nil {
		if err := chain.CheckUint256(r.Deadline); err != nil {
			return fmt.Errorf("deadline: %w", err)
		}
	}
	return nil
}

// Permit is the typed data a wallet signs with eth_signTypedData_v4.
type Permit struct {
	TypedData apitypes.TypedData `json:"typedData"`
	Digest    common.Hash        `json:"digest"`
	Nonce     *hexutil.Big       `json:"nonce"`
	Deadline  *hexutil.Big       `json:"deadline"`
}

// Builder reads token state and assembles permits.
type Builder struct {
	backend Backend
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

type Option func(*Builder)

func WithTTL(ttl time.Duration) Option {
	return func(b *Builder) {
		if ttl > 0 {
			b.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func NewBuilder(backend Backend, opts ...Option) *Builder {
	b := &Builder{backend: backend, ttl: DefaultTTL, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build reads the owner's nonce, the token name and the chain id
// concurrently and returns the typed data with its EIP-712 digest.
func (b *Builder) Build(ctx context.Context, req Request) (*Permit, error) {
	if b == nil || b.backend == nil {
		return nil, fmt.Errorf("permit: backend not configured")
	}
	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	token := chain.NewToken(req.Token, b.backend)

	version, err := token.Version(ctx)
	if err != nil || version == "" {
		b.logger.Debug("permit: token version unavailable, using fallback",
			slog.String("token", req.Token.Hex()), slog.Any("error", err))
		version = fallbackVersion
	}

	var (
		nonce   *big.Int
		name    string
		chainID *big.Int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		nonce, err = token.Nonces(gctx, req.Owner)
		return err
	})
	g.Go(func() error {
		var err error
		name, err = token.Name(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		chainID, err = b.backend.ChainID(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("permit: read token state: %w", err)
	}

	deadline := req.Deadline
	if deadline == nil {
		deadline = big.NewInt(b.now().Add(b.ttl).Unix())
	}
	typed := TypedData(Domain{Name: name, Version: version, ChainID: chainID, Token: req.Token},
		req.Owner, req.Spender, req.Value, nonce, deadline)
	digest, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return nil, fmt.Errorf("permit: hash typed data: %w", err)
	}
	return &Permit{
		TypedData: typed,
		Digest:    common.BytesToHash(digest),
		Nonce:     (*hexutil.Big)(nonce),
		Deadline:  (*hexutil.Big)(deadline),
	}, nil
}

// Domain is the EIP-712 domain of a permit-capable token.
type Domain struct {
	Name    string
	Version string
	ChainID *big.Int
	Token   common.Address
}

// TypedData assembles the Permit typed-data document.
func TypedData(domain Domain, owner, spender common.Address, value, nonce, deadline *big.Int) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Permit": {
				{Name: "owner", Type: "address"},
				{Name: "spender", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
			},
		},
		PrimaryType: "Permit",
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.Token.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"owner":    owner.Hex(),
			"spender":  spender.Hex(),
			"value":    value.String(),
			"nonce":    nonce.String(),
			"deadline": deadline.String(),
		},
	}
}

// Sign builds the permit for req and signs its digest with signer, which
// must control req.Owner.
func (b *Builder) Sign(ctx context.Context, req Request, signer chain.Signer) (*Signature, error) {
	if signer == nil {
		return nil, fmt.Errorf("permit: signer required")
	}
	if signer.Address() != req.Owner {
		return nil, fmt.Errorf("%w: signer %s does not own %s", ErrSignatureRejected, signer.Address().Hex(), req.Owner.Hex())
	}
	permit, err := b.Build(ctx, req)
	if err != nil {
		return nil, err
	}
	raw, err := signer.SignHash(permit.Digest.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureRejected, err)
	}
	sig, err := SplitSignature(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureRejected, err)
	}
	sig.Deadline = permit.Deadline
	return &sig, nil
}
