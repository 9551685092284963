// Package sigverify checks the signed-request envelope that gates every
// mutating API call. Verification order: timestamp window, nonce claim,
// canonicalization, identity resolution, chain signature check. The
// caller never learns which step failed beyond replay vs. signature.
package sigverify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/vap/backend/internal/chain"
	"github.com/vap/backend/internal/nonce"
)

// MaxClockSkew is the accepted |now - timestamp| window.
const MaxClockSkew = 300 * time.Second

// Verification errors. API handlers collapse all of these into
// INVALID_SIGNATURE or REPLAY; the split exists for logs and tests.
var (
	ErrExpired      = errors.New("timestamp outside window")
	ErrReplay       = errors.New("nonce replay")
	ErrBadSignature = errors.New("bad signature")
	ErrUnresolvable = errors.New("identity unresolvable")
	ErrVerify       = errors.New("verification transport error")
)

// Envelope is the signed-request wrapper for mutating endpoints.
type Envelope struct {
	VerusID   string          `json:"verusId"`
	Timestamp int64           `json:"timestamp"` // unix seconds
	Nonce     string          `json:"nonce"`     // UUID v4
	Action    string          `json:"action"`
	Data      json.RawMessage `json:"data"`
	Signature string          `json:"signature"` // base64
}

// ChainVerifier is the chain surface the verifier needs.
type ChainVerifier interface {
	ResolveIdentityAddress(ctx context.Context, verusID string) (string, error)
	VerifyMessage(ctx context.Context, identityAddress, message, signature string) (bool, error)
}

// Verifier validates envelopes and raw template signatures.
type Verifier struct {
	chain  ChainVerifier
	nonces *nonce.Store
	now    func() time.Time
}

// New builds a verifier.
func New(c ChainVerifier, nonces *nonce.Store) *Verifier {
	return &Verifier{chain: c, nonces: nonces, now: time.Now}
}

// Verify validates a signed envelope and returns the resolved identity
// address of the signer.
//
// The nonce is consumed on first presentation regardless of the final
// outcome: a transport failure after the claim does not release it.
func (v *Verifier) Verify(ctx context.Context, env *Envelope) (string, error) {
	now := v.now()
	skew := now.Unix() - env.Timestamp
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(MaxClockSkew.Seconds()) {
		return "", ErrExpired
	}

	if err := v.nonces.Claim(ctx, env.Nonce); err != nil {
		if errors.Is(err, nonce.ErrReplay) {
			return "", ErrReplay
		}
		return "", fmt.Errorf("%w: %v", ErrVerify, err)
	}

	canonical, err := CanonicalMessage(env)
	if err != nil {
		return "", ErrBadSignature
	}

	addr, err := v.chain.ResolveIdentityAddress(ctx, env.VerusID)
	if err != nil {
		return "", ErrUnresolvable
	}

	ok, err := v.chain.VerifyMessage(ctx, addr, string(canonical), env.Signature)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrVerify, err)
	}
	if !ok {
		return "", ErrBadSignature
	}
	return addr, nil
}

// VerifyTemplate checks a signature over an exact template string (job
// lifecycle actions and chat message signatures). No nonce is involved;
// replay defense for those flows is the job hash or message content.
func (v *Verifier) VerifyTemplate(ctx context.Context, verusID, message, signature string) (string, error) {
	addr, err := v.chain.ResolveIdentityAddress(ctx, verusID)
	if err != nil {
		return "", ErrUnresolvable
	}
	ok, err := v.chain.VerifyMessage(ctx, addr, message, signature)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrVerify, err)
	}
	if !ok {
		return "", ErrBadSignature
	}
	return addr, nil
}

// CanonicalMessage produces the RFC 8785 canonical bytes of the
// envelope without its signature field.
func CanonicalMessage(env *Envelope) ([]byte, error) {
	unsigned := struct {
		VerusID   string          `json:"verusId"`
		Timestamp int64           `json:"timestamp"`
		Nonce     string          `json:"nonce"`
		Action    string          `json:"action"`
		Data      json.RawMessage `json:"data"`
	}{env.VerusID, env.Timestamp, env.Nonce, env.Action, env.Data}

	raw, err := json.Marshal(unsigned)
	if err != nil {
		return nil, err
	}
	return jcs.Transform(raw)
}

// TimestampInWindow is a helper for template flows that embed Ts in the
// signed text instead of using the envelope.
func TimestampInWindow(ts int64, now time.Time) bool {
	skew := now.Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	return skew <= int64(MaxClockSkew.Seconds())
}

var _ ChainVerifier = (*chain.Client)(nil)
