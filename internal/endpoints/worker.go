// Package endpoints proves an agent's control over its HTTP origin via
// a two-phase challenge at /.well-known/verus-agent, using an
// SSRF-hardened client. Verified endpoints are re-checked daily.
package endpoints

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/vap/backend/internal/store"
)

const (
	wellKnownPath = "/.well-known/verus-agent"
	// Phase B runs this long after the challenge was delivered.
	verifyDelay    = 5 * time.Minute
	challengeTTL   = time.Hour
	reverifyPeriod = 24 * time.Hour
	maxRetries     = 3
	maxMissed      = 3
)

// Retry backoff ladder.
var retryDelays = []time.Duration{60 * time.Second, 300 * time.Second, 1800 * time.Second}

// challengeBody is the Phase A POST payload.
type challengeBody struct {
	Action    string `json:"action"`
	Token     string `json:"token"`
	VerusID   string `json:"verusId"`
	Timestamp int64  `json:"timestamp"`
	ExpiresAt int64  `json:"expiresAt"`
}

// verifyResponse is what the agent must serve on Phase B GET.
type verifyResponse struct {
	Token   string `json:"token"`
	VerusID string `json:"verusId"`
}

// Worker drives endpoint verification.
type Worker struct {
	store  *store.Store
	client *SafeClient
	logger *log.Logger
	now    func() time.Time
}

// NewWorker builds the worker.
func NewWorker(st *store.Store, client *SafeClient) *Worker {
	return &Worker{
		store:  st,
		client: client,
		logger: log.New(log.Writer(), "[ENDPOINT] ", log.LstdFlags),
		now:    time.Now,
	}
}

// Begin opens a verification attempt for an endpoint: generates the
// challenge, delivers it (Phase A), and schedules Phase B.
func (w *Worker) Begin(ctx context.Context, ep *store.Endpoint) (int64, error) {
	token, err := newChallenge()
	if err != nil {
		return 0, err
	}
	now := w.now()

	v := &store.EndpointVerification{
		EndpointID:   ep.ID,
		AgentAddress: ep.AgentAddress,
		URL:          ep.URL,
		Challenge:    token,
		NextAttempt:  now.Add(verifyDelay),
		ExpiresAt:    now.Add(challengeTTL),
	}

	if err := w.deliverChallenge(ctx, v); err != nil {
		return 0, err
	}
	return w.store.CreateEndpointVerification(ctx, v)
}

// Run processes due attempts and re-verifications until ctx is done.
func (w *Worker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	due, err := w.store.DueEndpointVerifications(ctx, w.now(), 32)
	if err != nil {
		w.logger.Printf("list due: %v", err)
		return
	}
	for _, v := range due {
		w.attempt(ctx, v)
	}

	reverify, err := w.store.DueReverifications(ctx, w.now(), 32)
	if err != nil {
		w.logger.Printf("list reverify: %v", err)
		return
	}
	for i := range reverify {
		w.reverify(ctx, &reverify[i])
	}
}

// attempt runs Phase B for one pending verification.
func (w *Worker) attempt(ctx context.Context, v *store.EndpointVerification) {
	ok, err := w.checkWellKnown(ctx, v.URL, v.Challenge, v.AgentAddress)
	now := w.now()

	if ok {
		v.Status = store.VerifyVerified
		if err := w.store.UpdateEndpointVerification(ctx, v); err != nil {
			w.logger.Printf("update %d: %v", v.ID, err)
			return
		}
		next := now.Add(reverifyPeriod)
		if err := w.store.MarkEndpointVerified(ctx, v.EndpointID, next); err != nil {
			w.logger.Printf("mark verified %d: %v", v.EndpointID, err)
		}
		w.logger.Printf("endpoint %d verified (%s)", v.EndpointID, v.URL)
		return
	}

	v.Retries++
	if v.Retries >= maxRetries || now.After(v.ExpiresAt) {
		v.Status = store.VerifyFailed
		w.logger.Printf("endpoint %d failed verification after %d tries: %v", v.EndpointID, v.Retries, err)
	} else {
		v.NextAttempt = now.Add(retryDelays[min(v.Retries-1, len(retryDelays)-1)])
	}
	if err := w.store.UpdateEndpointVerification(ctx, v); err != nil {
		w.logger.Printf("update %d: %v", v.ID, err)
	}
}

// reverify re-runs the well-known check on an already verified
// endpoint. Three consecutive misses demote it to stale.
func (w *Worker) reverify(ctx context.Context, ep *store.Endpoint) {
	// The original token is gone; a re-verification only requires the
	// endpoint to answer with its own identity.
	ok, _ := w.checkIdentityOnly(ctx, ep.URL, ep.AgentAddress)
	now := w.now()

	if ok {
		next := now.Add(reverifyPeriod)
		if err := w.store.MarkEndpointVerified(ctx, ep.ID, next); err != nil {
			w.logger.Printf("mark reverified %d: %v", ep.ID, err)
		}
		return
	}
	if err := w.store.MarkEndpointMissed(ctx, ep.ID, maxMissed, now.Add(reverifyPeriod)); err != nil {
		w.logger.Printf("mark missed %d: %v", ep.ID, err)
	}
}

func (w *Worker) deliverChallenge(ctx context.Context, v *store.EndpointVerification) error {
	body, err := json.Marshal(challengeBody{
		Action:    "challenge",
		Token:     v.Challenge,
		VerusID:   v.AgentAddress,
		Timestamp: w.now().Unix(),
		ExpiresAt: v.ExpiresAt.Unix(),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wellKnownURL(v.URL), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	_, status, err := w.client.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("challenge delivery: %w", err)
	}
	if status < 200 || status > 299 {
		return fmt.Errorf("challenge delivery: status %d", status)
	}
	return nil
}

func (w *Worker) checkWellKnown(ctx context.Context, endpointURL, token, verusID string) (bool, error) {
	resp, err := w.fetchWellKnown(ctx, endpointURL)
	if err != nil {
		return false, err
	}
	// Token comparison is constant time; the challenge is a bearer
	// credential while the attempt is open.
	tokenOK := subtle.ConstantTimeCompare([]byte(resp.Token), []byte(token)) == 1
	return tokenOK && resp.VerusID == verusID, nil
}

func (w *Worker) checkIdentityOnly(ctx context.Context, endpointURL, verusID string) (bool, error) {
	resp, err := w.fetchWellKnown(ctx, endpointURL)
	if err != nil {
		return false, err
	}
	return resp.VerusID == verusID, nil
}

func (w *Worker) fetchWellKnown(ctx context.Context, endpointURL string) (*verifyResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnownURL(endpointURL), nil)
	if err != nil {
		return nil, err
	}
	body, status, err := w.client.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("well-known: status %d", status)
	}
	var resp verifyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("well-known: %w", err)
	}
	return &resp, nil
}

func wellKnownURL(endpointURL string) string {
	return strings.TrimRight(endpointURL, "/") + wellKnownPath
}

func newChallenge() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
