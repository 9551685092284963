package safechat

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/vap/backend/internal/circuitbreaker"
)

// inboundDeadline bounds the scan on the hot chat path. Outbound scans
// run off the delivery path and can afford the full client timeout.
const inboundDeadline = 800 * time.Millisecond

// HTTPScanner calls a remote scanning service. Provider failures never
// reach the caller: a breaker-open or transport error falls back to the
// inline scanner, so chat keeps flowing with degraded scanning.
type HTTPScanner struct {
	url      string
	apiKey   string
	aeadKey  []byte // nil means plaintext transport
	http     *http.Client
	breaker  *circuitbreaker.Breaker
	fallback *InlineScanner
	logger   *log.Logger
}

// NewHTTPScanner builds the remote provider. aeadKey is the optional
// 32-byte body encryption key; pass nil to send plaintext JSON.
func NewHTTPScanner(url, apiKey string, aeadKey []byte) (*HTTPScanner, error) {
	if aeadKey != nil && len(aeadKey) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("safechat: encryption key must be %d bytes", chacha20poly1305.KeySize)
	}
	return &HTTPScanner{
		url:     url,
		apiKey:  apiKey,
		aeadKey: aeadKey,
		http:    &http.Client{Timeout: 5 * time.Second},
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:             "safechat",
			FailureThreshold: 3,
			Window:           60 * time.Second,
			OpenFor:          30 * time.Second,
		}),
		fallback: NewInlineScanner(),
		logger:   log.New(log.Writer(), "[SAFECHAT] ", log.LstdFlags),
	}, nil
}

func (s *HTTPScanner) ScanInbound(ctx context.Context, content string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, inboundDeadline)
	defer cancel()
	return s.scan(ctx, "inbound", content)
}

func (s *HTTPScanner) ScanOutbound(ctx context.Context, content string) (*Result, error) {
	return s.scan(ctx, "outbound", content)
}

type scanRequest struct {
	Direction string `json:"direction"`
	Content   string `json:"content"`
}

type encryptedBody struct {
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

func (s *HTTPScanner) scan(ctx context.Context, direction, content string) (*Result, error) {
	if err := s.breaker.Allow(); err != nil {
		return s.degrade(ctx, direction, content, err)
	}

	res, err := s.roundTrip(ctx, direction, content)
	if err != nil {
		s.breaker.Record(false)
		return s.degrade(ctx, direction, content, err)
	}
	s.breaker.Record(true)
	return res, nil
}

func (s *HTTPScanner) roundTrip(ctx context.Context, direction, content string) (*Result, error) {
	payload, err := json.Marshal(scanRequest{Direction: direction, Content: content})
	if err != nil {
		return nil, err
	}

	contentType := "application/json"
	if s.aeadKey != nil {
		payload, err = s.seal(payload)
		if err != nil {
			return nil, err
		}
		contentType = "application/vnd.vap.sealed+json"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/v1/scan", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("safechat: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if s.aeadKey != nil {
		body, err = s.open(body)
		if err != nil {
			return nil, err
		}
	}

	var res Result
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, err
	}
	if res.Score < 0 || res.Score > 1 {
		return nil, fmt.Errorf("safechat: score %v out of range", res.Score)
	}
	return &res, nil
}

// degrade runs the inline fallback and logs the provider failure. The
// chat path never sees a scanner error.
func (s *HTTPScanner) degrade(ctx context.Context, direction, content string, cause error) (*Result, error) {
	s.logger.Printf("provider degraded (%s): %v", direction, cause)
	if direction == "inbound" {
		return s.fallback.ScanInbound(ctx, content)
	}
	return s.fallback.ScanOutbound(ctx, content)
}

func (s *HTTPScanner) seal(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.aeadKey)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	ct := aead.Seal(nil, nonce, plaintext, nil)
	return json.Marshal(encryptedBody{
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
	})
}

func (s *HTTPScanner) open(body []byte) ([]byte, error) {
	var env encryptedBody
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, err
	}
	ct, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(s.aeadKey)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ct, nil)
}
