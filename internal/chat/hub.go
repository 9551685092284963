// Package chat is the realtime plane: websocket rooms keyed by job,
// the ingress scanning pipeline, and the per-room storm breaker. One
// hub per process; rooms are created on first join and dropped when
// the last member leaves. Multi-instance deployment would need the
// registry externalized.
package chat

import (
	"context"
	"log"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vap/backend/internal/holdqueue"
	"github.com/vap/backend/internal/safechat"
	"github.com/vap/backend/internal/sigverify"
	"github.com/vap/backend/internal/store"
)

// Connection quotas.
const (
	maxConnsPerIP       = 10
	maxConnsPerIdentity = 5
	revalidateEvery     = 60 * time.Second
)

// Principal is the authenticated websocket peer with the exact binding
// that produced the connection. Revalidation re-checks this binding,
// not merely "some session exists for the identity".
type Principal struct {
	Identity  string // identity address
	SessionID string // cookie path
	TokenID   string // one-shot token path
}

// Authenticator resolves and revalidates websocket credentials.
type Authenticator interface {
	FromRequest(ctx context.Context, r *http.Request) (*Principal, error)
	Revalidate(ctx context.Context, p *Principal) bool
}

// Emitter fans chat events out to webhooks and notifications.
type Emitter interface {
	MessageEvent(ctx context.Context, eventType string, job *store.Job, payload any)
}

// Hub owns the room registry and connection quotas.
type Hub struct {
	store    *store.Store
	scanner  safechat.Scanner
	scorer   *safechat.SessionScorer
	hold     *holdqueue.Service
	verifier *sigverify.Verifier
	auth     Authenticator
	emitter  Emitter

	mu         sync.RWMutex
	rooms      map[string]*room
	byIP       map[string]int
	byIdentity map[string]int

	upgrader websocket.Upgrader
	logger   *log.Logger
	slogger  *slog.Logger
}

// NewHub wires the realtime plane.
func NewHub(st *store.Store, scanner safechat.Scanner, scorer *safechat.SessionScorer,
	hold *holdqueue.Service, verifier *sigverify.Verifier, auth Authenticator,
	emitter Emitter, checkOrigin func(*http.Request) bool) *Hub {
	return &Hub{
		store:      st,
		scanner:    scanner,
		scorer:     scorer,
		hold:       hold,
		verifier:   verifier,
		auth:       auth,
		emitter:    emitter,
		rooms:      make(map[string]*room),
		byIP:       make(map[string]int),
		byIdentity: make(map[string]int),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		logger:  log.New(log.Writer(), "[CHAT] ", log.LstdFlags),
		slogger: slog.Default().With("component", "chat"),
	}
}

// ServeWS upgrades a connection after auth and quota checks.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	principal, err := h.auth.FromRequest(r.Context(), r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ip := clientIP(r)
	if !h.acquireSlot(ip, principal.Identity) {
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.releaseSlot(ip, principal.Identity)
		h.logger.Printf("upgrade failed: %v", err)
		return
	}

	c := newClient(h, conn, principal, ip)
	h.slogger.Info("connection open", "identity", principal.Identity, "ip", ip)
	go c.writePump()
	go c.revalidateLoop()
	go c.readPump()
}

// BroadcastMessage delivers a transcript message to an open room, if
// any. Satisfies the hold queue's broadcaster.
func (h *Hub) BroadcastMessage(jobID string, msg *store.Message) {
	if r := h.peekRoom(jobID); r != nil {
		r.broadcast(mustFrame(EvMessageOut, jobID, msg))
	}
}

// NotifyFileUploaded pushes a file event into the room.
func (h *Hub) NotifyFileUploaded(jobID string, f *store.File) {
	if r := h.peekRoom(jobID); r != nil {
		r.broadcast(mustFrame(EvFileUploaded, jobID, f))
	}
}

// Shutdown closes every connection.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	rooms := make([]*room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	for _, r := range rooms {
		r.closeAll()
	}
}

func (h *Hub) getRoom(jobID string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[jobID]
	if !ok {
		r = newRoom(jobID)
		h.rooms[jobID] = r
	}
	return r
}

func (h *Hub) peekRoom(jobID string) *room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[jobID]
}

func (h *Hub) dropRoomIfEmpty(r *room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r.empty() {
		delete(h.rooms, r.jobID)
	}
}

func (h *Hub) acquireSlot(ip, identity string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.byIP[ip] >= maxConnsPerIP || h.byIdentity[identity] >= maxConnsPerIdentity {
		return false
	}
	h.byIP[ip]++
	h.byIdentity[identity]++
	return true
}

func (h *Hub) releaseSlot(ip, identity string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.byIP[ip] > 0 {
		h.byIP[ip]--
		if h.byIP[ip] == 0 {
			delete(h.byIP, ip)
		}
	}
	if h.byIdentity[identity] > 0 {
		h.byIdentity[identity]--
		if h.byIdentity[identity] == 0 {
			delete(h.byIdentity, identity)
		}
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
