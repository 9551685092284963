package chat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vap/backend/internal/store"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	maxFrameSize = 16 * 1024
	sendBuffer   = 64

	// Session expiry bounds from the service's session params.
	defaultSessionSecs = 1800
	minSessionSecs     = 60
	maxSessionSecs     = 86400
	expiryWarnLead     = 120 * time.Second
	// Sessions too short for a meaningful warning get none.
	warnMinDuration = 180 * time.Second
)

// membership is one joined room plus its expiry timers.
type membership struct {
	room      *room
	job       *store.Job
	expiresAt time.Time
	warnTimer *time.Timer
	endTimer  *time.Timer
}

// client is one websocket connection.
type client struct {
	hub       *Hub
	conn      *websocket.Conn
	principal *Principal
	ip        string
	send      chan []byte

	mu     sync.Mutex
	joined map[string]*membership

	limiter        *socketLimiter
	typingThrottle *throttle
	readThrottle   *throttle

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(h *Hub, conn *websocket.Conn, p *Principal, ip string) *client {
	return &client{
		hub:            h,
		conn:           conn,
		principal:      p,
		ip:             ip,
		send:           make(chan []byte, sendBuffer),
		joined:         make(map[string]*membership),
		limiter:        newSocketLimiter(),
		typingThrottle: newThrottle(500 * time.Millisecond),
		readThrottle:   newThrottle(time.Second),
		done:           make(chan struct{}),
	}
}

func (c *client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Printf("read error (%s): %v", c.principal.Identity, err)
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			c.sendError("", "bad_frame", "malformed frame")
			continue
		}
		c.dispatch(&f)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// revalidateLoop re-checks the exact credential binding that opened the
// connection. Another live session for the same identity is not enough;
// the original cookie session or token must still be valid.
func (c *client) revalidateLoop() {
	ticker := time.NewTicker(revalidateEvery)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			ok := c.hub.auth.Revalidate(ctx, c.principal)
			cancel()
			if !ok {
				c.enqueue(mustFrame(EvSessionExpired, "", nil))
				c.close()
				return
			}
		}
	}
}

func (c *client) dispatch(f *Frame) {
	switch f.Type {
	case EvJoinJob:
		c.handleJoin(f.JobID)
	case EvLeaveJob:
		c.handleLeave(f.JobID, true)
	case EvMessage:
		var in messageIn
		if err := json.Unmarshal(f.Payload, &in); err != nil {
			c.sendError(f.JobID, "bad_frame", "malformed message payload")
			return
		}
		c.handleMessage(f.JobID, in.Content, in.Signature)
	case EvTyping:
		c.handleTyping(f.JobID)
	case EvRead:
		var in readIn
		if err := json.Unmarshal(f.Payload, &in); err != nil {
			return
		}
		c.handleRead(f.JobID, in.LastMessageID)
	default:
		c.sendError(f.JobID, "bad_frame", "unknown event type")
	}
}

func (c *client) handleJoin(jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	job, err := c.hub.store.GetJob(ctx, jobID)
	if err != nil {
		c.sendError(jobID, "not_found", "unknown job")
		return
	}
	if !job.Participant(c.principal.Identity) {
		c.sendError(jobID, "forbidden", "not a participant of this job")
		return
	}

	c.mu.Lock()
	if _, already := c.joined[jobID]; already {
		c.mu.Unlock()
		c.sendError(jobID, "bad_frame", "already joined")
		return
	}
	c.mu.Unlock()

	duration := c.sessionDuration(ctx, job)
	expiresAt := time.Now().Add(duration)

	r := c.hub.getRoom(jobID)
	m := &membership{room: r, job: job, expiresAt: expiresAt}

	if duration > warnMinDuration {
		m.warnTimer = time.AfterFunc(duration-expiryWarnLead, func() {
			c.enqueue(mustFrame(EvSessionExpiring, jobID, expiryOut{ExpiresAt: expiresAt}))
		})
	}
	m.endTimer = time.AfterFunc(duration, func() {
		c.expireSession(jobID, expiresAt)
	})

	c.mu.Lock()
	c.joined[jobID] = m
	c.mu.Unlock()

	r.add(c)
	c.enqueue(mustFrame(EvJoined, jobID, map[string]any{"expiresAt": expiresAt}))
	r.broadcastExcept(c, mustFrame(EvUserJoined, jobID, presenceOut{Identity: c.principal.Identity, At: time.Now()}))
}

// sessionDuration reads the service's session params, clamped to the
// allowed band.
func (c *client) sessionDuration(ctx context.Context, job *store.Job) time.Duration {
	secs := defaultSessionSecs
	if job.ServiceID != nil {
		if svc, err := c.hub.store.GetService(ctx, *job.ServiceID); err == nil &&
			svc.SessionParams != nil && svc.SessionParams.DurationSeconds > 0 {
			secs = svc.SessionParams.DurationSeconds
		}
	}
	if secs < minSessionSecs {
		secs = minSessionSecs
	}
	if secs > maxSessionSecs {
		secs = maxSessionSecs
	}
	return time.Duration(secs) * time.Second
}

// expireSession tells the client its chat session ended before leaving
// the room, so the peer can tell a timed-out session from a dropped
// connection.
func (c *client) expireSession(jobID string, expiresAt time.Time) {
	c.enqueue(mustFrame(EvSessionExpired, jobID, expiryOut{ExpiresAt: expiresAt}))
	c.handleLeave(jobID, true)
}

func (c *client) handleLeave(jobID string, announce bool) {
	c.mu.Lock()
	m, ok := c.joined[jobID]
	if ok {
		delete(c.joined, jobID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	if m.warnTimer != nil {
		m.warnTimer.Stop()
	}
	if m.endTimer != nil {
		m.endTimer.Stop()
	}
	m.room.remove(c)
	if announce {
		m.room.broadcast(mustFrame(EvUserLeft, jobID, presenceOut{Identity: c.principal.Identity, At: time.Now()}))
	}
	c.hub.dropRoomIfEmpty(m.room)
}

func (c *client) handleTyping(jobID string) {
	if !c.typingThrottle.Allow() {
		return
	}
	if m := c.membership(jobID); m != nil {
		m.room.broadcastExcept(c, mustFrame(EvTypingOut, jobID, presenceOut{Identity: c.principal.Identity, At: time.Now()}))
	}
}

func (c *client) handleRead(jobID string, lastMessageID int64) {
	if !c.readThrottle.Allow() {
		return
	}
	m := c.membership(jobID)
	if m == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	readAt := time.Now()
	if err := c.hub.store.UpsertReadReceipt(ctx, jobID, c.principal.Identity, readAt); err != nil {
		c.hub.logger.Printf("read receipt: %v", err)
		return
	}
	m.room.broadcastExcept(c, mustFrame(EvReadOut, jobID, map[string]any{
		"identity":      c.principal.Identity,
		"readAt":        readAt,
		"lastMessageId": lastMessageID,
	}))
}

func (c *client) membership(jobID string) *membership {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined[jobID]
}

func (c *client) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	default:
	}
}

func (c *client) sendError(jobID, code, message string) {
	c.enqueue(mustFrame(EvError, jobID, errorOut{Code: code, Message: message}))
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		ids := make([]string, 0, len(c.joined))
		for id := range c.joined {
			ids = append(ids, id)
		}
		c.mu.Unlock()
		for _, id := range ids {
			c.handleLeave(id, true)
		}

		close(c.done)
		c.conn.Close()
		c.hub.releaseSlot(c.ip, c.principal.Identity)
		c.hub.slogger.Info("connection closed", "identity", c.principal.Identity)
	})
}
