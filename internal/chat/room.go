package chat

import (
	"sync"
	"time"
)

// room is one job's live conversation. Broadcasts are serialized under
// the room lock, giving a room-scoped total order; the lock is never
// held across an RPC or store call.
type room struct {
	jobID string

	mu      sync.Mutex
	clients map[*client]struct{}

	breaker *roomBreaker
	limiter *windowLimiter // 60 messages per minute, whole room
}

func newRoom(jobID string) *room {
	return &room{
		jobID:   jobID,
		clients: make(map[*client]struct{}),
		breaker: newRoomBreaker(),
		limiter: newWindowLimiter(60, time.Minute),
	}
}

func (r *room) add(c *client) {
	r.mu.Lock()
	r.clients[c] = struct{}{}
	r.mu.Unlock()
}

func (r *room) remove(c *client) {
	r.mu.Lock()
	delete(r.clients, c)
	r.mu.Unlock()
}

func (r *room) empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients) == 0
}

// broadcast queues a frame to every member. A member with a full send
// buffer is skipped rather than blocking the room.
func (r *room) broadcast(frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.clients {
		select {
		case c.send <- frame:
		default:
		}
	}
}

// broadcastExcept skips one member, used for presence and typing.
func (r *room) broadcastExcept(skip *client, frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.clients {
		if c == skip {
			continue
		}
		select {
		case c.send <- frame:
		default:
		}
	}
}

func (r *room) closeAll() {
	r.mu.Lock()
	members := make([]*client, 0, len(r.clients))
	for c := range r.clients {
		members = append(members, c)
	}
	r.mu.Unlock()

	for _, c := range members {
		c.close()
	}
}
