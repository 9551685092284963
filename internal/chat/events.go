package chat

import (
	"encoding/json"
	"time"
)

// Client-to-server event types.
const (
	EvJoinJob  = "join_job"
	EvLeaveJob = "leave_job"
	EvMessage  = "message"
	EvTyping   = "typing"
	EvRead     = "read"
)

// Server-to-client event types.
const (
	EvJoined          = "joined"
	EvUserJoined      = "user_joined"
	EvUserLeft        = "user_left"
	EvMessageOut      = "message"
	EvTypingOut       = "typing"
	EvReadOut         = "read"
	EvMessageHeld     = "message_held"
	EvSessionExpiring = "session_expiring"
	EvSessionExpired  = "session_expired"
	EvFileUploaded    = "file_uploaded"
	EvError           = "error"
)

// Frame is the wire envelope in both directions.
type Frame struct {
	Type    string          `json:"type"`
	JobID   string          `json:"jobId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// messageIn is the payload of a client "message" frame.
type messageIn struct {
	Content   string `json:"content"`
	Signature string `json:"signature,omitempty"`
}

// readIn is the payload of a client "read" frame.
type readIn struct {
	LastMessageID int64 `json:"lastMessageId"`
}

// errorOut is the payload of a server "error" frame. Messages stay
// generic for content-safety rejections; the code is for the client UI.
type errorOut struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// presenceOut announces membership changes.
type presenceOut struct {
	Identity string    `json:"identity"`
	At       time.Time `json:"at"`
}

// expiryOut warns about imminent session end.
type expiryOut struct {
	ExpiresAt time.Time `json:"expiresAt"`
}

func mustFrame(typ, jobID string, payload any) []byte {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = nil
	}
	out, _ := json.Marshal(Frame{Type: typ, JobID: jobID, Payload: raw})
	return out
}
