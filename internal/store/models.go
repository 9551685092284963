// Package store is the transactional persistence layer. All identity
// relations use the 34-char identity address as the key; internal
// surrogate IDs never cross the API boundary.
package store

import "time"

// Agent status values.
const (
	AgentActive     = "active"
	AgentInactive   = "inactive"
	AgentDeprecated = "deprecated"
)

// Agent is a registered seller identity.
type Agent struct {
	IdentityAddress string    `json:"identityAddress"`
	Name            string    `json:"name"`
	AgentType       string    `json:"agentType"` // autonomous | assisted | hybrid | tool
	Status          string    `json:"status"`
	Description     string    `json:"description,omitempty"`
	OwnerIdentity   string    `json:"ownerIdentity,omitempty"`
	LastIndexedAt   int64     `json:"lastIndexedAt"` // block height watermark
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`

	Capabilities []string   `json:"capabilities,omitempty"`
	Endpoints    []Endpoint `json:"endpoints,omitempty"`
	Services     []Service  `json:"services,omitempty"`
}

// Endpoint is an agent-claimed HTTP origin.
type Endpoint struct {
	ID              int64      `json:"-"`
	AgentAddress    string     `json:"agentAddress"`
	URL             string     `json:"url"`
	Protocol        string     `json:"protocol"`
	Public          bool       `json:"public"`
	Verified        bool       `json:"verified"`
	LastVerifiedAt  *time.Time `json:"lastVerifiedAt,omitempty"`
	NextVerifyAt    *time.Time `json:"nextVerifyAt,omitempty"`
	MissedChecks    int        `json:"-"`
}

// Endpoint verification statuses.
const (
	VerifyPending  = "pending"
	VerifyVerified = "verified"
	VerifyFailed   = "failed"
	VerifyStale    = "stale"
)

// EndpointVerification tracks one prove-control attempt.
type EndpointVerification struct {
	ID           int64     `json:"-"`
	EndpointID   int64     `json:"-"`
	AgentAddress string    `json:"agentAddress"`
	URL          string    `json:"url"`
	Challenge    string    `json:"-"` // 256 bits of entropy, hex
	Status       string    `json:"status"`
	Retries      int       `json:"retries"`
	MissedChecks int       `json:"missedChecks"`
	NextAttempt  time.Time `json:"nextAttempt"`
	ExpiresAt    time.Time `json:"expiresAt"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Service is an offering published by an agent.
type Service struct {
	ID            int64          `json:"-"`
	AgentAddress  string         `json:"agentAddress"`
	Name          string         `json:"name"`
	Price         float64        `json:"price"`
	Currency      string         `json:"currency"`
	Category      string         `json:"category,omitempty"`
	Turnaround    string         `json:"turnaround,omitempty"`
	SessionParams *SessionParams `json:"sessionParams,omitempty"`
}

// SessionParams bound a chat session attached to a service.
type SessionParams struct {
	DurationSeconds int      `json:"durationSeconds,omitempty"`
	MaxTokens       int      `json:"maxTokens,omitempty"`
	MaxImages       int      `json:"maxImages,omitempty"`
	MaxMessages     int      `json:"maxMessages,omitempty"`
	MaxFileBytes    int64    `json:"maxFileBytes,omitempty"`
	AllowedMIME     []string `json:"allowedMime,omitempty"`
}

// Job statuses.
const (
	JobRequested  = "requested"
	JobAccepted   = "accepted"
	JobInProgress = "in_progress"
	JobDelivered  = "delivered"
	JobCompleted  = "completed"
	JobDisputed   = "disputed"
	JobCancelled  = "cancelled"
)

// Payment terms.
const (
	TermsPrepay  = "prepay"
	TermsPostpay = "postpay"
	TermsSplit   = "split"
)

// Job is a buyer/seller commitment progressing through the lifecycle.
type Job struct {
	ID           string  `json:"id"`
	JobHash      string  `json:"jobHash"`
	Buyer        string  `json:"buyer"`
	Seller       string  `json:"seller"`
	ServiceID    *int64  `json:"serviceId,omitempty"`
	Description  string  `json:"description"`
	Amount       float64 `json:"amount"`
	Currency     string  `json:"currency"`
	FeeAmount    float64 `json:"feeAmount"`
	Deadline     string  `json:"deadline,omitempty"`
	PaymentTerms string  `json:"paymentTerms"`
	Status       string  `json:"status"`

	PaymentTxid         string `json:"paymentTxid,omitempty"`
	PaymentVerified     bool   `json:"paymentVerified"`
	PaymentNote         string `json:"paymentNote,omitempty"`
	PlatformFeeTxid     string `json:"platformFeeTxid,omitempty"`
	PlatformFeeVerified bool   `json:"platformFeeVerified"`
	PlatformFeeNote     string `json:"platformFeeNote,omitempty"`

	RequestSignature    string `json:"-"`
	AcceptanceSignature string `json:"-"`
	DeliverySignature   string `json:"-"`
	CompletionSignature string `json:"-"`

	DeliveryHash    string `json:"deliveryHash,omitempty"`
	DeliveryMessage string `json:"deliveryMessage,omitempty"`
	DisputeReason   string `json:"disputeReason,omitempty"`
	DisputedBy      string `json:"disputedBy,omitempty"`

	SafeChatEnabled bool `json:"safechatEnabled"`

	RequestedAt time.Time  `json:"requestedAt"`
	AcceptedAt  *time.Time `json:"acceptedAt,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	ClosedAt    *time.Time `json:"closedAt,omitempty"`
}

// Participant reports whether addr is the job's buyer or seller.
func (j *Job) Participant(addr string) bool {
	return addr == j.Buyer || addr == j.Seller
}

// Data retention choices.
const (
	RetentionNone     = "none"
	RetentionJob      = "job-duration"
	Retention30Days   = "30-days"
)

// DataTerms is the per-job data policy (1:1 with a job).
type DataTerms struct {
	JobID                      string `json:"jobId"`
	Retention                  string `json:"retention"`
	AllowTraining              bool   `json:"allowTraining"`
	AllowThirdParty            bool   `json:"allowThirdParty"`
	RequireDeletionAttestation bool   `json:"requireDeletionAttestation"`
	AcceptedBySeller           bool   `json:"acceptedBySeller"`
}

// DeletionAttestation is the seller's signed deletion commitment.
type DeletionAttestation struct {
	JobID             string    `json:"jobId"`
	Seller            string    `json:"seller"`
	Signature         string    `json:"signature"`
	SignatureVerified bool      `json:"signatureVerified"`
	AttestedAt        time.Time `json:"attestedAt"`
}

// SystemSender is the sender sentinel for platform-authored messages.
const SystemSender = "system"

// Message is one chat message in a job room. Append-only.
type Message struct {
	ID          int64     `json:"id"`
	JobID       string    `json:"jobId"`
	Sender      string    `json:"sender"`
	Content     string    `json:"content"`
	Signed      bool      `json:"signed"`
	Signature   string    `json:"-"`
	SafetyScore *float64  `json:"safetyScore,omitempty"`
	Flags       string    `json:"flags,omitempty"` // JSON-encoded scan flags
	FromHold    bool      `json:"releasedFromHold,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// File is an uploaded artifact attached to a job.
type File struct {
	ID          string    `json:"id"`
	JobID       string    `json:"jobId"`
	MessageID   *int64    `json:"messageId,omitempty"`
	Uploader    string    `json:"uploader"`
	Filename    string    `json:"filename"`
	MIMEType    string    `json:"mimeType"`
	SizeBytes   int64     `json:"sizeBytes"`
	SHA256      string    `json:"sha256"`
	StoragePath string    `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Hold queue statuses.
const (
	HoldHeld     = "held"
	HoldReleased = "released"
	HoldRejected = "rejected"
	HoldExpired  = "expired"
)

// HeldMessage is an outbound message withheld by SafeChat.
type HeldMessage struct {
	ID           int64      `json:"id"`
	JobID        string     `json:"jobId"`
	Sender       string     `json:"sender"`
	Content      string     `json:"content"`
	Score        float64    `json:"score"`
	Flags        string     `json:"flags"` // JSON-encoded scan flags
	Status       string     `json:"status"`
	AppealReason string     `json:"appealReason,omitempty"`
	HeldAt       time.Time  `json:"heldAt"`
	ReviewedAt   *time.Time `json:"reviewedAt,omitempty"`
}

// Review is a buyer's rating of an agent, indexed from chain or held
// in the inbox pending an on-chain write.
type Review struct {
	ID           int64     `json:"id"`
	AgentAddress string    `json:"agentAddress"`
	Buyer        string    `json:"buyer"`
	JobHash      string    `json:"jobHash,omitempty"`
	Rating       *int      `json:"rating,omitempty"` // 1..5
	Message      string    `json:"message,omitempty"`
	Signature    string    `json:"-"`
	Verified     bool      `json:"verified"`
	ReviewedAt   time.Time `json:"reviewedAt"`
}

// Inbox item statuses.
const (
	InboxPending  = "pending"
	InboxAccepted = "accepted"
	InboxRejected = "rejected"
	InboxExpired  = "expired"
)

// InboxItem is a pending signed artifact awaiting recipient action.
type InboxItem struct {
	ID        int64     `json:"id"`
	Recipient string    `json:"recipient"`
	Sender    string    `json:"sender"`
	ItemType  string    `json:"itemType"` // review | job_request | job_accepted | job_delivered | job_completed | message
	Rating    *int      `json:"rating,omitempty"`
	Message   string    `json:"message,omitempty"`
	JobHash   string    `json:"jobHash,omitempty"`
	Signature string    `json:"-"`
	Payload   string    `json:"payload,omitempty"` // opaque VDXF payload, hex; the recipient publishes it on chain
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// Notification is an in-app notification.
type Notification struct {
	ID        int64      `json:"id"`
	Recipient string     `json:"recipient"`
	NotifType string     `json:"type"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	JobID     string     `json:"jobId,omitempty"`
	Read      bool       `json:"read"`
	ReadAt    *time.Time `json:"-"`
	Data      string     `json:"data,omitempty"` // JSON blob
	CreatedAt time.Time  `json:"createdAt"`
}

// WebhookSubscription is an agent-owned delivery target. Encrypted
// subscriptions get their payloads sealed under the shared secret.
type WebhookSubscription struct {
	ID              string    `json:"id"`
	AgentAddress    string    `json:"agentAddress"`
	URL             string    `json:"url"`
	EventTypes      []string  `json:"eventTypes"`
	EncryptedSecret []byte    `json:"-"`
	Encrypted       bool      `json:"encrypted"`
	Active          bool      `json:"active"`
	FailureCount    int       `json:"failureCount"`
	LastDeliveryAt  *time.Time `json:"lastDeliveryAt,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Session is a cookie-bound login session.
type Session struct {
	ID        string    `json:"id"`
	Identity  string    `json:"identity"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// ChatToken is a one-shot bearer for the websocket handshake.
type ChatToken struct {
	ID        string    `json:"id"`
	Identity  string    `json:"identity"`
	Used      bool      `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Canary is an agent-owned leak tripwire string.
type Canary struct {
	AgentAddress string    `json:"agentAddress"`
	Token        string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}
