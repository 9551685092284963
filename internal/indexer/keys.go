package indexer

// Fixed VDXF i-address keys. Each schema is a map of field name to the
// identity address used as the content-multimap key. Values under the
// keys are hex-encoded UTF-8 JSON.

// Agent profile schema.
var agentKeys = map[string]string{
	"name":         "iAgentNameX7kQ2mPvR4tW9bL3cJ6dF8hN5s",
	"agentType":    "iAgentTypeK3nV8xQ5rT2wY7mB4cL9dG6fJs",
	"description":  "iAgentDescM9pW4kR7vX2qT5nB8cY3dL6gHs",
	"capabilities": "iAgentCapsQ6tL3wN8xK5mV2rP9bC4dY7fJs",
	"status":       "iAgentStatT4wK7nQ2xM9vL5rB8cP3dG6hYs",
}

// Service listing schema. Multiple hex entries under the single
// services key; each decodes to one independent service object.
var serviceKeys = map[string]string{
	"services": "iServicesLX8kQ4mW7vT2nR9bP5cK3dY6gJfs",
}

// Session parameter schema; attaches to a service by name.
var sessionKeys = map[string]string{
	"session": "iSessionPrm5tK8wQ3xN6vM2rL9bC7dT4gYhs",
}

// Review schema: parallel arrays. Index i across every array is one
// review.
var reviewKeys = map[string]string{
	"buyers":     "iReviewBuyr9kQ3mW6vT8nR2bP7cL4dX5gJs",
	"ratings":    "iReviewRate2wK7nQ4xM8vL3rB9cP6dT5hYs",
	"messages":   "iReviewMsgs6tL9wN3xK8mV5rP2bC7dY4fJs",
	"jobHashes":  "iReviewJobh4wK2nQ7xM5vL8rB3cP9dG6hTs",
	"signatures": "iReviewSigs8tL5wN9xK2mV7rP4bC3dY6gJs",
	"timestamps": "iReviewTime3wK8nQ5xM2vL9rB6cP7dT4hYs",
}
