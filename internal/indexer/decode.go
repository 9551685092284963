package indexer

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vap/backend/internal/chain"
	"github.com/vap/backend/internal/store"
)

// decodeHexJSON turns one hex-encoded UTF-8 JSON value into out.
func decodeHexJSON(hexdata string, out any) error {
	raw, err := hex.DecodeString(strings.TrimPrefix(hexdata, "0x"))
	if err != nil {
		return fmt.Errorf("vdxf hex: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("vdxf json: %w", err)
	}
	return nil
}

// entryValues flattens the contentmultimap entries under one key into
// their hex payloads. Platform writes nest one level, so each entry is
// {innerKey: hexdata}; the inner key is not significant.
func entryValues(id *chain.Identity, key string) []string {
	var out []string
	for _, entry := range id.ContentMultiMap[key] {
		for _, hexdata := range entry {
			out = append(out, hexdata)
		}
	}
	return out
}

// firstString decodes the first entry under key as a JSON string or
// bare string.
func firstString(id *chain.Identity, key string) string {
	vals := entryValues(id, key)
	if len(vals) == 0 {
		return ""
	}
	var s string
	if err := decodeHexJSON(vals[0], &s); err == nil {
		return s
	}
	// Some writers store the raw string without JSON quoting.
	raw, err := hex.DecodeString(strings.TrimPrefix(vals[0], "0x"))
	if err != nil {
		return ""
	}
	return string(raw)
}

// decodeAgent builds the agent row from an identity's content.
func decodeAgent(res *chain.IdentityResult) *store.Agent {
	id := &res.Identity
	a := &store.Agent{
		IdentityAddress: id.IdentityAddress,
		Name:            firstString(id, agentKeys["name"]),
		AgentType:       firstString(id, agentKeys["agentType"]),
		Description:     firstString(id, agentKeys["description"]),
		OwnerIdentity:   id.Parent,
		Status:          store.AgentActive,
		LastIndexedAt:   res.BlockHeight,
	}
	if a.Name == "" {
		a.Name = id.Name
	}
	if a.AgentType == "" {
		a.AgentType = "autonomous"
	}
	if status := firstString(id, agentKeys["status"]); status != "" {
		a.Status = status
	}
	if id.Revoked() {
		a.Status = store.AgentInactive
	}
	if vals := entryValues(id, agentKeys["capabilities"]); len(vals) > 0 {
		var caps []string
		if err := decodeHexJSON(vals[0], &caps); err == nil {
			a.Capabilities = caps
		}
	}
	return a
}

// serviceEntry is the on-chain service object.
type serviceEntry struct {
	Name       string  `json:"name"`
	Price      float64 `json:"price"`
	Currency   string  `json:"currency"`
	Category   string  `json:"category,omitempty"`
	Turnaround string  `json:"turnaround,omitempty"`
}

// sessionEntry attaches session params to a service by name.
type sessionEntry struct {
	Service string              `json:"service"`
	Params  store.SessionParams `json:"params"`
}

// decodeServices reads every service entry plus session attachments.
func decodeServices(id *chain.Identity, agentAddress string) []store.Service {
	sessions := make(map[string]*store.SessionParams)
	for _, hexdata := range entryValues(id, sessionKeys["session"]) {
		var se sessionEntry
		if err := decodeHexJSON(hexdata, &se); err != nil {
			continue
		}
		params := se.Params
		sessions[se.Service] = &params
	}

	var out []store.Service
	for _, hexdata := range entryValues(id, serviceKeys["services"]) {
		var se serviceEntry
		if err := decodeHexJSON(hexdata, &se); err != nil || se.Name == "" {
			continue
		}
		svc := store.Service{
			AgentAddress: agentAddress,
			Name:         se.Name,
			Price:        se.Price,
			Currency:     se.Currency,
			Category:     se.Category,
			Turnaround:   se.Turnaround,
		}
		if params, ok := sessions[se.Name]; ok {
			svc.SessionParams = params
		}
		out = append(out, svc)
	}
	return out
}

// decodeReviews zips the parallel review arrays. Index i across every
// array forms one review; arrays shorter than the longest simply leave
// that field empty.
func decodeReviews(id *chain.Identity, agentAddress string) []*store.Review {
	buyers := decodeStringArray(id, reviewKeys["buyers"])
	ratings := decodeStringArray(id, reviewKeys["ratings"])
	messages := decodeStringArray(id, reviewKeys["messages"])
	jobHashes := decodeStringArray(id, reviewKeys["jobHashes"])
	signatures := decodeStringArray(id, reviewKeys["signatures"])
	timestamps := decodeStringArray(id, reviewKeys["timestamps"])

	n := len(buyers)
	var out []*store.Review
	for i := 0; i < n; i++ {
		r := &store.Review{
			AgentAddress: agentAddress,
			Buyer:        buyers[i],
			JobHash:      at(jobHashes, i),
			Message:      at(messages, i),
			Signature:    at(signatures, i),
		}
		if v, err := strconv.Atoi(at(ratings, i)); err == nil && v >= 1 && v <= 5 {
			r.Rating = &v
		}
		if ts, err := strconv.ParseInt(at(timestamps, i), 10, 64); err == nil {
			r.ReviewedAt = unixTime(ts)
		}
		out = append(out, r)
	}
	return out
}

// decodeStringArray reads one review key: either a single entry
// holding a JSON array, or one entry per element.
func decodeStringArray(id *chain.Identity, key string) []string {
	vals := entryValues(id, key)
	if len(vals) == 1 {
		var arr []string
		if err := decodeHexJSON(vals[0], &arr); err == nil {
			return arr
		}
	}
	out := make([]string, 0, len(vals))
	for _, hexdata := range vals {
		var s string
		if err := decodeHexJSON(hexdata, &s); err != nil {
			raw, derr := hex.DecodeString(strings.TrimPrefix(hexdata, "0x"))
			if derr != nil {
				s = ""
			} else {
				s = string(raw)
			}
		}
		out = append(out, s)
	}
	return out
}

func unixTime(ts int64) time.Time {
	return time.Unix(ts, 0).UTC()
}

func at(arr []string, i int) string {
	if i < len(arr) {
		return arr[i]
	}
	return ""
}
