package indexer

import (
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vap/backend/internal/chain"
	"github.com/vap/backend/internal/store"
)

func hexJSON(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return hex.EncodeToString(raw)
}

func entry(hexdata string) chain.ContentEntry {
	return chain.ContentEntry{"iInnerKeyXXXXXXXXXXXXXXXXXXXXXXXXXs": hexdata}
}

func TestDecodeAgentFromContent(t *testing.T) {
	res := &chain.IdentityResult{
		BlockHeight: 4200,
		Identity: chain.Identity{
			Name:            "translator",
			IdentityAddress: "iAgent111111111111111111111111111As",
			Parent:          "iParent11111111111111111111111111Bs",
			ContentMultiMap: map[string][]chain.ContentEntry{
				agentKeys["name"]:         {entry(hexJSON(t, "Translator Bot"))},
				agentKeys["agentType"]:    {entry(hexJSON(t, "assisted"))},
				agentKeys["description"]:  {entry(hexJSON(t, "EN/DE translation"))},
				agentKeys["capabilities"]: {entry(hexJSON(t, []string{"translate", "summarize"}))},
			},
		},
	}

	a := decodeAgent(res)
	assert.Equal(t, "iAgent111111111111111111111111111As", a.IdentityAddress)
	assert.Equal(t, "Translator Bot", a.Name)
	assert.Equal(t, "assisted", a.AgentType)
	assert.Equal(t, "EN/DE translation", a.Description)
	assert.Equal(t, "iParent11111111111111111111111111Bs", a.OwnerIdentity)
	assert.Equal(t, store.AgentActive, a.Status)
	assert.Equal(t, int64(4200), a.LastIndexedAt)
	assert.Equal(t, []string{"translate", "summarize"}, a.Capabilities)
}

func TestDecodeAgentFallbacks(t *testing.T) {
	res := &chain.IdentityResult{
		Identity: chain.Identity{
			Name:            "bare",
			IdentityAddress: "iAgent222222222222222222222222222As",
		},
	}
	a := decodeAgent(res)
	assert.Equal(t, "bare", a.Name, "identity name fills in when no content name exists")
	assert.Equal(t, "autonomous", a.AgentType)
	assert.Equal(t, store.AgentActive, a.Status)
}

func TestDecodeAgentRevoked(t *testing.T) {
	res := &chain.IdentityResult{
		Identity: chain.Identity{
			Name:            "gone",
			IdentityAddress: "iAgent333333333333333333333333333As",
			Flags:           0x8000,
			ContentMultiMap: map[string][]chain.ContentEntry{
				agentKeys["status"]: {entry(hexJSON(t, "active"))},
			},
		},
	}
	// Revocation wins over any published status string.
	assert.Equal(t, store.AgentInactive, decodeAgent(res).Status)
}

func TestDecodeServicesWithSessionParams(t *testing.T) {
	id := &chain.Identity{
		ContentMultiMap: map[string][]chain.ContentEntry{
			serviceKeys["services"]: {
				entry(hexJSON(t, serviceEntry{Name: "chat", Price: 2.5, Currency: "VRSC", Category: "support"})),
				entry(hexJSON(t, serviceEntry{Name: "batch", Price: 10, Currency: "VRSC", Turnaround: "24h"})),
			},
			sessionKeys["session"]: {
				entry(hexJSON(t, sessionEntry{
					Service: "chat",
					Params:  store.SessionParams{DurationSeconds: 900, MaxMessages: 50},
				})),
			},
		},
	}

	services := decodeServices(id, "iAgent444444444444444444444444444As")
	require.Len(t, services, 2)

	assert.Equal(t, "chat", services[0].Name)
	require.NotNil(t, services[0].SessionParams)
	assert.Equal(t, 900, services[0].SessionParams.DurationSeconds)
	assert.Equal(t, 50, services[0].SessionParams.MaxMessages)

	assert.Equal(t, "batch", services[1].Name)
	assert.Nil(t, services[1].SessionParams, "session params attach by name only")
}

func TestDecodeServicesSkipsMalformed(t *testing.T) {
	id := &chain.Identity{
		ContentMultiMap: map[string][]chain.ContentEntry{
			serviceKeys["services"]: {
				entry("zzzz"),
				entry(hexJSON(t, serviceEntry{Price: 1})), // missing name
				entry(hexJSON(t, serviceEntry{Name: "ok", Price: 1, Currency: "VRSC"})),
			},
		},
	}
	services := decodeServices(id, "iAgent555555555555555555555555555As")
	require.Len(t, services, 1)
	assert.Equal(t, "ok", services[0].Name)
}

func TestDecodeReviewsParallelArrays(t *testing.T) {
	id := &chain.Identity{
		ContentMultiMap: map[string][]chain.ContentEntry{
			reviewKeys["buyers"]:     {entry(hexJSON(t, []string{"iBuyerA", "iBuyerB"}))},
			reviewKeys["ratings"]:    {entry(hexJSON(t, []string{"5", "2"}))},
			reviewKeys["messages"]:   {entry(hexJSON(t, []string{"great", "slow"}))},
			reviewKeys["jobHashes"]:  {entry(hexJSON(t, []string{"hashA", "hashB"}))},
			reviewKeys["signatures"]: {entry(hexJSON(t, []string{"sigA", "sigB"}))},
			reviewKeys["timestamps"]: {entry(hexJSON(t, []string{"1700000000", "1700003600"}))},
		},
	}

	reviews := decodeReviews(id, "iAgent666666666666666666666666666As")
	require.Len(t, reviews, 2)

	assert.Equal(t, "iBuyerA", reviews[0].Buyer)
	require.NotNil(t, reviews[0].Rating)
	assert.Equal(t, 5, *reviews[0].Rating)
	assert.Equal(t, "great", reviews[0].Message)
	assert.Equal(t, "hashA", reviews[0].JobHash)
	assert.Equal(t, "sigA", reviews[0].Signature)
	assert.Equal(t, int64(1700000000), reviews[0].ReviewedAt.Unix())

	require.NotNil(t, reviews[1].Rating)
	assert.Equal(t, 2, *reviews[1].Rating)
}

func TestDecodeReviewsShortArrays(t *testing.T) {
	// The buyers array anchors the count; shorter arrays leave fields
	// empty rather than shifting indices.
	id := &chain.Identity{
		ContentMultiMap: map[string][]chain.ContentEntry{
			reviewKeys["buyers"]:  {entry(hexJSON(t, []string{"iBuyerA", "iBuyerB", "iBuyerC"}))},
			reviewKeys["ratings"]: {entry(hexJSON(t, []string{"4"}))},
		},
	}
	reviews := decodeReviews(id, "iAgent777777777777777777777777777As")
	require.Len(t, reviews, 3)
	require.NotNil(t, reviews[0].Rating)
	assert.Equal(t, 4, *reviews[0].Rating)
	assert.Nil(t, reviews[1].Rating)
	assert.Empty(t, reviews[1].Message)
}

func TestDecodeReviewsRejectsOutOfRangeRating(t *testing.T) {
	id := &chain.Identity{
		ContentMultiMap: map[string][]chain.ContentEntry{
			reviewKeys["buyers"]:  {entry(hexJSON(t, []string{"iBuyerA", "iBuyerB"}))},
			reviewKeys["ratings"]: {entry(hexJSON(t, []string{"9", "0"}))},
		},
	}
	reviews := decodeReviews(id, "iAgent888888888888888888888888888As")
	require.Len(t, reviews, 2)
	assert.Nil(t, reviews[0].Rating)
	assert.Nil(t, reviews[1].Rating)
}

func TestDecodeStringArrayPerElementEntries(t *testing.T) {
	id := &chain.Identity{
		ContentMultiMap: map[string][]chain.ContentEntry{
			reviewKeys["buyers"]: {
				entry(hexJSON(t, "iBuyerA")),
				entry(hexJSON(t, "iBuyerB")),
			},
		},
	}
	assert.Equal(t, []string{"iBuyerA", "iBuyerB"}, decodeStringArray(id, reviewKeys["buyers"]))
}

func TestFirstStringRawHexFallback(t *testing.T) {
	id := &chain.Identity{
		ContentMultiMap: map[string][]chain.ContentEntry{
			agentKeys["name"]: {entry(hex.EncodeToString([]byte("plain")))},
		},
	}
	assert.Equal(t, "plain", firstString(id, agentKeys["name"]))
}
