package chain

import (
	"encoding/hex"
	"encoding/json"
)

// PaymentAddressKey is the VDXF key under which an identity publishes
// a preferred payout address. Payments fall back to the identity
// address when nothing is published here.
const PaymentAddressKey = "iPayoutAddrN7kW3mQ6vT9xR4bL2cP8dG5hJs"

// IdentityResult is the node's getidentity response.
type IdentityResult struct {
	Identity           Identity `json:"identity"`
	FullyQualifiedName string   `json:"fullyqualifiedname"`
	Status             string   `json:"status"`
	BlockHeight        int64    `json:"blockheight"`
}

// Identity is the on-chain identity object.
type Identity struct {
	Name                string                    `json:"name"`
	IdentityAddress     string                    `json:"identityaddress"`
	Parent              string                    `json:"parent"`
	PrimaryAddresses    []string                  `json:"primaryaddresses"`
	RevocationAuthority string                    `json:"revocationauthority"`
	RecoveryAuthority   string                    `json:"recoveryauthority"`
	Flags               int                       `json:"flags"`
	ContentMap          map[string]string         `json:"contentmap"`
	ContentMultiMap     map[string][]ContentEntry `json:"contentmultimap"`
}

// ContentEntry is one value under a contentmultimap key. Values the
// platform writes are nested one level: {innerKey: hexdata}.
type ContentEntry map[string]string

// Revoked reports whether the identity has been revoked on chain.
func (id *Identity) Revoked() bool {
	// Bit 0x8000 marks a revoked identity in the flags word.
	return id.Flags&0x8000 != 0
}

// PaymentAddress returns the payout address the identity published
// under PaymentAddressKey, or "" when none is set. Values are
// hex-encoded UTF-8, usually a JSON string.
func (id *Identity) PaymentAddress() string {
	for _, entry := range id.ContentMultiMap[PaymentAddressKey] {
		for _, hexdata := range entry {
			raw, err := hex.DecodeString(hexdata)
			if err != nil {
				continue
			}
			var s string
			if err := json.Unmarshal(raw, &s); err == nil && s != "" {
				return s
			}
			if len(raw) > 0 {
				return string(raw)
			}
		}
	}
	return ""
}

// Transaction is the decoded getrawtransaction response (verbose).
type Transaction struct {
	TxID          string `json:"txid"`
	Confirmations int64  `json:"confirmations"`
	Vout          []Vout `json:"vout"`
	BlockHash     string `json:"blockhash"`
	BlockTime     int64  `json:"blocktime"`
}

// Vout is one transaction output.
type Vout struct {
	Value        float64      `json:"value"`
	N            int          `json:"n"`
	ScriptPubKey ScriptPubKey `json:"scriptPubKey"`
}

// ScriptPubKey carries the addresses paid by an output.
type ScriptPubKey struct {
	Addresses []string `json:"addresses"`
	Type      string   `json:"type"`
}

// PaysAtLeast reports whether any output pays addr a value >= amount.
func (t *Transaction) PaysAtLeast(addr string, amount float64) bool {
	for _, out := range t.Vout {
		for _, a := range out.ScriptPubKey.Addresses {
			if a == addr && out.Value >= amount {
				return true
			}
		}
	}
	return false
}
