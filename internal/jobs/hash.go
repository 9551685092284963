package jobs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// JobHash derives the content-derived job ID: the first 128 bits of
// SHA-256 over buyer|seller|description|amount|timestamp, hex encoded.
func JobHash(buyer, seller, description string, amount float64, ts int64) string {
	input := fmt.Sprintf("%s|%s|%s|%v|%d", buyer, seller, description, amount, ts)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:16])
}
