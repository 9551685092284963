package jobs

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vap/backend/internal/chain"
)

type fakeChain struct {
	txs map[string]*chain.Transaction
	ids map[string]*chain.IdentityResult
}

func (f *fakeChain) GetIdentity(ctx context.Context, verusID string) (*chain.IdentityResult, error) {
	id, ok := f.ids[verusID]
	if !ok {
		return nil, errors.New("no such identity")
	}
	return id, nil
}

func (f *fakeChain) GetTransaction(ctx context.Context, txid string) (*chain.Transaction, error) {
	tx, ok := f.txs[txid]
	if !ok {
		return nil, errors.New("no such transaction")
	}
	return tx, nil
}

func payment(conf int64, addr string, value float64) *chain.Transaction {
	return &chain.Transaction{
		Confirmations: conf,
		Vout: []chain.Vout{
			{Value: value, ScriptPubKey: chain.ScriptPubKey{Addresses: []string{addr}}},
		},
	}
}

func testMachine(txs map[string]*chain.Transaction) *Machine {
	return &Machine{
		chain:  &fakeChain{txs: txs},
		logger: log.New(log.Writer(), "[JOBS] ", log.LstdFlags),
	}
}

func TestClassifyConfirmationLadder(t *testing.T) {
	const seller = "iSellerAddr"
	m := testMachine(map[string]*chain.Transaction{
		"zero": payment(0, seller, 1.0),
		"one":  payment(1, seller, 1.0),
		"five": payment(5, seller, 1.0),
		"six":  payment(6, seller, 1.0),
	})

	ctx := context.Background()
	assert.False(t, m.classify(ctx, "zero", seller, 1.0).Verified)
	assert.False(t, m.classify(ctx, "one", seller, 1.0).Verified)
	assert.False(t, m.classify(ctx, "five", seller, 1.0).Verified)
	assert.True(t, m.classify(ctx, "six", seller, 1.0).Verified)
}

func TestClassifyMissingTx(t *testing.T) {
	m := testMachine(nil)
	out := m.classify(context.Background(), "deadbeef", "iSeller", 1.0)
	assert.False(t, out.Verified)
	assert.Contains(t, out.Note, "not found")
}

func TestClassifyWrongRecipient(t *testing.T) {
	m := testMachine(map[string]*chain.Transaction{
		"tx": payment(10, "iSomeoneElse", 1.0),
	})
	out := m.classify(context.Background(), "tx", "iSeller", 1.0)
	assert.False(t, out.Verified)
	assert.Contains(t, out.Note, "no output pays")
}

func identityWithPayout(address, payout string) *chain.IdentityResult {
	id := &chain.IdentityResult{}
	id.Identity.IdentityAddress = address
	if payout != "" {
		quoted, _ := json.Marshal(payout)
		id.Identity.ContentMultiMap = map[string][]chain.ContentEntry{
			chain.PaymentAddressKey: {{"iInnerKey": hex.EncodeToString(quoted)}},
		}
	}
	return id
}

func TestPayoutAddressPublished(t *testing.T) {
	m := testMachine(nil)
	m.chain.(*fakeChain).ids = map[string]*chain.IdentityResult{
		"iSellerAddr": identityWithPayout("iSellerAddr", "RPayoutAddr"),
	}

	assert.Equal(t, "RPayoutAddr", m.payoutAddress(context.Background(), "iSellerAddr"))
}

func TestPayoutAddressDefaultsToIdentity(t *testing.T) {
	m := testMachine(nil)
	m.chain.(*fakeChain).ids = map[string]*chain.IdentityResult{
		"iSellerAddr": identityWithPayout("iSellerAddr", ""),
	}

	assert.Equal(t, "iSellerAddr", m.payoutAddress(context.Background(), "iSellerAddr"))
	// A lookup failure also falls back to the identity address.
	assert.Equal(t, "iUnknown", m.payoutAddress(context.Background(), "iUnknown"))
}

func TestClassifyAmountTolerance(t *testing.T) {
	const seller = "iSellerAddr"
	m := testMachine(map[string]*chain.Transaction{
		"slightly-short": payment(10, seller, 0.995), // within 1%
		"too-short":      payment(10, seller, 0.90),
	})
	ctx := context.Background()
	assert.True(t, m.classify(ctx, "slightly-short", seller, 1.0).Verified)
	assert.False(t, m.classify(ctx, "too-short", seller, 1.0).Verified)
}
