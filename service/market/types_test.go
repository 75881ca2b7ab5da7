package market

import (
	"encoding/json"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		input   string
		wei     string
		wantErr bool
	}{
		{input: "1", wei: "1000000000000000000"},
		{input: " 0.25 ", wei: "250000000000000000"},
		{input: "0", wei: "0"},
		{input: "0.000000000000000001", wei: "1"},
		{input: "0.0000000000000000001", wantErr: true},
		{input: "-1", wantErr: true},
		{input: "", wantErr: true},
		{input: "one", wantErr: true},
		// 2^256-1 wei is the largest amount the ledger can carry.
		{input: "115792089237316195423570985008687907853269984665640564039457.584007913129639935", wei: "115792089237316195423570985008687907853269984665640564039457584007913129639935"},
		{input: "115792089237316195423570985008687907853269984665640564039457.584007913129639936", wantErr: true},
		{input: "1" + strings.Repeat("0", 60), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			p, err := ParsePrice(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wei, p.Wei().String())
		})
	}
}

func TestPriceFromWei(t *testing.T) {
	wei, ok := new(big.Int).SetString("1500000000000000000", 10)
	require.True(t, ok)

	p, err := PriceFromWei(wei)
	require.NoError(t, err)
	assert.Equal(t, "1.5", p.String())
	assert.Equal(t, 0, wei.Cmp(p.Wei()))

	_, err = PriceFromWei(big.NewInt(-1))
	assert.Error(t, err)

	_, err = PriceFromWei(nil)
	assert.Error(t, err)

	_, err = PriceFromWei(new(big.Int).Lsh(big.NewInt(1), 256))
	assert.Error(t, err)
}

func TestPriceJSON(t *testing.T) {
	data, err := json.Marshal(ForSaleEntry{TokenID: 7, Price: MustParsePrice("0.10")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"token_id":7,"price":"0.1"}`, string(data))

	var entry ForSaleEntry
	require.NoError(t, json.Unmarshal([]byte(`{"token_id":7,"price":2.5}`), &entry))
	assert.Equal(t, "2.5", entry.Price.String())

	assert.Error(t, json.Unmarshal([]byte(`{"token_id":7,"price":"-2"}`), &entry))
}

func TestParseTokenID(t *testing.T) {
	id, err := ParseTokenID("42")
	require.NoError(t, err)
	assert.Equal(t, TokenID(42), id)

	for _, bad := range []string{"", "-1", "1.5", "abc", "18446744073709551616"} {
		_, err := ParseTokenID(bad)
		assert.ErrorIs(t, err, ErrInvalidInput, bad)
	}

	huge := new(big.Int).Lsh(big.NewInt(1), 70)
	_, err = TokenIDFromBig(huge)
	assert.Error(t, err)

	got, err := TokenIDFromBig(big.NewInt(9))
	require.NoError(t, err)
	assert.Equal(t, TokenID(9), got)
}

func TestAccountEqual(t *testing.T) {
	assert.True(t, Account("0xABCdef").Equal("0xabcDEF"))
	assert.True(t, Account(" 0xabc ").Equal("0xABC"))
	assert.False(t, Account("0xabc").Equal("0xabd"))
	assert.True(t, Account("  ").IsZero())
}

func TestAffectedViews(t *testing.T) {
	assert.Equal(t, []View{ViewMyTokens}, Minting.AffectedViews())
	assert.Equal(t, []View{ViewForSaleCatalog}, Listing.AffectedViews())
	assert.Equal(t, []View{ViewForSaleCatalog}, Delisting.AffectedViews())
	assert.Equal(t, []View{ViewForSaleCatalog, ViewMyTokens}, Buying.AffectedViews())
	assert.False(t, OperationTag("burning").Valid())
}

func TestSession_PublishRejectsSupersededPass(t *testing.T) {
	s := NewSession()
	s.setAccount(alice)
	now := time.Now()

	epoch := s.currentEpoch()
	require.True(t, s.tryBegin(Listing))
	assert.False(t, s.tryBegin(Delisting))
	s.finish(true)

	assert.False(t, s.publishCatalog(epoch, []ForSaleEntry{{TokenID: 1}}, now))
	assert.False(t, s.publishTokens(epoch, alice, []OwnedToken{{TokenID: 1}}, now))
	assert.True(t, s.publishCatalog(s.currentEpoch(), []ForSaleEntry{{TokenID: 2}}, now))
	assert.Equal(t, TokenID(2), s.Snapshot().ForSaleCatalog[0].TokenID)

	// A failed write does not start a new epoch.
	epoch = s.currentEpoch()
	require.True(t, s.tryBegin(Minting))
	s.finish(false)
	assert.Equal(t, epoch, s.currentEpoch())
}

func TestSession_AccountSwitchClearsTokens(t *testing.T) {
	s := NewSession()
	s.setAccount(alice)
	require.True(t, s.publishTokens(s.currentEpoch(), alice, []OwnedToken{{TokenID: 1}}, time.Now()))

	// Tokens derived for a different owner are refused.
	assert.False(t, s.publishTokens(s.currentEpoch(), bob, []OwnedToken{{TokenID: 2}}, time.Now()))

	s.setAccount(bob)
	snap := s.Snapshot()
	assert.Empty(t, snap.MyTokens)
	assert.Nil(t, snap.TokensUpdatedAt)
}

func TestSession_AccountSwitchRefusedWhilePending(t *testing.T) {
	s := NewSession()
	require.True(t, s.setAccount(alice))
	require.True(t, s.publishTokens(s.currentEpoch(), alice, []OwnedToken{{TokenID: 1}}, time.Now()))
	require.True(t, s.tryBegin(Listing))

	assert.False(t, s.setAccount(bob))
	snap := s.Snapshot()
	assert.Equal(t, alice, snap.Account)
	assert.Len(t, snap.MyTokens, 1)

	s.finish(false)
	assert.True(t, s.setAccount(bob))
}

func TestSession_SnapshotIsACopy(t *testing.T) {
	s := NewSession()
	s.setAccount(alice)
	md := &Metadata{Name: "original"}
	require.True(t, s.publishTokens(s.currentEpoch(), alice, []OwnedToken{{TokenID: 1, Metadata: md}}, time.Now()))

	snap := s.Snapshot()
	snap.MyTokens[0].Metadata.Name = "changed"
	snap.MyTokens[0].TokenID = 99

	again := s.Snapshot()
	assert.Equal(t, "original", again.MyTokens[0].Metadata.Name)
	assert.Equal(t, TokenID(1), again.MyTokens[0].TokenID)
}

func TestValidateCID(t *testing.T) {
	valid := []string{
		"QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG",
		"bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi",
	}
	for _, cid := range valid {
		assert.NoError(t, ValidateCID(cid), cid)
	}

	invalid := []string{
		"",
		"   ",
		"Qm YwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbd",
		"Qm0wAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG",
	}
	for _, cid := range invalid {
		assert.ErrorIs(t, ValidateCID(cid), ErrInvalidInput, cid)
	}
}

func TestValidateAccount(t *testing.T) {
	tests := []struct {
		account Account
		wantErr bool
	}{
		{account: alice},
		{account: "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"},
		{account: "f39fd6e51aad88f6f4ce6ab8827279cfffb92266", wantErr: true},
		{account: "0xf39fd6e51aad88f6f4ce6ab8827279cfffb9226", wantErr: true},
		{account: "0xzz9fd6e51aad88f6f4ce6ab8827279cfffb92266", wantErr: true},
		{account: "not-an-address", wantErr: true},
		{account: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(string(tt.account), func(t *testing.T) {
			err := ValidateAccount(tt.account)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			assert.NoError(t, err)
		})
	}
}
