package market

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Account identifies the connected user on the ledger. Two accounts are the
// same identity when their trimmed, lowercased forms are equal.
type Account string

// Normalized returns the canonical comparison form of the account.
func (a Account) Normalized() string {
	return strings.ToLower(strings.TrimSpace(string(a)))
}

// Equal reports whether a and b denote the same ledger identity.
func (a Account) Equal(b Account) bool {
	return a.Normalized() == b.Normalized()
}

// IsZero reports whether no account is present.
func (a Account) IsZero() bool {
	return a.Normalized() == ""
}

func (a Account) String() string {
	return string(a)
}

// TokenID is the registry-assigned identifier of a token.
type TokenID uint64

// ParseTokenID parses a decimal token id.
func ParseTokenID(s string) (TokenID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: token id is required", ErrInvalidInput)
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: token id %q is not a non-negative integer", ErrInvalidInput, s)
	}
	return TokenID(v), nil
}

// TokenIDFromBig converts a registry uint256 into a TokenID.
func TokenIDFromBig(v *big.Int) (TokenID, error) {
	if v == nil || v.Sign() < 0 || !v.IsUint64() {
		return 0, fmt.Errorf("token id %v does not fit in 64 bits", v)
	}
	return TokenID(v.Uint64()), nil
}

// Big returns the id as a uint256-compatible integer.
func (id TokenID) Big() *big.Int {
	return new(big.Int).SetUint64(uint64(id))
}

func (id TokenID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// weiDecimals is the number of base-unit decimals of the ledger currency.
const weiDecimals = 18

// maxWeiBits is the width of the ledger's unsigned amount type.
const maxWeiBits = 256

// Price is a non-negative amount of the ledger's base currency, held in
// ether units. The zero value is a price of zero.
type Price struct {
	amount decimal.Decimal
}

// ParsePrice parses a decimal ether amount such as "0.25".
func ParsePrice(s string) (Price, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Price{}, fmt.Errorf("%w: price is required", ErrInvalidInput)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Price{}, fmt.Errorf("%w: price %q is not a decimal number", ErrInvalidInput, s)
	}
	return NewPrice(d)
}

// NewPrice validates d as a price.
func NewPrice(d decimal.Decimal) (Price, error) {
	if d.IsNegative() {
		return Price{}, fmt.Errorf("%w: price %s is negative", ErrInvalidInput, d.String())
	}
	if !d.Equal(d.Truncate(weiDecimals)) {
		return Price{}, fmt.Errorf("%w: price %s has more than %d decimal places", ErrInvalidInput, d.String(), weiDecimals)
	}
	if d.Shift(weiDecimals).BigInt().BitLen() > maxWeiBits {
		return Price{}, fmt.Errorf("%w: price %s exceeds the largest ledger amount", ErrInvalidInput, d.String())
	}
	return Price{amount: d}, nil
}

// MustParsePrice is like ParsePrice but panics on invalid input.
func MustParsePrice(s string) Price {
	p, err := ParsePrice(s)
	if err != nil {
		panic(err)
	}
	return p
}

// PriceFromWei converts a base-unit integer amount into a Price.
func PriceFromWei(wei *big.Int) (Price, error) {
	if wei == nil {
		return Price{}, fmt.Errorf("price is undefined")
	}
	if wei.Sign() < 0 {
		return Price{}, fmt.Errorf("price %s wei is negative", wei.String())
	}
	if wei.BitLen() > maxWeiBits {
		return Price{}, fmt.Errorf("price %s wei exceeds %d bits", wei.String(), maxWeiBits)
	}
	return Price{amount: decimal.NewFromBigInt(wei, -weiDecimals)}, nil
}

// Wei returns the amount in base units.
func (p Price) Wei() *big.Int {
	return p.amount.Shift(weiDecimals).BigInt()
}

// Decimal returns the amount in ether units.
func (p Price) Decimal() decimal.Decimal {
	return p.amount
}

// Equal reports whether two prices denote the same amount.
func (p Price) Equal(o Price) bool {
	return p.amount.Equal(o.amount)
}

// String formats the amount in ether units without trailing zeros.
func (p Price) String() string {
	return p.amount.String()
}

// MarshalJSON encodes the price as a decimal string.
func (p Price) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.amount.String())
}

// UnmarshalJSON accepts either a decimal string or a JSON number.
func (p *Price) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		s = string(data)
	}
	parsed, err := ParsePrice(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Attribute is one trait entry in token metadata.
type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     any    `json:"value"`
}

// Metadata is the resolved descriptor a token URI points at.
type Metadata struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Image       string      `json:"image,omitempty"`
	Attributes  []Attribute `json:"attributes,omitempty"`
}

// ForSaleEntry is one row of the for-sale catalog.
type ForSaleEntry struct {
	TokenID TokenID `json:"token_id"`
	Price   Price   `json:"price"`
}

// OwnedToken is one row of the connected account's token list. Metadata is
// nil when the descriptor could not be fetched; MetadataError then says why.
type OwnedToken struct {
	TokenID       TokenID   `json:"token_id"`
	URI           string    `json:"uri"`
	Metadata      *Metadata `json:"metadata,omitempty"`
	MetadataError string    `json:"metadata_error,omitempty"`
}

// OperationTag names the kind of state-changing request in flight.
type OperationTag string

const (
	Minting   OperationTag = "minting"
	Listing   OperationTag = "listing"
	Delisting OperationTag = "delisting"
	Buying    OperationTag = "buying"
)

// View names one of the derived collections held by the session.
type View string

const (
	ViewForSaleCatalog View = "for_sale_catalog"
	ViewMyTokens       View = "my_tokens"
)

// AllViews lists every derived view in a stable order.
var AllViews = []View{ViewForSaleCatalog, ViewMyTokens}

// AffectedViews returns the views a confirmed operation of this kind can
// change and therefore must be re-derived afterwards.
func (t OperationTag) AffectedViews() []View {
	switch t {
	case Minting:
		return []View{ViewMyTokens}
	case Listing, Delisting:
		return []View{ViewForSaleCatalog}
	case Buying:
		return []View{ViewForSaleCatalog, ViewMyTokens}
	default:
		return nil
	}
}

// Valid reports whether t is a known operation kind.
func (t OperationTag) Valid() bool {
	return t.AffectedViews() != nil
}

// OperationStatus is the lifecycle state of a journaled operation.
type OperationStatus string

const (
	StatusPending   OperationStatus = "pending"
	StatusConfirmed OperationStatus = "confirmed"
	StatusFailed    OperationStatus = "failed"
	StatusTimeout   OperationStatus = "timeout"
)

// OperationRecord describes one submitted operation and its outcome.
type OperationRecord struct {
	ID          string          `json:"id"`
	Tag         OperationTag    `json:"tag"`
	Account     Account         `json:"account"`
	TokenID     *TokenID        `json:"token_id,omitempty"`
	CID         string          `json:"cid,omitempty"`
	Price       *Price          `json:"price,omitempty"`
	TxHash      string          `json:"tx_hash,omitempty"`
	Status      OperationStatus `json:"status"`
	Error       string          `json:"error,omitempty"`
	SubmittedAt time.Time       `json:"submitted_at"`
	SettledAt   *time.Time      `json:"settled_at,omitempty"`
}

// ViewUpdate describes a freshly published view.
type ViewUpdate struct {
	View      View           `json:"view"`
	Account   Account        `json:"account,omitempty"`
	Catalog   []ForSaleEntry `json:"catalog,omitempty"`
	Tokens    []OwnedToken   `json:"tokens,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Size returns the number of rows in the published view.
func (u ViewUpdate) Size() int {
	if u.View == ViewForSaleCatalog {
		return len(u.Catalog)
	}
	return len(u.Tokens)
}
