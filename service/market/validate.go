package market

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
)

// maxCIDLength caps content identifiers well above any real CID encoding.
const maxCIDLength = 512

// ValidateCID checks a content identifier before it is passed to Mint.
// Version 0 identifiers ("Qm...") must decode to a sha2-256 multihash;
// other forms are only checked for shape.
func ValidateCID(cid string) error {
	if strings.TrimSpace(cid) == "" {
		return fmt.Errorf("%w: cid is required", ErrInvalidInput)
	}
	if cid != strings.TrimSpace(cid) || strings.ContainsAny(cid, " \t\r\n") {
		return fmt.Errorf("%w: cid must not contain whitespace", ErrInvalidInput)
	}
	if len(cid) > maxCIDLength {
		return fmt.Errorf("%w: cid is longer than %d characters", ErrInvalidInput, maxCIDLength)
	}
	if len(cid) == 46 && strings.HasPrefix(cid, "Qm") {
		raw, err := base58.Decode(cid)
		if err != nil {
			return fmt.Errorf("%w: cid %q is not valid base58", ErrInvalidInput, cid)
		}
		// 0x12 = sha2-256, 0x20 = 32-byte digest
		if len(raw) != 34 || raw[0] != 0x12 || raw[1] != 0x20 {
			return fmt.Errorf("%w: cid %q is not a sha2-256 multihash", ErrInvalidInput, cid)
		}
	}
	return nil
}

// ValidateAccount checks that a is a 0x-prefixed hex address.
func ValidateAccount(a Account) error {
	s := string(a)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return fmt.Errorf("%w: account %q must start with 0x", ErrInvalidInput, s)
	}
	if !common.IsHexAddress(s) {
		return fmt.Errorf("%w: account %q is not a hex address", ErrInvalidInput, s)
	}
	return nil
}
