package ledger

import (
	_ "embed"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Interface descriptions of the two deployed contracts, restricted to the
// methods this client calls.
var (
	//go:embed abi/registry.json
	registryJSON string

	//go:embed abi/marketplace.json
	marketplaceJSON string

	registryABI    = mustParseABI(registryJSON)
	marketplaceABI = mustParseABI(marketplaceJSON)
)

func mustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic("ledger: invalid contract abi: " + err.Error())
	}
	return parsed
}
