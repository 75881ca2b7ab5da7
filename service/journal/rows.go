package journal

import (
	"fmt"

	"github.com/brojonat/mintmarket/service/market"
)

// Token ids and prices are stored as decimal text: token ids are unsigned
// 64-bit and prices carry up to 18 decimals, neither of which fits a signed
// integer column.

func tokenIDText(id *market.TokenID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func priceText(p *market.Price) *string {
	if p == nil {
		return nil
	}
	s := p.String()
	return &s
}

func parseTokenIDText(s *string) (*market.TokenID, error) {
	if s == nil {
		return nil, nil
	}
	id, err := market.ParseTokenID(*s)
	if err != nil {
		return nil, fmt.Errorf("stored token id: %w", err)
	}
	return &id, nil
}

func parsePriceText(s *string) (*market.Price, error) {
	if s == nil {
		return nil, nil
	}
	p, err := market.ParsePrice(*s)
	if err != nil {
		return nil, fmt.Errorf("stored price: %w", err)
	}
	return &p, nil
}
