package market

import (
	"sync"
	"time"
)

// Snapshot is an immutable copy of the session state handed to readers.
type Snapshot struct {
	Account          Account        `json:"account,omitempty"`
	ForSaleCatalog   []ForSaleEntry `json:"for_sale_catalog"`
	MyTokens         []OwnedToken   `json:"my_tokens"`
	PendingOperation *OperationTag  `json:"pending_operation,omitempty"`
	CatalogUpdatedAt *time.Time     `json:"catalog_updated_at,omitempty"`
	TokensUpdatedAt  *time.Time     `json:"tokens_updated_at,omitempty"`
}

// Connected reports whether an account is present.
func (s Snapshot) Connected() bool {
	return !s.Account.IsZero()
}

// CatalogEntry returns the catalog row for id, if listed.
func (s Snapshot) CatalogEntry(id TokenID) (ForSaleEntry, bool) {
	for _, e := range s.ForSaleCatalog {
		if e.TokenID == id {
			return e, true
		}
	}
	return ForSaleEntry{}, false
}

// Session holds the connected account, both derived views and the pending
// operation. Only the Coordinator and the Reconciler write to it.
type Session struct {
	mu        sync.RWMutex
	account   Account
	catalog   []ForSaleEntry
	tokens    []OwnedToken
	pending   OperationTag
	catalogAt time.Time
	tokensAt  time.Time

	// epoch advances every time a write confirms. A rebuild pass that
	// started in an older epoch may not publish.
	epoch uint64
}

// NewSession returns an empty, disconnected session.
func NewSession() *Session {
	return &Session{}
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Account:        s.account,
		ForSaleCatalog: make([]ForSaleEntry, len(s.catalog)),
		MyTokens:       make([]OwnedToken, len(s.tokens)),
	}
	copy(snap.ForSaleCatalog, s.catalog)
	for i, t := range s.tokens {
		if t.Metadata != nil {
			md := *t.Metadata
			md.Attributes = append([]Attribute(nil), t.Metadata.Attributes...)
			t.Metadata = &md
		}
		snap.MyTokens[i] = t
	}
	if s.pending != "" {
		tag := s.pending
		snap.PendingOperation = &tag
	}
	if !s.catalogAt.IsZero() {
		at := s.catalogAt
		snap.CatalogUpdatedAt = &at
	}
	if !s.tokensAt.IsZero() {
		at := s.tokensAt
		snap.TokensUpdatedAt = &at
	}
	return snap
}

// Account returns the connected account, or the zero Account.
func (s *Session) Account() Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account
}

// Pending returns the in-flight operation tag, if any.
func (s *Session) Pending() (OperationTag, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending, s.pending != ""
}

// setAccount switches the connected account. Views derived for a different
// account are cleared so they are never shown against the new one. It
// reports false and changes nothing while an operation is pending.
func (s *Session) setAccount(a Account) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != "" {
		return false
	}
	if !s.account.Equal(a) {
		s.tokens = nil
		s.tokensAt = time.Time{}
	}
	s.account = a
	return true
}

// tryBegin sets the pending operation if none is set.
func (s *Session) tryBegin(tag OperationTag) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != "" {
		return false
	}
	s.pending = tag
	return true
}

// finish clears the pending operation. A confirmed write starts a new epoch.
func (s *Session) finish(confirmed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = ""
	if confirmed {
		s.epoch++
	}
}

// currentEpoch returns the epoch a new rebuild pass belongs to.
func (s *Session) currentEpoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// publishCatalog replaces the catalog unless a write confirmed after the
// pass started.
func (s *Session) publishCatalog(epoch uint64, entries []ForSaleEntry, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return false
	}
	s.catalog = entries
	s.catalogAt = at
	return true
}

// publishTokens replaces the token list unless a write confirmed after the
// pass started or the account changed meanwhile.
func (s *Session) publishTokens(epoch uint64, owner Account, tokens []OwnedToken, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch || !s.account.Equal(owner) {
		return false
	}
	s.tokens = tokens
	s.tokensAt = at
	return true
}
