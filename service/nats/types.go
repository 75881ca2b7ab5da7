package nats

import (
	"fmt"
	"strings"
	"time"

	"github.com/brojonat/mintmarket/service/market"
)

const (
	// OperationSubjectPrefix prefixes operation lifecycle events:
	// "mint.ops.{account}".
	OperationSubjectPrefix = "mint.ops."

	// ViewSubjectPrefix prefixes view refresh events: "mint.views.{view}".
	ViewSubjectPrefix = "mint.views."

	EventKindOperation = "operation"
	EventKindView      = "view"
)

// OperationEvent is published whenever an operation is submitted or settles.
type OperationEvent struct {
	Operation   market.OperationRecord `json:"operation"`
	PublishedAt time.Time              `json:"published_at"`
}

// ViewEvent is published after a view has been re-derived and published to
// the session.
type ViewEvent struct {
	View      market.View           `json:"view"`
	Account   market.Account        `json:"account,omitempty"`
	Size      int                   `json:"size"`
	Catalog   []market.ForSaleEntry `json:"catalog,omitempty"`
	Tokens    []market.OwnedToken   `json:"tokens,omitempty"`
	UpdatedAt time.Time             `json:"updated_at"`

	PublishedAt time.Time `json:"published_at"`
}

// FromOperationRecord converts a journal record into an event.
func FromOperationRecord(rec market.OperationRecord) *OperationEvent {
	return &OperationEvent{
		Operation:   rec,
		PublishedAt: time.Now().UTC(),
	}
}

// FromViewUpdate converts a published view into an event.
func FromViewUpdate(u market.ViewUpdate) *ViewEvent {
	return &ViewEvent{
		View:        u.View,
		Account:     u.Account,
		Size:        u.Size(),
		Catalog:     u.Catalog,
		Tokens:      u.Tokens,
		UpdatedAt:   u.UpdatedAt,
		PublishedAt: time.Now().UTC(),
	}
}

// OperationSubject returns the subject operation events for account go to.
// An empty account selects every account.
func OperationSubject(account market.Account) string {
	if account.IsZero() {
		return OperationSubjectPrefix + "*"
	}
	return OperationSubjectPrefix + subjectToken(account.Normalized())
}

// ViewSubject returns the subject refresh events for view go to.
// An empty view selects every view.
func ViewSubject(view market.View) string {
	if view == "" {
		return ViewSubjectPrefix + "*"
	}
	return ViewSubjectPrefix + subjectToken(string(view))
}

// FilterSubject returns the consumer filter for a subscription to kind
// ("operations", "views", or "all"/empty for both). account narrows
// operation events to one account.
func FilterSubject(kind string, account market.Account) (string, error) {
	switch kind {
	case "", "all":
		if !account.IsZero() {
			return "", fmt.Errorf("account filter requires kind=operations")
		}
		return StreamSubjects, nil
	case "operations":
		return OperationSubject(account), nil
	case "views":
		return ViewSubject(""), nil
	default:
		return "", fmt.Errorf("unknown kind %q: must be operations, views or all", kind)
	}
}

// EventKind classifies a message subject as an operation or view event.
func EventKind(subject string) string {
	switch {
	case strings.HasPrefix(subject, OperationSubjectPrefix):
		return EventKindOperation
	case strings.HasPrefix(subject, ViewSubjectPrefix):
		return EventKindView
	default:
		return ""
	}
}

// subjectToken makes s safe to use as a single subject token.
func subjectToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
