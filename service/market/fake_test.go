package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// fakeLedger is an in-memory token registry and marketplace. Writes only
// change state once their confirmation is awaited, like a real chain.
type fakeLedger struct {
	mu      sync.Mutex
	tokens  []*fakeToken
	nextID  TokenID
	caller  Account
	nonce   int
	reads   int
	submits []string

	// failRead makes a read fail when it returns non-nil.
	failRead func(step string, id TokenID) error
	// beforeRead runs before every read, outside the lock.
	beforeRead func(step string)
	// submitErr fails the next submission.
	submitErr error
	// confirmErr rejects the next confirmation.
	confirmErr error
	// hold keeps confirmations blocked until released.
	hold    bool
	pending []*fakeWrite
}

type fakeToken struct {
	id      TokenID
	owner   Account
	uri     string
	forSale bool
	price   Price
}

func newFakeLedger(caller Account) *fakeLedger {
	return &fakeLedger{caller: caller, nextID: 1}
}

// seed adds a confirmed token directly.
func (f *fakeLedger) seed(owner Account, uri string, forSale bool, price string) TokenID {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeToken{id: f.nextID, owner: owner, uri: uri, forSale: forSale}
	if forSale {
		t.price = MustParsePrice(price)
	}
	f.nextID++
	f.tokens = append(f.tokens, t)
	return t.id
}

func (f *fakeLedger) read(step string, id TokenID) error {
	if f.beforeRead != nil {
		f.beforeRead(step)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.failRead != nil {
		return f.failRead(step, id)
	}
	return nil
}

func (f *fakeLedger) find(id TokenID) (*fakeToken, error) {
	for _, t := range f.tokens {
		if t.id == id {
			return t, nil
		}
	}
	return nil, fmt.Errorf("token %d does not exist", id)
}

func (f *fakeLedger) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func (f *fakeLedger) submitted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.submits...)
}

func (f *fakeLedger) TotalSupply(ctx context.Context) (uint64, error) {
	if err := f.read("totalSupply", 0); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.tokens)), nil
}

func (f *fakeLedger) TokenByIndex(ctx context.Context, index uint64) (TokenID, error) {
	if err := f.read("tokenByIndex", 0); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if index >= uint64(len(f.tokens)) {
		return 0, fmt.Errorf("index %d out of bounds", index)
	}
	return f.tokens[index].id, nil
}

func (f *fakeLedger) OwnerOf(ctx context.Context, id TokenID) (Account, error) {
	if err := f.read("ownerOf", id); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.find(id)
	if err != nil {
		return "", err
	}
	return t.owner, nil
}

func (f *fakeLedger) TokenURI(ctx context.Context, id TokenID) (string, error) {
	if err := f.read("tokenURI", id); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.find(id)
	if err != nil {
		return "", err
	}
	return t.uri, nil
}

func (f *fakeLedger) IsForSale(ctx context.Context, id TokenID) (bool, error) {
	if err := f.read("isForSale", id); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.find(id)
	if err != nil {
		return false, err
	}
	return t.forSale, nil
}

func (f *fakeLedger) GetPrice(ctx context.Context, id TokenID) (Price, error) {
	if err := f.read("getPrice", id); err != nil {
		return Price{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.find(id)
	if err != nil {
		return Price{}, err
	}
	return t.price, nil
}

func (f *fakeLedger) submit(method string, apply func() error) (PendingWrite, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, method)
	if f.submitErr != nil {
		err := f.submitErr
		f.submitErr = nil
		return nil, err
	}
	f.nonce++
	w := &fakeWrite{
		ledger:     f,
		hash:       fmt.Sprintf("0x%064x", f.nonce),
		apply:      apply,
		confirmErr: f.confirmErr,
	}
	f.confirmErr = nil
	if f.hold {
		w.release = make(chan struct{})
		f.pending = append(f.pending, w)
	}
	return w, nil
}

// releaseAll unblocks every held confirmation.
func (f *fakeLedger) releaseAll() {
	f.mu.Lock()
	pending := f.pending
	f.pending = nil
	f.mu.Unlock()
	for _, w := range pending {
		close(w.release)
	}
}

func (f *fakeLedger) heldCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

func (f *fakeLedger) Mint(ctx context.Context, to Account, cid string) (PendingWrite, error) {
	return f.submit("safeMint", func() error {
		f.tokens = append(f.tokens, &fakeToken{id: f.nextID, owner: to, uri: "ipfs://" + cid})
		f.nextID++
		return nil
	})
}

func (f *fakeLedger) ListForSale(ctx context.Context, id TokenID, price Price) (PendingWrite, error) {
	return f.submit("listNFTForSale", func() error {
		t, err := f.find(id)
		if err != nil {
			return err
		}
		if !t.owner.Equal(f.caller) {
			return errors.New("execution reverted: not the owner")
		}
		t.forSale = true
		t.price = price
		return nil
	})
}

func (f *fakeLedger) Delist(ctx context.Context, id TokenID) (PendingWrite, error) {
	return f.submit("delistNFT", func() error {
		t, err := f.find(id)
		if err != nil {
			return err
		}
		t.forSale = false
		t.price = Price{}
		return nil
	})
}

func (f *fakeLedger) Buy(ctx context.Context, id TokenID, payment Price) (PendingWrite, error) {
	return f.submit("buyNFT", func() error {
		t, err := f.find(id)
		if err != nil {
			return err
		}
		if !t.forSale {
			return errors.New("execution reverted: not for sale")
		}
		if !t.price.Equal(payment) {
			return errors.New("execution reverted: incorrect payment")
		}
		t.owner = f.caller
		t.forSale = false
		t.price = Price{}
		return nil
	})
}

type fakeWrite struct {
	ledger     *fakeLedger
	hash       string
	apply      func() error
	confirmErr error
	release    chan struct{}
}

func (w *fakeWrite) TxHash() string {
	return w.hash
}

func (w *fakeWrite) AwaitConfirmation(ctx context.Context) error {
	if w.release != nil {
		select {
		case <-w.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if w.confirmErr != nil {
		return w.confirmErr
	}
	w.ledger.mu.Lock()
	defer w.ledger.mu.Unlock()
	return w.apply()
}

type fakeAccounts struct {
	account Account
	err     error
}

func (a fakeAccounts) RequestAccounts(ctx context.Context) (Account, error) {
	return a.account, a.err
}

type fakeResolver struct {
	mu    sync.Mutex
	fail  map[string]error
	calls int
}

func (r *fakeResolver) Fetch(ctx context.Context, uri string) (*Metadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if err, ok := r.fail[uri]; ok {
		return nil, &FetchError{URI: uri, Err: err}
	}
	return &Metadata{Name: "token at " + uri, Image: uri + "/image.png"}, nil
}

type recordingJournal struct {
	mu      sync.Mutex
	records []OperationRecord
	err     error
}

func (j *recordingJournal) Save(ctx context.Context, rec OperationRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
	return j.err
}

func (j *recordingJournal) saved() []OperationRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]OperationRecord(nil), j.records...)
}

type recordingNotifier struct {
	mu         sync.Mutex
	operations []OperationRecord
	views      []ViewUpdate
}

func (n *recordingNotifier) OperationUpdated(ctx context.Context, rec OperationRecord) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.operations = append(n.operations, rec)
}

func (n *recordingNotifier) ViewPublished(ctx context.Context, update ViewUpdate) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.views = append(n.views, update)
}

func (n *recordingNotifier) publishedViews() []ViewUpdate {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]ViewUpdate(nil), n.views...)
}
