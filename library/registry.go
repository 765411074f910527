package library

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

// ReaddPolicy decides what AddBook does with a title that is already in the
// catalog. Because ids are derived from titles, a second AddBook with the
// same title always lands on the same record.
type ReaddPolicy int

const (
	// ReaddOverwrite replaces title, author and resets the available copies.
	// Loans that are still open keep referencing the id, but the copy count
	// no longer accounts for them.
	ReaddOverwrite ReaddPolicy = iota
	// ReaddReject fails with ErrAlreadyExists.
	ReaddReject
	// ReaddMerge adds the new copies to the available ones and updates the author.
	ReaddMerge
)

func (p ReaddPolicy) String() string {
	switch p {
	case ReaddReject:
		return "reject"
	case ReaddMerge:
		return "merge"
	default:
		return "overwrite"
	}
}

// ParseReaddPolicy maps a config value to a policy.
func ParseReaddPolicy(s string) (ReaddPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "overwrite":
		return ReaddOverwrite, nil
	case "reject":
		return ReaddReject, nil
	case "merge":
		return ReaddMerge, nil
	}
	return ReaddOverwrite, fmt.Errorf("unknown re-add policy %q (want overwrite, reject or merge)", s)
}

type loanKey struct {
	book     BookID
	borrower Identity
}

// Registry holds the whole lending state: the catalog, the availability
// index, current loans, borrower histories and the per-(book, borrower) loan
// log. Mutations are serialized; a rejected call changes nothing.
type Registry struct {
	mu sync.RWMutex

	owner  Identity
	clock  Clock
	policy ReaddPolicy
	lastAt time.Time

	catalog     map[BookID]*Book
	added       []BookID // first-write order, its length is the books count
	available   *orderedSet[BookID]
	loans       map[Identity]*orderedSet[BookID]
	bookHistory map[BookID]*orderedSet[Identity]
	userHistory map[Identity]*orderedSet[BookID]
	loanLog     map[loanKey][]LoanLogEntry
}

// NewRegistry creates an empty registry. owner is the only identity allowed
// to add books and cannot be changed later. Of the options only WithClock and
// WithReaddPolicy apply here.
func NewRegistry(owner Identity, opts ...Option) *Registry {
	o := newOptions(opts)
	return &Registry{
		owner:       owner,
		clock:       o.clock,
		policy:      o.policy,
		catalog:     make(map[BookID]*Book),
		available:   newOrderedSet[BookID](),
		loans:       make(map[Identity]*orderedSet[BookID]),
		bookHistory: make(map[BookID]*orderedSet[Identity]),
		userHistory: make(map[Identity]*orderedSet[BookID]),
		loanLog:     make(map[loanKey][]LoanLogEntry),
	}
}

// Owner returns the identity fixed at creation.
func (r *Registry) Owner() Identity { return r.owner }

// Policy returns the configured re-add policy.
func (r *Registry) Policy() ReaddPolicy { return r.policy }

// now stamps an accepted operation. The clock may not go backwards; if it
// does, the previous timestamp is reused.
func (r *Registry) now() time.Time {
	t := r.clock.Now()
	if t.Before(r.lastAt) {
		t = r.lastAt
	}
	r.lastAt = t
	return t
}

// lastAccepted is the timestamp of the most recent accepted operation.
func (r *Registry) lastAccepted() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastAt
}

// ------------------ Catalog ------------------

// AddBook writes the catalog record for title. Only the owner may call it.
func (r *Registry) AddBook(caller Identity, title, author string, copies uint64) (BookID, []Event, error) {
	id := BookIDFromTitle(title)

	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.owner {
		return id, nil, fmt.Errorf("%w: %s", ErrUnauthorized, caller)
	}
	book, exists := r.catalog[id]
	if exists && r.policy == ReaddReject {
		return id, nil, fmt.Errorf("%w: %q (%s)", ErrAlreadyExists, title, id.Short())
	}
	if exists && r.policy == ReaddMerge && copies > math.MaxUint64-book.AvailableCopies {
		return id, nil, fmt.Errorf("%w: %d more copies of %s overflow the count", ErrInvalidInput, copies, id.Short())
	}

	r.now()

	switch {
	case !exists:
		book = &Book{ID: id, Title: title, Author: author, AvailableCopies: copies}
		r.catalog[id] = book
		r.added = append(r.added, id)
	case r.policy == ReaddMerge:
		book.Author = author
		book.AvailableCopies += copies
	default:
		book.Title = title
		book.Author = author
		book.AvailableCopies = copies
	}

	if book.AvailableCopies > 0 {
		r.available.Add(id)
	} else {
		r.available.Remove(id)
	}

	events := []Event{BookAdded{ID: id, Copies: copies}}
	if !exists {
		events = append(events, BooksCountChanged{Count: len(r.added)})
	}
	return id, events, nil
}

// GetBook returns a copy of the catalog record.
func (r *Registry) GetBook(id BookID) (Book, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	book, ok := r.catalog[id]
	if !ok {
		return Book{}, fmt.Errorf("%w: %s", ErrNotFound, id.Short())
	}
	return *book, nil
}

// Books lists the catalog in the order the ids were first added.
func (r *Registry) Books() []Book {
	r.mu.RLock()
	defer r.mu.RUnlock()

	books := make([]Book, 0, len(r.added))
	for _, id := range r.added {
		books = append(books, *r.catalog[id])
	}
	return books
}

// BooksCount is the number of distinct ids ever added. Overwrites don't count.
func (r *Registry) BooksCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.added)
}

// ListAvailableBooks returns the ids with at least one free copy.
func (r *Registry) ListAvailableBooks() []BookID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.available.Slice()
}

// IsAvailable reports whether id has a free copy.
func (r *Registry) IsAvailable(id BookID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.available.Has(id)
}

// ------------------ Loans ------------------

// BorrowBook lends one copy of id to caller.
func (r *Registry) BorrowBook(id BookID, caller Identity) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	book, ok := r.catalog[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id.Short())
	}
	held := r.loans[caller]
	if held != nil && held.Has(id) {
		return nil, fmt.Errorf("%w: %s holds %s", ErrAlreadyHeld, caller, id.Short())
	}
	if book.AvailableCopies == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, id.Short())
	}

	book.AvailableCopies--
	if book.AvailableCopies == 0 {
		r.available.Remove(id)
	}

	if held == nil {
		held = newOrderedSet[BookID]()
		r.loans[caller] = held
	}
	held.Add(id)

	if r.bookHistory[id] == nil {
		r.bookHistory[id] = newOrderedSet[Identity]()
	}
	r.bookHistory[id].Add(caller)

	if r.userHistory[caller] == nil {
		r.userHistory[caller] = newOrderedSet[BookID]()
	}
	r.userHistory[caller].Add(id)

	key := loanKey{book: id, borrower: caller}
	r.loanLog[key] = append(r.loanLog[key], LoanLogEntry{Borrower: caller, BorrowedAt: r.now()})

	return []Event{BookBorrowed{ID: id, Borrower: caller}}, nil
}

// ReturnBook takes back the copy of id that caller holds.
func (r *Registry) ReturnBook(id BookID, caller Identity) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	book, ok := r.catalog[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id.Short())
	}
	held := r.loans[caller]
	if held == nil || !held.Has(id) {
		return nil, fmt.Errorf("%w: %s does not hold %s", ErrNotHeldByCaller, caller, id.Short())
	}
	// An overwrite can leave the count at its maximum while copies are out.
	if book.AvailableCopies == math.MaxUint64 {
		return nil, fmt.Errorf("%w: returning %s overflows the count", ErrInvalidInput, id.Short())
	}

	book.AvailableCopies++
	r.available.Add(id)
	held.Remove(id)

	key := loanKey{book: id, borrower: caller}
	entries := r.loanLog[key]
	at := r.now()
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Open() {
			entries[i].ReturnedAt = at
			break
		}
	}

	return []Event{BookReturned{ID: id, Borrower: caller}}, nil
}

// ListCurrentLoans returns the ids identity holds, oldest loan first.
func (r *Registry) ListCurrentLoans(identity Identity) []BookID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	held := r.loans[identity]
	if held == nil {
		return []BookID{}
	}
	return held.Slice()
}

// ------------------ History ------------------

// GetBookHistory returns every identity that ever borrowed id, in order of
// their first borrow.
func (r *Registry) GetBookHistory(id BookID) ([]Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.catalog[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id.Short())
	}
	h := r.bookHistory[id]
	if h == nil {
		return []Identity{}, nil
	}
	return h.Slice(), nil
}

// GetUserHistory returns every book identity ever borrowed, in order of
// first borrow.
func (r *Registry) GetUserHistory(identity Identity) []BookID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h := r.userHistory[identity]
	if h == nil {
		return []BookID{}
	}
	return h.Slice()
}

// GetLoanLog returns every loan cycle of id by identity. The log is never
// trimmed: it grows by one entry per borrow.
func (r *Registry) GetLoanLog(id BookID, identity Identity) ([]LoanLogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.loanLog[loanKey{book: id, borrower: identity}]
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s by %s", ErrNoRecords, id.Short(), identity)
	}
	out := make([]LoanLogEntry, len(entries))
	copy(out, entries)
	return out, nil
}
