package library

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// LibraryManager keeps the in-memory Registry and the SQLite journal in step.
// Every accepted state-changing operation is journaled; opening a manager
// replays the journal into a fresh Registry. Several managers may share one
// database: each write first applies the entries the others appended.
type LibraryManager struct {
	mu sync.Mutex

	db      *Database
	reg     *Registry
	lastSeq int64 // last journal entry applied to reg
	opts    []Option
	clock   Clock
	logger  Logger
	cost    int
}

// NewLibraryManager opens (or creates) the SQLite database at dbPath and
// rebuilds the registry from its journal. The owner and the re-add policy are
// fixed the first time a database is opened.
func NewLibraryManager(dbPath string, opts ...Option) (*LibraryManager, error) {
	db, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}
	o := newOptions(opts)

	lm := &LibraryManager{db: db, clock: o.clock, logger: o.logger, cost: o.passwordCost}

	owner, err := db.SetMetaOnce(metaOwner, string(o.owner))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store owner: %w", err)
	}
	if Identity(owner) != o.owner {
		lm.logger.Warn("ignoring configured owner, database already has one", "configured", o.owner, "owner", owner)
	}
	storedPolicy, err := db.SetMetaOnce(metaReaddPolicy, o.policy.String())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store re-add policy: %w", err)
	}
	policy, err := ParseReaddPolicy(storedPolicy)
	if err != nil {
		db.Close()
		return nil, err
	}
	if policy != o.policy {
		lm.logger.Warn("ignoring configured re-add policy, database already has one", "configured", o.policy, "policy", policy)
	}

	lm.opts = append(append([]Option{}, opts...), WithOwner(Identity(owner)), WithReaddPolicy(policy))
	if err := lm.rebuild(); err != nil {
		db.Close()
		return nil, err
	}
	return lm, nil
}

// Close closes the underlying database.
func (lm *LibraryManager) Close() error { return lm.db.Close() }

// rebuild replays the whole journal into a new Registry and swaps it in.
func (lm *LibraryManager) rebuild() error {
	entries, err := lm.db.LoadJournal()
	if err != nil {
		return fmt.Errorf("load journal: %w", err)
	}
	reg := NewRegistry(newOptions(lm.opts).owner, lm.opts...)
	if err := lm.replay(reg, entries); err != nil {
		return err
	}
	lm.reg = reg
	lm.lastSeq = 0
	if n := len(entries); n > 0 {
		lm.lastSeq = entries[n-1].Seq
	}
	lm.logger.Debug("registry rebuilt", "entries", len(entries), "books", reg.BooksCount())
	return nil
}

// replay applies entries to reg with their recorded timestamps.
func (lm *LibraryManager) replay(reg *Registry, entries []JournalEntry) error {
	clock := &replayClock{}
	reg.clock = clock
	defer func() { reg.clock = lm.clock }()

	for _, e := range entries {
		clock.at = e.OccurredAt
		if err := applyEntry(reg, e); err != nil {
			return fmt.Errorf("replay journal entry %d (%s): %w", e.Seq, e.Kind, err)
		}
	}
	return nil
}

// catchUp applies entries appended by other managers since lastSeq. If they
// do not apply cleanly the registry is rebuilt from scratch.
func (lm *LibraryManager) catchUp(entries []JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := lm.replay(lm.reg, entries); err != nil {
		lm.logger.Error("journal catch-up failed, rebuilding", logAttrError, err)
		return lm.rebuild()
	}
	lm.lastSeq = entries[len(entries)-1].Seq
	lm.logger.Debug("registry caught up", "entries", len(entries))
	return nil
}

func applyEntry(reg *Registry, e JournalEntry) error {
	switch e.Kind {
	case journalAddBook:
		var p addBookPayload
		if err := decodePayload(e, &p); err != nil {
			return err
		}
		_, _, err := reg.AddBook(e.Caller, p.Title, p.Author, p.Copies)
		return err
	case journalBorrowBook, journalReturnBook:
		var p loanPayload
		if err := decodePayload(e, &p); err != nil {
			return err
		}
		id, err := ParseBookID(p.BookID)
		if err != nil {
			return err
		}
		if e.Kind == journalBorrowBook {
			_, err = reg.BorrowBook(id, e.Caller)
		} else {
			_, err = reg.ReturnBook(id, e.Caller)
		}
		return err
	}
	return fmt.Errorf("unknown journal entry kind %q", e.Kind)
}

// commit runs op against a registry that is current with the journal and
// journals it, all inside one write transaction. A rejected op writes
// nothing. If the write fails after op was applied, the registry is rebuilt
// from disk so it forgets the operation too. Callers hold lm.mu.
func (lm *LibraryManager) commit(kind string, caller Identity, payload any, op func(*Registry) error) error {
	jt, err := lm.db.BeginJournal()
	if err != nil {
		return err
	}
	defer jt.Rollback()

	entries, err := jt.EntriesAfter(lm.lastSeq)
	if err != nil {
		return fmt.Errorf("load journal: %w", err)
	}
	if err := lm.catchUp(entries); err != nil {
		return err
	}

	if err := op(lm.reg); err != nil {
		lm.logger.Warn("operation rejected", "kind", kind, logAttrCaller, caller, logAttrError, err)
		return err
	}

	entry, err := jt.Append(kind, caller, payload, lm.reg.lastAccepted())
	if err == nil {
		err = jt.Commit()
	}
	if err != nil {
		lm.logger.Error("journal write failed", "kind", kind, logAttrCaller, caller, logAttrError, err)
		jt.Rollback()
		if rerr := lm.rebuild(); rerr != nil {
			lm.logger.Error("registry rebuild failed", logAttrError, rerr)
			return errors.Join(err, rerr)
		}
		return err
	}
	lm.lastSeq = entry.Seq
	return nil
}

// ------------------ Catalog ------------------

// AddBook adds (or re-adds) a book on behalf of caller, who must be the owner.
func (lm *LibraryManager) AddBook(caller Identity, title, author string, copies uint64) (BookID, []Event, error) {
	title = strings.TrimSpace(title)
	author = strings.TrimSpace(author)
	if title == "" {
		return BookID{}, nil, fmt.Errorf("%w: title cannot be empty", ErrInvalidInput)
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	id := BookIDFromTitle(title)
	var events []Event
	err := lm.commit(journalAddBook, caller, addBookPayload{Title: title, Author: author, Copies: copies}, func(reg *Registry) (err error) {
		_, events, err = reg.AddBook(caller, title, author, copies)
		return err
	})
	if err != nil {
		return id, nil, err
	}
	lm.logger.Info("book added", logAttrCaller, caller, logAttrBookID, id, logAttrEvents, eventNames(events))
	return id, events, nil
}

// registry returns the current Registry after applying entries other
// managers have journaled. A failed refresh is logged and the registry is
// served as it stands.
func (lm *LibraryManager) registry() *Registry {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	entries, err := lm.db.LoadJournalAfter(lm.lastSeq)
	if err == nil {
		err = lm.catchUp(entries)
	}
	if err != nil {
		lm.logger.Error("registry refresh failed", logAttrError, err)
	}
	return lm.reg
}

// Owner is the identity allowed to add books.
func (lm *LibraryManager) Owner() Identity { return lm.registry().Owner() }

// Policy is the re-add policy the database was created with.
func (lm *LibraryManager) Policy() ReaddPolicy { return lm.registry().Policy() }

func (lm *LibraryManager) GetBook(id BookID) (Book, error) { return lm.registry().GetBook(id) }

// GetAllBooks lists the catalog in the order books were first added.
func (lm *LibraryManager) GetAllBooks() []Book { return lm.registry().Books() }

func (lm *LibraryManager) BooksCount() int { return lm.registry().BooksCount() }

func (lm *LibraryManager) ListAvailableBooks() []BookID { return lm.registry().ListAvailableBooks() }

func (lm *LibraryManager) IsAvailable(id BookID) bool { return lm.registry().IsAvailable(id) }

// ------------------ Circulation ------------------

// BorrowBook lends a copy of id to caller.
func (lm *LibraryManager) BorrowBook(id BookID, caller Identity) ([]Event, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var events []Event
	err := lm.commit(journalBorrowBook, caller, loanPayload{BookID: id.String()}, func(reg *Registry) (err error) {
		events, err = reg.BorrowBook(id, caller)
		return err
	})
	if err != nil {
		return nil, err
	}
	lm.logger.Info("book borrowed", logAttrCaller, caller, logAttrBookID, id, logAttrEvents, eventNames(events))
	return events, nil
}

// ReturnBook takes back the copy of id held by caller.
func (lm *LibraryManager) ReturnBook(id BookID, caller Identity) ([]Event, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var events []Event
	err := lm.commit(journalReturnBook, caller, loanPayload{BookID: id.String()}, func(reg *Registry) (err error) {
		events, err = reg.ReturnBook(id, caller)
		return err
	})
	if err != nil {
		return nil, err
	}
	lm.logger.Info("book returned", logAttrCaller, caller, logAttrBookID, id, logAttrEvents, eventNames(events))
	return events, nil
}

// ------------------ History ------------------

func (lm *LibraryManager) ListCurrentLoans(who Identity) []BookID {
	return lm.registry().ListCurrentLoans(who)
}

func (lm *LibraryManager) GetBookHistory(id BookID) ([]Identity, error) {
	return lm.registry().GetBookHistory(id)
}

func (lm *LibraryManager) GetUserHistory(who Identity) []BookID {
	return lm.registry().GetUserHistory(who)
}

func (lm *LibraryManager) GetLoanLog(id BookID, who Identity) ([]LoanLogEntry, error) {
	return lm.registry().GetLoanLog(id, who)
}

// ------------------ Member helpers ------------------

// AddMember registers a member whose name becomes their identity.
func (lm *LibraryManager) AddMember(name, password string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("%w: member name cannot be empty", ErrInvalidInput)
	}
	hash, err := lm.hashPassword(password)
	if err != nil {
		return 0, err
	}
	id, err := lm.db.AddMember(name, hash)
	if err != nil {
		return 0, err
	}
	lm.logger.Info("member added", "member", name)
	return id, nil
}

// AuthenticateMember checks the password and returns the member.
func (lm *LibraryManager) AuthenticateMember(name, password string) (*Member, error) {
	m, err := lm.db.GetMemberByName(strings.TrimSpace(name))
	if errors.Is(err, ErrMemberNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(m.PasswordHash), []byte(password)); err != nil {
		lm.logger.Warn("authentication failed", "member", m.Name)
		return nil, ErrInvalidCredentials
	}
	return m, nil
}

// ResetMemberPassword replaces the password of an existing member.
func (lm *LibraryManager) ResetMemberPassword(name, password string) error {
	hash, err := lm.hashPassword(password)
	if err != nil {
		return err
	}
	return lm.db.UpdateMemberPassword(strings.TrimSpace(name), hash)
}

func (lm *LibraryManager) GetMember(name string) (*Member, error) {
	return lm.db.GetMemberByName(strings.TrimSpace(name))
}

func (lm *LibraryManager) GetAllMembers() ([]*Member, error) { return lm.db.GetAllMembers() }

func (lm *LibraryManager) hashPassword(password string) (string, error) {
	if strings.TrimSpace(password) == "" {
		return "", ErrEmptyPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), lm.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// ------------------ Utilities ------------------

// PrettyBook formats a book for lists.
func PrettyBook(b Book) string {
	return fmt.Sprintf("%-14s %-30s %-25s %-6d", b.ID.Short(), truncate(b.Title, 30), truncate(b.Author, 25), b.AvailableCopies)
}

// truncate shortens s to maxLength runes, marking the cut with "...".
func truncate(s string, maxLength int) string {
	r := []rune(s)
	if len(r) <= maxLength {
		return s
	}
	if maxLength <= 3 {
		return string(r[:maxLength])
	}
	return string(r[:maxLength-3]) + "..."
}
