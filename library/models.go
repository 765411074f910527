package library

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"
)

// BookID identifies a book. It is the Keccak-256 digest of the title, so the
// same title always maps to the same id.
type BookID [32]byte

// BookIDFromTitle derives the id for a title.
func BookIDFromTitle(title string) BookID {
	var id BookID
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(title))
	h.Sum(id[:0])
	return id
}

// ParseBookID parses the 0x-prefixed hex form produced by String.
func ParseBookID(s string) (BookID, error) {
	var id BookID
	raw := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(raw) != hex.EncodedLen(len(id)) {
		return id, fmt.Errorf("book id %q: want %d hex digits", s, hex.EncodedLen(len(id)))
	}
	if _, err := hex.Decode(id[:], []byte(raw)); err != nil {
		return id, fmt.Errorf("book id %q: %w", s, err)
	}
	return id, nil
}

func (id BookID) String() string { return "0x" + hex.EncodeToString(id[:]) }

// Short is the first 10 hex digits, enough for tables.
func (id BookID) Short() string { return id.String()[:12] }

// Identity names whoever submits an operation.
type Identity string

// Book is a catalog record.
type Book struct {
	ID              BookID `json:"id"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	AvailableCopies uint64 `json:"available_copies"`
}

// LoanLogEntry records one borrow and, once it happens, the matching return.
type LoanLogEntry struct {
	Borrower   Identity  `json:"borrower"`
	BorrowedAt time.Time `json:"borrowed_at"`
	ReturnedAt time.Time `json:"returned_at"` // zero while the loan is open
}

// Open reports whether the book has not been returned yet.
func (e LoanLogEntry) Open() bool { return e.ReturnedAt.IsZero() }

// Member represents a registered library member. The member name is the
// Identity used by the registry.
type Member struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	PasswordHash string `json:"-"` // Don't serialize password hash
}

// Identity returns the registry identity of the member.
func (m *Member) Identity() Identity { return Identity(m.Name) }
