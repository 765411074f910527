package library

import "fmt"

// Event type names.
const (
	BookAddedEventType         = "BookAdded"
	BookBorrowedEventType      = "BookBorrowed"
	BookReturnedEventType      = "BookReturned"
	BooksCountChangedEventType = "BooksCountChanged"
)

// Event is a notification emitted by a successful registry operation.
// Operations return the events they emitted; nothing is dispatched
// behind the caller's back.
type Event interface {
	EventType() string
	String() string
}

// BookAdded is emitted by every successful AddBook.
type BookAdded struct {
	ID     BookID
	Copies uint64
}

func (BookAdded) EventType() string { return BookAddedEventType }

func (e BookAdded) String() string {
	return fmt.Sprintf("%s(id=%s, copies=%d)", BookAddedEventType, e.ID, e.Copies)
}

// BookBorrowed is emitted by every successful BorrowBook.
type BookBorrowed struct {
	ID       BookID
	Borrower Identity
}

func (BookBorrowed) EventType() string { return BookBorrowedEventType }

func (e BookBorrowed) String() string {
	return fmt.Sprintf("%s(id=%s, borrower=%s)", BookBorrowedEventType, e.ID, e.Borrower)
}

// BookReturned is emitted by every successful ReturnBook.
type BookReturned struct {
	ID       BookID
	Borrower Identity
}

func (BookReturned) EventType() string { return BookReturnedEventType }

func (e BookReturned) String() string {
	return fmt.Sprintf("%s(id=%s, borrower=%s)", BookReturnedEventType, e.ID, e.Borrower)
}

// BooksCountChanged is emitted when AddBook writes an id for the first time.
type BooksCountChanged struct {
	Count int
}

func (BooksCountChanged) EventType() string { return BooksCountChangedEventType }

func (e BooksCountChanged) String() string {
	return fmt.Sprintf("%s(count=%d)", BooksCountChangedEventType, e.Count)
}
