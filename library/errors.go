package library

import "errors"

// Registry errors. Every one of them is returned before any state changes.
var (
	ErrUnauthorized    = errors.New("caller is not the owner")
	ErrNotFound        = errors.New("This book doesn't exist!")
	ErrAlreadyHeld     = errors.New("You have this book!")
	ErrUnavailable     = errors.New("This book is not available!")
	ErrNotHeldByCaller = errors.New("This book is not borrowed by you!")
	ErrNoRecords       = errors.New("no loan records for this book and borrower")
	ErrAlreadyExists   = errors.New("book with this title already exists")
)

// Member errors.
var (
	ErrMemberNotFound     = errors.New("member not found")
	ErrMemberExists       = errors.New("member already exists")
	ErrInvalidCredentials = errors.New("invalid name or password")
	ErrEmptyPassword      = errors.New("password cannot be empty")
)

// ErrInvalidInput wraps malformed arguments caught before the registry is
// consulted.
var ErrInvalidInput = errors.New("invalid input")
