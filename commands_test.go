package main

import (
	"bufio"
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-registry/library"
)

const testPassword = "pw"

// cli runs one command against db with stdin set to input.
func cli(t *testing.T, db, input string, args ...string) (stdout, stderr string, code int) {
	t.Helper()
	a := &app{
		in:           bufio.NewReader(strings.NewReader(input)),
		readPassword: func(string) (string, error) { return testPassword, nil },
	}
	var out, errOut bytes.Buffer
	code = run(a, append([]string{"--db", db}, args...), &out, &errOut)
	return out.String(), errOut.String(), code
}

func mustCLI(t *testing.T, db string, args ...string) string {
	t.Helper()
	out, errOut, code := cli(t, db, "", args...)
	require.Equalf(t, exitSuccess, code, "%v: %s", args, errOut)
	return out
}

func seededDB(t *testing.T) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "library.db")
	mustCLI(t, db, "init")
	mustCLI(t, db, "add-member", "alice")
	mustCLI(t, db, "add-member", "bob")
	return db
}

func TestInit(t *testing.T) {
	db := filepath.Join(t.TempDir(), "library.db")

	out := mustCLI(t, db, "init")
	assert.Contains(t, out, "Library initialized, owner is admin")

	out = mustCLI(t, db, "init")
	assert.Contains(t, out, "already initialized")

	out = mustCLI(t, db, "members")
	assert.Contains(t, out, "admin")
	assert.Contains(t, out, "yes")
}

func TestBorrowAndReturnFlow(t *testing.T) {
	db := seededDB(t)

	out := mustCLI(t, db, "add-book", "Dune", "Frank Herbert", "1")
	assert.Contains(t, out, "Added book "+library.BookIDFromTitle("Dune").String())
	assert.Contains(t, out, "event: "+library.BookAddedEventType)
	assert.Contains(t, out, "event: "+library.BooksCountChangedEventType+"(count=1)")

	out = mustCLI(t, db, "--as", "alice", "borrow", "Dune")
	assert.Contains(t, out, "Book 'Dune' borrowed by alice")
	assert.Contains(t, out, "event: "+library.BookBorrowedEventType)

	_, errOut, code := cli(t, db, "", "--as", "bob", "borrow", "Dune")
	assert.Equal(t, exitUserError, code)
	assert.Contains(t, errOut, library.ErrUnavailable.Error())

	_, errOut, code = cli(t, db, "", "--as", "bob", "return", "Dune")
	assert.Equal(t, exitUserError, code)
	assert.Contains(t, errOut, library.ErrNotHeldByCaller.Error())

	out = mustCLI(t, db, "loans", "alice")
	assert.Contains(t, out, "Dune")
	out = mustCLI(t, db, "available")
	assert.Contains(t, out, "No books available.")

	out = mustCLI(t, db, "--as", "alice", "return", library.BookIDFromTitle("Dune").String())
	assert.Contains(t, out, "Book 'Dune' returned by alice")

	out = mustCLI(t, db, "history", "Dune")
	assert.Contains(t, out, "1. alice")
	out = mustCLI(t, db, "user-history", "alice")
	assert.Contains(t, out, "Dune")
	out = mustCLI(t, db, "log", "Dune", "alice")
	assert.Contains(t, out, "alice")
	assert.NotContains(t, out, " - ")
	out = mustCLI(t, db, "count")
	assert.Contains(t, out, "Total books count in library is: 1")
	out = mustCLI(t, db, "book", "Dune")
	assert.Contains(t, out, "Available : 1 copies")
}

func TestExitCodes(t *testing.T) {
	db := seededDB(t)

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"unknown book", []string{"book", "Nope"}, exitUserError},
		{"no loan records", []string{"log", "Nope", "alice"}, exitUserError},
		{"non-owner adds", []string{"--as", "alice", "add-book", "X", "Y", "1"}, exitUserError},
		{"unknown member", []string{"--as", "mallory", "borrow", "X"}, exitUserError},
		{"bad copies", []string{"add-book", "X", "Y", "many"}, exitUserError},
		{"duplicate member", []string{"add-member", "alice"}, exitUserError},
		{"missing args", []string{"borrow"}, exitUserError},
		{"unknown flag", []string{"books", "--nope"}, exitUserError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, errOut, code := cli(t, db, "", tt.args...)
			assert.Equal(t, tt.want, code, errOut)
			assert.True(t, strings.HasPrefix(errOut, "Error: "), errOut)
		})
	}
}

func TestShell(t *testing.T) {
	db := seededDB(t)
	mustCLI(t, db, "add-book", "Emma", "Jane Austen", "2")

	input := strings.Join([]string{
		"borrow", "Emma",
		"borrow", "Emma", // already held: printed, session goes on
		"loans", "",
		"nonsense",
		"exit",
	}, "\n") + "\n"
	out, errOut, code := cli(t, db, input, "--as", "alice", "shell")
	require.Equal(t, exitSuccess, code, errOut)

	assert.Contains(t, out, "Welcome to the library, alice!")
	assert.Contains(t, out, "Book 'Emma' borrowed by alice")
	assert.Contains(t, out, "Error: "+library.ErrAlreadyHeld.Error())
	assert.Contains(t, out, "Current books for alice:")
	assert.Contains(t, out, "Unknown command.")
	assert.Contains(t, out, "Goodbye!")

	out = mustCLI(t, db, "loans", "alice")
	assert.Contains(t, out, "Emma")
}

func TestResolveBookID(t *testing.T) {
	id := library.BookIDFromTitle("Dune")

	got, err := resolveBookID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, got)

	got, err = resolveBookID("  Dune ")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	// Not a valid id, so it is taken as a title.
	got, err = resolveBookID("0xnope")
	require.NoError(t, err)
	assert.Equal(t, library.BookIDFromTitle("0xnope"), got)

	_, err = resolveBookID(" ")
	assert.ErrorIs(t, err, errUsage)
}
