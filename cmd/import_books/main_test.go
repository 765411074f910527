package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"library-registry/library"
)

const ownerPassword = "secret"

func writeSeed(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "books.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func importBooks(t *testing.T, password string, args ...string) (stdout, stderr string, code int) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = run(args, &out, &errOut, func(string) (string, error) { return password, nil })
	return out.String(), errOut.String(), code
}

// initLibrary creates db with owner's member account, as `library init` does.
func initLibrary(t *testing.T, db string, owner library.Identity) {
	t.Helper()
	mgr, err := library.NewLibraryManager(db, library.WithOwner(owner), library.WithPasswordCost(bcrypt.MinCost))
	require.NoError(t, err)
	_, err = mgr.AddMember(string(owner), ownerPassword)
	require.NoError(t, err)
	require.NoError(t, mgr.Close())
}

func openLibrary(t *testing.T, db string) *library.LibraryManager {
	t.Helper()
	mgr, err := library.NewLibraryManager(db)
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })
	return mgr
}

func TestImport(t *testing.T) {
	db := filepath.Join(t.TempDir(), "library.db")
	initLibrary(t, db, "librarian")
	seed := writeSeed(t, `[
		{"title": "Dune", "author": "Frank Herbert", "copies": 2},
		{"title": "  ", "author": "Nobody", "copies": 1},
		{"title": "Émile et les Mots", "author": "Anonyme", "copies": 1}
	]`)

	out, errOut, code := importBooks(t, ownerPassword, "--db", db, "--file", seed)
	assert.Equal(t, 1, code, errOut)
	assert.Contains(t, out, "as librarian")
	assert.Contains(t, out, "Successfully imported: 2 books")
	assert.Contains(t, out, "Errors: 1")
	assert.Contains(t, out, library.ErrInvalidInput.Error())

	mgr := openLibrary(t, db)
	assert.Equal(t, 2, mgr.BooksCount())
	book, err := mgr.GetBook(library.BookIDFromTitle("Dune"))
	require.NoError(t, err)
	assert.EqualValues(t, 2, book.AvailableCopies)
}

func TestImportCleanSeedSucceeds(t *testing.T) {
	db := filepath.Join(t.TempDir(), "library.db")
	initLibrary(t, db, "admin")
	seed := writeSeed(t, `[{"title": "Emma", "author": "Jane Austen", "copies": 3}]`)

	out, errOut, code := importBooks(t, ownerPassword, "--db", db, "--file", seed)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Errors: 0")
	assert.Equal(t, 1, openLibrary(t, db).BooksCount())
}

func TestImportRequiresOwnerPassword(t *testing.T) {
	db := filepath.Join(t.TempDir(), "library.db")
	initLibrary(t, db, "admin")
	seed := writeSeed(t, `[{"title": "Emma", "author": "Jane Austen", "copies": 3}]`)

	_, errOut, code := importBooks(t, "wrong", "--db", db, "--file", seed)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, library.ErrInvalidCredentials.Error())
	assert.Zero(t, openLibrary(t, db).BooksCount())
}

func TestImportHonoursConfiguredOwnerAndPolicy(t *testing.T) {
	db := filepath.Join(t.TempDir(), "library.db")
	seed := writeSeed(t, `[{"title": "Emma", "author": "Jane Austen", "copies": 3}]`)

	// Fresh database: no owner account yet, so nothing is imported.
	_, errOut, code := importBooks(t, ownerPassword,
		"--db", db, "--file", seed, "--owner", "librarian", "--readd-policy", "merge")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "library init")

	mgr := openLibrary(t, db)
	assert.Equal(t, library.Identity("librarian"), mgr.Owner())
	assert.Equal(t, library.ReaddMerge, mgr.Policy())
	assert.Zero(t, mgr.BooksCount())
}

func TestImportBadSeedFile(t *testing.T) {
	db := filepath.Join(t.TempDir(), "library.db")

	_, errOut, code := importBooks(t, ownerPassword, "--db", db, "--file", writeSeed(t, `{not json`))
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Error parsing")

	_, _, code = importBooks(t, ownerPassword, "--db", db, "--file", filepath.Join(t.TempDir(), "missing.json"))
	assert.Equal(t, 1, code)
}
