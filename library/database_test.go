package library

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func tempDB(t *testing.T) *Database {
	t.Helper()
	dir := t.TempDir()
	db, err := NewDatabase(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "lib.db")
	for i := 0; i < 2; i++ {
		db, err := NewDatabase(path)
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		v, ok, err := db.GetMeta(metaSchemaVersion)
		if err != nil || !ok || v != "1" {
			t.Fatalf("schema version = %q, %v, %v", v, ok, err)
		}
		db.Close()
	}
}

func TestSetMetaOnce(t *testing.T) {
	db := tempDB(t)

	if _, ok, _ := db.GetMeta(metaOwner); ok {
		t.Fatalf("owner should not be set yet")
	}
	v, err := db.SetMetaOnce(metaOwner, "alice")
	if err != nil || v != "alice" {
		t.Fatalf("first set = %q, %v", v, err)
	}
	v, err = db.SetMetaOnce(metaOwner, "bob")
	if err != nil || v != "alice" {
		t.Fatalf("second set = %q, %v; want alice kept", v, err)
	}
}

func TestJournalRoundTrip(t *testing.T) {
	db := tempDB(t)
	at := time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.UTC)

	first, err := db.AppendJournal(journalAddBook, "owner", addBookPayload{Title: "Dune", Author: "Herbert", Copies: 2}, at)
	if err != nil {
		t.Fatalf("append add: %v", err)
	}
	id := BookIDFromTitle("Dune")
	if _, err := db.AppendJournal(journalBorrowBook, "alice", loanPayload{BookID: id.String()}, at.Add(time.Minute)); err != nil {
		t.Fatalf("append borrow: %v", err)
	}

	entries, err := db.LoadJournal()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("want 2 entries, got %d", len(entries))
	}
	if entries[0].ID != first.ID || entries[0].Seq != first.Seq {
		t.Fatalf("first entry mismatch: %+v vs %+v", entries[0], first)
	}
	if !entries[0].OccurredAt.Equal(at) {
		t.Fatalf("occurred_at = %v, want %v", entries[0].OccurredAt, at)
	}
	if entries[1].Caller != "alice" || entries[1].Kind != journalBorrowBook {
		t.Fatalf("second entry = %+v", entries[1])
	}

	var add addBookPayload
	if err := decodePayload(entries[0], &add); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if add.Title != "Dune" || add.Copies != 2 {
		t.Fatalf("payload = %+v", add)
	}
	var loan loanPayload
	if err := decodePayload(entries[1], &loan); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if loan.BookID != id.String() {
		t.Fatalf("book id = %s, want %s", loan.BookID, id)
	}

	if n, err := db.JournalLen(); err != nil || n != 2 {
		t.Fatalf("journal len = %d, %v", n, err)
	}
}

func TestJournalTx(t *testing.T) {
	db := tempDB(t)
	at := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)
	first, err := db.AppendJournal(journalAddBook, "owner", addBookPayload{Title: "Dune", Copies: 1}, at)
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	jt, err := db.BeginJournal()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := jt.Append(journalAddBook, "owner", addBookPayload{Title: "Emma", Copies: 1}, at); err != nil {
		t.Fatalf("append in tx: %v", err)
	}
	entries, err := jt.EntriesAfter(first.Seq)
	if err != nil || len(entries) != 1 {
		t.Fatalf("entries after %d = %v, %v", first.Seq, entries, err)
	}
	if err := jt.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if n, _ := db.JournalLen(); n != 1 {
		t.Fatalf("rolled back entry was kept, journal len = %d", n)
	}

	jt, err = db.BeginJournal()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := jt.Append(journalAddBook, "owner", addBookPayload{Title: "Emma", Copies: 1}, at); err != nil {
		t.Fatalf("append in tx: %v", err)
	}
	if err := jt.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := jt.Rollback(); err != nil {
		t.Fatalf("rollback after commit should be a no-op: %v", err)
	}
	after, err := db.LoadJournalAfter(first.Seq)
	if err != nil || len(after) != 1 {
		t.Fatalf("entries after commit = %v, %v", after, err)
	}
}

func TestMembers(t *testing.T) {
	db := tempDB(t)

	if _, err := db.AddMember("Alice", "hash-a"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := db.AddMember("Bob", "hash-b"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := db.AddMember("Alice", "again"); !errors.Is(err, ErrMemberExists) {
		t.Fatalf("want ErrMemberExists, got %v", err)
	}

	m, err := db.GetMemberByName("Alice")
	if err != nil || m.PasswordHash != "hash-a" {
		t.Fatalf("get = %+v, %v", m, err)
	}
	if _, err := db.GetMemberByName("Carol"); !errors.Is(err, ErrMemberNotFound) {
		t.Fatalf("want ErrMemberNotFound, got %v", err)
	}

	if err := db.UpdateMemberPassword("Bob", "hash-b2"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := db.UpdateMemberPassword("Carol", "x"); !errors.Is(err, ErrMemberNotFound) {
		t.Fatalf("want ErrMemberNotFound, got %v", err)
	}

	members, err := db.GetAllMembers()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(members) != 2 || members[0].Name != "Alice" || members[1].PasswordHash != "hash-b2" {
		t.Fatalf("members = %+v", members)
	}
}
