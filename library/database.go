package library

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	_ "github.com/mattn/go-sqlite3"
)

// Database provides high-level helpers around a SQLite connection.
// It stores the member accounts, a few metadata keys and the journal of
// accepted registry operations.
type Database struct {
	db *sql.DB

	addMemberStmt     *sql.Stmt
	appendJournalStmt *sql.Stmt
}

// Journal entry kinds.
const (
	journalAddBook    = "add_book"
	journalBorrowBook = "borrow_book"
	journalReturnBook = "return_book"
)

// Meta keys.
const (
	metaSchemaVersion = "schema_version"
	metaOwner         = "owner"
	metaReaddPolicy   = "readd_policy"
)

// JournalEntry is one accepted registry operation.
type JournalEntry struct {
	Seq        int64
	ID         uuid.UUID
	Kind       string
	Caller     Identity
	Payload    []byte
	OccurredAt time.Time
}

type addBookPayload struct {
	Title  string `json:"title"`
	Author string `json:"author"`
	Copies uint64 `json:"copies"`
}

type loanPayload struct {
	BookID string `json:"book_id"`
}

// NewDatabase opens (or creates) the SQLite database at dbPath, applies schema
// migrations, and prepares common statements.
func NewDatabase(dbPath string) (*Database, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	// Write transactions take the database lock up front so two sessions
	// cannot both validate against the same journal tail.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1&_txlock=immediate", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	database := &Database{db: db}
	if err := database.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return database, nil
}

// Close releases prepared statements and closes the DB.
func (d *Database) Close() error {
	if d.addMemberStmt != nil {
		d.addMemberStmt.Close()
	}
	if d.appendJournalStmt != nil {
		d.appendJournalStmt.Close()
	}
	return d.db.Close()
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

func applyMigrations(db *sql.DB) error {
	// WAL keeps readers off the writer's back.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	_ = db.QueryRow(`SELECT value FROM meta WHERE key=?;`, metaSchemaVersion).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS members (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL UNIQUE,
            password_hash TEXT NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS journal (
            seq INTEGER PRIMARY KEY AUTOINCREMENT,
            entry_id TEXT NOT NULL UNIQUE,
            kind TEXT NOT NULL,
            caller TEXT NOT NULL,
            payload TEXT NOT NULL,
            occurred_at INTEGER NOT NULL
        );`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO meta(key,value) VALUES(?,?)
            ON CONFLICT(key) DO UPDATE SET value=excluded.value;`, metaSchemaVersion, schemaVersion); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}

	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Prepared statements
// ---------------------------------------------------------------------------

func (d *Database) prepareStatements() error {
	var err error
	if d.addMemberStmt, err = d.db.Prepare(`INSERT INTO members(name,password_hash) VALUES(?,?)`); err != nil {
		return err
	}
	if d.appendJournalStmt, err = d.db.Prepare(`INSERT INTO journal(entry_id,kind,caller,payload,occurred_at) VALUES(?,?,?,?,?)`); err != nil {
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// Meta
// ---------------------------------------------------------------------------

// GetMeta returns the value stored under key and whether it was there.
func (d *Database) GetMeta(key string) (string, bool, error) {
	var v string
	err := d.db.QueryRow(`SELECT value FROM meta WHERE key=?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// SetMetaOnce writes key only if it is not set yet, and returns the stored value.
func (d *Database) SetMetaOnce(key, value string) (string, error) {
	if _, err := d.db.Exec(`INSERT INTO meta(key,value) VALUES(?,?) ON CONFLICT(key) DO NOTHING`, key, value); err != nil {
		return "", err
	}
	v, _, err := d.GetMeta(key)
	return v, err
}

// ---------------------------------------------------------------------------
// Journal
// ---------------------------------------------------------------------------

// AppendJournal stores one accepted operation. The payload is encoded as JSON.
func (d *Database) AppendJournal(kind string, caller Identity, payload any, at time.Time) (JournalEntry, error) {
	return d.appendJournal(d.appendJournalStmt, kind, caller, payload, at)
}

func (d *Database) appendJournal(stmt *sql.Stmt, kind string, caller Identity, payload any, at time.Time) (JournalEntry, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return JournalEntry{}, fmt.Errorf("journal entry id: %w", err)
	}
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(payload)
	if err != nil {
		return JournalEntry{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	res, err := stmt.Exec(id.String(), kind, string(caller), string(data), at.UnixNano())
	if err != nil {
		return JournalEntry{}, fmt.Errorf("append %s: %w", kind, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return JournalEntry{}, err
	}
	return JournalEntry{Seq: seq, ID: id, Kind: kind, Caller: caller, Payload: data, OccurredAt: at}, nil
}

// LoadJournal returns every journal entry in the order it was written.
func (d *Database) LoadJournal() ([]JournalEntry, error) {
	return d.LoadJournalAfter(0)
}

// LoadJournalAfter returns the entries with a sequence number above seq.
func (d *Database) LoadJournalAfter(seq int64) ([]JournalEntry, error) {
	return loadJournal(d.db, seq)
}

type queryer interface {
	Query(query string, args ...any) (*sql.Rows, error)
}

func loadJournal(q queryer, after int64) ([]JournalEntry, error) {
	rows, err := q.Query(`SELECT seq,entry_id,kind,caller,payload,occurred_at FROM journal WHERE seq > ? ORDER BY seq`, after)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var (
			e       JournalEntry
			entryID string
			caller  string
			payload string
			nanos   int64
		)
		if err := rows.Scan(&e.Seq, &entryID, &e.Kind, &caller, &payload, &nanos); err != nil {
			return nil, err
		}
		if e.ID, err = uuid.Parse(entryID); err != nil {
			return nil, fmt.Errorf("journal entry %d: %w", e.Seq, err)
		}
		e.Caller = Identity(caller)
		e.Payload = []byte(payload)
		e.OccurredAt = time.Unix(0, nanos).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// JournalTx is a write transaction on the journal. It holds the database
// write lock until Commit or Rollback.
type JournalTx struct {
	d  *Database
	tx *sql.Tx
}

// BeginJournal starts a write transaction.
func (d *Database) BeginJournal() (*JournalTx, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin journal: %w", err)
	}
	return &JournalTx{d: d, tx: tx}, nil
}

// EntriesAfter returns the entries above seq as seen inside the transaction.
func (jt *JournalTx) EntriesAfter(seq int64) ([]JournalEntry, error) {
	return loadJournal(jt.tx, seq)
}

// Append stores one accepted operation inside the transaction.
func (jt *JournalTx) Append(kind string, caller Identity, payload any, at time.Time) (JournalEntry, error) {
	return jt.d.appendJournal(jt.tx.Stmt(jt.d.appendJournalStmt), kind, caller, payload, at)
}

func (jt *JournalTx) Commit() error { return jt.tx.Commit() }

// Rollback aborts the transaction. It is a no-op after Commit.
func (jt *JournalTx) Rollback() error {
	if err := jt.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// JournalLen returns how many operations have been journaled.
func (d *Database) JournalLen() (int, error) {
	var n int
	err := d.db.QueryRow(`SELECT COUNT(*) FROM journal`).Scan(&n)
	return n, err
}

func decodePayload(e JournalEntry, v any) error {
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload (seq %d): %w", e.Kind, e.Seq, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Members
// ---------------------------------------------------------------------------

// AddMember stores a member with an already hashed password.
func (d *Database) AddMember(name, passwordHash string) (int64, error) {
	res, err := d.addMemberStmt.Exec(name, passwordHash)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return 0, fmt.Errorf("%w: %s", ErrMemberExists, name)
		}
		return 0, err
	}
	return res.LastInsertId()
}

// GetMemberByName fetches a single member including the password hash.
func (d *Database) GetMemberByName(name string) (*Member, error) {
	var m Member
	err := d.db.QueryRow(`SELECT id,name,password_hash FROM members WHERE name=?`, name).
		Scan(&m.ID, &m.Name, &m.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrMemberNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetAllMembers returns all members.
func (d *Database) GetAllMembers() ([]*Member, error) {
	rows, err := d.db.Query(`SELECT id,name,password_hash FROM members ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var members []*Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.Name, &m.PasswordHash); err != nil {
			return nil, err
		}
		members = append(members, &m)
	}
	return members, rows.Err()
}

// UpdateMemberPassword replaces a member's password hash.
func (d *Database) UpdateMemberPassword(name, passwordHash string) error {
	result, err := d.db.Exec(`UPDATE members SET password_hash=? WHERE name=?`, passwordHash, name)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrMemberNotFound, name)
	}
	return nil
}
