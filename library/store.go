package library

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Store persists the library state to SQLite. The in-memory stores remain
// authoritative at runtime; the store only loads them on startup and writes
// durable snapshots after mutations.
type Store struct {
	db *sqlx.DB
}

// State bundles the four in-memory stores a snapshot covers.
type State struct {
	Catalog      *CatalogStore
	Ledger       *LoanLedger
	Members      *MemberRegistry
	Reservations *ReservationQueue
}

// NewState creates fresh, empty stores.
func NewState() *State {
	return &State{
		Catalog:      NewCatalogStore(),
		Ledger:       NewLoanLedger(),
		Members:      NewMemberRegistry(),
		Reservations: NewReservationQueue(),
	}
}

// OpenStore opens (or creates) the SQLite database at dbPath and applies
// schema migrations.
func OpenStore(dbPath string) (*Store, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	// Enable busy_timeout and foreign keys.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1", dbPath)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

const schemaVersion = 1

func applyMigrations(db *sqlx.DB) error {
	// WAL improves write concurrency.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	_ = db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS books (
            id TEXT PRIMARY KEY,
            title TEXT NOT NULL,
            author TEXT NOT NULL,
            isbn TEXT NOT NULL UNIQUE,
            category TEXT NOT NULL,
            published_year INTEGER NOT NULL,
            description TEXT NOT NULL DEFAULT '',
            cover_url TEXT NOT NULL DEFAULT '',
            available BOOLEAN NOT NULL DEFAULT 1,
            position INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS members (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            email TEXT NOT NULL UNIQUE,
            role TEXT NOT NULL,
            status TEXT NOT NULL,
            join_date TEXT NOT NULL,
            password_hash TEXT NOT NULL,
            position INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS loans (
            id TEXT PRIMARY KEY,
            book_id TEXT NOT NULL REFERENCES books(id),
            borrower_id TEXT NOT NULL REFERENCES members(id),
            borrow_date TEXT NOT NULL,
            due_date TEXT NOT NULL,
            return_date TEXT,
            status TEXT NOT NULL,
            position INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS reservations (
            book_id TEXT NOT NULL REFERENCES books(id),
            member_id TEXT NOT NULL REFERENCES members(id),
            placed_at TEXT NOT NULL,
            position INTEGER NOT NULL,
            PRIMARY KEY (book_id, member_id)
        );`,
		`INSERT INTO meta(key,value) VALUES('schema_version',?)
            ON CONFLICT(key) DO UPDATE SET value=excluded.value;`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt, schemaVersion); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}

	return tx.Commit()
}

type bookRow struct {
	ID            string `db:"id"`
	Title         string `db:"title"`
	Author        string `db:"author"`
	ISBN          string `db:"isbn"`
	Category      string `db:"category"`
	PublishedYear int    `db:"published_year"`
	Description   string `db:"description"`
	CoverURL      string `db:"cover_url"`
	Available     bool   `db:"available"`
	Position      int    `db:"position"`
}

type memberRow struct {
	ID           string `db:"id"`
	Name         string `db:"name"`
	Email        string `db:"email"`
	Role         string `db:"role"`
	Status       string `db:"status"`
	JoinDate     string `db:"join_date"`
	PasswordHash string `db:"password_hash"`
	Position     int    `db:"position"`
}

type loanRow struct {
	ID         string         `db:"id"`
	BookID     string         `db:"book_id"`
	BorrowerID string         `db:"borrower_id"`
	BorrowDate string         `db:"borrow_date"`
	DueDate    string         `db:"due_date"`
	ReturnDate sql.NullString `db:"return_date"`
	Status     string         `db:"status"`
	Position   int            `db:"position"`
}

type reservationRow struct {
	BookID   string `db:"book_id"`
	MemberID string `db:"member_id"`
	PlacedAt string `db:"placed_at"`
	Position int    `db:"position"`
}

// LoadState reads the full snapshot into fresh in-memory stores.
func (s *Store) LoadState() (*State, error) {
	st := NewState()

	var books []bookRow
	if err := s.db.Select(&books, `SELECT * FROM books ORDER BY position`); err != nil {
		return nil, fmt.Errorf("load books: %w", err)
	}
	for _, r := range books {
		st.Catalog.restoreBook(Book{
			ID:            r.ID,
			Title:         r.Title,
			Author:        r.Author,
			ISBN:          r.ISBN,
			Category:      r.Category,
			PublishedYear: r.PublishedYear,
			Description:   r.Description,
			CoverURL:      r.CoverURL,
			Available:     r.Available,
		})
	}

	var members []memberRow
	if err := s.db.Select(&members, `SELECT * FROM members ORDER BY position`); err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}
	for _, r := range members {
		joined, err := parseDate(r.JoinDate)
		if err != nil {
			return nil, fmt.Errorf("member %s join date: %w", r.ID, err)
		}
		st.Members.restoreMember(Member{
			ID:           r.ID,
			Name:         r.Name,
			Email:        r.Email,
			Role:         Role(r.Role),
			Status:       MemberStatus(r.Status),
			JoinDate:     joined,
			PasswordHash: r.PasswordHash,
		})
	}

	var loans []loanRow
	if err := s.db.Select(&loans, `SELECT * FROM loans ORDER BY position`); err != nil {
		return nil, fmt.Errorf("load loans: %w", err)
	}
	for _, r := range loans {
		borrowed, err := parseDate(r.BorrowDate)
		if err != nil {
			return nil, fmt.Errorf("loan %s borrow date: %w", r.ID, err)
		}
		due, err := parseDate(r.DueDate)
		if err != nil {
			return nil, fmt.Errorf("loan %s due date: %w", r.ID, err)
		}
		loan := Loan{
			ID:         r.ID,
			BookID:     r.BookID,
			BorrowerID: r.BorrowerID,
			BorrowDate: borrowed,
			DueDate:    due,
			Status:     LoanStatus(r.Status),
		}
		if r.ReturnDate.Valid {
			returned, err := parseDate(r.ReturnDate.String)
			if err != nil {
				return nil, fmt.Errorf("loan %s return date: %w", r.ID, err)
			}
			loan.ReturnDate = returned
		}
		st.Ledger.restoreLoan(loan)
	}

	var reservations []reservationRow
	if err := s.db.Select(&reservations, `SELECT * FROM reservations ORDER BY book_id, position`); err != nil {
		return nil, fmt.Errorf("load reservations: %w", err)
	}
	for _, r := range reservations {
		placed, err := parseDate(r.PlacedAt)
		if err != nil {
			return nil, fmt.Errorf("reservation %s/%s placed at: %w", r.BookID, r.MemberID, err)
		}
		st.Reservations.restoreReservation(Reservation{
			BookID:   r.BookID,
			MemberID: r.MemberID,
			PlacedAt: placed,
		})
	}

	return st, nil
}

// SaveState writes the full snapshot in one transaction, replacing the
// previous contents.
func (s *Store) SaveState(st *State) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"reservations", "loans", "books", "members"} {
		if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for i, b := range st.Catalog.ListBooks() {
		_, err := tx.NamedExec(`INSERT INTO books
            (id, title, author, isbn, category, published_year, description, cover_url, available, position)
            VALUES (:id, :title, :author, :isbn, :category, :published_year, :description, :cover_url, :available, :position)`,
			bookRow{
				ID: b.ID, Title: b.Title, Author: b.Author, ISBN: b.ISBN, Category: b.Category,
				PublishedYear: b.PublishedYear, Description: b.Description, CoverURL: b.CoverURL,
				Available: b.Available, Position: i,
			})
		if err != nil {
			return fmt.Errorf("save book %s: %w", b.ID, err)
		}
	}

	for i, m := range st.Members.ListMembers() {
		_, err := tx.NamedExec(`INSERT INTO members
            (id, name, email, role, status, join_date, password_hash, position)
            VALUES (:id, :name, :email, :role, :status, :join_date, :password_hash, :position)`,
			memberRow{
				ID: m.ID, Name: m.Name, Email: m.Email, Role: string(m.Role), Status: string(m.Status),
				JoinDate: formatDate(m.JoinDate), PasswordHash: m.PasswordHash, Position: i,
			})
		if err != nil {
			return fmt.Errorf("save member %s: %w", m.ID, err)
		}
	}

	for i, loan := range st.Ledger.listStored() {
		row := loanRow{
			ID: loan.ID, BookID: loan.BookID, BorrowerID: loan.BorrowerID,
			BorrowDate: formatDate(loan.BorrowDate), DueDate: formatDate(loan.DueDate),
			Status: string(loan.Status), Position: i,
		}
		if !loan.ReturnDate.IsZero() {
			row.ReturnDate = sql.NullString{String: formatDate(loan.ReturnDate), Valid: true}
		}
		_, err := tx.NamedExec(`INSERT INTO loans
            (id, book_id, borrower_id, borrow_date, due_date, return_date, status, position)
            VALUES (:id, :book_id, :borrower_id, :borrow_date, :due_date, :return_date, :status, :position)`, row)
		if err != nil {
			return fmt.Errorf("save loan %s: %w", loan.ID, err)
		}
	}

	// Position is the place within the book's queue, so FIFO order survives
	// the round trip even when two claims share a timestamp.
	queuePos := make(map[string]int)
	for _, r := range st.Reservations.All() {
		pos := queuePos[r.BookID]
		queuePos[r.BookID] = pos + 1
		_, err := tx.NamedExec(`INSERT INTO reservations (book_id, member_id, placed_at, position)
            VALUES (:book_id, :member_id, :placed_at, :position)`,
			reservationRow{BookID: r.BookID, MemberID: r.MemberID, PlacedAt: formatDate(r.PlacedAt), Position: pos})
		if err != nil {
			return fmt.Errorf("save reservation %s/%s: %w", r.BookID, r.MemberID, err)
		}
	}

	return tx.Commit()
}

func formatDate(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func parseDate(s string) (time.Time, error) { return time.Parse(time.RFC3339, s) }
