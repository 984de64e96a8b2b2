/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements circulation.Store, circulation.TxStore and circulation.StatsStore
  using SQLite. In production, the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

KEY TABLES:
  members:    Member records with denormalized borrow counters
  books:      Catalog titles with copy counters
  borrowings: The loan ledger
  penalties:  The penalty ledger (amounts stored as decimal strings)

CONDITIONAL UPDATES:
  The concurrency-critical writes carry their precondition in the WHERE
  clause and report whether a row changed:
  - ReserveCopy:   ... SET available_copies = available_copies - 1
                   WHERE id = ? AND available_copies > 0
  - MarkLate:      ... WHERE id = ? AND status = 'borrowed'
  - MarkReturned:  ... WHERE id = ? AND status IN ('borrowed', 'late')
  Two requests racing for the last copy resolve to exactly one winner;
  a sweep racing a return touches each row at most once.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithTx holds the write lock for the
  whole closure, so the per-operation helpers take a querier (either the
  shared handle or the open *sql.Tx) and never lock themselves.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/library.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := circulation.NewEngine(store, circulation.Config{})

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - circulation/store.go: Interface definitions
  - stats.go: Dashboard projections and the recount repair routine
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/kutubxona/circulation-engine/circulation"
)

// querier abstracts the shared handle and an open transaction so the same
// helpers serve both paths.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements the circulation storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Each connection to :memory: is its own empty database; pin the pool
	// to one so every caller sees the same data.
	if strings.Contains(dbPath, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Members (with denormalized borrow counters)
	CREATE TABLE IF NOT EXISTS members (
		id TEXT PRIMARY KEY,
		full_name TEXT NOT NULL,
		email TEXT NOT NULL,
		phone TEXT,
		address TEXT,
		registration_date TEXT NOT NULL,
		total_borrowed INTEGER NOT NULL DEFAULT 0,
		current_borrowed INTEGER NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_members_email
		ON members(email);

	-- Books (with copy counters)
	CREATE TABLE IF NOT EXISTS books (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		author TEXT NOT NULL,
		isbn TEXT,
		genre TEXT,
		published_year INTEGER,
		total_copies INTEGER NOT NULL DEFAULT 1,
		available_copies INTEGER NOT NULL DEFAULT 1,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	-- ISBN is optional but unique when present
	CREATE UNIQUE INDEX IF NOT EXISTS idx_books_isbn
		ON books(isbn) WHERE isbn IS NOT NULL AND isbn != '';
	CREATE INDEX IF NOT EXISTS idx_books_genre
		ON books(genre);

	-- Borrowings (loan ledger)
	CREATE TABLE IF NOT EXISTS borrowings (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL,
		book_id TEXT NOT NULL,
		staff_id TEXT,
		borrow_date TEXT NOT NULL,
		due_date TEXT NOT NULL,
		return_date TEXT,
		status TEXT NOT NULL DEFAULT 'borrowed',
		notes TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_borrowings_member
		ON borrowings(member_id);
	CREATE INDEX IF NOT EXISTS idx_borrowings_book
		ON borrowings(book_id);
	-- The overdue scan (hot path for the sweep)
	CREATE INDEX IF NOT EXISTS idx_borrowings_status_due
		ON borrowings(status, due_date);

	-- Penalties (penalty ledger; amounts stored as decimal strings)
	CREATE TABLE IF NOT EXISTS penalties (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL,
		borrowing_id TEXT,
		amount TEXT NOT NULL,
		reason TEXT,
		issued_date TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'unpaid',
		paid_date TEXT,
		paid_amount TEXT NOT NULL DEFAULT '0',
		notes TEXT,
		created_at TEXT NOT NULL
	);

	-- The unpaid-total lookup guarding every loan issue
	CREATE INDEX IF NOT EXISTS idx_penalties_member_status
		ON penalties(member_id, status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// BOOKS
// =============================================================================

func (s *Store) SaveBook(ctx context.Context, b circulation.Book) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveBook(ctx, s.db, b)
}

func (s *Store) saveBook(ctx context.Context, q querier, b circulation.Book) error {
	query := `
		INSERT INTO books (id, title, author, isbn, genre, published_year,
			total_copies, available_copies, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			author = excluded.author,
			isbn = excluded.isbn,
			genre = excluded.genre,
			published_year = excluded.published_year,
			total_copies = excluded.total_copies,
			available_copies = excluded.available_copies,
			is_active = excluded.is_active
	`

	_, err := q.ExecContext(ctx, query,
		b.ID, b.Title, b.Author, b.ISBN, b.Genre, b.PublishedYear,
		b.TotalCopies, b.AvailableCopies, b.IsActive,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return circulation.ErrDuplicateISBN
		}
		return fmt.Errorf("failed to save book: %w", err)
	}
	return nil
}

func (s *Store) GetBook(ctx context.Context, id circulation.BookID) (*circulation.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getBook(ctx, s.db, id)
}

func (s *Store) getBook(ctx context.Context, q querier, id circulation.BookID) (*circulation.Book, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, title, author, isbn, genre, published_year,
		        total_copies, available_copies, is_active
		 FROM books WHERE id = ?`, id)

	b, err := scanBook(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Store) DeleteBook(ctx context.Context, id circulation.BookID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteBook(ctx, s.db, id)
}

func (s *Store) deleteBook(ctx context.Context, q querier, id circulation.BookID) error {
	_, err := q.ExecContext(ctx, "DELETE FROM books WHERE id = ?", id)
	return err
}

func (s *Store) ListBooks(ctx context.Context, f circulation.BookFilter) ([]circulation.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listBooks(ctx, s.db, f)
}

func (s *Store) listBooks(ctx context.Context, q querier, f circulation.BookFilter) ([]circulation.Book, error) {
	query := `
		SELECT id, title, author, isbn, genre, published_year,
		       total_copies, available_copies, is_active
		FROM books
		WHERE 1=1
	`
	var args []any

	if f.Search != "" {
		query += " AND (title LIKE ? OR author LIKE ? OR isbn LIKE ?)"
		like := "%" + f.Search + "%"
		args = append(args, like, like, like)
	}
	if f.Genre != "" {
		query += " AND genre = ?"
		args = append(args, f.Genre)
	}
	if f.AvailableOnly {
		query += " AND available_copies > 0 AND is_active"
	}
	query += " ORDER BY title ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query books: %w", err)
	}
	defer rows.Close()

	var books []circulation.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, *b)
	}
	return books, rows.Err()
}

// ListGenres returns the distinct genres present in the catalog, for the
// catalog filter dropdown.
func (s *Store) ListGenres(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT genre FROM books
		 WHERE genre IS NOT NULL AND genre != ''
		 ORDER BY genre ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query genres: %w", err)
	}
	defer rows.Close()

	var genres []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		genres = append(genres, g)
	}
	return genres, rows.Err()
}

// =============================================================================
// MEMBERS
// =============================================================================

func (s *Store) SaveMember(ctx context.Context, m circulation.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveMember(ctx, s.db, m)
}

func (s *Store) saveMember(ctx context.Context, q querier, m circulation.Member) error {
	query := `
		INSERT INTO members (id, full_name, email, phone, address, registration_date,
			total_borrowed, current_borrowed, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			full_name = excluded.full_name,
			email = excluded.email,
			phone = excluded.phone,
			address = excluded.address,
			is_active = excluded.is_active
	`

	_, err := q.ExecContext(ctx, query,
		m.ID, m.FullName, m.Email, m.Phone, m.Address,
		m.RegistrationDate.String(),
		m.TotalBorrowed, m.CurrentBorrowed, m.IsActive,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return circulation.ErrDuplicateEmail
		}
		return fmt.Errorf("failed to save member: %w", err)
	}
	return nil
}

func (s *Store) GetMember(ctx context.Context, id circulation.MemberID) (*circulation.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getMember(ctx, s.db, id)
}

func (s *Store) getMember(ctx context.Context, q querier, id circulation.MemberID) (*circulation.Member, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, full_name, email, phone, address, registration_date,
		        total_borrowed, current_borrowed, is_active
		 FROM members WHERE id = ?`, id)

	m, err := scanMember(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) DeleteMember(ctx context.Context, id circulation.MemberID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteMember(ctx, s.db, id)
}

func (s *Store) deleteMember(ctx context.Context, q querier, id circulation.MemberID) error {
	_, err := q.ExecContext(ctx, "DELETE FROM members WHERE id = ?", id)
	return err
}

func (s *Store) ListMembers(ctx context.Context, f circulation.MemberFilter) ([]circulation.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listMembers(ctx, s.db, f)
}

func (s *Store) listMembers(ctx context.Context, q querier, f circulation.MemberFilter) ([]circulation.Member, error) {
	query := `
		SELECT id, full_name, email, phone, address, registration_date,
		       total_borrowed, current_borrowed, is_active
		FROM members
		WHERE 1=1
	`
	var args []any

	if f.Search != "" {
		query += " AND (full_name LIKE ? OR email LIKE ? OR phone LIKE ?)"
		like := "%" + f.Search + "%"
		args = append(args, like, like, like)
	}
	if f.ActiveOnly {
		query += " AND is_active"
	}
	query += " ORDER BY full_name ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()

	var members []circulation.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

// =============================================================================
// COUNTERS (conditional updates)
// =============================================================================

func (s *Store) ReserveCopy(ctx context.Context, id circulation.BookID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reserveCopy(ctx, s.db, id)
}

func (s *Store) reserveCopy(ctx context.Context, q querier, id circulation.BookID) error {
	res, err := q.ExecContext(ctx,
		`UPDATE books SET available_copies = available_copies - 1
		 WHERE id = ? AND available_copies > 0`, id)
	if err != nil {
		return fmt.Errorf("failed to reserve copy: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// The condition failed: the last copy went to someone else.
		return circulation.ErrOutOfStock
	}
	return nil
}

func (s *Store) ReleaseCopy(ctx context.Context, id circulation.BookID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releaseCopy(ctx, s.db, id)
}

func (s *Store) releaseCopy(ctx context.Context, q querier, id circulation.BookID) error {
	_, err := q.ExecContext(ctx,
		`UPDATE books SET available_copies = MIN(available_copies + 1, total_copies)
		 WHERE id = ?`, id)
	return err
}

func (s *Store) RetireCopy(ctx context.Context, id circulation.BookID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retireCopy(ctx, s.db, id)
}

func (s *Store) retireCopy(ctx context.Context, q querier, id circulation.BookID) error {
	_, err := q.ExecContext(ctx,
		`UPDATE books SET total_copies = MAX(total_copies - 1, 0)
		 WHERE id = ?`, id)
	return err
}

func (s *Store) AdjustMemberLoans(ctx context.Context, id circulation.MemberID, currentDelta, totalDelta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adjustMemberLoans(ctx, s.db, id, currentDelta, totalDelta)
}

func (s *Store) adjustMemberLoans(ctx context.Context, q querier, id circulation.MemberID, currentDelta, totalDelta int) error {
	_, err := q.ExecContext(ctx,
		`UPDATE members SET
			current_borrowed = MAX(current_borrowed + ?, 0),
			total_borrowed = total_borrowed + ?
		 WHERE id = ?`, currentDelta, totalDelta, id)
	return err
}

// =============================================================================
// BORROWINGS (loan ledger)
// =============================================================================

const borrowingColumns = `id, member_id, book_id, staff_id, borrow_date, due_date,
	return_date, status, notes`

func (s *Store) InsertBorrowing(ctx context.Context, b circulation.Borrowing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertBorrowing(ctx, s.db, b)
}

func (s *Store) insertBorrowing(ctx context.Context, q querier, b circulation.Borrowing) error {
	var returnDate *string
	if b.ReturnDate != nil {
		d := b.ReturnDate.String()
		returnDate = &d
	}

	_, err := q.ExecContext(ctx,
		`INSERT INTO borrowings (id, member_id, book_id, staff_id, borrow_date,
			due_date, return_date, status, notes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.MemberID, b.BookID, nullString(b.StaffID),
		b.BorrowDate.String(), b.DueDate.String(), returnDate,
		b.Status, b.Notes,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert borrowing: %w", err)
	}
	return nil
}

func (s *Store) GetBorrowing(ctx context.Context, id circulation.BorrowID) (*circulation.Borrowing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getBorrowing(ctx, s.db, id)
}

func (s *Store) getBorrowing(ctx context.Context, q querier, id circulation.BorrowID) (*circulation.Borrowing, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+borrowingColumns+" FROM borrowings WHERE id = ?", id)

	b, err := scanBorrowing(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Store) MarkLate(ctx context.Context, id circulation.BorrowID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markLate(ctx, s.db, id)
}

func (s *Store) markLate(ctx context.Context, q querier, id circulation.BorrowID) (bool, error) {
	res, err := q.ExecContext(ctx,
		"UPDATE borrowings SET status = 'late' WHERE id = ? AND status = 'borrowed'", id)
	if err != nil {
		return false, fmt.Errorf("failed to mark borrowing late: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) MarkReturned(ctx context.Context, id circulation.BorrowID, returned circulation.Date, notes string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markReturned(ctx, s.db, id, returned, notes)
}

func (s *Store) markReturned(ctx context.Context, q querier, id circulation.BorrowID, returned circulation.Date, notes string) (bool, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE borrowings SET
			status = 'returned',
			return_date = ?,
			notes = CASE WHEN ? = '' THEN notes ELSE ? END
		 WHERE id = ? AND status IN ('borrowed', 'late')`,
		returned.String(), notes, notes, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark borrowing returned: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) MarkLost(ctx context.Context, id circulation.BorrowID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markLost(ctx, s.db, id)
}

func (s *Store) markLost(ctx context.Context, q querier, id circulation.BorrowID) (bool, error) {
	res, err := q.ExecContext(ctx,
		"UPDATE borrowings SET status = 'lost' WHERE id = ? AND status IN ('borrowed', 'late')", id)
	if err != nil {
		return false, fmt.Errorf("failed to mark borrowing lost: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) ListBorrowings(ctx context.Context, f circulation.BorrowingFilter) ([]circulation.Borrowing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listBorrowings(ctx, s.db, f)
}

func (s *Store) listBorrowings(ctx context.Context, q querier, f circulation.BorrowingFilter) ([]circulation.Borrowing, error) {
	query := "SELECT " + borrowingColumns + " FROM borrowings WHERE 1=1"
	var args []any

	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, f.Status)
	}
	if f.MemberID != "" {
		query += " AND member_id = ?"
		args = append(args, f.MemberID)
	}
	if f.BookID != "" {
		query += " AND book_id = ?"
		args = append(args, f.BookID)
	}
	query += " ORDER BY borrow_date DESC, created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query borrowings: %w", err)
	}
	defer rows.Close()

	var borrowings []circulation.Borrowing
	for rows.Next() {
		b, err := scanBorrowing(rows)
		if err != nil {
			return nil, err
		}
		borrowings = append(borrowings, *b)
	}
	return borrowings, rows.Err()
}

func (s *Store) FindOverdue(ctx context.Context, asOf circulation.Date) ([]circulation.Borrowing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findOverdue(ctx, s.db, asOf)
}

func (s *Store) findOverdue(ctx context.Context, q querier, asOf circulation.Date) ([]circulation.Borrowing, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+borrowingColumns+` FROM borrowings
		 WHERE status = 'borrowed' AND due_date < ? AND return_date IS NULL
		 ORDER BY due_date ASC`, asOf.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query overdue borrowings: %w", err)
	}
	defer rows.Close()

	var overdue []circulation.Borrowing
	for rows.Next() {
		b, err := scanBorrowing(rows)
		if err != nil {
			return nil, err
		}
		overdue = append(overdue, *b)
	}
	return overdue, rows.Err()
}

func (s *Store) CountActiveByBook(ctx context.Context, id circulation.BookID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countActiveByBook(ctx, s.db, id)
}

func (s *Store) countActiveByBook(ctx context.Context, q querier, id circulation.BookID) (int, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM borrowings WHERE book_id = ? AND status IN ('borrowed', 'late')",
		id,
	).Scan(&count)
	return count, err
}

// =============================================================================
// PENALTIES (penalty ledger)
// =============================================================================

const penaltyColumns = `id, member_id, borrowing_id, amount, reason, issued_date,
	status, paid_date, paid_amount, notes`

func (s *Store) InsertPenalty(ctx context.Context, p circulation.Penalty) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertPenalty(ctx, s.db, p)
}

func (s *Store) insertPenalty(ctx context.Context, q querier, p circulation.Penalty) error {
	var paidDate *string
	if p.PaidDate != nil {
		d := p.PaidDate.String()
		paidDate = &d
	}

	_, err := q.ExecContext(ctx,
		`INSERT INTO penalties (id, member_id, borrowing_id, amount, reason,
			issued_date, status, paid_date, paid_amount, notes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.MemberID, nullString(string(p.BorrowID)),
		p.Amount.String(), p.Reason, p.IssuedDate.String(),
		p.Status, paidDate, p.PaidAmount.String(), p.Notes,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert penalty: %w", err)
	}
	return nil
}

func (s *Store) GetPenalty(ctx context.Context, id circulation.PenaltyID) (*circulation.Penalty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getPenalty(ctx, s.db, id)
}

func (s *Store) getPenalty(ctx context.Context, q querier, id circulation.PenaltyID) (*circulation.Penalty, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+penaltyColumns+" FROM penalties WHERE id = ?", id)

	p, err := scanPenalty(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) MarkPenaltyPaid(ctx context.Context, id circulation.PenaltyID, paid circulation.Date, amount decimal.Decimal, notes string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markPenaltyPaid(ctx, s.db, id, paid, amount, notes)
}

func (s *Store) markPenaltyPaid(ctx context.Context, q querier, id circulation.PenaltyID, paid circulation.Date, amount decimal.Decimal, notes string) (bool, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE penalties SET
			status = 'paid',
			paid_date = ?,
			paid_amount = ?,
			notes = CASE WHEN ? = '' THEN notes ELSE ? END
		 WHERE id = ? AND status = 'unpaid'`,
		paid.String(), amount.String(), notes, notes, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark penalty paid: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) MarkPenaltyWaived(ctx context.Context, id circulation.PenaltyID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markPenaltyWaived(ctx, s.db, id)
}

func (s *Store) markPenaltyWaived(ctx context.Context, q querier, id circulation.PenaltyID) (bool, error) {
	res, err := q.ExecContext(ctx,
		"UPDATE penalties SET status = 'waived' WHERE id = ? AND status = 'unpaid'", id)
	if err != nil {
		return false, fmt.Errorf("failed to waive penalty: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) ListPenalties(ctx context.Context, f circulation.PenaltyFilter) ([]circulation.Penalty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listPenalties(ctx, s.db, f)
}

func (s *Store) listPenalties(ctx context.Context, q querier, f circulation.PenaltyFilter) ([]circulation.Penalty, error) {
	query := "SELECT " + penaltyColumns + " FROM penalties WHERE 1=1"
	var args []any

	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, f.Status)
	}
	if f.MemberID != "" {
		query += " AND member_id = ?"
		args = append(args, f.MemberID)
	}
	query += " ORDER BY issued_date DESC, created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query penalties: %w", err)
	}
	defer rows.Close()

	var penalties []circulation.Penalty
	for rows.Next() {
		p, err := scanPenalty(rows)
		if err != nil {
			return nil, err
		}
		penalties = append(penalties, *p)
	}
	return penalties, rows.Err()
}

func (s *Store) UnpaidPenaltyTotal(ctx context.Context, id circulation.MemberID) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unpaidPenaltyTotal(ctx, s.db, id)
}

// unpaidPenaltyTotal sums in Go: amounts are stored as decimal strings and
// SQLite SUM would coerce them to floats.
func (s *Store) unpaidPenaltyTotal(ctx context.Context, q querier, id circulation.MemberID) (decimal.Decimal, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT amount FROM penalties WHERE member_id = ? AND status = 'unpaid'", id)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query unpaid penalties: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, err
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return decimal.Zero, fmt.Errorf("bad penalty amount %q: %w", amount, err)
		}
		total = total.Add(d)
	}
	return total, rows.Err()
}

func (s *Store) CountMemberPenalties(ctx context.Context, id circulation.MemberID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countMemberPenalties(ctx, s.db, id)
}

func (s *Store) countMemberPenalties(ctx context.Context, q querier, id circulation.MemberID) (int, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM penalties WHERE member_id = ? AND status != 'waived'",
		id,
	).Scan(&count)
	return count, err
}

// =============================================================================
// TRANSACTIONAL STORE (circulation.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction. The write lock
// is held for the whole closure; the inner store runs against the open
// *sql.Tx without locking again.
func (s *Store) WithTx(ctx context.Context, fn func(store circulation.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	txStore := &txStore{tx: sqlTx, parent: s}
	if err := fn(txStore); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) SaveBook(ctx context.Context, b circulation.Book) error {
	return ts.parent.saveBook(ctx, ts.tx, b)
}

func (ts *txStore) GetBook(ctx context.Context, id circulation.BookID) (*circulation.Book, error) {
	return ts.parent.getBook(ctx, ts.tx, id)
}

func (ts *txStore) DeleteBook(ctx context.Context, id circulation.BookID) error {
	return ts.parent.deleteBook(ctx, ts.tx, id)
}

func (ts *txStore) ListBooks(ctx context.Context, f circulation.BookFilter) ([]circulation.Book, error) {
	return ts.parent.listBooks(ctx, ts.tx, f)
}

func (ts *txStore) SaveMember(ctx context.Context, m circulation.Member) error {
	return ts.parent.saveMember(ctx, ts.tx, m)
}

func (ts *txStore) GetMember(ctx context.Context, id circulation.MemberID) (*circulation.Member, error) {
	return ts.parent.getMember(ctx, ts.tx, id)
}

func (ts *txStore) DeleteMember(ctx context.Context, id circulation.MemberID) error {
	return ts.parent.deleteMember(ctx, ts.tx, id)
}

func (ts *txStore) ListMembers(ctx context.Context, f circulation.MemberFilter) ([]circulation.Member, error) {
	return ts.parent.listMembers(ctx, ts.tx, f)
}

func (ts *txStore) ReserveCopy(ctx context.Context, id circulation.BookID) error {
	return ts.parent.reserveCopy(ctx, ts.tx, id)
}

func (ts *txStore) ReleaseCopy(ctx context.Context, id circulation.BookID) error {
	return ts.parent.releaseCopy(ctx, ts.tx, id)
}

func (ts *txStore) RetireCopy(ctx context.Context, id circulation.BookID) error {
	return ts.parent.retireCopy(ctx, ts.tx, id)
}

func (ts *txStore) AdjustMemberLoans(ctx context.Context, id circulation.MemberID, currentDelta, totalDelta int) error {
	return ts.parent.adjustMemberLoans(ctx, ts.tx, id, currentDelta, totalDelta)
}

func (ts *txStore) InsertBorrowing(ctx context.Context, b circulation.Borrowing) error {
	return ts.parent.insertBorrowing(ctx, ts.tx, b)
}

func (ts *txStore) GetBorrowing(ctx context.Context, id circulation.BorrowID) (*circulation.Borrowing, error) {
	return ts.parent.getBorrowing(ctx, ts.tx, id)
}

func (ts *txStore) MarkLate(ctx context.Context, id circulation.BorrowID) (bool, error) {
	return ts.parent.markLate(ctx, ts.tx, id)
}

func (ts *txStore) MarkReturned(ctx context.Context, id circulation.BorrowID, returned circulation.Date, notes string) (bool, error) {
	return ts.parent.markReturned(ctx, ts.tx, id, returned, notes)
}

func (ts *txStore) MarkLost(ctx context.Context, id circulation.BorrowID) (bool, error) {
	return ts.parent.markLost(ctx, ts.tx, id)
}

func (ts *txStore) ListBorrowings(ctx context.Context, f circulation.BorrowingFilter) ([]circulation.Borrowing, error) {
	return ts.parent.listBorrowings(ctx, ts.tx, f)
}

func (ts *txStore) FindOverdue(ctx context.Context, asOf circulation.Date) ([]circulation.Borrowing, error) {
	return ts.parent.findOverdue(ctx, ts.tx, asOf)
}

func (ts *txStore) CountActiveByBook(ctx context.Context, id circulation.BookID) (int, error) {
	return ts.parent.countActiveByBook(ctx, ts.tx, id)
}

func (ts *txStore) InsertPenalty(ctx context.Context, p circulation.Penalty) error {
	return ts.parent.insertPenalty(ctx, ts.tx, p)
}

func (ts *txStore) GetPenalty(ctx context.Context, id circulation.PenaltyID) (*circulation.Penalty, error) {
	return ts.parent.getPenalty(ctx, ts.tx, id)
}

func (ts *txStore) MarkPenaltyPaid(ctx context.Context, id circulation.PenaltyID, paid circulation.Date, amount decimal.Decimal, notes string) (bool, error) {
	return ts.parent.markPenaltyPaid(ctx, ts.tx, id, paid, amount, notes)
}

func (ts *txStore) MarkPenaltyWaived(ctx context.Context, id circulation.PenaltyID) (bool, error) {
	return ts.parent.markPenaltyWaived(ctx, ts.tx, id)
}

func (ts *txStore) ListPenalties(ctx context.Context, f circulation.PenaltyFilter) ([]circulation.Penalty, error) {
	return ts.parent.listPenalties(ctx, ts.tx, f)
}

func (ts *txStore) UnpaidPenaltyTotal(ctx context.Context, id circulation.MemberID) (decimal.Decimal, error) {
	return ts.parent.unpaidPenaltyTotal(ctx, ts.tx, id)
}

func (ts *txStore) CountMemberPenalties(ctx context.Context, id circulation.MemberID) (int, error) {
	return ts.parent.countMemberPenalties(ctx, ts.tx, id)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"penalties", "borrowings", "books", "members"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Row scanning helpers

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(row rowScanner) (*circulation.Book, error) {
	var b circulation.Book
	var isbn, genre sql.NullString
	var publishedYear sql.NullInt64

	err := row.Scan(&b.ID, &b.Title, &b.Author, &isbn, &genre, &publishedYear,
		&b.TotalCopies, &b.AvailableCopies, &b.IsActive)
	if err != nil {
		return nil, err
	}

	b.ISBN = isbn.String
	b.Genre = genre.String
	b.PublishedYear = int(publishedYear.Int64)
	return &b, nil
}

func scanMember(row rowScanner) (*circulation.Member, error) {
	var m circulation.Member
	var phone, address sql.NullString
	var registration string

	err := row.Scan(&m.ID, &m.FullName, &m.Email, &phone, &address, &registration,
		&m.TotalBorrowed, &m.CurrentBorrowed, &m.IsActive)
	if err != nil {
		return nil, err
	}

	m.Phone = phone.String
	m.Address = address.String
	m.RegistrationDate, err = circulation.ParseDate(registration)
	if err != nil {
		return nil, fmt.Errorf("bad registration date %q: %w", registration, err)
	}
	return &m, nil
}

func scanBorrowing(row rowScanner) (*circulation.Borrowing, error) {
	var b circulation.Borrowing
	var staffID, returnDate, notes sql.NullString
	var borrowDate, dueDate string

	err := row.Scan(&b.ID, &b.MemberID, &b.BookID, &staffID,
		&borrowDate, &dueDate, &returnDate, &b.Status, &notes)
	if err != nil {
		return nil, err
	}

	b.StaffID = staffID.String
	b.Notes = notes.String
	b.BorrowDate, err = circulation.ParseDate(borrowDate)
	if err != nil {
		return nil, fmt.Errorf("bad borrow date %q: %w", borrowDate, err)
	}
	b.DueDate, err = circulation.ParseDate(dueDate)
	if err != nil {
		return nil, fmt.Errorf("bad due date %q: %w", dueDate, err)
	}
	if returnDate.Valid {
		d, err := circulation.ParseDate(returnDate.String)
		if err != nil {
			return nil, fmt.Errorf("bad return date %q: %w", returnDate.String, err)
		}
		b.ReturnDate = &d
	}
	return &b, nil
}

func scanPenalty(row rowScanner) (*circulation.Penalty, error) {
	var p circulation.Penalty
	var borrowID, reason, paidDate, notes sql.NullString
	var amount, paidAmount, issuedDate string

	err := row.Scan(&p.ID, &p.MemberID, &borrowID, &amount, &reason,
		&issuedDate, &p.Status, &paidDate, &paidAmount, &notes)
	if err != nil {
		return nil, err
	}

	p.BorrowID = circulation.BorrowID(borrowID.String)
	p.Reason = reason.String
	p.Notes = notes.String
	p.IssuedDate, err = circulation.ParseDate(issuedDate)
	if err != nil {
		return nil, fmt.Errorf("bad issued date %q: %w", issuedDate, err)
	}
	if paidDate.Valid {
		d, err := circulation.ParseDate(paidDate.String)
		if err != nil {
			return nil, fmt.Errorf("bad paid date %q: %w", paidDate.String, err)
		}
		p.PaidDate = &d
	}

	p.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("bad penalty amount %q: %w", amount, err)
	}
	p.PaidAmount, err = decimal.NewFromString(paidAmount)
	if err != nil {
		return nil, fmt.Errorf("bad paid amount %q: %w", paidAmount, err)
	}
	return &p, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
