/*
store.go - Persistence interfaces for the circulation engine

PURPOSE:
  Defines the interface between the domain logic and the database. The
  engine never touches SQL; it composes these operations inside a single
  transaction via TxStore.WithTx.

KEY INTERFACES:
  Store:      Catalog, borrowing and penalty persistence
  TxStore:    Transactional scope (atomic multi-row updates)
  StatsStore: Read-only projections and the recount repair routine

COUNTER CONTRACT:
  The conditional counter methods are the concurrency core:
  - ReserveCopy decrements available_copies only while it is > 0 and
    returns ErrOutOfStock otherwise. Two concurrent reservations of the
    last copy therefore resolve to exactly one winner.
  - MarkLate / MarkReturned / MarkLost update a borrowing only when its
    prior status is eligible and report whether a row actually changed,
    so a sweep racing a return never double-fires.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite store (also used in-memory by tests)

SEE ALSO:
  - engine.go: Composes these operations
  - store/sqlite/sqlite.go: Concrete implementation
*/
package circulation

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE - Catalog, loan ledger and penalty ledger persistence
// =============================================================================

// Store handles persistence of catalog records, borrowings and penalties.
// Lookup methods return (nil, nil) when the record does not exist; the
// engine translates that into the NotFound sentinels.
type Store interface {
	// Catalog: books
	SaveBook(ctx context.Context, b Book) error
	GetBook(ctx context.Context, id BookID) (*Book, error)
	DeleteBook(ctx context.Context, id BookID) error
	ListBooks(ctx context.Context, f BookFilter) ([]Book, error)

	// Catalog: members
	SaveMember(ctx context.Context, m Member) error
	GetMember(ctx context.Context, id MemberID) (*Member, error)
	DeleteMember(ctx context.Context, id MemberID) error
	ListMembers(ctx context.Context, f MemberFilter) ([]Member, error)

	// Derived counters. Only the issue/return/lost paths may call these.
	//
	// ReserveCopy atomically checks-and-decrements available_copies,
	// returning ErrOutOfStock when no copy is free.
	ReserveCopy(ctx context.Context, id BookID) error
	// ReleaseCopy increments available_copies (bounded by total_copies).
	ReleaseCopy(ctx context.Context, id BookID) error
	// RetireCopy removes a copy permanently (lost loan): total_copies is
	// decremented while available_copies stays put.
	RetireCopy(ctx context.Context, id BookID) error
	// AdjustMemberLoans shifts current_borrowed and total_borrowed.
	AdjustMemberLoans(ctx context.Context, id MemberID, currentDelta, totalDelta int) error

	// Loan ledger
	InsertBorrowing(ctx context.Context, b Borrowing) error
	GetBorrowing(ctx context.Context, id BorrowID) (*Borrowing, error)
	// MarkLate flips borrowed -> late. Returns false if the prior status
	// was no longer "borrowed" (optimistic per-row condition).
	MarkLate(ctx context.Context, id BorrowID) (bool, error)
	// MarkReturned flips {borrowed, late} -> returned, recording the
	// return date and optional notes. Returns false on ineligible status.
	MarkReturned(ctx context.Context, id BorrowID, returned Date, notes string) (bool, error)
	// MarkLost flips {borrowed, late} -> lost. Returns false on ineligible
	// status.
	MarkLost(ctx context.Context, id BorrowID) (bool, error)
	ListBorrowings(ctx context.Context, f BorrowingFilter) ([]Borrowing, error)
	// FindOverdue returns borrowings still in "borrowed" whose due date is
	// strictly before asOf and that have no return date.
	FindOverdue(ctx context.Context, asOf Date) ([]Borrowing, error)
	// CountActiveByBook counts borrowed/late loans referencing a book.
	CountActiveByBook(ctx context.Context, id BookID) (int, error)

	// Penalty ledger
	InsertPenalty(ctx context.Context, p Penalty) error
	GetPenalty(ctx context.Context, id PenaltyID) (*Penalty, error)
	// MarkPenaltyPaid flips unpaid -> paid. Returns false on ineligible
	// status; paid_amount is recorded verbatim.
	MarkPenaltyPaid(ctx context.Context, id PenaltyID, paid Date, amount decimal.Decimal, notes string) (bool, error)
	// MarkPenaltyWaived flips unpaid -> waived.
	MarkPenaltyWaived(ctx context.Context, id PenaltyID) (bool, error)
	ListPenalties(ctx context.Context, f PenaltyFilter) ([]Penalty, error)
	// UnpaidPenaltyTotal sums the member's unpaid penalty amounts.
	UnpaidPenaltyTotal(ctx context.Context, id MemberID) (decimal.Decimal, error)
	// CountMemberPenalties counts a member's non-waived penalties.
	CountMemberPenalties(ctx context.Context, id MemberID) (int, error)
}

// =============================================================================
// TRANSACTIONAL STORE - Atomic multi-row updates
// =============================================================================

// TxStore wraps Store with a transaction scope. Every state transition and
// its paired counter adjustment must run inside one WithTx call: if fn
// returns an error the whole unit rolls back and no partial write is ever
// observable.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// STATS STORE - Read projections, recomputed on demand
// =============================================================================

// StatsStore serves the dashboard projections and the counter repair
// routine. No caching; every call recomputes from the source rows.
type StatsStore interface {
	GetStats(ctx context.Context) (*Stats, error)
	PopularBooks(ctx context.Context, limit int) ([]PopularBook, error)
	ActiveMembers(ctx context.Context, limit int) ([]MemberActivity, error)
	MemberStatistics(ctx context.Context, id MemberID) (*MemberStatistics, error)

	// ListBorrowingDetails joins member and book names onto borrowings.
	ListBorrowingDetails(ctx context.Context, f BorrowingFilter) ([]BorrowingDetail, error)
	// LateBorrowings returns active loans past due as of asOf.
	LateBorrowings(ctx context.Context, asOf Date) ([]BorrowingDetail, error)
	// ListPenaltyDetails joins member names onto penalties.
	ListPenaltyDetails(ctx context.Context, f PenaltyFilter) ([]PenaltyDetail, error)

	// RecountCatalog recomputes available_copies and current_borrowed from
	// the borrowing rows and fixes any drift. Returns the number of rows
	// corrected. Used for repair and consistency verification.
	RecountCatalog(ctx context.Context) (int, error)
}
