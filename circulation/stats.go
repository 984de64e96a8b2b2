/*
stats.go - Read-only dashboard projections

PURPOSE:
  Types for the statistics aggregator: dashboard counts, popular-book and
  active-member rankings, per-member statistics, and the joined borrowing/
  penalty listings the dashboard tables render.

  These are pure projections recomputed on demand from the catalog, loan
  and penalty rows. Nothing here is cached and nothing here mutates state.

SEE ALSO:
  - store.go: StatsStore interface
  - store/sqlite/stats.go: SQL implementations
*/
package circulation

import "github.com/shopspring/decimal"

// Stats is the dashboard summary card.
type Stats struct {
	TotalBooks       int             // active books
	TotalMembers     int             // active members
	ActiveBorrowings int             // status = borrowed
	LateBorrowings   int             // status = late
	TotalPenalties   decimal.Decimal // sum of all penalty amounts
	UnpaidPenalties  decimal.Decimal // sum of unpaid penalty amounts
}

// PopularBook ranks a book by how often it has been borrowed. Books that
// were never borrowed appear with BorrowCount zero; ties keep catalog
// insertion order.
type PopularBook struct {
	BookID      BookID
	Title       string
	Author      string
	Genre       string
	BorrowCount int
}

// MemberActivity ranks a member by lifetime borrow count, with their
// outstanding fine total attached.
type MemberActivity struct {
	MemberID        MemberID
	FullName        string
	Email           string
	TotalBorrowed   int
	CurrentBorrowed int
	UnpaidPenalties decimal.Decimal
}

// MemberStatistics is the per-member drill-down.
type MemberStatistics struct {
	MemberID           MemberID
	FullName           string
	TotalBorrowed      int
	CurrentBorrowed    int
	TotalPenalties     int
	UnpaidPenalties    int
	TotalPenaltyAmount decimal.Decimal
	LateReturns        int
}

// BorrowingDetail is a borrowing joined with display names. DaysLate is set
// only while the loan is overdue and unreturned.
type BorrowingDetail struct {
	Borrowing
	MemberName string
	BookTitle  string
	DaysLate   *int
}

// PenaltyDetail is a penalty joined with the member's display name.
type PenaltyDetail struct {
	Penalty
	MemberName string
}
