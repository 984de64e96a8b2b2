/*
Package circulation provides the core library circulation engine.

PURPOSE:
  This package contains the domain types and logic for the borrowing
  lifecycle and penalty accrual: issuing and returning loans, overdue
  reclassification, automatic fine generation, and the derived catalog
  counters that track copy availability.

KEY CONCEPTS IN THIS FILE (types.go):
  - Member/Book: Catalog records carrying denormalized counters
  - Borrowing: A loan of one book copy to one member for a bounded period
  - Penalty: A monetary charge against a member, normally fine-generated
  - Date: A calendar day (the engine works at day granularity)

DESIGN PRINCIPLES:
  1. Counters are derived: available_copies and current_borrowed are kept
     consistent transactionally with the Borrowing rows that define them,
     and are independently recomputable (see Store.RecountCatalog).
  2. Precision: Uses decimal.Decimal for money to avoid float errors.
  3. Explicit transitions: status changes happen in named operations,
     never as hidden side effects of row mutation.

SEE ALSO:
  - engine.go: Loan and penalty operations
  - fines.go: Fine schedules (flat, progressive)
  - store.go: Persistence interfaces
  - errors.go: Error taxonomy
*/
package circulation

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DATE - Calendar-day granularity used throughout the engine
// =============================================================================

// Date is a calendar day in UTC. Loan due dates, return dates and penalty
// dates all carry day granularity; times of day never matter here.
type Date struct {
	Time time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func Today() Date {
	return DateOf(time.Now().UTC())
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, err
	}
	return DateOf(t), nil
}

func (d Date) AddDays(n int) Date    { return Date{Time: d.Time.AddDate(0, 0, n)} }
func (d Date) Before(o Date) bool    { return d.Time.Before(o.Time) }
func (d Date) After(o Date) bool     { return d.Time.After(o.Time) }
func (d Date) Equal(o Date) bool     { return d.Time.Equal(o.Time) }
func (d Date) IsZero() bool          { return d.Time.IsZero() }
func (d Date) String() string        { return d.Time.Format("2006-01-02") }

// DaysBetween returns the whole days from a to b (negative if b is earlier).
func DaysBetween(a, b Date) int {
	return int(b.Time.Sub(a.Time).Hours() / 24)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type MemberID string
type BookID string
type BorrowID string
type PenaltyID string

// =============================================================================
// MEMBER - Catalog record with borrow counters
// =============================================================================

// Member is a registered library member.
//
// INVARIANT: CurrentBorrowed >= 0 and equals the count of this member's
// borrowings with status in {borrowed, late}. TotalBorrowed only grows.
type Member struct {
	ID               MemberID
	FullName         string
	Email            string
	Phone            string
	Address          string
	RegistrationDate Date
	TotalBorrowed    int
	CurrentBorrowed  int
	IsActive         bool
}

// =============================================================================
// BOOK - Catalog record with copy counters
// =============================================================================

// Book is a catalog title with a number of physical copies.
//
// INVARIANT: 0 <= AvailableCopies <= TotalCopies, and AvailableCopies equals
// TotalCopies minus the count of borrowings for this book with status in
// {borrowed, late}.
type Book struct {
	ID              BookID
	Title           string
	Author          string
	ISBN            string
	Genre           string
	PublishedYear   int
	TotalCopies     int
	AvailableCopies int
	IsActive        bool
}

// =============================================================================
// BORROWING - One book copy held by one member
// =============================================================================

type BorrowStatus string

const (
	StatusBorrowed BorrowStatus = "borrowed"
	StatusReturned BorrowStatus = "returned"
	StatusLate     BorrowStatus = "late"
	StatusLost     BorrowStatus = "lost"
)

// Terminal reports whether no further transition is allowed from s.
// Note that "late" is NOT terminal: a late loan can still be returned.
func (s BorrowStatus) Terminal() bool {
	return s == StatusReturned || s == StatusLost
}

// Active reports whether the loan still holds a copy (counts against
// AvailableCopies and CurrentBorrowed).
func (s BorrowStatus) Active() bool {
	return s == StatusBorrowed || s == StatusLate
}

// Borrowing records one loan. StaffID is the opaque identity of the issuing
// staff member, passed through from the caller without interpretation.
type Borrowing struct {
	ID         BorrowID
	MemberID   MemberID
	BookID     BookID
	StaffID    string
	BorrowDate Date
	DueDate    Date
	ReturnDate *Date
	Status     BorrowStatus
	Notes      string
}

// DaysLate returns how many whole days past due the loan is as of the given
// day (or as of its return date, once returned). Never negative.
func (b Borrowing) DaysLate(asOf Date) int {
	end := asOf
	if b.ReturnDate != nil {
		end = *b.ReturnDate
	}
	late := DaysBetween(b.DueDate, end)
	if late < 0 {
		return 0
	}
	return late
}

// Overdue reports whether the due date has passed without a return.
func (b Borrowing) Overdue(asOf Date) bool {
	return b.ReturnDate == nil && b.DueDate.Before(asOf)
}

// =============================================================================
// PENALTY - Monetary charge against a member
// =============================================================================

type PenaltyStatus string

const (
	PenaltyUnpaid PenaltyStatus = "unpaid"
	PenaltyPaid   PenaltyStatus = "paid"
	PenaltyWaived PenaltyStatus = "waived"
)

func (s PenaltyStatus) Terminal() bool {
	return s == PenaltyPaid || s == PenaltyWaived
}

// Penalty is a fine. BorrowID is set when the fine was generated from a
// late loan and empty for manually issued penalties.
type Penalty struct {
	ID         PenaltyID
	MemberID   MemberID
	BorrowID   BorrowID
	Amount     decimal.Decimal
	Reason     string
	IssuedDate Date
	Status     PenaltyStatus
	PaidDate   *Date
	PaidAmount decimal.Decimal
	Notes      string
}

// =============================================================================
// FILTERS - Listing/search parameters
// =============================================================================

type BookFilter struct {
	Search        string // matches title, author or ISBN
	Genre         string
	AvailableOnly bool
	Limit         int
}

type MemberFilter struct {
	Search     string // matches full name, email or phone
	ActiveOnly bool
	Limit      int
}

type BorrowingFilter struct {
	Status   BorrowStatus
	MemberID MemberID
	BookID   BookID
	Limit    int
}

type PenaltyFilter struct {
	Status   PenaltyStatus
	MemberID MemberID
	Limit    int
}
