/*
errors.go - Centralized error types for the circulation engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The API layer maps these onto HTTP statuses.

ERROR CATEGORIES:
  1. NotFound    - referenced member/book/borrowing/penalty absent
  2. OutOfStock  - no available copies at issue time
  3. InvalidState- operation on a record not in an eligible state
  4. Denied      - issue preconditions not met (inactive member,
                   unpaid penalties, loan limit)
  5. Duplicate   - catalog uniqueness violations (ISBN, email)

USAGE:
  if errors.Is(err, circulation.ErrOutOfStock) { ... }

  var inv *circulation.InvalidStateError
  if errors.As(err, &inv) { log.Println(inv.Current) }

SEE ALSO:
  - engine.go: Produces these errors
  - api/handlers.go: Maps them to HTTP statuses
*/
package circulation

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrBookNotFound is returned when a referenced book doesn't exist.
	ErrBookNotFound = errors.New("book not found")

	// ErrMemberNotFound is returned when a referenced member doesn't exist.
	ErrMemberNotFound = errors.New("member not found")

	// ErrBorrowingNotFound is returned when a referenced borrowing doesn't exist.
	ErrBorrowingNotFound = errors.New("borrowing not found")

	// ErrPenaltyNotFound is returned when a referenced penalty doesn't exist.
	ErrPenaltyNotFound = errors.New("penalty not found")

	// ErrOutOfStock is returned when a book has no available copies at issue
	// time. Under contention for the last copy exactly one request succeeds;
	// the others receive this error, never a silent retry.
	ErrOutOfStock = errors.New("no available copies")

	// ErrInvalidState is returned when an operation targets a record that is
	// not in an eligible state (returning a returned loan, paying a paid
	// penalty, ...).
	ErrInvalidState = errors.New("record not in an eligible state")

	// ErrMemberInactive is returned when issuing to a deactivated member.
	ErrMemberInactive = errors.New("member is not active")

	// ErrUnpaidPenalties is returned when the member has outstanding fines.
	ErrUnpaidPenalties = errors.New("member has unpaid penalties")

	// ErrLoanLimitReached is returned when the member already holds the
	// maximum number of concurrent loans.
	ErrLoanLimitReached = errors.New("concurrent loan limit reached")

	// ErrDuplicateISBN is returned when creating a book with an ISBN that
	// already exists in the catalog.
	ErrDuplicateISBN = errors.New("duplicate ISBN")

	// ErrDuplicateEmail is returned when registering a member with an email
	// that is already registered.
	ErrDuplicateEmail = errors.New("duplicate email")

	// ErrHasActiveLoans is returned when deleting a book that still has
	// borrowed or late loans.
	ErrHasActiveLoans = errors.New("book has active loans")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidStateError reports an ineligible state transition attempt.
type InvalidStateError struct {
	Op      string // operation attempted, e.g. "return", "pay"
	Record  string // "borrowing" or "penalty"
	ID      string
	Current string // the record's current status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s %s %s: status is %q", e.Op, e.Record, e.ID, e.Current)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// LoanDeniedError reports why a loan could not be issued, beyond stock.
type LoanDeniedError struct {
	MemberID MemberID
	Reason   error // one of the precondition sentinels
	Detail   string
}

func (e *LoanDeniedError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("loan denied for member %s: %s", e.MemberID, e.Detail)
	}
	return fmt.Sprintf("loan denied for member %s: %v", e.MemberID, e.Reason)
}

func (e *LoanDeniedError) Unwrap() error { return e.Reason }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBookNotFound) ||
		errors.Is(err, ErrMemberNotFound) ||
		errors.Is(err, ErrBorrowingNotFound) ||
		errors.Is(err, ErrPenaltyNotFound)
}

// IsClientError returns true if the error is due to invalid client input or
// a precondition the caller can observe, rather than an internal failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrOutOfStock) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrMemberInactive) ||
		errors.Is(err, ErrUnpaidPenalties) ||
		errors.Is(err, ErrLoanLimitReached) ||
		errors.Is(err, ErrDuplicateISBN) ||
		errors.Is(err, ErrDuplicateEmail) ||
		errors.Is(err, ErrHasActiveLoans)
}

// IsConflict returns true for state conflicts that map to HTTP 409.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrOutOfStock) ||
		errors.Is(err, ErrDuplicateISBN) ||
		errors.Is(err, ErrDuplicateEmail) ||
		errors.Is(err, ErrHasActiveLoans)
}
