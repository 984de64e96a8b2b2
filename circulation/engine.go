/*
engine.go - Borrowing lifecycle and penalty accrual

PURPOSE:
  The Engine owns every state transition in the loan and penalty ledgers
  and the counter adjustments paired with them. Each operation runs as one
  short transaction: the availability check-and-decrement of IssueLoan,
  the transition-plus-counter pair of ReturnLoan, the per-row overdue
  reclassification of SweepOverdue.

TRIGGER REPLACEMENT:
  The original system expressed these reactions as database triggers fired
  implicitly on row mutation. Here they are explicit methods: the
  borrowed -> late transition calls issueLateFine directly, inside the
  same transaction, so the reaction is visible in the call graph and
  testable in isolation.

PENALTY RULE:
  A fine is issued exactly once per borrowing, at the moment its
  borrowed -> late transition is first observed. Usually the sweep
  observes it; a return of an overdue loan the sweep never saw observes
  it too. A loan already "late" never earns a second fine, and lost
  loans earn none.

SEE ALSO:
  - catalog.go: Book/member CRUD and the recount repair entry point
  - fines.go: Fine schedules
  - store.go: The transactional store contract
*/
package circulation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ENGINE
// =============================================================================

// Config carries the tunable policy knobs. Zero values fall back to the
// stock library rules.
type Config struct {
	// LoanDays is the default loan period (14 when zero).
	LoanDays int
	// MaxConcurrentLoans caps a member's live loans (5 when zero).
	MaxConcurrentLoans int
	// Fines computes late fees (flat 5000/day when nil).
	Fines FineSchedule
	// FirstOffenseHalved halves a member's very first fine.
	FirstOffenseHalved bool
	// Now supplies the clock; overridden in tests. time.Now when nil.
	Now func() time.Time
}

// Engine drives the borrowing and penalty ledgers over a transactional
// store.
type Engine struct {
	store TxStore
	cfg   Config
}

func NewEngine(store TxStore, cfg Config) *Engine {
	if cfg.LoanDays <= 0 {
		cfg.LoanDays = 14
	}
	if cfg.MaxConcurrentLoans <= 0 {
		cfg.MaxConcurrentLoans = 5
	}
	if cfg.Fines == nil {
		cfg.Fines = NewFlatRate(DefaultDailyRate)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{store: store, cfg: cfg}
}

func (e *Engine) today() Date {
	return DateOf(e.cfg.Now().UTC())
}

// =============================================================================
// LOAN LEDGER
// =============================================================================

// IssueLoan lends one copy of a book to a member. days <= 0 selects the
// configured default period.
//
// The availability check and the counter decrement are a single atomic
// unit: when two requests race for the last copy, exactly one succeeds
// and the other receives ErrOutOfStock.
func (e *Engine) IssueLoan(ctx context.Context, memberID MemberID, bookID BookID, staffID string, days int) (*Borrowing, error) {
	if days <= 0 {
		days = e.cfg.LoanDays
	}

	var out *Borrowing
	err := e.store.WithTx(ctx, func(tx Store) error {
		book, err := tx.GetBook(ctx, bookID)
		if err != nil {
			return err
		}
		if book == nil || !book.IsActive {
			return ErrBookNotFound
		}

		member, err := tx.GetMember(ctx, memberID)
		if err != nil {
			return err
		}
		if member == nil {
			return ErrMemberNotFound
		}
		if !member.IsActive {
			return &LoanDeniedError{MemberID: memberID, Reason: ErrMemberInactive}
		}
		if member.CurrentBorrowed >= e.cfg.MaxConcurrentLoans {
			return &LoanDeniedError{
				MemberID: memberID,
				Reason:   ErrLoanLimitReached,
				Detail:   fmt.Sprintf("already holds %d of %d allowed loans", member.CurrentBorrowed, e.cfg.MaxConcurrentLoans),
			}
		}

		unpaid, err := tx.UnpaidPenaltyTotal(ctx, memberID)
		if err != nil {
			return err
		}
		if unpaid.IsPositive() {
			return &LoanDeniedError{
				MemberID: memberID,
				Reason:   ErrUnpaidPenalties,
				Detail:   fmt.Sprintf("%s in unpaid penalties outstanding", unpaid),
			}
		}

		// The winner/loser decision for the last copy happens here.
		if err := tx.ReserveCopy(ctx, bookID); err != nil {
			return err
		}

		today := e.today()
		b := Borrowing{
			ID:         BorrowID(uuid.NewString()),
			MemberID:   memberID,
			BookID:     bookID,
			StaffID:    staffID,
			BorrowDate: today,
			DueDate:    today.AddDays(days),
			Status:     StatusBorrowed,
		}
		if err := tx.InsertBorrowing(ctx, b); err != nil {
			return err
		}
		if err := tx.AdjustMemberLoans(ctx, memberID, +1, +1); err != nil {
			return err
		}

		out = &b
		return nil
	})
	return out, err
}

// ReturnLoan records the return of a borrowed or late loan. The copy goes
// back into availability and the member's live count drops, atomically
// with the status flip.
//
// A fine already issued for lateness is never waived here. If the loan
// was overdue but the sweep had not yet reclassified it, the late
// transition is observed now and the fine issued once.
func (e *Engine) ReturnLoan(ctx context.Context, borrowID BorrowID, notes string) (*Borrowing, error) {
	var out *Borrowing
	err := e.store.WithTx(ctx, func(tx Store) error {
		b, err := tx.GetBorrowing(ctx, borrowID)
		if err != nil {
			return err
		}
		if b == nil {
			return ErrBorrowingNotFound
		}
		if !b.Status.Active() {
			return &InvalidStateError{Op: "return", Record: "borrowing", ID: string(borrowID), Current: string(b.Status)}
		}

		today := e.today()
		wasBorrowed := b.Status == StatusBorrowed

		ok, err := tx.MarkReturned(ctx, borrowID, today, notes)
		if err != nil {
			return err
		}
		if !ok {
			return &InvalidStateError{Op: "return", Record: "borrowing", ID: string(borrowID), Current: string(b.Status)}
		}

		if err := tx.ReleaseCopy(ctx, b.BookID); err != nil {
			return err
		}
		if err := tx.AdjustMemberLoans(ctx, b.MemberID, -1, 0); err != nil {
			return err
		}

		// Overdue return the sweep never saw: the borrowed -> late
		// transition is observed here, so the fine is issued here.
		if wasBorrowed && b.DueDate.Before(today) {
			if _, err := e.issueLateFine(ctx, tx, *b, today); err != nil {
				return err
			}
		}

		b.Status = StatusReturned
		b.ReturnDate = &today
		if notes != "" {
			b.Notes = notes
		}
		out = b
		return nil
	})
	return out, err
}

// MarkLoanLost writes off a borrowed or late loan. The copy is retired
// from the catalog (total_copies drops) rather than released, and no fine
// is generated.
func (e *Engine) MarkLoanLost(ctx context.Context, borrowID BorrowID) (*Borrowing, error) {
	var out *Borrowing
	err := e.store.WithTx(ctx, func(tx Store) error {
		b, err := tx.GetBorrowing(ctx, borrowID)
		if err != nil {
			return err
		}
		if b == nil {
			return ErrBorrowingNotFound
		}
		if !b.Status.Active() {
			return &InvalidStateError{Op: "mark lost", Record: "borrowing", ID: string(borrowID), Current: string(b.Status)}
		}

		ok, err := tx.MarkLost(ctx, borrowID)
		if err != nil {
			return err
		}
		if !ok {
			return &InvalidStateError{Op: "mark lost", Record: "borrowing", ID: string(borrowID), Current: string(b.Status)}
		}

		if err := tx.RetireCopy(ctx, b.BookID); err != nil {
			return err
		}
		if err := tx.AdjustMemberLoans(ctx, b.MemberID, -1, 0); err != nil {
			return err
		}

		b.Status = StatusLost
		out = b
		return nil
	})
	return out, err
}

// SweepOverdue reclassifies every loan still "borrowed" past its due date
// as "late" and issues one fine per transition. Safe to run repeatedly:
// the per-row condition requires the prior status to be "borrowed", so an
// already-late loan is untouched and a concurrently returned loan is
// skipped.
func (e *Engine) SweepOverdue(ctx context.Context) (int, error) {
	transitioned := 0
	err := e.store.WithTx(ctx, func(tx Store) error {
		today := e.today()
		overdue, err := tx.FindOverdue(ctx, today)
		if err != nil {
			return err
		}

		for _, b := range overdue {
			ok, err := tx.MarkLate(ctx, b.ID)
			if err != nil {
				return err
			}
			if !ok {
				// Returned (or lost) between the scan and the update.
				continue
			}
			if _, err := e.issueLateFine(ctx, tx, b, today); err != nil {
				return err
			}
			transitioned++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return transitioned, nil
}

// =============================================================================
// PENALTY LEDGER
// =============================================================================

// issueLateFine reacts to a borrowed -> late transition. Runs inside the
// caller's transaction so the fine appears atomically with the transition.
func (e *Engine) issueLateFine(ctx context.Context, tx Store, b Borrowing, asOf Date) (*Penalty, error) {
	daysLate := DaysBetween(b.DueDate, asOf)
	if daysLate < 1 {
		daysLate = 1
	}

	amount := e.cfg.Fines.Fine(daysLate)
	if e.cfg.FirstOffenseHalved {
		prior, err := tx.CountMemberPenalties(ctx, b.MemberID)
		if err != nil {
			return nil, err
		}
		if prior == 0 {
			amount = amount.Div(decimal.NewFromInt(2))
		}
	}

	p := Penalty{
		ID:         PenaltyID(uuid.NewString()),
		MemberID:   b.MemberID,
		BorrowID:   b.ID,
		Amount:     amount,
		Reason:     fmt.Sprintf("Late fine: book kept %d day(s) past the due date", daysLate),
		IssuedDate: asOf,
		Status:     PenaltyUnpaid,
		PaidAmount: decimal.Zero,
	}
	if err := tx.InsertPenalty(ctx, p); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePenalty issues a manual penalty (damaged book, administrative
// charge). borrowID may be empty.
func (e *Engine) CreatePenalty(ctx context.Context, memberID MemberID, borrowID BorrowID, amount decimal.Decimal, reason string) (*Penalty, error) {
	var out *Penalty
	err := e.store.WithTx(ctx, func(tx Store) error {
		member, err := tx.GetMember(ctx, memberID)
		if err != nil {
			return err
		}
		if member == nil {
			return ErrMemberNotFound
		}

		p := Penalty{
			ID:         PenaltyID(uuid.NewString()),
			MemberID:   memberID,
			BorrowID:   borrowID,
			Amount:     amount,
			Reason:     reason,
			IssuedDate: e.today(),
			Status:     PenaltyUnpaid,
			PaidAmount: decimal.Zero,
		}
		if err := tx.InsertPenalty(ctx, p); err != nil {
			return err
		}
		out = &p
		return nil
	})
	return out, err
}

// PayPenalty settles an unpaid penalty. paidAmount is recorded verbatim;
// partial or over-payment is not rejected, and a zero amount defaults to
// the outstanding amount.
func (e *Engine) PayPenalty(ctx context.Context, penaltyID PenaltyID, paidAmount decimal.Decimal, notes string) (*Penalty, error) {
	var out *Penalty
	err := e.store.WithTx(ctx, func(tx Store) error {
		p, err := tx.GetPenalty(ctx, penaltyID)
		if err != nil {
			return err
		}
		if p == nil {
			return ErrPenaltyNotFound
		}
		if p.Status != PenaltyUnpaid {
			return &InvalidStateError{Op: "pay", Record: "penalty", ID: string(penaltyID), Current: string(p.Status)}
		}

		amount := paidAmount
		if amount.IsZero() {
			amount = p.Amount
		}

		today := e.today()
		ok, err := tx.MarkPenaltyPaid(ctx, penaltyID, today, amount, notes)
		if err != nil {
			return err
		}
		if !ok {
			return &InvalidStateError{Op: "pay", Record: "penalty", ID: string(penaltyID), Current: string(p.Status)}
		}

		p.Status = PenaltyPaid
		p.PaidDate = &today
		p.PaidAmount = amount
		if notes != "" {
			p.Notes = notes
		}
		out = p
		return nil
	})
	return out, err
}

// WaivePenalty cancels an unpaid penalty by administrative override.
func (e *Engine) WaivePenalty(ctx context.Context, penaltyID PenaltyID) (*Penalty, error) {
	var out *Penalty
	err := e.store.WithTx(ctx, func(tx Store) error {
		p, err := tx.GetPenalty(ctx, penaltyID)
		if err != nil {
			return err
		}
		if p == nil {
			return ErrPenaltyNotFound
		}
		if p.Status != PenaltyUnpaid {
			return &InvalidStateError{Op: "waive", Record: "penalty", ID: string(penaltyID), Current: string(p.Status)}
		}

		ok, err := tx.MarkPenaltyWaived(ctx, penaltyID)
		if err != nil {
			return err
		}
		if !ok {
			return &InvalidStateError{Op: "waive", Record: "penalty", ID: string(penaltyID), Current: string(p.Status)}
		}

		p.Status = PenaltyWaived
		out = p
		return nil
	})
	return out, err
}
