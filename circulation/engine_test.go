package circulation_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kutubxona/circulation-engine/circulation"
	"github.com/kutubxona/circulation-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// testClock is an adjustable clock injected into the engine so tests can
// move loans past their due dates without sleeping.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) AdvanceDays(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.AddDate(0, 0, n)
}

func newTestEngine(t *testing.T, cfg circulation.Config) (*circulation.Engine, *sqlite.Store, *testClock) {
	t.Helper()

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := newTestClock()
	cfg.Now = clock.Now
	return circulation.NewEngine(store, cfg), store, clock
}

func seedBook(t *testing.T, e *circulation.Engine, title string, copies int) *circulation.Book {
	t.Helper()
	book, err := e.CreateBook(context.Background(), circulation.Book{
		Title:       title,
		Author:      "Author",
		TotalCopies: copies,
	})
	require.NoError(t, err)
	return book
}

func seedMember(t *testing.T, e *circulation.Engine, name, email string) *circulation.Member {
	t.Helper()
	member, err := e.RegisterMember(context.Background(), circulation.Member{
		FullName: name,
		Email:    email,
	})
	require.NoError(t, err)
	return member
}

// =============================================================================
// ISSUE LOAN
// =============================================================================

func TestIssueLoan_Success(t *testing.T) {
	// GIVEN: A book with 2 copies and an active member
	// WHEN: The member borrows it
	// THEN: A borrowing opens with a 14-day due date and both counters move

	engine, _, _ := newTestEngine(t, circulation.Config{})
	ctx := context.Background()

	book := seedBook(t, engine, "O'tkan kunlar", 2)
	member := seedMember(t, engine, "Aziza", "aziza@example.com")

	b, err := engine.IssueLoan(ctx, member.ID, book.ID, "staff-1", 0)
	require.NoError(t, err)

	assert.Equal(t, circulation.StatusBorrowed, b.Status)
	assert.Equal(t, "staff-1", b.StaffID)
	assert.Equal(t, b.BorrowDate.AddDays(14), b.DueDate)

	gotBook, err := engine.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, gotBook.AvailableCopies)

	gotMember, err := engine.GetMember(ctx, member.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, gotMember.CurrentBorrowed)
	assert.Equal(t, 1, gotMember.TotalBorrowed)
}

func TestIssueLoan_OutOfStock(t *testing.T) {
	// GIVEN: A single-copy book already on loan
	// WHEN: A second member tries to borrow it
	// THEN: The request fails with ErrOutOfStock and nothing changes

	engine, _, _ := newTestEngine(t, circulation.Config{})
	ctx := context.Background()

	book := seedBook(t, engine, "Sarob", 1)
	first := seedMember(t, engine, "Aziza", "aziza@example.com")
	second := seedMember(t, engine, "Bobur", "bobur@example.com")

	_, err := engine.IssueLoan(ctx, first.ID, book.ID, "", 0)
	require.NoError(t, err)

	_, err = engine.IssueLoan(ctx, second.ID, book.ID, "", 0)
	assert.ErrorIs(t, err, circulation.ErrOutOfStock)

	gotMember, err := engine.GetMember(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, gotMember.CurrentBorrowed, "loser's counters must be untouched")
	assert.Equal(t, 0, gotMember.TotalBorrowed)
}

func TestIssueLoan_LastCopy_ExactlyOneWinner(t *testing.T) {
	// GIVEN: A book with exactly one copy left
	// WHEN: Many requests race for it concurrently
	// THEN: Exactly one succeeds; every loser sees ErrOutOfStock

	engine, _, _ := newTestEngine(t, circulation.Config{})
	ctx := context.Background()

	book := seedBook(t, engine, "Kecha va kunduz", 1)

	const contenders = 8
	members := make([]*circulation.Member, contenders)
	for i := range members {
		members[i] = seedMember(t, engine, "Member", "member"+string(rune('a'+i))+"@example.com")
	}

	var wg sync.WaitGroup
	results := make([]error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = engine.IssueLoan(ctx, members[i].ID, book.ID, "", 0)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, circulation.ErrOutOfStock)
		}
	}
	assert.Equal(t, 1, winners, "exactly one request may take the last copy")

	gotBook, err := engine.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, gotBook.AvailableCopies)
}

func TestIssueLoan_InactiveMember_Denied(t *testing.T) {
	engine, _, _ := newTestEngine(t, circulation.Config{})
	ctx := context.Background()

	book := seedBook(t, engine, "Sarob", 1)
	member := seedMember(t, engine, "Aziza", "aziza@example.com")

	member.IsActive = false
	_, err := engine.UpdateMember(ctx, *member)
	require.NoError(t, err)

	_, err = engine.IssueLoan(ctx, member.ID, book.ID, "", 0)
	assert.ErrorIs(t, err, circulation.ErrMemberInactive)

	var denied *circulation.LoanDeniedError
	assert.ErrorAs(t, err, &denied)
	assert.Equal(t, member.ID, denied.MemberID)
}

func TestIssueLoan_UnpaidPenalties_Denied(t *testing.T) {
	// GIVEN: A member carrying an unpaid fine
	// WHEN: They try to borrow
	// THEN: Denied until the fine is paid or waived

	engine, _, _ := newTestEngine(t, circulation.Config{})
	ctx := context.Background()

	book := seedBook(t, engine, "Sarob", 1)
	member := seedMember(t, engine, "Aziza", "aziza@example.com")

	penalty, err := engine.CreatePenalty(ctx, member.ID, "", decimal.NewFromInt(5000), "Damaged cover")
	require.NoError(t, err)

	_, err = engine.IssueLoan(ctx, member.ID, book.ID, "", 0)
	assert.ErrorIs(t, err, circulation.ErrUnpaidPenalties)

	// Paying clears the block.
	_, err = engine.PayPenalty(ctx, penalty.ID, decimal.Zero, "")
	require.NoError(t, err)

	_, err = engine.IssueLoan(ctx, member.ID, book.ID, "", 0)
	assert.NoError(t, err)
}

func TestIssueLoan_ConcurrentLimit(t *testing.T) {
	engine, _, _ := newTestEngine(t, circulation.Config{MaxConcurrentLoans: 2})
	ctx := context.Background()

	member := seedMember(t, engine, "Aziza", "aziza@example.com")
	for i := 0; i < 2; i++ {
		book := seedBook(t, engine, "Book", 1)
		_, err := engine.IssueLoan(ctx, member.ID, book.ID, "", 0)
		require.NoError(t, err)
	}

	extra := seedBook(t, engine, "One more", 1)
	_, err := engine.IssueLoan(ctx, member.ID, extra.ID, "", 0)
	assert.ErrorIs(t, err, circulation.ErrLoanLimitReached)
}

func TestIssueLoan_MissingRecords(t *testing.T) {
	engine, _, _ := newTestEngine(t, circulation.Config{})
	ctx := context.Background()

	book := seedBook(t, engine, "Sarob", 1)
	member := seedMember(t, engine, "Aziza", "aziza@example.com")

	_, err := engine.IssueLoan(ctx, member.ID, "no-such-book", "", 0)
	assert.ErrorIs(t, err, circulation.ErrBookNotFound)

	_, err = engine.IssueLoan(ctx, "no-such-member", book.ID, "", 0)
	assert.ErrorIs(t, err, circulation.ErrMemberNotFound)
}

// =============================================================================
// RETURN LOAN
// =============================================================================

func TestReturnLoan_OnTime(t *testing.T) {
	// GIVEN: A loan returned before its due date
	// THEN: Counters revert and no penalty is issued

	engine, _, clock := newTestEngine(t, circulation.Config{})
	ctx := context.Background()

	book := seedBook(t, engine, "Sarob", 1)
	member := seedMember(t, engine, "Aziza", "aziza@example.com")

	b, err := engine.IssueLoan(ctx, member.ID, book.ID, "", 0)
	require.NoError(t, err)

	clock.AdvanceDays(5)

	returned, err := engine.ReturnLoan(ctx, b.ID, "good condition")
	require.NoError(t, err)
	assert.Equal(t, circulation.StatusReturned, returned.Status)
	require.NotNil(t, returned.ReturnDate)
	assert.Equal(t, "good condition", returned.Notes)

	gotBook, err := engine.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, gotBook.AvailableCopies)

	gotMember, err := engine.GetMember(ctx, member.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, gotMember.CurrentBorrowed)
	assert.Equal(t, 1, gotMember.TotalBorrowed, "lifetime count never decreases")

	penalties, err := engine.ListPenalties(ctx, circulation.PenaltyFilter{MemberID: member.ID})
	require.NoError(t, err)
	assert.Empty(t, penalties)
}

func TestReturnLoan_Overdue_IssuesPenaltyOnce(t *testing.T) {
	// GIVEN: A loan 3 days past due that the sweep never saw
	// WHEN: It is returned
	// THEN: The late transition is observed at return time and a single
	//       fine of 3 * 5000 is issued

	engine, _, clock := newTestEngine(t, circulation.Config{})
	ctx := context.Background()

	book := seedBook(t, engine, "Sarob", 1)
	member := seedMember(t, engine, "Aziza", "aziza@example.com")

	b, err := engine.IssueLoan(ctx, member.ID, book.ID, "", 0)
	require.NoError(t, err)

	clock.AdvanceDays(17) // due after 14

	_, err = engine.ReturnLoan(ctx, b.ID, "")
	require.NoError(t, err)

	penalties, err := engine.ListPenalties(ctx, circulation.PenaltyFilter{MemberID: member.ID})
	require.NoError(t, err)
	require.Len(t, penalties, 1)

	p := penalties[0]
	assert.True(t, decimal.NewFromInt(15000).Equal(p.Amount), "got %s", p.Amount)
	assert.Equal(t, circulation.PenaltyUnpaid, p.Status)
	assert.Equal(t, b.ID, p.BorrowID)
	assert.Contains(t, p.Reason, "3 day")
}

func TestReturnLoan_Terminal_Rejected(t *testing.T) {
	engine, _, _ := newTestEngine(t, circulation.Config{})
	ctx := context.Background()

	book := seedBook(t, engine, "Sarob", 1)
	member := seedMember(t, engine, "Aziza", "aziza@example.com")

	b, err := engine.IssueLoan(ctx, member.ID, book.ID, "", 0)
	require.NoError(t, err)

	_, err = engine.ReturnLoan(ctx, b.ID, "")
	require.NoError(t, err)

	_, err = engine.ReturnLoan(ctx, b.ID, "")
	assert.ErrorIs(t, err, circulation.ErrInvalidState)

	var inv *circulation.InvalidStateError
	assert.ErrorAs(t, err, &inv)
	assert.Equal(t, "returned", inv.Current)
}

func TestReturnLoan_NotFound(t *testing.T) {
	engine, _, _ := newTestEngine(t, circulation.Config{})

	_, err := engine.ReturnLoan(context.Background(), "no-such-loan", "")
	assert.ErrorIs(t, err, circulation.ErrBorrowingNotFound)
}

// =============================================================================
// SWEEP
// =============================================================================

func TestSweepOverdue_TransitionsAndFines(t *testing.T) {
	// GIVEN: Two loans past due and one still current
	// WHEN: The sweep runs
	// THEN: Only the overdue pair becomes late, each with one fine

	engine, _, clock := newTestEngine(t, circulation.Config{})
	ctx := context.Background()

	m1 := seedMember(t, engine, "Aziza", "aziza@example.com")
	m2 := seedMember(t, engine, "Bobur", "bobur@example.com")
	m3 := seedMember(t, engine, "Dilnoza", "dilnoza@example.com")

	b1, err := engine.IssueLoan(ctx, m1.ID, seedBook(t, engine, "A", 1).ID, "", 7)
	require.NoError(t, err)
	b2, err := engine.IssueLoan(ctx, m2.ID, seedBook(t, engine, "B", 1).ID, "", 7)
	require.NoError(t, err)

	clock.AdvanceDays(9)

	// Issued after the others; not yet due.
	_, err = engine.IssueLoan(ctx, m3.ID, seedBook(t, engine, "C", 1).ID, "", 7)
	require.NoError(t, err)

	transitioned, err := engine.SweepOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, transitioned)

	for _, id := range []circulation.BorrowID{b1.ID, b2.ID} {
		got, err := engine.GetBorrowing(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, circulation.StatusLate, got.Status)
	}

	penalties, err := engine.ListPenalties(ctx, circulation.PenaltyFilter{})
	require.NoError(t, err)
	assert.Len(t, penalties, 2)
	// 2 days past due at 5000/day.
	assert.True(t, decimal.NewFromInt(10000).Equal(penalties[0].Amount))
}

func TestSweepOverdue_Idempotent(t *testing.T) {
	// GIVEN: A sweep that already reclassified a loan
	// WHEN: The sweep runs again
	// THEN: No new transitions, no duplicate fines

	engine, _, clock := newTestEngine(t, circulation.Config{})
	ctx := context.Background()

	member := seedMember(t, engine, "Aziza", "aziza@example.com")
	_, err := engine.IssueLoan(ctx, member.ID, seedBook(t, engine, "A", 1).ID, "", 7)
	require.NoError(t, err)

	clock.AdvanceDays(10)

	first, err := engine.SweepOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first)

	second, err := engine.SweepOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second)

	penalties, err := engine.ListPenalties(ctx, circulation.PenaltyFilter{MemberID: member.ID})
	require.NoError(t, err)
	assert.Len(t, penalties, 1, "one fine per late transition, ever")
}

func TestSweepThenReturn_NoSecondPenalty(t *testing.T) {
	// GIVEN: A loan the sweep already marked late and fined
	// WHEN: The member returns it
	// THEN: The return succeeds and no second fine appears

	engine, _, clock := newTestEngine(t, circulation.Config{})
	ctx := context.Background()

	member := seedMember(t, engine, "Aziza", "aziza@example.com")
	book := seedBook(t, engine, "A", 1)
	b, err := engine.IssueLoan(ctx, member.ID, book.ID, "", 7)
	require.NoError(t, err)

	clock.AdvanceDays(10)

	_, err = engine.SweepOverdue(ctx)
	require.NoError(t, err)

	returned, err := engine.ReturnLoan(ctx, b.ID, "")
	require.NoError(t, err)
	assert.Equal(t, circulation.StatusReturned, returned.Status)

	penalties, err := engine.ListPenalties(ctx, circulation.PenaltyFilter{MemberID: member.ID})
	require.NoError(t, err)
	assert.Len(t, penalties, 1)

	gotBook, err := engine.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, gotBook.AvailableCopies)
}

// =============================================================================
// LOST LOANS
// =============================================================================

func TestMarkLoanLost(t *testing.T) {
	// GIVEN: A 3-copy book with one copy on loan
	// WHEN: That loan is written off as lost
	// THEN: The copy leaves the catalog entirely: total drops, available
	//       stays, the member's live count drops, and no fine is issued

	engine, _, _ := newTestEngine(t, circulation.Config{})
	ctx := context.Background()

	book := seedBook(t, engine, "Sarob", 3)
	member := seedMember(t, engine, "Aziza", "aziza@example.com")

	b, err := engine.IssueLoan(ctx, member.ID, book.ID, "", 0)
	require.NoError(t, err)

	lost, err := engine.MarkLoanLost(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, circulation.StatusLost, lost.Status)

	gotBook, err := engine.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, gotBook.TotalCopies)
	assert.Equal(t, 2, gotBook.AvailableCopies)

	gotMember, err := engine.GetMember(ctx, member.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, gotMember.CurrentBorrowed)

	penalties, err := engine.ListPenalties(ctx, circulation.PenaltyFilter{MemberID: member.ID})
	require.NoError(t, err)
	assert.Empty(t, penalties, "no automatic fine for lost loans")

	_, err = engine.ReturnLoan(ctx, b.ID, "")
	assert.ErrorIs(t, err, circulation.ErrInvalidState, "lost is terminal")
}

// =============================================================================
// PENALTIES
// =============================================================================

func TestPayPenalty_DefaultsToOutstanding(t *testing.T) {
	engine, _, _ := newTestEngine(t, circulation.Config{})
	ctx := context.Background()

	member := seedMember(t, engine, "Aziza", "aziza@example.com")
	p, err := engine.CreatePenalty(ctx, member.ID, "", decimal.NewFromInt(7000), "Damaged spine")
	require.NoError(t, err)

	paid, err := engine.PayPenalty(ctx, p.ID, decimal.Zero, "cash")
	require.NoError(t, err)
	assert.Equal(t, circulation.PenaltyPaid, paid.Status)
	assert.True(t, decimal.NewFromInt(7000).Equal(paid.PaidAmount))
	require.NotNil(t, paid.PaidDate)

	// Terminal: cannot pay or waive again.
	_, err = engine.PayPenalty(ctx, p.ID, decimal.Zero, "")
	assert.ErrorIs(t, err, circulation.ErrInvalidState)
	_, err = engine.WaivePenalty(ctx, p.ID)
	assert.ErrorIs(t, err, circulation.ErrInvalidState)
}

func TestPayPenalty_PartialAmountRecordedVerbatim(t *testing.T) {
	engine, _, _ := newTestEngine(t, circulation.Config{})
	ctx := context.Background()

	member := seedMember(t, engine, "Aziza", "aziza@example.com")
	p, err := engine.CreatePenalty(ctx, member.ID, "", decimal.NewFromInt(10000), "Lost bookmark")
	require.NoError(t, err)

	paid, err := engine.PayPenalty(ctx, p.ID, decimal.NewFromInt(4000), "")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(4000).Equal(paid.PaidAmount))
	assert.Equal(t, circulation.PenaltyPaid, paid.Status)
}

func TestWaivePenalty(t *testing.T) {
	engine, _, _ := newTestEngine(t, circulation.Config{})
	ctx := context.Background()

	member := seedMember(t, engine, "Aziza", "aziza@example.com")
	book := seedBook(t, engine, "Sarob", 1)

	p, err := engine.CreatePenalty(ctx, member.ID, "", decimal.NewFromInt(5000), "Admin charge")
	require.NoError(t, err)

	waived, err := engine.WaivePenalty(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, circulation.PenaltyWaived, waived.Status)

	// A waived fine no longer blocks borrowing.
	_, err = engine.IssueLoan(ctx, member.ID, book.ID, "", 0)
	assert.NoError(t, err)
}

func TestFirstOffenseHalved(t *testing.T) {
	// GIVEN: An engine with the first-offense discount enabled
	// WHEN: A member's very first fine is issued
	// THEN: The amount is halved; the next fine is full price

	engine, _, clock := newTestEngine(t, circulation.Config{FirstOffenseHalved: true})
	ctx := context.Background()

	member := seedMember(t, engine, "Aziza", "aziza@example.com")

	b1, err := engine.IssueLoan(ctx, member.ID, seedBook(t, engine, "A", 1).ID, "", 7)
	require.NoError(t, err)
	clock.AdvanceDays(9) // 2 days late
	_, err = engine.ReturnLoan(ctx, b1.ID, "")
	require.NoError(t, err)

	penalties, err := engine.ListPenalties(ctx, circulation.PenaltyFilter{MemberID: member.ID})
	require.NoError(t, err)
	require.Len(t, penalties, 1)
	assert.True(t, decimal.NewFromInt(5000).Equal(penalties[0].Amount), "10000 halved, got %s", penalties[0].Amount)

	_, err = engine.PayPenalty(ctx, penalties[0].ID, decimal.Zero, "")
	require.NoError(t, err)

	b2, err := engine.IssueLoan(ctx, member.ID, seedBook(t, engine, "B", 1).ID, "", 7)
	require.NoError(t, err)
	clock.AdvanceDays(9)
	_, err = engine.ReturnLoan(ctx, b2.ID, "")
	require.NoError(t, err)

	penalties, err = engine.ListPenalties(ctx, circulation.PenaltyFilter{MemberID: member.ID, Status: circulation.PenaltyUnpaid})
	require.NoError(t, err)
	require.Len(t, penalties, 1)
	assert.True(t, decimal.NewFromInt(10000).Equal(penalties[0].Amount))
}

func TestLateFine_Capped(t *testing.T) {
	// GIVEN: An engine whose fine schedule is capped at 20000
	// WHEN: A loan comes back 10 days late (50000 uncapped)
	// THEN: The issued fine is the ceiling

	engine, _, clock := newTestEngine(t, circulation.Config{
		Fines: circulation.NewCapped(circulation.NewFlatRate(circulation.DefaultDailyRate), decimal.NewFromInt(20000)),
	})
	ctx := context.Background()

	member := seedMember(t, engine, "Aziza", "aziza@example.com")
	b, err := engine.IssueLoan(ctx, member.ID, seedBook(t, engine, "A", 1).ID, "", 7)
	require.NoError(t, err)

	clock.AdvanceDays(17)

	_, err = engine.ReturnLoan(ctx, b.ID, "")
	require.NoError(t, err)

	penalties, err := engine.ListPenalties(ctx, circulation.PenaltyFilter{MemberID: member.ID})
	require.NoError(t, err)
	require.Len(t, penalties, 1)
	assert.True(t, decimal.NewFromInt(20000).Equal(penalties[0].Amount), "got %s", penalties[0].Amount)
}

// =============================================================================
// CATALOG RULES
// =============================================================================

func TestUpdateBook_CopyDeltaShiftsAvailability(t *testing.T) {
	engine, _, _ := newTestEngine(t, circulation.Config{})
	ctx := context.Background()

	book := seedBook(t, engine, "Sarob", 2)
	member := seedMember(t, engine, "Aziza", "aziza@example.com")

	_, err := engine.IssueLoan(ctx, member.ID, book.ID, "", 0)
	require.NoError(t, err)

	// 2 total, 1 available. Raising to 5 adds 3 available.
	book.TotalCopies = 5
	updated, err := engine.UpdateBook(ctx, *book)
	require.NoError(t, err)
	assert.Equal(t, 5, updated.TotalCopies)
	assert.Equal(t, 4, updated.AvailableCopies)

	// Dropping below the loaned-out count floors availability at zero.
	updated.TotalCopies = 1
	updated, err = engine.UpdateBook(ctx, *updated)
	require.NoError(t, err)
	assert.Equal(t, 0, updated.AvailableCopies)
}

func TestDeleteBook_BlockedByActiveLoans(t *testing.T) {
	engine, _, _ := newTestEngine(t, circulation.Config{})
	ctx := context.Background()

	book := seedBook(t, engine, "Sarob", 1)
	member := seedMember(t, engine, "Aziza", "aziza@example.com")

	b, err := engine.IssueLoan(ctx, member.ID, book.ID, "", 0)
	require.NoError(t, err)

	err = engine.DeleteBook(ctx, book.ID)
	assert.ErrorIs(t, err, circulation.ErrHasActiveLoans)

	_, err = engine.ReturnLoan(ctx, b.ID, "")
	require.NoError(t, err)

	assert.NoError(t, engine.DeleteBook(ctx, book.ID))
	_, err = engine.GetBook(ctx, book.ID)
	assert.ErrorIs(t, err, circulation.ErrBookNotFound)
}

func TestDuplicateEmail_Rejected(t *testing.T) {
	engine, _, _ := newTestEngine(t, circulation.Config{})
	ctx := context.Background()

	seedMember(t, engine, "Aziza", "aziza@example.com")
	_, err := engine.RegisterMember(ctx, circulation.Member{
		FullName: "Other Aziza",
		Email:    "aziza@example.com",
	})
	assert.ErrorIs(t, err, circulation.ErrDuplicateEmail)
}

// =============================================================================
// INVARIANTS
// =============================================================================

func TestCounters_StayConsistentAcrossLifecycle(t *testing.T) {
	// Runs a mixed sequence of issues, returns, sweeps and a loss, then
	// checks the derived counters against the borrowing rows via recount.

	engine, store, clock := newTestEngine(t, circulation.Config{})
	ctx := context.Background()

	bookA := seedBook(t, engine, "A", 2)
	bookB := seedBook(t, engine, "B", 1)
	m1 := seedMember(t, engine, "Aziza", "aziza@example.com")
	m2 := seedMember(t, engine, "Bobur", "bobur@example.com")

	l1, err := engine.IssueLoan(ctx, m1.ID, bookA.ID, "", 7)
	require.NoError(t, err)
	_, err = engine.IssueLoan(ctx, m2.ID, bookA.ID, "", 7)
	require.NoError(t, err)
	l3, err := engine.IssueLoan(ctx, m2.ID, bookB.ID, "", 7)
	require.NoError(t, err)

	clock.AdvanceDays(10)
	_, err = engine.SweepOverdue(ctx)
	require.NoError(t, err)

	_, err = engine.ReturnLoan(ctx, l1.ID, "")
	require.NoError(t, err)
	_, err = engine.MarkLoanLost(ctx, l3.ID)
	require.NoError(t, err)

	corrected, err := store.RecountCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, corrected, "counters must already match the ledger")
}

func TestIssueLoan_RollsBackCleanly(t *testing.T) {
	// A denied issue must leave no partial writes: the failed attempt
	// happens after the stock was notionally checked, and the rollback
	// restores everything.

	engine, store, _ := newTestEngine(t, circulation.Config{})
	ctx := context.Background()

	book := seedBook(t, engine, "Sarob", 1)
	member := seedMember(t, engine, "Aziza", "aziza@example.com")

	_, err := engine.IssueLoan(ctx, member.ID, book.ID, "", 0)
	require.NoError(t, err)

	_, err = engine.IssueLoan(ctx, member.ID, book.ID, "", 0)
	require.Error(t, err)
	require.True(t, errors.Is(err, circulation.ErrOutOfStock))

	borrowings, err := store.ListBorrowings(ctx, circulation.BorrowingFilter{MemberID: member.ID})
	require.NoError(t, err)
	assert.Len(t, borrowings, 1, "the failed attempt must not leave a row")
}
