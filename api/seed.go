/*
seed.go - Demo data loader

PURPOSE:
  Populates a fresh database with a small but realistic data set: a
  catalog, a handful of members, live loans, and one loan already past
  due so the sweep and penalty flows have something to chew on.

  Intended for demos and local development. Seeding resets the database
  first.

SEE ALSO:
  - handlers.go: SeedDemoData endpoint
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/kutubxona/circulation-engine/circulation"
)

// SeedDemoData resets the database and loads the demo data set.
// POST /api/admin/seed
func (h *Handler) SeedDemoData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	if err := h.seed(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to seed demo data", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "seeded"})
}

func (h *Handler) seed(ctx context.Context) error {
	books := []circulation.Book{
		{Title: "O'tkan kunlar", Author: "Abdulla Qodiriy", ISBN: "978-9943-01-001-1", Genre: "Historical", PublishedYear: 1925, TotalCopies: 3},
		{Title: "Kecha va kunduz", Author: "Cho'lpon", ISBN: "978-9943-01-002-8", Genre: "Novel", PublishedYear: 1936, TotalCopies: 2},
		{Title: "Sarob", Author: "Abdulla Qahhor", ISBN: "978-9943-01-003-5", Genre: "Novel", PublishedYear: 1937, TotalCopies: 2},
		{Title: "The Go Programming Language", Author: "Donovan, Kernighan", ISBN: "978-0-13-419044-0", Genre: "Technical", PublishedYear: 2015, TotalCopies: 1},
		{Title: "Designing Data-Intensive Applications", Author: "Martin Kleppmann", ISBN: "978-1-4493-7332-0", Genre: "Technical", PublishedYear: 2017, TotalCopies: 2},
	}

	var bookIDs []circulation.BookID
	for _, b := range books {
		created, err := h.Engine.CreateBook(ctx, b)
		if err != nil {
			return fmt.Errorf("seed book %q: %w", b.Title, err)
		}
		bookIDs = append(bookIDs, created.ID)
	}

	members := []circulation.Member{
		{FullName: "Aziza Karimova", Email: "aziza@example.com", Phone: "+998901112233", Address: "Tashkent"},
		{FullName: "Bobur Rahimov", Email: "bobur@example.com", Phone: "+998902223344", Address: "Samarkand"},
		{FullName: "Dilnoza Yusupova", Email: "dilnoza@example.com", Phone: "+998903334455", Address: "Bukhara"},
	}

	var memberIDs []circulation.MemberID
	for _, m := range members {
		created, err := h.Engine.RegisterMember(ctx, m)
		if err != nil {
			return fmt.Errorf("seed member %q: %w", m.FullName, err)
		}
		memberIDs = append(memberIDs, created.ID)
	}

	// Two live loans issued today.
	if _, err := h.Engine.IssueLoan(ctx, memberIDs[0], bookIDs[0], "seed", 0); err != nil {
		return fmt.Errorf("seed loan: %w", err)
	}
	if _, err := h.Engine.IssueLoan(ctx, memberIDs[1], bookIDs[4], "seed", 0); err != nil {
		return fmt.Errorf("seed loan: %w", err)
	}

	// One loan already past due, inserted with backdated dates so the
	// sweep has work on first run.
	today := circulation.Today()
	overdue := circulation.Borrowing{
		ID:         circulation.BorrowID(uuid.NewString()),
		MemberID:   memberIDs[2],
		BookID:     bookIDs[1],
		StaffID:    "seed",
		BorrowDate: today.AddDays(-20),
		DueDate:    today.AddDays(-6),
		Status:     circulation.StatusBorrowed,
	}
	return h.Store.WithTx(ctx, func(tx circulation.Store) error {
		if err := tx.ReserveCopy(ctx, overdue.BookID); err != nil {
			return err
		}
		if err := tx.InsertBorrowing(ctx, overdue); err != nil {
			return err
		}
		return tx.AdjustMemberLoans(ctx, overdue.MemberID, +1, +1)
	})
}
