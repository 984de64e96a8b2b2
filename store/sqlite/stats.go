/*
stats.go - Dashboard projections and the counter recount

PURPOSE:
  Implements circulation.StatsStore: the dashboard summary, popular-book
  and active-member rankings, per-member drill-down, the joined listings,
  and RecountCatalog, which recomputes the denormalized counters from the
  borrowing rows and repairs any drift.

  Penalty amounts are stored as decimal strings, so monetary totals are
  summed in Go rather than with SQL SUM (which would coerce to floats).

SEE ALSO:
  - circulation/stats.go: Projection types
  - sqlite.go: Schema and the base store
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/kutubxona/circulation-engine/circulation"
)

// GetStats returns the dashboard summary.
func (s *Store) GetStats(ctx context.Context) (*circulation.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats circulation.Stats

	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM books WHERE is_active", &stats.TotalBooks},
		{"SELECT COUNT(*) FROM members WHERE is_active", &stats.TotalMembers},
		{"SELECT COUNT(*) FROM borrowings WHERE status = 'borrowed'", &stats.ActiveBorrowings},
		{"SELECT COUNT(*) FROM borrowings WHERE status = 'late'", &stats.LateBorrowings},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to query stats: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, "SELECT amount, status FROM penalties")
	if err != nil {
		return nil, fmt.Errorf("failed to query penalty totals: %w", err)
	}
	defer rows.Close()

	stats.TotalPenalties = decimal.Zero
	stats.UnpaidPenalties = decimal.Zero
	for rows.Next() {
		var amount, status string
		if err := rows.Scan(&amount, &status); err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("bad penalty amount %q: %w", amount, err)
		}
		stats.TotalPenalties = stats.TotalPenalties.Add(d)
		if status == string(circulation.PenaltyUnpaid) {
			stats.UnpaidPenalties = stats.UnpaidPenalties.Add(d)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &stats, nil
}

// PopularBooks ranks books by lifetime borrow count. Books never borrowed
// appear with a zero count; ties keep catalog insertion order.
func (s *Store) PopularBooks(ctx context.Context, limit int) ([]circulation.PopularBook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.title, b.author, b.genre, COUNT(br.id) AS borrow_count
		FROM books b
		LEFT JOIN borrowings br ON br.book_id = b.id
		GROUP BY b.id
		ORDER BY borrow_count DESC, b.rowid ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query popular books: %w", err)
	}
	defer rows.Close()

	var popular []circulation.PopularBook
	for rows.Next() {
		var p circulation.PopularBook
		var genre sql.NullString
		if err := rows.Scan(&p.BookID, &p.Title, &p.Author, &genre, &p.BorrowCount); err != nil {
			return nil, err
		}
		p.Genre = genre.String
		popular = append(popular, p)
	}
	return popular, rows.Err()
}

// ActiveMembers ranks active members by lifetime borrow count, with their
// outstanding fine totals attached.
func (s *Store) ActiveMembers(ctx context.Context, limit int) ([]circulation.MemberActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, full_name, email, total_borrowed, current_borrowed
		FROM members
		WHERE is_active
		ORDER BY total_borrowed DESC, rowid ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query active members: %w", err)
	}
	defer rows.Close()

	var members []circulation.MemberActivity
	for rows.Next() {
		var m circulation.MemberActivity
		if err := rows.Scan(&m.MemberID, &m.FullName, &m.Email, &m.TotalBorrowed, &m.CurrentBorrowed); err != nil {
			return nil, err
		}
		m.UnpaidPenalties = decimal.Zero
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	unpaid, err := s.unpaidByMember(ctx)
	if err != nil {
		return nil, err
	}
	for i := range members {
		if total, ok := unpaid[members[i].MemberID]; ok {
			members[i].UnpaidPenalties = total
		}
	}
	return members, nil
}

// unpaidByMember sums unpaid penalty amounts per member in one pass.
func (s *Store) unpaidByMember(ctx context.Context) (map[circulation.MemberID]decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT member_id, amount FROM penalties WHERE status = 'unpaid'")
	if err != nil {
		return nil, fmt.Errorf("failed to query unpaid penalties: %w", err)
	}
	defer rows.Close()

	totals := make(map[circulation.MemberID]decimal.Decimal)
	for rows.Next() {
		var memberID circulation.MemberID
		var amount string
		if err := rows.Scan(&memberID, &amount); err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("bad penalty amount %q: %w", amount, err)
		}
		totals[memberID] = totals[memberID].Add(d)
	}
	return totals, rows.Err()
}

// MemberStatistics returns the per-member drill-down, or (nil, nil) when
// the member does not exist.
func (s *Store) MemberStatistics(ctx context.Context, id circulation.MemberID) (*circulation.MemberStatistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ms circulation.MemberStatistics
	err := s.db.QueryRowContext(ctx,
		"SELECT id, full_name, total_borrowed, current_borrowed FROM members WHERE id = ?",
		id,
	).Scan(&ms.MemberID, &ms.FullName, &ms.TotalBorrowed, &ms.CurrentBorrowed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// Late returns: loans currently late, plus loans returned past due.
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM borrowings
		WHERE member_id = ?
		  AND (status = 'late'
		       OR (status = 'returned' AND return_date > due_date))`,
		id,
	).Scan(&ms.LateReturns)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT amount, status FROM penalties WHERE member_id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query member penalties: %w", err)
	}
	defer rows.Close()

	ms.TotalPenaltyAmount = decimal.Zero
	for rows.Next() {
		var amount, status string
		if err := rows.Scan(&amount, &status); err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("bad penalty amount %q: %w", amount, err)
		}
		ms.TotalPenalties++
		ms.TotalPenaltyAmount = ms.TotalPenaltyAmount.Add(d)
		if status == string(circulation.PenaltyUnpaid) {
			ms.UnpaidPenalties++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &ms, nil
}

// =============================================================================
// JOINED LISTINGS
// =============================================================================

const borrowingDetailColumns = `br.id, br.member_id, br.book_id, br.staff_id,
	br.borrow_date, br.due_date, br.return_date, br.status, br.notes,
	m.full_name, b.title`

// ListBorrowingDetails joins member and book names onto the loan ledger.
func (s *Store) ListBorrowingDetails(ctx context.Context, f circulation.BorrowingFilter) ([]circulation.BorrowingDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT ` + borrowingDetailColumns + `
		FROM borrowings br
		JOIN members m ON m.id = br.member_id
		JOIN books b ON b.id = br.book_id
		WHERE 1=1
	`
	var args []any

	if f.Status != "" {
		query += " AND br.status = ?"
		args = append(args, f.Status)
	}
	if f.MemberID != "" {
		query += " AND br.member_id = ?"
		args = append(args, f.MemberID)
	}
	if f.BookID != "" {
		query += " AND br.book_id = ?"
		args = append(args, f.BookID)
	}
	query += " ORDER BY br.borrow_date DESC, br.created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	return s.queryBorrowingDetails(ctx, circulation.Today(), query, args...)
}

// LateBorrowings returns active loans past due as of asOf, with computed
// days late.
func (s *Store) LateBorrowings(ctx context.Context, asOf circulation.Date) ([]circulation.BorrowingDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT ` + borrowingDetailColumns + `
		FROM borrowings br
		JOIN members m ON m.id = br.member_id
		JOIN books b ON b.id = br.book_id
		WHERE br.status IN ('borrowed', 'late')
		  AND br.due_date < ?
		  AND br.return_date IS NULL
		ORDER BY br.due_date ASC
	`
	return s.queryBorrowingDetails(ctx, asOf, query, asOf.String())
}

func (s *Store) queryBorrowingDetails(ctx context.Context, asOf circulation.Date, query string, args ...any) ([]circulation.BorrowingDetail, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query borrowing details: %w", err)
	}
	defer rows.Close()

	var details []circulation.BorrowingDetail
	for rows.Next() {
		var d circulation.BorrowingDetail
		var staffID, returnDate, notes sql.NullString
		var borrowDate, dueDate string

		err := rows.Scan(&d.ID, &d.MemberID, &d.BookID, &staffID,
			&borrowDate, &dueDate, &returnDate, &d.Status, &notes,
			&d.MemberName, &d.BookTitle)
		if err != nil {
			return nil, err
		}

		d.StaffID = staffID.String
		d.Notes = notes.String
		d.BorrowDate, err = circulation.ParseDate(borrowDate)
		if err != nil {
			return nil, fmt.Errorf("bad borrow date %q: %w", borrowDate, err)
		}
		d.DueDate, err = circulation.ParseDate(dueDate)
		if err != nil {
			return nil, fmt.Errorf("bad due date %q: %w", dueDate, err)
		}
		if returnDate.Valid {
			rd, err := circulation.ParseDate(returnDate.String)
			if err != nil {
				return nil, fmt.Errorf("bad return date %q: %w", returnDate.String, err)
			}
			d.ReturnDate = &rd
		}

		if d.Status.Active() && d.Overdue(asOf) {
			late := d.Borrowing.DaysLate(asOf)
			d.DaysLate = &late
		}

		details = append(details, d)
	}
	return details, rows.Err()
}

// ListPenaltyDetails joins member names onto the penalty ledger.
func (s *Store) ListPenaltyDetails(ctx context.Context, f circulation.PenaltyFilter) ([]circulation.PenaltyDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT p.id, p.member_id, p.borrowing_id, p.amount, p.reason,
		       p.issued_date, p.status, p.paid_date, p.paid_amount, p.notes,
		       m.full_name
		FROM penalties p
		JOIN members m ON m.id = p.member_id
		WHERE 1=1
	`
	var args []any

	if f.Status != "" {
		query += " AND p.status = ?"
		args = append(args, f.Status)
	}
	if f.MemberID != "" {
		query += " AND p.member_id = ?"
		args = append(args, f.MemberID)
	}
	query += " ORDER BY p.issued_date DESC, p.created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query penalty details: %w", err)
	}
	defer rows.Close()

	var details []circulation.PenaltyDetail
	for rows.Next() {
		var d circulation.PenaltyDetail
		var borrowID, reason, paidDate, notes sql.NullString
		var amount, paidAmount, issuedDate string

		err := rows.Scan(&d.ID, &d.MemberID, &borrowID, &amount, &reason,
			&issuedDate, &d.Status, &paidDate, &paidAmount, &notes,
			&d.MemberName)
		if err != nil {
			return nil, err
		}

		d.BorrowID = circulation.BorrowID(borrowID.String)
		d.Reason = reason.String
		d.Notes = notes.String
		d.IssuedDate, err = circulation.ParseDate(issuedDate)
		if err != nil {
			return nil, fmt.Errorf("bad issued date %q: %w", issuedDate, err)
		}
		if paidDate.Valid {
			pd, err := circulation.ParseDate(paidDate.String)
			if err != nil {
				return nil, fmt.Errorf("bad paid date %q: %w", paidDate.String, err)
			}
			d.PaidDate = &pd
		}
		d.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("bad penalty amount %q: %w", amount, err)
		}
		d.PaidAmount, err = decimal.NewFromString(paidAmount)
		if err != nil {
			return nil, fmt.Errorf("bad paid amount %q: %w", paidAmount, err)
		}

		details = append(details, d)
	}
	return details, rows.Err()
}

// =============================================================================
// RECOUNT (repair)
// =============================================================================

// RecountCatalog recomputes available_copies and current_borrowed from the
// borrowing rows and fixes any drift. Returns the number of rows corrected.
// The counters are maintained transactionally, so a nonzero result means
// something outside this store touched the database.
func (s *Store) RecountCatalog(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	booksFixed, err := execCount(ctx, tx, `
		UPDATE books SET available_copies = MAX(total_copies - (
			SELECT COUNT(*) FROM borrowings
			WHERE book_id = books.id AND status IN ('borrowed', 'late')), 0)
		WHERE available_copies != MAX(total_copies - (
			SELECT COUNT(*) FROM borrowings
			WHERE book_id = books.id AND status IN ('borrowed', 'late')), 0)`)
	if err != nil {
		return 0, fmt.Errorf("failed to recount books: %w", err)
	}

	membersFixed, err := execCount(ctx, tx, `
		UPDATE members SET current_borrowed = (
			SELECT COUNT(*) FROM borrowings
			WHERE member_id = members.id AND status IN ('borrowed', 'late'))
		WHERE current_borrowed != (
			SELECT COUNT(*) FROM borrowings
			WHERE member_id = members.id AND status IN ('borrowed', 'late'))`)
	if err != nil {
		return 0, fmt.Errorf("failed to recount members: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return booksFixed + membersFixed, nil
}

func execCount(ctx context.Context, q querier, query string) (int, error) {
	res, err := q.ExecContext(ctx, query)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
