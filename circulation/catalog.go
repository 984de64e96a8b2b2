/*
catalog.go - Book and member catalog operations

PURPOSE:
  CRUD over the catalog records the loan ledger references. Thin by
  design: the interesting rules are the ones that protect the ledger
  (no deleting a book with live loans, copy-count edits shifting
  availability by the same delta) and the uniqueness constraints the
  store enforces (ISBN, email).

SEE ALSO:
  - engine.go: The ledger operations these records feed
  - store/sqlite: Uniqueness constraint mapping
*/
package circulation

import (
	"context"

	"github.com/google/uuid"
)

// =============================================================================
// BOOKS
// =============================================================================

// CreateBook registers a new title. Every copy starts available.
func (e *Engine) CreateBook(ctx context.Context, b Book) (*Book, error) {
	if b.ID == "" {
		b.ID = BookID(uuid.NewString())
	}
	if b.TotalCopies < 1 {
		b.TotalCopies = 1
	}
	b.AvailableCopies = b.TotalCopies
	b.IsActive = true

	if err := e.store.SaveBook(ctx, b); err != nil {
		return nil, err
	}
	return &b, nil
}

// UpdateBook replaces a book's descriptive fields. A change to TotalCopies
// shifts AvailableCopies by the same delta, floored at zero, so copies out
// on loan are never conjured back into availability.
func (e *Engine) UpdateBook(ctx context.Context, b Book) (*Book, error) {
	var out *Book
	err := e.store.WithTx(ctx, func(tx Store) error {
		existing, err := tx.GetBook(ctx, b.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			return ErrBookNotFound
		}

		delta := b.TotalCopies - existing.TotalCopies
		existing.Title = b.Title
		existing.Author = b.Author
		existing.ISBN = b.ISBN
		existing.Genre = b.Genre
		existing.PublishedYear = b.PublishedYear
		existing.IsActive = b.IsActive
		existing.TotalCopies = b.TotalCopies
		existing.AvailableCopies += delta
		if existing.AvailableCopies < 0 {
			existing.AvailableCopies = 0
		}
		if existing.AvailableCopies > existing.TotalCopies {
			existing.AvailableCopies = existing.TotalCopies
		}

		if err := tx.SaveBook(ctx, *existing); err != nil {
			return err
		}
		out = existing
		return nil
	})
	return out, err
}

// DeleteBook removes a title from the catalog. Rejected while any loan of
// the book is still borrowed or late.
func (e *Engine) DeleteBook(ctx context.Context, id BookID) error {
	return e.store.WithTx(ctx, func(tx Store) error {
		existing, err := tx.GetBook(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return ErrBookNotFound
		}

		active, err := tx.CountActiveByBook(ctx, id)
		if err != nil {
			return err
		}
		if active > 0 {
			return ErrHasActiveLoans
		}
		return tx.DeleteBook(ctx, id)
	})
}

func (e *Engine) GetBook(ctx context.Context, id BookID) (*Book, error) {
	b, err := e.store.GetBook(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrBookNotFound
	}
	return b, nil
}

func (e *Engine) ListBooks(ctx context.Context, f BookFilter) ([]Book, error) {
	return e.store.ListBooks(ctx, f)
}

// =============================================================================
// MEMBERS
// =============================================================================

// RegisterMember creates a new member record, active and with zeroed
// counters.
func (e *Engine) RegisterMember(ctx context.Context, m Member) (*Member, error) {
	if m.ID == "" {
		m.ID = MemberID(uuid.NewString())
	}
	m.RegistrationDate = e.today()
	m.TotalBorrowed = 0
	m.CurrentBorrowed = 0
	m.IsActive = true

	if err := e.store.SaveMember(ctx, m); err != nil {
		return nil, err
	}
	return &m, nil
}

// UpdateMember replaces a member's contact fields and active flag. The
// borrow counters and registration date are never editable this way.
func (e *Engine) UpdateMember(ctx context.Context, m Member) (*Member, error) {
	var out *Member
	err := e.store.WithTx(ctx, func(tx Store) error {
		existing, err := tx.GetMember(ctx, m.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			return ErrMemberNotFound
		}

		existing.FullName = m.FullName
		existing.Email = m.Email
		existing.Phone = m.Phone
		existing.Address = m.Address
		existing.IsActive = m.IsActive

		if err := tx.SaveMember(ctx, *existing); err != nil {
			return err
		}
		out = existing
		return nil
	})
	return out, err
}

// DeleteMember removes a member record. Rejected while the member still
// holds live loans; deactivation is the softer alternative.
func (e *Engine) DeleteMember(ctx context.Context, id MemberID) error {
	return e.store.WithTx(ctx, func(tx Store) error {
		existing, err := tx.GetMember(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return ErrMemberNotFound
		}
		if existing.CurrentBorrowed > 0 {
			return ErrHasActiveLoans
		}
		return tx.DeleteMember(ctx, id)
	})
}

func (e *Engine) GetMember(ctx context.Context, id MemberID) (*Member, error) {
	m, err := e.store.GetMember(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrMemberNotFound
	}
	return m, nil
}

func (e *Engine) ListMembers(ctx context.Context, f MemberFilter) ([]Member, error) {
	return e.store.ListMembers(ctx, f)
}

// =============================================================================
// LEDGER READS
// =============================================================================

func (e *Engine) GetBorrowing(ctx context.Context, id BorrowID) (*Borrowing, error) {
	b, err := e.store.GetBorrowing(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrBorrowingNotFound
	}
	return b, nil
}

func (e *Engine) ListBorrowings(ctx context.Context, f BorrowingFilter) ([]Borrowing, error) {
	return e.store.ListBorrowings(ctx, f)
}

func (e *Engine) GetPenalty(ctx context.Context, id PenaltyID) (*Penalty, error) {
	p, err := e.store.GetPenalty(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPenaltyNotFound
	}
	return p, nil
}

func (e *Engine) ListPenalties(ctx context.Context, f PenaltyFilter) ([]Penalty, error) {
	return e.store.ListPenalties(ctx, f)
}
