/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Penalty amounts cross the wire as decimal strings ("15000"), never as
  floats.

UPDATE SEMANTICS:
  Update requests use pointer fields: a nil field leaves the stored value
  untouched, matching partial-update clients.

SEE ALSO:
  - handlers.go: Uses these types
  - circulation/types.go: The domain model these mirror
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/kutubxona/circulation-engine/circulation"
)

// =============================================================================
// BOOKS
// =============================================================================

// BookDTO represents a catalog book in API responses.
type BookDTO struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	ISBN            string `json:"isbn,omitempty"`
	Genre           string `json:"genre,omitempty"`
	PublishedYear   int    `json:"published_year,omitempty"`
	TotalCopies     int    `json:"total_copies"`
	AvailableCopies int    `json:"available_copies"`
	IsActive        bool   `json:"is_active"`
}

// CreateBookRequest is the request to add a book to the catalog.
type CreateBookRequest struct {
	Title         string `json:"title"`
	Author        string `json:"author"`
	ISBN          string `json:"isbn"`
	Genre         string `json:"genre"`
	PublishedYear int    `json:"published_year"`
	TotalCopies   int    `json:"total_copies"`
}

// UpdateBookRequest carries a partial book update.
type UpdateBookRequest struct {
	Title         *string `json:"title,omitempty"`
	Author        *string `json:"author,omitempty"`
	ISBN          *string `json:"isbn,omitempty"`
	Genre         *string `json:"genre,omitempty"`
	PublishedYear *int    `json:"published_year,omitempty"`
	TotalCopies   *int    `json:"total_copies,omitempty"`
	IsActive      *bool   `json:"is_active,omitempty"`
}

// =============================================================================
// MEMBERS
// =============================================================================

// MemberDTO represents a member in API responses.
type MemberDTO struct {
	ID               string `json:"id"`
	FullName         string `json:"full_name"`
	Email            string `json:"email"`
	Phone            string `json:"phone,omitempty"`
	Address          string `json:"address,omitempty"`
	RegistrationDate string `json:"registration_date"`
	TotalBorrowed    int    `json:"total_borrowed"`
	CurrentBorrowed  int    `json:"current_borrowed"`
	IsActive         bool   `json:"is_active"`
}

// CreateMemberRequest is the request to register a member.
type CreateMemberRequest struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
}

// UpdateMemberRequest carries a partial member update.
type UpdateMemberRequest struct {
	FullName *string `json:"full_name,omitempty"`
	Email    *string `json:"email,omitempty"`
	Phone    *string `json:"phone,omitempty"`
	Address  *string `json:"address,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

// MemberDetailDTO is a member with their loan and penalty history.
type MemberDetailDTO struct {
	MemberDTO
	Borrowings []BorrowingDTO `json:"borrowings"`
	Penalties  []PenaltyDTO   `json:"penalties"`
}

// =============================================================================
// BORROWINGS
// =============================================================================

// BorrowingDTO represents a loan in API responses. MemberName, BookTitle
// and DaysLate are filled on the joined listings only.
type BorrowingDTO struct {
	ID         string  `json:"id"`
	MemberID   string  `json:"member_id"`
	BookID     string  `json:"book_id"`
	StaffID    string  `json:"staff_id,omitempty"`
	BorrowDate string  `json:"borrow_date"`
	DueDate    string  `json:"due_date"`
	ReturnDate *string `json:"return_date,omitempty"`
	Status     string  `json:"status"`
	Notes      string  `json:"notes,omitempty"`
	MemberName string  `json:"member_name,omitempty"`
	BookTitle  string  `json:"book_title,omitempty"`
	DaysLate   *int    `json:"days_late,omitempty"`
}

// IssueLoanRequest is the request to lend a book.
type IssueLoanRequest struct {
	MemberID string `json:"member_id"`
	BookID   string `json:"book_id"`
	Days     int    `json:"days,omitempty"`
}

// ReturnLoanRequest is the request body for returning a loan.
type ReturnLoanRequest struct {
	Notes string `json:"notes,omitempty"`
}

// =============================================================================
// PENALTIES
// =============================================================================

// PenaltyDTO represents a penalty in API responses.
type PenaltyDTO struct {
	ID         string          `json:"id"`
	MemberID   string          `json:"member_id"`
	BorrowID   string          `json:"borrowing_id,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Reason     string          `json:"reason,omitempty"`
	IssuedDate string          `json:"issued_date"`
	Status     string          `json:"status"`
	PaidDate   *string         `json:"paid_date,omitempty"`
	PaidAmount decimal.Decimal `json:"paid_amount"`
	Notes      string          `json:"notes,omitempty"`
	MemberName string          `json:"member_name,omitempty"`
}

// CreatePenaltyRequest is the request to issue a manual penalty.
type CreatePenaltyRequest struct {
	MemberID string          `json:"member_id"`
	BorrowID string          `json:"borrowing_id,omitempty"`
	Amount   decimal.Decimal `json:"amount"`
	Reason   string          `json:"reason"`
}

// PayPenaltyRequest is the request to settle a penalty. A zero or omitted
// amount pays the outstanding amount.
type PayPenaltyRequest struct {
	PaidAmount decimal.Decimal `json:"paid_amount"`
	Notes      string          `json:"notes,omitempty"`
}

// =============================================================================
// STATISTICS
// =============================================================================

// StatsDTO is the dashboard summary.
type StatsDTO struct {
	TotalBooks       int             `json:"total_books"`
	TotalMembers     int             `json:"total_members"`
	ActiveBorrowings int             `json:"active_borrowings"`
	LateBorrowings   int             `json:"late_borrowings"`
	TotalPenalties   decimal.Decimal `json:"total_penalties"`
	UnpaidPenalties  decimal.Decimal `json:"unpaid_penalties"`
}

// PopularBookDTO is one row of the popular-books ranking.
type PopularBookDTO struct {
	BookID      string `json:"book_id"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	Genre       string `json:"genre,omitempty"`
	BorrowCount int    `json:"borrow_count"`
}

// MemberActivityDTO is one row of the active-members ranking.
type MemberActivityDTO struct {
	MemberID        string          `json:"member_id"`
	FullName        string          `json:"full_name"`
	Email           string          `json:"email"`
	TotalBorrowed   int             `json:"total_borrowed"`
	CurrentBorrowed int             `json:"current_borrowed"`
	UnpaidPenalties decimal.Decimal `json:"unpaid_penalties"`
}

// MemberStatisticsDTO is the per-member drill-down.
type MemberStatisticsDTO struct {
	MemberID           string          `json:"member_id"`
	FullName           string          `json:"full_name"`
	TotalBorrowed      int             `json:"total_borrowed"`
	CurrentBorrowed    int             `json:"current_borrowed"`
	TotalPenalties     int             `json:"total_penalties"`
	UnpaidPenalties    int             `json:"unpaid_penalties"`
	TotalPenaltyAmount decimal.Decimal `json:"total_penalty_amount"`
	LateReturns        int             `json:"late_returns"`
}

// SweepResponse reports a sweep run.
type SweepResponse struct {
	Transitioned int `json:"transitioned"`
}

// RecountResponse reports a counter recount.
type RecountResponse struct {
	Corrected int `json:"corrected"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toBookDTO(b circulation.Book) BookDTO {
	return BookDTO{
		ID:              string(b.ID),
		Title:           b.Title,
		Author:          b.Author,
		ISBN:            b.ISBN,
		Genre:           b.Genre,
		PublishedYear:   b.PublishedYear,
		TotalCopies:     b.TotalCopies,
		AvailableCopies: b.AvailableCopies,
		IsActive:        b.IsActive,
	}
}

func toMemberDTO(m circulation.Member) MemberDTO {
	return MemberDTO{
		ID:               string(m.ID),
		FullName:         m.FullName,
		Email:            m.Email,
		Phone:            m.Phone,
		Address:          m.Address,
		RegistrationDate: m.RegistrationDate.String(),
		TotalBorrowed:    m.TotalBorrowed,
		CurrentBorrowed:  m.CurrentBorrowed,
		IsActive:         m.IsActive,
	}
}

func toBorrowingDTO(b circulation.Borrowing) BorrowingDTO {
	dto := BorrowingDTO{
		ID:         string(b.ID),
		MemberID:   string(b.MemberID),
		BookID:     string(b.BookID),
		StaffID:    b.StaffID,
		BorrowDate: b.BorrowDate.String(),
		DueDate:    b.DueDate.String(),
		Status:     string(b.Status),
		Notes:      b.Notes,
	}
	if b.ReturnDate != nil {
		dto.ReturnDate = strPtr(b.ReturnDate.String())
	}
	return dto
}

func toBorrowingDetailDTO(d circulation.BorrowingDetail) BorrowingDTO {
	dto := toBorrowingDTO(d.Borrowing)
	dto.MemberName = d.MemberName
	dto.BookTitle = d.BookTitle
	dto.DaysLate = d.DaysLate
	return dto
}

func toPenaltyDTO(p circulation.Penalty) PenaltyDTO {
	dto := PenaltyDTO{
		ID:         string(p.ID),
		MemberID:   string(p.MemberID),
		BorrowID:   string(p.BorrowID),
		Amount:     p.Amount,
		Reason:     p.Reason,
		IssuedDate: p.IssuedDate.String(),
		Status:     string(p.Status),
		PaidAmount: p.PaidAmount,
		Notes:      p.Notes,
	}
	if p.PaidDate != nil {
		dto.PaidDate = strPtr(p.PaidDate.String())
	}
	return dto
}

func toPenaltyDetailDTO(d circulation.PenaltyDetail) PenaltyDTO {
	dto := toPenaltyDTO(d.Penalty)
	dto.MemberName = d.MemberName
	return dto
}

func strPtr(s string) *string {
	return &s
}
