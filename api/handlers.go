/*
handlers.go - HTTP API handlers for the circulation engine

PURPOSE:
  Exposes the circulation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Books:
    GET    /api/books                  List/search the catalog
    POST   /api/books                  Add a book
    GET    /api/books/genres           Distinct genres in the catalog
    GET    /api/books/{id}             Get a book
    PUT    /api/books/{id}             Update a book
    DELETE /api/books/{id}            Remove a book (blocked by live loans)

  Members:
    GET    /api/members                List/search members
    POST   /api/members                Register a member
    GET    /api/members/{id}           Member with loan/penalty history
    GET    /api/members/{id}/statistics Per-member statistics

  Borrowings:
    POST   /api/borrowings             Issue a loan
    PUT    /api/borrowings/{id}/return Return a loan
    PUT    /api/borrowings/{id}/lost   Write off a lost loan
    GET    /api/borrowings             List loans (joined with names)
    GET    /api/borrowings/late        Overdue loans with days late

  Penalties:
    GET    /api/penalties              List penalties
    POST   /api/penalties              Issue a manual penalty
    PUT    /api/penalties/{id}/pay     Settle a penalty
    PUT    /api/penalties/{id}/waive   Waive a penalty

  Stats/Admin:
    GET    /api/stats                  Dashboard summary
    POST   /api/admin/sweep            Run the overdue sweep now
    POST   /api/admin/recount          Repair the derived counters

ERROR HANDLING:
  Domain errors map onto HTTP statuses:
  - 404: NotFound sentinels
  - 409: State conflicts (out of stock, ineligible status, duplicates)
  - 400: Other precondition failures and invalid input
  - 500: Internal errors

SECURITY NOTE:
  No authentication. The Authorization bearer, when present, is passed
  through verbatim as the issuing staff id and never verified here.

SEE ALSO:
  - dto.go: Request/response data structures
  - seed.go: Demo data loader
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kutubxona/circulation-engine/circulation"
	"github.com/kutubxona/circulation-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *circulation.Engine
	Store  *sqlite.Store
}

// NewHandler creates a new handler with the given engine and store.
func NewHandler(engine *circulation.Engine, store *sqlite.Store) *Handler {
	return &Handler{Engine: engine, Store: store}
}

// staffID extracts the opaque caller identity from the Authorization
// header. No verification happens here; auth is an upstream concern.
func staffID(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}

// =============================================================================
// BOOK HANDLERS
// =============================================================================

// ListBooks returns the catalog, optionally filtered.
func (h *Handler) ListBooks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := circulation.BookFilter{
		Search:        q.Get("search"),
		Genre:         q.Get("genre"),
		AvailableOnly: q.Get("available") == "true",
		Limit:         queryInt(r, "limit"),
	}

	books, err := h.Engine.ListBooks(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list books", err)
		return
	}

	dtos := make([]BookDTO, len(books))
	for i, b := range books {
		dtos[i] = toBookDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListGenres returns the distinct genres in the catalog.
func (h *Handler) ListGenres(w http.ResponseWriter, r *http.Request) {
	genres, err := h.Store.ListGenres(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list genres", err)
		return
	}
	if genres == nil {
		genres = []string{}
	}
	writeJSON(w, http.StatusOK, genres)
}

// CreateBook adds a book to the catalog.
func (h *Handler) CreateBook(w http.ResponseWriter, r *http.Request) {
	var req CreateBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Title == "" || req.Author == "" {
		writeError(w, http.StatusBadRequest, "title and author are required", nil)
		return
	}

	book, err := h.Engine.CreateBook(r.Context(), circulation.Book{
		Title:         req.Title,
		Author:        req.Author,
		ISBN:          req.ISBN,
		Genre:         req.Genre,
		PublishedYear: req.PublishedYear,
		TotalCopies:   req.TotalCopies,
	})
	if err != nil {
		writeDomainError(w, "Failed to create book", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookDTO(*book))
}

// GetBook returns a single book.
func (h *Handler) GetBook(w http.ResponseWriter, r *http.Request) {
	id := circulation.BookID(chi.URLParam(r, "id"))

	book, err := h.Engine.GetBook(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get book", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookDTO(*book))
}

// UpdateBook applies a partial update to a book.
func (h *Handler) UpdateBook(w http.ResponseWriter, r *http.Request) {
	id := circulation.BookID(chi.URLParam(r, "id"))

	var req UpdateBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	existing, err := h.Engine.GetBook(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get book", err)
		return
	}

	next := *existing
	if req.Title != nil {
		next.Title = *req.Title
	}
	if req.Author != nil {
		next.Author = *req.Author
	}
	if req.ISBN != nil {
		next.ISBN = *req.ISBN
	}
	if req.Genre != nil {
		next.Genre = *req.Genre
	}
	if req.PublishedYear != nil {
		next.PublishedYear = *req.PublishedYear
	}
	if req.TotalCopies != nil {
		next.TotalCopies = *req.TotalCopies
	}
	if req.IsActive != nil {
		next.IsActive = *req.IsActive
	}

	updated, err := h.Engine.UpdateBook(r.Context(), next)
	if err != nil {
		writeDomainError(w, "Failed to update book", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookDTO(*updated))
}

// DeleteBook removes a book from the catalog.
func (h *Handler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	id := circulation.BookID(chi.URLParam(r, "id"))

	if err := h.Engine.DeleteBook(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to delete book", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// MEMBER HANDLERS
// =============================================================================

// ListMembers returns members, optionally filtered.
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := circulation.MemberFilter{
		Search:     q.Get("search"),
		ActiveOnly: q.Get("active") == "true",
		Limit:      queryInt(r, "limit"),
	}

	members, err := h.Engine.ListMembers(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list members", err)
		return
	}

	dtos := make([]MemberDTO, len(members))
	for i, m := range members {
		dtos[i] = toMemberDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateMember registers a new member.
func (h *Handler) CreateMember(w http.ResponseWriter, r *http.Request) {
	var req CreateMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.FullName == "" || req.Email == "" {
		writeError(w, http.StatusBadRequest, "full_name and email are required", nil)
		return
	}

	member, err := h.Engine.RegisterMember(r.Context(), circulation.Member{
		FullName: req.FullName,
		Email:    req.Email,
		Phone:    req.Phone,
		Address:  req.Address,
	})
	if err != nil {
		writeDomainError(w, "Failed to create member", err)
		return
	}
	writeJSON(w, http.StatusCreated, toMemberDTO(*member))
}

// GetMember returns a member with their loan and penalty history.
func (h *Handler) GetMember(w http.ResponseWriter, r *http.Request) {
	id := circulation.MemberID(chi.URLParam(r, "id"))
	ctx := r.Context()

	member, err := h.Engine.GetMember(ctx, id)
	if err != nil {
		writeDomainError(w, "Failed to get member", err)
		return
	}

	borrowings, err := h.Engine.ListBorrowings(ctx, circulation.BorrowingFilter{MemberID: id})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list borrowings", err)
		return
	}
	penalties, err := h.Engine.ListPenalties(ctx, circulation.PenaltyFilter{MemberID: id})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list penalties", err)
		return
	}

	detail := MemberDetailDTO{
		MemberDTO:  toMemberDTO(*member),
		Borrowings: make([]BorrowingDTO, len(borrowings)),
		Penalties:  make([]PenaltyDTO, len(penalties)),
	}
	for i, b := range borrowings {
		detail.Borrowings[i] = toBorrowingDTO(b)
	}
	for i, p := range penalties {
		detail.Penalties[i] = toPenaltyDTO(p)
	}
	writeJSON(w, http.StatusOK, detail)
}

// UpdateMember applies a partial update to a member.
func (h *Handler) UpdateMember(w http.ResponseWriter, r *http.Request) {
	id := circulation.MemberID(chi.URLParam(r, "id"))

	var req UpdateMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	existing, err := h.Engine.GetMember(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get member", err)
		return
	}

	next := *existing
	if req.FullName != nil {
		next.FullName = *req.FullName
	}
	if req.Email != nil {
		next.Email = *req.Email
	}
	if req.Phone != nil {
		next.Phone = *req.Phone
	}
	if req.Address != nil {
		next.Address = *req.Address
	}
	if req.IsActive != nil {
		next.IsActive = *req.IsActive
	}

	updated, err := h.Engine.UpdateMember(r.Context(), next)
	if err != nil {
		writeDomainError(w, "Failed to update member", err)
		return
	}
	writeJSON(w, http.StatusOK, toMemberDTO(*updated))
}

// DeleteMember removes a member record.
func (h *Handler) DeleteMember(w http.ResponseWriter, r *http.Request) {
	id := circulation.MemberID(chi.URLParam(r, "id"))

	if err := h.Engine.DeleteMember(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to delete member", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetMemberStatistics returns the per-member drill-down.
func (h *Handler) GetMemberStatistics(w http.ResponseWriter, r *http.Request) {
	id := circulation.MemberID(chi.URLParam(r, "id"))

	stats, err := h.Store.MemberStatistics(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get member statistics", err)
		return
	}
	if stats == nil {
		writeError(w, http.StatusNotFound, "Member not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, MemberStatisticsDTO{
		MemberID:           string(stats.MemberID),
		FullName:           stats.FullName,
		TotalBorrowed:      stats.TotalBorrowed,
		CurrentBorrowed:    stats.CurrentBorrowed,
		TotalPenalties:     stats.TotalPenalties,
		UnpaidPenalties:    stats.UnpaidPenalties,
		TotalPenaltyAmount: stats.TotalPenaltyAmount,
		LateReturns:        stats.LateReturns,
	})
}

// =============================================================================
// BORROWING HANDLERS
// =============================================================================

// IssueLoan lends a book to a member.
func (h *Handler) IssueLoan(w http.ResponseWriter, r *http.Request) {
	var req IssueLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.MemberID == "" || req.BookID == "" {
		writeError(w, http.StatusBadRequest, "member_id and book_id are required", nil)
		return
	}

	borrowing, err := h.Engine.IssueLoan(r.Context(),
		circulation.MemberID(req.MemberID),
		circulation.BookID(req.BookID),
		staffID(r),
		req.Days,
	)
	if err != nil {
		writeDomainError(w, "Failed to issue loan", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBorrowingDTO(*borrowing))
}

// ReturnLoan records the return of a loan.
func (h *Handler) ReturnLoan(w http.ResponseWriter, r *http.Request) {
	id := circulation.BorrowID(chi.URLParam(r, "id"))

	var req ReturnLoanRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	borrowing, err := h.Engine.ReturnLoan(r.Context(), id, req.Notes)
	if err != nil {
		writeDomainError(w, "Failed to return loan", err)
		return
	}
	writeJSON(w, http.StatusOK, toBorrowingDTO(*borrowing))
}

// MarkLoanLost writes off a lost loan.
func (h *Handler) MarkLoanLost(w http.ResponseWriter, r *http.Request) {
	id := circulation.BorrowID(chi.URLParam(r, "id"))

	borrowing, err := h.Engine.MarkLoanLost(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to mark loan lost", err)
		return
	}
	writeJSON(w, http.StatusOK, toBorrowingDTO(*borrowing))
}

// ListBorrowings returns loans joined with member and book names.
func (h *Handler) ListBorrowings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := circulation.BorrowingFilter{
		Status:   circulation.BorrowStatus(q.Get("status")),
		MemberID: circulation.MemberID(q.Get("member_id")),
		BookID:   circulation.BookID(q.Get("book_id")),
		Limit:    queryInt(r, "limit"),
	}

	details, err := h.Store.ListBorrowingDetails(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list borrowings", err)
		return
	}

	dtos := make([]BorrowingDTO, len(details))
	for i, d := range details {
		dtos[i] = toBorrowingDetailDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListLateBorrowings returns active loans past due, with days late.
func (h *Handler) ListLateBorrowings(w http.ResponseWriter, r *http.Request) {
	details, err := h.Store.LateBorrowings(r.Context(), circulation.Today())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list late borrowings", err)
		return
	}

	dtos := make([]BorrowingDTO, len(details))
	for i, d := range details {
		dtos[i] = toBorrowingDetailDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// PENALTY HANDLERS
// =============================================================================

// ListPenalties returns penalties joined with member names.
func (h *Handler) ListPenalties(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := circulation.PenaltyFilter{
		Status:   circulation.PenaltyStatus(q.Get("status")),
		MemberID: circulation.MemberID(q.Get("member_id")),
		Limit:    queryInt(r, "limit"),
	}

	details, err := h.Store.ListPenaltyDetails(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list penalties", err)
		return
	}

	dtos := make([]PenaltyDTO, len(details))
	for i, d := range details {
		dtos[i] = toPenaltyDetailDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePenalty issues a manual penalty.
func (h *Handler) CreatePenalty(w http.ResponseWriter, r *http.Request) {
	var req CreatePenaltyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.MemberID == "" || !req.Amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "member_id and a positive amount are required", nil)
		return
	}

	penalty, err := h.Engine.CreatePenalty(r.Context(),
		circulation.MemberID(req.MemberID),
		circulation.BorrowID(req.BorrowID),
		req.Amount,
		req.Reason,
	)
	if err != nil {
		writeDomainError(w, "Failed to create penalty", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPenaltyDTO(*penalty))
}

// PayPenalty settles an unpaid penalty.
func (h *Handler) PayPenalty(w http.ResponseWriter, r *http.Request) {
	id := circulation.PenaltyID(chi.URLParam(r, "id"))

	var req PayPenaltyRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	if req.PaidAmount.IsNegative() {
		writeError(w, http.StatusBadRequest, "paid_amount cannot be negative", nil)
		return
	}

	penalty, err := h.Engine.PayPenalty(r.Context(), id, req.PaidAmount, req.Notes)
	if err != nil {
		writeDomainError(w, "Failed to pay penalty", err)
		return
	}
	writeJSON(w, http.StatusOK, toPenaltyDTO(*penalty))
}

// WaivePenalty cancels an unpaid penalty.
func (h *Handler) WaivePenalty(w http.ResponseWriter, r *http.Request) {
	id := circulation.PenaltyID(chi.URLParam(r, "id"))

	penalty, err := h.Engine.WaivePenalty(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to waive penalty", err)
		return
	}
	writeJSON(w, http.StatusOK, toPenaltyDTO(*penalty))
}

// =============================================================================
// STATISTICS HANDLERS
// =============================================================================

// GetStats returns the dashboard summary.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Store.GetStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get stats", err)
		return
	}

	writeJSON(w, http.StatusOK, StatsDTO{
		TotalBooks:       stats.TotalBooks,
		TotalMembers:     stats.TotalMembers,
		ActiveBorrowings: stats.ActiveBorrowings,
		LateBorrowings:   stats.LateBorrowings,
		TotalPenalties:   stats.TotalPenalties,
		UnpaidPenalties:  stats.UnpaidPenalties,
	})
}

// GetPopularBooks returns the most-borrowed books.
func (h *Handler) GetPopularBooks(w http.ResponseWriter, r *http.Request) {
	popular, err := h.Store.PopularBooks(r.Context(), queryInt(r, "limit"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get popular books", err)
		return
	}

	dtos := make([]PopularBookDTO, len(popular))
	for i, p := range popular {
		dtos[i] = PopularBookDTO{
			BookID:      string(p.BookID),
			Title:       p.Title,
			Author:      p.Author,
			Genre:       p.Genre,
			BorrowCount: p.BorrowCount,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetActiveMembers returns the most active members.
func (h *Handler) GetActiveMembers(w http.ResponseWriter, r *http.Request) {
	active, err := h.Store.ActiveMembers(r.Context(), queryInt(r, "limit"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get active members", err)
		return
	}

	dtos := make([]MemberActivityDTO, len(active))
	for i, m := range active {
		dtos[i] = MemberActivityDTO{
			MemberID:        string(m.MemberID),
			FullName:        m.FullName,
			Email:           m.Email,
			TotalBorrowed:   m.TotalBorrowed,
			CurrentBorrowed: m.CurrentBorrowed,
			UnpaidPenalties: m.UnpaidPenalties,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerSweep runs the overdue sweep immediately.
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	transitioned, err := h.Engine.SweepOverdue(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to sweep overdue loans", err)
		return
	}
	writeJSON(w, http.StatusOK, SweepResponse{Transitioned: transitioned})
}

// TriggerRecount recomputes the derived counters from the loan ledger.
func (h *Handler) TriggerRecount(w http.ResponseWriter, r *http.Request) {
	corrected, err := h.Store.RecountCatalog(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to recount catalog", err)
		return
	}
	writeJSON(w, http.StatusOK, RecountResponse{Corrected: corrected})
}

// ResetDatabase clears all data (dev/demo only).
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps circulation errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case circulation.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case circulation.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case circulation.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
