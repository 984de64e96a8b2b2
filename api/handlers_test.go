/*
handlers_test.go - HTTP-level tests for the API

Tests run against the full router with an in-memory store: real routing,
middleware, JSON encoding and domain error mapping.
*/
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kutubxona/circulation-engine/circulation"
	"github.com/kutubxona/circulation-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	engine := circulation.NewEngine(store, circulation.Config{})
	server := httptest.NewServer(NewRouter(NewHandler(engine, store)))
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method, url string, body any, out any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer staff-7")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func createBook(t *testing.T, server *httptest.Server, title string, copies int) BookDTO {
	t.Helper()
	var book BookDTO
	resp := doJSON(t, http.MethodPost, server.URL+"/api/books", CreateBookRequest{
		Title: title, Author: "Author", TotalCopies: copies,
	}, &book)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return book
}

func createMember(t *testing.T, server *httptest.Server, name, email string) MemberDTO {
	t.Helper()
	var member MemberDTO
	resp := doJSON(t, http.MethodPost, server.URL+"/api/members", CreateMemberRequest{
		FullName: name, Email: email,
	}, &member)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return member
}

// =============================================================================
// BORROWING FLOW
// =============================================================================

func TestIssueAndReturnLoan_HTTP(t *testing.T) {
	// GIVEN: A book and a member created over the API
	// WHEN: A loan is issued and then returned
	// THEN: The responses carry the lifecycle and the catalog reflects it

	server := newTestServer(t)

	book := createBook(t, server, "O'tkan kunlar", 2)
	member := createMember(t, server, "Aziza Karimova", "aziza@example.com")

	var loan BorrowingDTO
	resp := doJSON(t, http.MethodPost, server.URL+"/api/borrowings", IssueLoanRequest{
		MemberID: member.ID, BookID: book.ID,
	}, &loan)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "borrowed", loan.Status)
	assert.Equal(t, "staff-7", loan.StaffID, "bearer token recorded as staff id")
	assert.NotEmpty(t, loan.DueDate)

	var gotBook BookDTO
	resp = doJSON(t, http.MethodGet, server.URL+"/api/books/"+book.ID, nil, &gotBook)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, gotBook.AvailableCopies)

	var returned BorrowingDTO
	resp = doJSON(t, http.MethodPut, server.URL+"/api/borrowings/"+loan.ID+"/return", ReturnLoanRequest{
		Notes: "fine",
	}, &returned)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "returned", returned.Status)
	require.NotNil(t, returned.ReturnDate)

	// Returning again conflicts.
	resp = doJSON(t, http.MethodPut, server.URL+"/api/borrowings/"+loan.ID+"/return", nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestIssueLoan_HTTP_Validation(t *testing.T) {
	server := newTestServer(t)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/borrowings", IssueLoanRequest{}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, server.URL+"/api/borrowings", IssueLoanRequest{
		MemberID: "ghost", BookID: "ghost",
	}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIssueLoan_HTTP_OutOfStockConflict(t *testing.T) {
	server := newTestServer(t)

	book := createBook(t, server, "Sarob", 1)
	first := createMember(t, server, "Aziza", "aziza@example.com")
	second := createMember(t, server, "Bobur", "bobur@example.com")

	resp := doJSON(t, http.MethodPost, server.URL+"/api/borrowings", IssueLoanRequest{
		MemberID: first.ID, BookID: book.ID,
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var errResp ErrorResponse
	resp = doJSON(t, http.MethodPost, server.URL+"/api/borrowings", IssueLoanRequest{
		MemberID: second.ID, BookID: book.ID,
	}, &errResp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.NotEmpty(t, errResp.Error)
}

func TestMarkLoanLost_HTTP(t *testing.T) {
	server := newTestServer(t)

	book := createBook(t, server, "Sarob", 2)
	member := createMember(t, server, "Aziza", "aziza@example.com")

	var loan BorrowingDTO
	resp := doJSON(t, http.MethodPost, server.URL+"/api/borrowings", IssueLoanRequest{
		MemberID: member.ID, BookID: book.ID,
	}, &loan)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var lost BorrowingDTO
	resp = doJSON(t, http.MethodPut, server.URL+"/api/borrowings/"+loan.ID+"/lost", nil, &lost)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "lost", lost.Status)

	var gotBook BookDTO
	resp = doJSON(t, http.MethodGet, server.URL+"/api/books/"+book.ID, nil, &gotBook)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, gotBook.TotalCopies)
	assert.Equal(t, 1, gotBook.AvailableCopies)
}

// =============================================================================
// CATALOG
// =============================================================================

func TestUpdateBook_HTTP_PartialUpdate(t *testing.T) {
	server := newTestServer(t)

	book := createBook(t, server, "Draft title", 1)

	newTitle := "Final title"
	var updated BookDTO
	resp := doJSON(t, http.MethodPut, server.URL+"/api/books/"+book.ID, UpdateBookRequest{
		Title: &newTitle,
	}, &updated)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Final title", updated.Title)
	assert.Equal(t, "Author", updated.Author, "untouched fields survive")
	assert.Equal(t, 1, updated.TotalCopies)
}

func TestListGenres_HTTP(t *testing.T) {
	server := newTestServer(t)

	// Empty catalog still yields a JSON array.
	var genres []string
	resp := doJSON(t, http.MethodGet, server.URL+"/api/books/genres", nil, &genres)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, genres)

	for _, req := range []CreateBookRequest{
		{Title: "A", Author: "X", Genre: "Novel", TotalCopies: 1},
		{Title: "B", Author: "X", Genre: "Technical", TotalCopies: 1},
		{Title: "C", Author: "X", Genre: "Novel", TotalCopies: 1},
	} {
		resp := doJSON(t, http.MethodPost, server.URL+"/api/books", req, nil)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, server.URL+"/api/books/genres", nil, &genres)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"Novel", "Technical"}, genres)
}

func TestDeleteBook_HTTP_ConflictWithActiveLoan(t *testing.T) {
	server := newTestServer(t)

	book := createBook(t, server, "Sarob", 1)
	member := createMember(t, server, "Aziza", "aziza@example.com")

	resp := doJSON(t, http.MethodPost, server.URL+"/api/borrowings", IssueLoanRequest{
		MemberID: member.ID, BookID: book.ID,
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, http.MethodDelete, server.URL+"/api/books/"+book.ID, nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCreateMember_HTTP_DuplicateEmail(t *testing.T) {
	server := newTestServer(t)

	createMember(t, server, "Aziza", "aziza@example.com")

	resp := doJSON(t, http.MethodPost, server.URL+"/api/members", CreateMemberRequest{
		FullName: "Other", Email: "aziza@example.com",
	}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestGetMember_HTTP_IncludesHistory(t *testing.T) {
	server := newTestServer(t)

	book := createBook(t, server, "Sarob", 1)
	member := createMember(t, server, "Aziza", "aziza@example.com")

	resp := doJSON(t, http.MethodPost, server.URL+"/api/borrowings", IssueLoanRequest{
		MemberID: member.ID, BookID: book.ID,
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var detail MemberDetailDTO
	resp = doJSON(t, http.MethodGet, server.URL+"/api/members/"+member.ID, nil, &detail)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, member.ID, detail.ID)
	assert.Len(t, detail.Borrowings, 1)
	assert.Empty(t, detail.Penalties)
	assert.Equal(t, 1, detail.CurrentBorrowed)
}

// =============================================================================
// PENALTIES
// =============================================================================

func TestPenaltyFlow_HTTP(t *testing.T) {
	// GIVEN: A manual penalty created over the API
	// WHEN: It is paid
	// THEN: The paid amount defaults to the full amount and re-paying
	//       conflicts

	server := newTestServer(t)
	member := createMember(t, server, "Aziza", "aziza@example.com")

	var penalty PenaltyDTO
	resp := doJSON(t, http.MethodPost, server.URL+"/api/penalties", map[string]any{
		"member_id": member.ID,
		"amount":    "5000",
		"reason":    "Damaged cover",
	}, &penalty)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "unpaid", penalty.Status)
	assert.Equal(t, "5000", penalty.Amount.String())

	var paid PenaltyDTO
	resp = doJSON(t, http.MethodPut, server.URL+"/api/penalties/"+penalty.ID+"/pay", nil, &paid)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "paid", paid.Status)
	assert.Equal(t, "5000", paid.PaidAmount.String())

	resp = doJSON(t, http.MethodPut, server.URL+"/api/penalties/"+penalty.ID+"/pay", nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCreatePenalty_HTTP_RequiresPositiveAmount(t *testing.T) {
	server := newTestServer(t)
	member := createMember(t, server, "Aziza", "aziza@example.com")

	resp := doJSON(t, http.MethodPost, server.URL+"/api/penalties", map[string]any{
		"member_id": member.ID,
		"amount":    "0",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// STATS AND ADMIN
// =============================================================================

func TestStatsAndAdmin_HTTP(t *testing.T) {
	server := newTestServer(t)

	book := createBook(t, server, "Sarob", 2)
	member := createMember(t, server, "Aziza", "aziza@example.com")

	resp := doJSON(t, http.MethodPost, server.URL+"/api/borrowings", IssueLoanRequest{
		MemberID: member.ID, BookID: book.ID,
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var stats StatsDTO
	resp = doJSON(t, http.MethodGet, server.URL+"/api/stats", nil, &stats)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, stats.TotalBooks)
	assert.Equal(t, 1, stats.TotalMembers)
	assert.Equal(t, 1, stats.ActiveBorrowings)
	assert.Equal(t, 0, stats.LateBorrowings)

	var popular []PopularBookDTO
	resp = doJSON(t, http.MethodGet, server.URL+"/api/stats/popular-books", nil, &popular)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, popular, 1)
	assert.Equal(t, 1, popular[0].BorrowCount)

	// Nothing is overdue, so the sweep is a no-op.
	var sweep SweepResponse
	resp = doJSON(t, http.MethodPost, server.URL+"/api/admin/sweep", nil, &sweep)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, sweep.Transitioned)

	// Counters are transactional, so the recount finds nothing to fix.
	var recount RecountResponse
	resp = doJSON(t, http.MethodPost, server.URL+"/api/admin/recount", nil, &recount)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, recount.Corrected)
}

func TestSeed_HTTP(t *testing.T) {
	server := newTestServer(t)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/admin/seed", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var books []BookDTO
	resp = doJSON(t, http.MethodGet, server.URL+"/api/books", nil, &books)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, books, 5)

	// The seed plants one loan already past due.
	var late []BorrowingDTO
	resp = doJSON(t, http.MethodGet, server.URL+"/api/borrowings/late", nil, &late)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, late, 1)
	require.NotNil(t, late[0].DaysLate)
	assert.Equal(t, 6, *late[0].DaysLate)
}
