// Package testutil provides testing utilities for the bulk ingestion core.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockResponse defines the behavior for one mock record endpoint.
type MockResponse struct {
	StatusCode int
	Body       string
	Delay      time.Duration

	// FailuresBeforeSuccess makes the first N requests for the id fail
	// with StatusCode, then succeed with Body.
	FailuresBeforeSuccess int
}

// NewRecordResponse returns a successful JSON record response for id.
func NewRecordResponse(id, name string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       fmt.Sprintf(`{"id":%q,"name":%q,"attributes":{"source":"mock"}}`, id, name),
	}
}

// NewNoDataResponse returns a 404 "no data for this id" response.
func NewNoDataResponse() MockResponse {
	return MockResponse{StatusCode: http.StatusNotFound}
}

// NewErrorResponse returns a permanent error response with the given status.
func NewErrorResponse(status int) MockResponse {
	return MockResponse{
		StatusCode: status,
		Body:       `{"error":"mock failure"}`,
	}
}

// NewFlakyResponse fails n requests with status, then succeeds for id.
func NewFlakyResponse(id string, status, n int) MockResponse {
	return MockResponse{
		StatusCode:            status,
		Body:                  fmt.Sprintf(`{"id":%q,"name":"recovered"}`, id),
		FailuresBeforeSuccess: n,
	}
}

// MockRemote is a configurable mock record service for testing. It serves
// GET /records/{id} and tracks request counts per id.
type MockRemote struct {
	server    *httptest.Server
	mu        sync.Mutex
	responses map[string]MockResponse
	attempts  map[string]int

	// RequestCount is the total number of requests served.
	RequestCount int

	// LastAuthorization is the Authorization header of the last request.
	LastAuthorization string
}

// NewMockRemote creates a new mock record service.
func NewMockRemote() *MockRemote {
	mock := &MockRemote{
		responses: make(map[string]MockResponse),
		attempts:  make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock server URL.
func (m *MockRemote) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockRemote) Close() {
	m.server.Close()
}

// SetResponse configures the response for one id.
func (m *MockRemote) SetResponse(id string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[id] = resp
}

// Attempts returns how many requests were made for id.
func (m *MockRemote) Attempts(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[id]
}

// Reset clears all tracking counters.
func (m *MockRemote) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.attempts = make(map[string]int)
}

func (m *MockRemote) handle(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/records/")

	m.mu.Lock()
	m.RequestCount++
	m.attempts[id]++
	attempt := m.attempts[id]
	m.LastAuthorization = r.Header.Get("Authorization")
	resp, configured := m.responses[id]
	m.mu.Unlock()

	if !configured {
		// Unconfigured ids succeed with a minimal record.
		resp = NewRecordResponse(id, "record-"+id)
	}

	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}

	if resp.FailuresBeforeSuccess > 0 && attempt <= resp.FailuresBeforeSuccess {
		w.WriteHeader(resp.StatusCode)
		fmt.Fprint(w, `{"error":"transient mock failure"}`)
		return
	}

	status := resp.StatusCode
	if resp.FailuresBeforeSuccess > 0 {
		// Past the scripted failures: succeed.
		status = http.StatusOK
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if resp.Body != "" && status != http.StatusNoContent {
		fmt.Fprint(w, resp.Body)
	}
}
