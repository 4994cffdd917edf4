// Package testutil provides testing utilities for the bike crawler.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// MockResponse defines the behavior for one mock bookingproposals response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// RecordedRequest is what the mock saw for one request.
type RecordedRequest struct {
	Path          string
	Query         map[string]string
	Authorization string
	UserAgent     string
}

// MockAPI is a configurable mock of the bookingproposals endpoint.
// Responses are chosen by the offset query parameter; offsets without an
// explicit response get the default one.
type MockAPI struct {
	server *httptest.Server

	mu        sync.RWMutex
	responses map[int]MockResponse
	fallback  MockResponse
	dropAfter int // 1-based request number whose connection is closed; 0 disables
	requests  []RecordedRequest
}

// NewMockAPI creates a new mock API server answering every page with body.
func NewMockAPI(body string) *MockAPI {
	mock := &MockAPI{
		responses: make(map[int]MockResponse),
		fallback:  NewHealthyResponse(body),
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the base URL of the mock, with a trailing slash like the real API.
func (m *MockAPI) URL() string {
	return m.server.URL + "/flinkster-api-ng/v1/"
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// Reset clears recorded requests.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
}

// SetResponse configures the response for one offset.
func (m *MockAPI) SetResponse(offset int, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[offset] = resp
}

// SetDefaultResponse configures the response for offsets without their own.
func (m *MockAPI) SetDefaultResponse(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = resp
}

// FailRequest makes the n-th request (1-based) fail at the transport level
// by closing the connection without a response.
func (m *MockAPI) FailRequest(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropAfter = n
}

// Requests returns a copy of the recorded requests in arrival order.
func (m *MockAPI) Requests() []RecordedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RecordedRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockAPI) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// Offsets returns the offset parameter of every recorded request.
func (m *MockAPI) Offsets() []int {
	var offsets []int
	for _, r := range m.Requests() {
		n, _ := strconv.Atoi(r.Query["offset"])
		offsets = append(offsets, n)
	}
	return offsets
}

func (m *MockAPI) handle(w http.ResponseWriter, r *http.Request) {
	query := make(map[string]string)
	for key := range r.URL.Query() {
		query[key] = r.URL.Query().Get(key)
	}

	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{
		Path:          r.URL.Path,
		Query:         query,
		Authorization: r.Header.Get("Authorization"),
		UserAgent:     r.Header.Get("User-Agent"),
	})
	drop := m.dropAfter > 0 && len(m.requests) == m.dropAfter
	offset, _ := strconv.Atoi(query["offset"])
	resp, ok := m.responses[offset]
	if !ok {
		resp = m.fallback
	}
	m.mu.Unlock()

	if drop {
		hijacker, ok := w.(http.Hijacker)
		if !ok {
			panic("testutil: response writer does not support hijacking")
		}
		conn, _, err := hijacker.Hijack()
		if err == nil {
			conn.Close()
		}
		return
	}

	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-r.Context().Done():
			return
		}
	}

	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	// Fresh connection per request, so a dropped request surfaces as an
	// error instead of being retried on a reused connection.
	w.Header().Set("Connection", "close")
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// NewHealthyResponse creates a standard 200 OK JSON response.
func NewHealthyResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers: map[string]string{
			"Content-Type": "application/json;charset=UTF-8",
		},
	}
}

// NewUnauthorizedResponse creates the 401 the API sends for a bad token.
func NewUnauthorizedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusUnauthorized,
		Body:       `{"fault":{"faultstring":"Invalid Access Token","detail":{"errorcode":"keymanagement.service.invalid_access_token"}}}`,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}
