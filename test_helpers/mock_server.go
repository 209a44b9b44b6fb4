package test_helpers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const xrpcPrefix = "/xrpc/"

// Endpoint NSIDs served by MockPDS.
const (
	CreateSession  = "com.atproto.server.createSession"
	RefreshSession = "com.atproto.server.refreshSession"
	DeleteSession  = "com.atproto.server.deleteSession"
	ResolveHandle  = "com.atproto.identity.resolveHandle"
	UploadBlob     = "com.atproto.repo.uploadBlob"
	CreateRecord   = "com.atproto.repo.createRecord"
)

var signingKey = []byte("mock-pds-signing-key")

// MockPDS is an in-memory personal data server for one account. It issues
// real (HS256-signed) JWTs, rotates refresh tokens, resolves registered
// handles, stores uploaded blobs and created records, and can be told to
// fail any endpoint.
type MockPDS struct {
	server *httptest.Server

	handle   string
	did      string
	password string

	mu          sync.Mutex
	accessTTL   time.Duration
	refreshTTL  time.Duration
	serial      int
	access      map[string]time.Time
	refresh     map[string]time.Time
	handles     map[string]string
	failures    map[string]*MockResponse
	requestLog  []RequestEntry
	callCount   map[string]int
	records     []map[string]any
	blobs       [][]byte
	omitDIDDocs bool
}

// RequestEntry logs incoming requests for assertions
type RequestEntry struct {
	Method       string
	NSID         string
	Query        string
	Headers      http.Header
	Body         []byte
	Timestamp    time.Time
	ResponseCode int
}

// MockResponse defines a canned response that replaces an endpoint's
// normal behavior.
type MockResponse struct {
	Status  int
	Body    string
	Headers map[string]string
	Delay   time.Duration
	// Times limits how many requests the response applies to; 0 = unlimited.
	Times int
}

// NewMockPDS starts a server for the account handle/did that accepts
// password at createSession. Tokens default to a one hour access lifetime
// and a thirty day refresh lifetime.
func NewMockPDS(handle, did, password string) *MockPDS {
	m := &MockPDS{
		handle:     strings.ToLower(handle),
		did:        did,
		password:   password,
		accessTTL:  time.Hour,
		refreshTTL: 30 * 24 * time.Hour,
		access:     make(map[string]time.Time),
		refresh:    make(map[string]time.Time),
		handles:    map[string]string{strings.ToLower(handle): did},
		failures:   make(map[string]*MockResponse),
		callCount:  make(map[string]int),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.serveHTTP))
	return m
}

// URL returns the XRPC root of the server, for Config.BaseURL.
func (m *MockPDS) URL() string {
	return m.server.URL + xrpcPrefix
}

// ServerURL returns the origin advertised as the account's PDS endpoint.
func (m *MockPDS) ServerURL() string {
	return m.server.URL
}

// Client returns an HTTP client configured for the server.
func (m *MockPDS) Client() *http.Client {
	return m.server.Client()
}

// Close shuts down the server
func (m *MockPDS) Close() {
	m.server.Close()
}

// Handle returns the account handle.
func (m *MockPDS) Handle() string { return m.handle }

// DID returns the account DID.
func (m *MockPDS) DID() string { return m.did }

// SetTokenTTLs changes the lifetimes of tokens issued from now on.
func (m *MockPDS) SetTokenTTLs(access, refresh time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accessTTL = access
	m.refreshTTL = refresh
}

// OmitDIDDocs stops session responses from advertising a PDS endpoint.
func (m *MockPDS) OmitDIDDocs() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.omitDIDDocs = true
}

// AddHandle registers handle so resolveHandle returns did for it.
func (m *MockPDS) AddHandle(handle, did string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handles[strings.ToLower(handle)] = did
}

// IssueTokens mints a token pair the server will accept, as if from an
// earlier login. Lifetimes may be negative to produce expired tokens.
func (m *MockPDS) IssueTokens(accessTTL, refreshTTL time.Duration) (accessJwt, refreshJwt string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.issueLocked(accessTTL, refreshTTL)
}

// RevokeRefreshTokens invalidates every refresh token issued so far.
func (m *MockPDS) RevokeRefreshTokens() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh = make(map[string]time.Time)
}

// SetFailure makes nsid answer with resp instead of its normal behavior.
func (m *MockPDS) SetFailure(nsid string, resp *MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[nsid] = resp
}

// ClearFailure restores the normal behavior of nsid.
func (m *MockPDS) ClearFailure(nsid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failures, nsid)
}

// GetCallCount returns how many requests reached nsid
func (m *MockPDS) GetCallCount(nsid string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount[nsid]
}

// TotalCalls returns the number of requests served.
func (m *MockPDS) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, c := range m.callCount {
		total += c
	}
	return total
}

// GetRequestLog returns the request log
func (m *MockPDS) GetRequestLog() []RequestEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RequestEntry{}, m.requestLog...)
}

// GetLastRequest returns the last request made to nsid
func (m *MockPDS) GetLastRequest(nsid string) (*RequestEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.requestLog) - 1; i >= 0; i-- {
		if m.requestLog[i].NSID == nsid {
			entry := m.requestLog[i]
			return &entry, nil
		}
	}
	return nil, fmt.Errorf("no requests found for %s", nsid)
}

// AssertRequestCount asserts that a specific number of requests reached nsid
func (m *MockPDS) AssertRequestCount(nsid string, expected int) error {
	if actual := m.GetCallCount(nsid); actual != expected {
		return fmt.Errorf("expected %d requests to %s, got %d", expected, nsid, actual)
	}
	return nil
}

// ClearLog clears the request log and call counts
func (m *MockPDS) ClearLog() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestLog = m.requestLog[:0]
	m.callCount = make(map[string]int)
}

// WaitForRequests waits until at least count requests have been served
func (m *MockPDS) WaitForRequests(count int, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if m.TotalCalls() >= count {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for %d requests", count)
		case <-ticker.C:
		}
	}
}

// Records returns the records created so far, decoded as generic JSON.
func (m *MockPDS) Records() []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]any{}, m.records...)
}

// Blobs returns the uploaded blobs in upload order.
func (m *MockPDS) Blobs() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte{}, m.blobs...)
}

func (m *MockPDS) serveHTTP(w http.ResponseWriter, r *http.Request) {
	nsid := strings.TrimPrefix(r.URL.Path, xrpcPrefix)
	body, _ := io.ReadAll(r.Body)

	m.mu.Lock()
	m.callCount[nsid]++
	entry := RequestEntry{
		Method:    r.Method,
		NSID:      nsid,
		Query:     r.URL.RawQuery,
		Headers:   r.Header.Clone(),
		Body:      body,
		Timestamp: time.Now(),
	}
	failure := m.takeFailureLocked(nsid)
	m.mu.Unlock()

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	if failure != nil {
		serveCanned(rec, failure)
	} else {
		m.route(rec, r, nsid, body)
	}

	entry.ResponseCode = rec.status
	m.mu.Lock()
	m.requestLog = append(m.requestLog, entry)
	m.mu.Unlock()
}

func (m *MockPDS) takeFailureLocked(nsid string) *MockResponse {
	failure, ok := m.failures[nsid]
	if !ok {
		return nil
	}
	if failure.Times > 0 {
		failure.Times--
		if failure.Times == 0 {
			delete(m.failures, nsid)
		}
	}
	return failure
}

func serveCanned(w http.ResponseWriter, resp *MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	io.WriteString(w, resp.Body)
}

func (m *MockPDS) route(w http.ResponseWriter, r *http.Request, nsid string, body []byte) {
	switch nsid {
	case CreateSession:
		m.handleCreateSession(w, body)
	case RefreshSession:
		m.handleRefreshSession(w, r)
	case DeleteSession:
		m.handleDeleteSession(w, r)
	case ResolveHandle:
		m.handleResolveHandle(w, r)
	case UploadBlob:
		m.handleUploadBlob(w, r, body)
	case CreateRecord:
		m.handleCreateRecord(w, r, body)
	default:
		writeXRPCError(w, http.StatusNotImplemented, "MethodNotImplemented", "method not implemented")
	}
}

func (m *MockPDS) handleCreateSession(w http.ResponseWriter, body []byte) {
	var req struct {
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeXRPCError(w, http.StatusBadRequest, "InvalidRequest", "malformed body")
		return
	}

	id := strings.ToLower(req.Identifier)
	if (id != m.handle && id != m.did) || req.Password != m.password {
		writeXRPCError(w, http.StatusUnauthorized, "AuthenticationRequired", "Invalid identifier or password")
		return
	}

	m.mu.Lock()
	access, refresh := m.issueLocked(m.accessTTL, m.refreshTTL)
	resp := m.sessionBodyLocked(access, refresh)
	m.mu.Unlock()
	writeJSON(w, resp)
}

func (m *MockPDS) handleRefreshSession(w http.ResponseWriter, r *http.Request) {
	token := bearer(r)

	m.mu.Lock()
	exp, ok := m.refresh[token]
	if !ok || !time.Now().Before(exp) {
		m.mu.Unlock()
		writeXRPCError(w, http.StatusBadRequest, "ExpiredToken", "Token has been revoked")
		return
	}
	delete(m.refresh, token)
	access, refresh := m.issueLocked(m.accessTTL, m.refreshTTL)
	resp := m.sessionBodyLocked(access, refresh)
	m.mu.Unlock()
	writeJSON(w, resp)
}

func (m *MockPDS) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	token := bearer(r)

	m.mu.Lock()
	_, ok := m.refresh[token]
	delete(m.refresh, token)
	m.mu.Unlock()

	if !ok {
		writeXRPCError(w, http.StatusBadRequest, "InvalidToken", "Token could not be verified")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (m *MockPDS) handleResolveHandle(w http.ResponseWriter, r *http.Request) {
	handle := strings.ToLower(r.URL.Query().Get("handle"))

	m.mu.Lock()
	did, ok := m.handles[handle]
	m.mu.Unlock()

	if !ok {
		writeXRPCError(w, http.StatusBadRequest, "InvalidRequest", "Unable to resolve handle")
		return
	}
	writeJSON(w, map[string]string{"did": did})
}

func (m *MockPDS) handleUploadBlob(w http.ResponseWriter, r *http.Request, body []byte) {
	if !m.authorized(w, r) {
		return
	}

	sum := sha256.Sum256(body)
	m.mu.Lock()
	m.blobs = append(m.blobs, body)
	m.mu.Unlock()

	writeJSON(w, map[string]any{
		"blob": map[string]any{
			"$type":    "blob",
			"ref":      map[string]string{"$link": "bafkrei" + hex.EncodeToString(sum[:16])},
			"mimeType": r.Header.Get("Content-Type"),
			"size":     len(body),
		},
	})
}

func (m *MockPDS) handleCreateRecord(w http.ResponseWriter, r *http.Request, body []byte) {
	if !m.authorized(w, r) {
		return
	}

	var req struct {
		Repo       string         `json:"repo"`
		Collection string         `json:"collection"`
		Record     map[string]any `json:"record"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.Record == nil {
		writeXRPCError(w, http.StatusBadRequest, "InvalidRequest", "malformed body")
		return
	}
	if req.Repo != m.did {
		writeXRPCError(w, http.StatusBadRequest, "InvalidRequest", "repo does not match the authenticated account")
		return
	}

	m.mu.Lock()
	m.records = append(m.records, req.Record)
	rkey := "3k" + strconv.Itoa(len(m.records))
	m.mu.Unlock()

	sum := sha256.Sum256(body)
	writeJSON(w, map[string]string{
		"uri": fmt.Sprintf("at://%s/%s/%s", m.did, req.Collection, rkey),
		"cid": "bafyrei" + hex.EncodeToString(sum[:16]),
	})
}

// authorized checks the bearer access token, writing the XRPC error itself
// when it is missing or expired.
func (m *MockPDS) authorized(w http.ResponseWriter, r *http.Request) bool {
	token := bearer(r)

	m.mu.Lock()
	exp, ok := m.access[token]
	m.mu.Unlock()

	switch {
	case !ok:
		writeXRPCError(w, http.StatusUnauthorized, "AuthenticationRequired", "Authentication Required")
		return false
	case !time.Now().Before(exp):
		writeXRPCError(w, http.StatusBadRequest, "ExpiredToken", "Token has expired")
		return false
	}
	return true
}

func (m *MockPDS) issueLocked(accessTTL, refreshTTL time.Duration) (string, string) {
	now := time.Now()
	m.serial++
	access := m.signLocked("com.atproto.access", now, now.Add(accessTTL))
	refresh := m.signLocked("com.atproto.refresh", now, now.Add(refreshTTL))
	m.access[access] = now.Add(accessTTL)
	m.refresh[refresh] = now.Add(refreshTTL)
	return access, refresh
}

func (m *MockPDS) signLocked(scope string, iat, exp time.Time) string {
	claims := jwt.MapClaims{
		"scope": scope,
		"sub":   m.did,
		"iat":   iat.Unix(),
		"exp":   exp.Unix(),
		"jti":   strconv.Itoa(m.serial),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	if err != nil {
		panic(fmt.Sprintf("mock pds: signing token: %v", err))
	}
	return signed
}

func (m *MockPDS) sessionBodyLocked(access, refresh string) map[string]any {
	resp := map[string]any{
		"accessJwt":  access,
		"refreshJwt": refresh,
		"handle":     m.handle,
		"did":        m.did,
		"active":     true,
	}
	if !m.omitDIDDocs {
		resp["didDoc"] = map[string]any{
			"id": m.did,
			"service": []map[string]string{{
				"id":              "#atproto_pds",
				"type":            "AtprotoPersonalDataServer",
				"serviceEndpoint": m.server.URL,
			}},
		}
	}
	return resp
}

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeXRPCError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
