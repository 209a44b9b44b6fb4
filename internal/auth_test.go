package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	pkgerrs "github.com/jamesprial/go-bsky-bridge/pkg/errors"
)

// mockResponse defines the response from the mock server.
type mockResponse struct {
	statusCode int
	body       string
}

// mockAuthServer is a mock PDS for testing the authenticator.
type mockAuthServer struct {
	t              *testing.T
	expectedUser   string
	expectedPass   string
	refreshToken   string
	createResponse *mockResponse
	refreshResp    *mockResponse
	deleteStatus   int
}

// ServeHTTP handles incoming requests to the mock server.
func (s *mockAuthServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.t.Errorf("expected POST request, got %s", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	switch r.URL.Path {
	case "/xrpc/" + NSIDCreateSession:
		var body createSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.t.Fatalf("failed to decode body: %v", err)
		}
		if body.Identifier != s.expectedUser || body.Password != s.expectedPass {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"AuthenticationRequired","message":"Invalid identifier or password"}`)
			return
		}
		s.write(w, s.createResponse)

	case "/xrpc/" + NSIDRefreshSession:
		if got := r.Header.Get("Authorization"); got != "Bearer "+s.refreshToken {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"ExpiredToken","message":"Token has been revoked"}`)
			return
		}
		s.write(w, s.refreshResp)

	case "/xrpc/" + NSIDDeleteSession:
		if got := r.Header.Get("Authorization"); got != "Bearer "+s.refreshToken {
			s.t.Errorf("expected refresh token as bearer, got %q", got)
		}
		status := s.deleteStatus
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)

	default:
		s.t.Errorf("unexpected path %s", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *mockAuthServer) write(w http.ResponseWriter, resp *mockResponse) {
	if resp == nil {
		s.t.Error("mock response is nil but the request was accepted, this is likely a test setup error")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(resp.statusCode)
	fmt.Fprint(w, resp.body)
}

func newTestAuthenticator(t *testing.T, srv *mockAuthServer) *Authenticator {
	t.Helper()
	srv.t = t
	server := httptest.NewServer(srv)
	t.Cleanup(server.Close)

	client, err := NewClient(server.Client(), server.URL+"/xrpc/", "test-agent", fastLimits, nil, nil)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	return NewAuthenticator(client)
}

const sessionBody = `{
	"accessJwt": "access-1",
	"refreshJwt": "refresh-1",
	"handle": "alice.bsky.social",
	"did": "did:plc:abc123",
	"didDoc": {
		"id": "did:plc:abc123",
		"service": [
			{"id": "#atproto_pds", "type": "AtprotoPersonalDataServer", "serviceEndpoint": "https://morel.us-east.host.bsky.network"}
		]
	},
	"active": true
}`

func TestAuthenticator_CreateSession(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		user     string
		pass     string
		response *mockResponse
		wantErr  bool
		checkErr func(t *testing.T, err error)
		check    func(t *testing.T, resp *SessionResponse)
	}{
		{
			name:     "success",
			user:     "alice.bsky.social",
			pass:     "app-pass",
			response: &mockResponse{statusCode: http.StatusOK, body: sessionBody},
			check: func(t *testing.T, resp *SessionResponse) {
				if resp.AccessJwt != "access-1" || resp.RefreshJwt != "refresh-1" {
					t.Errorf("unexpected tokens %q/%q", resp.AccessJwt, resp.RefreshJwt)
				}
				if resp.DID != "did:plc:abc123" {
					t.Errorf("unexpected did %q", resp.DID)
				}
				if got := resp.PDSEndpoint(); got != "https://morel.us-east.host.bsky.network" {
					t.Errorf("unexpected PDS endpoint %q", got)
				}
			},
		},
		{
			name:    "bad credentials",
			user:    "alice.bsky.social",
			pass:    "wrong",
			wantErr: true,
			checkErr: func(t *testing.T, err error) {
				var authErr *pkgerrs.AuthError
				if !errors.As(err, &authErr) {
					t.Fatalf("expected AuthError, got %T", err)
				}
				if authErr.StatusCode != http.StatusUnauthorized {
					t.Errorf("expected status 401, got %d", authErr.StatusCode)
				}
				var apiErr *pkgerrs.APIError
				if !errors.As(err, &apiErr) {
					t.Fatal("expected APIError in chain")
				}
				if apiErr.ErrorCode != "AuthenticationRequired" {
					t.Errorf("unexpected error code %q", apiErr.ErrorCode)
				}
			},
		},
		{
			name:     "response missing tokens",
			user:     "alice.bsky.social",
			pass:     "app-pass",
			response: &mockResponse{statusCode: http.StatusOK, body: `{"handle":"alice.bsky.social","did":"did:plc:abc123"}`},
			wantErr:  true,
			checkErr: func(t *testing.T, err error) {
				var authErr *pkgerrs.AuthError
				if !errors.As(err, &authErr) {
					t.Fatalf("expected AuthError, got %T", err)
				}
			},
		},
		{
			name:     "malformed json",
			user:     "alice.bsky.social",
			pass:     "app-pass",
			response: &mockResponse{statusCode: http.StatusOK, body: `{"accessJwt":`},
			wantErr:  true,
			checkErr: func(t *testing.T, err error) {
				var parseErr *pkgerrs.ParseError
				if !errors.As(err, &parseErr) {
					t.Fatalf("expected ParseError, got %T", err)
				}
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			a := newTestAuthenticator(t, &mockAuthServer{
				expectedUser:   "alice.bsky.social",
				expectedPass:   "app-pass",
				createResponse: tc.response,
			})

			resp, err := a.CreateSession(context.Background(), tc.user, tc.pass)
			if (err != nil) != tc.wantErr {
				t.Fatalf("CreateSession() error = %v, wantErr %v", err, tc.wantErr)
			}
			if tc.checkErr != nil {
				tc.checkErr(t, err)
			}
			if tc.check != nil {
				tc.check(t, resp)
			}
		})
	}
}

func TestAuthenticator_RefreshSession(t *testing.T) {
	t.Parallel()

	srv := &mockAuthServer{
		refreshToken: "refresh-1",
		refreshResp: &mockResponse{
			statusCode: http.StatusOK,
			body:       `{"accessJwt":"access-2","refreshJwt":"refresh-2","handle":"alice.bsky.social","did":"did:plc:abc123"}`,
		},
	}
	a := newTestAuthenticator(t, srv)

	t.Run("success", func(t *testing.T) {
		resp, err := a.RefreshSession(context.Background(), "refresh-1")
		if err != nil {
			t.Fatalf("RefreshSession returned error: %v", err)
		}
		if resp.AccessJwt != "access-2" || resp.RefreshJwt != "refresh-2" {
			t.Errorf("unexpected tokens %q/%q", resp.AccessJwt, resp.RefreshJwt)
		}
		if resp.PDSEndpoint() != "" {
			t.Errorf("expected no PDS endpoint without didDoc, got %q", resp.PDSEndpoint())
		}
	})

	t.Run("revoked", func(t *testing.T) {
		_, err := a.RefreshSession(context.Background(), "refresh-0")
		var authErr *pkgerrs.AuthError
		if !errors.As(err, &authErr) {
			t.Fatalf("expected AuthError, got %T", err)
		}
		if authErr.StatusCode != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", authErr.StatusCode)
		}
	})

	t.Run("missing token", func(t *testing.T) {
		_, err := a.RefreshSession(context.Background(), "")
		var authErr *pkgerrs.AuthError
		if !errors.As(err, &authErr) {
			t.Fatalf("expected AuthError, got %T", err)
		}
	})
}

func TestAuthenticator_DeleteSession(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		a := newTestAuthenticator(t, &mockAuthServer{refreshToken: "refresh-1"})
		if err := a.DeleteSession(context.Background(), "refresh-1"); err != nil {
			t.Fatalf("DeleteSession returned error: %v", err)
		}
	})

	t.Run("server error surfaces", func(t *testing.T) {
		t.Parallel()
		a := newTestAuthenticator(t, &mockAuthServer{refreshToken: "refresh-1", deleteStatus: http.StatusInternalServerError})
		err := a.DeleteSession(context.Background(), "refresh-1")
		var apiErr *pkgerrs.APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected APIError, got %T", err)
		}
	})
}

func TestSessionResponse_PDSEndpoint(t *testing.T) {
	tests := []struct {
		name string
		doc  *DIDDocument
		want string
	}{
		{name: "nil doc", doc: nil, want: ""},
		{
			name: "fully qualified id",
			doc: &DIDDocument{Service: []DIDService{
				{ID: "did:plc:abc123#atproto_pds", ServiceEndpoint: "https://pds.example.com"},
			}},
			want: "https://pds.example.com",
		},
		{
			name: "other services only",
			doc: &DIDDocument{Service: []DIDService{
				{ID: "#bsky_chat", ServiceEndpoint: "https://chat.example.com"},
			}},
			want: "",
		},
		{
			name: "empty endpoint skipped",
			doc: &DIDDocument{Service: []DIDService{
				{ID: "#atproto_pds", ServiceEndpoint: ""},
				{ID: "#atproto_pds", ServiceEndpoint: "https://second.example.com"},
			}},
			want: "https://second.example.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &SessionResponse{DIDDoc: tt.doc}
			if got := r.PDSEndpoint(); got != tt.want {
				t.Errorf("PDSEndpoint() = %q, want %q", got, tt.want)
			}
		})
	}
}
