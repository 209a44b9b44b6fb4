package adversarial_tests

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	bsky "github.com/jamesprial/go-bsky-bridge"
	"github.com/jamesprial/go-bsky-bridge/adversarial_tests/helpers"
	pkgerrs "github.com/jamesprial/go-bsky-bridge/pkg/errors"
	"github.com/jamesprial/go-bsky-bridge/pkg/types"
	"github.com/jamesprial/go-bsky-bridge/test_helpers"
)

func newPDS(t *testing.T) *test_helpers.MockPDS {
	t.Helper()
	pds := test_helpers.NewMockPDS(test_helpers.TestHandle, test_helpers.TestDID, test_helpers.TestPassword)
	t.Cleanup(pds.Close)
	return pds
}

// TestLogin_MalformedSessionResponses checks that a login answered with a
// broken body fails cleanly and never leaves a session file behind.
func TestLogin_MalformedSessionResponses(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "empty object", body: `{}`},
		{name: "missing refresh token", body: `{"accessJwt":"a","did":"did:plc:x"}`},
		{name: "missing did", body: `{"accessJwt":"a","refreshJwt":"r"}`},
		{name: "not json", body: `<html>gateway</html>`},
		{name: "wrong types", body: `{"accessJwt":1,"refreshJwt":["r"],"did":{}}`},
		{name: "truncated", body: `{"accessJwt":"a","refreshJwt":"r","did":"did:pl`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pds := newPDS(t)
			pds.SetFailure(test_helpers.CreateSession, &test_helpers.MockResponse{Status: http.StatusOK, Body: tt.body})
			dir := t.TempDir()

			_, err := bsky.NewSession(context.Background(), test_helpers.NewTestConfig(pds, dir))
			if err == nil {
				t.Fatal("expected an error")
			}
			var authErr *pkgerrs.AuthError
			var parseErr *pkgerrs.ParseError
			if !errors.As(err, &authErr) && !errors.As(err, &parseErr) {
				t.Errorf("expected AuthError or ParseError, got %T (%v)", err, err)
			}
			if _, statErr := os.Stat(test_helpers.SessionFilePath(dir, test_helpers.TestHandle)); !os.IsNotExist(statErr) {
				t.Error("a failed login must not write a session file")
			}
		})
	}
}

// TestRefresh_MalformedResponseFallsBackToLogin checks that a refresh
// answered with a 200 but no tokens is treated as a failed refresh.
func TestRefresh_MalformedResponseFallsBackToLogin(t *testing.T) {
	pds := newPDS(t)
	pds.SetTokenTTLs(30*time.Second, time.Hour)
	dir := t.TempDir()

	session, err := bsky.NewSession(context.Background(), test_helpers.NewTestConfig(pds, dir))
	if err != nil {
		t.Fatalf("NewSession returned error: %v", err)
	}
	pds.SetTokenTTLs(time.Hour, time.Hour)
	pds.SetFailure(test_helpers.RefreshSession, &test_helpers.MockResponse{Status: http.StatusOK, Body: `{"did":"did:plc:x"}`, Times: 1})

	if err := session.EnsureFresh(context.Background()); err != nil {
		t.Fatalf("EnsureFresh returned error: %v", err)
	}
	if err := pds.AssertRequestCount(test_helpers.CreateSession, 2); err != nil {
		t.Error(err)
	}
	if creds := session.Credentials(); !creds.IsComplete() || creds.DID != test_helpers.TestDID {
		t.Errorf("session left in a bad state: %+v", creds)
	}
}

// TestSessionFile_HostileContents loads session files an attacker or a crash
// could leave behind. Each must be ignored in favor of a fresh login.
func TestSessionFile_HostileContents(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "empty file", content: ``},
		{name: "null", content: `null`},
		{name: "array", content: `[]`},
		{name: "tokens only", content: `{"accessJwt":"a","refreshJwt":"r"}`},
		{name: "foreign handle", content: `{"HANDLE":"mallory.example.com","DID":"did:plc:mallory"}`},
		{name: "huge garbage", content: strings.Repeat("{", 1<<16)},
		{name: "binary", content: "\x00\x01\x02\xff"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pds := newPDS(t)
			dir := t.TempDir()
			path := test_helpers.SessionFilePath(dir, test_helpers.TestHandle)
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}

			session, err := bsky.NewSession(context.Background(), test_helpers.NewTestConfig(pds, dir))
			if err != nil {
				t.Fatalf("NewSession returned error: %v", err)
			}
			if err := pds.AssertRequestCount(test_helpers.CreateSession, 1); err != nil {
				t.Error(err)
			}
			if !session.Credentials().IsComplete() {
				t.Error("expected a complete session after login")
			}
		})
	}
}

// TestSessionFile_UnusableTokensRecover loads a file whose tokens the server
// has never seen. The first post must recover by logging in again.
func TestSessionFile_UnusableTokensRecover(t *testing.T) {
	pds := newPDS(t)
	dir := t.TempDir()

	err := test_helpers.WriteSessionFile(dir, types.Credentials{
		Handle:          test_helpers.TestHandle,
		DID:             test_helpers.TestDID,
		AccessJwt:       "not-a-jwt",
		RefreshJwt:      "also-not-a-jwt",
		ServiceEndpoint: pds.ServerURL(),
	})
	if err != nil {
		t.Fatal(err)
	}

	session, err := bsky.NewSession(context.Background(), test_helpers.NewTestConfig(pds, dir))
	if err != nil {
		t.Fatalf("NewSession returned error: %v", err)
	}
	if n := pds.TotalCalls(); n != 0 {
		t.Fatalf("loading must not touch the network, got %d requests", n)
	}

	if _, err := session.PostText(context.Background(), &types.PostRequest{Text: "recovered"}); err != nil {
		t.Fatalf("PostText returned error: %v", err)
	}
	if err := pds.AssertRequestCount(test_helpers.RefreshSession, 1); err != nil {
		t.Error(err)
	}
	if err := pds.AssertRequestCount(test_helpers.CreateSession, 1); err != nil {
		t.Error(err)
	}
}

func TestNewSession_HostileHandles(t *testing.T) {
	pds := newPDS(t)
	fuzzer := helpers.NewFuzzer(1)

	for _, handle := range fuzzer.FuzzHandle() {
		config := test_helpers.NewTestConfig(pds, t.TempDir())
		config.Handle = handle

		_, err := bsky.NewSession(context.Background(), config)
		var configErr *pkgerrs.ConfigError
		var authErr *pkgerrs.AuthError
		if !errors.As(err, &configErr) && !errors.As(err, &authErr) {
			t.Errorf("handle %q: expected ConfigError or AuthError, got %T (%v)", handle, err, err)
		}
	}

	if n := pds.GetCallCount(test_helpers.CreateRecord); n != 0 {
		t.Errorf("no records should be created, got %d", n)
	}
}
