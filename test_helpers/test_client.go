package test_helpers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	bsky "github.com/jamesprial/go-bsky-bridge"
	"github.com/jamesprial/go-bsky-bridge/pkg/types"
)

// Default account served by NewTestSession.
const (
	TestHandle   = "alice.test.example"
	TestDID      = "did:plc:alicetest0000000000000000"
	TestPassword = "abcd-efgh-ijkl-mnop"
)

// TestSessionConfig tweaks the session built by NewTestSession. Zero values
// keep the defaults.
type TestSessionConfig struct {
	StorageDir     string
	HandleCacheTTL time.Duration
	MaxImageBytes  int
	RefreshSkew    time.Duration
	Now            func() time.Time
	// Prepare runs against the server before the session is created, for
	// seeding handles, failures or session files.
	Prepare func(pds *MockPDS, storageDir string)
}

// TestSession pairs a Session with the MockPDS it talks to.
type TestSession struct {
	*bsky.Session
	pds        *MockPDS
	storageDir string
}

// NewTestSession starts a MockPDS for the default account and creates a
// session against it. It panics when the session cannot be created; use
// NewTestConfig to test creation failures.
func NewTestSession(cfg *TestSessionConfig) *TestSession {
	if cfg == nil {
		cfg = &TestSessionConfig{}
	}

	pds := NewMockPDS(TestHandle, TestDID, TestPassword)
	dir := cfg.StorageDir
	if dir == "" {
		var err error
		dir, err = os.MkdirTemp("", "bsky-session-*")
		if err != nil {
			pds.Close()
			panic(fmt.Sprintf("failed to create storage dir: %v", err))
		}
	}
	if cfg.Prepare != nil {
		cfg.Prepare(pds, dir)
	}

	config := NewTestConfig(pds, dir)
	config.HandleCacheTTL = cfg.HandleCacheTTL
	config.MaxImageBytes = cfg.MaxImageBytes
	config.RefreshSkew = cfg.RefreshSkew
	config.Now = cfg.Now

	session, err := bsky.NewSession(context.Background(), config)
	if err != nil {
		pds.Close()
		panic(fmt.Sprintf("failed to create session: %v", err))
	}

	return &TestSession{Session: session, pds: pds, storageDir: dir}
}

// NewTestConfig returns a Config for the default account of pds with a
// generous rate limit.
func NewTestConfig(pds *MockPDS, storageDir string) *bsky.Config {
	return &bsky.Config{
		Handle:            TestHandle,
		AppPassword:       TestPassword,
		StorageDir:        storageDir,
		BaseURL:           pds.URL(),
		UserAgent:         "go-bsky-bridge-test/1.0",
		HTTPClient:        pds.Client(),
		RequestsPerMinute: 60000,
		RateLimitBurst:    1000,
	}
}

// PDS returns the underlying mock server
func (ts *TestSession) PDS() *MockPDS {
	return ts.pds
}

// StorageDir returns the directory holding the session file.
func (ts *TestSession) StorageDir() string {
	return ts.storageDir
}

// Close shuts down the mock server
func (ts *TestSession) Close() {
	ts.pds.Close()
}

// Reset clears the server's request log
func (ts *TestSession) Reset() {
	ts.pds.ClearLog()
}

// SessionFilePath returns where the session file for handle is stored in dir.
func SessionFilePath(dir, handle string) string {
	return filepath.Join(dir, strings.ToLower(handle)+".session.json")
}

// WriteSessionFile stores creds in dir the way a previous run would have.
func WriteSessionFile(dir string, creds types.Credentials) error {
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(SessionFilePath(dir, creds.Handle), data, 0o600)
}

// ReadSessionFile loads the session file for handle from dir.
func ReadSessionFile(dir, handle string) (*types.Credentials, error) {
	data, err := os.ReadFile(SessionFilePath(dir, handle))
	if err != nil {
		return nil, err
	}
	var creds types.Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

// RunConcurrent calls fn from n goroutines and returns each call's error by
// index.
func RunConcurrent(n int, fn func(i int) error) []error {
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			errs[index] = fn(index)
		}(i)
	}
	wg.Wait()
	return errs
}

// Utility functions for testing

// AssertNoError asserts that an error is nil
func AssertNoError(err error) error {
	if err != nil {
		return fmt.Errorf("expected no error, got: %v", err)
	}
	return nil
}

// AssertError asserts that an error is not nil
func AssertError(err error) error {
	if err == nil {
		return fmt.Errorf("expected error, got nil")
	}
	return nil
}

// AssertErrorContains asserts that an error contains specific text
func AssertErrorContains(err error, expected string) error {
	if err == nil {
		return fmt.Errorf("expected error containing '%s', got nil", expected)
	}
	if !strings.Contains(err.Error(), expected) {
		return fmt.Errorf("expected error containing '%s', got '%s'", expected, err.Error())
	}
	return nil
}
