package bsky

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/oauth2"

	"github.com/jamesprial/go-bsky-bridge/internal"
	pkgerrs "github.com/jamesprial/go-bsky-bridge/pkg/errors"
	"github.com/jamesprial/go-bsky-bridge/pkg/types"
	"github.com/jamesprial/go-bsky-bridge/pkg/validation"
)

const (
	// DefaultBaseURL is the XRPC root used for login and, when the account's
	// PDS is not advertised, for every other call.
	DefaultBaseURL = "https://bsky.social/xrpc/"
	// DefaultUserAgent is the default user agent string
	DefaultUserAgent = "go-bsky-bridge/0.1"
	// DefaultTimeout is the default HTTP client timeout
	DefaultTimeout = 30 * time.Second
	// DefaultStorageDir is where session files are kept when StorageDir is empty.
	DefaultStorageDir = "."
	// DefaultRefreshSkew is how long before expiry an access token is renewed.
	DefaultRefreshSkew = 60 * time.Second
	// DefaultMaxImageBytes is the upload ceiling for post images (1 MiB).
	DefaultMaxImageBytes = internal.DefaultMaxImageBytes
)

// Config holds the configuration for a Session.
//
// Only Handle and AppPassword are required:
//
//	config := &Config{
//		Handle:      "alice.bsky.social",
//		AppPassword: os.Getenv("BSKY_APP_PASSWORD"),
//		StorageDir:  "/var/lib/mybot",
//	}
type Config struct {
	// Handle of the account, with or without a leading '@'.
	Handle string

	// AppPassword is an app password created in the account settings. It is
	// kept in memory so the session can log in again when a refresh fails.
	AppPassword string

	// StorageDir holds one session file per handle.
	// Defaults to DefaultStorageDir if not specified.
	StorageDir string

	// BaseURL is the XRPC root used to log in.
	// Defaults to DefaultBaseURL if not specified.
	BaseURL string

	// UserAgent identifies your application.
	// Defaults to DefaultUserAgent if not specified.
	UserAgent string

	// HTTPClient to use for requests.
	// Defaults to a client with DefaultTimeout if not specified.
	HTTPClient *http.Client

	// Logger for structured diagnostics.
	// Optional. When nil nothing is logged.
	Logger *slog.Logger

	// RefreshSkew renews the access token this long before it expires.
	// Defaults to DefaultRefreshSkew if zero.
	RefreshSkew time.Duration

	// RequestsPerMinute and RateLimitBurst throttle outgoing requests.
	// Zero values select 60 per minute with a burst of 10.
	RequestsPerMinute float64
	RateLimitBurst    int

	// HandleCacheTTL is how long a resolved mention is reused. Zero keeps the
	// default of ten minutes; a negative value disables caching.
	HandleCacheTTL time.Duration

	// MaxImageBytes is the size an image must fit under before upload.
	// Defaults to DefaultMaxImageBytes if not positive.
	MaxImageBytes int

	// MetricsRegisterer receives the client's Prometheus collectors.
	// Optional. When nil no metrics are recorded.
	MetricsRegisterer prometheus.Registerer

	// Now is the clock used for token staleness and post timestamps.
	// Defaults to time.Now.
	Now func() time.Time
}

// withDefaults returns a copy of c with empty optional fields filled in.
func (c *Config) withDefaults() *Config {
	cfg := *c
	cfg.Handle = validation.NormalizeHandle(cfg.Handle)
	if cfg.StorageDir == "" {
		cfg.StorageDir = DefaultStorageDir
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.RefreshSkew <= 0 {
		cfg.RefreshSkew = DefaultRefreshSkew
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = DefaultMaxImageBytes
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &cfg
}

// Session is an authenticated connection to one account. It owns the
// account's token pair and keeps the session file in StorageDir in sync with
// it. A Session is safe for concurrent use.
//
// Processes sharing a StorageDir for the same handle are not coordinated and
// may overwrite each other's refreshed tokens.
type Session struct {
	config    *Config
	logger    *slog.Logger
	metrics   *internal.Metrics
	validator *internal.Validator

	client    *internal.Client
	auth      *internal.Authenticator
	store     *internal.CredentialStore
	refresher *internal.RefreshCoordinator
	resolver  internal.HandleResolver
	facets    *internal.FacetParser
	images    *internal.ImageFitter
	repo      *internal.RepoClient

	mu        sync.RWMutex
	creds     types.Credentials
	loggedOut bool
}

// NewSession returns a session for config.Handle. When StorageDir holds a
// usable session file for the handle it is loaded without any network call;
// otherwise the session logs in with the app password and saves the result.
//
// Returns an error if:
//   - config is nil or invalid (*errors.ConfigError)
//   - the credentials are rejected (*errors.AuthError)
//   - the new session cannot be saved (*errors.StoreError)
//
// A loaded session may hold an expired access token; every authenticated
// operation calls EnsureFresh first.
func NewSession(ctx context.Context, config *Config) (*Session, error) {
	s, err := newSession(config)
	if err != nil {
		return nil, err
	}

	if s.loadCached() {
		return s, nil
	}

	if err := s.login(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func newSession(config *Config) (*Session, error) {
	if config == nil {
		return nil, &pkgerrs.ConfigError{Field: "config", Message: "config cannot be nil"}
	}
	cfg := config.withDefaults()

	validator := internal.NewValidator()
	if err := validator.ValidateHandle(cfg.Handle); err != nil {
		return nil, err
	}
	if err := validator.ValidateAppPassword(cfg.AppPassword); err != nil {
		return nil, err
	}
	if err := validator.ValidateUserAgent(cfg.UserAgent); err != nil {
		return nil, err
	}

	var metrics *internal.Metrics
	if cfg.MetricsRegisterer != nil {
		var err error
		if metrics, err = internal.NewMetrics(cfg.MetricsRegisterer); err != nil {
			return nil, &pkgerrs.ConfigError{Field: "MetricsRegisterer", Message: err.Error()}
		}
	}

	client, err := internal.NewClient(
		cfg.HTTPClient,
		cfg.BaseURL,
		cfg.UserAgent,
		&internal.RateLimitConfig{RequestsPerMinute: cfg.RequestsPerMinute, Burst: cfg.RateLimitBurst},
		cfg.Logger,
		metrics,
	)
	if err != nil {
		return nil, err
	}

	var resolver internal.HandleResolver = internal.NewXRPCResolver(client)
	if cfg.HandleCacheTTL >= 0 {
		resolver = internal.NewCachingResolver(resolver, cfg.HandleCacheTTL, cfg.Now)
	}

	return &Session{
		config:    cfg,
		logger:    cfg.Logger,
		metrics:   metrics,
		validator: validator,
		client:    client,
		auth:      internal.NewAuthenticator(client),
		store:     internal.NewCredentialStore(cfg.StorageDir),
		refresher: internal.NewRefreshCoordinator(),
		resolver:  resolver,
		facets:    internal.NewFacetParser(resolver, cfg.Logger, metrics),
		images:    internal.NewImageFitter(cfg.MaxImageBytes, cfg.Logger, metrics),
		repo:      internal.NewRepoClient(client),
	}, nil
}

// loadCached adopts the stored session file when it belongs to the configured
// handle and carries a DID and both tokens.
func (s *Session) loadCached() bool {
	creds, err := s.store.Load(s.config.Handle)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("ignoring unreadable session file", "error", err)
		}
		return false
	}

	if !strings.EqualFold(creds.Handle, s.config.Handle) || !creds.IsComplete() {
		s.logger.Warn("ignoring incomplete session file",
			"path", s.store.Path(s.config.Handle),
			"stored_handle", creds.Handle,
		)
		return false
	}

	s.setCredentials(*creds)
	s.metrics.RecordSessionEvent("cache_load", nil)
	s.logger.Info("session loaded from disk", "handle", s.config.Handle, "did", creds.DID)
	return true
}

// login performs createSession with the app password and persists the result.
func (s *Session) login(ctx context.Context) error {
	resp, err := s.auth.CreateSession(ctx, s.config.Handle, s.config.AppPassword)
	s.metrics.RecordSessionEvent("login", err)
	if err != nil {
		return err
	}

	s.logger.Info("logged in", "handle", s.config.Handle, "did", resp.DID)
	return s.adopt(resp)
}

// adopt installs a login or refresh response and writes it to the store.
func (s *Session) adopt(resp *internal.SessionResponse) error {
	s.mu.RLock()
	endpoint := s.creds.ServiceEndpoint
	s.mu.RUnlock()
	if pds := resp.PDSEndpoint(); pds != "" {
		endpoint = pds
	}

	creds := types.Credentials{
		Handle:          s.config.Handle,
		DID:             resp.DID,
		AccessJwt:       resp.AccessJwt,
		RefreshJwt:      resp.RefreshJwt,
		ServiceEndpoint: endpoint,
		RefreshedAt:     s.config.Now().UTC(),
	}
	s.setCredentials(creds)

	if err := s.store.Save(&creds); err != nil {
		return err
	}
	s.logger.Debug("session persisted", "path", s.store.Path(s.config.Handle))
	return nil
}

// setCredentials replaces the in-memory state and points authenticated calls
// at the account's PDS when one is known.
func (s *Session) setCredentials(creds types.Credentials) {
	if creds.ServiceEndpoint != "" {
		xrpcRoot := strings.TrimRight(creds.ServiceEndpoint, "/") + "/xrpc/"
		if err := s.client.SetBaseURL(xrpcRoot); err != nil {
			s.logger.Warn("ignoring unusable PDS endpoint", "endpoint", creds.ServiceEndpoint, "error", err)
			creds.ServiceEndpoint = ""
		}
	}

	s.mu.Lock()
	s.creds = creds
	s.mu.Unlock()
}

// EnsureFresh renews the access token when it is expired or about to expire.
// It first tries refreshSession; if that is rejected, or the refresh token has
// itself expired, it logs in again with the app password. Either way the new
// tokens are saved before it returns.
//
// Calling EnsureFresh on a fresh session makes no network call. Concurrent
// calls share a single renewal.
//
// Returns *errors.AuthError when both refresh and login fail, and
// *errors.StateError after Logout.
func (s *Session) EnsureFresh(ctx context.Context) error {
	if err := s.checkActive("EnsureFresh"); err != nil {
		return err
	}
	if !s.accessStale() {
		return nil
	}

	_, err := s.refresher.Do(ctx, s.config.Handle, s.renew)
	return err
}

func (s *Session) accessStale() bool {
	s.mu.RLock()
	access, issued := s.creds.AccessJwt, s.creds.RefreshedAt
	s.mu.RUnlock()
	return internal.IsStale(access, issued, s.config.Now(), s.config.RefreshSkew)
}

func (s *Session) renew(ctx context.Context) error {
	// A renewal that finished just before this one started leaves nothing to do.
	if !s.accessStale() {
		return nil
	}

	s.mu.RLock()
	refreshJwt := s.creds.RefreshJwt
	s.mu.RUnlock()

	if refreshUsable(refreshJwt, s.config.Now()) {
		resp, err := s.auth.RefreshSession(ctx, refreshJwt)
		s.metrics.RecordSessionEvent("refresh", err)
		if err == nil {
			s.logger.Info("session refreshed", "handle", s.config.Handle)
			return s.adopt(resp)
		}
		s.logger.Warn("refresh failed, logging in again", "handle", s.config.Handle, "error", err)
	} else {
		s.logger.Info("refresh token expired, logging in again", "handle", s.config.Handle)
	}

	resp, err := s.auth.CreateSession(ctx, s.config.Handle, s.config.AppPassword)
	s.metrics.RecordSessionEvent("login", err)
	if err != nil {
		var authErr *pkgerrs.AuthError
		if errors.As(err, &authErr) {
			return err
		}
		return &pkgerrs.AuthError{Message: "session renewal failed", Err: err}
	}
	s.logger.Info("logged in again", "handle", s.config.Handle, "did", resp.DID)
	return s.adopt(resp)
}

// refreshUsable reports whether a refresh is worth attempting. Tokens whose
// expiry cannot be read are tried anyway.
func refreshUsable(refreshJwt string, now time.Time) bool {
	if refreshJwt == "" {
		return false
	}
	exp, err := internal.TokenExpiry(refreshJwt)
	if err != nil {
		return true
	}
	return now.Before(exp)
}

// Credentials returns a copy of the current session state.
func (s *Session) Credentials() types.Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

// Handle returns the normalized handle the session was created for.
func (s *Session) Handle() string {
	return s.config.Handle
}

// DID returns the account's DID.
func (s *Session) DID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.DID
}

// Logout revokes the refresh token on the server, forgets the tokens and
// deletes the session file. The server call is best effort; its failure is
// logged and not returned. Every later call on the session returns
// *errors.StateError.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	if s.loggedOut {
		s.mu.Unlock()
		return &pkgerrs.StateError{Operation: "Logout", Message: "session already logged out"}
	}
	refreshJwt := s.creds.RefreshJwt
	s.loggedOut = true
	s.creds.AccessJwt = ""
	s.creds.RefreshJwt = ""
	s.mu.Unlock()

	if err := s.auth.DeleteSession(ctx, refreshJwt); err != nil {
		s.logger.Warn("server-side logout failed", "handle", s.config.Handle, "error", err)
	}

	err := s.store.Remove(s.config.Handle)
	s.metrics.RecordSessionEvent("logout", err)
	if err != nil {
		return err
	}
	s.logger.Info("logged out", "handle", s.config.Handle)
	return nil
}

func (s *Session) checkActive(op string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.loggedOut {
		return &pkgerrs.StateError{Operation: op, Message: "session is logged out"}
	}
	return nil
}

// token returns the current token pair for stamping requests.
func (s *Session) token() *oauth2.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return internal.NewOAuthToken(s.creds.AccessJwt, s.creds.RefreshJwt)
}

// TokenSource returns an oauth2.TokenSource whose Token method runs
// EnsureFresh with ctx and returns the current access token. It lets the
// session authorize requests made with other HTTP clients, for example via
// oauth2.NewClient.
func (s *Session) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &sessionTokenSource{ctx: ctx, session: s}
}

type sessionTokenSource struct {
	ctx     context.Context
	session *Session
}

func (ts *sessionTokenSource) Token() (*oauth2.Token, error) {
	if err := ts.session.EnsureFresh(ts.ctx); err != nil {
		return nil, err
	}
	return ts.session.token(), nil
}
