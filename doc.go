// Package bsky is a small Bluesky client for bots and bridges that publish
// posts from Go programs.
//
// # Overview
//
// A Session logs in to an account with an app password, keeps its token pair
// fresh and persists it to disk so a restarted process does not log in again.
// On top of the session the package publishes text posts and single-image
// posts, turning mentions, links and hashtags in the text into rich-text
// facets.
//
// # Features
//
//   - Session reuse across restarts via a per-handle session file
//   - Proactive token renewal with refresh, falling back to a fresh login
//   - Facet detection with UTF-8 byte offsets and mention-to-DID resolution
//   - Automatic image downscaling and re-encoding under the 1 MiB upload limit
//   - Language hints (BCP-47) on posts
//   - Built-in rate limiting and Retry-After handling
//   - Structured logging support via Go's slog package
//   - Optional Prometheus metrics
//
// # Quick Start
//
// A session needs a handle and an app password:
//
//	session, err := bsky.NewSession(ctx, &bsky.Config{
//		Handle:      "alice.bsky.social",
//		AppPassword: os.Getenv("BSKY_APP_PASSWORD"),
//		StorageDir:  "/var/lib/mybot",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	resp, err := session.PostText(ctx, &types.PostRequest{
//		Text:  "Hello from Go! #golang https://go.dev",
//		Langs: []string{"en"},
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(resp.URI)
//
// # Session Lifecycle
//
// NewSession first looks for <handle>.session.json in StorageDir. A file for
// the same handle that holds a DID and both tokens is used as-is and no
// request is made. Otherwise the session logs in and writes the file.
//
// Every authenticated operation calls EnsureFresh, which renews the access
// token shortly before it expires. Renewal tries refreshSession first; if the
// refresh token was revoked or has expired it logs in again with the app
// password. The session file is rewritten after each renewal. Concurrent
// renewals within one process are collapsed into a single exchange; separate
// processes sharing a StorageDir are not coordinated.
//
// Logout revokes the refresh token, deletes the session file and makes the
// session unusable.
//
// # Facets
//
// Facet offsets are UTF-8 byte offsets into the post text, as the Bluesky
// lexicon requires. DetectFacets finds spans without any network access:
//
//	for _, f := range bsky.DetectFacets("héllo @bob.bsky.social #golang") {
//		fmt.Println(f.Kind, f.ByteStart, f.ByteEnd, f.Value)
//	}
//
// Session.Facets additionally resolves each mention to a DID, lazily, as the
// sequence is ranged over. A mention whose handle does not resolve is
// dropped and the rest of the post is unaffected.
//
// # Images
//
// PostImage reads the image file, and when it exceeds the upload ceiling,
// re-encodes it as JPEG at decreasing quality and then at halved dimensions
// until it fits. Transparent regions are painted white. The source file is
// never modified. An image that cannot be made small enough is reported with
// *errors.ImageTooLargeError.
//
// # Error Handling
//
// The library uses specific error types from pkg/errors for different
// failure scenarios:
//
//	_, err := session.PostText(ctx, req)
//	var apiErr *errors.APIError
//	switch {
//	case errors.As(err, &apiErr):
//		// The server rejected the record; apiErr.Body is the raw response
//	case errors.As(err, new(*errors.AuthError)):
//		// Both refresh and login failed
//	case errors.As(err, new(*errors.ConfigError)):
//		// The request or config is invalid
//	case errors.As(err, new(*errors.StateError)):
//		// The session was logged out
//	}
//
// # Logging
//
// Enable debug logging by providing a logger in the config:
//
//	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//		Level: slog.LevelDebug,
//	}))
//
//	config := &bsky.Config{
//		// ... other config ...
//		Logger: logger,
//	}
//
// Tokens and passwords are never logged.
//
// # Security Considerations
//
// The session file contains live tokens. It is written with mode 0600
// through a temporary file and rename, so readers never observe a partial
// file. Keep StorageDir out of shared or world-readable locations.
//
// Use an app password, never the account password, and load it from the
// environment or a secret store rather than source code.
package bsky
