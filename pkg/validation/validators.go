package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/clipperhouse/uax29/v2/graphemes"
	"golang.org/x/text/language"
)

// Post limits enforced by the app.bsky.feed.post lexicon.
const (
	MaxPostGraphemes = 300
	MaxPostBytes     = 3000
	MaxLangs         = 3
	MaxHandleLength  = 253
	MaxDIDLength     = 2048
)

// Regular expressions for validating AT Protocol identifiers
var (
	// handleRegex matches a domain-shaped handle: dot-separated labels, the last
	// of which must start with a letter.
	handleRegex = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)

	// didRegex matches did:<method>:<method-specific-id>
	didRegex = regexp.MustCompile(`^did:[a-z]+:[a-zA-Z0-9._:%-]*[a-zA-Z0-9._-]$`)
)

// IsValidHandle checks if a string is a syntactically valid handle
func IsValidHandle(s string) bool {
	return len(s) <= MaxHandleLength && handleRegex.MatchString(s)
}

// IsValidDID checks if a string is a syntactically valid DID
func IsValidDID(s string) bool {
	return len(s) <= MaxDIDLength && didRegex.MatchString(s)
}

// NormalizeHandle strips a leading '@' and lowercases the handle.
func NormalizeHandle(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "@"))
}

// GraphemeCount returns the number of extended grapheme clusters in s.
func GraphemeCount(s string) int {
	n := 0
	tokens := graphemes.FromString(s)
	for tokens.Next() {
		n++
	}
	return n
}

// ValidatePostText checks the text against the post length limits.
func ValidatePostText(text string) error {
	var errs []error

	if len(text) > MaxPostBytes {
		errs = append(errs, fmt.Errorf("text is %d bytes, max %d", len(text), MaxPostBytes))
	}
	if n := GraphemeCount(text); n > MaxPostGraphemes {
		errs = append(errs, fmt.Errorf("text is %d graphemes, max %d", n, MaxPostGraphemes))
	}

	if len(errs) > 0 {
		return fmt.Errorf("post text validation failed: %w", joinValidationErrors(errs))
	}
	return nil
}

// ValidateLangs checks a post's language hints. A nil slice means "no hint"
// and is valid; a non-nil slice must hold between one and MaxLangs well-formed
// BCP-47 tags.
func ValidateLangs(langs []string) error {
	if langs == nil {
		return nil
	}
	if len(langs) == 0 {
		return fmt.Errorf("langs must not be empty when provided")
	}
	if len(langs) > MaxLangs {
		return fmt.Errorf("at most %d langs allowed, got %d", MaxLangs, len(langs))
	}

	var errs []error
	for i, tag := range langs {
		if strings.TrimSpace(tag) == "" {
			errs = append(errs, fmt.Errorf("langs[%d] is empty", i))
			continue
		}
		if _, err := language.Parse(tag); err != nil {
			errs = append(errs, fmt.Errorf("langs[%d] %q is not a valid language tag: %v", i, tag, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("langs validation failed: %w", joinValidationErrors(errs))
	}
	return nil
}

// joinValidationErrors combines multiple errors into a single error message
func joinValidationErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}

	var msgs []string
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
