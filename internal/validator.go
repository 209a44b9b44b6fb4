package internal

import (
	"fmt"
	"strings"

	pkgerrs "github.com/jamesprial/go-bsky-bridge/pkg/errors"
	"github.com/jamesprial/go-bsky-bridge/pkg/types"
	"github.com/jamesprial/go-bsky-bridge/pkg/validation"
)

const (
	// User agent constraints
	maxUserAgentLength = 256

	// Alt text constraints
	maxAltTextBytes = 10000
)

// Validator provides validation operations for client configuration and post
// requests. Every failure is reported as a *errors.ConfigError.
type Validator struct{}

// NewValidator creates a new Validator instance.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateHandle checks that handle is a syntactically valid atproto handle.
func (v *Validator) ValidateHandle(handle string) error {
	if handle == "" {
		return &pkgerrs.ConfigError{Field: "Handle", Message: "handle cannot be empty"}
	}
	if len(handle) > validation.MaxHandleLength {
		return &pkgerrs.ConfigError{Field: "Handle", Message: fmt.Sprintf("handle cannot exceed %d characters", validation.MaxHandleLength)}
	}
	if !validation.IsValidHandle(handle) {
		return &pkgerrs.ConfigError{Field: "Handle", Message: fmt.Sprintf("%q is not a valid handle", handle)}
	}
	return nil
}

// ValidateAppPassword rejects an empty or blank password.
func (v *Validator) ValidateAppPassword(password string) error {
	if strings.TrimSpace(password) == "" {
		return &pkgerrs.ConfigError{Field: "AppPassword", Message: "app password cannot be empty"}
	}
	return nil
}

// ValidateUserAgent validates the User-Agent string to prevent header injection attacks.
func (v *Validator) ValidateUserAgent(ua string) error {
	if len(ua) == 0 {
		return &pkgerrs.ConfigError{Field: "UserAgent", Message: "user agent cannot be empty"}
	}

	if strings.ContainsAny(ua, "\r\n") {
		return &pkgerrs.ConfigError{Field: "UserAgent", Message: "user agent cannot contain newline characters"}
	}

	if len(ua) > maxUserAgentLength {
		return &pkgerrs.ConfigError{Field: "UserAgent", Message: fmt.Sprintf("user agent too long (max %d characters)", maxUserAgentLength)}
	}

	return nil
}

// ValidatePostRequest checks text length limits and language hints.
func (v *Validator) ValidatePostRequest(req *types.PostRequest) error {
	if req == nil {
		return &pkgerrs.ConfigError{Field: "request", Message: "post request cannot be nil"}
	}
	if err := validation.ValidatePostText(req.Text); err != nil {
		return &pkgerrs.ConfigError{Field: "Text", Message: err.Error()}
	}
	if err := validation.ValidateLangs(req.Langs); err != nil {
		return &pkgerrs.ConfigError{Field: "Langs", Message: err.Error()}
	}
	return nil
}

// ValidateImagePostRequest checks the text part plus the image path and alt text.
func (v *Validator) ValidateImagePostRequest(req *types.ImagePostRequest) error {
	if req == nil {
		return &pkgerrs.ConfigError{Field: "request", Message: "image post request cannot be nil"}
	}
	if err := v.ValidatePostRequest(&req.PostRequest); err != nil {
		return err
	}
	if strings.TrimSpace(req.ImagePath) == "" {
		return &pkgerrs.ConfigError{Field: "ImagePath", Message: "image path cannot be empty"}
	}
	if len(req.AltText) > maxAltTextBytes {
		return &pkgerrs.ConfigError{Field: "AltText", Message: fmt.Sprintf("alt text cannot exceed %d bytes", maxAltTextBytes)}
	}
	return nil
}
