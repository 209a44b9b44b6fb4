package test_utils

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jamesprial/go-bsky-bridge/pkg/types"
	"github.com/jamesprial/go-bsky-bridge/pkg/validation"
)

// createdAtLayout is the millisecond-precision UTC form the client writes.
const createdAtLayout = "2006-01-02T15:04:05.000Z"

func AssertValidDID(did string) error {
	if did == "" {
		return fmt.Errorf("did is empty")
	}
	if !validation.IsValidDID(did) {
		return fmt.Errorf("did has invalid format: %s", did)
	}
	return nil
}

func AssertValidHandle(handle string) error {
	if handle == "" {
		return fmt.Errorf("handle is empty")
	}
	if !validation.IsValidHandle(handle) {
		return fmt.Errorf("handle has invalid format: %s", handle)
	}
	return nil
}

// AssertPostURI validates that uri names a post record in repo.
func AssertPostURI(uri, repo string) error {
	prefix := "at://" + repo + "/" + types.PostCollection + "/"
	if !strings.HasPrefix(uri, prefix) || len(uri) == len(prefix) {
		return fmt.Errorf("uri %q is not a post in %s", uri, repo)
	}
	return nil
}

// AssertValidCreatedAt validates the createdAt layout and that the instant
// falls within [min, max].
func AssertValidCreatedAt(createdAt string, min, max time.Time) error {
	ts, err := time.Parse(createdAtLayout, createdAt)
	if err != nil {
		return fmt.Errorf("createdAt %q is not millisecond UTC: %v", createdAt, err)
	}
	return AssertTimeRange(ts, min.Truncate(time.Millisecond), max)
}

// AssertValidFacets validates that facets index text correctly: in bounds, on
// rune boundaries, ordered and non-overlapping, with a value of the right shape.
func AssertValidFacets(text string, facets []types.Facet) error {
	prevEnd := 0
	for i, f := range facets {
		if f.ByteStart < prevEnd || f.ByteStart >= f.ByteEnd || f.ByteEnd > len(text) {
			return fmt.Errorf("facet %d has bad range [%d,%d) for %d-byte text", i, f.ByteStart, f.ByteEnd, len(text))
		}
		if !utf8.RuneStart(text[f.ByteStart]) || (f.ByteEnd < len(text) && !utf8.RuneStart(text[f.ByteEnd])) {
			return fmt.Errorf("facet %d [%d,%d) splits a character", i, f.ByteStart, f.ByteEnd)
		}
		prevEnd = f.ByteEnd

		switch f.Kind {
		case types.FacetMention:
			if err := AssertValidDID(f.Value); err != nil {
				return fmt.Errorf("facet %d: %v", i, err)
			}
		case types.FacetLink:
			if !strings.HasPrefix(f.Value, "http://") && !strings.HasPrefix(f.Value, "https://") {
				return fmt.Errorf("facet %d: link %q is not http(s)", i, f.Value)
			}
		case types.FacetTag:
			if err := AssertStringLength(f.Value, "tag", 1, 640); err != nil {
				return fmt.Errorf("facet %d: %v", i, err)
			}
		default:
			return fmt.Errorf("facet %d has unknown kind %q", i, f.Kind)
		}
	}
	return nil
}

// AssertValidPostRecord validates a record as submitted to createRecord.
func AssertValidPostRecord(rec types.PostRecord) error {
	if rec.Type != types.PostCollection {
		return fmt.Errorf("record $type is %q, want %q", rec.Type, types.PostCollection)
	}
	if err := validation.ValidatePostText(rec.Text); err != nil {
		return err
	}
	if rec.Langs != nil {
		if err := validation.ValidateLangs(rec.Langs); err != nil {
			return err
		}
	}
	if err := AssertValidFacets(rec.Text, rec.Facets); err != nil {
		return err
	}
	if _, err := time.Parse(createdAtLayout, rec.CreatedAt); err != nil {
		return fmt.Errorf("createdAt %q is not millisecond UTC: %v", rec.CreatedAt, err)
	}
	if rec.Embed != nil {
		if len(rec.Embed.Images) == 0 {
			return fmt.Errorf("images embed has no images")
		}
		for i, img := range rec.Embed.Images {
			if img.Image.Ref.Link == "" || img.Image.MimeType == "" {
				return fmt.Errorf("image %d has an incomplete blob reference", i)
			}
		}
	}
	return nil
}

// AssertTimeRange validates that a time is within expected range
func AssertTimeRange(t, min, max time.Time) error {
	if t.Before(min) {
		return fmt.Errorf("time %v is before minimum %v", t, min)
	}
	if t.After(max) {
		return fmt.Errorf("time %v is after maximum %v", t, max)
	}
	return nil
}

// AssertStringLength validates that a string length is within expected range
func AssertStringLength(s, fieldName string, min, max int) error {
	length := len(s)
	if length < min {
		return fmt.Errorf("%s length %d is below minimum %d", fieldName, length, min)
	}
	if length > max {
		return fmt.Errorf("%s length %d is above maximum %d", fieldName, length, max)
	}
	return nil
}

// AssertErrorMessage validates that an error message contains expected text
func AssertErrorMessage(err error, expectedMessage string) error {
	if err == nil {
		return fmt.Errorf("expected error containing message '%s', got nil", expectedMessage)
	}

	if !strings.Contains(strings.ToLower(err.Error()), strings.ToLower(expectedMessage)) {
		return fmt.Errorf("expected error message containing '%s', got '%s'", expectedMessage, err.Error())
	}

	return nil
}
