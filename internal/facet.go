package internal

import (
	"cmp"
	"context"
	"iter"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/publicsuffix"

	pkgerrs "github.com/jamesprial/go-bsky-bridge/pkg/errors"
	"github.com/jamesprial/go-bsky-bridge/pkg/types"
)

// maxTagRunes is the longest hashtag, in characters, that becomes a facet.
const maxTagRunes = 64

// The leading group stands in for a lookbehind, which RE2 lacks; group 1 is
// always the span that becomes the facet.
var (
	mentionRegex = regexp.MustCompile(`(?:^|[^\p{L}\p{N}_])(@((?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?))`)

	urlRegex = regexp.MustCompile(`(?:^|[^\p{L}\p{N}_])(https?://[-a-zA-Z0-9@:%._+~#=]{1,256}\.[a-zA-Z0-9()]{1,6}\b(?:[-a-zA-Z0-9()@:%_+.~#?&/=]*[-a-zA-Z0-9@%_+~#/=])?)`)

	bareDomainRegex = regexp.MustCompile(`(?:^|[\s(])((?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,63}(?:/(?:[-a-zA-Z0-9()@:%_+.~#?&/=]*[-a-zA-Z0-9@%_+~#/=])?)?)`)

	tagRegex = regexp.MustCompile(`(?:^|[\s\x0B\p{Z}\x{0085}])([#＃][^\s\x0B\p{Z}\x{0085}\x{00AD}\x{2060}\x{200A}\x{200B}\x{200C}\x{200D}\x{20E2}]+)`)
)

// kindPriority orders matchers when spans overlap; lower wins.
var kindPriority = map[types.FacetKind]int{
	types.FacetLink:    0,
	types.FacetMention: 1,
	types.FacetTag:     2,
}

// DetectFacets scans text and returns non-overlapping facet spans ordered by
// ByteStart. Mention values are the matched handle (lowercased), not yet
// resolved to a DID. No network calls are made.
func DetectFacets(text string) []types.Facet {
	var candidates []types.Facet
	candidates = append(candidates, detectLinks(text)...)
	candidates = append(candidates, detectMentions(text)...)
	candidates = append(candidates, detectTags(text)...)

	slices.SortStableFunc(candidates, func(a, b types.Facet) int {
		if c := cmp.Compare(kindPriority[a.Kind], kindPriority[b.Kind]); c != 0 {
			return c
		}
		return cmp.Compare(a.ByteStart, b.ByteStart)
	})

	accepted := make([]types.Facet, 0, len(candidates))
	for _, c := range candidates {
		if !overlapsAny(accepted, c) {
			accepted = append(accepted, c)
		}
	}

	slices.SortFunc(accepted, func(a, b types.Facet) int {
		return cmp.Compare(a.ByteStart, b.ByteStart)
	})
	return accepted
}

func overlapsAny(accepted []types.Facet, f types.Facet) bool {
	for _, a := range accepted {
		if f.ByteStart < a.ByteEnd && a.ByteStart < f.ByteEnd {
			return true
		}
	}
	return false
}

func detectMentions(text string) []types.Facet {
	var facets []types.Facet
	for _, m := range mentionRegex.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[2], m[3]
		if followedByWordByte(text, end) {
			continue
		}
		facets = append(facets, types.Facet{
			ByteStart: start,
			ByteEnd:   end,
			Kind:      types.FacetMention,
			Value:     strings.ToLower(text[m[4]:m[5]]),
		})
	}
	return facets
}

func detectLinks(text string) []types.Facet {
	var facets []types.Facet
	for _, m := range urlRegex.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[2], m[3]
		facets = append(facets, types.Facet{
			ByteStart: start,
			ByteEnd:   end,
			Kind:      types.FacetLink,
			Value:     text[start:end],
		})
	}

	for _, m := range bareDomainRegex.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[2], m[3]
		if followedByWordByte(text, end) {
			continue
		}
		match := text[start:end]
		host, _, _ := strings.Cut(match, "/")
		if !hasICANNSuffix(host) {
			continue
		}
		facets = append(facets, types.Facet{
			ByteStart: start,
			ByteEnd:   end,
			Kind:      types.FacetLink,
			Value:     "https://" + match,
		})
	}
	return facets
}

func detectTags(text string) []types.Facet {
	var facets []types.Facet
	for _, m := range tagRegex.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[2], m[3]
		raw := text[start:end]

		_, hashLen := utf8.DecodeRuneInString(raw)
		tag := strings.TrimRightFunc(raw[hashLen:], unicode.IsPunct)
		if !isValidTag(tag) {
			continue
		}

		facets = append(facets, types.Facet{
			ByteStart: start,
			ByteEnd:   start + hashLen + len(tag),
			Kind:      types.FacetTag,
			Value:     tag,
		})
	}
	return facets
}

// isValidTag rejects empty, over-long and purely numeric tags, and the keycap
// sequence "#️⃣".
func isValidTag(tag string) bool {
	if tag == "" || strings.HasPrefix(tag, "️") {
		return false
	}
	if utf8.RuneCountInString(tag) > maxTagRunes {
		return false
	}
	for _, r := range tag {
		if !unicode.IsDigit(r) && !unicode.IsPunct(r) {
			return true
		}
	}
	return false
}

func hasICANNSuffix(host string) bool {
	host = strings.ToLower(host)
	suffix, icann := publicsuffix.PublicSuffix(host)
	return icann && suffix != host
}

func followedByWordByte(text string, end int) bool {
	if end >= len(text) {
		return false
	}
	b := text[end]
	return b == '_' || b == '-' || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z') || ('0' <= b && b <= '9')
}

// HandleResolver maps a handle to its DID.
type HandleResolver interface {
	ResolveHandle(ctx context.Context, handle string) (string, error)
}

// FacetParser turns post text into facets, resolving mentions through a
// HandleResolver.
type FacetParser struct {
	resolver HandleResolver
	logger   *slog.Logger
	metrics  *Metrics
}

// NewFacetParser creates a parser. logger and metrics may be nil.
func NewFacetParser(resolver HandleResolver, logger *slog.Logger, metrics *Metrics) *FacetParser {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FacetParser{resolver: resolver, logger: logger, metrics: metrics}
}

// Facets returns the facets of text as a lazy sequence. Detection runs when
// iteration starts and each mention is resolved just before it is yielded;
// unresolvable mentions are logged and skipped. Ranging over the sequence
// again repeats the work.
func (p *FacetParser) Facets(ctx context.Context, text string) iter.Seq[types.Facet] {
	return func(yield func(types.Facet) bool) {
		for _, f := range DetectFacets(text) {
			if f.Kind == types.FacetMention {
				did, err := p.resolver.ResolveHandle(ctx, f.Value)
				if err != nil {
					p.logger.Debug("dropping mention",
						"error", &pkgerrs.FacetResolutionError{Handle: f.Value, Err: err},
						"byte_start", f.ByteStart,
					)
					p.metrics.RecordFacetDrop()
					continue
				}
				f.Value = did
			}
			if !yield(f) {
				return
			}
		}
	}
}
