package bsky

import (
	"context"
	"iter"

	"github.com/jamesprial/go-bsky-bridge/internal"
	"github.com/jamesprial/go-bsky-bridge/pkg/types"
)

// DetectFacets returns the mention, link and hashtag spans of text, ordered by
// ByteStart and never overlapping. Offsets are UTF-8 byte offsets. Mention
// values are lowercased handles; nothing is resolved and no network call is
// made.
func DetectFacets(text string) []types.Facet {
	return internal.DetectFacets(text)
}

// Facets returns the facets of text as a lazy sequence with mentions resolved
// to DIDs. Each mention is resolved as iteration reaches it; mentions that
// cannot be resolved are skipped. Stopping early skips the remaining lookups,
// and ranging over the sequence again starts over.
//
//	for f := range session.Facets(ctx, "hi @bob.example.com #golang") {
//		fmt.Println(f.Kind, f.ByteStart, f.ByteEnd, f.Value)
//	}
func (s *Session) Facets(ctx context.Context, text string) iter.Seq[types.Facet] {
	return s.facets.Facets(ctx, text)
}

// ResolveHandle returns the DID for handle. Successful lookups are cached for
// Config.HandleCacheTTL.
func (s *Session) ResolveHandle(ctx context.Context, handle string) (string, error) {
	return s.resolver.ResolveHandle(ctx, handle)
}
