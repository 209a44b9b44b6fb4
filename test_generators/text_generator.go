package test_generators

import (
	"math/rand"
	"strings"
	"time"

	"github.com/jamesprial/go-bsky-bridge/pkg/types"
)

// TextGenerator generates post texts together with the facets a correct
// detector must find in them. Mention values are the lowercase handles, as
// returned before resolution.
type TextGenerator struct {
	rand     *rand.Rand
	words    []string
	handles  []string
	links    []string
	tags     []string
	maxWords int
}

// GeneratedText is a post text and its expected facets in ByteStart order.
type GeneratedText struct {
	Text   string
	Facets []types.Facet
}

// NewTextGenerator creates a new text generator
func NewTextGenerator(seed int64) *TextGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &TextGenerator{
		rand: rand.New(rand.NewSource(seed)),
		words: []string{
			"hello", "world", "héllo", "wörld", "café", "naïve", "日本語",
			"テスト", "🎉", "👋🏽", "ok", "posting", "from", "the", "bridge",
			"Ελληνικά", "привет", "again", "today", "🙂",
		},
		handles: []string{
			"bob.bsky.social", "carol.example.com", "dave.test", "eve-99.bsky.social",
			"frank.co.uk", "x.y.z",
		},
		links: []string{
			"https://example.com", "https://go.dev/doc/effective_go",
			"http://bsky.app/profile/bob.bsky.social", "https://en.wikipedia.org/wiki/Go_programming_language",
			"https://example.org/search?q=go&lang=en",
		},
		tags: []string{
			"golang", "bluesky", "日本", "café", "go2", "atproto", "v1beta",
		},
		maxWords: 12,
	}
}

// Generate returns one text with between zero and several facets.
func (g *TextGenerator) Generate() GeneratedText {
	var b strings.Builder
	var facets []types.Facet

	n := 1 + g.rand.Intn(g.maxWords)
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(' ')
		}

		start := b.Len()
		switch g.rand.Intn(6) {
		case 0:
			handle := g.randElement(g.handles)
			b.WriteString("@" + handle)
			facets = append(facets, types.Facet{ByteStart: start, ByteEnd: b.Len(), Kind: types.FacetMention, Value: handle})
		case 1:
			link := g.randElement(g.links)
			b.WriteString(link)
			facets = append(facets, types.Facet{ByteStart: start, ByteEnd: b.Len(), Kind: types.FacetLink, Value: link})
		case 2:
			tag := g.randElement(g.tags)
			b.WriteString("#" + tag)
			facets = append(facets, types.Facet{ByteStart: start, ByteEnd: b.Len(), Kind: types.FacetTag, Value: tag})
		default:
			b.WriteString(g.randElement(g.words))
		}
	}

	return GeneratedText{Text: b.String(), Facets: facets}
}

// GenerateBatch returns count texts.
func (g *TextGenerator) GenerateBatch(count int) []GeneratedText {
	out := make([]GeneratedText, count)
	for i := range out {
		out[i] = g.Generate()
	}
	return out
}

// Handles returns the handles that may appear as mentions.
func (g *TextGenerator) Handles() []string {
	return append([]string{}, g.handles...)
}

func (g *TextGenerator) randElement(slice []string) string {
	return slice[g.rand.Intn(len(slice))]
}
