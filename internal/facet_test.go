package internal

import (
	"context"
	"slices"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jamesprial/go-bsky-bridge/pkg/types"
	"github.com/jamesprial/go-bsky-bridge/test_generators"
)

func TestDetectFacets(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []types.Facet
	}{
		{
			name: "mention link and tag",
			text: "Hello @alice.bsky.social check https://example.com #fun",
			want: []types.Facet{
				{ByteStart: 6, ByteEnd: 24, Kind: types.FacetMention, Value: "alice.bsky.social"},
				{ByteStart: 31, ByteEnd: 50, Kind: types.FacetLink, Value: "https://example.com"},
				{ByteStart: 51, ByteEnd: 55, Kind: types.FacetTag, Value: "fun"},
			},
		},
		{
			name: "multibyte prefix shifts byte offsets",
			text: "héllo #fun",
			want: []types.Facet{
				{ByteStart: 7, ByteEnd: 11, Kind: types.FacetTag, Value: "fun"},
			},
		},
		{
			name: "cjk prefix before mention",
			text: "日本語 @bob.example.com",
			want: []types.Facet{
				{ByteStart: 10, ByteEnd: 26, Kind: types.FacetMention, Value: "bob.example.com"},
			},
		},
		{
			name: "mention at start is lowercased",
			text: "@Alice.Bsky.Social hi",
			want: []types.Facet{
				{ByteStart: 0, ByteEnd: 18, Kind: types.FacetMention, Value: "alice.bsky.social"},
			},
		},
		{
			name: "mention followed by sentence period",
			text: "thanks @alice.bsky.social.",
			want: []types.Facet{
				{ByteStart: 7, ByteEnd: 25, Kind: types.FacetMention, Value: "alice.bsky.social"},
			},
		},
		{
			name: "email is not a mention",
			text: "contact bob@example.com",
			want: nil,
		},
		{
			name: "accented letter glued to mention",
			text: "café@bob.example.com",
			want: nil,
		},
		{
			name: "mention after accented word and space",
			text: "né @bob.example.com",
			want: []types.Facet{
				{ByteStart: 4, ByteEnd: 20, Kind: types.FacetMention, Value: "bob.example.com"},
			},
		},
		{
			name: "mention in parentheses",
			text: "(@alice.bsky.social)",
			want: []types.Facet{
				{ByteStart: 1, ByteEnd: 19, Kind: types.FacetMention, Value: "alice.bsky.social"},
			},
		},
		{
			name: "accented letter glued to link",
			text: "véhttps://example.com",
			want: nil,
		},
		{
			name: "mention glued to word characters",
			text: "@alice.bsky.social_x",
			want: nil,
		},
		{
			name: "link beats mention inside it",
			text: "https://example.com/@bob.bsky.social",
			want: []types.Facet{
				{ByteStart: 0, ByteEnd: 36, Kind: types.FacetLink, Value: "https://example.com/@bob.bsky.social"},
			},
		},
		{
			name: "link drops trailing period",
			text: "Visit https://example.com/path.",
			want: []types.Facet{
				{ByteStart: 6, ByteEnd: 30, Kind: types.FacetLink, Value: "https://example.com/path"},
			},
		},
		{
			name: "link with query",
			text: "http://example.com/a?b=c&d=e",
			want: []types.Facet{
				{ByteStart: 0, ByteEnd: 28, Kind: types.FacetLink, Value: "http://example.com/a?b=c&d=e"},
			},
		},
		{
			name: "bare domain",
			text: "go to example.com now",
			want: []types.Facet{
				{ByteStart: 6, ByteEnd: 17, Kind: types.FacetLink, Value: "https://example.com"},
			},
		},
		{
			name: "bare domain in parentheses",
			text: "(see bsky.app)",
			want: []types.Facet{
				{ByteStart: 5, ByteEnd: 13, Kind: types.FacetLink, Value: "https://bsky.app"},
			},
		},
		{
			name: "bare domain with path",
			text: "example.com/path",
			want: []types.Facet{
				{ByteStart: 0, ByteEnd: 16, Kind: types.FacetLink, Value: "https://example.com/path"},
			},
		},
		{
			name: "unknown tld is not a link",
			text: "open file.notarealtld",
			want: nil,
		},
		{
			name: "numeric tag rejected",
			text: "#123 #1a",
			want: []types.Facet{
				{ByteStart: 5, ByteEnd: 8, Kind: types.FacetTag, Value: "1a"},
			},
		},
		{
			name: "tag trailing punctuation trimmed",
			text: "great #golang, right",
			want: []types.Facet{
				{ByteStart: 6, ByteEnd: 13, Kind: types.FacetTag, Value: "golang"},
			},
		},
		{
			name: "tag with exclamation",
			text: "#fun!",
			want: []types.Facet{
				{ByteStart: 0, ByteEnd: 4, Kind: types.FacetTag, Value: "fun"},
			},
		},
		{
			name: "full width hash",
			text: "＃タグ",
			want: []types.Facet{
				{ByteStart: 0, ByteEnd: 9, Kind: types.FacetTag, Value: "タグ"},
			},
		},
		{
			name: "hash inside word is not a tag",
			text: "a#b",
			want: nil,
		},
		{
			name: "tag at length limit",
			text: "#" + strings.Repeat("a", 64),
			want: []types.Facet{
				{ByteStart: 0, ByteEnd: 65, Kind: types.FacetTag, Value: strings.Repeat("a", 64)},
			},
		},
		{
			name: "tag over length limit",
			text: "#" + strings.Repeat("a", 65),
			want: nil,
		},
		{
			name: "empty text",
			text: "",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectFacets(tt.text)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("DetectFacets(%q)\n got  %+v\n want %+v", tt.text, got, tt.want)
			}
		})
	}
}

func TestDetectFacets_SpansSliceBackToMatch(t *testing.T) {
	texts := []string{
		"Hello @alice.bsky.social check https://example.com #fun",
		"Ünïcödé 🎉 @bob.example.com and #日本語 then example.org/x",
		"(bsky.app) #go, #rust! @carol.test.dev https://a.example.net/#frag",
		"👨‍👩‍👧 family #tag_with_underscore ＃全角",
	}

	for _, text := range texts {
		facets := DetectFacets(text)
		if len(facets) == 0 {
			t.Errorf("expected facets in %q", text)
		}

		for i, f := range facets {
			if f.ByteStart < 0 || f.ByteEnd > len(text) || f.ByteStart >= f.ByteEnd {
				t.Fatalf("invalid span %+v in %q", f, text)
			}
			span := text[f.ByteStart:f.ByteEnd]

			switch f.Kind {
			case types.FacetMention:
				if !strings.EqualFold(span, "@"+f.Value) {
					t.Errorf("mention span %q does not match value %q", span, f.Value)
				}
			case types.FacetLink:
				if span != f.Value && "https://"+span != f.Value {
					t.Errorf("link span %q does not match value %q", span, f.Value)
				}
			case types.FacetTag:
				if span != "#"+f.Value && span != "＃"+f.Value {
					t.Errorf("tag span %q does not match value %q", span, f.Value)
				}
			}

			if i > 0 {
				prev := facets[i-1]
				if prev.ByteStart > f.ByteStart {
					t.Errorf("facets out of order in %q: %+v before %+v", text, prev, f)
				}
				if prev.ByteEnd > f.ByteStart {
					t.Errorf("facets overlap in %q: %+v and %+v", text, prev, f)
				}
			}
		}
	}
}

func TestDetectFacets_ASCIIOffsetsEqualCharOffsets(t *testing.T) {
	text := "ping @dave.bsky.social about #news at example.com"
	for _, f := range DetectFacets(text) {
		runeStart := len([]rune(text[:f.ByteStart]))
		if runeStart != f.ByteStart {
			t.Errorf("ASCII text: byte offset %d != char offset %d", f.ByteStart, runeStart)
		}
	}

	prefixed := "ééé " + text
	base := DetectFacets(text)
	shifted := DetectFacets(prefixed)
	if len(base) != len(shifted) {
		t.Fatalf("expected same facets, got %d and %d", len(base), len(shifted))
	}
	for i := range base {
		// "ééé " is 4 characters but 7 bytes.
		if shifted[i].ByteStart != base[i].ByteStart+7 {
			t.Errorf("expected facet %d to shift by 7 bytes, got %d -> %d", i, base[i].ByteStart, shifted[i].ByteStart)
		}
	}
}

func TestFacetParser_ResolvesMentions(t *testing.T) {
	stub := newStubResolver(map[string]string{"alice.bsky.social": "did:plc:abc123"})
	p := NewFacetParser(stub, nil, nil)

	got := slices.Collect(p.Facets(context.Background(), "Hello @alice.bsky.social check https://example.com #fun"))
	want := []types.Facet{
		{ByteStart: 6, ByteEnd: 24, Kind: types.FacetMention, Value: "did:plc:abc123"},
		{ByteStart: 31, ByteEnd: 50, Kind: types.FacetLink, Value: "https://example.com"},
		{ByteStart: 51, ByteEnd: 55, Kind: types.FacetTag, Value: "fun"},
	}
	if !slices.Equal(got, want) {
		t.Errorf("got %+v\nwant %+v", got, want)
	}
}

func TestFacetParser_DropsUnresolvedMentions(t *testing.T) {
	stub := newStubResolver(map[string]string{"alice.bsky.social": "did:plc:abc123"})
	metrics, err := NewMetrics(prometheus.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	p := NewFacetParser(stub, nil, metrics)

	got := slices.Collect(p.Facets(context.Background(), "@ghost.bsky.social and @alice.bsky.social #ok"))
	if len(got) != 2 {
		t.Fatalf("expected 2 facets, got %+v", got)
	}
	if got[0].Kind != types.FacetMention || got[0].Value != "did:plc:abc123" {
		t.Errorf("unexpected first facet %+v", got[0])
	}
	if got[1].Kind != types.FacetTag {
		t.Errorf("unexpected second facet %+v", got[1])
	}

	if drops := testutil.ToFloat64(metrics.facetDrops); drops != 1 {
		t.Errorf("expected 1 dropped mention, got %v", drops)
	}
}

func TestFacetParser_SequenceIsLazyAndRestartable(t *testing.T) {
	stub := newStubResolver(map[string]string{
		"a.example.com": "did:plc:a",
		"b.example.com": "did:plc:b",
	})
	p := NewFacetParser(stub, nil, nil)
	seq := p.Facets(context.Background(), "@a.example.com @b.example.com")

	if n := stub.callCount("a.example.com"); n != 0 {
		t.Fatalf("building the sequence must not resolve anything, got %d calls", n)
	}

	for f := range seq {
		if f.Value != "did:plc:a" {
			t.Errorf("unexpected first facet %+v", f)
		}
		break
	}
	if n := stub.callCount("b.example.com"); n != 0 {
		t.Errorf("stopping early must not resolve later mentions, got %d calls", n)
	}

	first := slices.Collect(seq)
	second := slices.Collect(seq)
	if !slices.Equal(first, second) || len(first) != 2 {
		t.Errorf("expected identical full passes, got %+v and %+v", first, second)
	}
}

func TestDetectFacets_GeneratedTexts(t *testing.T) {
	gen := test_generators.NewTextGenerator(42)

	for i, sample := range gen.GenerateBatch(200) {
		got := DetectFacets(sample.Text)
		if !slices.Equal(got, sample.Facets) {
			t.Fatalf("sample %d %q:\n got  %+v\n want %+v", i, sample.Text, got, sample.Facets)
		}
	}
}
