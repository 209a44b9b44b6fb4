package helpers

import (
	"math/rand"
	"strings"
)

// Fuzzer provides utilities for generating adversarial input strings
type Fuzzer struct {
	rnd *rand.Rand
}

// NewFuzzer creates a new Fuzzer with the given seed
func NewFuzzer(seed int64) *Fuzzer {
	return &Fuzzer{
		rnd: rand.New(rand.NewSource(seed)),
	}
}

// FuzzPostText returns hostile post texts for the facet detector
func (f *Fuzzer) FuzzPostText() []string {
	return []string{
		// Empty and boundary cases
		"",
		"@",
		"#",
		"＃",
		"@.",
		"#️⃣",
		"https://",
		"http://.",
		" @ # https:// ",

		// Adjacent and nested markers
		"@@alice.bsky.social",
		"##golang",
		"#@alice.bsky.social",
		"@alice.bsky.social#golang",
		"https://example.com/@alice.bsky.social#frag",
		"(https://example.com/a_(b))",
		"email me: alice@example.com",
		"#tag#tag#tag",

		// Invalid UTF-8
		"\xff\xfe @alice.bsky.social",
		"#\xc3",
		"@alice.bsky.social\x80",
		"https://example.com/\xe2\x82",

		// Zero-width and direction control characters
		"#go​lang",
		"@alice‍.bsky.social",
		"test‮#admin",
		"⁠#golang",
		"#go­lang",

		// Combining marks and multi-codepoint graphemes
		"#café",
		"👩‍👩‍👧‍👦 #family @a.b",
		"🇫🇷 #🇫🇷",
		"é́́ @x.y",

		// Control characters
		"#go\x00lang",
		"@alice.bsky.social\n#next",
		"line\r\nhttps://example.com",
		"\t#tabbed",

		// Punctuation soup
		"#...",
		"#!!!",
		"#123",
		"#1a",
		"@-alice.bsky.social",
		"@alice-.bsky.social",
		"@alice.bsky.social.",
		"example.com.",
		"example.com/",
		"(example.com)",
		"exa_mple.com",
		"a.b.c.d.e.f.g.h.i.j.k",

		// Very long repeated patterns
		strings.Repeat("#", 1000),
		strings.Repeat("@a.b ", 500),
		"#" + strings.Repeat("x", 64),
		"#" + strings.Repeat("x", 65),
		"@" + strings.Repeat("a", 63) + ".com",
		"https://" + strings.Repeat("a", 300) + ".com",
		strings.Repeat("https://example.com/", 100),
	}
}

// FuzzHandle returns hostile handles
func (f *Fuzzer) FuzzHandle() []string {
	return []string{
		"",
		".",
		"..",
		"alice",
		"alice.",
		".alice.com",
		"alice..com",
		"-alice.com",
		"alice-.com",
		"alice.com-",
		"alice.123",
		"al ice.com",
		"alice.com\n",
		"alice.com\x00",
		"alice@bsky.social",
		"../../etc/passwd",
		"alice.com/../../x",
		"аlice.com", // Cyrillic a
		"alice.xn--p1ai",
		strings.Repeat("a", 64) + ".com",
		strings.Repeat("a.", 127) + "com",
		"did:plc:abc123",
	}
}

// RandomText builds a string of n runes drawn from a pool that is dense in
// facet markers, separators and multi-byte characters.
func (f *Fuzzer) RandomText(n int) string {
	pool := []string{
		"@", "#", "＃", ".", "/", ":", "-", "_", " ", "\n", "(", ")",
		"a", "b", "z", "0", "9", "com", "https://", "bsky", "social",
		"é", "ß", "日", "🎉", "​", "­", "́", "\xff",
	}
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString(pool[f.rnd.Intn(len(pool))])
	}
	return b.String()
}
