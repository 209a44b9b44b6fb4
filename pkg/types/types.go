package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Lexicon identifiers used in records written by this package.
const (
	// PostCollection is the collection NSID for feed posts.
	PostCollection = "app.bsky.feed.post"
	// ImagesEmbedType is the $type of an image embed attached to a post.
	ImagesEmbedType = "app.bsky.embed.images"
	// BlobType is the $type of a blob reference returned by uploadBlob.
	BlobType = "blob"

	facetFeaturePrefix = "app.bsky.richtext.facet#"
)

// Credentials is the authenticated state of a session. It is what the
// credential store persists, one JSON object per handle.
type Credentials struct {
	Handle          string    `json:"handle"`
	DID             string    `json:"did"`
	AccessJwt       string    `json:"accessJwt"`
	RefreshJwt      string    `json:"refreshJwt"`
	ServiceEndpoint string    `json:"serviceEndpoint"`
	RefreshedAt     time.Time `json:"refreshedAt"`
}

// IsComplete reports whether the credentials carry everything needed to make
// authenticated calls: a DID and both tokens.
func (c Credentials) IsComplete() bool {
	return c.DID != "" && c.AccessJwt != "" && c.RefreshJwt != ""
}

// FacetKind identifies what a facet annotates.
type FacetKind string

const (
	FacetMention FacetKind = "mention"
	FacetLink    FacetKind = "link"
	FacetTag     FacetKind = "tag"
)

// FeatureType returns the lexicon $type of the facet feature for this kind.
func (k FacetKind) FeatureType() string {
	return facetFeaturePrefix + string(k)
}

// Facet annotates the byte range [ByteStart, ByteEnd) of a post's UTF-8 text.
// Value holds the DID for mentions, the URI for links and the tag text
// (without '#') for hashtags.
type Facet struct {
	ByteStart int
	ByteEnd   int
	Kind      FacetKind
	Value     string
}

// ByteSlice is the wire form of a facet's index.
type ByteSlice struct {
	ByteStart int `json:"byteStart"`
	ByteEnd   int `json:"byteEnd"`
}

type facetFeature struct {
	Type string `json:"$type"`
	DID  string `json:"did,omitempty"`
	URI  string `json:"uri,omitempty"`
	Tag  string `json:"tag,omitempty"`
}

type wireFacet struct {
	Index    ByteSlice      `json:"index"`
	Features []facetFeature `json:"features"`
}

// MarshalJSON encodes the facet as an app.bsky.richtext.facet object.
func (f Facet) MarshalJSON() ([]byte, error) {
	feature := facetFeature{Type: f.Kind.FeatureType()}
	switch f.Kind {
	case FacetMention:
		feature.DID = f.Value
	case FacetLink:
		feature.URI = f.Value
	case FacetTag:
		feature.Tag = f.Value
	default:
		return nil, fmt.Errorf("unknown facet kind: %q", f.Kind)
	}

	return json.Marshal(wireFacet{
		Index:    ByteSlice{ByteStart: f.ByteStart, ByteEnd: f.ByteEnd},
		Features: []facetFeature{feature},
	})
}

// UnmarshalJSON decodes an app.bsky.richtext.facet object. Only the first
// feature is kept; facets written by this package never carry more than one.
func (f *Facet) UnmarshalJSON(data []byte) error {
	var w wireFacet
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if len(w.Features) == 0 {
		return fmt.Errorf("facet has no features")
	}

	feature := w.Features[0]
	kind, ok := strings.CutPrefix(feature.Type, facetFeaturePrefix)
	if !ok {
		return fmt.Errorf("unrecognized facet feature type: %q", feature.Type)
	}

	f.ByteStart = w.Index.ByteStart
	f.ByteEnd = w.Index.ByteEnd
	f.Kind = FacetKind(kind)
	switch f.Kind {
	case FacetMention:
		f.Value = feature.DID
	case FacetLink:
		f.Value = feature.URI
	case FacetTag:
		f.Value = feature.Tag
	default:
		return fmt.Errorf("unrecognized facet feature type: %q", feature.Type)
	}
	return nil
}

// Link is a content-addressed reference as it appears in JSON ({"$link": cid}).
type Link struct {
	Link string `json:"$link"`
}

// BlobRef is the opaque reference returned by uploadBlob and embedded in
// records that point at uploaded binary content.
type BlobRef struct {
	Type     string `json:"$type"`
	Ref      Link   `json:"ref"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

// AspectRatio lets clients reserve layout space before an image loads.
type AspectRatio struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// EmbedImage is a single image inside an images embed.
type EmbedImage struct {
	Alt         string       `json:"alt"`
	Image       BlobRef      `json:"image"`
	AspectRatio *AspectRatio `json:"aspectRatio,omitempty"`
}

// ImagesEmbed is the app.bsky.embed.images object attached to a post.
type ImagesEmbed struct {
	Type   string       `json:"$type"`
	Images []EmbedImage `json:"images"`
}

// PostRecord is the app.bsky.feed.post record submitted to createRecord.
// A nil Langs omits the language hint entirely.
type PostRecord struct {
	Type      string       `json:"$type"`
	Text      string       `json:"text"`
	Facets    []Facet      `json:"facets,omitempty"`
	CreatedAt string       `json:"createdAt"`
	Langs     []string     `json:"langs,omitempty"`
	Embed     *ImagesEmbed `json:"embed,omitempty"`
}

// ImageBlob is an encoded image ready for upload. It lives only for the
// duration of a single post operation.
type ImageBlob struct {
	Data     []byte
	MimeType string
	Width    int
	Height   int
}

// Size returns the encoded size in bytes.
func (b *ImageBlob) Size() int {
	return len(b.Data)
}

// PostRequest describes a text post. Langs may be nil to send no language hint;
// when set it must hold one to three BCP-47 tags, sent in the given order.
type PostRequest struct {
	Text  string
	Langs []string
}

// ImagePostRequest describes a post with a single attached image.
type ImagePostRequest struct {
	PostRequest
	ImagePath string
	AltText   string
}

// CreateRecordResponse is returned by createRecord: the record's AT-URI and
// the CID of the commit.
type CreateRecordResponse struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}
