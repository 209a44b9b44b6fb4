package internal

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	pkgerrs "github.com/jamesprial/go-bsky-bridge/pkg/errors"
	"github.com/jamesprial/go-bsky-bridge/pkg/types"
)

// createdAtLayout is RFC 3339 in UTC with millisecond precision.
const createdAtLayout = "2006-01-02T15:04:05.000Z"

// FormatCreatedAt renders t the way post records carry timestamps.
func FormatCreatedAt(t time.Time) string {
	return t.UTC().Format(createdAtLayout)
}

// BuildPostRecord assembles an app.bsky.feed.post record. An empty facet list
// and nil langs are left out of the encoded record.
func BuildPostRecord(text string, facets []types.Facet, langs []string, createdAt time.Time) *types.PostRecord {
	rec := &types.PostRecord{
		Type:      types.PostCollection,
		Text:      text,
		CreatedAt: FormatCreatedAt(createdAt),
		Langs:     langs,
	}
	if len(facets) > 0 {
		rec.Facets = facets
	}
	return rec
}

// BuildImagesEmbed wraps one uploaded blob as an images embed.
func BuildImagesEmbed(blob types.BlobRef, alt string, width, height int) *types.ImagesEmbed {
	img := types.EmbedImage{
		Alt:   alt,
		Image: blob,
	}
	if width > 0 && height > 0 {
		img.AspectRatio = &types.AspectRatio{Width: width, Height: height}
	}
	return &types.ImagesEmbed{
		Type:   types.ImagesEmbedType,
		Images: []types.EmbedImage{img},
	}
}

// RepoClient writes to the authenticated account's repository.
type RepoClient struct {
	client *Client
}

// NewRepoClient creates a repo client that sends its calls through client.
func NewRepoClient(client *Client) *RepoClient {
	return &RepoClient{client: client}
}

type createRecordRequest struct {
	Repo       string            `json:"repo"`
	Collection string            `json:"collection"`
	Record     *types.PostRecord `json:"record"`
}

type uploadBlobResponse struct {
	Blob types.BlobRef `json:"blob"`
}

// UploadBlob uploads data and returns the reference to embed in a record.
func (r *RepoClient) UploadBlob(ctx context.Context, data []byte, mimeType string, tok *oauth2.Token) (*types.BlobRef, error) {
	req, err := r.client.NewRequest(ctx, http.MethodPost, NSIDUploadBlob, nil, bytes.NewReader(data), tok)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mimeType)
	req.ContentLength = int64(len(data))

	var resp uploadBlobResponse
	if err := r.client.Do(req, &resp); err != nil {
		return nil, err
	}
	if resp.Blob.Ref.Link == "" {
		return nil, &pkgerrs.ParseError{Operation: NSIDUploadBlob, Message: "response missing blob reference"}
	}
	return &resp.Blob, nil
}

// CreatePost stores rec in repo's post collection.
func (r *RepoClient) CreatePost(ctx context.Context, repo string, rec *types.PostRecord, tok *oauth2.Token) (*types.CreateRecordResponse, error) {
	req, err := r.client.NewJSONRequest(ctx, NSIDCreateRecord, createRecordRequest{
		Repo:       repo,
		Collection: types.PostCollection,
		Record:     rec,
	}, tok)
	if err != nil {
		return nil, err
	}

	var resp types.CreateRecordResponse
	if err := r.client.Do(req, &resp); err != nil {
		return nil, err
	}
	if resp.URI == "" {
		return nil, &pkgerrs.ParseError{Operation: NSIDCreateRecord, Message: "response missing record uri"}
	}
	return &resp, nil
}
