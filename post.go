package bsky

import (
	"context"
	"slices"

	"github.com/jamesprial/go-bsky-bridge/internal"
	"github.com/jamesprial/go-bsky-bridge/pkg/types"
)

// PostText publishes a text post to the session's account.
//
// Mentions, links and hashtags in the text are turned into facets. Mentions
// whose handle cannot be resolved are left as plain text. When req.Langs is
// non-nil it is sent as the record's language hint in the given order.
//
// Returns the new record's AT-URI and CID, or:
//   - *errors.ConfigError if the request is invalid
//   - *errors.AuthError if the session cannot be renewed
//   - *errors.APIError if the server rejects the record
//   - *errors.StateError after Logout
func (s *Session) PostText(ctx context.Context, req *types.PostRequest) (*types.CreateRecordResponse, error) {
	if err := s.checkActive("PostText"); err != nil {
		return nil, err
	}
	if err := s.validator.ValidatePostRequest(req); err != nil {
		return nil, err
	}
	if err := s.EnsureFresh(ctx); err != nil {
		return nil, err
	}

	rec := s.buildRecord(ctx, req)
	return s.submit(ctx, rec)
}

// PostImage publishes a post with one image attached.
//
// The image at req.ImagePath is read and, if it is larger than the upload
// ceiling, re-encoded as JPEG at decreasing quality and size until it fits.
// The file itself is never modified. Text handling is the same as PostText.
//
// In addition to the errors of PostText it returns *errors.ImageTooLargeError
// when the image cannot be brought under the ceiling, and *errors.ParseError
// when the file is not a supported image.
func (s *Session) PostImage(ctx context.Context, req *types.ImagePostRequest) (*types.CreateRecordResponse, error) {
	if err := s.checkActive("PostImage"); err != nil {
		return nil, err
	}
	if err := s.validator.ValidateImagePostRequest(req); err != nil {
		return nil, err
	}

	img, err := s.images.FitFile(req.ImagePath)
	if err != nil {
		return nil, err
	}

	if err := s.EnsureFresh(ctx); err != nil {
		return nil, err
	}

	blob, err := s.repo.UploadBlob(ctx, img.Data, img.MimeType, s.token())
	if err != nil {
		return nil, err
	}
	s.logger.Debug("image uploaded",
		"path", req.ImagePath,
		"bytes", img.Size(),
		"mime_type", img.MimeType,
	)

	rec := s.buildRecord(ctx, &req.PostRequest)
	rec.Embed = internal.BuildImagesEmbed(*blob, req.AltText, img.Width, img.Height)
	return s.submit(ctx, rec)
}

// buildRecord resolves the text's facets and assembles the post record.
func (s *Session) buildRecord(ctx context.Context, req *types.PostRequest) *types.PostRecord {
	facets := slices.Collect(s.facets.Facets(ctx, req.Text))
	return internal.BuildPostRecord(req.Text, facets, req.Langs, s.config.Now())
}

func (s *Session) submit(ctx context.Context, rec *types.PostRecord) (*types.CreateRecordResponse, error) {
	resp, err := s.repo.CreatePost(ctx, s.DID(), rec, s.token())
	if err != nil {
		return nil, err
	}
	s.logger.Info("post created", "uri", resp.URI, "facets", len(rec.Facets), "image", rec.Embed != nil)
	return resp, nil
}
