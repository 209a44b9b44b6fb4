package internal

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"log/slog"
	"os"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	pkgerrs "github.com/jamesprial/go-bsky-bridge/pkg/errors"
	"github.com/jamesprial/go-bsky-bridge/pkg/types"
)

const (
	// DefaultMaxImageBytes is the upload ceiling for a post image.
	DefaultMaxImageBytes = 1 << 20

	// minLongSide is the smallest longest edge the fitter will shrink to.
	minLongSide = 256

	// maxDecodePixels bounds width*height before anything is decoded.
	maxDecodePixels = 50_000_000

	imageOperation = "image"
)

// jpegQualities are tried in order at each scale.
var jpegQualities = []int{90, 80, 70, 60, 50, 40}

// ImageFitter shrinks images until they fit under a byte ceiling.
type ImageFitter struct {
	maxBytes int
	logger   *slog.Logger
	metrics  *Metrics
}

// NewImageFitter returns a fitter for maxBytes (DefaultMaxImageBytes when not
// positive). logger and metrics may be nil.
func NewImageFitter(maxBytes int, logger *slog.Logger, metrics *Metrics) *ImageFitter {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ImageFitter{maxBytes: maxBytes, logger: logger, metrics: metrics}
}

// MaxBytes returns the ceiling the fitter enforces.
func (f *ImageFitter) MaxBytes() int {
	return f.maxBytes
}

// FitFile reads path and fits it. The file is never modified.
func (f *ImageFitter) FitFile(path string) (*types.ImageBlob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &pkgerrs.ParseError{Operation: imageOperation, Message: "failed to read " + path, Err: err}
	}
	return f.Fit(path, data)
}

// Fit returns data unchanged when it already fits, otherwise a JPEG
// re-encoding that does. name is only used in errors and logs.
//
// The schedule steps through qualities 90 to 40 at full size, then at half,
// quarter and so on while the longest side stays at least 256 px. When even
// the last step is too big an *errors.ImageTooLargeError is returned.
func (f *ImageFitter) Fit(name string, data []byte) (*types.ImageBlob, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &pkgerrs.ParseError{Operation: imageOperation, Message: "unsupported or corrupt image " + name, Err: err}
	}
	if px := int64(cfg.Width) * int64(cfg.Height); px > maxDecodePixels {
		return nil, &pkgerrs.ParseError{
			Operation: imageOperation,
			Message:   fmt.Sprintf("image %s is %dx%d, over the %d pixel limit", name, cfg.Width, cfg.Height, maxDecodePixels),
		}
	}

	if len(data) <= f.maxBytes {
		f.metrics.RecordImageEncodes(0)
		return &types.ImageBlob{
			Data:     data,
			MimeType: "image/" + format,
			Width:    cfg.Width,
			Height:   cfg.Height,
		}, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &pkgerrs.ParseError{Operation: imageOperation, Message: "failed to decode image " + name, Err: err}
	}
	flat := flatten(src)

	var buf bytes.Buffer
	attempts := 0
	smallest := len(data)

	w, h := flat.Bounds().Dx(), flat.Bounds().Dy()
	for scale := 1; ; scale *= 2 {
		sw, sh := max(w/scale, 1), max(h/scale, 1)
		if scale > 1 && max(sw, sh) < minLongSide {
			break
		}

		img := image.Image(flat)
		if scale > 1 {
			img = resize(flat, sw, sh)
		}

		for _, q := range jpegQualities {
			buf.Reset()
			if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
				return nil, &pkgerrs.ParseError{Operation: imageOperation, Message: "failed to encode image " + name, Err: err}
			}
			attempts++
			smallest = min(smallest, buf.Len())

			if buf.Len() <= f.maxBytes {
				f.metrics.RecordImageEncodes(attempts)
				f.logger.Debug("image fitted",
					"image", name,
					"original_bytes", len(data),
					"bytes", buf.Len(),
					"width", sw,
					"height", sh,
					"quality", q,
					"attempts", attempts,
				)
				return &types.ImageBlob{
					Data:     bytes.Clone(buf.Bytes()),
					MimeType: "image/jpeg",
					Width:    sw,
					Height:   sh,
				}, nil
			}
		}
	}

	f.metrics.RecordImageEncodes(attempts)
	return nil, &pkgerrs.ImageTooLargeError{Path: name, Size: smallest, Limit: f.maxBytes}
}

// flatten draws src over an opaque white canvas so transparent regions do not
// turn black in JPEG.
func flatten(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(dst, dst.Bounds(), image.White, image.Point{}, xdraw.Src)
	xdraw.Draw(dst, dst.Bounds(), src, b.Min, xdraw.Over)
	return dst
}

func resize(src image.Image, w, h int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}
