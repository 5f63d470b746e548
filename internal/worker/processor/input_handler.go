package processor

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"

	"slidecast/internal/pkg/errors"
	"slidecast/internal/pkg/logger"
)

// AssetCache stores fetched image bytes keyed by an opaque string. A cache is
// an optimisation: implementations report failures, callers ignore them.
type AssetCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte) error
}

// InputHandler downloads slide images into a workspace.
type InputHandler struct {
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
	cache    AssetCache
	log      *logger.Logger
}

func NewInputHandler(client *http.Client, timeout time.Duration, maxBytes int64, cache AssetCache, log *logger.Logger) *InputHandler {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = 25 << 20
	}
	return &InputHandler{
		client:   client,
		timeout:  timeout,
		maxBytes: maxBytes,
		cache:    cache,
		log:      log.WithComponent("fetcher"),
	}
}

// Materialize fetches every slide in order and records ImagePath on its
// artifact. The first failure stops the loop; later slides are not fetched.
func (ih *InputHandler) Materialize(ctx context.Context, ws *Workspace, slides []NormalizedSlide, arts []SlideArtifact) error {
	for i, s := range slides {
		path, err := ih.materializeSlide(ctx, ws.FramesDir, s)
		if err != nil {
			if ctx.Err() != nil {
				return errors.WrapWithCode(ctx.Err(), errors.CodeCanceled, "render.fetch", "render canceled").
					WithField("slide", s.Index)
			}
			return errors.WrapWithCode(err, errors.CodeFetch, "render.fetch",
				fmt.Sprintf("failed to fetch image for slide %d", s.Index)).WithField("slide", s.Index)
		}
		arts[i].ImagePath = path
	}
	return nil
}

func (ih *InputHandler) materializeSlide(ctx context.Context, dir string, s NormalizedSlide) (string, error) {
	log := ih.log.FromContext(ctx).WithSlide(s.Index)

	key := cacheKey(s.ImageURL)
	data, cached := ih.cached(ctx, key)
	if !cached {
		var err error
		if data, err = ih.download(ctx, s.ImageURL); err != nil {
			return "", err
		}
	}

	// Decoding applies EXIF orientation so portrait phone photos are not
	// rendered sideways.
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}

	path := filepath.Join(dir, slideFileName("img", s.Index, ".png"))
	if err := imaging.Save(img, path); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	if !cached && ih.cache != nil {
		if err := ih.cache.Set(ctx, key, data); err != nil {
			log.Warn("asset cache write failed", "error", err.Error())
		}
	}
	log.Debug("image staged", "bytes", len(data), "cached", cached, "width", img.Bounds().Dx(), "height", img.Bounds().Dy())
	return path, nil
}

// cached looks key up in the asset cache. Read failures count as misses.
func (ih *InputHandler) cached(ctx context.Context, key string) ([]byte, bool) {
	if ih.cache == nil {
		return nil, false
	}
	data, ok, err := ih.cache.Get(ctx, key)
	if err != nil {
		ih.log.FromContext(ctx).Warn("asset cache read failed", "error", err.Error())
		return nil, false
	}
	return data, ok
}

func (ih *InputHandler) download(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, ih.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "image/*")

	res, err := ih.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("image http %d", res.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(res.Body, ih.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > ih.maxBytes {
		return nil, fmt.Errorf("image larger than %d bytes", ih.maxBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image body")
	}
	return data, nil
}

func cacheKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}
