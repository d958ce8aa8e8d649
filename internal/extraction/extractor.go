package extraction

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zombor/receipt-ocr/internal/cache"
	"github.com/zombor/receipt-ocr/internal/metrics"
)

// Config tunes strategy selection
type Config struct {
	// ConfidenceFloor below which local OCR is second-guessed by the vision
	// model (default 0.6)
	ConfidenceFloor float64
}

// Extractor runs the local and vision strategies and picks the best result.
// Either strategy may be nil.
type Extractor struct {
	local   Strategy
	vision  Strategy
	cache   *cache.Cache[string, *Result]
	metrics *metrics.Metrics
	floor   float64
}

// NewExtractor creates an Extractor. A nil cache disables caching.
func NewExtractor(local, vision Strategy, c *cache.Cache[string, *Result], m *metrics.Metrics, cfg Config) *Extractor {
	if cfg.ConfidenceFloor <= 0 {
		cfg.ConfidenceFloor = DefaultConfidenceFloor
	}
	return &Extractor{
		local:   local,
		vision:  vision,
		cache:   c,
		metrics: m,
		floor:   cfg.ConfidenceFloor,
	}
}

// Strategies lists the configured strategies, local first
func (e *Extractor) Strategies() []Kind {
	var kinds []Kind
	for _, s := range []Strategy{e.local, e.vision} {
		if s != nil {
			kinds = append(kinds, s.Name())
		}
	}
	return kinds
}

// Extract returns the best text for img. Local OCR runs first; the vision
// model runs when local output is missing or weak, or when allowMulti is set,
// in which case both run concurrently. A failed vision call falls back to
// usable local text. ErrEngineUnavailable is returned as is; when nothing
// usable was produced the failed result is returned along with ErrNoText.
func (e *Extractor) Extract(ctx context.Context, img image.Image, allowMulti bool) (*Result, error) {
	if e.local == nil && e.vision == nil {
		return nil, ErrNoStrategy
	}

	key := cacheKey(img, allowMulti)
	if e.cache != nil {
		cached, ok := e.cache.Get(key)
		e.metrics.ObserveCache(ok)
		if ok {
			slog.Debug("Extraction cache hit", "key", key[:12])
			hit := *cached
			hit.Cached = true
			return &hit, nil
		}
	}

	var (
		local, vision *Result
		err           error
	)
	if allowMulti && e.local != nil && e.vision != nil {
		local, vision, err = e.runBoth(ctx, img)
	} else {
		local, vision, err = e.runSequential(ctx, img, allowMulti)
	}
	if err != nil {
		return nil, err
	}

	best := PickBest(local, vision)
	if best == nil {
		return nil, ErrNoText
	}
	if best == local && vision != nil && !vision.Success && local.Usable() {
		slog.Warn("Vision extraction failed, using local OCR", "error", vision.ErrorDetail)
		fallback := *local
		fallback.ErrorDetail = vision.ErrorDetail
		best = &fallback
	}

	if best == vision && best.RawText == "" && local.Usable() {
		// payload-only response; keep the OCR text for the pattern fallback
		withText := *vision
		withText.RawText = local.RawText
		best = &withText
	}

	if !best.Usable() {
		if best.ErrorDetail == "" || best.ErrorDetail == ErrNoText.Error() {
			return best, ErrNoText
		}
		return best, fmt.Errorf("%w: %s", ErrNoText, best.ErrorDetail)
	}

	if e.cache != nil {
		e.cache.Put(key, best)
	}
	out := *best
	return &out, nil
}

// cacheKey is the image fingerprint. Multi-strategy requests are keyed apart
// so a cached single-strategy result never answers them.
func cacheKey(img image.Image, allowMulti bool) string {
	key := Fingerprint(img)
	if allowMulti {
		key += ":multi"
	}
	return key
}

func (e *Extractor) runSequential(ctx context.Context, img image.Image, allowMulti bool) (*Result, *Result, error) {
	var local *Result
	if e.local != nil {
		r, err := e.run(ctx, e.local, img)
		if err != nil {
			return nil, nil, err
		}
		local = r
	}

	if e.vision == nil || !NeedsVision(local, allowMulti, e.floor) {
		return local, nil, nil
	}
	if local != nil {
		slog.Debug("Local OCR insufficient, consulting vision model",
			"success", local.Success, "confidence", confidenceAttr(local.Confidence))
	}

	vision, err := e.run(ctx, e.vision, img)
	if err != nil {
		return nil, nil, err
	}
	return local, vision, nil
}

func (e *Extractor) runBoth(ctx context.Context, img image.Image) (*Result, *Result, error) {
	var local, vision *Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := e.run(gctx, e.local, img)
		local = r
		return err
	})
	g.Go(func() error {
		r, err := e.run(gctx, e.vision, img)
		vision = r
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return local, vision, nil
}

// run executes one strategy. Only configuration errors are returned; every
// other failure becomes an unsuccessful Result.
func (e *Extractor) run(ctx context.Context, s Strategy, img image.Image) (*Result, error) {
	start := time.Now()
	defer e.metrics.ObserveStage("extract_"+string(s.Name()), start)

	r, err := s.Extract(ctx, img)
	switch {
	case errors.Is(err, ErrEngineUnavailable):
		e.metrics.ObserveExtraction(string(s.Name()), false)
		return nil, err
	case err != nil:
		slog.Warn("Extraction strategy failed", "strategy", s.Name(), "error", err)
		r = failed(s.Name(), err)
	case r == nil:
		r = failed(s.Name(), ErrNoText)
	}

	e.metrics.ObserveExtraction(string(s.Name()), r.Success)
	return r, nil
}

func confidenceAttr(c *float64) any {
	if c == nil {
		return "n/a"
	}
	return *c
}
