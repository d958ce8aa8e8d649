package extraction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/disintegration/imaging"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

const (
	DefaultMaxDimension = 1024
	DefaultJPEGQuality  = 85
)

// visionPrompt asks for a transcription followed by one JSON object in the
// record shape the parser understands
const visionPrompt = `You are reading a photographed retail or tax receipt.

First, transcribe every line of text on the receipt exactly as printed, one receipt line per output line, keeping amounts next to their labels.

Then, after the transcription, output a single JSON object with this shape:
{
  "store_info": {"name": string, "tin": string, "branch": string, "address": string},
  "transaction_info": {"date": "YYYY-MM-DD", "time": "HH:MM:SS", "payment_method": string},
  "items": [{"title": string, "quantity": integer, "price": "0.00", "subtotal": "0.00", "category": "FOOD|TRANSPORTATION|ENTERTAINMENT|OTHER"}],
  "totals": {"subtotal": "0.00", "vat": "0.00", "service_charge": "0.00", "discount": "0.00", "total": "0.00"},
  "metadata": {"currency": "PHP", "vat_rate": 0.12, "bir_accreditation": string, "serial_number": string}
}

Rules:
- Amounts are plain numbers without currency symbols or thousands separators
- Use null for anything you cannot read; never guess
- Output nothing after the JSON object`

// Model is a vision-capable language model
type Model interface {
	// Name identifies the provider and model for logs
	Name() string
	// Generate sends the prompt with one JPEG image and returns the text response
	Generate(ctx context.Context, prompt string, jpeg []byte) (string, error)
}

// VisionConfig tunes the vision strategy. Zero values use the defaults.
type VisionConfig struct {
	MaxDimension int
	JPEGQuality  int
	// RequestsPerSecond limits model calls; 0 disables limiting
	RequestsPerSecond float64
	// BreakerFailures consecutive failures open the circuit (default 5)
	BreakerFailures uint32
	// BreakerCooldown is how long the circuit stays open (default 30s)
	BreakerCooldown time.Duration
}

// Vision extracts text and a structured payload with a remote model
type Vision struct {
	model   Model
	cfg     VisionConfig
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[string]
}

// NewVision wraps a model as an extraction strategy
func NewVision(model Model, cfg VisionConfig) *Vision {
	if cfg.MaxDimension <= 0 {
		cfg.MaxDimension = DefaultMaxDimension
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = DefaultJPEGQuality
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	failures := cfg.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:    model.Name(),
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Vision model circuit changed state", "model", name, "from", from.String(), "to", to.String())
		},
	})

	return &Vision{
		model:   model,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		breaker: breaker,
	}
}

func (v *Vision) Name() Kind {
	return VisionModel
}

// Extract sends a bounded JPEG to the model. The first JSON object in the
// response becomes Structured and the remaining text becomes RawText.
func (v *Vision) Extract(ctx context.Context, img image.Image) (*Result, error) {
	data, err := v.encode(img)
	if err != nil {
		return nil, wrap(VisionModel, "encode", err)
	}

	if err := v.limiter.Wait(ctx); err != nil {
		return nil, wrap(VisionModel, "rate limit", err)
	}

	start := time.Now()
	response, err := v.breaker.Execute(func() (string, error) {
		return v.model.Generate(ctx, visionPrompt, data)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, wrap(VisionModel, "circuit", fmt.Errorf("%s unavailable: %w", v.model.Name(), err))
		}
		return nil, wrap(VisionModel, "generate", err)
	}
	slog.Debug("Vision model responded", "model", v.model.Name(), "duration", time.Since(start), "chars", len(response))

	structured, _ := ExtractJSON(response)
	text := stripJSON(response, structured)

	result := &Result{
		RawText:    text,
		Structured: structured,
		Strategy:   VisionModel,
	}
	result.Success = result.RawText != "" || len(result.Structured) > 0
	if !result.Success {
		result.ErrorDetail = ErrNoText.Error()
	}
	return result, nil
}

// encode fits the image within MaxDimension and compresses it as JPEG
func (v *Vision) encode(img image.Image) ([]byte, error) {
	b := img.Bounds()
	if b.Dx() > v.cfg.MaxDimension || b.Dy() > v.cfg.MaxDimension {
		img = imaging.Fit(img, v.cfg.MaxDimension, v.cfg.MaxDimension, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(v.cfg.JPEGQuality)); err != nil {
		return nil, fmt.Errorf("encoding jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
