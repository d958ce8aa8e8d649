package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
)

// Kind identifies an extraction strategy
type Kind string

const (
	LocalOCR    Kind = "LOCAL_OCR"
	VisionModel Kind = "VISION_MODEL"
)

var (
	// ErrEngineUnavailable means the local OCR engine is missing or
	// misconfigured. It is fatal and never retried.
	ErrEngineUnavailable = errors.New("ocr engine unavailable")

	// ErrNoText is returned when no strategy produced usable text
	ErrNoText = errors.New("no text extracted")

	// ErrNoStrategy is returned by an Extractor built without strategies
	ErrNoStrategy = errors.New("no extraction strategy configured")
)

// Result is the outcome of one extraction attempt
type Result struct {
	RawText string
	// Structured is a JSON object shaped like a parsing.Record, when the
	// strategy produced one
	Structured json.RawMessage
	// Confidence is in [0,1]; nil when the strategy does not report one
	Confidence  *float64
	Strategy    Kind
	Success     bool
	ErrorDetail string
	// Cached is set on copies served from the extraction cache
	Cached bool
}

// Usable reports whether the result carries text worth parsing
func (r *Result) Usable() bool {
	return r != nil && r.Success && (r.RawText != "" || len(r.Structured) > 0)
}

// Strategy turns an image into text
type Strategy interface {
	Name() Kind
	Extract(ctx context.Context, img image.Image) (*Result, error)
}

// Error carries the strategy and operation that failed
type Error struct {
	Strategy Kind
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Strategy, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	return &Error{Strategy: kind, Op: op, Err: err}
}

func failed(kind Kind, err error) *Result {
	return &Result{Strategy: kind, Success: false, ErrorDetail: err.Error()}
}
