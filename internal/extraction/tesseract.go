package extraction

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
)

// CharWhitelist is the receipt character set, currency glyphs included
const CharWhitelist = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789" +
	" .,:;-/()#@&%*+'\"!?_=₱$€£¥"

// OCRClient is the subset of *gosseract.Client the Tesseract strategy uses
type OCRClient interface {
	SetLanguage(langs ...string) error
	SetPageSegMode(mode gosseract.PageSegMode) error
	SetVariable(key gosseract.SettableVariable, value string) error
	SetImageFromBytes(data []byte) error
	Text() (string, error)
	GetBoundingBoxes(level gosseract.PageIteratorLevel) ([]gosseract.BoundingBox, error)
	Close() error
}

// Tesseract runs the local OCR engine. A new client is opened per call
// since gosseract clients are not safe for concurrent use.
type Tesseract struct {
	newClient func() OCRClient
	languages []string
}

// NewTesseract creates a Tesseract strategy. Languages default to English.
func NewTesseract(languages ...string) *Tesseract {
	return NewTesseractWithDeps(func() OCRClient { return gosseract.NewClient() }, languages...)
}

// NewTesseractWithDeps creates a Tesseract strategy with a custom client factory (for testing)
func NewTesseractWithDeps(newClient func() OCRClient, languages ...string) *Tesseract {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	return &Tesseract{newClient: newClient, languages: languages}
}

func (t *Tesseract) Name() Kind {
	return LocalOCR
}

// Extract reads the image as a single uniform block. Confidence is the mean
// word confidence. Engine setup problems wrap ErrEngineUnavailable.
func (t *Tesseract) Extract(ctx context.Context, img image.Image) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrap(LocalOCR, "extract", err)
	}

	client := t.newClient()
	defer func() { _ = client.Close() }()

	if err := t.configure(client); err != nil {
		return nil, wrap(LocalOCR, "configure", fmt.Errorf("%w: %v", ErrEngineUnavailable, err))
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, wrap(LocalOCR, "encode", err)
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, wrap(LocalOCR, "set image", err)
	}

	text, err := client.Text()
	if err != nil {
		// Text initializes the engine, so a missing language pack surfaces here
		return nil, wrap(LocalOCR, "recognize", fmt.Errorf("%w: %v", ErrEngineUnavailable, err))
	}
	text = strings.TrimSpace(text)

	result := &Result{RawText: text, Strategy: LocalOCR, Success: text != ""}
	if text == "" {
		result.ErrorDetail = ErrNoText.Error()
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		slog.Warn("Failed to read OCR word confidences", "error", err)
		return result, nil
	}
	if c, ok := meanConfidence(boxes); ok {
		result.Confidence = &c
	}

	slog.Debug("Local OCR finished", "chars", len(text), "words", len(boxes))
	return result, nil
}

func (t *Tesseract) configure(client OCRClient) error {
	if err := client.SetLanguage(t.languages...); err != nil {
		return fmt.Errorf("setting language: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		return fmt.Errorf("setting page segmentation mode: %w", err)
	}
	if err := client.SetVariable("preserve_interword_spaces", "1"); err != nil {
		return fmt.Errorf("setting preserve_interword_spaces: %w", err)
	}
	if err := client.SetVariable("tessedit_char_whitelist", CharWhitelist); err != nil {
		return fmt.Errorf("setting character whitelist: %w", err)
	}
	return nil
}

// meanConfidence averages word confidences, scaled from 0-100 to 0-1
func meanConfidence(boxes []gosseract.BoundingBox) (float64, bool) {
	var sum float64
	n := 0
	for _, b := range boxes {
		if strings.TrimSpace(b.Word) == "" || b.Confidence < 0 {
			continue
		}
		sum += b.Confidence
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n) / 100, true
}
