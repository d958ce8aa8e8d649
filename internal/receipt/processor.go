package receipt

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/receipt-ocr/internal/extraction"
	"github.com/zombor/receipt-ocr/internal/metrics"
	"github.com/zombor/receipt-ocr/internal/parsing"
)

// IDGenerator generates unique IDs for receipts and vendors
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates random UUIDs
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Enhancer prepares an image for text extraction
type Enhancer interface {
	Enhance(img image.Image) (image.Image, bool)
	SaveDebugImages(dir, name string, img image.Image, includeIntermediate bool) map[string]string
}

// Extractor obtains text from a prepared image
type Extractor interface {
	Extract(ctx context.Context, img image.Image, allowMulti bool) (*extraction.Result, error)
	Strategies() []extraction.Kind
}

// Parser turns extracted text into a record
type Parser interface {
	Parse(text string, structured json.RawMessage) *parsing.Record
}

// Dispatcher hands a processed receipt to the background side effects
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

// Options control a single ProcessReceipt call
type Options struct {
	ReturnDebugInfo  bool
	UseAllStrategies bool
}

// Result is the envelope returned to callers. Error is set exactly when
// Success is false.
type Result struct {
	Success   bool            `json:"success"`
	Data      *parsing.Record `json:"data"`
	Error     *string         `json:"error"`
	ReceiptID string          `json:"receipt_id,omitempty"`
	DebugInfo *DebugInfo      `json:"debug_info,omitempty"`
}

// DebugInfo carries intermediate pipeline state
type DebugInfo struct {
	Preprocessing PreprocessingInfo `json:"preprocessing"`
	Extraction    ExtractionInfo    `json:"text_extraction"`
	RawText       string            `json:"raw_text"`
}

// PreprocessingInfo describes the image handed to extraction
type PreprocessingInfo struct {
	Success  bool `json:"success"`
	Width    int  `json:"width"`
	Height   int  `json:"height"`
	Channels int  `json:"channels"`
}

// ExtractionInfo describes which strategy produced the text
type ExtractionInfo struct {
	Strategy    extraction.Kind `json:"method_used,omitempty"`
	Confidence  *float64        `json:"confidence"`
	ErrorDetail string          `json:"error_detail,omitempty"`
	CacheHit    bool            `json:"cache_hit"`
}

// Processor runs decode, preprocessing, extraction and parsing for one
// receipt and hands successful results to a Dispatcher
type Processor struct {
	enhancer    Enhancer
	extractor   Extractor
	parser      Parser
	dispatcher  Dispatcher
	metrics     *metrics.Metrics
	idGenerator IDGenerator
}

// NewProcessor creates a Processor. A nil dispatcher skips side effects.
func NewProcessor(enhancer Enhancer, extractor Extractor, parser Parser, dispatcher Dispatcher, m *metrics.Metrics) *Processor {
	return NewProcessorWithDeps(enhancer, extractor, parser, dispatcher, m, &defaultIDGenerator{})
}

// NewProcessorWithDeps creates a Processor with a custom ID generator for testing
func NewProcessorWithDeps(enhancer Enhancer, extractor Extractor, parser Parser, dispatcher Dispatcher, m *metrics.Metrics, idGen IDGenerator) *Processor {
	return &Processor{
		enhancer:    enhancer,
		extractor:   extractor,
		parser:      parser,
		dispatcher:  dispatcher,
		metrics:     m,
		idGenerator: idGen,
	}
}

// ProcessReceipt extracts a record from in. It never returns an error or
// panics; failures are reported in the envelope. Side effects are dispatched
// after a successful parse and never change the returned result.
func (p *Processor) ProcessReceipt(ctx context.Context, in Input, opts Options) (res Result) {
	start := time.Now()
	var debug *DebugInfo
	if opts.ReturnDebugInfo {
		debug = &DebugInfo{}
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Receipt processing panicked", "filename", in.Filename, "panic", r)
			res = failure(fmt.Errorf("internal error: %v", r), debug)
		}
		p.metrics.ObserveReceipt(res.Success)
		p.metrics.ObserveStage("process", start)
	}()

	dec, err := decodeInput(in)
	if err != nil {
		slog.Error("Failed to decode receipt image",
			"filename", in.Filename,
			"content_type", in.ContentType,
			"error", err,
		)
		return failure(err, debug)
	}

	stageStart := time.Now()
	enhanced, ok := p.enhancer.Enhance(dec.img)
	p.metrics.ObserveStage("preprocess", stageStart)
	if !ok {
		slog.Warn("Preprocessing failed, using original image", "filename", in.Filename)
	}
	if debug != nil {
		b := enhanced.Bounds()
		debug.Preprocessing = PreprocessingInfo{
			Success:  ok,
			Width:    b.Dx(),
			Height:   b.Dy(),
			Channels: channels(enhanced),
		}
	}

	extracted, err := p.extractor.Extract(ctx, enhanced, opts.UseAllStrategies)
	if extracted != nil && debug != nil {
		debug.Extraction = ExtractionInfo{
			Strategy:    extracted.Strategy,
			Confidence:  extracted.Confidence,
			ErrorDetail: extracted.ErrorDetail,
			CacheHit:    extracted.Cached,
		}
		debug.RawText = extracted.RawText
	}
	if err != nil {
		slog.Error("Failed to extract receipt text", "filename", in.Filename, "error", err)
		return failure(fmt.Errorf("extracting text: %w", err), debug)
	}

	stageStart = time.Now()
	record := p.parser.Parse(extracted.RawText, extracted.Structured)
	p.metrics.ObserveStage("parse", stageStart)

	res = Result{Success: true, Data: record, DebugInfo: debug}
	if p.dispatcher != nil {
		res.ReceiptID = p.idGenerator.Generate()
		p.dispatch(ctx, Job{
			ReceiptID:   res.ReceiptID,
			Owner:       in.Owner,
			Filename:    in.Filename,
			ContentType: dec.contentType,
			Image:       dec.data,
			Record:      record,
		})
	}
	return res
}

func (p *Processor) dispatch(ctx context.Context, job Job) {
	err := p.dispatcher.Dispatch(ctx, job)
	p.metrics.ObserveSideEffect("dispatch", err)
	if err != nil {
		slog.Error("Failed to dispatch receipt side effects", "receipt_id", job.ReceiptID, "error", err)
		return
	}
	slog.Debug("Dispatched receipt side effects", "receipt_id", job.ReceiptID)
}

// SaveDebugImages decodes in and writes the original, edge and processed
// views of it to dir
func (p *Processor) SaveDebugImages(dir, name string, in Input, includeIntermediate bool) map[string]string {
	dec, err := decodeInput(in)
	if err != nil {
		return map[string]string{"error": err.Error()}
	}
	return p.enhancer.SaveDebugImages(dir, name, dec.img, includeIntermediate)
}

func failure(err error, debug *DebugInfo) Result {
	msg := err.Error()
	return Result{Success: false, Error: &msg, DebugInfo: debug}
}

func channels(img image.Image) int {
	switch img.(type) {
	case *image.Gray, *image.Gray16, *image.Alpha, *image.Alpha16:
		return 1
	}
	return 3
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if unsafeFilenameChars.MatchString(strings.TrimPrefix(ext, ".")) {
		ext = ""
	}
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = repeatedSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	// Phone-generated names are long
	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}

	return base + ext
}
