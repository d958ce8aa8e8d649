package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zombor/receipt-ocr/internal/cache"
	"github.com/zombor/receipt-ocr/internal/extraction"
	"github.com/zombor/receipt-ocr/internal/metrics"
	"github.com/zombor/receipt-ocr/internal/parsing"
	"github.com/zombor/receipt-ocr/internal/preprocess"
	"github.com/zombor/receipt-ocr/internal/receipt"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

type config struct {
	debug       bool
	multi       bool
	cacheSize   int
	floor       float64
	noTesseract bool
	langs       string

	vision      string
	visionRPS   float64
	geminiKey   string
	geminiModel string
	openaiKey   string
	openaiURL   string
	openaiModel string
	ollamaURL   string
	ollamaModel string

	purpose    string
	monthFirst bool
	currency   string
	vatRate    float64

	dbPath      string
	storage     string
	storagePath string
	s3Bucket    string
	s3Prefix    string
	redis       string
	serveQueue  bool
	owner       string

	list     bool
	show     string
	deleteID string
	imageID  string
	imageOut string

	format      string
	debugImages string
	metricsFile string
	formats     bool
	verbose     bool
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: loading .env: %v\n", err)
		return 1
	}

	var cfg config
	flags := ff.NewFlagSet("receipt-ocr")
	flags.BoolVar(&cfg.debug, 0, "debug", "Include debug info in the output")
	flags.BoolVar(&cfg.multi, 0, "multi", "Run local OCR and the vision model together and keep the better text")
	flags.IntVar(&cfg.cacheSize, 0, "cache-size", cache.DefaultCapacity, "Extraction cache capacity")
	flags.Float64Var(&cfg.floor, 0, "confidence-floor", extraction.DefaultConfidenceFloor, "Local OCR confidence below which the vision model is consulted")
	flags.BoolVar(&cfg.noTesseract, 0, "no-tesseract", "Disable local OCR")
	flags.StringVar(&cfg.langs, 0, "lang", "eng", "Tesseract languages, comma separated")
	flags.StringVar(&cfg.vision, 0, "vision", "none", "Vision model: none, gemini, openai or ollama")
	flags.Float64Var(&cfg.visionRPS, 0, "vision-rps", 0, "Vision model requests per second (0 for unlimited)")
	flags.StringVar(&cfg.geminiKey, 0, "gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
	flags.StringVar(&cfg.geminiModel, 0, "gemini-model", "gemini-2.5-flash", "Google Gemini model name")
	flags.StringVar(&cfg.openaiKey, 0, "openai-key", "", "OpenAI API key (or set OPENAI_API_KEY env var)")
	flags.StringVar(&cfg.openaiURL, 0, "openai-url", "", "OpenAI-compatible API base URL")
	flags.StringVar(&cfg.openaiModel, 0, "openai-model", "gpt-4o-mini", "OpenAI model name")
	flags.StringVar(&cfg.ollamaURL, 0, "ollama-url", "http://localhost:11434", "Ollama API base URL")
	flags.StringVar(&cfg.ollamaModel, 0, "ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, qwen2-vl)")
	flags.StringVar(&cfg.purpose, 0, "purpose", string(parsing.PurposeBusiness), "Expense purpose for deductibility: business, employee or personal")
	flags.BoolVar(&cfg.monthFirst, 0, "month-first", "Read ambiguous numeric dates as month/day")
	flags.StringVar(&cfg.currency, 0, "currency", parsing.DefaultCurrency, "Currency code")
	flags.Float64Var(&cfg.vatRate, 0, "vat-rate", parsing.DefaultVATRate, "VAT rate")
	flags.StringVar(&cfg.dbPath, 0, "db", "", "Database file path; enables storing receipts")
	flags.StringVar(&cfg.storage, 0, "storage", "local", "Image storage: local or s3")
	flags.StringVar(&cfg.storagePath, 0, "storage-path", "./receipts", "Local storage directory path")
	flags.StringVar(&cfg.s3Bucket, 0, "s3-bucket", "", "S3 bucket for receipt images")
	flags.StringVar(&cfg.s3Prefix, 0, "s3-prefix", "receipts", "S3 key prefix")
	flags.StringVar(&cfg.redis, 0, "redis", "", "Redis address; queue side effects with asynq instead of running them in process")
	flags.BoolVar(&cfg.serveQueue, 0, "serve-queue", "Run the asynq worker for queued side effects")
	flags.StringVar(&cfg.owner, 0, "owner", "", "Owner recorded on stored receipts")
	flags.BoolVar(&cfg.list, 0, "list", "List stored receipts and exit")
	flags.StringVar(&cfg.show, 0, "show", "", "Print the stored receipt with this ID and exit")
	flags.StringVar(&cfg.deleteID, 0, "delete", "", "Delete the stored receipt with this ID and its image, then exit")
	flags.StringVar(&cfg.imageID, 0, "image", "", "Write the original image of the stored receipt with this ID and exit")
	flags.StringVar(&cfg.imageOut, 0, "out", "", "File for --image (stdout when empty)")
	flags.StringVar(&cfg.format, 0, "format", "json", "Output format: json or csv")
	flags.StringVar(&cfg.debugImages, 0, "debug-images", "", "Directory to write original, edge and processed images to")
	flags.StringVar(&cfg.metricsFile, 0, "metrics-file", "", "Write Prometheus metrics to this file on exit")
	flags.BoolVar(&cfg.formats, 0, "formats", "Print supported formats and exit")
	flags.BoolVar(&cfg.verbose, 0, "verbose", "Enable debug logging")
	flags.BoolLong("version", "Show version information")

	if err := ff.Parse(flags, args,
		ff.WithEnvVarPrefix("RECEIPT_OCR"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(flags))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	level := slog.LevelInfo
	if cfg.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	if cfg.metricsFile != "" {
		defer func() {
			if err := prometheus.WriteToTextfile(cfg.metricsFile, registry); err != nil {
				slog.Error("Failed to write metrics", "file", cfg.metricsFile, "error", err)
			}
		}()
	}

	if cfg.list || cfg.show != "" || cfg.deleteID != "" || cfg.imageID != "" {
		return manageRecords(ctx, cfg)
	}

	dispatcher, runner, closeSideEffects, err := sideEffects(ctx, cfg, m)
	if err != nil {
		slog.Error("Failed to initialize side effects", "error", err)
		return 1
	}
	defer closeSideEffects()

	if cfg.serveQueue {
		if cfg.redis == "" || runner == nil {
			slog.Error("--serve-queue requires --redis and --db")
			return 1
		}
		slog.Info("Starting queue worker", "redis", cfg.redis)
		if err := receipt.NewQueueWorker(cfg.redis, runner, receipt.QueueConfig{}).Run(); err != nil {
			slog.Error("Queue worker stopped", "error", err)
			return 1
		}
		return 0
	}

	extractor, closeExtractor, err := newExtractor(ctx, cfg, m)
	if err != nil {
		slog.Error("Failed to initialize text extraction", "error", err)
		return 1
	}
	defer closeExtractor()

	parser := parsing.NewParser(parsing.NewTablePolicy(parsing.Purpose(cfg.purpose)), parsing.Config{
		MonthFirst: cfg.monthFirst,
		Currency:   cfg.currency,
		VATRate:    cfg.vatRate,
	})
	processor := receipt.NewProcessor(preprocess.New(preprocess.Config{}), extractor, parser, dispatcher, m)

	if cfg.formats {
		return printJSON(processor.SupportedFormats())
	}

	paths := flags.GetArgs()
	if len(paths) == 0 {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(flags))
		fmt.Fprintf(os.Stderr, "error: no receipt images given\n")
		return 1
	}

	status := 0
	for _, path := range paths {
		if !processFile(ctx, processor, cfg, path) {
			status = 1
		}
	}
	return status
}

// processFile prints the result for one image and reports whether it succeeded
func processFile(ctx context.Context, processor *receipt.Processor, cfg config, path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Error("Failed to read receipt image", "path", path, "error", err)
		return false
	}

	input := receipt.Input{Bytes: data, Filename: filepath.Base(path), Owner: cfg.owner}
	if cfg.debugImages != "" {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		saved := processor.SaveDebugImages(cfg.debugImages, name, input, true)
		if msg, failed := saved["error"]; failed {
			slog.Warn("Failed to save debug images", "path", path, "error", msg)
		} else {
			slog.Info("Saved debug images", "path", path, "files", len(saved))
		}
	}

	result := processor.ProcessReceipt(ctx, input, receipt.Options{
		ReturnDebugInfo:  cfg.debug,
		UseAllStrategies: cfg.multi,
	})

	if cfg.format == "csv" {
		if !result.Success {
			fmt.Fprintf(os.Stderr, "%s: %s\n", path, *result.Error)
			return false
		}
		out, err := parsing.ToCSV(result.Data)
		if err != nil {
			slog.Error("Failed to render CSV", "path", path, "error", err)
			return false
		}
		os.Stdout.Write(out)
		return true
	}

	return printJSON(result) == 0 && result.Success
}

func printJSON(v any) int {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		slog.Error("Failed to write output", "error", err)
		return 1
	}
	return 0
}

func newExtractor(ctx context.Context, cfg config, m *metrics.Metrics) (*extraction.Extractor, func(), error) {
	closeFn := func() {}

	var local extraction.Strategy
	if !cfg.noTesseract {
		local = extraction.NewTesseract(strings.Split(cfg.langs, ",")...)
	}

	var model extraction.Model
	switch cfg.vision {
	case "", "none":
	case "gemini":
		apiKey := firstNonEmpty(cfg.geminiKey, os.Getenv("GEMINI_API_KEY"))
		gemini, err := extraction.NewGemini(ctx, apiKey, cfg.geminiModel)
		if err != nil {
			return nil, nil, err
		}
		closeFn = func() { gemini.Close() }
		model = gemini
	case "openai":
		apiKey := firstNonEmpty(cfg.openaiKey, os.Getenv("OPENAI_API_KEY"))
		openai, err := extraction.NewOpenAI(apiKey, cfg.openaiURL, cfg.openaiModel)
		if err != nil {
			return nil, nil, err
		}
		model = openai
	case "ollama":
		model = extraction.NewOllama(cfg.ollamaURL, cfg.ollamaModel)
	default:
		return nil, nil, fmt.Errorf("invalid vision model %q: valid are none, gemini, openai or ollama", cfg.vision)
	}

	var vision extraction.Strategy
	if model != nil {
		slog.Info("Using vision model", "model", model.Name())
		vision = extraction.NewVision(model, extraction.VisionConfig{RequestsPerSecond: cfg.visionRPS})
	}
	if local == nil && vision == nil {
		return nil, nil, errors.New("no extraction strategy: enable tesseract or choose a vision model")
	}

	resultCache := cache.New[string, *extraction.Result](cfg.cacheSize)
	extractor := extraction.NewExtractor(local, vision, resultCache, m, extraction.Config{ConfidenceFloor: cfg.floor})
	return extractor, closeFn, nil
}

// sideEffects wires storage and persistence when --db is set. The returned
// dispatcher is nil when receipts are not stored.
func sideEffects(ctx context.Context, cfg config, m *metrics.Metrics) (receipt.Dispatcher, receipt.JobRunner, func(), error) {
	noop := func() {}
	if cfg.dbPath == "" {
		return nil, nil, noop, nil
	}

	db, store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, noop, err
	}

	pipeline := receipt.NewPipeline(db, store, m)

	if cfg.redis != "" {
		queue := receipt.NewQueueDispatcher(cfg.redis, receipt.QueueConfig{})
		return queue, pipeline, func() {
			queue.Close()
			db.Close()
		}, nil
	}

	worker := receipt.NewWorker(pipeline, receipt.WorkerConfig{})
	return worker, pipeline, func() {
		// Let pending uploads and writes finish even after an interrupt
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := worker.Stop(stopCtx); err != nil {
			slog.Warn("Side effects still running at exit", "error", err)
		}
		db.Close()
	}, nil
}

// openStore opens the receipt database and image storage named by cfg
func openStore(ctx context.Context, cfg config) (*receipt.BoltDB, receipt.Storage, error) {
	slog.Info("Initializing database...", "path", cfg.dbPath)
	db, err := receipt.NewBoltDB(cfg.dbPath)
	if err != nil {
		return nil, nil, err
	}

	var store receipt.Storage
	switch cfg.storage {
	case "local":
		store, err = receipt.NewLocalStorage(cfg.storagePath)
	case "s3":
		store, err = receipt.NewS3Storage(ctx, cfg.s3Bucket, cfg.s3Prefix)
	default:
		err = fmt.Errorf("invalid storage %q: valid are local or s3", cfg.storage)
	}
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("initializing storage: %w", err)
	}
	return db, store, nil
}

// manageRecords runs one of the stored receipt commands
func manageRecords(ctx context.Context, cfg config) int {
	if cfg.dbPath == "" {
		slog.Error("--list, --show, --delete and --image require --db")
		return 1
	}

	db, store, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open receipt store", "error", err)
		return 1
	}
	defer db.Close()

	records := receipt.NewRecords(db, store)

	switch {
	case cfg.list:
		stored, err := records.List()
		if err != nil {
			slog.Error("Failed to list receipts", "error", err)
			return 1
		}
		return printJSON(stored)

	case cfg.show != "":
		stored, err := records.Get(cfg.show)
		if err != nil {
			slog.Error("Failed to load receipt", "id", cfg.show, "error", err)
			return 1
		}
		return printJSON(stored)

	case cfg.deleteID != "":
		if err := records.Delete(ctx, cfg.deleteID); err != nil {
			slog.Error("Failed to delete receipt", "id", cfg.deleteID, "error", err)
			return 1
		}
		slog.Info("Receipt deleted", "id", cfg.deleteID)
		return 0

	default:
		data, contentType, err := records.Image(ctx, cfg.imageID)
		if err != nil {
			slog.Error("Failed to load receipt image", "id", cfg.imageID, "error", err)
			return 1
		}
		if cfg.imageOut == "" {
			if _, err := os.Stdout.Write(data); err != nil {
				slog.Error("Failed to write image", "error", err)
				return 1
			}
			return 0
		}
		if err := os.WriteFile(cfg.imageOut, data, 0o644); err != nil {
			slog.Error("Failed to write image", "file", cfg.imageOut, "error", err)
			return 1
		}
		slog.Info("Receipt image written", "id", cfg.imageID, "file", cfg.imageOut, "content_type", contentType)
		return 0
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
