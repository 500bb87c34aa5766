package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/expense-tracker/internal/expense"
	"github.com/zombor/expense-tracker/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

const (
	memoryDB        = ":memory:"
	shutdownTimeout = 10 * time.Second
)

// providerConfig holds the flags for every extraction provider
type providerConfig struct {
	anthropicKey   string
	anthropicModel string
	anthropicURL   string
	geminiKey      string
	geminiModel    string
	openAIKey      string
	openAIModel    string
	openAIURL      string
	ollamaURL      string
	ollamaModel    string
}

// firstNonEmpty returns the flag value or the first set vendor env var
func firstNonEmpty(value string, envVars ...string) string {
	if value != "" {
		return value
	}
	for _, name := range envVars {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

func newRequester(kind string, cfg providerConfig) (scanning.Requester, error) {
	switch kind {
	case "anthropic":
		apiKey := firstNonEmpty(cfg.anthropicKey, "ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, errors.New("anthropic API key is required: set --anthropic-key or ANTHROPIC_API_KEY")
		}
		slog.Info("Initializing Anthropic scanner...", "model", cfg.anthropicModel)
		return scanning.NewAnthropic(apiKey, cfg.anthropicModel, cfg.anthropicURL)
	case "gemini":
		apiKey := firstNonEmpty(cfg.geminiKey, "GEMINI_API_KEY")
		if apiKey == "" {
			return nil, errors.New("gemini API key is required: set --gemini-key or GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini scanner...", "model", cfg.geminiModel)
		return scanning.NewGemini(apiKey, cfg.geminiModel)
	case "openai":
		apiKey := firstNonEmpty(cfg.openAIKey, "OPENAI_API_KEY")
		if apiKey == "" {
			return nil, errors.New("openai API key is required: set --openai-key or OPENAI_API_KEY")
		}
		slog.Info("Initializing OpenAI scanner...", "model", cfg.openAIModel, "url", cfg.openAIURL)
		return scanning.NewOpenAI(apiKey, cfg.openAIModel, cfg.openAIURL)
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", cfg.ollamaURL, "model", cfg.ollamaModel)
		return scanning.NewOllama(cfg.ollamaURL, cfg.ollamaModel)
	default:
		return nil, fmt.Errorf("invalid scanner type %q, valid: anthropic, gemini, openai or ollama", kind)
	}
}

func newStore(path string) (expense.Store, error) {
	if path == memoryDB {
		slog.Warn("Using in-memory database, data will not survive a restart")
		return expense.NewMemoryStore(), nil
	}
	return expense.NewBoltStore(path)
}

func setupLogging(level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch format {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("invalid log format %q, valid: text or json", format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the process exit code so deferred cleanup runs before exit
func run(args []string) int {
	// Check for version flag before parsing other flags
	for _, arg := range args {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			return 0
		}
	}

	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: loading .env: %v\n", err)
		return 1
	}

	flags := ff.NewFlagSet("expense-tracker")
	var (
		port            = flags.IntLong("port", 8080, "HTTP server port")
		dbPath          = flags.StringLong("db", "expense-tracker.db", "Database file path, or :memory: for a throwaway store")
		storagePath     = flags.StringLong("storage", "./receipts", "Receipt image directory")
		scannerType     = flags.StringLong("scanner", "anthropic", "Scanner type: anthropic, gemini, openai or ollama")
		anthropicKey    = flags.StringLong("anthropic-key", "", "Anthropic API key (or set ANTHROPIC_API_KEY env var)")
		anthropicModel  = flags.StringLong("anthropic-model", "claude-sonnet-4-20250514", "Anthropic model name")
		anthropicURL    = flags.StringLong("anthropic-url", "", "Anthropic API base URL (default public API)")
		geminiKey       = flags.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel     = flags.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		openAIKey       = flags.StringLong("openai-key", "", "OpenAI API key (or set OPENAI_API_KEY env var)")
		openAIModel     = flags.StringLong("openai-model", "gpt-4o", "OpenAI model name")
		openAIURL       = flags.StringLong("openai-url", "", "OpenAI-compatible API base URL (default public API)")
		ollamaURL       = flags.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel     = flags.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, bakllava, qwen2-vl)")
		scanConcurrency = flags.IntLong("scan-concurrency", expense.DefaultScanConcurrency, "Maximum parallel scans in a batch upload")
		authUser        = flags.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass        = flags.StringLong("auth-pass", "", "Basic auth password (optional)")
		logLevel        = flags.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		logFormat       = flags.StringLong("log-format", "text", "Log format: text or json")
		showVersion     = flags.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(flags, args,
		ff.WithEnvVarPrefix("EXPENSE_TRACKER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(flags))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	if *showVersion {
		fmt.Println(version)
		return 0
	}

	if err := setupLogging(*logLevel, *logFormat); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	slog.Info("Initializing database...", "path", *dbPath)
	store, err := newStore(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		return 1
	}
	defer store.Close()

	requester, err := newRequester(*scannerType, providerConfig{
		anthropicKey:   *anthropicKey,
		anthropicModel: *anthropicModel,
		anthropicURL:   *anthropicURL,
		geminiKey:      *geminiKey,
		geminiModel:    *geminiModel,
		openAIKey:      *openAIKey,
		openAIModel:    *openAIModel,
		openAIURL:      *openAIURL,
		ollamaURL:      *ollamaURL,
		ollamaModel:    *ollamaModel,
	})
	if err != nil {
		slog.Error("Failed to initialize scanner", "error", err)
		return 1
	}

	scanner, err := scanning.NewPipeline(requester)
	if err != nil {
		slog.Error("Failed to initialize scan pipeline", "error", err)
		requester.Close()
		return 1
	}
	defer scanner.Close()

	slog.Info("Initializing storage...", "path", *storagePath)
	storage, err := expense.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		return 1
	}

	service := expense.NewService(store, scanner, storage)
	service.SetScanConcurrency(*scanConcurrency)

	server := expense.NewServer(service, expense.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	})

	addr := fmt.Sprintf(":%d", *port)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(addr)
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version, "scanner", requester.Name())
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serverErr:
		if err != nil {
			slog.Error("Server error", "error", err)
			return 1
		}
		return 0
	case <-ctx.Done():
	}

	slog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown error", "error", err)
		return 1
	}
	return 0
}
