package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/chriskillpack/platemate"
	"github.com/chriskillpack/platemate/internal/config"
	"github.com/chriskillpack/platemate/internal/logging"
)

var (
	configPath  string
	envFile     string
	dbPath      string
	backend     string
	geminiModel string
	llamaServer string
	llamaSeed   int
	logLevel    string
	logPretty   bool
)

var rootCmd = &cobra.Command{
	Use:   "platemate",
	Short: "Nutrition breakdowns for photos of meals",
	Long: `platemate sends a photo of a meal and a prompt to a multimodal model and
returns an itemized nutrition breakdown. Responses are cached on disk by image
content and prompt so repeated questions do not reach the model again.`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Path to a YAML config file")
	pf.StringVar(&envFile, "env-file", ".env", "Path to a dotenv file, ignored if missing")
	pf.StringVar(&dbPath, "db", "", "Path to response cache database (default ./platemate.db)")
	pf.StringVar(&backend, "backend", "", "Model backend, gemini or llama (default gemini)")
	pf.StringVar(&geminiModel, "model", "", "Gemini model name")
	pf.StringVar(&llamaServer, "llama", "", "Address of running llama server, typically http://localhost:8080")
	pf.IntVar(&llamaSeed, "seed", 0, "Random seed to llama")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.BoolVar(&logPretty, "pretty", false, "Human readable logs instead of JSON")

	rootCmd.AddCommand(serveCmd, analyzeCmd, batchCmd, cacheCmd)
}

// loadConfig builds the effective config: defaults <- file <- env <- flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{File: configPath, EnvFile: envFile})
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DBPath = dbPath
	}
	if flags.Changed("backend") {
		cfg.Backend = backend
	}
	if flags.Changed("model") {
		cfg.GeminiModel = geminiModel
	}
	if flags.Changed("llama") {
		cfg.LlamaServer = llamaServer
		if !flags.Changed("backend") {
			cfg.Backend = config.BackendLlama
		}
	}
	if flags.Changed("seed") {
		cfg.LlamaSeed = llamaSeed
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("pretty") {
		cfg.LogPretty = logPretty
	}

	logging.Setup(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	return cfg, nil
}

// app is everything a command that analyzes images needs. Close releases the
// database.
type app struct {
	cfg    config.Config
	db     *platemate.DB
	svc    *platemate.Service
	logger zerolog.Logger
}

func (a *app) Close() { a.db.Close() }

func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pio := platemate.InitOptions{
		HttpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
	}
	if cfg.Backend == config.BackendLlama {
		pio.LlamaServer = cfg.LlamaServer
		pio.LlamaSeed = cfg.LlamaSeed
	} else {
		pio.GeminiAPIKey = cfg.APIKey
		pio.GeminiModel = cfg.GeminiModel
		pio.GeminiBaseURL = cfg.GeminiBaseURL
		pio.GeminiRPM = cfg.GeminiRPM
	}
	p, err := platemate.Init(pio)
	if err != nil {
		return nil, err
	}

	db, err := platemate.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening response cache %s: %w", cfg.DBPath, err)
	}

	logger := logging.NewLogger("platemate")
	svc := platemate.NewService(p.Analyzer, db,
		platemate.WithLogger(logger),
		platemate.WithMaxMegapixels(cfg.MaxMegapixels),
		platemate.WithCallTimeout(cfg.RequestTimeout),
	)

	return &app{cfg: cfg, db: db, svc: svc, logger: logger}, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
