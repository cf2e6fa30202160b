package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/convoflow/leadqual/internal/api"
	"github.com/convoflow/leadqual/internal/flow"
	"github.com/convoflow/leadqual/internal/genai"
	"github.com/convoflow/leadqual/internal/models"
	"github.com/convoflow/leadqual/internal/onboarding"
	"github.com/convoflow/leadqual/internal/qualify"
	"github.com/convoflow/leadqual/internal/store"
	"github.com/convoflow/leadqual/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for service state data
	DefaultStateDir = "/var/lib/leadqual"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "leadqual.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := run(flags); err != nil {
		slog.Error("leadqual failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("leadqual exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL      string
	StateDir         string
	OpenAIKey        string
	OpenAIModel      string
	APIAddr          string
	Mode             string
	OnboardingURL    string
	EmailPromptAfter int
	GuardWindow      time.Duration
}

// Flags holds command line flag values
type Flags struct {
	dbDSN            *string
	openaiKey        *string
	openaiModel      *string
	apiAddr          *string
	mode             *string
	onboardingURL    *string
	emailPromptAfter *int
	guardWindow      *time.Duration
}

// initializeLogger sets up structured logging. LEADQUAL_DEBUG=true lowers the
// level to Debug.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("LEADQUAL_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		StateDir:         os.Getenv("LEADQUAL_STATE_DIR"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      os.Getenv("OPENAI_MODEL"),
		APIAddr:          os.Getenv("API_ADDR"),
		Mode:             os.Getenv("CONVERSATION_MODE"),
		OnboardingURL:    os.Getenv("ONBOARDING_BASE_URL"),
		EmailPromptAfter: util.ParseIntEnv("EMAIL_PROMPT_AFTER", 0),
		GuardWindow:      util.ParseDurationEnv("FOLLOWUP_GUARD_WINDOW", flow.DefaultFollowupGuardWindow),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No LEADQUAL_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"LEADQUAL_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"CONVERSATION_MODE", config.Mode,
		"ONBOARDING_BASE_URL_SET", config.OnboardingURL != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		dbDSN:            flag.String("db-dsn", config.DatabaseURL, "Database DSN (Postgres URL or SQLite path)"),
		openaiKey:        flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key"),
		openaiModel:      flag.String("openai-model", config.OpenAIModel, "OpenAI model name"),
		apiAddr:          flag.String("addr", config.APIAddr, "API listen address"),
		mode:             flag.String("mode", config.Mode, "Conversation mode (sales or lead_generation)"),
		onboardingURL:    flag.String("onboarding-url", config.OnboardingURL, "Base URL of the registration backend"),
		emailPromptAfter: flag.Int("email-prompt-after", config.EmailPromptAfter, "Probes before the email prompt is attached (0 uses the mode default)"),
		guardWindow:      flag.Duration("followup-guard-window", config.GuardWindow, "Window during which an unanswered followup suppresses a new probe"),
	}
	flag.Parse()
	return flags
}

func run(flags Flags) error {
	st, err := store.NewStore(*flags.dbDSN)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			slog.Error("Failed to close store", "error", cerr)
		}
	}()

	var generator *genai.Client
	if *flags.openaiKey != "" {
		genaiOpts := []genai.Option{genai.WithAPIKey(*flags.openaiKey)}
		if *flags.openaiModel != "" {
			genaiOpts = append(genaiOpts, genai.WithModel(*flags.openaiModel))
		}
		generator, err = genai.NewClient(genaiOpts...)
		if err != nil {
			return err
		}
	} else {
		slog.Warn("No OpenAI API key configured, generative answers disabled")
	}

	machine := onboarding.NewMachine(onboarding.NewHTTPSubmitter(*flags.onboardingURL))

	mode := models.ConversationMode(*flags.mode)
	if mode != models.ModeLeadGeneration {
		mode = models.ModeSales
	}

	var gen qualify.Generator
	if generator != nil {
		gen = generator
	}
	engine := flow.NewEngine(st, gen, machine, flow.Config{
		Mode:                mode,
		EmailPromptAfter:    *flags.emailPromptAfter,
		FollowupGuardWindow: *flags.guardWindow,
	})

	apiOpts := []api.Option{}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	server := api.NewServer(engine, st, apiOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping leadqual", "mode", mode, "addr", *flags.apiAddr)
	return server.Start(ctx)
}
