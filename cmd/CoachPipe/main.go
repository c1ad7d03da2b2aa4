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

	"github.com/joho/godotenv"

	"github.com/SteadyPath/CoachPipe/internal/api"
	"github.com/SteadyPath/CoachPipe/internal/coach"
	"github.com/SteadyPath/CoachPipe/internal/flow"
	"github.com/SteadyPath/CoachPipe/internal/genai"
	"github.com/SteadyPath/CoachPipe/internal/journal"
	"github.com/SteadyPath/CoachPipe/internal/notify"
	"github.com/SteadyPath/CoachPipe/internal/poller"
	"github.com/SteadyPath/CoachPipe/internal/scheduler"
	"github.com/SteadyPath/CoachPipe/internal/store"
	"github.com/SteadyPath/CoachPipe/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for CoachPipe state data
	DefaultStateDir = "/var/lib/coachpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "coachpipe.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	slog.Info("Bootstrapping CoachPipe with configured modules")
	if err := run(flags); err != nil {
		slog.Error("CoachPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("CoachPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	DbDriver     string
	DatabaseURL  string
	StateDir     string
	OpenAIKey    string
	APIAddr      string
	Locale       string
	PollInterval time.Duration
	SMSEnabled   bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir     *string
	dbDriver     *string
	dbDSN        *string
	openaiKey    *string
	apiAddr      *string
	locale       *string
	pollInterval *time.Duration
	smsEnabled   *bool
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
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
		DbDriver:     os.Getenv("COACHPIPE_DB_DRIVER"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		StateDir:     os.Getenv("COACHPIPE_STATE_DIR"),
		OpenAIKey:    os.Getenv("OPENAI_API_KEY"),
		APIAddr:      os.Getenv("API_ADDR"),
		Locale:       os.Getenv("COACHPIPE_LOCALE"),
		PollInterval: util.ParseDurationEnv("TRIGGER_POLL_INTERVAL", poller.DefaultInterval),
		SMSEnabled:   util.ParseBoolEnv("COACHPIPE_SMS_ENABLED", true),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No COACHPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	slog.Debug("environment variables loaded",
		"COACHPIPE_DB_DRIVER", config.DbDriver,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"COACHPIPE_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"COACHPIPE_LOCALE", config.Locale,
		"TRIGGER_POLL_INTERVAL", config.PollInterval,
		"COACHPIPE_SMS_ENABLED", config.SMSEnabled)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:     flag.String("state-dir", config.StateDir, "state directory for CoachPipe data (overrides $COACHPIPE_STATE_DIR)"),
		dbDriver:     flag.String("db-driver", config.DbDriver, "store backend: memory, sqlite, or postgres (overrides $COACHPIPE_DB_DRIVER)"),
		dbDSN:        flag.String("db-dsn", config.DatabaseURL, "database DSN for the persistent store (overrides $DATABASE_URL)"),
		openaiKey:    flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:      flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		locale:       flag.String("locale", config.Locale, "default locale for fallback content (overrides $COACHPIPE_LOCALE)"),
		pollInterval: flag.Duration("poll-interval", config.PollInterval, "trigger poll interval (overrides $TRIGGER_POLL_INTERVAL)"),
		smsEnabled:   flag.Bool("sms-enabled", config.SMSEnabled, "enable emergency contact SMS via Twilio (overrides $COACHPIPE_SMS_ENABLED)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDriver", *flags.dbDriver,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"locale", *flags.locale,
		"pollInterval", *flags.pollInterval,
		"smsEnabled", *flags.smsEnabled)

	return flags
}

// buildStore selects and opens the store backend: an explicit driver wins,
// otherwise the DSN form decides, otherwise in-memory.
func buildStore(flags Flags) (store.Store, error) {
	driver := *flags.dbDriver
	dsn := *flags.dbDSN
	if driver == "" && dsn != "" {
		driver = store.DetectDSNType(dsn)
		slog.Debug("Detected store driver from DSN", "driver", driver)
	}

	switch driver {
	case "postgres":
		slog.Debug("Configuring PostgreSQL store", "dsn_set", dsn != "")
		return store.NewPostgresStore(store.WithDSN(dsn))
	case "sqlite":
		if dsn == "" {
			dsn = filepath.Join(*flags.stateDir, DefaultDBFileName)
			slog.Debug("No DSN provided, defaulting SQLite to state directory", "sqlite_path", dsn)
		}
		return store.NewSQLiteStore(store.WithDSN(dsn))
	default:
		slog.Debug("No database configured, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
}

// buildCoach constructs the coach service. Without an OpenAI key the coach
// runs fallback-only: assessments use keyword detection and interventions use
// the locale tables.
func buildCoach(flags Flags) coach.Service {
	opts := []coach.Option{coach.WithLocale(*flags.locale)}
	if *flags.openaiKey != "" {
		ai, err := genai.NewClient(genai.WithAPIKey(*flags.openaiKey))
		if err != nil {
			slog.Warn("GenAI client creation failed, running fallback-only", "error", err)
		} else {
			opts = append(opts, coach.WithGenAI(ai))
		}
	} else {
		slog.Warn("No OpenAI API key configured, running fallback-only")
	}
	return coach.NewAlexCoach(opts...)
}

// buildNotifier constructs the Twilio crisis notifier when enabled and
// credentials are configured. A nil notifier disables emergency contact SMS.
func buildNotifier(flags Flags) flow.CrisisNotifier {
	if !*flags.smsEnabled {
		slog.Info("Crisis SMS disabled by configuration")
		return nil
	}
	notifier, err := notify.NewNotifier()
	if err != nil {
		slog.Warn("Twilio notifier unavailable, crisis SMS disabled", "error", err)
		return nil
	}
	return notifier
}

// run wires the modules together and serves until interrupted.
func run(flags Flags) error {
	st, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Warn("Store close failed", "error", err)
		}
	}()

	coachSvc := buildCoach(flags)
	notifier := buildNotifier(flags)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	triggerPoller := poller.New(sched, *flags.pollInterval)

	states := flow.NewStoreBasedStateManager(st)
	timer := flow.NewSimpleTimer()
	defer timer.Stop()
	sessions := flow.NewSessionManager(coachSvc, st, states, timer, triggerPoller, notifier)
	defer sessions.Shutdown(context.Background())

	journalSvc := journal.NewService(st)
	server := api.NewServer(sessions, journalSvc, st, *flags.apiAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return server.RunUntil(ctx)
}
