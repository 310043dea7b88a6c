package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mindmesh/sentinel/internal/alert"
	"github.com/mindmesh/sentinel/internal/api"
	"github.com/mindmesh/sentinel/internal/detection"
	"github.com/mindmesh/sentinel/internal/escalation"
	"github.com/mindmesh/sentinel/internal/lockfile"
	"github.com/mindmesh/sentinel/internal/notify"
	"github.com/mindmesh/sentinel/internal/scheduler"
	"github.com/mindmesh/sentinel/internal/store"
	"github.com/mindmesh/sentinel/internal/twiliosms"
	"github.com/mindmesh/sentinel/internal/util"
	"github.com/mindmesh/sentinel/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for sentinel state data
	DefaultStateDir = "/var/lib/sentinel"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "sentinel.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	slog.Info("Bootstrapping sentinel crisis engine")
	if err := run(flags); err != nil {
		slog.Error("Sentinel failed to run", "error", err)
		lock.Release()
		os.Exit(1)
	}
	slog.Info("Sentinel exited successfully")
}

func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	bus := alert.NewEventBus()
	manager := alert.NewManager(st, bus)

	detectorOpts := []detection.Option{}
	if *flags.lexiconFile != "" {
		lex, err := detection.LoadLexiconFile(*flags.lexiconFile)
		if err != nil {
			return err
		}
		detectorOpts = append(detectorOpts, detection.WithLexicon(lex))
	}
	detector, err := detection.NewDetector(st, detectorOpts...)
	if err != nil {
		return err
	}

	pool := detection.NewPool(detector)
	pool.Start(ctx)
	defer pool.Stop()

	registry := buildChannelRegistry(flags)
	dispatcher := notify.NewDispatcher(st, registry, bus)

	escScheduler, err := escalation.NewScheduler(st, manager, dispatcher)
	if err != nil {
		return err
	}
	escScheduler.Run(ctx)
	defer escScheduler.Shutdown()
	manager.SetEscalationController(escScheduler)

	// Re-arm escalations that were in flight when the previous process died.
	if err := escScheduler.RecoverActiveAlerts(ctx); err != nil {
		return err
	}

	cron := scheduler.NewScheduler()
	defer cron.Stop()
	if err := cron.RegisterLexiconReload(scheduler.DefaultLexiconReloadSchedule, *flags.lexiconFile, detector); err != nil {
		return err
	}
	if err := cron.RegisterMetricsSnapshot(scheduler.DefaultMetricsSnapshotSchedule, func() {
		metrics, err := manager.Metrics()
		if err != nil {
			slog.Error("Metrics snapshot failed", "error", err)
			return
		}
		slog.Info("Alert metrics snapshot",
			"total", metrics.TotalAlerts,
			"active", metrics.ActiveAlerts,
			"exhausted", metrics.EscalationsExhausted,
			"avgAckMs", metrics.AvgTimeToAcknowledgeMs)
	}); err != nil {
		return err
	}

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	server := api.NewServer(detector, pool, manager, dispatcher, bus, st, apiOpts...)
	return server.Run(ctx)
}

// openStore selects the store backend from the configured DSN.
func openStore(flags Flags) (store.Store, error) {
	dsn := *flags.dbDSN
	if dsn == "" {
		slog.Debug("No database DSN provided, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_set", true)
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
	return store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
}

// buildChannelRegistry registers every transport the configuration allows.
// The webhook channel is always available; SMS and WhatsApp need credentials.
func buildChannelRegistry(flags Flags) *notify.Registry {
	registry := notify.NewRegistry()
	registry.Register(notify.NewWebhookChannel(nil))

	smsClient, err := twiliosms.NewClient(buildTwilioOptions(flags)...)
	if err != nil {
		slog.Warn("SMS channel disabled", "reason", err)
	} else {
		registry.Register(notify.NewSMSChannel(smsClient))
	}

	if *flags.whatsappEnabled {
		waClient, err := whatsapp.NewClient(buildWhatsAppOptions(flags)...)
		if err != nil {
			slog.Warn("WhatsApp channel disabled", "reason", err)
		} else {
			registry.Register(notify.NewWhatsAppChannel(waClient))
		}
	}

	slog.Info("Notification channels registered", "channels", registry.Kinds())
	return registry
}

// Config holds environment configuration
type Config struct {
	DatabaseURL     string
	WhatsAppDSN     string
	StateDir        string
	APIAddr         string
	LexiconFile     string
	TwilioSID       string
	TwilioToken     string
	TwilioFrom      string
	WhatsAppEnabled bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir        *string
	dbDSN           *string
	apiAddr         *string
	lexiconFile     *string
	twilioSID       *string
	twilioToken     *string
	twilioFrom      *string
	whatsappEnabled *bool
	whatsappDSN     *string
	qrOutput        *string
	numeric         *bool
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
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		WhatsAppDSN:     os.Getenv("WHATSAPP_DB_DSN"),
		StateDir:        os.Getenv("SENTINEL_STATE_DIR"),
		APIAddr:         os.Getenv("API_ADDR"),
		LexiconFile:     os.Getenv("LEXICON_FILE"),
		TwilioSID:       os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:     os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:      os.Getenv("TWILIO_FROM_NUMBER"),
		WhatsAppEnabled: util.ParseBoolEnv("WHATSAPP_ENABLED", false),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No SENTINEL_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"SENTINEL_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"LEXICON_FILE", config.LexiconFile,
		"TWILIO_ACCOUNT_SID_SET", config.TwilioSID != "",
		"WHATSAPP_ENABLED", config.WhatsAppEnabled)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:        flag.String("state-dir", config.StateDir, "state directory for sentinel data (overrides $SENTINEL_STATE_DIR)"),
		dbDSN:           flag.String("db-dsn", config.DatabaseURL, "database DSN for the alert store (overrides $DATABASE_URL)"),
		apiAddr:         flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		lexiconFile:     flag.String("lexicon-file", config.LexiconFile, "path to a JSON lexicon file (overrides $LEXICON_FILE)"),
		twilioSID:       flag.String("twilio-sid", config.TwilioSID, "Twilio account SID (overrides $TWILIO_ACCOUNT_SID)"),
		twilioToken:     flag.String("twilio-token", config.TwilioToken, "Twilio auth token (overrides $TWILIO_AUTH_TOKEN)"),
		twilioFrom:      flag.String("twilio-from", config.TwilioFrom, "Twilio sending number (overrides $TWILIO_FROM_NUMBER)"),
		whatsappEnabled: flag.Bool("whatsapp-enabled", config.WhatsAppEnabled, "enable the WhatsApp notification channel (overrides $WHATSAPP_ENABLED)"),
		whatsappDSN:     flag.String("whatsapp-db-dsn", config.WhatsAppDSN, "database DSN for the WhatsApp session store (overrides $WHATSAPP_DB_DSN)"),
		qrOutput:        flag.String("qr-output", "", "path to write WhatsApp login QR code"),
		numeric:         flag.Bool("numeric-code", false, "use numeric WhatsApp login code instead of QR code"),
	}
	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"lexiconFile", *flags.lexiconFile,
		"whatsappEnabled", *flags.whatsappEnabled)

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if !strings.Contains(*flags.dbDSN, "postgres://") && !strings.Contains(*flags.dbDSN, "host=") {
		stateDir := filepath.Dir(*flags.dbDSN)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return os.MkdirAll(*flags.stateDir, 0755)
}

// buildTwilioOptions constructs Twilio SMS configuration options
func buildTwilioOptions(flags Flags) []twiliosms.Option {
	var opts []twiliosms.Option
	if *flags.twilioSID != "" {
		opts = append(opts, twiliosms.WithAccountSID(*flags.twilioSID))
	}
	if *flags.twilioToken != "" {
		opts = append(opts, twiliosms.WithAuthToken(*flags.twilioToken))
	}
	if *flags.twilioFrom != "" {
		opts = append(opts, twiliosms.WithFromNumber(*flags.twilioFrom))
	}
	return opts
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var opts []whatsapp.Option
	if *flags.whatsappDSN != "" {
		opts = append(opts, whatsapp.WithDBDSN(*flags.whatsappDSN))
	}
	if *flags.qrOutput != "" {
		opts = append(opts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		opts = append(opts, whatsapp.WithNumericCode())
	}
	return opts
}
