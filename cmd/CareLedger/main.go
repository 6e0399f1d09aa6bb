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

	"github.com/BTreeMap/CareLedger/internal/api"
	"github.com/BTreeMap/CareLedger/internal/flow"
	"github.com/BTreeMap/CareLedger/internal/genai"
	"github.com/BTreeMap/CareLedger/internal/ledger"
	"github.com/BTreeMap/CareLedger/internal/lockfile"
	"github.com/BTreeMap/CareLedger/internal/messaging"
	"github.com/BTreeMap/CareLedger/internal/report"
	"github.com/BTreeMap/CareLedger/internal/scheduler"
	"github.com/BTreeMap/CareLedger/internal/store"
	"github.com/BTreeMap/CareLedger/internal/twiliowhatsapp"
	"github.com/BTreeMap/CareLedger/internal/util"
	"github.com/BTreeMap/CareLedger/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for CareLedger state data
	DefaultStateDir = "/var/lib/careledger"
	// DefaultAppDBFileName is the default SQLite database filename for application data
	DefaultAppDBFileName = "careledger.db"
	// DefaultWhatsAppDBFileName is the default SQLite database filename for the whatsmeow session
	DefaultWhatsAppDBFileName = "whatsapp.db"
	// shutdownTimeout bounds graceful HTTP shutdown
	shutdownTimeout = 10 * time.Second
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := run(flags); err != nil {
		slog.Error("CareLedger failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("CareLedger exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir         string
	ApplicationDBDSN string
	WhatsAppDBDSN    string
	Messenger        string
	TwilioSID        string
	TwilioToken      string
	TwilioFrom       string
	OpenAIKey        string
	APIAddr          string
	WebhookSecret    string
	RemindersEnabled bool
}

// Flags holds command line flag values
type Flags struct {
	qrOutput         *string
	numeric          *bool
	stateDir         *string
	dbDSN            *string
	waDBDSN          *string
	messenger        *string
	openaiKey        *string
	apiAddr          *string
	webhookSecret    *string
	remindersEnabled *bool
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
		StateDir:         os.Getenv("CARELEDGER_STATE_DIR"),
		ApplicationDBDSN: os.Getenv("DATABASE_DSN"),
		WhatsAppDBDSN:    os.Getenv("WHATSAPP_DB_DSN"),
		Messenger:        os.Getenv("MESSENGER"),
		TwilioSID:        os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:      os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:       os.Getenv("TWILIO_WHATSAPP_FROM"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		APIAddr:          os.Getenv("API_ADDR"),
		WebhookSecret:    os.Getenv("WEBHOOK_SECRET"),
		RemindersEnabled: util.ParseBoolEnv("REMINDERS_ENABLED", true),
	}

	// Legacy fallback for the application database DSN.
	if config.ApplicationDBDSN == "" {
		config.ApplicationDBDSN = os.Getenv("DATABASE_URL")
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No CARELEDGER_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.ApplicationDBDSN == "" {
		config.ApplicationDBDSN = filepath.Join(config.StateDir, DefaultAppDBFileName)
		slog.Debug("No DATABASE_DSN provided, defaulting to SQLite", "sqlite_path", config.ApplicationDBDSN)
	}
	if config.WhatsAppDBDSN == "" {
		config.WhatsAppDBDSN = "file:" + filepath.Join(config.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
		slog.Debug("No WHATSAPP_DB_DSN provided, defaulting to SQLite", "sqlite_path", config.WhatsAppDBDSN)
	}
	if config.Messenger == "" {
		config.Messenger = "whatsapp"
	}

	slog.Debug("environment variables loaded",
		"CARELEDGER_STATE_DIR", config.StateDir,
		"DATABASE_DSN_SET", config.ApplicationDBDSN != "",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDBDSN != "",
		"MESSENGER", config.Messenger,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"WEBHOOK_SECRET_SET", config.WebhookSecret != "",
		"REMINDERS_ENABLED", config.RemindersEnabled)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:         flag.String("qr-output", "", "path to write login QR code"),
		numeric:          flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:         flag.String("state-dir", config.StateDir, "state directory for CareLedger data (overrides $CARELEDGER_STATE_DIR)"),
		dbDSN:            flag.String("db-dsn", config.ApplicationDBDSN, "application database DSN (overrides $DATABASE_DSN)"),
		waDBDSN:          flag.String("wa-db-dsn", config.WhatsAppDBDSN, "whatsmeow session database DSN (overrides $WHATSAPP_DB_DSN)"),
		messenger:        flag.String("messenger", config.Messenger, "message transport: whatsapp or twilio (overrides $MESSENGER)"),
		openaiKey:        flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key for feedback summaries (overrides $OPENAI_API_KEY)"),
		apiAddr:          flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		webhookSecret:    flag.String("webhook-secret", config.WebhookSecret, "HMAC secret for webhook signatures (overrides $WEBHOOK_SECRET)"),
		remindersEnabled: flag.Bool("reminders", config.RemindersEnabled, "run the hourly reminder sweep (overrides $REMINDERS_ENABLED)"),
	}

	flag.Parse()

	// Keep a default SQLite path in step with an overridden state directory.
	if *flags.stateDir != config.StateDir && *flags.dbDSN == filepath.Join(config.StateDir, DefaultAppDBFileName) {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultAppDBFileName)
		slog.Debug("Updated db-dsn for overridden state directory", "db_dsn", *flags.dbDSN)
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"messenger", *flags.messenger,
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"reminders", *flags.remindersEnabled)

	return flags
}

// run wires the modules together and blocks until shutdown.
func run(flags Flags) error {
	if err := os.MkdirAll(*flags.stateDir, 0755); err != nil {
		return err
	}

	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	msgService, err := buildMessagingService(flags)
	if err != nil {
		return err
	}

	led := ledger.New(st)

	engineOpts := []flow.EngineOption{flow.WithReportRenderer(report.NewRenderer())}
	if *flags.openaiKey != "" {
		genaiClient, err := genai.NewClient(genai.WithAPIKey(*flags.openaiKey))
		if err != nil {
			return err
		}
		engineOpts = append(engineOpts, flow.WithSummarizer(genaiClient))
	} else {
		slog.Info("No OpenAI API key configured, feedback summaries disabled")
	}
	engine := flow.NewEngine(st, led, msgService, engineOpts...)

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.webhookSecret != "" {
		apiOpts = append(apiOpts, api.WithWebhookSecret(*flags.webhookSecret))
	}
	server := api.NewServer(st, led, engine, msgService, apiOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := server.Start(ctx); err != nil {
		return err
	}

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if *flags.remindersEnabled {
		err := sched.AddReminderSweep(func() {
			sent, err := led.RunReminderSweep(ctx, msgService.SendMessage)
			if err != nil {
				slog.Error("Reminder sweep failed", "error", err)
				return
			}
			if sent > 0 {
				slog.Info("Reminder sweep complete", "sent", sent)
			}
		})
		if err != nil {
			return err
		}
	} else {
		slog.Info("Reminder sweep disabled")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("Shutting down", "signal", sig.String())

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	return server.Stop(shutdownCtx)
}

// buildStore opens the application store for the configured DSN.
func buildStore(flags Flags) (store.Store, error) {
	dsn := *flags.dbDSN
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
	return store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
}

// buildMessagingService constructs the configured message transport.
func buildMessagingService(flags Flags) (messaging.Service, error) {
	switch *flags.messenger {
	case "twilio":
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(os.Getenv("TWILIO_ACCOUNT_SID")),
			twiliowhatsapp.WithAuthToken(os.Getenv("TWILIO_AUTH_TOKEN")),
			twiliowhatsapp.WithFromWhats(os.Getenv("TWILIO_WHATSAPP_FROM")),
		)
		if err != nil {
			return nil, err
		}
		return messaging.NewTwilioService(client), nil
	default:
		waOpts := []whatsapp.Option{whatsapp.WithDBDSN(*flags.waDBDSN)}
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, err
		}
		return messaging.NewWhatsAppService(client), nil
	}
}
