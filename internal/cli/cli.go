// Package cli implements the dictate command: argument parsing, configuration
// and the wiring of one transcription request.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/dictation"
	"github.com/loqalabs/loqa-dictate/internal/journal"
	"github.com/loqalabs/loqa-dictate/internal/logging"
	"github.com/loqalabs/loqa-dictate/internal/stt"
	"github.com/loqalabs/loqa-dictate/internal/telemetry"
	"github.com/spf13/pflag"
)

const (
	defaultConfigPath = "dictate.yaml"
	defaultEnvPath    = ".env"
	usageLine         = "usage: dictate [-l|--locale <locale>] <input-file>"
)

// EngineFactory builds the recognition engine for a loaded configuration.
type EngineFactory func(ctx context.Context, cfg config.Config, log *slog.Logger) (stt.Engine, error)

type Options struct {
	Version   string
	NewEngine EngineFactory
}

// Run executes dictate with args (excluding the program name) and returns the
// process exit code. On success exactly one line is written to stdout; on
// failure exactly one line is written to stderr.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer, opts Options) int {
	if opts.NewEngine == nil {
		opts.NewEngine = DefaultEngine
	}

	flags := pflag.NewFlagSet("dictate", pflag.ContinueOnError)
	flags.SetOutput(io.Discard)
	flags.SortFlags = false
	localeID := flags.StringP("locale", "l", "", "The speech locale to use (default from config, en-GB)")
	configPath := flags.StringP("config", "c", defaultConfigPath, "Path to configuration file")
	envPath := flags.String("env", defaultEnvPath, "Path to a dotenv file with API keys")
	mode := flags.StringP("mode", "m", "", "Recognition engine: mock|exec|openai|google|whisper|remote")
	verbose := flags.BoolP("verbose", "v", false, "Log progress to stderr")
	showVersion := flags.Bool("version", false, "Print version and exit")
	help := flags.BoolP("help", "h", false, "Show this help")

	if err := flags.Parse(args); err != nil {
		return fail(stderr, dictation.Usage("%s; %s", err, usageLine))
	}
	if *help {
		fmt.Fprintln(stdout, usageLine)
		fmt.Fprint(stdout, flags.FlagUsages())
		return 0
	}
	if *showVersion {
		fmt.Fprintln(stdout, opts.Version)
		return 0
	}
	if flags.NArg() != 1 {
		return fail(stderr, dictation.Usage("expected exactly one input file; %s", usageLine))
	}
	inputFile := flags.Arg(0)

	cfg, err := loadConfig(*configPath, flags.Changed("config"), *envPath, flags.Changed("env"), *mode)
	if err != nil {
		return fail(stderr, err)
	}
	level := cfg.Telemetry.LogLevel
	if *verbose {
		level = "debug"
	}
	logger, err := logging.NewCLI(stderr, level, false)
	if err != nil {
		return fail(stderr, err)
	}

	adapterOpts := []dictation.Option{dictation.WithLogger(logger)}

	tel, err := telemetry.Setup(ctx, cfg, stderr, logger)
	if err != nil {
		logger.Warn("telemetry disabled", slog.String("error", err.Error()))
	} else {
		adapterOpts = append(adapterOpts, dictation.WithTracer(tel.Tracer), dictation.WithMetrics(tel.Metrics))
		defer func() {
			if err := tel.WriteMetricsFile(cfg.Telemetry.MetricsFile); err != nil {
				logger.Warn("write metrics file failed", slog.String("error", err.Error()))
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tel.Shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
			}
		}()
	}

	store, err := journal.Open(ctx, cfg.Journal, logger)
	if err != nil {
		logger.Warn("journal disabled", slog.String("error", err.Error()))
	} else {
		adapterOpts = append(adapterOpts, dictation.WithJournal(store))
		defer store.Close()
	}

	engine, err := opts.NewEngine(ctx, cfg, logger)
	if err != nil {
		logger.Debug("engine construction failed", slog.String("mode", cfg.STT.Mode), slog.String("error", err.Error()))
		return fail(stderr, &dictation.Error{Kind: dictation.KindNotReady, Locale: requestLocale(*localeID, cfg), Err: err})
	}
	defer engine.Close()

	req := dictation.NewRequest(inputFile, requestLocale(*localeID, cfg))
	outcome, err := dictation.New(engine, adapterOpts...).Transcribe(ctx, req)
	if err != nil {
		return fail(stderr, err)
	}
	fmt.Fprintln(stdout, oneLine(outcome.Text))
	return 0
}

func requestLocale(flagValue string, cfg config.Config) string {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue
	}
	return cfg.STT.DefaultLocale
}

func loadConfig(path string, pathSet bool, envPath string, envSet bool, mode string) (config.Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		if envSet || !errors.Is(err, fs.ErrNotExist) {
			return config.Config{}, fmt.Errorf("load env file: %w", err)
		}
	}

	cfg, err := config.Load(path)
	if err != nil && !pathSet && errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.Load("")
	}
	if err != nil {
		return config.Config{}, err
	}

	if mode != "" {
		cfg.STT.Mode = strings.ToLower(mode)
		if err := cfg.Validate(); err != nil {
			return config.Config{}, err
		}
	}
	return cfg, nil
}

// DefaultEngine builds the configured engine. For remote mode it dials the bus
// first; a failed dial leaves the engine without a connection so the request
// ends as not ready.
func DefaultEngine(ctx context.Context, cfg config.Config, log *slog.Logger) (stt.Engine, error) {
	deps := stt.Deps{
		StatusTimeout: time.Duration(cfg.Bus.StatusTimeoutMS) * time.Millisecond,
		Logger:        log,
	}
	if cfg.STT.Mode == config.ModeRemote {
		client, err := bus.Connect(ctx, cfg.Bus, log)
		if err != nil {
			log.Debug("bus unavailable", slog.String("error", err.Error()))
		} else {
			deps.Bus = client
		}
	}
	return stt.NewEngine(cfg.STT, deps)
}

func fail(stderr io.Writer, err error) int {
	fmt.Fprintln(stderr, oneLine(err.Error()))
	return dictation.ExitCode(err)
}

// oneLine folds line breaks so a message always occupies a single line.
func oneLine(s string) string {
	s = strings.TrimSpace(s)
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
}
