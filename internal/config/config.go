package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel      string `yaml:"log_level"`
	TraceExporter string `yaml:"trace_exporter"` // none, stdout, otlp
	OTLPEndpoint  string `yaml:"otlp_endpoint"`
	OTLPInsecure  bool   `yaml:"otlp_insecure"`
	MetricsFile   string `yaml:"metrics_file"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Journal     JournalConfig   `yaml:"journal"`
	STT         STTConfig       `yaml:"stt"`
	Worker      WorkerConfig    `yaml:"worker"`
}

type BusConfig struct {
	Embedded        bool     `yaml:"embedded"`
	Port            int      `yaml:"port"`
	StoreDir        string   `yaml:"store_dir"`
	Servers         []string `yaml:"servers"`
	Username        string   `yaml:"username"`
	Password        string   `yaml:"password"`
	Token           string   `yaml:"token"`
	TLSInsecure     bool     `yaml:"tls_insecure"`
	ConnectTimeout  int      `yaml:"connect_timeout_ms"`
	StatusTimeoutMS int      `yaml:"status_timeout_ms"`
	MaxPayloadBytes int      `yaml:"max_payload_bytes"`
	ClientName      string   `yaml:"client_name"`
}

type JournalConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type STTConfig struct {
	Mode          string       `yaml:"mode"` // mock, exec, openai, google, whisper, remote
	DefaultLocale string       `yaml:"default_locale"`
	Locales       []string     `yaml:"locales"`
	Command       string       `yaml:"command"`
	ModelPath     string       `yaml:"model_path"`
	Threads       int          `yaml:"threads"`
	OpenAI        OpenAIConfig `yaml:"openai"`
	Google        GoogleConfig `yaml:"google"`
	Mock          MockConfig   `yaml:"mock"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

type GoogleConfig struct {
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Endpoint string `yaml:"endpoint"`
}

// MockConfig scripts the mock engine. Partials are emitted before Transcript.
type MockConfig struct {
	Transcript string   `yaml:"transcript"`
	Partials   []string `yaml:"partials"`
	Ready      bool     `yaml:"ready"`
	Error      string   `yaml:"error"`
}

type WorkerConfig struct {
	Enabled             bool   `yaml:"enabled"`
	ID                  string `yaml:"id"`
	QueueGroup          string `yaml:"queue_group"`
	MaxConcurrency      int    `yaml:"max_concurrency"`
	HeartbeatIntervalMS int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeoutMS  int    `yaml:"heartbeat_timeout_ms"`
}

const (
	ModeMock    = "mock"
	ModeExec    = "exec"
	ModeOpenAI  = "openai"
	ModeGoogle  = "google"
	ModeWhisper = "whisper"
	ModeRemote  = "remote"
)

const (
	RetentionEphemeral  = "ephemeral"
	RetentionSession    = "session"
	RetentionPersistent = "persistent"
)

func Default() Config {
	return Config{
		RuntimeName: "loqa-dictate",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			TraceExporter: "none",
			OTLPInsecure:  true,
		},
		Bus: BusConfig{
			Embedded:        false,
			Port:            4222,
			StoreDir:        "./data/nats",
			Servers:         []string{"nats://localhost:4222"},
			ConnectTimeout:  2000,
			StatusTimeoutMS: 2000,
			MaxPayloadBytes: 8 << 20,
			ClientName:      "loqa-dictate",
		},
		Journal: JournalConfig{
			Path:          "./data/dictate-journal.db",
			RetentionMode: RetentionEphemeral,
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		STT: STTConfig{
			Mode:          ModeRemote,
			DefaultLocale: "en-GB",
			OpenAI: OpenAIConfig{
				Model: "gpt-4o-mini-transcribe",
			},
			Google: GoogleConfig{
				Model: "default",
			},
			Mock: MockConfig{
				Ready: true,
			},
		},
		Worker: WorkerConfig{
			Enabled:             true,
			QueueGroup:          "stt-workers",
			MaxConcurrency:      2,
			HeartbeatIntervalMS: 5000,
			HeartbeatTimeoutMS:  15000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.TraceExporter, "LOQA_TELEMETRY_TRACE_EXPORTER")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.MetricsFile, "LOQA_TELEMETRY_METRICS_FILE")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Bus.StatusTimeoutMS, "LOQA_BUS_STATUS_TIMEOUT_MS")
	overrideInt(&cfg.Bus.MaxPayloadBytes, "LOQA_BUS_MAX_PAYLOAD_BYTES")
	overrideString(&cfg.Journal.Path, "LOQA_JOURNAL_PATH")
	overrideString(&cfg.Journal.RetentionMode, "LOQA_JOURNAL_RETENTION_MODE")
	overrideInt(&cfg.Journal.RetentionDays, "LOQA_JOURNAL_RETENTION_DAYS")
	overrideInt(&cfg.Journal.MaxSessions, "LOQA_JOURNAL_MAX_SESSIONS")
	overrideBool(&cfg.Journal.VacuumOnStart, "LOQA_JOURNAL_VACUUM_ON_START")
	overrideString(&cfg.STT.Mode, "LOQA_STT_MODE")
	overrideString(&cfg.STT.DefaultLocale, "LOQA_STT_DEFAULT_LOCALE")
	overrideStringSlice(&cfg.STT.Locales, "LOQA_STT_LOCALES")
	overrideString(&cfg.STT.Command, "LOQA_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "LOQA_STT_MODEL_PATH")
	overrideInt(&cfg.STT.Threads, "LOQA_STT_THREADS")
	overrideString(&cfg.STT.OpenAI.APIKey, "LOQA_STT_OPENAI_API_KEY")
	overrideString(&cfg.STT.OpenAI.Model, "LOQA_STT_OPENAI_MODEL")
	overrideString(&cfg.STT.OpenAI.BaseURL, "LOQA_STT_OPENAI_BASE_URL")
	overrideString(&cfg.STT.Google.APIKey, "LOQA_STT_GOOGLE_API_KEY")
	overrideString(&cfg.STT.Google.Model, "LOQA_STT_GOOGLE_MODEL")
	overrideString(&cfg.STT.Google.Endpoint, "LOQA_STT_GOOGLE_ENDPOINT")
	overrideBool(&cfg.Worker.Enabled, "LOQA_WORKER_ENABLED")
	overrideString(&cfg.Worker.ID, "LOQA_WORKER_ID")
	overrideString(&cfg.Worker.QueueGroup, "LOQA_WORKER_QUEUE_GROUP")
	overrideInt(&cfg.Worker.MaxConcurrency, "LOQA_WORKER_MAX_CONCURRENCY")
	overrideInt(&cfg.Worker.HeartbeatIntervalMS, "LOQA_WORKER_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Worker.HeartbeatTimeoutMS, "LOQA_WORKER_HEARTBEAT_TIMEOUT_MS")

	// Vendor variables are only consulted when nothing more specific is set.
	if cfg.STT.OpenAI.APIKey == "" {
		overrideString(&cfg.STT.OpenAI.APIKey, "OPENAI_API_KEY")
	}
	if cfg.STT.Google.APIKey == "" {
		overrideString(&cfg.STT.Google.APIKey, "GOOGLE_API_KEY")
	}
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch cfg.Telemetry.TraceExporter {
	case "", "none", "stdout":
	case "otlp":
		if strings.TrimSpace(cfg.Telemetry.OTLPEndpoint) == "" {
			return errors.New("telemetry.otlp_endpoint must be set when trace_exporter=otlp")
		}
	default:
		return errors.New("telemetry.trace_exporter must be one of none|stdout|otlp")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Bus.StatusTimeoutMS <= 0 {
		return errors.New("bus.status_timeout_ms must be positive")
	}
	switch cfg.Journal.RetentionMode {
	case RetentionEphemeral:
	case RetentionSession, RetentionPersistent:
		if cfg.Journal.Path == "" {
			return errors.New("journal.path must not be empty when retention is enabled")
		}
	default:
		return errors.New("journal.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Journal.RetentionDays < 0 {
		return errors.New("journal.retention_days must be >= 0")
	}
	switch cfg.STT.Mode {
	case ModeMock, ModeOpenAI, ModeGoogle, ModeRemote:
	case ModeExec:
		if cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
	case ModeWhisper:
		if cfg.STT.ModelPath == "" {
			return errors.New("stt.model_path must be set when mode=whisper")
		}
	default:
		return errors.New("stt.mode must be one of mock|exec|openai|google|whisper|remote")
	}
	if strings.TrimSpace(cfg.STT.DefaultLocale) == "" {
		return errors.New("stt.default_locale must not be empty")
	}
	if cfg.STT.Threads < 0 {
		return errors.New("stt.threads must be >= 0")
	}
	if cfg.Worker.Enabled && cfg.Worker.MaxConcurrency <= 0 {
		return errors.New("worker.max_concurrency must be >= 1")
	}
	if cfg.Worker.HeartbeatIntervalMS <= 0 {
		return errors.New("worker.heartbeat_interval_ms must be positive")
	}
	if cfg.Worker.HeartbeatTimeoutMS <= cfg.Worker.HeartbeatIntervalMS {
		return errors.New("worker.heartbeat_timeout_ms must exceed worker.heartbeat_interval_ms")
	}
	return nil
}

// Validate re-checks cfg after callers adjust it, for example from flags.
func (c Config) Validate() error {
	return validate(c)
}
