package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the ReelQueue server, worker and watcher.
type Config struct {
	Server     ServerConfig     `yaml:"server"     envPrefix:"REELQUEUE_"`
	Database   DatabaseConfig   `yaml:"database"   envPrefix:"DATABASE_"`
	Redis      RedisConfig      `yaml:"redis"      envPrefix:"REDIS_"`
	Worker     WorkerConfig     `yaml:"worker"     envPrefix:"WORKER_"`
	Handler    HandlerConfig    `yaml:"handler"    envPrefix:"HANDLER_"`
	Reconciler ReconcilerConfig `yaml:"reconciler" envPrefix:"RECONCILER_"`
	Inference  InferenceConfig  `yaml:"inference"`
}

type ServerConfig struct {
	Port           int    `yaml:"port"           env:"PORT"            envDefault:"8080"`
	Env            string `yaml:"env"            env:"ENV"             envDefault:"development"`
	EmbeddedWorker bool   `yaml:"embeddedWorker" env:"EMBEDDED_WORKER"`
	// InitialAdminKey, when set, is ensured as an admin-scoped API key at startup.
	InitialAdminKey string `yaml:"initialAdminKey" env:"INITIAL_ADMIN_KEY"`
	RateLimitPerMin int    `yaml:"rateLimitPerMin" env:"RATE_LIMIT_PER_MIN" envDefault:"60"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "memory". The memory driver is for local development only.
	Driver          string        `yaml:"driver"          env:"DRIVER"            envDefault:"postgres"`
	URL             string        `yaml:"url"             env:"URL"`
	MaxOpenConns    int           `yaml:"maxOpenConns"    env:"MAX_OPEN_CONNS"    envDefault:"25"`
	MaxIdleConns    int           `yaml:"maxIdleConns"    env:"MAX_IDLE_CONNS"    envDefault:"5"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime" env:"CONN_MAX_LIFETIME" envDefault:"5m"`
	MigrationsDir   string        `yaml:"migrationsDir"   env:"MIGRATIONS_DIR"    envDefault:"migrations"`
}

type RedisConfig struct {
	URL string `yaml:"url" env:"URL"`
}

type WorkerConfig struct {
	BatchSize        int           `yaml:"batchSize"        env:"BATCH_SIZE"        envDefault:"5"`
	Interval         time.Duration `yaml:"interval"         env:"INTERVAL"          envDefault:"10s"`
	StaleAfter       time.Duration `yaml:"staleAfter"       env:"STALE_AFTER"       envDefault:"30m"`
	RecoveryInterval time.Duration `yaml:"recoveryInterval" env:"RECOVERY_INTERVAL" envDefault:"0s"`
}

// HandlerConfig bounds how long a job handler waits on an asynchronous provider.
type HandlerConfig struct {
	PollInterval     time.Duration `yaml:"pollInterval"     env:"POLL_INTERVAL"      envDefault:"5s"`
	MaxPollAttempts  int           `yaml:"maxPollAttempts"  env:"MAX_POLL_ATTEMPTS"  envDefault:"120"`
	MaxArtifactBytes int64         `yaml:"maxArtifactBytes" env:"MAX_ARTIFACT_BYTES" envDefault:"268435456"`
}

// Budget is the worst-case time a handler spends polling one job.
func (h HandlerConfig) Budget() time.Duration {
	return h.PollInterval * time.Duration(h.MaxPollAttempts)
}

type ReconcilerConfig struct {
	Interval  time.Duration `yaml:"interval"  env:"INTERVAL"   envDefault:"3s"`
	Window    time.Duration `yaml:"window"    env:"WINDOW"     envDefault:"15m"`
	StateFile string        `yaml:"stateFile" env:"STATE_FILE" envDefault:".reelqueue-watch.json"`
	APIURL    string        `yaml:"apiURL"    env:"API_URL"    envDefault:"http://localhost:8080"`
	APIKey    string        `yaml:"apiKey"    env:"API_KEY"`
}

// InferenceConfig routes each job kind to a provider and carries provider credentials.
type InferenceConfig struct {
	Routes map[string]RouteConfig `yaml:"routes"`
	// RouteOverrides is INFERENCE_ROUTES, e.g. "roto=mock:matte-v2,audio-clean=replicate:denoise".
	RouteOverrides map[string]string `yaml:"-" env:"INFERENCE_ROUTES" envKeyValSeparator:"="`
	Replicate ReplicateConfig        `yaml:"replicate" envPrefix:"REPLICATE_"`
	OpenAI    OpenAIConfig           `yaml:"openai"    envPrefix:"OPENAI_"`
	Timeout   time.Duration          `yaml:"timeout"   env:"INFERENCE_HTTP_TIMEOUT" envDefault:"30s"`
}

// RouteConfig names the provider and model serving one job kind.
type RouteConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type ReplicateConfig struct {
	BaseURL  string `yaml:"baseURL"  env:"BASE_URL" envDefault:"https://api.replicate.com"`
	APIToken string `yaml:"apiToken" env:"API_TOKEN"`
}

type OpenAIConfig struct {
	BaseURL string `yaml:"baseURL" env:"BASE_URL" envDefault:"https://api.openai.com"`
	APIKey  string `yaml:"apiKey"  env:"API_KEY"`
}

var validProviders = map[string]bool{
	"replicate": true,
	"openai":    true,
	"mock":      true,
}

// DefaultRoutes is used for any job kind the configuration does not route explicitly.
func DefaultRoutes() map[string]RouteConfig {
	return map[string]RouteConfig{
		"script-breakdown": {Provider: "openai", Model: "gpt-4o-mini"},
		"roto":             {Provider: "replicate", Model: "rotoscope/matte-anything"},
		"color-grade":      {Provider: "replicate", Model: "colorist/grade-transfer"},
		"mesh-generate":    {Provider: "replicate", Model: "meshlab/image-to-mesh"},
		"audio-clean":      {Provider: "replicate", Model: "audiofx/denoise"},
	}
}

// Load reads an optional YAML file named by REELQUEUE_CONFIG, then applies
// environment variables on top, and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg, err := parse()
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadReconciler is Load for the watch CLI. It skips database, worker and
// provider checks, which the CLI never uses.
func LoadReconciler() (*Config, error) {
	cfg, err := parse()
	if err != nil {
		return nil, err
	}
	if err := cfg.validateReconciler(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parse() (*Config, error) {
	cfg := &Config{}

	// Precedence: envDefault tags, then the YAML file, then variables that are
	// actually set. The last pass reads defaults from a tag no field carries so
	// unset variables leave file values alone.
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if path := os.Getenv("REELQUEUE_CONFIG"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
		if err := env.ParseWithOptions(cfg, env.Options{DefaultValueTagName: "-"}); err != nil {
			return nil, fmt.Errorf("parse environment: %w", err)
		}
	}

	routes := DefaultRoutes()
	for kind, r := range cfg.Inference.Routes {
		routes[kind] = r
	}
	for kind, spec := range cfg.Inference.RouteOverrides {
		provider, model, _ := strings.Cut(spec, ":")
		routes[kind] = RouteConfig{Provider: provider, Model: model}
	}
	cfg.Inference.Routes = routes
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("DATABASE_URL is required when DATABASE_DRIVER is postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be one of postgres, memory; got %q", c.Database.Driver)
	}
	if c.Redis.URL != "" && !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}
	if c.Worker.BatchSize <= 0 {
		return fmt.Errorf("WORKER_BATCH_SIZE must be positive, got %d", c.Worker.BatchSize)
	}
	if c.Worker.Interval <= 0 {
		return fmt.Errorf("WORKER_INTERVAL must be positive, got %s", c.Worker.Interval)
	}
	if err := c.validateReconciler(); err != nil {
		return err
	}
	if c.Worker.StaleAfter <= c.Handler.Budget() {
		return fmt.Errorf("WORKER_STALE_AFTER (%s) must exceed the handler polling budget (%s)",
			c.Worker.StaleAfter, c.Handler.Budget())
	}
	for kind, r := range c.Inference.Routes {
		if !validProviders[r.Provider] {
			return fmt.Errorf("inference route %q: provider must be one of replicate, openai, mock; got %q", kind, r.Provider)
		}
	}
	return nil
}

func (c *Config) validateReconciler() error {
	if c.Handler.PollInterval <= 0 || c.Handler.MaxPollAttempts <= 0 {
		return errors.New("HANDLER_POLL_INTERVAL and HANDLER_MAX_POLL_ATTEMPTS must be positive")
	}
	if c.Reconciler.Interval <= 0 {
		return fmt.Errorf("RECONCILER_INTERVAL must be positive, got %s", c.Reconciler.Interval)
	}
	// A watcher that gives up before the slowest legitimate handler finishes misses completions.
	if c.Reconciler.Window <= c.Handler.Budget() {
		return fmt.Errorf("RECONCILER_WINDOW (%s) must exceed the handler polling budget (%s)",
			c.Reconciler.Window, c.Handler.Budget())
	}
	return nil
}
