// internal/config/config.go
package conf

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "HURTOWNIA_"

type HTTPConfig struct {
	Addr            string `json:"addr"`
	ReadTimeoutSec  int    `json:"read_timeout_sec"`
	WriteTimeoutSec int    `json:"write_timeout_sec"`
}

type DBConfig struct {
	Driver string `json:"driver"` // sqlite | sqlite-nocgo | postgres | mysql
	DSN    string `json:"dsn"`
	LogSQL bool   `json:"log_sql"`
}

type AuthConfig struct {
	JWTSecret string `json:"jwt_secret"`
}

type WorkerConfig struct {
	Concurrency int `json:"concurrency"`
	PollSec     int `json:"poll_sec"`
	MaxAttempts int `json:"max_attempts"`
	BackoffSec  int `json:"backoff_sec"`
}

type ImporterConfig struct {
	FetchTimeoutSec  int   `json:"fetch_timeout_sec"`
	MaxDocumentBytes int64 `json:"max_document_bytes"`
	Async            bool  `json:"async"`
}

type NotifyConfig struct {
	Driver       string   `json:"driver"` // log | kafka
	KafkaBrokers []string `json:"kafka_brokers,omitempty"`
	KafkaTopic   string   `json:"kafka_topic,omitempty"`
}

type LogConfig struct {
	Console bool   `json:"console"`
	Level   string `json:"level"`
}

// Główny config aplikacji
type Config struct {
	HTTP     HTTPConfig     `json:"http"`
	DB       DBConfig       `json:"db"`
	Auth     AuthConfig     `json:"auth"`
	Worker   WorkerConfig   `json:"worker"`
	Importer ImporterConfig `json:"importer"`
	Notify   NotifyConfig   `json:"notify"`
	Log      LogConfig      `json:"log"`
}

// Default zwraca konfigurację startową; dsn sqlite leży obok configa.
// Sekretu JWT nie ma: LoadOrCreate losuje go przy pierwszym uruchomieniu.
func Default(dir string) *Config {
	return &Config{
		HTTP: HTTPConfig{Addr: ":8080", ReadTimeoutSec: 30, WriteTimeoutSec: 60},
		DB: DBConfig{
			Driver: "sqlite",
			DSN:    filepath.Join(dir, "hurtownia.db") + "?_foreign_keys=on&_busy_timeout=5000",
		},
		Worker:   WorkerConfig{Concurrency: 2, PollSec: 5, MaxAttempts: 5, BackoffSec: 10},
		Importer: ImporterConfig{FetchTimeoutSec: 30, MaxDocumentBytes: 32 << 20, Async: true},
		Notify:   NotifyConfig{Driver: "log", KafkaTopic: "orders.accepted"},
		Log:      LogConfig{Console: true, Level: "info"},
	}
}

func LoadOrCreate(path string) (*Config, bool, error) {
	// upewnij się, że katalog istnieje
	_ = os.MkdirAll(filepath.Dir(path), 0o755)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default(filepath.Dir(path))
			secret, err := randomSecret()
			if err != nil {
				return nil, false, fmt.Errorf("generate jwt secret: %w", err)
			}
			cfg.Auth.JWTSecret = secret
			if err := Save(path, cfg); err != nil {
				return nil, false, fmt.Errorf("save default config: %w", err)
			}
			return cfg, true, nil
		}
		return nil, false, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	// brakujące sekcje biorą wartości domyślne
	cfg := Default(filepath.Dir(path))
	if err := json.NewDecoder(f).Decode(cfg); err != nil {
		return nil, false, fmt.Errorf("parse config: %w", err)
	}
	return cfg, false, nil
}

func Save(path string, cfg *Config) error {
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}

// ApplyEnv wczytuje opcjonalne pliki .env i nadpisuje pola zmiennymi HURTOWNIA_*.
func (c *Config) ApplyEnv(envFiles ...string) error {
	for _, p := range envFiles {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}

	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = v
		}
	}
	str("HTTP_ADDR", &c.HTTP.Addr)
	str("DB_DRIVER", &c.DB.Driver)
	str("DB_DSN", &c.DB.DSN)
	str("JWT_SECRET", &c.Auth.JWTSecret)
	str("NOTIFY_DRIVER", &c.Notify.Driver)
	str("KAFKA_TOPIC", &c.Notify.KafkaTopic)
	str("LOG_LEVEL", &c.Log.Level)

	if v, ok := os.LookupEnv(envPrefix + "KAFKA_BROKERS"); ok {
		c.Notify.KafkaBrokers = splitList(v)
	}
	if v, ok := os.LookupEnv(envPrefix + "WORKER_CONCURRENCY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sWORKER_CONCURRENCY: %w", envPrefix, err)
		}
		c.Worker.Concurrency = n
	}
	if v, ok := os.LookupEnv(envPrefix + "IMPORTER_ASYNC"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sIMPORTER_ASYNC: %w", envPrefix, err)
		}
		c.Importer.Async = b
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.DB.Driver {
	case "sqlite", "sqlite-nocgo", "postgres", "mysql":
	default:
		errs = append(errs, fmt.Errorf("db.driver: unknown driver %q", c.DB.Driver))
	}
	if strings.TrimSpace(c.DB.DSN) == "" {
		errs = append(errs, errors.New("db.dsn: required"))
	}
	switch secret := strings.TrimSpace(c.Auth.JWTSecret); {
	case secret == "":
		errs = append(errs, errors.New("auth.jwt_secret: required"))
	case placeholderSecrets[strings.ToLower(secret)]:
		errs = append(errs, fmt.Errorf("auth.jwt_secret: placeholder %q is not allowed", secret))
	case len(secret) < minSecretLen:
		errs = append(errs, fmt.Errorf("auth.jwt_secret: at least %d characters", minSecretLen))
	}
	if c.Worker.Concurrency <= 0 {
		errs = append(errs, errors.New("worker.concurrency: must be > 0"))
	}
	if c.Worker.MaxAttempts <= 0 {
		errs = append(errs, errors.New("worker.max_attempts: must be > 0"))
	}
	if c.Importer.MaxDocumentBytes <= 0 {
		errs = append(errs, errors.New("importer.max_document_bytes: must be > 0"))
	}
	switch c.Notify.Driver {
	case "log":
	case "kafka":
		if len(c.Notify.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("notify.kafka_brokers: required for kafka driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("notify.driver: unknown driver %q", c.Notify.Driver))
	}
	return errors.Join(errs...)
}

func (c *Config) PollInterval() time.Duration {
	if c.Worker.PollSec <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Worker.PollSec) * time.Second
}

func (c *Config) FetchTimeout() time.Duration {
	if c.Importer.FetchTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Importer.FetchTimeoutSec) * time.Second
}

const minSecretLen = 16

var placeholderSecrets = map[string]bool{"change-me": true, "changeme": true, "secret": true}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
