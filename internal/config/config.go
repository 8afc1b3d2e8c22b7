package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

const envPrefix = "PIXELGATE"

type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Local     LocalConfig     `mapstructure:"local"`
	OSS       OSSConfig       `mapstructure:"oss"`
	Qiniu     QiniuConfig     `mapstructure:"qiniu"`
	Metadata  MetadataConfig  `mapstructure:"metadata"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Mirror    MirrorConfig    `mapstructure:"mirror"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Database  DatabaseConfig  `mapstructure:"database"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Log       LogConfig       `mapstructure:"log"`
}

type APIConfig struct {
	Addr string `mapstructure:"addr"`
}

type GatewayConfig struct {
	Default string `mapstructure:"default"`
}

type LocalConfig struct {
	Root      string `mapstructure:"root"`
	PublicURL string `mapstructure:"public_url"`
}

type OSSConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	PublicURL string `mapstructure:"public_url"`
}

func (c OSSConfig) Enabled() bool {
	return c.Endpoint != "" && c.Bucket != ""
}

// QiniuConfig points at the S3-compatible endpoint of a Kodo bucket.
type QiniuConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	PublicURL string `mapstructure:"public_url"`
}

func (c QiniuConfig) Enabled() bool {
	return c.Endpoint != "" && c.Bucket != ""
}

type MetadataConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	VerifyTLS bool          `mapstructure:"verify_tls"`
}

type QueueConfig struct {
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	Name          string `mapstructure:"name"`
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency   int    `mapstructure:"concurrency"`
	MaxActiveJobs int    `mapstructure:"max_active_jobs"`
	MetricsAddr   string `mapstructure:"metrics_addr"`
}

// MirrorConfig is the optional bucket rendered variants are copied to.
type MirrorConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

func (c MirrorConfig) Enabled() bool {
	return c.Endpoint != "" && c.Bucket != ""
}

type WebhookConfig struct {
	SigningSecret  string        `mapstructure:"signing_secret"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RateLimitConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Requests      int           `mapstructure:"requests"`
	Window        time.Duration `mapstructure:"window"`
	SubjectHeader string        `mapstructure:"subject_header"`
}

type TracingConfig struct {
	Exporter     string `mapstructure:"exporter"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads defaults, then pixelgate.yaml from the working directory or the
// given path, then PIXELGATE_* environment variables.
func Load(path string) (Config, error) {
	return LoadFs(afero.NewOsFs(), path)
}

func LoadFs(fs afero.Fs, path string) (Config, error) {
	v := viper.New()
	v.SetFs(fs)
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("pixelgate")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	defaultWorkerSlots := max(1, runtime.NumCPU()/2)

	defaults := map[string]any{
		"api.addr": ":8080",

		"gateway.default": "local",

		"local.root":       "./storage/public",
		"local.public_url": "/storage",

		"oss.endpoint":   "",
		"oss.access_key": "",
		"oss.secret_key": "",
		"oss.bucket":     "",
		"oss.public_url": "",

		"qiniu.endpoint":   "",
		"qiniu.access_key": "",
		"qiniu.secret_key": "",
		"qiniu.bucket":     "",
		"qiniu.use_ssl":    true,
		"qiniu.public_url": "",

		"metadata.timeout":    2 * time.Second,
		"metadata.verify_tls": false,

		"queue.redis_addr":     "localhost:6379",
		"queue.redis_password": "",
		"queue.redis_db":       0,
		"queue.name":           "default",

		"worker.concurrency":     max(2, runtime.NumCPU()),
		"worker.max_active_jobs": defaultWorkerSlots,
		"worker.metrics_addr":    ":9091",

		"mirror.endpoint":   "",
		"mirror.access_key": "",
		"mirror.secret_key": "",
		"mirror.bucket":     "",
		"mirror.use_ssl":    false,

		"webhook.signing_secret":  "",
		"webhook.timeout":         10 * time.Second,
		"webhook.max_attempts":    3,
		"webhook.initial_backoff": time.Second,
		"webhook.max_backoff":     10 * time.Second,

		"database.dsn": "",

		"rate_limit.enabled":        false,
		"rate_limit.requests":       60,
		"rate_limit.window":         time.Minute,
		"rate_limit.subject_header": "X-User-ID",

		"tracing.exporter":      "none",
		"tracing.otlp_endpoint": "",
		"tracing.otlp_insecure": true,

		"log.level":  "info",
		"log.format": "json",
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}
