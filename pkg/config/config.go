package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "CLICKSYNC"

	AppEnvDev  = "development"
	AppEnvProd = "production"

	EnvAppEnv = "CLICKSYNC_APP_ENV"
	EnvPort   = "CLICKSYNC_APP_PORT"
	EnvDBDSN  = "CLICKSYNC_DB_DSN"
	EnvDBHost = "CLICKSYNC_DB_HOST"
	EnvDBUser = "CLICKSYNC_DB_USER"
	EnvDBName = "CLICKSYNC_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	GCS          GCSConfig
	BigQuery     BigQueryConfig
	PubSub       PubSubConfig
	Secrets      SecretsConfig
	Ads          AdsConfig
	Sync         SyncConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CLICKSYNC_APP_ENV" required:"true"`
	Port         string `envconfig:"CLICKSYNC_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"CLICKSYNC_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CLICKSYNC_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CLICKSYNC_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CLICKSYNC_DB_DSN"`
	Driver string `envconfig:"CLICKSYNC_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CLICKSYNC_DB_HOST"`
	LegacyPort     int    `envconfig:"CLICKSYNC_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CLICKSYNC_DB_USER"`
	LegacyPassword string `envconfig:"CLICKSYNC_DB_PASSWORD"`
	LegacyName     string `envconfig:"CLICKSYNC_DB_NAME"`
	LegacySSLMode  string `envconfig:"CLICKSYNC_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CLICKSYNC_DB_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `envconfig:"CLICKSYNC_DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"CLICKSYNC_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CLICKSYNC_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CLICKSYNC_REDIS_URL"`
	Address      string        `envconfig:"CLICKSYNC_REDIS_ADDR"`
	Password     string        `envconfig:"CLICKSYNC_REDIS_PASSWORD"`
	DB           int           `envconfig:"CLICKSYNC_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CLICKSYNC_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CLICKSYNC_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CLICKSYNC_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CLICKSYNC_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CLICKSYNC_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"CLICKSYNC_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"CLICKSYNC_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"CLICKSYNC_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"CLICKSYNC_GOOGLE_APPLICATION_CREDENTIALS"`
}

type GCSConfig struct {
	BucketName string `envconfig:"CLICKSYNC_GCS_BUCKET_NAME" required:"true"`
}

type BigQueryConfig struct {
	Dataset           string `envconfig:"CLICKSYNC_BIGQUERY_DATASET" default:"google_ads_click_parameters"`
	ClickReportsTable string `envconfig:"CLICKSYNC_BIGQUERY_CLICK_REPORTS_TABLE" default:"click_performance_reports"`
}

type PubSubConfig struct {
	RunEventsTopic string `envconfig:"CLICKSYNC_PUBSUB_RUN_EVENTS_TOPIC"`
}

type SecretsConfig struct {
	AdsCredentialSecret string `envconfig:"CLICKSYNC_ADS_CREDENTIAL_SECRET" required:"true"`
}

type AdsConfig struct {
	Endpoint   string `envconfig:"CLICKSYNC_ADS_ENDPOINT" default:"https://googleads.googleapis.com"`
	APIVersion string `envconfig:"CLICKSYNC_ADS_API_VERSION" default:"v17"`

	// LoginCustomerID is used when the stored credential bundle does not
	// carry one (manager accounts created before the field existed).
	LoginCustomerID string `envconfig:"CLICKSYNC_ADS_LOGIN_CUSTOMER_ID"`
}

type SyncConfig struct {
	LookbackMinutes  int           `envconfig:"CLICKSYNC_SYNC_LOOKBACK_MINUTES" default:"30"`
	ArchivalPrefix   string        `envconfig:"CLICKSYNC_SYNC_ARCHIVAL_PREFIX" default:"click_performance/"`
	WatermarkBackend string        `envconfig:"CLICKSYNC_SYNC_WATERMARK_BACKEND" default:"postgres"`
	PointerObjectKey string        `envconfig:"CLICKSYNC_SYNC_POINTER_OBJECT_KEY" default:"click_performance/_last_run.json"`
	RunInterval      time.Duration `envconfig:"CLICKSYNC_SYNC_RUN_INTERVAL" default:"30m"`
	FallbackReload   bool          `envconfig:"CLICKSYNC_SYNC_FALLBACK_RELOAD" default:"true"`
}

// Watermark backend identifiers accepted by SyncConfig.WatermarkBackend.
const (
	WatermarkBackendPostgres = "postgres"
	WatermarkBackendGCS      = "gcs"
	WatermarkBackendNone     = "none"
)

// Lookback returns the window length used when no watermark exists yet.
func (s SyncConfig) Lookback() time.Duration {
	if s.LookbackMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(s.LookbackMinutes) * time.Minute
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
