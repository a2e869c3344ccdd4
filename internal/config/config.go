package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Ledger load failure policies.
const (
	// LedgerPolicyAbort aborts the run when the exemption set cannot be loaded.
	LedgerPolicyAbort = "abort"
	// LedgerPolicyEmpty continues with an empty exemption set and logs a warning.
	LedgerPolicyEmpty = "empty"
)

// Object storage backends.
const (
	StorageBackendMinIO = "minio"
	StorageBackendS3    = "s3"
)

// Source database drivers.
const (
	SourceDriverPgx   = "pgx"
	SourceDriverMySQL = "mysql"
)

// DatabaseConfig holds the remote applicant database connection settings.
type DatabaseConfig struct {
	Driver             string
	Host               string
	Port               string
	User               string
	Password           string
	Name               string
	SSLMode            string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetimeSec int
	QueryTimeout       time.Duration
}

// LedgerConfig holds the local exemption ledger settings.
type LedgerConfig struct {
	Path string
	// LoadFailurePolicy is LedgerPolicyAbort or LedgerPolicyEmpty.
	LoadFailurePolicy string
}

// MinIOConfig holds object storage settings for MinIO.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// S3Config holds object storage settings for AWS S3.
// Empty keys fall back to the default AWS credential chain.
type S3Config struct {
	Region         string
	AccessKey      string
	SecretKey      string
	Endpoint       string
	ForcePathStyle bool
}

// StorageConfig selects and configures the object store holding the resumes.
type StorageConfig struct {
	Backend     string
	Bucket      string
	HTTPTimeout time.Duration
	MinIO       MinIOConfig
	S3          S3Config
}

// ArtifactConfig holds the local artifact directory settings.
type ArtifactConfig struct {
	Dir string
}

// SyncConfig tunes the per-record download behaviour.
type SyncConfig struct {
	DownloadTimeout     time.Duration
	DownloadMaxAttempts int
	RetryInitialBackoff time.Duration
}

// MailConfig holds the SMTP transport and the fixed notification message fields.
type MailConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	TLSPolicy string
	Timeout   time.Duration
	From      string
	FromName  string
	To        string
	ToName    string
	ReplyTo   string
	Subject   string
	Body      string
	// MarkSent flips the ledger sent flag of attached artifacts after a successful dispatch.
	MarkSent bool
}

// MetricsConfig holds the Prometheus Pushgateway settings used by one-shot commands.
type MetricsConfig struct {
	PushgatewayURL string
	Job            string
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string
	Format string
}

// AppConfig is the centralized configuration struct for the application.
// It is populated from environment variables. Sensitive values are not hardcoded.
type AppConfig struct {
	Port      string
	Source    DatabaseConfig
	Ledger    LedgerConfig
	Storage   StorageConfig
	Artifacts ArtifactConfig
	Sync      SyncConfig
	Mail      MailConfig
	Metrics   MetricsConfig
	Log       LogConfig
}

// Load reads configuration from environment variables.
// A .env file can be auto-loaded by importing: _ "github.com/joho/godotenv/autoload"
// This function does not require a .env file; real environment variables take precedence.
func Load() *AppConfig {
	return &AppConfig{
		Port: getEnv("PORT", "8080"),
		Source: DatabaseConfig{
			Driver:             getEnv("SOURCE_DB_DRIVER", SourceDriverPgx),
			Host:               getEnv("SOURCE_DB_HOST", ""),
			Port:               getEnv("SOURCE_DB_PORT", ""),
			User:               getEnv("SOURCE_DB_USER", ""),
			Password:           getEnv("SOURCE_DB_PASSWORD", ""),
			Name:               getEnv("SOURCE_DB_NAME", ""),
			SSLMode:            getEnv("SOURCE_DB_SSLMODE", "disable"),
			MaxOpenConns:       getEnvInt("SOURCE_DB_MAX_OPEN_CONNS", 4),
			MaxIdleConns:       getEnvInt("SOURCE_DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifetimeSec: getEnvInt("SOURCE_DB_CONN_MAX_LIFETIME_SEC", 300),
			QueryTimeout:       getEnvDuration("SOURCE_QUERY_TIMEOUT", 30*time.Second),
		},
		Ledger: LedgerConfig{
			Path:              getEnv("LEDGER_PATH", "db/ledger.db"),
			LoadFailurePolicy: getEnv("LEDGER_LOAD_FAILURE_POLICY", LedgerPolicyAbort),
		},
		Storage: StorageConfig{
			Backend:     getEnv("STORAGE_BACKEND", StorageBackendMinIO),
			Bucket:      getEnv("STORAGE_BUCKET", ""),
			HTTPTimeout: getEnvDuration("STORAGE_HTTP_TIMEOUT", 2*time.Minute),
			MinIO: MinIOConfig{
				Endpoint:  getEnv("MINIO_ENDPOINT", ""),
				AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
				SecretKey: getEnv("MINIO_SECRET_KEY", ""),
				UseSSL:    getEnvBool("MINIO_USE_SSL", false),
			},
			S3: S3Config{
				Region:         getEnv("AWS_DEFAULT_REGION", ""),
				AccessKey:      getEnv("AWS_ACCESS_KEY_ID", ""),
				SecretKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
				Endpoint:       getEnv("AWS_ENDPOINT_URL", ""),
				ForcePathStyle: getEnvBool("AWS_S3_FORCE_PATH_STYLE", false),
			},
		},
		Artifacts: ArtifactConfig{
			Dir: getEnv("ARTIFACT_DIR", "tmp"),
		},
		Sync: SyncConfig{
			DownloadTimeout:     getEnvDuration("DOWNLOAD_TIMEOUT", time.Minute),
			DownloadMaxAttempts: getEnvInt("DOWNLOAD_MAX_ATTEMPTS", 3),
			RetryInitialBackoff: getEnvDuration("DOWNLOAD_RETRY_BACKOFF", 500*time.Millisecond),
		},
		Mail: MailConfig{
			Host:      getEnv("MAIL_HOST", ""),
			Port:      getEnvInt("MAIL_PORT", 587),
			Username:  getEnv("MAIL_USERNAME", ""),
			Password:  getEnv("MAIL_PASSWORD", ""),
			TLSPolicy: getEnv("MAIL_TLS_POLICY", "mandatory"),
			Timeout:   getEnvDuration("MAIL_TIMEOUT", 30*time.Second),
			From:      getEnv("MAIL_FROM", ""),
			FromName:  getEnv("MAIL_FROM_NAME", "Mailer"),
			To:        getEnv("MAIL_TO", ""),
			ToName:    getEnv("MAIL_TO_NAME", ""),
			ReplyTo:   getEnv("MAIL_REPLY_TO", ""),
			Subject:   getEnv("MAIL_SUBJECT", "Resumes of the new applicants"),
			Body:      getEnv("MAIL_BODY", "The attached files are the resumes of the new applicants"),
			MarkSent:  getEnvBool("DISPATCH_MARK_SENT", false),
		},
		Metrics: MetricsConfig{
			PushgatewayURL: getEnv("PUSHGATEWAY_URL", ""),
			Job:            getEnv("PUSHGATEWAY_JOB", "resumesync"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

// ValidateSync reports the settings missing for a sync run.
func (c *AppConfig) ValidateSync() error {
	var errs []error
	switch c.Ledger.LoadFailurePolicy {
	case LedgerPolicyAbort, LedgerPolicyEmpty:
	default:
		errs = append(errs, fmt.Errorf("LEDGER_LOAD_FAILURE_POLICY must be %q or %q", LedgerPolicyAbort, LedgerPolicyEmpty))
	}
	switch c.Source.Driver {
	case SourceDriverPgx, SourceDriverMySQL:
	default:
		errs = append(errs, fmt.Errorf("unsupported SOURCE_DB_DRIVER %q", c.Source.Driver))
	}
	switch c.Storage.Backend {
	case StorageBackendMinIO, StorageBackendS3:
	default:
		errs = append(errs, fmt.Errorf("unsupported STORAGE_BACKEND %q", c.Storage.Backend))
	}
	if c.Storage.Bucket == "" {
		errs = append(errs, errors.New("STORAGE_BUCKET is required"))
	}
	if c.Ledger.Path == "" {
		errs = append(errs, errors.New("LEDGER_PATH is required"))
	}
	if c.Artifacts.Dir == "" {
		errs = append(errs, errors.New("ARTIFACT_DIR is required"))
	}
	if c.Sync.DownloadMaxAttempts < 1 {
		errs = append(errs, errors.New("DOWNLOAD_MAX_ATTEMPTS must be at least 1"))
	}
	return errors.Join(errs...)
}

// ValidateDispatch reports the settings missing for a dispatch run.
func (c *AppConfig) ValidateDispatch() error {
	var errs []error
	if c.Mail.Host == "" {
		errs = append(errs, errors.New("MAIL_HOST is required"))
	}
	if c.Mail.From == "" {
		errs = append(errs, errors.New("MAIL_FROM is required"))
	}
	if c.Mail.To == "" {
		errs = append(errs, errors.New("MAIL_TO is required"))
	}
	if c.Artifacts.Dir == "" {
		errs = append(errs, errors.New("ARTIFACT_DIR is required"))
	}
	return errors.Join(errs...)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}
