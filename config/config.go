// Package config defines service configuration and how it is loaded.
package config

import (
	"strings"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// AllowedOrigins is the comma separated CORS allow list.
	AllowedOrigins string `koanf:"allowed_origins"`

	// BodyLimit caps request bodies, uploads included, in bytes.
	BodyLimit int `koanf:"body_limit"`

	DatabaseURL string `koanf:"database_url"`
	JWTSecret   string `koanf:"jwt_secret"`

	// AdminEmail and AdminPasswordHash seed a single admin account when no
	// database is configured.
	AdminEmail        string `koanf:"admin_email"`
	AdminPasswordHash string `koanf:"admin_password_hash"`

	SendGridAPIKey string `koanf:"sendgrid_api_key"`
	EmailFrom      string `koanf:"email_from"`
	EmailFromName  string `koanf:"email_from_name"`
	FrontendURL    string `koanf:"frontend_url"`

	// NotifyWorkers and NotifyQueueSize size the notification pool.
	NotifyWorkers   int `koanf:"notify_workers"`
	NotifyQueueSize int `koanf:"notify_queue_size"`

	// RedisAddr enables the distributed publish lock when set.
	RedisAddr     string        `koanf:"redis_addr"`
	RedisPassword string        `koanf:"redis_password"`
	LockTTL       time.Duration `koanf:"lock_ttl"`

	GCPProject string `koanf:"gcp_project"`
	// GCPCredentialsJSON overrides application default credentials.
	GCPCredentialsJSON string `koanf:"gcp_credentials_json"`
	CertificateTopic   string `koanf:"certificate_topic"`
	ArchiveBucket      string `koanf:"archive_bucket"`

	// CertificatePercentile is the lowest percentile that earns a certificate.
	CertificatePercentile float64 `koanf:"certificate_percentile"`

	PublishMaxAttempts   int    `koanf:"publish_max_attempts"`
	AllowPreRegistration bool   `koanf:"allow_pre_registration"`
	Categories           string `koanf:"categories"`

	// UploadTTL bounds how long an unpublished upload is kept in memory.
	UploadTTL time.Duration `koanf:"upload_ttl"`
}

func New() *Config {
	return &Config{
		LogLevel:              "info",
		Addr:                  ":8080",
		AllowedOrigins:        "http://localhost:5173",
		BodyLimit:             32 << 20,
		EmailFrom:             "results@scholarscambridge.org",
		EmailFromName:         "Scholars Cambridge Competition",
		FrontendURL:           "http://localhost:5173",
		NotifyWorkers:         4,
		NotifyQueueSize:       10_000,
		LockTTL:               30 * time.Second,
		CertificatePercentile: 90,
		PublishMaxAttempts:    3,
		Categories:            "junior,intermediate,senior",
		UploadTTL:             2 * time.Hour,
	}
}

// CategoryList splits Categories into lower-case names.
func (c *Config) CategoryList() []string {
	var out []string
	for _, s := range strings.Split(c.Categories, ",") {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
