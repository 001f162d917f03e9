// Package services assembles the results pipeline from configuration. The
// HTTP server and resultsctl share it so both publish with the same lock,
// notifications and side effects.
package services

import (
	"context"
	"database/sql"
	"strings"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"scholars-backend/archive"
	"scholars-backend/certificates"
	"scholars-backend/config"
	"scholars-backend/database"
	"scholars-backend/locking"
	"scholars-backend/mail"
	"scholars-backend/models"
	"scholars-backend/results"
)

type Services struct {
	DB        *sql.DB
	Repo      results.Repository
	Users     models.AdminStore
	Validator *results.Validator
	Publisher *results.Publisher

	closers []func()
}

// Close waits for in-flight side effects and releases clients in reverse
// order of creation.
func (s *Services) Close() {
	if s.Publisher != nil {
		s.Publisher.Wait()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func (s *Services) onClose(fn func()) { s.closers = append(s.closers, fn) }

// Options toggles optional parts of the assembly.
type Options struct {
	// RequireDatabase fails instead of falling back to the in-memory store.
	RequireDatabase bool
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (_ *Services, err error) {
	s := &Services{}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	switch {
	case cfg.DatabaseURL != "":
		db, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		s.onClose(func() { _ = db.Close() })
		if err := database.EnsureSchema(ctx, db); err != nil {
			return nil, err
		}
		s.DB = db
		s.Repo = results.NewPostgresRepository(db)
		s.Users = models.NewPostgresAdminStore(db)
		logger.Info("connected to PostgreSQL")
	case opts.RequireDatabase:
		return nil, database.ErrNoDSN
	default:
		s.Repo = results.NewMemoryRepository()
		s.Users = bootstrapAdmins(cfg)
		logger.Warn("database_url not set, results are kept in memory only")
	}

	var locker locking.Locker = locking.NewLocal()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		s.onClose(func() { _ = client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, err
		}
		locker = locking.NewRedis(client, locking.WithTTL(cfg.LockTTL), locking.WithLogger(logger))
		logger.Info("using redis publish lock", zap.String("addr", cfg.RedisAddr))
	}

	var sender mail.Sender = mail.LogSender{Logger: logger}
	if cfg.SendGridAPIKey != "" {
		sender = mail.NewSendGridSender(cfg.SendGridAPIKey, cfg.EmailFrom, cfg.EmailFromName)
	}
	dispatcher := mail.NewDispatcher(sender, mail.NewRenderer(cfg.FrontendURL),
		mail.WithWorkers(cfg.NotifyWorkers),
		mail.WithQueueSize(cfg.NotifyQueueSize),
		mail.WithLogger(logger),
	)
	dispatcher.Start(context.WithoutCancel(ctx))
	s.onClose(func() { _ = dispatcher.Close() })

	gcpOpts := gcpOptions(cfg)

	var certs results.CertificateGenerator = certificates.LogGenerator{Logger: logger}
	if cfg.CertificateTopic != "" {
		client, err := pubsub.NewClient(ctx, cfg.GCPProject, gcpOpts...)
		if err != nil {
			return nil, err
		}
		s.onClose(func() { _ = client.Close() })
		gen, err := certificates.NewPubSubGenerator(ctx, client, cfg.CertificateTopic, logger)
		if err != nil {
			return nil, err
		}
		s.onClose(gen.Stop)
		certs = gen
	}

	var archiver results.Archiver = archive.Noop{}
	if cfg.ArchiveBucket != "" {
		client, err := storage.NewClient(ctx, gcpOpts...)
		if err != nil {
			return nil, err
		}
		s.onClose(func() { _ = client.Close() })
		archiver = archive.NewGCSArchive(client, cfg.ArchiveBucket)
	}

	s.Validator = results.NewValidator(
		results.WithCategories(cfg.CategoryList()),
		results.WithPreRegistration(cfg.AllowPreRegistration),
	)
	s.Publisher = results.NewPublisher(s.Repo, s.Validator,
		results.WithLocker(locker),
		results.WithNotifier(dispatcher),
		results.WithCertificateGenerator(certs),
		results.WithArchiver(archiver),
		results.WithLogger(logger),
		results.WithMaxAttempts(cfg.PublishMaxAttempts),
		results.WithCertificatePercentile(decimal.NewFromFloat(cfg.CertificatePercentile)),
	)
	return s, nil
}

func bootstrapAdmins(cfg *config.Config) *models.MemoryAdminStore {
	var admins []models.AdminUser
	if cfg.AdminEmail != "" && cfg.AdminPasswordHash != "" {
		admins = append(admins, models.AdminUser{
			ID:           "bootstrap",
			Email:        strings.TrimSpace(cfg.AdminEmail),
			PasswordHash: cfg.AdminPasswordHash,
			Role:         "admin",
		})
	}
	return models.NewMemoryAdminStore(admins...)
}

func gcpOptions(cfg *config.Config) []option.ClientOption {
	if strings.TrimSpace(cfg.GCPCredentialsJSON) == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsJSON([]byte(cfg.GCPCredentialsJSON))}
}
