package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"session-service/internal/auth"
	"session-service/internal/bucketing"
	"session-service/internal/client"
	"session-service/internal/config"
	"session-service/internal/encryption"
	"session-service/internal/events"
	"session-service/internal/handler"
	"session-service/internal/hashing"
	"session-service/internal/notifier"
	"session-service/internal/ratelimit"
	redisrepo "session-service/internal/repository/redis"
	"session-service/internal/repository/scylla"
	"session-service/internal/session"
	"session-service/internal/tls"
	"session-service/internal/token"
	"session-service/internal/util"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/go-chi/chi/v5"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.Manager
	bucketingManager  *bucketing.BucketingManager

	// Repositories
	userRepository    *scylla.UserRepository
	sessionRepository *scylla.SessionRepository
	codeCache         *redisrepo.CodeCache

	// Domain services
	tokenService   *token.Service
	sessionManager *session.Manager
	validator      *session.Validator
	sweeper        *session.Sweeper
	recorder       *events.Recorder
	mailer         notifier.Mailer
	authService    *auth.Service
	limiter        *ratelimit.Limiter

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		tlsConfig := &tls.TLSConfig{
			EnableTLS:   cfg.Server.EnableTLS,
			AutoCert:    cfg.Server.AutoCert,
			Domain:      cfg.Server.Domain,
			CertFile:    cfg.Server.CertFile,
			KeyFile:     cfg.Server.KeyFile,
			AutoCertDir: cfg.Server.AutoCertDir,
			Email:       cfg.Server.Email,
			Environment: cfg.Environment,
		}
		factory.tlsManager = tls.NewTLSManager(tlsConfig)
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	factory.initializeManagers()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Redis
	if redisClient, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = redisClient
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			util.Info("Redis client initialized and healthy")
		}
	}

	// ScyllaDB
	if scyllaClient, err := scylla.NewScyllaClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = scyllaClient
		if err := f.scyllaClient.HealthCheck(); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		} else {
			util.Info("ScyllaDB client initialized and healthy")
		}
	}

	// Kafka carries verification emails and the event stream. Both degrade
	// to in-process fallbacks, so a broker outage never blocks startup.
	if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
		util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
		util.Info("Kafka producer initialized")
	}

	// Elasticsearch
	if esClient, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
	} else {
		f.esClient = esClient
		if err := f.esClient.HealthCheck(); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch health check: %w", err))
		} else {
			util.Info("Elasticsearch client initialized and healthy")
		}
	}

	// ClickHouse
	if chClient, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
	} else {
		f.clickhouseClient = chClient
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse health check: %w", err))
		} else {
			util.Info("ClickHouse client initialized and healthy")
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializeManagers initializes hashing, encryption, and bucketing managers
func (f *Factory) initializeManagers() {
	f.hasher = hashing.NewHasher(f.config)

	var kmsClient *kms.Client
	if f.config.KMS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(f.config.KMS.Region),
		)
		if err != nil {
			util.Warn("AWS config load failed - falling back to local data keys", util.ErrorField(err))
		} else {
			kmsClient = kms.NewFromConfig(awsCfg)
		}
	}

	f.encryptionManager = encryption.NewManager(f.config, kmsClient)
	f.bucketingManager = bucketing.NewBucketingManager(f.config)

	util.Info("Managers initialized successfully",
		util.Bool("hashing_initialized", f.hasher != nil),
		util.Bool("encryption_initialized", f.encryptionManager != nil),
		util.Bool("bucketing_initialized", f.bucketingManager != nil),
	)
}

// ==============================
// Repositories
// ==============================

func (f *Factory) UserRepository() *scylla.UserRepository {
	if f.userRepository == nil {
		f.userRepository = scylla.NewUserRepository(f.ScyllaClient(), f.BucketingManager())
	}
	return f.userRepository
}

func (f *Factory) SessionRepository() *scylla.SessionRepository {
	if f.sessionRepository == nil {
		f.sessionRepository = scylla.NewSessionRepository(f.ScyllaClient(), f.BucketingManager())
	}
	return f.sessionRepository
}

func (f *Factory) CodeCache() *redisrepo.CodeCache {
	if f.codeCache == nil {
		f.codeCache = redisrepo.NewCodeCache(f.redisClient)
	}
	return f.codeCache
}

// ==============================
// Domain services
// ==============================

func (f *Factory) TokenService() *token.Service {
	if f.tokenService == nil {
		f.tokenService = token.NewService(f.config.Token.Secret, f.config.Token.TTL)
	}
	return f.tokenService
}

func (f *Factory) SessionManager() *session.Manager {
	if f.sessionManager == nil {
		f.sessionManager = session.NewManager(f.SessionRepository(), f.UserRepository())
	}
	return f.sessionManager
}

func (f *Factory) Validator() *session.Validator {
	if f.validator == nil {
		f.validator = session.NewValidator(
			f.UserRepository(),
			f.SessionRepository(),
			f.config.Session.HardWindow,
		)
	}
	return f.validator
}

func (f *Factory) Sweeper() *session.Sweeper {
	if f.sweeper == nil {
		f.sweeper = session.NewSweeper(f.SessionRepository(), f.UserRepository(), f.config.Session)
	}
	return f.sweeper
}

func (f *Factory) EventRecorder() *events.Recorder {
	if f.recorder == nil {
		f.recorder = events.NewRecorder(
			f.kafkaProducer,
			f.esClient,
			f.clickhouseClient,
			f.BucketingManager(),
			f.config.Kafka.EventsTopic,
			f.config.Elasticsearch.EventsIndex,
		)
	}
	return f.recorder
}

func (f *Factory) Mailer() notifier.Mailer {
	if f.mailer == nil {
		if f.kafkaProducer != nil {
			f.mailer = notifier.NewKafkaMailer(f.kafkaProducer, f.config.Kafka.EmailTopic)
		} else {
			f.mailer = notifier.NoopMailer{}
		}
	}
	return f.mailer
}

func (f *Factory) AuthService() *auth.Service {
	if f.authService == nil {
		f.authService = auth.NewService(
			f.UserRepository(),
			f.CodeCache(),
			f.SessionManager(),
			f.TokenService(),
			f.Hasher(),
			f.EncryptionManager(),
			f.Mailer(),
			f.EventRecorder(),
		)
	}
	return f.authService
}

func (f *Factory) RateLimiter() *ratelimit.Limiter {
	if f.limiter == nil {
		var store ratelimit.Store
		if f.config.RateLimit.UseRedis && f.redisClient != nil {
			store = ratelimit.NewRedisStore(f.redisClient)
		} else {
			store = ratelimit.NewMemoryStore()
		}
		f.limiter = ratelimit.NewLimiter(store, f.config.RateLimit.Requests, f.config.RateLimit.Window)
	}
	return f.limiter
}

// Router assembles the full HTTP surface from the wired handlers.
func (f *Factory) Router() chi.Router {
	authHandler := handler.NewAuthHandler(f.AuthService(), util.Get())
	sessionHandler := handler.NewSessionHandler(f.SessionManager(), f.config.Session, util.Get())

	healthCheck := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if !f.IsHealthy(ctx) {
			return fmt.Errorf("dependencies unhealthy")
		}
		return nil
	}

	return handler.NewRouter(
		f.config,
		authHandler,
		sessionHandler,
		f.TokenService(),
		f.Validator(),
		f.RateLimiter(),
		healthCheck,
		util.Get(),
	)
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	} else {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(); err != nil {
			healthErrors["scylla"] = err
		}
	} else {
		healthErrors["scylla"] = fmt.Errorf("scylla client not initialized")
	}

	if f.esClient != nil {
		if err := f.esClient.HealthCheck(); err != nil {
			healthErrors["elasticsearch"] = err
		}
	} else {
		healthErrors["elasticsearch"] = fmt.Errorf("elasticsearch client not initialized")
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	} else {
		healthErrors["clickhouse"] = fmt.Errorf("clickhouse client not initialized")
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	if f.hasher == nil {
		healthErrors["hasher"] = fmt.Errorf("hasher not initialized")
	}
	if f.encryptionManager == nil {
		healthErrors["encryption"] = fmt.Errorf("encryption manager not initialized")
	}
	if f.bucketingManager == nil {
		healthErrors["bucketing"] = fmt.Errorf("bucketing manager not initialized")
	}

	return healthErrors
}

// IsHealthy reports whether every required dependency answers its health
// check. Kafka is advisory only.
func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.sweeper != nil {
			f.sweeper.Stop()
			util.Info("Session sweeper stopped")
		}

		if f.recorder != nil {
			f.recorder.Close()
			util.Info("Event recorder drained")
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
			util.Info("Elasticsearch client closed")
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
			util.Info("Encryption manager cache cleared")
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) ScyllaClient() *scylla.ScyllaClient {
	return f.scyllaClient
}

func (f *Factory) Hasher() *hashing.Hasher {
	return f.hasher
}

func (f *Factory) EncryptionManager() *encryption.Manager {
	return f.encryptionManager
}

func (f *Factory) BucketingManager() *bucketing.BucketingManager {
	return f.bucketingManager
}
