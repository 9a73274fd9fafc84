package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/scrolluniversity/doc-service/internal/collab/archive"
	"github.com/scrolluniversity/doc-service/internal/collab/handler"
	"github.com/scrolluniversity/doc-service/internal/collab/lock"
	"github.com/scrolluniversity/doc-service/internal/collab/service"
	"github.com/scrolluniversity/doc-service/internal/collab/store"
	"github.com/scrolluniversity/doc-service/internal/config"
	"github.com/scrolluniversity/doc-service/internal/database"
	"github.com/scrolluniversity/doc-service/internal/membership"
	"github.com/scrolluniversity/doc-service/internal/oidc"
	"github.com/scrolluniversity/doc-service/internal/presence"
	"github.com/scrolluniversity/doc-service/internal/storage"
	"github.com/scrolluniversity/doc-service/internal/tokens"
	"github.com/scrolluniversity/doc-service/pkg/logger"
	"github.com/scrolluniversity/doc-service/pkg/metrics"
	"github.com/scrolluniversity/doc-service/pkg/middleware"
)

var startTime = time.Now()

func main() {
	// logging is controlled with LOG_LEVEL env: debug|info|warn|error|fatal
	logger.Init(os.Getenv("LOG_LEVEL"))

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Infof("config loaded: mongo=%v redis=%v oidc=%v lock_timeout=%s",
		cfg.MongoDB.URI != "", cfg.Redis.Host != "", cfg.OIDC.Issuer != "", cfg.Collab.LockTimeout)

	r := gin.New()

	// Lightweight CORS middleware for dev/test: set common headers and respond
	// to OPTIONS. Production deployments should use a stricter policy.
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(200)
			return
		}
		c.Next()
	})

	r.Use(gin.Logger(), gin.Recovery())

	ctx := context.Background()

	// Connect to Redis early so the rate limiter and presence tracker can use it
	var redisClient *redis.Client
	if cfg.Redis.Host != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Host + ":" + cfg.Redis.Port, Password: cfg.Redis.Password})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warnf("failed to connect to Redis (%s:%s): %v", cfg.Redis.Host, cfg.Redis.Port, err)
			redisClient = nil
		} else {
			logger.Infof("connected to Redis at %s:%s", cfg.Redis.Host, cfg.Redis.Port)
		}
	}

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis && redisClient != nil {
			win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
			r.Use(middleware.RedisRateLimitMiddleware(redisClient, cfg.RateLimit.RPS, cfg.RateLimit.Burst, win))
		} else {
			r.Use(middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		}
	}

	// Token verification: OIDC when configured, otherwise a local HS256
	// verifier, otherwise (opt-in only) claims without signature checks.
	var verifier middleware.Verifier
	if cfg.OIDC.Issuer != "" && cfg.OIDC.ClientID != "" {
		ver, err := oidc.NewVerifier(ctx, strings.TrimRight(cfg.OIDC.Issuer, "/"), cfg.OIDC.ClientID)
		if err != nil {
			logger.Warnf("failed to initialize OIDC verifier: %v", err)
		} else {
			verifier = ver
		}
	}
	if verifier == nil && cfg.JWT.Secret != "" {
		verifier = tokens.NewHS256Verifier(cfg.JWT.Secret)
		logger.Infof("using HS256 token verifier")
	}
	if verifier == nil && cfg.OIDC.Insecure {
		logger.Warn("enabling insecure token verifier (claims are NOT signature-checked)")
		verifier = oidc.NewInsecureVerifier()
	}

	// Durable state: Mongo when configured, in-memory otherwise (dev/test)
	var (
		docStore store.Store
		members  membership.Service
	)
	if cfg.MongoDB.URI != "" {
		client := connectMongoWithRetry(ctx, cfg)
		if client != nil {
			defer func() { _ = client.Disconnect(ctx) }()
			db := client.Database(cfg.MongoDB.Database)
			docStore = store.NewMongoStore(db)
			members = membership.NewMongoService(db.Collection("group_members"))
			logger.Infof("using MongoDB-backed document store (db=%s)", cfg.MongoDB.Database)
		}
	}
	if docStore == nil {
		logger.Warnf("no MongoDB available; using in-memory document store")
		docStore = store.NewMemoryStore()
		members = membership.NewMemoryService()
	}

	var tracker *presence.Tracker
	if redisClient != nil {
		tracker = presence.NewTracker(redisClient, "editing:", cfg.Collab.LockTimeout)
	}

	locks := lock.NewManager(docStore, cfg.Collab.LockTimeout)
	svc := service.New(docStore, locks, members, tracker, service.Options{
		StorageRetries: cfg.Collab.StorageRetries,
	})

	// Edit history archiver: only active when MinIO is configured
	var archiver *archive.Archiver
	if minioCfg := storage.LoadMinIOConfig(); minioCfg.Endpoint != "" {
		objStore, err := storage.NewMinIOStorage(minioCfg)
		if err != nil {
			logger.Warnf("failed to initialize MinIO archive storage: %v", err)
		} else {
			archiver = archive.New(docStore, objStore, cfg.Collab.HistoryKeepVersions)
			logger.Infof("edit history archiver enabled (bucket=%s keep=%d)", minioCfg.Bucket, cfg.Collab.HistoryKeepVersions)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})

	r.GET("/ready", func(c *gin.Context) {
		ready := true
		deps := map[string]bool{"storage": docStore != nil}
		if cfg.Redis.Host != "" && cfg.RateLimit.UseRedis {
			deps["redis"] = redisClient != nil
			if redisClient == nil {
				ready = false
			}
		} else {
			deps["redis"] = true
		}
		deps["auth"] = verifier != nil || cfg.Server.Environment == "development"
		if !deps["auth"] {
			ready = false
		}
		status := http.StatusOK
		state := "ready"
		if !ready {
			status = http.StatusServiceUnavailable
			state = "not_ready"
		}
		c.JSON(status, gin.H{"status": state, "deps": deps, "uptime": time.Since(startTime).String()})
	})

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if verifier != nil {
		r.Use(middleware.AuthMiddleware(verifier))
	} else {
		logger.Warnf("no token verifier configured; requests authenticate via X-User-ID (development only)")
	}
	handler.RegisterDocumentRoutes(r, svc)

	// maintenance hook for the archiver; the sweeper covers locks
	if archiver != nil {
		r.POST("/internal/maintenance/documents/:id/archive", func(c *gin.Context) {
			doc, err := docStore.Get(c.Request.Context(), c.Param("id"))
			if err != nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			moved, err := archiver.ArchiveDocument(c.Request.Context(), doc.ID, doc.Version)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"archived": moved})
		})
	}

	// Background sweep: clears abandoned locks even for documents nobody
	// touches, bounding how long a crashed client can block its group.
	go func() {
		ticker := time.NewTicker(cfg.Collab.ReclaimInterval)
		defer ticker.Stop()
		for range ticker.C {
			sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			if _, err := svc.ReclaimExpiredLocks(sweepCtx); err != nil {
				logger.Warnf("lock reclaim sweep failed: %v", err)
			}
			cancel()
		}
	}()

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	logger.Infof("starting document service on %s", addr)
	if err := r.Run(addr); err != nil {
		logger.Fatalf("server failed: %v", err)
	}
}

// connectMongoWithRetry tolerates startup races against the database
// container; returns nil when every attempt fails.
func connectMongoWithRetry(ctx context.Context, cfg *config.Config) *mongo.Client {
	const maxAttempts = 5
	backoff := time.Second
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		client, err := database.ConnectMongo(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout)
		if err == nil {
			return client
		}
		logger.Warnf("attempt %d/%d: failed to connect to MongoDB: %v", attempt, maxAttempts, err)
		if attempt < maxAttempts {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return nil
}
