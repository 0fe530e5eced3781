// Package http is the catalog's gin surface. Handlers translate the
// wire shapes into usecase requests; every business rule lives below.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Fedosin/glare/internal/config"
	"github.com/Fedosin/glare/internal/domain"
	"github.com/Fedosin/glare/internal/infra/blobstore"
	"github.com/Fedosin/glare/internal/infra/cachemem"
	"github.com/Fedosin/glare/internal/infra/memstore"
	"github.com/Fedosin/glare/internal/infra/policyopa"
	"github.com/Fedosin/glare/internal/infra/ratelimit"
	"github.com/Fedosin/glare/internal/registry"
	"github.com/Fedosin/glare/internal/usecase"
)

type Server struct {
	cfg   config.Config
	r     *gin.Engine
	store usecase.Store

	artifacts    *usecase.ArtifactService
	lifecycle    *usecase.LifecycleService
	blobs        *usecase.BlobService
	dependencies *usecase.DependencyService
	query        *usecase.QueryService
	quotas       *usecase.QuotaService

	types       *registry.Registry
	logger      *slog.Logger
	dbMode      string
	adminAPIKey string

	rateLimiter         domain.RateLimiter
	rateLimitRequests   int
	rateLimitWindow     time.Duration
	rateLimitFailClosed bool
}

// NewServer wires the default dependency graph from config. A missing
// POSTGRES_DSN selects the in-memory store so the catalog still runs
// for development.
func NewServer(cfg config.Config, store usecase.Store, logger *slog.Logger) (*Server, error) {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{cfg: cfg, r: r, store: store, logger: logger}
	if err := s.initDeps(); err != nil {
		return nil, err
	}
	s.routes()
	return s, nil
}

type ServerDeps struct {
	Store        usecase.Store
	Types        *registry.Registry
	Policy       usecase.PolicyEngine
	BlobStore    usecase.BlobStore
	LedgerCache  usecase.LedgerCache
	Logger       *slog.Logger
	AdminAPIKey  string
	RateLimiter  domain.RateLimiter
}

// NewServerWithDeps builds a server from pre-wired collaborators. Tests
// use it to inject the in-memory store and fakes.
func NewServerWithDeps(cfg config.Config, deps ServerDeps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		cfg:         cfg,
		r:           r,
		store:       deps.Store,
		types:       deps.Types,
		logger:      deps.Logger,
		adminAPIKey: deps.AdminAPIKey,
		dbMode:      "custom",
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	if s.types == nil {
		s.types = registry.New()
		_ = registry.RegisterBuiltins(s.types)
		s.types.Freeze()
	}
	policy := deps.Policy
	if policy == nil {
		policy = policyopa.AllowAll{}
	}
	blobStore := deps.BlobStore
	if blobStore == nil {
		blobStore = blobstore.NewMemoryStore()
	}
	s.buildServices(policy, blobStore, deps.LedgerCache)
	s.initRateLimit(deps.RateLimiter)
	s.routes()
	return s
}

func (s *Server) initDeps() error {
	s.adminAPIKey = s.cfg.AdminAPIKey
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}

	s.dbMode = "db"
	if s.store == nil {
		s.logger.Info("POSTGRES_DSN not set; using the in-memory store")
		mem := memstore.New()
		mem.DefaultLimits = domain.QuotaLimits{
			MaxArtifacts: s.cfg.DefaultMaxArtifacts,
			MaxBlobBytes: s.cfg.DefaultMaxBlobBytes,
		}
		s.store = mem.Root()
		s.dbMode = "memory"
	}

	s.types = registry.New()
	if err := registry.RegisterBuiltins(s.types); err != nil {
		return err
	}
	if s.cfg.TypeDefinitionsPath != "" {
		data, err := os.ReadFile(s.cfg.TypeDefinitionsPath)
		if err != nil {
			return err
		}
		if err := registry.LoadDefinitions(s.types, data); err != nil {
			return err
		}
	}
	s.types.Freeze()

	var policy usecase.PolicyEngine = policyopa.AllowAll{}
	if s.cfg.PolicyBundlePath != "" {
		engine, err := policyopa.NewEngineFromBundlePath(context.Background(), s.cfg.PolicyBundlePath)
		if err != nil {
			return err
		}
		policy = engine
	}

	var blobStore usecase.BlobStore
	if s.cfg.BlobStorePath != "" {
		fs, err := blobstore.NewFileStore(s.cfg.BlobStorePath)
		if err != nil {
			return err
		}
		blobStore = fs
	} else {
		blobStore = blobstore.NewMemoryStore()
	}

	s.buildServices(policy, blobStore, cachemem.New())
	s.initRateLimit(nil)
	return nil
}

func (s *Server) buildServices(policy usecase.PolicyEngine, blobStore usecase.BlobStore, cache usecase.LedgerCache) {
	s.artifacts = &usecase.ArtifactService{
		Store:  s.store,
		Types:  s.types,
		Policy: policy,
	}
	s.lifecycle = &usecase.LifecycleService{
		Store:          s.store,
		Types:          s.types,
		Policy:         policy,
		Blobs:          blobStore,
		MaxRetries:     s.cfg.LifecycleMaxRetries,
		Logger:         s.logger,
		DeleteAttempts: s.cfg.StorageDeleteRetries,
	}
	s.blobs = &usecase.BlobService{
		Store:          s.store,
		Types:          s.types,
		Policy:         policy,
		Blobs:          blobStore,
		Logger:         s.logger,
		DeleteAttempts: s.cfg.StorageDeleteRetries,
	}
	s.dependencies = &usecase.DependencyService{
		Store:  s.store,
		Policy: policy,
	}
	s.query = &usecase.QueryService{
		Store:    s.store,
		MaxDepth: s.cfg.DependencyMaxDepth,
	}
	s.quotas = &usecase.QuotaService{
		Store:    s.store,
		Cache:    cache,
		CacheTTL: s.cfg.QuotaCacheTTL(),
	}
}

func (s *Server) initRateLimit(override domain.RateLimiter) {
	if override != nil {
		s.rateLimiter = override
	}
	if s.rateLimiter == nil && s.cfg.RateLimitRequests > 0 {
		if s.cfg.RedisAddr != "" {
			if limiter, err := ratelimit.NewRedisLimiter(s.cfg.RedisAddr, s.cfg.RedisPassword, s.cfg.RedisDB, nil); err == nil {
				s.rateLimiter = limiter
			}
		}
		if s.rateLimiter == nil {
			s.rateLimiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{
				MaxKeys: s.cfg.RateLimitMaxKeys,
			})
		}
	}
	s.rateLimitRequests = s.cfg.RateLimitRequests
	s.rateLimitWindow = s.cfg.RateLimitWindow()
	s.rateLimitFailClosed = s.cfg.RateLimitFailClosed
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": s.dbMode})
	})

	v1 := s.r.Group("/v1")
	v1.Use(s.rateLimitMiddleware())
	{
		v1.GET("/types", s.handleListTypes)

		v1.POST("/artifacts", s.handleCreateArtifact)
		v1.GET("/artifacts", s.handleListArtifacts)
		v1.POST("/search", s.handleSearchArtifacts)
		v1.GET("/artifacts/:artifact_id", s.handleGetArtifact)
		v1.POST("/artifacts/:artifact_id/versions", s.handleNewVersion)
		v1.PATCH("/artifacts/:artifact_id/versions/:version", s.handleUpdateMetadata)
		v1.POST("/artifacts/:artifact_id/versions/:version/actions/:action", s.handleAction)

		v1.PUT("/artifacts/:artifact_id/versions/:version/blobs/:slot", s.handleUploadBlob)
		v1.POST("/artifacts/:artifact_id/versions/:version/blobs/:slot/external", s.handleAddExternalBlob)
		v1.GET("/artifacts/:artifact_id/versions/:version/blobs/:slot", s.handleDownloadBlob)
		v1.DELETE("/artifacts/:artifact_id/versions/:version/blobs/:slot", s.handleDeleteBlob)

		v1.POST("/artifacts/:artifact_id/versions/:version/dependencies", s.handleLinkDependency)
		v1.DELETE("/artifacts/:artifact_id/versions/:version/dependencies", s.handleUnlinkDependency)
		v1.GET("/artifacts/:artifact_id/versions/:version/dependencies", s.handleListDependencies)

		v1.GET("/quotas", s.handleGetQuota)

		v1.POST("/tenants", s.handleAdminCreateTenant)
		v1.PUT("/tenants/:tenant_id/quota", s.handleAdminSetQuota)
	}

	s.r.NoRoute(func(c *gin.Context) {
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "no such route")
	})
}

// Run blocks serving HTTP on the configured address.
func (s *Server) Run() error {
	return s.r.Run(s.cfg.HTTPAddr)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.r
}
