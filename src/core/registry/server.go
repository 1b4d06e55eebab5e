package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pbtc21/x402-registry/src/core/config"
	"github.com/pbtc21/x402-registry/src/core/database"
	"github.com/pbtc21/x402-registry/src/core/logger"
	"github.com/pbtc21/x402-registry/src/core/payments"
)

// Server represents the registry HTTP server
type Server struct {
	engine       *gin.Engine
	catalog      *Catalog
	taxonomy     *Taxonomy
	handlers     *Handlers
	cache        *recommendCache
	logger       *logger.Logger
	stopTaxonomy func()
}

// NewServer assembles the full service: catalog hydrated from the database,
// selector, orchestrator and HTTP routes. verifier and sessions are built by
// the caller since they may hold network connections.
func NewServer(db *database.Database, cfg *config.Config, verifier payments.Verifier,
	sessions payments.SessionStore, log *logger.Logger) (*Server, error) {

	taxonomy := NewTaxonomy()
	if cfg.TaxonomyPath != "" {
		loaded, err := LoadTaxonomy(cfg.TaxonomyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load capability taxonomy: %w", err)
		}
		taxonomy = loaded
		log.Info("Loaded capability taxonomy from %s (%d tags)", cfg.TaxonomyPath, len(taxonomy.Tags()))
	}

	catalog := NewCatalog(db)
	loaded, err := catalog.LoadFromStore()
	if err != nil {
		return nil, fmt.Errorf("failed to load agents from database: %w", err)
	}
	log.Info("Hydrated catalog with %d persisted agent(s)", loaded)

	selector := NewSelector(catalog, log)

	var invoker AgentInvoker = SimulatedInvoker{}
	invoker = NewRetryingInvoker(invoker, time.Duration(cfg.CallTimeout)*time.Second, cfg.CallRetries)

	orchestrator := NewOrchestrator(OrchestratorConfig{
		Catalog:   catalog,
		Selector:  selector,
		Taxonomy:  taxonomy,
		Invoker:   invoker,
		Verifier:  verifier,
		Sessions:  sessions,
		Recipient: cfg.PlatformRecipient,
		Logger:    log,
	})

	endpoints := NewEndpointService(db)

	var responseCache *recommendCache
	if cfg.EnableResponseCache && cfg.CacheTTL > 0 {
		responseCache = newRecommendCache(time.Duration(cfg.CacheTTL) * time.Second)
	}

	handlers := NewHandlers(catalog, selector, taxonomy, orchestrator, endpoints,
		db, responseCache, log, cfg.RegistryName)

	engine := gin.New()
	engine.Use(gin.Recovery())
	// Debug mode forces request logging even when the access log is off.
	if cfg.AccessLog || log.IsDebugEnabled() {
		engine.Use(gin.Logger())
	}
	if cfg.EnableCORS {
		engine.Use(corsMiddleware(cfg))
	}

	server := &Server{
		engine:   engine,
		catalog:  catalog,
		taxonomy: taxonomy,
		handlers: handlers,
		cache:    responseCache,
		logger:   log,
	}
	server.setupRoutes()

	// Hot-reload taxonomy edits without a restart.
	if cfg.TaxonomyPath != "" {
		stop, err := taxonomy.Watch(cfg.TaxonomyPath, log)
		if err != nil {
			log.Warning("Taxonomy hot-reload disabled: %v", err)
		} else {
			server.stopTaxonomy = stop
		}
	}

	return server, nil
}

// setupRoutes wires all HTTP routes.
func (s *Server) setupRoutes() {
	s.engine.GET("/", s.handlers.GetRoot)
	s.engine.GET("/health", s.handlers.GetHealth)
	s.engine.GET("/capabilities", s.handlers.ListCapabilities)

	agents := s.engine.Group("/agents")
	{
		agents.POST("/register", s.handlers.RegisterAgent)
		agents.GET("", s.handlers.ListAgents)
		agents.POST("/recommend", s.handlers.RecommendAgents)
		agents.POST("/execute", s.handlers.ExecuteTask)
		agents.POST("/chain", s.handlers.ExecuteChain)
		agents.GET("/:id", s.handlers.GetAgent)
	}

	endpoints := s.engine.Group("/endpoints")
	{
		endpoints.POST("", s.handlers.RegisterEndpoint)
		endpoints.GET("", s.handlers.SearchEndpoints)
		endpoints.GET("/:id", s.handlers.GetEndpoint)
		endpoints.PUT("/:id", s.handlers.UpdateEndpoint)
		endpoints.DELETE("/:id", s.handlers.DeleteEndpoint)
	}
}

// Engine exposes the underlying gin engine, mainly for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run starts the HTTP server.
func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

// Stop releases background resources.
func (s *Server) Stop(ctx context.Context) error {
	if s.stopTaxonomy != nil {
		s.stopTaxonomy()
	}
	if s.cache != nil {
		s.cache.close()
	}
	return nil
}

// corsMiddleware applies the configured CORS policy.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	origins := strings.Join(cfg.AllowedOrigins, ",")
	methods := strings.Join(cfg.AllowedMethods, ",")
	headers := strings.Join(cfg.AllowedHeaders, ",")

	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", origins)
		c.Header("Access-Control-Allow-Methods", methods)
		c.Header("Access-Control-Allow-Headers", headers)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
