package registry

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pbtc21/x402-registry/src/core/database"
	"github.com/pbtc21/x402-registry/src/core/logger"
)

// Error codes surfaced to callers alongside human-readable messages.
const (
	codeValidation      = "VALIDATION_ERROR"
	codeNotFound        = "NOT_FOUND"
	codePaymentRequired = "PAYMENT_REQUIRED"
	codeInternal        = "INTERNAL_ERROR"
)

// ErrorResponse is the common error body.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
}

// PaymentRequiredResponse is the 402 body: the demand plus request context.
type PaymentRequiredResponse struct {
	Error           string        `json:"error"`
	Code            string        `json:"code"`
	Payment         PaymentDemand `json:"payment"`
	Task            string        `json:"task,omitempty"`
	EstimatedAgents int           `json:"estimatedAgents"`
	Timestamp       time.Time     `json:"timestamp"`
}

// Handlers carries the business logic behind the HTTP routes.
type Handlers struct {
	catalog      *Catalog
	selector     *Selector
	taxonomy     *Taxonomy
	orchestrator *Orchestrator
	endpoints    *EndpointService
	db           *database.Database
	cache        *recommendCache
	logger       *logger.Logger
	registryName string
	startTime    time.Time
}

// NewHandlers creates a handler set. cache may be nil to disable response
// caching; db may be nil for a storeless deployment.
func NewHandlers(catalog *Catalog, selector *Selector, taxonomy *Taxonomy, orchestrator *Orchestrator,
	endpoints *EndpointService, db *database.Database, responseCache *recommendCache,
	log *logger.Logger, registryName string) *Handlers {
	return &Handlers{
		catalog:      catalog,
		selector:     selector,
		taxonomy:     taxonomy,
		orchestrator: orchestrator,
		endpoints:    endpoints,
		db:           db,
		cache:        responseCache,
		logger:       log,
		registryName: registryName,
		startTime:    time.Now().UTC(),
	}
}

// GetRoot implements GET /
func (h *Handlers) GetRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": h.registryName,
		"version": "1.0.0",
		"status":  "running",
		"endpoints": []string{
			"/health", "/capabilities",
			"/agents", "/agents/register", "/agents/recommend", "/agents/execute", "/agents/chain",
			"/endpoints",
		},
	})
}

// GetHealth implements GET /health
func (h *Handlers) GetHealth(c *gin.Context) {
	health := gin.H{
		"status":         "healthy",
		"service":        h.registryName,
		"uptime_seconds": int(time.Since(h.startTime).Seconds()),
		"agents":         h.catalog.Count(),
		"timestamp":      time.Now().UTC(),
	}
	if h.db != nil {
		if stats, err := h.db.GetStats(); err != nil {
			h.logger.Warning("Failed to collect storage stats: %v", err)
		} else {
			health["storage"] = stats
		}
	}
	c.JSON(http.StatusOK, health)
}

// RegisterAgent implements POST /agents/register
func (h *Handlers) RegisterAgent(c *gin.Context) {
	var req AgentRegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, ValidationError{Field: "body", Message: "invalid JSON payload: " + err.Error()})
		return
	}

	agent, err := h.catalog.Register(&req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	// A new agent can change any ranking.
	if h.cache != nil {
		h.cache.invalidate()
	}

	h.logger.Info("Registered agent %s (%s) with capabilities %v", agent.ID, agent.Name, agent.Capabilities)
	c.JSON(http.StatusCreated, gin.H{
		"agent":     agent,
		"timestamp": time.Now().UTC(),
	})
}

// ListAgents implements GET /agents
func (h *Handlers) ListAgents(c *gin.Context) {
	agents := h.catalog.List()
	c.JSON(http.StatusOK, gin.H{
		"agents":    agents,
		"count":     len(agents),
		"timestamp": time.Now().UTC(),
	})
}

// GetAgent implements GET /agents/:id
func (h *Handlers) GetAgent(c *gin.Context) {
	agent, err := h.catalog.Get(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

// ListCapabilities implements GET /capabilities
func (h *Handlers) ListCapabilities(c *gin.Context) {
	capabilities := h.catalog.ListCapabilities(h.taxonomy)
	c.JSON(http.StatusOK, gin.H{
		"capabilities": capabilities,
		"count":        len(capabilities),
	})
}

// recommendRequest is the inbound body for POST /agents/recommend
type recommendRequest struct {
	Task              string `json:"task"`
	Budget            int64  `json:"budget,omitempty"`
	VersionConstraint string `json:"versionConstraint,omitempty"`
}

// RecommendResponse is the outbound body for POST /agents/recommend.
type RecommendResponse struct {
	Task                 string           `json:"task"`
	InferredCapabilities []string         `json:"inferredCapabilities"`
	Recommendations      []Recommendation `json:"recommendations"`
	Count                int              `json:"count"`
	Plan                 *ExecutionPlan   `json:"plan"`
}

// RecommendAgents implements POST /agents/recommend
func (h *Handlers) RecommendAgents(c *gin.Context) {
	var req recommendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, ValidationError{Field: "body", Message: "invalid JSON payload: " + err.Error()})
		return
	}
	if req.Task == "" {
		h.writeError(c, ValidationError{Field: "task", Message: "task is required"})
		return
	}

	var cacheKey string
	if h.cache != nil {
		cacheKey = h.cache.key(req)
		if cached := h.cache.get(cacheKey); cached != nil {
			c.JSON(http.StatusOK, cached)
			return
		}
	}

	capabilities := h.taxonomy.Infer(req.Task)
	recommendations := h.selector.Recommend(capabilities, RecommendOptions{
		Budget:            req.Budget,
		VersionConstraint: req.VersionConstraint,
	})

	response := &RecommendResponse{
		Task:                 req.Task,
		InferredCapabilities: capabilities,
		Recommendations:      recommendations,
		Count:                len(recommendations),
		Plan:                 BuildPreviewPlan(req.Task, recommendations),
	}

	if h.cache != nil {
		h.cache.put(cacheKey, response)
	}
	c.JSON(http.StatusOK, response)
}

// ExecuteTask implements POST /agents/execute
func (h *Handlers) ExecuteTask(c *gin.Context) {
	var req ExecutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, ValidationError{Field: "body", Message: "invalid JSON payload: " + err.Error()})
		return
	}

	result, err := h.orchestrator.Execute(c.Request.Context(), &req)
	if err != nil {
		h.writePaymentOrError(c, err, req.Task)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ExecuteChain implements POST /agents/chain
func (h *Handlers) ExecuteChain(c *gin.Context) {
	var req ChainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, ValidationError{Field: "body", Message: "invalid JSON payload: " + err.Error()})
		return
	}

	result, err := h.orchestrator.ExecuteChain(c.Request.Context(), &req)
	if err != nil {
		h.writePaymentOrError(c, err, "")
		return
	}
	c.JSON(http.StatusOK, result)
}

// RegisterEndpoint implements POST /endpoints
func (h *Handlers) RegisterEndpoint(c *gin.Context) {
	var req EndpointRegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, ValidationError{Field: "body", Message: "invalid JSON payload: " + err.Error()})
		return
	}

	endpoint, err := h.endpoints.Register(&req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.logger.Info("Registered endpoint %s (%s) at %s", endpoint.ID, endpoint.Name, endpoint.URL)
	c.JSON(http.StatusCreated, endpoint)
}

// SearchEndpoints implements GET /endpoints
func (h *Handlers) SearchEndpoints(c *gin.Context) {
	filter := EndpointSearchFilter{
		Owner: c.Query("owner"),
		Token: c.Query("token"),
		Query: c.Query("q"),
	}
	if maxPrice := c.Query("maxPrice"); maxPrice != "" {
		parsed, err := strconv.ParseInt(maxPrice, 10, 64)
		if err != nil || parsed < 0 {
			h.writeError(c, ValidationError{Field: "maxPrice", Message: "maxPrice must be a non-negative integer"})
			return
		}
		filter.MaxPrice = parsed
	}

	endpoints, err := h.endpoints.Search(filter)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"endpoints": endpoints,
		"count":     len(endpoints),
	})
}

// GetEndpoint implements GET /endpoints/:id
func (h *Handlers) GetEndpoint(c *gin.Context) {
	endpoint, err := h.endpoints.Get(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, endpoint)
}

// UpdateEndpoint implements PUT /endpoints/:id
func (h *Handlers) UpdateEndpoint(c *gin.Context) {
	var req EndpointRegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, ValidationError{Field: "body", Message: "invalid JSON payload: " + err.Error()})
		return
	}

	endpoint, err := h.endpoints.Update(c.Param("id"), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, endpoint)
}

// DeleteEndpoint implements DELETE /endpoints/:id
func (h *Handlers) DeleteEndpoint(c *gin.Context) {
	id := c.Param("id")
	if err := h.endpoints.Delete(id); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"deleted":   id,
		"timestamp": time.Now().UTC(),
	})
}

// writeError maps domain errors to HTTP statuses.
func (h *Handlers) writeError(c *gin.Context, err error) {
	var validationErr ValidationError
	var notFoundErr NotFoundError

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     validationErr.Error(),
			Code:      codeValidation,
			Timestamp: time.Now().UTC(),
		})
	case errors.As(err, &notFoundErr):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:     notFoundErr.Error(),
			Code:      codeNotFound,
			Timestamp: time.Now().UTC(),
		})
	default:
		h.logger.Error("Request failed: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:     err.Error(),
			Code:      codeInternal,
			Timestamp: time.Now().UTC(),
		})
	}
}

// writePaymentOrError handles the 402 protocol state before falling back to
// the common error mapping.
func (h *Handlers) writePaymentOrError(c *gin.Context, err error, task string) {
	var demand *paymentRequired
	if errors.As(err, &demand) {
		c.JSON(http.StatusPaymentRequired, PaymentRequiredResponse{
			Error:           demand.Message,
			Code:            codePaymentRequired,
			Payment:         demand.Demand,
			Task:            task,
			EstimatedAgents: demand.EstimatedAgents,
			Timestamp:       time.Now().UTC(),
		})
		return
	}
	h.writeError(c, err)
}
