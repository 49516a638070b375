package api

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/amar74/opportunity-scout/internal/ai"
	"github.com/amar74/opportunity-scout/internal/config"
	"github.com/amar74/opportunity-scout/internal/db"
	"github.com/amar74/opportunity-scout/internal/ingest"
	"github.com/amar74/opportunity-scout/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type Server struct {
	Store    *db.Store
	Pipeline *ingest.Pipeline
	Echo     *echo.Echo
	DB       *pgxpool.Pool
	AI       *ai.OllamaClient
	Config   *config.Config
}

var (
	adminSecretOnce    sync.Once
	adminSecretRuntime string
	adminSecretErr     error
)

func NewServer(pool *pgxpool.Pool, cfg *config.Config) *Server {
	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	allowedOrigins := []string{"http://localhost:4200"}
	if extra := os.Getenv("CORS_ORIGINS"); extra != "" {
		for _, o := range strings.Split(extra, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				allowedOrigins = append(allowedOrigins, o)
			}
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "X-Admin-Secret", "X-Tenant-ID", "X-User-ID"},
	}))

	store := db.NewStore(pool)
	aiClient := ai.NewOllamaClient(cfg.Ollama.Host, cfg.Ollama.EmbedModel, cfg.Ollama.GenModel)

	var fetcher ingest.Fetcher = ingest.NewRateLimitedFetcher(cfg.Fetch)
	if cfg.UseColly {
		fetcher = ingest.CollyFetcherWithConfig(cfg.Fetch)
	}

	pipeline := ingest.NewPipeline(store, fetcher, aiClient)
	if cfg.LeaseMinutes > 0 {
		pipeline.Lease = cfg.Lease()
	}
	if cfg.StaleAfterHours > 0 {
		pipeline.StaleAfter = cfg.StaleAfter()
	}

	s := &Server{
		DB:       pool,
		Store:    store,
		Pipeline: pipeline,
		Echo:     e,
		AI:       aiClient,
		Config:   cfg,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)

	api := s.Echo.Group("/api/v1")

	// Tenant-scoped routes. Every row a handler touches is filtered by the
	// tenant from X-Tenant-ID.
	tenant := api.Group("")
	tenant.Use(s.tenantMiddleware)
	tenant.POST("/sources", s.handleCreateSource)
	tenant.GET("/sources", s.handleListSources)
	tenant.GET("/sources/:id", s.handleGetSource)
	tenant.PATCH("/sources/:id", s.handleUpdateSource)
	tenant.POST("/sources/:id/run", s.handleRunSource)
	tenant.GET("/sources/:id/history", s.handleListSourceHistory)

	tenant.POST("/agents", s.handleCreateAgent)
	tenant.GET("/agents", s.handleListAgents)
	tenant.GET("/agents/:id", s.handleGetAgent)
	tenant.PATCH("/agents/:id", s.handleUpdateAgent)
	tenant.GET("/agents/:id/runs", s.handleListAgentRuns)

	tenant.GET("/history", s.handleListHistory)

	tenant.GET("/opportunities/temp", s.handleListTemp)
	tenant.GET("/opportunities/temp/:id", s.handleGetTemp)
	tenant.POST("/opportunities/temp/:id/review", s.handleReviewTemp)
	tenant.POST("/opportunities/temp/:id/promote", s.handlePromoteTemp)

	// Admin routes drive the sweeps. The sweeper binary calls these too.
	admin := api.Group("/admin")
	admin.Use(s.adminMiddleware)
	admin.POST("/sweep/sources", s.handleSweepSources)
	admin.POST("/sweep/agents", s.handleSweepAgents)
	admin.POST("/reap-stale", s.handleReapStale)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// ---- Tenant context ----

func (s *Server) tenantMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw := strings.TrimSpace(c.Request().Header.Get("X-Tenant-ID"))
		if raw == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "X-Tenant-ID header required"})
		}
		tenantID, err := uuid.Parse(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "X-Tenant-ID must be a UUID"})
		}
		c.Set("tenant_id", tenantID)
		return next(c)
	}
}

func tenantID(c echo.Context) uuid.UUID {
	return c.Get("tenant_id").(uuid.UUID)
}

// userID falls back to the tenant when X-User-ID is absent. Authentication
// lives upstream; these headers come from the gateway.
func userID(c echo.Context) uuid.UUID {
	raw := strings.TrimSpace(c.Request().Header.Get("X-User-ID"))
	if raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			return id
		}
	}
	return tenantID(c)
}

func parseIDParam(c echo.Context) (uuid.UUID, error) {
	return uuid.Parse(c.Param("id"))
}

// ---- Sources ----

type createSourceRequest struct {
	URL           string   `json:"url"`
	Category      string   `json:"category"`
	Frequency     string   `json:"frequency"`
	Tags          []string `json:"tags"`
	AutoDiscovery *bool    `json:"auto_discovery"`
}

func (s *Server) handleCreateSource(c echo.Context) error {
	var req createSourceRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	u, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "url must be a valid http(s) URL"})
	}

	frequency := models.FrequencyWeekly
	if req.Frequency != "" {
		frequency, err = models.ParseSourceFrequency(req.Frequency)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
	}

	autoDiscovery := true
	if req.AutoDiscovery != nil {
		autoDiscovery = *req.AutoDiscovery
	}
	if req.Tags == nil {
		req.Tags = []string{}
	}

	src := &models.OpportunitySource{
		TenantID:      tenantID(c),
		UserID:        userID(c),
		URL:           u.String(),
		Category:      req.Category,
		Frequency:     frequency,
		Status:        models.SourceActive,
		Tags:          req.Tags,
		AutoDiscovery: autoDiscovery,
	}
	if err := s.Store.CreateSource(c.Request().Context(), src); err != nil {
		c.Logger().Errorf("Failed to create source: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}

	return c.JSON(http.StatusCreated, src)
}

func (s *Server) handleListSources(c echo.Context) error {
	sources, err := s.Store.ListSources(c.Request().Context(), tenantID(c))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, sources)
}

func (s *Server) handleGetSource(c echo.Context) error {
	id, err := parseIDParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid source ID"})
	}

	src, err := s.Store.GetSource(c.Request().Context(), tenantID(c), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, src)
}

type updateSourceRequest struct {
	Status        *string  `json:"status"`
	Frequency     *string  `json:"frequency"`
	Category      *string  `json:"category"`
	Tags          []string `json:"tags"`
	AutoDiscovery *bool    `json:"auto_discovery"`
}

func (s *Server) handleUpdateSource(c echo.Context) error {
	id, err := parseIDParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid source ID"})
	}

	var req updateSourceRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	patch := db.SourcePatch{
		Category:      req.Category,
		Tags:          req.Tags,
		AutoDiscovery: req.AutoDiscovery,
	}
	if req.Status != nil {
		status := models.SourceStatus(*req.Status)
		if !status.Valid() {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown status %q", *req.Status)})
		}
		patch.Status = &status
	}
	if req.Frequency != nil {
		frequency, err := models.ParseSourceFrequency(*req.Frequency)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		patch.Frequency = &frequency
	}

	src, err := s.Store.UpdateSourceSettings(c.Request().Context(), tenantID(c), id, patch)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, src)
}

// handleRunSource triggers one source immediately, regardless of schedule.
// Runs synchronously and returns the attempt summary.
func (s *Server) handleRunSource(c echo.Context) error {
	id, err := parseIDParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid source ID"})
	}

	summary, err := s.Pipeline.RunSourceNow(c.Request().Context(), tenantID(c), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return c.JSON(http.StatusConflict, map[string]string{"error": "Source not found or already running"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, summary)
}

func (s *Server) handleListSourceHistory(c echo.Context) error {
	id, err := parseIDParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid source ID"})
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	history, err := s.Store.ListScrapeHistory(c.Request().Context(), tenantID(c), &id, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, history)
}

func (s *Server) handleListHistory(c echo.Context) error {
	var sourceID *uuid.UUID
	if raw := c.QueryParam("source_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid source_id"})
		}
		sourceID = &id
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	history, err := s.Store.ListScrapeHistory(c.Request().Context(), tenantID(c), sourceID, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, history)
}

// ---- Agents ----

type createAgentRequest struct {
	Name      string `json:"name"`
	Prompt    string `json:"prompt"`
	BaseURL   string `json:"base_url"`
	Frequency string `json:"frequency"`
}

func (s *Server) handleCreateAgent(c echo.Context) error {
	var req createAgentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	if strings.TrimSpace(req.Prompt) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "prompt is required"})
	}
	u, err := url.Parse(strings.TrimSpace(req.BaseURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "base_url must be a valid http(s) URL"})
	}

	frequency := models.AgentFrequency24h
	if req.Frequency != "" {
		frequency, err = models.ParseAgentFrequency(req.Frequency)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
	}

	ag := &models.OpportunityAgent{
		TenantID:  tenantID(c),
		UserID:    userID(c),
		Name:      req.Name,
		Prompt:    req.Prompt,
		BaseURL:   u.String(),
		Frequency: frequency,
		Status:    models.AgentActive,
	}
	if err := s.Store.CreateAgent(c.Request().Context(), ag); err != nil {
		c.Logger().Errorf("Failed to create agent: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}

	return c.JSON(http.StatusCreated, ag)
}

func (s *Server) handleListAgents(c echo.Context) error {
	agents, err := s.Store.ListAgents(c.Request().Context(), tenantID(c))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, agents)
}

func (s *Server) handleGetAgent(c echo.Context) error {
	id, err := parseIDParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid agent ID"})
	}

	ag, err := s.Store.GetAgent(c.Request().Context(), tenantID(c), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, ag)
}

type updateAgentRequest struct {
	Status    *string `json:"status"`
	Frequency *string `json:"frequency"`
	Prompt    *string `json:"prompt"`
	Name      *string `json:"name"`
}

func (s *Server) handleUpdateAgent(c echo.Context) error {
	id, err := parseIDParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid agent ID"})
	}

	var req updateAgentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	patch := db.AgentPatch{
		Prompt: req.Prompt,
		Name:   req.Name,
	}
	if req.Status != nil {
		status := models.AgentStatus(*req.Status)
		if !status.Valid() {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown status %q", *req.Status)})
		}
		patch.Status = &status
	}
	if req.Frequency != nil {
		frequency, err := models.ParseAgentFrequency(*req.Frequency)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		patch.Frequency = &frequency
	}

	ag, err := s.Store.UpdateAgentSettings(c.Request().Context(), tenantID(c), id, patch)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, ag)
}

func (s *Server) handleListAgentRuns(c echo.Context) error {
	id, err := parseIDParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid agent ID"})
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	runs, err := s.Store.ListAgentRuns(c.Request().Context(), tenantID(c), &id, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, runs)
}

// ---- Temp opportunities ----

func (s *Server) handleListTemp(c echo.Context) error {
	params := db.ListTempParams{
		Status: c.QueryParam("status"),
	}
	if raw := c.QueryParam("source_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid source_id"})
		}
		params.SourceID = &id
	}
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 {
		params.Limit = l
	}
	if o, err := strconv.Atoi(c.QueryParam("offset")); err == nil && o >= 0 {
		params.Offset = o
	}

	result, err := s.Store.ListTempOpportunities(c.Request().Context(), tenantID(c), params)
	if err != nil {
		c.Logger().Errorf("Failed to list temp opportunities: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleGetTemp(c echo.Context) error {
	id, err := parseIDParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid opportunity ID"})
	}

	temp, err := s.Store.GetTempOpportunity(c.Request().Context(), tenantID(c), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, temp)
}

type reviewRequest struct {
	Status            string `json:"status"`
	Notes             string `json:"notes"`
	MatchScore        *int   `json:"match_score"`
	RiskScore         *int   `json:"risk_score"`
	StrategicFitScore *int   `json:"strategic_fit_score"`
}

func (s *Server) handleReviewTemp(c echo.Context) error {
	id, err := parseIDParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid opportunity ID"})
	}

	var req reviewRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	temp, err := s.Store.ReviewTempOpportunity(c.Request().Context(), tenantID(c), id, db.ReviewPatch{
		Status:            models.ReviewStatus(req.Status),
		ReviewerID:        userID(c),
		Notes:             req.Notes,
		MatchScore:        req.MatchScore,
		RiskScore:         req.RiskScore,
		StrategicFitScore: req.StrategicFitScore,
	})
	if err != nil {
		switch {
		case errors.Is(err, db.ErrNotFound):
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Not found"})
		case errors.Is(err, db.ErrInvalidTransition):
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		default:
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
	}
	return c.JSON(http.StatusOK, temp)
}

func (s *Server) handlePromoteTemp(c echo.Context) error {
	id, err := parseIDParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid opportunity ID"})
	}

	temp, err := s.Store.PromoteTempOpportunity(c.Request().Context(), tenantID(c), id, userID(c))
	if err != nil {
		switch {
		case errors.Is(err, db.ErrNotFound):
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Not found"})
		case errors.Is(err, db.ErrInvalidTransition):
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		default:
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
	}
	return c.JSON(http.StatusOK, temp)
}

// ---- Admin sweeps ----

func (s *Server) handleSweepSources(c echo.Context) error {
	summary, err := s.Pipeline.RunScheduledScrapes(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, summary)
}

func (s *Server) handleSweepAgents(c echo.Context) error {
	summary, err := s.Pipeline.RunScheduledAgents(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, summary)
}

func (s *Server) handleReapStale(c echo.Context) error {
	reaped, err := s.Pipeline.ReapStaleAttempts(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]int64{"reaped": reaped})
}

func (s *Server) adminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		secret, err := s.adminSecretValue()
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Server admin configuration error"})
		}

		authHeader := c.Request().Header.Get("Authorization")
		adminHeader := c.Request().Header.Get("X-Admin-Secret")

		if secureCompare(adminHeader, secret) {
			return next(c)
		}
		if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
			if secureCompare(authHeader[7:], secret) {
				return next(c)
			}
		}

		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized admin access"})
	}
}

func secureCompare(a, b string) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) adminSecretValue() (string, error) {
	adminSecretOnce.Do(func() {
		secret := strings.TrimSpace(s.Config.AdminSecret)
		if secret != "" {
			adminSecretRuntime = secret
			return
		}

		buf := make([]byte, 48)
		if _, err := rand.Read(buf); err != nil {
			adminSecretErr = fmt.Errorf("failed to generate ADMIN_SECRET fallback: %w", err)
			return
		}

		adminSecretRuntime = base64.RawURLEncoding.EncodeToString(buf)
		log.Print("ADMIN_SECRET is not set; using ephemeral in-memory fallback secret")
	})

	if adminSecretErr != nil {
		return "", adminSecretErr
	}
	if adminSecretRuntime == "" {
		return "", fmt.Errorf("admin secret unavailable")
	}

	return adminSecretRuntime, nil
}

func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}
