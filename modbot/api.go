package modbot

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
)

const (
	apiPrefix            = "/api"
	apiHealthCheck       = "/healthz"
	apiPathCase          = "/cases/:number"
	apiPathUserCases     = "/users/:id/cases"
	apiPathPendingRoles  = "/pending_roles"
	xRequestIDHeader     = "X-Request-ID"
	apiLoggerKey         = "api_logger"
	apiDefaultCaseLimit  = 25
	apiMaxCaseLimit      = 100
	apiAuthFailureBurst  = 5
	apiAuthFailureWindow = 10 * time.Second
)

// API serves a read-only view of the bot's cases and pending role
// assignments. Every /api route requires the configured bearer secret.
type API struct {
	config     *APIConfig
	httpServer *http.Server
	listener   net.Listener
	engine     *gin.Engine
	logger     *slog.Logger
	bot        *ModBot

	// authFailures limits failed auth attempts across all clients
	authFailures *rate.Limiter
}

type httpError struct {
	Error string `json:"error"`
}

type healthCheckResponse struct {
	DiscordGatewayConnected bool   `json:"discord_gateway_connected"`
	OpenModMail             int    `json:"open_modmail"`
	ScheduledRoles          int    `json:"scheduled_roles"`
	Uptime                  string `json:"uptime"`
	Version                 string `json:"version"`
}

type caseResponse struct {
	ModerationCase
	Expired bool `json:"expired"`
}

type caseListResponse struct {
	Cases   []caseResponse `json:"cases"`
	Omitted int64          `json:"omitted"`
}

// userCasesQuery binds the query string of the user cases endpoint
type userCasesQuery struct {
	Filter string `form:"filter" binding:"omitempty,oneof=all cases notes"`
	Order  string `form:"order" binding:"omitempty,oneof=asc desc"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=100"`
}

func (q userCasesQuery) caseFilter() CaseFilter {
	switch q.Filter {
	case "cases":
		return CaseFilterExcludeNotes
	case "notes":
		return CaseFilterOnlyNotes
	default:
		return CaseFilterAll
	}
}

func (q userCasesQuery) sortOrder() SortOrder {
	if q.Order == "desc" {
		return SortDescending
	}
	return SortAscending
}

func newAPI(b *ModBot, config *APIConfig) (*API, error) {
	logger := slog.New(
		tint.NewHandler(
			defaultLogWriter,
			&tint.Options{Level: config.LogLevel, AddSource: true},
		),
	).With(loggerNameKey, "api")

	if !config.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	api := &API{
		config: config,
		engine: r,
		logger: logger,
		bot:    b,
		authFailures: rate.NewLimiter(
			rate.Every(apiAuthFailureWindow/apiAuthFailureBurst),
			apiAuthFailureBurst,
		),
	}

	tlsCfg, err := tlsConfig(config.SSL.Cert, config.SSL.Key, config.SSL.TLSMinVersion)
	if err != nil {
		return nil, fmt.Errorf("error loading SSL certs: %w", err)
	}

	api.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		TLSConfig:         tlsCfg,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	if !config.Development {
		r.Use(gin.Recovery())
	}
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(logger),
		cors.New(config.CORS.GINConfig()),
	)

	r.GET(apiHealthCheck, api.healthCheck)

	protected := r.Group(apiPrefix)
	protected.Use(authMiddleware(api))
	protected.GET(apiPathCase, api.getCase)
	protected.GET(apiPathUserCases, api.getUserCases)
	protected.GET(apiPathPendingRoles, api.getPendingRoles)

	return api, nil
}

// Serve listens on the configured address, wrapping the listener in TLS
// when a certificate is configured
func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)
		if err != nil {
			return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
		}
		if a.httpServer.TLSConfig != nil {
			ln = tls.NewListener(ln, a.httpServer.TLSConfig)
		}
		a.listener = ln
	}
	return a.httpServer.Serve(a.listener)
}

func (a *API) healthCheck(c *gin.Context) {
	b := a.bot
	resp := healthCheckResponse{
		DiscordGatewayConnected: b.discord.connected.Load(),
		Version:                 Version,
	}
	if b.mail != nil {
		resp.OpenModMail = b.mail.Len()
	}
	if b.memberRoles != nil {
		resp.ScheduledRoles = b.memberRoles.Pending()
	}
	if !b.startedAt.IsZero() {
		resp.Uptime = b.now().Sub(b.startedAt).Truncate(time.Second).String()
	}
	c.JSON(http.StatusOK, resp)
}

func (a *API) toCaseResponse(mc ModerationCase) caseResponse {
	return caseResponse{ModerationCase: mc, Expired: a.bot.expiration.IsExpired(mc)}
}

func (a *API) getCase(c *gin.Context) {
	number, err := strconv.ParseInt(c.Param("number"), 10, 64)
	if err != nil || number < 1 {
		c.JSON(http.StatusBadRequest, httpError{Error: "invalid case number"})
		return
	}

	mc, found, err := a.bot.ledger.FindByCaseNumber(c.Request.Context(), number)
	if err != nil {
		ginContextLogger(c).Error("error getting case", tint.Err(err))
		c.JSON(http.StatusInternalServerError, httpError{Error: "error getting case"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, httpError{Error: "case not found"})
		return
	}
	c.JSON(http.StatusOK, a.toCaseResponse(*mc))
}

func (a *API) getUserCases(c *gin.Context) {
	userID := c.Param("id")
	if _, err := strconv.ParseUint(userID, 10, 64); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: "invalid user ID"})
		return
	}

	var q userCasesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: "invalid query"})
		return
	}
	if q.Limit == 0 {
		q.Limit = apiDefaultCaseLimit
	}

	page, err := a.bot.ledger.FindByUser(
		c.Request.Context(),
		userID,
		q.caseFilter(),
		min(q.Limit, apiMaxCaseLimit),
		q.sortOrder(),
	)
	if err != nil {
		ginContextLogger(c).Error("error getting user cases", tint.Err(err))
		c.JSON(http.StatusInternalServerError, httpError{Error: "error getting cases"})
		return
	}

	resp := caseListResponse{Cases: make([]caseResponse, 0, len(page.Cases)), Omitted: page.Omitted}
	for _, mc := range page.Cases {
		resp.Cases = append(resp.Cases, a.toCaseResponse(mc))
	}
	c.JSON(http.StatusOK, resp)
}

func (a *API) getPendingRoles(c *gin.Context) {
	pending, err := a.bot.store.ListPendingRoles(c.Request.Context(), pendingRoleKindMember)
	if err != nil {
		ginContextLogger(c).Error("error listing pending roles", tint.Err(err))
		c.JSON(http.StatusInternalServerError, httpError{Error: "error listing pending roles"})
		return
	}
	if pending == nil {
		pending = []PendingRoleAssignment{}
	}
	c.JSON(http.StatusOK, pending)
}

// authMiddleware requires `Authorization: Bearer <secret>`. Failures
// draw from a shared limiter, and once it's exhausted every failed
// attempt gets a 429.
func authMiddleware(a *API) gin.HandlerFunc {
	secret := []byte(a.config.Secret)
	return func(c *gin.Context) {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if ok && len(secret) > 0 && subtle.ConstantTimeCompare([]byte(token), secret) == 1 {
			c.Next()
			return
		}

		logger := ginContextLogger(c)
		if !a.authFailures.Allow() {
			logger.Warn("auth failure rate limit exceeded")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, httpError{Error: "too many requests"})
			return
		}
		logger.Warn("unauthorized request")
		c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
	}
}

// requestIDMiddleware sets a random request ID on the context and the
// response headers
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := generateRandomHexString(32)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginContextLogger returns the request logger from the gin context,
// creating and storing one with request details if it doesn't exist
func ginContextLogger(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(string(loggerContextKey)); ok {
		if requestLogger, isLogger := v.(*slog.Logger); isLogger {
			return requestLogger
		}
	}

	base := slog.Default()
	if v, ok := c.Get(apiLoggerKey); ok {
		if l, isLogger := v.(*slog.Logger); isLogger {
			base = l
		}
	}
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	if raw := c.Request.URL.RawQuery; raw != "" {
		path = path + "?" + raw
	}

	requestLogger := base.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware logs each request with its duration and response
// status
func ginLoggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Set(apiLoggerKey, logger)
		requestLogger := ginContextLogger(c)
		c.Next()
		latency := time.Since(start)

		response := slog.Group(
			"response",
			"status_code", c.Writer.Status(),
			"body_size", c.Writer.Size(),
		)
		var errs []error
		for _, e := range c.Errors.ByType(gin.ErrorTypePrivate) {
			errs = append(errs, e.Err)
		}
		if len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf("%s %s finished with errors", c.Request.Method, c.Request.URL),
				"duration", latency,
				tint.Err(errors.Join(errs...)),
				response,
			)
			return
		}
		requestLogger.Info(
			fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
			"duration", latency,
			response,
		)
	}
}

// NewAPISecret returns a random secret suitable for [APIConfig.Secret]
func NewAPISecret() (string, error) {
	return generateRandomHexString(64)
}
