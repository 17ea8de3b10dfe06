package andre

import (
	"context"
	cryprand "crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/securecookie"
	gsessions "github.com/gorilla/sessions"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

const (
	pprofPrefix        = "/debug"
	apiPrefix          = "/api"
	apiHealthCheck     = "/healthz"
	apiPathMetrics     = "/metrics"
	apiPathLogin       = apiPrefix + "/login"
	apiPathLogout      = apiPrefix + "/logout"
	apiPathSetup       = apiPrefix + "/setup"
	apiPathSetupStatus = apiPrefix + "/setup/status"
	apiPathLoggedIn    = "/logged_in"
	apiPathBotState    = "/botstate"
	apiPathUsers       = "/users"
	apiPathUser        = "/users/:discord_id"
	apiPathCache       = "/cache"
	apiPathProperties  = "/properties"
	apiPathCommandLogs = "/command_logs"
	apiPathConfig      = "/config"
	apiPathQuit        = "/quit"
)

const (
	xRequestIDHeader = "X-Request-ID"
	sessionVarName   = "user"
	sessionVarField  = "username"

	defaultPageSize       = 50
	defaultCommandLogSize = 50
)

var (
	Ascending  Sort = "asc"
	Descending Sort = "desc"
)

// API is the admin HTTP server.
//
// It serves health and prometheus metrics publicly, and the bot state,
// profiles, caches, properties, command logs and runtime config behind
// a cookie session. Build it with newAPI and start it with Serve.
type API struct {
	config              *APIConfig    // Configuration for the API server
	httpServer          *http.Server  // The underlying HTTP server
	listener            net.Listener  // Network listener for the HTTP server
	engine              *gin.Engine   // Gin engine for routing HTTP requests
	store               CookieStore   // CookieStore for session management
	loginRequestLimiter *rate.Limiter // Rate limiter for login requests
	logger              *slog.Logger

	handlers *APIHandlers
}

// newAPI sets up the gin engine, session store, TLS (when a certificate
// is configured), middleware and routes.
func newAPI(a *Andre, config *APIConfig) (*API, error) {
	logger := slog.New(newLogHandler(defaultLogWriter, config.LogLevel)).
		With(loggerNameKey, "api")

	r := gin.New()

	api := &API{
		config:              config,
		engine:              r,
		loginRequestLimiter: rate.NewLimiter(rate.Limit(1), 1),
		logger:              logger,
	}
	apiHandlers := NewAPIHandlers(a, api, logger)
	api.handlers = apiHandlers
	api.store = apiHandlers.store
	_ = r.Use(sessions.Sessions(sessionVarName, apiHandlers.store))

	var tlsCfg *tls.Config
	if config.SSL.Cert != "" {
		var e error
		tlsCfg, e = tlsConfig(config.SSL.Cert, config.SSL.Key, config.SSL.TLSMinVersion)
		if e != nil {
			return nil, fmt.Errorf("error loading SSL certs: %w", e)
		}
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

	corsConfig := config.CORS.GINConfig()
	if len(corsConfig.AllowOrigins) == 0 {
		if config.Development {
			corsConfig.AllowOrigins = []string{"*"}
		} else {
			corsConfig.AllowAllOrigins = false
			corsConfig.AllowOriginFunc = func(string) bool { return false }
		}
	}

	if !config.Development {
		r.Use(gin.Recovery())
	}
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(logger),
		metricMiddleware(),
		cors.New(corsConfig),
	)

	r.GET(apiHealthCheck, apiHandlers.healthCheck)
	r.GET(apiPathMetrics, gin.WrapH(promhttp.Handler()))
	r.POST(apiPathLogin, apiHandlers.loginHandler)
	r.POST(apiPathLogout, apiHandlers.logoutHandler)
	r.POST(apiPathSetup, apiHandlers.adminSetup)
	r.GET(apiPathSetupStatus, apiHandlers.setupStatus)

	if config.Development {
		ginPprof.Register(r, pprofPrefix)
		runtime.SetMutexProfileFraction(1)
		runtime.SetBlockProfileRate(1)
	}

	protected := r.Group(apiPrefix)
	protected.Use(authMiddleware(a, api))

	protected.GET(apiPathLoggedIn, apiHandlers.loggedIn)
	protected.GET(apiPathBotState, apiHandlers.getBotState)
	protected.DELETE(apiPathBotState, apiHandlers.clearBotState)
	protected.GET(apiPathUsers, apiHandlers.getUsers)
	protected.GET(apiPathUser, apiHandlers.getUser)
	protected.GET(apiPathCache, apiHandlers.getCache)
	protected.DELETE(apiPathCache, apiHandlers.clearCache)
	protected.GET(apiPathProperties, apiHandlers.getProperties)
	protected.GET(apiPathCommandLogs, apiHandlers.getCommandLogs)
	protected.GET(apiPathConfig, apiHandlers.getConfig)
	protected.PATCH(apiPathConfig, apiHandlers.updateRuntimeConfig)
	protected.POST(apiPathQuit, apiHandlers.botQuit)

	return api, nil
}

// Serve listens on the configured address, over TLS when a certificate
// was loaded, and blocks until the server is shut down.
func (a *API) Serve(ctx context.Context) error {
	if a.listener != nil {
		return a.httpServer.Serve(a.listener)
	}
	network := a.config.ListenNetwork
	if network == "" {
		network = "tcp"
	}
	listenCfg := &net.ListenConfig{}
	ln, err := listenCfg.Listen(ctx, network, a.config.Listen)
	if err != nil {
		return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
	}
	if a.httpServer.TLSConfig != nil {
		ln = tls.NewListener(ln, a.httpServer.TLSConfig)
	}
	a.listener = ln
	a.logger.InfoContext(ctx, "api listening", "addr", ln.Addr().String())
	return a.httpServer.Serve(a.listener)
}

func (a *API) getSessionUsername(c *gin.Context) (string, error) {
	session, err := a.store.Get(c.Request, sessionVarName)
	if err != nil {
		return "", err
	}
	username, ok := session.Values[sessionVarField]
	if !ok {
		return "", errors.New("username not found in session")
	}
	s, ok := username.(string)
	if !ok || s == "" {
		return "", errors.New("username not set in session")
	}
	return s, nil
}

type CookieStore interface {
	sessions.Store
}

func NewCookieStore(keyPairs ...[]byte) CookieStore {
	return &cookieStore{gsessions.NewCookieStore(keyPairs...)}
}

type cookieStore struct {
	*gsessions.CookieStore
}

func (c *cookieStore) Options(options sessions.Options) {
	c.CookieStore.Options = options.ToGorillaOptions()
}

// APIHandlers contains the handlers for the admin API endpoints
type APIHandlers struct {
	a      *Andre
	api    *API
	logger *slog.Logger
	store  CookieStore

	// serializes runtime config updates
	configMu sync.Mutex
}

// NewAPIHandlers sets up the session store. Without a configured
// secret, a random one is generated, so sessions don't survive a
// restart.
func NewAPIHandlers(a *Andre, api *API, logger *slog.Logger) *APIHandlers {
	var secretKey []byte
	switch sk := api.config.Secret; {
	case sk == "":
		logger.Warn(
			"api secret not set, generating random secret " +
				"(sessions will not persist across restarts)",
		)
		secretKey = securecookie.GenerateRandomKey(64)
	default:
		secretKey = derive64ByteKey(sk)
	}

	store := NewCookieStore(secretKey)
	store.Options(api.sessionOptions())
	return &APIHandlers{a: a, api: api, logger: logger, store: store}
}

func (a *API) sessionOptions() sessions.Options {
	sameSite := http.SameSiteStrictMode
	if a.config.Development {
		sameSite = http.SameSiteNoneMode
	}
	return sessions.Options{
		HttpOnly: true,
		Secure:   a.config.SSL.Cert != "" || a.config.Development,
		MaxAge:   int(a.config.SessionMaxAge.Seconds()),
		SameSite: sameSite,
	}
}

// pendingSetup reports whether admin credentials still need to be set
func (h *APIHandlers) pendingSetup() bool {
	rc := h.a.RuntimeConfig()
	return rc.AdminUsername == "" || rc.AdminPassword == ""
}

// setupStatus tells the client whether admin credentials need to be set
func (h *APIHandlers) setupStatus(c *gin.Context) {
	c.JSON(http.StatusOK, setupResponse{Required: h.pendingSetup()})
}

// adminSetup sets the initial admin credentials. Once they are set,
// it responds with 403.
//
// Responses:
//   - 201 Created: If the admin credentials were successfully set.
//   - 400 Bad Request: If the request payload is invalid.
//   - 403 Forbidden: If the credentials are already set.
//   - 500 Internal Server Error: If the credentials could not be saved.
func (h *APIHandlers) adminSetup(c *gin.Context) {
	h.configMu.Lock()
	defer h.configMu.Unlock()

	if !h.pendingSetup() {
		c.JSON(http.StatusForbidden, httpError{Error: "Forbidden"})
		return
	}

	logger := ginContextLogger(c, h.logger)
	logger.Info("first time admin setup")

	var payload adminSetupPayload
	if e := c.ShouldBindJSON(&payload); e != nil {
		logger.Error("bad payload", tint.Err(e))
		c.JSON(http.StatusBadRequest, httpError{Error: e.Error()})
		return
	}

	password, err := HashPassword(payload.Password)
	if err != nil {
		logger.Error("error hashing password", tint.Err(err))
		ginReplyError(c, "error setting admin credentials")
		return
	}

	rc := h.a.RuntimeConfig()
	if _, err = h.a.writeDB.Updates(
		c.Request.Context(),
		&rc,
		map[string]any{
			columnRuntimeConfigAdminUsername: payload.Username,
			columnRuntimeConfigAdminPassword: password,
		},
	); err != nil {
		logger.Error("error updating admin credentials", tint.Err(err))
		ginReplyError(c, "error updating admin credentials")
		return
	}
	rc.AdminUsername = payload.Username
	rc.AdminPassword = password
	h.a.setRuntimeConfig(&rc)
	h.a.notifyPeers(c.Request.Context(), reloadRuntimeConfig)
	c.JSON(http.StatusCreated, httpReply{Message: "admin credentials set"})
}

// loginHandler checks the credentials against the runtime config's
// admin username and argon2id password hash, and starts a session.
//
// Responses:
//   - 200 OK: If the user was successfully logged in.
//   - 400 Bad Request: If the request payload is invalid.
//   - 401 Unauthorized: If the credentials are incorrect or not set.
//   - 429 Too Many Requests: If the login attempts are rate limited.
//   - 500 Internal Server Error: If there is an error processing the login request.
func (h *APIHandlers) loginHandler(c *gin.Context) {
	logger := ginContextLogger(c, h.logger)
	if !h.api.loginRequestLimiter.Allow() {
		logger.Warn("login rate limited")
		c.AbortWithStatus(http.StatusTooManyRequests)
		return
	}

	var login userLogin
	if err := c.ShouldBindJSON(&login); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}

	runtimeConfig := h.a.RuntimeConfig()
	if runtimeConfig.AdminUsername == "" || runtimeConfig.AdminPassword == "" {
		logger.Warn("admin username and password not set")
		c.JSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
		return
	}
	if login.Username != runtimeConfig.AdminUsername {
		logger.Warn("admin username incorrect")
		c.JSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
		return
	}
	valid, err := VerifyPassword(runtimeConfig.AdminPassword, login.Password)
	if err != nil {
		logger.Error("error verifying password", tint.Err(err))
		ginReplyError(c, "internal server error")
		return
	}
	if !valid {
		logger.Warn("invalid login attempt", "username", login.Username)
		c.JSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
		return
	}

	session, err := h.store.New(c.Request, sessionVarName)
	if err != nil {
		logger.Error("error creating session", tint.Err(err))
		ginReplyError(c, "internal server error")
		return
	}
	opts := h.api.sessionOptions()
	session.Options = opts.ToGorillaOptions()
	session.Values[sessionVarField] = login.Username
	if err = session.Save(c.Request, c.Writer); err != nil {
		logger.Error("error saving session", tint.Err(err))
		ginReplyError(c, "internal server error")
		return
	}
	logger.Info("saved user session", "username", login.Username)
	c.JSON(http.StatusOK, loggedInResponse{Username: login.Username})
}

// logoutHandler clears the session username
func (h *APIHandlers) logoutHandler(c *gin.Context) {
	logger := ginContextLogger(c, h.logger)
	session, err := h.store.Get(c.Request, sessionVarName)
	if err != nil {
		logger.Error("error getting session", tint.Err(err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	session.Values[sessionVarField] = ""
	if err = session.Save(c.Request, c.Writer); err != nil {
		logger.Error("error saving cookie", tint.Err(err))
	}
	ginReplyMessage(c, "logged out")
}

func (h *APIHandlers) loggedIn(c *gin.Context) {
	username, err := h.api.getSessionUsername(c)
	if err != nil {
		ginContextLogger(c, h.logger).Warn("error getting session username", tint.Err(err))
		c.JSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, loggedInResponse{Username: username})
}

func (h *APIHandlers) healthCheck(c *gin.Context) {
	var connected bool
	if h.a.discord != nil {
		connected = h.a.discord.connected.Load()
	}
	c.JSON(
		http.StatusOK, healthCheckResponse{
			Paused:                  h.a.RuntimeConfig().Paused,
			LockedUsers:             h.a.state.Len(),
			DiscordGatewayConnected: connected,
			Remotes:                 h.a.remoteStates(),
		},
	)
}

// getBotState returns the members currently running an interactive
// command, and since when
func (h *APIHandlers) getBotState(c *gin.Context) {
	c.JSON(
		http.StatusOK, botStateResponse{
			Running: h.a.state.Running(),
			Since:   h.a.state.Since(),
		},
	)
}

// clearBotState releases every session lock, like !clearbotstate
func (h *APIHandlers) clearBotState(c *gin.Context) {
	released := h.a.state.Len()
	h.a.state.Clear()
	lockedUsers.Set(0)
	ginContextLogger(c, h.logger).Warn("cleared bot state", "released", released)
	ginReplyMessage(c, fmt.Sprintf("released %d lock(s)", released))
}

// getUsers returns a page of profiles, ordered by ID
//
// Responses:
//   - 200 OK: The list of profiles.
//   - 400 Bad Request: If the query parameters are invalid.
//   - 500 Internal Server Error: If the profiles could not be queried.
func (h *APIHandlers) getUsers(c *gin.Context) {
	var q GetUsersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	if q.Limit == 0 {
		q.Limit = defaultPageSize
	}
	if q.Order == "" {
		q.Order = Ascending
	}

	var users []User
	err := preloadProfile(h.a.db.WithContext(c.Request.Context())).
		Order("id " + string(q.Order)).
		Limit(q.Limit).
		Offset(q.Offset).
		Find(&users).Error
	if err != nil {
		_ = c.Error(err)
		ginReplyError(c, "error listing users")
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *APIHandlers) getUser(c *gin.Context) {
	user, err := getUserByDiscordID(c.Request.Context(), h.a.db, c.Param("discord_id"))
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, httpError{Error: "user not found"})
	case err != nil:
		_ = c.Error(err)
		ginReplyError(c, "error getting user")
	default:
		c.JSON(http.StatusOK, user)
	}
}

func (h *APIHandlers) getCache(c *gin.Context) {
	c.JSON(
		http.StatusOK, cacheResponse{
			Anime:      h.a.cache.Len(EntityAnime),
			Manga:      h.a.cache.Len(EntityManga),
			LastUpdate: h.a.cache.LastUpdate(),
		},
	)
}

// clearCache drops the cached lists and remote results, here and on
// peer instances
func (h *APIHandlers) clearCache(c *gin.Context) {
	h.a.clearCaches()
	h.a.notifyPeers(c.Request.Context(), clearPeerCaches)
	ginReplyMessage(c, "cache cleared")
}

func (h *APIHandlers) getProperties(c *gin.Context) {
	props, err := h.a.properties.All()
	if err != nil {
		_ = c.Error(err)
		ginReplyError(c, "error reading properties")
		return
	}
	c.JSON(http.StatusOK, props)
}

// getCommandLogs returns the most recent command logs, optionally
// filtered by user and command
func (h *APIHandlers) getCommandLogs(c *gin.Context) {
	var q GetCommandLogsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	if q.Limit == 0 {
		q.Limit = defaultCommandLogSize
	}
	logs, err := recentCommandLogs(c.Request.Context(), h.a.db, q.UserID, q.Command, q.Limit)
	if err != nil {
		_ = c.Error(err)
		ginReplyError(c, "error listing command logs")
		return
	}
	c.JSON(http.StatusOK, logs)
}

func (h *APIHandlers) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, redactedRuntimeConfig(h.a.RuntimeConfig()))
}

// updateRuntimeConfig applies the non-nil fields of the payload to the
// runtime configuration, validates the result and persists it.
//
// Responses:
//   - 202 Accepted: Returns the updated runtime configuration.
//   - 400 Bad Request: If the payload is invalid, or has no changes.
//   - 500 Internal Server Error: If there is an error saving the configuration.
func (h *APIHandlers) updateRuntimeConfig(c *gin.Context) {
	h.configMu.Lock()
	defer h.configMu.Unlock()

	logger := ginContextLogger(c, h.logger)
	ctx := c.Request.Context()

	var update RuntimeConfigUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		logger.Error("bad payload", tint.Err(err))
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	if err := update.validate(); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	columns := update.columns()
	if len(columns) == 0 {
		c.JSON(http.StatusBadRequest, httpError{Error: "no changes"})
		return
	}

	previous := h.a.RuntimeConfig()
	wasPaused := previous.Paused
	updated := previous
	update.apply(&updated)
	if err := structValidator.Struct(updated); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: "error validating config"})
		return
	}

	logger.InfoContext(ctx, "applying updates", "updates", columns)
	// Updates writes the new values into previous
	if _, err := h.a.writeDB.Updates(ctx, &previous, columns); err != nil {
		logger.ErrorContext(ctx, "error updating config", tint.Err(err))
		ginReplyError(c, "error updating config")
		return
	}
	h.a.setRuntimeConfig(&updated)

	switch {
	case wasPaused && !updated.Paused:
		logger.Info("unpaused bot")
	case updated.Paused && !wasPaused:
		logger.Warn("paused bot")
	}
	if wasPaused != updated.Paused {
		h.a.updatePresence(ctx)
	}

	c.JSON(http.StatusAccepted, redactedRuntimeConfig(updated))
	h.a.notifyPeers(ctx, reloadRuntimeConfig)
}

// botQuit stops this instance, and peers sharing the database
func (h *APIHandlers) botQuit(c *gin.Context) {
	ginContextLogger(c, h.logger).Warn("sending stop signal")
	h.a.notifyPeers(c.Request.Context(), stopPeers)
	h.a.Stop()
	ginReplyMessage(c, "quitting")
}

func redactedRuntimeConfig(rc RuntimeConfig) RuntimeConfig {
	if rc.AdminPassword != "" {
		rc.AdminPassword = "[redacted]"
	}
	return rc
}

// Pagination represents the pagination parameters for API requests
type Pagination struct {
	Limit  int  `form:"limit" binding:"omitempty,min=1,max=100"`
	Order  Sort `form:"order" binding:"omitempty,oneof=asc desc"`
	Offset int  `form:"offset" binding:"omitempty,min=0"`
}

type GetUsersQuery struct {
	Pagination
}

type GetCommandLogsQuery struct {
	UserID  string `form:"user_id"`
	Command string `form:"command"`
	Limit   int    `form:"limit" binding:"omitempty,min=1,max=500"`
}

// Sort is the order of a query's results
type Sort string

type loggedInResponse struct {
	Username string `json:"username"`
}

type healthCheckResponse struct {
	Paused                  bool `json:"paused"`
	LockedUsers             int  `json:"locked_users"`
	DiscordGatewayConnected bool `json:"discord_gateway_connected"`

	// Remotes maps each remote API to its circuit breaker state
	Remotes map[string]string `json:"remotes"`
}

type botStateResponse struct {
	Running map[string]string    `json:"running"`
	Since   map[string]time.Time `json:"since"`
}

type cacheResponse struct {
	Anime      int       `json:"anime"`
	Manga      int       `json:"manga"`
	LastUpdate time.Time `json:"last_update"`
}

type httpReply struct {
	Message string `json:"message"`
}

type httpError struct {
	Error string `json:"error"`
}

type userLogin struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type adminSetupPayload struct {
	Username        string `json:"username" binding:"required"`
	Password        string `json:"password" binding:"required,eqfield=ConfirmPassword"`
	ConfirmPassword string `json:"confirm_password" binding:"required"`
}

// setupResponse has Required set when the admin credentials haven't
// been set yet
type setupResponse struct {
	Required bool `json:"required"`
}

// authMiddleware aborts with 401 unless the request carries a session
// with a username, or if admin credentials were never set.
func authMiddleware(a *Andre, api *API) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := ginContextLogger(c, api.logger)
		rc := a.RuntimeConfig()
		if rc.AdminUsername == "" || rc.AdminPassword == "" {
			logger.Warn("admin username and password not set")
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
			return
		}

		username, err := api.getSessionUsername(c)
		if err != nil {
			logger.Warn("no session username", tint.Err(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
			return
		}
		logger.Debug("got session", sessionVarField, username)
		c.Next()
	}
}

// requestIDMiddleware sets a random X-Request-ID on the context and
// the response
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

// ginContextLogger returns the request logger stored in the gin
// context, or derives one from base with the request details, and
// stores it for the next call.
func ginContextLogger(c *gin.Context, base *slog.Logger) *slog.Logger {
	if logger, ok := c.Get(string(loggerContextKey)); ok {
		if requestLogger, ok := logger.(*slog.Logger); ok {
			return requestLogger
		}
	}
	if base == nil {
		base = slog.Default()
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

// ginLoggingMiddleware logs each request once it's done, with its
// duration and response status, and any private gin errors.
func ginLoggingMiddleware(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestLogger := ginContextLogger(c, base)
		c.Next()
		latency := time.Since(start)

		response := slog.Group(
			"response",
			"status_code", c.Writer.Status(),
			"body_size", c.Writer.Size(),
		)
		var errs []error
		for _, e := range c.Errors.ByType(gin.ErrorTypePrivate) {
			errs = append(errs, *e)
		}
		if len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf("%s %s finished with errors", c.Request.Method, c.Request.URL),
				"duration", latency,
				"errors", errs,
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

// metricMiddleware counts requests by method, route and status
func metricMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		apiRequestsTotal.WithLabelValues(
			c.Request.Method,
			route,
			strconv.Itoa(c.Writer.Status()),
		).Inc()
	}
}

// ginReplyMessage sends {"message": message} with HTTP 200
func ginReplyMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, httpReply{Message: message})
}

// ginReplyError aborts with {"error": err} and HTTP 500
func ginReplyError(c *gin.Context, err string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: err})
}

// generateSelfSignedCert generates a self-signed TLS certificate and
// private key, valid from the current time for 1 year.
func generateSelfSignedCert(certFile string, keyFile string) (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(cryprand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}

	certTemplate := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"AndreBot"}},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		DNSNames:              []string{"localhost"},
	}

	derBytes, err := x509.CreateCertificate(
		cryprand.Reader,
		&certTemplate,
		&certTemplate,
		&priv.PublicKey,
		priv,
	)
	if err != nil {
		return tls.Certificate{}, err
	}

	certOut, err := os.Create(certFile)
	if err != nil {
		return tls.Certificate{}, err
	}
	defer func() {
		_ = certOut.Close()
	}()
	if err = pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: derBytes}); err != nil {
		return tls.Certificate{}, err
	}

	keyOut, err := os.Create(keyFile)
	if err != nil {
		return tls.Certificate{}, err
	}
	defer func() {
		_ = keyOut.Close()
	}()
	privBytes := x509.MarshalPKCS1PrivateKey(priv)
	if err = pem.Encode(keyOut, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: privBytes}); err != nil {
		return tls.Certificate{}, err
	}

	return tls.LoadX509KeyPair(certFile, keyFile)
}
