package http

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Chorus/internal/adapters/rtc"
	"github.com/dkeye/Chorus/internal/adapters/signal"
	"github.com/dkeye/Chorus/internal/app/account"
	"github.com/dkeye/Chorus/internal/app/orch"
	"github.com/dkeye/Chorus/internal/config"
	"github.com/dkeye/Chorus/internal/core"
	"github.com/dkeye/Chorus/internal/domain"
)

const sessionUserKey = "user_id"

type credentials struct {
	Username string `json:"username" binding:"required,max=36"`
	Password string `json:"password" binding:"required"`
	Email    string `json:"email" binding:"omitempty,email"`
}

type handlers struct {
	orch     *orch.Orchestrator
	accounts *account.Service
	store    core.Store
	cfg      *config.Config
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, store core.Store, ctl *signal.SignalWSController) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	cookieStore := cookie.NewStore([]byte(cfg.Secret))
	cookieStore.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions("ChorusSession", cookieStore))

	h := &handlers{orch: o, accounts: account.NewService(store), store: store, cfg: cfg}

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(filepath.Join(cfg.StaticPath, "index.html"))
	})

	api := r.Group("/api")
	api.POST("/register", h.register)
	api.POST("/login", h.login)
	api.POST("/logout", h.logout)
	api.GET("/me", h.me)
	api.GET("/rooms", h.rooms)
	api.GET("/online-users", h.onlineUsers)
	api.GET("/users/:id/status", h.userStatus)
	api.GET("/rtc-config", h.rtcConfig)
	api.GET("/stats", h.stats)
	api.GET("/ws", func(c *gin.Context) {
		ctl.HandleSignal(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")
	return r
}

func errorJSON(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, gin.H{"error": msg})
}

func (h *handlers) register(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "username and password are required")
		return
	}
	u, err := h.accounts.Register(c.Request.Context(), req.Username, req.Password, req.Email)
	switch {
	case err == nil:
	case errors.Is(err, core.ErrUsernameTaken):
		errorJSON(c, http.StatusConflict, "username taken")
		return
	case errors.Is(err, domain.ErrPasswordShort),
		errors.Is(err, domain.ErrPasswordLong),
		errors.Is(err, domain.ErrUsernameEmpty),
		errors.Is(err, domain.ErrUsernameTooLong):
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	default:
		log.Error().Err(err).Str("module", "adapters.http").Msg("register")
		errorJSON(c, http.StatusInternalServerError, "server error")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "user": u})
}

func (h *handlers) login(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "username and password are required")
		return
	}
	u, err := h.accounts.Login(c.Request.Context(), req.Username, req.Password)
	if errors.Is(err, account.ErrInvalidCredentials) {
		errorJSON(c, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("login")
		errorJSON(c, http.StatusInternalServerError, "server error")
		return
	}

	sess := sessions.Default(c)
	sess.Set(sessionUserKey, int64(u.ID))
	if err := sess.Save(); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("save session")
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": u})
}

func (h *handlers) logout(c *gin.Context) {
	sess := sessions.Default(c)
	sess.Clear()
	sess.Options(sessions.Options{Path: "/", MaxAge: -1})
	_ = sess.Save()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *handlers) me(c *gin.Context) {
	id, ok := sessions.Default(c).Get(sessionUserKey).(int64)
	if !ok {
		errorJSON(c, http.StatusUnauthorized, "not logged in")
		return
	}
	u, err := h.accounts.Get(c.Request.Context(), domain.UserID(id))
	if errors.Is(err, core.ErrNotFound) {
		errorJSON(c, http.StatusUnauthorized, "not logged in")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("me")
		errorJSON(c, http.StatusInternalServerError, "server error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

func (h *handlers) rooms(c *gin.Context) {
	rooms, err := h.store.ListRooms(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("list rooms")
		errorJSON(c, http.StatusInternalServerError, "database error")
		return
	}
	c.JSON(http.StatusOK, rooms)
}

func (h *handlers) onlineUsers(c *gin.Context) {
	c.JSON(http.StatusOK, h.orch.OnlineUsers())
}

// userStatus reports the persisted status of a user, read from the status
// mirror when the store has one.
func (h *handlers) userStatus(c *gin.Context) {
	raw, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || raw <= 0 {
		errorJSON(c, http.StatusBadRequest, "invalid user id")
		return
	}
	id := domain.UserID(raw)
	ctx := c.Request.Context()

	if sr, ok := h.store.(core.StatusReader); ok {
		status, err := sr.Status(ctx, id)
		if err == nil {
			c.JSON(http.StatusOK, gin.H{"id": id, "status": status})
			return
		}
		log.Warn().Err(err).Str("module", "adapters.http").Int64("user", raw).Msg("status mirror read")
	}

	u, err := h.store.FindUserByID(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		errorJSON(c, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("user status")
		errorJSON(c, http.StatusInternalServerError, "database error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": u.Status})
}

func (h *handlers) rtcConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"iceServers": rtc.ICEServers(h.cfg.ICEServers)})
}

func (h *handlers) stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connections": h.orch.Connections(),
		"online":      len(h.orch.OnlineUsers()),
		"rooms":       h.orch.RoomStats(),
	})
}
