package http

import (
	"context"
	nethttp "net/http"
	"os"
	"path/filepath"
	"slices"

	"github.com/dkeye/VoiceRelay/internal/adapters/signal"
	"github.com/dkeye/VoiceRelay/internal/app"
	"github.com/dkeye/VoiceRelay/internal/config"
	"github.com/dkeye/VoiceRelay/internal/metrics"
	"github.com/dkeye/VoiceRelay/internal/token"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

const clientTokenKey = "client_token"

// Deps is everything the router serves.
type Deps struct {
	Engine  *app.Engine
	Metrics *metrics.Metrics
	Signal  *signal.SignalWSController
	Agora   *token.Agora
	TRTC    *token.TRTC
}

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

// ClientTokenMiddleware gives every browser a stable id kept in the cookie
// session and exposes it to handlers as "client_token".
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		ct, _ := session.Get(clientTokenKey).(string)
		if ct == "" {
			ct = genClientToken()
			session.Set(clientTokenKey, ct)
			if err := session.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
			}
		}
		c.Set(clientTokenKey, ct)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true, SameSite: nethttp.SameSiteLaxMode})
	r.Use(sessions.Sessions("VoiceSessions", store))
	r.Use(ClientTokenMiddleware())

	if staticDirExists(cfg.StaticPath) {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(filepath.Join(cfg.StaticPath, "index.html"))
		})
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	h := &handlers{deps: deps}

	r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	api := r.Group("/api")
	api.GET("/ws/signal", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Msg("ws signal endpoint hit")
		deps.Signal.HandleSignal(ctx, c)
	})
	api.GET("/health", h.health)
	api.GET("/rooms", h.rooms)
	api.GET("/agora/appid", h.agoraAppID)
	api.POST("/agora/config", h.agoraConfig)
	api.POST("/trtc/usersig", h.trtcUserSig)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(nethttp.StatusNotFound, gin.H{"error": "Not found"})
	})

	return r
}

// WithCORS wraps h with the configured CORS policy. Credentials are only
// allowed for an explicit origin list.
func WithCORS(origins []string, h nethttp.Handler) nethttp.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{nethttp.MethodGet, nethttp.MethodPost, nethttp.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: !slices.Contains(origins, "*"),
	})
	return c.Handler(h)
}

func staticDirExists(path string) bool {
	if path == "" {
		return false
	}
	st, err := os.Stat(path)
	return err == nil && st.IsDir()
}
