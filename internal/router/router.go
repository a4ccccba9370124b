package router

import (
	"net/http"

	"councilboard/internal/handlers"
	"councilboard/internal/middleware"
	"councilboard/internal/services"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CookieName is the name of the signed cookie carrying the session token.
const CookieName = "session"

// Deps is everything the HTTP layer needs.
type Deps struct {
	Log *zap.Logger

	SessionSecret string
	SecureCookies bool

	Sessions *services.SessionService
	Identity handlers.Authenticator
	States   services.StateStore

	Issues  *services.IssueService
	Polls   *services.PollService
	Council *services.CouncilService
	Votes   *services.VoteLedger

	IssueLimiter   services.Limiter
	CommentLimiter services.Limiter
	Notifier       handlers.IssueNotifier

	Ping handlers.Pinger
}

// New builds the engine with middleware and routes.
func New(d Deps) *gin.Engine {
	handlers.RegisterValidation()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(d.Log))

	store := cookie.NewStore([]byte(d.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int(d.Sessions.TTL().Seconds()),
		HttpOnly: true,
		Secure:   d.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions(CookieName, store))
	r.Use(middleware.LoadSession(d.Sessions))

	RegisterRoutes(r, d)
	return r
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	authHandler := handlers.NewAuthHandler(d.Identity, d.States, d.Sessions, d.Log)
	issueHandler := handlers.NewIssueHandler(d.Issues, d.Votes, d.Council, d.Notifier, d.IssueLimiter, d.CommentLimiter, d.Log)
	pollHandler := handlers.NewPollHandler(d.Polls, d.Votes, d.Council, d.Log)
	councilHandler := handlers.NewCouncilHandler(d.Council, d.Log)
	healthHandler := handlers.NewHealthHandler(d.Ping, d.Log)

	requireAdmin := middleware.RequireAdmin(d.Council, d.Log)

	// Public routes
	r.GET("/healthz", healthHandler.Check)
	r.GET("/signin", authHandler.SignIn)             // sign-in info and warnings
	r.GET("/auth/42", authHandler.Start)             // start OAuth
	r.GET("/auth/42/callback", authHandler.Callback) // finish OAuth
	r.POST("/signout", authHandler.SignOut)
	r.GET("/council", councilHandler.List)

	// Signed-in routes
	authorized := r.Group("/")
	authorized.Use(middleware.RequireSession())
	{
		authorized.GET("/me", authHandler.Me)

		authorized.GET("/issues", issueHandler.List)
		authorized.POST("/issues", issueHandler.Create) // rate limited
		authorized.GET("/issues/:id", issueHandler.Detail)
		authorized.POST("/issues/:id", issueHandler.Action) // vote, comments, archive

		authorized.GET("/polls", pollHandler.List)
		authorized.POST("/polls", requireAdmin, pollHandler.Create)
		authorized.GET("/polls/:id", pollHandler.Detail)
		authorized.POST("/polls/:id", pollHandler.Action) // options, votes, archive

		authorized.POST("/council", requireAdmin, councilHandler.Action)
	}
}
