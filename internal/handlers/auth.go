package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"councilboard/internal/middleware"
	"councilboard/internal/services"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Authenticator interface {
	AuthCodeURL(state string) string
	Authenticate(ctx context.Context, code string) (*services.Profile, error)
}

type SessionManager interface {
	Create(ctx context.Context, login, picture string) (string, error)
	Destroy(ctx context.Context, token string) error
}

type AuthHandler struct {
	identity Authenticator
	states   services.StateStore
	sessions SessionManager
	log      *zap.Logger
}

func NewAuthHandler(identity Authenticator, states services.StateStore, sessions SessionManager, log *zap.Logger) *AuthHandler {
	return &AuthHandler{identity: identity, states: states, sessions: sessions, log: log}
}

// SignIn describes how to sign in and which warning to show.
func (h *AuthHandler) SignIn(c *gin.Context) {
	redirectTo := safeRedirect(c.Query("redirectTo"))
	if middleware.CurrentSession(c) != nil {
		c.Redirect(http.StatusFound, redirectTo)
		return
	}

	warnings := []services.SignInFlag{}
	query := c.Request.URL.Query()
	for _, flag := range services.SignInFlags {
		if _, ok := query[string(flag)]; ok {
			warnings = append(warnings, flag)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"loginUrl":   "/auth/42?redirectTo=" + url.QueryEscape(redirectTo),
		"warnings":   warnings,
		"redirectTo": redirectTo,
	})
}

// Start creates a single-use state and sends the browser to the provider.
func (h *AuthHandler) Start(c *gin.Context) {
	redirectTo := safeRedirect(c.Query("redirectTo"))
	state, err := h.states.Create(c.Request.Context(), redirectTo)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.Redirect(http.StatusFound, h.identity.AuthCodeURL(state))
}

// Callback finishes the OAuth flow. Every failure redirects to sign-in with a
// warning flag and never creates a session.
func (h *AuthHandler) Callback(c *gin.Context) {
	ctx := c.Request.Context()

	redirectTo, ok, err := h.states.Check(ctx, c.Query("state"))
	if err != nil {
		h.log.Error("oauth state check failed", zap.Error(err))
	}
	if !ok {
		redirectTo = "/"
	}

	if c.Query("error") != "" {
		h.log.Info("oauth denied by provider", zap.String("error", c.Query("error")))
		signInRedirect(c, services.FlagOAuthDenied, redirectTo)
		return
	}
	if !ok {
		signInRedirect(c, services.FlagOAuthFailed, redirectTo)
		return
	}

	profile, err := h.identity.Authenticate(ctx, c.Query("code"))
	if err != nil {
		var serr *services.SignInError
		if errors.As(err, &serr) {
			h.log.Info("sign-in rejected", zap.String("flag", string(serr.Flag)), zap.Error(serr.Err))
			signInRedirect(c, serr.Flag, redirectTo)
			return
		}
		h.log.Error("sign-in failed", zap.Error(err))
		signInRedirect(c, services.FlagAPIError, redirectTo)
		return
	}

	token, err := h.sessions.Create(ctx, profile.Login, string(profile.Image))
	if err != nil {
		h.log.Error("failed to create session", zap.String("login", profile.Login), zap.Error(err))
		signInRedirect(c, services.FlagAPIError, redirectTo)
		return
	}

	cookie := sessions.Default(c)
	cookie.Set(middleware.TokenKey, token)
	if err := cookie.Save(); err != nil {
		writeError(c, h.log, err)
		return
	}

	h.log.Info("user signed in", zap.String("login", profile.Login))
	c.Redirect(http.StatusFound, redirectTo)
}

// SignOut is idempotent: it always clears the cookie and goes home.
func (h *AuthHandler) SignOut(c *gin.Context) {
	cookie := sessions.Default(c)
	if token, _ := cookie.Get(middleware.TokenKey).(string); token != "" {
		if err := h.sessions.Destroy(c.Request.Context(), token); err != nil {
			h.log.Warn("failed to destroy session", zap.Error(err))
		}
	}
	cookie.Clear()
	cookie.Options(sessions.Options{Path: "/", MaxAge: -1})
	if err := cookie.Save(); err != nil {
		h.log.Warn("failed to clear session cookie", zap.Error(err))
	}
	c.Redirect(http.StatusFound, "/")
}

// Me returns the current session.
func (h *AuthHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, middleware.CurrentSession(c))
}

func signInRedirect(c *gin.Context, flag services.SignInFlag, redirectTo string) {
	c.Redirect(http.StatusFound, "/signin?"+string(flag)+"&redirectTo="+url.QueryEscape(redirectTo))
}

// safeRedirect only lets through relative paths on this site.
func safeRedirect(target string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return "/"
	}
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/"
	}
	return target
}
