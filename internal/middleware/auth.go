package middleware

import (
	"context"
	"net/http"
	"net/url"

	"councilboard/internal/services"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// SessionKey is the gin context key holding *services.SessionData.
	SessionKey = "session"
	// TokenKey is the cookie session field holding the opaque session token.
	TokenKey = "token"
)

type SessionReader interface {
	Get(ctx context.Context, token string) *services.SessionData
}

type AdminChecker interface {
	IsAdmin(ctx context.Context, login string) (bool, error)
}

// LoadSession resolves the cookie token into session data. A stale token is
// dropped from the cookie.
func LoadSession(store SessionReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		cookie := sessions.Default(c)
		token, _ := cookie.Get(TokenKey).(string)

		if token != "" {
			if data := store.Get(c.Request.Context(), token); data != nil {
				c.Set(SessionKey, data)
			} else {
				cookie.Delete(TokenKey)
				_ = cookie.Save()
			}
		}
		c.Next()
	}
}

// CurrentSession returns the request's session or nil.
func CurrentSession(c *gin.Context) *services.SessionData {
	v, ok := c.Get(SessionKey)
	if !ok {
		return nil
	}
	data, _ := v.(*services.SessionData)
	return data
}

// RequireSession sends anonymous visitors to sign-in, remembering where they were going.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if CurrentSession(c) == nil {
			redirectToSignIn(c)
			return
		}
		c.Next()
	}
}

// RequireAdmin re-reads the role on every request instead of trusting the
// role cached when the session was loaded.
func RequireAdmin(checker AdminChecker, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := CurrentSession(c)
		if sess == nil {
			redirectToSignIn(c)
			return
		}

		ok, err := checker.IsAdmin(c.Request.Context(), sess.Login)
		if err != nil {
			log.Error("admin check failed", zap.String("login", sess.Login), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": services.ErrForbidden.Error()})
			return
		}
		c.Next()
	}
}

func redirectToSignIn(c *gin.Context) {
	target := "/signin?redirectTo=" + url.QueryEscape(c.Request.URL.RequestURI())
	c.Redirect(http.StatusFound, target)
	c.Abort()
}
