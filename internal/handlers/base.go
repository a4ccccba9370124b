package handlers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"councilboard/internal/middleware"
	"councilboard/internal/models"
	"councilboard/internal/services"
	"councilboard/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// AdminChecker answers role questions from the store, never from the session.
type AdminChecker interface {
	IsAdmin(ctx context.Context, login string) (bool, error)
}

// IssueNotifier receives issue events after they are committed.
type IssueNotifier interface {
	IssueCreated(issue models.Issue)
	CommentCreated(issue models.Issue, comment models.Comment)
	IssueArchived(issue models.Issue, archived bool)
}

var registerOnce sync.Once

// RegisterValidation makes validation errors report form field names.
func RegisterValidation() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
}

// writeError is the single place where service errors become HTTP responses.
func writeError(c *gin.Context, log *zap.Logger, err error) {
	var verr *services.ValidationError
	var rerr *services.RateLimitError
	var fieldErrs validator.ValidationErrors

	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"errors": verr.Fields})
	case errors.As(err, &fieldErrs):
		c.JSON(http.StatusBadRequest, gin.H{"errors": validationMessages(fieldErrs)})
	case errors.As(err, &rerr):
		// Keys embed the login and issue id; only the action name is logged.
		action, _, _ := strings.Cut(rerr.Key, ":")
		log.Info("rate limit hit", zap.String("action", action), zap.Duration("retry_after", rerr.RetryAfter))
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(rerr.RetryAfter.Seconds()))))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": services.ErrRateLimited.Error()})
	case errors.Is(err, services.ErrArchived):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": services.ErrNotFound.Error()})
	case errors.Is(err, services.ErrForbidden):
		c.JSON(http.StatusUnauthorized, gin.H{"error": services.ErrForbidden.Error()})
	default:
		_ = c.Error(err)
		log.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func validationMessages(errs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(errs))
	for _, fe := range errs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			out[field] = "is required"
		case "min":
			out[field] = fmt.Sprintf("must be at least %s characters", fe.Param())
		case "max":
			out[field] = fmt.Sprintf("must be at most %s characters", fe.Param())
		case "email":
			out[field] = "must be a valid email address"
		case "url":
			out[field] = "must be a valid URL"
		case "oneof":
			out[field] = "must be one of: " + fe.Param()
		default:
			out[field] = "is invalid"
		}
	}
	return out
}

// bind parses the form into dst. The returned error is ready for writeError.
func bind(c *gin.Context, dst any) error {
	if err := c.ShouldBind(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			return fieldErrs
		}
		return services.NewValidationError("form", "could not be parsed")
	}
	return nil
}

// pathID reads a positive numeric route parameter, or answers 404.
func pathID(c *gin.Context, name string) (uint, bool) {
	id, ok := utils.ParseID(c.Param(name))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": services.ErrNotFound.Error()})
		return 0, false
	}
	return id, true
}

// requireAdmin re-checks the acting user's role and returns ErrForbidden if it fails.
func requireAdmin(ctx context.Context, checker AdminChecker, sess *services.SessionData) error {
	if sess == nil {
		return services.ErrForbidden
	}
	ok, err := checker.IsAdmin(ctx, sess.Login)
	if err != nil {
		return err
	}
	if !ok {
		return services.ErrForbidden
	}
	return nil
}

func currentLogin(c *gin.Context) string {
	if sess := middleware.CurrentSession(c); sess != nil {
		return sess.Login
	}
	return ""
}
