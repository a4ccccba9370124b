package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"councilboard/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionData is what request handlers see of a session.
type SessionData struct {
	Login     string      `json:"login"`
	Role      models.Role `json:"role"`
	CreatedAt time.Time   `json:"createdAt"`
	SessionID string      `json:"sessionId"`
}

type SessionService struct {
	db  *gorm.DB
	log *zap.Logger
	ttl time.Duration
	now func() time.Time
}

func NewSessionService(db *gorm.DB, log *zap.Logger, ttl time.Duration) *SessionService {
	return &SessionService{db: db, log: log, ttl: ttl, now: time.Now}
}

// TTL is the absolute session lifetime, also used as the cookie max-age.
func (s *SessionService) TTL() time.Duration {
	return s.ttl
}

// Create upserts the user and opens a new session. The returned token is the
// only thing that should ever leave the server.
func (s *SessionService) Create(ctx context.Context, login, picture string) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	now := s.now().UTC()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user := models.User{Login: login, Role: models.RoleUser, Picture: picture}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "login"}},
			DoUpdates: clause.AssignmentColumns([]string{"picture", "updated_at"}),
		}).Create(&user).Error; err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}

		session := models.Session{
			ID:        uuid.NewString(),
			Token:     token,
			UserLogin: login,
			CreatedAt: now,
			ExpiresAt: now.Add(s.ttl),
		}
		if err := tx.Create(&session).Error; err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// Get resolves a token. Unknown, expired and unreadable sessions all yield nil.
func (s *SessionService) Get(ctx context.Context, token string) *SessionData {
	if token == "" {
		return nil
	}

	var session models.Session
	err := s.db.WithContext(ctx).Preload("User").Where("token = ?", token).First(&session).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.Warn("session lookup failed", zap.Error(err))
		}
		return nil
	}

	if !s.now().Before(session.ExpiresAt) {
		if err := s.db.WithContext(ctx).Delete(&models.Session{}, "id = ?", session.ID).Error; err != nil {
			s.log.Warn("failed to delete expired session", zap.String("session_id", session.ID), zap.Error(err))
		}
		return nil
	}

	return &SessionData{
		Login:     session.UserLogin,
		Role:      session.User.Role,
		CreatedAt: session.CreatedAt,
		SessionID: session.ID,
	}
}

// Destroy removes the session if it exists.
func (s *SessionService) Destroy(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.db.WithContext(ctx).Where("token = ?", token).Delete(&models.Session{}).Error
}

// PurgeExpired deletes every session past its expiry.
func (s *SessionService) PurgeExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", s.now().UTC()).Delete(&models.Session{})
	return res.RowsAffected, res.Error
}

// generateToken returns 32 random bytes, URL-safe encoded.
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
