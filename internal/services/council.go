package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"councilboard/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CouncilService manages council members and answers admin checks.
type CouncilService struct {
	db         *gorm.DB
	superAdmin string
}

func NewCouncilService(db *gorm.DB, superAdminLogin string) *CouncilService {
	return &CouncilService{db: db, superAdmin: strings.TrimSpace(superAdminLogin)}
}

type MemberInput struct {
	Login     string
	FirstName string
	LastName  string
	Email     string
	Picture   string
}

// AddMember upserts the member and promotes the user to ADMIN in one transaction.
// The user row is created if the person has never signed in.
func (s *CouncilService) AddMember(ctx context.Context, in MemberInput) (*models.CouncilMember, error) {
	member := models.CouncilMember{
		Login:     strings.TrimSpace(in.Login),
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		Email:     strings.TrimSpace(in.Email),
		Picture:   strings.TrimSpace(in.Picture),
	}

	verr := &ValidationError{Fields: map[string]string{}}
	checkLength(verr, "login", member.Login, 1, 64)
	checkLength(verr, "firstName", member.FirstName, 1, 100)
	checkLength(verr, "lastName", member.LastName, 1, 100)
	if _, err := mail.ParseAddress(member.Email); err != nil {
		verr.Fields["email"] = "must be a valid email address"
	}
	if len(verr.Fields) > 0 {
		return nil, verr
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "login"}},
			DoUpdates: clause.AssignmentColumns([]string{"first_name", "last_name", "email", "picture"}),
		}).Create(&member).Error; err != nil {
			return fmt.Errorf("upsert council member: %w", err)
		}

		user := models.User{Login: member.Login, Role: models.RoleAdmin, Picture: member.Picture}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "login"}},
			DoUpdates: clause.AssignmentColumns([]string{"role", "updated_at"}),
		}).Create(&user).Error; err != nil {
			return fmt.Errorf("promote user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &member, nil
}

// RemoveMember deletes the member and demotes the user back to USER.
func (s *CouncilService) RemoveMember(ctx context.Context, login string) error {
	login = strings.TrimSpace(login)
	if login == "" {
		return NewValidationError("login", "is required")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("login = ?", login).Delete(&models.CouncilMember{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Model(&models.User{}).Where("login = ?", login).Update("role", models.RoleUser).Error
	})
}

func (s *CouncilService) List(ctx context.Context) ([]models.CouncilMember, error) {
	var members []models.CouncilMember
	if err := s.db.WithContext(ctx).Order("last_name ASC, first_name ASC").Find(&members).Error; err != nil {
		return nil, fmt.Errorf("list council members: %w", err)
	}
	return members, nil
}

// IsAdmin reads the role from the store on every call. The configured
// super-admin login always passes.
func (s *CouncilService) IsAdmin(ctx context.Context, login string) (bool, error) {
	if login == "" {
		return false, nil
	}
	if s.superAdmin != "" && login == s.superAdmin {
		return true, nil
	}

	var user models.User
	err := s.db.WithContext(ctx).Select("role").Where("login = ?", login).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load role: %w", err)
	}
	return user.Role == models.RoleAdmin, nil
}
