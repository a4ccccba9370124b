package services

import (
	"context"
	"fmt"
	"strings"

	"councilboard/internal/models"

	"gorm.io/gorm"
)

// MinPollOptions is the smallest number of distinct options a new poll may have.
const MinPollOptions = 2

type PollService struct {
	db *gorm.DB
}

func NewPollService(db *gorm.DB) *PollService {
	return &PollService{db: db}
}

// Create stores a poll with its initial options. Options are trimmed and must
// be distinct, ignoring case.
func (s *PollService) Create(ctx context.Context, title, description string, options []string) (*models.Poll, error) {
	title = strings.TrimSpace(title)
	description = strings.TrimSpace(description)

	verr := &ValidationError{Fields: map[string]string{}}
	checkLength(verr, "title", title, TitleMinLen, TitleMaxLen)
	if description != "" {
		checkLength(verr, "description", description, DescriptionMinLen, DescriptionMaxLen)
	}

	seen := make(map[string]bool, len(options))
	var cleaned []models.PollOption
	for _, opt := range options {
		opt = strings.TrimSpace(opt)
		if opt == "" {
			continue
		}
		if len([]rune(opt)) > OptionMaxLen {
			verr.Fields["options"] = fmt.Sprintf("each option must be at most %d characters", OptionMaxLen)
			continue
		}
		key := strings.ToLower(opt)
		if seen[key] {
			continue
		}
		seen[key] = true
		cleaned = append(cleaned, models.PollOption{Text: opt})
	}
	if _, ok := verr.Fields["options"]; !ok && len(cleaned) < MinPollOptions {
		verr.Fields["options"] = fmt.Sprintf("a poll needs at least %d distinct options", MinPollOptions)
	}
	if len(verr.Fields) > 0 {
		return nil, verr
	}

	poll := models.Poll{Title: title, Description: description, Options: cleaned}
	if err := s.db.WithContext(ctx).Create(&poll).Error; err != nil {
		return nil, fmt.Errorf("create poll: %w", err)
	}
	return &poll, nil
}

// Get loads a poll with its options in creation order.
func (s *PollService) Get(ctx context.Context, id uint) (*models.Poll, error) {
	var poll models.Poll
	err := s.db.WithContext(ctx).
		Preload("Options", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		First(&poll, id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &poll, nil
}

func (s *PollService) List(ctx context.Context, archived bool) ([]models.Poll, error) {
	var polls []models.Poll
	err := s.db.WithContext(ctx).
		Where("archived = ?", archived).
		Order("created_at DESC, id DESC").
		Find(&polls).Error
	if err != nil {
		return nil, fmt.Errorf("list polls: %w", err)
	}
	return polls, nil
}

// AddOption appends an option to an open poll.
func (s *PollService) AddOption(ctx context.Context, pollID uint, text string) (*models.PollOption, error) {
	text = strings.TrimSpace(text)
	verr := &ValidationError{Fields: map[string]string{}}
	checkLength(verr, "option", text, OptionMinLen, OptionMaxLen)
	if len(verr.Fields) > 0 {
		return nil, verr
	}

	option := models.PollOption{PollID: pollID, Text: text}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockOpen(tx, &models.Poll{}, pollID); err != nil {
			return err
		}
		var dup int64
		if err := tx.Model(&models.PollOption{}).
			Where("poll_id = ? AND LOWER(text) = ?", pollID, strings.ToLower(text)).
			Count(&dup).Error; err != nil {
			return err
		}
		if dup > 0 {
			return NewValidationError("option", "this option already exists")
		}
		return tx.Create(&option).Error
	})
	if err != nil {
		return nil, err
	}
	return &option, nil
}

// SetArchived is idempotent. changed reports whether the flag actually flipped.
func (s *PollService) SetArchived(ctx context.Context, id uint, archived bool) (poll *models.Poll, changed bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Poll{}).Where("id = ? AND archived = ?", id, !archived).Update("archived", archived)
		if res.Error != nil {
			return res.Error
		}
		changed = res.RowsAffected > 0

		var current models.Poll
		if err := tx.First(&current, id).Error; err != nil {
			return notFound(err)
		}
		poll = &current
		return nil
	})
	return poll, changed, err
}
