package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"councilboard/internal/models"

	"gorm.io/gorm"
)

const (
	TitleMinLen       = 5
	TitleMaxLen       = 150
	DescriptionMinLen = 10
	DescriptionMaxLen = 5000
	CommentMinLen     = 2
	CommentMaxLen     = 2000
	OptionMinLen      = 1
	OptionMaxLen      = 200
)

type IssueService struct {
	db *gorm.DB
}

func NewIssueService(db *gorm.DB) *IssueService {
	return &IssueService{db: db}
}

// ValidateIssue applies the length rules Create enforces, on trimmed input.
// Handlers call it before spending rate-limit budget.
func ValidateIssue(title, description string) error {
	verr := &ValidationError{Fields: map[string]string{}}
	checkLength(verr, "title", strings.TrimSpace(title), TitleMinLen, TitleMaxLen)
	checkLength(verr, "description", strings.TrimSpace(description), DescriptionMinLen, DescriptionMaxLen)
	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

// Create stores a new open issue. The author is not recorded.
func (s *IssueService) Create(ctx context.Context, title, description string) (*models.Issue, error) {
	if err := ValidateIssue(title, description); err != nil {
		return nil, err
	}

	issue := models.Issue{Title: strings.TrimSpace(title), Description: strings.TrimSpace(description)}
	if err := s.db.WithContext(ctx).Create(&issue).Error; err != nil {
		return nil, fmt.Errorf("create issue: %w", err)
	}
	return &issue, nil
}

func (s *IssueService) Get(ctx context.Context, id uint) (*models.Issue, error) {
	var issue models.Issue
	if err := s.db.WithContext(ctx).First(&issue, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &issue, nil
}

// List returns open or archived issues, newest first.
func (s *IssueService) List(ctx context.Context, archived bool) ([]models.Issue, error) {
	var issues []models.Issue
	err := s.db.WithContext(ctx).
		Where("archived = ?", archived).
		Order("created_at DESC, id DESC").
		Find(&issues).Error
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	return issues, nil
}

// Comments returns an issue's comments in posting order.
func (s *IssueService) Comments(ctx context.Context, issueID uint) ([]models.Comment, error) {
	var comments []models.Comment
	err := s.db.WithContext(ctx).
		Where("issue_id = ?", issueID).
		Order("created_at ASC, id ASC").
		Find(&comments).Error
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}

func (s *IssueService) CountComments(ctx context.Context, issueIDs []uint) (map[uint]int64, error) {
	return countBy(s.db.WithContext(ctx), &models.Comment{}, "issue_id", issueIDs)
}

// SetArchived is idempotent. changed reports whether the flag actually flipped.
func (s *IssueService) SetArchived(ctx context.Context, id uint, archived bool) (issue *models.Issue, changed bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Issue{}).Where("id = ? AND archived = ?", id, !archived).Update("archived", archived)
		if res.Error != nil {
			return res.Error
		}
		changed = res.RowsAffected > 0

		var current models.Issue
		if err := tx.First(&current, id).Error; err != nil {
			return notFound(err)
		}
		issue = &current
		return nil
	})
	return issue, changed, err
}

// AddComment posts a comment on an open issue. The archived check and the insert
// share one transaction so a concurrent archive cannot slip between them.
func (s *IssueService) AddComment(ctx context.Context, issueID uint, text string, official bool) (*models.Comment, error) {
	if err := ValidateComment(text); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)

	comment := models.Comment{IssueID: issueID, Text: text, Official: official}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockOpen(tx, &models.Issue{}, issueID); err != nil {
			return err
		}
		return tx.Omit("Issue").Create(&comment).Error
	})
	if err != nil {
		return nil, err
	}
	return &comment, nil
}

// SaveMessageIDs stores the webhook message handles used to thread later notifications.
// Empty handles leave the stored value untouched.
func (s *IssueService) SaveMessageIDs(ctx context.Context, issueID uint, council, student string) error {
	updates := map[string]any{}
	if council != "" {
		updates["council_message_id"] = council
	}
	if student != "" {
		updates["student_message_id"] = student
	}
	if len(updates) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Issue{}).Where("id = ?", issueID).Updates(updates).Error
}

// MessageIDs returns the stored webhook message handles of an issue.
func (s *IssueService) MessageIDs(ctx context.Context, issueID uint) (council, student string, err error) {
	var issue models.Issue
	err = s.db.WithContext(ctx).
		Select("council_message_id", "student_message_id").
		First(&issue, issueID).Error
	if err != nil {
		return "", "", notFound(err)
	}
	return issue.CouncilMessageID, issue.StudentMessageID, nil
}

func ValidateComment(text string) error {
	verr := &ValidationError{Fields: map[string]string{}}
	checkLength(verr, "comment", strings.TrimSpace(text), CommentMinLen, CommentMaxLen)
	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

func checkLength(verr *ValidationError, field, value string, min, max int) {
	n := utf8.RuneCountInString(value)
	switch {
	case n == 0:
		verr.Fields[field] = "is required"
	case n < min:
		verr.Fields[field] = fmt.Sprintf("must be at least %d characters", min)
	case n > max:
		verr.Fields[field] = fmt.Sprintf("must be at most %d characters", max)
	}
}
