package services

import (
	"context"
	"errors"

	"councilboard/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// VoteResult reports the state after a toggle. Count is derived from the vote rows.
type VoteResult struct {
	Added bool  `json:"added"`
	Count int64 `json:"count"`
}

// VoteLedger is the single write path for issue, comment and poll option votes.
type VoteLedger struct {
	db *gorm.DB
}

func NewVoteLedger(db *gorm.DB) *VoteLedger {
	return &VoteLedger{db: db}
}

func (l *VoteLedger) ToggleIssueVote(ctx context.Context, issueID uint, login string) (VoteResult, error) {
	var res VoteResult
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockOpen(tx, &models.Issue{}, issueID); err != nil {
			return err
		}
		added, err := toggle(tx, &models.IssueVote{IssueID: issueID, UserLogin: login},
			"issue_id = ? AND user_login = ?", issueID, login)
		if err != nil {
			return err
		}
		res.Added = added
		return tx.Model(&models.IssueVote{}).Where("issue_id = ?", issueID).Count(&res.Count).Error
	})
	return res, err
}

// ToggleCommentVote toggles a vote on a comment that must belong to issueID.
func (l *VoteLedger) ToggleCommentVote(ctx context.Context, issueID, commentID uint, login string) (VoteResult, error) {
	var res VoteResult
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockOpen(tx, &models.Issue{}, issueID); err != nil {
			return err
		}
		if err := mustExist(tx, &models.Comment{}, "id = ? AND issue_id = ?", commentID, issueID); err != nil {
			return err
		}
		added, err := toggle(tx, &models.CommentVote{CommentID: commentID, UserLogin: login},
			"comment_id = ? AND user_login = ?", commentID, login)
		if err != nil {
			return err
		}
		res.Added = added
		return tx.Model(&models.CommentVote{}).Where("comment_id = ?", commentID).Count(&res.Count).Error
	})
	return res, err
}

// ToggleOptionVote toggles a vote on an option that must belong to pollID.
func (l *VoteLedger) ToggleOptionVote(ctx context.Context, pollID, optionID uint, login string) (VoteResult, error) {
	var res VoteResult
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockOpen(tx, &models.Poll{}, pollID); err != nil {
			return err
		}
		if err := mustExist(tx, &models.PollOption{}, "id = ? AND poll_id = ?", optionID, pollID); err != nil {
			return err
		}
		added, err := toggle(tx, &models.PollOptionVote{OptionID: optionID, UserLogin: login},
			"option_id = ? AND user_login = ?", optionID, login)
		if err != nil {
			return err
		}
		res.Added = added
		return tx.Model(&models.PollOptionVote{}).Where("option_id = ?", optionID).Count(&res.Count).Error
	})
	return res, err
}

func (l *VoteLedger) CountIssueVotes(ctx context.Context, issueIDs []uint) (map[uint]int64, error) {
	return countBy(l.db.WithContext(ctx), &models.IssueVote{}, "issue_id", issueIDs)
}

func (l *VoteLedger) CountCommentVotes(ctx context.Context, commentIDs []uint) (map[uint]int64, error) {
	return countBy(l.db.WithContext(ctx), &models.CommentVote{}, "comment_id", commentIDs)
}

func (l *VoteLedger) CountOptionVotes(ctx context.Context, optionIDs []uint) (map[uint]int64, error) {
	return countBy(l.db.WithContext(ctx), &models.PollOptionVote{}, "option_id", optionIDs)
}

func (l *VoteLedger) VotedIssues(ctx context.Context, login string, issueIDs []uint) (map[uint]bool, error) {
	return votedBy(l.db.WithContext(ctx), &models.IssueVote{}, "issue_id", login, issueIDs)
}

func (l *VoteLedger) VotedComments(ctx context.Context, login string, commentIDs []uint) (map[uint]bool, error) {
	return votedBy(l.db.WithContext(ctx), &models.CommentVote{}, "comment_id", login, commentIDs)
}

func (l *VoteLedger) VotedOptions(ctx context.Context, login string, optionIDs []uint) (map[uint]bool, error) {
	return votedBy(l.db.WithContext(ctx), &models.PollOptionVote{}, "option_id", login, optionIDs)
}

// toggle deletes the caller's vote if present, otherwise inserts it. A conflicting
// insert means a concurrent toggle already voted; the vote exists, so it counts as added.
func toggle[T any](tx *gorm.DB, row *T, where string, args ...any) (bool, error) {
	var zero T
	del := tx.Where(where, args...).Delete(&zero)
	if del.Error != nil {
		return false, del.Error
	}
	if del.RowsAffected > 0 {
		return false, nil
	}
	if err := tx.Omit(clause.Associations).Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error; err != nil {
		return false, err
	}
	return true, nil
}

// lockOpen takes the row lock of an open issue or poll with a no-op update, so the
// archived check and the following writes are observed together. Zero matched rows
// means the entity is missing or archived.
func lockOpen(tx *gorm.DB, model any, id uint) error {
	res := tx.Model(model).Where("id = ? AND archived = ?", id, false).UpdateColumn("archived", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	if err := mustExist(tx, model, "id = ?", id); err != nil {
		return err
	}
	return ErrArchived
}

func mustExist(tx *gorm.DB, model any, where string, args ...any) error {
	var n int64
	if err := tx.Model(model).Where(where, args...).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func countBy(db *gorm.DB, model any, column string, ids []uint) (map[uint]int64, error) {
	counts := make(map[uint]int64, len(ids))
	if len(ids) == 0 {
		return counts, nil
	}
	type countResult struct {
		TargetID uint
		Count    int64
	}
	var results []countResult
	err := db.Model(model).
		Select(column+" AS target_id, COUNT(*) AS count").
		Where(column+" IN ?", ids).
		Group(column).
		Scan(&results).Error
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		counts[r.TargetID] = r.Count
	}
	return counts, nil
}

func votedBy(db *gorm.DB, model any, column, login string, ids []uint) (map[uint]bool, error) {
	voted := make(map[uint]bool)
	if len(ids) == 0 || login == "" {
		return voted, nil
	}
	var targets []uint
	if err := db.Model(model).Where("user_login = ? AND "+column+" IN ?", login, ids).Pluck(column, &targets).Error; err != nil {
		return nil, err
	}
	for _, id := range targets {
		voted[id] = true
	}
	return voted, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
