package handlers

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"councilboard/internal/middleware"
	"councilboard/internal/services"
	"councilboard/internal/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type IssueHandler struct {
	issues         *services.IssueService
	votes          *services.VoteLedger
	council        AdminChecker
	notifier       IssueNotifier
	issueLimiter   services.Limiter
	commentLimiter services.Limiter
	log            *zap.Logger
}

func NewIssueHandler(
	issues *services.IssueService,
	votes *services.VoteLedger,
	council AdminChecker,
	notifier IssueNotifier,
	issueLimiter, commentLimiter services.Limiter,
	log *zap.Logger,
) *IssueHandler {
	return &IssueHandler{
		issues:         issues,
		votes:          votes,
		council:        council,
		notifier:       notifier,
		issueLimiter:   issueLimiter,
		commentLimiter: commentLimiter,
		log:            log,
	}
}

type issueView struct {
	ID              uint          `json:"id"`
	Title           string        `json:"title"`
	Description     string        `json:"description"`
	DescriptionHTML string        `json:"descriptionHtml,omitempty"`
	Archived        bool          `json:"archived"`
	CreatedAt       time.Time     `json:"createdAt"`
	Votes           int64         `json:"votes"`
	HasVoted        bool          `json:"hasVoted"`
	CommentCount    int64         `json:"commentCount"`
	Comments        []commentView `json:"comments,omitempty"`
}

type commentView struct {
	ID        uint      `json:"id"`
	Text      string    `json:"text"`
	TextHTML  string    `json:"textHtml"`
	Official  bool      `json:"official"`
	CreatedAt time.Time `json:"createdAt"`
	Votes     int64     `json:"votes"`
	HasVoted  bool      `json:"hasVoted"`
}

type issueForm struct {
	Title       string `form:"title" binding:"required,min=5,max=150"`
	Description string `form:"description" binding:"required,min=10,max=5000"`
}

// List returns open issues, or archived ones with ?archived=true. ?sort=hot
// orders by recent activity instead of age.
func (h *IssueHandler) List(c *gin.Context) {
	ctx := c.Request.Context()
	archived := utils.FormBool(c.Query("archived"))

	issues, err := h.issues.List(ctx, archived)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	ids := make([]uint, len(issues))
	for i, issue := range issues {
		ids[i] = issue.ID
	}
	counts, err := h.votes.CountIssueVotes(ctx, ids)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	voted, err := h.votes.VotedIssues(ctx, currentLogin(c), ids)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	comments, err := h.issues.CountComments(ctx, ids)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	views := make([]issueView, len(issues))
	for i, issue := range issues {
		views[i] = issueView{
			ID:           issue.ID,
			Title:        issue.Title,
			Description:  issue.Description,
			Archived:     issue.Archived,
			CreatedAt:    issue.CreatedAt,
			Votes:        counts[issue.ID],
			HasVoted:     voted[issue.ID],
			CommentCount: comments[issue.ID],
		}
	}

	sortBy := c.DefaultQuery("sort", "new")
	if sortBy == "hot" {
		now := time.Now()
		scores := make(map[uint]float64, len(views))
		for _, v := range views {
			scores[v.ID] = utils.HotScore(v.CreatedAt, now, v.Votes, v.CommentCount)
		}
		sort.SliceStable(views, func(i, j int) bool {
			return scores[views[i].ID] > scores[views[j].ID]
		})
	} else {
		sortBy = "new"
	}
	c.JSON(http.StatusOK, gin.H{"issues": views, "archived": archived, "sort": sortBy})
}

// Create files a new anonymous issue.
func (h *IssueHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()
	login := currentLogin(c)

	// Only well-formed submissions spend budget.
	var form issueForm
	if err := bind(c, &form); err != nil {
		writeError(c, h.log, err)
		return
	}
	if err := services.ValidateIssue(form.Title, form.Description); err != nil {
		writeError(c, h.log, err)
		return
	}

	if err := h.issueLimiter.Consume(ctx, "issue:"+login, 1); err != nil {
		writeError(c, h.log, err)
		return
	}

	issue, err := h.issues.Create(ctx, form.Title, form.Description)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	h.notifier.IssueCreated(*issue)
	c.JSON(http.StatusCreated, gin.H{"id": issue.ID})
}

// Detail returns an issue with its rendered comments and vote state.
func (h *IssueHandler) Detail(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	login := currentLogin(c)

	issue, err := h.issues.Get(ctx, id)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	comments, err := h.issues.Comments(ctx, id)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	issueCounts, err := h.votes.CountIssueVotes(ctx, []uint{id})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	issueVoted, err := h.votes.VotedIssues(ctx, login, []uint{id})
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	commentIDs := make([]uint, len(comments))
	for i, cm := range comments {
		commentIDs[i] = cm.ID
	}
	commentCounts, err := h.votes.CountCommentVotes(ctx, commentIDs)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	commentVoted, err := h.votes.VotedComments(ctx, login, commentIDs)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	view := issueView{
		ID:              issue.ID,
		Title:           issue.Title,
		Description:     issue.Description,
		DescriptionHTML: utils.RenderMarkdown(issue.Description),
		Archived:        issue.Archived,
		CreatedAt:       issue.CreatedAt,
		Votes:           issueCounts[issue.ID],
		HasVoted:        issueVoted[issue.ID],
		CommentCount:    int64(len(comments)),
		Comments:        make([]commentView, len(comments)),
	}
	for i, cm := range comments {
		view.Comments[i] = commentView{
			ID:        cm.ID,
			Text:      cm.Text,
			TextHTML:  utils.RenderMarkdown(cm.Text),
			Official:  cm.Official,
			CreatedAt: cm.CreatedAt,
			Votes:     commentCounts[cm.ID],
			HasVoted:  commentVoted[cm.ID],
		}
	}
	c.JSON(http.StatusOK, view)
}

// Action dispatches the _action posted on an issue page.
func (h *IssueHandler) Action(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	sess := middleware.CurrentSession(c)

	action, err := parseIssueAction(c)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	switch a := action.(type) {
	case voteIssueAction:
		res, err := h.votes.ToggleIssueVote(ctx, id, sess.Login)
		if err != nil {
			writeError(c, h.log, err)
			return
		}
		c.JSON(http.StatusOK, res)

	case postCommentAction:
		// A non-admin asking for an official statement is refused, not downgraded.
		if a.Official {
			if err := requireAdmin(ctx, h.council, sess); err != nil {
				writeError(c, h.log, err)
				return
			}
		}
		// Archived issues answer with the domain error even when the budget is spent.
		// AddComment checks again under the row lock.
		issue, err := h.issues.Get(ctx, id)
		if err != nil {
			writeError(c, h.log, err)
			return
		}
		if issue.Archived {
			writeError(c, h.log, services.ErrArchived)
			return
		}
		key := "comment:" + sess.Login + ":" + strconv.FormatUint(uint64(id), 10)
		if err := h.commentLimiter.Consume(ctx, key, 1); err != nil {
			writeError(c, h.log, err)
			return
		}
		comment, err := h.issues.AddComment(ctx, id, a.Text, a.Official)
		if err != nil {
			writeError(c, h.log, err)
			return
		}
		h.notifier.CommentCreated(*issue, *comment)
		c.JSON(http.StatusCreated, gin.H{"id": comment.ID, "official": comment.Official})

	case voteCommentAction:
		res, err := h.votes.ToggleCommentVote(ctx, id, a.CommentID, sess.Login)
		if err != nil {
			writeError(c, h.log, err)
			return
		}
		c.JSON(http.StatusOK, res)

	case archiveIssueAction:
		if err := requireAdmin(ctx, h.council, sess); err != nil {
			writeError(c, h.log, err)
			return
		}
		issue, changed, err := h.issues.SetArchived(ctx, id, a.Archived)
		if err != nil {
			writeError(c, h.log, err)
			return
		}
		if changed {
			h.notifier.IssueArchived(*issue, a.Archived)
		}
		c.JSON(http.StatusOK, gin.H{"id": issue.ID, "archived": issue.Archived})

	default:
		writeError(c, h.log, unknownAction("unsupported"))
	}
}

var _ IssueNotifier = (*services.Notifier)(nil)
