package handlers

import (
	"net/http"
	"time"

	"councilboard/internal/middleware"
	"councilboard/internal/services"
	"councilboard/internal/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type PollHandler struct {
	polls   *services.PollService
	votes   *services.VoteLedger
	council AdminChecker
	log     *zap.Logger
}

func NewPollHandler(polls *services.PollService, votes *services.VoteLedger, council AdminChecker, log *zap.Logger) *PollHandler {
	return &PollHandler{polls: polls, votes: votes, council: council, log: log}
}

type pollView struct {
	ID              uint         `json:"id"`
	Title           string       `json:"title"`
	Description     string       `json:"description"`
	DescriptionHTML string       `json:"descriptionHtml,omitempty"`
	Archived        bool         `json:"archived"`
	CreatedAt       time.Time    `json:"createdAt"`
	Options         []optionView `json:"options,omitempty"`
}

type optionView struct {
	ID       uint   `json:"id"`
	Text     string `json:"text"`
	Votes    int64  `json:"votes"`
	HasVoted bool   `json:"hasVoted"`
}

type pollForm struct {
	Title       string   `form:"title" binding:"required,min=5,max=150"`
	Description string   `form:"description" binding:"max=5000"`
	Options     []string `form:"options"`
}

func (h *PollHandler) List(c *gin.Context) {
	archived := utils.FormBool(c.Query("archived"))
	polls, err := h.polls.List(c.Request.Context(), archived)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	views := make([]pollView, len(polls))
	for i, p := range polls {
		views[i] = pollView{
			ID:          p.ID,
			Title:       p.Title,
			Description: p.Description,
			Archived:    p.Archived,
			CreatedAt:   p.CreatedAt,
		}
	}
	c.JSON(http.StatusOK, gin.H{"polls": views, "archived": archived})
}

// Create is mounted behind RequireAdmin.
func (h *PollHandler) Create(c *gin.Context) {
	var form pollForm
	if err := bind(c, &form); err != nil {
		writeError(c, h.log, err)
		return
	}

	poll, err := h.polls.Create(c.Request.Context(), form.Title, form.Description, form.Options)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": poll.ID})
}

func (h *PollHandler) Detail(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	poll, err := h.polls.Get(ctx, id)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	optionIDs := make([]uint, len(poll.Options))
	for i, o := range poll.Options {
		optionIDs[i] = o.ID
	}
	counts, err := h.votes.CountOptionVotes(ctx, optionIDs)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	voted, err := h.votes.VotedOptions(ctx, currentLogin(c), optionIDs)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	view := pollView{
		ID:              poll.ID,
		Title:           poll.Title,
		Description:     poll.Description,
		DescriptionHTML: utils.RenderMarkdown(poll.Description),
		Archived:        poll.Archived,
		CreatedAt:       poll.CreatedAt,
		Options:         make([]optionView, len(poll.Options)),
	}
	for i, o := range poll.Options {
		view.Options[i] = optionView{ID: o.ID, Text: o.Text, Votes: counts[o.ID], HasVoted: voted[o.ID]}
	}
	c.JSON(http.StatusOK, view)
}

// Action dispatches the _action posted on a poll page.
func (h *PollHandler) Action(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	sess := middleware.CurrentSession(c)

	action, err := parsePollAction(c)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	switch a := action.(type) {
	case addOptionAction:
		option, err := h.polls.AddOption(ctx, id, a.Text)
		if err != nil {
			writeError(c, h.log, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": option.ID})

	case voteOptionAction:
		res, err := h.votes.ToggleOptionVote(ctx, id, a.OptionID, sess.Login)
		if err != nil {
			writeError(c, h.log, err)
			return
		}
		c.JSON(http.StatusOK, res)

	case archivePollAction:
		if err := requireAdmin(ctx, h.council, sess); err != nil {
			writeError(c, h.log, err)
			return
		}
		poll, _, err := h.polls.SetArchived(ctx, id, a.Archived)
		if err != nil {
			writeError(c, h.log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": poll.ID, "archived": poll.Archived})

	default:
		writeError(c, h.log, unknownAction("unsupported"))
	}
}
