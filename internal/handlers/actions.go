package handlers

import (
	"councilboard/internal/services"
	"councilboard/internal/utils"

	"github.com/gin-gonic/gin"
)

// Write requests on an issue or poll page carry an _action field. Each value is
// parsed into its own command type so the executing switch can stay exhaustive.

type issueAction interface{ isIssueAction() }

type (
	voteIssueAction   struct{}
	postCommentAction struct {
		Text     string
		Official bool
	}
	voteCommentAction  struct{ CommentID uint }
	archiveIssueAction struct{ Archived bool }
)

func (voteIssueAction) isIssueAction()    {}
func (postCommentAction) isIssueAction()  {}
func (voteCommentAction) isIssueAction()  {}
func (archiveIssueAction) isIssueAction() {}

type commentForm struct {
	Comment  string `form:"comment" binding:"required,min=2,max=2000"`
	Official string `form:"official_statement"`
}

type commentVoteForm struct {
	CommentID string `form:"commentId" binding:"required"`
}

func parseIssueAction(c *gin.Context) (issueAction, error) {
	switch action := c.PostForm("_action"); action {
	case "vote":
		return voteIssueAction{}, nil
	case "post-comment":
		var form commentForm
		if err := bind(c, &form); err != nil {
			return nil, err
		}
		if err := services.ValidateComment(form.Comment); err != nil {
			return nil, err
		}
		return postCommentAction{Text: form.Comment, Official: utils.FormBool(form.Official)}, nil
	case "commentVote":
		var form commentVoteForm
		if err := bind(c, &form); err != nil {
			return nil, err
		}
		id, ok := utils.ParseID(form.CommentID)
		if !ok {
			return nil, services.NewValidationError("commentId", "is invalid")
		}
		return voteCommentAction{CommentID: id}, nil
	case "archive":
		return archiveIssueAction{Archived: true}, nil
	case "unarchive":
		return archiveIssueAction{Archived: false}, nil
	default:
		return nil, unknownAction(action)
	}
}

type pollAction interface{ isPollAction() }

type (
	addOptionAction   struct{ Text string }
	voteOptionAction  struct{ OptionID uint }
	archivePollAction struct{ Archived bool }
)

func (addOptionAction) isPollAction()   {}
func (voteOptionAction) isPollAction()  {}
func (archivePollAction) isPollAction() {}

type optionForm struct {
	Option string `form:"option" binding:"required,min=1,max=200"`
}

type optionVoteForm struct {
	OptionID string `form:"optionId" binding:"required"`
}

func parsePollAction(c *gin.Context) (pollAction, error) {
	switch action := c.PostForm("_action"); action {
	case "add-option":
		var form optionForm
		if err := bind(c, &form); err != nil {
			return nil, err
		}
		return addOptionAction{Text: form.Option}, nil
	case "optionVote":
		var form optionVoteForm
		if err := bind(c, &form); err != nil {
			return nil, err
		}
		id, ok := utils.ParseID(form.OptionID)
		if !ok {
			return nil, services.NewValidationError("optionId", "is invalid")
		}
		return voteOptionAction{OptionID: id}, nil
	case "archive":
		return archivePollAction{Archived: true}, nil
	case "unarchive":
		return archivePollAction{Archived: false}, nil
	default:
		return nil, unknownAction(action)
	}
}

type councilAction interface{ isCouncilAction() }

type (
	addMemberAction    struct{ Member services.MemberInput }
	removeMemberAction struct{ Login string }
)

func (addMemberAction) isCouncilAction()    {}
func (removeMemberAction) isCouncilAction() {}

type memberForm struct {
	Login     string `form:"login" binding:"required,max=64"`
	FirstName string `form:"firstName" binding:"required,max=100"`
	LastName  string `form:"lastName" binding:"required,max=100"`
	Email     string `form:"email" binding:"required,email"`
	Picture   string `form:"picture" binding:"omitempty,url"`
}

type removeMemberForm struct {
	Login string `form:"login" binding:"required"`
}

func parseCouncilAction(c *gin.Context) (councilAction, error) {
	switch action := c.PostForm("_action"); action {
	case "add-member":
		var form memberForm
		if err := bind(c, &form); err != nil {
			return nil, err
		}
		return addMemberAction{Member: services.MemberInput{
			Login:     form.Login,
			FirstName: form.FirstName,
			LastName:  form.LastName,
			Email:     form.Email,
			Picture:   form.Picture,
		}}, nil
	case "remove-member":
		var form removeMemberForm
		if err := bind(c, &form); err != nil {
			return nil, err
		}
		return removeMemberAction{Login: form.Login}, nil
	default:
		return nil, unknownAction(action)
	}
}

func unknownAction(action string) error {
	if action == "" {
		return services.NewValidationError("_action", "is required")
	}
	return services.NewValidationError("_action", "unknown action "+action)
}
