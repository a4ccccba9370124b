package handlers

import (
	"net/http"

	"councilboard/internal/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type CouncilHandler struct {
	council *services.CouncilService
	log     *zap.Logger
}

func NewCouncilHandler(council *services.CouncilService, log *zap.Logger) *CouncilHandler {
	return &CouncilHandler{council: council, log: log}
}

func (h *CouncilHandler) List(c *gin.Context) {
	members, err := h.council.List(c.Request.Context())
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

// Action is mounted behind RequireAdmin.
func (h *CouncilHandler) Action(c *gin.Context) {
	ctx := c.Request.Context()

	action, err := parseCouncilAction(c)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	switch a := action.(type) {
	case addMemberAction:
		member, err := h.council.AddMember(ctx, a.Member)
		if err != nil {
			writeError(c, h.log, err)
			return
		}
		h.log.Info("council member added", zap.String("login", member.Login), zap.String("by", currentLogin(c)))
		c.JSON(http.StatusCreated, member)

	case removeMemberAction:
		if err := h.council.RemoveMember(ctx, a.Login); err != nil {
			writeError(c, h.log, err)
			return
		}
		h.log.Info("council member removed", zap.String("login", a.Login), zap.String("by", currentLogin(c)))
		c.JSON(http.StatusOK, gin.H{"login": a.Login, "removed": true})

	default:
		writeError(c, h.log, unknownAction("unsupported"))
	}
}
