package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tavernfolk/tavern/internal/fault"
	"github.com/tavernfolk/tavern/internal/membership"
	"github.com/tavernfolk/tavern/internal/tables"
)

type tablePayload struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	JoinCode         string `json:"join_code,omitempty"`
	OwnerID          string `json:"owner_id"`
	CreatedAtSeconds int64  `json:"created_at_s"`
}

// renderTable hides the join code from everyone but the owner; players
// redeem codes, they do not redistribute them.
func renderTable(table tables.Table, viewerID string) tablePayload {
	payload := tablePayload{
		ID:               table.ID,
		Name:             table.Name,
		Description:      table.Description,
		OwnerID:          table.OwnerID,
		CreatedAtSeconds: table.CreatedAt.Unix(),
	}
	if table.OwnerID == viewerID {
		payload.JoinCode = table.JoinCode
	}
	return payload
}

type memberPayload struct {
	UserID              string `json:"user_id"`
	TableID             string `json:"table_id"`
	Role                string `json:"role"`
	DefaultCanViewNotes bool   `json:"default_can_view_notes"`
	JoinedAtSeconds     int64  `json:"joined_at_s"`
}

func renderMember(member membership.Membership) memberPayload {
	return memberPayload{
		UserID:              member.UserID,
		TableID:             member.TableID,
		Role:                string(member.Role),
		DefaultCanViewNotes: member.DefaultCanViewNotes,
		JoinedAtSeconds:     member.JoinedAt.Unix(),
	}
}

type createTablePayload struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *httpHandler) handleCreateTable(c *gin.Context) {
	userID, ok := h.actorID(c)
	if !ok {
		return
	}
	var request createTablePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	table, err := h.tables.CreateTable(c.Request.Context(), userID, request.Name, request.Description)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, renderTable(table, userID))
}

func (h *httpHandler) handleListTables(c *gin.Context) {
	userID, ok := h.actorID(c)
	if !ok {
		return
	}
	result, err := h.tables.ListTables(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload := make([]tablePayload, 0, len(result))
	for _, table := range result {
		payload = append(payload, renderTable(table, userID))
	}
	c.JSON(http.StatusOK, gin.H{"tables": payload})
}

func (h *httpHandler) handleGetTable(c *gin.Context) {
	userID, ok := h.actorID(c)
	if !ok {
		return
	}
	tableID := c.Param("table_id")
	if err := h.requireMember(c, userID, tableID); err != nil {
		h.respondError(c, err)
		return
	}
	table, err := h.tables.GetTable(c.Request.Context(), tableID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, renderTable(table, userID))
}

func (h *httpHandler) handleDeleteTable(c *gin.Context) {
	userID, ok := h.actorID(c)
	if !ok {
		return
	}
	if err := h.tables.DeleteTable(c.Request.Context(), userID, c.Param("table_id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type joinTablePayload struct {
	JoinCode string `json:"join_code"`
}

func (h *httpHandler) handleJoinTable(c *gin.Context) {
	userID, ok := h.actorID(c)
	if !ok {
		return
	}
	var request joinTablePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	table, err := h.tables.FindByJoinCode(c.Request.Context(), request.JoinCode)
	if err != nil {
		h.respondError(c, err)
		return
	}
	member, err := h.members.Join(c.Request.Context(), userID, table.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"table":      renderTable(table, userID),
		"membership": renderMember(member),
	})
}

func (h *httpHandler) handleLeaveTable(c *gin.Context) {
	userID, ok := h.actorID(c)
	if !ok {
		return
	}
	if err := h.members.Leave(c.Request.Context(), userID, c.Param("table_id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListMembers(c *gin.Context) {
	userID, ok := h.actorID(c)
	if !ok {
		return
	}
	tableID := c.Param("table_id")
	if err := h.requireMember(c, userID, tableID); err != nil {
		h.respondError(c, err)
		return
	}

	members, err := h.members.ListMembers(c.Request.Context(), tableID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload := make([]memberPayload, 0, len(members))
	for _, member := range members {
		payload = append(payload, renderMember(member))
	}
	c.JSON(http.StatusOK, gin.H{"members": payload})
}

func (h *httpHandler) handleRemoveMember(c *gin.Context) {
	userID, ok := h.actorID(c)
	if !ok {
		return
	}
	err := h.members.RemoveMember(c.Request.Context(), userID, c.Param("user_id"), c.Param("table_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type visibilityPayload struct {
	DefaultCanViewNotes *bool `json:"default_can_view_notes"`
}

func (h *httpHandler) handleSetDefaultVisibility(c *gin.Context) {
	userID, ok := h.actorID(c)
	if !ok {
		return
	}
	var request visibilityPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.DefaultCanViewNotes == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	err := h.members.SetDefaultVisibility(
		c.Request.Context(), userID, c.Param("user_id"), c.Param("table_id"), *request.DefaultCanViewNotes)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// requireMember gates read endpoints that expose table state to
// members only.
func (h *httpHandler) requireMember(c *gin.Context, userID, tableID string) error {
	role, err := h.members.RoleOf(c.Request.Context(), userID, tableID)
	if err != nil {
		return err
	}
	if role == membership.RoleNone {
		return fault.New(fault.KindAuthorization, "server.require_member", "not_member", nil)
	}
	return nil
}
