package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tavernfolk/tavern/internal/notes"
)

type notePayload struct {
	ID               string `json:"id"`
	TableID          string `json:"table_id"`
	AuthorID         string `json:"author_id"`
	Title            string `json:"title"`
	Content          string `json:"content"`
	BgColor          string `json:"bg_color"`
	TextColor        string `json:"text_color"`
	FontSize         int    `json:"font_size"`
	CreatedAtSeconds int64  `json:"created_at_s"`
	UpdatedAtSeconds int64  `json:"updated_at_s"`
}

func renderNote(note notes.Note) notePayload {
	return notePayload{
		ID:               note.ID,
		TableID:          note.TableID,
		AuthorID:         note.AuthorID,
		Title:            note.Title,
		Content:          note.Content,
		BgColor:          note.BgColor,
		TextColor:        note.TextColor,
		FontSize:         note.FontSize,
		CreatedAtSeconds: note.CreatedAt.Unix(),
		UpdatedAtSeconds: note.UpdatedAt.Unix(),
	}
}

type noteRequestPayload struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	BgColor   string `json:"bg_color"`
	TextColor string `json:"text_color"`
	FontSize  int    `json:"font_size"`
}

func (p noteRequestPayload) toInput() notes.NoteInput {
	return notes.NoteInput{
		Title:     p.Title,
		Content:   p.Content,
		BgColor:   p.BgColor,
		TextColor: p.TextColor,
		FontSize:  p.FontSize,
	}
}

func (h *httpHandler) handleCreateNote(c *gin.Context) {
	userID, ok := h.actorID(c)
	if !ok {
		return
	}
	var request noteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	note, err := h.notes.CreateNote(c.Request.Context(), userID, c.Param("table_id"), request.toInput())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, renderNote(note))
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	userID, ok := h.actorID(c)
	if !ok {
		return
	}
	tableID := c.Param("table_id")
	if err := h.requireMember(c, userID, tableID); err != nil {
		h.respondError(c, err)
		return
	}

	visible, err := h.access.ListVisibleNotes(c.Request.Context(), userID, tableID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload := make([]notePayload, 0, len(visible))
	for _, note := range visible {
		payload = append(payload, renderNote(note))
	}
	c.JSON(http.StatusOK, gin.H{"notes": payload})
}

func (h *httpHandler) handleGetNote(c *gin.Context) {
	userID, ok := h.actorID(c)
	if !ok {
		return
	}
	note, err := h.notes.GetNote(c.Request.Context(), userID, c.Param("note_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, renderNote(note))
}

func (h *httpHandler) handleEditNote(c *gin.Context) {
	userID, ok := h.actorID(c)
	if !ok {
		return
	}
	var request noteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	note, err := h.notes.EditNote(c.Request.Context(), userID, c.Param("note_id"), request.toInput())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, renderNote(note))
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	userID, ok := h.actorID(c)
	if !ok {
		return
	}
	if err := h.notes.DeleteNote(c.Request.Context(), userID, c.Param("note_id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleDuplicateNote(c *gin.Context) {
	userID, ok := h.actorID(c)
	if !ok {
		return
	}
	note, err := h.notes.DuplicateNote(c.Request.Context(), userID, c.Param("note_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, renderNote(note))
}

func (h *httpHandler) handleResolveAccess(c *gin.Context) {
	userID, ok := h.actorID(c)
	if !ok {
		return
	}
	effective, err := h.access.Resolve(c.Request.Context(), userID, c.Param("note_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"can_view": effective.CanView,
		"can_edit": effective.CanEdit,
	})
}

type overridePayload struct {
	CanView *bool `json:"can_view"`
	CanEdit *bool `json:"can_edit"`
}

func (h *httpHandler) handleSetOverride(c *gin.Context) {
	userID, ok := h.actorID(c)
	if !ok {
		return
	}
	var request overridePayload
	if err := c.ShouldBindJSON(&request); err != nil || request.CanView == nil || request.CanEdit == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	err := h.access.SetOverride(
		c.Request.Context(), userID, c.Param("note_id"), c.Param("user_id"),
		*request.CanView, *request.CanEdit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleClearOverride(c *gin.Context) {
	userID, ok := h.actorID(c)
	if !ok {
		return
	}
	err := h.access.ClearOverride(c.Request.Context(), userID, c.Param("note_id"), c.Param("user_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
