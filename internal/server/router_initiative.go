package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tavernfolk/tavern/internal/initiative"
)

type sessionPayload struct {
	ID               string `json:"id"`
	TableID          string `json:"table_id"`
	Name             string `json:"name"`
	IsActive         bool   `json:"is_active"`
	CurrentTurn      int    `json:"current_turn"`
	RoundNumber      int    `json:"round_number"`
	CreatedAtSeconds int64  `json:"created_at_s"`
}

func renderSession(session initiative.Session) sessionPayload {
	return sessionPayload{
		ID:               session.ID,
		TableID:          session.TableID,
		Name:             session.Name,
		IsActive:         session.IsActive,
		CurrentTurn:      session.CurrentTurn,
		RoundNumber:      session.RoundNumber,
		CreatedAtSeconds: session.CreatedAt.Unix(),
	}
}

type entryPayload struct {
	ID               string  `json:"id"`
	SessionID        string  `json:"session_id"`
	CharacterName    string  `json:"character_name"`
	InitiativeScore  int     `json:"initiative_score"`
	UserID           *string `json:"user_id"`
	CustomField      string  `json:"custom_field,omitempty"`
	IsNPC            bool    `json:"is_npc"`
	CreatedAtSeconds int64   `json:"created_at_s"`
}

func renderEntry(entry initiative.Entry) entryPayload {
	return entryPayload{
		ID:               entry.ID,
		SessionID:        entry.SessionID,
		CharacterName:    entry.CharacterName,
		InitiativeScore:  entry.Score,
		UserID:           entry.UserID,
		CustomField:      entry.CustomField,
		IsNPC:            entry.IsNPC,
		CreatedAtSeconds: entry.CreatedAt.Unix(),
	}
}

type startSessionPayload struct {
	Name string `json:"name"`
}

func (h *httpHandler) handleStartSession(c *gin.Context) {
	userID, ok := h.actorID(c)
	if !ok {
		return
	}
	// The body is optional; an empty one starts a session with the
	// default name.
	var request startSessionPayload
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
	}

	session, err := h.initiative.StartSession(c.Request.Context(), userID, c.Param("table_id"), request.Name)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, renderSession(session))
}

func (h *httpHandler) handleActiveSession(c *gin.Context) {
	userID, ok := h.actorID(c)
	if !ok {
		return
	}
	session, err := h.initiative.ActiveSession(c.Request.Context(), userID, c.Param("table_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, renderSession(session))
}

type addEntryPayload struct {
	CharacterName   string `json:"character_name"`
	InitiativeScore int    `json:"initiative_score"`
	UserID          string `json:"user_id"`
	CustomField     string `json:"custom_field"`
	IsNPC           bool   `json:"is_npc"`
}

func (h *httpHandler) handleAddEntry(c *gin.Context) {
	userID, ok := h.actorID(c)
	if !ok {
		return
	}
	var request addEntryPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	entry, err := h.initiative.AddEntry(c.Request.Context(), userID, c.Param("session_id"), initiative.EntryInput{
		Name:        request.CharacterName,
		Score:       request.InitiativeScore,
		UserID:      request.UserID,
		CustomField: request.CustomField,
		IsNPC:       request.IsNPC,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, renderEntry(entry))
}

type updateEntryPayload struct {
	InitiativeScore *int    `json:"initiative_score"`
	CustomField     *string `json:"custom_field"`
}

func (h *httpHandler) handleUpdateEntry(c *gin.Context) {
	userID, ok := h.actorID(c)
	if !ok {
		return
	}
	var request updateEntryPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	entry, err := h.initiative.UpdateEntry(c.Request.Context(), userID, c.Param("entry_id"), initiative.EntryUpdate{
		Score:       request.InitiativeScore,
		CustomField: request.CustomField,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, renderEntry(entry))
}

func (h *httpHandler) handleRemoveEntry(c *gin.Context) {
	userID, ok := h.actorID(c)
	if !ok {
		return
	}
	if err := h.initiative.RemoveEntry(c.Request.Context(), userID, c.Param("entry_id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleSortedEntries(c *gin.Context) {
	userID, ok := h.actorID(c)
	if !ok {
		return
	}
	entries, err := h.initiative.SortedEntries(c.Request.Context(), userID, c.Param("session_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload := make([]entryPayload, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, renderEntry(entry))
	}
	c.JSON(http.StatusOK, gin.H{"entries": payload})
}

func (h *httpHandler) handleNextTurn(c *gin.Context) {
	userID, ok := h.actorID(c)
	if !ok {
		return
	}
	session, current, err := h.initiative.NextTurn(c.Request.Context(), userID, c.Param("session_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session": renderSession(session),
		"current": renderEntry(*current),
	})
}

func (h *httpHandler) handleEndSession(c *gin.Context) {
	userID, ok := h.actorID(c)
	if !ok {
		return
	}
	if err := h.initiative.EndSession(c.Request.Context(), userID, c.Param("session_id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
