package server

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tavernfolk/tavern/internal/dice"
)

type diceRollPayload struct {
	ID               string          `json:"id"`
	TableID          *string         `json:"table_id"`
	UserID           string          `json:"user_id"`
	Expression       string          `json:"expression"`
	Result           int             `json:"result"`
	Rolls            json.RawMessage `json:"rolls"`
	Modifier         int             `json:"modifier"`
	Advantage        bool            `json:"advantage"`
	Disadvantage     bool            `json:"disadvantage"`
	Description      string          `json:"description,omitempty"`
	CreatedAtSeconds int64           `json:"created_at_s"`
}

func renderDiceRoll(record dice.DiceRoll) diceRollPayload {
	return diceRollPayload{
		ID:               record.ID,
		TableID:          record.TableID,
		UserID:           record.UserID,
		Expression:       record.Expression,
		Result:           record.Result,
		Rolls:            json.RawMessage(record.RollsJSON),
		Modifier:         record.Modifier,
		Advantage:        record.Advantage,
		Disadvantage:     record.Disadvantage,
		Description:      record.Description,
		CreatedAtSeconds: record.CreatedAt.Unix(),
	}
}

type diceRollRequestPayload struct {
	Expression   string `json:"expression"`
	Description  string `json:"description"`
	TableID      string `json:"table_id"`
	Advantage    bool   `json:"advantage"`
	Disadvantage bool   `json:"disadvantage"`
}

func (h *httpHandler) handleDiceRoll(c *gin.Context) {
	userID, ok := h.actorID(c)
	if !ok {
		return
	}
	var request diceRollRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	outcome, err := h.dice.Roll(c.Request.Context(), userID, dice.RollRequest{
		Expression:   request.Expression,
		Description:  request.Description,
		TableID:      request.TableID,
		Advantage:    request.Advantage,
		Disadvantage: request.Disadvantage,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, renderDiceRoll(outcome.Record))
}

func (h *httpHandler) handleDiceHistory(c *gin.Context) {
	userID, ok := h.actorID(c)
	if !ok {
		return
	}
	rolls, err := h.dice.History(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rolls": renderDiceRolls(rolls)})
}

func (h *httpHandler) handleTableDiceHistory(c *gin.Context) {
	userID, ok := h.actorID(c)
	if !ok {
		return
	}
	rolls, err := h.dice.TableHistory(c.Request.Context(), userID, c.Param("table_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rolls": renderDiceRolls(rolls)})
}

func renderDiceRolls(rolls []dice.DiceRoll) []diceRollPayload {
	payload := make([]diceRollPayload, 0, len(rolls))
	for _, record := range rolls {
		payload = append(payload, renderDiceRoll(record))
	}
	return payload
}
