package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tavernfolk/tavern/internal/access"
	"github.com/tavernfolk/tavern/internal/auth"
	"github.com/tavernfolk/tavern/internal/database"
	"github.com/tavernfolk/tavern/internal/dice"
	"github.com/tavernfolk/tavern/internal/identity"
	"github.com/tavernfolk/tavern/internal/ids"
	"github.com/tavernfolk/tavern/internal/initiative"
	"github.com/tavernfolk/tavern/internal/membership"
	"github.com/tavernfolk/tavern/internal/notes"
	"github.com/tavernfolk/tavern/internal/server"
	"github.com/tavernfolk/tavern/internal/tables"
	"go.uber.org/zap"
)

const integrationSigningSecret = "integration-secret"

type testClient struct {
	t       *testing.T
	baseURL string
	token   string
}

func (c *testClient) do(method, path string, body any) (int, map[string]any) {
	c.t.Helper()
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("failed to encode body: %v", err)
		}
		payload = encoded
	}
	request, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		c.t.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		decoded = nil
	}
	return response.StatusCode, decoded
}

func (c *testClient) expect(method, path string, body any, wantStatus int) map[string]any {
	c.t.Helper()
	status, decoded := c.do(method, path, body)
	if status != wantStatus {
		c.t.Fatalf("%s %s: expected %d, got %d (%v)", method, path, wantStatus, status, decoded)
	}
	return decoded
}

func newIntegrationServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:tavern_integration_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := database.OpenSQLite(dsn, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}

	idProvider := ids.NewUUIDProvider()
	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(integrationSigningSecret),
	})

	identityService, err := identity.NewService(identity.ServiceConfig{Database: db, IDProvider: idProvider})
	if err != nil {
		t.Fatalf("failed to build identity service: %v", err)
	}
	tablesService, err := tables.NewService(tables.ServiceConfig{Database: db, IDProvider: idProvider})
	if err != nil {
		t.Fatalf("failed to build tables service: %v", err)
	}
	membershipService, err := membership.NewService(membership.ServiceConfig{Database: db, IDProvider: idProvider})
	if err != nil {
		t.Fatalf("failed to build membership service: %v", err)
	}
	accessService, err := access.NewService(access.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build access service: %v", err)
	}
	notesService, err := notes.NewService(notes.ServiceConfig{Database: db, IDProvider: idProvider, Checker: accessService})
	if err != nil {
		t.Fatalf("failed to build notes service: %v", err)
	}
	diceService, err := dice.NewService(dice.ServiceConfig{
		Database: db, IDProvider: idProvider,
		Face: func(sides int) int { return sides },
	})
	if err != nil {
		t.Fatalf("failed to build dice service: %v", err)
	}
	initiativeService, err := initiative.NewService(initiative.ServiceConfig{Database: db, IDProvider: idProvider})
	if err != nil {
		t.Fatalf("failed to build initiative service: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:      tokenManager,
		IdentityService:   identityService,
		TablesService:     tablesService,
		MembershipService: membershipService,
		NotesService:      notesService,
		AccessService:     accessService,
		DiceService:       diceService,
		InitiativeService: initiativeService,
		Logger:            zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	t.Cleanup(testServer.Close)
	return testServer
}

func signup(t *testing.T, baseURL, handle string) (*testClient, string) {
	t.Helper()
	client := &testClient{t: t, baseURL: baseURL}
	payload := client.expect(http.MethodPost, "/auth/signup", map[string]any{
		"handle":   handle,
		"email":    handle + "@example.com",
		"password": "secret-pass",
	}, http.StatusCreated)
	client.token, _ = payload["access_token"].(string)
	user, _ := payload["user"].(map[string]any)
	userID, _ := user["id"].(string)
	if client.token == "" || userID == "" {
		t.Fatalf("incomplete signup response: %v", payload)
	}
	return client, userID
}

func noteIDs(t *testing.T, payload map[string]any) []string {
	t.Helper()
	raw, _ := payload["notes"].([]any)
	result := make([]string, 0, len(raw))
	for _, entry := range raw {
		note, _ := entry.(map[string]any)
		id, _ := note["id"].(string)
		result = append(result, id)
	}
	return result
}

func TestTableNotesPermissionFlow(t *testing.T) {
	testServer := newIntegrationServer(t)

	owner, _ := signup(t, testServer.URL, "gamemaster")
	playerOne, playerOneID := signup(t, testServer.URL, "fighter")
	playerTwo, playerTwoID := signup(t, testServer.URL, "wizard")

	created := owner.expect(http.MethodPost, "/tables", map[string]any{
		"name":        "Storm King",
		"description": "thursday nights",
	}, http.StatusCreated)
	tableID, _ := created["id"].(string)
	joinCode, _ := created["join_code"].(string)
	if tableID == "" || joinCode == "" {
		t.Fatalf("incomplete table response: %v", created)
	}

	// Join codes redeem case-insensitively.
	playerOne.expect(http.MethodPost, "/tables/join", map[string]any{"join_code": strings.ToLower(joinCode)}, http.StatusCreated)
	playerTwo.expect(http.MethodPost, "/tables/join", map[string]any{"join_code": joinCode}, http.StatusCreated)
	playerTwo.expect(http.MethodPost, "/tables/join", map[string]any{"join_code": joinCode}, http.StatusConflict)

	note := owner.expect(http.MethodPost, "/tables/"+tableID+"/notes", map[string]any{
		"title":   "World lore",
		"content": "the giants stir",
	}, http.StatusCreated)
	noteID, _ := note["id"].(string)
	if noteID == "" {
		t.Fatalf("incomplete note response: %v", note)
	}

	// Both players see the general note through the table default.
	listing := playerOne.expect(http.MethodGet, "/tables/"+tableID+"/notes", nil, http.StatusOK)
	if ids := noteIDs(t, listing); len(ids) != 1 || ids[0] != noteID {
		t.Fatalf("player one should see the note, got %v", ids)
	}

	// Turning the table default off hides it from player two only.
	owner.expect(http.MethodPut, "/tables/"+tableID+"/members/"+playerTwoID+"/visibility",
		map[string]any{"default_can_view_notes": false}, http.StatusNoContent)
	listing = playerTwo.expect(http.MethodGet, "/tables/"+tableID+"/notes", nil, http.StatusOK)
	if ids := noteIDs(t, listing); len(ids) != 0 {
		t.Fatalf("player two should see nothing, got %v", ids)
	}
	listing = playerOne.expect(http.MethodGet, "/tables/"+tableID+"/notes", nil, http.StatusOK)
	if ids := noteIDs(t, listing); len(ids) != 1 {
		t.Fatalf("player one should be unaffected, got %v", ids)
	}

	// A malformed override is rejected outright.
	owner.expect(http.MethodPut, "/notes/"+noteID+"/overrides/"+playerTwoID,
		map[string]any{"can_view": false, "can_edit": true}, http.StatusBadRequest)

	// An explicit grant restores access and adds edit rights.
	owner.expect(http.MethodPut, "/notes/"+noteID+"/overrides/"+playerTwoID,
		map[string]any{"can_view": true, "can_edit": true}, http.StatusNoContent)
	effective := playerTwo.expect(http.MethodGet, "/notes/"+noteID+"/access", nil, http.StatusOK)
	if effective["can_view"] != true || effective["can_edit"] != true {
		t.Fatalf("expected full grant, got %v", effective)
	}
	playerTwo.expect(http.MethodPut, "/notes/"+noteID, map[string]any{
		"title":   "World lore",
		"content": "the giants stir, annotated",
	}, http.StatusOK)

	// Edit rights never include delete.
	playerTwo.expect(http.MethodDelete, "/notes/"+noteID, nil, http.StatusForbidden)

	// Anyone who can view can duplicate; the copy belongs to them.
	duplicate := playerOne.expect(http.MethodPost, "/notes/"+noteID+"/duplicate", nil, http.StatusCreated)
	if duplicate["author_id"] != playerOneID {
		t.Fatalf("duplicate should belong to player one, got %v", duplicate["author_id"])
	}
	duplicateID, _ := duplicate["id"].(string)

	// Player one authored the duplicate, so it survives their hidden
	// default and they may delete it.
	playerOne.expect(http.MethodDelete, "/notes/"+duplicateID, nil, http.StatusNoContent)

	// Removing player two prunes their override with the membership.
	owner.expect(http.MethodDelete, "/tables/"+tableID+"/members/"+playerTwoID, nil, http.StatusNoContent)
	playerTwo.expect(http.MethodGet, "/notes/"+noteID, nil, http.StatusForbidden)
	playerTwo.expect(http.MethodGet, "/tables/"+tableID, nil, http.StatusForbidden)

	// Owners cannot leave their own table.
	owner.expect(http.MethodPost, "/tables/"+tableID+"/leave", nil, http.StatusForbidden)
	playerOne.expect(http.MethodPost, "/tables/"+tableID+"/leave", nil, http.StatusNoContent)

	owner.expect(http.MethodDelete, "/tables/"+tableID, nil, http.StatusNoContent)
	owner.expect(http.MethodGet, "/tables/"+tableID, nil, http.StatusForbidden)
}

func TestDiceAndInitiativeFlow(t *testing.T) {
	testServer := newIntegrationServer(t)

	owner, _ := signup(t, testServer.URL, "narrator")
	player, _ := signup(t, testServer.URL, "bard")

	created := owner.expect(http.MethodPost, "/tables", map[string]any{"name": "One Shot"}, http.StatusCreated)
	tableID, _ := created["id"].(string)
	joinCode, _ := created["join_code"].(string)
	player.expect(http.MethodPost, "/tables/join", map[string]any{"join_code": joinCode}, http.StatusCreated)

	// Face is pinned to the die's maximum in this harness.
	roll := player.expect(http.MethodPost, "/dice/roll", map[string]any{
		"expression": "2d6+1",
		"table_id":   tableID,
	}, http.StatusCreated)
	if roll["result"] != float64(6+6+1) {
		t.Fatalf("expected 13, got %v", roll["result"])
	}

	player.expect(http.MethodPost, "/dice/roll", map[string]any{
		"expression": "1d20", "advantage": true, "disadvantage": true,
	}, http.StatusBadRequest)

	history := player.expect(http.MethodGet, "/tables/"+tableID+"/dice/history", nil, http.StatusOK)
	rolls, _ := history["rolls"].([]any)
	if len(rolls) != 1 {
		t.Fatalf("expected one table roll, got %d", len(rolls))
	}

	// Initiative is the owner's tool.
	player.expect(http.MethodPost, "/tables/"+tableID+"/initiative/sessions", map[string]any{"name": "Brawl"}, http.StatusForbidden)
	session := owner.expect(http.MethodPost, "/tables/"+tableID+"/initiative/sessions", map[string]any{"name": "Brawl"}, http.StatusCreated)
	sessionID, _ := session["id"].(string)

	owner.expect(http.MethodPost, "/initiative/sessions/"+sessionID+"/entries", map[string]any{
		"character_name": "Ogre", "initiative_score": 8, "is_npc": true,
	}, http.StatusCreated)
	owner.expect(http.MethodPost, "/initiative/sessions/"+sessionID+"/entries", map[string]any{
		"character_name": "Bard", "initiative_score": 17,
	}, http.StatusCreated)

	turn := owner.expect(http.MethodPost, "/initiative/sessions/"+sessionID+"/next-turn", nil, http.StatusOK)
	current, _ := turn["current"].(map[string]any)
	if current["character_name"] != "Ogre" {
		t.Fatalf("expected Ogre after the opener, got %v", current["character_name"])
	}

	turn = owner.expect(http.MethodPost, "/initiative/sessions/"+sessionID+"/next-turn", nil, http.StatusOK)
	advanced, _ := turn["session"].(map[string]any)
	if advanced["round_number"] != float64(2) {
		t.Fatalf("expected round 2 after wrap, got %v", advanced["round_number"])
	}

	owner.expect(http.MethodPost, "/initiative/sessions/"+sessionID+"/end", nil, http.StatusNoContent)
	owner.expect(http.MethodGet, "/tables/"+tableID+"/initiative/sessions/active", nil, http.StatusNotFound)
}
