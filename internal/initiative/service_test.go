package initiative

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/tavernfolk/tavern/internal/fault"
	"github.com/tavernfolk/tavern/internal/membership"
	"gorm.io/gorm"
)

type seqIDProvider struct {
	next int
}

func (p *seqIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("id-%04d", p.next), nil
}

func newTestService(t *testing.T) (*Service, *gorm.DB, *time.Time) {
	t.Helper()

	dsn := fmt.Sprintf("file:initiative_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Session{}, &Entry{}, &membership.Membership{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	now := time.Unix(1700000000, 0).UTC()
	seed := []membership.Membership{
		{ID: "member-owner", UserID: "owner", TableID: "table-1", Role: membership.RoleOwner, DefaultCanViewNotes: true, JoinedAt: now},
		{ID: "member-player", UserID: "player", TableID: "table-1", Role: membership.RolePlayer, DefaultCanViewNotes: true, JoinedAt: now},
	}
	for i := range seed {
		if err := db.Create(&seed[i]).Error; err != nil {
			t.Fatalf("failed to seed membership: %v", err)
		}
	}

	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      func() time.Time { return now },
		IDProvider: &seqIDProvider{},
	})
	if err != nil {
		t.Fatalf("failed to construct initiative service: %v", err)
	}
	return service, db, &now
}

func TestStartSessionRequiresOwner(t *testing.T) {
	service, _, _ := newTestService(t)

	_, err := service.StartSession(context.Background(), "player", "table-1", "Ambush")
	if !fault.IsKind(err, fault.KindAuthorization) {
		t.Fatalf("expected authorization fault for player, got %v", err)
	}
	_, err = service.StartSession(context.Background(), "outsider", "table-1", "Ambush")
	if !fault.IsKind(err, fault.KindAuthorization) {
		t.Fatalf("expected authorization fault for outsider, got %v", err)
	}
}

func TestStartSessionDeactivatesPrevious(t *testing.T) {
	service, db, _ := newTestService(t)

	first, err := service.StartSession(context.Background(), "owner", "table-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Name != defaultSessionName {
		t.Fatalf("expected default name, got %s", first.Name)
	}
	if !first.IsActive || first.CurrentTurn != 0 || first.RoundNumber != 1 {
		t.Fatalf("unexpected initial state: %#v", first)
	}

	second, err := service.StartSession(context.Background(), "owner", "table-1", "Round two")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var stored Session
	if err := db.Where("id = ?", first.ID).Take(&stored).Error; err != nil {
		t.Fatalf("failed to load first session: %v", err)
	}
	if stored.IsActive {
		t.Fatalf("starting a new session should deactivate the previous one")
	}

	active, err := service.ActiveSession(context.Background(), "owner", "table-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if active.ID != second.ID {
		t.Fatalf("expected %s active, got %s", second.ID, active.ID)
	}
}

func TestAddEntryValidation(t *testing.T) {
	service, _, _ := newTestService(t)

	session, err := service.StartSession(context.Background(), "owner", "table-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = service.AddEntry(context.Background(), "owner", session.ID, EntryInput{Name: "  ", Score: 10})
	if !fault.IsKind(err, fault.KindValidation) {
		t.Fatalf("expected validation fault for empty name, got %v", err)
	}
	_, err = service.AddEntry(context.Background(), "owner", session.ID, EntryInput{Name: "Goblin", Score: 51})
	if !fault.IsKind(err, fault.KindValidation) {
		t.Fatalf("expected validation fault for out-of-range score, got %v", err)
	}
	_, err = service.AddEntry(context.Background(), "player", session.ID, EntryInput{Name: "Goblin", Score: 12})
	if !fault.IsKind(err, fault.KindAuthorization) {
		t.Fatalf("expected authorization fault for player, got %v", err)
	}
}

func TestSortedEntriesOrderByScore(t *testing.T) {
	service, _, now := newTestService(t)

	session, err := service.StartSession(context.Background(), "owner", "table-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	names := []struct {
		name  string
		score int
	}{
		{name: "Rogue", score: 18},
		{name: "Goblin", score: 12},
		{name: "Dragon", score: 22},
	}
	for _, combatant := range names {
		*now = now.Add(time.Second)
		if _, err := service.AddEntry(context.Background(), "owner", session.ID, EntryInput{Name: combatant.name, Score: combatant.score, IsNPC: true}); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}

	entries, err := service.SortedEntries(context.Background(), "owner", session.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected three entries, got %d", len(entries))
	}
	if entries[0].CharacterName != "Dragon" || entries[1].CharacterName != "Rogue" || entries[2].CharacterName != "Goblin" {
		t.Fatalf("unexpected order: %s,%s,%s", entries[0].CharacterName, entries[1].CharacterName, entries[2].CharacterName)
	}
}

func TestNextTurnWrapsAndIncrementsRound(t *testing.T) {
	service, _, now := newTestService(t)

	session, err := service.StartSession(context.Background(), "owner", "table-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, _, err = service.NextTurn(context.Background(), "owner", session.ID)
	if !fault.IsKind(err, fault.KindValidation) {
		t.Fatalf("expected validation fault with no entries, got %v", err)
	}

	for _, combatant := range []string{"First", "Second"} {
		*now = now.Add(time.Second)
		if _, err := service.AddEntry(context.Background(), "owner", session.ID, EntryInput{Name: combatant, Score: 10, IsNPC: true}); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}

	advanced, current, err := service.NextTurn(context.Background(), "owner", session.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if advanced.CurrentTurn != 1 || advanced.RoundNumber != 1 {
		t.Fatalf("expected turn 1 round 1, got %d/%d", advanced.CurrentTurn, advanced.RoundNumber)
	}
	if current.CharacterName != "Second" {
		t.Fatalf("expected Second up, got %s", current.CharacterName)
	}

	wrapped, current, err := service.NextTurn(context.Background(), "owner", session.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wrapped.CurrentTurn != 0 || wrapped.RoundNumber != 2 {
		t.Fatalf("expected wrap to turn 0 round 2, got %d/%d", wrapped.CurrentTurn, wrapped.RoundNumber)
	}
	if current.CharacterName != "First" {
		t.Fatalf("expected First up after wrap, got %s", current.CharacterName)
	}
}

func TestUpdateAndRemoveEntry(t *testing.T) {
	service, _, _ := newTestService(t)

	session, err := service.StartSession(context.Background(), "owner", "table-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entry, err := service.AddEntry(context.Background(), "owner", session.ID, EntryInput{Name: "Goblin", Score: 12, IsNPC: true})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	newScore := 20
	condition := "prone"
	updated, err := service.UpdateEntry(context.Background(), "owner", entry.ID, EntryUpdate{Score: &newScore, CustomField: &condition})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Score != 20 || updated.CustomField != "prone" {
		t.Fatalf("unexpected update result: %#v", updated)
	}

	badScore := 99
	_, err = service.UpdateEntry(context.Background(), "owner", entry.ID, EntryUpdate{Score: &badScore})
	if !fault.IsKind(err, fault.KindValidation) {
		t.Fatalf("expected validation fault, got %v", err)
	}

	if err := service.RemoveEntry(context.Background(), "owner", entry.ID); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	entries, err := service.SortedEntries(context.Background(), "owner", session.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries after removal, got %d", len(entries))
	}
}

func TestEndSession(t *testing.T) {
	service, _, _ := newTestService(t)

	session, err := service.StartSession(context.Background(), "owner", "table-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := service.EndSession(context.Background(), "owner", session.ID); err != nil {
		t.Fatalf("end failed: %v", err)
	}

	_, err = service.ActiveSession(context.Background(), "owner", "table-1")
	if !fault.IsKind(err, fault.KindNotFound) {
		t.Fatalf("expected not found after ending, got %v", err)
	}
}
