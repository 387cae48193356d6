package initiative

import "time"

// Session is one combat encounter. At most one session per table is
// active at a time; starting a new one deactivates the rest.
type Session struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null"`
	TableID     string    `gorm:"column:table_id;size:190;not null;index"`
	Name        string    `gorm:"column:name;size:120;not null"`
	IsActive    bool      `gorm:"column:is_active;not null"`
	CurrentTurn int       `gorm:"column:current_turn;not null"`
	RoundNumber int       `gorm:"column:round_number;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Session) TableName() string {
	return "initiative_sessions"
}

// Entry is one combatant in a session. UserID is nil for NPCs and
// ad-hoc characters.
type Entry struct {
	ID            string    `gorm:"column:id;primaryKey;size:190;not null"`
	SessionID     string    `gorm:"column:session_id;size:190;not null;index"`
	CharacterName string    `gorm:"column:character_name;size:120;not null"`
	Score         int       `gorm:"column:initiative_score;not null"`
	UserID        *string   `gorm:"column:user_id;size:190"`
	CustomField   string    `gorm:"column:custom_field;size:255"`
	IsNPC         bool      `gorm:"column:is_npc;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "initiative_entries"
}
