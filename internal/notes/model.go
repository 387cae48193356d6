package notes

import "time"

// Note belongs to exactly one table. Authorship is a historical fact:
// the author keeps full rights even after leaving the table, and the
// membership row backing it may be long gone.
type Note struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null"`
	TableID   string    `gorm:"column:table_id;size:190;not null;index"`
	AuthorID  string    `gorm:"column:author_id;size:190;not null"`
	Title     string    `gorm:"column:title;size:200;not null"`
	Content   string    `gorm:"column:content;type:text"`
	BgColor   string    `gorm:"column:bg_color;size:7;not null"`
	TextColor string    `gorm:"column:text_color;size:7;not null"`
	FontSize  int       `gorm:"column:font_size;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "notes"
}

// NoteAccessOverride pins a single user's view/edit rights on a single
// note. Absence means "fall through to the table default"; presence is
// final, including an explicit all-false deny. CanEdit implies CanView,
// rejected at write time otherwise.
type NoteAccessOverride struct {
	NoteID    string    `gorm:"column:note_id;primaryKey;size:190;not null"`
	UserID    string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	CanView   bool      `gorm:"column:can_view;not null"`
	CanEdit   bool      `gorm:"column:can_edit;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (NoteAccessOverride) TableName() string {
	return "note_access_overrides"
}

// Action names the operations the permission checker rules on.
type Action string

const (
	ActionView   Action = "view"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)
