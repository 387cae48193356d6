package membership

import "time"

// Role is a closed two-value tag. The permission rules switch on it
// explicitly; there is no role hierarchy.
type Role string

const (
	// RoleOwner is assigned exactly once, at table creation, and is not
	// reassignable through membership edits.
	RoleOwner Role = "owner"
	// RolePlayer is every other member.
	RolePlayer Role = "player"
	// RoleNone is reported for users with no membership in a table.
	RoleNone Role = "none"
)

// Membership relates one user to one table. At most one row exists per
// (user, table) pair, enforced by the unique index.
type Membership struct {
	ID                  string    `gorm:"column:id;primaryKey;size:190;not null"`
	UserID              string    `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_members_user_table,priority:1"`
	TableID             string    `gorm:"column:table_id;size:190;not null;uniqueIndex:idx_members_user_table,priority:2;index"`
	Role                Role      `gorm:"column:role;size:20;not null"`
	DefaultCanViewNotes bool      `gorm:"column:default_can_view_notes;not null;default:true"`
	JoinedAt            time.Time `gorm:"column:joined_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Membership) TableName() string {
	return "table_members"
}
