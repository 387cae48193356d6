package tables

import "time"

// Table is one campaign group. Members join it by redeeming the short
// join code; the owner is always an implicit member with full rights.
type Table struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null"`
	Name        string    `gorm:"column:name;size:120;not null"`
	Description string    `gorm:"column:description;type:text"`
	JoinCode    string    `gorm:"column:join_code;size:8;not null;uniqueIndex"`
	OwnerID     string    `gorm:"column:owner_id;size:190;not null;index"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Table) TableName() string {
	return "game_tables"
}
