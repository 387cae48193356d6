package dice

import "time"

// DiceRoll is one persisted roll. TableID is nil for rolls made outside
// any table scope.
type DiceRoll struct {
	ID           string    `gorm:"column:id;primaryKey;size:190;not null"`
	TableID      *string   `gorm:"column:table_id;size:190;index"`
	UserID       string    `gorm:"column:user_id;size:190;not null;index"`
	Expression   string    `gorm:"column:expression;size:20;not null"`
	Result       int       `gorm:"column:result;not null"`
	RollsJSON    string    `gorm:"column:rolls_json;type:text;not null"`
	Modifier     int       `gorm:"column:modifier;not null"`
	Advantage    bool      `gorm:"column:advantage;not null"`
	Disadvantage bool      `gorm:"column:disadvantage;not null"`
	Description  string    `gorm:"column:description;size:255"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (DiceRoll) TableName() string {
	return "dice_rolls"
}
