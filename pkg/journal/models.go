package journal

import (
	"time"

	"gorm.io/datatypes"
)

// SearchModel is one recorded search.
type SearchModel struct {
	ID          string `gorm:"primaryKey"`
	SessionID   string `gorm:"not null;index"`
	Username    string `gorm:"index"`
	Mode        string `gorm:"not null"`
	Query       string `gorm:"type:text"`
	Category    string
	Limit       int            `gorm:"column:result_limit;not null"`
	ResultCount int            `gorm:"not null"`
	ProductIDs  datatypes.JSON `gorm:"column:product_ids"`
	CreatedAt   time.Time      `gorm:"not null;index"`
}

func (SearchModel) TableName() string {
	return "search_journal"
}
