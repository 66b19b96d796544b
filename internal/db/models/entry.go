package models

import (
	"time"

	"gorm.io/datatypes"
)

// DataEntry is one categorized diagnostic blob attached to a request.
// Several entries may share (RequestID, Category).
type DataEntry struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	RequestID string         `gorm:"size:36;not null;index" json:"request_id"`
	Category  string         `gorm:"size:50;not null;index" json:"category"`
	Data      datatypes.JSON `json:"data"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`

	Request *RequestRecord `gorm:"foreignKey:RequestID;constraint:OnDelete:CASCADE" json:"-"`
}

func (DataEntry) TableName() string { return "sonar_data" }

// RequestStats holds aggregated counts over captured requests.
type RequestStats struct {
	TotalRequests int64 `json:"total_requests"`
	SuccessCount  int64 `json:"success_count"`
	ErrorCount    int64 `json:"error_count"`
	UnreadCount   int64 `json:"unread_count"`
	EntryCount    int64 `json:"entry_count"`
}
