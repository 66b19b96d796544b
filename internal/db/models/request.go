package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RequestRecord is one captured HTTP request. Only IsRead changes after
// creation.
type RequestRecord struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"` // UUID
	Verb       string    `gorm:"size:10;index" json:"verb"`
	Path       string    `gorm:"type:text" json:"path"` // path + query string
	Status     string    `gorm:"size:10;index" json:"status"`
	DurationMS int64     `json:"duration_ms"`
	QueryCount int       `json:"query_count"`
	IPAddress  *string   `gorm:"size:45" json:"ip_address"`
	Hostname   string    `json:"hostname"`
	IsAjax     bool      `gorm:"default:false" json:"is_ajax"`
	IsRead     bool      `gorm:"default:false" json:"is_read"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

func (RequestRecord) TableName() string { return "sonar_requests" }

// BeforeCreate assigns the correlation id when the caller did not.
func (r *RequestRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}
