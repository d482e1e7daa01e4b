package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Status is the lifecycle state of a contact request
type Status string

const (
	StatusNew        Status = "NEW"
	StatusProcessing Status = "PROCESSING"
	StatusAnalyzed   Status = "ANALYZED"
	StatusResponded  Status = "RESPONDED"
	StatusArchived   Status = "ARCHIVED"
)

// AllStatuses lists every status in lifecycle order
var AllStatuses = []Status{StatusNew, StatusProcessing, StatusAnalyzed, StatusResponded, StatusArchived}

// Priority is the urgency tier assigned to a contact request
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// AllPriorities lists every priority from most to least urgent
var AllPriorities = []Priority{PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow}

// ErrInvalidEnum is returned when parsing an unknown status or priority
var ErrInvalidEnum = errors.New("invalid enum value")

// ParseStatus converts a string into a Status
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", errors.Wrapf(ErrInvalidEnum, "status %q", s)
	}
	return st, nil
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusProcessing, StatusAnalyzed, StatusResponded, StatusArchived:
		return true
	}
	return false
}

func (s Status) order() int {
	switch s {
	case StatusNew:
		return 0
	case StatusProcessing:
		return 1
	case StatusAnalyzed:
		return 2
	case StatusResponded:
		return 3
	case StatusArchived:
		return 4
	}
	return -1
}

// CanTransitionTo reports whether moving from s to next keeps the lifecycle
// moving forward. Archival is reachable from any state.
func (s Status) CanTransitionTo(next Status) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if next == StatusArchived {
		return s != StatusArchived
	}
	return next.order() > s.order()
}

// ParsePriority converts a string into a Priority
func ParsePriority(p string) (Priority, error) {
	pr := Priority(p)
	if !pr.Valid() {
		return "", errors.Wrapf(ErrInvalidEnum, "priority %q", p)
	}
	return pr, nil
}

// Valid reports whether p is a known priority
func (p Priority) Valid() bool {
	return p.Rank() > 0
}

// Rank orders priorities, higher is more urgent. Unknown values rank 0.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityUrgent:
		return 4
	}
	return 0
}

// Max returns the more urgent of p and other
func (p Priority) Max(other Priority) Priority {
	if other.Rank() > p.Rank() {
		return other
	}
	return p
}

// Higher returns every priority strictly more urgent than p
func (p Priority) Higher() []Priority {
	var out []Priority
	for _, candidate := range AllPriorities {
		if candidate.Rank() > p.Rank() {
			out = append(out, candidate)
		}
	}
	return out
}

// IsUrgentTier reports whether p takes the urgent notification path
func (p Priority) IsUrgentTier() bool {
	switch p {
	case PriorityUrgent, PriorityHigh:
		return true
	case PriorityMedium, PriorityLow:
		return false
	}
	return false
}

// Contact is a submitted contact request
type Contact struct {
	ID          string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name        string     `gorm:"size:100;not null" json:"name"`
	Email       string     `gorm:"size:320;not null;index" json:"email"`
	Company     *string    `gorm:"size:100" json:"company,omitempty"`
	Message     string     `gorm:"size:2000;not null" json:"message"`
	Status      Status     `gorm:"type:varchar(20);not null;index" json:"status"`
	Priority    Priority   `gorm:"type:varchar(20);not null;index" json:"priority"`
	IPAddress   string     `gorm:"size:64" json:"ipAddress"`
	UserAgent   string     `gorm:"size:512" json:"userAgent"`
	CreatedAt   time.Time  `gorm:"index" json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
}

// TableName specifies the table name for Contact
func (Contact) TableName() string {
	return "contacts"
}

// BeforeCreate fills identity and lifecycle defaults
func (c *Contact) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Status == "" {
		c.Status = StatusNew
	}
	if c.Priority == "" {
		c.Priority = PriorityMedium
	}
	return nil
}

// CompanyName returns the company or an empty string
func (c *Contact) CompanyName() string {
	if c.Company == nil {
		return ""
	}
	return *c.Company
}

// SetupModels runs migrations
func SetupModels(db *gorm.DB) error {
	if err := db.AutoMigrate(&Contact{}); err != nil {
		return errors.Wrap(err, "failed to migrate models")
	}
	return nil
}
