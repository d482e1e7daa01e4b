// Package events defines the messages carried on the contact and visitor
// streams.
package events

import (
	"encoding/json"
	"time"

	"example.com/backstage/contacts/internal/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Event type discriminators
const (
	TypeContactSubmitted = "CONTACT_SUBMITTED"
	TypeContactProcessed = "CONTACT_PROCESSED"
	TypeVisitorSession   = "VISITOR_SESSION"
	TypePageView         = "PAGE_VIEW"
)

// Logical stream names
const (
	TopicContactEvents = "contact-events"
	TopicVisitorEvents = "visitor-events"
)

// Event is implemented by every message published on a stream
type Event interface {
	Type() string
	ID() string
}

// ContactSubmittedEvent is a snapshot of a contact at submission time
type ContactSubmittedEvent struct {
	EventID   string    `json:"eventId"`
	EventType string    `json:"eventType"`
	ContactID string    `json:"contactId"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Company   string    `json:"company,omitempty"`
	Message   string    `json:"message"`
	Priority  string    `json:"priority"`
	Timestamp time.Time `json:"timestamp"`
}

func (e ContactSubmittedEvent) Type() string { return TypeContactSubmitted }
func (e ContactSubmittedEvent) ID() string   { return e.EventID }

// NewContactSubmitted builds the submission event for a persisted contact
func NewContactSubmitted(c *models.Contact) ContactSubmittedEvent {
	priority := c.Priority
	if !priority.Valid() {
		priority = models.PriorityMedium
	}
	return ContactSubmittedEvent{
		EventID:   uuid.New().String(),
		EventType: TypeContactSubmitted,
		ContactID: c.ID,
		Email:     c.Email,
		Name:      c.Name,
		Company:   c.CompanyName(),
		Message:   c.Message,
		Priority:  string(priority),
		Timestamp: time.Now().UTC(),
	}
}

// ContactProcessedEvent is emitted once a submitted contact has been analysed
type ContactProcessedEvent struct {
	EventID        string    `json:"eventId"`
	EventType      string    `json:"eventType"`
	ContactID      string    `json:"contactId"`
	Status         string    `json:"status"`
	AnalysisResult string    `json:"analysisResult"`
	Timestamp      time.Time `json:"timestamp"`
}

func (e ContactProcessedEvent) Type() string { return TypeContactProcessed }
func (e ContactProcessedEvent) ID() string   { return e.EventID }

// NewContactProcessed builds the processed event
func NewContactProcessed(contactID string, status models.Status, analysis string) ContactProcessedEvent {
	return ContactProcessedEvent{
		EventID:        uuid.New().String(),
		EventType:      TypeContactProcessed,
		ContactID:      contactID,
		Status:         string(status),
		AnalysisResult: analysis,
		Timestamp:      time.Now().UTC(),
	}
}

// VisitorSessionEvent marks the start of a browser session
type VisitorSessionEvent struct {
	EventID    string    `json:"eventId"`
	EventType  string    `json:"eventType"`
	SessionID  string    `json:"sessionId"`
	IPAddress  string    `json:"ipAddress"`
	UserAgent  string    `json:"userAgent"`
	Location   string    `json:"location"`
	Page       string    `json:"page"`
	Referrer   string    `json:"referrer,omitempty"`
	DeviceType string    `json:"deviceType"`
	Timestamp  time.Time `json:"timestamp"`
}

func (e VisitorSessionEvent) Type() string { return TypeVisitorSession }
func (e VisitorSessionEvent) ID() string   { return e.EventID }

// PageViewEvent records navigation within a session. The pages "exit" and
// "close" end the session.
type PageViewEvent struct {
	EventID          string    `json:"eventId"`
	EventType        string    `json:"eventType"`
	SessionID        string    `json:"sessionId"`
	Page             string    `json:"page"`
	PreviousPage     string    `json:"previousPage,omitempty"`
	TimeSpentSeconds int64     `json:"timeSpentSeconds"`
	Timestamp        time.Time `json:"timestamp"`
}

func (e PageViewEvent) Type() string { return TypePageView }
func (e PageViewEvent) ID() string   { return e.EventID }

// LiveStats is the aggregate broadcast on the live-stats channel
type LiveStats struct {
	ActiveViewers int64 `json:"activeViewers"`
	Countries     int64 `json:"countries"`
	TotalViews    int64 `json:"totalViews"`
}

// ErrMalformed marks a message body that cannot be decoded
var ErrMalformed = errors.New("malformed event")

// PeekType reads the discriminator from a JSON body
func PeekType(body []byte) (string, error) {
	var head struct {
		EventType string `json:"eventType"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return "", errors.Wrap(ErrMalformed, err.Error())
	}
	return head.EventType, nil
}

// Decode unmarshals body into out, tagging failures as malformed
func Decode(body []byte, out interface{}) error {
	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrap(ErrMalformed, err.Error())
	}
	return nil
}
