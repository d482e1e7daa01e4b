package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"example.com/backstage/contacts/internal/broadcast"
	"example.com/backstage/contacts/internal/events"
	"example.com/backstage/contacts/internal/geo"
	"example.com/backstage/contacts/internal/metrics"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Session cookie settings
const (
	SessionCookieName = "PORTFOLIO_SESSION_ID"
	SessionCookieTTL  = time.Hour
)

// DefaultPage is used when no page can be derived from the request
const DefaultPage = "home"

// SessionInput describes a browser session start
type SessionInput struct {
	SessionID string
	IPAddress string
	UserAgent string
	Referrer  string
	Page      string
	Header    http.Header
}

// PageViewInput is the body of a page view report
type PageViewInput struct {
	SessionID    string `json:"sessionId"`
	Page         string `json:"page"`
	PreviousPage string `json:"previousPage"`
	TimeSpent    int64  `json:"timeSpent"`
}

// VisitorService turns browser activity into visitor events
type VisitorService struct {
	publisher EventPublisher
	locator   geo.Locator
	last      broadcast.LastValue
	topic     string
}

// NewVisitorService creates a new visitor service. last may be nil when no
// stats source is available to this process.
func NewVisitorService(publisher EventPublisher, locator geo.Locator, last broadcast.LastValue, topic string) *VisitorService {
	if topic == "" {
		topic = events.TopicVisitorEvents
	}
	return &VisitorService{
		publisher: publisher,
		locator:   locator,
		last:      last,
		topic:     topic,
	}
}

// TrackSession publishes a session start and returns the session id, minting
// one when the request carried none.
func (s *VisitorService) TrackSession(ctx context.Context, in SessionInput) (string, error) {
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	location := s.locator.Locate(in.IPAddress, in.Header)
	if location == "" {
		location = "Unknown"
	}

	page := PageFromPath(in.Page)
	if strings.TrimSpace(in.Page) == "" {
		page = PageFromReferrer(in.Referrer)
	}

	ev := events.VisitorSessionEvent{
		EventID:    uuid.New().String(),
		EventType:  events.TypeVisitorSession,
		SessionID:  sessionID,
		IPAddress:  in.IPAddress,
		UserAgent:  in.UserAgent,
		Location:   location,
		Page:       page,
		Referrer:   in.Referrer,
		DeviceType: geo.DeviceType(in.UserAgent),
		Timestamp:  time.Now().UTC(),
	}
	s.publisher.Publish(ctx, s.topic, sessionID, ev)
	metrics.Default().IncrementCounter(metrics.VisitorSessions)

	log.Debug().
		Str("session_id", sessionID).
		Str("location", location).
		Str("page", page).
		Msg("Visitor session tracked")
	return sessionID, nil
}

// TrackPageView publishes a page view for an existing session
func (s *VisitorService) TrackPageView(ctx context.Context, in PageViewInput) error {
	if strings.TrimSpace(in.SessionID) == "" {
		return NewValidationError("sessionId", "must not be blank")
	}
	page := strings.TrimSpace(in.Page)
	if page == "" {
		return NewValidationError("page", "must not be blank")
	}
	if in.TimeSpent < 0 {
		return NewValidationError("timeSpent", "must not be negative")
	}

	ev := events.PageViewEvent{
		EventID:          uuid.New().String(),
		EventType:        events.TypePageView,
		SessionID:        in.SessionID,
		Page:             page,
		PreviousPage:     strings.TrimSpace(in.PreviousPage),
		TimeSpentSeconds: in.TimeSpent,
		Timestamp:        time.Now().UTC(),
	}
	s.publisher.Publish(ctx, s.topic, in.SessionID, ev)
	metrics.Default().IncrementCounter(metrics.PageViews)
	return nil
}

// Stats returns the last broadcast LiveStats, zero when none was seen
func (s *VisitorService) Stats(ctx context.Context) (events.LiveStats, error) {
	var out events.LiveStats
	if s.last == nil {
		return out, nil
	}
	raw, err := s.last.Last(ctx, broadcast.ChannelLiveStats)
	if errors.Is(err, broadcast.ErrNoValue) {
		return out, nil
	}
	if err != nil {
		return out, errors.Wrap(err, "failed to read live stats")
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, errors.Wrap(err, "failed to decode live stats")
	}
	return out, nil
}

// PageFromPath reduces a URL path to its first segment
func PageFromPath(path string) string {
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" {
		return DefaultPage
	}
	first, _, _ := strings.Cut(path, "/")
	return strings.ToLower(first)
}

// PageFromReferrer derives the page from a Referer header value
func PageFromReferrer(referrer string) string {
	if referrer == "" {
		return DefaultPage
	}
	u, err := url.Parse(referrer)
	if err != nil {
		return DefaultPage
	}
	return PageFromPath(u.Path)
}
