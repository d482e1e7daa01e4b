package services

import (
	"context"
	"strings"
	"time"

	"example.com/backstage/contacts/internal/cache"
	"example.com/backstage/contacts/internal/classifier"
	"example.com/backstage/contacts/internal/events"
	"example.com/backstage/contacts/internal/messaging"
	"example.com/backstage/contacts/internal/metrics"
	"example.com/backstage/contacts/internal/models"
	"example.com/backstage/contacts/internal/repositories"
	"example.com/backstage/contacts/internal/search"
	"example.com/backstage/contacts/internal/tracing"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Listing bounds
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// RecentWindow is the lookback of Analytics.RecentContactsCount
const RecentWindow = 7 * 24 * time.Hour

// EventPublisher enqueues an event for asynchronous delivery
type EventPublisher interface {
	Publish(ctx context.Context, topic, partitionKey string, event events.Event) <-chan messaging.PublishResult
}

// SubmitContactInput is the body of a contact submission
type SubmitContactInput struct {
	Name    string `json:"name" binding:"required,notblank,min=2,max=100"`
	Email   string `json:"email" binding:"required,email"`
	Company string `json:"company" binding:"omitempty,max=100"`
	Message string `json:"message" binding:"required,notblank,min=10,max=2000"`
}

// ListContactsInput holds the raw listing query
type ListContactsInput struct {
	Status   string
	Priority string
	Page     int
	Size     int
}

// Analytics summarizes the contact store
type Analytics struct {
	TotalContacts          int64                     `json:"totalContacts"`
	ContactsByStatus       map[models.Status]int64   `json:"contactsByStatus"`
	ContactsByPriority     map[models.Priority]int64 `json:"contactsByPriority"`
	RecentContactsCount    int                       `json:"recentContactsCount"`
	UrgentUnrespondedCount int                       `json:"urgentUnrespondedCount"`
	GeneratedAt            time.Time                 `json:"generatedAt"`
}

// ContactServiceOptions tunes the contact service
type ContactServiceOptions struct {
	Topic      string
	StaleAfter time.Duration
	BatchSize  int
}

// ContactService accepts submissions and serves the admin queries
type ContactService struct {
	repo      repositories.ContactRepository
	publisher EventPublisher
	cache     cache.Cache
	index     search.Index
	tracer    tracing.Tracer
	validate  *validator.Validate
	opts      ContactServiceOptions
	now       func() time.Time
}

// NewContactService creates a new contact service
func NewContactService(
	repo repositories.ContactRepository,
	publisher EventPublisher,
	cache cache.Cache,
	index search.Index,
	tracer tracing.Tracer,
	opts ContactServiceOptions,
) *ContactService {
	if opts.Topic == "" {
		opts.Topic = events.TopicContactEvents
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 10 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if tracer == nil {
		tracer = tracing.Noop()
	}
	return &ContactService{
		repo:      repo,
		publisher: publisher,
		cache:     cache,
		index:     index,
		tracer:    tracer,
		validate:  NewValidator(),
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Submit persists a contact and hands it to the pipeline. Only the store
// write can fail the call; the publish is fire-and-forget.
func (s *ContactService) Submit(ctx context.Context, in SubmitContactInput, ipAddress, userAgent string) (*SubmitResponse, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.Company = strings.TrimSpace(in.Company)
	if err := s.validate.StructCtx(ctx, in); err != nil {
		return nil, FromValidator(err)
	}

	seg := s.tracer.StartSegment(ctx, "contact.submit")
	defer seg.End()

	now := s.now()
	contact := &models.Contact{
		Name:      in.Name,
		Email:     in.Email,
		Message:   in.Message,
		Status:    models.StatusNew,
		Priority:  classifier.Classify(in.Message),
		IPAddress: ipAddress,
		UserAgent: userAgent,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.Company != "" {
		company := in.Company
		contact.Company = &company
	}

	if err := s.repo.Create(ctx, contact); err != nil {
		s.tracer.RecordError(ctx, err)
		return nil, errors.Wrap(err, "failed to save contact")
	}
	metrics.Default().IncrementCounter(metrics.ContactsSubmitted)
	s.tracer.AddAttribute(ctx, "contact_id", contact.ID)

	s.publisher.Publish(ctx, s.opts.Topic, contact.ID, events.NewContactSubmitted(contact))

	log.Info().
		Str("contact_id", contact.ID).
		Str("priority", string(contact.Priority)).
		Msg("Contact submitted")

	return buildSubmitResponse(contact, s.queuePosition(ctx, contact.Priority), now), nil
}

// queuePosition counts NEW contacts in strictly more urgent tiers
func (s *ContactService) queuePosition(ctx context.Context, p models.Priority) int64 {
	var ahead int64
	for _, higher := range p.Higher() {
		n, err := s.repo.CountByStatusAndPriority(ctx, models.StatusNew, higher)
		if err != nil {
			log.Warn().Err(err).Str("priority", string(p)).Msg("Failed to compute queue position")
			return 1
		}
		ahead += n
	}
	return ahead + 1
}

// ListContacts returns a filtered page of contacts
func (s *ContactService) ListContacts(ctx context.Context, in ListContactsInput) (*repositories.ContactPage, error) {
	filter := repositories.ContactFilter{Page: in.Page, Size: in.Size}

	if in.Status != "" {
		st, err := models.ParseStatus(strings.ToUpper(in.Status))
		if err != nil {
			return nil, NewValidationError("status", "unknown status "+in.Status)
		}
		filter.Status = st
	}
	if in.Priority != "" {
		pr, err := models.ParsePriority(strings.ToUpper(in.Priority))
		if err != nil {
			return nil, NewValidationError("priority", "unknown priority "+in.Priority)
		}
		filter.Priority = pr
	}

	if filter.Page < 0 {
		filter.Page = 0
	}
	switch {
	case filter.Size <= 0:
		filter.Size = DefaultPageSize
	case filter.Size > MaxPageSize:
		filter.Size = MaxPageSize
	}

	page, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list contacts")
	}
	return page, nil
}

// GetContact reads a contact through the cache
func (s *ContactService) GetContact(ctx context.Context, id string) (*models.Contact, error) {
	key := cache.ContactKey(id)

	var cached models.Contact
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	contact, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, key, contact, cache.ContactTTL); err != nil && !errors.Is(err, cache.ErrDisabled) {
		log.Warn().Err(err).Str("contact_id", id).Msg("Failed to cache contact")
	}
	return contact, nil
}

// Analytics aggregates counts over the store, cached briefly
func (s *ContactService) Analytics(ctx context.Context) (*Analytics, error) {
	var cached Analytics
	if err := s.cache.Get(ctx, cache.AnalyticsKey, &cached); err == nil {
		return &cached, nil
	}

	seg := s.tracer.StartSegment(ctx, "contact.analytics")
	defer seg.End()

	out := &Analytics{
		ContactsByStatus:   make(map[models.Status]int64, len(models.AllStatuses)),
		ContactsByPriority: make(map[models.Priority]int64, len(models.AllPriorities)),
		GeneratedAt:        s.now(),
	}
	for _, st := range models.AllStatuses {
		n, err := s.repo.CountByStatus(ctx, st)
		if err != nil {
			return nil, errors.Wrap(err, "failed to count contacts by status")
		}
		out.ContactsByStatus[st] = n
		out.TotalContacts += n
	}
	for _, pr := range models.AllPriorities {
		n, err := s.repo.CountByPriority(ctx, pr)
		if err != nil {
			return nil, errors.Wrap(err, "failed to count contacts by priority")
		}
		out.ContactsByPriority[pr] = n
	}

	recent, err := s.repo.FindRecent(ctx, out.GeneratedAt.Add(-RecentWindow))
	if err != nil {
		return nil, errors.Wrap(err, "failed to load recent contacts")
	}
	out.RecentContactsCount = len(recent)

	unresponded, err := s.repo.FindUnrespondedHighPriority(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load unresponded contacts")
	}
	out.UrgentUnrespondedCount = len(unresponded)

	if err := s.cache.Set(ctx, cache.AnalyticsKey, out, cache.AnalyticsTTL); err != nil && !errors.Is(err, cache.ErrDisabled) {
		log.Warn().Err(err).Msg("Failed to cache analytics")
	}
	return out, nil
}

// MarkAsResponded closes a contact and drops the cached views of it
func (s *ContactService) MarkAsResponded(ctx context.Context, id string) error {
	if err := s.repo.MarkResponded(ctx, id, s.now()); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	log.Info().Str("contact_id", id).Msg("Contact marked as responded")
	return nil
}

// SearchContacts runs a full-text query over indexed contacts
func (s *ContactService) SearchContacts(ctx context.Context, query string, size int) ([]search.ContactDocument, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, NewValidationError("q", "must not be blank")
	}
	switch {
	case size <= 0:
		size = DefaultPageSize
	case size > MaxPageSize:
		size = MaxPageSize
	}

	docs, err := s.index.SearchContacts(ctx, query, size)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search contacts")
	}
	return docs, nil
}

// ReconcileContacts republishes submissions stuck in NEW, covering events
// lost between the store commit and the publish. It returns how many were
// accepted by the broker.
func (s *ContactService) ReconcileContacts(ctx context.Context) (int, error) {
	stale, err := s.repo.FindStaleNew(ctx, s.now().Add(-s.opts.StaleAfter), s.opts.BatchSize)
	if err != nil {
		return 0, errors.Wrap(err, "failed to find stale contacts")
	}
	if len(stale) == 0 {
		return 0, nil
	}

	results := make([]<-chan messaging.PublishResult, 0, len(stale))
	for i := range stale {
		results = append(results, s.publisher.Publish(ctx, s.opts.Topic, stale[i].ID, events.NewContactSubmitted(&stale[i])))
	}

	republished := 0
	for _, ch := range results {
		select {
		case res := <-ch:
			if res.Err == nil {
				republished++
			}
		case <-ctx.Done():
			return republished, ctx.Err()
		}
	}

	metrics.Default().IncrementCounterBy(metrics.ContactsRepublished, int64(republished))
	log.Info().Int("stale", len(stale)).Int("republished", republished).Msg("Reconciled stale contacts")
	return republished, nil
}

func (s *ContactService) invalidate(ctx context.Context, id string) {
	if err := s.cache.Delete(ctx, cache.ContactKey(id), cache.AnalyticsKey); err != nil && !errors.Is(err, cache.ErrDisabled) {
		log.Warn().Err(err).Str("contact_id", id).Msg("Failed to invalidate contact cache")
	}
}
