package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"example.com/backstage/contacts/internal/cache"
	"example.com/backstage/contacts/internal/events"
	"example.com/backstage/contacts/internal/models"
	"example.com/backstage/contacts/internal/repositories"
	"example.com/backstage/contacts/internal/search"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type contactFixture struct {
	repo      *repositories.GormContactRepository
	publisher *recordingPublisher
	cache     *memoryCache
	index     *recordingIndex
	service   *ContactService
}

func newContactFixture(t *testing.T) *contactFixture {
	t.Helper()
	f := &contactFixture{
		repo:      newTestRepo(t),
		publisher: &recordingPublisher{},
		cache:     newMemoryCache(),
		index:     newRecordingIndex(),
	}
	f.service = NewContactService(f.repo, f.publisher, f.cache, f.index, nil, ContactServiceOptions{})
	return f
}

func validInput() SubmitContactInput {
	return SubmitContactInput{
		Name:    "Ada Lovelace",
		Email:   "ada@example.com",
		Company: "Analytical Engines",
		Message: "Urgent job opportunity for a Go engineer",
	}
}

func TestSubmitPersistsAndPublishes(t *testing.T) {
	f := newContactFixture(t)
	ctx := context.Background()

	resp, err := f.service.Submit(ctx, validInput(), "203.0.113.7", "Mozilla/5.0")
	require.NoError(t, err)

	assert.NotEmpty(t, resp.ContactID)
	assert.Equal(t, models.StatusNew, resp.Status)
	assert.Equal(t, models.PriorityUrgent, resp.Priority)
	assert.Equal(t, EventStatusProcessingStarted, resp.EventStatus)
	assert.Equal(t, "within 2-4 hours", resp.ResponseTime)
	assert.True(t, strings.HasPrefix(resp.Message, "Hi Ada!"), resp.Message)
	assert.Contains(t, resp.NextSteps, "CV")
	assert.Equal(t, int64(1), resp.QueuePosition)

	stored, err := f.repo.GetByID(ctx, resp.ContactID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNew, stored.Status)
	assert.Equal(t, "Analytical Engines", stored.CompanyName())
	assert.Equal(t, "203.0.113.7", stored.IPAddress)

	published := f.publisher.published()
	require.Len(t, published, 1)
	assert.Equal(t, events.TopicContactEvents, published[0].topic)
	assert.Equal(t, resp.ContactID, published[0].key)
	ev, ok := published[0].event.(events.ContactSubmittedEvent)
	require.True(t, ok)
	assert.Equal(t, resp.ContactID, ev.ContactID)
	assert.Equal(t, "URGENT", ev.Priority)
}

func TestSubmitQueuePosition(t *testing.T) {
	f := newContactFixture(t)
	now := time.Now().UTC()

	seedContact(t, f.repo, models.StatusNew, models.PriorityUrgent, "first urgent", now)
	seedContact(t, f.repo, models.StatusNew, models.PriorityUrgent, "second urgent", now)
	seedContact(t, f.repo, models.StatusNew, models.PriorityHigh, "high", now)
	seedContact(t, f.repo, models.StatusAnalyzed, models.PriorityUrgent, "already handled", now)
	seedContact(t, f.repo, models.StatusNew, models.PriorityMedium, "same tier", now)

	in := validInput()
	in.Message = "Hello, I enjoyed reading your blog"
	resp, err := f.service.Submit(context.Background(), in, "", "")
	require.NoError(t, err)

	assert.Equal(t, models.PriorityMedium, resp.Priority)
	assert.Equal(t, int64(4), resp.QueuePosition)
}

func TestSubmitValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(in *SubmitContactInput)
		field  string
	}{
		{"message 9 chars", func(in *SubmitContactInput) { in.Message = strings.Repeat("a", 9) }, "message"},
		{"message 10 chars", func(in *SubmitContactInput) { in.Message = strings.Repeat("a", 10) }, ""},
		{"message 2000 chars", func(in *SubmitContactInput) { in.Message = strings.Repeat("a", 2000) }, ""},
		{"message 2001 chars", func(in *SubmitContactInput) { in.Message = strings.Repeat("a", 2001) }, "message"},
		{"message counts characters", func(in *SubmitContactInput) { in.Message = strings.Repeat("é", 2000) }, ""},
		{"blank message", func(in *SubmitContactInput) { in.Message = strings.Repeat(" ", 20) }, "message"},
		{"blank name", func(in *SubmitContactInput) { in.Name = "   " }, "name"},
		{"short name", func(in *SubmitContactInput) { in.Name = "A" }, "name"},
		{"short name after trimming", func(in *SubmitContactInput) { in.Name = " a " }, "name"},
		{"company padded to the limit", func(in *SubmitContactInput) { in.Company = " " + strings.Repeat("c", 100) + " " }, ""},
		{"invalid email", func(in *SubmitContactInput) { in.Email = "not-an-email" }, "email"},
		{"long company", func(in *SubmitContactInput) { in.Company = strings.Repeat("c", 101) }, "company"},
		{"no company", func(in *SubmitContactInput) { in.Company = "" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newContactFixture(t)
			in := validInput()
			tt.mutate(&in)

			resp, err := f.service.Submit(context.Background(), in, "", "")
			if tt.field == "" {
				require.NoError(t, err)
				assert.NotEmpty(t, resp.ContactID)
				return
			}

			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected validation error, got %v", err)
			assert.Contains(t, verr.Fields, tt.field)
			assert.Empty(t, f.publisher.published())

			count, err := f.repo.CountByStatus(context.Background(), models.StatusNew)
			require.NoError(t, err)
			assert.Zero(t, count)
		})
	}
}

func TestSubmitStoreFailurePublishesNothing(t *testing.T) {
	f := newContactFixture(t)
	repo := &failingRepo{ContactRepository: f.repo, createErr: errors.New("connection refused")}
	service := NewContactService(repo, f.publisher, f.cache, f.index, nil, ContactServiceOptions{})

	_, err := service.Submit(context.Background(), validInput(), "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Empty(t, f.publisher.published())
}

func TestListContacts(t *testing.T) {
	f := newContactFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	seedContact(t, f.repo, models.StatusNew, models.PriorityHigh, "one", now)
	seedContact(t, f.repo, models.StatusAnalyzed, models.PriorityHigh, "two", now)

	page, err := f.service.ListContacts(ctx, ListContactsInput{Status: "new"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)
	assert.Equal(t, DefaultPageSize, page.Size)

	page, err = f.service.ListContacts(ctx, ListContactsInput{Priority: "HIGH", Size: 500})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
	assert.Equal(t, MaxPageSize, page.Size)

	var verr *ValidationError
	_, err = f.service.ListContacts(ctx, ListContactsInput{Status: "PENDING"})
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "status")

	_, err = f.service.ListContacts(ctx, ListContactsInput{Priority: "CRITICAL"})
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "priority")
}

func TestGetContactReadsThroughCache(t *testing.T) {
	f := newContactFixture(t)
	ctx := context.Background()
	c := seedContact(t, f.repo, models.StatusNew, models.PriorityLow, "hello there friend", time.Now().UTC())

	got, err := f.service.GetContact(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.True(t, f.cache.has(cache.ContactKey(c.ID)))

	won, err := f.repo.TransitionStatus(ctx, c.ID, models.StatusNew, models.StatusProcessing, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, won)

	cached, err := f.service.GetContact(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNew, cached.Status)

	_, err = f.service.GetContact(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAnalytics(t *testing.T) {
	f := newContactFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	seedContact(t, f.repo, models.StatusNew, models.PriorityUrgent, "a", now)
	seedContact(t, f.repo, models.StatusAnalyzed, models.PriorityHigh, "b", now)
	seedContact(t, f.repo, models.StatusResponded, models.PriorityUrgent, "c", now)
	seedContact(t, f.repo, models.StatusNew, models.PriorityLow, "d", now.Add(-30*24*time.Hour))

	a, err := f.service.Analytics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), a.TotalContacts)
	assert.Equal(t, int64(2), a.ContactsByStatus[models.StatusNew])
	assert.Equal(t, int64(2), a.ContactsByPriority[models.PriorityUrgent])
	assert.Equal(t, int64(0), a.ContactsByPriority[models.PriorityMedium])
	assert.Equal(t, 3, a.RecentContactsCount)
	assert.Equal(t, 2, a.UrgentUnrespondedCount)
	assert.True(t, f.cache.has(cache.AnalyticsKey))
}

func TestMarkAsRespondedInvalidatesCache(t *testing.T) {
	f := newContactFixture(t)
	ctx := context.Background()
	c := seedContact(t, f.repo, models.StatusAnalyzed, models.PriorityHigh, "hello there friend", time.Now().UTC())

	_, err := f.service.GetContact(ctx, c.ID)
	require.NoError(t, err)
	_, err = f.service.Analytics(ctx)
	require.NoError(t, err)

	require.NoError(t, f.service.MarkAsResponded(ctx, c.ID))
	assert.False(t, f.cache.has(cache.ContactKey(c.ID)))
	assert.False(t, f.cache.has(cache.AnalyticsKey))

	got, err := f.service.GetContact(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusResponded, got.Status)
	assert.NotNil(t, got.ProcessedAt)

	assert.ErrorIs(t, f.service.MarkAsResponded(ctx, "missing"), ErrNotFound)
	assert.ErrorIs(t, f.service.MarkAsResponded(ctx, c.ID), ErrInvalidState)
}

func TestSearchContacts(t *testing.T) {
	f := newContactFixture(t)
	f.index.docs = []search.ContactDocument{{ID: "c-1", Name: "Ada"}}

	docs, err := f.service.SearchContacts(context.Background(), "kafka", 0)
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	var verr *ValidationError
	_, err = f.service.SearchContacts(context.Background(), "  ", 10)
	assert.True(t, errors.As(err, &verr))
}

func TestReconcileRepublishesStaleContacts(t *testing.T) {
	f := newContactFixture(t)
	now := time.Now().UTC()
	stale := seedContact(t, f.repo, models.StatusNew, models.PriorityHigh, "stuck", now.Add(-time.Hour))
	seedContact(t, f.repo, models.StatusNew, models.PriorityHigh, "fresh", now)
	seedContact(t, f.repo, models.StatusAnalyzed, models.PriorityHigh, "done", now.Add(-time.Hour))

	n, err := f.service.ReconcileContacts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	published := f.publisher.published()
	require.Len(t, published, 1)
	assert.Equal(t, stale.ID, published[0].key)
}

func TestReconcileCountsOnlyAcceptedSends(t *testing.T) {
	f := newContactFixture(t)
	f.publisher.err = errors.New("broker down")
	seedContact(t, f.repo, models.StatusNew, models.PriorityHigh, "stuck", time.Now().UTC().Add(-time.Hour))

	n, err := f.service.ReconcileContacts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEstimatedResponseWindows(t *testing.T) {
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	c := &models.Contact{ID: "c", Name: "Grace Hopper", Message: "Can we schedule a call?", Status: models.StatusNew, Priority: models.PriorityHigh}

	resp := buildSubmitResponse(c, 2, base)
	assert.Equal(t, "Mar 01, 2024 at 5:00 PM", resp.EstimatedResponse)
	assert.Equal(t, "within 8 hours", resp.ResponseTime)
	assert.Contains(t, resp.NextSteps, "meeting times")
	assert.True(t, strings.HasPrefix(resp.Message, "Hi Grace!"))

	c.Priority = models.PriorityLow
	resp = buildSubmitResponse(c, 1, base)
	assert.Equal(t, "Mar 03, 2024 at 9:00 AM", resp.EstimatedResponse)
	assert.Equal(t, "within 48 hours", resp.ResponseTime)
}
