package services

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"example.com/backstage/contacts/internal/cache"
	"example.com/backstage/contacts/internal/events"
	"example.com/backstage/contacts/internal/messaging"
	"example.com/backstage/contacts/internal/models"
	"example.com/backstage/contacts/internal/repositories"
	"example.com/backstage/contacts/internal/search"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRepo(t *testing.T) *repositories.GormContactRepository {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "contacts.db") + "?_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, models.SetupModels(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return repositories.NewContactRepository(db, nil)
}

func seedContact(t *testing.T, repo repositories.ContactRepository, status models.Status, priority models.Priority, message string, createdAt time.Time) *models.Contact {
	t.Helper()
	c := &models.Contact{
		Name:      "Ada Lovelace",
		Email:     "ada@example.com",
		Message:   message,
		Status:    status,
		Priority:  priority,
		CreatedAt: createdAt,
	}
	require.NoError(t, repo.Create(context.Background(), c))
	return c
}

type publishedEvent struct {
	topic string
	key   string
	event events.Event
}

// recordingPublisher acknowledges every publish immediately
type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, topic, partitionKey string, event events.Event) <-chan messaging.PublishResult {
	p.mu.Lock()
	p.events = append(p.events, publishedEvent{topic: topic, key: partitionKey, event: event})
	p.mu.Unlock()

	ch := make(chan messaging.PublishResult, 1)
	ch <- messaging.PublishResult{MessageID: event.ID(), Topic: topic, Err: p.err}
	return ch
}

func (p *recordingPublisher) published() []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedEvent(nil), p.events...)
}

// memoryCache is a map-backed cache.Cache
type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	deleted []string
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string][]byte)}
}

func (c *memoryCache) Get(ctx context.Context, key string, value interface{}) error {
	c.mu.Lock()
	raw, ok := c.entries[key]
	c.mu.Unlock()
	if !ok {
		return cache.ErrMiss
	}
	return json.Unmarshal(raw, value)
}

func (c *memoryCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.entries[key] = raw
	c.mu.Unlock()
	return nil
}

func (c *memoryCache) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
		c.deleted = append(c.deleted, k)
	}
	return nil
}

func (c *memoryCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// recordingIndex captures indexed contacts
type recordingIndex struct {
	mu      sync.Mutex
	indexed map[string]string
	docs    []search.ContactDocument
}

func newRecordingIndex() *recordingIndex {
	return &recordingIndex{indexed: make(map[string]string)}
}

func (i *recordingIndex) IndexContact(ctx context.Context, contact *models.Contact, analysis string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.indexed[contact.ID] = analysis
	return nil
}

func (i *recordingIndex) SearchContacts(ctx context.Context, query string, size int) ([]search.ContactDocument, error) {
	return i.docs, nil
}

func (i *recordingIndex) analysisFor(id string) (string, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	a, ok := i.indexed[id]
	return a, ok
}

// MockNotifier is a testify mock of notify.Dispatcher
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) NotifyUrgent(ctx context.Context, email, name, message string) error {
	args := m.Called(ctx, email, name, message)
	return args.Error(0)
}

func (m *MockNotifier) NotifyStandard(ctx context.Context, contact *models.Contact) error {
	args := m.Called(ctx, contact)
	return args.Error(0)
}

// failingRepo overrides selected repository calls with errors
type failingRepo struct {
	repositories.ContactRepository
	createErr error
	getErr    error
	storeErr  error
}

func (r *failingRepo) Create(ctx context.Context, contact *models.Contact) error {
	if r.createErr != nil {
		return r.createErr
	}
	return r.ContactRepository.Create(ctx, contact)
}

func (r *failingRepo) GetByID(ctx context.Context, id string) (*models.Contact, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	return r.ContactRepository.GetByID(ctx, id)
}

func (r *failingRepo) StoreAnalysis(ctx context.Context, id string, priority models.Priority, at time.Time) (bool, error) {
	if r.storeErr != nil {
		return false, r.storeErr
	}
	return r.ContactRepository.StoreAnalysis(ctx, id, priority, at)
}

// respondingRepo marks a contact as responded right after a consumer claims
// it, the way an admin acting mid-analysis would
type respondingRepo struct {
	repositories.ContactRepository
}

func (r *respondingRepo) TransitionStatus(ctx context.Context, id string, from, to models.Status, at time.Time) (bool, error) {
	won, err := r.ContactRepository.TransitionStatus(ctx, id, from, to, at)
	if err != nil || !won {
		return won, err
	}
	return won, r.ContactRepository.MarkResponded(ctx, id, at)
}

func messageFor(t *testing.T, event events.Event, key string, deliveryCount uint32) *messaging.Message {
	t.Helper()
	body, err := json.Marshal(event)
	require.NoError(t, err)
	return &messaging.Message{
		ID:            event.ID(),
		PartitionKey:  key,
		EventType:     event.Type(),
		Body:          body,
		DeliveryCount: deliveryCount,
		EnqueuedAt:    time.Now().UTC(),
	}
}
