package repositories

import (
	"context"
	"time"

	"example.com/backstage/contacts/internal/models"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// ContactFilter narrows a contact listing. Zero values mean "any".
type ContactFilter struct {
	Status   models.Status
	Priority models.Priority
	Page     int
	Size     int
}

// ContactPage is one page of a contact listing
type ContactPage struct {
	Items      []models.Contact `json:"items"`
	Total      int64            `json:"total"`
	Page       int              `json:"page"`
	Size       int              `json:"size"`
	TotalPages int              `json:"totalPages"`
}

// ContactRepository is the durable store for contacts
type ContactRepository interface {
	Create(ctx context.Context, contact *models.Contact) error
	GetByID(ctx context.Context, id string) (*models.Contact, error)
	Update(ctx context.Context, contact *models.Contact) error
	StoreAnalysis(ctx context.Context, id string, priority models.Priority, at time.Time) (bool, error)
	TransitionStatus(ctx context.Context, id string, from, to models.Status, at time.Time) (bool, error)
	MarkResponded(ctx context.Context, id string, at time.Time) error
	List(ctx context.Context, filter ContactFilter) (*ContactPage, error)
	CountByStatus(ctx context.Context, status models.Status) (int64, error)
	CountByPriority(ctx context.Context, priority models.Priority) (int64, error)
	CountByStatusAndPriority(ctx context.Context, status models.Status, priority models.Priority) (int64, error)
	FindRecent(ctx context.Context, since time.Time) ([]models.Contact, error)
	FindUnrespondedHighPriority(ctx context.Context) ([]models.Contact, error)
	FindStaleNew(ctx context.Context, olderThan time.Time, limit int) ([]models.Contact, error)
}

// GormContactRepository implements ContactRepository on gorm. Reads that
// feed a state transition go to the primary; listings and counts go to the
// read-only replica.
type GormContactRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewContactRepository creates a new contact repository
func NewContactRepository(db *gorm.DB, readOnlyDB *gorm.DB) *GormContactRepository {
	if readOnlyDB == nil {
		readOnlyDB = db
	}
	return &GormContactRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// Create persists a new contact
func (r *GormContactRepository) Create(ctx context.Context, contact *models.Contact) error {
	if err := r.db.WithContext(ctx).Create(contact).Error; err != nil {
		return errors.Wrap(err, "failed to create contact")
	}
	return nil
}

// GetByID gets a contact by ID
func (r *GormContactRepository) GetByID(ctx context.Context, id string) (*models.Contact, error) {
	var contact models.Contact
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&contact).Error
	if err != nil {
		return nil, translate(err, "failed to get contact by ID")
	}
	return &contact, nil
}

// Update writes every column of contact in a single statement
func (r *GormContactRepository) Update(ctx context.Context, contact *models.Contact) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Contact{}).Where("id = ?", contact.ID).Updates(map[string]interface{}{
			"name":         contact.Name,
			"email":        contact.Email,
			"company":      contact.Company,
			"message":      contact.Message,
			"status":       contact.Status,
			"priority":     contact.Priority,
			"processed_at": contact.ProcessedAt,
			"updated_at":   time.Now().UTC(),
		})
		if res.Error != nil {
			return errors.Wrap(res.Error, "failed to update contact")
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// StoreAnalysis records the analysed priority and moves a PROCESSING
// contact to ANALYZED. It reports false when the contact left PROCESSING in
// the meantime, for example because it was already responded to.
func (r *GormContactRepository) StoreAnalysis(ctx context.Context, id string, priority models.Priority, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Contact{}).
		Where("id = ? AND status = ?", id, models.StatusProcessing).
		Updates(map[string]interface{}{
			"status":       models.StatusAnalyzed,
			"priority":     priority,
			"processed_at": at,
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "failed to store contact analysis")
	}
	return res.RowsAffected == 1, nil
}

// TransitionStatus moves a contact from one status to another only if it is
// still in the expected status. It reports whether this call won the
// transition, which serializes concurrent consumers of the same contact.
func (r *GormContactRepository) TransitionStatus(ctx context.Context, id string, from, to models.Status, at time.Time) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, errors.Wrapf(ErrInvalidState, "%s -> %s", from, to)
	}

	res := r.db.WithContext(ctx).
		Model(&models.Contact{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":       to,
			"processed_at": at,
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "failed to transition contact status")
	}
	return res.RowsAffected == 1, nil
}

// MarkResponded sets a contact to RESPONDED. Contacts already responded to
// or archived are left alone and ErrInvalidState is returned.
func (r *GormContactRepository) MarkResponded(ctx context.Context, id string, at time.Time) error {
	var from []models.Status
	for _, status := range models.AllStatuses {
		if status.CanTransitionTo(models.StatusResponded) {
			from = append(from, status)
		}
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Contact{}).
			Where("id = ? AND status IN ?", id, from).
			Updates(map[string]interface{}{
				"status":       models.StatusResponded,
				"processed_at": at,
				"updated_at":   time.Now().UTC(),
			})
		if res.Error != nil {
			return errors.Wrap(res.Error, "failed to mark contact as responded")
		}
		if res.RowsAffected == 1 {
			return nil
		}

		var current models.Contact
		if err := tx.Select("status").Where("id = ?", id).First(&current).Error; err != nil {
			return translate(err, "failed to get contact by ID")
		}
		return errors.Wrapf(ErrInvalidState, "%s -> %s", current.Status, models.StatusResponded)
	})
}

// List returns a page of contacts, newest first
func (r *GormContactRepository) List(ctx context.Context, filter ContactFilter) (*ContactPage, error) {
	if filter.Size <= 0 {
		filter.Size = 10
	}
	if filter.Page < 0 {
		filter.Page = 0
	}

	query := r.readOnlyDB.WithContext(ctx).Model(&models.Contact{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Priority != "" {
		query = query.Where("priority = ?", filter.Priority)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, errors.Wrap(err, "failed to count contacts")
	}

	var items []models.Contact
	err := query.
		Order("created_at DESC").
		Limit(filter.Size).
		Offset(filter.Page * filter.Size).
		Find(&items).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list contacts")
	}

	totalPages := int((total + int64(filter.Size) - 1) / int64(filter.Size))
	return &ContactPage{
		Items:      items,
		Total:      total,
		Page:       filter.Page,
		Size:       filter.Size,
		TotalPages: totalPages,
	}, nil
}

// CountByStatus counts contacts in a status
func (r *GormContactRepository) CountByStatus(ctx context.Context, status models.Status) (int64, error) {
	var count int64
	err := r.readOnlyDB.WithContext(ctx).Model(&models.Contact{}).
		Where("status = ?", status).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to count contacts by status")
	}
	return count, nil
}

// CountByPriority counts contacts with a priority
func (r *GormContactRepository) CountByPriority(ctx context.Context, priority models.Priority) (int64, error) {
	var count int64
	err := r.readOnlyDB.WithContext(ctx).Model(&models.Contact{}).
		Where("priority = ?", priority).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to count contacts by priority")
	}
	return count, nil
}

// CountByStatusAndPriority counts contacts matching both
func (r *GormContactRepository) CountByStatusAndPriority(ctx context.Context, status models.Status, priority models.Priority) (int64, error) {
	var count int64
	err := r.readOnlyDB.WithContext(ctx).Model(&models.Contact{}).
		Where("status = ? AND priority = ?", status, priority).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to count contacts by status and priority")
	}
	return count, nil
}

// FindRecent returns contacts created at or after since, newest first
func (r *GormContactRepository) FindRecent(ctx context.Context, since time.Time) ([]models.Contact, error) {
	var contacts []models.Contact
	err := r.readOnlyDB.WithContext(ctx).
		Where("created_at >= ?", since).
		Order("created_at DESC").
		Find(&contacts).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to find recent contacts")
	}
	return contacts, nil
}

// FindUnrespondedHighPriority returns HIGH and URGENT contacts not yet responded to
func (r *GormContactRepository) FindUnrespondedHighPriority(ctx context.Context) ([]models.Contact, error) {
	var contacts []models.Contact
	err := r.readOnlyDB.WithContext(ctx).
		Where("status <> ? AND priority IN ?", models.StatusResponded,
			[]models.Priority{models.PriorityHigh, models.PriorityUrgent}).
		Order("created_at DESC").
		Find(&contacts).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to find unresponded high priority contacts")
	}
	return contacts, nil
}

// FindStaleNew returns contacts still NEW that were created before olderThan
func (r *GormContactRepository) FindStaleNew(ctx context.Context, olderThan time.Time, limit int) ([]models.Contact, error) {
	var contacts []models.Contact
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.StatusNew, olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&contacts).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to find stale contacts")
	}
	return contacts, nil
}
