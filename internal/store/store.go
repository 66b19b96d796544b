// Package store persists captured requests and their data entries with gorm
// and serves the read side of the panel API.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/pysugar/go-sonar/internal/db/models"
)

// PageSize is the number of requests per list page.
const PageSize = 25

// ErrNotFound is returned when a request or entry does not exist.
var ErrNotFound = errors.New("not found")

// Store is the gorm-backed capture store.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New wraps db. A nil logger is replaced with a no-op one.
func New(db *gorm.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger.Named("store")}
}

// DB exposes the underlying handle.
func (s *Store) DB() *gorm.DB { return s.db }

// CreateRequest inserts record, assigning its id when empty.
func (s *Store) CreateRequest(ctx context.Context, record *models.RequestRecord) error {
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

// CreateEntry appends one data entry. data must be a JSON document.
func (s *Store) CreateEntry(ctx context.Context, requestID, category string, data []byte) error {
	entry := models.DataEntry{
		RequestID: requestID,
		Category:  category,
		Data:      datatypes.JSON(data),
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("create %s entry for %s: %w", category, requestID, err)
	}
	return nil
}

// RequestFilter narrows ListRequests. Empty fields do not filter.
type RequestFilter struct {
	Verb   string // case-insensitive exact match
	Path   string // case-insensitive substring
	Status string // exact match
	Page   int    // 1-based; clamped into range
}

// RequestPage is one page of requests, newest first.
type RequestPage struct {
	Requests []models.RequestRecord `json:"requests"`
	Total    int64                  `json:"total"`
	Page     int                    `json:"page"`
	Pages    int                    `json:"pages"`
	PageSize int                    `json:"page_size"`
}

// ListRequests returns the requested page. Pages below 1 become 1 and pages
// past the end become the last page.
func (s *Store) ListRequests(ctx context.Context, f RequestFilter) (RequestPage, error) {
	filtered := func() *gorm.DB {
		query := s.db.WithContext(ctx).Model(&models.RequestRecord{})
		if verb := strings.TrimSpace(f.Verb); verb != "" {
			query = query.Where("UPPER(verb) = ?", strings.ToUpper(verb))
		}
		if path := strings.TrimSpace(f.Path); path != "" {
			query = query.Where("LOWER(path) LIKE ? ESCAPE '\\'", "%"+escapeLike(strings.ToLower(path))+"%")
		}
		if status := strings.TrimSpace(f.Status); status != "" {
			query = query.Where("status = ?", status)
		}
		return query
	}

	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return RequestPage{}, fmt.Errorf("count requests: %w", err)
	}

	pages := int((total + PageSize - 1) / PageSize)
	if pages < 1 {
		pages = 1
	}
	page := f.Page
	if page < 1 {
		page = 1
	}
	if page > pages {
		page = pages
	}

	requests := []models.RequestRecord{}
	err := filtered().Order("created_at DESC").Order("id").
		Offset((page - 1) * PageSize).Limit(PageSize).
		Find(&requests).Error
	if err != nil {
		return RequestPage{}, fmt.Errorf("list requests: %w", err)
	}

	return RequestPage{Requests: requests, Total: total, Page: page, Pages: pages, PageSize: PageSize}, nil
}

// GetRequest loads one request by id.
func (s *Store) GetRequest(ctx context.Context, id string) (*models.RequestRecord, error) {
	var record models.RequestRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get request %s: %w", id, err)
	}
	return &record, nil
}

// MarkRead flags a request as viewed. It is the only update a request ever
// receives.
func (s *Store) MarkRead(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&models.RequestRecord{}).Where("id = ?", id).Update("is_read", true)
	if res.Error != nil {
		return fmt.Errorf("mark %s read: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// EntriesForRequest returns every entry of a request in write order.
func (s *Store) EntriesForRequest(ctx context.Context, requestID string) ([]models.DataEntry, error) {
	entries := []models.DataEntry{}
	err := s.db.WithContext(ctx).Where("request_id = ?", requestID).Order("id").Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("entries for %s: %w", requestID, err)
	}
	return entries, nil
}

// RequestEntries returns the entries of one category for a request in write
// order.
func (s *Store) RequestEntries(ctx context.Context, requestID, category string) ([]models.DataEntry, error) {
	entries := []models.DataEntry{}
	err := s.db.WithContext(ctx).
		Where("request_id = ? AND category = ?", requestID, category).
		Order("id").Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("%s entries for %s: %w", category, requestID, err)
	}
	return entries, nil
}

// FirstEntry returns the earliest entry of category for a request.
func (s *Store) FirstEntry(ctx context.Context, requestID, category string) (*models.DataEntry, error) {
	var entry models.DataEntry
	err := s.db.WithContext(ctx).
		Where("request_id = ? AND category = ?", requestID, category).
		Order("id").First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("first %s entry for %s: %w", category, requestID, err)
	}
	return &entry, nil
}

// EntriesByCategory returns entries of category across all requests, newest
// first. limit <= 0 means no limit.
func (s *Store) EntriesByCategory(ctx context.Context, category string, limit int) ([]models.DataEntry, error) {
	entries := []models.DataEntry{}
	query := s.db.WithContext(ctx).Where("category = ?", category).Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("%s entries: %w", category, err)
	}
	return entries, nil
}

// PurgeResult reports how many rows a purge removed.
type PurgeResult struct {
	Requests int64 `json:"requests"`
	Entries  int64 `json:"entries"`
}

// Purge deletes all captured data, entries first.
func (s *Store) Purge(ctx context.Context) (PurgeResult, error) {
	var result PurgeResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.DataEntry{})
		if res.Error != nil {
			return fmt.Errorf("delete entries: %w", res.Error)
		}
		result.Entries = res.RowsAffected

		res = tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.RequestRecord{})
		if res.Error != nil {
			return fmt.Errorf("delete requests: %w", res.Error)
		}
		result.Requests = res.RowsAffected
		return nil
	})
	if err != nil {
		s.logger.Error("purge failed", zap.Error(err))
		return PurgeResult{}, err
	}
	s.logger.Info("purged captured data",
		zap.Int64("requests", result.Requests), zap.Int64("entries", result.Entries))
	return result, nil
}

// PruneOlderThan deletes requests created before cutoff together with their
// entries and returns the number of requests removed.
func (s *Store) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		old := tx.Model(&models.RequestRecord{}).Select("id").Where("created_at < ?", cutoff)
		if err := tx.Where("request_id IN (?)", old).Delete(&models.DataEntry{}).Error; err != nil {
			return fmt.Errorf("prune entries: %w", err)
		}
		res := tx.Where("created_at < ?", cutoff).Delete(&models.RequestRecord{})
		if res.Error != nil {
			return fmt.Errorf("prune requests: %w", res.Error)
		}
		removed = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Stats aggregates request counts. Statuses below 400 count as successes.
func (s *Store) Stats(ctx context.Context) (models.RequestStats, error) {
	var stats models.RequestStats
	db := s.db.WithContext(ctx)

	counts := []struct {
		dst   *int64
		model any
		where string
		args  []any
	}{
		{dst: &stats.TotalRequests, model: &models.RequestRecord{}},
		{dst: &stats.SuccessCount, model: &models.RequestRecord{}, where: "CAST(status AS INTEGER) < ?", args: []any{400}},
		{dst: &stats.ErrorCount, model: &models.RequestRecord{}, where: "CAST(status AS INTEGER) >= ?", args: []any{400}},
		{dst: &stats.UnreadCount, model: &models.RequestRecord{}, where: "is_read = ?", args: []any{false}},
		{dst: &stats.EntryCount, model: &models.DataEntry{}},
	}
	for _, c := range counts {
		q := db.Model(c.model)
		if c.where != "" {
			q = q.Where(c.where, c.args...)
		}
		if err := q.Count(c.dst).Error; err != nil {
			return models.RequestStats{}, fmt.Errorf("stats: %w", err)
		}
	}
	return stats, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
