package grocery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingUserID     = errors.New("user identifier is required")
	errMissingListName   = errors.New("list name is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew = "grocery.service.new"
	opSaveList   = "grocery.save_list"
	opListLists  = "grocery.list_lists"
)

// ServiceError carries an operation-coded failure from the grocery service.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// IDProvider issues identifiers for new list rows.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig assembles a saved-list service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service persists per-user saved shopping lists.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService validates configuration and returns a saved-list service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, idProvider: cfg.IDProvider, logger: logger}, nil
}

// SaveList stores a new immutable snapshot of the user's list.
func (s *Service) SaveList(ctx context.Context, userID, name, source string, items []Item) (SavedList, error) {
	if userID == "" {
		return SavedList{}, newServiceError(opSaveList, "missing_user_id", errMissingUserID)
	}
	if name == "" {
		return SavedList{}, newServiceError(opSaveList, "missing_name", errMissingListName)
	}

	encoded, err := json.Marshal(items)
	if err != nil {
		s.logError(opSaveList, "encode_items_failed", err, zap.String("user_id", userID))
		return SavedList{}, newServiceError(opSaveList, "encode_items_failed", err)
	}

	listID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opSaveList, "id_generation_failed", err, zap.String("user_id", userID))
		return SavedList{}, newServiceError(opSaveList, "id_generation_failed", err)
	}

	row := SavedList{
		ListID:    listID,
		UserID:    userID,
		Name:      name,
		Source:    source,
		ItemCount: len(items),
		ItemsJSON: string(encoded),
		CreatedAt: s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		s.logError(opSaveList, "insert_failed", err, zap.String("user_id", userID))
		return SavedList{}, newServiceError(opSaveList, "insert_failed", err)
	}
	return row, nil
}

// ListLists returns the user's saved lists, newest first.
func (s *Service) ListLists(ctx context.Context, userID string) ([]SavedList, error) {
	if userID == "" {
		return nil, newServiceError(opListLists, "missing_user_id", errMissingUserID)
	}

	var rows []SavedList
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		s.logError(opListLists, "query_failed", err, zap.String("user_id", userID))
		return nil, newServiceError(opListLists, "query_failed", err)
	}
	return rows, nil
}

// Items decodes the stored item snapshot of a saved list.
func (l SavedList) Items() ([]Item, error) {
	if l.ItemsJSON == "" {
		return []Item{}, nil
	}
	var items []Item
	if err := json.Unmarshal([]byte(l.ItemsJSON), &items); err != nil {
		return nil, fmt.Errorf("grocery: decode list items: %w", err)
	}
	return items, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("grocery service error", attrs...)
}
