package family

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errMissingStoreDatabase = errors.New("family: database handle is required")

const (
	opStoreNew          = "family.store.new"
	opCreateInvitation  = "family.create_invitation"
	opListInvitations   = "family.list_invitations"
	opAppendList        = "family.append_list"
	opLatestList        = "family.latest_list"
	storeErrCodePattern = "%s.%s"
)

// StoreError carries an operation-coded failure from the family store.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

func (e *StoreError) Code() string {
	return e.code
}

func newStoreError(operation, reason string, cause error) error {
	return &StoreError{code: fmt.Sprintf(storeErrCodePattern, operation, reason), err: cause}
}

// Store owns the durable family records: invitations and list snapshots.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore wraps a database handle for family persistence.
func NewStore(db *gorm.DB, logger *zap.Logger) (*Store, error) {
	if db == nil {
		return nil, newStoreError(opStoreNew, "missing_database", errMissingStoreDatabase)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}, nil
}

// CreateInvitation persists a new invitation row.
func (s *Store) CreateInvitation(ctx context.Context, invitation Invitation) error {
	if err := s.db.WithContext(ctx).Create(&invitation).Error; err != nil {
		s.logError(opCreateInvitation, "insert_failed", err,
			zap.String("family_id", invitation.FamilyID))
		return newStoreError(opCreateInvitation, "insert_failed", err)
	}
	return nil
}

// ListInvitations returns a family's invitations, newest first.
func (s *Store) ListInvitations(ctx context.Context, familyID string) ([]Invitation, error) {
	var rows []Invitation
	if err := s.db.WithContext(ctx).
		Where("family_id = ?", familyID).
		Order("created_at DESC, invitation_id DESC").
		Find(&rows).Error; err != nil {
		s.logError(opListInvitations, "query_failed", err, zap.String("family_id", familyID))
		return nil, newStoreError(opListInvitations, "query_failed", err)
	}
	return rows, nil
}

// AppendList inserts a fresh list snapshot row. Existing rows are never
// updated; readers take the newest row per family.
func (s *Store) AppendList(ctx context.Context, list ShoppingList) error {
	if err := s.db.WithContext(ctx).Create(&list).Error; err != nil {
		s.logError(opAppendList, "insert_failed", err, zap.String("family_id", list.FamilyID))
		return newStoreError(opAppendList, "insert_failed", err)
	}
	return nil
}

// LatestList returns the family's most recently created list snapshot. The
// second return is false when the family has no saved list yet.
func (s *Store) LatestList(ctx context.Context, familyID string) (ShoppingList, bool, error) {
	var row ShoppingList
	err := s.db.WithContext(ctx).
		Where("family_id = ?", familyID).
		// List ids are time-sortable, so they break created_at ties from
		// rapid consecutive saves.
		Order("created_at DESC, list_id DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ShoppingList{}, false, nil
	}
	if err != nil {
		s.logError(opLatestList, "query_failed", err, zap.String("family_id", familyID))
		return ShoppingList{}, false, newStoreError(opLatestList, "query_failed", err)
	}
	return row, true, nil
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("family store error", attrs...)
}
