package grocery

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequenceIDProvider struct {
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("list-%d", p.next), nil
}

type failingIDProvider struct{}

func (failingIDProvider) NewID() (string, error) {
	return "", errors.New("entropy exhausted")
}

func mustService(t *testing.T, clock func() time.Time) *Service {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.AutoMigrate(&SavedList{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: &sequenceIDProvider{},
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service
}

func TestNewServiceValidatesConfig(t *testing.T) {
	if _, err := NewService(ServiceConfig{IDProvider: NewUUIDProvider()}); err == nil {
		t.Fatal("expected error for missing database")
	}
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if _, err := NewService(ServiceConfig{Database: db}); err == nil {
		t.Fatal("expected error for missing id provider")
	}
}

func TestSaveListRoundTrip(t *testing.T) {
	service := mustService(t, nil)
	ctx := context.Background()

	items := []Item{
		{ID: "item-1", Name: "Milk", Quantity: 2, Category: "Dairy"},
		{ID: "item-2", Name: "Bread", SourceType: SourceWebsite, SourceURL: "https://example.com/recipe"},
	}
	saved, err := service.SaveList(ctx, "user-1", "Weekly Shop", "recipe", items)
	if err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
	if saved.ListID != "list-1" {
		t.Fatalf("unexpected list id %q", saved.ListID)
	}
	if saved.ItemCount != 2 {
		t.Fatalf("unexpected item count %d", saved.ItemCount)
	}

	lists, err := service.ListLists(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(lists) != 1 {
		t.Fatalf("expected 1 saved list, got %d", len(lists))
	}
	decoded, err := lists[0].Items()
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if len(decoded) != 2 || decoded[0].Name != "Milk" || decoded[1].SourceType != SourceWebsite {
		t.Fatalf("unexpected decoded items %#v", decoded)
	}
}

func TestListListsNewestFirstAndScopedToUser(t *testing.T) {
	current := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	service := mustService(t, func() time.Time { return current })
	ctx := context.Background()

	if _, err := service.SaveList(ctx, "user-1", "First", "manual", nil); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
	current = current.Add(time.Minute)
	if _, err := service.SaveList(ctx, "user-1", "Second", "manual", nil); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
	if _, err := service.SaveList(ctx, "user-2", "Other", "manual", nil); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}

	lists, err := service.ListLists(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(lists) != 2 {
		t.Fatalf("expected 2 lists, got %d", len(lists))
	}
	if lists[0].Name != "Second" || lists[1].Name != "First" {
		t.Fatalf("unexpected order: %q then %q", lists[0].Name, lists[1].Name)
	}
}

func TestSaveListValidation(t *testing.T) {
	service := mustService(t, nil)
	ctx := context.Background()

	_, err := service.SaveList(ctx, "", "Weekly Shop", "manual", nil)
	assertServiceCode(t, err, "grocery.save_list.missing_user_id")

	_, err = service.SaveList(ctx, "user-1", "", "manual", nil)
	assertServiceCode(t, err, "grocery.save_list.missing_name")

	_, err = service.ListLists(ctx, "")
	assertServiceCode(t, err, "grocery.list_lists.missing_user_id")
}

func TestSaveListSurfacesIDProviderFailure(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.AutoMigrate(&SavedList{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	service, err := NewService(ServiceConfig{Database: db, IDProvider: failingIDProvider{}})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}

	_, err = service.SaveList(context.Background(), "user-1", "Weekly Shop", "manual", nil)
	assertServiceCode(t, err, "grocery.save_list.id_generation_failed")
}

func TestSavedListItemsEmptyDocument(t *testing.T) {
	items, err := SavedList{}.Items()
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no items, got %d", len(items))
	}

	if _, err := (SavedList{ItemsJSON: "{broken"}).Items(); err == nil {
		t.Fatal("expected decode error for corrupt document")
	}
}

func assertServiceCode(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %q", want)
	}
	serviceErr, ok := err.(*ServiceError)
	if !ok {
		t.Fatalf("expected *ServiceError, got %T", err)
	}
	if serviceErr.Code() != want {
		t.Fatalf("unexpected error code %q, want %q", serviceErr.Code(), want)
	}
}
