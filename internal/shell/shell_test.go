package shell

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/basketwire/backend/internal/device"
	"github.com/basketwire/backend/internal/devicesync"
	"github.com/basketwire/backend/internal/family"
	"github.com/basketwire/backend/internal/session"
)

type stubFamilySession struct {
	initErr    error
	initCalls  atomic.Int32
	cleanups   atomic.Int32
	ready      bool
	updateSubs int
	removals   int
	blockInit  chan struct{}
}

func (s *stubFamilySession) Initialize(ctx context.Context, user session.User) error {
	s.initCalls.Add(1)
	if s.blockInit != nil {
		<-s.blockInit
	}
	if s.initErr != nil {
		return s.initErr
	}
	s.ready = true
	return nil
}

func (s *stubFamilySession) IsReady() bool {
	return s.ready
}

func (s *stubFamilySession) OnUpdate(callback func(family.Update)) func() {
	s.updateSubs++
	return func() { s.removals++ }
}

func (s *stubFamilySession) OnPresence(callback func([]family.Member)) func() {
	s.updateSubs++
	return func() { s.removals++ }
}

func (s *stubFamilySession) Cleanup() {
	s.cleanups.Add(1)
	s.ready = false
}

type stubSyncSession struct {
	initErr   error
	initCalls atomic.Int32
	cleanups  atomic.Int32
	ready     bool
	eventSubs int
	removals  int
}

func (s *stubSyncSession) Initialize(ctx context.Context, user session.User) error {
	s.initCalls.Add(1)
	if s.initErr != nil {
		return s.initErr
	}
	s.ready = true
	return nil
}

func (s *stubSyncSession) IsReady() bool {
	return s.ready
}

func (s *stubSyncSession) OnSyncEvent(callback func(devicesync.Event)) func() {
	s.eventSubs++
	return func() { s.removals++ }
}

func (s *stubSyncSession) OnDeviceUpdate(callback func([]device.Identity)) func() {
	s.eventSubs++
	return func() { s.removals++ }
}

func (s *stubSyncSession) Cleanup() {
	s.cleanups.Add(1)
	s.ready = false
}

type recordingSink struct {
	syncEvents int
	updates    int
	members    int
	devices    int
}

func (r *recordingSink) HandleSyncEvent(devicesync.Event) { r.syncEvents++ }
func (r *recordingSink) HandleListUpdate(family.Update)   { r.updates++ }
func (r *recordingSink) HandleMembers([]family.Member)    { r.members++ }
func (r *recordingSink) HandleDevices([]device.Identity)  { r.devices++ }

func mustShell(t *testing.T, familySession FamilySession, syncSession SyncSession) *Shell {
	t.Helper()
	built, err := New(Config{Family: familySession, Sync: syncSession, Sink: &recordingSink{}})
	if err != nil {
		t.Fatalf("failed to build shell: %v", err)
	}
	return built
}

func TestNewValidatesDependencies(t *testing.T) {
	if _, err := New(Config{Sync: &stubSyncSession{}, Sink: &recordingSink{}}); err == nil {
		t.Fatal("expected error for missing family session")
	}
	if _, err := New(Config{Family: &stubFamilySession{}, Sink: &recordingSink{}}); err == nil {
		t.Fatal("expected error for missing sync session")
	}
	if _, err := New(Config{Family: &stubFamilySession{}, Sync: &stubSyncSession{}}); err == nil {
		t.Fatal("expected error for missing sink")
	}
}

func TestSignInBringsBothSessionsUp(t *testing.T) {
	familySession := &stubFamilySession{}
	syncSession := &stubSyncSession{}
	built := mustShell(t, familySession, syncSession)

	if err := built.SignIn(context.Background(), session.User{ID: "user-1"}); err != nil {
		t.Fatalf("unexpected sign-in error: %v", err)
	}

	if got := familySession.initCalls.Load(); got != 1 {
		t.Fatalf("expected 1 family initialize, got %d", got)
	}
	if got := syncSession.initCalls.Load(); got != 1 {
		t.Fatalf("expected 1 sync initialize, got %d", got)
	}
	if familySession.updateSubs != 2 || syncSession.eventSubs != 2 {
		t.Fatalf("expected callbacks registered on both sessions, got %d and %d",
			familySession.updateSubs, syncSession.eventSubs)
	}
}

func TestSignInRequiresUserID(t *testing.T) {
	built := mustShell(t, &stubFamilySession{}, &stubSyncSession{})
	if err := built.SignIn(context.Background(), session.User{}); err == nil {
		t.Fatal("expected error for missing user id")
	}
}

func TestSignInContinuesWhenFamilySessionFails(t *testing.T) {
	familySession := &stubFamilySession{initErr: errors.New("channel refused")}
	syncSession := &stubSyncSession{}
	built := mustShell(t, familySession, syncSession)

	if err := built.SignIn(context.Background(), session.User{ID: "user-1"}); err != nil {
		t.Fatalf("expected sign-in to tolerate family failure, got %v", err)
	}
	if got := syncSession.initCalls.Load(); got != 1 {
		t.Fatalf("expected sync session still initialized, got %d calls", got)
	}
	if familySession.updateSubs != 0 {
		t.Fatalf("expected no family callbacks registered, got %d", familySession.updateSubs)
	}
	if syncSession.eventSubs != 2 {
		t.Fatalf("expected sync callbacks registered, got %d", syncSession.eventSubs)
	}
}

func TestSignInContinuesWhenSyncSessionFails(t *testing.T) {
	familySession := &stubFamilySession{}
	syncSession := &stubSyncSession{initErr: errors.New("channel refused")}
	built := mustShell(t, familySession, syncSession)

	if err := built.SignIn(context.Background(), session.User{ID: "user-1"}); err != nil {
		t.Fatalf("expected sign-in to tolerate sync failure, got %v", err)
	}
	if familySession.updateSubs != 2 {
		t.Fatalf("expected family callbacks registered, got %d", familySession.updateSubs)
	}
	if syncSession.eventSubs != 0 {
		t.Fatalf("expected no sync callbacks registered, got %d", syncSession.eventSubs)
	}
}

func TestSignInDropsReentrantCalls(t *testing.T) {
	familySession := &stubFamilySession{blockInit: make(chan struct{})}
	syncSession := &stubSyncSession{}
	built := mustShell(t, familySession, syncSession)

	done := make(chan error, 1)
	go func() {
		done <- built.SignIn(context.Background(), session.User{ID: "user-1"})
	}()

	// Wait until the first sign-in is inside family initialization.
	deadline := time.Now().Add(time.Second)
	for familySession.initCalls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first sign-in never started")
		}
		time.Sleep(time.Millisecond)
	}

	if err := built.SignIn(context.Background(), session.User{ID: "user-1"}); err != nil {
		t.Fatalf("expected re-entrant sign-in dropped without error, got %v", err)
	}
	if got := familySession.initCalls.Load(); got != 1 {
		t.Fatalf("expected the re-entrant call dropped, got %d family initializes", got)
	}

	close(familySession.blockInit)
	if err := <-done; err != nil {
		t.Fatalf("unexpected sign-in error: %v", err)
	}
}

func TestSignOutRemovesCallbacksAndCleansUpBothSessions(t *testing.T) {
	familySession := &stubFamilySession{}
	syncSession := &stubSyncSession{}
	built := mustShell(t, familySession, syncSession)

	if err := built.SignIn(context.Background(), session.User{ID: "user-1"}); err != nil {
		t.Fatalf("unexpected sign-in error: %v", err)
	}
	built.SignOut(context.Background())

	if familySession.removals != 2 || syncSession.removals != 2 {
		t.Fatalf("expected all callbacks removed, got %d and %d",
			familySession.removals, syncSession.removals)
	}
	if got := familySession.cleanups.Load(); got != 1 {
		t.Fatalf("expected 1 family cleanup, got %d", got)
	}
	if got := syncSession.cleanups.Load(); got != 1 {
		t.Fatalf("expected 1 sync cleanup, got %d", got)
	}

	// Sign-out with nothing up is still safe.
	built.SignOut(context.Background())
	if got := familySession.cleanups.Load(); got != 2 {
		t.Fatalf("expected repeated cleanup tolerated, got %d", got)
	}
}
