package shell

import (
	"context"
	"errors"
	"sync"

	"github.com/basketwire/backend/internal/device"
	"github.com/basketwire/backend/internal/devicesync"
	"github.com/basketwire/backend/internal/family"
	"github.com/basketwire/backend/internal/session"
	"go.uber.org/zap"
)

var (
	errMissingFamilySession = errors.New("shell: family session is required")
	errMissingSyncSession   = errors.New("shell: sync session is required")
	errMissingSink          = errors.New("shell: event sink is required")
	errMissingUserID        = errors.New("shell: user id is required")
)

// FamilySession is the slice of the family manager the shell drives.
type FamilySession interface {
	Initialize(ctx context.Context, user session.User) error
	IsReady() bool
	OnUpdate(callback func(family.Update)) func()
	OnPresence(callback func([]family.Member)) func()
	Cleanup()
}

// SyncSession is the slice of the device sync manager the shell drives.
type SyncSession interface {
	Initialize(ctx context.Context, user session.User) error
	IsReady() bool
	OnSyncEvent(callback func(devicesync.Event)) func()
	OnDeviceUpdate(callback func([]device.Identity)) func()
	Cleanup()
}

// EventSink receives the session events the shell routes into application
// state. Implementations are invoked synchronously from transport delivery.
type EventSink interface {
	HandleSyncEvent(event devicesync.Event)
	HandleListUpdate(update family.Update)
	HandleMembers(members []family.Member)
	HandleDevices(devices []device.Identity)
}

// Config assembles the application shell.
type Config struct {
	Family FamilySession
	Sync   SyncSession
	Sink   EventSink
	Logger *zap.Logger
}

// Shell sequences session lifecycles around auth changes: both managers are
// initialized sequentially and independently on sign-in, and torn down
// together on sign-out. A failure in one manager never blocks the other and
// never blocks sign-in itself.
type Shell struct {
	family FamilySession
	sync   SyncSession
	sink   EventSink
	logger *zap.Logger

	mu            sync.Mutex
	initializing  bool
	unsubscribers []func()
}

// New validates dependencies and returns a shell.
func New(cfg Config) (*Shell, error) {
	if cfg.Family == nil {
		return nil, errMissingFamilySession
	}
	if cfg.Sync == nil {
		return nil, errMissingSyncSession
	}
	if cfg.Sink == nil {
		return nil, errMissingSink
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Shell{family: cfg.Family, sync: cfg.Sync, sink: cfg.Sink, logger: logger}, nil
}

// SignIn brings both sessions up for the user. Rapid repeated calls while a
// sign-in is still running are dropped: the shell keeps its own initializing
// flag, separate from each manager's internal transition guard.
func (s *Shell) SignIn(ctx context.Context, user session.User) error {
	if user.ID == "" {
		return errMissingUserID
	}

	s.mu.Lock()
	if s.initializing {
		s.mu.Unlock()
		s.logger.Debug("sign-in already in progress, ignoring", zap.String("user_id", user.ID))
		return nil
	}
	s.initializing = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.initializing = false
		s.mu.Unlock()
	}()

	if err := s.family.Initialize(ctx, user); err != nil {
		s.logger.Warn("family session unavailable, continuing without it",
			zap.String("user_id", user.ID),
			zap.Error(err))
	} else if s.family.IsReady() {
		s.addUnsubscribers(
			s.family.OnUpdate(s.sink.HandleListUpdate),
			s.family.OnPresence(s.sink.HandleMembers),
		)
	}

	if err := s.sync.Initialize(ctx, user); err != nil {
		s.logger.Warn("device sync unavailable, continuing without it",
			zap.String("user_id", user.ID),
			zap.Error(err))
	} else if s.sync.IsReady() {
		s.addUnsubscribers(
			s.sync.OnSyncEvent(s.sink.HandleSyncEvent),
			s.sync.OnDeviceUpdate(s.sink.HandleDevices),
		)
	}

	s.logger.Info("session initialization completed", zap.String("user_id", user.ID))
	return nil
}

// SignOut removes the shell's registered callbacks and tears both sessions
// down. Cleanup problems are tolerated; sign-out always completes.
func (s *Shell) SignOut(ctx context.Context) {
	s.mu.Lock()
	unsubscribers := s.unsubscribers
	s.unsubscribers = nil
	s.initializing = false
	s.mu.Unlock()

	for _, unsubscribe := range unsubscribers {
		unsubscribe()
	}

	s.family.Cleanup()
	s.sync.Cleanup()
	s.logger.Info("sessions cleaned up on sign-out")
}

func (s *Shell) addUnsubscribers(unsubscribers ...func()) {
	s.mu.Lock()
	s.unsubscribers = append(s.unsubscribers, unsubscribers...)
	s.mu.Unlock()
}
