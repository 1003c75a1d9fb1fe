package devicesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/basketwire/backend/internal/device"
	"github.com/basketwire/backend/internal/realtime"
	"github.com/basketwire/backend/internal/session"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	errMissingTransport = errors.New("devicesync: transport is required")
	errMissingUserID    = errors.New("devicesync: user id is required")
	noOpLogger          = zap.NewNop()
)

// presenceMetadata is the payload this device attaches to its channel
// subscription so peers can render it in their active-device list.
type presenceMetadata struct {
	DeviceID   string          `json:"deviceId"`
	DeviceInfo device.Identity `json:"deviceInfo"`
	JoinedAt   time.Time       `json:"joinedAt"`
	SessionID  string          `json:"sessionId"`
}

// Config assembles a sync session manager.
type Config struct {
	Transport     realtime.Transport
	Fingerprinter device.Fingerprinter
	UserAgent     string
	Clock         func() time.Time
	Logger        *zap.Logger
	// Sleep overrides the retry backoff wait; tests stub it out.
	Sleep func(ctx context.Context, delay time.Duration) error
}

// Manager maintains this device's presence on the signed-in user's personal
// sync channel, broadcasts local mutations and delivers mutations arriving
// from the user's other devices. Events this device published itself are
// filtered out before dispatch: the channel exists for cross-device
// mirroring, so a device must never reprocess its own broadcast.
type Manager struct {
	transport realtime.Transport
	identity  device.Identity
	clock     func() time.Time
	logger    *zap.Logger
	sleep     func(ctx context.Context, delay time.Duration) error

	guard           *session.Guard
	syncObservers   *session.Registry[Event]
	deviceObservers *session.Registry[[]device.Identity]

	mu          sync.Mutex
	user        session.User
	channel     realtime.Channel
	initialized bool
}

// NewManager constructs a sync session manager. The device identifier is
// derived once per instance and remains fixed for its lifetime.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Transport == nil {
		return nil, errMissingTransport
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	deviceID := device.NewDeviceID(cfg.Fingerprinter, clock)
	return &Manager{
		transport:       cfg.Transport,
		identity:        device.Classify(deviceID, cfg.UserAgent),
		clock:           clock,
		logger:          logger,
		sleep:           cfg.Sleep,
		guard:           session.NewGuard(),
		syncObservers:   session.NewRegistry[Event](logger),
		deviceObservers: session.NewRegistry[[]device.Identity](logger),
	}, nil
}

// DeviceID returns this instance's stable device identifier.
func (m *Manager) DeviceID() string {
	return m.identity.DeviceID
}

// Identity returns this instance's device classification.
func (m *Manager) Identity() device.Identity {
	return m.identity
}

// State reports the current connection state.
func (m *Manager) State() session.State {
	return m.guard.State()
}

// IsReady reports whether the manager is initialized with a live channel.
func (m *Manager) IsReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized && m.channel != nil
}

// Initialize connects the manager to the user's sync channel. Calling it
// again for the same user while connected is a no-op; a different user first
// gets the prior session fully torn down. A concurrent call waits for the
// in-flight transition, bounded, and forces the guard free if the bound is
// exceeded rather than deadlocking behind a stuck transition.
func (m *Manager) Initialize(ctx context.Context, user session.User) error {
	if user.ID == "" {
		return errMissingUserID
	}

	if !m.guard.AcquireWithin(session.TransitionWait) {
		m.logger.Warn("sync initialize wait timed out, forcing transition reset",
			zap.String("user_id", user.ID))
		m.guard.ForceRelease()
		return nil
	}
	defer m.guard.Release()

	m.mu.Lock()
	alreadyConnected := m.initialized && m.user.ID == user.ID
	m.mu.Unlock()
	if alreadyConnected {
		m.logger.Debug("sync session already initialized for user", zap.String("user_id", user.ID))
		return nil
	}

	m.teardownLocked()
	m.guard.SetState(session.StateConnecting)

	metadata, err := json.Marshal(presenceMetadata{
		DeviceID:   m.identity.DeviceID,
		DeviceInfo: m.identity,
		JoinedAt:   m.clock().UTC(),
		SessionID:  uuid.NewString(),
	})
	if err != nil {
		m.guard.SetState(session.StateError)
		return fmt.Errorf("devicesync: encode presence metadata: %w", err)
	}

	channel, err := session.Connect(ctx, session.ConnectConfig{
		Transport: m.transport,
		ChannelName: func() string {
			return fmt.Sprintf("sync_%s_%d", user.ID, m.clock().UnixMilli())
		},
		Subscription: realtime.Subscription{UserID: user.ID, Metadata: metadata},
		Attach: func(channel realtime.Channel) {
			channel.OnMessage(m.handleMessage)
			channel.OnPresence(m.handlePresence)
		},
		Logger: m.logger,
		Sleep:  m.sleep,
	})
	if err != nil {
		m.guard.SetState(session.StateError)
		m.logger.Error("sync session initialization failed",
			zap.String("user_id", user.ID),
			zap.Error(err))
		return fmt.Errorf("devicesync: initialize: %w", err)
	}

	m.mu.Lock()
	m.user = user
	m.channel = channel
	m.initialized = true
	m.mu.Unlock()
	m.guard.SetState(session.StateConnected)

	m.logger.Info("sync session initialized",
		zap.String("user_id", user.ID),
		zap.String("device_id", m.identity.DeviceID))
	return nil
}

// Broadcast publishes a sync event stamped with this device's identity.
// It is a no-op when the manager is not ready: the local mutation has already
// been applied by the caller, only cross-device propagation is skipped.
// Publish failures are best-effort and only logged.
func (m *Manager) Broadcast(ctx context.Context, eventType EventType, data any) {
	m.mu.Lock()
	channel := m.channel
	user := m.user
	ready := m.initialized && channel != nil
	m.mu.Unlock()
	if !ready {
		return
	}

	payload, err := json.Marshal(data)
	if err != nil {
		m.logger.Error("failed to encode sync event data",
			zap.String("event_type", string(eventType)),
			zap.Error(err))
		return
	}

	event := Event{
		Type:      eventType,
		DeviceID:  m.identity.DeviceID,
		UserID:    user.ID,
		Timestamp: m.clock().UTC(),
		Data:      payload,
	}
	if err := channel.Publish(ctx, TopicSyncEvent, event); err != nil {
		m.logger.Error("failed to broadcast sync event",
			zap.String("event_type", string(eventType)),
			zap.Error(err))
		return
	}
	m.logger.Debug("sync event broadcast", zap.String("event_type", string(eventType)))
}

// OnSyncEvent registers a listener for events from the user's other devices
// and returns its remove func. Listeners never see this device's own events.
func (m *Manager) OnSyncEvent(callback func(Event)) func() {
	return m.syncObservers.Add(callback)
}

// OnDeviceUpdate registers a listener receiving the full active-device
// snapshot whenever channel membership changes.
func (m *Manager) OnDeviceUpdate(callback func([]device.Identity)) func() {
	return m.deviceObservers.Add(callback)
}

// ActiveDevices returns the current presence snapshot. An uninitialized
// manager reports an empty list, not an error.
func (m *Manager) ActiveDevices(ctx context.Context) []device.Identity {
	m.mu.Lock()
	channel := m.channel
	ready := m.initialized && channel != nil
	m.mu.Unlock()
	if !ready {
		return []device.Identity{}
	}

	entries, err := channel.Presence(ctx)
	if err != nil {
		m.logger.Error("failed to read device presence", zap.Error(err))
		return []device.Identity{}
	}
	return devicesFromPresence(entries)
}

// Cleanup unsubscribes, clears every registered callback and resets the
// manager to disconnected. It waits for an in-flight Initialize to settle
// first, never fails, and is safe to call repeatedly or before any
// Initialize.
func (m *Manager) Cleanup() {
	m.guard.Acquire()
	defer m.guard.Release()
	m.teardownLocked()
	m.logger.Debug("sync session cleaned up")
}

// teardownLocked releases the channel and resets state. Caller holds the
// transition guard.
func (m *Manager) teardownLocked() {
	m.mu.Lock()
	channel := m.channel
	m.channel = nil
	m.user = session.User{}
	m.initialized = false
	m.mu.Unlock()

	session.ReleaseChannel(channel, m.logger)
	m.syncObservers.Clear()
	m.deviceObservers.Clear()
	m.guard.SetState(session.StateDisconnected)
}

func (m *Manager) handleMessage(message realtime.Message) {
	if message.Topic != TopicSyncEvent {
		return
	}

	var event Event
	if err := json.Unmarshal(message.Payload, &event); err != nil {
		m.logger.Warn("dropping malformed sync event", zap.Error(err))
		return
	}
	if event.Type == "" || event.DeviceID == "" {
		m.logger.Warn("dropping sync event with missing fields",
			zap.String("event_type", string(event.Type)))
		return
	}
	if event.DeviceID == m.identity.DeviceID {
		// Self-echo: this device already applied the mutation locally.
		return
	}

	m.syncObservers.Notify(event)
}

func (m *Manager) handlePresence(entries []realtime.PresenceEntry) {
	m.deviceObservers.Notify(devicesFromPresence(entries))
}

func devicesFromPresence(entries []realtime.PresenceEntry) []device.Identity {
	devices := make([]device.Identity, 0, len(entries))
	for _, entry := range entries {
		var metadata presenceMetadata
		if err := json.Unmarshal(entry.Metadata, &metadata); err != nil {
			continue
		}
		if metadata.DeviceInfo.DeviceID == "" {
			continue
		}
		devices = append(devices, metadata.DeviceInfo)
	}
	return devices
}
