package family

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/basketwire/backend/internal/grocery"
	"github.com/basketwire/backend/internal/realtime"
	"github.com/basketwire/backend/internal/session"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	errMissingTransport = errors.New("family: transport is required")
	errMissingStore     = errors.New("family: store is required")
	errMissingUserID    = errors.New("family: user id is required")
	errNotInitialized   = errors.New("family: session not initialized")
	errMissingEmail     = errors.New("family: invite email is required")
)

const defaultListName = "Family Shopping List"

// memberMetadata is the human-facing identity a participant joins the family
// channel with, in contrast to the device-facing metadata of the sync channel.
type memberMetadata struct {
	DisplayName string    `json:"displayName"`
	Email       string    `json:"email"`
	Avatar      string    `json:"avatar,omitempty"`
	JoinedAt    time.Time `json:"joinedAt"`
	SessionID   string    `json:"sessionId"`
}

// IDProvider issues identifiers for invitation and list rows.
type IDProvider interface {
	NewID() (string, error)
}

// Config assembles a family session manager.
type Config struct {
	Transport  realtime.Transport
	Store      *Store
	IDProvider IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
	// Sleep overrides the retry backoff wait; tests stub it out.
	Sleep func(ctx context.Context, delay time.Duration) error
}

// Manager maintains the signed-in user's family collaboration channel:
// presence of online members, broadcast of shopping-list activity, and the
// durable invitation and list records.
//
// Unlike the device sync channel, family updates are NOT filtered by origin.
// That asymmetry is intentional: the family channel is a human activity feed
// and the sender's own session displays the feed entry too, whereas the sync
// channel exists purely to mirror state across devices and must suppress
// self-echo.
type Manager struct {
	transport  realtime.Transport
	store      *Store
	idProvider IDProvider
	clock      func() time.Time
	logger     *zap.Logger
	sleep      func(ctx context.Context, delay time.Duration) error

	guard             *session.Guard
	updateObservers   *session.Registry[Update]
	presenceObservers *session.Registry[[]Member]

	mu          sync.Mutex
	user        session.User
	familyID    string
	channel     realtime.Channel
	initialized bool
}

type uuidIDProvider struct{}

func (uuidIDProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// NewManager constructs a family session manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Transport == nil {
		return nil, errMissingTransport
	}
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = uuidIDProvider{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		transport:         cfg.Transport,
		store:             cfg.Store,
		idProvider:        idProvider,
		clock:             clock,
		logger:            logger,
		sleep:             cfg.Sleep,
		guard:             session.NewGuard(),
		updateObservers:   session.NewRegistry[Update](logger),
		presenceObservers: session.NewRegistry[[]Member](logger),
	}, nil
}

// State reports the current connection state.
func (m *Manager) State() session.State {
	return m.guard.State()
}

// IsReady reports whether the manager is initialized with a live channel.
func (m *Manager) IsReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized && m.channel != nil && m.user.ID != ""
}

// FamilyID returns the identifier of the currently joined family group, or
// empty when not initialized.
func (m *Manager) FamilyID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.familyID
}

// Initialize connects the manager to the user's family channel, with the
// same idempotence, retry and concurrency rules as the device sync session.
func (m *Manager) Initialize(ctx context.Context, user session.User) error {
	if user.ID == "" {
		return errMissingUserID
	}

	if !m.guard.AcquireWithin(session.TransitionWait) {
		m.logger.Warn("family initialize wait timed out, forcing transition reset",
			zap.String("user_id", user.ID))
		m.guard.ForceRelease()
		return nil
	}
	defer m.guard.Release()

	m.mu.Lock()
	alreadyConnected := m.initialized && m.user.ID == user.ID
	m.mu.Unlock()
	if alreadyConnected {
		m.logger.Debug("family session already initialized for user", zap.String("user_id", user.ID))
		return nil
	}

	m.teardownLocked()
	m.guard.SetState(session.StateConnecting)

	familyID := "family_" + user.ID

	metadata, err := json.Marshal(memberMetadata{
		DisplayName: user.Name(),
		Email:       user.Email,
		Avatar:      user.Avatar,
		JoinedAt:    m.clock().UTC(),
		SessionID:   uuid.NewString(),
	})
	if err != nil {
		m.guard.SetState(session.StateError)
		return fmt.Errorf("family: encode presence metadata: %w", err)
	}

	channel, err := session.Connect(ctx, session.ConnectConfig{
		Transport: m.transport,
		ChannelName: func() string {
			return fmt.Sprintf("%s_%d", familyID, m.clock().UnixMilli())
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
		m.logger.Error("family session initialization failed",
			zap.String("user_id", user.ID),
			zap.Error(err))
		return fmt.Errorf("family: initialize: %w", err)
	}

	m.mu.Lock()
	m.user = user
	m.familyID = familyID
	m.channel = channel
	m.initialized = true
	m.mu.Unlock()
	m.guard.SetState(session.StateConnected)

	m.logger.Info("family session initialized",
		zap.String("user_id", user.ID),
		zap.String("family_id", familyID))
	return nil
}

// InviteMember records a pending invitation and then best-effort notifies the
// family channel. The persisted row is the durable source of truth: a failed
// realtime notice is logged and does not roll the invitation back.
func (m *Manager) InviteMember(ctx context.Context, email string) error {
	if email == "" {
		return errMissingEmail
	}

	m.mu.Lock()
	user := m.user
	familyID := m.familyID
	channel := m.channel
	initialized := m.initialized
	m.mu.Unlock()
	if !initialized || familyID == "" {
		return errNotInitialized
	}

	invitationID, err := m.idProvider.NewID()
	if err != nil {
		return fmt.Errorf("family: invitation id: %w", err)
	}
	invitation := Invitation{
		InvitationID:  invitationID,
		FamilyID:      familyID,
		InvitedBy:     user.ID,
		InvitedByName: user.Name(),
		InvitedEmail:  email,
		Status:        InvitationPending,
		CreatedAt:     m.clock().UTC(),
	}
	if err := m.store.CreateInvitation(ctx, invitation); err != nil {
		return err
	}

	if channel != nil {
		notice := invitationNotice{
			Type:      "member_invited",
			Email:     email,
			InvitedBy: user.Name(),
			Timestamp: m.clock().UTC(),
		}
		if err := channel.Publish(ctx, TopicFamilyInvitation, notice); err != nil {
			m.logger.Warn("invitation notice publish failed",
				zap.String("family_id", familyID),
				zap.Error(err))
		}
	}

	m.logger.Info("family member invited",
		zap.String("family_id", familyID),
		zap.String("email", email))
	return nil
}

// BroadcastUpdate publishes a shopping-list update to every family session,
// including the sender's own. It is a no-op when the session is not ready;
// publish failures are best-effort and only logged.
func (m *Manager) BroadcastUpdate(ctx context.Context, update Update) {
	m.mu.Lock()
	channel := m.channel
	ready := m.initialized && channel != nil
	m.mu.Unlock()
	if !ready {
		m.logger.Warn("family session not ready for broadcasting",
			zap.String("update_type", string(update.Type)))
		return
	}

	if update.Timestamp.IsZero() {
		update.Timestamp = m.clock().UTC()
	}
	if err := channel.Publish(ctx, TopicShoppingListUpdate, update); err != nil {
		m.logger.Error("failed to broadcast shopping list update",
			zap.String("update_type", string(update.Type)),
			zap.Error(err))
		return
	}
	m.logger.Debug("shopping list update broadcast", zap.String("update_type", string(update.Type)))
}

// OnUpdate registers a listener for shopping-list updates and returns its
// remove func.
func (m *Manager) OnUpdate(callback func(Update)) func() {
	return m.updateObservers.Add(callback)
}

// OnPresence registers a listener receiving the online-member snapshot
// whenever channel membership changes.
func (m *Manager) OnPresence(callback func([]Member)) func() {
	return m.presenceObservers.Add(callback)
}

// Members returns the current online family members. An uninitialized
// session reports an empty list, not an error.
func (m *Manager) Members(ctx context.Context) []Member {
	m.mu.Lock()
	channel := m.channel
	ready := m.initialized && channel != nil
	m.mu.Unlock()
	if !ready {
		return []Member{}
	}

	entries, err := channel.Presence(ctx)
	if err != nil {
		m.logger.Error("failed to read family presence", zap.Error(err))
		return []Member{}
	}
	return m.membersFromPresence(entries)
}

// SaveShoppingList appends a fresh snapshot of the family list and then
// broadcasts an informational update about it.
func (m *Manager) SaveShoppingList(ctx context.Context, items []grocery.Item) error {
	m.mu.Lock()
	user := m.user
	familyID := m.familyID
	initialized := m.initialized
	m.mu.Unlock()
	if !initialized || familyID == "" {
		return errNotInitialized
	}

	encoded, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("family: encode list items: %w", err)
	}
	listID, err := m.idProvider.NewID()
	if err != nil {
		return fmt.Errorf("family: list id: %w", err)
	}

	now := m.clock().UTC()
	row := ShoppingList{
		ListID:        listID,
		FamilyID:      familyID,
		Name:          defaultListName,
		ItemsJSON:     string(encoded),
		CreatedBy:     user.ID,
		CreatedByName: user.Name(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.store.AppendList(ctx, row); err != nil {
		return err
	}

	counts, _ := json.Marshal(map[string]int{"itemCount": len(items)})
	m.BroadcastUpdate(ctx, Update{
		Type:     UpdateItemAdded,
		ItemID:   "list_updated",
		ItemName: "Shopping list updated",
		UserID:   user.ID,
		UserName: user.Name(),
		Data:     counts,
	})
	return nil
}

// LoadShoppingList returns the item snapshot of the family's newest saved
// list, or an empty slice when nothing has been saved yet.
func (m *Manager) LoadShoppingList(ctx context.Context) ([]grocery.Item, error) {
	m.mu.Lock()
	familyID := m.familyID
	m.mu.Unlock()
	if familyID == "" {
		return []grocery.Item{}, nil
	}

	row, found, err := m.store.LatestList(ctx, familyID)
	if err != nil {
		return nil, err
	}
	if !found {
		return []grocery.Item{}, nil
	}

	var items []grocery.Item
	if err := json.Unmarshal([]byte(row.ItemsJSON), &items); err != nil {
		return nil, fmt.Errorf("family: decode list items: %w", err)
	}
	return items, nil
}

// Cleanup unsubscribes, clears every registered callback and resets the
// session to disconnected. It waits for an in-flight Initialize to settle
// first, never fails, and is re-entrant.
func (m *Manager) Cleanup() {
	m.guard.Acquire()
	defer m.guard.Release()
	m.teardownLocked()
	m.logger.Debug("family session cleaned up")
}

func (m *Manager) teardownLocked() {
	m.mu.Lock()
	channel := m.channel
	m.channel = nil
	m.user = session.User{}
	m.familyID = ""
	m.initialized = false
	m.mu.Unlock()

	session.ReleaseChannel(channel, m.logger)
	m.updateObservers.Clear()
	m.presenceObservers.Clear()
	m.guard.SetState(session.StateDisconnected)
}

func (m *Manager) handleMessage(message realtime.Message) {
	if message.Topic != TopicShoppingListUpdate {
		return
	}

	var update Update
	if err := json.Unmarshal(message.Payload, &update); err != nil {
		m.logger.Warn("dropping malformed shopping list update", zap.Error(err))
		return
	}
	if update.Type == "" {
		m.logger.Warn("dropping shopping list update with missing type")
		return
	}

	m.updateObservers.Notify(update)
}

func (m *Manager) handlePresence(entries []realtime.PresenceEntry) {
	m.presenceObservers.Notify(m.membersFromPresence(entries))
}

func (m *Manager) membersFromPresence(entries []realtime.PresenceEntry) []Member {
	now := m.clock().UTC()
	members := make([]Member, 0, len(entries))
	for _, entry := range entries {
		if entry.UserID == "" {
			continue
		}
		var metadata memberMetadata
		if err := json.Unmarshal(entry.Metadata, &metadata); err != nil {
			continue
		}
		name := metadata.DisplayName
		if name == "" {
			name = "Unknown"
		}
		joined := metadata.JoinedAt
		if joined.IsZero() {
			joined = now
		}
		members = append(members, Member{
			UserID:   entry.UserID,
			Name:     name,
			Email:    metadata.Email,
			Avatar:   metadata.Avatar,
			IsActive: true,
			JoinedAt: joined,
			LastSeen: now,
		})
	}
	return members
}
