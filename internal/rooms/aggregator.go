package rooms

import (
	"context"
	"errors"
	"sync"

	"github.com/GaneshTappiti/notesmary-mobile-sub001/internal/realtime"
	"go.uber.org/zap"
)

var (
	errMissingRoomID    = errors.New("rooms: room id is required")
	errMissingBackend   = errors.New("rooms: backend is required")
	errMissingTransport = errors.New("rooms: realtime transport is required")
)

// Backend is the subset of the row store the aggregator reads and mutates.
type Backend interface {
	GetRoom(ctx context.Context, roomID string) (Room, error)
	ListMessages(ctx context.Context, roomID string) ([]Message, error)
	ListMembers(ctx context.Context, roomID string) ([]Member, error)
	RemoveMember(ctx context.Context, roomID, userID string) (int64, error)
	DeleteRoom(ctx context.Context, roomID, creatorID string) (int64, error)
}

// AggregatorConfig describes one mounted room view.
type AggregatorConfig struct {
	RoomID    string
	User      *User
	Backend   Backend
	Transport realtime.Transport
	Logger    *zap.Logger
	// OnChange receives a fresh view after every state change.
	OnChange func(View)
}

// View is the consolidated room view-model.
type View struct {
	Room        *Room     `json:"room"`
	Messages    []Message `json:"messages"`
	Members     []Member  `json:"members"`
	IsLoading   bool      `json:"is_loading"`
	IsAdmin     bool      `json:"is_admin"`
	IsConnected bool      `json:"is_connected"`
	Err         error     `json:"-"`
}

// Aggregator composes the messages and members feeds of one room with its metadata.
type Aggregator struct {
	roomID   string
	user     *User
	backend  Backend
	logger   *zap.Logger
	onChange func(View)

	messages *realtime.Subscription[Message]
	members  *realtime.Subscription[Member]

	mu      sync.RWMutex
	room    *Room
	loading bool
	err     error
}

// NewAggregator opens both room feeds and performs the initial refresh when a user is present.
// Close must be called when the view goes away.
func NewAggregator(ctx context.Context, cfg AggregatorConfig) (*Aggregator, error) {
	if cfg.RoomID == "" {
		return nil, errMissingRoomID
	}
	if cfg.Backend == nil {
		return nil, errMissingBackend
	}
	if cfg.Transport == nil {
		return nil, errMissingTransport
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Aggregator{
		roomID:   cfg.RoomID,
		user:     cfg.User,
		backend:  cfg.Backend,
		logger:   logger,
		onChange: cfg.OnChange,
	}

	scope := realtime.Filter{Column: columnRoomID, Value: cfg.RoomID}
	messages, err := realtime.Subscribe[Message](ctx, cfg.Transport, TableMessages, realtime.Options{
		Event:             realtime.EventAll,
		Filter:            scope,
		BufferUntilSeeded: true,
		OnChange:          a.notify,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}
	members, err := realtime.Subscribe[Member](ctx, cfg.Transport, TableMembers, realtime.Options{
		Event:             realtime.EventAll,
		Filter:            scope,
		BufferUntilSeeded: true,
		OnChange:          a.notify,
		Logger:            logger,
	})
	if err != nil {
		_ = messages.Close()
		return nil, err
	}
	a.mu.Lock()
	a.messages = messages
	a.members = members
	a.mu.Unlock()

	if a.user != nil {
		_ = a.Refresh(ctx)
	}
	return a, nil
}

// Refresh reloads room metadata, messages and members in sequence and seeds both feeds. The
// first failure becomes the aggregate error and halts the pass.
func (a *Aggregator) Refresh(ctx context.Context) error {
	if a.user == nil {
		return nil
	}
	a.setLoading()

	room, err := a.backend.GetRoom(ctx, a.roomID)
	if err != nil {
		return a.finishRefresh(nil, err)
	}
	messages, err := a.backend.ListMessages(ctx, a.roomID)
	if err != nil {
		return a.finishRefresh(nil, err)
	}
	a.messages.Seed(messages)
	members, err := a.backend.ListMembers(ctx, a.roomID)
	if err != nil {
		return a.finishRefresh(nil, err)
	}
	a.members.Seed(members)
	return a.finishRefresh(&room, nil)
}

func (a *Aggregator) setLoading() {
	a.mu.Lock()
	a.loading = true
	a.mu.Unlock()
	a.notify()
}

func (a *Aggregator) finishRefresh(room *Room, err error) error {
	a.mu.Lock()
	a.loading = false
	a.err = err
	if room != nil {
		a.room = room
	}
	a.mu.Unlock()
	if err != nil {
		a.logger.Error("room refresh failed",
			zap.String("room_id", a.roomID),
			zap.Error(err))
	}
	a.notify()
	return err
}

// View returns the current view-model.
func (a *Aggregator) View() View {
	a.mu.RLock()
	view := View{IsLoading: a.loading, Err: a.err}
	if a.room != nil {
		room := *a.room
		view.Room = &room
	}
	messages, members := a.messages, a.members
	a.mu.RUnlock()

	if messages == nil || members == nil {
		view.Messages = []Message{}
		view.Members = []Member{}
		return view
	}
	view.Messages = messages.Items()
	view.Members = members.Items()
	view.IsAdmin = a.isAdmin(view.Members)
	view.IsConnected = messages.Connected() && members.Connected()
	if view.Err == nil {
		if err := messages.Err(); err != nil {
			view.Err = err
		} else if err := members.Err(); err != nil {
			view.Err = err
		}
	}
	return view
}

func (a *Aggregator) isAdmin(members []Member) bool {
	if a.user == nil {
		return false
	}
	for _, member := range members {
		if member.UserID == a.user.ID && member.Role == RoleAdmin {
			return true
		}
	}
	return false
}

// LeaveRoom removes the caller's membership. Local state follows through the members feed.
func (a *Aggregator) LeaveRoom(ctx context.Context) bool {
	if a.user == nil {
		return false
	}
	if _, err := a.backend.RemoveMember(ctx, a.roomID, a.user.ID); err != nil {
		a.logger.Warn("leave room failed",
			zap.String("room_id", a.roomID),
			zap.String("user_id", a.user.ID),
			zap.Error(err))
		return false
	}
	return true
}

// DeleteRoom deletes the room when the caller is an admin, scoped to rooms the caller created.
func (a *Aggregator) DeleteRoom(ctx context.Context) bool {
	if a.user == nil || !a.View().IsAdmin {
		return false
	}
	affected, err := a.backend.DeleteRoom(ctx, a.roomID, a.user.ID)
	if err != nil {
		a.logger.Warn("delete room failed",
			zap.String("room_id", a.roomID),
			zap.String("user_id", a.user.ID),
			zap.Error(err))
		return false
	}
	return affected > 0
}

// Close releases both feeds.
func (a *Aggregator) Close() error {
	a.mu.Lock()
	messages, members := a.messages, a.members
	a.mu.Unlock()
	var errs []error
	if messages != nil {
		errs = append(errs, messages.Close())
	}
	if members != nil {
		errs = append(errs, members.Close())
	}
	return errors.Join(errs...)
}

func (a *Aggregator) notify() {
	if a.onChange == nil {
		return
	}
	a.onChange(a.View())
}
