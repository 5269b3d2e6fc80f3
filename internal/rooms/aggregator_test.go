package rooms

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GaneshTappiti/notesmary-mobile-sub001/internal/ids"
	"github.com/GaneshTappiti/notesmary-mobile-sub001/internal/realtime"
	"github.com/GaneshTappiti/notesmary-mobile-sub001/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type roomFixture struct {
	db    *gorm.DB
	hub   *realtime.Hub
	store *Store
}

func newRoomFixture(t *testing.T) roomFixture {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&users.Profile{}, &Room{}, &Member{}, &Message{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	hub := realtime.NewHub(realtime.HubConfig{})
	t.Cleanup(hub.Close)
	clock := &steppingClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	store, err := NewStore(StoreConfig{
		Database:   db,
		Publisher:  hub,
		Clock:      clock.Now,
		IDProvider: ids.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return roomFixture{db: db, hub: hub, store: store}
}

func (f roomFixture) addProfile(t *testing.T, id, name string) *User {
	t.Helper()
	email := strings.ToLower(name) + "@example.com"
	profile := users.Profile{ID: id, Name: name, Email: email, AvatarURL: "https://cdn.example.com/" + id}
	if err := f.db.Create(&profile).Error; err != nil {
		t.Fatalf("failed to insert profile: %v", err)
	}
	return &User{ID: id, Email: email}
}

func (f roomFixture) mount(t *testing.T, roomID string, user *User) *Aggregator {
	t.Helper()
	aggregator, err := NewAggregator(context.Background(), AggregatorConfig{
		RoomID:    roomID,
		User:      user,
		Backend:   f.store,
		Transport: f.hub,
	})
	if err != nil {
		t.Fatalf("failed to mount aggregator: %v", err)
	}
	t.Cleanup(func() { _ = aggregator.Close() })
	return aggregator
}

func waitForView(t *testing.T, aggregator *Aggregator, description string, condition func(View) bool) View {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		view := aggregator.View()
		if condition(view) {
			return view
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", description)
	return View{}
}

func TestAggregatorLoadsRoomWithProfilesAndAdminFlag(t *testing.T) {
	fixture := newRoomFixture(t)
	ctx := context.Background()
	creator := fixture.addProfile(t, "user-ada", "Ada")
	guest := fixture.addProfile(t, "user-grace", "Grace")

	room, err := fixture.store.CreateRoom(ctx, RoomInput{Name: "Organic Chemistry"}, creator.ID)
	if err != nil {
		t.Fatalf("create room failed: %v", err)
	}
	if _, err := fixture.store.JoinRoom(ctx, room.ID, guest.ID, ""); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	for _, content := range []string{"first", "second"} {
		if _, err := fixture.store.PostMessage(ctx, room.ID, creator.ID, content); err != nil {
			t.Fatalf("post failed: %v", err)
		}
	}

	view := fixture.mount(t, room.ID, creator).View()
	if view.Err != nil {
		t.Fatalf("unexpected aggregate error: %v", view.Err)
	}
	if view.IsLoading {
		t.Fatalf("expected loading to finish")
	}
	if view.Room == nil || view.Room.Name != "Organic Chemistry" {
		t.Fatalf("unexpected room: %+v", view.Room)
	}
	if len(view.Messages) != 2 || view.Messages[0].Content != "first" || view.Messages[1].Content != "second" {
		t.Fatalf("expected messages in creation order, got %+v", view.Messages)
	}
	if view.Messages[0].Profile == nil || view.Messages[0].Profile.Name != "Ada" {
		t.Fatalf("expected author profile to be joined, got %+v", view.Messages[0].Profile)
	}
	if len(view.Members) != 2 {
		t.Fatalf("expected two members, got %d", len(view.Members))
	}
	if !view.IsAdmin {
		t.Fatalf("expected creator to be admin")
	}
	if !view.IsConnected {
		t.Fatalf("expected both feeds connected")
	}

	guestView := fixture.mount(t, room.ID, guest).View()
	if guestView.IsAdmin {
		t.Fatalf("expected plain member to not be admin")
	}
	for _, member := range guestView.Members {
		if member.UserID == guest.ID && (member.Profile == nil || member.Profile.Email != "grace@example.com") {
			t.Fatalf("expected member profile to be joined, got %+v", member.Profile)
		}
	}
}

func TestAggregatorNonMemberCannotDeleteRoom(t *testing.T) {
	fixture := newRoomFixture(t)
	ctx := context.Background()
	creator := fixture.addProfile(t, "user-creator", "Creator")
	visitor := fixture.addProfile(t, "user-visitor", "Visitor")

	room, err := fixture.store.CreateRoom(ctx, RoomInput{Name: "R1"}, creator.ID)
	if err != nil {
		t.Fatalf("create room failed: %v", err)
	}

	aggregator := fixture.mount(t, room.ID, visitor)
	view := aggregator.View()
	if view.Room == nil || view.Room.ID != room.ID {
		t.Fatalf("expected room to be populated, got %+v", view.Room)
	}
	for _, member := range view.Members {
		if member.UserID == visitor.ID {
			t.Fatalf("visitor should not be listed as member")
		}
	}
	if view.IsAdmin {
		t.Fatalf("visitor must not be admin")
	}
	if aggregator.DeleteRoom(ctx) {
		t.Fatalf("expected delete to be refused")
	}
	if _, err := fixture.store.GetRoom(ctx, room.ID); err != nil {
		t.Fatalf("expected room to remain: %v", err)
	}
}

func TestAggregatorDeleteRoomIsScopedToCreator(t *testing.T) {
	fixture := newRoomFixture(t)
	ctx := context.Background()
	creator := fixture.addProfile(t, "user-owner", "Owner")
	coAdmin := fixture.addProfile(t, "user-coadmin", "CoAdmin")

	room, err := fixture.store.CreateRoom(ctx, RoomInput{Name: "Linear Algebra"}, creator.ID)
	if err != nil {
		t.Fatalf("create room failed: %v", err)
	}
	if _, err := fixture.store.JoinRoom(ctx, room.ID, coAdmin.ID, ""); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if err := fixture.db.Model(&Member{}).
		Where("room_id = ? AND user_id = ?", room.ID, coAdmin.ID).
		Update("role", RoleAdmin).Error; err != nil {
		t.Fatalf("promote failed: %v", err)
	}

	coAdminView := fixture.mount(t, room.ID, coAdmin)
	if !coAdminView.View().IsAdmin {
		t.Fatalf("expected promoted member to be admin")
	}
	if coAdminView.DeleteRoom(ctx) {
		t.Fatalf("expected delete by non-creator admin to match zero rows")
	}
	if _, err := fixture.store.GetRoom(ctx, room.ID); err != nil {
		t.Fatalf("expected room to remain: %v", err)
	}

	if !fixture.mount(t, room.ID, creator).DeleteRoom(ctx) {
		t.Fatalf("expected creator delete to succeed")
	}
	if _, err := fixture.store.GetRoom(ctx, room.ID); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected room to be gone, got %v", err)
	}
}

func TestAggregatorAppliesLiveDeltas(t *testing.T) {
	fixture := newRoomFixture(t)
	ctx := context.Background()
	creator := fixture.addProfile(t, "user-live", "Live")
	peer := fixture.addProfile(t, "user-peer", "Peer")

	room, err := fixture.store.CreateRoom(ctx, RoomInput{Name: "Physics"}, creator.ID)
	if err != nil {
		t.Fatalf("create room failed: %v", err)
	}
	other, err := fixture.store.CreateRoom(ctx, RoomInput{Name: "Elsewhere"}, creator.ID)
	if err != nil {
		t.Fatalf("create other room failed: %v", err)
	}
	aggregator := fixture.mount(t, room.ID, creator)

	if _, err := fixture.store.JoinRoom(ctx, room.ID, peer.ID, ""); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if _, err := fixture.store.PostMessage(ctx, other.ID, creator.ID, "wrong room"); err != nil {
		t.Fatalf("post failed: %v", err)
	}
	if _, err := fixture.store.PostMessage(ctx, room.ID, peer.ID, "hello"); err != nil {
		t.Fatalf("post failed: %v", err)
	}

	view := waitForView(t, aggregator, "message and member deltas", func(v View) bool {
		return len(v.Messages) == 1 && len(v.Members) == 2
	})
	if view.Messages[0].Content != "hello" {
		t.Fatalf("unexpected message: %+v", view.Messages[0])
	}

	peerView := fixture.mount(t, room.ID, peer)
	if !peerView.LeaveRoom(ctx) {
		t.Fatalf("expected leave to succeed")
	}
	waitForView(t, aggregator, "member removal", func(v View) bool {
		return len(v.Members) == 1 && v.Members[0].UserID == creator.ID
	})
}

type scriptedChannel struct {
	name   string
	mu     sync.Mutex
	closed bool
}

func (c *scriptedChannel) Name() string { return c.name }

func (c *scriptedChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *scriptedChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type scriptedTransport struct {
	mu       sync.Mutex
	failOn   string
	handlers map[string]realtime.Handlers
	channels map[string]*scriptedChannel
}

func newScriptedTransport() *scriptedTransport {
	return &scriptedTransport{
		handlers: make(map[string]realtime.Handlers),
		channels: make(map[string]*scriptedChannel),
	}
}

func (s *scriptedTransport) Subscribe(_ context.Context, name string, cfg realtime.ChannelConfig, handlers realtime.Handlers) (realtime.Channel, error) {
	if cfg.Table == s.failOn {
		return nil, errors.New("transport refused")
	}
	channel := &scriptedChannel{name: name}
	s.mu.Lock()
	s.handlers[cfg.Table] = handlers
	s.channels[cfg.Table] = channel
	s.mu.Unlock()
	handlers.OnStatus(realtime.StatusSubscribed, nil)
	return channel, nil
}

func (s *scriptedTransport) report(table string, status realtime.Status) {
	s.mu.Lock()
	handlers := s.handlers[table]
	s.mu.Unlock()
	handlers.OnStatus(status, nil)
}

type countingBackend struct {
	mu    sync.Mutex
	calls []string
	room  Room
	fail  error
}

func (b *countingBackend) record(call string) {
	b.mu.Lock()
	b.calls = append(b.calls, call)
	b.mu.Unlock()
}

func (b *countingBackend) GetRoom(_ context.Context, roomID string) (Room, error) {
	b.record("room")
	if b.fail != nil {
		return Room{}, b.fail
	}
	return b.room, nil
}

func (b *countingBackend) ListMessages(context.Context, string) ([]Message, error) {
	b.record("messages")
	return []Message{}, nil
}

func (b *countingBackend) ListMembers(context.Context, string) ([]Member, error) {
	b.record("members")
	return []Member{{ID: "m1", RoomID: b.room.ID, UserID: "u1", Role: RoleMember}}, nil
}

func (b *countingBackend) RemoveMember(context.Context, string, string) (int64, error) {
	b.record("leave")
	return 1, nil
}

func (b *countingBackend) DeleteRoom(context.Context, string, string) (int64, error) {
	b.record("delete")
	return 1, nil
}

func TestAggregatorConnectedRequiresBothFeeds(t *testing.T) {
	transport := newScriptedTransport()
	backend := &countingBackend{room: Room{ID: "R1", Name: "Room"}}
	aggregator, err := NewAggregator(context.Background(), AggregatorConfig{
		RoomID:    "R1",
		User:      &User{ID: "u1"},
		Backend:   backend,
		Transport: transport,
	})
	if err != nil {
		t.Fatalf("mount failed: %v", err)
	}
	defer aggregator.Close()

	if !aggregator.View().IsConnected {
		t.Fatalf("expected connected once both feeds subscribed")
	}
	transport.report(TableMembers, realtime.StatusTimedOut)
	view := aggregator.View()
	if view.IsConnected {
		t.Fatalf("expected members timeout to disconnect the aggregate")
	}
	var subscriptionErr *realtime.SubscriptionError
	if !errors.As(view.Err, &subscriptionErr) || subscriptionErr.Status != realtime.StatusTimedOut {
		t.Fatalf("expected subscription error with raw status, got %v", view.Err)
	}
	transport.report(TableMembers, realtime.StatusSubscribed)
	transport.report(TableMessages, realtime.StatusClosed)
	if aggregator.View().IsConnected {
		t.Fatalf("expected messages close to disconnect the aggregate")
	}
	transport.report(TableMessages, realtime.StatusSubscribed)
	if !aggregator.View().IsConnected {
		t.Fatalf("expected reconnect of both feeds to restore the aggregate")
	}
}

func TestAggregatorWithoutUserStaysNeutral(t *testing.T) {
	backend := &countingBackend{room: Room{ID: "R1"}}
	aggregator, err := NewAggregator(context.Background(), AggregatorConfig{
		RoomID:    "R1",
		Backend:   backend,
		Transport: newScriptedTransport(),
	})
	if err != nil {
		t.Fatalf("mount failed: %v", err)
	}
	defer aggregator.Close()

	view := aggregator.View()
	if view.IsLoading || view.Err != nil || view.Room != nil || len(view.Messages) != 0 || len(view.Members) != 0 {
		t.Fatalf("expected neutral view, got %+v", view)
	}
	if aggregator.LeaveRoom(context.Background()) || aggregator.DeleteRoom(context.Background()) {
		t.Fatalf("expected mutations to be refused without a user")
	}
	if len(backend.calls) != 0 {
		t.Fatalf("expected no backend calls, got %v", backend.calls)
	}
}

func TestAggregatorRefreshFailureHaltsSequence(t *testing.T) {
	backend := &countingBackend{fail: ErrRoomNotFound}
	aggregator, err := NewAggregator(context.Background(), AggregatorConfig{
		RoomID:    "missing",
		User:      &User{ID: "u1"},
		Backend:   backend,
		Transport: newScriptedTransport(),
	})
	if err != nil {
		t.Fatalf("mount failed: %v", err)
	}
	defer aggregator.Close()

	view := aggregator.View()
	if !errors.Is(view.Err, ErrRoomNotFound) {
		t.Fatalf("expected room not found, got %v", view.Err)
	}
	if view.IsLoading {
		t.Fatalf("expected loading to clear on failure")
	}
	if len(backend.calls) != 1 || backend.calls[0] != "room" {
		t.Fatalf("expected the sequence to halt after the room lookup, got %v", backend.calls)
	}
}

func TestAggregatorClosesFirstFeedWhenSecondFails(t *testing.T) {
	transport := newScriptedTransport()
	transport.failOn = TableMembers
	_, err := NewAggregator(context.Background(), AggregatorConfig{
		RoomID:    "R1",
		User:      &User{ID: "u1"},
		Backend:   &countingBackend{},
		Transport: transport,
	})
	if err == nil {
		t.Fatalf("expected mount to fail")
	}
	if channel := transport.channels[TableMessages]; channel == nil || !channel.isClosed() {
		t.Fatalf("expected messages channel to be released")
	}
}
