package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/GaneshTappiti/notesmary-mobile-sub001/internal/ids"
	"github.com/GaneshTappiti/notesmary-mobile-sub001/internal/realtime"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []realtime.ChangeEvent
}

func (p *recordingPublisher) Publish(event realtime.ChangeEvent) {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
}

func TestStorePrivateRoomRequiresPassword(t *testing.T) {
	fixture := newRoomFixture(t)
	ctx := context.Background()
	owner := fixture.addProfile(t, "user-owner", "Owner")
	guest := fixture.addProfile(t, "user-guest", "Guest")

	if _, err := fixture.store.CreateRoom(ctx, RoomInput{Name: "Secret", IsPrivate: true}, owner.ID); !errors.Is(err, ErrInvalidRoomInput) {
		t.Fatalf("expected private room without password to be rejected, got %v", err)
	}
	room, err := fixture.store.CreateRoom(ctx, RoomInput{Name: "Secret", IsPrivate: true, Password: "hunter2"}, owner.ID)
	if err != nil {
		t.Fatalf("create room failed: %v", err)
	}
	if _, err := fixture.store.JoinRoom(ctx, room.ID, guest.ID, "wrong"); !errors.Is(err, ErrInvalidRoomPassword) {
		t.Fatalf("expected password mismatch, got %v", err)
	}
	first, err := fixture.store.JoinRoom(ctx, room.ID, guest.ID, "hunter2")
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if first.Role != RoleMember {
		t.Fatalf("expected member role, got %q", first.Role)
	}
	again, err := fixture.store.JoinRoom(ctx, room.ID, guest.ID, "")
	if err != nil || again.ID != first.ID {
		t.Fatalf("expected second join to return the existing membership, got %+v (%v)", again, err)
	}
	if _, err := fixture.store.JoinRoom(ctx, "missing", guest.ID, ""); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected room not found, got %v", err)
	}
}

func TestStorePostMessageRequiresMembership(t *testing.T) {
	fixture := newRoomFixture(t)
	ctx := context.Background()
	owner := fixture.addProfile(t, "user-owner", "Owner")

	room, err := fixture.store.CreateRoom(ctx, RoomInput{Name: "Biology"}, owner.ID)
	if err != nil {
		t.Fatalf("create room failed: %v", err)
	}
	if _, err := fixture.store.PostMessage(ctx, room.ID, "stranger", "hi"); !errors.Is(err, ErrNotRoomMember) {
		t.Fatalf("expected membership error, got %v", err)
	}
	if _, err := fixture.store.PostMessage(ctx, room.ID, owner.ID, "   "); !errors.Is(err, ErrInvalidRoomInput) {
		t.Fatalf("expected empty content to be rejected, got %v", err)
	}
}

func TestStoreRemoveMemberAsAdmin(t *testing.T) {
	fixture := newRoomFixture(t)
	ctx := context.Background()
	owner := fixture.addProfile(t, "user-owner", "Owner")
	first := fixture.addProfile(t, "user-first", "First")
	second := fixture.addProfile(t, "user-second", "Second")

	room, err := fixture.store.CreateRoom(ctx, RoomInput{Name: "History"}, owner.ID)
	if err != nil {
		t.Fatalf("create room failed: %v", err)
	}
	for _, user := range []*User{first, second} {
		if _, err := fixture.store.JoinRoom(ctx, room.ID, user.ID, ""); err != nil {
			t.Fatalf("join failed: %v", err)
		}
	}
	if _, err := fixture.store.RemoveMemberAsAdmin(ctx, room.ID, first.ID, second.ID); !errors.Is(err, ErrNotRoomAdmin) {
		t.Fatalf("expected admin check to fail, got %v", err)
	}
	removed, err := fixture.store.RemoveMemberAsAdmin(ctx, room.ID, owner.ID, second.ID)
	if err != nil || removed != 1 {
		t.Fatalf("expected one removal, got %d (%v)", removed, err)
	}
	members, err := fixture.store.ListMembers(ctx, room.ID)
	if err != nil {
		t.Fatalf("list members failed: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected two remaining members, got %d", len(members))
	}
	removed, err = fixture.store.RemoveMember(ctx, room.ID, second.ID)
	if err != nil || removed != 0 {
		t.Fatalf("expected repeated removal to affect zero rows, got %d (%v)", removed, err)
	}
}

func TestStorePublishesCommittedRows(t *testing.T) {
	fixture := newRoomFixture(t)
	publisher := &recordingPublisher{}
	store, err := NewStore(StoreConfig{Database: fixture.db, Publisher: publisher, IDProvider: ids.NewUUIDProvider()})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	ctx := context.Background()
	owner := fixture.addProfile(t, "user-owner", "Owner")

	room, err := store.CreateRoom(ctx, RoomInput{Name: "Art", Password: "ignored"}, owner.ID)
	if err != nil {
		t.Fatalf("create room failed: %v", err)
	}
	if _, err := store.RemoveMember(ctx, room.ID, owner.ID); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	if len(publisher.events) != 3 {
		t.Fatalf("expected three events, got %d", len(publisher.events))
	}
	roomEvent := publisher.events[0]
	if roomEvent.Table != TableRooms || roomEvent.EventType != realtime.EventInsert || roomEvent.Schema != realtime.DefaultSchema {
		t.Fatalf("unexpected room event: %+v", roomEvent)
	}
	var published map[string]any
	if err := json.Unmarshal(roomEvent.New, &published); err != nil {
		t.Fatalf("decode room row: %v", err)
	}
	if _, leaked := published["password"]; leaked {
		t.Fatalf("room password must not be published")
	}
	removal := publisher.events[2]
	if removal.Table != TableMembers || removal.EventType != realtime.EventDelete || len(removal.Old) == 0 {
		t.Fatalf("expected member delete with old row, got %+v", removal)
	}
	delta, err := realtime.DecodeDelta(removal)
	if err != nil {
		t.Fatalf("decode delta: %v", err)
	}
	if delta.Kind != realtime.DeltaDelete {
		t.Fatalf("unexpected delta kind %q", delta.Kind)
	}
}

func TestStoreDeleteRoomPublishesCascadedRows(t *testing.T) {
	fixture := newRoomFixture(t)
	publisher := &recordingPublisher{}
	store, err := NewStore(StoreConfig{Database: fixture.db, Publisher: publisher, IDProvider: ids.NewUUIDProvider()})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	ctx := context.Background()
	owner := fixture.addProfile(t, "user-owner", "Owner")
	guest := fixture.addProfile(t, "user-guest", "Guest")

	room, err := store.CreateRoom(ctx, RoomInput{Name: "Botany"}, owner.ID)
	if err != nil {
		t.Fatalf("create room failed: %v", err)
	}
	if _, err := store.JoinRoom(ctx, room.ID, guest.ID, ""); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if _, err := store.PostMessage(ctx, room.ID, guest.ID, "xylem"); err != nil {
		t.Fatalf("post failed: %v", err)
	}

	publisher.mu.Lock()
	publisher.events = nil
	publisher.mu.Unlock()

	affected, err := store.DeleteRoom(ctx, room.ID, owner.ID)
	if err != nil || affected != 1 {
		t.Fatalf("expected room delete, got %d (%v)", affected, err)
	}

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	deletes := map[string]int{}
	for _, event := range publisher.events {
		if event.EventType != realtime.EventDelete {
			t.Fatalf("unexpected event type %s", event.EventType)
		}
		if event.Table != TableRooms {
			var row map[string]any
			if err := json.Unmarshal(event.Old, &row); err != nil || row["room_id"] != room.ID {
				t.Fatalf("expected cascaded row of room %s, got %s", room.ID, event.Old)
			}
		}
		deletes[event.Table]++
	}
	if deletes[TableMessages] != 1 || deletes[TableMembers] != 2 || deletes[TableRooms] != 1 {
		t.Fatalf("expected cascaded deletes for every removed row, got %v", deletes)
	}
	if last := publisher.events[len(publisher.events)-1]; last.Table != TableRooms {
		t.Fatalf("expected the room delete last, got %s", last.Table)
	}
}
