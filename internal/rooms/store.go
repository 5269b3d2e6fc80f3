package rooms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/GaneshTappiti/notesmary-mobile-sub001/internal/ids"
	"github.com/GaneshTappiti/notesmary-mobile-sub001/internal/realtime"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opGetRoom      = "rooms.get_room"
	opListMessages = "rooms.list_messages"
	opListMembers  = "rooms.list_members"
	opCreateRoom   = "rooms.create_room"
	opJoinRoom     = "rooms.join_room"
	opPostMessage  = "rooms.post_message"
	opRemoveMember = "rooms.remove_member"
	opDeleteRoom   = "rooms.delete_room"

	profileColumns = "COALESCE(profiles.name, '') AS profile_name, " +
		"COALESCE(profiles.email, '') AS profile_email, " +
		"COALESCE(profiles.avatar_url, '') AS profile_avatar"
)

var (
	errMissingDatabase   = errors.New("rooms: database handle is required")
	errMissingIDProvider = errors.New("rooms: id provider is required")
)

// StoreConfig describes the dependencies of a Store.
type StoreConfig struct {
	Database   *gorm.DB
	Publisher  realtime.Publisher
	Clock      func() time.Time
	IDProvider ids.Provider
	Logger     *zap.Logger
}

// Store is the row store for rooms, members and messages. Every committed write is published
// as a change event.
type Store struct {
	db         *gorm.DB
	publisher  realtime.Publisher
	clock      func() time.Time
	idProvider ids.Provider
	logger     *zap.Logger
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:         cfg.Database,
		publisher:  cfg.Publisher,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

type memberRow struct {
	Member
	ProfileName   string
	ProfileEmail  string
	ProfileAvatar string
}

type messageRow struct {
	Message
	ProfileName   string
	ProfileEmail  string
	ProfileAvatar string
}

// GetRoom loads a room by id.
func (s *Store) GetRoom(ctx context.Context, roomID string) (Room, error) {
	var room Room
	err := s.db.WithContext(ctx).Where("id = ?", roomID).Take(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Room{}, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	if err != nil {
		s.logError(opGetRoom, "query_failed", err, zap.String("room_id", roomID))
		return Room{}, err
	}
	return room, nil
}

// ListMessages returns the room's messages with author profiles, oldest first.
func (s *Store) ListMessages(ctx context.Context, roomID string) ([]Message, error) {
	var rows []messageRow
	err := s.db.WithContext(ctx).
		Table(TableMessages).
		Select(TableMessages+".*, "+profileColumns).
		Joins("LEFT JOIN profiles ON profiles.id = "+TableMessages+".user_id").
		Where(TableMessages+".room_id = ?", roomID).
		Order(TableMessages + ".created_at ASC").
		Order(TableMessages + ".id ASC").
		Scan(&rows).Error
	if err != nil {
		s.logError(opListMessages, "query_failed", err, zap.String("room_id", roomID))
		return nil, err
	}
	messages := make([]Message, 0, len(rows))
	for _, row := range rows {
		message := row.Message
		message.Profile = &ProfileSummary{Name: row.ProfileName, Email: row.ProfileEmail, AvatarURL: row.ProfileAvatar}
		messages = append(messages, message)
	}
	return messages, nil
}

// ListMembers returns the room's members with their profiles, in join order.
func (s *Store) ListMembers(ctx context.Context, roomID string) ([]Member, error) {
	var rows []memberRow
	err := s.db.WithContext(ctx).
		Table(TableMembers).
		Select(TableMembers+".*, "+profileColumns).
		Joins("LEFT JOIN profiles ON profiles.id = "+TableMembers+".user_id").
		Where(TableMembers+".room_id = ?", roomID).
		Order(TableMembers + ".joined_at ASC").
		Scan(&rows).Error
	if err != nil {
		s.logError(opListMembers, "query_failed", err, zap.String("room_id", roomID))
		return nil, err
	}
	members := make([]Member, 0, len(rows))
	for _, row := range rows {
		member := row.Member
		member.Profile = &ProfileSummary{Name: row.ProfileName, Email: row.ProfileEmail, AvatarURL: row.ProfileAvatar}
		members = append(members, member)
	}
	return members, nil
}

// CreateRoom inserts a room and its creator as the admin member.
func (s *Store) CreateRoom(ctx context.Context, input RoomInput, creatorID string) (Room, error) {
	name := strings.TrimSpace(input.Name)
	creatorID = strings.TrimSpace(creatorID)
	if name == "" || creatorID == "" {
		return Room{}, fmt.Errorf("%w: name and creator are required", ErrInvalidRoomInput)
	}
	if input.IsPrivate && input.Password == "" {
		return Room{}, fmt.Errorf("%w: private rooms need a password", ErrInvalidRoomInput)
	}
	roomID, err := s.idProvider.NewID()
	if err != nil {
		return Room{}, err
	}
	memberID, err := s.idProvider.NewID()
	if err != nil {
		return Room{}, err
	}
	now := s.clock().UTC()
	room := Room{
		ID:          roomID,
		Name:        name,
		Description: strings.TrimSpace(input.Description),
		CreatedBy:   creatorID,
		IsPrivate:   input.IsPrivate,
		Password:    input.Password,
		MeetLink:    strings.TrimSpace(input.MeetLink),
		CreatedAt:   now,
	}
	admin := Member{ID: memberID, RoomID: roomID, UserID: creatorID, Role: RoleAdmin, JoinedAt: now}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&room).Error; err != nil {
			return err
		}
		return tx.Create(&admin).Error
	})
	if err != nil {
		s.logError(opCreateRoom, "insert_failed", err, zap.String("user_id", creatorID))
		return Room{}, err
	}
	s.publish(TableRooms, realtime.EventInsert, room, nil)
	s.publish(TableMembers, realtime.EventInsert, admin, nil)
	return room, nil
}

// JoinRoom adds the user as a member. Joining twice returns the existing membership.
func (s *Store) JoinRoom(ctx context.Context, roomID, userID, password string) (Member, error) {
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return Member{}, err
	}
	if existing, err := s.membership(ctx, roomID, userID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotRoomMember) {
		return Member{}, err
	}
	if room.IsPrivate && room.Password != password {
		return Member{}, ErrInvalidRoomPassword
	}
	memberID, err := s.idProvider.NewID()
	if err != nil {
		return Member{}, err
	}
	member := Member{ID: memberID, RoomID: roomID, UserID: userID, Role: RoleMember, JoinedAt: s.clock().UTC()}
	if err := s.db.WithContext(ctx).Create(&member).Error; err != nil {
		s.logError(opJoinRoom, "insert_failed", err, zap.String("room_id", roomID), zap.String("user_id", userID))
		return Member{}, err
	}
	s.publish(TableMembers, realtime.EventInsert, member, nil)
	return member, nil
}

// PostMessage appends a message from a room member.
func (s *Store) PostMessage(ctx context.Context, roomID, userID, content string) (Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Message{}, fmt.Errorf("%w: message content is required", ErrInvalidRoomInput)
	}
	if _, err := s.membership(ctx, roomID, userID); err != nil {
		return Message{}, err
	}
	messageID, err := s.idProvider.NewID()
	if err != nil {
		return Message{}, err
	}
	message := Message{ID: messageID, RoomID: roomID, UserID: userID, Content: content, CreatedAt: s.clock().UTC()}
	if err := s.db.WithContext(ctx).Create(&message).Error; err != nil {
		s.logError(opPostMessage, "insert_failed", err, zap.String("room_id", roomID), zap.String("user_id", userID))
		return Message{}, err
	}
	s.publish(TableMessages, realtime.EventInsert, message, nil)
	return message, nil
}

// RemoveMember deletes a membership row and reports how many rows were removed.
func (s *Store) RemoveMember(ctx context.Context, roomID, userID string) (int64, error) {
	var removed []Member
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ? AND user_id = ?", roomID, userID).Find(&removed).Error; err != nil {
			return err
		}
		if len(removed) == 0 {
			return nil
		}
		return tx.Where("room_id = ? AND user_id = ?", roomID, userID).Delete(&Member{}).Error
	})
	if err != nil {
		s.logError(opRemoveMember, "delete_failed", err, zap.String("room_id", roomID), zap.String("user_id", userID))
		return 0, err
	}
	for _, member := range removed {
		s.publish(TableMembers, realtime.EventDelete, nil, member)
	}
	return int64(len(removed)), nil
}

// RemoveMemberAsAdmin lets a room admin remove another member.
func (s *Store) RemoveMemberAsAdmin(ctx context.Context, roomID, adminID, userID string) (int64, error) {
	admin, err := s.membership(ctx, roomID, adminID)
	if err != nil {
		return 0, err
	}
	if admin.Role != RoleAdmin {
		return 0, ErrNotRoomAdmin
	}
	return s.RemoveMember(ctx, roomID, userID)
}

// DeleteRoom deletes the room only when creatorID created it, along with its members and
// messages, and reports how many room rows were removed.
func (s *Store) DeleteRoom(ctx context.Context, roomID, creatorID string) (int64, error) {
	var (
		room     Room
		messages []Message
		members  []Member
		affected int64
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("id = ? AND created_by = ?", roomID, creatorID).Take(&room).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", roomID).Find(&messages).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", roomID).Find(&members).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", roomID).Delete(&Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", roomID).Delete(&Member{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ? AND created_by = ?", roomID, creatorID).Delete(&Room{})
		affected = result.RowsAffected
		return result.Error
	})
	if err != nil {
		s.logError(opDeleteRoom, "delete_failed", err, zap.String("room_id", roomID), zap.String("user_id", creatorID))
		return 0, err
	}
	if affected > 0 {
		for _, message := range messages {
			s.publish(TableMessages, realtime.EventDelete, nil, message)
		}
		for _, member := range members {
			s.publish(TableMembers, realtime.EventDelete, nil, member)
		}
		s.publish(TableRooms, realtime.EventDelete, nil, room)
	}
	return affected, nil
}

func (s *Store) membership(ctx context.Context, roomID, userID string) (Member, error) {
	var member Member
	err := s.db.WithContext(ctx).Where("room_id = ? AND user_id = ?", roomID, userID).Take(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Member{}, ErrNotRoomMember
	}
	if err != nil {
		return Member{}, err
	}
	return member, nil
}

func (s *Store) publish(table string, eventType realtime.EventType, newRow, oldRow any) {
	if s.publisher == nil {
		return
	}
	event, err := realtime.NewChangeEvent(table, eventType, newRow, oldRow, s.clock())
	if err != nil {
		s.logError("rooms.publish", "encode_failed", err, zap.String("table", table))
		return
	}
	s.publisher.Publish(event)
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
	s.logger.Error("rooms store error", attrs...)
}
