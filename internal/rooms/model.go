package rooms

import (
	"errors"
	"time"
)

const (
	// RoleAdmin is granted to a room's creator.
	RoleAdmin = "admin"
	// RoleMember is granted to everyone who joins.
	RoleMember = "member"
)

const (
	TableRooms    = "study_rooms"
	TableMembers  = "room_members"
	TableMessages = "room_messages"
	columnRoomID  = "room_id"
)

var (
	// ErrRoomNotFound indicates no room row exists for the id.
	ErrRoomNotFound = errors.New("rooms: room not found")
	// ErrNotRoomMember indicates the user holds no membership row in the room.
	ErrNotRoomMember = errors.New("rooms: not a room member")
	// ErrNotRoomAdmin indicates the user is not an admin of the room.
	ErrNotRoomAdmin = errors.New("rooms: not a room admin")
	// ErrInvalidRoomPassword indicates a private room password mismatch.
	ErrInvalidRoomPassword = errors.New("rooms: invalid room password")
	// ErrInvalidRoomInput indicates a room or message failed basic validation.
	ErrInvalidRoomInput = errors.New("rooms: invalid input")
)

// User is the authenticated caller.
type User struct {
	ID    string
	Email string
}

// Room is a named collaborative space.
type Room struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	Name        string    `gorm:"column:name;size:190;not null" json:"name"`
	Description string    `gorm:"column:description;type:text" json:"description"`
	CreatedBy   string    `gorm:"column:created_by;size:190;not null;index" json:"created_by"`
	IsPrivate   bool      `gorm:"column:is_private;not null;default:false" json:"is_private"`
	Password    string    `gorm:"column:password;size:190" json:"-"`
	MeetLink    string    `gorm:"column:meet_link;size:512" json:"meet_link,omitempty"`
	CreatedAt   time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Room) TableName() string {
	return TableRooms
}

func (r Room) RecordID() string {
	return r.ID
}

// ProfileSummary is the profile data denormalized onto members and messages at fetch time.
type ProfileSummary struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

// Member links a user to a room with a role.
type Member struct {
	ID       string          `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	RoomID   string          `gorm:"column:room_id;size:190;not null;uniqueIndex:idx_room_members_room_user,priority:1" json:"room_id"`
	UserID   string          `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_room_members_room_user,priority:2" json:"user_id"`
	Role     string          `gorm:"column:role;size:32;not null;default:'member'" json:"role"`
	JoinedAt time.Time       `gorm:"column:joined_at;not null" json:"joined_at"`
	Profile  *ProfileSummary `gorm:"-" json:"profile,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (Member) TableName() string {
	return TableMembers
}

func (m Member) RecordID() string {
	return m.ID
}

// Message is a room-scoped chat message.
type Message struct {
	ID        string          `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	RoomID    string          `gorm:"column:room_id;size:190;not null;index:idx_room_messages_room_time,priority:1" json:"room_id"`
	UserID    string          `gorm:"column:user_id;size:190;not null" json:"user_id"`
	Content   string          `gorm:"column:content;type:text;not null" json:"content"`
	CreatedAt time.Time       `gorm:"column:created_at;not null;index:idx_room_messages_room_time,priority:2" json:"created_at"`
	Profile   *ProfileSummary `gorm:"-" json:"profile,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (Message) TableName() string {
	return TableMessages
}

func (m Message) RecordID() string {
	return m.ID
}

// RoomInput describes a room to create.
type RoomInput struct {
	Name        string
	Description string
	IsPrivate   bool
	Password    string
	MeetLink    string
}
