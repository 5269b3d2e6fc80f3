package notes

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// LocalIDPrefix marks identifiers synthesized for notes that have not reached the backend yet.
const LocalIDPrefix = "local-"

// TableNotes is the table backing uploaded notes.
const TableNotes = "notes"

const maxIdentifierLength = 190

var (
	// ErrInvalidNoteID indicates that a note identifier is empty or exceeds storage bounds.
	ErrInvalidNoteID = errors.New("notes: invalid note id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("notes: invalid user id")
	// ErrInvalidNoteInput indicates a note payload without a title.
	ErrInvalidNoteInput = errors.New("notes: invalid note input")
	// ErrNoteNotFound indicates no note matches the identifier.
	ErrNoteNotFound = errors.New("notes: note not found")
)

// Note is an uploaded study note.
type Note struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	UserID      string    `gorm:"column:user_id;size:190;not null;index" json:"user_id"`
	Title       string    `gorm:"column:title;size:320;not null" json:"title"`
	Subject     string    `gorm:"column:subject;size:190" json:"subject"`
	Description string    `gorm:"column:description;type:text" json:"description"`
	Content     string    `gorm:"column:content;type:text" json:"content"`
	FileURL     string    `gorm:"column:file_url;size:1024" json:"file_url,omitempty"`
	UploadedAt  time.Time `gorm:"column:uploaded_at;not null;index" json:"uploaded_at"`
	IsOffline   bool      `gorm:"-" json:"_isOffline,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return TableNotes
}

func (n Note) RecordID() string {
	return n.ID
}

// IsLocalID reports whether id was synthesized for a queued draft.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}

// NoteInput is the payload of a note upload.
type NoteInput struct {
	Title       string `json:"title"`
	Subject     string `json:"subject"`
	Description string `json:"description"`
	Content     string `json:"content"`
	FileURL     string `json:"file_url,omitempty"`
}

func (in NoteInput) normalized() NoteInput {
	return NoteInput{
		Title:       strings.TrimSpace(in.Title),
		Subject:     strings.TrimSpace(in.Subject),
		Description: strings.TrimSpace(in.Description),
		Content:     in.Content,
		FileURL:     strings.TrimSpace(in.FileURL),
	}
}

func (in NoteInput) validate() error {
	if in.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidNoteInput)
	}
	return nil
}

// Draft is a note upload queued while offline.
type Draft struct {
	LocalID  string    `json:"local_id"`
	UserID   string    `json:"user_id"`
	Input    NoteInput `json:"input"`
	QueuedAt time.Time `json:"queued_at"`
}

// Note returns the provisional record handed back to the uploader.
func (d Draft) Note() Note {
	return Note{
		ID:          d.LocalID,
		UserID:      d.UserID,
		Title:       d.Input.Title,
		Subject:     d.Input.Subject,
		Description: d.Input.Description,
		Content:     d.Input.Content,
		FileURL:     d.Input.FileURL,
		UploadedAt:  d.QueuedAt,
		IsOffline:   true,
	}
}

func validateUserID(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return trimmed, nil
}

func validateNoteID(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidNoteID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidNoteID, maxIdentifierLength)
	}
	return trimmed, nil
}

func matchesQuery(note Note, query string) bool {
	needle := strings.ToLower(query)
	return strings.Contains(strings.ToLower(note.Title), needle) ||
		strings.Contains(strings.ToLower(note.Subject), needle) ||
		strings.Contains(strings.ToLower(note.Content), needle)
}
