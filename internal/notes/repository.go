package notes

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

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Backend is the live note store consulted while online.
type Backend interface {
	Insert(ctx context.Context, userID string, input NoteInput) (Note, error)
	List(ctx context.Context) ([]Note, error)
	Get(ctx context.Context, id string) (Note, error)
	Search(ctx context.Context, query string) ([]Note, error)
}

// RepositoryConfig describes the dependencies of a Repository.
type RepositoryConfig struct {
	Database   *gorm.DB
	Publisher  realtime.Publisher
	Clock      func() time.Time
	IDProvider ids.Provider
	Logger     *zap.Logger
}

// Repository is the gorm-backed Backend.
type Repository struct {
	db         *gorm.DB
	publisher  realtime.Publisher
	clock      func() time.Time
	idProvider ids.Provider
	logger     *zap.Logger
}

func NewRepository(cfg RepositoryConfig) (*Repository, error) {
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
	return &Repository{
		db:         cfg.Database,
		publisher:  cfg.Publisher,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

func (r *Repository) Insert(ctx context.Context, userID string, input NoteInput) (Note, error) {
	id, err := r.idProvider.NewID()
	if err != nil {
		return Note{}, err
	}
	note := Note{
		ID:          id,
		UserID:      userID,
		Title:       input.Title,
		Subject:     input.Subject,
		Description: input.Description,
		Content:     input.Content,
		FileURL:     input.FileURL,
		UploadedAt:  r.clock().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&note).Error; err != nil {
		return Note{}, err
	}
	if r.publisher != nil {
		event, err := realtime.NewChangeEvent(TableNotes, realtime.EventInsert, note, nil, note.UploadedAt)
		if err != nil {
			r.logger.Warn("note change event encode failed", zap.String("note_id", note.ID), zap.Error(err))
		} else {
			r.publisher.Publish(event)
		}
	}
	return note, nil
}

// List returns every note, newest upload first.
func (r *Repository) List(ctx context.Context) ([]Note, error) {
	var notes []Note
	err := r.db.WithContext(ctx).
		Order("uploaded_at DESC").
		Order("id DESC").
		Find(&notes).Error
	if err != nil {
		return nil, err
	}
	return notes, nil
}

func (r *Repository) Get(ctx context.Context, id string) (Note, error) {
	var note Note
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Note{}, fmt.Errorf("%w: %s", ErrNoteNotFound, id)
	}
	if err != nil {
		return Note{}, err
	}
	return note, nil
}

// Search matches notes whose title, subject or content starts with query, ignoring case.
func (r *Repository) Search(ctx context.Context, query string) ([]Note, error) {
	pattern := likeEscaper.Replace(strings.ToLower(strings.TrimSpace(query))) + "%"
	var notes []Note
	err := r.db.WithContext(ctx).
		Where(`LOWER(title) LIKE ? ESCAPE '\' OR LOWER(subject) LIKE ? ESCAPE '\' OR LOWER(content) LIKE ? ESCAPE '\'`,
			pattern, pattern, pattern).
		Order("uploaded_at DESC").
		Find(&notes).Error
	if err != nil {
		return nil, err
	}
	return notes, nil
}
