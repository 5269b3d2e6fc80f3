package notes

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/GaneshTappiti/notesmary-mobile-sub001/internal/cache"
	"go.uber.org/zap"
)

const (
	// CacheKeyNotes holds the most recent note listing.
	CacheKeyNotes = "notes_cache"
	// CacheKeyRecent holds the ring of recently opened notes.
	CacheKeyRecent = "recent_notes"
	// CacheKeyDrafts holds the offline draft queue.
	CacheKeyDrafts = "offline_notes"

	notesCacheTTL  = 24 * time.Hour
	recentNotesCap = 10
)

var (
	errMissingBackend = errors.New("note backend is required")
	errMissingCache   = errors.New("cache store is required")
	noOpLogger        = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew   = "notes.service.new"
	opUploadNote   = "notes.upload_note"
	opListNotes    = "notes.list_notes"
	opGetNote      = "notes.get_note"
	opSearchNotes  = "notes.search_notes"
	opSyncOffline  = "notes.sync_offline_notes"
	opPersistCache = "notes.persist_cache"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

type ServiceConfig struct {
	Backend  Backend
	Cache    cache.Store
	Network  NetworkStatus
	Notifier Notifier
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service is the offline-aware note service. A single instance owns the process-wide draft queue.
type Service struct {
	backend  Backend
	cache    cache.Store
	network  NetworkStatus
	notifier Notifier
	clock    func() time.Time
	logger   *zap.Logger

	draftsMu     sync.Mutex
	drafts       []Draft
	draftsLoaded bool
}

// SyncResult reports a drain of the draft queue.
type SyncResult struct {
	Success bool `json:"success"`
	Count   int  `json:"count"`
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Backend == nil {
		return nil, newServiceError(opServiceNew, "missing_backend", errMissingBackend)
	}
	if cfg.Cache == nil {
		return nil, newServiceError(opServiceNew, "missing_cache", errMissingCache)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}

	return &Service{
		backend:  cfg.Backend,
		cache:    cfg.Cache,
		network:  cfg.Network,
		notifier: notifier,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Online reports connectivity. A missing or unavailable status capability counts as online.
func (s *Service) Online(ctx context.Context) bool {
	if s.network == nil {
		return true
	}
	status, err := s.network.Status(ctx)
	if err != nil {
		if !errors.Is(err, ErrStatusUnavailable) {
			s.logger.Debug("network status failed, assuming online", zap.Error(err))
		}
		return true
	}
	return status.Connected
}

// UploadNote inserts the note, or queues it as a draft while offline. The offline path does not fail.
// Drafts are validated when they are synced; an owner-less draft takes the syncing user.
func (s *Service) UploadNote(ctx context.Context, input NoteInput, userID string) (Note, error) {
	input = input.normalized()
	if !s.Online(ctx) {
		draft := s.enqueueDraft(ctx, strings.TrimSpace(userID), input)
		s.notifier.Notify(ctx, noticeOfflineSave)
		return draft.Note(), nil
	}

	validUserID, err := validateUserID(userID)
	if err != nil {
		return Note{}, newServiceError(opUploadNote, "invalid_user_id", err)
	}
	if err := input.validate(); err != nil {
		return Note{}, newServiceError(opUploadNote, "invalid_input", err)
	}

	note, err := s.backend.Insert(ctx, validUserID, input)
	if err != nil {
		s.logError(opUploadNote, "insert_failed", err, zap.String("user_id", validUserID))
		s.notifier.Notify(ctx, noticeUploadError)
		return Note{}, newServiceError(opUploadNote, "insert_failed", err)
	}

	cached, _ := s.cachedNotes(ctx, CacheKeyNotes)
	s.storeNotes(ctx, CacheKeyNotes, append([]Note{note}, cached...), notesCacheTTL)
	return note, nil
}

// ListNotes returns every note, newest first. Offline or on backend failure the cached listing is served.
func (s *Service) ListNotes(ctx context.Context) ([]Note, error) {
	if !s.Online(ctx) {
		cached, _ := s.cachedNotes(ctx, CacheKeyNotes)
		s.notifier.Notify(ctx, noticeOfflineRead)
		return cached, nil
	}

	notes, err := s.backend.List(ctx)
	if err != nil {
		s.logError(opListNotes, "query_failed", err)
		if cached, found := s.cachedNotes(ctx, CacheKeyNotes); found {
			s.notifier.Notify(ctx, noticeCachedData)
			return cached, nil
		}
		return nil, newServiceError(opListNotes, "query_failed", err)
	}
	if notes == nil {
		notes = []Note{}
	}
	s.storeNotes(ctx, CacheKeyNotes, notes, notesCacheTTL)
	return notes, nil
}

// GetNote resolves a note by id. Local ids are served from the draft queue.
func (s *Service) GetNote(ctx context.Context, id string) (Note, error) {
	noteID, err := validateNoteID(id)
	if err != nil {
		return Note{}, newServiceError(opGetNote, "invalid_note_id", err)
	}

	if IsLocalID(noteID) {
		for _, draft := range s.PendingDrafts(ctx) {
			if draft.LocalID == noteID {
				return draft.Note(), nil
			}
		}
		return Note{}, newServiceError(opGetNote, "not_found", ErrNoteNotFound)
	}

	if !s.Online(ctx) {
		return s.cachedNote(ctx, noteID)
	}

	note, err := s.backend.Get(ctx, noteID)
	if errors.Is(err, ErrNoteNotFound) {
		return Note{}, newServiceError(opGetNote, "not_found", err)
	}
	if err != nil {
		s.logError(opGetNote, "query_failed", err, zap.String("note_id", noteID))
		cached, cacheErr := s.cachedNote(ctx, noteID)
		if cacheErr != nil {
			return Note{}, newServiceError(opGetNote, "query_failed", err)
		}
		s.notifier.Notify(ctx, noticeCachedData)
		return cached, nil
	}

	listing, _ := s.cachedNotes(ctx, CacheKeyNotes)
	s.storeNotes(ctx, CacheKeyNotes, upsertNote(listing, note), notesCacheTTL)
	recent, _ := s.cachedNotes(ctx, CacheKeyRecent)
	s.storeNotes(ctx, CacheKeyRecent, promoteRecent(recent, note), 0)
	return note, nil
}

// SearchNotes runs a backend prefix search online and a substring scan of the cache offline.
func (s *Service) SearchNotes(ctx context.Context, query string) ([]Note, error) {
	if !s.Online(ctx) {
		s.notifier.Notify(ctx, noticeOfflineRead)
		return s.searchCache(ctx, query), nil
	}
	notes, err := s.backend.Search(ctx, query)
	if err != nil {
		s.logError(opSearchNotes, "query_failed", err)
		s.notifier.Notify(ctx, noticeCachedData)
		return s.searchCache(ctx, query), nil
	}
	if notes == nil {
		notes = []Note{}
	}
	return notes, nil
}

// SyncOfflineNotes uploads every queued draft and discards the queue whatever the outcome. Drafts
// recorded without an owner are uploaded as userID.
func (s *Service) SyncOfflineNotes(ctx context.Context, userID string) (SyncResult, error) {
	if !s.Online(ctx) {
		s.notifier.Notify(ctx, noticeOfflineSync)
		return SyncResult{Success: false}, nil
	}

	drafts := s.takeDrafts(ctx)
	count := 0
	for _, draft := range drafts {
		owner := draft.UserID
		if owner == "" {
			owner = userID
		}
		owner, err := validateUserID(owner)
		if err == nil {
			err = draft.Input.validate()
		}
		if err != nil {
			s.logError(opSyncOffline, "invalid_draft", err, zap.String("local_id", draft.LocalID))
			continue
		}
		if _, err := s.backend.Insert(ctx, owner, draft.Input); err != nil {
			s.logError(opSyncOffline, "insert_failed", err,
				zap.String("local_id", draft.LocalID),
				zap.String("user_id", owner))
			continue
		}
		count++
	}

	if _, err := s.ListNotes(ctx); err != nil {
		s.logger.Warn("cache refresh after sync failed", zap.Error(err))
	}
	return SyncResult{Success: true, Count: count}, nil
}

// PendingDrafts returns the queued drafts, oldest first.
func (s *Service) PendingDrafts(ctx context.Context) []Draft {
	s.draftsMu.Lock()
	defer s.draftsMu.Unlock()
	s.loadDraftsLocked(ctx)
	return append([]Draft{}, s.drafts...)
}

// RecentNotes returns the recently opened notes, most recent first.
func (s *Service) RecentNotes(ctx context.Context) []Note {
	recent, _ := s.cachedNotes(ctx, CacheKeyRecent)
	return recent
}

func (s *Service) enqueueDraft(ctx context.Context, userID string, input NoteInput) Draft {
	s.draftsMu.Lock()
	defer s.draftsMu.Unlock()
	s.loadDraftsLocked(ctx)

	now := s.clock()
	draft := Draft{
		LocalID:  s.nextLocalIDLocked(now),
		UserID:   userID,
		Input:    input,
		QueuedAt: now.UTC(),
	}
	s.drafts = append(s.drafts, draft)
	s.persistDraftsLocked(ctx)
	return draft
}

func (s *Service) takeDrafts(ctx context.Context) []Draft {
	s.draftsMu.Lock()
	defer s.draftsMu.Unlock()
	s.loadDraftsLocked(ctx)
	drafts := s.drafts
	s.drafts = nil
	s.persistDraftsLocked(ctx)
	return drafts
}

func (s *Service) nextLocalIDLocked(now time.Time) string {
	millis := now.UnixMilli()
	for {
		candidate := LocalIDPrefix + strconv.FormatInt(millis, 10)
		taken := false
		for _, draft := range s.drafts {
			if draft.LocalID == candidate {
				taken = true
				break
			}
		}
		if !taken {
			return candidate
		}
		millis++
	}
}

func (s *Service) loadDraftsLocked(ctx context.Context) {
	if s.draftsLoaded {
		return
	}
	s.draftsLoaded = true
	var stored []Draft
	found, err := s.cache.Get(ctx, CacheKeyDrafts, &stored)
	if err != nil {
		s.logError(opPersistCache, "drafts_load_failed", err)
		return
	}
	if found {
		s.drafts = stored
	}
}

func (s *Service) persistDraftsLocked(ctx context.Context) {
	drafts := s.drafts
	if drafts == nil {
		drafts = []Draft{}
	}
	if err := s.cache.Set(ctx, CacheKeyDrafts, drafts, 0); err != nil {
		s.logError(opPersistCache, "drafts_store_failed", err, zap.Int("drafts", len(drafts)))
	}
}

func (s *Service) cachedNotes(ctx context.Context, key string) ([]Note, bool) {
	var notes []Note
	found, err := s.cache.Get(ctx, key, &notes)
	if err != nil {
		s.logError(opPersistCache, "cache_load_failed", err, zap.String("key", key))
		return []Note{}, false
	}
	if !found || notes == nil {
		return []Note{}, found
	}
	return notes, true
}

func (s *Service) cachedNote(ctx context.Context, id string) (Note, error) {
	cached, _ := s.cachedNotes(ctx, CacheKeyNotes)
	for _, note := range cached {
		if note.ID == id {
			return note, nil
		}
	}
	return Note{}, newServiceError(opGetNote, "not_found", ErrNoteNotFound)
}

func (s *Service) searchCache(ctx context.Context, query string) []Note {
	cached, _ := s.cachedNotes(ctx, CacheKeyNotes)
	matches := make([]Note, 0, len(cached))
	for _, note := range cached {
		if matchesQuery(note, query) {
			matches = append(matches, note)
		}
	}
	return matches
}

func (s *Service) storeNotes(ctx context.Context, key string, notes []Note, ttl time.Duration) {
	if err := s.cache.Set(ctx, key, notes, ttl); err != nil {
		s.logError(opPersistCache, "cache_store_failed", err, zap.String("key", key))
	}
}

// upsertNote replaces the note with the same id in place, or puts it first.
func upsertNote(notes []Note, note Note) []Note {
	next := append([]Note(nil), notes...)
	for i := range next {
		if next[i].ID == note.ID {
			next[i] = note
			return next
		}
	}
	return append([]Note{note}, next...)
}

// promoteRecent moves note to the front of the ring and evicts the oldest entries beyond the cap.
func promoteRecent(recent []Note, note Note) []Note {
	next := make([]Note, 0, recentNotesCap)
	next = append(next, note)
	for _, existing := range recent {
		if len(next) == recentNotesCap {
			break
		}
		if existing.ID != note.ID {
			next = append(next, existing)
		}
	}
	return next
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("notes service error", attrs...)
}
