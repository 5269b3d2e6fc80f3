package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/GaneshTappiti/notesmary-mobile-sub001/internal/auth"
	"gorm.io/gorm"
)

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("users: invalid identity")

// ErrProfileNotFound indicates no profile exists for the requested id.
var ErrProfileNotFound = errors.New("users: profile not found")

// ServiceConfig describes the dependencies required for profile resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service maintains the profiles table from session claims.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

// NewService constructs the profile service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:    cfg.Database,
		now:   clock,
		cache: sync.Map{},
	}, nil
}

// ResolveProfile returns the profile for the provided session claims, creating it on first sight
// and refreshing changed display fields afterwards. Provider prefixes such as "google:" are stripped
// from the canonical id.
func (s *Service) ResolveProfile(ctx context.Context, claims auth.SessionClaims) (Profile, error) {
	provider, subject := deriveProviderSubject(claims)
	if subject == "" {
		return Profile{}, ErrInvalidIdentity
	}

	if cached, ok := s.cache.Load(subject); ok {
		if profile, ok := cached.(Profile); ok && !profileChanged(profile, claims) {
			return profile, nil
		}
	}

	var profile Profile
	err := s.db.WithContext(ctx).
		Where("id = ?", subject).
		First(&profile).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		profile = Profile{
			ID:         subject,
			Provider:   provider,
			Name:       normalize(claims.UserDisplayName),
			Email:      normalize(claims.UserEmail),
			AvatarURL:  normalize(claims.UserAvatarURL),
			LastSeenAt: s.now(),
		}
		if err := s.db.WithContext(ctx).Create(&profile).Error; err != nil {
			return Profile{}, err
		}
	} else if err != nil {
		return Profile{}, err
	} else if profileChanged(profile, claims) {
		updates := map[string]interface{}{}
		if email := normalize(claims.UserEmail); email != "" && email != profile.Email {
			updates["email"] = email
			profile.Email = email
		}
		if display := normalize(claims.UserDisplayName); display != "" && display != profile.Name {
			updates["name"] = display
			profile.Name = display
		}
		if avatar := normalize(claims.UserAvatarURL); avatar != "" && avatar != profile.AvatarURL {
			updates["avatar_url"] = avatar
			profile.AvatarURL = avatar
		}
		updates["last_seen_at"] = s.now()
		if err := s.db.WithContext(ctx).Model(&Profile{}).
			Where("id = ?", profile.ID).
			Updates(updates).
			Error; err != nil {
			return Profile{}, err
		}
	}

	s.cache.Store(profile.ID, profile)
	return profile, nil
}

// GetProfile loads a profile by canonical id.
func (s *Service) GetProfile(ctx context.Context, id string) (Profile, error) {
	var profile Profile
	err := s.db.WithContext(ctx).Where("id = ?", normalize(id)).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, ErrProfileNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	return profile, nil
}

func profileChanged(profile Profile, claims auth.SessionClaims) bool {
	if email := normalize(claims.UserEmail); email != "" && email != profile.Email {
		return true
	}
	if display := normalize(claims.UserDisplayName); display != "" && display != profile.Name {
		return true
	}
	if avatar := normalize(claims.UserAvatarURL); avatar != "" && avatar != profile.AvatarURL {
		return true
	}
	return false
}

func deriveProviderSubject(claims auth.SessionClaims) (string, string) {
	provider := "default"
	subject := normalize(claims.Subject)

	raw := normalize(claims.UserID)
	if raw != "" {
		if strings.Contains(raw, ":") {
			segments := strings.SplitN(raw, ":", 2)
			if normalize(segments[0]) != "" && normalize(segments[1]) != "" {
				provider = normalize(segments[0])
				subject = normalize(segments[1])
			}
		} else if subject == "" {
			subject = raw
		}
	}

	if subject == "" {
		subject = normalize(claims.UserEmail)
	}

	return provider, subject
}
