package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/GaneshTappiti/notesmary-mobile-sub001/internal/ids"
	"github.com/GaneshTappiti/notesmary-mobile-sub001/internal/rooms"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationStripProviderPrefix = "2024-03-01_strip_google_user_prefix"
	migrationBackfillRoomAdmins  = "2024-03-15_backfill_room_creator_admins"

	providerPrefix = "google:"
)

var userColumns = []struct {
	table  string
	column string
}{
	{table: "profiles", column: "id"},
	{table: rooms.TableRooms, column: "created_by"},
	{table: rooms.TableMembers, column: "user_id"},
	{table: rooms.TableMessages, column: "user_id"},
	{table: "notes", column: "user_id"},
}

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationStripProviderPrefix, apply: stripProviderPrefix},
		{name: migrationBackfillRoomAdmins, apply: backfillRoomAdmins},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return fmt.Errorf("migration %s: %w", migration.name, err)
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// stripProviderPrefix rewrites legacy "google:<sub>" user ids to the bare subject.
func stripProviderPrefix(db *gorm.DB) error {
	start := len(providerPrefix) + 1
	return db.Transaction(func(tx *gorm.DB) error {
		for _, target := range userColumns {
			statement := fmt.Sprintf("UPDATE %s SET %s = substr(%s, %d) WHERE %s LIKE '%s%%'",
				target.table, target.column, target.column, start, target.column, providerPrefix)
			if err := tx.Exec(statement).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// backfillRoomAdmins inserts the admin membership for rooms whose creator has none.
func backfillRoomAdmins(db *gorm.DB) error {
	var orphaned []rooms.Room
	err := db.Where("NOT EXISTS (SELECT 1 FROM " + rooms.TableMembers + " m WHERE m.room_id = " +
		rooms.TableRooms + ".id AND m.user_id = " + rooms.TableRooms + ".created_by)").
		Find(&orphaned).Error
	if err != nil {
		return err
	}
	provider := ids.NewUUIDProvider()
	return db.Transaction(func(tx *gorm.DB) error {
		for _, room := range orphaned {
			id, err := provider.NewID()
			if err != nil {
				return err
			}
			admin := rooms.Member{
				ID:       id,
				RoomID:   room.ID,
				UserID:   room.CreatedBy,
				Role:     rooms.RoleAdmin,
				JoinedAt: room.CreatedAt,
			}
			if err := tx.Create(&admin).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
