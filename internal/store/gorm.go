package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/DoyleJ11/meeting-sync/internal/transport"
)

type Room struct {
	Code      string    `gorm:"primaryKey;size:32"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (Room) TableName() string { return "rooms" }

type RoomEvent struct {
	ID        uint      `gorm:"primaryKey"`
	RoomCode  string    `gorm:"size:32;not null;uniqueIndex:idx_room_seq,priority:1"`
	Seq       int64     `gorm:"not null;uniqueIndex:idx_room_seq,priority:2"`
	EventID   string    `gorm:"size:64;not null"`
	Sender    string    `gorm:"size:255;not null"`
	Type      string    `gorm:"size:64;not null"`
	Body      string    `gorm:"type:text;not null"`
	Timestamp int64     `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (RoomEvent) TableName() string { return "room_events" }

// Gorm keeps rooms in postgres.
type Gorm struct {
	db *gorm.DB
}

var _ Store = (*Gorm)(nil)

// NewGorm connects to dsn and migrates the schema.
func NewGorm(dsn string) (*Gorm, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	return NewGormFromDB(db)
}

func NewGormFromDB(db *gorm.DB) (*Gorm, error) {
	if err := db.AutoMigrate(&Room{}, &RoomEvent{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &Gorm{db: db}, nil
}

func (g *Gorm) CreateRoom(ctx context.Context, code string) error {
	exists, err := g.RoomExists(ctx, code)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrRoomExists, code)
	}
	if err := g.db.WithContext(ctx).Create(&Room{Code: code}).Error; err != nil {
		return fmt.Errorf("store: create room %s: %w", code, err)
	}
	return nil
}

func (g *Gorm) RoomExists(ctx context.Context, code string) (bool, error) {
	var room Room
	err := g.db.WithContext(ctx).Where("code = ?", code).Take(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: lookup room %s: %w", code, err)
	}
	return true, nil
}

// Append numbers the event inside a transaction; the unique (room, seq)
// index rejects a concurrent writer that read the same head.
func (g *Gorm) Append(ctx context.Context, code string, ev transport.Event) (Record, error) {
	var rec Record
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var room Room
		if err := tx.Where("code = ?", code).Take(&room).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrRoomNotFound, code)
			}
			return err
		}
		var head int64
		if err := tx.Model(&RoomEvent{}).Where("room_code = ?", code).
			Select("COALESCE(MAX(seq), 0)").Scan(&head).Error; err != nil {
			return err
		}
		row := RoomEvent{
			RoomCode:  code,
			Seq:       head + 1,
			EventID:   ev.ID,
			Sender:    ev.Sender,
			Type:      ev.Type,
			Body:      ev.Body,
			Timestamp: ev.Timestamp,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		rec = Record{Seq: row.Seq, Event: ev}
		return nil
	})
	if err != nil {
		return Record{}, fmt.Errorf("store: append to %s: %w", code, err)
	}
	return rec, nil
}

func (g *Gorm) Since(ctx context.Context, code string, seq int64, limit int) ([]Record, error) {
	exists, err := g.RoomExists(ctx, code)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, code)
	}

	q := g.db.WithContext(ctx).Where("room_code = ? AND seq > ?", code, seq).Order("seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []RoomEvent
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: read %s since %d: %w", code, seq, err)
	}
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, Record{Seq: r.Seq, Event: transport.Event{
			ID:        r.EventID,
			Sender:    r.Sender,
			Type:      r.Type,
			Body:      r.Body,
			Timestamp: r.Timestamp,
		}})
	}
	return out, nil
}

func (g *Gorm) Head(ctx context.Context, code string) (int64, error) {
	exists, err := g.RoomExists(ctx, code)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, fmt.Errorf("%w: %s", ErrRoomNotFound, code)
	}
	var head int64
	if err := g.db.WithContext(ctx).Model(&RoomEvent{}).Where("room_code = ?", code).
		Select("COALESCE(MAX(seq), 0)").Scan(&head).Error; err != nil {
		return 0, fmt.Errorf("store: head of %s: %w", code, err)
	}
	return head, nil
}

func (g *Gorm) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
