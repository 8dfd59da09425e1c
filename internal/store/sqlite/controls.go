package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"hlfleet/internal/logger"
	"hlfleet/internal/store"
	"hlfleet/internal/store/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// LatestAdminCommand returns the newest control row for bot.
func (s *SqliteStore) LatestAdminCommand(ctx context.Context, bot string) (*store.AdminControl, error) {
	var m model.BotControlModel
	err := s.db.WithContext(ctx).
		Where("bot_id = ?", bot).
		Order("created_at DESC, id DESC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &store.AdminControl{
		ID:        m.ID,
		BotID:     m.BotID,
		Command:   store.AdminCommand(strings.ToUpper(strings.TrimSpace(m.Command))),
		CreatedAt: m.CreatedAt,
	}, nil
}

func (s *SqliteStore) InsertAdminCommand(ctx context.Context, bot string, cmd store.AdminCommand) error {
	return s.db.WithContext(ctx).Create(&model.BotControlModel{
		BotID:     bot,
		Command:   string(cmd),
		CreatedAt: s.nowFn(),
	}).Error
}

func (s *SqliteStore) AppendEvent(ctx context.Context, ev store.Event) error {
	details := datatypes.JSON([]byte("{}"))
	if len(ev.Details) > 0 {
		raw, err := json.Marshal(ev.Details)
		if err != nil {
			return err
		}
		details = datatypes.JSON(raw)
	}
	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.nowFn()
	}
	return s.db.WithContext(ctx).Create(&model.ExecutionEventModel{
		BotName:   ev.BotName,
		SignalID:  ev.SignalID,
		Symbol:    ev.Symbol,
		Kind:      ev.Kind,
		Details:   details,
		CreatedAt: createdAt.UTC(),
	}).Error
}

// ListEvents returns the newest audit events for bot, newest first.
func (s *SqliteStore) ListEvents(ctx context.Context, bot string, limit int) ([]store.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []model.ExecutionEventModel
	if err := s.db.WithContext(ctx).
		Where("bot_name = ?", bot).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.Event, 0, len(models))
	for _, m := range models {
		ev := store.Event{
			BotName:   m.BotName,
			SignalID:  m.SignalID,
			Symbol:    m.Symbol,
			Kind:      m.Kind,
			CreatedAt: m.CreatedAt,
		}
		if len(m.Details) > 0 {
			if err := json.Unmarshal(m.Details, &ev.Details); err != nil {
				logger.Warnf("event #%d has unreadable details: %v", m.ID, err)
			}
		}
		out = append(out, ev)
	}
	return out, nil
}
