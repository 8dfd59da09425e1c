package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hlfleet/internal/pkg/symbol"
	"hlfleet/internal/pkg/text"
	"hlfleet/internal/store"
	"hlfleet/internal/store/model"

	"gorm.io/gorm"
)

var _ store.SignalStore = (*SqliteStore)(nil)

const tpMatchClause = "(order_id_tp1 = ? OR order_id_tp2 = ? OR order_id_tp3 = ? OR order_id_tp4 = ? OR order_id_tp5 = ?)"

func (s *SqliteStore) GetSignal(ctx context.Context, id int64) (*store.Signal, error) {
	var m model.SignalModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sig := toRecord(m)
	return &sig, nil
}

// NextPending returns the oldest pending row of kind for bot.
func (s *SqliteStore) NextPending(ctx context.Context, bot string, kind store.SignalKind) (*store.Signal, error) {
	var m model.SignalModel
	err := s.db.WithContext(ctx).
		Where("bot_name = ? AND status = ? AND signal_type = ?", bot, store.StatusPending, kind).
		Order("created_at ASC, id ASC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sig := toRecord(m)
	return &sig, nil
}

func (s *SqliteStore) ClaimPending(ctx context.Context, id int64) (bool, error) {
	res := s.signals(ctx).
		Where("id = ? AND status = ?", id, store.StatusPending).
		Update("status", store.StatusProcessing)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *SqliteStore) ReleaseClaim(ctx context.Context, id int64) error {
	return s.signals(ctx).
		Where("id = ? AND status = ?", id, store.StatusProcessing).
		Update("status", store.StatusPending).Error
}

func (s *SqliteStore) MarkFilled(ctx context.Context, id int64, fill store.FilledEntry) error {
	updates := map[string]interface{}{
		"status":               store.StatusFilled,
		"position_size_actual": fill.Size,
	}
	if fill.StopLoss > 0 {
		updates["stop_loss"] = fill.StopLoss
	}
	if fill.OrderIDEntry != 0 {
		updates["order_id_entry"] = fill.OrderIDEntry
	}
	if fill.OrderIDSL != 0 {
		updates["order_id_sl"] = fill.OrderIDSL
	}
	for i, oid := range fill.TargetOrderIDs {
		if i >= store.MaxTargets {
			break
		}
		if oid != 0 {
			updates[fmt.Sprintf("order_id_tp%d", i+1)] = oid
		}
	}
	if fill.Note != "" {
		updates["notes"] = appendNote(fill.Note)
	}
	return s.mustUpdate(ctx, id, updates)
}

func (s *SqliteStore) MarkFailed(ctx context.Context, id int64, reason string) error {
	return s.mustUpdate(ctx, id, map[string]interface{}{
		"status": store.StatusFailed,
		"notes":  appendNote(reason),
	})
}

func (s *SqliteStore) MarkExecuted(ctx context.Context, id int64, note string) error {
	updates := map[string]interface{}{"status": store.StatusExecuted}
	if note != "" {
		updates["notes"] = appendNote(note)
	}
	return s.mustUpdate(ctx, id, updates)
}

// ListOpenEntries returns filled entry rows, newest first.
func (s *SqliteStore) ListOpenEntries(ctx context.Context, bot string) ([]store.Signal, error) {
	var models []model.SignalModel
	if err := s.db.WithContext(ctx).
		Where("bot_name = ? AND signal_type = ? AND status = ?", bot, store.KindEntry, store.StatusFilled).
		Order("created_at DESC, id DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return toRecords(models), nil
}

// ListBreakevenCandidates returns filled rows created after since that carry a
// first target order and have not been promoted.
func (s *SqliteStore) ListBreakevenCandidates(ctx context.Context, bot string, since time.Time) ([]store.Signal, error) {
	var models []model.SignalModel
	if err := s.db.WithContext(ctx).
		Where("bot_name = ? AND status = ?", bot, store.StatusFilled).
		Where("COALESCE(sl_moved_to_be, 0) = 0").
		Where("order_id_tp1 IS NOT NULL").
		Where("created_at > ?", since.UTC()).
		Order("created_at ASC, id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return toRecords(models), nil
}

// FindByTakeProfitOrder finds the filled row whose target order id is oid.
// Venue order ids are recycled, so only rows created after since match.
func (s *SqliteStore) FindByTakeProfitOrder(ctx context.Context, bot string, oid int64, since time.Time) (*store.Signal, int, error) {
	if oid == 0 {
		return nil, 0, store.ErrNotFound
	}
	var m model.SignalModel
	err := s.db.WithContext(ctx).
		Where("bot_name = ? AND status = ?", bot, store.StatusFilled).
		Where(tpMatchClause, oid, oid, oid, oid, oid).
		Where("created_at > ?", since.UTC()).
		Order("created_at DESC, id DESC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, 0, store.ErrNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	sig := toRecord(m)
	return &sig, sig.TargetIndex(oid), nil
}

func (s *SqliteStore) RecordTargetFill(ctx context.Context, id int64, target int, at time.Time) error {
	if target < 1 || target > store.MaxTargets {
		return fmt.Errorf("target index %d out of range", target)
	}
	return s.mustUpdate(ctx, id, map[string]interface{}{
		fmt.Sprintf("tp%d_filled_at", target): at.UTC(),
	})
}

// LatestFilledEntry returns the newest filled entry for symbol. Stored symbols
// may carry quote suffixes so matching is done on the normalized ticker.
func (s *SqliteStore) LatestFilledEntry(ctx context.Context, bot, sym string) (*store.Signal, error) {
	open, err := s.ListOpenEntries(ctx, bot)
	if err != nil {
		return nil, err
	}
	for i := range open {
		if symbol.Equal(open[i].Symbol, sym) {
			return &open[i], nil
		}
	}
	return nil, store.ErrNotFound
}

// NextExitAfter returns the oldest executed or no-op exit for symbol created
// after the given time.
func (s *SqliteStore) NextExitAfter(ctx context.Context, bot, sym string, after time.Time) (*store.Signal, error) {
	var models []model.SignalModel
	if err := s.db.WithContext(ctx).
		Where("bot_name = ? AND signal_type = ?", bot, store.KindExit).
		Where("status IN ?", []store.SignalStatus{store.StatusExecuted, store.StatusNoOp}).
		Where("created_at > ?", after.UTC()).
		Order("created_at ASC, id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	for _, m := range models {
		if symbol.Equal(m.Symbol, sym) {
			sig := toRecord(m)
			return &sig, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *SqliteStore) SetPnL(ctx context.Context, id int64, pnlPercent float64, note string) error {
	updates := map[string]interface{}{"pnl_percent_actual": pnlPercent}
	if note != "" {
		updates["notes"] = appendNote(note)
	}
	return s.mustUpdate(ctx, id, updates)
}

// ClaimBreakeven flips the breakeven flag from unset to set. Only one caller
// per row ever observes true.
func (s *SqliteStore) ClaimBreakeven(ctx context.Context, id int64) (bool, error) {
	res := s.signals(ctx).
		Where("id = ? AND COALESCE(sl_moved_to_be, 0) = 0", id).
		Updates(map[string]interface{}{
			"sl_moved_to_be": true,
			"notes":          appendNote("BE SL in progress"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *SqliteStore) CompleteBreakeven(ctx context.Context, id int64, orderID int64) error {
	return s.mustUpdate(ctx, id, map[string]interface{}{
		"be_sl_order_id": orderID,
		"notes":          appendNote("BE SL triggered after TP1"),
	})
}

// RollbackBreakeven clears a claimed flag after a failed promotion so a later
// pass can retry.
func (s *SqliteStore) RollbackBreakeven(ctx context.Context, id int64, reason string) error {
	reason = text.Truncate(reason, 100)
	return s.signals(ctx).
		Where("id = ? AND COALESCE(sl_moved_to_be, 0) <> 0", id).
		Updates(map[string]interface{}{
			"sl_moved_to_be": false,
			"notes":          appendNote("BE SL failed: " + reason),
		}).Error
}

// CloseGhost closes a filled row whose position no longer exists. A nil pnl
// records that no closing fill could be found.
func (s *SqliteStore) CloseGhost(ctx context.Context, id int64, pnlPercent *float64) (bool, error) {
	updates := map[string]interface{}{"status": store.StatusClosed}
	if pnlPercent != nil {
		updates["pnl_percent_actual"] = *pnlPercent
		updates["notes"] = appendNote(fmt.Sprintf("Auto-closed by reconciliation. Actual PnL: %.2f%%", *pnlPercent))
	} else {
		updates["notes"] = appendNote("Auto-closed by reconciliation (PnL unavailable)")
	}
	res := s.signals(ctx).Where("id = ? AND status = ?", id, store.StatusFilled).Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *SqliteStore) ExpireEntry(ctx context.Context, id int64, note string) (bool, error) {
	updates := map[string]interface{}{"status": store.StatusExpired}
	if note != "" {
		updates["notes"] = appendNote(note)
	}
	res := s.signals(ctx).Where("id = ? AND status = ?", id, store.StatusFilled).Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *SqliteStore) StatusCounts(ctx context.Context, bot string) (map[store.SignalStatus]int, error) {
	var rows []struct {
		Status string
		Count  int
	}
	if err := s.signals(ctx).
		Select("status, COUNT(*) AS count").
		Where("bot_name = ?", bot).
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[store.SignalStatus]int, len(rows))
	for _, r := range rows {
		out[store.SignalStatus(r.Status)] = r.Count
	}
	return out, nil
}

// InsertSignal writes a new row. Used by tests and by local tooling that
// stands in for the ingestion pipeline.
func (s *SqliteStore) InsertSignal(ctx context.Context, sig *store.Signal) (int64, error) {
	if sig == nil {
		return 0, fmt.Errorf("signal cannot be nil")
	}
	m := fromRecord(*sig)
	if m.Status == "" {
		m.Status = string(store.StatusPending)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.nowFn()
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return 0, err
	}
	sig.ID = m.ID
	return m.ID, nil
}

func (s *SqliteStore) mustUpdate(ctx context.Context, id int64, updates map[string]interface{}) error {
	res := s.signals(ctx).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}
