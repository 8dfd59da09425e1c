package sqlite

import (
	"time"

	"hlfleet/internal/store"
	"hlfleet/internal/store/model"
)

func toRecords(models []model.SignalModel) []store.Signal {
	out := make([]store.Signal, 0, len(models))
	for _, m := range models {
		out = append(out, toRecord(m))
	}
	return out
}

func toRecord(m model.SignalModel) store.Signal {
	sig := store.Signal{
		ID:               m.ID,
		BotName:          m.BotName,
		Symbol:           m.Symbol,
		Direction:        m.Direction,
		Kind:             store.SignalKind(m.SignalType),
		Status:           store.SignalStatus(m.Status),
		EntryPrice:       m.Entry1,
		StopLoss:         m.StopLoss,
		Targets:          [store.MaxTargets]*float64{m.Target1, m.Target2, m.Target3, m.Target4, m.Target5},
		Confidence:       m.ConfidenceScore,
		OrderIDEntry:     deref(m.OrderIDEntry),
		OrderIDSL:        deref(m.OrderIDSL),
		TargetOrderIDs:   [store.MaxTargets]int64{deref(m.OrderIDTP1), deref(m.OrderIDTP2), deref(m.OrderIDTP3), deref(m.OrderIDTP4), deref(m.OrderIDTP5)},
		BreakevenClaimed: m.SLMovedToBE,
		BESLOrderID:      deref(m.BESLOrderID),
		PnLPercent:       m.PnLPercent,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
	sig.TargetFilledAt = [store.MaxTargets]*time.Time{m.TP1FilledAt, m.TP2FilledAt, m.TP3FilledAt, m.TP4FilledAt, m.TP5FilledAt}
	if m.PositionSize != nil {
		sig.PositionSize = *m.PositionSize
	}
	if m.Notes != nil {
		sig.Notes = *m.Notes
	}
	return sig
}

func fromRecord(sig store.Signal) model.SignalModel {
	m := model.SignalModel{
		ID:              sig.ID,
		BotName:         sig.BotName,
		Symbol:          sig.Symbol,
		Direction:       sig.Direction,
		SignalType:      string(sig.Kind),
		Status:          string(sig.Status),
		Entry1:          sig.EntryPrice,
		StopLoss:        sig.StopLoss,
		Target1:         sig.Targets[0],
		Target2:         sig.Targets[1],
		Target3:         sig.Targets[2],
		Target4:         sig.Targets[3],
		Target5:         sig.Targets[4],
		ConfidenceScore: sig.Confidence,
		OrderIDEntry:    ref(sig.OrderIDEntry),
		OrderIDSL:       ref(sig.OrderIDSL),
		OrderIDTP1:      ref(sig.TargetOrderIDs[0]),
		OrderIDTP2:      ref(sig.TargetOrderIDs[1]),
		OrderIDTP3:      ref(sig.TargetOrderIDs[2]),
		OrderIDTP4:      ref(sig.TargetOrderIDs[3]),
		OrderIDTP5:      ref(sig.TargetOrderIDs[4]),
		SLMovedToBE:     sig.BreakevenClaimed,
		BESLOrderID:     ref(sig.BESLOrderID),
		PnLPercent:      sig.PnLPercent,
		TP1FilledAt:     sig.TargetFilledAt[0],
		TP2FilledAt:     sig.TargetFilledAt[1],
		TP3FilledAt:     sig.TargetFilledAt[2],
		TP4FilledAt:     sig.TargetFilledAt[3],
		TP5FilledAt:     sig.TargetFilledAt[4],
		CreatedAt:       sig.CreatedAt.UTC(),
	}
	if sig.PositionSize != 0 {
		size := sig.PositionSize
		m.PositionSize = &size
	}
	if sig.Notes != "" {
		notes := sig.Notes
		m.Notes = &notes
	}
	return m
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func ref(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}
