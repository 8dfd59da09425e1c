package model

import (
	"time"

	"gorm.io/datatypes"
)

// SignalModel mirrors the signals table shared with the ingestion pipeline.
type SignalModel struct {
	ID              int64      `gorm:"column:id;primaryKey;autoIncrement"`
	BotName         string     `gorm:"column:bot_name;index:idx_signals_bot_status,priority:1"`
	Symbol          string     `gorm:"column:symbol"`
	Direction       string     `gorm:"column:direction"`
	SignalType      string     `gorm:"column:signal_type"`
	Status          string     `gorm:"column:status;index:idx_signals_bot_status,priority:2"`
	Entry1          *float64   `gorm:"column:entry_1"`
	StopLoss        *float64   `gorm:"column:stop_loss"`
	Target1         *float64   `gorm:"column:target_1"`
	Target2         *float64   `gorm:"column:target_2"`
	Target3         *float64   `gorm:"column:target_3"`
	Target4         *float64   `gorm:"column:target_4"`
	Target5         *float64   `gorm:"column:target_5"`
	ConfidenceScore *int       `gorm:"column:confidence_score"`
	PositionSize    *float64   `gorm:"column:position_size_actual"`
	OrderIDEntry    *int64     `gorm:"column:order_id_entry"`
	OrderIDSL       *int64     `gorm:"column:order_id_sl"`
	OrderIDTP1      *int64     `gorm:"column:order_id_tp1"`
	OrderIDTP2      *int64     `gorm:"column:order_id_tp2"`
	OrderIDTP3      *int64     `gorm:"column:order_id_tp3"`
	OrderIDTP4      *int64     `gorm:"column:order_id_tp4"`
	OrderIDTP5      *int64     `gorm:"column:order_id_tp5"`
	SLMovedToBE     bool       `gorm:"column:sl_moved_to_be;not null;default:false"`
	BESLOrderID     *int64     `gorm:"column:be_sl_order_id"`
	PnLPercent      *float64   `gorm:"column:pnl_percent_actual"`
	Notes           *string    `gorm:"column:notes"`
	TP1FilledAt     *time.Time `gorm:"column:tp1_filled_at"`
	TP2FilledAt     *time.Time `gorm:"column:tp2_filled_at"`
	TP3FilledAt     *time.Time `gorm:"column:tp3_filled_at"`
	TP4FilledAt     *time.Time `gorm:"column:tp4_filled_at"`
	TP5FilledAt     *time.Time `gorm:"column:tp5_filled_at"`
	CreatedAt       time.Time  `gorm:"column:created_at;index"`
	UpdatedAt       time.Time  `gorm:"column:updated_at"`
}

func (SignalModel) TableName() string { return "signals" }

// BotControlModel is an append-only admin command.
type BotControlModel struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	BotID     string    `gorm:"column:bot_id;index"`
	Command   string    `gorm:"column:command"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (BotControlModel) TableName() string { return "bot_controls" }

type ExecutionEventModel struct {
	ID        int64          `gorm:"column:id;primaryKey;autoIncrement"`
	BotName   string         `gorm:"column:bot_name;index"`
	SignalID  int64          `gorm:"column:signal_id;index"`
	Symbol    string         `gorm:"column:symbol"`
	Kind      string         `gorm:"column:kind"`
	Details   datatypes.JSON `gorm:"column:details"`
	CreatedAt time.Time      `gorm:"column:created_at"`
}

func (ExecutionEventModel) TableName() string { return "execution_events" }
