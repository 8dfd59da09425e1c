package hyperliquid

import (
	"encoding/hex"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Field order below is part of the signed payload: actions are hashed from
// their msgpack encoding, which follows struct field order.

type orderAction struct {
	Type     string      `msgpack:"type" json:"type"`
	Orders   []orderWire `msgpack:"orders" json:"orders"`
	Grouping string      `msgpack:"grouping" json:"grouping"`
}

type orderWire struct {
	Asset      int           `msgpack:"a" json:"a"`
	IsBuy      bool          `msgpack:"b" json:"b"`
	LimitPx    string        `msgpack:"p" json:"p"`
	Size       string        `msgpack:"s" json:"s"`
	ReduceOnly bool          `msgpack:"r" json:"r"`
	OrderType  orderTypeWire `msgpack:"t" json:"t"`
	Cloid      string        `msgpack:"c,omitempty" json:"c,omitempty"`
}

type orderTypeWire struct {
	Limit   *limitWire   `msgpack:"limit,omitempty" json:"limit,omitempty"`
	Trigger *triggerWire `msgpack:"trigger,omitempty" json:"trigger,omitempty"`
}

type limitWire struct {
	Tif string `msgpack:"tif" json:"tif"`
}

type triggerWire struct {
	IsMarket  bool   `msgpack:"isMarket" json:"isMarket"`
	TriggerPx string `msgpack:"triggerPx" json:"triggerPx"`
	Tpsl      string `msgpack:"tpsl" json:"tpsl"`
}

type cancelAction struct {
	Type    string       `msgpack:"type" json:"type"`
	Cancels []cancelWire `msgpack:"cancels" json:"cancels"`
}

type cancelWire struct {
	Asset   int   `msgpack:"a" json:"a"`
	OrderID int64 `msgpack:"o" json:"o"`
}

type signatureWire struct {
	R string `json:"r"`
	S string `json:"s"`
	V byte   `json:"v"`
}

type exchangeRequest struct {
	Action       any           `json:"action"`
	Nonce        int64         `json:"nonce"`
	Signature    signatureWire `json:"signature"`
	VaultAddress *string       `json:"vaultAddress"`
}

const (
	tifGtc = "Gtc"
	tifIoc = "Ioc"
)

// floatToWire renders v with at most eight decimals and no trailing zeros.
// Values that would lose precision beyond 1e-12 are refused.
func floatToWire(v float64) (string, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "", fmt.Errorf("cannot encode non-finite value %v", v)
	}
	d := decimal.NewFromFloat(v).Round(8)
	back, _ := d.Float64()
	if math.Abs(back-v) >= 1e-12 {
		return "", fmt.Errorf("value %v loses precision on the wire", v)
	}
	s := d.String()
	if s == "-0" {
		s = "0"
	}
	return s, nil
}

// newCloid returns a 128-bit client order id in the venue's 0x-hex format.
func newCloid() string {
	id := uuid.New()
	return "0x" + hex.EncodeToString(id[:])
}
