package hyperliquid

import (
	"context"
	"fmt"
	"math"

	"hlfleet/internal/gateway/exchange"

	"github.com/tidwall/gjson"
)

func (c *Client) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	asset, _, err := c.assetIndex(ctx, req.Symbol)
	if err != nil {
		return exchange.OrderResult{}, err
	}
	wire, err := buildOrderWire(asset, req)
	if err != nil {
		return exchange.OrderResult{}, err
	}
	action := orderAction{Type: "order", Orders: []orderWire{wire}, Grouping: "na"}
	resp, err := c.exchange(ctx, req.Symbol, action)
	if err != nil {
		return exchange.OrderResult{}, err
	}
	result, err := parseOrderStatus(req.Symbol, resp)
	if err != nil {
		return exchange.OrderResult{}, err
	}
	c.log.Debugf("order %s %s size=%s px=%s oid=%d", exchange.KindName(req.Kind), req.Symbol, wire.Size, wire.LimitPx, result.OrderID)
	return result, nil
}

func buildOrderWire(asset int, req exchange.OrderRequest) (orderWire, error) {
	if req.Size <= 0 {
		return orderWire{}, &exchange.RejectionError{Symbol: req.Symbol, Reason: "size must be positive"}
	}
	size, err := floatToWire(req.Size)
	if err != nil {
		return orderWire{}, err
	}
	wire := orderWire{
		Asset:      asset,
		IsBuy:      req.IsBuy,
		Size:       size,
		ReduceOnly: req.ReduceOnly,
		Cloid:      newCloid(),
	}
	var px float64
	switch k := req.Kind.(type) {
	case exchange.LimitGTC:
		px = k.Price
		wire.OrderType.Limit = &limitWire{Tif: tifGtc}
	case exchange.StopTrigger:
		px = k.TriggerPrice
		wire.OrderType.Trigger = &triggerWire{IsMarket: true, Tpsl: "sl"}
	case exchange.TakeProfitTrigger:
		px = k.TriggerPrice
		wire.OrderType.Trigger = &triggerWire{IsMarket: true, Tpsl: "tp"}
	default:
		return orderWire{}, fmt.Errorf("unsupported order kind %T", req.Kind)
	}
	if px <= 0 {
		return orderWire{}, &exchange.RejectionError{Symbol: req.Symbol, Reason: "price must be positive"}
	}
	pxWire, err := floatToWire(px)
	if err != nil {
		return orderWire{}, err
	}
	wire.LimitPx = pxWire
	if wire.OrderType.Trigger != nil {
		wire.OrderType.Trigger.TriggerPx = pxWire
	}
	return wire, nil
}

// parseOrderStatus reads the single status of a one-order action.
func parseOrderStatus(symbol string, resp gjson.Result) (exchange.OrderResult, error) {
	status := resp.Get("data.statuses.0")
	if !status.Exists() {
		return exchange.OrderResult{}, fmt.Errorf("order response without status: %s", resp.Raw)
	}
	if msg := status.Get("error"); msg.Exists() {
		return exchange.OrderResult{}, &exchange.RejectionError{Symbol: symbol, Reason: msg.String()}
	}
	if resting := status.Get("resting"); resting.Exists() {
		return exchange.OrderResult{OrderID: resting.Get("oid").Int(), Resting: true}, nil
	}
	if filled := status.Get("filled"); filled.Exists() {
		return exchange.OrderResult{
			OrderID:    filled.Get("oid").Int(),
			FilledSize: filled.Get("totalSz").Float(),
			AvgPrice:   filled.Get("avgPx").Float(),
		}, nil
	}
	// Trigger orders acknowledge with a bare "waitingForTrigger" string.
	return exchange.OrderResult{Resting: true}, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	asset, _, err := c.assetIndex(ctx, symbol)
	if err != nil {
		return err
	}
	action := cancelAction{Type: "cancel", Cancels: []cancelWire{{Asset: asset, OrderID: orderID}}}
	resp, err := c.exchange(ctx, symbol, action)
	if err != nil {
		return err
	}
	if msg := resp.Get("data.statuses.0.error"); msg.Exists() {
		return &exchange.RejectionError{Symbol: symbol, Reason: msg.String()}
	}
	return nil
}

// CloseAtMarket sends a reduce-only IOC limit sized to the whole position and
// priced through the mid by marketSlippage.
func (c *Client) CloseAtMarket(ctx context.Context, symbol string) (exchange.CloseResult, error) {
	state, err := c.AccountState(ctx)
	if err != nil {
		return exchange.CloseResult{}, err
	}
	pos, ok := state.Position(symbol)
	if !ok {
		return exchange.CloseResult{}, exchange.ErrNoPosition
	}
	asset, table, err := c.assetIndex(ctx, symbol)
	if err != nil {
		return exchange.CloseResult{}, err
	}
	mid, err := c.midPrice(ctx, symbol)
	if err != nil {
		return exchange.CloseResult{}, err
	}
	isBuy := pos.Size < 0
	px := mid * (1 - marketSlippage)
	if isBuy {
		px = mid * (1 + marketSlippage)
	}
	px = table.RoundPrice(symbol, px)
	sizeWire, err := floatToWire(math.Abs(pos.Size))
	if err != nil {
		return exchange.CloseResult{}, err
	}
	pxWire, err := floatToWire(px)
	if err != nil {
		return exchange.CloseResult{}, err
	}
	wire := orderWire{
		Asset:      asset,
		IsBuy:      isBuy,
		LimitPx:    pxWire,
		Size:       sizeWire,
		ReduceOnly: true,
		OrderType:  orderTypeWire{Limit: &limitWire{Tif: tifIoc}},
		Cloid:      newCloid(),
	}
	resp, err := c.exchange(ctx, symbol, orderAction{Type: "order", Orders: []orderWire{wire}, Grouping: "na"})
	if err != nil {
		return exchange.CloseResult{}, err
	}
	res, err := parseOrderStatus(symbol, resp)
	if err != nil {
		return exchange.CloseResult{}, err
	}
	return exchange.CloseResult{OrderID: res.OrderID, Size: res.FilledSize, AvgPrice: res.AvgPrice}, nil
}
