package hyperliquid

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"hlfleet/internal/gateway/exchange"
	"hlfleet/internal/precision"

	"github.com/tidwall/gjson"
)

// InstrumentMetadata loads the perp universe and caches asset indexes and size
// decimals for order submission.
func (c *Client) InstrumentMetadata(ctx context.Context) (map[string]int, error) {
	res, err := c.info(ctx, map[string]any{"type": "meta"})
	if err != nil {
		return nil, fmt.Errorf("fetch meta: %w", err)
	}
	universe := res.Get("universe")
	if !universe.IsArray() {
		return nil, fmt.Errorf("fetch meta: universe missing from response")
	}
	assets := make(map[string]int)
	decimals := make(map[string]int)
	universe.ForEach(func(idx, item gjson.Result) bool {
		name := item.Get("name").String()
		if name == "" {
			return true
		}
		assets[name] = int(idx.Int())
		decimals[name] = int(item.Get("szDecimals").Int())
		return true
	})
	c.mu.Lock()
	c.assets = assets
	c.decimals = decimals
	c.table = precision.NewTable(decimals)
	c.mu.Unlock()

	out := make(map[string]int, len(decimals))
	for k, v := range decimals {
		out[k] = v
	}
	return out, nil
}

func (c *Client) assetIndex(ctx context.Context, coin string) (int, *precision.Table, error) {
	c.mu.Lock()
	loaded := c.assets != nil
	c.mu.Unlock()
	if !loaded {
		if _, err := c.InstrumentMetadata(ctx); err != nil {
			return 0, nil, err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.assets[coin]
	if !ok {
		return 0, nil, &exchange.RejectionError{Symbol: coin, Reason: "unknown asset"}
	}
	return idx, c.table, nil
}

func (c *Client) AccountState(ctx context.Context) (exchange.AccountState, error) {
	res, err := c.info(ctx, map[string]any{"type": "clearinghouseState", "user": c.user.Hex()})
	if err != nil {
		return exchange.AccountState{}, fmt.Errorf("fetch account state: %w", err)
	}
	summary := res.Get("marginSummary")
	if !summary.Exists() {
		return exchange.AccountState{}, fmt.Errorf("fetch account state: marginSummary missing")
	}
	state := exchange.AccountState{
		Equity:     summary.Get("accountValue").Float(),
		MarginUsed: summary.Get("totalMarginUsed").Float(),
	}
	res.Get("assetPositions").ForEach(func(_, item gjson.Result) bool {
		pos := item.Get("position")
		state.Positions = append(state.Positions, exchange.Position{
			Symbol:        pos.Get("coin").String(),
			Size:          pos.Get("szi").Float(),
			EntryPrice:    pos.Get("entryPx").Float(),
			UnrealizedPnL: pos.Get("unrealizedPnl").Float(),
		})
		return true
	})
	return state, nil
}

func (c *Client) OpenOrders(ctx context.Context) ([]exchange.OpenOrder, error) {
	res, err := c.info(ctx, map[string]any{"type": "frontendOpenOrders", "user": c.user.Hex()})
	if err != nil {
		return nil, fmt.Errorf("fetch open orders: %w", err)
	}
	var out []exchange.OpenOrder
	res.ForEach(func(_, item gjson.Result) bool {
		out = append(out, exchange.OpenOrder{
			OrderID:    item.Get("oid").Int(),
			Symbol:     item.Get("coin").String(),
			IsBuy:      strings.EqualFold(item.Get("side").String(), "B"),
			Size:       item.Get("sz").Float(),
			LimitPrice: item.Get("limitPx").Float(),
			ReduceOnly: item.Get("reduceOnly").Bool(),
			IsTrigger:  item.Get("isTrigger").Bool(),
			OrderType:  item.Get("orderType").String(),
			Timestamp:  time.UnixMilli(item.Get("timestamp").Int()).UTC(),
		})
		return true
	})
	return out, nil
}

// Fills returns recent fills sorted oldest first.
func (c *Client) Fills(ctx context.Context) ([]exchange.Fill, error) {
	res, err := c.info(ctx, map[string]any{"type": "userFills", "user": c.user.Hex()})
	if err != nil {
		return nil, fmt.Errorf("fetch fills: %w", err)
	}
	var out []exchange.Fill
	res.ForEach(func(_, item gjson.Result) bool {
		out = append(out, exchange.Fill{
			OrderID:   item.Get("oid").Int(),
			Symbol:    item.Get("coin").String(),
			Price:     item.Get("px").Float(),
			Size:      item.Get("sz").Float(),
			Time:      time.UnixMilli(item.Get("time").Int()).UTC(),
			Dir:       item.Get("dir").String(),
			ClosedPnL: item.Get("closedPnl").Float(),
		})
		return true
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

func (c *Client) midPrice(ctx context.Context, coin string) (float64, error) {
	res, err := c.info(ctx, map[string]any{"type": "allMids"})
	if err != nil {
		return 0, fmt.Errorf("fetch mids: %w", err)
	}
	mid := res.Get(gjson.Escape(coin))
	if !mid.Exists() {
		return 0, fmt.Errorf("no mid price for %s", coin)
	}
	return mid.Float(), nil
}
