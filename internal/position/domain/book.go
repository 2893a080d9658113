package domain

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"
)

// 币种未知时的兜底
const defaultCurrency = "USD"

// Book 持仓簿。
// 持有当前与上一周期（日初）两套持仓快照；positions 由 Book 独占
// 持有与变更，读取方一律通过 GetPosition/GetAllPositions 拿拷贝，
// 避免并发重估周期中的撕裂读。
type Book struct {
	userID string

	mu       sync.Mutex
	current  map[string]*Position
	previous map[string]*Position

	prices  PriceSource
	pending PendingQuantitySource

	logger *slog.Logger
}

// NewBook 创建持仓簿。prices/pending 可为 nil（纯账务回放模式）。
func NewBook(userID string, prices PriceSource, pending PendingQuantitySource, logger *slog.Logger) *Book {
	return &Book{
		userID:   userID,
		current:  make(map[string]*Position),
		previous: make(map[string]*Position),
		prices:   prices,
		pending:  pending,
		logger:   logger.With("module", "position_book", "user_id", userID),
	}
}

// UserID 返回持仓簿所属用户
func (b *Book) UserID() string {
	return b.userID
}

// UpdatePosition 按一笔成交更新持仓，返回被平掉的数量（同方向加仓时为 0）。
// 同方向成交重算加权平均成本价（2 位小数）；反方向成交不动成本价，
// 平仓价差的已实现盈亏由结算层单点记账，避免重复计入。
func (b *Book) UpdatePosition(symbol string, tradeQuantity decimal.Decimal, currency string, tradePrice decimal.Decimal) (decimal.Decimal, error) {
	if tradeQuantity.IsZero() {
		return decimal.Zero, fmt.Errorf("trade quantity must be non-zero for %s", symbol)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.current[symbol]
	if !ok {
		pos = NewPosition(symbol, b.resolveCurrency(symbol, currency))
		b.current[symbol] = pos
	} else if pos.Currency == "" {
		pos.Currency = b.resolveCurrency(symbol, currency)
	}

	oldQuantity := pos.Quantity
	newQuantity := oldQuantity.Add(tradeQuantity)
	closed := decimal.Zero

	switch {
	case newQuantity.IsZero():
		// 打平：成本价与未实现盈亏归零
		closed = oldQuantity.Abs()
		pos.AvgPrice = decimal.Zero
	case tradeQuantity.Mul(oldQuantity).Sign() >= 0:
		// 同方向加仓（或空仓开仓）：重算加权平均成本
		pos.AvgPrice = oldQuantity.Mul(pos.AvgPrice).
			Add(tradeQuantity.Mul(tradePrice)).
			Div(newQuantity).
			Round(2)
	default:
		// 反方向成交：部分平仓或反手，成本价不变
		closed = decimal.Min(tradeQuantity.Abs(), oldQuantity.Abs())
	}

	pos.Quantity = newQuantity

	pos.TargetQuantity = newQuantity
	if b.pending != nil {
		pos.TargetQuantity = newQuantity.Add(b.pending.GetPendingQuantity(symbol))
	}

	pos.MarkPrice = tradePrice
	if b.prices != nil {
		if last, ok := b.prices.GetLastPrice(symbol); ok {
			pos.MarkPrice = last
		}
	}
	pos.recompute()

	return closed, nil
}

// AddRealizedPnL 将一笔平仓已实现盈亏累加进日内已实现。
// 持仓不存在说明上游数据不一致，按错误返回。
func (b *Book) AddRealizedPnL(symbol string, amount decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.current[symbol]
	if !ok {
		return fmt.Errorf("%w: cannot book realized pnl for %s", ErrPositionNotFound, symbol)
	}

	pos.ITDRealizedPnL = pos.ITDRealizedPnL.Add(amount)
	pos.recompute()
	return nil
}

// UpdatePortfolio 按一批行情对组合盯市重估，返回重估的持仓数。
// 无对应持仓的行情记日志后跳过；无行情的持仓保持不变。
func (b *Book) UpdatePortfolio(marketPrices map[string]decimal.Decimal) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	marked := 0
	for symbol, price := range marketPrices {
		pos, ok := b.current[symbol]
		if !ok {
			b.logger.Debug("price update for symbol with no open position, skipping", "symbol", symbol)
			continue
		}
		pos.MarkPrice = price
		pos.recompute()
		marked++
	}
	return marked
}

// SaveCurrentAsPrevious 将当前持仓集深拷贝为上一周期快照。
// 每个重估周期开始、任何变更之前调用一次。
func (b *Book) SaveCurrentAsPrevious() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.previous = make(map[string]*Position, len(b.current))
	for symbol, pos := range b.current {
		b.previous[symbol] = pos.Clone()
	}
}

// GetPosition 返回指定快照中某标的持仓的拷贝
func (b *Book) GetPosition(symbol string, current bool) (*Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	snapshot := b.current
	if !current {
		snapshot = b.previous
	}
	pos, ok := snapshot[symbol]
	if !ok {
		return nil, false
	}
	return pos.Clone(), true
}

// GetAllPositions 返回指定快照全部持仓的拷贝
func (b *Book) GetAllPositions(current bool) map[string]*Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	snapshot := b.current
	if !current {
		snapshot = b.previous
	}
	out := make(map[string]*Position, len(snapshot))
	for symbol, pos := range snapshot {
		out[symbol] = pos.Clone()
	}
	return out
}

// ComputePortfolioBalances 按币种汇总指定快照的盯市市值
func (b *Book) ComputePortfolioBalances(current bool) map[string]decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()

	snapshot := b.current
	if !current {
		snapshot = b.previous
	}
	balances := make(map[string]decimal.Decimal)
	for _, pos := range snapshot {
		balances[pos.Currency] = balances[pos.Currency].Add(pos.MTMValue)
	}
	return balances
}

// OpenPositionCount 当前非零持仓数量
func (b *Book) OpenPositionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, pos := range b.current {
		if !pos.IsFlat() {
			n++
		}
	}
	return n
}

// resolveCurrency 确定持仓币种：成交币种 → 行情源标的币种 → USD 兜底
func (b *Book) resolveCurrency(symbol, currency string) string {
	if currency != "" {
		return currency
	}
	if b.prices != nil {
		if ccy, ok := b.prices.GetSymbolCurrency(symbol); ok && ccy != "" {
			return ccy
		}
	}
	b.logger.Error("unknown currency for symbol, defaulting", "symbol", symbol, "default", defaultCurrency)
	return defaultCurrency
}
