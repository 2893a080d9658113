package domain

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CashFlowRecord 现金流记录
// 每一次账户间转账的不可变审计留痕；只追加，不修改不删除。
// FromFX/ToFX 为记录时刻各腿货币对基础币种的单位汇率，
// 同币种腿同样留痕（恒为 1），保证双腿基础币种等值可核对。
type CashFlowRecord struct {
	gorm.Model
	// 转账 ID (业务主键)
	TransferID string `gorm:"column:transfer_id;type:varchar(32);uniqueIndex;not null" json:"transfer_id"`
	// 用户 ID
	UserID string `gorm:"column:user_id;type:varchar(32);index;not null" json:"user_id"`
	// 转出账户桶
	FromAccount AccountType `gorm:"column:from_account;type:varchar(16);not null" json:"from_account"`
	// 转出币种
	FromCurrency string `gorm:"column:from_currency;type:varchar(10);not null" json:"from_currency"`
	// 转出腿对基础币种汇率
	FromFX decimal.Decimal `gorm:"column:from_fx;type:decimal(32,8);not null" json:"from_fx"`
	// 转出金额
	FromAmount decimal.Decimal `gorm:"column:from_amount;type:decimal(32,8);not null" json:"from_amount"`
	// 转入账户桶
	ToAccount AccountType `gorm:"column:to_account;type:varchar(16);not null" json:"to_account"`
	// 转入币种
	ToCurrency string `gorm:"column:to_currency;type:varchar(10);not null" json:"to_currency"`
	// 转入腿对基础币种汇率
	ToFX decimal.Decimal `gorm:"column:to_fx;type:decimal(32,8);not null" json:"to_fx"`
	// 转入金额
	ToAmount decimal.Decimal `gorm:"column:to_amount;type:decimal(32,8);not null" json:"to_amount"`
	// 是否为外部流入（出入金方向标记）
	IsInflow bool `gorm:"column:is_inflow;not null" json:"is_inflow"`
	// 成交 ID（结算触发时留痕）
	TradeID string `gorm:"column:trade_id;type:varchar(32);index" json:"trade_id,omitempty"`
	// 标的（结算触发时留痕）
	Instrument string `gorm:"column:instrument;type:varchar(20);index" json:"instrument,omitempty"`
	// 描述
	Description string `gorm:"column:description;type:varchar(255)" json:"description"`
	// 记录时间戳（来自时间来源，非挂钟）
	Timestamp time.Time `gorm:"column:timestamp;index;not null" json:"timestamp"`
}

// TableName 指定表名
func (CashFlowRecord) TableName() string {
	return "fund_cash_flows"
}

// Recorder 现金流记录器能力接口
type Recorder interface {
	// RecordTransfer 追加一条转账记录
	RecordTransfer(ctx context.Context, record *CashFlowRecord) error
}

// CashFlowRepository 现金流仓储接口
type CashFlowRepository interface {
	// Append 追加记录
	Append(ctx context.Context, record *CashFlowRecord) error
	// GetByUser 获取用户现金流分页列表
	GetByUser(ctx context.Context, userID string, limit, offset int) ([]*CashFlowRecord, int64, error)
	// GetSince 获取某时刻之后的用户现金流
	GetSince(ctx context.Context, userID string, since time.Time) ([]*CashFlowRecord, error)
}

// MemoryRecorder 内存现金流记录器，同时充当收益引擎的周期现金流输入。
type MemoryRecorder struct {
	mu      sync.Mutex
	records []*CashFlowRecord
	// 当前收益计算周期内的外部现金流（INVESTOR 桶出入金按币种净额），
	// 周期开始时清零
	cycleFlows map[string]decimal.Decimal
	next       Recorder
	publisher  EventPublisher
}

// NewMemoryRecorder 创建内存记录器。next 可选，用于链式落库。
func NewMemoryRecorder(next Recorder) *MemoryRecorder {
	return &MemoryRecorder{
		cycleFlows: make(map[string]decimal.Decimal),
		next:       next,
	}
}

// SetPublisher 注入事件发布器（启动期装配用）
func (r *MemoryRecorder) SetPublisher(publisher EventPublisher) {
	r.publisher = publisher
}

// RecordTransfer 实现 Recorder。
// 只有 INVESTOR 桶参与的出入金才是账簿的外部现金流；
// 补款划转与结算调账是内部腿，不改变组合的外部资金口径。
func (r *MemoryRecorder) RecordTransfer(ctx context.Context, record *CashFlowRecord) error {
	r.mu.Lock()
	r.records = append(r.records, record)
	if record.FromAccount == AccountTypeInvestor || record.ToAccount == AccountTypeInvestor {
		delta := record.ToAmount
		if !record.IsInflow {
			delta = delta.Neg()
		}
		r.cycleFlows[record.ToCurrency] = r.cycleFlows[record.ToCurrency].Add(delta)
	}
	r.mu.Unlock()

	if r.next != nil {
		if err := r.next.RecordTransfer(ctx, record); err != nil {
			return err
		}
	}

	if r.publisher != nil {
		r.publisher.PublishTransferRecorded(TransferRecordedEvent{
			BaseEvent:  BaseEvent{Timestamp: record.Timestamp},
			UserID:     record.UserID,
			TransferID: record.TransferID,
			FromAmount: record.FromAmount,
			ToAmount:   record.ToAmount,
		})
	}
	return nil
}

// Records 返回全部记录的拷贝
func (r *MemoryRecorder) Records() []*CashFlowRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*CashFlowRecord, len(r.records))
	for i, rec := range r.records {
		cp := *rec
		out[i] = &cp
	}
	return out
}

// CycleFlows 返回当前周期的外部现金流快照（按币种）
func (r *MemoryRecorder) CycleFlows() map[string]decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(r.cycleFlows))
	for ccy, amt := range r.cycleFlows {
		out[ccy] = amt
	}
	return out
}

// ResetCycle 清零当前周期现金流（新周期开始的信号）
func (r *MemoryRecorder) ResetCycle() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycleFlows = make(map[string]decimal.Decimal)
}
