package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountEvent 账务领域事件接口
type AccountEvent interface {
	EventType() string
	OccurredAt() time.Time
}

type BaseEvent struct {
	Timestamp time.Time
}

func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// BalanceChangedEvent 余额变更事件
type BalanceChangedEvent struct {
	BaseEvent
	UserID      string
	AccountType AccountType
	Currency    string
	Delta       decimal.Decimal
	Balance     decimal.Decimal
}

func (e BalanceChangedEvent) EventType() string { return "BalanceChanged" }

// TransferRecordedEvent 转账留痕事件
type TransferRecordedEvent struct {
	BaseEvent
	UserID     string
	TransferID string
	FromAmount decimal.Decimal
	ToAmount   decimal.Decimal
}

func (e TransferRecordedEvent) EventType() string { return "TransferRecorded" }

// BalanceReplenishedEvent 补款事件
type BalanceReplenishedEvent struct {
	BaseEvent
	UserID      string
	AccountType AccountType
	Currency    string
	Amount      decimal.Decimal
}

func (e BalanceReplenishedEvent) EventType() string { return "BalanceReplenished" }

// EventPublisher 账务事件发布接口
type EventPublisher interface {
	PublishBalanceChanged(event BalanceChangedEvent)
	PublishTransferRecorded(event TransferRecordedEvent)
	PublishBalanceReplenished(event BalanceReplenishedEvent)
}
