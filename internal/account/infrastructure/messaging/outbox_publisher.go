// 包 messaging 账务事件的 Outbox 发布实现
package messaging

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/tradesim/fundaccounting/internal/account/domain"
	"github.com/tradesim/fundaccounting/pkg/logger"
	"github.com/tradesim/fundaccounting/pkg/mq"
	"github.com/tradesim/fundaccounting/pkg/utils"
)

const (
	statusPending = "pending"
	statusSent    = "sent"
)

// OutboxMessage 事件发件箱记录
// 与业务变更同库落地，由中继协程异步投递到 Kafka。
type OutboxMessage struct {
	ID        int64     `gorm:"primaryKey;autoIncrement:false"`
	EventID   string    `gorm:"type:varchar(32);index"`
	EventType string    `gorm:"type:varchar(64);index"`
	UserID    string    `gorm:"type:varchar(32);index"`
	Payload   string    `gorm:"type:text"`
	Status    string    `gorm:"type:varchar(20);index;default:'pending'"`
	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}

// TableName 指定表名
func (OutboxMessage) TableName() string {
	return "fund_account_outbox"
}

// OutboxEventPublisher 实现 domain.EventPublisher，使用 Outbox 模式
type OutboxEventPublisher struct {
	db    *gorm.DB
	idgen *utils.SnowflakeID
}

// NewOutboxEventPublisher 创建 Outbox 事件发布器
func NewOutboxEventPublisher(db *gorm.DB, idgen *utils.SnowflakeID) *OutboxEventPublisher {
	return &OutboxEventPublisher{db: db, idgen: idgen}
}

// PublishBalanceChanged 发布余额变更事件
func (p *OutboxEventPublisher) PublishBalanceChanged(event domain.BalanceChangedEvent) {
	p.publishEvent(event.EventType(), event.UserID, event)
}

// PublishTransferRecorded 发布转账留痕事件
func (p *OutboxEventPublisher) PublishTransferRecorded(event domain.TransferRecordedEvent) {
	p.publishEvent(event.EventType(), event.UserID, event)
}

// PublishBalanceReplenished 发布补款事件
func (p *OutboxEventPublisher) PublishBalanceReplenished(event domain.BalanceReplenishedEvent) {
	p.publishEvent(event.EventType(), event.UserID, event)
}

// publishEvent 通用事件发布方法。
// 发布失败只记日志不向上抛：事件丢失可由对账补偿，不应阻断结算主链路。
func (p *OutboxEventPublisher) publishEvent(eventType, userID string, event interface{}) {
	payload, err := json.Marshal(event)
	if err != nil {
		logger.Error(context.Background(), "failed to marshal account event", "event_type", eventType, "error", err)
		return
	}

	message := OutboxMessage{
		ID:        p.idgen.Generate(),
		EventID:   p.idgen.GenerateString("EVT"),
		EventType: eventType,
		UserID:    userID,
		Payload:   string(payload),
		Status:    statusPending,
	}
	if err := p.db.Create(&message).Error; err != nil {
		logger.Error(context.Background(), "failed to enqueue outbox message", "event_type", eventType, "error", err)
	}
}

// OutboxRelay 发件箱中继：轮询 pending 消息投递到 Kafka
type OutboxRelay struct {
	db       *gorm.DB
	producer *mq.KafkaProducer
	topic    string
	interval time.Duration
	batch    int
}

// NewOutboxRelay 创建中继
func NewOutboxRelay(db *gorm.DB, producer *mq.KafkaProducer, topic string, interval time.Duration, batch int) *OutboxRelay {
	return &OutboxRelay{db: db, producer: producer, topic: topic, interval: interval, batch: batch}
}

// Run 中继主循环，直至 context 取消
func (r *OutboxRelay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.relayBatch(ctx); err != nil {
				logger.Error(ctx, "outbox relay batch failed", "error", err)
			}
		}
	}
}

// relayBatch 投递一批 pending 消息
func (r *OutboxRelay) relayBatch(ctx context.Context) error {
	var messages []OutboxMessage
	if err := r.db.WithContext(ctx).
		Where("status = ?", statusPending).
		Order("created_at ASC").
		Limit(r.batch).
		Find(&messages).Error; err != nil {
		return err
	}

	for _, message := range messages {
		payload := json.RawMessage(message.Payload)
		if err := utils.Retry(ctx, 3, 100*time.Millisecond, func() error {
			return r.producer.SendMessage(ctx, r.topic, message.UserID, payload)
		}); err != nil {
			// 重试尽数失败保持 pending，下一轮重投
			return err
		}
		if err := r.db.WithContext(ctx).Model(&OutboxMessage{}).
			Where("id = ?", message.ID).
			Update("status", statusSent).Error; err != nil {
			return err
		}
	}
	return nil
}

// CleanupProcessedMessages 清理已投递的历史消息
func (r *OutboxRelay) CleanupProcessedMessages(ctx context.Context, before time.Time) error {
	return r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", statusSent, before).
		Delete(&OutboxMessage{}).Error
}
