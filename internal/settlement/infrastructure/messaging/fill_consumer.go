// 包 messaging 结算模块的 Kafka 消费实现
package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tradesim/fundaccounting/internal/settlement/application"
	"github.com/tradesim/fundaccounting/internal/settlement/domain"
	"github.com/tradesim/fundaccounting/pkg/logger"
	"github.com/tradesim/fundaccounting/pkg/mq"
)

// FillConsumer 成交事件消费者。
// 从撮合侧的成交 topic 拉取 Fill 事件驱动结算；
// 解码失败的消息记日志丢弃，结算失败的成交由结算层落 FAILED 留痕。
type FillConsumer struct {
	consumer   *mq.KafkaConsumer
	settlement *application.SettlementManager
}

// NewFillConsumer 创建成交消费者
func NewFillConsumer(consumer *mq.KafkaConsumer, settlement *application.SettlementManager) *FillConsumer {
	return &FillConsumer{
		consumer:   consumer,
		settlement: settlement,
	}
}

// Run 消费主循环，直至 context 取消
func (c *FillConsumer) Run(ctx context.Context) error {
	return c.consumer.Consume(ctx, c.handle)
}

// handle 处理单条成交消息
func (c *FillConsumer) handle(ctx context.Context, key, value []byte) error {
	var fill domain.Fill
	if err := json.Unmarshal(value, &fill); err != nil {
		logger.Error(ctx, "failed to decode fill message, dropping", "key", string(key), "error", err)
		return nil
	}

	if _, err := c.settlement.SettleFill(ctx, &fill); err != nil {
		return fmt.Errorf("settle fill %s: %w", fill.TradeID, err)
	}
	return nil
}
