package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"scope-collector/internal/config"
	"scope-collector/pkg/protocol"
)

type MessageQueue struct {
	client  *redis.Client
	channel string
	history int64
	log     *logrus.Logger
}

// channelMessage 单通道消息
type channelMessage struct {
	RunID    string    `json:"run_id"`
	RunIndex int       `json:"run_index"`
	Channel  int       `json:"channel"`
	Label    string    `json:"label"`
	Time     []float64 `json:"time"`
	Voltages []float64 `json:"voltages"`
}

func NewMessageQueue(ctx context.Context, cfg config.RedisConfig, log *logrus.Logger) (*MessageQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	// 测试连接
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接Redis失败: %w", err)
	}

	log.Info("Redis连接成功")

	history := cfg.HistoryLimit
	if history <= 0 {
		history = 100
	}

	return &MessageQueue{
		client:  client,
		channel: cfg.Channel,
		history: history,
		log:     log,
	}, nil
}

// HistoryKey 返回保存某台仪器历史数据集的 List 键
func HistoryKey(instrument string) string {
	return fmt.Sprintf("waveform:%s:runs", instrument)
}

// ChannelTopic 返回单通道消息的频道名
func (mq *MessageQueue) ChannelTopic(ch int) string {
	return fmt.Sprintf("%s:ch%d", mq.channel, ch)
}

// Publish 发布数据集到Redis
func (mq *MessageQueue) Publish(ctx context.Context, ds *protocol.Dataset) error {
	jsonData, err := json.Marshal(ds)
	if err != nil {
		return fmt.Errorf("序列化数据失败: %w", err)
	}

	// 发布到Redis Pub/Sub
	if err := mq.client.Publish(ctx, mq.channel, jsonData).Err(); err != nil {
		return fmt.Errorf("发布消息失败: %w", err)
	}

	// 同时保存到Redis List（作为持久化备份）
	listKey := HistoryKey(ds.Instrument)
	if err := mq.client.LPush(ctx, listKey, jsonData).Err(); err != nil {
		mq.log.Warnf("保存到List失败: %v", err)
		return nil
	}

	// 限制List长度
	if err := mq.client.LTrim(ctx, listKey, 0, mq.history-1).Err(); err != nil {
		mq.log.Warnf("裁剪List失败: %v", err)
	}

	return nil
}

// PublishChannels 每个成功通道单独发布一条消息
func (mq *MessageQueue) PublishChannels(ctx context.Context, ds *protocol.Dataset) error {
	pipe := mq.client.Pipeline()

	for _, ch := range ds.Channels {
		jsonData, err := json.Marshal(channelMessage{
			RunID:    ds.RunID.String(),
			RunIndex: ds.RunIndex,
			Channel:  ch.Channel,
			Label:    ch.Label,
			Time:     ds.Time,
			Voltages: ch.Voltages,
		})
		if err != nil {
			mq.log.Errorf("序列化通道 %d 失败: %v", ch.Channel, err)
			continue
		}

		pipe.Publish(ctx, mq.ChannelTopic(ch.Channel), jsonData)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// Close 关闭连接
func (mq *MessageQueue) Close() error {
	return mq.client.Close()
}
