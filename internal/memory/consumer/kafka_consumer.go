package consumer

import (
	"context"
	"encoding/json"
	"errors"

	"mnemograph/internal/database/kafka"
	"mnemograph/internal/memory/service"
	"mnemograph/internal/models"
	"mnemograph/pkg/logger"
)

// KafkaConsumer reads episodes from the ingestion topic and feeds them to
// the memory service. Offsets are committed only after a successful
// ingestion, so a crash mid-episode replays it; ingestion is idempotent,
// which makes the replay harmless.
type KafkaConsumer struct {
	kafkaClient *kafka.KafkaClient
	memory      service.Memory
	logger      *logger.Logger
}

// NewKafkaConsumer creates a new KafkaConsumer.
func NewKafkaConsumer(kafkaClient *kafka.KafkaClient, memory service.Memory, log *logger.Logger) *KafkaConsumer {
	return &KafkaConsumer{
		kafkaClient: kafkaClient,
		memory:      memory,
		logger:      log,
	}
}

// Start runs the consume loop in a goroutine until ctx is canceled.
func (c *KafkaConsumer) Start(ctx context.Context) {
	go func() {
		for {
			msg, err := c.kafkaClient.Reader.FetchMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
					c.logger.Info("kafka consumer stopped")
					return
				}
				c.logger.WithError(err).Error("failed to fetch message")
				continue
			}

			var episode models.Episode
			if err := json.Unmarshal(msg.Value, &episode); err != nil {
				// A malformed payload never becomes parseable; commit it
				// so it does not wedge the partition.
				c.logger.WithError(err).Error("failed to unmarshal episode, skipping message")
				if err := c.kafkaClient.Reader.CommitMessages(ctx, msg); err != nil {
					c.logger.WithError(err).Error("failed to commit skipped message")
				}
				continue
			}

			if err := c.memory.AddEpisode(ctx, &episode); err != nil {
				c.logger.WithError(err).WithField("episode_id", episode.EpisodeID).Error("failed to ingest episode")
				continue
			}

			if err := c.kafkaClient.Reader.CommitMessages(ctx, msg); err != nil {
				c.logger.WithError(err).Error("failed to commit message")
			}
		}
	}()
}
