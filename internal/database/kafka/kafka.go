package kafka

import (
	"fmt"
	"log"
	"sync"

	"github.com/segmentio/kafka-go"

	"mnemograph/internal/config"
)

var (
	client  *KafkaClient
	once    sync.Once
	initErr error
)

// KafkaClient holds the singleton reader for the episode ingestion topic.
type KafkaClient struct {
	Reader *kafka.Reader
	Config *config.KafkaConfig
}

// GetClient initializes and returns the singleton KafkaClient. On first use
// it connects to the cluster and creates the ingestion topic when missing.
func GetClient(cfg *config.KafkaConfig) (*KafkaClient, error) {
	once.Do(func() {
		if len(cfg.Brokers) == 0 {
			initErr = fmt.Errorf("no Kafka brokers configured")
			return
		}
		if cfg.Topic == "" {
			initErr = fmt.Errorf("no Kafka ingestion topic configured")
			return
		}

		conn, err := kafka.Dial("tcp", cfg.Brokers[0])
		if err != nil {
			initErr = fmt.Errorf("failed to dial Kafka: %w", err)
			return
		}
		defer conn.Close()

		partitions, err := conn.ReadPartitions()
		if err != nil {
			initErr = fmt.Errorf("failed to read Kafka partitions: %w", err)
			return
		}
		exists := false
		for _, p := range partitions {
			if p.Topic == cfg.Topic {
				exists = true
				break
			}
		}
		if !exists {
			log.Printf("topic '%s' does not exist, creating...", cfg.Topic)
			err = conn.CreateTopics(kafka.TopicConfig{
				Topic:             cfg.Topic,
				NumPartitions:     1,
				ReplicationFactor: 1,
			})
			if err != nil {
				initErr = fmt.Errorf("failed to create Kafka topic: %w", err)
				return
			}
		}

		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.Brokers,
			Topic:   cfg.Topic,
			GroupID: cfg.GroupID,
		})

		log.Println("✅ Connected to Kafka!")
		client = &KafkaClient{Reader: reader, Config: cfg}
	})
	return client, initErr
}

// Close shuts down the Kafka reader.
func Close() {
	if client != nil && client.Reader != nil {
		if err := client.Reader.Close(); err != nil {
			log.Printf("failed to close Kafka reader: %v", err)
		}
	}
}
