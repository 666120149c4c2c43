package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
	"github.com/vladislavdragonenkov/orderengine/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orderengine/internal/service/outbox"
)

// initKafkaProducer создаёт producer, если заданы brokers.
// Пустой список даёт nil, nil: сервис работает без Kafka.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// closeKafkaProducer закрывает producer, если он создан.
func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

// newOutboxPublishers возвращает publisher событий и DLQ.
// Без producer события пишутся в лог, а DLQ отключена.
func newOutboxPublishers(producer *kafka.Producer, cfg Config, logger *log.Entry) (domain.OutboxPublisher, domain.OutboxPublisher) {
	if producer == nil {
		return outbox.NewLogPublisher(logger.WithField("layer", "outbox")), nil
	}

	eventsTopic := cfg.KafkaOrderTopic
	if eventsTopic == "" {
		eventsTopic = kafka.TopicOrderEvents
	}
	dlqTopic := cfg.KafkaDLQTopic
	if dlqTopic == "" {
		dlqTopic = kafka.TopicDeadLetterQueue
	}

	logger.WithFields(log.Fields{
		"events_topic": eventsTopic,
		"dlq_topic":    dlqTopic,
	}).Info("outbox relay publishes to kafka")
	return kafka.NewOutboxPublisher(producer, eventsTopic), kafka.NewOutboxPublisher(producer, dlqTopic)
}
