package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/bazaarline/marketplace-backend/pkg/config"
	"github.com/bazaarline/marketplace-backend/pkg/logger"
)

const dialTimeout = 5 * time.Second

var errNoBrokers = errors.New("kafka brokers are required")

// messageWriter is the subset of *kafka.Writer the producer needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes keyed messages synchronously so callers learn whether the
// broker acknowledged them. Topics are prefixed per environment.
type Producer struct {
	brokers []string
	prefix  string
	writer  messageWriter
	logg    *logger.Logger

	closeOnce sync.Once
}

func NewProducer(cfg config.KafkaConfig, logg *logger.Logger) (*Producer, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	if len(brokers) == 0 {
		return nil, errNoBrokers
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: false,
		BatchTimeout:           10 * time.Millisecond,
	}
	return newProducer(brokers, cfg.TopicPrefix, w, logg), nil
}

func newProducer(brokers []string, prefix string, w messageWriter, logg *logger.Logger) *Producer {
	return &Producer{brokers: brokers, prefix: prefix, writer: w, logg: logg}
}

// Topic maps a logical topic name onto the prefixed Kafka topic.
func (p *Producer) Topic(name string) string {
	return p.prefix + strings.TrimSpace(name)
}

// Publish writes one message. The key keeps every event of an order group on
// the same partition so consumers see them in order.
func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	if strings.TrimSpace(topic) == "" {
		return errors.New("kafka topic is required")
	}
	msg := kafka.Message{
		Topic: p.Topic(topic),
		Key:   key,
		Value: value,
		Time:  time.Now().UTC(),
	}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s: %w", msg.Topic, err)
	}
	return nil
}

// Ping dials the first reachable broker.
func (p *Producer) Ping(ctx context.Context) error {
	dialer := &net.Dialer{Timeout: dialTimeout}
	var lastErr error
	for _, broker := range p.brokers {
		conn, err := dialer.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		_ = conn.Close()
		return nil
	}
	return fmt.Errorf("no kafka broker reachable: %w", lastErr)
}

func (p *Producer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.writer.Close()
		if p.logg != nil {
			p.logg.Info(context.Background(), "kafka producer closed")
		}
	})
	return err
}

// IsRetryable reports whether kafka-go marks the failure as temporary.
func IsRetryable(err error) bool {
	var kerr kafka.Error
	if errors.As(err, &kerr) {
		return kerr.Temporary()
	}
	var werr kafka.WriteErrors
	if errors.As(err, &werr) {
		for _, e := range werr {
			if e != nil && !IsRetryable(e) {
				return false
			}
		}
		return true
	}
	return true
}
