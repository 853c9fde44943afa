package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/berfenger/surplus2evse/internal/core/domain"
	"github.com/berfenger/surplus2evse/internal/core/events"
	"github.com/berfenger/surplus2evse/internal/core/port"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	kafkaQueueSize    = 64
	kafkaWriteTimeout = 10 * time.Second
)

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
}

// KafkaPublisher sends one JSON document per cycle, keyed by outcome.
// Publish never blocks the control loop: documents are queued and written
// by a background goroutine, and dropped when the queue is full.
type KafkaPublisher struct {
	writer  MessageWriter
	queue   chan kafka.Message
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
	logger  *zap.Logger
}

var _ port.TelemetrySink = (*KafkaPublisher)(nil)

func NewKafkaPublisher(writer MessageWriter, logger *zap.Logger) *KafkaPublisher {
	p := &KafkaPublisher{
		writer: writer,
		queue:  make(chan kafka.Message, kafkaQueueSize),
		done:   make(chan struct{}),
		logger: logger.With(zap.String("component", "kafka")),
	}
	go p.run()
	return p
}

func (p *KafkaPublisher) Publish(report domain.CycleReport) {
	value, err := json.Marshal(events.NewCycleReportDocument(report))
	if err != nil {
		p.logger.Error("kafka: could not encode cycle report", zap.Error(err))
		return
	}
	msg := kafka.Message{
		Key:   []byte(report.Outcome),
		Value: value,
		Time:  report.Timestamp,
	}
	select {
	case p.queue <- msg:
	default:
		n := p.dropped.Add(1)
		p.logger.Warn("kafka: queue full, cycle report dropped", zap.Int64("dropped", n))
	}
}

// Dropped returns how many reports were discarded on a full queue.
func (p *KafkaPublisher) Dropped() int64 {
	return p.dropped.Load()
}

// Close flushes queued reports and closes the writer.
func (p *KafkaPublisher) Close() error {
	p.once.Do(func() {
		close(p.queue)
	})
	<-p.done
	return p.writer.Close()
}

func (p *KafkaPublisher) run() {
	defer close(p.done)
	for msg := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), kafkaWriteTimeout)
		err := p.writer.WriteMessages(ctx, msg)
		cancel()
		if err != nil {
			p.logger.Warn("kafka: write failed", zap.String("key", string(msg.Key)), zap.Error(err))
			continue
		}
		p.logger.Debug("kafka: cycle report sent", zap.String("key", string(msg.Key)))
	}
}
