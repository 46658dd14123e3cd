package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bazaarline/marketplace-backend/pkg/config"
	"github.com/bazaarline/marketplace-backend/pkg/db/models"
	"github.com/bazaarline/marketplace-backend/pkg/enums"
	"github.com/bazaarline/marketplace-backend/pkg/logger"
	"github.com/bazaarline/marketplace-backend/pkg/outbox"
	"github.com/bazaarline/marketplace-backend/pkg/outbox/payloads"
	"github.com/bazaarline/marketplace-backend/pkg/outbox/registry"
)

func TestServiceProcessBatchContinuesAfterFailure(t *testing.T) {
	repo := &fakeRepo{
		events: []models.OutboxEvent{
			newEvent(t, "ORD-1", 0),
			newEvent(t, "ORD-2", 0),
		},
	}
	snk := &fakeSink{errs: []error{errors.New("transient")}}
	service := newTestService(t, repo, snk, &fakeRegistry{topics: []string{"orders-topic"}}, &fakeDLQRepo{}, nil)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if len(repo.failed) != 1 || repo.failed[0] != repo.events[0].ID {
		t.Fatalf("unexpected failed rows %v", repo.failed)
	}
	if len(repo.published) != 1 || repo.published[0] != repo.events[1].ID {
		t.Fatalf("unexpected published rows %v", repo.published)
	}
}

func TestPublishFansOutToEveryTopicWithGroupKey(t *testing.T) {
	event := newEvent(t, "ORD-FAN", 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	snk := &fakeSink{}
	reg := &fakeRegistry{topics: []string{"orders-topic", "notification-topic", "analytics-topic"}}
	service := newTestService(t, repo, snk, reg, &fakeDLQRepo{}, nil)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if len(snk.sent) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(snk.sent))
	}
	for i, topic := range reg.topics {
		if snk.sent[i].topic != topic {
			t.Fatalf("delivery %d went to %q", i, snk.sent[i].topic)
		}
		if snk.sent[i].msg.Key != "ORD-FAN" {
			t.Fatalf("expected order code as key, got %q", snk.sent[i].msg.Key)
		}
		if snk.sent[i].msg.Attributes["event_type"] != string(enums.EventOrderPaid) {
			t.Fatalf("missing event_type attribute %+v", snk.sent[i].msg.Attributes)
		}
	}
	if len(repo.published) != 1 {
		t.Fatalf("expected published row recorded once, got %d", len(repo.published))
	}
}

func TestServiceProcessBatchWritesDLQOnResolveFailure(t *testing.T) {
	event := newEvent(t, "ORD-BAD", 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	dlqRepo := &fakeDLQRepo{}
	reg := &fakeRegistry{err: registry.NewNonRetryableError(errors.New("invalid payload"))}
	service := newTestService(t, repo, &fakeSink{}, reg, dlqRepo, nil)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if got := len(dlqRepo.entries); got != 1 {
		t.Fatalf("expected dlq entry, got %d", got)
	}
	entry := dlqRepo.entries[0]
	if entry.EventID != event.ID || !bytes.Equal(entry.Payload, event.Payload) {
		t.Fatalf("dlq entry mismatch %+v", entry)
	}
	if entry.ErrorReason != enums.OutboxDLQReasonNonRetryable {
		t.Fatalf("unexpected error reason: %s", entry.ErrorReason)
	}
	if len(repo.terminal) != 1 {
		t.Fatalf("expected row parked as terminal")
	}
}

func TestServiceProcessBatchWritesDLQOnUnroutable(t *testing.T) {
	repo := &fakeRepo{events: []models.OutboxEvent{newEvent(t, "ORD-U", 0)}}
	dlqRepo := &fakeDLQRepo{}
	snk := &fakeSink{errs: []error{registry.NewNonRetryableError(errors.New("no topic"))}}
	service := newTestService(t, repo, snk, &fakeRegistry{topics: []string{"x"}}, dlqRepo, nil)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if len(dlqRepo.entries) != 1 || dlqRepo.entries[0].ErrorReason != enums.OutboxDLQReasonUnroutable {
		t.Fatalf("expected unroutable dlq entry, got %+v", dlqRepo.entries)
	}
}

func TestServiceProcessBatchWritesDLQOnMaxAttempts(t *testing.T) {
	event := newEvent(t, "ORD-MAX", 1)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	dlqRepo := &fakeDLQRepo{}
	metrics := &fakeCounter{}
	snk := &fakeSink{errs: []error{errors.New("transient")}}
	service := newTestService(t, repo, snk, &fakeRegistry{topics: []string{"orders-topic"}}, dlqRepo, &config.OutboxConfig{
		BatchSize:      1,
		PollIntervalMS: 100,
		MaxAttempts:    2,
	})
	service.metrics = metrics

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if got := len(dlqRepo.entries); got != 1 {
		t.Fatalf("expected dlq entry, got %d", got)
	}
	if dlqRepo.entries[0].ErrorReason != enums.OutboxDLQReasonMaxAttempts {
		t.Fatalf("unexpected error reason: %s", dlqRepo.entries[0].ErrorReason)
	}
	if metrics.outcomes["dead_letter"] != 1 {
		t.Fatalf("expected dead_letter metric, got %v", metrics.outcomes)
	}
}

func TestEmptyBatchReportsIdle(t *testing.T) {
	service := newTestService(t, &fakeRepo{}, &fakeSink{}, &fakeRegistry{}, &fakeDLQRepo{}, nil)
	processed, err := service.processBatch(context.Background())
	if err != nil || processed {
		t.Fatalf("expected idle batch, got processed=%v err=%v", processed, err)
	}
}

func TestKafkaSinkClassifiesErrors(t *testing.T) {
	producer := &fakeProducer{}
	s := &kafkaSink{producer: producer}
	if err := s.Publish(context.Background(), "orders", outboundMessage{Key: "ORD-1", Data: []byte(`{}`)}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if producer.topic != "orders" || producer.key != "ORD-1" {
		t.Fatalf("unexpected producer call %+v", producer)
	}
}

func TestPubSubSinkRejectsMissingPublisher(t *testing.T) {
	s := newPubSubSink(nil, func(string) publisher { return nil })
	err := s.Publish(context.Background(), "orders", outboundMessage{})
	var nonRetry registry.NonRetryableError
	if !errors.As(err, &nonRetry) {
		t.Fatalf("expected non-retryable error, got %v", err)
	}
}

func TestPubSubSinkWaitsForResult(t *testing.T) {
	pub := &fakePublisher{result: fakePublishResult{err: errors.New("deadline")}}
	s := newPubSubSink(nil, func(string) publisher { return pub })
	if err := s.Publish(context.Background(), "orders", outboundMessage{Data: []byte("x")}); err == nil {
		t.Fatal("expected publish result error")
	}
	if pub.last == nil || string(pub.last.Data) != "x" {
		t.Fatalf("unexpected message %+v", pub.last)
	}
}

func TestNextBackoffCaps(t *testing.T) {
	if got := nextBackoff(0, time.Second, 10*time.Second); got != 2*time.Second {
		t.Fatalf("unexpected backoff %v", got)
	}
	if got := nextBackoff(8*time.Second, time.Second, 10*time.Second); got != 10*time.Second {
		t.Fatalf("expected cap, got %v", got)
	}
}

func newTestService(t *testing.T, repo outboxRepository, snk sink, reg registryResolver, dlq dlqRepository, outboxCfgOverride *config.OutboxConfig) *Service {
	t.Helper()
	outboxCfg := config.OutboxConfig{
		BatchSize:      2,
		PollIntervalMS: 100,
		MaxAttempts:    5,
	}
	if outboxCfgOverride != nil {
		outboxCfg = *outboxCfgOverride
	}
	service, err := NewService(ServiceParams{
		Config:        &config.Config{Outbox: outboxCfg},
		Logger:        logger.Nop(),
		DB:            &fakeDB{},
		Sink:          snk,
		Repository:    repo,
		Registry:      reg,
		DLQRepository: dlq,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func newEvent(tb testing.TB, code string, attempts int) models.OutboxEvent {
	tb.Helper()
	env := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OrderCode:  code,
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{"code":"` + code + `"}`),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrderGroup,
		AggregateID:   outbox.GroupAggregateID(code),
		OrderCode:     code,
		Payload:       payload,
		AttemptCount:  attempts,
	}
}

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
}

func (f *fakeRepo) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDB struct{}

func (f *fakeDB) Ping(context.Context) error {
	return nil
}

func (f *fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}

type sentMessage struct {
	topic string
	msg   outboundMessage
}

type fakeSink struct {
	errs []error
	sent []sentMessage
}

func (f *fakeSink) Name() string { return "fake" }

func (f *fakeSink) Ping(context.Context) error { return nil }

func (f *fakeSink) Publish(_ context.Context, topic string, msg outboundMessage) error {
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}
	f.sent = append(f.sent, sentMessage{topic: topic, msg: msg})
	return nil
}

type fakeRegistry struct {
	topics []string
	err    error
}

func (f *fakeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	var envelope outbox.PayloadEnvelope
	_ = json.Unmarshal(event.Payload, &envelope)
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			EventType:     event.EventType,
			AggregateType: event.AggregateType,
			Topics:        f.topics,
		},
		Envelope: envelope,
		Payload:  &payloads.OrderPaidEvent{Code: event.OrderCode},
	}, nil
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQRepo) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}

type fakeCounter struct {
	outcomes map[string]int
}

func (f *fakeCounter) IncOutcome(outcome string) {
	if f.outcomes == nil {
		f.outcomes = map[string]int{}
	}
	f.outcomes[outcome]++
}

type fakeProducer struct {
	topic string
	key   string
}

func (f *fakeProducer) Ping(context.Context) error { return nil }

func (f *fakeProducer) Publish(_ context.Context, topic string, key, _ []byte, _ map[string]string) error {
	f.topic = topic
	f.key = string(key)
	return nil
}

type fakePublisher struct {
	result publishResult
	last   *gcppubsub.Message
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.last = msg
	return f.result
}

type fakePublishResult struct {
	err error
}

func (f fakePublishResult) Get(context.Context) (string, error) {
	return "", f.err
}
