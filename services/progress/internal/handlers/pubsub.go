package handlers

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/example/chess-academy/internal/progress"
)

// SubjectBatch carries accepted batches to the write worker.
const SubjectBatch = "progress.batch"

var ErrAsyncPublishDisabled = errors.New("async publish is disabled")

// BatchEvent is the JetStream payload for an accepted batch.
type BatchEvent struct {
	EventID   string                `json:"event_id"`
	Records   []progress.WireRecord `json:"records"`
	CreatedAt time.Time             `json:"created_at"`
}

// SyncPublisher is the part of nats.JetStreamContext the publisher needs.
type SyncPublisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

type EventPublisher struct {
	js          SyncPublisher
	asyncWrites bool
}

// NewEventPublisher returns a publisher; asyncWrites comes from PROGRESS_ASYNC_WRITES.
func NewEventPublisher(js SyncPublisher, asyncWrites bool) *EventPublisher {
	return &EventPublisher{js: js, asyncWrites: asyncWrites}
}

func (p *EventPublisher) Enabled() bool {
	return p != nil && p.js != nil && p.asyncWrites
}

// PublishBatch publishes records and returns the event id, which is also
// set as the JetStream message id.
func (p *EventPublisher) PublishBatch(records []progress.WireRecord) (string, error) {
	if !p.Enabled() {
		return "", ErrAsyncPublishDisabled
	}

	ev := BatchEvent{EventID: uuid.NewString(), Records: records, CreatedAt: time.Now().UTC()}
	body, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}
	if _, err := p.js.Publish(SubjectBatch, body, nats.MsgId(ev.EventID)); err != nil {
		return "", err
	}
	return ev.EventID, nil
}
