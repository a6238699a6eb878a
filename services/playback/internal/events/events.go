// Package events translates media player events into progress deltas and
// carries them over NATS for players that do not talk HTTP.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/chess-academy/internal/progress"
)

const (
	TypeTimeUpdate = "timeupdate"
	TypePause      = "pause"
	TypeEnded      = "ended"
	TypeMetadata   = "metadata"

	// SubjectEventsPrefix is followed by the learner id.
	SubjectEventsPrefix = "playback.events."
	// SubjectSeekPrefix is followed by the learner id.
	SubjectSeekPrefix = "playback.seek."
	QueueGroup        = "playback-gateway"
)

var ErrUnknownType = errors.New("events: unknown player event type")

// PlayerEvent is one notification from the media widget.
type PlayerEvent struct {
	Type        string  `json:"type"`
	ItemID      string  `json:"item_id"`
	CurrentTime float64 `json:"current_time"`
	Duration    float64 `json:"duration"`
}

// Outcome is what an event did to the record, plus the resume seek for metadata events.
type Outcome struct {
	Record progress.Record
	Seek   *progress.SeekCommand
}

// Dispatch applies ev to pb.
func Dispatch(ctx context.Context, pb *progress.Playback, ev PlayerEvent) (Outcome, error) {
	var (
		out Outcome
		err error
	)
	switch strings.ToLower(strings.TrimSpace(ev.Type)) {
	case TypeTimeUpdate:
		out.Record, err = pb.OnTimeUpdate(ev.ItemID, ev.CurrentTime)
	case TypePause:
		out.Record, err = pb.OnPause(ev.ItemID, ev.CurrentTime)
	case TypeEnded:
		out.Record, err = pb.OnEnded(ev.ItemID, ev.CurrentTime)
	case TypeMetadata:
		var cmd progress.SeekCommand
		var ok bool
		cmd, ok, err = pb.OnMetadataReady(ctx, ev.ItemID, ev.Duration)
		if err == nil {
			if ok {
				out.Seek = &cmd
			}
			out.Record, _ = pb.Session().Record(ev.ItemID)
		}
	default:
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownType, ev.Type)
	}
	return out, err
}

// PlaybackSource resolves the event adapter of a learner.
type PlaybackSource interface {
	Playback(ctx context.Context, subjectID string) (*progress.Playback, error)
}

// Consumer applies player events received on playback.events.<learner>.
type Consumer struct {
	Sessions PlaybackSource
	Log      *zap.Logger
}

// Handle applies one message published on subject.
func (c *Consumer) Handle(ctx context.Context, subject string, data []byte) error {
	learner := strings.TrimPrefix(subject, SubjectEventsPrefix)
	if learner == "" || learner == subject || strings.Contains(learner, ".") {
		return fmt.Errorf("events: malformed subject %q", subject)
	}
	var ev PlayerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("events: decode: %w", err)
	}
	pb, err := c.Sessions.Playback(ctx, learner)
	if err != nil {
		return err
	}
	_, err = Dispatch(ctx, pb, ev)
	return err
}

// Subscribe joins the gateway queue group so each event reaches one replica.
func (c *Consumer) Subscribe(nc *nats.Conn) (*nats.Subscription, error) {
	if c.Log == nil {
		c.Log = zap.NewNop()
	}
	return nc.QueueSubscribe(SubjectEventsPrefix+"*", QueueGroup, func(m *nats.Msg) {
		if err := c.Handle(context.Background(), m.Subject, m.Data); err != nil {
			c.Log.Warn("player event dropped", zap.String("subject", m.Subject), zap.Error(err))
		}
	})
}

// MsgPublisher is the part of *nats.Conn the seek publisher needs.
type MsgPublisher interface {
	Publish(subj string, data []byte) error
}

// SeekPublisher implements progress.Player by publishing on playback.seek.<learner>.
type SeekPublisher struct {
	nc MsgPublisher
}

func NewSeekPublisher(nc MsgPublisher) *SeekPublisher {
	return &SeekPublisher{nc: nc}
}

func (p *SeekPublisher) Seek(_ context.Context, cmd progress.SeekCommand) error {
	if p == nil || p.nc == nil {
		return nil
	}
	b, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return p.nc.Publish(SubjectSeekPrefix+cmd.SubjectID, b)
}
