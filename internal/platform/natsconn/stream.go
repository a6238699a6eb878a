package natsconn

import (
	"errors"
	"slices"
	"time"

	"github.com/nats-io/nats.go"
)

// StreamManager is the part of nats.JetStreamContext used by EnsureStream.
type StreamManager interface {
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	UpdateStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
}

// EnsureStream creates the stream if missing and widens its subjects if an
// existing stream does not cover them yet.
func EnsureStream(js StreamManager, name string, subjects []string, maxAge time.Duration) error {
	info, err := js.StreamInfo(name)
	if err == nil {
		cfg := info.Config
		changed := false
		for _, s := range subjects {
			if !slices.Contains(cfg.Subjects, s) {
				cfg.Subjects = append(cfg.Subjects, s)
				changed = true
			}
		}
		if changed {
			_, err = js.UpdateStream(&cfg)
		}
		return err
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     name,
		Subjects: subjects,
		Storage:  nats.FileStorage,
		MaxAge:   maxAge,
	})
	return err
}
