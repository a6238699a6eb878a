package progress

import (
	"context"
	"math"

	"go.uber.org/zap"
)

// Playback turns media player events for one subject into deltas on a
// session. Pause and end are suspension points and request a flush.
type Playback struct {
	session *Session
	flusher FlushRequester
	player  Player
	log     *zap.Logger
}

// NewPlayback binds player events to s. flusher and player may be nil.
func NewPlayback(s *Session, flusher FlushRequester, player Player, log *zap.Logger) *Playback {
	if log == nil {
		log = zap.NewNop()
	}
	return &Playback{session: s, flusher: flusher, player: player, log: log}
}

// Session returns the session events are applied to.
func (p *Playback) Session() *Session { return p.session }

// OnTimeUpdate records the playhead position. It does not flush.
func (p *Playback) OnTimeUpdate(itemID string, currentTime float64) (Record, error) {
	return p.session.Apply(Delta{ItemID: itemID, Kind: DeltaPosition, Position: currentTime})
}

// OnPause records the position and requests a flush.
func (p *Playback) OnPause(itemID string, currentTime float64) (Record, error) {
	rec, err := p.OnTimeUpdate(itemID, currentTime)
	if err != nil {
		return rec, err
	}
	p.requestFlush()
	return rec, nil
}

// OnEnded completes the item regardless of the watched ratio and requests a flush.
func (p *Playback) OnEnded(itemID string, currentTime float64) (Record, error) {
	rec, err := p.session.Apply(Delta{ItemID: itemID, Kind: DeltaEnded, Position: currentTime})
	if err != nil {
		return rec, err
	}
	p.requestFlush()
	return rec, nil
}

// OnMetadataReady records the duration and, when progress was saved before,
// seeks the player to the saved position clamped to the duration. The seek
// command is returned so inline transports can deliver it themselves.
func (p *Playback) OnMetadataReady(ctx context.Context, itemID string, duration float64) (SeekCommand, bool, error) {
	rec, err := p.session.Apply(Delta{ItemID: itemID, Kind: DeltaDuration, Duration: duration})
	if err != nil {
		return SeekCommand{}, false, err
	}
	cmd, ok := ResumePosition(rec, duration)
	if !ok {
		return SeekCommand{}, false, nil
	}
	cmd.SubjectID = p.session.Subject()
	if p.player != nil {
		if err := p.player.Seek(ctx, cmd); err != nil {
			p.log.Warn("seek command failed", zap.String("item_id", itemID), zap.Error(err))
		}
	}
	return cmd, true, nil
}

// ResumePosition returns where playback of rec should resume, if anywhere.
func ResumePosition(rec Record, duration float64) (SeekCommand, bool) {
	if rec.WatchedSeconds <= 0 {
		return SeekCommand{}, false
	}
	pos := rec.WatchedSeconds
	if d, ok := KnownDuration(&duration); ok {
		pos = math.Min(pos, d)
	} else if d, ok := KnownDuration(rec.DurationSeconds); ok {
		pos = math.Min(pos, d)
	}
	return SeekCommand{ItemID: rec.ItemID, Position: pos}, true
}

func (p *Playback) requestFlush() {
	if p.flusher != nil {
		p.flusher.RequestFlush()
	}
}
