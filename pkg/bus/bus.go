package bus

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/raterudder/homeplug/pkg/log"
	"github.com/raterudder/homeplug/pkg/types"
)

// Snapshot is a point-in-time copy of everything published to the Bus.
type Snapshot struct {
	State     types.ControllerState `json:"state"`
	Metrics   *types.MetricsSample  `json:"metrics,omitempty"`
	UpdatedAt time.Time             `json:"updatedAt"`
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	c := s
	c.State = s.State.Clone()
	if s.Metrics != nil {
		m := *s.Metrics
		c.Metrics = &m
	}
	return c
}

// Mirror receives every published snapshot, for readers outside the process.
type Mirror interface {
	Mirror(ctx context.Context, snap Snapshot) error
}

// Bus holds the latest controller state and metrics sample. It keeps no
// history and notifies no one; readers poll Read.
type Bus struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time

	mirror  Mirror
	pending chan Snapshot
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{
		now:     time.Now,
		pending: make(chan Snapshot, 1),
	}
}

// SetMirror sets where snapshots are mirrored. It must be called before Run.
func (b *Bus) SetMirror(m Mirror) {
	b.mirror = m
}

// PublishState replaces the controller state.
func (b *Bus) PublishState(state types.ControllerState) {
	b.mu.Lock()
	b.snap.State = state.Clone()
	b.snap.UpdatedAt = b.now()
	snap := b.snap.Clone()
	b.mu.Unlock()
	b.offer(snap)
}

// PublishMetrics replaces the latest metrics sample.
func (b *Bus) PublishMetrics(m types.MetricsSample) {
	b.mu.Lock()
	b.snap.Metrics = &m
	b.snap.UpdatedAt = b.now()
	snap := b.snap.Clone()
	b.mu.Unlock()
	b.offer(snap)
}

// Read returns a copy of the latest snapshot.
func (b *Bus) Read() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snap.Clone()
}

// offer hands snap to the mirror goroutine without blocking. An unsent older
// snapshot is dropped in favor of snap.
func (b *Bus) offer(snap Snapshot) {
	if b.mirror == nil {
		return
	}
	for {
		select {
		case b.pending <- snap:
			return
		default:
		}
		select {
		case <-b.pending:
		default:
		}
	}
}

// Run forwards published snapshots to the mirror until ctx is done. Mirror
// failures are logged and otherwise ignored.
func (b *Bus) Run(ctx context.Context) error {
	ctx = log.WithLoop(ctx, "bus-mirror")
	if b.mirror == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap := <-b.pending:
			if err := b.mirror.Mirror(ctx, snap); err != nil {
				log.Ctx(ctx).WarnContext(ctx, "failed to mirror snapshot", slog.Any("error", err))
			}
		}
	}
}

// Close closes the mirror if it holds a connection.
func (b *Bus) Close() error {
	if c, ok := b.mirror.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
