package distributor

import (
	"sync"

	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

// EventSink observes successful claims and rotations. Implementations must not
// block; they are called while the distributor lock is held.
type EventSink interface {
	OnClaimed(ev *types.ClaimEvent)
	OnRootRotated(ev *types.RootRotatedEvent)
}

// LoggingSink writes events to a zap logger.
type LoggingSink struct {
	logger *zap.Logger
}

func NewLoggingSink(logger *zap.Logger) *LoggingSink {
	return &LoggingSink{logger: logger}
}

func (s *LoggingSink) OnClaimed(ev *types.ClaimEvent) {
	fields := []interface{}{
		"id", ev.ID,
		"model", ev.Model,
		"account", ev.Account.Hex(),
		"receiver", ev.Receiver.Hex(),
		"generation", ev.Generation,
	}
	if ev.AmountPaid != nil {
		fields = append(fields, "amount_paid", ev.AmountPaid.String())
	}
	if len(ev.TokenIDs) > 0 {
		fields = append(fields, "token_ids", len(ev.TokenIDs))
	}
	if ev.Index != nil {
		fields = append(fields, "index", *ev.Index)
	}
	s.logger.Sugar().Infow("Claimed", fields...)
}

func (s *LoggingSink) OnRootRotated(ev *types.RootRotatedEvent) {
	s.logger.Sugar().Infow("Merkle root updated",
		"id", ev.ID,
		"model", ev.Model,
		"old_root", ev.OldRoot.String(),
		"new_root", ev.NewRoot.String(),
		"generation", ev.Generation)
}

// RecordingSink keeps every event in memory.
type RecordingSink struct {
	mu        sync.Mutex
	claims    []*types.ClaimEvent
	rotations []*types.RootRotatedEvent
}

func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

func (s *RecordingSink) OnClaimed(ev *types.ClaimEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims = append(s.claims, ev)
}

func (s *RecordingSink) OnRootRotated(ev *types.RootRotatedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotations = append(s.rotations, ev)
}

// Claims returns the recorded claim events in order.
func (s *RecordingSink) Claims() []*types.ClaimEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.ClaimEvent(nil), s.claims...)
}

// Rotations returns the recorded rotation events in order.
func (s *RecordingSink) Rotations() []*types.RootRotatedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.RootRotatedEvent(nil), s.rotations...)
}

// MultiSink fans events out to several sinks.
type MultiSink []EventSink

func (m MultiSink) OnClaimed(ev *types.ClaimEvent) {
	for _, s := range m {
		s.OnClaimed(ev)
	}
}

func (m MultiSink) OnRootRotated(ev *types.RootRotatedEvent) {
	for _, s := range m {
		s.OnRootRotated(ev)
	}
}
