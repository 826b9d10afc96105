package capture

import (
	"sync"
	"time"

	"github.com/andresmejia3/emotionai/internal/types"
)

// frameSlot holds only the most recent frame. Publishing overwrites; a frame that
// was never read is counted as dropped.
type frameSlot struct {
	mu        sync.Mutex
	frame     *types.Image
	read      bool
	published uint64
	drops     uint64
	updatedAt time.Time
	maxAge    time.Duration
	now       func() time.Time
}

func newFrameSlot(maxAge time.Duration) *frameSlot {
	return &frameSlot{maxAge: maxAge, now: time.Now}
}

func (s *frameSlot) publish(img types.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frame != nil && !s.read {
		s.drops++
	}
	s.frame = &img
	s.read = false
	s.published++
	s.updatedAt = s.now()
}

// latest returns the newest frame, or false when none has arrived yet or the newest
// one is older than maxAge (the device stalled).
func (s *frameSlot) latest() (types.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frame == nil {
		return types.Image{}, false
	}
	if s.maxAge > 0 && s.now().Sub(s.updatedAt) > s.maxAge {
		return types.Image{}, false
	}
	s.read = true
	return *s.frame, true
}

// Stats reports how many frames a source produced and how many were overwritten unread.
type Stats struct {
	Published uint64
	Dropped   uint64
}

func (s *frameSlot) stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Published: s.published, Dropped: s.drops}
}
