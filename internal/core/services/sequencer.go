package services

import (
	"fmt"

	"livesignal/internal/core/domain"
)

// sequencer restores per-sender order. Messages ahead of the next expected
// seq wait in a window; a sender that runs past the window loses the missing
// messages. A seq that was rejected before sequencing is recorded as a nil
// entry so later messages are not held behind it.
type sequencer struct {
	next    uint64
	window  uint64
	pending map[uint64]*domain.Message
}

func newSequencer(window int) *sequencer {
	if window < 1 {
		window = 1
	}
	return &sequencer{
		next:    1,
		window:  uint64(window),
		pending: make(map[uint64]*domain.Message),
	}
}

// accept returns the messages that became deliverable, in order. The error is
// domain.ErrOutOfOrderDrop when msg was stale or duplicate, or when a gap had
// to be skipped; in the latter case the returned messages are still valid.
func (s *sequencer) accept(msg *domain.Message) ([]*domain.Message, error) {
	if msg.Seq > domain.MaxSeq {
		return nil, fmt.Errorf("%w: seq %d exceeds %d", domain.ErrInvalid, msg.Seq, uint64(domain.MaxSeq))
	}
	if msg.Seq < s.next {
		return nil, fmt.Errorf("%w: seq %d already delivered (expected %d)", domain.ErrOutOfOrderDrop, msg.Seq, s.next)
	}
	if _, dup := s.pending[msg.Seq]; dup {
		return nil, fmt.Errorf("%w: duplicate seq %d", domain.ErrOutOfOrderDrop, msg.Seq)
	}
	return s.place(msg.Seq, msg)
}

// skip consumes seq without delivering anything for it. Seqs that are zero,
// out of range, stale or already held are ignored.
func (s *sequencer) skip(seq uint64) ([]*domain.Message, error) {
	if seq == 0 || seq > domain.MaxSeq || seq < s.next {
		return nil, nil
	}
	if _, held := s.pending[seq]; held {
		return nil, nil
	}
	return s.place(seq, nil)
}

func (s *sequencer) place(seq uint64, msg *domain.Message) ([]*domain.Message, error) {
	if seq == s.next {
		s.next++
		var ready []*domain.Message
		if msg != nil {
			ready = append(ready, msg)
		}
		return append(ready, s.drain()...), nil
	}

	s.pending[seq] = msg
	if seq < s.next+s.window {
		return nil, nil
	}

	var (
		ready   []*domain.Message
		skipped uint64
		from    = s.next
	)
	for seq >= s.next+s.window && len(s.pending) > 0 {
		low := s.lowestPending()
		skipped += low - s.next
		s.next = low
		ready = append(ready, s.drain()...)
	}
	if skipped == 0 {
		return ready, nil
	}
	return ready, fmt.Errorf("%w: skipped %d message(s) starting at seq %d", domain.ErrOutOfOrderDrop, skipped, from)
}

// drain releases the run of held seqs starting at next. Skipped seqs advance
// next but produce nothing.
func (s *sequencer) drain() []*domain.Message {
	var ready []*domain.Message
	for {
		msg, ok := s.pending[s.next]
		if !ok {
			return ready
		}
		delete(s.pending, s.next)
		if msg != nil {
			ready = append(ready, msg)
		}
		s.next++
	}
}

func (s *sequencer) lowestPending() uint64 {
	var low uint64
	for seq := range s.pending {
		if low == 0 || seq < low {
			low = seq
		}
	}
	return low
}
