package services

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"livesignal/internal/core/domain"
)

// transitions lists the legal lifecycle edges. Ended is reachable from any
// other state.
var transitions = map[domain.SessionState][]domain.SessionState{
	domain.SessionCreated: {domain.SessionLive, domain.SessionEnding, domain.SessionEnded},
	domain.SessionLive:    {domain.SessionEnding, domain.SessionEnded},
	domain.SessionEnding:  {domain.SessionEnded},
}

type negotiationPair struct {
	from, to domain.ConnectionID
}

// Session owns its participant set. state is readable without mu so the
// registry never needs a session lock; every other field is guarded by mu.
type Session struct {
	id         domain.SessionID
	owner      domain.Identity
	createdAt  time.Time
	maxViewers int
	state      atomic.Int32

	mu            sync.Mutex
	broadcaster   *Connection
	viewers       map[domain.ConnectionID]*Connection
	serverSeq     uint64
	offers        map[negotiationPair]struct{}
	pendingAcks   map[domain.ConnectionID]struct{}
	lastHeartbeat time.Time
	idleTimer     *time.Timer
	graceTimer    *time.Timer
	updatedAt     time.Time
	liveAt        *time.Time
	endedAt       *time.Time
	endReason     domain.EndReason
}

func newSession(id domain.SessionID, owner domain.Identity, maxViewers int) *Session {
	now := time.Now()
	s := &Session{
		id:            id,
		owner:         owner,
		createdAt:     now,
		maxViewers:    maxViewers,
		viewers:       make(map[domain.ConnectionID]*Connection),
		offers:        make(map[negotiationPair]struct{}),
		lastHeartbeat: now,
		updatedAt:     now,
	}
	s.state.Store(int32(domain.SessionCreated))
	return s
}

func (s *Session) ID() domain.SessionID   { return s.id }
func (s *Session) Owner() domain.Identity { return s.owner }
func (s *Session) CreatedAt() time.Time   { return s.createdAt }

func (s *Session) State() domain.SessionState {
	return domain.SessionState(s.state.Load())
}

// transitionLocked moves the session to next if the edge is legal.
func (s *Session) transitionLocked(next domain.SessionState) error {
	cur := s.State()
	for _, allowed := range transitions[cur] {
		if allowed == next {
			s.state.Store(int32(next))
			s.updatedAt = time.Now()
			return nil
		}
	}
	return fmt.Errorf("%w: cannot move session %s from %s to %s", domain.ErrInvalid, s.id, cur, next)
}

func (s *Session) participantLocked(id domain.ConnectionID) *Connection {
	if s.broadcaster != nil && s.broadcaster.id == id {
		return s.broadcaster
	}
	return s.viewers[id]
}

// connectionsLocked returns every attached connection, broadcaster first and
// viewers in join order.
func (s *Session) connectionsLocked() []*Connection {
	conns := make([]*Connection, 0, len(s.viewers)+1)
	if s.broadcaster != nil {
		conns = append(conns, s.broadcaster)
	}
	viewers := make([]*Connection, 0, len(s.viewers))
	for _, v := range s.viewers {
		viewers = append(viewers, v)
	}
	// connection ids are ULIDs, so lexical order is join order
	sort.Slice(viewers, func(i, j int) bool { return viewers[i].id < viewers[j].id })
	return append(conns, viewers...)
}

func (s *Session) participantsLocked() []domain.Participant {
	conns := s.connectionsLocked()
	out := make([]domain.Participant, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.participant())
	}
	return out
}

// controlLocked builds the next server-originated control message.
func (s *Session) controlLocked(ev *domain.ControlEvent) *domain.Message {
	s.serverSeq++
	ev.SessionID = s.id
	return domain.NewControlMessage(s.serverSeq, ev)
}

// broadcastLocked delivers msg to every participant except exclude and
// returns the recipients that overflowed.
func (s *Session) broadcastLocked(msg *domain.Message, exclude domain.ConnectionID) (slow []*Connection, dropped int) {
	for _, c := range s.connectionsLocked() {
		if c.id == exclude {
			continue
		}
		lost, err := c.enqueue(msg)
		if lost {
			dropped++
		}
		if err == domain.ErrSlowConsumer {
			slow = append(slow, c)
		}
	}
	return slow, dropped
}

// admitLocked checks that one more viewer may attach.
func (s *Session) admitLocked() error {
	if st := s.State(); !st.Active() {
		return fmt.Errorf("%w: session %s is %s", domain.ErrSessionEnded, s.id, st)
	}
	if s.maxViewers > 0 && len(s.viewers) >= s.maxViewers {
		return fmt.Errorf("%w: %d/%d viewers", domain.ErrSessionFull, len(s.viewers), s.maxViewers)
	}
	return nil
}

// joinLocked greets a newly attached connection with the participant list and
// announces it to everyone else.
func (s *Session) joinLocked(c *Connection) []*Connection {
	welcome := s.controlLocked(&domain.ControlEvent{
		Event:        domain.EventWelcome,
		ConnectionID: c.id,
		Role:         c.role,
		Identity:     c.identity,
		State:        s.State().String(),
		Participants: s.participantsLocked(),
	})
	_, _ = c.enqueue(welcome)

	joined := s.controlLocked(&domain.ControlEvent{
		Event:        domain.EventParticipantJoined,
		ConnectionID: c.id,
		Role:         c.role,
		Identity:     c.identity,
	})
	slow, _ := s.broadcastLocked(joined, c.id)
	s.updatedAt = time.Now()
	return slow
}

// leaveLocked announces that c is gone.
func (s *Session) leaveLocked(c *Connection) []*Connection {
	s.forgetOffersLocked(c.id)
	left := s.controlLocked(&domain.ControlEvent{
		Event:        domain.EventParticipantLeft,
		ConnectionID: c.id,
		Role:         c.role,
		Identity:     c.identity,
	})
	slow, _ := s.broadcastLocked(left, c.id)
	s.updatedAt = time.Now()
	return slow
}

func (s *Session) forgetOffersLocked(id domain.ConnectionID) {
	for pair := range s.offers {
		if pair.from == id || pair.to == id {
			delete(s.offers, pair)
		}
	}
}

func (s *Session) touchLocked() {
	s.lastHeartbeat = time.Now()
}

func (s *Session) recordLocked() *domain.SessionRecord {
	rec := &domain.SessionRecord{
		ID:          s.id,
		Owner:       s.owner,
		State:       s.State(),
		MaxViewers:  s.maxViewers,
		ViewerCount: len(s.viewers),
		EndReason:   s.endReason,
		CreatedAt:   s.createdAt,
		UpdatedAt:   s.updatedAt,
		LiveAt:      s.liveAt,
		EndedAt:     s.endedAt,
	}
	if s.broadcaster != nil {
		rec.Broadcaster = s.broadcaster.id
	}
	return rec
}

// Record returns a snapshot of the session.
func (s *Session) Record() *domain.SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordLocked()
}

// Participants returns the attached participants, broadcaster first.
func (s *Session) Participants() []domain.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participantsLocked()
}
