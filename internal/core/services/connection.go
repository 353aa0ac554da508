package services

import (
	"context"
	"sync"
	"time"

	"livesignal/internal/core/domain"
)

// Connection is one participant's signaling channel. Inbound messages are
// sequenced under sendMu; outbound messages wait in a bounded queue drained
// by the transport through Next.
type Connection struct {
	id        domain.ConnectionID
	sessionID domain.SessionID
	role      domain.Role
	identity  domain.Identity
	openedAt  time.Time

	sendMu sync.Mutex
	seq    *sequencer

	mu          sync.Mutex
	queue       []*domain.Message
	limit       int
	state       domain.ConnState
	slow        bool
	closeReason domain.CloseReason
	notify      chan struct{}
	done        chan struct{}
}

func newConnection(id domain.ConnectionID, sessionID domain.SessionID, role domain.Role, identity domain.Identity, buffer, window int) *Connection {
	if buffer <= 0 {
		buffer = 1
	}
	return &Connection{
		id:        id,
		sessionID: sessionID,
		role:      role,
		identity:  identity,
		openedAt:  time.Now(),
		seq:       newSequencer(window),
		queue:     make([]*domain.Message, 0, buffer),
		limit:     buffer,
		state:     domain.ConnConnecting,
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

func (c *Connection) ID() domain.ConnectionID     { return c.id }
func (c *Connection) SessionID() domain.SessionID { return c.sessionID }
func (c *Connection) Role() domain.Role           { return c.role }
func (c *Connection) Identity() domain.Identity   { return c.identity }
func (c *Connection) Done() <-chan struct{}       { return c.done }

func (c *Connection) State() domain.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) CloseReason() domain.CloseReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}

func (c *Connection) participant() domain.Participant {
	return domain.Participant{ConnectionID: c.id, Role: c.role, Identity: c.identity}
}

func (c *Connection) activate() {
	c.mu.Lock()
	if c.state == domain.ConnConnecting {
		c.state = domain.ConnActive
	}
	c.mu.Unlock()
}

// enqueue appends msg to the outbound queue. When the queue is full the
// oldest buffered chat message makes room; a chat message with nothing to
// evict is dropped instead. A critical message with nothing to evict marks
// the connection as a slow consumer and fails. dropped reports whether a
// chat message was lost.
func (c *Connection) enqueue(msg *domain.Message) (dropped bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state >= domain.ConnClosing {
		return false, domain.ErrConnectionClosed
	}
	if c.slow {
		return false, domain.ErrSlowConsumer
	}

	if len(c.queue) >= c.limit {
		idx := c.oldestChatLocked()
		if idx < 0 {
			if msg.Kind.Critical() {
				c.slow = true
				return false, domain.ErrSlowConsumer
			}
			return true, nil
		}
		c.queue = append(c.queue[:idx], c.queue[idx+1:]...)
		dropped = true
	}

	c.queue = append(c.queue, msg)
	select {
	case c.notify <- struct{}{}:
	default:
	}
	return dropped, nil
}

func (c *Connection) oldestChatLocked() int {
	for i, m := range c.queue {
		if m.Kind == domain.KindChat {
			return i
		}
	}
	return -1
}

// Next blocks until an outbound message is available. After the connection
// starts closing, already queued messages are still returned; once the queue
// is drained Next returns domain.ErrConnectionClosed.
func (c *Connection) Next(ctx context.Context) (*domain.Message, error) {
	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			msg := c.queue[0]
			c.queue[0] = nil
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return msg, nil
		}
		if c.state >= domain.ConnClosing {
			c.state = domain.ConnClosed
			c.mu.Unlock()
			return nil, domain.ErrConnectionClosed
		}
		c.mu.Unlock()

		select {
		case <-c.notify:
		case <-c.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// beginClose moves the connection to closing. It reports false when the
// connection was already closing.
func (c *Connection) beginClose(reason domain.CloseReason) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state >= domain.ConnClosing {
		return false
	}
	c.state = domain.ConnClosing
	c.closeReason = reason
	close(c.done)
	return true
}

func (c *Connection) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}
