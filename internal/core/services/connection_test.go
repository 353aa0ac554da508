package services

import (
	"context"
	"testing"
	"time"

	"livesignal/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConnection(buffer int) *Connection {
	return newConnection("01HZZZZZZZZZZZZZZZZZZZZZZZ", "session", domain.RoleViewer, "viewer", buffer, 4)
}

func serverMsg(seq uint64) *domain.Message {
	return domain.NewControlMessage(seq, &domain.ControlEvent{Event: domain.EventParticipantJoined})
}

func TestConnection_NextReturnsInOrder(t *testing.T) {
	c := testConnection(4)
	for seq := uint64(1); seq <= 3; seq++ {
		dropped, err := c.enqueue(chatMsg(seq, "x"))
		require.NoError(t, err)
		assert.False(t, dropped)
	}

	for seq := uint64(1); seq <= 3; seq++ {
		msg, err := c.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, seq, msg.Seq)
	}
	assert.Equal(t, 0, c.pending())
}

func TestConnection_NextBlocksUntilEnqueue(t *testing.T) {
	c := testConnection(4)

	got := make(chan *domain.Message, 1)
	go func() {
		msg, err := c.Next(context.Background())
		if err == nil {
			got <- msg
		}
	}()

	time.Sleep(10 * time.Millisecond)
	_, err := c.enqueue(chatMsg(1, "late"))
	require.NoError(t, err)

	select {
	case msg := <-got:
		assert.Equal(t, uint64(1), msg.Seq)
	case <-time.After(time.Second):
		t.Fatal("Next did not wake up")
	}
}

func TestConnection_NextHonoursContext(t *testing.T) {
	c := testConnection(4)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConnection_FullQueueEvictsOldestChat(t *testing.T) {
	c := testConnection(3)
	_, _ = c.enqueue(serverMsg(1))
	_, _ = c.enqueue(chatMsg(1, "old"))
	_, _ = c.enqueue(chatMsg(2, "newer"))

	dropped, err := c.enqueue(serverMsg(2))
	require.NoError(t, err)
	assert.True(t, dropped)

	var kinds []domain.MessageKind
	for c.pending() > 0 {
		msg, err := c.Next(context.Background())
		require.NoError(t, err)
		kinds = append(kinds, msg.Kind)
	}
	assert.Equal(t, []domain.MessageKind{domain.KindControl, domain.KindChat, domain.KindControl}, kinds)
}

func TestConnection_FullQueueWithoutChat(t *testing.T) {
	c := testConnection(2)
	_, _ = c.enqueue(serverMsg(1))
	_, _ = c.enqueue(serverMsg(2))

	dropped, err := c.enqueue(chatMsg(1, "no room"))
	assert.NoError(t, err)
	assert.True(t, dropped)
	assert.Equal(t, 2, c.pending())

	_, err = c.enqueue(serverMsg(3))
	assert.ErrorIs(t, err, domain.ErrSlowConsumer)

	_, err = c.enqueue(chatMsg(2, "still slow"))
	assert.ErrorIs(t, err, domain.ErrSlowConsumer)
}

func TestConnection_CloseFlushesQueue(t *testing.T) {
	c := testConnection(4)
	c.activate()
	_, _ = c.enqueue(chatMsg(1, "last words"))

	assert.True(t, c.beginClose(domain.CloseReasonClientClosed))
	assert.False(t, c.beginClose(domain.CloseReasonShutdown))
	assert.Equal(t, domain.ConnClosing, c.State())
	assert.Equal(t, domain.CloseReasonClientClosed, c.CloseReason())

	select {
	case <-c.Done():
	default:
		t.Fatal("done channel not closed")
	}

	_, err := c.enqueue(chatMsg(2, "too late"))
	assert.ErrorIs(t, err, domain.ErrConnectionClosed)

	msg, err := c.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), msg.Seq)

	_, err = c.Next(context.Background())
	assert.ErrorIs(t, err, domain.ErrConnectionClosed)
	assert.Equal(t, domain.ConnClosed, c.State())
}
