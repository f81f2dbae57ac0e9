package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUnboundedQueue_SendReceiveOrder(t *testing.T) {
	q := newUnboundedQueue[int]()
	for i := 0; i < 5; i++ {
		q.Send(i)
	}
	for i := 0; i < 5; i++ {
		v, ok := q.Receive()
		require.True(t, ok)
		require.Equal(t, i, v)
	}
}

func TestUnboundedQueue_ReceiveBlocksUntilSend(t *testing.T) {
	q := newUnboundedQueue[string]()
	done := make(chan string, 1)
	go func() {
		v, ok := q.Receive()
		require.True(t, ok)
		done <- v
	}()

	select {
	case <-done:
		t.Fatal("receive returned before any send")
	case <-time.After(20 * time.Millisecond):
	}

	q.Send("hello")
	select {
	case v := <-done:
		require.Equal(t, "hello", v)
	case <-time.After(time.Second):
		t.Fatal("receive never unblocked after send")
	}
}

func TestUnboundedQueue_CloseDrainsThenStops(t *testing.T) {
	q := newUnboundedQueue[int]()
	q.Send(1)
	q.Send(2)
	q.Close()

	v, ok := q.Receive()
	require.True(t, ok)
	require.Equal(t, 1, v)

	v, ok = q.Receive()
	require.True(t, ok)
	require.Equal(t, 2, v)

	_, ok = q.Receive()
	require.False(t, ok)
}

func TestUnboundedQueue_SendAfterCloseIsNoop(t *testing.T) {
	q := newUnboundedQueue[int]()
	q.Close()
	q.Send(1)
	_, ok := q.Receive()
	require.False(t, ok)
}

func TestUnboundedQueue_SendReportsClosedState(t *testing.T) {
	q := newUnboundedQueue[int]()
	require.True(t, q.Send(1))
	q.Close()
	require.False(t, q.Send(2))
}
