package hub

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestHub() *Hub {
	logger, _ := zap.NewDevelopment()
	return New(logger)
}

func drain(q *Queue) []any {
	var out []any
	for {
		select {
		case msg := <-q.Messages():
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestHub_SubscribeDeliversGreetingFirst(t *testing.T) {
	h := newTestHub()
	q := NewQueue("h1", 8)

	h.Subscribe("m1", q, "ack", "snapshot")
	h.Broadcast("m1", "tick-1")

	assert.Equal(t, []any{"ack", "snapshot", "tick-1"}, drain(q))
	assert.Equal(t, 1, h.CountFor("m1"))
	assert.Equal(t, 1, h.CountAll())
}

func TestHub_BroadcastOnlyToMission(t *testing.T) {
	h := newTestHub()
	a := NewQueue("a", 8)
	b := NewQueue("b", 8)

	h.Subscribe("m1", a)
	h.Subscribe("m2", b)

	assert.Equal(t, 1, h.Broadcast("m1", "x"))
	assert.Equal(t, []any{"x"}, drain(a))
	assert.Empty(t, drain(b))
	assert.Equal(t, 0, h.Broadcast("unknown", "y"))
}

func TestHub_UnsubscribeIdempotent(t *testing.T) {
	h := newTestHub()
	q := NewQueue("h1", 8)

	h.Subscribe("m1", q)
	assert.True(t, h.Unsubscribe("m1", q))
	assert.False(t, h.Unsubscribe("m1", q))
	assert.False(t, h.Unsubscribe("other", q))

	assert.Equal(t, 0, h.Broadcast("m1", "x"))
	assert.Equal(t, 0, h.CountFor("m1"))
	assert.Equal(t, 0, h.CountAll())
}

func TestHub_ResubscribeNoDuplicateDelivery(t *testing.T) {
	h := newTestHub()
	q := NewQueue("h1", 8)

	h.Subscribe("m1", q)
	h.Unsubscribe("m1", q)
	h.Subscribe("m1", q)
	h.Subscribe("m1", q)

	h.Broadcast("m1", "tick")
	assert.Equal(t, []any{"tick"}, drain(q))
	assert.Equal(t, 1, h.CountFor("m1"))
}

func TestHub_ResubscribeMovesHandle(t *testing.T) {
	h := newTestHub()
	q := NewQueue("h1", 8)

	h.Subscribe("m1", q)
	h.Subscribe("m2", q)

	assert.Equal(t, 0, h.CountFor("m1"))
	assert.Equal(t, 1, h.CountFor("m2"))
	assert.Equal(t, 0, h.Broadcast("m1", "x"))
	assert.Equal(t, 1, h.Broadcast("m2", "y"))
	assert.Equal(t, []any{"y"}, drain(q))
}

func TestHub_BroadcastSkipsClosedHandles(t *testing.T) {
	h := newTestHub()
	open := NewQueue("open", 8)
	closed := NewQueue("closed", 8)

	h.Subscribe("m1", open)
	h.Subscribe("m1", closed)
	closed.Close()

	assert.Equal(t, 1, h.Broadcast("m1", "x"))
	// закрытый хэндл не удаляется рассылкой
	assert.Equal(t, 2, h.CountFor("m1"))

	h.Remove(closed)
	assert.Equal(t, 1, h.CountFor("m1"))
}

func TestHub_SlowConsumerDoesNotBlockOthers(t *testing.T) {
	h := newTestHub()
	slow := NewQueue("slow", 1)
	fast := NewQueue("fast", 8)

	h.Subscribe("m1", slow)
	h.Subscribe("m1", fast)

	assert.Equal(t, 2, h.Broadcast("m1", 1))
	assert.Equal(t, 1, h.Broadcast("m1", 2))
	assert.Equal(t, 1, h.Broadcast("m1", 3))

	assert.Equal(t, []any{1}, drain(slow))
	assert.Equal(t, []any{1, 2, 3}, drain(fast))
}

func TestHub_Clear(t *testing.T) {
	h := newTestHub()
	h.Subscribe("m1", NewQueue("a", 1))
	h.Subscribe("m2", NewQueue("b", 1))

	h.Clear()
	assert.Equal(t, 0, h.CountAll())
	assert.Equal(t, 0, h.CountFor("m1"))
}

func TestHub_ConcurrentChurn(t *testing.T) {
	h := newTestHub()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q := NewQueue(string(rune('a'+i)), 64)
			for j := 0; j < 50; j++ {
				h.Subscribe("m1", q)
				h.Broadcast("m1", j)
				h.Unsubscribe("m1", q)
			}
			drain(q)
		}(i)
	}
	wg.Wait()

	require.Equal(t, 0, h.CountAll())
}

func TestQueue_DeliverAfterClose(t *testing.T) {
	q := NewQueue("q", 1)
	require.NoError(t, q.Deliver("a"))
	assert.ErrorIs(t, q.Deliver("b"), ErrSlowConsumer)

	q.Close()
	q.Close()
	assert.ErrorIs(t, q.Deliver("c"), ErrHandleClosed)
}

func TestHub_BroadcastFinalBypassesFullQueue(t *testing.T) {
	h := newTestHub()
	q := NewQueue("h1", 1)

	h.Subscribe("m1", q)
	assert.Equal(t, 1, h.Broadcast("m1", "tick-1"))
	assert.Equal(t, 0, h.Broadcast("m1", "tick-2"), "queue is full")

	assert.Equal(t, 1, h.BroadcastFinal("m1", "ended"))

	select {
	case msg := <-q.Final():
		assert.Equal(t, "ended", msg)
	default:
		t.Fatal("final message was dropped")
	}
	assert.Equal(t, []any{"tick-1"}, q.Drain())
	assert.Empty(t, q.Drain())
}

func TestHub_BroadcastFinalFallsBackToDeliver(t *testing.T) {
	h := newTestHub()
	plain := &plainHandle{id: "p1", done: make(chan struct{})}

	h.Subscribe("m1", plain)
	assert.Equal(t, 1, h.BroadcastFinal("m1", "ended"))
	assert.Equal(t, []any{"ended"}, plain.received())
}

func TestQueue_DeliverFinalAfterClose(t *testing.T) {
	q := NewQueue("h1", 1)
	q.Close()
	assert.ErrorIs(t, q.DeliverFinal("ended"), ErrHandleClosed)
}

// plainHandle хэндл без отдельного финального слота
type plainHandle struct {
	id   string
	done chan struct{}

	mu   sync.Mutex
	msgs []any
}

func (p *plainHandle) ID() string { return p.id }

func (p *plainHandle) Deliver(msg any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *plainHandle) Done() <-chan struct{} { return p.done }

func (p *plainHandle) received() []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]any(nil), p.msgs...)
}
