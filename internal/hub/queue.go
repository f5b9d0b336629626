package hub

import "sync"

// Queue Handle с ограниченной очередью исходящих сообщений.
// Транспорт (WebSocket, gRPC stream) читает Messages() в своей горутине записи.
// Финальные сообщения миссии идут через отдельный канал Final().
type Queue struct {
	id    string
	ch    chan any
	final chan any
	done  chan struct{}
	once  sync.Once
}

// finalSlots хватает на несколько миссий, завершившихся до того, как писатель успел их отправить
const finalSlots = 4

func NewQueue(id string, size int) *Queue {
	return &Queue{
		id:    id,
		ch:    make(chan any, size),
		final: make(chan any, finalSlots),
		done:  make(chan struct{}),
	}
}

func (q *Queue) ID() string {
	return q.id
}

func (q *Queue) Deliver(msg any) error {
	select {
	case <-q.done:
		return ErrHandleClosed
	default:
	}

	select {
	case q.ch <- msg:
		return nil
	case <-q.done:
		return ErrHandleClosed
	default:
		return ErrSlowConsumer
	}
}

// DeliverFinal ставит сообщение в отдельный слот, общая очередь на него не влияет
func (q *Queue) DeliverFinal(msg any) error {
	select {
	case <-q.done:
		return ErrHandleClosed
	default:
	}

	select {
	case q.final <- msg:
		return nil
	default:
		return ErrSlowConsumer
	}
}

func (q *Queue) Done() <-chan struct{} {
	return q.done
}

func (q *Queue) Messages() <-chan any {
	return q.ch
}

func (q *Queue) Final() <-chan any {
	return q.final
}

// Drain забирает то, что уже лежит в общей очереди, не блокируясь.
// Писатель вызывает его перед отправкой финального сообщения, чтобы сохранить порядок.
func (q *Queue) Drain() []any {
	var out []any
	for {
		select {
		case msg := <-q.ch:
			out = append(out, msg)
		default:
			return out
		}
	}
}

// Close помечает хэндл закрытым, повторный вызов безопасен
func (q *Queue) Close() {
	q.once.Do(func() { close(q.done) })
}
