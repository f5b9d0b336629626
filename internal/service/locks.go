package service

import "sync"

// missionLocks мьютекс на миссию: подписка и завершение одной миссии не перекрываются,
// разные миссии друг друга не ждут
type missionLocks struct {
	mu    sync.Mutex
	locks map[string]*missionLock
}

type missionLock struct {
	mu   sync.Mutex
	refs int
}

func newMissionLocks() *missionLocks {
	return &missionLocks{locks: make(map[string]*missionLock)}
}

// lock захватывает мьютекс миссии и возвращает функцию освобождения
func (l *missionLocks) lock(missionID string) func() {
	l.mu.Lock()
	ml, ok := l.locks[missionID]
	if !ok {
		ml = &missionLock{}
		l.locks[missionID] = ml
	}
	ml.refs++
	l.mu.Unlock()

	ml.mu.Lock()

	return func() {
		ml.mu.Unlock()

		l.mu.Lock()
		ml.refs--
		if ml.refs == 0 {
			delete(l.locks, missionID)
		}
		l.mu.Unlock()
	}
}
