package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/CoolE88/mission-telemetry-service/internal/domain"
	"github.com/CoolE88/mission-telemetry-service/internal/metrics"
	"github.com/CoolE88/mission-telemetry-service/internal/telemetry"

	"go.uber.org/zap"
)

var (
	ErrAlreadyRunning = errors.New("telemetry task already running")
	// ErrRetired задача миссии уже была остановлена, перезапуск не поддерживается
	ErrRetired = errors.New("telemetry task was stopped and cannot be restarted")
)

type Sink interface {
	Append(ctx context.Context, sample domain.TelemetrySample) error
}

type Broadcaster interface {
	Broadcast(missionID string, msg any) int
}

type Option func(*Scheduler)

// WithOnDepleted колбэк на разряд батареи, вызывается один раз на задачу в отдельной горутине
func WithOnDepleted(fn func(missionID string)) Option {
	return func(s *Scheduler) { s.onDepleted = fn }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithSeed фиксирует зерно случайности для всех задач (для тестов)
func WithSeed(seed int64) Option {
	return func(s *Scheduler) {
		s.seed = func() int64 { return seed }
	}
}

// Scheduler держит по одной периодической задаче на активную миссию
type Scheduler struct {
	interval    time.Duration
	generator   *telemetry.Generator
	sink        Sink
	broadcaster Broadcaster
	onDepleted  func(missionID string)
	now         func() time.Time
	seed        func() int64
	logger      *zap.Logger

	mu    sync.Mutex
	tasks map[string]*task
	// остановленные задачи остаются здесь, чтобы повторный Stop тоже дождался их завершения
	retired map[string]*task
}

// task единственный владелец текущего состояния телеметрии своей миссии
type task struct {
	missionID string
	cancel    context.CancelFunc
	done      chan struct{}
	rng       *rand.Rand

	mu       sync.Mutex
	current  domain.Telemetry
	ticks    int
	depleted bool
}

func New(interval time.Duration, generator *telemetry.Generator, sink Sink, broadcaster Broadcaster, logger *zap.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		interval:    interval,
		generator:   generator,
		sink:        sink,
		broadcaster: broadcaster,
		now:         func() time.Time { return time.Now().UTC() },
		seed:        func() int64 { return time.Now().UnixNano() },
		logger:      logger,
		tasks:       make(map[string]*task),
		retired:     make(map[string]*task),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start запускает периодическую генерацию для миссии с начальным состоянием seed
func (s *Scheduler) Start(missionID string, seed domain.Telemetry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[missionID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, missionID)
	}
	if _, ok := s.retired[missionID]; ok {
		return fmt.Errorf("%w: %s", ErrRetired, missionID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &task{
		missionID: missionID,
		cancel:    cancel,
		done:      make(chan struct{}),
		rng:       rand.New(rand.NewSource(s.seed())),
		current:   seed,
		depleted:  seed.Battery <= 0,
	}
	s.tasks[missionID] = t
	metrics.ActiveMissionTimers.Set(float64(len(s.tasks)))

	go s.run(ctx, t)

	s.logger.Info("[Scheduler] Started telemetry updates",
		zap.String("mission_id", missionID),
		zap.Duration("interval", s.interval))
	return nil
}

// Seed начальное состояние для новой миссии из генератора
func (s *Scheduler) Seed() domain.Telemetry {
	return s.generator.Initial(rand.New(rand.NewSource(s.seed())))
}

// Stop отменяет задачу и ждёт её завершения: после возврата тиков по миссии больше не будет.
// Тик, который уже выполнялся, успевает завершиться. Повторный или параллельный вызов тоже
// ждёт завершения задачи, но возвращает false.
func (s *Scheduler) Stop(missionID string) bool {
	s.mu.Lock()
	t, ok := s.tasks[missionID]
	if ok {
		delete(s.tasks, missionID)
		s.retired[missionID] = t
		metrics.ActiveMissionTimers.Set(float64(len(s.tasks)))
	}
	retired, wasRetired := s.retired[missionID]
	s.mu.Unlock()

	if !ok {
		if wasRetired {
			<-retired.done
		}
		return false
	}

	t.cancel()
	<-t.done

	s.logger.Info("[Scheduler] Stopped telemetry updates",
		zap.String("mission_id", missionID),
		zap.Int("ticks", t.tickCount()))
	return true
}

// StopAll останавливает все задачи, используется при завершении процесса
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			s.Stop(id)
		}(id)
	}
	wg.Wait()
}

// Current последнее сгенерированное состояние миссии
func (s *Scheduler) Current(missionID string) (domain.Telemetry, bool) {
	s.mu.Lock()
	t, ok := s.tasks[missionID]
	s.mu.Unlock()
	if !ok {
		return domain.Telemetry{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current, true
}

// Ticks число выполненных тиков миссии
func (s *Scheduler) Ticks(missionID string) int {
	s.mu.Lock()
	t, ok := s.tasks[missionID]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return t.tickCount()
}

func (s *Scheduler) Running(missionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[missionID]
	return ok
}

func (s *Scheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *Scheduler) run(ctx context.Context, t *task) {
	defer close(t.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// отмена могла прийти одновременно с тиком
			if ctx.Err() != nil {
				return
			}
			s.tick(ctx, t)
		}
	}
}

// tick один цикл: генерация, сохранение, рассылка. Ошибки и паники не прерывают таймер.
func (s *Scheduler) tick(ctx context.Context, t *task) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			metrics.TelemetryTickFailures.Inc()
			s.logger.Error("[Scheduler] Telemetry tick panicked",
				zap.String("mission_id", t.missionID),
				zap.Any("panic", r))
		}
	}()

	t.mu.Lock()
	next := s.generator.Next(t.rng, t.current)
	t.current = next
	t.ticks++
	depletedNow := !t.depleted && next.Battery <= 0
	if depletedNow {
		t.depleted = true
	}
	t.mu.Unlock()

	sample := domain.TelemetrySample{
		MissionID: t.missionID,
		Timestamp: s.now(),
		Telemetry: next,
	}

	// сэмпл тика, прерванного остановкой, всё равно должен сохраниться
	if err := s.sink.Append(context.WithoutCancel(ctx), sample); err != nil {
		s.logger.Warn("[Scheduler] Telemetry sample dropped",
			zap.String("mission_id", t.missionID),
			zap.Error(err))
	}

	delivered := s.broadcaster.Broadcast(t.missionID, domain.NewTelemetryMessage(sample))
	metrics.BroadcastDeliveries.WithLabelValues(domain.MessageTelemetry).Add(float64(delivered))
	metrics.TelemetryTicks.Inc()
	metrics.TelemetryTickDuration.Observe(time.Since(start).Seconds())

	s.logger.Debug("[Scheduler] Telemetry tick",
		zap.String("mission_id", t.missionID),
		zap.Float64("battery", next.Battery),
		zap.Int("delivered", delivered))

	if depletedNow && s.onDepleted != nil {
		s.logger.Info("[Scheduler] Battery depleted", zap.String("mission_id", t.missionID))
		go s.onDepleted(t.missionID)
	}
}

func (t *task) tickCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ticks
}
