package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/CoolE88/mission-telemetry-service/internal/config"
	"github.com/CoolE88/mission-telemetry-service/internal/domain"
	"github.com/CoolE88/mission-telemetry-service/internal/telemetry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testInterval = 10 * time.Millisecond

type recordingSink struct {
	mu      sync.Mutex
	samples []domain.TelemetrySample
	err     error
}

func (r *recordingSink) Append(_ context.Context, sample domain.TelemetrySample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.samples = append(r.samples, sample)
	return nil
}

func (r *recordingSink) forMission(id string) []domain.TelemetrySample {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.TelemetrySample
	for _, s := range r.samples {
		if s.MissionID == id {
			out = append(out, s)
		}
	}
	return out
}

type recordingBroadcaster struct {
	mu       sync.Mutex
	messages map[string][]domain.TelemetryMessage
	panics   int32
}

func newRecordingBroadcaster() *recordingBroadcaster {
	return &recordingBroadcaster{messages: make(map[string][]domain.TelemetryMessage)}
}

func (r *recordingBroadcaster) Broadcast(missionID string, msg any) int {
	if atomic.AddInt32(&r.panics, -1) >= 0 {
		panic("boom")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[missionID] = append(r.messages[missionID], msg.(domain.TelemetryMessage))
	return 1
}

func (r *recordingBroadcaster) forMission(id string) []domain.TelemetryMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.TelemetryMessage(nil), r.messages[id]...)
}

func newTestScheduler(sink Sink, b Broadcaster, opts ...Option) *Scheduler {
	logger, _ := zap.NewDevelopment()
	gen := telemetry.NewGenerator(config.Default().Telemetry)
	opts = append([]Option{WithSeed(1)}, opts...)
	return New(testInterval, gen, sink, b, logger, opts...)
}

func TestScheduler_TicksPersistAndBroadcastSameSample(t *testing.T) {
	sink := &recordingSink{}
	b := newRecordingBroadcaster()
	s := newTestScheduler(sink, b)

	seed := s.Seed()
	require.NoError(t, s.Start("m1", seed))
	assert.Eventually(t, func() bool { return len(sink.forMission("m1")) >= 5 }, time.Second, testInterval)
	require.True(t, s.Stop("m1"))

	samples := sink.forMission("m1")
	messages := b.forMission("m1")
	require.Equal(t, len(samples), len(messages))

	prev := seed.Battery
	for i, sample := range samples {
		msg := messages[i]
		assert.Equal(t, domain.MessageTelemetry, msg.Type)
		assert.Equal(t, "m1", msg.MissionID)
		assert.Equal(t, sample.Timestamp, msg.Timestamp)
		assert.Equal(t, sample.Telemetry, msg.Data)

		// каждый тик продвигает состояние ровно на один шаг
		assert.InDelta(t, prev-0.1, sample.Battery, 1e-9)
		prev = sample.Battery
	}
}

func TestScheduler_NoTicksAfterStop(t *testing.T) {
	sink := &recordingSink{}
	s := newTestScheduler(sink, newRecordingBroadcaster())

	require.NoError(t, s.Start("m1", s.Seed()))
	assert.Eventually(t, func() bool { return len(sink.forMission("m1")) >= 2 }, time.Second, testInterval)

	s.Stop("m1")
	count := len(sink.forMission("m1"))
	time.Sleep(5 * testInterval)

	assert.Equal(t, count, len(sink.forMission("m1")))
	assert.False(t, s.Running("m1"))
	assert.Equal(t, 0, s.Count())
}

func TestScheduler_StartTwiceAndRestart(t *testing.T) {
	s := newTestScheduler(&recordingSink{}, newRecordingBroadcaster())

	require.NoError(t, s.Start("m1", s.Seed()))
	assert.ErrorIs(t, s.Start("m1", s.Seed()), ErrAlreadyRunning)
	assert.Equal(t, 1, s.Count())

	assert.True(t, s.Stop("m1"))
	assert.False(t, s.Stop("m1"))
	assert.False(t, s.Stop("unknown"))

	assert.ErrorIs(t, s.Start("m1", s.Seed()), ErrRetired)
}

func TestScheduler_IndependentMissions(t *testing.T) {
	sink := &recordingSink{}
	s := newTestScheduler(sink, newRecordingBroadcaster())

	require.NoError(t, s.Start("m1", s.Seed()))
	require.NoError(t, s.Start("m2", s.Seed()))
	assert.Eventually(t, func() bool { return len(sink.forMission("m1")) >= 2 }, time.Second, testInterval)

	s.Stop("m1")
	stopped := len(sink.forMission("m1"))
	before := len(sink.forMission("m2"))

	assert.Eventually(t, func() bool { return len(sink.forMission("m2")) >= before+3 }, time.Second, testInterval)
	assert.Equal(t, stopped, len(sink.forMission("m1")))
	assert.True(t, s.Running("m2"))

	s.StopAll()
	assert.Equal(t, 0, s.Count())
}

func TestScheduler_PersistFailureDoesNotStopTicks(t *testing.T) {
	sink := &recordingSink{err: errors.New("disk full")}
	b := newRecordingBroadcaster()
	s := newTestScheduler(sink, b)

	require.NoError(t, s.Start("m1", s.Seed()))
	assert.Eventually(t, func() bool { return len(b.forMission("m1")) >= 3 }, time.Second, testInterval)
	s.Stop("m1")

	assert.Empty(t, sink.forMission("m1"))
}

func TestScheduler_PanicInTickIsRecovered(t *testing.T) {
	sink := &recordingSink{}
	b := newRecordingBroadcaster()
	b.panics = 2
	s := newTestScheduler(sink, b)

	require.NoError(t, s.Start("m1", s.Seed()))
	assert.Eventually(t, func() bool { return len(b.forMission("m1")) >= 2 }, time.Second, testInterval)
	assert.True(t, s.Running("m1"))
	s.Stop("m1")
}

func TestScheduler_CurrentTracksLatestSample(t *testing.T) {
	sink := &recordingSink{}
	s := newTestScheduler(sink, newRecordingBroadcaster())

	seed := domain.Telemetry{Battery: 100, Latitude: 1, Longitude: 2, Altitude: 50}
	require.NoError(t, s.Start("m1", seed))

	cur, ok := s.Current("m1")
	require.True(t, ok)
	assert.LessOrEqual(t, cur.Battery, seed.Battery)

	assert.Eventually(t, func() bool { return s.Ticks("m1") >= 1 }, time.Second, testInterval)
	s.Stop("m1")

	samples := sink.forMission("m1")
	require.NotEmpty(t, samples)
	_, ok = s.Current("m1")
	assert.False(t, ok)
}

func TestScheduler_OnDepletedFiresOnce(t *testing.T) {
	var calls int32
	fired := make(chan string, 4)

	sink := &recordingSink{}
	s := newTestScheduler(sink, newRecordingBroadcaster(), WithOnDepleted(func(id string) {
		atomic.AddInt32(&calls, 1)
		fired <- id
	}))

	require.NoError(t, s.Start("m1", domain.Telemetry{Battery: 0.15, Altitude: 50}))

	select {
	case id := <-fired:
		assert.Equal(t, "m1", id)
	case <-time.After(time.Second):
		t.Fatal("depletion callback was not invoked")
	}

	// батарея остаётся на нуле, колбэк не повторяется
	time.Sleep(5 * testInterval)
	s.Stop("m1")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	for _, sample := range sink.forMission("m1") {
		assert.GreaterOrEqual(t, sample.Battery, float64(0))
	}
}

// blockingSink держит первый Append, пока тест не отпустит его
type blockingSink struct {
	recordingSink
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingSink) Append(ctx context.Context, sample domain.TelemetrySample) error {
	b.once.Do(func() {
		close(b.entered)
		<-b.release
	})
	return b.recordingSink.Append(ctx, sample)
}

func TestScheduler_ConcurrentStopWaitsForInFlightTick(t *testing.T) {
	sink := &blockingSink{entered: make(chan struct{}), release: make(chan struct{})}
	b := newRecordingBroadcaster()
	s := newTestScheduler(sink, b)

	require.NoError(t, s.Start("m1", s.Seed()))
	select {
	case <-sink.entered:
	case <-time.After(time.Second):
		t.Fatal("first tick did not start")
	}

	firstDone := make(chan bool)
	go func() { firstDone <- s.Stop("m1") }()
	// первый Stop уже снял задачу из активных
	assert.Eventually(t, func() bool { return !s.Running("m1") }, time.Second, time.Millisecond)

	secondDone := make(chan bool)
	go func() { secondDone <- s.Stop("m1") }()

	select {
	case <-secondDone:
		t.Fatal("second Stop returned while a tick was still in flight")
	case <-time.After(5 * testInterval):
	}

	close(sink.release)
	assert.True(t, <-firstDone)
	assert.False(t, <-secondDone)

	// тик, начатый до остановки, завершился до возврата обоих Stop
	assert.Len(t, b.forMission("m1"), 1)
	assert.Len(t, sink.forMission("m1"), 1)
}
