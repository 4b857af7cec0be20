package heartbeat

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"cowatch/internal/protocol"
)

type harness struct {
	mock    *clock.Mock
	monitor *Monitor
	mu      sync.Mutex
	pings   []int64
	lost    atomic.Int32
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{mock: clock.NewMock()}
	h.mock.Set(time.Unix(1_700_000_000, 0))
	h.monitor = New(Options{
		Interval:               5 * time.Second,
		ResponseTimeMultiplier: 3,
		MinimumTimeout:         time.Second,
		InitialTimeout:         10 * time.Second,
		DroppedThreshold:       3,
		Window:                 10,
		Clock:                  h.mock,
	}, func(p protocol.PingPong) error {
		h.mu.Lock()
		h.pings = append(h.pings, p.Timestamp)
		h.mu.Unlock()
		return nil
	}, zerolog.Nop())
	h.monitor.OnLost(func() { h.lost.Add(1) })
	return h
}

func (h *harness) lastPing() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pings[len(h.pings)-1]
}

// answer 以给定的延迟回复当前探测
func (h *harness) answer(ms int64) {
	h.monitor.Probe()
	h.monitor.HandlePong(protocol.PingPong{Timestamp: h.lastPing() + ms})
}

// drop 让当前探测超时
func (h *harness) drop(t *testing.T) {
	t.Helper()
	before := h.monitor.Stats().Dropped
	lostBefore := h.monitor.Stats().Lost
	h.monitor.Probe()
	if lostBefore {
		return
	}
	h.mock.Add(h.monitor.Timeout())
	waitFor(t, func() bool { return h.monitor.Stats().Dropped == before+1 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(time.Millisecond)
	}
}

// TestInitialTimeout 没有样本时使用保守的默认超时
func TestInitialTimeout(t *testing.T) {
	h := newHarness(t)
	if got := h.monitor.Timeout(); got != 10*time.Second {
		t.Errorf("expected 10s before any sample, got %v", got)
	}
}

// TestRollingAverage 样本 [100,120,110] 之后 N<阈值 次超时
func TestRollingAverage(t *testing.T) {
	h := newHarness(t)
	for _, ms := range []int64{100, 120, 110} {
		h.answer(ms)
	}
	stats := h.monitor.Stats()
	if stats.Average != 110*time.Millisecond || stats.RTT != 110*time.Millisecond {
		t.Fatalf("expected average and rtt 110ms, got %v / %v", stats.Average, stats.RTT)
	}
	if got := h.monitor.Timeout(); got != time.Second {
		t.Errorf("3x110ms is below the floor, expected 1s, got %v", got)
	}

	for n := 1; n < 3; n++ {
		h.drop(t)
		stats = h.monitor.Stats()
		if stats.Dropped != n {
			t.Errorf("expected %d dropped, got %d", n, stats.Dropped)
		}
		if stats.Average != 110*time.Millisecond || stats.RTT != 110*time.Millisecond {
			t.Errorf("average must survive drops, got %v / %v", stats.Average, stats.RTT)
		}
	}
	if h.lost.Load() != 0 {
		t.Error("threshold-1 drops must not declare the connection lost")
	}

	h.answer(90)
	if got := h.monitor.Stats().Dropped; got != 0 {
		t.Errorf("a success resets the dropped count, got %d", got)
	}
}

// TestMultiplierAboveFloor 平均值较大时按倍数计算超时
func TestMultiplierAboveFloor(t *testing.T) {
	h := newHarness(t)
	h.answer(500)
	if got := h.monitor.Timeout(); got != 1500*time.Millisecond {
		t.Errorf("expected 1.5s, got %v", got)
	}
}

// TestWindowEviction 滚动窗口只保留最近的样本
func TestWindowEviction(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 10; i++ {
		h.answer(1000)
	}
	h.answer(0)
	stats := h.monitor.Stats()
	if stats.Samples != 10 {
		t.Errorf("expected 10 samples, got %d", stats.Samples)
	}
	if stats.Average != 900*time.Millisecond {
		t.Errorf("expected oldest sample evicted, average %v", stats.Average)
	}
}

// TestThresholdFiresOnce 恰好达到阈值只触发一次
func TestThresholdFiresOnce(t *testing.T) {
	h := newHarness(t)
	h.answer(100)
	for i := 0; i < 3; i++ {
		h.drop(t)
	}
	waitFor(t, func() bool { return h.lost.Load() == 1 })

	h.drop(t)
	h.mock.Add(time.Minute)
	time.Sleep(10 * time.Millisecond)
	if got := h.lost.Load(); got != 1 {
		t.Errorf("expected exactly one loss, got %d", got)
	}

	h.monitor.Reset()
	stats := h.monitor.Stats()
	if stats.Lost || stats.Samples != 0 || stats.Dropped != 0 || stats.RTT != 0 {
		t.Errorf("reset should forget everything, got %+v", stats)
	}
}

// TestSkipWhilePending 探测未完成时跳过新的探测
func TestSkipWhilePending(t *testing.T) {
	h := newHarness(t)
	h.monitor.Probe()
	h.monitor.Probe()
	h.mu.Lock()
	sent := len(h.pings)
	h.mu.Unlock()
	if sent != 1 {
		t.Errorf("expected one ping in flight, got %d", sent)
	}
}

// TestLatePong 超时之后到达的 Pong 被忽略
func TestLatePong(t *testing.T) {
	h := newHarness(t)
	h.drop(t)
	h.monitor.HandlePong(protocol.PingPong{Timestamp: h.lastPing() + 50})
	stats := h.monitor.Stats()
	if stats.Samples != 0 || stats.Dropped != 1 {
		t.Errorf("late pong must not count, got %+v", stats)
	}
}

// TestStartProbesImmediately 启动后立即探测并按间隔继续
func TestStartProbesImmediately(t *testing.T) {
	h := newHarness(t)
	h.monitor.Start()
	defer h.monitor.Stop()

	waitFor(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.pings) == 1
	})
	h.monitor.HandlePong(protocol.PingPong{Timestamp: h.lastPing() + 20})
	h.mock.Add(5 * time.Second)
	waitFor(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.pings) == 2
	})
}

// TestWithdrawnProbe 被拒绝发送的探测不计入丢失
func TestWithdrawnProbe(t *testing.T) {
	mock := clock.NewMock()
	m := New(Options{
		Interval:         5 * time.Second,
		InitialTimeout:   10 * time.Second,
		DroppedThreshold: 1,
		Window:           10,
		Clock:            mock,
	}, func(protocol.PingPong) error { return ErrNotSent }, zerolog.Nop())
	lost := false
	m.OnLost(func() { lost = true })

	m.Probe()
	if m.Stats().Pending {
		t.Fatal("withdrawn probe should not stay pending")
	}
	mock.Add(time.Minute)
	time.Sleep(10 * time.Millisecond)
	if m.Stats().Dropped != 0 || lost {
		t.Errorf("withdrawn probe must not count as dropped, got %+v", m.Stats())
	}
}
