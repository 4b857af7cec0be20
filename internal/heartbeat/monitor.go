package heartbeat

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"cowatch/internal/protocol"
)

// ErrNotSent tells the monitor a probe was refused before reaching the wire. The probe is
// withdrawn instead of counted as dropped.
var ErrNotSent = errors.New("probe not sent")

type Options struct {
	Interval               time.Duration
	ResponseTimeMultiplier float64
	MinimumTimeout         time.Duration
	InitialTimeout         time.Duration
	DroppedThreshold       int
	Window                 int
	Clock                  clock.Clock
}

// Stats is a copy of the monitor's bookkeeping.
type Stats struct {
	RTT     time.Duration
	Average time.Duration
	Dropped int
	Samples int
	Pending bool
	Lost    bool
}

type probe struct {
	seq       uint64
	timestamp int64
	timer     *clock.Timer
}

// Monitor sends Ping probes on a fixed interval and declares the connection lost after
// DroppedThreshold consecutive probes go unanswered. At most one probe is outstanding;
// a tick that finds one pending is skipped.
type Monitor struct {
	opts  Options
	log   zerolog.Logger
	send  func(protocol.PingPong) error
	clock clock.Clock

	mu      sync.Mutex
	onLost  func()
	pending *probe
	seq     uint64
	samples []time.Duration
	rtt     time.Duration
	average time.Duration
	dropped int
	lost    bool
	stop    chan struct{}
}

func New(opts Options, send func(protocol.PingPong) error, log zerolog.Logger) *Monitor {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Window < 1 {
		opts.Window = 1
	}
	return &Monitor{opts: opts, log: log, send: send, clock: opts.Clock}
}

// OnLost registers the callback fired once per connection when the threshold is reached.
func (m *Monitor) OnLost(fn func()) {
	m.mu.Lock()
	m.onLost = fn
	m.mu.Unlock()
}

// Start resets the bookkeeping for a fresh connection, probes immediately and then on
// every interval until Stop.
func (m *Monitor) Start() {
	m.Stop()
	m.Reset()

	stop := make(chan struct{})
	m.mu.Lock()
	m.stop = stop
	m.mu.Unlock()

	m.Probe()
	ticker := m.clock.Ticker(m.opts.Interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.Probe()
			}
		}
	}()
}

// Stop halts probing and clears any pending timeout. Bookkeeping is kept.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
	m.clearPendingLocked()
}

// Reset forgets every sample; the next probe uses InitialTimeout.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearPendingLocked()
	m.samples = m.samples[:0]
	m.rtt = 0
	m.average = 0
	m.dropped = 0
	m.lost = false
}

func (m *Monitor) clearPendingLocked() {
	if m.pending != nil {
		m.pending.timer.Stop()
		m.pending = nil
	}
}

// Timeout is how long the next probe waits for its Pong.
func (m *Monitor) Timeout() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timeoutLocked()
}

func (m *Monitor) timeoutLocked() time.Duration {
	if len(m.samples) == 0 {
		return m.opts.InitialTimeout
	}
	timeout := time.Duration(m.opts.ResponseTimeMultiplier * float64(m.average))
	if timeout < m.opts.MinimumTimeout {
		return m.opts.MinimumTimeout
	}
	return timeout
}

// Probe sends one Ping unless one is already pending or the connection was declared lost.
func (m *Monitor) Probe() {
	m.mu.Lock()
	if m.lost {
		m.mu.Unlock()
		return
	}
	if m.pending != nil {
		m.mu.Unlock()
		m.log.Debug().Msg("probe still pending, skipping tick")
		return
	}
	m.seq++
	seq := m.seq
	ts := m.clock.Now().UnixMilli()
	timeout := m.timeoutLocked()
	m.pending = &probe{
		seq:       seq,
		timestamp: ts,
		timer:     m.clock.AfterFunc(timeout, func() { m.expire(seq) }),
	}
	m.mu.Unlock()

	m.log.Debug().Int64("timestamp", ts).Dur("timeout", timeout).Msg("ping")
	err := m.send(protocol.PingPong{Timestamp: ts})
	if errors.Is(err, ErrNotSent) {
		m.mu.Lock()
		if m.pending != nil && m.pending.seq == seq {
			m.clearPendingLocked()
		}
		m.mu.Unlock()
		m.log.Debug().Err(err).Msg("ping withdrawn")
		return
	}
	if err != nil {
		m.log.Warn().Err(err).Msg("ping not sent")
	}
}

// HandlePong completes the pending probe. A Pong with nothing pending arrived after its
// probe expired and is ignored.
func (m *Monitor) HandlePong(pong protocol.PingPong) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		m.log.Debug().Int64("timestamp", pong.Timestamp).Msg("late pong ignored")
		return
	}
	diff := pong.Timestamp - m.pending.timestamp
	if diff < 0 {
		diff = -diff
	}
	sample := time.Duration(diff) * time.Millisecond
	m.clearPendingLocked()

	m.samples = append(m.samples, sample)
	if len(m.samples) > m.opts.Window {
		m.samples = m.samples[len(m.samples)-m.opts.Window:]
	}
	var sum time.Duration
	for _, s := range m.samples {
		sum += s
	}
	m.rtt = sample
	m.average = sum / time.Duration(len(m.samples))
	m.dropped = 0
	m.log.Debug().Dur("rtt", sample).Dur("average", m.average).Msg("pong")
}

func (m *Monitor) expire(seq uint64) {
	m.mu.Lock()
	if m.pending == nil || m.pending.seq != seq {
		m.mu.Unlock()
		return
	}
	m.pending = nil
	m.dropped++
	dropped := m.dropped
	fire := dropped >= m.opts.DroppedThreshold && !m.lost
	if fire {
		m.lost = true
	}
	onLost := m.onLost
	m.mu.Unlock()

	m.log.Warn().Int("dropped", dropped).Msg("ping request got no response")
	if fire {
		m.log.Error().Int("dropped", dropped).Msg("relay could not be reached")
		if onLost != nil {
			onLost()
		}
	}
}

func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		RTT:     m.rtt,
		Average: m.average,
		Dropped: m.dropped,
		Samples: len(m.samples),
		Pending: m.pending != nil,
		Lost:    m.lost,
	}
}
