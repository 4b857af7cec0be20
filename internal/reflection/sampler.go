package reflection

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"cowatch/internal/protocol"
	"cowatch/internal/state"
)

type SamplerState int

const (
	Idle SamplerState = iota
	Sampling
)

func (s SamplerState) String() string {
	if s == Sampling {
		return "sampling"
	}
	return "idle"
}

type SamplerOptions struct {
	SampleInterval  time.Duration
	DetailsInterval time.Duration
	Clock           clock.Clock
}

// Publisher is where the host's samples go, normally the request gateway.
type Publisher interface {
	SendReflection(protocol.Reflection) error
	SendVideoDetails(protocol.VideoDetails) error
}

// Observer counts what the sampler emits.
type Observer interface {
	Sampled(kind string)
}

// Sampler republishes the local player while this client hosts from the primary tab. It is
// a two-state machine; OnRoleChanged is its only transition.
type Sampler struct {
	opts   SamplerOptions
	player Player
	out    Publisher
	log    zerolog.Logger
	obs    Observer

	mu          sync.Mutex
	state       SamplerState
	stop        chan struct{}
	done        chan struct{}
	lastDetails protocol.VideoDetails
	sentDetails bool
}

func NewSampler(opts SamplerOptions, player Player, out Publisher, obs Observer, log zerolog.Logger) *Sampler {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Sampler{opts: opts, player: player, out: out, obs: obs, log: log}
}

func (s *Sampler) State() SamplerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ShouldSample is the role predicate: host, primary, in a room.
func ShouldSample(sess state.Session) bool {
	return sess.ClientStatus == state.ClientHost && sess.IsPrimaryTab && sess.RoomID() != ""
}

// OnRoleChanged enters Sampling or Idle. Entering a state the machine is already in does
// nothing.
func (s *Sampler) OnRoleChanged(sess state.Session) {
	if ShouldSample(sess) {
		s.enter()
	} else {
		s.exit()
	}
}

func (s *Sampler) enter() {
	s.mu.Lock()
	if s.state == Sampling {
		s.mu.Unlock()
		return
	}
	s.state = Sampling
	s.sentDetails = false
	s.lastDetails = protocol.VideoDetails{}
	stop := make(chan struct{})
	done := make(chan struct{})
	s.stop, s.done = stop, done
	sampleTicker := s.opts.Clock.Ticker(s.opts.SampleInterval)
	detailsTicker := s.opts.Clock.Ticker(s.opts.DetailsInterval)
	s.mu.Unlock()

	s.log.Info().Msg("reflection sampler started")
	go func() {
		defer close(done)
		defer sampleTicker.Stop()
		defer detailsTicker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-sampleTicker.C:
				s.Sample()
			case <-detailsTicker.C:
				s.SampleDetails()
			}
		}
	}()
}

func (s *Sampler) exit() {
	s.mu.Lock()
	if s.state == Idle {
		s.mu.Unlock()
		return
	}
	s.state = Idle
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	close(stop)
	<-done
	s.log.Info().Msg("reflection sampler stopped")
}

// Sample reads the player once and sends the reflection. While an advertisement is
// showing the state is reported as paused.
func (s *Sampler) Sample() {
	snap, ok := s.player.Snapshot()
	if !ok {
		return
	}
	if s.player.AdShowing() {
		snap.State = protocol.StatePaused
	}
	if err := s.out.SendReflection(snap); err != nil {
		s.log.Debug().Err(err).Msg("reflection not sent")
		return
	}
	s.observe("reflection")
}

// SampleDetails sends the video details when at least one field changed since the last
// successful send.
func (s *Sampler) SampleDetails() {
	details, ok := s.player.Details()
	if !ok {
		return
	}
	s.mu.Lock()
	unchanged := s.sentDetails && details == s.lastDetails
	s.mu.Unlock()
	if unchanged {
		return
	}
	if err := s.out.SendVideoDetails(details); err != nil {
		s.log.Debug().Err(err).Msg("video details not sent")
		return
	}
	s.mu.Lock()
	s.lastDetails = details
	s.sentDetails = true
	s.mu.Unlock()
	s.observe("details")
}

func (s *Sampler) observe(kind string) {
	if s.obs != nil {
		s.obs.Sampled(kind)
	}
}
