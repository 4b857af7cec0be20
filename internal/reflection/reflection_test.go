package reflection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"cowatch/internal/events"
	"cowatch/internal/protocol"
	"cowatch/internal/state"
)

type fakePlayer struct {
	mu        sync.Mutex
	snap      protocol.Reflection
	has       bool
	ad        bool
	details   protocol.VideoDetails
	hasDetail bool
	applied   [][]Command
}

func (p *fakePlayer) Snapshot() (protocol.Reflection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap, p.has
}
func (p *fakePlayer) AdShowing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ad
}
func (p *fakePlayer) Details() (protocol.VideoDetails, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.details, p.hasDetail
}
func (p *fakePlayer) Apply(cmds ...Command) {
	p.mu.Lock()
	p.applied = append(p.applied, cmds)
	p.mu.Unlock()
}

type fakeOut struct {
	mu          sync.Mutex
	reflections []protocol.Reflection
	details     []protocol.VideoDetails
	err         error
}

func (o *fakeOut) SendReflection(r protocol.Reflection) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.reflections = append(o.reflections, r)
	return nil
}

func (o *fakeOut) SendVideoDetails(d protocol.VideoDetails) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.details = append(o.details, d)
	return nil
}

func (o *fakeOut) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.reflections)
}

// TestPlan 三个维度的最小修正
func TestPlan(t *testing.T) {
	deadBand := 2 * time.Second
	local := protocol.Reflection{ID: "abc", State: protocol.StatePlaying, Time: 100}
	tests := []struct {
		name     string
		local    protocol.Reflection
		hasLocal bool
		remote   protocol.Reflection
		want     []Command
	}{
		{"in sync", local, true, local, nil},
		{"different video", local, true, protocol.Reflection{ID: "xyz", State: protocol.StatePlaying, Time: 100},
			[]Command{{Op: OpLoad, VideoID: "xyz"}}},
		{"remote paused", local, true, protocol.Reflection{ID: "abc", State: protocol.StatePaused, Time: 100},
			[]Command{{Op: OpPause}}},
		{"remote unstarted", local, true, protocol.Reflection{ID: "abc", State: protocol.StateUnstarted, Time: 100},
			[]Command{{Op: OpPause}}},
		{"remote buffering while playing", local, true, protocol.Reflection{ID: "abc", State: protocol.StateBuffering, Time: 100}, nil},
		{"remote playing while paused", protocol.Reflection{ID: "abc", State: protocol.StatePaused, Time: 100}, true,
			protocol.Reflection{ID: "abc", State: protocol.StatePlaying, Time: 100}, []Command{{Op: OpPlay}}},
		{"remote ended", local, true, protocol.Reflection{ID: "abc", State: protocol.StateEnded, Time: 100}, nil},
		{"drift at dead-band", local, true, protocol.Reflection{ID: "abc", State: protocol.StatePlaying, Time: 102}, nil},
		{"drift below dead-band", local, true, protocol.Reflection{ID: "abc", State: protocol.StatePlaying, Time: 98.5}, nil},
		{"drift beyond dead-band", local, true, protocol.Reflection{ID: "abc", State: protocol.StatePlaying, Time: 103},
			[]Command{{Op: OpSeek, Seconds: 103}}},
		{"drift just beyond dead-band", local, true, protocol.Reflection{ID: "abc", State: protocol.StatePlaying, Time: 97.999},
			[]Command{{Op: OpSeek, Seconds: 97.999}}},
		{"all axes", local, true, protocol.Reflection{ID: "xyz", State: protocol.StatePaused, Time: 10},
			[]Command{{Op: OpLoad, VideoID: "xyz"}, {Op: OpPause}, {Op: OpSeek, Seconds: 10}}},
		{"no local player", protocol.Reflection{}, false, protocol.Reflection{ID: "xyz", State: protocol.StatePlaying, Time: 10},
			[]Command{{Op: OpLoad, VideoID: "xyz"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Plan(tt.local, tt.hasLocal, tt.remote, deadBand)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("plan mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// TestReconcileApplies 修正命令作用于播放器
func TestReconcileApplies(t *testing.T) {
	player := &fakePlayer{snap: protocol.Reflection{ID: "abc", State: protocol.StatePaused, Time: 0}, has: true}
	r := NewReconciler(player, 2*time.Second, zerolog.Nop())

	cmds := r.Reconcile(protocol.Reflection{ID: "abc", State: protocol.StatePlaying, Time: 30})
	if len(cmds) != 2 || len(player.applied) != 1 {
		t.Fatalf("expected one batch of two commands, got %v", player.applied)
	}
	player.applied = nil
	player.snap = protocol.Reflection{ID: "abc", State: protocol.StatePlaying, Time: 30}
	r.Reconcile(protocol.Reflection{ID: "abc", State: protocol.StatePlaying, Time: 31})
	if len(player.applied) != 0 {
		t.Errorf("in-sync snapshot should not touch the player, got %v", player.applied)
	}
}

func hostSession(primary bool) state.Session {
	return state.Session{ClientStatus: state.ClientHost, IsPrimaryTab: primary, Room: &protocol.Room{RoomID: "room_1"}}
}

// TestAdForcesPaused 广告播放时强制暂停状态
func TestAdForcesPaused(t *testing.T) {
	player := &fakePlayer{snap: protocol.Reflection{ID: "abc", State: protocol.StatePlaying, Time: 5}, has: true, ad: true}
	out := &fakeOut{}
	s := NewSampler(SamplerOptions{SampleInterval: time.Second, DetailsInterval: time.Second}, player, out, nil, zerolog.Nop())

	s.Sample()
	if len(out.reflections) != 1 || out.reflections[0].State != protocol.StatePaused {
		t.Fatalf("expected a paused reflection, got %+v", out.reflections)
	}
	player.ad = false
	s.Sample()
	if out.reflections[1].State != protocol.StatePlaying {
		t.Errorf("expected the raw state without an ad, got %s", out.reflections[1].State)
	}
}

// TestNoPlayerNoSample 没有播放器时不发送
func TestNoPlayerNoSample(t *testing.T) {
	out := &fakeOut{}
	s := NewSampler(SamplerOptions{}, &fakePlayer{}, out, nil, zerolog.Nop())
	s.Sample()
	s.SampleDetails()
	if len(out.reflections) != 0 || len(out.details) != 0 {
		t.Error("nothing should be sent without a player")
	}
}

// TestDetailsOnlyOnChange 视频信息只在变化时发送
func TestDetailsOnlyOnChange(t *testing.T) {
	details := protocol.VideoDetails{Title: "Lecture 1", Author: "Prof", LikeCount: "10"}
	player := &fakePlayer{details: details, hasDetail: true}
	out := &fakeOut{}
	s := NewSampler(SamplerOptions{}, player, out, nil, zerolog.Nop())

	s.SampleDetails()
	s.SampleDetails()
	if len(out.details) != 1 {
		t.Fatalf("unchanged details must be sent once, got %d", len(out.details))
	}
	player.details.LikeCount = "11"
	s.SampleDetails()
	if len(out.details) != 2 {
		t.Errorf("changed details should be sent, got %d", len(out.details))
	}

	out.err = errors.New("dropped")
	player.details.LikeCount = "12"
	s.SampleDetails()
	out.err = nil
	s.SampleDetails()
	if len(out.details) != 3 || out.details[2].LikeCount != "12" {
		t.Errorf("a failed send should be retried, got %+v", out.details)
	}
}

// TestSamplerStateMachine 角色切换与幂等
func TestSamplerStateMachine(t *testing.T) {
	mock := clock.NewMock()
	player := &fakePlayer{snap: protocol.Reflection{ID: "abc", State: protocol.StatePlaying}, has: true}
	out := &fakeOut{}
	s := NewSampler(SamplerOptions{SampleInterval: 200 * time.Millisecond, DetailsInterval: 2 * time.Second, Clock: mock},
		player, out, nil, zerolog.Nop())

	s.OnRoleChanged(hostSession(false))
	if s.State() != Idle {
		t.Fatal("non-primary host must not sample")
	}

	s.OnRoleChanged(hostSession(true))
	s.OnRoleChanged(hostSession(true))
	if s.State() != Sampling {
		t.Fatal("primary host should sample")
	}
	mock.Add(200 * time.Millisecond)
	waitFor(t, func() bool { return out.count() == 1 })
	mock.Add(200 * time.Millisecond)
	waitFor(t, func() bool { return out.count() == 2 })

	s.OnRoleChanged(state.Session{ClientStatus: state.ClientViewer, IsPrimaryTab: true, Room: &protocol.Room{RoomID: "room_1"}})
	s.OnRoleChanged(state.Session{ClientStatus: state.ClientInactive})
	if s.State() != Idle {
		t.Fatal("leaving the host role should stop sampling")
	}
	mock.Add(time.Second)
	time.Sleep(10 * time.Millisecond)
	if got := out.count(); got != 2 {
		t.Errorf("stopped sampler must not send, got %d", got)
	}
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

// TestNavigationGuard 不在真实页面时需要确认
func TestNavigationGuard(t *testing.T) {
	store := state.NewStore()
	var shown []string
	guard := NewNavigationGuard(store, func(id string) error {
		shown = append(shown, id)
		store.ShowTruePage(id)
		return nil
	})

	if guard.Check("like") != Allow {
		t.Error("true page should allow every control")
	}
	if err := guard.Confirm(); !errors.Is(err, ErrNothingToConfirm) {
		t.Errorf("expected ErrNothingToConfirm, got %v", err)
	}

	store.Reflected("abc")
	if guard.Check("Subscribe") != Confirm {
		t.Error("subscribe should need confirmation while locked")
	}
	if guard.Check("volume") != Allow {
		t.Error("controls that stay on the video are allowed")
	}
	if err := guard.Confirm(); err != nil {
		t.Fatal(err)
	}
	if len(shown) != 1 || shown[0] != "abc" {
		t.Errorf("confirm should show the true page of abc, got %v", shown)
	}
	if guard.Check("like") != Allow {
		t.Error("lock should be released after confirming")
	}
}

// TestRemotePlayer 页面上报与命令转发
func TestRemotePlayer(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe(events.PlayerCommand)
	p := NewRemotePlayer(bus)

	if _, ok := p.Snapshot(); ok {
		t.Error("no snapshot before the page reports one")
	}
	p.Observe(protocol.Reflection{ID: "abc", State: protocol.StatePaused, Time: 3})
	p.ObserveAd(true)
	snap, ok := p.Snapshot()
	if !ok || snap.ID != "abc" || !p.AdShowing() {
		t.Errorf("unexpected mirror %+v ad=%v", snap, p.AdShowing())
	}

	p.Apply(Command{Op: OpLoad, VideoID: "xyz"}, Command{Op: OpSeek, Seconds: 0})
	event, ok := sub.Next(contextWithTimeout(t))
	if !ok {
		t.Fatal("expected a command batch")
	}
	cmds := event.Payload.([]Command)
	if len(cmds) != 2 || cmds[0].VideoID != "xyz" {
		t.Errorf("unexpected batch %+v", cmds)
	}
}

func contextWithTimeout(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)
	return ctx
}
