package reflection

import (
	"sync"

	"cowatch/internal/events"
	"cowatch/internal/protocol"
)

// Player is the embedded video player as seen from the core.
type Player interface {
	// Snapshot reports false while no player is available.
	Snapshot() (protocol.Reflection, bool)
	AdShowing() bool
	Details() (protocol.VideoDetails, bool)

	// Apply executes corrective commands in order.
	Apply(cmds ...Command)
}

type CommandOp string

const (
	OpLoad  CommandOp = "load"
	OpPlay  CommandOp = "play"
	OpPause CommandOp = "pause"
	OpSeek  CommandOp = "seek"
)

// Command is one corrective player action.
type Command struct {
	Op      CommandOp `json:"op"`
	VideoID string    `json:"videoId,omitempty"`
	Seconds float64   `json:"seconds"`
}

// RemotePlayer mirrors what the page reports about its player and forwards commands back
// through the bus. A batch is published as one PlayerCommand event so a newer batch
// replaces an unread one as a whole.
type RemotePlayer struct {
	bus events.Publisher

	mu         sync.RWMutex
	snapshot   protocol.Reflection
	hasPlayer  bool
	details    protocol.VideoDetails
	hasDetails bool
	adShowing  bool
}

func NewRemotePlayer(bus events.Publisher) *RemotePlayer {
	return &RemotePlayer{bus: bus}
}

func (p *RemotePlayer) Observe(snap protocol.Reflection) {
	p.mu.Lock()
	p.snapshot = snap
	p.hasPlayer = true
	p.mu.Unlock()
}

func (p *RemotePlayer) ObserveDetails(d protocol.VideoDetails) {
	p.mu.Lock()
	p.details = d
	p.hasDetails = true
	p.mu.Unlock()
}

func (p *RemotePlayer) ObserveAd(showing bool) {
	p.mu.Lock()
	p.adShowing = showing
	p.mu.Unlock()
}

func (p *RemotePlayer) Snapshot() (protocol.Reflection, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot, p.hasPlayer
}

func (p *RemotePlayer) AdShowing() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.adShowing
}

func (p *RemotePlayer) Details() (protocol.VideoDetails, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.details, p.hasDetails
}

func (p *RemotePlayer) Apply(cmds ...Command) {
	if len(cmds) == 0 {
		return
	}
	p.bus.Publish(events.PlayerCommand, cmds)
}
