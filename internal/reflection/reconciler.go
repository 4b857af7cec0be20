package reflection

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"cowatch/internal/protocol"
)

// intent groups player states by what the viewer should be doing.
func intent(s protocol.PlayerState) CommandOp {
	switch s {
	case protocol.StatePlaying, protocol.StateBuffering:
		return OpPlay
	case protocol.StateUnstarted, protocol.StatePaused:
		return OpPause
	}
	return ""
}

// Reconciler aligns the viewer's player with each reflected snapshot, one axis at a time:
// video identity, play state, position.
type Reconciler struct {
	player   Player
	deadBand time.Duration
	log      zerolog.Logger
}

func NewReconciler(player Player, deadBand time.Duration, log zerolog.Logger) *Reconciler {
	return &Reconciler{player: player, deadBand: deadBand, log: log}
}

// Plan returns the minimal corrective commands for remote given local. Drift of exactly
// the dead-band is left alone.
func Plan(local protocol.Reflection, hasLocal bool, remote protocol.Reflection, deadBand time.Duration) []Command {
	var cmds []Command
	if !hasLocal || local.ID != remote.ID {
		if remote.ID != "" {
			cmds = append(cmds, Command{Op: OpLoad, VideoID: remote.ID})
		}
		if !hasLocal {
			return cmds
		}
	}
	if want := intent(remote.State); want != "" && want != intent(local.State) {
		cmds = append(cmds, Command{Op: want})
	}
	if math.Abs(local.Time-remote.Time) > deadBand.Seconds() {
		cmds = append(cmds, Command{Op: OpSeek, Seconds: remote.Time})
	}
	return cmds
}

// Reconcile applies the plan for remote and returns it.
func (r *Reconciler) Reconcile(remote protocol.Reflection) []Command {
	local, ok := r.player.Snapshot()
	cmds := Plan(local, ok, remote, r.deadBand)
	if len(cmds) > 0 {
		r.log.Debug().Str("videoId", remote.ID).Str("state", remote.State.String()).
			Float64("time", remote.Time).Int("commands", len(cmds)).Msg("reconciling player")
		r.player.Apply(cmds...)
	}
	return cmds
}
