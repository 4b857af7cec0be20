package reflection

import (
	"errors"
	"strings"

	"cowatch/internal/state"
)

var ErrNothingToConfirm = errors.New("page already shows the room video")

type Decision string

const (
	Allow   Decision = "allowed"
	Confirm Decision = "confirm"
)

// guardedControls lead away from the synchronized video.
var guardedControls = map[string]struct{}{
	"like":      {},
	"dislike":   {},
	"share":     {},
	"subscribe": {},
	"save":      {},
	"clip":      {},
	"download":  {},
	"thanks":    {},
	"join":      {},
	"channel":   {},
	"video":     {},
}

// NavigationGuard asks for confirmation before a viewer leaves the synchronized video
// through one of the page controls.
type NavigationGuard struct {
	store    *state.Store
	showTrue func(videoID string) error
}

// NewNavigationGuard routes confirmations through showTrue, the normal ShowTruePage path.
func NewNavigationGuard(store *state.Store, showTrue func(videoID string) error) *NavigationGuard {
	return &NavigationGuard{store: store, showTrue: showTrue}
}

func (g *NavigationGuard) Check(control string) Decision {
	if g.store.Snapshot().IsShowingTruePage {
		return Allow
	}
	if _, ok := guardedControls[strings.ToLower(strings.TrimSpace(control))]; ok {
		return Confirm
	}
	return Allow
}

// Confirm releases the lock by showing the reflected video's own page.
func (g *NavigationGuard) Confirm() error {
	sess := g.store.Snapshot()
	if sess.IsShowingTruePage {
		return ErrNothingToConfirm
	}
	return g.showTrue(sess.VideoID)
}
