package core

import (
	"cowatch/internal/events"
	"cowatch/internal/protocol"
	"cowatch/internal/state"
	"cowatch/internal/storage"
)

func (c *Core) registerHandlers() {
	c.router.Register(protocol.ActionAuthorize, c.handleAuthorize)
	c.router.Register(protocol.ActionReflectRoom, c.handleReflectRoom)
	c.router.Register(protocol.ActionReflectVideoDetails, c.handleReflectVideoDetails)
	c.router.Register(protocol.ActionPong, c.handlePong)
}

func (c *Core) handleAuthorize(in protocol.InboundEnvelope) error {
	resp, err := protocol.Unwrap[protocol.AuthorizeResponse](in)
	if err != nil {
		return err
	}
	name, image := c.sanitize.Text(resp.Name), c.sanitize.Text(resp.Image)
	c.store.Authorized(state.Client{
		Name:         name,
		Image:        image,
		PublicToken:  resp.PublicToken,
		PrivateToken: resp.PrivateToken,
	})
	c.log.Info().Str("name", name).Str("publicToken", resp.PublicToken).Msg("authorized")

	if c.kv != nil {
		err := storage.SaveIdentity(c.kv, storage.Identity{
			Name:         name,
			Image:        image,
			PrivateToken: resp.PrivateToken,
		})
		if err != nil {
			c.log.Error().Err(err).Msg("identity not persisted")
		}
	}

	c.ModuleStatus(SystemConnection, protocol.StatusOK)
	if err := c.gateway.AttemptReconnect(); err != nil {
		c.log.Warn().Err(err).Msg("reconnect attempt not sent")
	}
	return nil
}

// handleReflectRoom tracks the reflected video and, for a viewer, corrects the player.
func (c *Core) handleReflectRoom(in protocol.InboundEnvelope) error {
	snap, err := protocol.Unwrap[protocol.Reflection](in)
	if err != nil {
		return err
	}
	sess, changed := c.store.Reflected(snap.ID)
	if changed {
		c.bus.Publish(events.SendState, sess.Public())
	}
	c.bus.Publish(events.UpdatePlayer, snap)

	if sess.ClientStatus != state.ClientViewer {
		return nil
	}
	for _, cmd := range c.reconciler.Reconcile(snap) {
		c.metrics.PlayerCommand(string(cmd.Op))
	}
	return nil
}

// handleReflectVideoDetails forwards the host's details to a viewer. The host already
// has them from its own page.
func (c *Core) handleReflectVideoDetails(in protocol.InboundEnvelope) error {
	details, err := protocol.Unwrap[protocol.VideoDetails](in)
	if err != nil {
		return err
	}
	if c.store.Snapshot().ClientStatus != state.ClientViewer {
		return nil
	}
	c.bus.Publish(events.UpdateDetails, c.sanitize.Details(details))
	return nil
}

func (c *Core) handlePong(in protocol.InboundEnvelope) error {
	pong, err := protocol.Unwrap[protocol.PingPong](in)
	if err != nil {
		return err
	}
	pending := c.monitor.Stats().Pending
	c.monitor.HandlePong(pong)
	if pending {
		c.metrics.RTT(c.monitor.Stats().RTT)
	}
	return nil
}
