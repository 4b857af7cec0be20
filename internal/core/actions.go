package core

import (
	"strings"

	"cowatch/internal/events"
	"cowatch/internal/protocol"
	"cowatch/internal/reflection"
	"cowatch/internal/rooms"
	"cowatch/internal/state"
	"cowatch/internal/storage"
)

// SystemStatus is the room UI's health banner: every reported system plus the session
// flags it is shown against.
type SystemStatus struct {
	Systems      map[string]protocol.Status `json:"systems"`
	ClientStatus state.ClientStatus         `json:"clientStatus"`
	ServerStatus state.ServerStatus         `json:"serverStatus"`
	IsPrimaryTab bool                       `json:"isPrimaryTab"`
}

func systemStatusOf(sess state.Session) SystemStatus {
	return SystemStatus{
		Systems:      sess.Systems,
		ClientStatus: sess.ClientStatus,
		ServerStatus: sess.ServerStatus,
		IsPrimaryTab: sess.IsPrimaryTab,
	}
}

type NavigateTo struct {
	URL string `json:"url"`
}

type ActiveTabRequest struct {
	Action string `json:"action"`
}

// CollectClient records the identity scraped from the page. A failed collection changes
// nothing; the collector reports its failure through ModuleStatus.
func (c *Core) CollectClient(identity state.Identity, status protocol.Status) {
	if status == protocol.StatusError {
		return
	}
	c.store.Collected(state.Identity{
		Name:  c.sanitize.Text(identity.Name),
		Image: strings.TrimSpace(identity.Image),
	})
}

// ModuleStatus records one system's health. Once every reported system is ok the room UI
// gets the client and, if the relay is up but nobody is authorized yet, Authorize is sent.
func (c *Core) ModuleStatus(system string, status protocol.Status) {
	sess, allOK := c.store.ModuleStatus(system, status)
	c.log.Info().Str("system", system).Str("status", string(status)).
		Interface("systems", sess.Systems).Str("serverStatus", string(sess.ServerStatus)).
		Str("clientStatus", string(sess.ClientStatus)).Bool("isPrimaryTab", sess.IsPrimaryTab).
		Msg("system status")
	if allOK {
		c.bus.Publish(events.SendRoomUIClient, publicClientOf(sess))
		if c.authorizeIfReady() {
			sess = c.store.Snapshot()
		}
	}
	c.bus.Publish(events.SendRoomUISystemStatus, systemStatusOf(sess))
}

func publicClientOf(sess state.Session) state.PublicClient {
	if pub := sess.Public().Client; pub != nil {
		return *pub
	}
	return state.PublicClient{Name: sess.Identity.Name, Image: sess.Identity.Image}
}

// authorizeIfReady sends Authorize when the relay is connected, no client is authorized
// and no system reports a failure.
func (c *Core) authorizeIfReady() bool {
	sess := c.store.Snapshot()
	if sess.ClientStatus != state.ClientDisconnected || sess.ServerStatus != state.ServerConnected {
		return false
	}
	if !sess.SystemsOK() {
		return false
	}
	return c.Authorize() == nil
}

// Authorize presents the collected identity with the cached private token, if any.
func (c *Core) Authorize() error {
	sess := c.store.Snapshot()
	var token string
	if c.kv != nil {
		cached, _, err := c.kv.Get(storage.KeyToken)
		if err != nil {
			c.log.Warn().Err(err).Msg("cached token unreadable")
		}
		token = cached
	}
	c.log.Info().Str("name", sess.Identity.Name).Bool("cachedToken", token != "").Msg("authorizing client")
	return c.gateway.Authorize(protocol.AuthorizeRequest{
		Name:         sess.Identity.Name,
		Image:        sess.Identity.Image,
		PrivateToken: token,
	})
}

func (c *Core) HostRoom(name string) error { return c.gateway.HostRoom(name) }

func (c *Core) JoinRoom(roomID string) error { return c.gateway.JoinRoom(roomID) }

func (c *Core) DisconnectRoom() error { return c.gateway.DisconnectRoom() }

// SetPrimary applies the tab arbiter's decision. Losing primary status ends the relay
// session; gaining it starts a connect cycle.
func (c *Core) SetPrimary(isPrimary bool) {
	sess := c.store.PrimaryChanged(isPrimary)
	c.log.Info().Bool("isPrimaryTab", isPrimary).Msg("primary tab changed")
	if !isPrimary {
		c.stopCycle()
		c.monitor.Stop()
		c.transport.Drop()
		// a cycle finishing its handshake concurrently may have marked the relay connected
		sess = c.store.Connecting()
	}
	c.rooms.Announce()
	c.bus.Publish(events.SendState, sess.Public())
	if isPrimary {
		c.startCycle()
	}
}

// GetState returns the UI-safe snapshot and publishes it on SendState.
func (c *Core) GetState() state.PublicSnapshot {
	snap := c.store.Snapshot().Public()
	c.bus.Publish(events.SendState, snap)
	return snap
}

// ShowTruePage releases the page lock and sends the page to the video's own watch page.
func (c *Core) ShowTruePage(videoID string) error {
	videoID = strings.TrimSpace(videoID)
	if videoID == "" {
		return ErrNoVideo
	}
	sess := c.store.ShowTruePage(videoID)
	c.bus.Publish(events.SendPlayerInterceptorClientStatus, rooms.InterceptorStatusOf(sess))
	c.bus.Publish(events.Navigate, NavigateTo{URL: protocol.WatchURL(videoID)})
	return nil
}

func (c *Core) SwitchActiveTab() {
	c.bus.Publish(events.UpdateActiveID, ActiveTabRequest{Action: string(events.UpdateActiveID)})
}

func (c *Core) CheckNavigation(control string) reflection.Decision {
	return c.guard.Check(control)
}

func (c *Core) ConfirmNavigation() error {
	return c.guard.Confirm()
}

// ObservePlayer and the two below feed the page's player reports to the synchronizer.
func (c *Core) ObservePlayer(snap protocol.Reflection) { c.player.Observe(snap) }

func (c *Core) ObserveDetails(d protocol.VideoDetails) { c.player.ObserveDetails(d) }

func (c *Core) ObserveAd(showing bool) { c.player.ObserveAd(showing) }
