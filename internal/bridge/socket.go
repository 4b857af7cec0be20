package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"cowatch/internal/protocol"
)

var ErrUnknownFrame = errors.New("unsupported frame type")

const (
	writeWait   = 10 * time.Second
	textMessage = 1
)

// Page → core frame types.
const (
	FramePlayerSnapshot = "PlayerSnapshot"
	FrameVideoDetails   = "VideoDetails"
	FrameAdState        = "AdState"
)

// PageFrame is what the page sends on the event socket.
type PageFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type AdState struct {
	Showing bool `json:"showing"`
}

// Conn is the part of a websocket connection the pump needs. Both the gorilla and the
// hertz connection satisfy it.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Serve pumps every bus event to the page and feeds the page's player reports to the
// core until either side goes away or ctx is done.
func Serve(ctx context.Context, conn Conn, c Core, log zerolog.Logger) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bus := c.Bus()
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)
	log = log.With().Str("subscription", sub.ID()).Logger()
	log.Info().Msg("page socket attached")

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		defer conn.Close()
		for {
			ev, ok := sub.Next(ctx)
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.Error().Err(err).Str("topic", string(ev.Topic)).Msg("event not encodable")
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(textMessage, data); err != nil {
				log.Debug().Err(err).Msg("page write failed")
				return
			}
		}
	}()

	// The page starts from a full snapshot.
	c.GetState()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Msg("page read ended")
			break
		}
		if msgType != textMessage {
			continue
		}
		var frame PageFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Warn().Err(err).Msg("page frame rejected")
			continue
		}
		if err := Dispatch(c, frame); err != nil {
			log.Warn().Err(err).Str("type", frame.Type).Msg("page frame rejected")
		}
	}
	cancel()
	<-writeDone
	log.Info().Msg("page socket detached")
}

// Dispatch applies one page frame to sink.
func Dispatch(sink Sink, frame PageFrame) error {
	switch frame.Type {
	case FramePlayerSnapshot:
		var snap protocol.Reflection
		if err := json.Unmarshal(frame.Data, &snap); err != nil {
			return fmt.Errorf("decode %s: %w", frame.Type, err)
		}
		sink.ObservePlayer(snap)
	case FrameVideoDetails:
		var details protocol.VideoDetails
		if err := json.Unmarshal(frame.Data, &details); err != nil {
			return fmt.Errorf("decode %s: %w", frame.Type, err)
		}
		sink.ObserveDetails(details)
	case FrameAdState:
		var ad AdState
		if err := json.Unmarshal(frame.Data, &ad); err != nil {
			return fmt.Errorf("decode %s: %w", frame.Type, err)
		}
		sink.ObserveAd(ad.Showing)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFrame, frame.Type)
	}
	return nil
}

