package gateway

import (
	"context"
	"errors"
	"sync"

	"github.com/darasahub/voicenav/pkg/speech"
)

// remoteCapture implements [speech.Capture] for clients that run recognition
// themselves (Web Speech API). Starting a session tells the browser to begin
// recognizing; the connection's read loop feeds the browser's result, error,
// and end messages back into the active session via deliver.
type remoteCapture struct {
	supported bool
	send      func(serverMessage) error

	mu     sync.Mutex
	active *remoteSession
}

var _ speech.Capture = (*remoteCapture)(nil)

// Supported reports what the client declared in its hello message.
func (c *remoteCapture) Supported() bool { return c.supported }

// Start implements [speech.Capture].
func (c *remoteCapture) Start(ctx context.Context, _ speech.Config) (speech.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.supported {
		return nil, errors.New("gateway: client does not support speech recognition")
	}

	s := &remoteSession{
		events: make(chan speech.Event, 4),
		stop: func() {
			_ = c.send(serverMessage{Type: msgCapture, Action: "stop"})
		},
	}

	c.mu.Lock()
	prev := c.active
	c.active = s
	c.mu.Unlock()

	// A client that never acknowledged the previous session with an end
	// message would otherwise leave its event stream open forever.
	if prev != nil {
		prev.deliver(speech.Event{Kind: speech.EventEnd})
	}

	if err := c.send(serverMessage{Type: msgCapture, Action: "start"}); err != nil {
		s.deliver(speech.Event{Kind: speech.EventEnd})
		return nil, err
	}
	return s, nil
}

// deliver routes a recognition event from the read loop to the active
// session, if any.
func (c *remoteCapture) deliver(ev speech.Event) {
	c.mu.Lock()
	s := c.active
	c.mu.Unlock()
	if s != nil {
		s.deliver(ev)
	}
}

// closeActive ends the active session. Called when the connection drops so a
// controller watching the event stream does not block forever.
func (c *remoteCapture) closeActive() {
	c.mu.Lock()
	s := c.active
	c.active = nil
	c.mu.Unlock()
	if s != nil {
		s.deliver(speech.Event{Kind: speech.EventEnd})
	}
}

// remoteSession is one client-side recognition attempt relayed over the
// websocket. It implements [speech.Session].
type remoteSession struct {
	events chan speech.Event
	stop   func()

	mu    sync.Mutex
	ended bool
}

var _ speech.Session = (*remoteSession)(nil)

// Events implements [speech.Session].
func (s *remoteSession) Events() <-chan speech.Event { return s.events }

// Stop implements [speech.Session]. The browser acknowledges with an end
// message, which closes the event stream through deliver.
func (s *remoteSession) Stop() error {
	s.stop()
	return nil
}

// deliver enqueues an event, enforcing the session contract: nothing after
// the end event, and the channel is closed exactly once.
func (s *remoteSession) deliver(ev speech.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	select {
	case s.events <- ev:
	default:
		// A misbehaving client flooding events; drop rather than block the
		// read loop.
	}
	if ev.Kind == speech.EventEnd {
		s.ended = true
		close(s.events)
	}
}

// sinkCapture wraps a server-side [speech.Capture] (whisper) and tracks the
// active session's audio sink so the read loop can forward the client's
// binary PCM frames to it.
type sinkCapture struct {
	inner speech.Capture

	mu     sync.Mutex
	active speech.AudioSink
}

var _ speech.Capture = (*sinkCapture)(nil)

func (c *sinkCapture) Supported() bool { return c.inner.Supported() }

func (c *sinkCapture) Start(ctx context.Context, cfg speech.Config) (speech.Session, error) {
	sess, err := c.inner.Start(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if sink, ok := sess.(speech.AudioSink); ok {
		c.mu.Lock()
		c.active = sink
		c.mu.Unlock()
	}
	return sess, nil
}

// forward passes a PCM frame to the active session. Frames arriving between
// sessions are dropped; a closed session returns an error we ignore for the
// same reason.
func (c *sinkCapture) forward(pcm []byte) {
	c.mu.Lock()
	sink := c.active
	c.mu.Unlock()
	if sink != nil {
		_ = sink.SendAudio(pcm)
	}
}
