package ws

import (
	"errors"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/agentshell/internal/routing"
)

// ErrSendBufferFull is returned by Deliver when the client is not keeping up.
var ErrSendBufferFull = errors.New("websocket send buffer full")

// Surface is one websocket client as the router sees it. Deliver never
// blocks; frames are written by the connection's writer goroutine.
type Surface struct {
	id     string
	send   chan []byte
	closed chan struct{}
	once   sync.Once
}

func newSurface(id string, buffer int) *Surface {
	return &Surface{
		id:     id,
		send:   make(chan []byte, buffer),
		closed: make(chan struct{}),
	}
}

// ID returns the surface id.
func (s *Surface) ID() string { return s.id }

// Alive reports whether the connection is still open.
func (s *Surface) Alive() bool {
	select {
	case <-s.closed:
		return false
	default:
		return true
	}
}

// Deliver queues ev for the client.
func (s *Surface) Deliver(ev routing.Event) error {
	if !s.Alive() {
		return routing.ErrSurfaceClosed
	}
	frame, err := sonic.Marshal(OutboundMessage{Type: TypeEvent, Event: &ev})
	if err != nil {
		return err
	}
	select {
	case s.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// reply queues a response to the client's own request, waiting for room
// rather than dropping it.
func (s *Surface) reply(msg OutboundMessage) error {
	frame, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case <-s.closed:
		return routing.ErrSurfaceClosed
	default:
	}
	select {
	case s.send <- frame:
		return nil
	case <-s.closed:
		return routing.ErrSurfaceClosed
	}
}

func (s *Surface) close() {
	s.once.Do(func() { close(s.closed) })
}
