package source

import (
	"context"
	"errors"
	"sync"
)

// ErrNoStream is returned when a frame is pushed with no open stream
var ErrNoStream = errors.New("no open camera stream")

// RelayCamera is a camera whose frames are pushed by a remote client, such as
// a browser streaming its own camera over HTTP. Only the latest frame is kept.
type RelayCamera struct {
	mu     sync.Mutex
	stream *relayStream
}

func NewRelayCamera() *RelayCamera {
	return &RelayCamera{}
}

func (c *RelayCamera) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		c.stream.Stop()
	}
	c.stream = &relayStream{
		frames: make(chan []byte, 1),
		done:   make(chan struct{}),
	}
	return c.stream, nil
}

// Push offers a frame to the open stream, replacing any frame not yet grabbed
func (c *RelayCamera) Push(frame []byte) error {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()

	if stream == nil {
		return ErrNoStream
	}
	return stream.push(frame)
}

// Streaming reports whether a stream is open and not stopped
func (c *RelayCamera) Streaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream != nil && !c.stream.stopped()
}

type relayStream struct {
	frames   chan []byte
	done     chan struct{}
	stopOnce sync.Once
	mu       sync.Mutex
}

func (s *relayStream) push(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped() {
		return ErrStreamStopped
	}
	buf := make([]byte, len(frame))
	copy(buf, frame)
	select {
	case <-s.frames:
	default:
	}
	s.frames <- buf
	return nil
}

func (s *relayStream) Grab(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-s.frames:
		return frame, nil
	case <-s.done:
		return nil, ErrStreamStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *relayStream) Stop() error {
	s.stopOnce.Do(func() { close(s.done) })
	return nil
}

func (s *relayStream) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
