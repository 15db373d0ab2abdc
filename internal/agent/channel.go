package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jcarver/tower/internal/log"
	"github.com/jcarver/tower/internal/protocol"
)

// ErrChannelClosed is returned for calls made against a channel whose agent
// process has exited or whose supervisor shut it down.
var ErrChannelClosed = errors.New("agent channel closed")

// Channel is the duplex conversation with one running agent process:
// requests go to stdin, responses come back on stdout, correlated by id.
// Responses may arrive in any order; each in-flight call parks on its own
// reply slot until its id shows up.
type Channel struct {
	agent  string
	stdin  io.Writer
	reader *protocol.Reader
	logger *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *protocol.Response
	closed  bool

	done chan struct{}
}

// NewChannel wraps a spawned process's pipes and starts the read loop.
func NewChannel(agent string, stdin io.Writer, stdout io.Reader) *Channel {
	c := &Channel{
		agent:   agent,
		stdin:   stdin,
		reader:  protocol.NewReader(stdout),
		logger:  log.WithAgent(agent),
		pending: make(map[string]chan *protocol.Response),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Call sends one request and blocks until its response arrives, the context
// expires, or the channel closes. A context expiry abandons the reply slot
// but leaves the agent process running; a late response for the abandoned id
// is dropped by the read loop.
func (c *Channel) Call(ctx context.Context, method string, params any) (*protocol.Response, error) {
	raw, err := protocol.Marshal(params)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	ch := make(chan *protocol.Response, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrChannelClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	req := &protocol.Request{ID: id, Method: method, Params: raw}

	c.writeMu.Lock()
	err = protocol.EncodeRequest(c.stdin, req)
	c.writeMu.Unlock()
	if err != nil {
		c.drop(id)
		return nil, fmt.Errorf("write to agent %s: %w", c.agent, err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		c.drop(id)
		return nil, ctx.Err()
	case <-c.done:
		// The response may have landed in the reply slot just before the
		// channel closed; an answered call must not report a closed channel.
		select {
		case resp := <-ch:
			return resp, nil
		default:
			return nil, ErrChannelClosed
		}
	}
}

// readLoop routes responses to their waiting callers. Any decode error or
// EOF (the process exited) closes the channel and releases all waiters.
func (c *Channel) readLoop() {
	for {
		resp, err := c.reader.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Warn("agent stream error", "error", err)
			}
			c.Close()
			return
		}

		// Deliver under the lock so a response is either parked in its slot
		// before Close swaps the pending map, or not delivered at all. The
		// slot is buffered, so the send never blocks.
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
			ch <- resp
		}
		c.mu.Unlock()

		if !ok {
			// A caller timed out and abandoned this id, or the agent sent
			// something unsolicited. Either way there is nobody to wake.
			c.logger.Debug("dropping unmatched response", "id", resp.ID)
		}
	}
}

// Close releases every in-flight caller with ErrChannelClosed. Idempotent.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.pending = make(map[string]chan *protocol.Response)
	close(c.done)
	c.mu.Unlock()
}

// Done is closed when the channel is no longer usable.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

func (c *Channel) drop(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}
