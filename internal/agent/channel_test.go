package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcarver/tower/internal/log"
	"github.com/jcarver/tower/internal/protocol"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

// scriptedAgent reads request envelopes off the channel's stdin pipe and
// hands them to the test, which replies on the stdout pipe.
type scriptedAgent struct {
	stdin    *io.PipeReader
	stdout   *io.PipeWriter
	requests chan *protocol.Request
}

func newScriptedAgent(t *testing.T) (*Channel, *scriptedAgent) {
	t.Helper()

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	sa := &scriptedAgent{
		stdin:    stdinR,
		stdout:   stdoutW,
		requests: make(chan *protocol.Request, 16),
	}
	go func() {
		sc := bufio.NewScanner(stdinR)
		for sc.Scan() {
			var req protocol.Request
			if err := json.Unmarshal(sc.Bytes(), &req); err != nil {
				continue
			}
			sa.requests <- &req
		}
		close(sa.requests)
	}()

	ch := NewChannel("test", stdinW, stdoutR)
	t.Cleanup(func() {
		ch.Close()
		stdoutW.Close()
		stdinR.Close()
	})
	return ch, sa
}

func (sa *scriptedAgent) nextRequest(t *testing.T) *protocol.Request {
	t.Helper()
	select {
	case req := <-sa.requests:
		require.NotNil(t, req)
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("no request arrived")
		return nil
	}
}

func (sa *scriptedAgent) respond(t *testing.T, id string, result any) {
	t.Helper()
	raw, err := json.Marshal(result)
	require.NoError(t, err)
	line, err := json.Marshal(protocol.Response{ID: id, Result: raw})
	require.NoError(t, err)
	_, err = fmt.Fprintf(sa.stdout, "%s\n", line)
	require.NoError(t, err)
}

func TestCall_RoundTrip(t *testing.T) {
	ch, sa := newScriptedAgent(t)

	go func() {
		req := sa.nextRequest(t)
		sa.respond(t, req.ID, map[string]any{"pong": true})
	}()

	resp, err := ch.Call(context.Background(), protocol.MethodPing, nil)
	require.NoError(t, err)
	assert.Nil(t, resp.Error)

	var result map[string]bool
	require.NoError(t, protocol.Unmarshal(resp.Result, &result))
	assert.True(t, result["pong"])
}

func TestCall_OutOfOrderResponses(t *testing.T) {
	ch, sa := newScriptedAgent(t)

	// Two calls in flight; the agent answers the second one first. Each
	// caller must still receive the response carrying its own id.
	results := make(chan string, 2)
	var wg sync.WaitGroup
	for _, tag := range []string{"first", "second"} {
		wg.Add(1)
		go func(tag string) {
			defer wg.Done()
			resp, err := ch.Call(context.Background(), protocol.MethodCallTool,
				protocol.CallToolParams{Name: tag})
			assert.NoError(t, err)

			var echoed protocol.CallToolParams
			assert.NoError(t, protocol.Unmarshal(resp.Result, &echoed))
			results <- echoed.Name
		}(tag)
	}

	reqA := sa.nextRequest(t)
	reqB := sa.nextRequest(t)

	// Reply in reverse order, echoing each request's own params back.
	for _, req := range []*protocol.Request{reqB, reqA} {
		var params protocol.CallToolParams
		require.NoError(t, json.Unmarshal(req.Params, &params))
		sa.respond(t, req.ID, params)
	}
	wg.Wait()
	close(results)

	seen := map[string]bool{}
	for name := range results {
		seen[name] = true
	}
	assert.True(t, seen["first"])
	assert.True(t, seen["second"])
}

func TestCall_ContextExpiryAbandonsSlot(t *testing.T) {
	ch, sa := newScriptedAgent(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := ch.Call(ctx, protocol.MethodPing, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The late response for the abandoned id is dropped, and the channel
	// keeps serving fresh calls.
	stale := sa.nextRequest(t)
	sa.respond(t, stale.ID, map[string]any{"late": true})

	go func() {
		req := sa.nextRequest(t)
		sa.respond(t, req.ID, map[string]any{"pong": true})
	}()

	resp, err := ch.Call(context.Background(), protocol.MethodPing, nil)
	require.NoError(t, err)

	var result map[string]bool
	require.NoError(t, protocol.Unmarshal(resp.Result, &result))
	assert.True(t, result["pong"])
}

func TestClose_ReleasesWaiters(t *testing.T) {
	ch, sa := newScriptedAgent(t)

	errs := make(chan error, 1)
	go func() {
		_, err := ch.Call(context.Background(), protocol.MethodPing, nil)
		errs <- err
	}()

	sa.nextRequest(t)
	ch.Close()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrChannelClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not released")
	}

	// Calls after close fail immediately.
	_, err := ch.Call(context.Background(), protocol.MethodPing, nil)
	assert.ErrorIs(t, err, ErrChannelClosed)
}

func TestCall_ResponseDeliveredBeforeCloseWins(t *testing.T) {
	// The response lands in the reply slot and the channel closes right
	// behind it. The answered call must return the response, never
	// ErrChannelClosed. Repeated to exercise the select race.
	for i := 0; i < 20; i++ {
		ch, sa := newScriptedAgent(t)

		errs := make(chan error, 1)
		results := make(chan *protocol.Response, 1)
		go func() {
			resp, err := ch.Call(context.Background(), protocol.MethodPing, nil)
			results <- resp
			errs <- err
		}()

		req := sa.nextRequest(t)
		sa.respond(t, req.ID, map[string]any{"pong": true})
		// Let the read loop park the response in the slot, then close while
		// the caller may still be entering its select.
		time.Sleep(10 * time.Millisecond)
		ch.Close()

		select {
		case err := <-errs:
			require.NoError(t, err)
			require.NotNil(t, <-results)
		case <-time.After(2 * time.Second):
			t.Fatal("call never returned")
		}
	}
}

func TestReadLoop_EOFClosesChannel(t *testing.T) {
	ch, sa := newScriptedAgent(t)

	errs := make(chan error, 1)
	go func() {
		_, err := ch.Call(context.Background(), protocol.MethodPing, nil)
		errs <- err
	}()
	sa.nextRequest(t)

	// Agent process "exits": its stdout closes.
	sa.stdout.Close()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrChannelClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not released on EOF")
	}

	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed on EOF")
	}
}
