package signalk

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// defaultPutTimeout bounds a PUT when the caller's context carries no
// deadline of its own.
const defaultPutTimeout = 10 * time.Second

// PUT request states reported by the server.
const (
	// PutStateCompleted means the request finished; StatusCode tells
	// whether it succeeded.
	PutStateCompleted = "COMPLETED"

	// PutStatePending means the server accepted the request and will
	// answer again with a terminal state.
	PutStatePending = "PENDING"

	// PutStateFailed means the request was rejected outright.
	PutStateFailed = "FAILED"
)

// PutRequest is the wire shape of a PUT sent over the stream.
type PutRequest struct {
	// RequestID correlates the response frames with this request.
	RequestID string `json:"requestId"`

	// Context is the vessel the request applies to.
	Context string `json:"context"`

	// Put carries the target path and the new value.
	Put PutPayload `json:"put"`
}

// PutPayload is the path/value pair inside a PUT request.
type PutPayload struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// PutResponse is the server's answer to a PUT request.
type PutResponse struct {
	RequestID  string `json:"requestId"`
	State      string `json:"state"`
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message,omitempty"`

	// err carries a local failure (disconnect) into the waiting Put call.
	err error
}

// Put sends a PUT request over the stream and waits for the terminal
// response. Values must already be SI; display-to-SI conversion is the
// caller's concern.
//
// Parameters:
//   - ctx: Context for cancellation (a default timeout applies when it
//     carries no deadline)
//   - path: Dotted telemetry path to write
//   - value: New value in SI units
//
// Returns:
//   - error: nil on success; ErrNotConnected, ErrRequestTimeout when no
//     terminal response arrives in time, ErrPutRejected when the server
//     answers with a failure state
func (c *Client) Put(ctx context.Context, path string, value any) error {
	if path == "" {
		return fmt.Errorf("%w: path is required", ErrPutRejected)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultPutTimeout)
		defer cancel()
	}

	requestID := uuid.New().String()
	// Buffered so a PENDING frame and its terminal response never race
	// the reader; the non-blocking send in resolvePut drops overflow.
	respCh := make(chan PutResponse, 4)

	c.pendingMu.Lock()
	c.pending[requestID] = respCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, requestID)
		c.pendingMu.Unlock()
	}()

	req := PutRequest{
		RequestID: requestID,
		Context:   "vessels.self",
		Put:       PutPayload{Path: path, Value: value},
	}
	if err := c.writeJSON(req); err != nil {
		return err
	}
	c.putsTx.Add(1)

	// The server may answer PENDING before the terminal state; keep
	// waiting until a terminal response or the deadline.
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: path %s: %w", ErrRequestTimeout, path, ctx.Err())
		case resp := <-respCh:
			if resp.err != nil {
				return resp.err
			}
			if resp.State == PutStatePending {
				continue
			}
			if resp.State == PutStateCompleted && resp.StatusCode < 400 {
				return nil
			}
			if resp.Message != "" {
				return fmt.Errorf("%w: path %s: %s (status %d)", ErrPutRejected, path, resp.Message, resp.StatusCode)
			}
			return fmt.Errorf("%w: path %s: state %s (status %d)", ErrPutRejected, path, resp.State, resp.StatusCode)
		}
	}
}

// resolvePut routes a PUT response frame to the waiting Put call.
// Responses for unknown request IDs (late arrivals after timeout) are
// dropped.
func (c *Client) resolvePut(data []byte) {
	var resp PutResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		c.errorsTotal.Add(1)
		c.logError("malformed put response", err)
		return
	}

	c.pendingMu.Lock()
	respCh, ok := c.pending[resp.RequestID]
	if ok && resp.State != PutStatePending {
		// Terminal response; the channel is single-use.
		delete(c.pending, resp.RequestID)
	}
	c.pendingMu.Unlock()

	if !ok {
		c.logDebug("put response for unknown request", "request_id", resp.RequestID)
		return
	}

	select {
	case respCh <- resp:
	default:
	}
}

// failPending answers every waiting PUT with a local error. Called on
// disconnect and on Close so callers never block past the stream.
func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan PutResponse)
	c.pendingMu.Unlock()

	for _, respCh := range pending {
		select {
		case respCh <- PutResponse{err: err}:
		default:
		}
	}
}

// writeJSON marshals and sends one frame, serialized against concurrent
// writers.
func (c *Client) writeJSON(v any) error {
	conn := c.currentConn()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	//nolint:errcheck // Best-effort deadline; write error caught below
	conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	if err := conn.WriteJSON(v); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: write: %w", ErrConnectionFailed, err)
	}
	return nil
}
