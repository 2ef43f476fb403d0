package mqtt

import (
	"context"
	"encoding/json"
	"fmt"

	inframqtt "github.com/halyard-io/pelorus/internal/infrastructure/mqtt"
)

// CommandRequest is the payload accepted on command topics.
//
// The value is forwarded to the upstream in SI units. Setting display
// marks the value as being in the path's display unit; it is converted
// back to SI through the path's inverse formula before forwarding.
type CommandRequest struct {
	// Value is the value to write.
	Value any `json:"value"`

	// Display marks Value as display-unit rather than SI.
	Display bool `json:"display,omitempty"`
}

// pendingCommand is a validated command waiting on the upstream.
type pendingCommand struct {
	path  string
	value any
}

// handleCommandMessage validates an inbound command and queues it for
// the worker. Runs on the MQTT client's delivery goroutine, so it must
// not block on the upstream itself. Returned errors are logged by the
// client.
func (b *Bridge) handleCommandMessage(topic string, payload []byte) error {
	b.commandsReceived.Add(1)

	path, ok := inframqtt.PathFromTopic(topic, inframqtt.TopicPrefixCommand)
	if !ok {
		b.commandsFailed.Add(1)
		return fmt.Errorf("%w: %s", ErrUnknownCommandTopic, topic)
	}

	var req CommandRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		b.commandsFailed.Add(1)
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	if req.Value == nil {
		b.commandsFailed.Add(1)
		return fmt.Errorf("%w: missing value", ErrInvalidCommand)
	}

	value := req.Value
	if req.Display {
		display, isNumber := req.Value.(float64)
		if !isNumber {
			b.commandsFailed.Add(1)
			return fmt.Errorf("%w: display conversion needs a numeric value", ErrInvalidCommand)
		}
		value = b.resolver.SIForCommand(path, display)
	}

	select {
	case b.commands <- pendingCommand{path: path, value: value}:
		return nil
	default:
		b.commandsFailed.Add(1)
		return fmt.Errorf("%w: %s", ErrCommandQueueFull, path)
	}
}

// commandWorker drains the queue one write at a time, keeping upstream
// writes in arrival order.
func (b *Bridge) commandWorker() {
	defer b.wg.Done()

	for {
		select {
		case <-b.done:
			return
		case cmd := <-b.commands:
			b.executeCommand(cmd)
		}
	}
}

// executeCommand forwards one command upstream and records the outcome.
func (b *Bridge) executeCommand(cmd pendingCommand) {
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	err := b.commander.Put(ctx, cmd.path, cmd.value)
	b.audit(cmd.path, cmd.value, err)

	if err != nil {
		b.commandsFailed.Add(1)
		b.logError("command rejected", fmt.Errorf("%s: %w", cmd.path, err))
		return
	}

	b.commandsForwarded.Add(1)
	b.logInfo("command forwarded", "path", cmd.path, "value", cmd.value)
}

// audit records a command outcome when an auditor is wired. Uses the
// bridge context rather than the write context, which may already have
// expired.
func (b *Bridge) audit(path string, value any, result error) {
	if b.auditor == nil {
		return
	}
	b.auditor.RecordCommand(b.ctx, path, value, result)
}
