// Package progress consumes the diffusion backend's websocket stream and
// fans filtered, transformed frames out to per-job subscriber sets. At most
// one upstream proxy task runs per active job; it is created lazily and
// reaped when its subscriber set empties or the upstream closes.
package progress

import (
	"encoding/json"
	"fmt"
)

// Frame types sent to subscribers.
const (
	TypeProgress       = "progress"
	TypeExecuting      = "executing"
	TypeExecuted       = "executed"
	TypeExecutionStart = "execution_start"
	TypeStatus         = "status"
	TypeError          = "error"
)

// Frame is one transformed progress event. An executing frame with an empty
// Node and a completion message marks the end of the stream.
type Frame struct {
	Type       string          `json:"type"`
	Value      int             `json:"value,omitempty"`
	Max        int             `json:"max,omitempty"`
	Label      string          `json:"label,omitempty"`
	Node       string          `json:"node,omitempty"`
	Message    string          `json:"message,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	QueueDepth int             `json:"queue_depth,omitempty"`
}

// upstreamMessage is the raw frame shape the backend emits.
type upstreamMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type progressData struct {
	Value    int    `json:"value"`
	Max      int    `json:"max"`
	PromptID string `json:"prompt_id"`
}

type executingData struct {
	Node     *string `json:"node"`
	PromptID string  `json:"prompt_id"`
}

type executedData struct {
	Node     string          `json:"node"`
	Output   json.RawMessage `json:"output"`
	PromptID string          `json:"prompt_id"`
}

type startData struct {
	PromptID string `json:"prompt_id"`
}

type statusData struct {
	Status struct {
		ExecInfo struct {
			QueueRemaining int `json:"queue_remaining"`
		} `json:"exec_info"`
	} `json:"status"`
}

// transform maps one upstream message to a subscriber frame. The second
// return is false when the message is for another prompt or an unknown kind.
// done is true for the executing frame with a null node, which ends the
// stream.
func transform(raw []byte, promptID string) (frame Frame, ok, done bool, err error) {
	var msg upstreamMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Frame{}, false, false, fmt.Errorf("decode upstream frame: %w", err)
	}

	switch msg.Type {
	case TypeProgress:
		var d progressData
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			return Frame{}, false, false, fmt.Errorf("decode progress data: %w", err)
		}
		if d.PromptID != promptID {
			return Frame{}, false, false, nil
		}
		return Frame{
			Type:  TypeProgress,
			Value: d.Value,
			Max:   d.Max,
			Label: fmt.Sprintf("Step %d of %d", d.Value, d.Max),
		}, true, false, nil

	case TypeExecuting:
		var d executingData
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			return Frame{}, false, false, fmt.Errorf("decode executing data: %w", err)
		}
		if d.PromptID != promptID {
			return Frame{}, false, false, nil
		}
		if d.Node == nil {
			return Frame{Type: TypeExecuting, Message: "Execution complete"}, true, true, nil
		}
		return Frame{
			Type:  TypeExecuting,
			Node:  *d.Node,
			Label: "Executing node " + *d.Node,
		}, true, false, nil

	case TypeExecuted:
		var d executedData
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			return Frame{}, false, false, fmt.Errorf("decode executed data: %w", err)
		}
		if d.PromptID != promptID {
			return Frame{}, false, false, nil
		}
		return Frame{Type: TypeExecuted, Node: d.Node, Output: d.Output}, true, false, nil

	case TypeExecutionStart:
		var d startData
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			return Frame{}, false, false, fmt.Errorf("decode execution_start data: %w", err)
		}
		if d.PromptID != promptID {
			return Frame{}, false, false, nil
		}
		return Frame{Type: TypeExecutionStart, Message: "Execution started"}, true, false, nil

	case TypeStatus:
		var d statusData
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			return Frame{}, false, false, fmt.Errorf("decode status data: %w", err)
		}
		return Frame{Type: TypeStatus, QueueDepth: d.Status.ExecInfo.QueueRemaining}, true, false, nil
	}

	// execution_cached and anything else are dropped silently.
	return Frame{}, false, false, nil
}
