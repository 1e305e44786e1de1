package comfy

import (
	"fmt"
	"time"
)

// UnreachableError means the backend did not answer its health probe.
type UnreachableError struct {
	URL string
	Err error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("diffusion backend unreachable at %s: %v", e.URL, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// TimeoutError means AwaitCompletion hit its hard bound.
type TimeoutError struct {
	PromptID string
	After    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("generation %s timed out after %s", e.PromptID, e.After)
}

// ExecutionError means backend history marked the prompt as errored.
type ExecutionError struct {
	PromptID string
	Detail   string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("generation %s failed on backend: %s", e.PromptID, e.Detail)
}
