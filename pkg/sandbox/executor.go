// Package sandbox defines the invocation contract for the isolated
// guest execution environment and interprets its results. The isolation
// mechanism itself is a black box behind the Executor interface; the
// production implementation runs WebAssembly via wazero.
package sandbox

import (
	"context"
	"fmt"
	"time"
)

// Limits bounds a single guest execution. Exceeding any bound yields an
// Error outcome with a distinguishable reason, never a hang.
type Limits struct {
	TimeLimit         time.Duration
	InstructionBudget uint64
	MemoryBytes       uint64
}

// LogEntry is one log line emitted by the guest, with its numeric level
// (2=info, 3=warn, 4=error in the guest convention).
type LogEntry struct {
	Level   int    `json:"level" cbor:"level"`
	Message string `json:"message" cbor:"message"`
}

// Value is the guest's return value in its wire form: either a compact
// self-describing binary payload or a JSON-encoded string. The caller
// detects the encoding by shape via DecodeResponse.
type Value struct {
	Binary   []byte
	Text     string
	IsBinary bool
}

// Result is the outcome of one guest execution: Ok with a value, or an
// error message, plus any logs emitted along the way.
type Result struct {
	Ok    bool
	Value Value
	Err   string
	Logs  []LogEntry
}

// Executor runs guest code under the given limits. args carries the
// request payload (args[0] is the JSON-encoded request), env the
// guest's environment. Implementations return an Error outcome inside
// Result for guest failures and budget violations; a non-nil error
// means the executor itself could not run.
type Executor interface {
	Execute(ctx context.Context, code string, args []string, env map[string]string, limits Limits) (*Result, error)
}

// Deterministic error codes for budget violations and result handling.
const (
	ErrComputeTimeExhausted   = "ERR_COMPUTE_TIME_EXHAUSTED"
	ErrComputeMemoryExhausted = "ERR_COMPUTE_MEMORY_EXHAUSTED"
	ErrComputeOutputExhausted = "ERR_COMPUTE_OUTPUT_EXHAUSTED"
	ErrResultUndecodable      = "ERR_RESULT_UNDECODABLE"
)

// Error is a typed sandbox failure with a deterministic code.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
