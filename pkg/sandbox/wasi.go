package sandbox

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

// OutputMaxBytes caps stdout+stderr from one guest execution.
const OutputMaxBytes = 1 << 20

// WasiExecutor runs guest WebAssembly modules under WASI with strict
// confinement: no filesystem, no network, memory capped by pages, time
// capped by context deadline with close-on-context-done so busy loops
// are interrupted. The instruction budget has no direct metering in the
// runtime and is enforced through the same deadline interruption.
type WasiExecutor struct{}

// NewWasiExecutor creates the production executor.
func NewWasiExecutor() *WasiExecutor {
	return &WasiExecutor{}
}

// envelope is what the guest writes to stdout: its outcome, its return
// value (binary or JSON text), and its buffered log lines.
type envelope struct {
	Ok    bool       `cbor:"ok"`
	Value any        `cbor:"value,omitempty"`
	Error string     `cbor:"error,omitempty"`
	Logs  []LogEntry `cbor:"logs,omitempty"`
}

func (e *WasiExecutor) Execute(ctx context.Context, code string, args []string, env map[string]string, limits Limits) (*Result, error) {
	rConfig := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if limits.MemoryBytes > 0 {
		pages := uint32(limits.MemoryBytes / 65536)
		if pages == 0 {
			pages = 1
		}
		rConfig = rConfig.WithMemoryLimitPages(pages)
	}

	execCtx := ctx
	if limits.TimeLimit > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, limits.TimeLimit)
		defer cancel()
	}

	r := wazero.NewRuntimeWithConfig(execCtx, rConfig)
	defer func() { _ = r.Close(ctx) }()

	if _, err := wasi_snapshot_preview1.Instantiate(execCtx, r); err != nil {
		return nil, &Error{Code: "ERR_RUNTIME_INIT", Message: err.Error()}
	}

	var stdin bytes.Buffer
	if len(args) > 0 {
		stdin.WriteString(args[0])
	}
	var stdout, stderr bytes.Buffer

	moduleConfig := wazero.NewModuleConfig().
		WithName("guest").
		WithArgs(append([]string{"guest"}, args...)...).
		WithStdin(&stdin).
		WithStdout(&stdout).
		WithStderr(&stderr)
	for k, v := range env {
		moduleConfig = moduleConfig.WithEnv(k, v)
	}

	compiled, err := r.CompileModule(execCtx, []byte(code))
	if err != nil {
		return &Result{Ok: false, Err: "compile failed: " + err.Error()}, nil
	}
	defer func() { _ = compiled.Close(ctx) }()

	mod, err := r.InstantiateModule(execCtx, compiled, moduleConfig)
	if mod != nil {
		defer func() { _ = mod.Close(ctx) }()
	}
	if err != nil && !isCleanExit(err) {
		if violation := classifyRunError(execCtx, err, limits); violation != nil {
			return &Result{Ok: false, Err: violation.Error(), Logs: stderrLogs(&stderr)}, nil
		}
		return &Result{Ok: false, Err: err.Error(), Logs: stderrLogs(&stderr)}, nil
	}

	if stdout.Len()+stderr.Len() > OutputMaxBytes {
		violation := &Error{Code: ErrComputeOutputExhausted, Message: "guest output exceeds limit"}
		return &Result{Ok: false, Err: violation.Error()}, nil
	}

	var env2 envelope
	if err := cbor.Unmarshal(stdout.Bytes(), &env2); err != nil {
		undec := &Error{Code: ErrResultUndecodable, Message: "guest wrote an undecodable result envelope"}
		return &Result{Ok: false, Err: undec.Error(), Logs: stderrLogs(&stderr)}, nil
	}

	result := &Result{
		Ok:   env2.Ok,
		Err:  env2.Error,
		Logs: append(env2.Logs, stderrLogs(&stderr)...),
	}
	switch v := env2.Value.(type) {
	case []byte:
		result.Value = Value{Binary: v, IsBinary: true}
	case string:
		result.Value = Value{Text: v}
	case nil:
	default:
		// The envelope codec only produces byte strings, text strings
		// or nil for the value slot.
		undec := &Error{Code: ErrResultUndecodable, Message: "guest value has an unsupported wire type"}
		return &Result{Ok: false, Err: undec.Error(), Logs: result.Logs}, nil
	}
	return result, nil
}

// isCleanExit reports whether the guest called proc_exit(0), which
// wazero surfaces as an error even though it is a normal completion.
func isCleanExit(err error) bool {
	var exitErr *sys.ExitError
	return errors.As(err, &exitErr) && exitErr.ExitCode() == 0
}

// classifyRunError maps runtime failures onto deterministic budget
// violation codes; nil means the failure was the guest's own. An
// upstream cancellation (client disconnect) is not a budget violation
// and passes through unclassified.
func classifyRunError(execCtx context.Context, err error, limits Limits) *Error {
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return &Error{
			Code:    ErrComputeTimeExhausted,
			Message: "execution exceeded time limit (" + limits.TimeLimit.String() + ")",
		}
	}
	msg := err.Error()
	if strings.Contains(msg, "memory") && (strings.Contains(msg, "limit") || strings.Contains(msg, "grow") || strings.Contains(msg, "exceeded")) {
		return &Error{Code: ErrComputeMemoryExhausted, Message: "execution exceeded memory limit"}
	}
	return nil
}

// stderrLogs turns raw stderr lines into error-level log entries so
// guest diagnostics are never dropped.
func stderrLogs(buf *bytes.Buffer) []LogEntry {
	if buf.Len() == 0 {
		return nil
	}
	var logs []LogEntry
	for _, line := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
		if line == "" {
			continue
		}
		logs = append(logs, LogEntry{Level: 4, Message: line})
	}
	return logs
}
