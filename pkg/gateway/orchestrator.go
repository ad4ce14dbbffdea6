// Package gateway composes the per-request execution pipeline:
// resolve code, resolve secret, execute in the sandbox, persist logs,
// map the result to an HTTP response. The pipeline is strictly linear
// and request-scoped; failures in log persistence never change the
// response determined by the sandbox outcome.
package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Mindburn-Labs/codegate/pkg/execlog"
	"github.com/Mindburn-Labs/codegate/pkg/sandbox"
	"github.com/Mindburn-Labs/codegate/pkg/vault"
)

// publicHost is the synthetic origin presented to guests in the
// payload URL; guests never see the real host.
const publicHost = "https://codegate"

// CodeResolver resolves the guest code for one request.
type CodeResolver func(ctx context.Context) (string, error)

// SecretReader is the slice of the vault the orchestrator needs.
type SecretReader interface {
	GetItem(ctx context.Context, key string) (*vault.Item, error)
}

// Orchestrator runs the request pipeline. It holds no per-request
// state; all collaborators are stateless handles.
type Orchestrator struct {
	vault    SecretReader
	executor sandbox.Executor
	logs     *execlog.Logger
	limits   sandbox.Limits
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an Orchestrator.
func New(secrets SecretReader, executor sandbox.Executor, logs *execlog.Logger, limits sandbox.Limits) *Orchestrator {
	return &Orchestrator{
		vault:    secrets,
		executor: executor,
		logs:     logs,
		limits:   limits,
		logger:   slog.Default().With("component", "gateway"),
		now:      time.Now,
	}
}

// payload is the request descriptor handed to the guest as args[0].
type payload struct {
	Method  string              `json:"method"`
	URL     string              `json:"url"`
	Path    string              `json:"path"`
	Queries map[string][]string `json:"queries"`
	Headers map[string]string   `json:"headers"`
	Body    *string             `json:"body,omitempty"`
	Secret  map[string]any      `json:"secret,omitempty"`
}

// HandleScript drives the full pipeline for one inbound request and
// writes the response. scriptID names the code for logging; path is the
// sub-path forwarded to the guest.
func (o *Orchestrator) HandleScript(w http.ResponseWriter, r *http.Request, scriptID, path, requestID string, resolve CodeResolver) {
	defer func() {
		if rec := recover(); rec != nil {
			o.logger.Error("pipeline panic", "script", scriptID, "request_id", requestID, "panic", rec)
			writeBadRequest(w)
		}
	}()

	ctx := r.Context()

	// ResolveCode. A fetch or cache failure is not a server fault from
	// the caller's perspective.
	code, err := resolve(ctx)
	if err != nil {
		o.logger.Error("code resolution failed", "script", scriptID, "request_id", requestID, "error", err)
		writeBadRequest(w)
		return
	}

	result, err := o.execute(ctx, code, scriptID, path, requestID, r)
	if err != nil {
		o.logger.Error("pipeline failed", "script", scriptID, "request_id", requestID, "error", err)
		writeBadRequest(w)
		return
	}

	// MapResponse. The raw sandbox error stays in the logs; the caller
	// only gets the correlation id.
	if !result.Ok {
		writeServerError(w, requestID)
		return
	}
	spec, err := sandbox.DecodeResponse(result.Value)
	if err != nil {
		o.logger.Error("undecodable guest result", "script", scriptID, "request_id", requestID, "error", err)
		writeServerError(w, requestID)
		return
	}
	for k, v := range spec.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(spec.Status)
	_, _ = w.Write(spec.BodyBytes())
}

// execute runs ResolveSecret, Execute and PersistLogs. The returned
// error covers pre-execution failures only; sandbox failures arrive as
// an Error outcome in the result.
func (o *Orchestrator) execute(ctx context.Context, code, scriptID, path, requestID string, r *http.Request) (*sandbox.Result, error) {
	// ResolveSecret: best-effort. A missing key or item just means the
	// guest runs without a secret; a store failure is fatal.
	var secret map[string]any
	if key := r.URL.Query().Get("key"); key != "" {
		item, err := o.vault.GetItem(ctx, key)
		if err != nil {
			return nil, err
		}
		if item != nil {
			secret = item.Secret
		}
	}

	// Body is forwarded only for mutating methods.
	var body *string
	switch r.Method {
	case http.MethodPost, http.MethodPatch, http.MethodPut:
		raw, err := io.ReadAll(io.LimitReader(r.Body, 8<<20))
		if err != nil {
			return nil, err
		}
		s := string(raw)
		body = &s
	}

	query := r.URL.Query()
	p := payload{
		Method:  r.Method,
		URL:     publicHost + path + "?" + query.Encode(),
		Path:    path,
		Queries: query,
		Headers: flattenHeaders(r.Header),
		Body:    body,
		Secret:  secret,
	}
	// Plain JSON here, not the binary codec, for forward compatibility
	// with older guests.
	args, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	secretJSON, err := json.Marshal(secretOrEmpty(secret))
	if err != nil {
		return nil, err
	}

	started := o.now()
	result, err := o.executor.Execute(ctx, code, []string{string(args)}, map[string]string{
		"secret": string(secretJSON),
	}, o.limits)
	ended := o.now()
	if err != nil {
		result = &sandbox.Result{Ok: false, Err: err.Error()}
	}

	// PersistLogs always runs, whatever the outcome. One batch, one
	// round trip, all records stamped with the end time.
	batch := o.logs.NewBatch(scriptID, requestID)
	batch.BeginRequest(r.Method, r.URL.RequestURI())
	batch.RecordSandboxLogs(result.Logs)
	if !result.Ok {
		batch.RecordError(result.Err)
	}
	batch.EndRequest(ended.Sub(started))
	if err := o.logs.Flush(ctx, batch, ended); err != nil {
		o.logger.Error("log batch write failed", "script", scriptID, "request_id", requestID, "error", err)
	}

	return result, nil
}

// secretOrEmpty mirrors the guest environment convention: absent
// secrets arrive as the JSON empty string, not as null.
func secretOrEmpty(secret map[string]any) any {
	if secret == nil {
		return ""
	}
	return secret
}

// flattenHeaders lowercases names and comma-joins repeated values, the
// shape guests already expect.
func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		if len(vs) > 0 {
			out[strings.ToLower(k)] = strings.Join(vs, ", ")
		}
	}
	return out
}

func writeBadRequest(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)
	_, _ = w.Write([]byte("Bad request"))
}

func writeServerError(w http.ResponseWriter, requestID string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write([]byte("Server Error\nRequest ID: " + requestID))
}

