package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Mindburn-Labs/codegate/pkg/codecache"
	"github.com/Mindburn-Labs/codegate/pkg/codesource"
	"github.com/Mindburn-Labs/codegate/pkg/execlog"
	"github.com/Mindburn-Labs/codegate/pkg/gateway"
	"github.com/Mindburn-Labs/codegate/pkg/store"
	"github.com/Mindburn-Labs/codegate/pkg/vault"
)

// Server wires the gateway pipeline into the HTTP surface.
type Server struct {
	orch          *gateway.Orchestrator
	vault         *vault.Vault
	logs          *execlog.Logger
	codes         codecache.Store
	fetch         codesource.FetchFunc
	store         store.Client
	publicFileURL string
	logger        *slog.Logger
}

// NewServer creates the HTTP surface. fetch resolves cache misses
// against the upstream code source; publicFileURL, when set, enables
// the /local development route.
func NewServer(orch *gateway.Orchestrator, v *vault.Vault, logs *execlog.Logger, codes codecache.Store, fetch codesource.FetchFunc, st store.Client, publicFileURL string) *Server {
	return &Server{
		orch:          orch,
		vault:         v,
		logs:          logs,
		codes:         codes,
		fetch:         fetch,
		store:         st,
		publicFileURL: publicFileURL,
		logger:        slog.Default().With("component", "api"),
	}
}

// Routes builds the handler with the standard middleware chain.
func (s *Server) Routes(limiter *GlobalRateLimiter) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ipfs/", s.handleScript)
	mux.HandleFunc("/local", s.handleLocal)
	mux.HandleFunc("/vaults", s.handleVaultWrite)
	mux.HandleFunc("/vaults/", s.handleVaultRead)
	mux.HandleFunc("/logs/all/", s.handleLogs)
	mux.HandleFunc("/migrate", s.handleMigrate)
	mux.HandleFunc("/healthz", s.handleHealthz)

	var h http.Handler = mux
	if limiter != nil {
		h = limiter.Middleware(h)
	}
	h = LoggingMiddleware(h)
	h = RequestIDMiddleware(h)
	h = PoweredByMiddleware(h)
	return h
}

// handleScript serves /ipfs/{cid}{subpath...}: any method, the cid is
// the first path segment and the rest is forwarded to the guest.
func (s *Server) handleScript(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/ipfs/")
	if rest == "" {
		WriteNotFound(w, "missing content identifier")
		return
	}
	cid := rest
	subPath := "/"
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		cid = rest[:i]
		subPath = rest[i:]
	}
	if cid == "" {
		WriteNotFound(w, "missing content identifier")
		return
	}

	scriptID := "ipfs/" + cid
	s.orch.HandleScript(w, r, scriptID, subPath, GetRequestID(r.Context()), func(ctx context.Context) (string, error) {
		return s.codes.GetOrFetch(ctx, cid, s.fetch)
	})
}

// handleLocal serves the development route: code comes from a fixed
// URL, bypassing the content-addressed cache.
func (s *Server) handleLocal(w http.ResponseWriter, r *http.Request) {
	if s.publicFileURL == "" {
		WriteNotFound(w, "local code source not configured")
		return
	}
	url := s.publicFileURL
	s.orch.HandleScript(w, r, "local", "/", GetRequestID(r.Context()), func(ctx context.Context) (string, error) {
		return codesource.FetchURL(ctx, nil, url)
	})
}

func (s *Server) handleVaultWrite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var raw any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := secretSchema.Validate(raw); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	var secret vault.Secret
	buf, _ := json.Marshal(raw)
	if err := json.Unmarshal(buf, &secret); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	key, token, err := s.vault.Save(r.Context(), secret)
	if err != nil {
		WriteInternal(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"key":     key,
		"token":   token,
		"succeed": true,
	})
}

// handleVaultRead serves GET /vaults/{key}/{token}. A wrong token and
// an unknown key answer identically.
func (s *Server) handleVaultRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/vaults/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		WriteNotFound(w, "expected /vaults/{key}/{token}")
		return
	}
	key, token := parts[0], parts[1]

	item, err := s.vault.GetItemByAccessToken(r.Context(), key, token)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	if item == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"key":     key,
			"token":   token,
			"succeed": false,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":    item.Data,
		"inherit": item.Inherit,
		"succeed": true,
	})
}

// handleLogs serves GET /logs/all/{scriptId...} with optional
// requestId filter, pagination and a json or text rendering.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}

	scriptID := strings.TrimPrefix(r.URL.Path, "/logs/all/")
	if scriptID == "" {
		WriteNotFound(w, "missing script id")
		return
	}

	q, problem := parseLogQuery(r.URL.Query().Get)
	if problem != "" {
		WriteBadRequest(w, problem)
		return
	}

	records, err := s.logs.Query(r.Context(), scriptID, q.RequestID, q.Page, q.Limit)
	if err != nil {
		WriteInternal(w, err)
		return
	}

	if q.Format == "json" {
		if records == nil {
			records = []execlog.Record{}
		}
		writeJSON(w, http.StatusOK, records)
		return
	}

	lines := make([]string, 0, len(records))
	for _, rec := range records {
		lines = append(lines, rec.Text())
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(strings.Join(lines, "\n") + "\n"))
}

// handleMigrate provisions the schema; safe to call repeatedly.
func (s *Server) handleMigrate(w http.ResponseWriter, r *http.Request) {
	if err := store.EnsureSchema(r.Context(), s.store); err != nil {
		WriteInternal(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("pong"))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
