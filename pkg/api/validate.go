package api

import (
	"strconv"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// secretSchema validates the vault write body before it reaches the
// store: cid and data are required, inherit is an optional parent key.
var secretSchema = jsonschema.MustCompileString("secret.json", `{
	"type": "object",
	"required": ["cid", "data"],
	"properties": {
		"cid": {"type": "string", "minLength": 1},
		"data": {"type": "object"},
		"inherit": {"type": "string"}
	}
}`)

// logQuery holds validated replay query parameters.
type logQuery struct {
	RequestID string
	Page      int
	Limit     int
	Format    string
}

// parseLogQuery validates and defaults the replay query string. Numeric
// parameters must parse; range clamping to [1,100] happens downstream.
func parseLogQuery(get func(string) string) (logQuery, string) {
	q := logQuery{RequestID: get("requestId"), Page: 1, Limit: 100, Format: "text"}

	if raw := get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return q, "page must be a number"
		}
		q.Page = n
	}
	if raw := get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return q, "limit must be a number"
		}
		q.Limit = n
	}
	switch raw := get("format"); raw {
	case "", "text":
		q.Format = "text"
	case "json":
		q.Format = "json"
	default:
		return q, "format must be json or text"
	}
	return q, ""
}
