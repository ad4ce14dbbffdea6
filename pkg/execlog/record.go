package execlog

import (
	"encoding/json"
	"fmt"
	"time"
)

// Level classifies a log record.
type Level string

const (
	LevelInfo   Level = "INFO"
	LevelWarn   Level = "WARN"
	LevelError  Level = "ERROR"
	LevelReport Level = "REPORT"
)

// FromSandboxLevel translates the guest's numeric log level. Unmapped
// levels surface as a distinct UNKNOWN(n) category instead of vanishing.
func FromSandboxLevel(n int) Level {
	switch n {
	case 2:
		return LevelInfo
	case 3:
		return LevelWarn
	case 4:
		return LevelError
	default:
		return Level(fmt.Sprintf("UNKNOWN(%d)", n))
	}
}

// Record is one persisted execution log line.
type Record struct {
	ScriptID  string
	RequestID string
	Level     Level
	Message   string
	CreatedAt time.Time
}

// isoMillis matches the upstream timestamp rendering: UTC with
// millisecond precision and a literal Z.
const isoMillis = "2006-01-02T15:04:05.000Z"

// Timestamp renders CreatedAt for display.
func (r Record) Timestamp() string {
	return r.CreatedAt.UTC().Format(isoMillis)
}

// Text renders the record in the human-readable replay format.
func (r Record) Text() string {
	return fmt.Sprintf("%s [%s] [%s] %s", r.Timestamp(), r.RequestID, r.Level, r.Message)
}

func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ScriptID  string `json:"script_id"`
		RequestID string `json:"request_id"`
		Level     Level  `json:"level"`
		Message   string `json:"message"`
		CreatedAt string `json:"created_at"`
	}{r.ScriptID, r.RequestID, r.Level, r.Message, r.Timestamp()})
}
