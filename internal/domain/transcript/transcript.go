// Package transcript defines how finished conversation turns are handed to
// persistence.
package transcript

import (
	"context"
	"strings"
	"time"
)

// DefaultAppTag labels records produced by the research answer flow.
const DefaultAppTag = "REPORT_QA"

// Attachment references a file the caller sent with the query.
type Attachment struct {
	Name string `json:"name" yaml:"name"`
	URL  string `json:"url" yaml:"url"`
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
}

// Record is one completed turn.
type Record struct {
	RecordID    string            `json:"record_id"`
	ThreadID    string            `json:"thread_id"`
	Query       string            `json:"query"`
	Chunks      []string          `json:"chunks"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	AppTag      string            `json:"app_tag"`
	CallerID    string            `json:"caller_id"`
	Credential  string            `json:"-"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Answer joins the chunks into the text the caller saw.
func (r Record) Answer() string {
	return strings.Join(r.Chunks, "")
}

// Recorder persists completed turns.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, rec Record) error

func (f RecorderFunc) Record(ctx context.Context, rec Record) error {
	return f(ctx, rec)
}
