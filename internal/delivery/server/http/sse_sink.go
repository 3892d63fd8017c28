package http

import (
	"net/http"
)

// sseSink writes encoded frames to an HTTP response. Headers are committed
// with the first frame.
type sseSink struct {
	w       http.ResponseWriter
	started bool
}

func newSSESink(w http.ResponseWriter) *sseSink {
	return &sseSink{w: w}
}

func (s *sseSink) Started() bool { return s.started }

func (s *sseSink) Send(record []byte) error {
	if !s.started {
		header := s.w.Header()
		header.Set("Content-Type", "text/event-stream")
		header.Set("Cache-Control", "no-cache")
		header.Set("Connection", "keep-alive")
		header.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	if _, err := s.w.Write(record); err != nil {
		return err
	}
	return s.Flush()
}

func (s *sseSink) Flush() error {
	if flusher, ok := s.w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}
