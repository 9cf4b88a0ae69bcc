package httpclient

import "net/http"

// Envelope is the normalized result of one logical call.
// A zero Status means no response was received (every attempt timed out).
type Envelope struct {
	OK         bool        `json:"ok"`
	Status     int         `json:"status"`
	StatusText string      `json:"statusText"`
	Header     http.Header `json:"headers,omitempty"`
	URL        string      `json:"url"`
	Data       any         `json:"data"`
	Raw        string      `json:"-"`
	IsJSON     bool        `json:"isJson"`

	Attempts  int    `json:"-"`
	TimedOut  bool   `json:"isTimedOut,omitempty"`
	RequestID string `json:"-"`
}

// Empty reports whether the call produced no response. Callers must check it
// before reading Data, since timeouts are not returned as errors.
func (e *Envelope) Empty() bool {
	return e == nil || e.Status == 0
}

// Object returns Data as a JSON object, or nil when it is anything else.
func (e *Envelope) Object() map[string]any {
	if e == nil {
		return nil
	}
	m, _ := e.Data.(map[string]any)
	return m
}
