package gateway

import (
	"bufio"
	"io"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
)

// Event names emitted on the chat event stream.
const (
	EventOpen    = "open"
	EventChunk   = "chunk"
	EventTool    = "tool"
	EventMessage = "message"
	EventDone    = "done"
	EventError   = "error"
)

// Event is one named server-push event with its raw data payload.
type Event struct {
	Name string
	Data string
}

// Text returns the textual content of chunk, message and done events.
// Non-JSON payloads are returned verbatim.
func (e Event) Text() string {
	if !gjson.Valid(e.Data) {
		return e.Data
	}
	r := gjson.Parse(e.Data)
	if r.Type == gjson.String {
		return r.String()
	}
	return firstString(r, "text", "delta", "content", "message")
}

// ToolName returns the invoked tool's name for tool events.
func (e Event) ToolName() string {
	if !gjson.Valid(e.Data) {
		return strings.TrimSpace(e.Data)
	}
	return firstString(gjson.Parse(e.Data), "name", "tool", "toolName")
}

// Role returns the author role of a message event, if present.
func (e Event) Role() string {
	return gjson.Get(e.Data, "role").String()
}

// ErrorText returns the error description of an error event.
func (e Event) ErrorText() string {
	if !gjson.Valid(e.Data) {
		return e.Data
	}
	return firstString(gjson.Parse(e.Data), "error", "message")
}

// sseStream parses a text/event-stream body.
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	once    sync.Once
}

func newSSEStream(body io.ReadCloser) *sseStream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	return &sseStream{body: body, scanner: sc}
}

// Next returns the next complete event. Comment lines and events without data are skipped.
func (s *sseStream) Next() (Event, error) {
	var name string
	var data []string
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if line == "" {
			if len(data) == 0 && name == "" {
				continue
			}
			if name == "" {
				name = EventMessage
			}
			return Event{Name: name, Data: strings.Join(data, "\n")}, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			data = append(data, value)
		}
	}
	if err := s.scanner.Err(); err != nil {
		return Event{}, err
	}
	if name != "" || len(data) > 0 {
		if name == "" {
			name = EventMessage
		}
		return Event{Name: name, Data: strings.Join(data, "\n")}, nil
	}
	return Event{}, io.EOF
}

func (s *sseStream) Close() error {
	var err error
	s.once.Do(func() { err = s.body.Close() })
	return err
}
