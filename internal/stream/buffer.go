package stream

import (
	"strings"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/artifact"
)

const (
	// DefaultMaxLines is the rolling buffer size per agent.
	DefaultMaxLines = 200
	dedupWindow     = 3
	dedupMinLen     = 8
)

// EstimateTokens approximates the token count of text as ceil(len/4).
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// Buffer is one agent's rolling output. Not safe for concurrent use.
type Buffer struct {
	max         int
	lines       []string
	partial     string
	turn        strings.Builder
	lastMessage string
	tokens      int
}

// NewBuffer returns a Buffer keeping at most max complete lines.
func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = DefaultMaxLines
	}
	return &Buffer{max: max}
}

// AppendChunk adds streamed text and reports whether there was any.
// Replays are absorbed by line dedup against the tail, never per chunk,
// since token streams legitimately repeat chunks.
func (b *Buffer) AppendChunk(text string) bool {
	if text == "" {
		return false
	}
	b.tokens += EstimateTokens(text)
	b.turn.WriteString(text)

	data := b.partial + text
	parts := strings.Split(data, "\n")
	b.partial = parts[len(parts)-1]
	for _, l := range parts[:len(parts)-1] {
		b.pushLine(l)
	}
	return true
}

// AppendMessage records a complete assistant message. When the turn
// produced no streamed chunks the message becomes the turn text.
func (b *Buffer) AppendMessage(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	b.lastMessage = text
	if b.turn.Len() == 0 {
		b.AppendChunk(text)
		b.flushPartial()
	}
}

// AppendTool records a synthetic tool invocation line.
func (b *Buffer) AppendTool(name string) {
	b.flushPartial()
	b.pushLine(artifact.ToolLinePrefix + name + "()")
}

// EndTurn flushes the partial line and returns the final text of the turn:
// done text if given, else the last full message, else the streamed turn text.
func (b *Buffer) EndTurn(doneText string) string {
	b.flushPartial()
	final := strings.TrimSpace(doneText)
	if final == "" {
		final = strings.TrimSpace(b.lastMessage)
	}
	if final == "" {
		final = strings.TrimSpace(b.turn.String())
	}
	b.turn.Reset()
	b.lastMessage = ""
	return final
}

func (b *Buffer) flushPartial() {
	if b.partial != "" {
		b.pushLine(b.partial)
		b.partial = ""
	}
}

// pushLine appends a complete line, skipping a repeat of one of the last
// few lines. Short lines and fence markers are never deduplicated.
func (b *Buffer) pushLine(line string) {
	t := strings.TrimSpace(line)
	if len(t) >= dedupMinLen && !strings.HasPrefix(t, "```") {
		start := len(b.lines) - dedupWindow
		if start < 0 {
			start = 0
		}
		for _, prev := range b.lines[start:] {
			if strings.TrimSpace(prev) == t {
				return
			}
		}
	}
	b.lines = append(b.lines, line)
	if over := len(b.lines) - b.max; over > 0 {
		b.lines = append(b.lines[:0], b.lines[over:]...)
	}
}

// Lines returns the buffered complete lines.
func (b *Buffer) Lines() []string {
	return append([]string(nil), b.lines...)
}

// Text returns the buffered output including any partial line.
func (b *Buffer) Text() string {
	text := strings.Join(b.lines, "\n")
	if b.partial != "" {
		if text != "" {
			text += "\n"
		}
		text += b.partial
	}
	return text
}

// Tokens returns the running token estimate.
func (b *Buffer) Tokens() int { return b.tokens }
