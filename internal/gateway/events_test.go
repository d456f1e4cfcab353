package gateway

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSE_MultilineDataAndDefaultName(t *testing.T) {
	s := newSSEStream(io.NopCloser(strings.NewReader("data: line one\ndata: line two\n\nevent: error\ndata: {\"error\":\"boom\"}")))

	ev, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, EventMessage, ev.Name)
	assert.Equal(t, "line one\nline two", ev.Text())

	// Trailing event without blank line is still delivered.
	ev, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, EventError, ev.Name)
	assert.Equal(t, "boom", ev.ErrorText())

	_, err = s.Next()
	assert.Equal(t, io.EOF, err)
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}

func TestEventText(t *testing.T) {
	tests := []struct {
		data string
		want string
	}{
		{`{"text":"a"}`, "a"},
		{`{"delta":"b"}`, "b"},
		{`{"content":"c","role":"assistant"}`, "c"},
		{`"quoted"`, "quoted"},
		{`plain text`, "plain text"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Event{Name: EventChunk, Data: tt.data}.Text(), tt.data)
	}
	assert.Equal(t, "assistant", Event{Data: `{"role":"assistant"}`}.Role())
}
