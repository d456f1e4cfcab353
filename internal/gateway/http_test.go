package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListSessions_WrappedAndBareShapes(t *testing.T) {
	updated := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for name, body := range map[string]string{
		"wrapped": fmt.Sprintf(`{"sessions":[{"key":"k1","label":"mission-alpha","status":"running","updatedAt":%d,"lastMessage":"hi"}]}`, updated.UnixMilli()),
		"bare":    fmt.Sprintf(`[{"sessionKey":"k1","label":"mission-alpha","status":"running","updatedAt":%q,"lastMessage":"hi"}]`, updated.Format(time.RFC3339)),
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/sessions", r.URL.Path)
				assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
				_, _ = io.WriteString(w, body)
			}))
			defer srv.Close()

			c := NewHTTPClient(srv.URL, WithToken("tok"))
			list, err := c.ListSessions(context.Background())
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "k1", list[0].Key)
			assert.Equal(t, "mission-alpha", list[0].Label)
			assert.Equal(t, "hi", list[0].LastMessage)
			assert.True(t, updated.Equal(list[0].UpdatedAt))
		})
	}
}

func TestSpawnSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req SpawnRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "mission-writer", req.Label)
		assert.Equal(t, "sonnet", req.Model)
		_, _ = io.WriteString(w, `{"sessionKey":"abc","modelApplied":"sonnet-4"}`)
	}))
	defer srv.Close()

	res, err := NewHTTPClient(srv.URL).SpawnSession(context.Background(), SpawnRequest{FriendlyID: "writer", Label: "mission-writer", Model: "sonnet"})
	require.NoError(t, err)
	assert.Equal(t, "abc", res.SessionKey)
	assert.Equal(t, "sonnet-4", res.ModelApplied)
}

func TestSpawnSession_NoKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL).SpawnSession(context.Background(), SpawnRequest{Label: "x"})
	assert.Error(t, err)
}

func TestStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "label already exists", http.StatusConflict)
	}))
	defer srv.Close()

	err := NewHTTPClient(srv.URL).Dispatch(context.Background(), DispatchRequest{SessionKey: "k"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusConflict, se.Code)
	assert.Equal(t, "dispatch", se.Op)
	assert.Contains(t, se.Body, "label already exists")
}

func TestOKFalseIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"ok":false,"error":"busy"}`)
	}))
	defer srv.Close()

	err := NewHTTPClient(srv.URL).Send(context.Background(), "k", "go on")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "busy")
}

func TestDeleteSession_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "a b", r.URL.Query().Get("sessionKey"))
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewHTTPClient(srv.URL).DeleteSession(context.Background(), "a b")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestDispatchBody(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/agent-dispatch", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	err := NewHTTPClient(srv.URL).Dispatch(context.Background(), DispatchRequest{SessionKey: "k", Message: "m", AgentID: "a", IdempotencyKey: "i"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"sessionKey": "k", "message": "m", "agentId": "a", "idempotencyKey": "i"}, got)
}

func TestApprovals(t *testing.T) {
	var decision string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /approvals", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"approvals":[{"id":"ap1","sessionKey":"k","tool":"rm -rf build","description":"cleanup"}]}`)
	})
	mux.HandleFunc("POST /approvals/{id}/resolve", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ap1", r.PathValue("id"))
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		decision = body["decision"]
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	list, err := c.ListApprovals(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "rm -rf build", list[0].Action)
	assert.Equal(t, "cleanup", list[0].Context)

	require.NoError(t, c.ResolveApproval(context.Background(), "ap1", false))
	assert.Equal(t, "deny", decision)
}

func TestEvents_Stream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k1", r.URL.Query().Get("sessionKey"))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "event: open\ndata: {}\n\n: keepalive\n\nevent: chunk\ndata: {\"text\":\"hello\"}\n\nevent: tool\ndata: {\"name\":\"web_search\"}\n\nevent: done\ndata: {\"text\":\"[TASK_COMPLETE]\"}\n\n")
	}))
	defer srv.Close()

	stream, err := NewHTTPClient(srv.URL).Events(context.Background(), "k1")
	require.NoError(t, err)
	defer stream.Close()

	var events []Event
	for {
		ev, err := stream.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
	require.Len(t, events, 4)
	assert.Equal(t, EventOpen, events[0].Name)
	assert.Equal(t, "hello", events[1].Text())
	assert.Equal(t, "web_search", events[2].ToolName())
	assert.Equal(t, EventDone, events[3].Name)
	assert.Equal(t, "[TASK_COMPLETE]", events[3].Text())
}

func TestEvents_OpenFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL).Events(context.Background(), "k1")
	var se *StatusError
	assert.ErrorAs(t, err, &se)
}
