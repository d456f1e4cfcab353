package artifact

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/models"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

const sample = "Here is the landing page.\n" +
	"```html index.html\n<html><body>Hello</body></html>\n```\n" +
	"And the server:\n" +
	"```go\n// file: cmd/server/main.go\npackage main\n```\n" +
	"A quick check:\n" +
	"```bash\ncurl -s localhost:8080/health\n```\n" +
	"```\nok\n```\n" +
	"Sources: https://example.com/report. and (https://go.dev/doc)\n" +
	"\n" +
	"| Vendor | Price |\n|---|---|\n| Acme | 10 |\n| Globex | 12 |\n" +
	"\n" +
	"1. Collect data\n2. Analyze trends\n3. Write summary\n" +
	"\n" +
	"Then run:\n$ npm install left-pad\n" +
	"## Quick Reference\n- start: make dev\n- stop: ctrl-c\n## Other\ntext\n" +
	"[tool] web_search()\n" +
	"[TASK_COMPLETE]\n"

func byTitle(arts []models.Artifact) map[string]models.Artifact {
	out := map[string]models.Artifact{}
	for _, a := range arts {
		out[a.Title] = a
	}
	return out
}

func TestExtract(t *testing.T) {
	arts := Extract("a1", "Builder", sample, now)
	got := byTitle(arts)

	html, ok := got["index.html"]
	require.True(t, ok, "fenced block with filename in info string")
	assert.Equal(t, models.ArtifactHTML, html.Type)
	assert.Equal(t, "<html><body>Hello</body></html>", html.Content)
	assert.Equal(t, "a1", html.AgentID)
	assert.Equal(t, "Builder", html.AgentName)
	assert.Equal(t, now, html.Timestamp)

	main, ok := got["cmd/server/main.go"]
	require.True(t, ok, "filename comment on first line")
	assert.Equal(t, models.ArtifactCode, main.Type)
	assert.Equal(t, "package main", main.Content)

	snippet, ok := got["bash: curl -s localhost:8080/health"]
	require.True(t, ok, "unnamed fence over the minimum length")
	assert.Equal(t, models.ArtifactCode, snippet.Type)

	_, ok = got["snippet: ok"]
	assert.False(t, ok, "short unnamed fence is ignored")

	assert.Contains(t, got, "https://example.com/report")
	assert.Contains(t, got, "https://go.dev/doc")

	table, ok := got["Table: Vendor, Price"]
	require.True(t, ok)
	assert.Equal(t, models.ArtifactMarkdown, table.Type)
	assert.Len(t, strings.Split(table.Content, "\n"), 4)

	assert.Contains(t, got, "List: Collect data")
	cmd, ok := got["Command: npm install left-pad"]
	require.True(t, ok)
	assert.Equal(t, "npm install left-pad", cmd.Content)

	qr, ok := got["Quick Reference"]
	require.True(t, ok)
	assert.Equal(t, "- start: make dev\n- stop: ctrl-c", qr.Content)

	for _, a := range arts {
		assert.NotContains(t, a.Content, "[tool]")
		assert.NotContains(t, a.Content, "TASK_COMPLETE")
	}
}

func TestExtract_UnterminatedFenceIgnored(t *testing.T) {
	arts := Extract("a", "A", "```go main.go\npackage main\nfunc main() {", now)
	assert.Empty(t, arts)
}

func TestExtract_ShortRunsIgnored(t *testing.T) {
	text := "1. one\n2. two\n\n| a |\n| b |\n"
	assert.Empty(t, Extract("a", "A", text, now))
}

func TestTypeForFile(t *testing.T) {
	assert.Equal(t, models.ArtifactHTML, TypeForFile("a/B.HTM"))
	assert.Equal(t, models.ArtifactMarkdown, TypeForFile("README.md"))
	assert.Equal(t, models.ArtifactText, TypeForFile("notes.txt"))
	assert.Equal(t, models.ArtifactCode, TypeForFile("main.go"))
}

func TestStripMetadata(t *testing.T) {
	assert.Equal(t, "keep\nthis", StripMetadata("[tool] read_file()\nkeep\n  [DONE]  \nthis"))
}

func TestSet_IdempotentAcrossScans(t *testing.T) {
	s := NewSet()
	first := s.Add(Extract("a1", "Builder", sample, now)...)
	require.NotEmpty(t, first)
	for _, a := range first {
		assert.NotEmpty(t, a.ID)
	}

	again := s.Add(Extract("a1", "Builder", sample, now.Add(time.Minute))...)
	assert.Empty(t, again)
	assert.Equal(t, len(first), s.Len())

	// Signature is case-insensitive on title and includes type.
	added := s.Add(
		models.Artifact{Title: "INDEX.HTML", Type: models.ArtifactHTML},
		models.Artifact{Title: "index.html", Type: models.ArtifactText},
	)
	require.Len(t, added, 1)
	assert.Equal(t, models.ArtifactText, added[0].Type)

	s.Reset()
	assert.Zero(t, s.Len())
	assert.Empty(t, s.List())
}
