// Package artifact finds deliverables in agent output.
package artifact

import (
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/models"
)

// MinFenceContent is the shortest fenced block kept without a filename.
const MinFenceContent = 10

// ToolLinePrefix marks synthetic tool-invocation lines in agent buffers.
const ToolLinePrefix = "[tool] "

var (
	fenceOpen   = regexp.MustCompile("^\\s*(```+|~~~+)\\s*(.*)$")
	fileInInfo  = regexp.MustCompile(`(?i)(?:^|\s)(?:file(?:name)?|title|path)\s*[=:]\s*"?([^\s"]+)"?`)
	bareFile    = regexp.MustCompile(`^[\w./-]+\.[A-Za-z0-9]{1,8}$`)
	fileComment = regexp.MustCompile(`(?i)^\s*(?://|#|<!--|/\*|--)\s*(?:file(?:name)?|path)\s*:\s*([\w./-]+\.\w+)`)
	urlPattern  = regexp.MustCompile(`https?://[^\s<>"'\x60\])]+`)
	numbered    = regexp.MustCompile(`^\s*\d+[.)]\s+\S`)
	heading     = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*\s*$`)
	command     = regexp.MustCompile(`^\s*(?:\$\s+)?((?:sudo\s+)?(?:npm|npx|pnpm|yarn|bun|pip3?|pipx|uv|poetry|go|cargo|brew|apt(?:-get)?|docker(?:\s+compose)?|kubectl|helm|make|git|python3?|node|deno)\s+(?:install|i|add|get|run|build|clone|up|test|start|exec|apply|init|serve|dev)\b.*)$`)
	sectionName = regexp.MustCompile(`(?i)^(quick\s*reference|quick\s*start|commands|usage|summary|executive\s+summary|report|final\s+report|key\s+findings)\b`)
	markerOnly  = regexp.MustCompile(`(?i)^\s*\[(?:TASK_COMPLETE|MISSION_COMPLETE|DONE|WAITING_FOR_INPUT|NEEDS_INPUT)\]\s*$`)
)

// StripMetadata removes synthetic tool lines and bare turn markers.
func StripMetadata(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if strings.HasPrefix(l, ToolLinePrefix) || markerOnly.MatchString(l) {
			continue
		}
		kept = append(kept, l)
	}
	return strings.Join(kept, "\n")
}

type fence struct {
	lang     string
	filename string
	content  string
}

// splitFences separates fenced blocks from the prose around them.
func splitFences(text string) (fences []fence, prose []string) {
	lines := strings.Split(text, "\n")
	for i := 0; i < len(lines); i++ {
		m := fenceOpen.FindStringSubmatch(lines[i])
		if m == nil {
			prose = append(prose, lines[i])
			continue
		}
		marker := m[1]
		info := strings.TrimSpace(m[2])
		var body []string
		j := i + 1
		for ; j < len(lines); j++ {
			if strings.HasPrefix(strings.TrimSpace(lines[j]), marker) {
				break
			}
			body = append(body, lines[j])
		}
		if j >= len(lines) {
			// Unterminated: treat as prose, output may still be streaming.
			prose = append(prose, lines[i:]...)
			break
		}
		fences = append(fences, parseFence(info, body))
		prose = append(prose, "")
		i = j
	}
	return fences, prose
}

func parseFence(info string, body []string) fence {
	f := fence{}
	fields := strings.Fields(info)
	if len(fields) > 0 && !strings.Contains(fields[0], "=") {
		f.lang = strings.ToLower(fields[0])
	}
	if m := fileInInfo.FindStringSubmatch(info); m != nil {
		f.filename = m[1]
	} else {
		for _, tok := range fields {
			if bareFile.MatchString(tok) {
				f.filename = tok
				if tok == fields[0] {
					f.lang = strings.TrimPrefix(path.Ext(tok), ".")
				}
				break
			}
		}
	}
	if f.filename == "" && len(body) > 0 {
		if m := fileComment.FindStringSubmatch(body[0]); m != nil {
			f.filename = m[1]
			body = body[1:]
		}
	}
	f.content = strings.Trim(strings.Join(body, "\n"), "\n")
	return f
}

// TypeForFile maps a filename extension to an artifact type.
func TypeForFile(name string) models.ArtifactType {
	switch strings.ToLower(path.Ext(name)) {
	case ".html", ".htm":
		return models.ArtifactHTML
	case ".md", ".markdown":
		return models.ArtifactMarkdown
	case ".txt", ".log", ".csv":
		return models.ArtifactText
	default:
		return models.ArtifactCode
	}
}

func typeForLang(lang string) models.ArtifactType {
	switch lang {
	case "html", "htm":
		return models.ArtifactHTML
	case "md", "markdown":
		return models.ArtifactMarkdown
	case "", "text", "txt", "plain", "plaintext":
		return models.ArtifactText
	default:
		return models.ArtifactCode
	}
}

// Extract scans an agent's accumulated output and returns every artifact
// found, in document order. It does not deduplicate; use a Set.
func Extract(agentID, agentName, text string, now time.Time) []models.Artifact {
	text = StripMetadata(text)
	fences, prose := splitFences(text)

	var out []models.Artifact
	add := func(t models.ArtifactType, title, content string) {
		out = append(out, models.Artifact{
			AgentID:   agentID,
			AgentName: agentName,
			Type:      t,
			Title:     title,
			Content:   content,
			Timestamp: now,
		})
	}

	for _, f := range fences {
		switch {
		case f.filename != "":
			add(TypeForFile(f.filename), f.filename, f.content)
		case len(strings.TrimSpace(f.content)) >= MinFenceContent:
			add(typeForLang(f.lang), snippetTitle(f), f.content)
		}
	}

	seenURL := map[string]bool{}
	for _, line := range prose {
		for _, u := range urlPattern.FindAllString(line, -1) {
			u = strings.TrimRight(u, ".,;:!?")
			if !seenURL[u] {
				seenURL[u] = true
				add(models.ArtifactText, u, u)
			}
		}
	}

	for _, block := range runs(prose, isTableRow) {
		if len(block) >= 3 {
			add(models.ArtifactMarkdown, "Table: "+tableTitle(block[0]), strings.Join(block, "\n"))
		}
	}
	for _, block := range runs(prose, numbered.MatchString) {
		if len(block) >= 3 {
			add(models.ArtifactMarkdown, "List: "+truncate(numbered.ReplaceAllStringFunc(block[0], trimNumber), 60), strings.Join(block, "\n"))
		}
	}

	for _, line := range prose {
		if m := command.FindStringSubmatch(line); m != nil {
			cmd := strings.TrimSpace(m[1])
			add(models.ArtifactCode, "Command: "+truncate(cmd, 80), cmd)
		}
	}

	for _, s := range sections(prose) {
		add(models.ArtifactMarkdown, s.title, s.body)
	}
	return out
}

func snippetTitle(f fence) string {
	first := ""
	for _, l := range strings.Split(f.content, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			first = l
			break
		}
	}
	label := f.lang
	if label == "" {
		label = "snippet"
	}
	return label + ": " + truncate(first, 60)
}

func isTableRow(line string) bool {
	t := strings.TrimSpace(line)
	return strings.HasPrefix(t, "|") && strings.Count(t, "|") >= 2
}

func tableTitle(header string) string {
	var cells []string
	for _, c := range strings.Split(strings.Trim(strings.TrimSpace(header), "|"), "|") {
		if c = strings.TrimSpace(c); c != "" {
			cells = append(cells, c)
		}
	}
	return truncate(strings.Join(cells, ", "), 60)
}

func trimNumber(s string) string {
	i := strings.IndexAny(s, ".)")
	return strings.TrimSpace(s[i+1:])
}

// runs returns maximal contiguous groups of lines satisfying match.
func runs(lines []string, match func(string) bool) [][]string {
	var out [][]string
	var cur []string
	for _, l := range lines {
		if match(l) {
			cur = append(cur, l)
			continue
		}
		if len(cur) > 0 {
			out = append(out, cur)
			cur = nil
		}
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

type section struct {
	title string
	body  string
}

// sections returns named sections, each running to the next heading of the same or higher level.
func sections(lines []string) []section {
	var out []section
	for i := 0; i < len(lines); i++ {
		m := heading.FindStringSubmatch(strings.TrimSpace(lines[i]))
		if m == nil || !sectionName.MatchString(m[2]) {
			continue
		}
		level := len(m[1])
		var body []string
		j := i + 1
		for ; j < len(lines); j++ {
			if h := heading.FindStringSubmatch(strings.TrimSpace(lines[j])); h != nil && len(h[1]) <= level {
				break
			}
			body = append(body, lines[j])
		}
		content := strings.TrimSpace(strings.Join(body, "\n"))
		if content != "" {
			out = append(out, section{title: strings.TrimSpace(m[2]), body: content})
		}
		i = j - 1
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
