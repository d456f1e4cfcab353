package models

import (
	"strings"
	"time"
)

// ArtifactType is the rendering kind of an artifact.
type ArtifactType string

const (
	ArtifactHTML     ArtifactType = "html"
	ArtifactMarkdown ArtifactType = "markdown"
	ArtifactCode     ArtifactType = "code"
	ArtifactText     ArtifactType = "text"
)

// Artifact is a deliverable found in an agent's output.
type Artifact struct {
	ID        string       `json:"id"`
	AgentID   string       `json:"agent_id"`
	AgentName string       `json:"agent_name"`
	Type      ArtifactType `json:"type"`
	Title     string       `json:"title"`
	Content   string       `json:"content"`
	Timestamp time.Time    `json:"timestamp"`
}

// Signature is the dedup key for an artifact within a mission.
func (a Artifact) Signature() string {
	return strings.ToLower(strings.TrimSpace(a.Title)) + "|" + string(a.Type)
}
