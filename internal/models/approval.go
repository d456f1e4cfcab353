package models

import "time"

// ApprovalStatus is the resolution state of an approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDenied   ApprovalStatus = "denied"
)

// ApprovalSource records who raised the request.
type ApprovalSource string

const (
	ApprovalSourceAgent   ApprovalSource = "agent"
	ApprovalSourceGateway ApprovalSource = "gateway"
)

// ApprovalRequest is a human-in-the-loop decision point raised by an agent or the gateway.
type ApprovalRequest struct {
	ID          string         `json:"id"`
	AgentID     string         `json:"agent_id"`
	AgentName   string         `json:"agent_name"`
	Action      string         `json:"action"`
	Context     string         `json:"context,omitempty"`
	RequestedAt time.Time      `json:"requested_at"`
	Status      ApprovalStatus `json:"status"`
	Source      ApprovalSource `json:"source"`
	GatewayID   string         `json:"gateway_id,omitempty"`
}
