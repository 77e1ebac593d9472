package models

// Edge is a transition between two nodes of a workflow graph.
type Edge struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Conditional bool   `json:"conditional,omitempty"`
	Key         string `json:"key,omitempty"` // decision key selecting To
}
