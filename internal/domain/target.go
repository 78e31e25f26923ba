package domain

// TargetDescriptor identifies and describes a destination context (a browser
// tab or page). A descriptor with an empty TargetID is unresolvable: triggers
// carrying one are silently ignored.
type TargetDescriptor struct {
	TargetID string `json:"targetId"`
	URL      string `json:"url,omitempty"`
	Title    string `json:"title,omitempty"`
}
