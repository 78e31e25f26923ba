package domain

import "context"

// ScriptOptions describes one script injection dispatch. Either Files or
// Code (or both) must be set; everything else is advisory metadata for the
// injecting backend.
type ScriptOptions struct {
	Files           []string `json:"files,omitempty"`
	Code            string   `json:"code,omitempty"`
	AllFrames       bool     `json:"allFrames,omitempty"`
	MatchAboutBlank bool     `json:"matchAboutBlank,omitempty"`
	RunAt           string   `json:"runAt,omitempty"` // document_start | document_end | document_idle
}

// StyleOptions describes one style injection dispatch.
type StyleOptions struct {
	Files           []string `json:"files,omitempty"`
	Code            string   `json:"code,omitempty"`
	AllFrames       bool     `json:"allFrames,omitempty"`
	MatchAboutBlank bool     `json:"matchAboutBlank,omitempty"`
	CSSOrigin       string   `json:"cssOrigin,omitempty"` // author | user
}

// Injector applies script/style payloads to a target context. The target
// identifier is supplied at dispatch time; implementations hold no per-target
// state. A returned error means the payload was not applied.
type Injector interface {
	InjectScript(ctx context.Context, targetID string, opts ScriptOptions) error
	InjectStyle(ctx context.Context, targetID string, opts StyleOptions) error
}
