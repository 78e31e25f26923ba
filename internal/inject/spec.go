// Package inject models the injection payload configuration: which scripts
// and styles to apply, in which of the several accepted shorthand shapes, and
// how a normalized source list is split into dispatches.
package inject

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"webinject/internal/domain"
)

// SourceOptions is the structured form of one payload source. RunAt applies
// to scripts only, CSSOrigin to styles only; the shared shape keeps the
// flexible config decoding in one place.
type SourceOptions struct {
	Files           []string `json:"files,omitempty" yaml:"files,omitempty"`
	Code            string   `json:"code,omitempty" yaml:"code,omitempty"`
	AllFrames       bool     `json:"allFrames,omitempty" yaml:"allFrames,omitempty"`
	MatchAboutBlank bool     `json:"matchAboutBlank,omitempty" yaml:"matchAboutBlank,omitempty"`
	RunAt           string   `json:"runAt,omitempty" yaml:"runAt,omitempty"`
	CSSOrigin       string   `json:"cssOrigin,omitempty" yaml:"cssOrigin,omitempty"`
}

// Script converts the options into a script dispatch.
func (o SourceOptions) Script() domain.ScriptOptions {
	return domain.ScriptOptions{
		Files:           o.Files,
		Code:            o.Code,
		AllFrames:       o.AllFrames,
		MatchAboutBlank: o.MatchAboutBlank,
		RunAt:           o.RunAt,
	}
}

// Style converts the options into a style dispatch.
func (o SourceOptions) Style() domain.StyleOptions {
	return domain.StyleOptions{
		Files:           o.Files,
		Code:            o.Code,
		AllFrames:       o.AllFrames,
		MatchAboutBlank: o.MatchAboutBlank,
		CSSOrigin:       o.CSSOrigin,
	}
}

// Source is one entry of a normalized source list: either a raw file
// reference or a structured options object, never both.
type Source struct {
	File    string
	Options *SourceOptions
}

// MarshalJSON writes the canonical wire shape: a bare string for a file
// reference, the options object otherwise. This keeps serialized configs
// decodable by UnmarshalJSON without loss.
func (s Source) MarshalJSON() ([]byte, error) {
	if s.Options != nil {
		return json.Marshal(s.Options)
	}
	return json.Marshal(s.File)
}

// SourceList is the canonical list-of-sources form. It decodes from a bare
// string, a list of strings, a single options object, a list of objects, or
// a mixed list; normalization happens here, before any protocol logic runs.
type SourceList []Source

// Files builds a source list from raw file references.
func Files(names ...string) SourceList {
	out := make(SourceList, len(names))
	for i, n := range names {
		out[i] = Source{File: n}
	}
	return out
}

func (l *SourceList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("inject: empty source list")
	}

	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return fmt.Errorf("inject: invalid source list: %w", err)
		}
		out := make(SourceList, 0, len(items))
		for i, item := range items {
			src, err := decodeJSONSource(item)
			if err != nil {
				return fmt.Errorf("inject: source[%d]: %w", i, err)
			}
			out = append(out, src)
		}
		*l = out
		return nil
	}

	src, err := decodeJSONSource(trimmed)
	if err != nil {
		return fmt.Errorf("inject: invalid source: %w", err)
	}
	*l = SourceList{src}
	return nil
}

func decodeJSONSource(data []byte) (Source, error) {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return Source{File: s}, nil
	}
	var opts SourceOptions
	if err := json.Unmarshal(data, &opts); err != nil {
		return Source{}, err
	}
	return Source{Options: &opts}, nil
}

// UnmarshalYAML accepts the same shapes as the JSON form, for profile files.
func (l *SourceList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return fmt.Errorf("inject: invalid source: %w", err)
		}
		*l = SourceList{{File: s}}
		return nil
	case yaml.SequenceNode:
		out := make(SourceList, 0, len(node.Content))
		for i, item := range node.Content {
			src, err := decodeYAMLSource(item)
			if err != nil {
				return fmt.Errorf("inject: source[%d]: %w", i, err)
			}
			out = append(out, src)
		}
		*l = out
		return nil
	case yaml.MappingNode:
		src, err := decodeYAMLSource(node)
		if err != nil {
			return fmt.Errorf("inject: invalid source: %w", err)
		}
		*l = SourceList{src}
		return nil
	default:
		return fmt.Errorf("inject: unsupported source list shape")
	}
}

func decodeYAMLSource(node *yaml.Node) (Source, error) {
	if node.Kind == yaml.ScalarNode {
		var s string
		if err := node.Decode(&s); err != nil {
			return Source{}, err
		}
		return Source{File: s}, nil
	}
	var opts SourceOptions
	if err := node.Decode(&opts); err != nil {
		return Source{}, err
	}
	return Source{Options: &opts}, nil
}

// Partition splits a normalized list into the merged batch of raw file
// references and the individual structured entries, preserving option order.
// Raw files become one dispatch; each options object becomes its own.
func Partition(list SourceList) (files []string, opts []SourceOptions) {
	for _, src := range list {
		if src.Options != nil {
			opts = append(opts, *src.Options)
			continue
		}
		if src.File != "" {
			files = append(files, src.File)
		}
	}
	return files, opts
}

// HookInfo is handed to the before/after injection hooks.
type HookInfo struct {
	Target   domain.TargetDescriptor
	TargetID string
}

// Hook runs around the injection dispatch. A non-nil error aborts the
// trigger and surfaces to its caller.
type Hook func(ctx context.Context, info HookInfo) error

// Spec is the full injection configuration for one controller. A bare JSON
// string or list of strings decodes as the scripts-only shorthand.
type Spec struct {
	Scripts SourceList `json:"scripts,omitempty"`
	Styles  SourceList `json:"styles,omitempty"`

	BeforeInjection Hook `json:"-"`
	AfterInjection  Hook `json:"-"`
}

// Empty reports whether s carries no payload sources at all.
func (s Spec) Empty() bool {
	return len(s.Scripts) == 0 && len(s.Styles) == 0
}

func (s *Spec) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("inject: empty spec")
	}

	if trimmed[0] == '{' {
		type plain struct {
			Scripts SourceList `json:"scripts,omitempty"`
			Styles  SourceList `json:"styles,omitempty"`
		}
		var p plain
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return fmt.Errorf("inject: invalid spec: %w", err)
		}
		s.Scripts = p.Scripts
		s.Styles = p.Styles
		return nil
	}

	// Shorthand: a bare string or list stands for {scripts: <value>}.
	var scripts SourceList
	if err := json.Unmarshal(trimmed, &scripts); err != nil {
		return fmt.Errorf("inject: invalid spec: %w", err)
	}
	s.Scripts = scripts
	s.Styles = nil
	return nil
}
