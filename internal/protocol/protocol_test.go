package protocol

import (
	"encoding/json"
	"testing"

	"webinject/internal/domain"
)

func TestActivationRequest_RoundTrip(t *testing.T) {
	actx := ActivationContext{
		TargetID:   "tab-1",
		Descriptor: domain.TargetDescriptor{TargetID: "tab-1", URL: "https://example.com", Title: "Example"},
	}
	req := NewActivationRequest(actx, Tag("x"))

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	decoded, ok := DecodeActivationRequest(data)
	if !ok {
		t.Fatal("DecodeActivationRequest rejected a well-formed request")
	}
	if decoded.Context.TargetID != "tab-1" {
		t.Errorf("targetId: got %q", decoded.Context.TargetID)
	}
	if decoded.Context.Descriptor.URL != "https://example.com" {
		t.Errorf("descriptor url: got %q", decoded.Context.Descriptor.URL)
	}
	if decoded.InstanceTag == nil || *decoded.InstanceTag != "x" {
		t.Errorf("instanceTag: got %v", decoded.InstanceTag)
	}
}

func TestActivationRequest_AbsentTagStaysAbsent(t *testing.T) {
	req := NewActivationRequest(ActivationContext{TargetID: "t"}, nil)
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, present := m["instanceTag"]; present {
		t.Error("absent tag must not appear on the wire")
	}

	decoded, ok := DecodeActivationRequest(data)
	if !ok {
		t.Fatal("decode failed")
	}
	if decoded.InstanceTag != nil {
		t.Errorf("expected nil tag, got %q", *decoded.InstanceTag)
	}
}

func TestDecode_RejectsForeignAndMalformed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"malformed", `{"kind": `},
		{"foreign kind", `{"kind":"app/chat-message","content":"hi"}`},
		{"wrong direction", `{"kind":"webinject/activation-success"}`},
		{"not an object", `"hello"`},
		{"empty", `{}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, ok := DecodeActivationRequest(json.RawMessage(tc.raw)); ok {
				t.Error("DecodeActivationRequest accepted it")
			}
		})
	}

	// The success decoder must likewise reject the request kind.
	if _, ok := DecodeActivationSuccess(json.RawMessage(`{"kind":"webinject/request-activation"}`)); ok {
		t.Error("DecodeActivationSuccess accepted a request")
	}
}

func TestDecodeActivationSuccess(t *testing.T) {
	data, err := json.Marshal(NewActivationSuccess(Tag("pair-a")))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, ok := DecodeActivationSuccess(data)
	if !ok {
		t.Fatal("decode failed")
	}
	if resp.InstanceTag == nil || *resp.InstanceTag != "pair-a" {
		t.Errorf("instanceTag: got %v", resp.InstanceTag)
	}
}

func TestTagsEqual(t *testing.T) {
	cases := []struct {
		name string
		a, b *string
		want bool
	}{
		{"both absent", nil, nil, true},
		{"both same", Tag("x"), Tag("x"), true},
		{"different values", Tag("x"), Tag("y"), false},
		{"set vs absent", Tag("x"), nil, false},
		{"absent vs set", nil, Tag("x"), false},
		{"empty string vs absent", Tag(""), nil, false},
		{"empty string both", Tag(""), Tag(""), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := TagsEqual(tc.a, tc.b); got != tc.want {
				t.Errorf("TagsEqual = %v, want %v", got, tc.want)
			}
		})
	}
}
