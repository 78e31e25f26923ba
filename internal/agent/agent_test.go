package agent

import (
	"context"
	"encoding/json"
	"testing"

	"webinject/internal/domain"
	"webinject/internal/protocol"
)

// fakeChannel captures the attached listener for direct delivery in tests.
type fakeChannel struct {
	listener domain.Listener
	detached int
}

func (f *fakeChannel) Attach(targetID string, l domain.Listener) (func(), error) {
	f.listener = l
	return func() { f.detached++ }, nil
}

func request(t *testing.T, targetID string, tag *string) json.RawMessage {
	t.Helper()
	actx := protocol.ActivationContext{
		TargetID:   targetID,
		Descriptor: domain.TargetDescriptor{TargetID: targetID, URL: "https://example.com"},
	}
	data, err := json.Marshal(protocol.NewActivationRequest(actx, tag))
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return data
}

func TestListen_RequiresChannelAndTarget(t *testing.T) {
	if _, err := Listen(Config{TargetID: "t"}); err == nil {
		t.Error("expected error without channel")
	}
	if _, err := Listen(Config{Channel: &fakeChannel{}}); err == nil {
		t.Error("expected error without target id")
	}
}

func TestListen_AnswersMatchedRequest(t *testing.T) {
	ch := &fakeChannel{}
	var calls int
	var gotCtx protocol.ActivationContext
	var gotTag *string

	sub, err := Listen(Config{
		Channel:  ch,
		TargetID: "tab-1",
		Callback: func(ctx context.Context, actx protocol.ActivationContext, tag *string) {
			calls++
			gotCtx = actx
			gotTag = tag
		},
		InstanceTag: protocol.Tag("x"),
	})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer sub.Close()

	reply, ok := ch.listener(context.Background(), request(t, "tab-1", protocol.Tag("x")))
	if !ok {
		t.Fatal("matched request must be answered")
	}
	if calls != 1 {
		t.Fatalf("callback calls: got %d, want 1", calls)
	}
	if gotCtx.TargetID != "tab-1" || gotCtx.Descriptor.URL != "https://example.com" {
		t.Errorf("callback context: %+v", gotCtx)
	}
	if gotTag == nil || *gotTag != "x" {
		t.Errorf("callback tag: %v", gotTag)
	}

	success, ok := protocol.DecodeActivationSuccess(reply)
	if !ok {
		t.Fatal("reply is not an activation success")
	}
	if !protocol.TagsEqual(success.InstanceTag, protocol.Tag("x")) {
		t.Errorf("reply tag: %v", success.InstanceTag)
	}
}

func TestListen_CallbackFiresPerMatchedRequest(t *testing.T) {
	ch := &fakeChannel{}
	var calls int
	sub, err := Listen(Config{
		Channel:  ch,
		TargetID: "tab-1",
		Callback: func(context.Context, protocol.ActivationContext, *string) { calls++ },
	})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer sub.Close()

	// Liveness probe and delivery probe look identical on the wire; each
	// matched one fires the callback exactly once.
	for i := 0; i < 3; i++ {
		if _, ok := ch.listener(context.Background(), request(t, "tab-1", nil)); !ok {
			t.Fatalf("request %d unanswered", i)
		}
	}
	if calls != 3 {
		t.Errorf("callback calls: got %d, want 3", calls)
	}
}

func TestListen_IgnoresTagMismatch(t *testing.T) {
	cases := []struct {
		name     string
		agentTag *string
		reqTag   *string
	}{
		{"tagged agent, untagged request", protocol.Tag("x"), nil},
		{"untagged agent, tagged request", nil, protocol.Tag("x")},
		{"different tags", protocol.Tag("x"), protocol.Tag("y")},
		{"empty tag vs absent", protocol.Tag(""), nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ch := &fakeChannel{}
			var calls int
			sub, err := Listen(Config{
				Channel:     ch,
				TargetID:    "tab-1",
				Callback:    func(context.Context, protocol.ActivationContext, *string) { calls++ },
				InstanceTag: tc.agentTag,
			})
			if err != nil {
				t.Fatalf("Listen: %v", err)
			}
			defer sub.Close()

			if _, ok := ch.listener(context.Background(), request(t, "tab-1", tc.reqTag)); ok {
				t.Error("mismatched request must not be answered")
			}
			if calls != 0 {
				t.Errorf("callback must not run, got %d calls", calls)
			}
		})
	}
}

func TestListen_IgnoresForeignAndMalformedPayloads(t *testing.T) {
	ch := &fakeChannel{}
	var calls int
	sub, err := Listen(Config{
		Channel:  ch,
		TargetID: "tab-1",
		Callback: func(context.Context, protocol.ActivationContext, *string) { calls++ },
	})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer sub.Close()

	for _, raw := range []string{
		`{"kind":"app/other","data":1}`,
		`not json`,
		`{"kind":"webinject/activation-success"}`,
	} {
		if _, ok := ch.listener(context.Background(), json.RawMessage(raw)); ok {
			t.Errorf("payload %q must be ignored", raw)
		}
	}
	if calls != 0 {
		t.Errorf("callback must not run, got %d calls", calls)
	}
}

func TestListen_NilCallbackStillAnswers(t *testing.T) {
	ch := &fakeChannel{}
	sub, err := Listen(Config{Channel: ch, TargetID: "tab-1"})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer sub.Close()

	if _, ok := ch.listener(context.Background(), request(t, "tab-1", nil)); !ok {
		t.Error("request must be answered even without a callback")
	}
}

func TestSubscription_CloseDetachesOnce(t *testing.T) {
	ch := &fakeChannel{}
	sub, err := Listen(Config{Channel: ch, TargetID: "tab-1"})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	sub.Close()
	sub.Close()
	if ch.detached != 1 {
		t.Errorf("detach calls: got %d, want 1", ch.detached)
	}
}
