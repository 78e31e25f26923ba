package browser

import (
	"strings"
	"testing"

	"webinject/internal/protocol"
)

func TestAgentBootstrap_CarriesKindsAndTag(t *testing.T) {
	js := AgentBootstrap(protocol.Tag("pair-a"))
	for _, want := range []string{
		protocol.KindActivationRequest,
		protocol.KindActivationSuccess,
		`var tag = "pair-a";`,
	} {
		if !strings.Contains(js, want) {
			t.Errorf("bootstrap missing %q", want)
		}
	}
}

func TestAgentBootstrap_UntaggedUsesNull(t *testing.T) {
	js := AgentBootstrap(nil)
	if !strings.Contains(js, "var tag = null;") {
		t.Error("absent tag must encode as null")
	}
	if strings.Contains(js, `var tag = "";`) {
		t.Error("absent tag must not collapse to the empty string")
	}
}
