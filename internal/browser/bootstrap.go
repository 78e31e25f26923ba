package browser

import (
	"encoding/json"
	"fmt"

	"webinject/internal/protocol"
)

// AgentBootstrap returns a script payload that registers the in-page half of
// the activation exchange: a hook that answers matching activation requests
// and forwards each one to window.__webinject__.onActivate (when the page
// defines it). Prepend it to the configured script sources when the injected
// code itself should receive activation signals.
//
// The hook mirrors the Go agent: requests it does not match get null back,
// which the channel reports as no listener.
func AgentBootstrap(tag *string) string {
	encodedTag, _ := json.Marshal(tag) // string or null

	return fmt.Sprintf(`(function(){
	if (window.__webinject__ && window.__webinject__.attached) { return; }
	var tag = %s;
	var prev = window.__webinject__ || {};
	window.__webinject__ = {
		attached: true,
		onActivate: prev.onActivate || null,
		onRequest: function(msg) {
			if (!msg || msg.kind !== %q) { return null; }
			var msgTag = ('instanceTag' in msg) ? msg.instanceTag : null;
			if (msgTag !== tag) { return null; }
			if (typeof window.__webinject__.onActivate === 'function') {
				window.__webinject__.onActivate(msg.context, msgTag);
			}
			var reply = { kind: %q };
			if (tag !== null) { reply.instanceTag = tag; }
			return reply;
		}
	};
})();`, encodedTag, protocol.KindActivationRequest, protocol.KindActivationSuccess)
}
