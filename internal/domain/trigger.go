package domain

import "context"

// TriggerHandler receives one trigger event together with the descriptor of
// the target it concerns.
type TriggerHandler func(ctx context.Context, target TargetDescriptor)

// TriggerSource is an external origin of trigger events (a toolbar click, an
// HTTP request, a test). Handlers are invoked once per event; the source
// itself carries no activation logic.
type TriggerSource interface {
	Subscribe(h TriggerHandler)
}
