// Package gateway exposes the Orchestrator over one websocket connection
// per (tenant, session), translating between internal eventbus.Events and
// the wire.Envelope transport format the client speaks.
package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/kandev/orcad/internal/eventbus"
	"github.com/kandev/orcad/internal/wire"
)

// eventToEnvelope re-marshals an internal Event's loosely typed Data map
// into the wire envelope it represents. Re-marshaling (rather than type
// asserting) lets the same code handle Data that arrived as Go values
// (in-process MemoryEventBus) or as JSON-decoded maps (NATS), since both
// round-trip identically through json.Marshal/Unmarshal.
func eventToEnvelope(ev *eventbus.Event) (*wire.Envelope, error) {
	switch wire.Type(ev.Type) {
	case wire.TypeMarkdown:
		text, _ := ev.Data["payload"].(string)
		return wire.NewMarkdown(text)

	case wire.TypeComponent:
		component, _ := ev.Data["component"].(string)
		switch wire.ComponentName(component) {
		case wire.ComponentProgress:
			var data wire.ProgressData
			if err := remarshal(ev.Data, &data); err != nil {
				return nil, fmt.Errorf("gateway: decode progress event: %w", err)
			}
			return wire.NewProgress(data)

		case wire.ComponentUIInteraction:
			var form wire.FormEnvelope
			if err := remarshal(ev.Data["form"], &form); err != nil {
				return nil, fmt.Errorf("gateway: decode form event: %w", err)
			}
			return wire.NewFormRequest(form)

		default:
			return nil, fmt.Errorf("gateway: unknown component %q", component)
		}

	default:
		return nil, fmt.Errorf("gateway: unknown event type %q", ev.Type)
	}
}

func remarshal(src interface{}, dst interface{}) error {
	blob, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(blob, dst)
}
