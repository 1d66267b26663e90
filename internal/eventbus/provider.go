package eventbus

import (
	"fmt"
	"strings"

	"github.com/kandev/orcad/internal/common/config"
	"github.com/kandev/orcad/internal/common/logger"
)

// Provided wraps the active event bus implementation, keeping a typed handle
// to the concrete backend alongside the Bus interface so callers that need
// backend-specific behavior (e.g. draining NATS on shutdown) can get at it.
type Provided struct {
	Bus    Bus
	Memory *MemoryEventBus
	NATS   *NATSEventBus
}

// Provide builds the configured event bus implementation: NATS when a URL is
// configured, otherwise an in-process bus for single-instance deployments.
func Provide(cfg *config.Config, log *logger.Logger) (*Provided, func() error, error) {
	if strings.TrimSpace(cfg.NATS.URL) != "" {
		natsBus, err := NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize NATS event bus: %w", err)
		}
		cleanup := func() error {
			natsBus.Close()
			return nil
		}
		return &Provided{Bus: natsBus, NATS: natsBus}, cleanup, nil
	}

	memBus := NewMemoryEventBus(log)
	return &Provided{Bus: memBus, Memory: memBus}, func() error { return nil }, nil
}
