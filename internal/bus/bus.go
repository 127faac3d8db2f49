package bus

import (
	"fmt"

	"github.com/opensource-finance/collector/internal/domain"
)

// New creates the event bus selected by cfg.Type: in-process channels for a
// single instance, NATS when several instances share events.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}
