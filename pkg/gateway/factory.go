package gateway

import (
	"fmt"
	"log/slog"
)

// NewFactory creates a control-plane factory based on the config
func NewFactory(config Config, logger *slog.Logger) (Factory, error) {
	switch config.System {
	case SystemAWS, "":
		return newAWSFactory(config, logger), nil
	default:
		return nil, fmt.Errorf("unsupported control plane: %s", config.System)
	}
}
