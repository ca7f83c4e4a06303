package a2dpsink

import (
	"fmt"

	"github.com/opd-ai/a2dpsink/limits"
)

// Props are the tunable parameters of the node. Latencies are in frames.
type Props struct {
	MinLatency int64
	MaxLatency int64
}

// DefaultProps returns the default props.
func DefaultProps() Props {
	return Props{
		MinLatency: limits.DefaultLatency,
		MaxLatency: limits.DefaultLatency,
	}
}

// Validate checks both latencies against [limits.MinLatency, limits.MaxLatency].
func (p Props) Validate() error {
	if err := limits.ValidateLatency(p.MinLatency); err != nil {
		return fmt.Errorf("min latency: %w", err)
	}
	if err := limits.ValidateLatency(p.MaxLatency); err != nil {
		return fmt.Errorf("max latency: %w", err)
	}
	return nil
}

// PropInfo describes one prop for enumeration.
type PropInfo struct {
	Name        string
	Description string
	Default     int64
	Min         int64
	Max         int64
}

// PropInfos lists the props with their defaults and ranges.
func PropInfos() []PropInfo {
	return []PropInfo{
		{
			Name:        "min_latency",
			Description: "The minimum latency in frames",
			Default:     limits.DefaultLatency,
			Min:         limits.MinLatency,
			Max:         limits.MaxLatency,
		},
		{
			Name:        "max_latency",
			Description: "The maximum latency in frames",
			Default:     limits.DefaultLatency,
			Min:         limits.MinLatency,
			Max:         limits.MaxLatency,
		},
	}
}
