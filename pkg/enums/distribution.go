package enums

import (
	"fmt"
	"strings"
)

// DistributionType maps to the queue distribution_type enum in Postgres.
type DistributionType string

const (
	DistributionRoundRobin DistributionType = "round_robin"
	DistributionLeastBusy  DistributionType = "least_busy"
	DistributionNone       DistributionType = "none"
)

var validDistributionTypes = []DistributionType{
	DistributionRoundRobin,
	DistributionLeastBusy,
	DistributionNone,
}

// IsValid reports whether the value is a supported distribution policy.
func (d DistributionType) IsValid() bool {
	for _, candidate := range validDistributionTypes {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDistributionType accepts the canonical values plus the dashed spelling
// ("round-robin") some admin tooling writes.
func ParseDistributionType(value string) (DistributionType, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "-", "_")
	for _, candidate := range validDistributionTypes {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid distribution type %q", value)
}

// DistributionAction is the terminal outcome of a Distribute call.
type DistributionAction string

const (
	DistributionActionNoQueue         DistributionAction = "no_queue"
	DistributionActionNoDistribution  DistributionAction = "no_distribution"
	DistributionActionAssigned        DistributionAction = "assigned"
	DistributionActionAlreadyAssigned DistributionAction = "already_assigned"
)
