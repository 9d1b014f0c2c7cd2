// Package finalize selects the finalizer tier per turn and turns verified
// tool results into the spoken assistant reply.
package finalize

import (
	"os"
	"strings"
)

// Finalizer tiers.
const (
	TierQuality = "quality"
	TierFast    = "fast"
)

// EnvForceFinalizer overrides tier selection when set to quality or fast.
const EnvForceFinalizer = "BANTZ_TIER_FORCE_FINALIZER"

// writingHeavyIntents benefit from the quality model: the reply itself is
// the product, not just a routing acknowledgement.
var writingHeavyIntents = map[string]bool{
	"draft":        true,
	"compose":      true,
	"reply":        true,
	"explain":      true,
	"summarize":    true,
	"write":        true,
	"creative":     true,
	"long_explain": true,
}

// TierDecision records which finalizer handles the turn and why.
type TierDecision struct {
	Tier   string `json:"tier"`
	Reason string `json:"reason"`
}

// SelectTier decides the finalizer for one turn. The environment override
// wins; writing-heavy intents get quality when it is configured; everything
// else routes to the fast model.
func SelectTier(intent string, qualityAvailable bool) TierDecision {
	if forced := strings.ToLower(os.Getenv(EnvForceFinalizer)); forced == TierQuality || forced == TierFast {
		if forced == TierQuality && !qualityAvailable {
			return TierDecision{Tier: TierFast, Reason: "fallback"}
		}
		return TierDecision{Tier: forced, Reason: "env_override"}
	}

	if writingHeavyIntents[strings.ToLower(intent)] {
		if qualityAvailable {
			return TierDecision{Tier: TierQuality, Reason: "writing_heavy"}
		}
		return TierDecision{Tier: TierFast, Reason: "fallback"}
	}

	return TierDecision{Tier: TierFast, Reason: "routing_only"}
}
