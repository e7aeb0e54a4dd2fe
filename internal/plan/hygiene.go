package plan

import (
	"github.com/hpungsan/governor/internal/config"
)

// Session hygiene actions, in increasing urgency.
const (
	HygieneContinue           = "continue"
	HygienePrepareCheckpoint  = "prepare_checkpoint"
	HygieneCheckpointCompact  = "checkpoint_then_compact"
	HygieneCompactImmediately = "checkpoint_then_compact_immediately"
)

// Hygiene is the session-hygiene recommendation. The engine only recommends;
// a downstream consumer decides whether to act.
type Hygiene struct {
	RecommendedAction       string   `json:"recommended_action"`
	MessageCount            int      `json:"message_count_estimate"`
	InputUtilizationPct     float64  `json:"input_context_utilization_pct"`
	OptimizedUtilizationPct float64  `json:"optimized_context_utilization_pct"`
	Playbook                []string `json:"playbook"`
}

var playbooks = map[string][]string{
	HygieneCompactImmediately: {
		"Create a short checkpoint (goal, done, next, touched files)",
		"Compact the conversation now to reduce context pressure",
		"If switching to unrelated work, start a fresh session after compacting",
	},
	HygieneCheckpointCompact: {
		"Create a short checkpoint before ending this task chunk",
		"Compact around this point instead of waiting for hard limits",
	},
	HygienePrepareCheckpoint: {
		"Prepare checkpoint bullets now to make the next compact cheap",
		"Check context usage periodically and compact around 50% usage",
	},
	HygieneContinue: {
		"Continue in the same session for this task",
		"Keep one session per task to avoid context drift",
	},
}

// Recommend picks the hygiene action from input utilization and message count.
func Recommend(t config.HygieneThresholds, inputPct, optimizedPct float64, messages int) Hygiene {
	action := HygieneContinue
	switch {
	case inputPct >= t.ImmediatePct || messages >= t.ImmediateMessages:
		action = HygieneCompactImmediately
	case inputPct >= t.CompactPct || messages >= t.CompactMessages:
		action = HygieneCheckpointCompact
	case inputPct >= t.PreparePct || messages >= t.PrepareMessages:
		action = HygienePrepareCheckpoint
	}
	return Hygiene{
		RecommendedAction:       action,
		MessageCount:            messages,
		InputUtilizationPct:     inputPct,
		OptimizedUtilizationPct: optimizedPct,
		Playbook:                playbooks[action],
	}
}
