// Package risk implements the heuristic risk scorer (C5): a monotonic,
// weighted score over tool mix, skill state, adapter risk class,
// capability sensitivity, context flags, and provenance.
package risk

// Level is the score's bucketed severity, per spec §4.5.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// AdapterRiskClass mirrors the Adapter entity's risk_class field (spec §3).
type AdapterRiskClass string

const (
	AdapterRiskLow    AdapterRiskClass = "low"
	AdapterRiskMedium AdapterRiskClass = "medium"
	AdapterRiskHigh   AdapterRiskClass = "high"
)

// SkillState mirrors the lifecycle state of the tool/skill being invoked.
type SkillState string

const (
	SkillStable     SkillState = "stable"
	SkillTested     SkillState = "tested"
	SkillDraft      SkillState = "draft"
	SkillDeprecated SkillState = "deprecated"
)

// Inputs is everything the scorer consults, per spec §4.5.
type Inputs struct {
	ToolCount             int
	ToolNames             []string
	SkillState            SkillState
	SkillPinned           bool
	Temperature           float64
	DataSensitivityHigh   bool
	AdapterRiskClass      AdapterRiskClass
	RequestedCapabilities []string
	ExternalNetwork       bool
	WritesFilesystem      bool
	ProvenanceUntested    bool
	CustomFlags           map[string]bool
}

// Result is the scorer's output, per spec §4.5.
type Result struct {
	Score   int
	Level   Level
	Factors []string
}

// privilegedCapabilities are capability names whose presence always adds
// weight regardless of which adapter requests them.
var privilegedCapabilities = map[string]bool{
	"external_network": true,
	"filesystem_write": true,
	"shell_exec":       true,
	"credential_read":  true,
}

// Score computes a monotonic heuristic risk score from in, per spec §4.5.
// Weights and level boundaries are implementation decisions (the spec
// leaves them undertuned) — see DESIGN.md for the rationale.
func Score(in Inputs) Result {
	score := 0
	var factors []string

	if in.ToolCount > 1 {
		add := (in.ToolCount - 1) * 3
		score += add
		factors = append(factors, "multiple tools requested")
	}

	switch in.SkillState {
	case SkillDeprecated:
		score += 20
		factors = append(factors, "skill is deprecated")
	case SkillDraft:
		score += 12
		factors = append(factors, "skill is draft")
	}
	if !in.SkillPinned {
		score += 5
		factors = append(factors, "skill version not pinned")
	}

	switch in.AdapterRiskClass {
	case AdapterRiskHigh:
		score += 25
		factors = append(factors, "adapter risk class high")
	case AdapterRiskMedium:
		score += 10
		factors = append(factors, "adapter risk class medium")
	}

	for _, cap := range in.RequestedCapabilities {
		if privilegedCapabilities[cap] {
			score += 15
			factors = append(factors, "privileged capability requested: "+cap)
		}
	}

	if in.ExternalNetwork && in.WritesFilesystem {
		score += 20
		factors = append(factors, "external network combined with filesystem writes")
	} else if in.ExternalNetwork {
		score += 8
		factors = append(factors, "external network access")
	} else if in.WritesFilesystem {
		score += 5
		factors = append(factors, "filesystem writes")
	}

	if in.ProvenanceUntested {
		score += 15
		factors = append(factors, "untested provenance")
	}

	if in.DataSensitivityHigh {
		score += 18
		factors = append(factors, "high data sensitivity")
	}

	if in.Temperature > 0.8 {
		score += 5
		factors = append(factors, "high sampling temperature")
	}

	for flag, set := range in.CustomFlags {
		if set {
			score += 5
			factors = append(factors, "custom flag: "+flag)
		}
	}

	return Result{Score: score, Level: levelFor(score), Factors: factors}
}

// levelFor maps the cumulative score to a stable level boundary.
func levelFor(score int) Level {
	switch {
	case score >= 70:
		return LevelCritical
	case score >= 40:
		return LevelHigh
	case score >= 15:
		return LevelMedium
	default:
		return LevelLow
	}
}
