package risk

import "testing"

func TestScore_Baseline(t *testing.T) {
	result := Score(Inputs{ToolCount: 1, SkillState: SkillStable, SkillPinned: true})
	if result.Level != LevelLow {
		t.Errorf("Level = %v, want low for a minimal-risk request", result.Level)
	}
}

func TestScore_MonotonicInToolCount(t *testing.T) {
	low := Score(Inputs{ToolCount: 1, SkillPinned: true})
	high := Score(Inputs{ToolCount: 5, SkillPinned: true})
	if high.Score <= low.Score {
		t.Errorf("score should increase with tool count: low=%d high=%d", low.Score, high.Score)
	}
}

func TestScore_MonotonicInAdapterRiskClass(t *testing.T) {
	low := Score(Inputs{ToolCount: 1, SkillPinned: true, AdapterRiskClass: AdapterRiskLow})
	high := Score(Inputs{ToolCount: 1, SkillPinned: true, AdapterRiskClass: AdapterRiskHigh})
	if high.Score <= low.Score {
		t.Errorf("score should increase with adapter risk class: low=%d high=%d", low.Score, high.Score)
	}
}

func TestScore_DeprecatedSkillIncreasesScore(t *testing.T) {
	stable := Score(Inputs{ToolCount: 1, SkillState: SkillStable, SkillPinned: true})
	deprecated := Score(Inputs{ToolCount: 1, SkillState: SkillDeprecated, SkillPinned: true})
	if deprecated.Score <= stable.Score {
		t.Errorf("deprecated skill should score higher: stable=%d deprecated=%d", stable.Score, deprecated.Score)
	}
}

func TestScore_PrivilegedCapabilityIncreasesScore(t *testing.T) {
	base := Score(Inputs{ToolCount: 1, SkillPinned: true})
	withCap := Score(Inputs{ToolCount: 1, SkillPinned: true, RequestedCapabilities: []string{"external_network"}})
	if withCap.Score <= base.Score {
		t.Errorf("privileged capability should increase score: base=%d withCap=%d", base.Score, withCap.Score)
	}
}

func TestScore_ExternalNetworkAndWritesCompounds(t *testing.T) {
	network := Score(Inputs{ToolCount: 1, SkillPinned: true, ExternalNetwork: true})
	both := Score(Inputs{ToolCount: 1, SkillPinned: true, ExternalNetwork: true, WritesFilesystem: true})
	if both.Score <= network.Score {
		t.Errorf("combined network+writes should score higher than network alone: network=%d both=%d", network.Score, both.Score)
	}
}

func TestScore_UntestedProvenanceIncreasesScore(t *testing.T) {
	tested := Score(Inputs{ToolCount: 1, SkillPinned: true})
	untested := Score(Inputs{ToolCount: 1, SkillPinned: true, ProvenanceUntested: true})
	if untested.Score <= tested.Score {
		t.Errorf("untested provenance should increase score: tested=%d untested=%d", tested.Score, untested.Score)
	}
}

func TestScore_CriticalLevelBoundary(t *testing.T) {
	result := Score(Inputs{
		ToolCount:             6,
		SkillState:            SkillDeprecated,
		AdapterRiskClass:      AdapterRiskHigh,
		RequestedCapabilities: []string{"external_network", "filesystem_write", "shell_exec"},
		ExternalNetwork:       true,
		WritesFilesystem:      true,
		ProvenanceUntested:    true,
		DataSensitivityHigh:   true,
	})
	if result.Level != LevelCritical {
		t.Errorf("Level = %v, want critical for a maximally risky request (score=%d)", result.Level, result.Score)
	}
	if len(result.Factors) == 0 {
		t.Error("Factors should be populated explaining the score")
	}
}
