package audit

import (
	"context"
	"fmt"

	"github.com/agentgate/gatekeeper/pkg/stablejson"
)

// TraceStepType enumerates the kinds of step a trace records, per spec §3.
type TraceStepType string

const (
	TraceStepToolCall   TraceStepType = "tool_call"
	TraceStepToolResult TraceStepType = "tool_result"
	TraceStepLLMCall    TraceStepType = "llm_call"
	TraceStepError      TraceStepType = "error"
)

// IntegrityStatus is the trace's overall verification state, per spec §3.
type IntegrityStatus string

const (
	IntegrityVerified   IntegrityStatus = "verified"
	IntegrityCompromised IntegrityStatus = "compromised"
	IntegrityUnsigned   IntegrityStatus = "unsigned"
)

// TraceStep is one entry in a trace's hash-linked step sequence.
type TraceStep struct {
	StepID       string
	Type         TraceStepType
	Payload      map[string]interface{}
	PrevStepHash string
	StepHash     string
}

type traceStepCoreFields struct {
	StepID       string                 `json:"step_id"`
	Type         TraceStepType          `json:"type"`
	Payload      map[string]interface{} `json:"payload"`
	PrevStepHash string                 `json:"prev_step_hash"`
}

// computeStepHash mirrors the chain-hash pattern of computeEventHash,
// applied at the trace-step granularity per spec §3.
func computeStepHash(step TraceStep) (string, error) {
	return stablejson.Hash(traceStepCoreFields{
		StepID:       step.StepID,
		Type:         step.Type,
		Payload:      step.Payload,
		PrevStepHash: step.PrevStepHash,
	})
}

// IngestTrace validates the adapter-submitted step-hash chain of steps and
// returns the resulting integrity status, per the ingestTrace contract of
// spec §4.10. Steps arrive already carrying the adapter's own
// PrevStepHash/StepHash attestation (the same self-attested pattern as the
// audit chain) — ingest never recomputes and overwrites those fields, it
// checks them: a trace with no attestation at all is unsigned, one whose
// submitted hashes don't reproduce is compromised, and only a chain that
// VerifyTrace confirms link-for-link is verified.
func IngestTrace(ctx context.Context, steps []TraceStep) ([]TraceStep, IntegrityStatus, error) {
	if len(steps) == 0 {
		return nil, IntegrityUnsigned, nil
	}
	if !anyStepSigned(steps) {
		return steps, IntegrityUnsigned, nil
	}
	status, err := VerifyTrace(ctx, steps)
	if err != nil {
		return steps, IntegrityCompromised, fmt.Errorf("audit.IngestTrace: %w", err)
	}
	return steps, status, nil
}

// anyStepSigned reports whether the adapter attempted to attest any step at
// all. A trace where no step carries a hash is unsigned outright; a trace
// where some but not all steps carry one is caught as compromised by
// VerifyTrace's recomputation, not treated as unsigned.
func anyStepSigned(steps []TraceStep) bool {
	for _, s := range steps {
		if s.StepHash != "" {
			return true
		}
	}
	return false
}

// VerifyTrace re-walks an already-stamped step sequence and reports whether
// it is still internally consistent.
func VerifyTrace(ctx context.Context, steps []TraceStep) (IntegrityStatus, error) {
	var prevHash string
	for _, step := range steps {
		if step.PrevStepHash != prevHash {
			return IntegrityCompromised, nil
		}
		recomputed, err := computeStepHash(TraceStep{StepID: step.StepID, Type: step.Type, Payload: step.Payload, PrevStepHash: step.PrevStepHash})
		if err != nil {
			return IntegrityCompromised, fmt.Errorf("audit.VerifyTrace: %w", err)
		}
		if recomputed != step.StepHash {
			return IntegrityCompromised, nil
		}
		prevHash = step.StepHash
	}
	return IntegrityVerified, nil
}
