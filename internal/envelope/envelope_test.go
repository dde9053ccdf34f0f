package envelope

import (
	"encoding/json"
	"fmt"
	"testing"
)

func TestScoreToTier(t *testing.T) {
	tests := []struct {
		score float64
		want  ConfidenceTier
	}{
		{0.90, TierHigh},
		{0.65, TierHigh},
		{0.64, TierLow},
		{0.60, TierLow},
		{0.59, TierHigh}, // below reject: caller returns nil before envelope construction
	}

	for _, tt := range tests {
		got := ScoreToTier(tt.score, 0.60, 0.65)
		if got != tt.want {
			t.Errorf("ScoreToTier(%v) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestBuilderBasic(t *testing.T) {
	resp := New().
		Data(map[string]string{"key": "value"}).
		Build()

	if resp.SchemaVersion != CurrentSchemaVersion {
		t.Errorf("SchemaVersion = %q, want %q", resp.SchemaVersion, CurrentSchemaVersion)
	}

	data, ok := resp.Data.(map[string]string)
	if !ok {
		t.Fatalf("Data type = %T, want map[string]string", resp.Data)
	}
	if data["key"] != "value" {
		t.Errorf("Data[key] = %q, want %q", data["key"], "value")
	}
}

func TestBuilderConfidence(t *testing.T) {
	resp := New().
		Data(nil).
		Confidence(0.62, TierLow, "below suggestion_floor").
		Build()

	if resp.Meta == nil || resp.Meta.Confidence == nil {
		t.Fatal("Meta.Confidence should not be nil")
	}
	if resp.Meta.Confidence.Score != 0.62 {
		t.Errorf("Confidence.Score = %v, want 0.62", resp.Meta.Confidence.Score)
	}
	if resp.Meta.Confidence.Tier != TierLow {
		t.Errorf("Confidence.Tier = %q, want %q", resp.Meta.Confidence.Tier, TierLow)
	}
}

func TestBuilderWarning(t *testing.T) {
	resp := New().
		Data(nil).
		Warning("first warning").
		WarningWithCode("W001", "coded warning").
		Build()

	if len(resp.Warnings) != 2 {
		t.Fatalf("Warnings count = %d, want 2", len(resp.Warnings))
	}

	if resp.Warnings[0].Message != "first warning" {
		t.Errorf("Warnings[0].Message = %q, want %q", resp.Warnings[0].Message, "first warning")
	}
	if resp.Warnings[0].Code != "" {
		t.Errorf("Warnings[0].Code = %q, want empty", resp.Warnings[0].Code)
	}

	if resp.Warnings[1].Code != "W001" {
		t.Errorf("Warnings[1].Code = %q, want %q", resp.Warnings[1].Code, "W001")
	}
}

func TestBuilderError(t *testing.T) {
	resp := New().
		Data(nil).
		Error(nil).
		Build()
	if resp.Error != nil {
		t.Error("Error should be nil when no error passed")
	}

	testErr := fmt.Errorf("no candidates")
	resp = New().
		Data(nil).
		Error(testErr).
		Build()
	if resp.Error == nil {
		t.Fatal("Error should not be nil")
	}
	if *resp.Error != "no candidates" {
		t.Errorf("Error = %q, want %q", *resp.Error, "no candidates")
	}
}

func TestOperational(t *testing.T) {
	data := map[string]bool{"pong": true}
	resp := Operational(data)

	if resp.SchemaVersion != CurrentSchemaVersion {
		t.Errorf("SchemaVersion = %q, want %q", resp.SchemaVersion, CurrentSchemaVersion)
	}

	if resp.Meta == nil || resp.Meta.Confidence == nil {
		t.Fatal("Meta.Confidence should not be nil")
	}
	if resp.Meta.Confidence.Score != 1.0 {
		t.Errorf("Confidence.Score = %v, want 1.0", resp.Meta.Confidence.Score)
	}
	if resp.Meta.Confidence.Tier != TierHigh {
		t.Errorf("Confidence.Tier = %q, want %q", resp.Meta.Confidence.Tier, TierHigh)
	}
}

func TestResponseJSONSerialization(t *testing.T) {
	resp := New().
		Data(map[string]string{"foo": "bar"}).
		Warning("test warning").
		Confidence(0.72, TierHigh).
		Build()

	jsonBytes, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("json.Marshal failed: %v", err)
	}

	var parsed Response
	if err := json.Unmarshal(jsonBytes, &parsed); err != nil {
		t.Fatalf("json.Unmarshal failed: %v", err)
	}

	if parsed.SchemaVersion != CurrentSchemaVersion {
		t.Errorf("SchemaVersion = %q, want %q", parsed.SchemaVersion, CurrentSchemaVersion)
	}

	if len(parsed.Warnings) != 1 {
		t.Errorf("Warnings count = %d, want 1", len(parsed.Warnings))
	}

	if parsed.Meta == nil || parsed.Meta.Confidence == nil {
		t.Fatal("Meta.Confidence should not be nil")
	}
	if parsed.Meta.Confidence.Tier != TierHigh {
		t.Errorf("Confidence.Tier = %q, want %q", parsed.Meta.Confidence.Tier, TierHigh)
	}
}

func TestBuilderChaining(t *testing.T) {
	builder := New()
	b1 := builder.Data(nil)
	if b1 != builder {
		t.Error("Data() should return same builder")
	}

	b2 := builder.Warning("test")
	if b2 != builder {
		t.Error("Warning() should return same builder")
	}
}
