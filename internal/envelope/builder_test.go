package envelope

import (
	"testing"
)

func TestBuilderData(t *testing.T) {
	resp := New().Data(map[string]int{"x": 1}).Build()
	if resp.Data == nil {
		t.Fatal("expected data to be set")
	}
	if resp.SchemaVersion != CurrentSchemaVersion {
		t.Errorf("schemaVersion = %q, want %q", resp.SchemaVersion, CurrentSchemaVersion)
	}
}

func TestBuilderWarningWithCode(t *testing.T) {
	resp := New().Data(nil).WarningWithCode("LOW_CONFIDENCE", "conf below floor").Build()
	if resp.Warnings[0].Code != "LOW_CONFIDENCE" {
		t.Errorf("code = %q, want LOW_CONFIDENCE", resp.Warnings[0].Code)
	}
}

func TestBuilderErrorNil(t *testing.T) {
	resp := New().Data(nil).Error(nil).Build()
	if resp.Error != nil {
		t.Errorf("expected nil error, got %v", resp.Error)
	}
}
