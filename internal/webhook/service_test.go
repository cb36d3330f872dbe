package webhook

import "testing"

func TestIsConverted_MainKPITakesPrecedence(t *testing.T) {
	analysis := map[string]interface{}{
		"custom_goal_met": true,
	}

	if !isConverted(analysis, "custom_goal_met") {
		t.Fatal("expected conversion via main KPI field")
	}
	if isConverted(analysis, "") {
		t.Fatal("expected no conversion without the KPI field configured")
	}
}

func TestIsConverted_FallsBackToIndicators(t *testing.T) {
	analysis := map[string]interface{}{
		"agreed_to_schedule": "yes",
	}

	if !isConverted(analysis, "") {
		t.Fatal("expected conversion via standard indicator")
	}
	if !isConverted(analysis, "some_other_kpi") {
		t.Fatal("expected indicator fallback when the KPI field is absent")
	}
}

func TestIsConverted_FalsySignals(t *testing.T) {
	analysis := map[string]interface{}{
		"appointment_confirmed": false,
		"issue_resolved":        "no",
		"agreed_to_schedule":    42,
	}

	if isConverted(analysis, "") {
		t.Fatal("expected no conversion from falsy or non-boolean signals")
	}
}

func TestInboundFallback_AlwaysRoutable(t *testing.T) {
	resp := inboundFallback("invalid payload")

	if resp.Status != "error" {
		t.Fatalf("expected error status, got %q", resp.Status)
	}
	if resp.Error != "invalid payload" {
		t.Fatalf("expected reason preserved, got %q", resp.Error)
	}
	if resp.CallInbound.OverrideAgentID != nil {
		t.Fatal("expected nil override agent so the provider default answers")
	}
	if resp.CallInbound.DynamicVariables == nil || resp.CallInbound.Metadata == nil {
		t.Fatal("expected empty but non-nil variable maps")
	}
}
