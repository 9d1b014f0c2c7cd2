package verify

import (
	"testing"

	"github.com/miclaldogan/bantz-sub008/pkg/models"
)

func TestEmptyResultValidForWhitelistedTools(t *testing.T) {
	v := New(nil)
	results := []models.ToolResult{
		{Tool: "calendar.list_events", Kind: models.ToolResultOK, Success: true, Result: []any{}},
		{Tool: "gmail.search", Kind: models.ToolResultOK, Success: true, Result: map[string]any{}},
	}

	out := v.VerifyToolResults(results, nil)
	if !out.Verified {
		t.Fatalf("empty list results should verify: %+v", out.PerTool)
	}
	if len(out.ToolsOK) != 2 {
		t.Errorf("expected both tools ok, got %v", out.ToolsOK)
	}
}

func TestEmptyResultFailsForNonWhitelistedTool(t *testing.T) {
	v := New(nil)
	out := v.VerifyToolResults([]models.ToolResult{
		{Tool: "gmail.get_message", Kind: models.ToolResultOK, Success: true, Result: nil},
	}, nil)
	if out.Verified {
		t.Error("empty get_message without retry must fail verification")
	}
}

func TestSafetyRejectedNeverRetried(t *testing.T) {
	v := New(nil)
	retries := 0
	retry := func(tool string, original models.ToolResult) models.ToolResult {
		retries++
		return models.ToolResult{Tool: tool, Success: true, Result: "x"}
	}

	tests := []models.ToolResult{
		{Tool: "gmail.search", SafetyRejected: true, Error: "rejected"},
		{Tool: "gmail.search", Kind: models.ToolResultSafetyRejected, Error: "rejected"},
		{Tool: "gmail.search", Error: "command blocked by guardrails"},
		{Tool: "gmail.search", Error: "safety policy violation"},
	}
	for _, res := range tests {
		out := v.VerifyToolResults([]models.ToolResult{res}, retry)
		if out.Verified {
			t.Errorf("safety-rejected result must fail: %+v", res)
		}
	}
	if retries != 0 {
		t.Errorf("safety rejections must never be retried, saw %d retries", retries)
	}
}

func TestRetrySubstitutesSuccessfulResult(t *testing.T) {
	v := New(nil)
	retry := func(tool string, original models.ToolResult) models.ToolResult {
		return models.ToolResult{
			Tool: tool, Kind: models.ToolResultOK, Success: true,
			Result: []any{"meeting at 3pm"},
		}
	}

	out := v.VerifyToolResults([]models.ToolResult{
		{Tool: "calendar.get_event", Kind: models.ToolResultError, Error: "transient"},
	}, retry)

	if !out.Verified {
		t.Fatalf("successful retry must verify: %+v", out.PerTool)
	}
	if len(out.ToolsRetry) != 1 || out.ToolsRetry[0] != "calendar.get_event" {
		t.Errorf("retry not recorded: %v", out.ToolsRetry)
	}
	final := out.VerifiedResults[0]
	if !final.Retried || !final.Success {
		t.Errorf("verified results must carry the substituted result: %+v", final)
	}
}

func TestRetryHappensAtMostOnce(t *testing.T) {
	v := New(nil)
	retries := 0
	retry := func(tool string, original models.ToolResult) models.ToolResult {
		retries++
		return models.ToolResult{Tool: tool, Kind: models.ToolResultError, Error: "still failing"}
	}

	out := v.VerifyToolResults([]models.ToolResult{
		{Tool: "gmail.unread_count", Kind: models.ToolResultError, Error: "transient"},
	}, retry)

	if retries != 1 {
		t.Errorf("expected exactly one retry, got %d", retries)
	}
	if out.Verified {
		t.Error("failed retry must keep the failure")
	}
	// The original result stays when the retry also fails.
	if out.VerifiedResults[0].Error != "transient" {
		t.Errorf("failed retry must keep the original result: %+v", out.VerifiedResults[0])
	}
}

func TestMutatingToolsNeverRetried(t *testing.T) {
	v := New(nil)
	retries := 0
	retry := func(tool string, original models.ToolResult) models.ToolResult {
		retries++
		return models.ToolResult{Tool: tool, Success: true, Result: "sent"}
	}

	out := v.VerifyToolResults([]models.ToolResult{
		{Tool: "gmail.send", Kind: models.ToolResultError, Error: "transient"},
		{Tool: "calendar.delete_event", Kind: models.ToolResultTimeout, TimedOut: true, Error: "İşlem zaman aşımına uğradı"},
	}, retry)

	if retries != 0 {
		t.Errorf("mutating tools must never be retried, saw %d", retries)
	}
	if len(out.ToolsFail) != 2 {
		t.Errorf("both mutating failures must fail: %v", out.ToolsFail)
	}
}
