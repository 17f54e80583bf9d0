package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestApplyResponsePolicy_ApprovedCallbackTrivialText covers invariant I8:
// approved-callback + trivial/empty/plain-text-approval raw text must
// produce output beginning with "Approval received." and
// forced_approved_status=true.
func TestApplyResponsePolicy_ApprovedCallbackTrivialText(t *testing.T) {
	cases := []string{"", "done", "Done.", "all set", "Please approve this transfer"}
	for _, raw := range cases {
		result := ApplyResponsePolicy(ResponsePolicyInput{
			RawText:             raw,
			WasApprovedCallback: true,
		})
		assert.True(t, strings.HasPrefix(result.Text, "Approval received."), "raw=%q got=%q", raw, result.Text)
		assert.True(t, result.ForcedApprovedStatus)
		assert.True(t, result.ReaskBlocked)
	}
}

func TestApplyResponsePolicy_ApprovedCallbackTrivialText_IncludesToolSummary(t *testing.T) {
	result := ApplyResponsePolicy(ResponsePolicyInput{
		RawText:             "done",
		WasApprovedCallback: true,
		ToolResultSummary:   "Sent 2.5 TON to EQabc... (hash 0xdead)",
	})
	assert.Contains(t, result.Text, "Sent 2.5 TON")
}

func TestApplyResponsePolicy_NonApprovedTrivialText_QuotesOriginalRequest(t *testing.T) {
	result := ApplyResponsePolicy(ResponsePolicyInput{
		RawText:             "ok",
		WasApprovedCallback: false,
		OriginalUserRequest: "check my TON balance",
	})
	assert.False(t, result.ForcedApprovedStatus)
	assert.Contains(t, result.Text, "check my TON balance")
}

func TestApplyResponsePolicy_NormalTextPassesThroughUnchanged(t *testing.T) {
	result := ApplyResponsePolicy(ResponsePolicyInput{RawText: "Your balance is 12.4 TON."})
	assert.Equal(t, "Your balance is 12.4 TON.", result.Text)
	assert.False(t, result.ForcedApprovedStatus)
}

func TestApplyResponsePolicy_PendingApprovalsAppendSuffix(t *testing.T) {
	result := ApplyResponsePolicy(ResponsePolicyInput{
		RawText:              "Here's what I found.",
		PendingApprovalCount: 1,
	})
	assert.Contains(t, result.Text, "Here's what I found.")
	assert.Contains(t, result.Text, "Approval pending")
}

func TestApplyResponsePolicy_NoPendingApprovalsNoSuffix(t *testing.T) {
	result := ApplyResponsePolicy(ResponsePolicyInput{RawText: "All good."})
	assert.NotContains(t, result.Text, "Approval pending")
}
