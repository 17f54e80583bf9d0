package approval

import (
	"strings"

	"github.com/chatbridge/core/pkg/agent"
)

// ToolRiskClass buckets a tool for the base-risk lookup in §4.8's risk
// assessment. Distinct from agent.ToolClass, which drives the
// needs-approval decision itself rather than the risk level of a call that
// already needs one.
type ToolRiskClass string

const (
	ToolRiskClassWrite      ToolRiskClass = "write"
	ToolRiskClassBatchWrite ToolRiskClass = "batch_write"
	ToolRiskClassProof      ToolRiskClass = "proof"
)

// RiskLevel mirrors ent.Approval's risk_level enum.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskRank = map[RiskLevel]int{RiskLow: 0, RiskMedium: 1, RiskHigh: 2, RiskCritical: 3}

func levelFromRank(rank int) RiskLevel {
	switch {
	case rank <= 0:
		return RiskLow
	case rank == 1:
		return RiskMedium
	case rank == 2:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// Confidence mirrors ent.Approval's risk_confidence field.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

func baseRiskByClass(class ToolRiskClass) RiskLevel {
	switch class {
	case ToolRiskClassBatchWrite:
		return RiskCritical
	case ToolRiskClassProof:
		return RiskMedium
	default:
		return RiskHigh
	}
}

var valueKeyHints = []string{"amount", "value", "ton", "coins", "send"}
var gasKeyHints = []string{"gas", "fee", "fwd_fee"}

// AssessRisk implements §4.8's pure risk-assessment function. It walks
// tool_input looking for value/gas estimates by key-name hints, applies the
// cautious/advanced profile adjustment and the batch-size and
// value-threshold escalations, and reports a confidence based on how much
// of the picture (value, gas) it actually found.
func AssessRisk(toolName string, toolInput map[string]interface{}, class ToolRiskClass, riskProfile agent.RiskProfile) (RiskLevel, Confidence) {
	var (
		valueFound, gasFound bool
		value, gas           float64
		batchSize            int
	)
	walkInput(toolInput, &valueFound, &value, &gasFound, &gas, &batchSize)

	rank := riskRank[baseRiskByClass(class)]

	switch riskProfile {
	case agent.RiskProfileCautious:
		rank++
	case agent.RiskProfileAdvanced:
		rank--
	}

	if batchSize >= 5 {
		rank = riskRank[RiskCritical]
	}

	if valueFound {
		switch {
		case value >= 100:
			rank = max(rank, riskRank[RiskCritical])
		case value >= 10:
			rank = max(rank, riskRank[RiskHigh])
		case value >= 1:
			rank = max(rank, riskRank[RiskMedium])
		}
	}

	if rank < riskRank[RiskLow] {
		rank = riskRank[RiskLow]
	}

	confidence := ConfidenceLow
	switch {
	case valueFound && gasFound:
		confidence = ConfidenceHigh
	case valueFound || gasFound:
		confidence = ConfidenceMedium
	}

	return levelFromRank(rank), confidence
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// walkInput recursively scans a decoded JSON value for keys matching the
// value/gas hints, and records the largest array length it encounters as
// the batch-size signal.
func walkInput(node interface{}, valueFound *bool, value *float64, gasFound *bool, gas *float64, batchSize *int) {
	switch v := node.(type) {
	case map[string]interface{}:
		for key, val := range v {
			if num, ok := asFloat(val); ok {
				scaled := num
				if strings.Contains(strings.ToLower(key), "nano") {
					scaled = num / 1e9
				}
				lower := strings.ToLower(key)
				if !*valueFound && matchesAny(lower, valueKeyHints) {
					*value = scaled
					*valueFound = true
				}
				if !*gasFound && matchesAny(lower, gasKeyHints) {
					*gas = scaled
					*gasFound = true
				}
			}
			walkInput(val, valueFound, value, gasFound, gas, batchSize)
		}
	case []interface{}:
		if len(v) > *batchSize {
			*batchSize = len(v)
		}
		for _, item := range v {
			walkInput(item, valueFound, value, gasFound, gas, batchSize)
		}
	}
}

func matchesAny(key string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(key, h) {
			return true
		}
	}
	return false
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}
