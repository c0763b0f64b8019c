package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQualityGateCondition_Evaluate(t *testing.T) {
	tests := []struct {
		name       string
		comparator string
		threshold  int
		value      int
		pass       bool
	}{
		{"greater_than triggered", ComparatorGreaterThan, 5, 6, false},
		{"greater_than at threshold passes", ComparatorGreaterThan, 5, 5, true},
		{"greater_than below passes", ComparatorGreaterThan, 5, 4, true},
		{"greater_than_or_equal at threshold triggered", ComparatorGreaterThanOrEqual, 5, 5, false},
		{"greater_than_or_equal below passes", ComparatorGreaterThanOrEqual, 5, 4, true},
		{"less_than triggered", ComparatorLessThan, 5, 4, false},
		{"less_than at threshold passes", ComparatorLessThan, 5, 5, true},
		{"less_than_or_equal at threshold triggered", ComparatorLessThanOrEqual, 5, 5, false},
		{"less_than_or_equal above passes", ComparatorLessThanOrEqual, 5, 6, true},
		{"equal triggered", ComparatorEqual, 5, 5, false},
		{"equal mismatch passes", ComparatorEqual, 5, 4, true},
		{"not_equal triggered", ComparatorNotEqual, 5, 4, false},
		{"not_equal match passes", ComparatorNotEqual, 5, 5, true},
		{"zero threshold greater_than", ComparatorGreaterThan, 0, 1, false},
		{"unknown comparator passes", "BETWEEN", 5, 100, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond := &QualityGateCondition{
				Metric:     MetricIssuesBySeverity,
				Severity:   SeverityHigh,
				Comparator: tt.comparator,
				Threshold:  tt.threshold,
				Enabled:    true,
			}
			assert.Equal(t, tt.pass, cond.Evaluate(tt.value))
			assert.Equal(t, !tt.pass, cond.Fails(tt.value))
		})
	}
}

func TestQualityGateCondition_Disabled(t *testing.T) {
	cond := &QualityGateCondition{
		Comparator: ComparatorGreaterThan,
		Threshold:  0,
		Enabled:    false,
	}
	// 禁用的规则即使明显触发也永远通过
	assert.True(t, cond.Evaluate(1000))
	assert.False(t, cond.Fails(1000))
}

func TestCodeAnalysis_CountBySeverity(t *testing.T) {
	analysis := &CodeAnalysis{HighCount: 2, MediumCount: 3, LowCount: 5, InfoCount: 7}

	assert.Equal(t, 2, analysis.CountBySeverity(SeverityHigh))
	assert.Equal(t, 3, analysis.CountBySeverity(SeverityMedium))
	assert.Equal(t, 5, analysis.CountBySeverity(SeverityLow))
	assert.Equal(t, 7, analysis.CountBySeverity(SeverityInfo))
	assert.Equal(t, 0, analysis.CountBySeverity(SeverityResolved))
	assert.Equal(t, 17, analysis.TotalIssueCount())
}

func TestProject_BranchInScope(t *testing.T) {
	t.Run("empty patterns match everything", func(t *testing.T) {
		p := &Project{}
		assert.True(t, p.BranchInScope("main"))
		assert.True(t, p.BranchInScope("feature/anything"))
	})

	t.Run("glob patterns", func(t *testing.T) {
		p := &Project{BranchPatterns: "main, release-*, feature/*"}
		assert.True(t, p.BranchInScope("main"))
		assert.True(t, p.BranchInScope("release-2.1"))
		assert.True(t, p.BranchInScope("feature/login"))
		assert.False(t, p.BranchInScope("experiment/x"))
		// path.Match 的 * 不跨 /
		assert.False(t, p.BranchInScope("feature/a/b"))
	})
}
