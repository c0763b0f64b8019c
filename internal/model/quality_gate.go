package model

import (
	"time"
)

// 门禁指标
const (
	MetricIssuesBySeverity = "ISSUES_BY_SEVERITY"
	MetricNewIssues        = "NEW_ISSUES"
	MetricIssuesByCategory = "ISSUES_BY_CATEGORY"
)

// 比较运算符
const (
	ComparatorGreaterThan        = "GREATER_THAN"
	ComparatorGreaterThanOrEqual = "GREATER_THAN_OR_EQUAL"
	ComparatorLessThan           = "LESS_THAN"
	ComparatorLessThanOrEqual    = "LESS_THAN_OR_EQUAL"
	ComparatorEqual              = "EQUAL"
	ComparatorNotEqual           = "NOT_EQUAL"
)

// QualityGate 质量门禁：一组可启停的规则
type QualityGate struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	WorkspaceID int64     `gorm:"not null;index" json:"workspace_id"`
	Name        string    `gorm:"size:200;not null" json:"name"`
	// 不带 default 标签：带默认值的零值字段会被 gorm 在 INSERT 时省略，
	// Active=false 会被悄悄写成 true
	Active      bool      `gorm:"not null" json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Conditions []QualityGateCondition `gorm:"foreignKey:GateID" json:"conditions,omitempty"`
}

func (QualityGate) TableName() string {
	return "quality_gates"
}

// QualityGateCondition 单条门禁规则
type QualityGateCondition struct {
	ID         int64  `gorm:"primaryKey" json:"id"`
	GateID     int64  `gorm:"not null;index" json:"gate_id"`
	Metric     string `gorm:"size:30;not null" json:"metric"`
	Severity   string `gorm:"size:10" json:"severity,omitempty"` // ISSUES_BY_SEVERITY 时使用
	Category   string `gorm:"size:20" json:"category,omitempty"` // ISSUES_BY_CATEGORY 时使用
	Comparator string `gorm:"size:30;not null" json:"comparator"`
	Threshold  int    `gorm:"not null" json:"threshold"`
	Enabled    bool   `gorm:"not null" json:"enabled"` // 同 Active，不能带 default 标签
}

func (QualityGateCondition) TableName() string {
	return "quality_gate_conditions"
}

// Evaluate 判定观测值是否通过本条规则。规则被触发（比较为真）即不通过；
// 被禁用的规则永远通过。未知运算符视为配置错误，按通过处理，
// 门禁配置问题不应让分析失败。
func (c *QualityGateCondition) Evaluate(value int) bool {
	if !c.Enabled {
		return true
	}
	switch c.Comparator {
	case ComparatorGreaterThan:
		return !(value > c.Threshold)
	case ComparatorGreaterThanOrEqual:
		return !(value >= c.Threshold)
	case ComparatorLessThan:
		return !(value < c.Threshold)
	case ComparatorLessThanOrEqual:
		return !(value <= c.Threshold)
	case ComparatorEqual:
		return !(value == c.Threshold)
	case ComparatorNotEqual:
		return !(value != c.Threshold)
	}
	return true
}

// Fails Evaluate 的逻辑取反，聚合器用它决定整体结论
func (c *QualityGateCondition) Fails(value int) bool {
	return !c.Evaluate(value)
}
