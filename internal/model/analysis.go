package model

import (
	"time"
)

// 分析状态
const (
	AnalysisStatusPending  = "PENDING"
	AnalysisStatusAccepted = "ACCEPTED"
	AnalysisStatusFailed   = "FAILED"
)

// 质量门禁结论
const (
	GateResultPassed = "PASSED"
	GateResultFailed = "FAILED"
	GateResultNone   = "NONE" // 未绑定门禁
)

// 问题严重级别
const (
	SeverityHigh     = "HIGH"
	SeverityMedium   = "MEDIUM"
	SeverityLow      = "LOW"
	SeverityInfo     = "INFO"
	SeverityResolved = "RESOLVED"
)

// 问题分类
const (
	CategorySecurity     = "SECURITY"
	CategoryPerformance  = "PERFORMANCE"
	CategoryCodeQuality  = "CODE_QUALITY"
	CategoryBugRisk      = "BUG_RISK"
	CategoryStyle        = "STYLE"
	CategoryArchitecture = "ARCHITECTURE"
)

// ValidSeverity 判断是否为已知级别
func ValidSeverity(s string) bool {
	switch s {
	case SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo, SeverityResolved:
		return true
	}
	return false
}

// CodeAnalysis 一次分析运行（进行中或已完成）
//
// (project_id, commit_hash, pr_number) 三元组唯一，是重复 webhook 投递和
// 任务重试的幂等键；pr_number=0 表示分支分析。PRVersion 在同一
// (project, pr_number) 下严格递增，从 1 开始。
type CodeAnalysis struct {
	ID              int64      `gorm:"primaryKey" json:"id"`
	ProjectID       int64      `gorm:"not null;uniqueIndex:idx_analysis_cache_key" json:"project_id"`
	CommitHash      string     `gorm:"size:64;not null;uniqueIndex:idx_analysis_cache_key" json:"commit_hash"`
	PRNumber        int        `gorm:"not null;default:0;uniqueIndex:idx_analysis_cache_key" json:"pr_number,omitempty"`
	PRVersion       int        `gorm:"not null;default:1" json:"pr_version"`
	SourceBranch    string     `gorm:"size:255" json:"source_branch,omitempty"`
	TargetBranch    string     `gorm:"size:255" json:"target_branch,omitempty"`
	Status          string     `gorm:"size:20;not null;default:PENDING;index" json:"status"`
	Result          string     `gorm:"size:10;not null;default:NONE" json:"result"`
	Comment         string     `gorm:"type:text" json:"comment,omitempty"`
	DiffFingerprint string     `gorm:"size:64;index" json:"diff_fingerprint,omitempty"` // diff 内容哈希，commit 变了但内容没变时的二级缓存键
	Cloned          bool       `gorm:"not null;default:false" json:"cloned"`
	HighCount       int        `gorm:"not null;default:0" json:"high_count"`
	MediumCount     int        `gorm:"not null;default:0" json:"medium_count"`
	LowCount        int        `gorm:"not null;default:0" json:"low_count"`
	InfoCount       int        `gorm:"not null;default:0" json:"info_count"`
	NewIssueCount   int        `gorm:"not null;default:0" json:"new_issue_count"`
	CreatedAt       time.Time  `gorm:"index" json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`

	Issues []CodeAnalysisIssue `gorm:"foreignKey:AnalysisID" json:"issues,omitempty"`
}

func (CodeAnalysis) TableName() string {
	return "code_analyses"
}

// CountBySeverity 按级别统计问题数（RESOLVED 不计入）
func (a *CodeAnalysis) CountBySeverity(severity string) int {
	switch severity {
	case SeverityHigh:
		return a.HighCount
	case SeverityMedium:
		return a.MediumCount
	case SeverityLow:
		return a.LowCount
	case SeverityInfo:
		return a.InfoCount
	}
	return 0
}

// TotalIssueCount 未解决问题总数
func (a *CodeAnalysis) TotalIssueCount() int {
	return a.HighCount + a.MediumCount + a.LowCount + a.InfoCount
}

// CodeAnalysisIssue 某次分析中发现的一个问题
type CodeAnalysisIssue struct {
	ID         int64  `gorm:"primaryKey" json:"id"`
	AnalysisID int64  `gorm:"not null;index" json:"analysis_id"`
	Severity   string `gorm:"size:10;not null;index" json:"severity"`
	Category   string `gorm:"size:20;index" json:"category,omitempty"`
	FilePath   string `gorm:"size:500;not null" json:"file_path"`
	LineNumber int    `json:"line_number,omitempty"`
	Reason     string `gorm:"type:text" json:"reason"`

	SuggestedFixDescription string `gorm:"type:text" json:"suggested_fix_description,omitempty"`
	SuggestedFixDiff        string `gorm:"type:text" json:"suggested_fix_diff,omitempty"`

	// 解决状态：跨版本追踪时由 lifecycle 回填
	Resolved            bool       `gorm:"not null;default:false;index" json:"resolved"`
	ResolvedDescription string     `gorm:"type:text" json:"resolved_description,omitempty"`
	ResolvedByPR        int        `json:"resolved_by_pr,omitempty"`
	ResolvedCommitHash  string     `gorm:"size:64" json:"resolved_commit_hash,omitempty"`
	ResolvedAnalysisID  *int64     `json:"resolved_analysis_id,omitempty"`
	ResolvedAt          *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy          string     `gorm:"size:255" json:"resolved_by,omitempty"`

	// 跨分析版本的身份：指向上一个版本中的同一问题
	OriginalIssueID *int64 `gorm:"index" json:"original_issue_id,omitempty"`

	// 问题代码的作者归属
	AuthorID       string `gorm:"size:64" json:"author_id,omitempty"`
	AuthorUsername string `gorm:"size:255" json:"author_username,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (CodeAnalysisIssue) TableName() string {
	return "code_analysis_issues"
}

// CloneForAnalysis 深拷贝到新分析，问题获得新身份但保留全部字段
func (i *CodeAnalysisIssue) CloneForAnalysis(analysisID int64) *CodeAnalysisIssue {
	clone := *i
	clone.ID = 0
	clone.AnalysisID = analysisID
	clone.CreatedAt = time.Time{}
	return &clone
}

// BranchIssue 分支维度的问题（合并后追踪），形态与 PR 问题一致但生命周期
// 跟随长期分支而不是某个 PR 版本
type BranchIssue struct {
	ID         int64  `gorm:"primaryKey" json:"id"`
	ProjectID  int64  `gorm:"not null;index:idx_branch_issues_key" json:"project_id"`
	BranchName string `gorm:"size:255;not null;index:idx_branch_issues_key" json:"branch_name"`
	Severity   string `gorm:"size:10;not null;index" json:"severity"`
	Category   string `gorm:"size:20" json:"category,omitempty"`
	FilePath   string `gorm:"size:500;not null" json:"file_path"`
	LineNumber int    `json:"line_number,omitempty"`
	Reason     string `gorm:"type:text" json:"reason"`

	Resolved           bool       `gorm:"not null;default:false;index" json:"resolved"`
	ResolvedByPR       int        `json:"resolved_by_pr,omitempty"`
	ResolvedCommitHash string     `gorm:"size:64" json:"resolved_commit_hash,omitempty"`
	ResolvedAt         *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy         string     `gorm:"size:255" json:"resolved_by,omitempty"`

	OriginalIssueID *int64 `gorm:"index" json:"original_issue_id,omitempty"` // 来源 PR 问题

	AuthorID       string `gorm:"size:64" json:"author_id,omitempty"`
	AuthorUsername string `gorm:"size:255" json:"author_username,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (BranchIssue) TableName() string {
	return "branch_issues"
}
