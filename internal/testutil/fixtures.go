package testutil

import (
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/codecrow/codecrow-server/internal/model"
)

// TestWorkspace 创建测试工作区
func TestWorkspace(t *testing.T, db *gorm.DB, opts ...func(*model.Workspace)) *model.Workspace {
	t.Helper()

	ws := &model.Workspace{
		Name: "Test Workspace",
		Slug: fmt.Sprintf("test-ws-%d", time.Now().UnixNano()),
	}

	for _, opt := range opts {
		opt(ws)
	}

	if err := db.Create(ws).Error; err != nil {
		t.Fatalf("Failed to create test workspace: %v", err)
	}

	return ws
}

// WithDefaultGate 设置工作区默认门禁
func WithDefaultGate(gateID int64) func(*model.Workspace) {
	return func(ws *model.Workspace) {
		ws.DefaultQualityGateID = &gateID
	}
}

// TestProject 创建测试项目
func TestProject(t *testing.T, db *gorm.DB, workspaceID int64, opts ...func(*model.Project)) *model.Project {
	t.Helper()

	suffix := time.Now().UnixNano() % 100000
	project := &model.Project{
		WorkspaceID: workspaceID,
		Name:        fmt.Sprintf("Test Project %d", suffix),
		RepoSlug:    fmt.Sprintf("repo-%d", suffix),
		Repository:  fmt.Sprintf("testws/repo-%d", suffix),
		MainBranch:  "main",
	}

	for _, opt := range opts {
		opt(project)
	}

	if err := db.Create(project).Error; err != nil {
		t.Fatalf("Failed to create test project: %v", err)
	}

	return project
}

// WithQualityGate 设置项目级门禁
func WithQualityGate(gateID int64) func(*model.Project) {
	return func(p *model.Project) {
		p.QualityGateID = &gateID
	}
}

// WithBranchPatterns 设置分支范围
func WithBranchPatterns(patterns string) func(*model.Project) {
	return func(p *model.Project) {
		p.BranchPatterns = patterns
	}
}

// TestJob 创建测试任务
func TestJob(t *testing.T, db *gorm.DB, projectID int64, opts ...func(*model.Job)) *model.Job {
	t.Helper()

	job := &model.Job{
		PublicID:      fmt.Sprintf("job%d", time.Now().UnixNano()),
		ProjectID:     projectID,
		JobType:       model.JobTypePRAnalysis,
		Status:        model.JobStatusPending,
		TriggerSource: model.TriggerSourceWebhook,
		BranchName:    "feature/test",
		PRNumber:      42,
		CommitHash:    "abc123",
	}

	for _, opt := range opts {
		opt(job)
	}

	if err := db.Create(job).Error; err != nil {
		t.Fatalf("Failed to create test job: %v", err)
	}

	return job
}

// WithJobStatus 设置任务状态
func WithJobStatus(status string) func(*model.Job) {
	return func(j *model.Job) {
		j.Status = status
	}
}

// WithJobType 设置任务类型
func WithJobType(jobType string) func(*model.Job) {
	return func(j *model.Job) {
		j.JobType = jobType
	}
}

// TestAnalysis 创建测试分析
func TestAnalysis(t *testing.T, db *gorm.DB, projectID int64, opts ...func(*model.CodeAnalysis)) *model.CodeAnalysis {
	t.Helper()

	analysis := &model.CodeAnalysis{
		ProjectID:    projectID,
		CommitHash:   fmt.Sprintf("commit%d", time.Now().UnixNano()),
		PRNumber:     42,
		PRVersion:    1,
		SourceBranch: "feature/test",
		TargetBranch: "main",
		Status:       model.AnalysisStatusAccepted,
		Result:       model.GateResultNone,
	}

	for _, opt := range opts {
		opt(analysis)
	}

	if err := db.Create(analysis).Error; err != nil {
		t.Fatalf("Failed to create test analysis: %v", err)
	}

	return analysis
}

// WithCommit 设置 commit
func WithCommit(hash string) func(*model.CodeAnalysis) {
	return func(a *model.CodeAnalysis) {
		a.CommitHash = hash
	}
}

// WithPR 设置 PR 号和版本
func WithPR(prNumber, version int) func(*model.CodeAnalysis) {
	return func(a *model.CodeAnalysis) {
		a.PRNumber = prNumber
		a.PRVersion = version
	}
}

// WithCounts 设置各级别问题数
func WithCounts(high, medium, low, info int) func(*model.CodeAnalysis) {
	return func(a *model.CodeAnalysis) {
		a.HighCount = high
		a.MediumCount = medium
		a.LowCount = low
		a.InfoCount = info
	}
}

// WithNewIssues 设置新问题数
func WithNewIssues(count int) func(*model.CodeAnalysis) {
	return func(a *model.CodeAnalysis) {
		a.NewIssueCount = count
	}
}

// TestIssue 创建测试问题
func TestIssue(t *testing.T, db *gorm.DB, analysisID int64, opts ...func(*model.CodeAnalysisIssue)) *model.CodeAnalysisIssue {
	t.Helper()

	issue := &model.CodeAnalysisIssue{
		AnalysisID: analysisID,
		Severity:   model.SeverityMedium,
		Category:   model.CategoryCodeQuality,
		FilePath:   "internal/service/example.go",
		LineNumber: 10,
		Reason:     "test issue",
	}

	for _, opt := range opts {
		opt(issue)
	}

	if err := db.Create(issue).Error; err != nil {
		t.Fatalf("Failed to create test issue: %v", err)
	}

	return issue
}

// WithSeverity 设置问题级别
func WithSeverity(severity string) func(*model.CodeAnalysisIssue) {
	return func(i *model.CodeAnalysisIssue) {
		i.Severity = severity
	}
}

// WithLocation 设置问题位置
func WithLocation(file string, line int) func(*model.CodeAnalysisIssue) {
	return func(i *model.CodeAnalysisIssue) {
		i.FilePath = file
		i.LineNumber = line
	}
}

// WithReason 设置问题描述
func WithReason(reason string) func(*model.CodeAnalysisIssue) {
	return func(i *model.CodeAnalysisIssue) {
		i.Reason = reason
	}
}

// TestGate 创建测试门禁
func TestGate(t *testing.T, db *gorm.DB, workspaceID int64, conditions ...model.QualityGateCondition) *model.QualityGate {
	t.Helper()

	gate := &model.QualityGate{
		WorkspaceID: workspaceID,
		Name:        fmt.Sprintf("Test Gate %d", time.Now().UnixNano()%10000),
		Active:      true,
		Conditions:  conditions,
	}

	if err := db.Create(gate).Error; err != nil {
		t.Fatalf("Failed to create test gate: %v", err)
	}

	return gate
}

// Condition 构造一条启用的门禁规则
func Condition(metric, severity, comparator string, threshold int) model.QualityGateCondition {
	return model.QualityGateCondition{
		Metric:     metric,
		Severity:   severity,
		Comparator: comparator,
		Threshold:  threshold,
		Enabled:    true,
	}
}
