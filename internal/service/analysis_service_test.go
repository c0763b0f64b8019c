package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/codecrow/codecrow-server/internal/model"
	"github.com/codecrow/codecrow-server/internal/pkg/airesponse"
	"github.com/codecrow/codecrow-server/internal/repository"
	"github.com/codecrow/codecrow-server/internal/testutil"
)

func setupAnalysisService(t *testing.T) (*AnalysisService, *gorm.DB, func()) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	analysisRepo := repository.NewAnalysisRepository(db)
	issueRepo := repository.NewIssueRepository(db)
	gateRepo := repository.NewQualityGateRepository(db)
	projectRepo := repository.NewProjectRepository(db)

	gateService := NewQualityGateService(gateRepo, projectRepo)
	svc := NewAnalysisService(analysisRepo, issueRepo, gateService)

	cleanup := func() {
		testutil.CleanupTestDB(t, db)
	}
	return svc, db, cleanup
}

func responseWithIssues(findings ...airesponse.Finding) *airesponse.Response {
	return &airesponse.Response{Comment: "review comment", Issues: findings}
}

func TestAnalysisService_GetOrCreate_Idempotent(t *testing.T) {
	svc, db, cleanup := setupAnalysisService(t)
	defer cleanup()

	ws := testutil.TestWorkspace(t, db)
	project := testutil.TestProject(t, db, ws.ID)

	params := CreateAnalysisParams{
		Project:      project,
		Response:     responseWithIssues(airesponse.Finding{Severity: model.SeverityHigh, FilePath: "a.go", LineNumber: 1, Reason: "r"}),
		PRNumber:     42,
		SourceBranch: "feature/x",
		TargetBranch: "main",
		CommitHash:   "abc123",
	}

	first, created, err := svc.GetOrCreate(params)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 1, first.PRVersion)

	// 同一 (project, commit, pr) 的第二次调用命中缓存，不产生新行
	second, created, err := svc.GetOrCreate(params)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	count, err := repository.NewIssueRepository(db).CountByAnalysis(first.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	var total int64
	require.NoError(t, db.Model(&model.CodeAnalysis{}).Count(&total).Error)
	assert.Equal(t, int64(1), total)
}

func TestAnalysisService_GetOrCreate_VersionMonotonic(t *testing.T) {
	svc, db, cleanup := setupAnalysisService(t)
	defer cleanup()

	ws := testutil.TestWorkspace(t, db)
	project := testutil.TestProject(t, db, ws.ID)

	for i, commit := range []string{"c1", "c2", "c3"} {
		analysis, created, err := svc.GetOrCreate(CreateAnalysisParams{
			Project:    project,
			Response:   responseWithIssues(),
			PRNumber:   42,
			CommitHash: commit,
		})
		require.NoError(t, err)
		require.True(t, created)
		assert.Equal(t, i+1, analysis.PRVersion)
	}

	// 其他 PR 的版本独立计数
	other, created, err := svc.GetOrCreate(CreateAnalysisParams{
		Project:    project,
		Response:   responseWithIssues(),
		PRNumber:   7,
		CommitHash: "c1",
	})
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, 1, other.PRVersion)
}

func TestAnalysisService_GetOrCreate_BranchAnalysis(t *testing.T) {
	svc, db, cleanup := setupAnalysisService(t)
	defer cleanup()

	ws := testutil.TestWorkspace(t, db)
	project := testutil.TestProject(t, db, ws.ID)

	// PR 号为 0 表示分支分析，与同 commit 的 PR 分析互不冲突
	branch, created, err := svc.GetOrCreate(CreateAnalysisParams{
		Project:    project,
		Response:   responseWithIssues(),
		PRNumber:   0,
		CommitHash: "abc123",
	})
	require.NoError(t, err)
	require.True(t, created)

	pr, created, err := svc.GetOrCreate(CreateAnalysisParams{
		Project:    project,
		Response:   responseWithIssues(),
		PRNumber:   42,
		CommitHash: "abc123",
	})
	require.NoError(t, err)
	require.True(t, created)
	assert.NotEqual(t, branch.ID, pr.ID)
}

func TestAnalysisService_GetOrCreate_CountsAndResolutions(t *testing.T) {
	svc, db, cleanup := setupAnalysisService(t)
	defer cleanup()

	ws := testutil.TestWorkspace(t, db)
	project := testutil.TestProject(t, db, ws.ID)

	priorID := int64(99)
	analysis, created, err := svc.GetOrCreate(CreateAnalysisParams{
		Project: project,
		Response: responseWithIssues(
			airesponse.Finding{Severity: model.SeverityHigh, FilePath: "a.go", LineNumber: 1, Reason: "new high"},
			airesponse.Finding{Severity: model.SeverityMedium, FilePath: "b.go", LineNumber: 2, Reason: "carried", PriorID: &priorID},
			airesponse.Finding{Severity: model.SeverityLow, FilePath: "c.go", LineNumber: 3, Reason: "new low"},
			// 解决报告不生成新问题记录
			airesponse.Finding{Severity: model.SeverityResolved, FilePath: "d.go", LineNumber: 4, Reason: "fixed", PriorID: &priorID},
			airesponse.Finding{Severity: model.SeverityInfo, FilePath: "e.go", LineNumber: 5, Reason: "resolved flag", Resolved: true},
		),
		PRNumber:   42,
		CommitHash: "abc123",
	})
	require.NoError(t, err)
	require.True(t, created)

	assert.Equal(t, 1, analysis.HighCount)
	assert.Equal(t, 1, analysis.MediumCount)
	assert.Equal(t, 1, analysis.LowCount)
	assert.Equal(t, 0, analysis.InfoCount)
	// 没有历史身份且不是解决报告的才算新问题
	assert.Equal(t, 2, analysis.NewIssueCount)

	count, err := repository.NewIssueRepository(db).CountByAnalysis(analysis.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestAnalysisService_GetOrCreate_GateEvaluated(t *testing.T) {
	svc, db, cleanup := setupAnalysisService(t)
	defer cleanup()

	ws := testutil.TestWorkspace(t, db)
	gate := testutil.TestGate(t, db, ws.ID,
		testutil.Condition(model.MetricIssuesBySeverity, model.SeverityHigh, model.ComparatorGreaterThan, 0))
	project := testutil.TestProject(t, db, ws.ID, testutil.WithQualityGate(gate.ID))

	failed, _, err := svc.GetOrCreate(CreateAnalysisParams{
		Project:    project,
		Response:   responseWithIssues(airesponse.Finding{Severity: model.SeverityHigh, FilePath: "a.go", LineNumber: 1, Reason: "r"}),
		PRNumber:   1,
		CommitHash: "bad",
	})
	require.NoError(t, err)
	assert.Equal(t, model.AnalysisStatusAccepted, failed.Status)
	assert.Equal(t, model.GateResultFailed, failed.Result)

	passed, _, err := svc.GetOrCreate(CreateAnalysisParams{
		Project:    project,
		Response:   responseWithIssues(airesponse.Finding{Severity: model.SeverityLow, FilePath: "a.go", LineNumber: 1, Reason: "r"}),
		PRNumber:   2,
		CommitHash: "good",
	})
	require.NoError(t, err)
	assert.Equal(t, model.GateResultPassed, passed.Result)
}

func TestAnalysisService_GetOrCreate_NoGateMeansNone(t *testing.T) {
	svc, db, cleanup := setupAnalysisService(t)
	defer cleanup()

	ws := testutil.TestWorkspace(t, db)
	project := testutil.TestProject(t, db, ws.ID)

	analysis, _, err := svc.GetOrCreate(CreateAnalysisParams{
		Project:    project,
		Response:   responseWithIssues(airesponse.Finding{Severity: model.SeverityHigh, FilePath: "a.go", LineNumber: 1, Reason: "r"}),
		PRNumber:   1,
		CommitHash: "c1",
	})
	require.NoError(t, err)
	assert.Equal(t, model.GateResultNone, analysis.Result)
}

func TestAnalysisService_Clone(t *testing.T) {
	svc, db, cleanup := setupAnalysisService(t)
	defer cleanup()

	ws := testutil.TestWorkspace(t, db)
	project := testutil.TestProject(t, db, ws.ID)

	source, created, err := svc.GetOrCreate(CreateAnalysisParams{
		Project: project,
		Response: responseWithIssues(
			airesponse.Finding{Severity: model.SeverityHigh, FilePath: "a.go", LineNumber: 1, Reason: "issue one"},
			airesponse.Finding{Severity: model.SeverityLow, FilePath: "b.go", LineNumber: 2, Reason: "issue two"},
		),
		PRNumber:   42,
		CommitHash: "abc123",
	})
	require.NoError(t, err)
	require.True(t, created)

	clone, created, err := svc.Clone(CloneParams{
		Source:     source,
		Project:    project,
		PRNumber:   42,
		CommitHash: "def456",
	})
	require.NoError(t, err)
	require.True(t, created)

	// 克隆拿到新版本号和新 commit，结论和计数照抄
	assert.True(t, clone.Cloned)
	assert.Equal(t, 2, clone.PRVersion)
	assert.Equal(t, "def456", clone.CommitHash)
	assert.Equal(t, source.Result, clone.Result)
	assert.Equal(t, source.HighCount, clone.HighCount)

	// 问题逐条深拷贝为新记录
	cloned, err := svc.Issues(clone.ID)
	require.NoError(t, err)
	require.Len(t, cloned, 2)
	original, err := svc.Issues(source.ID)
	require.NoError(t, err)
	assert.NotEqual(t, original[0].ID, cloned[0].ID)
	assert.Equal(t, original[0].Reason, cloned[0].Reason)

	// 克隆也是幂等的
	again, created, err := svc.Clone(CloneParams{
		Source:     source,
		Project:    project,
		PRNumber:   42,
		CommitHash: "def456",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, clone.ID, again.ID)
}

func TestAnalysisService_FindByDiffFingerprint(t *testing.T) {
	svc, db, cleanup := setupAnalysisService(t)
	defer cleanup()

	ws := testutil.TestWorkspace(t, db)
	project := testutil.TestProject(t, db, ws.ID)

	created, _, err := svc.GetOrCreate(CreateAnalysisParams{
		Project:         project,
		Response:        responseWithIssues(),
		PRNumber:        42,
		CommitHash:      "abc123",
		DiffFingerprint: "fp-1",
	})
	require.NoError(t, err)

	found, err := svc.FindByDiffFingerprint(project.ID, "fp-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.ID, found.ID)

	missing, err := svc.FindByDiffFingerprint(project.ID, "fp-other")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAnalysisService_PreviousOpenIssues(t *testing.T) {
	svc, db, cleanup := setupAnalysisService(t)
	defer cleanup()

	ws := testutil.TestWorkspace(t, db)
	project := testutil.TestProject(t, db, ws.ID)

	// 没有历史分析
	latest, issues, err := svc.PreviousOpenIssues(project.ID, 42)
	require.NoError(t, err)
	assert.Nil(t, latest)
	assert.Empty(t, issues)

	v1 := testutil.TestAnalysis(t, db, project.ID, testutil.WithCommit("c1"), testutil.WithPR(42, 1))
	v2 := testutil.TestAnalysis(t, db, project.ID, testutil.WithCommit("c2"), testutil.WithPR(42, 2))

	open := testutil.TestIssue(t, db, v2.ID, testutil.WithReason("still open"))
	resolved := testutil.TestIssue(t, db, v2.ID, testutil.WithReason("already fixed"))
	require.NoError(t, db.Model(resolved).Update("resolved", true).Error)
	testutil.TestIssue(t, db, v1.ID, testutil.WithReason("old version issue"))

	latest, issues, err = svc.PreviousOpenIssues(project.ID, 42)
	require.NoError(t, err)
	require.NotNil(t, latest)
	// 基线是最新版本的未解决问题
	assert.Equal(t, v2.ID, latest.ID)
	require.Len(t, issues, 1)
	assert.Equal(t, open.ID, issues[0].ID)
}
