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

func setupLifecycleService(t *testing.T) (*LifecycleService, *gorm.DB, func()) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	issueRepo := repository.NewIssueRepository(db)
	branchIssueRepo := repository.NewBranchIssueRepository(db)
	svc := NewLifecycleService(issueRepo, branchIssueRepo)

	cleanup := func() {
		testutil.CleanupTestDB(t, db)
	}
	return svc, db, cleanup
}

func TestLifecycleService_ReconcilePR(t *testing.T) {
	svc, db, cleanup := setupLifecycleService(t)
	defer cleanup()

	ws := testutil.TestWorkspace(t, db)
	project := testutil.TestProject(t, db, ws.ID)
	v1 := testutil.TestAnalysis(t, db, project.ID, testutil.WithCommit("c1"), testutil.WithPR(42, 1))

	fixed := testutil.TestIssue(t, db, v1.ID, testutil.WithLocation("auth.go", 10), testutil.WithReason("sql injection"))
	carried := testutil.TestIssue(t, db, v1.ID, testutil.WithLocation("util.go", 5), testutil.WithReason("unused variable"))

	v2 := testutil.TestAnalysis(t, db, project.ID, testutil.WithCommit("def456"), testutil.WithPR(42, 2))

	fixedID := fixed.ID
	findings := []airesponse.Finding{
		// AI 报告 fixed 已解决
		{PriorID: &fixedID, Severity: model.SeverityResolved, FilePath: "auth.go", LineNumber: 10, Reason: "sql injection", ResolvedDescription: "parameterized now"},
		// 新问题
		{Severity: model.SeverityHigh, FilePath: "new.go", LineNumber: 3, Reason: "race condition"},
	}

	result, err := svc.ReconcilePR(
		[]*model.CodeAnalysisIssue{fixed, carried},
		findings,
		ResolutionContext{PRNumber: 42, CommitHash: "def456", AnalysisID: v2.ID, ResolvedBy: "alice"},
	)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Resolved)
	assert.Equal(t, 1, result.CarriedForward)
	assert.Equal(t, 1, result.New)

	// 解决信息回填到历史问题记录
	reloaded, err := repository.NewIssueRepository(db).GetByID(fixed.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.Resolved)
	assert.Equal(t, "def456", reloaded.ResolvedCommitHash)
	assert.Equal(t, 42, reloaded.ResolvedByPR)
	require.NotNil(t, reloaded.ResolvedAnalysisID)
	assert.Equal(t, v2.ID, *reloaded.ResolvedAnalysisID)
	assert.Equal(t, "alice", reloaded.ResolvedBy)
	assert.NotNil(t, reloaded.ResolvedAt)
	assert.Equal(t, "parameterized now", reloaded.ResolvedDescription)

	// 没被提到的问题原样带过，不被改动
	untouched, err := repository.NewIssueRepository(db).GetByID(carried.ID)
	require.NoError(t, err)
	assert.False(t, untouched.Resolved)
}

func TestLifecycleService_ReconcilePR_MatchByLocation(t *testing.T) {
	svc, db, cleanup := setupLifecycleService(t)
	defer cleanup()

	ws := testutil.TestWorkspace(t, db)
	project := testutil.TestProject(t, db, ws.ID)
	v1 := testutil.TestAnalysis(t, db, project.ID, testutil.WithPR(42, 1))

	prior := testutil.TestIssue(t, db, v1.ID, testutil.WithLocation("auth.go", 10), testutil.WithReason("sql injection"))

	// AI 没带 id，退化为 file+line+reason 匹配
	findings := []airesponse.Finding{
		{Severity: model.SeverityResolved, FilePath: "auth.go", LineNumber: 10, Reason: "sql injection"},
	}

	result, err := svc.ReconcilePR(
		[]*model.CodeAnalysisIssue{prior},
		findings,
		ResolutionContext{PRNumber: 42, CommitHash: "c2"},
	)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Resolved)
	assert.Equal(t, 0, result.New)
}

func TestLifecycleService_ReconcilePR_ResolutionWithoutMatchIsNotNew(t *testing.T) {
	svc, _, cleanup := setupLifecycleService(t)
	defer cleanup()

	// 对不上任何历史问题的解决报告直接忽略，不算新问题
	findings := []airesponse.Finding{
		{Severity: model.SeverityResolved, FilePath: "ghost.go", LineNumber: 1, Reason: "never existed"},
	}

	result, err := svc.ReconcilePR(nil, findings, ResolutionContext{PRNumber: 42, CommitHash: "c1"})
	require.NoError(t, err)
	assert.Equal(t, 0, result.New)
	assert.Equal(t, 0, result.Resolved)
	assert.Equal(t, 0, result.CarriedForward)
}

func TestLifecycleService_CarryForward_SkipsMentioned(t *testing.T) {
	svc, db, cleanup := setupLifecycleService(t)
	defer cleanup()

	ws := testutil.TestWorkspace(t, db)
	project := testutil.TestProject(t, db, ws.ID)
	v1 := testutil.TestAnalysis(t, db, project.ID, testutil.WithPR(42, 1))

	resolved := testutil.TestIssue(t, db, v1.ID, testutil.WithLocation("auth.go", 10), testutil.WithReason("sql injection"))
	rereported := testutil.TestIssue(t, db, v1.ID, testutil.WithLocation("util.go", 5), testutil.WithReason("unused variable"))
	untouched := testutil.TestIssue(t, db, v1.ID, testutil.WithLocation("api.go", 7), testutil.WithReason("n+1 query"))

	resolvedID := resolved.ID
	findings := []airesponse.Finding{
		{PriorID: &resolvedID, Severity: model.SeverityResolved, FilePath: "auth.go", LineNumber: 10, Reason: "sql injection"},
		// 再次报告的问题会作为新行落库，不需要带过
		{Severity: model.SeverityMedium, FilePath: "util.go", LineNumber: 5, Reason: "unused variable"},
	}

	carried := svc.CarryForward([]*model.CodeAnalysisIssue{resolved, rereported, untouched}, findings)
	require.Len(t, carried, 1)
	assert.Equal(t, int64(0), carried[0].ID)
	assert.Equal(t, "api.go", carried[0].FilePath)
	require.NotNil(t, carried[0].OriginalIssueID)
	assert.Equal(t, untouched.ID, *carried[0].OriginalIssueID)
}

// 没被 AI 提到的问题必须跨版本留在对账基线里，直到被明确解决
func TestLifecycleService_CarryForwardAcrossVersions(t *testing.T) {
	svc, db, cleanup := setupLifecycleService(t)
	defer cleanup()

	ws := testutil.TestWorkspace(t, db)
	project := testutil.TestProject(t, db, ws.ID)

	issueRepo := repository.NewIssueRepository(db)
	gateService := NewQualityGateService(repository.NewQualityGateRepository(db), repository.NewProjectRepository(db))
	analysisService := NewAnalysisService(repository.NewAnalysisRepository(db), issueRepo, gateService)

	// v1：AI 报告问题 A
	_, created, err := analysisService.GetOrCreate(CreateAnalysisParams{
		Project: project,
		Response: &airesponse.Response{Issues: []airesponse.Finding{
			{Severity: model.SeverityHigh, FilePath: "auth.go", LineNumber: 10, Reason: "sql injection"},
		}},
		PRNumber:   42,
		CommitHash: "c1",
	})
	require.NoError(t, err)
	require.True(t, created)

	_, open1, err := analysisService.PreviousOpenIssues(project.ID, 42)
	require.NoError(t, err)
	require.Len(t, open1, 1)
	rootID := open1[0].ID

	// v2：AI 完全没提到 A
	v2Findings := []airesponse.Finding{
		{Severity: model.SeverityLow, FilePath: "util.go", LineNumber: 3, Reason: "unused variable"},
	}
	carried := svc.CarryForward(open1, v2Findings)
	require.Len(t, carried, 1)

	v2, created, err := analysisService.GetOrCreate(CreateAnalysisParams{
		Project:    project,
		Response:   &airesponse.Response{Issues: v2Findings},
		Carried:    carried,
		PRNumber:   42,
		CommitHash: "c2",
	})
	require.NoError(t, err)
	require.True(t, created)

	// 带过的 HIGH 问题计入 v2 的观测值，但不算新问题
	assert.Equal(t, 1, v2.HighCount)
	assert.Equal(t, 1, v2.LowCount)
	assert.Equal(t, 1, v2.NewIssueCount)

	// A 仍在下一轮的对账基线里，身份指向最初的记录
	_, open2, err := analysisService.PreviousOpenIssues(project.ID, 42)
	require.NoError(t, err)
	require.Len(t, open2, 2)
	var carriedRow *model.CodeAnalysisIssue
	for _, issue := range open2 {
		if issue.OriginalIssueID != nil && *issue.OriginalIssueID == rootID {
			carriedRow = issue
		}
	}
	require.NotNil(t, carriedRow)
	assert.Equal(t, "auth.go", carriedRow.FilePath)

	// v3：AI 用最初告知它的 ID 报告 A 已解决
	v3Findings := []airesponse.Finding{
		{PriorID: &rootID, Severity: model.SeverityResolved, FilePath: "auth.go", LineNumber: 10, Reason: "sql injection"},
	}
	result, err := svc.ReconcilePR(open2, v3Findings, ResolutionContext{PRNumber: 42, CommitHash: "c3"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Resolved)
	assert.Equal(t, 1, result.CarriedForward)

	reloaded, err := issueRepo.GetByID(carriedRow.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.Resolved)
	assert.Equal(t, "c3", reloaded.ResolvedCommitHash)
}

func TestLifecycleService_PromoteToBranch(t *testing.T) {
	svc, db, cleanup := setupLifecycleService(t)
	defer cleanup()

	ws := testutil.TestWorkspace(t, db)
	project := testutil.TestProject(t, db, ws.ID)
	analysis := testutil.TestAnalysis(t, db, project.ID, testutil.WithPR(42, 1))

	open := testutil.TestIssue(t, db, analysis.ID, testutil.WithReason("open issue"))
	resolved := testutil.TestIssue(t, db, analysis.ID, testutil.WithReason("resolved issue"))
	resolved.Resolved = true

	promoted, err := svc.PromoteToBranch(project.ID, "main", []*model.CodeAnalysisIssue{open, resolved})
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	issues, err := svc.OpenBranchIssues(project.ID, "main")
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "open issue", issues[0].Reason)
	require.NotNil(t, issues[0].OriginalIssueID)
	assert.Equal(t, open.ID, *issues[0].OriginalIssueID)

	// 重复登记被 OriginalIssueID 去重
	promoted, err = svc.PromoteToBranch(project.ID, "main", []*model.CodeAnalysisIssue{open})
	require.NoError(t, err)
	assert.Equal(t, 0, promoted)
}

func TestLifecycleService_ReconcileBranch(t *testing.T) {
	svc, db, cleanup := setupLifecycleService(t)
	defer cleanup()

	ws := testutil.TestWorkspace(t, db)
	project := testutil.TestProject(t, db, ws.ID)

	branchIssueRepo := repository.NewBranchIssueRepository(db)
	fixed := &model.BranchIssue{ProjectID: project.ID, BranchName: "main", Severity: model.SeverityHigh, FilePath: "a.go", LineNumber: 1, Reason: "issue a"}
	carried := &model.BranchIssue{ProjectID: project.ID, BranchName: "main", Severity: model.SeverityLow, FilePath: "b.go", LineNumber: 2, Reason: "issue b"}
	require.NoError(t, branchIssueRepo.Create(fixed))
	require.NoError(t, branchIssueRepo.Create(carried))

	fixedID := fixed.ID
	findings := []airesponse.Finding{
		{PriorID: &fixedID, Severity: model.SeverityResolved, FilePath: "a.go", LineNumber: 1, Reason: "issue a"},
	}

	result, err := svc.ReconcileBranch(project.ID, "main", findings, ResolutionContext{PRNumber: 42, CommitHash: "merge1", ResolvedBy: "bob"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Resolved)
	assert.Equal(t, 1, result.CarriedForward)

	remaining, err := svc.OpenBranchIssues(project.ID, "main")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "issue b", remaining[0].Reason)
}
