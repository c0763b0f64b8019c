package service

import (
	"errors"
	"fmt"
	"log"

	"github.com/codecrow/codecrow-server/internal/model"
	"github.com/codecrow/codecrow-server/internal/pkg/airesponse"
	"github.com/codecrow/codecrow-server/internal/repository"
)

var (
	ErrAnalysisNotFound = errors.New("analysis not found")
)

// AnalysisService 分析缓存与版本管理。
//
// 幂等键是 (project, commitHash, prNumber)：命中即原样返回，不产生任何
// 新行或副作用，这是对重复 webhook 投递和任务重试的保证。版本号在持有
// 分支锁的前提下取 max+1 分配；唯一索引只是对锁被绕过时的最后防线。
type AnalysisService struct {
	analysisRepo *repository.AnalysisRepository
	issueRepo    *repository.IssueRepository
	gateService  *QualityGateService
}

func NewAnalysisService(
	analysisRepo *repository.AnalysisRepository,
	issueRepo *repository.IssueRepository,
	gateService *QualityGateService,
) *AnalysisService {
	return &AnalysisService{
		analysisRepo: analysisRepo,
		issueRepo:    issueRepo,
		gateService:  gateService,
	}
}

// CreateAnalysisParams 创建分析的参数
type CreateAnalysisParams struct {
	Project         *model.Project
	Response        *airesponse.Response
	PRNumber        int
	SourceBranch    string
	TargetBranch    string
	CommitHash      string
	AuthorID        string
	AuthorUsername  string
	DiffFingerprint string

	// Carried 上一版本未被本次 AI 提到的未解决问题的深拷贝
	// （LifecycleService.CarryForward 产出），随新分析一并落库，
	// 计入各级别数量并参与门禁求值，但不算新问题
	Carried []*model.CodeAnalysisIssue
}

// GetOrCreate 幂等地查找或创建分析。返回值 created=false 表示缓存命中。
func (s *AnalysisService) GetOrCreate(params CreateAnalysisParams) (*model.CodeAnalysis, bool, error) {
	existing, err := s.analysisRepo.FindByCacheKey(params.Project.ID, params.CommitHash, params.PRNumber)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	version, err := s.analysisRepo.MaxPRVersion(params.Project.ID, params.PRNumber)
	if err != nil {
		return nil, false, err
	}

	analysis := &model.CodeAnalysis{
		ProjectID:       params.Project.ID,
		CommitHash:      params.CommitHash,
		PRNumber:        params.PRNumber,
		PRVersion:       version + 1,
		SourceBranch:    params.SourceBranch,
		TargetBranch:    params.TargetBranch,
		Status:          model.AnalysisStatusPending,
		Result:          model.GateResultNone,
		Comment:         params.Response.Comment,
		DiffFingerprint: params.DiffFingerprint,
	}

	issues := buildIssues(params.Response.Issues, params.AuthorID, params.AuthorUsername)
	issues = append(issues, params.Carried...)
	countIssues(analysis, issues, params.Response.Issues)

	if err := s.analysisRepo.CreateWithIssues(analysis, issues); err != nil {
		// 唯一索引是锁被绕过时的最后防线：竞争失败方退化为缓存命中
		if repository.IsDuplicateKeyError(err) {
			raced, ferr := s.analysisRepo.FindByCacheKey(params.Project.ID, params.CommitHash, params.PRNumber)
			if ferr != nil {
				return nil, false, ferr
			}
			if raced != nil {
				log.Printf("Analysis cache race on project %d commit %s pr %d, reusing existing",
					params.Project.ID, params.CommitHash, params.PRNumber)
				return raced, false, nil
			}
		}
		return nil, false, fmt.Errorf("failed to create analysis: %w", err)
	}

	// 绑定门禁并立即求值
	if err := s.evaluateGate(params.Project, analysis, issues); err != nil {
		return nil, false, err
	}

	return analysis, true, nil
}

// CloneParams 分析克隆的参数
type CloneParams struct {
	Source          *model.CodeAnalysis
	Project         *model.Project
	PRNumber        int
	CommitHash      string
	SourceBranch    string
	TargetBranch    string
	DiffFingerprint string
}

// Clone 把历史分析原样搬到新的 PR 版本下，不再调用 AI。评论、状态、
// 结论照抄，问题逐条深拷贝为新记录（含全部解决字段）。
func (s *AnalysisService) Clone(params CloneParams) (*model.CodeAnalysis, bool, error) {
	existing, err := s.analysisRepo.FindByCacheKey(params.Project.ID, params.CommitHash, params.PRNumber)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	version, err := s.analysisRepo.MaxPRVersion(params.Project.ID, params.PRNumber)
	if err != nil {
		return nil, false, err
	}

	sourceIssues, err := s.issueRepo.ListByAnalysis(params.Source.ID)
	if err != nil {
		return nil, false, err
	}

	clone := &model.CodeAnalysis{
		ProjectID:       params.Project.ID,
		CommitHash:      params.CommitHash,
		PRNumber:        params.PRNumber,
		PRVersion:       version + 1,
		SourceBranch:    params.SourceBranch,
		TargetBranch:    params.TargetBranch,
		Status:          params.Source.Status,
		Result:          params.Source.Result,
		Comment:         params.Source.Comment,
		DiffFingerprint: params.DiffFingerprint,
		Cloned:          true,
		HighCount:       params.Source.HighCount,
		MediumCount:     params.Source.MediumCount,
		LowCount:        params.Source.LowCount,
		InfoCount:       params.Source.InfoCount,
		NewIssueCount:   params.Source.NewIssueCount,
	}

	cloned := make([]*model.CodeAnalysisIssue, 0, len(sourceIssues))
	for _, issue := range sourceIssues {
		cloned = append(cloned, issue.CloneForAnalysis(0))
	}

	if err := s.analysisRepo.CreateWithIssues(clone, cloned); err != nil {
		if repository.IsDuplicateKeyError(err) {
			raced, ferr := s.analysisRepo.FindByCacheKey(params.Project.ID, params.CommitHash, params.PRNumber)
			if ferr != nil {
				return nil, false, ferr
			}
			if raced != nil {
				return raced, false, nil
			}
		}
		return nil, false, fmt.Errorf("failed to clone analysis: %w", err)
	}

	return clone, true, nil
}

// FindByDiffFingerprint 二级幂等键查找：rebase 改了 commit 但 diff 没变时
// 直接复用，省掉一次昂贵的 AI 调用
func (s *AnalysisService) FindByDiffFingerprint(projectID int64, fingerprint string) (*model.CodeAnalysis, error) {
	return s.analysisRepo.FindByDiffFingerprint(projectID, fingerprint)
}

// PreviousOpenIssues 上一版本分析中仍未解决的问题，对账基线
func (s *AnalysisService) PreviousOpenIssues(projectID int64, prNumber int) (*model.CodeAnalysis, []*model.CodeAnalysisIssue, error) {
	latest, err := s.analysisRepo.LatestForPR(projectID, prNumber)
	if err != nil {
		return nil, nil, err
	}
	if latest == nil {
		return nil, nil, nil
	}
	issues, err := s.issueRepo.ListOpenByAnalysis(latest.ID)
	if err != nil {
		return nil, nil, err
	}
	return latest, issues, nil
}

func (s *AnalysisService) GetByID(id int64) (*model.CodeAnalysis, error) {
	return s.analysisRepo.GetByID(id)
}

func (s *AnalysisService) Issues(analysisID int64) ([]*model.CodeAnalysisIssue, error) {
	return s.issueRepo.ListByAnalysis(analysisID)
}

func (s *AnalysisService) ListByProject(projectID int64, page, pageSize int) ([]*model.CodeAnalysis, int64, error) {
	return s.analysisRepo.ListByProject(projectID, page, pageSize)
}

// evaluateGate 绑定门禁、求值并落终态
func (s *AnalysisService) evaluateGate(project *model.Project, analysis *model.CodeAnalysis, issues []*model.CodeAnalysisIssue) error {
	gate, err := s.gateService.ResolveGate(project)
	if err != nil {
		return err
	}

	result := s.gateService.Evaluate(gate, analysis, issues)
	analysis.Status = model.AnalysisStatusAccepted
	analysis.Result = result
	return s.analysisRepo.MarkCompleted(analysis.ID, analysis.Status, analysis.Result)
}

// buildIssues 把归一化后的发现转成问题记录。解决报告不生成新问题，
// 那是 lifecycle 对历史记录做的标记。
func buildIssues(findings []airesponse.Finding, authorID, authorUsername string) []*model.CodeAnalysisIssue {
	issues := make([]*model.CodeAnalysisIssue, 0, len(findings))
	for _, f := range findings {
		if f.IsResolution() {
			continue
		}
		issue := &model.CodeAnalysisIssue{
			Severity:                f.Severity,
			Category:                f.Category,
			FilePath:                f.FilePath,
			LineNumber:              f.LineNumber,
			Reason:                  f.Reason,
			SuggestedFixDescription: f.SuggestedFixDescription,
			SuggestedFixDiff:        f.SuggestedFixDiff,
			OriginalIssueID:         f.PriorID,
			AuthorID:                authorID,
			AuthorUsername:          authorUsername,
		}
		issues = append(issues, issue)
	}
	return issues
}

// countIssues 统计各级别数量与新问题数（没有历史身份的发现算新问题）
func countIssues(analysis *model.CodeAnalysis, issues []*model.CodeAnalysisIssue, findings []airesponse.Finding) {
	for _, issue := range issues {
		switch issue.Severity {
		case model.SeverityHigh:
			analysis.HighCount++
		case model.SeverityMedium:
			analysis.MediumCount++
		case model.SeverityLow:
			analysis.LowCount++
		case model.SeverityInfo:
			analysis.InfoCount++
		}
	}
	for _, f := range findings {
		if !f.IsResolution() && f.PriorID == nil {
			analysis.NewIssueCount++
		}
	}
}
