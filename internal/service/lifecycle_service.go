package service

import (
	"time"

	"github.com/codecrow/codecrow-server/internal/model"
	"github.com/codecrow/codecrow-server/internal/pkg/airesponse"
	"github.com/codecrow/codecrow-server/internal/repository"
)

// LifecycleService 问题生命周期追踪：在前后两次分析之间对账。
//
// 对账规则（保守）：
//   - AI 标记 resolved 且身份能对上的历史问题 → 标记已解决
//   - AI 完全没提到的历史问题 → 保持未解决、原样带过（没被提到不等于被修掉），
//     CarryForward 为其生成归属新版本的深拷贝，使其留在后续版本的对账基线里
//   - 没有历史身份的新发现 → 新问题
type LifecycleService struct {
	issueRepo       *repository.IssueRepository
	branchIssueRepo *repository.BranchIssueRepository
}

func NewLifecycleService(issueRepo *repository.IssueRepository, branchIssueRepo *repository.BranchIssueRepository) *LifecycleService {
	return &LifecycleService{
		issueRepo:       issueRepo,
		branchIssueRepo: branchIssueRepo,
	}
}

// ReconcileResult 对账结果统计
type ReconcileResult struct {
	CarriedForward int
	Resolved       int
	New            int
}

// ResolutionContext 本次分析的解决归属信息
type ResolutionContext struct {
	PRNumber   int
	CommitHash string
	AnalysisID int64
	ResolvedBy string
}

// ReconcilePR 对账 PR 维度的问题集。previous 是上一版本的未解决问题，
// findings 是本次归一化后的 AI 发现。
func (s *LifecycleService) ReconcilePR(previous []*model.CodeAnalysisIssue, findings []airesponse.Finding, rc ResolutionContext) (*ReconcileResult, error) {
	result := &ReconcileResult{}

	byID := priorIndex(previous)
	mentioned := make(map[int64]bool)

	for _, f := range findings {
		prior := matchPrior(f, byID, previous)
		if prior == nil {
			if !isResolution(f) {
				result.New++
			}
			continue
		}
		mentioned[prior.ID] = true

		if isResolution(f) {
			now := time.Now()
			prior.Resolved = true
			prior.ResolvedDescription = f.ResolvedDescription
			prior.ResolvedByPR = rc.PRNumber
			prior.ResolvedCommitHash = rc.CommitHash
			prior.ResolvedAnalysisID = &rc.AnalysisID
			prior.ResolvedAt = &now
			prior.ResolvedBy = rc.ResolvedBy
			if err := s.issueRepo.Update(prior); err != nil {
				return nil, err
			}
			result.Resolved++
		}
	}

	// 未被提到的历史问题原样带过
	for _, issue := range previous {
		if !mentioned[issue.ID] {
			result.CarriedForward++
		}
	}

	return result, nil
}

// CarryForward 为本次 AI 完全没提到的历史未解决问题生成深拷贝，由新分析
// 收编。拷贝保留根问题的身份（OriginalIssueID 指向最初的那条记录），
// 这样问题不管被带过多少个版本，后续的解决报告都还能对上它。
func (s *LifecycleService) CarryForward(previous []*model.CodeAnalysisIssue, findings []airesponse.Finding) []*model.CodeAnalysisIssue {
	byID := priorIndex(previous)
	mentioned := make(map[int64]bool)
	for _, f := range findings {
		if prior := matchPrior(f, byID, previous); prior != nil {
			mentioned[prior.ID] = true
		}
	}

	carried := make([]*model.CodeAnalysisIssue, 0)
	for _, issue := range previous {
		if mentioned[issue.ID] {
			continue
		}
		clone := issue.CloneForAnalysis(0)
		if clone.OriginalIssueID == nil {
			rootID := issue.ID
			clone.OriginalIssueID = &rootID
		}
		carried = append(carried, clone)
	}
	return carried
}

// ReconcileBranch 合并后对分支问题做同样的对账，验证修复是否真的合入
func (s *LifecycleService) ReconcileBranch(projectID int64, branch string, findings []airesponse.Finding, rc ResolutionContext) (*ReconcileResult, error) {
	previous, err := s.branchIssueRepo.ListOpenByBranch(projectID, branch)
	if err != nil {
		return nil, err
	}

	result := &ReconcileResult{}

	byID := make(map[int64]*model.BranchIssue, len(previous))
	for _, issue := range previous {
		byID[issue.ID] = issue
	}

	mentioned := make(map[int64]bool)

	for _, f := range findings {
		var prior *model.BranchIssue
		if f.PriorID != nil {
			prior = byID[*f.PriorID]
		}
		if prior == nil {
			prior = matchBranchByLocation(f, previous)
		}
		if prior == nil {
			if !isResolution(f) {
				result.New++
			}
			continue
		}
		mentioned[prior.ID] = true

		if isResolution(f) {
			now := time.Now()
			prior.Resolved = true
			prior.ResolvedByPR = rc.PRNumber
			prior.ResolvedCommitHash = rc.CommitHash
			prior.ResolvedAt = &now
			prior.ResolvedBy = rc.ResolvedBy
			if err := s.branchIssueRepo.Update(prior); err != nil {
				return nil, err
			}
			result.Resolved++
		}
	}

	for _, issue := range previous {
		if !mentioned[issue.ID] {
			result.CarriedForward++
		}
	}

	return result, nil
}

// OpenBranchIssues 分支上仍未解决的问题
func (s *LifecycleService) OpenBranchIssues(projectID int64, branch string) ([]*model.BranchIssue, error) {
	return s.branchIssueRepo.ListOpenByBranch(projectID, branch)
}

// PromoteToBranch 合并后把 PR 里仍未解决的问题登记到目标分支
func (s *LifecycleService) PromoteToBranch(projectID int64, branch string, issues []*model.CodeAnalysisIssue) (int, error) {
	existing, err := s.branchIssueRepo.ListByBranch(projectID, branch)
	if err != nil {
		return 0, err
	}
	known := make(map[int64]bool, len(existing))
	for _, bi := range existing {
		if bi.OriginalIssueID != nil {
			known[*bi.OriginalIssueID] = true
		}
	}

	promoted := 0
	for _, issue := range issues {
		if issue.Resolved || known[issue.ID] {
			continue
		}
		originalID := issue.ID
		bi := &model.BranchIssue{
			ProjectID:       projectID,
			BranchName:      branch,
			Severity:        issue.Severity,
			Category:        issue.Category,
			FilePath:        issue.FilePath,
			LineNumber:      issue.LineNumber,
			Reason:          issue.Reason,
			OriginalIssueID: &originalID,
			AuthorID:        issue.AuthorID,
			AuthorUsername:  issue.AuthorUsername,
		}
		if err := s.branchIssueRepo.Create(bi); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

// isResolution 该发现是对历史问题的解决报告而不是新问题
func isResolution(f airesponse.Finding) bool {
	return f.Resolved || f.Severity == model.SeverityResolved
}

// priorIndex 按当前行 ID 和根问题 ID 双重索引。被带过多个版本的问题
// 每个版本都有新行，AI 引用的可能是最初告知它的那个 ID。
func priorIndex(previous []*model.CodeAnalysisIssue) map[int64]*model.CodeAnalysisIssue {
	byID := make(map[int64]*model.CodeAnalysisIssue, len(previous))
	for _, issue := range previous {
		if issue.OriginalIssueID != nil {
			byID[*issue.OriginalIssueID] = issue
		}
	}
	// 当前行 ID 优先于根 ID 别名
	for _, issue := range previous {
		byID[issue.ID] = issue
	}
	return byID
}

// matchPrior 先按 AI 引用的 ID 匹配，退化为 file+line+reason 匹配
func matchPrior(f airesponse.Finding, byID map[int64]*model.CodeAnalysisIssue, previous []*model.CodeAnalysisIssue) *model.CodeAnalysisIssue {
	if f.PriorID != nil {
		if issue, ok := byID[*f.PriorID]; ok {
			return issue
		}
	}
	for _, issue := range previous {
		if issue.FilePath == f.FilePath && issue.LineNumber == f.LineNumber && issue.Reason == f.Reason {
			return issue
		}
	}
	return nil
}

func matchBranchByLocation(f airesponse.Finding, previous []*model.BranchIssue) *model.BranchIssue {
	for _, issue := range previous {
		if issue.FilePath == f.FilePath && issue.LineNumber == f.LineNumber && issue.Reason == f.Reason {
			return issue
		}
	}
	return nil
}
