package service

import (
	"gorm.io/gorm"

	"github.com/codecrow/codecrow-server/internal/model"
	"github.com/codecrow/codecrow-server/internal/repository"
)

// QualityGateService 质量门禁求值器
type QualityGateService struct {
	gateRepo    *repository.QualityGateRepository
	projectRepo *repository.ProjectRepository
}

func NewQualityGateService(gateRepo *repository.QualityGateRepository, projectRepo *repository.ProjectRepository) *QualityGateService {
	return &QualityGateService{
		gateRepo:    gateRepo,
		projectRepo: projectRepo,
	}
}

// ResolveGate 门禁绑定顺序：项目级优先，其次工作区默认，都没有则无门禁。
// 引用已删除门禁等同于无门禁。
func (s *QualityGateService) ResolveGate(project *model.Project) (*model.QualityGate, error) {
	if project.QualityGateID != nil {
		gate, err := s.gateRepo.GetByID(*project.QualityGateID)
		if err == nil {
			return gate, nil
		}
		if err != gorm.ErrRecordNotFound {
			return nil, err
		}
	}

	ws, err := s.projectRepo.GetWorkspace(project.WorkspaceID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	if ws.DefaultQualityGateID == nil {
		return nil, nil
	}

	gate, err := s.gateRepo.GetByID(*ws.DefaultQualityGateID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return gate, nil
}

// Evaluate 对分析求门禁结论。无门禁（或门禁未激活）返回 NONE；任一启用
// 规则不通过即 FAILED，否则 PASSED。空门禁或全部规则被禁用时定义为
// PASSED：配置问题永远不让构建失败。
func (s *QualityGateService) Evaluate(gate *model.QualityGate, analysis *model.CodeAnalysis, issues []*model.CodeAnalysisIssue) string {
	if gate == nil || !gate.Active {
		return model.GateResultNone
	}

	for i := range gate.Conditions {
		cond := &gate.Conditions[i]
		if !cond.Enabled {
			continue
		}
		observed := observedValue(cond, analysis, issues)
		if cond.Fails(observed) {
			return model.GateResultFailed
		}
	}
	return model.GateResultPassed
}

// observedValue 按指标计算观测值。未知指标观测为 0，让规则按其比较器
// 自然求值（配置错误不单独处理）。
func observedValue(cond *model.QualityGateCondition, analysis *model.CodeAnalysis, issues []*model.CodeAnalysisIssue) int {
	switch cond.Metric {
	case model.MetricIssuesBySeverity:
		if cond.Severity == "" {
			return analysis.TotalIssueCount()
		}
		return analysis.CountBySeverity(cond.Severity)
	case model.MetricNewIssues:
		return analysis.NewIssueCount
	case model.MetricIssuesByCategory:
		count := 0
		for _, issue := range issues {
			if issue.Resolved {
				continue
			}
			if cond.Category == "" || issue.Category == cond.Category {
				count++
			}
		}
		return count
	}
	return 0
}
