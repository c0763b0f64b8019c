package model

import (
	"path"
	"strings"
	"time"
)

// RAG 索引状态
const (
	RagStatusNotIndexed = "NOT_INDEXED"
	RagStatusIndexing   = "INDEXING"
	RagStatusIndexed    = "INDEXED"
	RagStatusUpdating   = "UPDATING"
	RagStatusFailed     = "FAILED"
)

// Workspace 工作区，聚合若干项目并可设置默认质量门禁
type Workspace struct {
	ID                   int64     `gorm:"primaryKey" json:"id"`
	Name                 string    `gorm:"size:200;not null" json:"name"`
	Slug                 string    `gorm:"size:200;not null;uniqueIndex" json:"slug"`
	DefaultQualityGateID *int64    `json:"default_quality_gate_id,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func (Workspace) TableName() string {
	return "workspaces"
}

// Project 被分析的仓库
type Project struct {
	ID          int64  `gorm:"primaryKey" json:"id"`
	WorkspaceID int64  `gorm:"not null;index" json:"workspace_id"`
	Name        string `gorm:"size:200;not null" json:"name"`
	RepoSlug    string `gorm:"size:255;not null" json:"repo_slug"`
	// Repository 形如 "workspace/repo"，是分析锁的仓库标识
	Repository    string `gorm:"size:255;not null;uniqueIndex" json:"repository"`
	MainBranch    string `gorm:"size:255;default:main" json:"main_branch"`
	QualityGateID *int64 `json:"quality_gate_id,omitempty"` // 项目级门禁，优先于工作区默认
	// BranchPatterns 逗号分隔的 glob，空表示全部分支都分析
	BranchPatterns string    `gorm:"size:500" json:"branch_patterns,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (Project) TableName() string {
	return "projects"
}

// BranchInScope 判断分支是否在分析范围内
func (p *Project) BranchInScope(branch string) bool {
	if strings.TrimSpace(p.BranchPatterns) == "" {
		return true
	}
	for _, pattern := range strings.Split(p.BranchPatterns, ",") {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if ok, err := path.Match(pattern, branch); err == nil && ok {
			return true
		}
	}
	return false
}

// RagIndexStatus 每个分支的索引状态。引擎只读取它来决定全量还是增量索引，
// 索引本身由外部 RAG 服务完成。
type RagIndexStatus struct {
	ID            int64      `gorm:"primaryKey" json:"id"`
	ProjectID     int64      `gorm:"not null;uniqueIndex:idx_rag_status_key" json:"project_id"`
	BranchName    string     `gorm:"size:255;not null;uniqueIndex:idx_rag_status_key" json:"branch_name"`
	Status        string     `gorm:"size:20;not null;default:NOT_INDEXED" json:"status"`
	LastIndexedAt *time.Time `json:"last_indexed_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (RagIndexStatus) TableName() string {
	return "rag_index_statuses"
}
