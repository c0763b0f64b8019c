// Package dto API 层的请求/响应结构
package dto

// LoginRequest 登录请求
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse 登录响应
type LoginResponse struct {
	Token    string `json:"token"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

// WebhookEvent 上游网关转发的仓库事件。签名校验在网关完成，
// 这里只消费已规整的字段。
type WebhookEvent struct {
	EventType      string `json:"event_type" binding:"required"`
	Repository     string `json:"repository" binding:"required"` // "workspace/repo"
	Branch         string `json:"branch"`
	TargetBranch   string `json:"target_branch"`
	PRNumber       int    `json:"pr_number"`
	CommitHash     string `json:"commit_hash"`
	AuthorID       string `json:"author_id"`
	AuthorUsername string `json:"author_username"`
}

// TriggerAnalysisRequest 手动触发分析
type TriggerAnalysisRequest struct {
	Branch       string `json:"branch" binding:"required"`
	TargetBranch string `json:"target_branch"`
	PRNumber     int    `json:"pr_number"`
	CommitHash   string `json:"commit_hash" binding:"required"`
}

// JobCreatedResponse 任务受理响应
type JobCreatedResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// ConditionInput 门禁条件
type ConditionInput struct {
	Metric     string `json:"metric" binding:"required"`
	Severity   string `json:"severity"`
	Category   string `json:"category"`
	Comparator string `json:"comparator" binding:"required"`
	Threshold  int    `json:"threshold"`
	Enabled    *bool  `json:"enabled"`
}

// CreateQualityGateRequest 创建门禁
type CreateQualityGateRequest struct {
	WorkspaceID int64            `json:"workspace_id" binding:"required"`
	Name        string           `json:"name" binding:"required"`
	Active      *bool            `json:"active"`
	Conditions  []ConditionInput `json:"conditions"`
}

// UpdateQualityGateRequest 更新门禁
type UpdateQualityGateRequest struct {
	Name   *string `json:"name"`
	Active *bool   `json:"active"`
}

// AssignQualityGateRequest 把门禁绑定到项目
type AssignQualityGateRequest struct {
	QualityGateID *int64 `json:"quality_gate_id"`
}
