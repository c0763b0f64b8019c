package model

import (
	"errors"
	"time"
)

// 任务类型
const (
	JobTypePRAnalysis           = "PR_ANALYSIS"
	JobTypeBranchAnalysis       = "BRANCH_ANALYSIS"
	JobTypeBranchReconciliation = "BRANCH_RECONCILIATION"
	JobTypeRagInitialIndex      = "RAG_INITIAL_INDEX"
	JobTypeRagIncrementalIndex  = "RAG_INCREMENTAL_INDEX"
	JobTypeManualAnalysis       = "MANUAL_ANALYSIS"
	JobTypeRepoSync             = "REPO_SYNC"
)

// 任务状态
const (
	JobStatusPending   = "PENDING"
	JobStatusWaiting   = "WAITING" // 锁竞争等待中
	JobStatusRunning   = "RUNNING"
	JobStatusCompleted = "COMPLETED"
	JobStatusFailed    = "FAILED"
	JobStatusCancelled = "CANCELLED"
	JobStatusSkipped   = "SKIPPED"
)

// 触发来源
const (
	TriggerSourceWebhook   = "webhook"
	TriggerSourceManual    = "manual"
	TriggerSourceScheduled = "scheduled"
)

// 日志级别
const (
	LogLevelDebug = "DEBUG"
	LogLevelInfo  = "INFO"
	LogLevelWarn  = "WARN"
	LogLevelError = "ERROR"
)

var (
	ErrJobNotStartable = errors.New("job can only be started from PENDING or WAITING")
	ErrJobTerminal     = errors.New("job is already in a terminal state")
)

// Job 一个可追踪的后台任务（分析、索引、同步等）
type Job struct {
	ID            int64      `gorm:"primaryKey" json:"-"`
	PublicID      string     `gorm:"size:64;not null;uniqueIndex" json:"id"` // 对外暴露的不透明 ID
	ProjectID     int64      `gorm:"not null;index" json:"project_id"`
	JobType       string     `gorm:"size:40;not null" json:"job_type"`
	Status        string     `gorm:"size:20;not null;default:PENDING;index" json:"status"`
	TriggerSource string     `gorm:"size:20;not null;default:webhook" json:"trigger_source"`
	Progress      int        `gorm:"not null;default:0" json:"progress"`
	CurrentStep   string     `gorm:"size:200" json:"current_step,omitempty"`
	ErrorMessage  string     `gorm:"type:text" json:"error_message,omitempty"`
	BranchName    string     `gorm:"size:255" json:"branch_name,omitempty"`
	PRNumber      int        `gorm:"default:0" json:"pr_number,omitempty"`
	CommitHash    string     `gorm:"size:64" json:"commit_hash,omitempty"`
	AnalysisID    *int64     `gorm:"index" json:"analysis_id,omitempty"` // 产出分析后回填
	CreatedAt     time.Time  `gorm:"index" json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

func (Job) TableName() string {
	return "jobs"
}

// IsTerminal 仅 COMPLETED/FAILED/CANCELLED/SKIPPED 为终态
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusSkipped:
		return true
	}
	return false
}

// Start 从 PENDING/WAITING 进入 RUNNING，首次启动时记录 StartedAt
func (j *Job) Start() error {
	if j.Status != JobStatusPending && j.Status != JobStatusWaiting {
		return ErrJobNotStartable
	}
	j.Status = JobStatusRunning
	if j.StartedAt == nil {
		now := time.Now()
		j.StartedAt = &now
	}
	return nil
}

// Wait 锁竞争时从 PENDING/RUNNING 退回等待
func (j *Job) Wait() error {
	if j.IsTerminal() {
		return ErrJobTerminal
	}
	j.Status = JobStatusWaiting
	return nil
}

// Complete 成功终态，进度固定为 100
func (j *Job) Complete() error {
	if j.IsTerminal() {
		return ErrJobTerminal
	}
	j.Status = JobStatusCompleted
	j.Progress = 100
	j.stamp()
	return nil
}

// Fail 失败终态，进度停留在最后的值
func (j *Job) Fail(message string) error {
	if j.IsTerminal() {
		return ErrJobTerminal
	}
	j.Status = JobStatusFailed
	j.ErrorMessage = message
	j.stamp()
	return nil
}

// Cancel 取消终态；RUNNING/WAITING 均可被用户取消
func (j *Job) Cancel() error {
	if j.IsTerminal() {
		return ErrJobTerminal
	}
	j.Status = JobStatusCancelled
	j.stamp()
	return nil
}

// Skip 跳过终态（分支被过滤、锁重试耗尽等），必须带原因
func (j *Job) Skip(reason string) error {
	if j.IsTerminal() {
		return ErrJobTerminal
	}
	j.Status = JobStatusSkipped
	j.ErrorMessage = reason
	j.Progress = 100
	j.stamp()
	return nil
}

// SetProgress 非终态下进度单调不减，回退值被忽略
func (j *Job) SetProgress(progress int) {
	if j.IsTerminal() {
		return
	}
	if progress > 100 {
		progress = 100
	}
	if progress > j.Progress {
		j.Progress = progress
	}
}

func (j *Job) stamp() {
	now := time.Now()
	j.CompletedAt = &now
}

// JobLog 任务日志，按 job 内的序号追加，序号从 1 开始且不复用
type JobLog struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	JobID     int64     `gorm:"not null;index:idx_job_logs_job_seq,unique" json:"-"`
	Sequence  int64     `gorm:"not null;index:idx_job_logs_job_seq,unique" json:"sequence_number"`
	Level     string    `gorm:"size:10;not null" json:"level"`
	Step      string    `gorm:"size:100" json:"step,omitempty"`
	Message   string    `gorm:"type:text;not null" json:"message"`
	Metadata  string    `gorm:"type:text" json:"metadata,omitempty"` // JSON 字符串，可为空
	CreatedAt time.Time `json:"timestamp"`
}

func (JobLog) TableName() string {
	return "job_logs"
}
