package service

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/codecrow/codecrow-server/internal/model"
	"github.com/codecrow/codecrow-server/internal/repository"
)

var (
	ErrJobNotFound = errors.New("job not found")
)

// JobService 任务引擎：所有后台工作的状态机与日志入口。
// 其他组件不得绕过它上报进度。
type JobService struct {
	jobRepo *repository.JobRepository
	logRepo *repository.JobLogRepository
}

func NewJobService(jobRepo *repository.JobRepository, logRepo *repository.JobLogRepository) *JobService {
	return &JobService{
		jobRepo: jobRepo,
		logRepo: logRepo,
	}
}

// CreateJobParams 创建任务的参数
type CreateJobParams struct {
	ProjectID     int64
	JobType       string
	TriggerSource string
	BranchName    string
	PRNumber      int
	CommitHash    string
}

// Create 创建 PENDING 任务并分配对外 ID
func (s *JobService) Create(params CreateJobParams) (*model.Job, error) {
	publicID, err := newPublicID()
	if err != nil {
		return nil, err
	}

	triggerSource := params.TriggerSource
	if triggerSource == "" {
		triggerSource = model.TriggerSourceWebhook
	}

	job := &model.Job{
		PublicID:      publicID,
		ProjectID:     params.ProjectID,
		JobType:       params.JobType,
		Status:        model.JobStatusPending,
		TriggerSource: triggerSource,
		BranchName:    params.BranchName,
		PRNumber:      params.PRNumber,
		CommitHash:    params.CommitHash,
	}
	if err := s.jobRepo.Create(job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *JobService) GetByID(id int64) (*model.Job, error) {
	return s.jobRepo.GetByID(id)
}

func (s *JobService) GetByPublicID(publicID string) (*model.Job, error) {
	return s.jobRepo.GetByPublicID(publicID)
}

// Start 进入 RUNNING 并落库
func (s *JobService) Start(job *model.Job) error {
	if err := job.Start(); err != nil {
		return err
	}
	return s.jobRepo.Update(job)
}

// MarkWaiting 锁竞争时进入 WAITING
func (s *JobService) MarkWaiting(job *model.Job, step string) error {
	if err := job.Wait(); err != nil {
		return err
	}
	job.CurrentStep = step
	return s.jobRepo.Update(job)
}

// Complete 成功收尾
func (s *JobService) Complete(job *model.Job) error {
	if err := job.Complete(); err != nil {
		return err
	}
	return s.jobRepo.Update(job)
}

// Fail 失败收尾，errorMessage 必须可读
func (s *JobService) Fail(job *model.Job, message string) error {
	if err := job.Fail(message); err != nil {
		return err
	}
	return s.jobRepo.Update(job)
}

// Cancel 用户取消。WAITING 的任务直接终止，不会再去抢锁；RUNNING 的
// 任务只置终态，进行中的外部调用由 worker 在写结果前自查并丢弃。
func (s *JobService) Cancel(job *model.Job) error {
	if err := job.Cancel(); err != nil {
		return err
	}
	return s.jobRepo.Update(job)
}

// Skip 跳过（分支不在范围内、锁重试耗尽等）
func (s *JobService) Skip(job *model.Job, reason string) error {
	if err := job.Skip(reason); err != nil {
		return err
	}
	return s.jobRepo.Update(job)
}

// IsCancelled 协作式取消检查，worker 在每个挂起点调用
func (s *JobService) IsCancelled(jobID int64) (bool, error) {
	status, err := s.jobRepo.GetStatus(jobID)
	if err != nil {
		return false, err
	}
	return status == model.JobStatusCancelled, nil
}

// SetStep 更新当前步骤与进度（进度单调不减）
func (s *JobService) SetStep(job *model.Job, step string, progress int) error {
	job.CurrentStep = step
	job.SetProgress(progress)
	return s.jobRepo.Update(job)
}

// LinkAnalysis 任务产出分析后回填
func (s *JobService) LinkAnalysis(job *model.Job, analysisID int64) error {
	job.AnalysisID = &analysisID
	return s.jobRepo.LinkAnalysis(job.ID, analysisID)
}

// AddLog 追加一条任务日志。日志写入独立于任务结果，任务失败也要保住
// 审计轨迹，所以这里的错误只返回给调用方记录，不中断流程。
func (s *JobService) AddLog(jobID int64, level, step, message string) (*model.JobLog, error) {
	return s.addLog(jobID, level, step, message, nil)
}

// AddLogWithMetadata 追加带结构化元数据的日志
func (s *JobService) AddLogWithMetadata(jobID int64, level, step, message string, metadata map[string]interface{}) (*model.JobLog, error) {
	return s.addLog(jobID, level, step, message, metadata)
}

func (s *JobService) addLog(jobID int64, level, step, message string, metadata map[string]interface{}) (*model.JobLog, error) {
	entry := &model.JobLog{
		JobID:   jobID,
		Level:   level,
		Step:    step,
		Message: message,
	}
	if metadata != nil {
		data, err := json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal log metadata: %w", err)
		}
		entry.Metadata = string(data)
	}
	if err := s.logRepo.Append(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// LogsResult 日志分页结果
type LogsResult struct {
	Logs           []*model.JobLog `json:"logs"`
	LatestSequence int64           `json:"latest_sequence"`
	IsComplete     bool            `json:"is_complete"`
}

// Logs 按序号分页读取日志；IsComplete 表示任务已终态、不会再有新日志
func (s *JobService) Logs(job *model.Job, afterSequence int64, limit int) (*LogsResult, error) {
	logs, err := s.logRepo.ListAfterSequence(job.ID, afterSequence, limit)
	if err != nil {
		return nil, err
	}
	latest, err := s.logRepo.LatestSequence(job.ID)
	if err != nil {
		return nil, err
	}
	return &LogsResult{
		Logs:           logs,
		LatestSequence: latest,
		IsComplete:     job.IsTerminal(),
	}, nil
}

// ListByProject 项目维度的任务列表
func (s *JobService) ListByProject(projectID int64, page, pageSize int, status string) ([]*model.Job, int64, error) {
	return s.jobRepo.ListByProject(projectID, page, pageSize, status)
}

// newPublicID 生成对外暴露的不透明任务 ID（32 位十六进制）
func newPublicID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate job id: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}
