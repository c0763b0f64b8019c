package worker

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/codecrow/codecrow-server/config"
	"github.com/codecrow/codecrow-server/internal/model"
	"github.com/codecrow/codecrow-server/internal/pkg/aigw"
	"github.com/codecrow/codecrow-server/internal/pkg/airesponse"
	"github.com/codecrow/codecrow-server/internal/pkg/oss"
	"github.com/codecrow/codecrow-server/internal/pkg/pubsub"
	"github.com/codecrow/codecrow-server/internal/pkg/queue"
	"github.com/codecrow/codecrow-server/internal/pkg/rag"
	"github.com/codecrow/codecrow-server/internal/pkg/vcs"
	"github.com/codecrow/codecrow-server/internal/repository"
	"github.com/codecrow/codecrow-server/internal/service"
)

// Processor 任务处理器：把队列消息跑成一次完整的编排流水线。
// 流水线的每个挂起点（抢锁、取 diff、RAG、AI 调用）前后都做协作式
// 取消检查；锁在 defer 里释放，无论在哪一步失败都不会漏。
type Processor struct {
	jobService       *service.JobService
	lockService      *service.LockService
	analysisService  *service.AnalysisService
	lifecycleService *service.LifecycleService
	projectRepo      *repository.ProjectRepository
	publisher        *pubsub.Publisher
	vcsClient        *vcs.Client
	ragClient        *rag.Client
	aiClient         *aigw.Client
	ossClient        *oss.Client // 可选，未配置时跳过归档
	cfg              *config.Config
}

func NewProcessor(
	jobService *service.JobService,
	lockService *service.LockService,
	analysisService *service.AnalysisService,
	lifecycleService *service.LifecycleService,
	projectRepo *repository.ProjectRepository,
	publisher *pubsub.Publisher,
	vcsClient *vcs.Client,
	ragClient *rag.Client,
	aiClient *aigw.Client,
	ossClient *oss.Client,
	cfg *config.Config,
) *Processor {
	return &Processor{
		jobService:       jobService,
		lockService:      lockService,
		analysisService:  analysisService,
		lifecycleService: lifecycleService,
		projectRepo:      projectRepo,
		publisher:        publisher,
		vcsClient:        vcsClient,
		ragClient:        ragClient,
		aiClient:         aiClient,
		ossClient:        ossClient,
		cfg:              cfg,
	}
}

// Process 处理一条队列消息
func (p *Processor) Process(ctx context.Context, msg *queue.JobMessage) error {
	job, err := p.jobService.GetByID(msg.JobID)
	if err != nil {
		return fmt.Errorf("failed to get job %d: %w", msg.JobID, err)
	}
	if job.IsTerminal() {
		// 入队后、开跑前被取消
		log.Printf("Job %s: already %s, skipping", job.PublicID, job.Status)
		return nil
	}

	project, err := p.projectRepo.GetByID(msg.ProjectID)
	if err != nil {
		p.failJob(ctx, job, "", fmt.Errorf("project %d not found: %w", msg.ProjectID, err))
		return err
	}

	// 分支范围过滤
	if requiresScopeCheck(msg.JobType) && !project.BranchInScope(msg.Branch) {
		reason := fmt.Sprintf("branch %q is not in the project's analysis scope", msg.Branch)
		p.jobService.AddLog(job.ID, model.LogLevelWarn, "", reason)
		p.jobService.Skip(job, reason)
		p.publishStatus(ctx, job, pubsub.StepDone, "")
		return nil
	}

	// 抢锁前的取消检查
	if p.checkCancelled(ctx, job, "before lock acquisition") {
		return nil
	}

	// 索引类任务改动的是外部索引而非分析结果，不需要分支锁
	if needsBranchLock(msg.JobType) {
		acquired, err := p.acquireLock(ctx, job, project, msg)
		if err != nil {
			p.failJob(ctx, job, pubsub.StepLocking, err)
			return err
		}
		if !acquired {
			return nil // 已转入 SKIPPED/CANCELLED
		}
		defer func() {
			if err := p.lockService.Release(project.Repository, msg.Branch); err != nil {
				log.Printf("Job %s: failed to release lock: %v", job.PublicID, err)
			}
		}()
	}

	if err := p.jobService.Start(job); err != nil {
		return err
	}
	p.jobService.AddLog(job.ID, model.LogLevelInfo, "", fmt.Sprintf("job started (%s)", msg.JobType))

	switch msg.JobType {
	case model.JobTypePRAnalysis, model.JobTypeBranchAnalysis, model.JobTypeManualAnalysis:
		err = p.runAnalysis(ctx, job, project, msg)
	case model.JobTypeBranchReconciliation:
		err = p.runBranchReconciliation(ctx, job, project, msg)
	case model.JobTypeRagInitialIndex, model.JobTypeRagIncrementalIndex:
		err = p.runRagIndex(ctx, job, project, msg)
	case model.JobTypeRepoSync:
		err = p.runRepoSync(ctx, job, project, msg)
	default:
		err = fmt.Errorf("unknown job type: %s", msg.JobType)
	}

	if err != nil {
		p.failJob(ctx, job, job.CurrentStep, err)
		return err
	}
	return nil
}

// acquireLock 抢分支锁。竞争时任务转 WAITING，按配置的间隔重试；重试
// 耗尽转 SKIPPED。返回 false 表示不继续执行（已终态）。
func (p *Processor) acquireLock(ctx context.Context, job *model.Job, project *model.Project, msg *queue.JobMessage) (bool, error) {
	p.setStep(ctx, job, pubsub.StepLocking)

	acquired, err := p.lockService.TryAcquire(project.Repository, msg.Branch, job.PublicID)
	if err != nil {
		return false, err
	}
	if acquired {
		return true, nil
	}

	// 锁被占用不是错误，转入等待
	p.jobService.AddLog(job.ID, model.LogLevelInfo, pubsub.StepLocking,
		fmt.Sprintf("analysis of %s@%s already in progress, waiting", project.Repository, msg.Branch))
	if err := p.jobService.MarkWaiting(job, pubsub.StepLocking); err != nil {
		return false, err
	}
	p.publishStatus(ctx, job, pubsub.StepLocking, "")

	retries := p.cfg.Lock.AcquireRetries
	if retries <= 0 {
		retries = 4
	}
	interval := p.cfg.Lock.RetryInterval()

	for i := 0; i < retries; i++ {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(interval):
		}

		// WAITING 中被取消的任务直接终止，永远不会拿到锁
		if p.checkCancelled(ctx, job, "while waiting for lock") {
			return false, nil
		}

		acquired, err := p.lockService.TryAcquire(project.Repository, msg.Branch, job.PublicID)
		if err != nil {
			return false, err
		}
		if acquired {
			return true, nil
		}
	}

	reason := fmt.Sprintf("could not acquire analysis lock for %s@%s after %d retries",
		project.Repository, msg.Branch, retries)
	p.jobService.AddLog(job.ID, model.LogLevelWarn, pubsub.StepLocking, reason)
	p.jobService.Skip(job, reason)
	p.publishStatus(ctx, job, pubsub.StepDone, "")
	return false, nil
}

// runAnalysis PR/分支分析主流水线
func (p *Processor) runAnalysis(ctx context.Context, job *model.Job, project *model.Project, msg *queue.JobMessage) error {
	// Step 1: 拉取 diff
	if p.checkCancelled(ctx, job, "before diff fetch") {
		return nil
	}
	p.setStep(ctx, job, pubsub.StepFetchDiff)

	var files []vcs.ChangedFile
	var err error
	if msg.PRNumber > 0 {
		files, err = p.vcsClient.FetchPRDiff(ctx, project.Repository, msg.PRNumber)
	} else {
		files, err = p.vcsClient.FetchBranchDiff(ctx, project.Repository, msg.Branch, project.MainBranch)
	}
	if err != nil {
		return fmt.Errorf("diff fetch failed: %w", err)
	}
	p.jobService.AddLog(job.ID, model.LogLevelInfo, pubsub.StepFetchDiff,
		fmt.Sprintf("fetched %d changed files", len(files)))

	// 指纹短路：commit 变了但 diff 内容没变（如 rebase），把旧分析克隆到
	// 新 commit 下，不再调用 AI
	fingerprint := vcs.Fingerprint(files)
	if cached, err := p.analysisService.FindByDiffFingerprint(project.ID, fingerprint); err != nil {
		return err
	} else if cached != nil {
		clone, _, err := p.analysisService.Clone(service.CloneParams{
			Source:          cached,
			Project:         project,
			PRNumber:        msg.PRNumber,
			CommitHash:      msg.CommitHash,
			SourceBranch:    msg.Branch,
			TargetBranch:    msg.TargetBranch,
			DiffFingerprint: fingerprint,
		})
		if err != nil {
			return err
		}
		p.jobService.AddLog(job.ID, model.LogLevelInfo, pubsub.StepFetchDiff,
			fmt.Sprintf("diff fingerprint matches analysis %d, cloned as %d without AI call", cached.ID, clone.ID))
		p.jobService.LinkAnalysis(job, clone.ID)
		p.jobService.Complete(job)
		p.publishStatus(ctx, job, pubsub.StepDone, "")
		return nil
	}

	// Step 2: RAG 索引与上下文
	if p.checkCancelled(ctx, job, "before rag query") {
		return nil
	}
	p.setStep(ctx, job, pubsub.StepRagIndex)

	snippets, err := p.prepareRagContext(ctx, project, msg.Branch, files)
	if err != nil {
		return fmt.Errorf("rag context failed: %w", err)
	}

	// Step 3: AI 分析
	if p.checkCancelled(ctx, job, "before ai analysis") {
		return nil
	}
	p.setStep(ctx, job, pubsub.StepAIAnalysis)

	_, prevIssues, err := p.analysisService.PreviousOpenIssues(project.ID, msg.PRNumber)
	if err != nil {
		return err
	}

	rawResponse, err := p.aiClient.Analyze(ctx, buildAnalyzeRequest(project, msg, files, prevIssues, snippets))
	if err != nil {
		return fmt.Errorf("ai analysis failed: %w", err)
	}

	// AI 返回后、落库前的取消检查：迟到的结果必须丢弃
	if p.checkCancelled(ctx, job, "after ai analysis, discarding result") {
		return nil
	}

	parsed, err := airesponse.Parse(rawResponse)
	if err != nil {
		return fmt.Errorf("malformed ai response: %w", err)
	}
	if parsed.Dropped > 0 {
		p.jobService.AddLog(job.ID, model.LogLevelWarn, pubsub.StepAIAnalysis,
			fmt.Sprintf("dropped %d issues with missing severity", parsed.Dropped))
	}

	// Step 4: 落库（幂等）。没被 AI 提到的历史问题深拷贝进本版本，
	// 留在后续对账基线里，也计入本版本的门禁观测值
	p.setStep(ctx, job, pubsub.StepPersist)
	carried := p.lifecycleService.CarryForward(prevIssues, parsed.Issues)
	analysis, created, err := p.analysisService.GetOrCreate(service.CreateAnalysisParams{
		Project:         project,
		Response:        parsed,
		Carried:         carried,
		PRNumber:        msg.PRNumber,
		SourceBranch:    msg.Branch,
		TargetBranch:    msg.TargetBranch,
		CommitHash:      msg.CommitHash,
		AuthorID:        msg.AuthorID,
		AuthorUsername:  msg.AuthorUsername,
		DiffFingerprint: fingerprint,
	})
	if err != nil {
		return err
	}
	p.jobService.LinkAnalysis(job, analysis.ID)

	if !created {
		p.jobService.AddLog(job.ID, model.LogLevelInfo, pubsub.StepPersist,
			fmt.Sprintf("analysis cache hit for commit %s, no new records", msg.CommitHash))
		p.jobService.Complete(job)
		p.publishStatus(ctx, job, pubsub.StepDone, "")
		return nil
	}

	// Step 5: 与上一版本对账
	p.setStep(ctx, job, pubsub.StepReconcile)
	reconciled, err := p.lifecycleService.ReconcilePR(prevIssues, parsed.Issues, service.ResolutionContext{
		PRNumber:   msg.PRNumber,
		CommitHash: msg.CommitHash,
		AnalysisID: analysis.ID,
		ResolvedBy: msg.AuthorUsername,
	})
	if err != nil {
		return err
	}
	p.jobService.AddLogWithMetadata(job.ID, model.LogLevelInfo, pubsub.StepReconcile,
		"issue reconciliation finished", map[string]interface{}{
			"carried_forward": reconciled.CarriedForward,
			"resolved":        reconciled.Resolved,
			"new":             reconciled.New,
		})

	// Step 6: 门禁结论（GetOrCreate 内已求值），归档原始响应
	p.setStep(ctx, job, pubsub.StepQualityGate)
	p.jobService.AddLog(job.ID, model.LogLevelInfo, pubsub.StepQualityGate,
		fmt.Sprintf("quality gate result: %s", analysis.Result))

	if p.ossClient != nil {
		if url, err := p.ossClient.UploadAnalysisReport(analysis.ID, rawResponse); err != nil {
			// 归档失败不影响分析结果
			p.jobService.AddLog(job.ID, model.LogLevelWarn, pubsub.StepQualityGate,
				fmt.Sprintf("report archive failed: %v", err))
		} else {
			p.jobService.AddLog(job.ID, model.LogLevelDebug, pubsub.StepQualityGate,
				fmt.Sprintf("raw response archived to %s", url))
		}
	}

	p.jobService.Complete(job)
	p.publishStatus(ctx, job, pubsub.StepDone, "")
	log.Printf("Job %s: analysis %d completed, version %d, result %s",
		job.PublicID, analysis.ID, analysis.PRVersion, analysis.Result)
	return nil
}

// runBranchReconciliation 合并后：把 PR 留下的未解决问题登记到目标分支，
// 再对分支跑一遍 AI 验证修复是否真的合入
func (p *Processor) runBranchReconciliation(ctx context.Context, job *model.Job, project *model.Project, msg *queue.JobMessage) error {
	latest, openIssues, err := p.analysisService.PreviousOpenIssues(project.ID, msg.PRNumber)
	if err != nil {
		return err
	}
	if latest != nil {
		promoted, err := p.lifecycleService.PromoteToBranch(project.ID, msg.Branch, openIssues)
		if err != nil {
			return err
		}
		p.jobService.AddLog(job.ID, model.LogLevelInfo, pubsub.StepReconcile,
			fmt.Sprintf("promoted %d open issues from PR #%d to branch %s", promoted, msg.PRNumber, msg.Branch))
	}

	if p.checkCancelled(ctx, job, "before branch verification") {
		return nil
	}
	p.setStep(ctx, job, pubsub.StepFetchDiff)

	files, err := p.vcsClient.FetchBranchDiff(ctx, project.Repository, msg.Branch, project.MainBranch)
	if err != nil {
		return fmt.Errorf("diff fetch failed: %w", err)
	}

	branchIssues, err := p.lifecycleService.OpenBranchIssues(project.ID, msg.Branch)
	if err != nil {
		return err
	}

	if p.checkCancelled(ctx, job, "before ai verification") {
		return nil
	}
	p.setStep(ctx, job, pubsub.StepAIAnalysis)

	req := buildAnalyzeRequest(project, msg, files, branchPreviousIssues(branchIssues), nil)
	req.AnalysisType = aigw.AnalysisTypeBranch
	rawResponse, err := p.aiClient.Analyze(ctx, req)
	if err != nil {
		return fmt.Errorf("ai verification failed: %w", err)
	}

	if p.checkCancelled(ctx, job, "after ai verification, discarding result") {
		return nil
	}

	parsed, err := airesponse.Parse(rawResponse)
	if err != nil {
		return fmt.Errorf("malformed ai response: %w", err)
	}

	p.setStep(ctx, job, pubsub.StepReconcile)
	reconciled, err := p.lifecycleService.ReconcileBranch(project.ID, msg.Branch, parsed.Issues, service.ResolutionContext{
		PRNumber:   msg.PRNumber,
		CommitHash: msg.CommitHash,
		ResolvedBy: msg.AuthorUsername,
	})
	if err != nil {
		return err
	}
	p.jobService.AddLogWithMetadata(job.ID, model.LogLevelInfo, pubsub.StepReconcile,
		"branch reconciliation finished", map[string]interface{}{
			"carried_forward": reconciled.CarriedForward,
			"resolved":        reconciled.Resolved,
			"new":             reconciled.New,
		})

	p.jobService.Complete(job)
	p.publishStatus(ctx, job, pubsub.StepDone, "")
	return nil
}

// runRagIndex 显式索引任务
func (p *Processor) runRagIndex(ctx context.Context, job *model.Job, project *model.Project, msg *queue.JobMessage) error {
	p.setStep(ctx, job, pubsub.StepRagIndex)

	incremental := msg.JobType == model.JobTypeRagIncrementalIndex
	if err := p.projectRepo.UpsertRagStatus(project.ID, msg.Branch, ragTransientStatus(incremental)); err != nil {
		return err
	}

	err := p.ragClient.TriggerIndex(ctx, &rag.IndexRequest{
		ProjectID:   project.ID,
		Repository:  project.Repository,
		Branch:      msg.Branch,
		Incremental: incremental,
	})
	if err != nil {
		p.projectRepo.UpsertRagStatus(project.ID, msg.Branch, model.RagStatusFailed)
		return fmt.Errorf("rag index trigger failed: %w", err)
	}

	if err := p.projectRepo.UpsertRagStatus(project.ID, msg.Branch, model.RagStatusIndexed); err != nil {
		return err
	}

	p.jobService.AddLog(job.ID, model.LogLevelInfo, pubsub.StepRagIndex,
		fmt.Sprintf("rag index (incremental=%v) triggered for %s", incremental, msg.Branch))
	p.jobService.Complete(job)
	p.publishStatus(ctx, job, pubsub.StepDone, "")
	return nil
}

// runRepoSync 仓库同步：确保主分支有可用索引
func (p *Processor) runRepoSync(ctx context.Context, job *model.Job, project *model.Project, msg *queue.JobMessage) error {
	p.setStep(ctx, job, pubsub.StepRagIndex)

	status, err := p.projectRepo.GetRagStatus(project.ID, project.MainBranch)
	if err != nil {
		return err
	}
	if status == nil || status.Status == model.RagStatusNotIndexed || status.Status == model.RagStatusFailed {
		if err := p.ragClient.TriggerIndex(ctx, &rag.IndexRequest{
			ProjectID:  project.ID,
			Repository: project.Repository,
			Branch:     project.MainBranch,
		}); err != nil {
			return fmt.Errorf("rag index trigger failed: %w", err)
		}
		if err := p.projectRepo.UpsertRagStatus(project.ID, project.MainBranch, model.RagStatusIndexed); err != nil {
			return err
		}
		p.jobService.AddLog(job.ID, model.LogLevelInfo, pubsub.StepRagIndex,
			fmt.Sprintf("triggered initial index for %s@%s", project.Repository, project.MainBranch))
	}

	p.jobService.Complete(job)
	p.publishStatus(ctx, job, pubsub.StepDone, "")
	return nil
}

// prepareRagContext 首次分析全量索引，之后增量，再取上下文片段
func (p *Processor) prepareRagContext(ctx context.Context, project *model.Project, branch string, files []vcs.ChangedFile) ([]string, error) {
	status, err := p.projectRepo.GetRagStatus(project.ID, branch)
	if err != nil {
		return nil, err
	}

	incremental := status != nil &&
		(status.Status == model.RagStatusIndexed || status.Status == model.RagStatusUpdating)

	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
	}

	if err := p.projectRepo.UpsertRagStatus(project.ID, branch, ragTransientStatus(incremental)); err != nil {
		return nil, err
	}
	if err := p.ragClient.TriggerIndex(ctx, &rag.IndexRequest{
		ProjectID:   project.ID,
		Repository:  project.Repository,
		Branch:      branch,
		Files:       paths,
		Incremental: incremental,
	}); err != nil {
		p.projectRepo.UpsertRagStatus(project.ID, branch, model.RagStatusFailed)
		return nil, err
	}
	if err := p.projectRepo.UpsertRagStatus(project.ID, branch, model.RagStatusIndexed); err != nil {
		return nil, err
	}

	return p.ragClient.QueryContext(ctx, &rag.QueryRequest{
		ProjectID: project.ID,
		Branch:    branch,
		Query:     strings.Join(paths, "\n"),
	})
}

// checkCancelled 协作式取消检查。返回 true 表示任务已被取消，调用方
// 应立即放弃后续工作（终态已由取消方写入）。
func (p *Processor) checkCancelled(ctx context.Context, job *model.Job, where string) bool {
	cancelled, err := p.jobService.IsCancelled(job.ID)
	if err != nil {
		log.Printf("Job %s: cancellation check failed: %v", job.PublicID, err)
		return false
	}
	if cancelled {
		job.Status = model.JobStatusCancelled
		p.jobService.AddLog(job.ID, model.LogLevelInfo, "", "job cancelled "+where)
		p.publishStatus(ctx, job, pubsub.StepDone, "")
		log.Printf("Job %s: cancelled %s", job.PublicID, where)
		return true
	}
	return false
}

func (p *Processor) setStep(ctx context.Context, job *model.Job, step string) {
	p.jobService.SetStep(job, step, pubsub.StepProgress[step])
	p.publishStatus(ctx, job, step, "")
}

func (p *Processor) failJob(ctx context.Context, job *model.Job, step string, cause error) {
	msg := cause.Error()
	p.jobService.AddLog(job.ID, model.LogLevelError, step, msg)
	if err := p.jobService.Fail(job, msg); err != nil {
		log.Printf("Job %s: failed to record failure: %v", job.PublicID, err)
	}
	p.publishStatus(ctx, job, step, msg)
}

func (p *Processor) publishStatus(ctx context.Context, job *model.Job, step, errMsg string) {
	p.publisher.PublishProgress(ctx, &pubsub.ProgressMessage{
		JobPublicID: job.PublicID,
		ProjectID:   job.ProjectID,
		Status:      job.Status,
		Step:        step,
		Progress:    job.Progress,
		Error:       errMsg,
	})
}

func buildAnalyzeRequest(project *model.Project, msg *queue.JobMessage, files []vcs.ChangedFile, prevIssues []*model.CodeAnalysisIssue, snippets []string) *aigw.AnalyzeRequest {
	analysisType := aigw.AnalysisTypePullRequest
	if msg.PRNumber == 0 {
		analysisType = aigw.AnalysisTypeBranch
	}

	parts := strings.SplitN(project.Repository, "/", 2)
	workspace := parts[0]
	repoSlug := project.RepoSlug
	if repoSlug == "" && len(parts) == 2 {
		repoSlug = parts[1]
	}

	previous := make([]aigw.PreviousIssue, 0, len(prevIssues))
	for _, issue := range prevIssues {
		previous = append(previous, aigw.PreviousIssue{
			ID:          issue.ID,
			File:        issue.FilePath,
			Line:        issue.LineNumber,
			Severity:    issue.Severity,
			Description: issue.Reason,
		})
	}

	return &aigw.AnalyzeRequest{
		ProjectID:      project.ID,
		AnalysisType:   analysisType,
		Repository:     aigw.RepositoryRef{Workspace: workspace, RepoSlug: repoSlug, Branch: msg.Branch, TargetBranch: msg.TargetBranch},
		ChangedFiles:   files,
		PreviousIssues: previous,
		Context:        snippets,
		Metadata: map[string]any{
			"pr_number": msg.PRNumber,
			"author":    msg.AuthorUsername,
			"commit":    msg.CommitHash,
		},
	}
}

func branchPreviousIssues(issues []*model.BranchIssue) []*model.CodeAnalysisIssue {
	converted := make([]*model.CodeAnalysisIssue, 0, len(issues))
	for _, bi := range issues {
		converted = append(converted, &model.CodeAnalysisIssue{
			ID:         bi.ID,
			Severity:   bi.Severity,
			FilePath:   bi.FilePath,
			LineNumber: bi.LineNumber,
			Reason:     bi.Reason,
		})
	}
	return converted
}

// requiresScopeCheck 只有分析类任务受分支范围配置约束
func requiresScopeCheck(jobType string) bool {
	switch jobType {
	case model.JobTypePRAnalysis, model.JobTypeBranchAnalysis:
		return true
	}
	return false
}

// needsBranchLock 索引与同步任务不写分析结果，不抢分支锁
func needsBranchLock(jobType string) bool {
	switch jobType {
	case model.JobTypeRagInitialIndex, model.JobTypeRagIncrementalIndex, model.JobTypeRepoSync:
		return false
	}
	return true
}

func ragTransientStatus(incremental bool) string {
	if incremental {
		return model.RagStatusUpdating
	}
	return model.RagStatusIndexing
}
