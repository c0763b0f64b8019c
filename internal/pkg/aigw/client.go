// Package aigw 是 AI 分析网关的 HTTP 客户端。请求/响应的线格式见
// 网关侧约定；响应体在 airesponse 包里做归一化，这里只负责传输。
package aigw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/codecrow/codecrow-server/config"
	"github.com/codecrow/codecrow-server/internal/pkg/vcs"
)

// 分析类型
const (
	AnalysisTypePullRequest = "PULL_REQUEST"
	AnalysisTypeBranch      = "BRANCH"
)

// PreviousIssue 带给 AI 的历史问题，AI 据此报告 isResolved
type PreviousIssue struct {
	ID          int64  `json:"id"`
	File        string `json:"file"`
	Line        int    `json:"line"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// RepositoryRef 请求中的仓库定位
type RepositoryRef struct {
	Workspace    string `json:"workspace"`
	RepoSlug     string `json:"repo_slug"`
	Branch       string `json:"branch"`
	TargetBranch string `json:"target_branch,omitempty"`
}

// AnalyzeRequest 网关分析请求
type AnalyzeRequest struct {
	ProjectID      int64             `json:"project_id"`
	AnalysisType   string            `json:"analysis_type"`
	Repository     RepositoryRef     `json:"repository"`
	ChangedFiles   []vcs.ChangedFile `json:"changed_files"`
	PreviousIssues []PreviousIssue   `json:"previous_issues,omitempty"`
	Context        []string          `json:"context,omitempty"` // RAG 检索到的片段
	Metadata       map[string]any    `json:"metadata,omitempty"`
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(cfg *config.AIGatewayConfig) *Client {
	// 默认不设超时：大 diff 的评审可能跑很久，取消由调用方的 ctx 负责
	var timeout time.Duration
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Analyze 发起分析，返回网关的原始 JSON 响应体
func (c *Client) Analyze(ctx context.Context, req *AnalyzeRequest) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal analyze request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ai gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read ai gateway response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ai gateway error (%d): %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}
