// Package vcs 是代码托管平台 API 的薄封装，只负责取 diff 和变更文件。
// webhook 解析、签名校验等都在上游完成。
package vcs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"golang.org/x/oauth2"

	"github.com/codecrow/codecrow-server/config"
)

// ChangedFile 一个变更文件及其 diff
type ChangedFile struct {
	Path    string `json:"path"`
	Diff    string `json:"diff"`
	Content string `json:"content,omitempty"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg *config.VCSConfig) *Client {
	// 用 oauth2 的 token source 统一注入 Bearer 头
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken})
	client := oauth2.NewClient(context.Background(), ts)

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if cfg.TimeoutSeconds <= 0 {
		timeout = 60 * time.Second
	}
	client.Timeout = timeout

	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: client,
	}
}

// FetchPRDiff 拉取 PR 的变更文件集
func (c *Client) FetchPRDiff(ctx context.Context, repository string, prNumber int) ([]ChangedFile, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/pullrequests/%d/diff", c.baseURL, repository, prNumber)
	return c.fetchDiff(ctx, endpoint)
}

// FetchBranchDiff 拉取分支相对目标分支的变更文件集
func (c *Client) FetchBranchDiff(ctx context.Context, repository, branch, target string) ([]ChangedFile, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/diff?source=%s&target=%s",
		c.baseURL, repository, url.QueryEscape(branch), url.QueryEscape(target))
	return c.fetchDiff(ctx, endpoint)
}

func (c *Client) fetchDiff(ctx context.Context, endpoint string) ([]ChangedFile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch diff: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("vcs api error (%d): %s", resp.StatusCode, string(body))
	}

	var files []ChangedFile
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		return nil, fmt.Errorf("failed to decode diff response: %w", err)
	}

	return files, nil
}

// Fingerprint 计算 diff 集的内容哈希。文件按路径排序后参与哈希，
// 同样的净变更无论 commit 如何（如 rebase 后）得到同一个指纹。
func Fingerprint(files []ChangedFile) string {
	sorted := make([]ChangedFile, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	h := sha256.New()
	for _, f := range sorted {
		h.Write([]byte(f.Path))
		h.Write([]byte{0})
		h.Write([]byte(f.Diff))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
