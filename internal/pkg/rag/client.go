// Package rag 是外部 RAG 索引/检索服务的 HTTP 客户端。索引本身由外部
// 服务完成，引擎只决定全量还是增量并取回上下文片段。
package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/codecrow/codecrow-server/config"
)

// IndexRequest 索引触发请求
type IndexRequest struct {
	ProjectID   int64    `json:"project_id"`
	Repository  string   `json:"repository"`
	Branch      string   `json:"branch"`
	Files       []string `json:"files,omitempty"` // 增量索引时的变更文件列表
	Incremental bool     `json:"incremental"`
}

// QueryRequest 上下文检索请求
type QueryRequest struct {
	ProjectID int64  `json:"project_id"`
	Branch    string `json:"branch"`
	Query     string `json:"query"`
	TopK      int    `json:"top_k,omitempty"`
}

type queryResponse struct {
	Snippets []string `json:"snippets"`
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(cfg *config.RAGConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if cfg.TimeoutSeconds <= 0 {
		timeout = 120 * time.Second
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// TriggerIndex 触发索引（全量或增量）
func (c *Client) TriggerIndex(ctx context.Context, req *IndexRequest) error {
	_, err := c.post(ctx, "/v1/index", req)
	return err
}

// QueryContext 检索与变更相关的上下文片段
func (c *Client) QueryContext(ctx context.Context, req *QueryRequest) ([]string, error) {
	body, err := c.post(ctx, "/v1/query", req)
	if err != nil {
		return nil, err
	}

	var resp queryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode rag response: %w", err)
	}
	return resp.Snippets, nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rag request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rag request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read rag response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rag service error (%d): %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}
