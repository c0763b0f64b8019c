// Package airesponse 是 AI 网关返回结果的唯一归一化边界。
//
// 网关的 issues 字段既可能是数组也可能是 key->issue 的 map，字段类型也不
// 可靠（行号可能是字符串、isResolved 可能是字面量 "true"）。所有类型矫正
// 都集中在这里完成，业务逻辑只会看到规整后的 Finding。
package airesponse

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/codecrow/codecrow-server/internal/model"
)

// UnknownFile 缺失文件路径时的占位值
const UnknownFile = "unknown"

// Response 归一化后的 AI 分析结果
type Response struct {
	Comment string
	Issues  []Finding
	Dropped int // 因缺失 severity 被丢弃的条目数
}

// Finding 归一化后的单个问题
type Finding struct {
	PriorID                 *int64 // 引用上一版本的问题 ID，用于解决状态追踪
	Severity                string
	Category                string
	FilePath                string
	LineNumber              int
	Reason                  string
	SuggestedFixDescription string
	SuggestedFixDiff        string
	Resolved                bool
	ResolvedDescription     string
}

// IsResolution 该发现是对历史问题的解决报告，而不是一个新的未解决问题
func (f Finding) IsResolution() bool {
	return f.Resolved || f.Severity == model.SeverityResolved
}

// rawIssue 网关原始条目，数值字段用 json.RawMessage 延迟解析
type rawIssue struct {
	ID                      json.RawMessage `json:"id"`
	Severity                *string         `json:"severity"`
	Category                string          `json:"category"`
	File                    string          `json:"file"`
	Line                    json.RawMessage `json:"line"`
	Reason                  string          `json:"reason"`
	SuggestedFixDescription string          `json:"suggestedFixDescription"`
	SuggestedFixDiff        string          `json:"suggestedFixDiff"`
	IsResolved              json.RawMessage `json:"isResolved"`
	ResolvedDescription     string          `json:"resolvedDescription"`
}

type rawResponse struct {
	Comment string          `json:"comment"`
	Issues  json.RawMessage `json:"issues"`
}

// Parse 解析网关返回的 JSON。单个条目损坏只丢弃该条目，整体仍然可用。
func Parse(data []byte) (*Response, error) {
	var raw rawResponse
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode ai response: %w", err)
	}
	return normalize(&raw)
}

func normalize(raw *rawResponse) (*Response, error) {
	resp := &Response{Comment: raw.Comment}

	rawIssues, err := decodeIssues(raw.Issues)
	if err != nil {
		return nil, err
	}

	for _, ri := range rawIssues {
		finding, ok := normalizeIssue(ri)
		if !ok {
			resp.Dropped++
			continue
		}
		resp.Issues = append(resp.Issues, finding)
	}

	return resp, nil
}

// decodeIssues 接受数组和 map 两种编码
func decodeIssues(data json.RawMessage) ([]rawIssue, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var issues []rawIssue
		if err := json.Unmarshal(data, &issues); err != nil {
			return nil, fmt.Errorf("failed to decode issues array: %w", err)
		}
		return issues, nil
	}

	var keyed map[string]rawIssue
	if err := json.Unmarshal(data, &keyed); err != nil {
		return nil, fmt.Errorf("failed to decode issues map: %w", err)
	}

	// map 编码的 key 无业务含义，按 key 排序保证处理顺序稳定
	keys := make([]string, 0, len(keyed))
	for k := range keyed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	issues := make([]rawIssue, 0, len(keyed))
	for _, k := range keys {
		issues = append(issues, keyed[k])
	}
	return issues, nil
}

// normalizeIssue 返回 ok=false 表示该条目应被丢弃。
// 注意不对称：severity 字段缺失时整条丢弃（不能凭空编造级别），
// 存在但不可识别时降级为 MEDIUM。
func normalizeIssue(ri rawIssue) (Finding, bool) {
	if ri.Severity == nil {
		return Finding{}, false
	}

	severity := strings.ToUpper(strings.TrimSpace(*ri.Severity))
	if !model.ValidSeverity(severity) {
		severity = model.SeverityMedium
	}

	file := strings.TrimSpace(ri.File)
	if file == "" {
		file = UnknownFile
	}

	f := Finding{
		PriorID:                 coerceID(ri.ID),
		Severity:                severity,
		Category:                strings.ToUpper(strings.TrimSpace(ri.Category)),
		FilePath:                file,
		LineNumber:              coerceInt(ri.Line),
		Reason:                  ri.Reason,
		SuggestedFixDescription: ri.SuggestedFixDescription,
		SuggestedFixDiff:        ri.SuggestedFixDiff,
		Resolved:                coerceBool(ri.IsResolved),
		ResolvedDescription:     ri.ResolvedDescription,
	}
	return f, true
}

// coerceID 问题 ID 可能是数字或字符串，统一为 int64
func coerceID(data json.RawMessage) *int64 {
	if len(data) == 0 {
		return nil
	}

	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		return &n
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if parsed, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return &parsed
		}
	}
	return nil
}

// coerceInt 行号可能是数字或字符串
func coerceInt(data json.RawMessage) int {
	if len(data) == 0 {
		return 0
	}

	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		return n
	}

	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		return int(f)
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if parsed, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return parsed
		}
	}
	return 0
}

// coerceBool isResolved 可能是 bool 或字符串 "true"/"false"
func coerceBool(data json.RawMessage) bool {
	if len(data) == 0 {
		return false
	}

	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		return b
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return strings.EqualFold(strings.TrimSpace(s), "true")
	}
	return false
}
