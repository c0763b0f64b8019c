package airesponse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codecrow/codecrow-server/internal/model"
)

func TestParse_IssuesArray(t *testing.T) {
	data := []byte(`{
		"comment": "looks mostly fine",
		"issues": [
			{"severity": "HIGH", "category": "SECURITY", "file": "auth.go", "line": 42, "reason": "sql injection"},
			{"severity": "LOW", "file": "util.go", "line": 7, "reason": "unused variable"}
		]
	}`)

	resp, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "looks mostly fine", resp.Comment)
	require.Len(t, resp.Issues, 2)
	assert.Equal(t, 0, resp.Dropped)

	assert.Equal(t, model.SeverityHigh, resp.Issues[0].Severity)
	assert.Equal(t, "SECURITY", resp.Issues[0].Category)
	assert.Equal(t, "auth.go", resp.Issues[0].FilePath)
	assert.Equal(t, 42, resp.Issues[0].LineNumber)
}

func TestParse_IssuesKeyedMap(t *testing.T) {
	data := []byte(`{
		"comment": "x",
		"issues": {
			"issue_2": {"severity": "LOW", "file": "b.go", "line": 2, "reason": "second"},
			"issue_1": {"severity": "HIGH", "file": "a.go", "line": 1, "reason": "first"}
		}
	}`)

	resp, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, resp.Issues, 2)

	// map 编码按 key 排序，顺序稳定
	assert.Equal(t, "a.go", resp.Issues[0].FilePath)
	assert.Equal(t, "b.go", resp.Issues[1].FilePath)
}

func TestParse_Coercions(t *testing.T) {
	data := []byte(`{
		"issues": [
			{"id": "17", "severity": "MEDIUM", "file": "x.go", "line": "42", "reason": "r", "isResolved": "true"},
			{"id": 23, "severity": "MEDIUM", "file": "y.go", "line": 7.0, "reason": "r", "isResolved": false}
		]
	}`)

	resp, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, resp.Issues, 2)

	// 字符串形式的数值与布尔都被矫正
	require.NotNil(t, resp.Issues[0].PriorID)
	assert.Equal(t, int64(17), *resp.Issues[0].PriorID)
	assert.Equal(t, 42, resp.Issues[0].LineNumber)
	assert.True(t, resp.Issues[0].Resolved)
	assert.True(t, resp.Issues[0].IsResolution())

	require.NotNil(t, resp.Issues[1].PriorID)
	assert.Equal(t, int64(23), *resp.Issues[1].PriorID)
	assert.Equal(t, 7, resp.Issues[1].LineNumber)
	assert.False(t, resp.Issues[1].Resolved)
}

func TestParse_SeverityAsymmetry(t *testing.T) {
	data := []byte(`{
		"issues": [
			{"file": "a.go", "line": 1, "reason": "no severity at all"},
			{"severity": "CATASTROPHIC", "file": "b.go", "line": 2, "reason": "unknown severity"},
			{"severity": "high", "file": "c.go", "line": 3, "reason": "lowercase severity"}
		]
	}`)

	resp, err := Parse(data)
	require.NoError(t, err)

	// 缺失 severity 整条丢弃；不可识别的降级为 MEDIUM；大小写被归一化
	require.Len(t, resp.Issues, 2)
	assert.Equal(t, 1, resp.Dropped)
	assert.Equal(t, model.SeverityMedium, resp.Issues[0].Severity)
	assert.Equal(t, "b.go", resp.Issues[0].FilePath)
	assert.Equal(t, model.SeverityHigh, resp.Issues[1].Severity)
}

func TestParse_MissingFile(t *testing.T) {
	data := []byte(`{
		"issues": [
			{"severity": "HIGH", "line": 1, "reason": "no file"},
			{"severity": "HIGH", "file": "  ", "line": 2, "reason": "blank file"}
		]
	}`)

	resp, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, resp.Issues, 2)

	// 文件缺失不丢弃，用占位值保留
	assert.Equal(t, UnknownFile, resp.Issues[0].FilePath)
	assert.Equal(t, UnknownFile, resp.Issues[1].FilePath)
}

func TestParse_ResolvedSeverity(t *testing.T) {
	data := []byte(`{
		"issues": [
			{"id": 5, "severity": "RESOLVED", "file": "a.go", "line": 1, "reason": "fixed", "resolvedDescription": "now validated"}
		]
	}`)

	resp, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, resp.Issues, 1)

	// severity=RESOLVED 等价于 isResolved=true
	assert.True(t, resp.Issues[0].IsResolution())
	assert.Equal(t, "now validated", resp.Issues[0].ResolvedDescription)
}

func TestParse_EmptyAndNullIssues(t *testing.T) {
	for _, data := range []string{`{"comment": "ok"}`, `{"comment": "ok", "issues": null}`, `{"comment": "ok", "issues": []}`} {
		resp, err := Parse([]byte(data))
		require.NoError(t, err, data)
		assert.Empty(t, resp.Issues, data)
	}
}

func TestParse_MalformedJSON(t *testing.T) {
	_, err := Parse([]byte(`{"issues": [`))
	assert.Error(t, err)

	_, err = Parse([]byte(`not json`))
	assert.Error(t, err)
}
