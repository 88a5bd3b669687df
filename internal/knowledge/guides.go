package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Snippet 描述一条能力使用说明。Tags 为适用的能力名称，Keywords 用于按任务
// 描述匹配。
type Snippet struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Keywords []string `json:"keywords"`
	Tags     []string `json:"tags"`
}

// Guides 是从 JSON 文件加载的静态说明集合，附加在 Agent 指令与规划提示词中。
// nil 值可以安全使用，表示没有任何说明。
type Guides struct {
	items      []Snippet
	maxResults int
}

// NewGuides 创建说明集合。
func NewGuides(items []Snippet, maxResults int) *Guides {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &Guides{items: items, maxResults: maxResults}
}

// LoadGuides 从 JSON 文件加载说明条目。路径为空时返回 nil。
func LoadGuides(path string, maxResults int) (*Guides, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析知识库路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取知识库文件失败: %w", err)
	}
	defer file.Close()

	var entries []Snippet
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析知识库文件失败: %w", err)
	}
	return NewGuides(entries, maxResults), nil
}

// Query 返回与任务描述或能力集合相关的说明，最多 maxResults 条。
func (g *Guides) Query(task string, capabilities []string) []Snippet {
	if g == nil {
		return nil
	}

	task = strings.ToLower(strings.TrimSpace(task))
	results := make([]Snippet, 0, g.maxResults)
	for _, item := range g.items {
		if matches(item, task, capabilities) {
			results = append(results, item)
			if len(results) >= g.maxResults {
				break
			}
		}
	}
	return results
}

// Hint 返回第一条标注了该能力的说明内容。
func (g *Guides) Hint(capability string) string {
	if g == nil {
		return ""
	}
	for _, item := range g.items {
		if hasTag(item, capability) {
			return strings.TrimSpace(item.Content)
		}
	}
	return ""
}

func matches(snippet Snippet, task string, capabilities []string) bool {
	for _, capability := range capabilities {
		if hasTag(snippet, capability) {
			return true
		}
	}
	for _, keyword := range snippet.Keywords {
		normalized := strings.ToLower(strings.TrimSpace(keyword))
		if normalized == "" {
			continue
		}
		if strings.Contains(task, normalized) {
			return true
		}
	}
	return false
}

func hasTag(snippet Snippet, capability string) bool {
	capability = strings.ToLower(strings.TrimSpace(capability))
	if capability == "" {
		return false
	}
	for _, tag := range snippet.Tags {
		if strings.ToLower(strings.TrimSpace(tag)) == capability {
			return true
		}
	}
	return false
}
