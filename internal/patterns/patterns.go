// Package patterns 提供破坏性/风险/外泄/注入正则语料的格式、加载与预编译。
package patterns

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Group 语料分组。
type Group string

const (
	GroupDestructive  Group = "destructive"  // 确定性层无条件拒绝
	GroupRisky        Group = "risky"        // 仅告警
	GroupExfiltration Group = "exfiltration" // 风险评分
	GroupAvailability Group = "availability" // 风险评分
	GroupInjection    Group = "injection"    // 目标字段元字符
)

func (g Group) valid() bool {
	switch g {
	case GroupDestructive, GroupRisky, GroupExfiltration, GroupAvailability, GroupInjection:
		return true
	}
	return false
}

// Pattern 单条语料。匹配一律大小写不敏感。
type Pattern struct {
	ID          string `yaml:"id"`
	Group       Group  `yaml:"group"`
	Category    string `yaml:"category,omitempty"`
	Expr        string `yaml:"expr"`
	Description string `yaml:"description,omitempty"`
	Disabled    bool   `yaml:"disabled,omitempty"` // 为 true 时移除同 ID 的内置条目
}

// File 语料文件根结构。
type File struct {
	Patterns []Pattern `yaml:"patterns"`
}

// LoadFile 从 path 加载 YAML 语料扩展；path 为空或文件不存在时返回空列表。
func LoadFile(path string) ([]Pattern, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("patterns read: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("patterns unmarshal: %w", err)
	}
	return f.Patterns, nil
}

// Merge 将扩展条目合并进 base：同 ID 原位替换，Disabled 删除，新 ID 按文件顺序追加。
func Merge(base, ext []Pattern) []Pattern {
	out := append([]Pattern(nil), base...)
	index := make(map[string]int, len(out))
	for i, p := range out {
		index[p.ID] = i
	}
	removed := make(map[string]bool)
	for _, p := range ext {
		if i, ok := index[p.ID]; ok {
			if p.Disabled {
				removed[p.ID] = true
				continue
			}
			delete(removed, p.ID)
			if p.Group == "" {
				p.Group = out[i].Group
			}
			out[i] = p
			continue
		}
		if p.Disabled {
			continue
		}
		index[p.ID] = len(out)
		out = append(out, p)
	}
	if len(removed) == 0 {
		return out
	}
	kept := out[:0]
	for _, p := range out {
		if !removed[p.ID] {
			kept = append(kept, p)
		}
	}
	return kept
}

// Match 单次命中结果。
type Match struct {
	ID          string
	Group       Group
	Category    string
	Description string
	Text        string // 命中的片段
}

type compiled struct {
	Pattern
	re *regexp.Regexp
}

// Table 启动时一次性编译的有序语料表；并发只读安全。
type Table struct {
	byGroup map[Group][]compiled
	size    int
}

// Compile 编译语料；任一表达式非法或分组未知即返回错误并指明 ID。
func Compile(ps []Pattern) (*Table, error) {
	t := &Table{byGroup: make(map[Group][]compiled)}
	seen := make(map[string]bool, len(ps))
	for _, p := range ps {
		if p.Disabled {
			continue
		}
		if p.ID == "" {
			return nil, fmt.Errorf("patterns: entry with empty id (expr %q)", p.Expr)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("patterns: duplicate id %q", p.ID)
		}
		seen[p.ID] = true
		if !p.Group.valid() {
			return nil, fmt.Errorf("patterns: %s: unknown group %q", p.ID, p.Group)
		}
		re, err := regexp.Compile("(?i)" + p.Expr)
		if err != nil {
			return nil, fmt.Errorf("patterns: %s: %w", p.ID, err)
		}
		t.byGroup[p.Group] = append(t.byGroup[p.Group], compiled{Pattern: p, re: re})
		t.size++
	}
	return t, nil
}

// MustDefault 编译内置语料；内置语料非法属于程序错误。
func MustDefault() *Table {
	t, err := Compile(Default())
	if err != nil {
		panic(err)
	}
	return t
}

// Load 内置语料合并 path 指向的扩展文件后编译。
func Load(path string) (*Table, error) {
	ext, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return Compile(Merge(Default(), ext))
}

// Match 按表内顺序返回 group 中所有命中 text 的条目。
func (t *Table) Match(group Group, text string) []Match {
	if t == nil || text == "" {
		return nil
	}
	var out []Match
	for _, c := range t.byGroup[group] {
		if loc := c.re.FindStringIndex(text); loc != nil {
			out = append(out, Match{
				ID:          c.ID,
				Group:       c.Group,
				Category:    c.Category,
				Description: c.Description,
				Text:        text[loc[0]:loc[1]],
			})
		}
	}
	return out
}

// Any 返回 group 中是否有任一条目命中。
func (t *Table) Any(group Group, text string) bool {
	if t == nil || text == "" {
		return false
	}
	for _, c := range t.byGroup[group] {
		if c.re.MatchString(text) {
			return true
		}
	}
	return false
}

// Len 返回已编译条目总数。
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return t.size
}

// Count 返回 group 的条目数。
func (t *Table) Count(group Group) int {
	if t == nil {
		return 0
	}
	return len(t.byGroup[group])
}
