package models

import "time"

// LayerName 校验层名称。
type LayerName string

const (
	LayerNone          LayerName = ""
	LayerStructural    LayerName = "structural"
	LayerDeterministic LayerName = "deterministic"
	LayerNetwork       LayerName = "network"
)

// LayerResult 单层校验结果。
type LayerResult struct {
	Layer      LayerName     `json:"layer"`
	Valid      bool          `json:"valid"`
	Skipped    bool          `json:"skipped,omitempty"`
	Violations []string      `json:"violations,omitempty"`
	Warnings   []string      `json:"warnings,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
}

// ValidationResult 三层校验的整体结论。
// Valid 为 true 当且仅当每个 LayerResult.Valid 为 true；BlockedAt 仅在 Valid 为 false 时设置，指向第一个失败层。
type ValidationResult struct {
	ActionID      string        `json:"action_id"`
	Valid         bool          `json:"valid"`
	BlockedAt     LayerName     `json:"blocked_at,omitempty"`
	Layers        []LayerResult `json:"layers"`
	ValidatedAt   time.Time     `json:"validated_at"`
	TotalDuration time.Duration `json:"total_duration_ns"`
}

// Violations 按层顺序汇总所有违规项。
func (r *ValidationResult) Violations() []string {
	var out []string
	for _, l := range r.Layers {
		out = append(out, l.Violations...)
	}
	return out
}

// Warnings 按层顺序汇总所有告警。
func (r *ValidationResult) Warnings() []string {
	var out []string
	for _, l := range r.Layers {
		out = append(out, l.Warnings...)
	}
	return out
}

// Layer 返回指定层结果；该层未运行时返回 nil。
func (r *ValidationResult) Layer(name LayerName) *LayerResult {
	for i := range r.Layers {
		if r.Layers[i].Layer == name {
			return &r.Layers[i]
		}
	}
	return nil
}

// Consistent 检查 Valid/BlockedAt 与各层结果之间的不变式。
func (r *ValidationResult) Consistent() bool {
	all := true
	first := LayerNone
	for _, l := range r.Layers {
		if !l.Valid {
			all = false
			if first == LayerNone {
				first = l.Layer
			}
		}
	}
	if r.Valid != all {
		return false
	}
	if r.Valid {
		return r.BlockedAt == LayerNone
	}
	return r.BlockedAt == first
}
