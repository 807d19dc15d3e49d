// Package ownership 解析审批人：角色与各渠道联系人的映射，以及按动作类型、风险等级匹配的审批规则。
package ownership

import (
	"context"
	"sort"
	"sync"

	"xiezhi/internal/models"
)

// Approver 审批人条目。Contacts 为 channel -> 投递地址（如飞书 open_id、webhook 中的 @ 名称）。
type Approver struct {
	ID       string              `json:"id" yaml:"id" validate:"required"`
	Name     string              `json:"name,omitempty" yaml:"name,omitempty"`
	Role     models.ApproverRole `json:"role" yaml:"role" validate:"required"`
	Contacts map[string]string   `json:"contacts,omitempty" yaml:"contacts,omitempty"`
}

// Directory 审批人目录：通知解析收件人、审批校验审批人角色。
type Directory interface {
	// RoleOf 按审批人 ID 或任一渠道地址返回角色；未登记返回 false。
	RoleOf(ctx context.Context, approverID string) (models.ApproverRole, bool)
	// Recipients 返回 channel 上有资格审批 role 的全部地址；无人登记时返回该渠道默认地址。
	Recipients(ctx context.Context, channel string, role models.ApproverRole) []string
	// ContactOf 返回 id 在 channel 上的地址（用于结果通知发起人）。
	ContactOf(ctx context.Context, channel, id string) (string, bool)
}

// StaticDirectory 从静态列表构建的目录；channel 无匹配时回退 defaults[channel]，再回退 defaults["*"]。
type StaticDirectory struct {
	mu        sync.RWMutex
	byID      map[string]Approver
	byContact map[string]string // address -> approver id
	ordered   []Approver        // 按角色等级升序、同级按 ID
	defaults  map[string][]string
}

// NewStaticDirectory 复制 approvers 与 defaults 后建立索引；后出现的同 ID 条目覆盖前者。
func NewStaticDirectory(approvers []Approver, defaults map[string][]string) *StaticDirectory {
	d := &StaticDirectory{
		byID:      make(map[string]Approver, len(approvers)),
		byContact: make(map[string]string),
		defaults:  make(map[string][]string, len(defaults)),
	}
	for _, a := range approvers {
		if a.ID == "" {
			continue
		}
		c := a
		c.Contacts = make(map[string]string, len(a.Contacts))
		for ch, addr := range a.Contacts {
			c.Contacts[ch] = addr
		}
		d.byID[c.ID] = c
	}
	for _, a := range d.byID {
		d.ordered = append(d.ordered, a)
		for _, addr := range a.Contacts {
			if addr != "" {
				d.byContact[addr] = a.ID
			}
		}
	}
	sort.Slice(d.ordered, func(i, j int) bool {
		ri, rj := d.ordered[i].Role.Rank(), d.ordered[j].Role.Rank()
		if ri != rj {
			return ri < rj
		}
		return d.ordered[i].ID < d.ordered[j].ID
	})
	for ch, ids := range defaults {
		d.defaults[ch] = append([]string(nil), ids...)
	}
	return d
}

func (d *StaticDirectory) RoleOf(ctx context.Context, approverID string) (models.ApproverRole, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if a, ok := d.byID[approverID]; ok {
		return a.Role, true
	}
	if id, ok := d.byContact[approverID]; ok {
		return d.byID[id].Role, true
	}
	return models.RoleNone, false
}

func (d *StaticDirectory) Recipients(ctx context.Context, channel string, role models.ApproverRole) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []string
	for _, a := range d.ordered {
		if !a.Role.Satisfies(role) {
			continue
		}
		if addr := a.Contacts[channel]; addr != "" {
			out = append(out, addr)
		}
	}
	if len(out) > 0 {
		return out
	}
	if ids, ok := d.defaults[channel]; ok && len(ids) > 0 {
		return append([]string(nil), ids...)
	}
	if ids, ok := d.defaults["*"]; ok && len(ids) > 0 {
		return append([]string(nil), ids...)
	}
	return nil
}

func (d *StaticDirectory) ContactOf(ctx context.Context, channel, id string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.byID[id]
	if !ok {
		return "", false
	}
	addr := a.Contacts[channel]
	return addr, addr != ""
}

// Approvers 返回按角色排序的审批人副本。
func (d *StaticDirectory) Approvers() []Approver {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Approver(nil), d.ordered...)
}
