package scope

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedAction 动作缺少必填字段或字段不合法；未进入任何校验层。
var ErrMalformedAction = errors.New("scope: malformed action")

// FieldError 单个字段的校验失败。
type FieldError struct {
	Field string
	Rule  string
	Param string
}

func (f FieldError) String() string {
	if f.Param != "" {
		return fmt.Sprintf("%s: %s=%s", f.Field, f.Rule, f.Param)
	}
	return fmt.Sprintf("%s: %s", f.Field, f.Rule)
}

// MalformedActionError 携带全部失败字段。
type MalformedActionError struct {
	ActionID string
	Fields   []FieldError
}

func (e *MalformedActionError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.String()
	}
	return fmt.Sprintf("malformed action %q: %s", e.ActionID, strings.Join(parts, "; "))
}

func (e *MalformedActionError) Unwrap() error { return ErrMalformedAction }
