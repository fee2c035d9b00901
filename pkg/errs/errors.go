// Package errs 定义了 nutflow 的错误分类
//
// 所有 Provider / Engine / Orchestrator 返回的错误都可以用 errors.Is 匹配到
// 下面的哨兵错误，或者用 errors.As 取出 *Error 查看具体的标识符和工作流。
package errs

import (
	"context"
	"errors"
	"strconv"
	"strings"
)

// Kind 错误类别
type Kind uint8

const (
	KindUnknown Kind = iota
	KindLookup
	KindNotFound
	KindTransport
	KindUnsupported
	KindIncompatibleTypes
	KindConfiguration
	KindWorkflowNotFound
	KindArtifactNotFound
)

func (k Kind) String() string {
	switch k {
	case KindLookup:
		return "lookup failed"
	case KindNotFound:
		return "not found"
	case KindTransport:
		return "transport error"
	case KindUnsupported:
		return "unsupported operation"
	case KindIncompatibleTypes:
		return "incompatible types"
	case KindConfiguration:
		return "configuration error"
	case KindWorkflowNotFound:
		return "workflow not found"
	case KindArtifactNotFound:
		return "artifact not found"
	default:
		return "unknown error"
	}
}

// Error 是结构化错误：类别 + 操作 + 出错的标识符 + 工作流
type Error struct {
	Kind     Kind
	Op       string // 触发错误的操作，例如 "list" / "open"
	ID       string // 出错的标识符 (路径、Heap ID、Nut 名称…)
	Workflow string
	Timeout  bool // 仅对 KindTransport 有意义
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Workflow != "" {
		b.WriteString("workflow ")
		b.WriteString(strconv.Quote(e.Workflow))
		b.WriteString(": ")
	}
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(" ")
	}
	if e.ID != "" {
		b.WriteString(strconv.Quote(e.ID))
		b.WriteString(": ")
	}
	// 内层已经是同类别的 *Error 时不重复打印类别
	var inner *Error
	if errors.As(e.Err, &inner) && inner.Kind == e.Kind {
		b.WriteString(e.Err.Error())
		return b.String()
	}
	b.WriteString(e.Kind.String())
	if e.Timeout {
		b.WriteString(" (timeout)")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is 按类别匹配
// ErrTimeout 只匹配超时的传输错误；ErrTransport 匹配所有传输错误
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return !t.Timeout || e.Timeout
}

// 哨兵错误，配合 errors.Is 使用
var (
	ErrLookup            = &Error{Kind: KindLookup}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrTransport         = &Error{Kind: KindTransport}
	ErrTimeout           = &Error{Kind: KindTransport, Timeout: true}
	ErrUnsupported       = &Error{Kind: KindUnsupported}
	ErrIncompatibleTypes = &Error{Kind: KindIncompatibleTypes}
	ErrConfiguration     = &Error{Kind: KindConfiguration}
	ErrWorkflowNotFound  = &Error{Kind: KindWorkflowNotFound}
	ErrArtifactNotFound  = &Error{Kind: KindArtifactNotFound}
)

func Lookup(pattern string, err error) error {
	return &Error{Kind: KindLookup, Op: "list", ID: pattern, Err: err}
}

func NotFound(op, id string) error {
	return &Error{Kind: KindNotFound, Op: op, ID: id}
}

// Transport 包装 I/O 错误
// 如果底层是 context.DeadlineExceeded，自动标记为超时
func Transport(op, id string, err error) error {
	return &Error{
		Kind:    KindTransport,
		Op:      op,
		ID:      id,
		Timeout: errors.Is(err, context.DeadlineExceeded),
		Err:     err,
	}
}

func Timeout(op, id string, err error) error {
	return &Error{Kind: KindTransport, Op: op, ID: id, Timeout: true, Err: err}
}

func Unsupported(op, id string) error {
	return &Error{Kind: KindUnsupported, Op: op, ID: id}
}

func IncompatibleTypes(id string, err error) error {
	return &Error{Kind: KindIncompatibleTypes, Op: "aggregate", ID: id, Err: err}
}

func Configuration(id string, err error) error {
	return &Error{Kind: KindConfiguration, ID: id, Err: err}
}

func WorkflowNotFound(id string) error {
	return &Error{Kind: KindWorkflowNotFound, ID: id, Workflow: id}
}

func ArtifactNotFound(workflow, name string) error {
	return &Error{Kind: KindArtifactNotFound, ID: name, Workflow: workflow}
}

// KindOf 取出错误链上第一个 *Error 的类别
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsTimeout 判断错误链里是否有超时
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// WithWorkflow 给错误补上工作流上下文，供调用方诊断
// 类别保持不变，原始错误链保留在 Err 里
func WithWorkflow(err error, workflow, name string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if !errors.As(err, &e) {
		return &Error{Kind: KindUnknown, ID: name, Workflow: workflow, Err: err}
	}
	if e.Workflow != "" {
		// 已经带了上下文，不再重复包装
		return err
	}
	return &Error{
		Kind:     e.Kind,
		ID:       name,
		Workflow: workflow,
		Timeout:  e.Timeout,
		Err:      err,
	}
}
