package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorsIs(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"not found", NotFound("open", "a.css"), ErrNotFound, true},
		{"not found vs transport", NotFound("open", "a.css"), ErrTransport, false},
		{"timeout is transport", Timeout("open", "a.css", context.DeadlineExceeded), ErrTransport, true},
		{"timeout is timeout", Timeout("open", "a.css", nil), ErrTimeout, true},
		{"plain transport is not timeout", Transport("open", "a.css", errors.New("boom")), ErrTimeout, false},
		{"deadline becomes timeout", Transport("open", "a.css", context.DeadlineExceeded), ErrTimeout, true},
		{"wrapped with fmt", fmt.Errorf("stage: %w", Lookup("*.css", nil)), ErrLookup, true},
		{"unsupported", Unsupported("save", "a.css"), ErrUnsupported, true},
		{"workflow not found", WorkflowNotFound("css"), ErrWorkflowNotFound, true},
		{"artifact not found", ArtifactNotFound("css", "x.css"), ErrArtifactNotFound, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestWithWorkflow(t *testing.T) {
	base := NotFound("open", "a.css")
	err := WithWorkflow(fmt.Errorf("aggregate: %w", base), "css", "aggregate.css")

	// 类别保持不变
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, KindNotFound, KindOf(err))

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "css", e.Workflow)
	assert.Equal(t, "aggregate.css", e.ID)
	assert.Contains(t, err.Error(), `workflow "css"`)
	assert.Contains(t, err.Error(), `open "a.css"`)

	// 已经有上下文的错误不再重复包装
	assert.Same(t, err, WithWorkflow(err, "other", "x"))

	assert.NoError(t, WithWorkflow(nil, "css", ""))
}

func TestWithWorkflow_ForeignError(t *testing.T) {
	err := WithWorkflow(errors.New("boom"), "css", "")
	assert.Equal(t, KindUnknown, KindOf(err))
	assert.Contains(t, err.Error(), "boom")
}

func TestErrorMessage(t *testing.T) {
	err := Timeout("lastChanged", "a.css", context.DeadlineExceeded)
	assert.Equal(t, `lastChanged "a.css": transport error (timeout): context deadline exceeded`, err.Error())
	assert.True(t, IsTimeout(err))
}
