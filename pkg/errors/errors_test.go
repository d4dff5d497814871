package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelMatchesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("mark failed: %w", WithDetail(ErrEventNotFound, "id=%s", "e-1"))

	assert.True(t, Is(err, ErrEventNotFound))
	assert.False(t, Is(err, ErrNotFound))
	assert.Equal(t, 404, GetCode(err))
	assert.Equal(t, "同步事件不存在: id=e-1", GetMessage(err))
}

func TestWithCauseUnwraps(t *testing.T) {
	cause := errors.New("signature is invalid")
	err := WithCause(ErrTokenInvalid, cause)

	assert.True(t, Is(err, ErrTokenInvalid))
	assert.True(t, Is(err, cause))
	assert.Contains(t, err.Error(), "signature is invalid")
}

func TestGetCode_PlainError(t *testing.T) {
	err := errors.New("boom")
	assert.Equal(t, 500, GetCode(err))
	assert.Equal(t, "boom", GetMessage(err))
}

func TestConstructors(t *testing.T) {
	assert.Equal(t, 400, BadRequest("x").Code)

	var target *AppError
	assert.True(t, As(fmt.Errorf("load: %w", New(503, "unavailable")), &target))
	assert.Equal(t, 503, target.Code)
}
