package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("send: %w", &Error{Code: CodeNotMember, Op: "post", ID: "g1"})

	assert.True(t, errors.Is(err, ErrNotMember))
	assert.False(t, errors.Is(err, ErrPostFailed))
	assert.Equal(t, CodeNotMember, CodeOf(err))
}

func TestError_Message(t *testing.T) {
	err := &Error{Code: CodeStorageUnavailable, Op: "get", Kind: KindEvent, Err: errors.New("disk gone")}
	assert.Equal(t, "get: STORAGE_UNAVAILABLE (events): disk gone", err.Error())
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := StorageError("put", KindPrayer, cause)
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&Error{Code: CodePostFailed}))
	assert.True(t, IsRetryable(&Error{Code: CodeProjectionFailed}))
	assert.False(t, IsRetryable(&Error{Code: CodeNotMember}))
	assert.False(t, IsRetryable(errors.New("plain")))
}
