package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePosition(t *testing.T) {
	t.Parallel()

	assert.Equal(t, StartFEN, NormalizePosition(StartPosition))

	explicit := "8/8/8/8/8/8/8/K6k w - - 0 1"
	assert.Equal(t, explicit, NormalizePosition(explicit))
}

func TestResultKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "result:abc", ResultKey("result:", "abc"))
}

func TestJobFailedErrorMatchesSentinel(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("dispatch: %w", &JobFailedError{JobID: "j1", Reason: "boom"})
	assert.True(t, errors.Is(err, ErrJobFailed))

	var jfe *JobFailedError
	assert.True(t, errors.As(err, &jfe))
	assert.Equal(t, "boom", jfe.Reason)
}
