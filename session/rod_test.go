package session

import (
	"os"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWaitExit_ReturnsOnceProcessExits(t *testing.T) {
	polls := 0
	alive := func(int) bool {
		polls++
		return polls < 3
	}

	assert.True(t, waitExit(alive, 42, time.Second, time.Millisecond))
	assert.Equal(t, 3, polls)
}

func TestWaitExit_GivesUpAfterGrace(t *testing.T) {
	start := time.Now()
	exited := waitExit(func(int) bool { return true }, 42, 20*time.Millisecond, time.Millisecond)

	assert.False(t, exited)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestWaitExit_NoProcess(t *testing.T) {
	called := false
	assert.True(t, waitExit(func(int) bool { called = true; return true }, 0, time.Second, time.Millisecond))
	assert.False(t, called)
}

func TestProcessAlive_Self(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("signal 0 is not supported on windows")
	}
	assert.True(t, processAlive(os.Getpid()))
}
