package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskWait(t *testing.T) {
	release := make(chan struct{})
	task := Go(func() (int, error) {
		<-release
		return 42, nil
	})

	select {
	case <-task.Done():
		t.Fatal("task completed before its function returned")
	default:
	}

	close(release)
	value, err := task.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, value)
}

func TestTaskError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Go(func() (string, error) { return "", boom }).Wait(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestTaskPanicBecomesError(t *testing.T) {
	_, err := Go(func() (int, error) { panic("unexpected") }).Wait(context.Background())
	assert.ErrorContains(t, err, "unexpected")
}

func TestTaskWaitHonoursContext(t *testing.T) {
	task := Go(func() (int, error) {
		time.Sleep(time.Second)
		return 1, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := task.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResolved(t *testing.T) {
	task := Resolved("done")
	<-task.Done()
	value, err := task.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "done", value)
}
