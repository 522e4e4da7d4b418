package executor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFanOut_RunsOncePerRepoConcurrently(t *testing.T) {
	var inFlight, maxInFlight int32
	repos := []string{"a", "b", "c", "d"}

	results := FanOut(context.Background(), repos, func(ctx context.Context, repoName string, index int) (any, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			cur := atomic.LoadInt32(&maxInFlight)
			if n <= cur || atomic.CompareAndSwapInt32(&maxInFlight, cur, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return repoName, nil
	})

	assert.Len(t, results, 4)
	assert.Greater(t, atomic.LoadInt32(&maxInFlight), int32(1), "fan-out should run repos concurrently")
}

func TestFanOut_PreservesOriginalOrderRegardlessOfCompletionOrder(t *testing.T) {
	repos := []string{"slow", "fast", "medium"}
	delays := map[string]time.Duration{"slow": 30 * time.Millisecond, "fast": 0, "medium": 10 * time.Millisecond}

	results := FanOut(context.Background(), repos, func(ctx context.Context, repoName string, index int) (any, error) {
		time.Sleep(delays[repoName])
		return index, nil
	})

	for i, r := range results {
		assert.Equal(t, repos[i], r.RepoName)
		assert.Equal(t, i, r.Value)
	}
}

func TestFanOut_CollectsPerRepoErrorsIndependently(t *testing.T) {
	boom := errors.New("boom")
	results := FanOut(context.Background(), []string{"ok", "bad"}, func(ctx context.Context, repoName string, index int) (any, error) {
		if repoName == "bad" {
			return nil, boom
		}
		return "fine", nil
	})

	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, boom)
}

func TestAggregate_PolicyAllFailsOnAnySingleFailure(t *testing.T) {
	results := []RepoResult{
		{RepoName: "a"},
		{RepoName: "b", Err: fmt.Errorf("broke")},
	}
	err := Aggregate(results, PolicyAll)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "1/2")
}

func TestAggregate_PolicyAllSucceedsWhenAllPass(t *testing.T) {
	results := []RepoResult{{RepoName: "a"}, {RepoName: "b"}}
	assert.NoError(t, Aggregate(results, PolicyAll))
}

func TestAggregate_PolicyAnySucceedsIfOneSucceeds(t *testing.T) {
	results := []RepoResult{
		{RepoName: "a", Err: fmt.Errorf("broke")},
		{RepoName: "b"},
	}
	assert.NoError(t, Aggregate(results, PolicyAny))
}

func TestAggregate_PolicyAnyFailsOnlyWhenAllFail(t *testing.T) {
	results := []RepoResult{
		{RepoName: "a", Err: fmt.Errorf("broke a")},
		{RepoName: "b", Err: fmt.Errorf("broke b")},
	}
	err := Aggregate(results, PolicyAny)
	assert.Error(t, err)
}

func TestAggregate_EmptyResultsNeverFail(t *testing.T) {
	assert.NoError(t, Aggregate(nil, PolicyAll))
	assert.NoError(t, Aggregate(nil, PolicyAny))
}
