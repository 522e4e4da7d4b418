package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// SuccessPolicy decides whether a fanned-out stage succeeded given the
// per-repo outcomes, grounded on the teacher's config.SuccessPolicy /
// aggregateStatus (pkg/queue/executor.go).
type SuccessPolicy int

const (
	// PolicyAll requires every repository to succeed.
	PolicyAll SuccessPolicy = iota
	// PolicyAny succeeds if at least one repository succeeds.
	PolicyAny
)

// RepoResult is the outcome of running a per-repo function during fan-out.
type RepoResult struct {
	RepoName string
	Err      error
	Value    any
}

// FanOut runs fn once per repo concurrently, waits for all goroutines, and
// returns results in the original repo order — the same
// goroutine+WaitGroup+channel+collect-and-sort-by-index shape as the
// teacher's executeStage (pkg/queue/executor.go): "Launch goroutines" →
// "Wait for ALL" → "Collect and sort by original index".
func FanOut(ctx context.Context, repoNames []string, fn func(ctx context.Context, repoName string, index int) (any, error)) []RepoResult {
	type indexed struct {
		index  int
		result RepoResult
	}

	ch := make(chan indexed, len(repoNames))
	var wg sync.WaitGroup

	for i, name := range repoNames {
		wg.Add(1)
		go func(idx int, repoName string) {
			defer wg.Done()
			value, err := fn(ctx, repoName, idx)
			ch <- indexed{index: idx, result: RepoResult{RepoName: repoName, Err: err, Value: value}}
		}(i, name)
	}

	wg.Wait()
	close(ch)

	collected := make([]indexed, 0, len(repoNames))
	for r := range ch {
		collected = append(collected, r)
	}
	sort.Slice(collected, func(i, j int) bool { return collected[i].index < collected[j].index })

	out := make([]RepoResult, len(collected))
	for i, c := range collected {
		out[i] = c.result
	}
	return out
}

// Aggregate applies a success policy to fan-out results, grounded on the
// teacher's aggregateStatus/aggregateError.
func Aggregate(results []RepoResult, policy SuccessPolicy) error {
	var failures []RepoResult
	for _, r := range results {
		if r.Err != nil {
			failures = append(failures, r)
		}
	}

	switch policy {
	case PolicyAny:
		if len(failures) == len(results) && len(results) > 0 {
			return fmt.Errorf("all %d repositories failed: %w", len(results), failures[0].Err)
		}
		return nil
	default: // PolicyAll
		if len(failures) > 0 {
			return fmt.Errorf("%d/%d repositories failed, first error on %s: %w",
				len(failures), len(results), failures[0].RepoName, failures[0].Err)
		}
		return nil
	}
}
