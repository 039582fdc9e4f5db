// Package schedule orders pending file jobs for dispatch into the shared
// worker pool. The produced order is a submission hint only: once dispatched,
// chunk tasks from different files interleave freely.
package schedule

import (
	"fmt"
	"sort"

	"github.com/avolkov/cryptoflow/internal/profile"
)

// Policy selects the dispatch ordering strategy.
type Policy string

const (
	// PolicyFIFO dispatches jobs in submission order.
	PolicyFIFO Policy = "fifo"
	// PolicyPriority dispatches cheapest jobs first so small files drain
	// quickly while large files stream chunks in the background.
	PolicyPriority Policy = "priority"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyFIFO, PolicyPriority:
		return Policy(s), nil
	default:
		return "", fmt.Errorf("unknown scheduling policy %q", s)
	}
}

// Job is the scheduling view of a pending file.
type Job struct {
	ID   string
	Size int64
	Cost profile.Cost
}

// Entry is a job with its dispatch rank.
type Entry struct {
	Job  Job
	Rank int
}

// Plan orders jobs according to the policy. Ties under the priority policy
// are broken by stable submission order.
func Plan(jobs []Job, policy Policy) []Entry {
	ordered := make([]Job, len(jobs))
	copy(ordered, jobs)

	if policy == PolicyPriority {
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].Cost.Less(ordered[j].Cost)
		})
	}

	entries := make([]Entry, len(ordered))
	for i, job := range ordered {
		entries[i] = Entry{Job: job, Rank: i}
	}
	return entries
}
