// Package tracking implements the batch coordination core: job terminal
// transitions, batch aggregation, and the writeback trigger decision.
package tracking

import "github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/models"

// JobState is the slice of a job the reducer needs.
type JobState struct {
	CustomID         string
	Status           models.JobStatus
	RedirectCustomID string
	Companion        bool
}

// Snapshot is the full job set of a batch plus the aggregate state recorded
// before the change that triggered this reduction. The reducer always
// recomputes from the whole set, so out-of-order and concurrent terminal
// writes cannot corrupt the counts.
type Snapshot struct {
	TotalJobs      int
	PrevCompleted  int
	PrevStatus     models.BatchStatus
	HasCompletedAt bool
	Jobs           []JobState
}

// Outcome is the new aggregate plus the side-effect decision.
type Outcome struct {
	Completed int
	Failed    int
	Status    models.BatchStatus

	// JustCompleted is true on the first reduction that finds every job
	// terminal. Later reductions of the same batch never set it again
	// because HasCompletedAt is true by then.
	JustCompleted bool

	// CrossedMilestone is true when the completed count passed a multiple
	// of the milestone size since the previous reduction.
	CrossedMilestone bool
}

// Reduce recomputes batch aggregates from a job-set snapshot.
//
// Companion jobs (spawned by redirects) are excluded from the direct counts:
// they contribute only through their redirected source job, which counts as
// completed once the companion named by its redirect custom id is completed.
// This keeps completed+failed bounded by the declared total.
func Reduce(snap Snapshot, milestoneSize int) Outcome {
	byCustomID := make(map[string]models.JobStatus, len(snap.Jobs))
	for _, job := range snap.Jobs {
		byCustomID[job.CustomID] = job.Status
	}

	var completed, failed int
	for _, job := range snap.Jobs {
		if job.Companion {
			continue
		}
		switch job.Status {
		case models.JobCompleted:
			completed++
		case models.JobFailed:
			failed++
		case models.JobRedirected:
			if job.RedirectCustomID == "" {
				continue
			}
			if byCustomID[job.RedirectCustomID] == models.JobCompleted {
				completed++
			}
		}
	}

	out := Outcome{
		Completed: completed,
		Failed:    failed,
		Status:    snap.PrevStatus,
	}
	if out.Status == "" {
		out.Status = models.BatchPending
	}

	switch {
	case completed+failed >= snap.TotalJobs && snap.TotalJobs > 0:
		if failed > 0 {
			out.Status = models.BatchPartial
		} else {
			out.Status = models.BatchCompleted
		}
		if !snap.HasCompletedAt {
			out.JustCompleted = true
		}
	case completed > 0 || failed > 0:
		out.Status = models.BatchProcessing
	}

	if milestoneSize > 0 && completed > 0 {
		out.CrossedMilestone = completed/milestoneSize > snap.PrevCompleted/milestoneSize
	}

	return out
}
