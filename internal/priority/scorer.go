// Package priority implements the pure scoring function the scheduler
// sorts candidate tasks by. Nothing here touches Storage or the clock
// except through the now parameter, so it is trivially unit-testable.
package priority

import (
	"sort"
	"time"

	"github.com/nexusflow/taskqueue/internal/task"
)

// AgeWindow bounds the age term: a task created this long ago or longer
// scores the maximum age contribution.
const AgeWindow = 24 * time.Hour

// Score is the decomposed result of scoring a single task, useful for
// debugging and for the urgent() / age_weights() helpers below.
type Score struct {
	Base     float64
	Age      float64
	Deadline float64
	Weight   float64
	Final    float64
}

// Weights are the coefficients from spec §4.3:
//
//	final = base + 0.1*age + 0.3*deadline + 0.2*weight
const (
	ageCoefficient      = 0.1
	deadlineCoefficient = 0.3
	weightCoefficient   = 0.2
)

// Compute returns the full score breakdown for t as of now.
func Compute(t *task.Task, now time.Time) Score {
	base := float64(t.Priority)

	age := now.Sub(t.Created).Hours() / AgeWindow.Hours()
	age = clamp01(age)

	deadline := 0.0
	if t.Deadline != nil {
		total := t.Deadline.Sub(t.Created)
		if total > 0 {
			left := t.Deadline.Sub(now)
			deadline = clamp01(1 - left.Seconds()/total.Seconds())
		} else {
			// Deadline already at or before creation: maximal pressure.
			deadline = 1
		}
	}

	weight := t.WeightOrDefault()

	final := base + ageCoefficient*age + deadlineCoefficient*deadline + weightCoefficient*weight

	return Score{Base: base, Age: age, Deadline: deadline, Weight: weight, Final: final}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Sort orders tasks by descending final score, breaking ties by ascending
// Created time, per spec §4.3's sort key.
func Sort(tasks []*task.Task, now time.Time) {
	scores := make(map[string]Score, len(tasks))
	for _, t := range tasks {
		scores[t.ID] = Compute(t, now)
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		si, sj := scores[tasks[i].ID], scores[tasks[j].ID]
		if si.Final != sj.Final {
			return si.Final > sj.Final
		}
		return tasks[i].Created.Before(tasks[j].Created)
	})
}

// UrgentThreshold is the deadline-component cutoff beyond which a task is
// considered urgent even if its declared priority is not.
const UrgentThreshold = 0.8

// Urgent returns the subset of tasks that are priority==urgent OR whose
// deadline component exceeds UrgentThreshold.
func Urgent(tasks []*task.Task, now time.Time) []*task.Task {
	var out []*task.Task
	for _, t := range tasks {
		if t.Priority == task.PriorityUrgent {
			out = append(out, t)
			continue
		}
		if Compute(t, now).Deadline > UrgentThreshold {
			out = append(out, t)
		}
	}
	return out
}

// AgeWeights increases Weight by +0.1 (capped at 1) for any task older
// than half the age window, biasing it toward urgency on the next score.
// Called periodically by the scheduler to prevent starvation (§4.3).
// Mutates the tasks in place and returns the ones it touched.
func AgeWeights(tasks []*task.Task, now time.Time) []*task.Task {
	var touched []*task.Task
	halfWindow := AgeWindow / 2
	for _, t := range tasks {
		if now.Sub(t.Created) <= halfWindow {
			continue
		}
		w := t.WeightOrDefault() + 0.1
		if w > 1 {
			w = 1
		}
		t.Weight = &w
		touched = append(touched, t)
	}
	return touched
}
