package cache

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
)

// Janitor prunes expired document cache entries on a cron schedule so
// long-running deployments do not accumulate stale processed documents
// between lookups.
type Janitor struct {
	docs     *DocumentCache
	answers  *AnswerCache
	schedule *cronexpr.Expression
	logger   *log.Logger
}

func NewJanitor(docs *DocumentCache, answers *AnswerCache, schedule string, logger *log.Logger) (*Janitor, error) {
	expr, err := cronexpr.Parse(schedule)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[JANITOR] ", log.LstdFlags)
	}
	return &Janitor{docs: docs, answers: answers, schedule: expr, logger: logger}, nil
}

// Run blocks until ctx is cancelled, sweeping at each scheduled tick.
func (j *Janitor) Run(ctx context.Context) {
	for {
		next := j.schedule.Next(time.Now())
		if next.IsZero() {
			j.logger.Printf("schedule has no future runs, stopping")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}
		j.sweep()
	}
}

func (j *Janitor) sweep() {
	removed := j.docs.PruneExpired()
	if removed > 0 {
		j.logger.Printf("pruned %d expired documents", removed)
	}
	if j.answers != nil {
		j.answers.Flush()
	}
}
