// Package events announces finished sweeps to downstream consumers.
package events

import (
	"context"
	"time"

	"paysweep/internal/sweep"
)

const TypeSweepCompleted = "sweep.completed"

// SweepCompleted is published once per finished run, aborted runs included.
type SweepCompleted struct {
	Type             string          `json:"type"`
	RunID            string          `json:"runId"`
	Chain            string          `json:"chain,omitempty"`
	StartedAt        time.Time       `json:"startedAt"`
	FinishedAt       time.Time       `json:"finishedAt"`
	ProcessedRecords int             `json:"processedRecords"`
	ExecutedPayments int             `json:"executedPayments"`
	Executed         []sweep.Outcome `json:"executed"`
	Error            string          `json:"error,omitempty"`
}

// NewSweepCompleted keeps only the executed outcomes; skipped records are
// available from the run journal.
func NewSweepCompleted(res sweep.Result, runErr error) SweepCompleted {
	ev := SweepCompleted{
		Type:             TypeSweepCompleted,
		RunID:            res.RunID,
		Chain:            res.Chain,
		StartedAt:        res.StartedAt,
		FinishedAt:       res.FinishedAt,
		ProcessedRecords: res.ProcessedRecords,
		ExecutedPayments: res.ExecutedPayments,
		Executed:         []sweep.Outcome{},
	}
	for _, o := range res.Outcomes {
		if o.Executed {
			ev.Executed = append(ev.Executed, o)
		}
	}
	if runErr != nil {
		ev.Error = runErr.Error()
	}
	return ev
}

type Publisher interface {
	Publish(ctx context.Context, ev SweepCompleted) error
	Close() error
}

// Notifier adapts a Publisher to the scheduler's observer hook.
type Notifier struct {
	Publisher Publisher
}

func (n Notifier) Observe(ctx context.Context, res sweep.Result, runErr error) error {
	return n.Publisher.Publish(ctx, NewSweepCompleted(res, runErr))
}

// NopPublisher drops events. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, SweepCompleted) error { return nil }
func (NopPublisher) Close() error                                  { return nil }
