// Package history records lock runs.
//
// Every lock or check run gets a [Record] with a random run ID, the input
// fingerprint, the number of locked packages and the outcome. Records are
// kept by a [Store]:
//   - [FileStore]: one JSON object per line in a file under the data dir
//   - [MongoStore]: a MongoDB collection, for shared CI history
//
// # Usage
//
//	store, err := history.NewFileStore("")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	rec := history.Start("lock", proj.Name)
//	// ... run ...
//	rec.Finish(fingerprint, len(lock.Packages), err)
//	store.Record(ctx, rec)
package history

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/matzehuels/stacklock/pkg/errors"
)

// Outcome summarizes how a run ended.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeConflict  Outcome = "conflict"
	OutcomeStale     Outcome = "stale"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// Record is one run.
type Record struct {
	ID          string        `json:"id" bson:"_id"`
	Command     string        `json:"command" bson:"command"`
	Project     string        `json:"project" bson:"project"`
	StartedAt   time.Time     `json:"started_at" bson:"started_at"`
	Duration    time.Duration `json:"duration" bson:"duration"`
	Fingerprint string        `json:"fingerprint,omitempty" bson:"fingerprint,omitempty"`
	Packages    int           `json:"packages" bson:"packages"`
	Outcome     Outcome       `json:"outcome" bson:"outcome"`
	Error       string        `json:"error,omitempty" bson:"error,omitempty"`
}

// Start begins a record for command on project.
func Start(command, project string) *Record {
	return &Record{
		ID:        uuid.NewString(),
		Command:   command,
		Project:   project,
		StartedAt: time.Now().UTC(),
	}
}

// Finish completes r with the run's result.
func (r *Record) Finish(fingerprint string, packages int, err error) {
	r.Duration = time.Since(r.StartedAt)
	r.Fingerprint = fingerprint
	r.Packages = packages
	r.Outcome = outcomeOf(err)
	if err != nil {
		r.Error = errors.UserMessage(err)
	}
}

func outcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, errors.ErrCodeResolutionConflict):
		return OutcomeConflict
	case errors.Is(err, errors.ErrCodeStaleLock):
		return OutcomeStale
	case errors.Is(err, errors.ErrCodeCancelled):
		return OutcomeCancelled
	}
	return OutcomeFailed
}

// Store keeps run records.
type Store interface {
	// Record appends r.
	Record(ctx context.Context, r *Record) error

	// List returns the most recent records first, at most limit of them
	// (limit <= 0 means all). An empty project matches every project.
	List(ctx context.Context, project string, limit int) ([]*Record, error)

	Close() error
}

// Nop discards records.
type Nop struct{}

func (Nop) Record(context.Context, *Record) error                { return nil }
func (Nop) List(context.Context, string, int) ([]*Record, error) { return nil, nil }
func (Nop) Close() error                                         { return nil }

var _ Store = Nop{}
