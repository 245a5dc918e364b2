package queue

import "context"

// Status is the client-facing job status enum.
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusUnknown    Status = "UNKNOWN"
)

// Terminal reports whether a job in this status can still change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// JobStatus is the resolved status for one reference ID. ErrorMessage is
// present (as null) even for healthy jobs; only FAILED fills it in.
type JobStatus struct {
	ReferenceID  string  `json:"reference_id"`
	Status       Status  `json:"status"`
	ErrorMessage *string `json:"error_message"`
}

// StatusResolver maps reference IDs to client-facing statuses. The API layer
// depends on this interface rather than on the queue backend directly, so a
// persisted status table could replace queue introspection without touching
// callers.
type StatusResolver interface {
	Resolve(ctx context.Context, referenceID string) (JobStatus, error)
	ResolveMany(ctx context.Context, referenceIDs []string) ([]JobStatus, error)
}

// Resolve looks up one job and maps its queue-native state. A reference ID
// with no job record resolves to UNKNOWN, not an error: the set of known
// IDs is defined by stored uploads, and a stored file whose job record is
// missing is a real (if unexpected) condition to surface.
func (db *DB) Resolve(ctx context.Context, referenceID string) (JobStatus, error) {
	j, err := db.Get(ctx, referenceID)
	if err == ErrNotFound {
		return JobStatus{ReferenceID: referenceID, Status: StatusUnknown}, nil
	}
	if err != nil {
		return JobStatus{}, err
	}
	return statusOf(j), nil
}

// ResolveMany resolves a batch of reference IDs in one query, preserving
// input order. Missing records resolve to UNKNOWN.
func (db *DB) ResolveMany(ctx context.Context, referenceIDs []string) ([]JobStatus, error) {
	jobs, err := db.GetMany(ctx, referenceIDs)
	if err != nil {
		return nil, err
	}

	out := make([]JobStatus, 0, len(referenceIDs))
	for _, id := range referenceIDs {
		j, ok := jobs[id]
		if !ok {
			out = append(out, JobStatus{ReferenceID: id, Status: StatusUnknown})
			continue
		}
		out = append(out, statusOf(j))
	}
	return out, nil
}

func statusOf(j *Job) JobStatus {
	s := JobStatus{ReferenceID: j.ReferenceID}
	switch j.State {
	case stateQueued:
		s.Status = StatusQueued
	case stateProcessing:
		s.Status = StatusProcessing
	case stateCompleted:
		s.Status = StatusCompleted
	case stateFailed:
		s.Status = StatusFailed
		s.ErrorMessage = j.ErrorDetail
	default:
		s.Status = StatusUnknown
	}
	return s
}
