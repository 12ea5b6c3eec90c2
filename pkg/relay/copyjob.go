// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CopyRequest asks for a channel's full history to be replicated into
// another channel.
type CopyRequest struct {
	TenantID        string `json:"tenant_id"`
	SourceChannelID string `json:"source"`
	TargetChannelID string `json:"target"`
}

// CopyState is the lifecycle state of a copy job.
type CopyState string

const (
	CopyRunning   CopyState = "running"
	CopyCompleted CopyState = "completed"
	CopyFailed    CopyState = "failed"
)

// CopyJob is a bulk replication of one channel's history. Jobs cannot be
// cancelled; they run to completion or to the first failure.
type CopyJob struct {
	ID      uuid.UUID
	Request CopyRequest
	Started time.Time

	mu        sync.Mutex
	state     CopyState
	delivered int
	skipped   int
	parts     int
	err       error
	finished  time.Time
}

// CopyStatus is a point-in-time view of a copy job.
type CopyStatus struct {
	ID        uuid.UUID   `json:"id"`
	Request   CopyRequest `json:"request"`
	State     CopyState   `json:"state"`
	Delivered int         `json:"delivered"`
	Skipped   int         `json:"skipped"`
	Parts     int         `json:"parts"`
	Error     string      `json:"error,omitempty"`
	Started   time.Time   `json:"started"`
	Finished  *time.Time  `json:"finished,omitempty"`
}

// Status returns a snapshot of the job's progress.
func (j *CopyJob) Status() CopyStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	st := CopyStatus{
		ID:        j.ID,
		Request:   j.Request,
		State:     j.state,
		Delivered: j.delivered,
		Skipped:   j.skipped,
		Parts:     j.parts,
		Started:   j.Started,
	}
	if j.err != nil {
		st.Error = j.err.Error()
	}
	if !j.finished.IsZero() {
		finished := j.finished
		st.Finished = &finished
	}
	return st
}

func (j *CopyJob) record(parts int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if parts == 0 {
		j.skipped++
		return
	}
	j.delivered++
	j.parts += parts
}

func (j *CopyJob) finish(err error, now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.err = err
	j.finished = now
	if err != nil {
		j.state = CopyFailed
	} else {
		j.state = CopyCompleted
	}
}

// validateCopy checks the request synchronously so declined copies are
// reported to the caller instead of the error channel.
func (e *Engine) validateCopy(ctx context.Context, req CopyRequest) error {
	if req.SourceChannelID == req.TargetChannelID {
		return ErrSameChannel
	}
	if _, err := e.ledger.Read(req.TenantID); err != nil {
		return err
	}
	for _, channelID := range []string{req.SourceChannelID, req.TargetChannelID} {
		if err := e.requireChannel(ctx, channelID); err != nil {
			return err
		}
	}
	return nil
}

// StartCopy validates req and runs the copy in the background. The returned
// job can be polled through CopyJob.
func (e *Engine) StartCopy(ctx context.Context, req CopyRequest) (*CopyJob, error) {
	if err := e.validateCopy(ctx, req); err != nil {
		return nil, err
	}
	if !e.track() {
		return nil, ErrShuttingDown
	}
	job := e.newCopyJob(req)

	jobCtx := context.WithoutCancel(ctx)
	go func() {
		defer e.tasks.Done()
		_ = e.runCopy(jobCtx, job)
	}()
	return job, nil
}

// RunCopy validates req and runs the copy to completion in the calling
// goroutine.
func (e *Engine) RunCopy(ctx context.Context, req CopyRequest) (*CopyJob, error) {
	if err := e.validateCopy(ctx, req); err != nil {
		return nil, err
	}
	job := e.newCopyJob(req)
	return job, e.runCopy(ctx, job)
}

// CopyJob looks up a job started by this process.
func (e *Engine) CopyJob(id uuid.UUID) (*CopyJob, bool) {
	return e.jobs.Get(id)
}

func (e *Engine) newCopyJob(req CopyRequest) *CopyJob {
	job := &CopyJob{
		ID:      uuid.New(),
		Request: req,
		Started: e.clock.Now(),
		state:   CopyRunning,
	}
	e.jobs.Set(job.ID, job)
	return job
}

func (e *Engine) runCopy(ctx context.Context, job *CopyJob) error {
	req := job.Request
	log := e.log.With().
		Str("job_id", job.ID.String()).
		Str("tenant_id", req.TenantID).
		Str("source_channel_id", req.SourceChannelID).
		Str("target_channel_id", req.TargetChannelID).
		Logger()
	log.Info().Msg("Starting channel copy")

	p := &pacer{clock: e.clock, interval: e.paceDelay}
	var err error
	for msg, histErr := range e.platform.History(ctx, req.SourceChannelID) {
		if histErr != nil {
			err = fmt.Errorf("failed to read history of %s: %w", req.SourceChannelID, histErr)
			break
		}
		if msg.IsEmpty() {
			job.record(0)
			continue
		}
		var parts int
		parts, err = e.deliver(ctx, req.TenantID, msg, req.TargetChannelID, p, pathCopy)
		if err != nil {
			err = fmt.Errorf("channel copy aborted: %w", err)
			break
		}
		job.record(parts)
	}

	job.finish(err, e.clock.Now())
	st := job.Status()
	if err != nil {
		copyJobs.WithLabelValues(string(CopyFailed)).Inc()
		deliveryFailures.WithLabelValues(pathCopy).Inc()
		log.Warn().Err(err).Int("delivered", st.Delivered).Int("parts", st.Parts).Msg("Channel copy failed")
		e.reporter.Report(ctx, req.TenantID, err.Error())
		return err
	}
	copyJobs.WithLabelValues(string(CopyCompleted)).Inc()
	log.Info().
		Int("delivered", st.Delivered).
		Int("skipped", st.Skipped).
		Int("parts", st.Parts).
		Msg("Channel copy complete")
	return nil
}
