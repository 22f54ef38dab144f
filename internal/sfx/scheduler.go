package sfx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wildjames/BalaamBot/internal/player"
)

// ErrNoJob is returned when a job ID does not match a running job.
var ErrNoJob = errors.New("sfx: no such job")

// Mixer is the slice of the session mixer the scheduler needs.
type Mixer interface {
	EnqueueSfx(name string, samples []int16, beforePlay, afterPlay func()) uuid.UUID
}

// Mixers resolves a session to its mixer.
type Mixers interface {
	Mixer(sessionID string) Mixer
}

// RegistryMixers adapts a [player.Registry] to [Mixers].
type RegistryMixers struct {
	Registry *player.Registry
}

// Mixer returns the session's mixer, creating it on first use.
func (r RegistryMixers) Mixer(sessionID string) Mixer {
	return r.Registry.Get(sessionID)
}

var _ Mixers = RegistryMixers{}

// Job describes one repeating sound-effect loop.
type Job struct {
	ID        uuid.UUID
	SessionID string
	Name      string

	// The pause before each play is drawn uniformly from
	// [MinInterval, MaxInterval].
	MinInterval time.Duration
	MaxInterval time.Duration
}

type runningJob struct {
	Job
	cancel context.CancelFunc
}

// Scheduler runs sound-effect jobs. Each job loops until removed: wait a
// random interval, enqueue the effect into the session's mixer, wait for it
// to finish playing, repeat. Effects never overlap with themselves but mix
// freely over music and other effects.
type Scheduler struct {
	mixers  Mixers
	library *Library

	mu   sync.Mutex
	jobs map[uuid.UUID]*runningJob
	wg   sync.WaitGroup
}

// NewScheduler creates a Scheduler playing effects from library into mixers.
func NewScheduler(mixers Mixers, library *Library) *Scheduler {
	return &Scheduler{
		mixers:  mixers,
		library: library,
		jobs:    make(map[uuid.UUID]*runningJob),
	}
}

// Add starts a new effect loop for the session and returns its job ID. The
// effect is decoded up front so an unknown or broken effect fails here, not
// mid-loop.
func (s *Scheduler) Add(ctx context.Context, sessionID, name string, minInterval, maxInterval time.Duration) (uuid.UUID, error) {
	if minInterval < 0 || maxInterval < minInterval {
		return uuid.Nil, fmt.Errorf("sfx: invalid interval range [%s, %s]", minInterval, maxInterval)
	}
	samples, err := s.library.Load(ctx, name)
	if err != nil {
		return uuid.Nil, err
	}

	jctx, cancel := context.WithCancel(context.Background())
	j := &runningJob{
		Job: Job{
			ID:          uuid.New(),
			SessionID:   sessionID,
			Name:        name,
			MinInterval: minInterval,
			MaxInterval: maxInterval,
		},
		cancel: cancel,
	}

	s.mu.Lock()
	s.jobs[j.ID] = j
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(jctx, j.Job, samples)

	slog.Info("sfx: job added",
		"job", j.ID, "session", sessionID, "effect", name,
		"min_interval", minInterval, "max_interval", maxInterval)
	return j.ID, nil
}

// Remove stops the job with the given ID. An effect already in the mixer
// plays out; no further plays are scheduled.
func (s *Scheduler) Remove(id uuid.UUID) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if ok {
		delete(s.jobs, id)
	}
	s.mu.Unlock()

	if !ok {
		return ErrNoJob
	}
	j.cancel()
	slog.Info("sfx: job removed", "job", id, "session", j.SessionID, "effect", j.Name)
	return nil
}

// Jobs returns the running jobs for a session.
func (s *Scheduler) Jobs(sessionID string) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobs []Job
	for _, j := range s.jobs {
		if j.SessionID == sessionID {
			jobs = append(jobs, j.Job)
		}
	}
	return jobs
}

// StopSession stops every job for the session. Used on disconnect.
func (s *Scheduler) StopSession(sessionID string) {
	s.mu.Lock()
	var cancelled []*runningJob
	for id, j := range s.jobs {
		if j.SessionID == sessionID {
			delete(s.jobs, id)
			cancelled = append(cancelled, j)
		}
	}
	s.mu.Unlock()

	for _, j := range cancelled {
		j.cancel()
	}
}

// Close stops all jobs and waits for their loops to exit.
func (s *Scheduler) Close() {
	s.mu.Lock()
	for id, j := range s.jobs {
		delete(s.jobs, id)
		j.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// run is one job's loop. Waiting for the previous play keeps an effect from
// stacking on itself; if the mixer is cleared underneath us the completion
// hook never fires and only cancellation unblocks the wait.
func (s *Scheduler) run(ctx context.Context, j Job, samples []int16) {
	defer s.wg.Done()

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		timer.Reset(s.interval(j))
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		done := make(chan struct{})
		s.mixers.Mixer(j.SessionID).EnqueueSfx(j.Name, samples, nil, func() { close(done) })

		select {
		case <-ctx.Done():
			return
		case <-done:
		}
	}
}

// interval draws the next pause from the job's range.
func (s *Scheduler) interval(j Job) time.Duration {
	if j.MaxInterval <= j.MinInterval {
		return j.MinInterval
	}
	return j.MinInterval + rand.N(j.MaxInterval-j.MinInterval)
}
