package cron

import (
	"context"
	"fmt"
	"strings"
)

// Job is one maintenance task. Name doubles as the lock suffix and metric
// label, so it must be unique within a registry.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry keeps jobs in registration order.
type Registry struct {
	order []Job
	named map[string]Job
}

func NewRegistry(jobs ...Job) (*Registry, error) {
	r := &Registry{named: make(map[string]Job, len(jobs))}
	for _, job := range jobs {
		if err := r.Register(job); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(job Job) error {
	if job == nil {
		return fmt.Errorf("cron: nil job")
	}
	name := job.Name()
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("cron: job name is required")
	}
	if _, dup := r.named[name]; dup {
		return fmt.Errorf("cron: job %q registered twice", name)
	}
	r.named[name] = job
	r.order = append(r.order, job)
	return nil
}

// Jobs returns a copy of the registered jobs.
func (r *Registry) Jobs() []Job {
	return append([]Job(nil), r.order...)
}

// Only narrows the registry to the named jobs, keeping registration order.
// An empty list returns r unchanged.
func (r *Registry) Only(names ...string) (*Registry, error) {
	if len(names) == 0 {
		return r, nil
	}
	want := make(map[string]bool, len(names))
	for _, name := range names {
		if _, ok := r.named[name]; !ok {
			return nil, fmt.Errorf("cron: unknown job %q", name)
		}
		want[name] = true
	}
	subset := &Registry{named: make(map[string]Job, len(want))}
	for _, job := range r.order {
		if want[job.Name()] {
			subset.named[job.Name()] = job
			subset.order = append(subset.order, job)
		}
	}
	return subset, nil
}
