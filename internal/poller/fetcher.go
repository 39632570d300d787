// Package poller tracks deployment jobs: a per-job status poller and a
// per-wallet list watcher, both reading through one single-flight fetcher.
package poller

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/SaitamaCoderVN/d2d-front-end-sub000/internal/metrics"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/protocol"
)

// JobSource is the read side of the deployment backend. *backend.Client
// implements it.
type JobSource interface {
	Deployment(ctx context.Context, id string) (protocol.DeploymentJob, error)
	DeploymentLogs(ctx context.Context, id string) ([]protocol.LogFragment, error)
	DeploymentsByUser(ctx context.Context, wallet string) ([]protocol.DeploymentJob, error)
}

// Fetcher collapses concurrent requests for the same key into one backend
// call. Keys are per job id (or wallet), so independent jobs never wait on
// each other.
type Fetcher struct {
	src   JobSource
	group singleflight.Group
}

func NewFetcher(src JobSource) *Fetcher {
	return &Fetcher{src: src}
}

func (f *Fetcher) Job(ctx context.Context, id string) (protocol.DeploymentJob, error) {
	v, err, _ := f.group.Do("job:"+id, func() (any, error) {
		return f.src.Deployment(ctx, id)
	})
	observe("status", err)
	if err != nil {
		return protocol.DeploymentJob{}, err
	}
	return v.(protocol.DeploymentJob), nil
}

func (f *Fetcher) Logs(ctx context.Context, id string) ([]protocol.LogFragment, error) {
	v, err, _ := f.group.Do("logs:"+id, func() (any, error) {
		return f.src.DeploymentLogs(ctx, id)
	})
	observe("logs", err)
	if err != nil {
		return nil, err
	}
	return v.([]protocol.LogFragment), nil
}

func (f *Fetcher) JobsByUser(ctx context.Context, wallet string) ([]protocol.DeploymentJob, error) {
	v, err, _ := f.group.Do("user:"+wallet, func() (any, error) {
		return f.src.DeploymentsByUser(ctx, wallet)
	})
	observe("list", err)
	if err != nil {
		return nil, err
	}
	return v.([]protocol.DeploymentJob), nil
}

func observe(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.JobPollsTotal.WithLabelValues(kind, result).Inc()
}
