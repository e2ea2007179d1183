package worker

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// Host dispatches lifecycle signals the way a browser does for its workers:
// a worker is installed, then activated, and only then receives fetch signals.
type Host struct {
	scope *Scope
	// serializes registrations, so install and activate never overlap
	mu     sync.Mutex
	active atomic.Pointer[Worker]
}

func NewHost(scope *Scope) *Host {
	return &Host{scope: scope}
}

// Scope returns the state shared with every worker
func (h *Host) Scope() *Scope {
	return h.scope
}

// Active returns the worker receiving fetch signals, or nil
func (h *Host) Active() *Worker {
	return h.active.Load()
}

// Register installs and activates w, then routes fetch signals to it.
// When install fails the previously active worker keeps serving.
func (h *Host) Register(ctx context.Context, w *Worker) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	logrus.Infof("Installing worker %s (%d assets)", w.Version(), len(w.assets))
	installed, err := w.Install(ctx, h.scope).Wait(ctx)
	if err != nil {
		if prev := h.Active(); prev != nil {
			logrus.Warnf("Worker %s failed to install, worker %s keeps serving", w.Version(), prev.Version())
		}
		return fmt.Errorf("install of %s failed: %w", w.Version(), err)
	}
	logrus.Infof("Installed worker %s: %d assets, %s", w.Version(), installed.Assets, humanize.Bytes(uint64(installed.Bytes)))

	activated, err := w.Activate(ctx, h.scope).Wait(ctx)
	if err != nil {
		// The new bucket is complete, stale ones are left for the next activation
		logrus.Warnf("Activation of worker %s could not clean up buckets: %v", w.Version(), err)
	} else if len(activated.Deleted) > 0 || len(activated.Failed) > 0 {
		logrus.Infof("Activated worker %s: deleted %d buckets, %d failures", w.Version(), len(activated.Deleted), len(activated.Failed))
	}

	h.active.Store(w)
	logrus.Infof("Worker %s is active", w.Version())
	return nil
}

// Fetch dispatches a fetch signal to the active worker.
// Without an active worker requests go straight to the network.
func (h *Host) Fetch(ctx context.Context, req *http.Request) (FetchResult, error) {
	w := h.Active()
	if w == nil {
		resp, err := h.scope.Network.Fetch(ctx, req)
		if err != nil {
			return FetchResult{}, fmt.Errorf("network fetch of %s failed: %w", req.URL, err)
		}
		return FetchResult{Response: resp}, nil
	}
	task := w.Fetch(ctx, h.scope, req)
	result, err := task.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		go discardFetch(task)
	}
	return result, err
}

// discardFetch closes the response of a fetch nobody waits for anymore
func discardFetch(task *Task[FetchResult]) {
	<-task.Done()
	if task.err == nil && task.value.Response != nil {
		_ = task.value.Response.Body.Close()
	}
}
