// Package worker implements spec.md §5's concurrency model: at most one
// install operation in flight at a time, a bounded queue of status
// updates consumers can drain without blocking the operation itself, and
// a cooperative cancellation flag polled between (not during) steps.
// Modelled after the teacher's SnappyLock/StartPrivileged/StopPrivileged
// pair in helpers/helpers.go, which serialises privileged operations with
// a single on-disk lock file; this package does the equivalent in-process
// with a mutex, since slotupdate runs the whole operation in one process
// rather than forking a privileged helper per call.
package worker

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/mvo5/slotupdate/errs"
)

// Update is one progress/status message emitted during an operation.
type Update struct {
	Step    string
	Percent int
	Err     error
	Done    bool
}

// Worker serialises install operations and exposes cooperative
// cancellation.
type Worker struct {
	mu      sync.Mutex
	running int32
	cancel  int32
}

// New returns an idle Worker.
func New() *Worker { return &Worker{} }

// Busy reports whether an operation is currently running.
func (w *Worker) Busy() bool { return atomic.LoadInt32(&w.running) == 1 }

// Cancel requests cancellation of the running operation. It is a no-op
// if nothing is running. Cancellation is cooperative: Run's steps must
// call CheckCancel between steps for it to take effect.
func (w *Worker) Cancel() {
	if w.Busy() {
		atomic.StoreInt32(&w.cancel, 1)
	}
}

// Step is one ordered unit of work in an operation, matching spec.md
// §5's required ordering: check-bundle, load-manifest, plan,
// per-image(pre-hook, write, post-hook, status-save), steer-bootloader.
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

// Run executes steps in order, publishing an Update to updates after
// every step and checking for a pending Cancel before each one. Only one
// Run can execute at a time; a second concurrent call fails immediately
// with INSTALL_FAILED rather than queueing, since spec.md §5 specifies a
// single atomic operation-in-progress flag, not a work queue.
func (w *Worker) Run(ctx context.Context, steps []Step, updates chan<- Update) error {
	if !atomic.CompareAndSwapInt32(&w.running, 0, 1) {
		return errs.New(errs.InstallFailed, "an operation is already in progress")
	}
	defer atomic.StoreInt32(&w.running, 0)
	defer atomic.StoreInt32(&w.cancel, 0)

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, step := range steps {
		if atomic.LoadInt32(&w.cancel) == 1 {
			err := errs.New(errs.InstallFailed, "operation cancelled before step %q", step.Name)
			publish(updates, Update{Step: step.Name, Err: err, Done: true})
			return err
		}

		if err := step.Run(ctx); err != nil {
			publish(updates, Update{Step: step.Name, Err: err, Done: true})
			return err
		}
		publish(updates, Update{Step: step.Name, Percent: 100})
	}

	publish(updates, Update{Done: true})
	return nil
}

// publish sends u on updates without blocking forever if nobody is
// reading: a full channel drops the update rather than stalling the
// operation, since the bound (spec.md §5) exists to cap memory, not to
// throttle progress.
func publish(updates chan<- Update, u Update) {
	if updates == nil {
		return
	}
	select {
	case updates <- u:
	default:
	}
}
