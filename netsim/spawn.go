package netsim

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// errDropped marks a machine removed from the run by its AttachFailed hook.
var errDropped = errors.New("machine dropped")

// Machine is a function that runs inside an isolated host and yields a
// value once it finishes.
type Machine[T any] func(ctx context.Context, host *Host) (T, error)

// Launcher names a machine. The name becomes the host name and the lease
// key in the fabric's address pool.
type Launcher[T any] struct {
	Name string
	Run  Machine[T]

	// AttachFailed, when set, is called if no host can be attached for the
	// machine. Returning nil drops the machine: it never runs, its result
	// slot keeps the zero value and the rest of the run carries on.
	// Returning an error fails the run as usual.
	AttachFailed func(err error) error
}

// Run is a set of machines spawned together on one fabric.
type Run[T any] struct {
	group   *errgroup.Group
	results []T
	once    sync.Once
	err     error

	mu      sync.Mutex
	dropped []string
}

// Spawn attaches one host per launcher to fabric and starts every machine on
// its own goroutine. The first machine to fail cancels the context passed to
// the others.
func Spawn[T any](ctx context.Context, fabric *Fabric, launchers ...Launcher[T]) *Run[T] {
	group, groupCtx := errgroup.WithContext(ctx)
	run := &Run[T]{
		group:   group,
		results: make([]T, len(launchers)),
	}

	logrus.WithFields(logrus.Fields{
		"function": "Spawn",
		"machines": len(launchers),
		"subnet":   fabric.Pool().Prefix().String(),
	}).Debug("Spawning machines")

	for i, launcher := range launchers {
		group.Go(func() error {
			result, err := launch(groupCtx, fabric, launcher)
			if errors.Is(err, errDropped) {
				run.drop(launcher.Name)
				return nil
			}
			if err != nil {
				return err
			}
			run.results[i] = result
			return nil
		})
	}

	return run
}

func launch[T any](ctx context.Context, fabric *Fabric, launcher Launcher[T]) (result T, err error) {
	host, err := fabric.Attach(launcher.Name)
	if err != nil {
		err = fmt.Errorf("machine %s: %w", launcher.Name, err)
		if launcher.AttachFailed == nil {
			return result, err
		}
		if err := launcher.AttachFailed(err); err != nil {
			return result, err
		}
		logrus.WithFields(logrus.Fields{
			"function": "Spawn",
			"host":     launcher.Name,
		}).Warn("Machine dropped: no host attached")
		return result, errDropped
	}
	defer host.Close()

	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Spawn",
				"host":     launcher.Name,
				"panic":    fmt.Sprint(r),
			}).Error("Machine panicked")
			err = newNetError("run", launcher.Name, fmt.Errorf("%w: %v", ErrMachinePanic, r))
		}
	}()

	return launcher.Run(ctx, host)
}

func (r *Run[T]) drop(name string) {
	r.mu.Lock()
	r.dropped = append(r.dropped, name)
	r.mu.Unlock()
}

// Dropped returns the names of machines that were dropped because no host
// could be attached, sorted.
func (r *Run[T]) Dropped() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := slices.Clone(r.dropped)
	slices.Sort(names)
	return names
}

// Wait blocks until every machine has returned. Results are in launcher
// order. If any machine failed, Wait returns the first error and no results.
func (r *Run[T]) Wait() ([]T, error) {
	r.once.Do(func() {
		r.err = r.group.Wait()
	})
	if r.err != nil {
		return nil, r.err
	}
	return r.results, nil
}
