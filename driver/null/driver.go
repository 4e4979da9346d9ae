// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package null implements driver interfaces without a GPU.
// Every command is recorded in memory, committed work
// items honor semaphore ordering and complete immediately.
// It is meant for testing and for offline inspection of
// what a client would submit.
package null

import (
	"errors"
	"sync"

	"github.com/gviegas/framegraph/driver"
)

const driverName = "null"

// Driver implements driver.Driver and driver.GPU.
type Driver struct {
	mu    sync.Mutex
	open  bool
	next  int
	stats Stats
	fail  func(op string) error
}

// Stats counts the objects created by a Driver.
type Stats struct {
	CmdBuffers   int
	Semaphores   int
	RenderPasses int
	Framebufs    int
	DescHeaps    int
	DescTables   int
	Pipelines    int
	Buffers      int
	Images       int
	Views        int
	Samplers     int
	Commits      int
	Destroyed    int
}

func init() {
	driver.Register(&Driver{})
}

// New returns a new, unregistered Driver.
// It is useful for tests that need isolated statistics.
func New() *Driver { return &Driver{} }

// Open implements driver.Driver.
func (d *Driver) Open() (driver.GPU, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = true
	return d, nil
}

// Name implements driver.Driver.
func (d *Driver) Name() string { return driverName }

// Close implements driver.Driver.
func (d *Driver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
}

// Driver implements driver.GPU.
func (d *Driver) Driver() driver.Driver { return d }

// SetFailure sets a function that is consulted before
// every object creation and commit. A non-nil return
// makes the operation fail with that error.
// op is the name of the GPU method (e.g., "NewImage").
// Passing nil removes the hook.
func (d *Driver) SetFailure(f func(op string) error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = f
}

// Stats returns the creation statistics.
func (d *Driver) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// check consults the failure hook and, if op succeeds,
// returns a new object identifier.
func (d *Driver) check(op string, count *int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		if err := d.fail(op); err != nil {
			return 0, err
		}
	}
	if count != nil {
		*count++
	}
	d.next++
	return d.next, nil
}

func (d *Driver) destroyed() {
	d.mu.Lock()
	d.stats.Destroyed++
	d.mu.Unlock()
}

var errNotEnded = errors.New("null: command buffer is still recording")

// Commit implements driver.GPU.
func (d *Driver) Commit(wk *driver.WorkItem, ch chan<- *driver.WorkItem) error {
	if wk == nil || len(wk.Work) == 0 {
		return errors.New("null: empty work item")
	}
	for _, cb := range wk.Work {
		if cb.IsRecording() {
			return errNotEnded
		}
	}
	if _, err := d.check("Commit", &d.stats.Commits); err != nil {
		return err
	}
	go func() {
		for _, s := range wk.Wait {
			<-s.(*Semaphore).ch
		}
		d.mu.Lock()
		for _, cb := range wk.Work {
			cb.(*CmdBuffer).executed++
		}
		if d.fail != nil {
			wk.Err = d.fail("Execute")
		}
		d.mu.Unlock()
		for _, s := range wk.Signal {
			select {
			case s.(*Semaphore).ch <- struct{}{}:
			default:
			}
		}
		ch <- wk
	}()
	return nil
}

// NewSemaphore implements driver.GPU.
func (d *Driver) NewSemaphore() (driver.Semaphore, error) {
	id, err := d.check("NewSemaphore", &d.stats.Semaphores)
	if err != nil {
		return nil, err
	}
	return &Semaphore{d: d, id: id, ch: make(chan struct{}, 1)}, nil
}

// Semaphore implements driver.Semaphore.
type Semaphore struct {
	d  *Driver
	id int
	ch chan struct{}
}

// Signaled returns whether s is signaled.
// It does not consume the signal.
func (s *Semaphore) Signaled() bool { return len(s.ch) > 0 }

// Destroy implements driver.Destroyer.
func (s *Semaphore) Destroy() { s.d.destroyed() }

// Limits implements driver.GPU.
func (d *Driver) Limits() driver.Limits {
	return driver.Limits{
		MaxImage1D:      16384,
		MaxImage2D:      16384,
		MaxImage3D:      2048,
		MaxLayers:       2048,
		MaxDescHeaps:    8,
		MaxColorTargets: 8,
		MaxFBSize:       [2]int{16384, 16384},
		MaxFBLayers:     2048,
		MaxDispatch:     [3]int{65535, 65535, 65535},
	}
}
