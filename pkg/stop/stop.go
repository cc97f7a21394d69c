// Package stop implements a pattern for shutting down a group of processes.
package stop

import "sync"

// Channel is the write side of a shutdown Result. A component being stopped
// creates one, hands the corresponding Result to its caller, performs its
// shutdown work in a goroutine, and calls Done exactly once.
type Channel chan error

// Done signals that the shutdown has finished, optionally carrying the error
// that occurred while stopping. It must be called exactly once.
func (c Channel) Done(err ...error) {
	if len(err) > 0 && err[0] != nil {
		c <- err[0]
	}
	close(c)
}

// Result returns the read-only view of the channel handed back to callers.
func (c Channel) Result() Result { return Result((chan error)(c)) }

// Result is a future for the outcome of a Stop call: it is closed, optionally
// after carrying a single error, once the stop has completed.
type Result <-chan error

// AlreadyStopped is a Result that is immediately done with no error, for
// Stoppers that can report they have nothing to do.
var AlreadyStopped Result

func init() {
	c := make(Channel)
	c.Done()
	AlreadyStopped = c.Result()
}

// Stopper is implemented by anything that can be cleanly shut down. Stop must
// return immediately and perform the actual shutdown work in a separate
// goroutine.
type Stopper interface {
	Stop() Result
}

// Func adapts a bare function to the Stopper interface.
type Func func() Result

// Group is a collection of Stoppers that can be stopped all at once.
type Group struct {
	stoppables []Func
	sync.Mutex
}

// NewGroup allocates a new Group.
func NewGroup() *Group {
	return &Group{stoppables: make([]Func, 0)}
}

// Add appends a Stopper to the Group.
func (g *Group) Add(s Stopper) {
	g.Lock()
	defer g.Unlock()

	g.stoppables = append(g.stoppables, s.Stop)
}

// AddFunc appends a Func to the Group.
func (g *Group) AddFunc(f Func) {
	g.Lock()
	defer g.Unlock()

	g.stoppables = append(g.stoppables, f)
}

// Stop stops all members of the Group concurrently and waits for every
// member to finish, returning every non-nil error encountered.
func (g *Group) Stop() []error {
	g.Lock()
	defer g.Unlock()

	results := make([]Result, 0, len(g.stoppables))
	for _, toStop := range g.stoppables {
		results = append(results, toStop())
	}

	var errs []error
	for _, r := range results {
		if err := <-r; err != nil {
			errs = append(errs, err)
		}
	}

	return errs
}
