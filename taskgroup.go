package ensemble

import (
	"context"
	"fmt"
	"sync"
)

// TaskGroup is a hierarchical, named [sync.WaitGroup].
//
// Compared to sync.WaitGroup:
//
//  1. Tasks are added one at a time with a name, via [TaskGroup.Add], and finished by name with
//     [TaskGroup.Done]
//  2. Groups nest: a subgroup from [TaskGroup.NewSubgroup] counts towards its parent while it has
//     unfinished tasks
//  3. [TaskGroup.Wait] returns a channel, so it can be selected over
//  4. The unfinished tasks can be listed with [TaskGroup.Tasks], [TaskGroup.Subgroups], and
//     [TaskGroup.TaskTree]
//  5. Tasks may be added again after everything finished, which re-arms Wait
//
// A [WorkerPool] uses a TaskGroup to track its live workers and the tasks they are running.
type TaskGroup struct {
	mu     sync.Mutex
	parent *TaskGroup
	id     subgroupID
	name   string

	// count is the total across tasks
	count     uint
	tasks     map[string]uint
	active    map[subgroupID]*TaskGroup
	nextID    subgroupID
	finishedL latch
}

// TaskTree is a snapshot of the unfinished tasks in a [TaskGroup], as returned by
// [TaskGroup.TaskTree].
type TaskTree struct {
	Name      string     `json:"name"`
	Tasks     []TaskInfo `json:"tasks"`
	Subgroups []TaskTree `json:"subgroups"`
}

// TaskInfo is the number of unfinished tasks sharing a name.
type TaskInfo struct {
	Name string `json:"name"`
	// Count is never zero in values returned by [TaskGroup.Tasks] or [TaskGroup.TaskTree].
	Count uint `json:"count"`
}

type subgroupID uint64

// NewTaskGroup returns an empty TaskGroup with the given name.
func NewTaskGroup(name string) *TaskGroup {
	return &TaskGroup{name: name}
}

// Name returns the name the TaskGroup was created with.
func (g *TaskGroup) Name() string {
	return g.name
}

// NewSubgroup returns a new TaskGroup nested in g. While the subgroup has unfinished tasks, g is
// not finished either.
func (g *TaskGroup) NewSubgroup(name string) *TaskGroup {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := g.nextID
	g.nextID += 1
	return &TaskGroup{parent: g, id: id, name: name}
}

// Add adds one task with the given name. The same name may be added more than once, and each
// instance needs its own call to [TaskGroup.Done].
func (g *TaskGroup) Add(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.tasks == nil {
		g.tasks = make(map[string]uint)
	}
	g.tasks[name] += 1
	g.count += 1
	g.becameActive()
}

// Done finishes one task with the given name.
//
// Done panics if there is no unfinished task with that name.
func (g *TaskGroup) Done(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := g.tasks[name]
	if n == 0 {
		panic(fmt.Sprintf("no unfinished tasks named %q in group %q", name, g.name))
	}
	if n == 1 {
		delete(g.tasks, name)
	} else {
		g.tasks[name] = n - 1
	}
	g.count -= 1
	g.maybeFinished()
}

func (g *TaskGroup) pending() uint {
	return g.count + uint(len(g.active))
}

// becameActive requires g.mu. Locks are taken child before parent.
func (g *TaskGroup) becameActive() {
	if g.pending() != 1 {
		return
	}

	g.finishedL.rearm()
	if g.parent != nil {
		g.parent.mu.Lock()
		defer g.parent.mu.Unlock()

		if g.parent.active == nil {
			g.parent.active = make(map[subgroupID]*TaskGroup)
		}
		g.parent.active[g.id] = g
		g.parent.becameActive()
	}
}

// maybeFinished requires g.mu.
func (g *TaskGroup) maybeFinished() {
	if g.pending() != 0 {
		return
	}

	g.finishedL.fire()
	if g.parent != nil {
		g.parent.mu.Lock()
		defer g.parent.mu.Unlock()

		delete(g.parent.active, g.id)
		g.parent.maybeFinished()
	}
}

// Wait returns a channel that is closed once every task in g and its subgroups is done.
func (g *TaskGroup) Wait() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pending() == 0 {
		return alwaysClosed
	}
	return g.finishedL.wait()
}

// TryWait waits for g to finish, returning ctx.Err() if ctx is done first. If ctx is already done
// when TryWait is called, it returns ctx.Err() even if g has finished.
func (g *TaskGroup) TryWait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-g.Wait():
		return nil
	}
}

// Finished reports whether every task in g and its subgroups is done.
func (g *TaskGroup) Finished() bool {
	return isClosed(g.Wait())
}

// Tasks returns the unfinished tasks directly in g, not including its subgroups. The order is
// unspecified.
func (g *TaskGroup) Tasks() []TaskInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.taskInfos()
}

func (g *TaskGroup) taskInfos() []TaskInfo {
	var infos []TaskInfo
	for name, count := range g.tasks {
		infos = append(infos, TaskInfo{Name: name, Count: count})
	}
	return infos
}

// Subgroups returns the direct subgroups of g that have unfinished tasks. Any of them may finish
// by the time the caller looks at it.
func (g *TaskGroup) Subgroups() []*TaskGroup {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.activeSubgroups()
}

func (g *TaskGroup) activeSubgroups() []*TaskGroup {
	var sgs []*TaskGroup
	for _, sg := range g.active {
		sgs = append(sgs, sg)
	}
	return sgs
}

// TaskTree returns the unfinished tasks of g and, recursively, of its subgroups.
//
// Each group is read separately, so the tree is not an atomic snapshot: anything that stays true
// for the whole call is reported correctly, while changes made during the call may or may not
// appear. Subgroups that turn out empty are left out.
func (g *TaskGroup) TaskTree() TaskTree {
	g.mu.Lock()
	tasks := g.taskInfos()
	sgs := g.activeSubgroups()
	// subgroups lock their parent, so recursing with g.mu held could deadlock
	g.mu.Unlock()

	var subtrees []TaskTree
	for _, sg := range sgs {
		t := sg.TaskTree()
		if len(t.Tasks) != 0 || len(t.Subgroups) != 0 {
			subtrees = append(subtrees, t)
		}
	}

	return TaskTree{Name: g.name, Tasks: tasks, Subgroups: subtrees}
}
