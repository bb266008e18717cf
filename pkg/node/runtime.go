package node

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Runtime errors.
var (
	ErrNoProcess = errors.New("no such process")
	ErrNameTaken = errors.New("name already registered")
)

// Runtime is the local actor runtime that executes requests from peers.
type Runtime interface {
	Spawn(ctx context.Context, env, module uint64, function string, params []int64, config []byte) (uint64, error)
	Message(ctx context.Context, env, process uint64, tag *int64, data []byte) error
	Link(ctx context.Context, env, process, linked uint64, tag *int64) error
	Unlink(ctx context.Context, env, process, linked uint64) error
	Kill(ctx context.Context, env, process uint64) error

	// Lookup resolves a registered name. A missing name is not an error:
	// ok is false.
	Lookup(ctx context.Context, env uint64, name string) (id uint64, ok bool, err error)
}

// Envelope is a message delivered to a process mailbox.
type Envelope struct {
	Tag  *int64
	Data []byte
}

// Process is the state MemoryRuntime keeps per spawned process.
type Process struct {
	ID       uint64
	Env      uint64
	Module   uint64
	Function string
	Params   []int64
	Mailbox  []Envelope
	Links    map[uint64]*int64
}

// MemoryRuntime is an in-process Runtime that records spawned processes and
// their mailboxes. A node without an embedded actor runtime serves peers
// with it.
type MemoryRuntime struct {
	mu      sync.Mutex
	nextID  uint64
	procs   map[uint64]*Process
	names   map[uint64]map[string]uint64
	mailbox int
}

// NewMemoryRuntime creates an empty runtime. Mailboxes keep at most
// mailboxSize messages, dropping the oldest; 0 keeps all.
func NewMemoryRuntime(mailboxSize int) *MemoryRuntime {
	return &MemoryRuntime{
		procs:   make(map[uint64]*Process),
		names:   make(map[uint64]map[string]uint64),
		mailbox: mailboxSize,
	}
}

func (r *MemoryRuntime) process(env, id uint64) (*Process, error) {
	p, ok := r.procs[id]
	if !ok || p.Env != env {
		return nil, fmt.Errorf("%w: %d", ErrNoProcess, id)
	}
	return p, nil
}

// Spawn creates a process running function of module.
func (r *MemoryRuntime) Spawn(_ context.Context, env, module uint64, function string, params []int64, _ []byte) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	p := &Process{
		ID:       r.nextID,
		Env:      env,
		Module:   module,
		Function: function,
		Params:   params,
		Links:    make(map[uint64]*int64),
	}
	r.procs[p.ID] = p
	return p.ID, nil
}

// Message appends data to the process mailbox.
func (r *MemoryRuntime) Message(_ context.Context, env, process uint64, tag *int64, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.process(env, process)
	if err != nil {
		return err
	}
	p.Mailbox = append(p.Mailbox, Envelope{Tag: tag, Data: data})
	if r.mailbox > 0 && len(p.Mailbox) > r.mailbox {
		p.Mailbox = p.Mailbox[len(p.Mailbox)-r.mailbox:]
	}
	return nil
}

// Link links process to the remote process linked.
func (r *MemoryRuntime) Link(_ context.Context, env, process, linked uint64, tag *int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.process(env, process)
	if err != nil {
		return err
	}
	p.Links[linked] = tag
	return nil
}

// Unlink removes a link. Removing a missing link succeeds.
func (r *MemoryRuntime) Unlink(_ context.Context, env, process, linked uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.process(env, process)
	if err != nil {
		return err
	}
	delete(p.Links, linked)
	return nil
}

// Kill removes the process and its registered names.
func (r *MemoryRuntime) Kill(_ context.Context, env, process uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.process(env, process); err != nil {
		return err
	}
	delete(r.procs, process)
	for name, id := range r.names[env] {
		if id == process {
			delete(r.names[env], name)
		}
	}
	return nil
}

// Lookup resolves a registered process name.
func (r *MemoryRuntime) Lookup(_ context.Context, env uint64, name string) (uint64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.names[env][name]
	return id, ok, nil
}

// Register binds name to a live process.
func (r *MemoryRuntime) Register(env uint64, name string, process uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.process(env, process); err != nil {
		return err
	}
	names, ok := r.names[env]
	if !ok {
		names = make(map[string]uint64)
		r.names[env] = names
	}
	if id, taken := names[name]; taken && id != process {
		return fmt.Errorf("%w: %s", ErrNameTaken, name)
	}
	names[name] = process
	return nil
}

// Process returns a copy of the process state.
func (r *MemoryRuntime) Process(env, id uint64) (Process, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.process(env, id)
	if err != nil {
		return Process{}, false
	}
	return p.clone(), true
}

// List returns copies of all live processes ordered by id.
func (r *MemoryRuntime) List() []Process {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := make([]Process, 0, len(r.procs))
	for _, p := range r.procs {
		list = append(list, p.clone())
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

func (p *Process) clone() Process {
	cp := *p
	cp.Mailbox = append([]Envelope(nil), p.Mailbox...)
	cp.Links = make(map[uint64]*int64, len(p.Links))
	for k, v := range p.Links {
		cp.Links[k] = v
	}
	return cp
}

// Processes returns the ids of all live processes in ascending order.
func (r *MemoryRuntime) Processes() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]uint64, 0, len(r.procs))
	for id := range r.procs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

var _ Runtime = (*MemoryRuntime)(nil)
