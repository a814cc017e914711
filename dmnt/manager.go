// Package dmnt is the cheat process manager: it attaches to the running
// application, owns the cheat table, frozen addresses and the cheat VM, and
// serves the external API under a single lock.
package dmnt

import (
	"context"
	"sync"

	"github.com/colorfulnotion/dmnt/cheaterrors"
	"github.com/colorfulnotion/dmnt/cheatvm"
	"github.com/colorfulnotion/dmnt/host"
	"github.com/colorfulnotion/dmnt/storage"
	"github.com/colorfulnotion/dmnt/types"
)

// ProcessEvent is published on every attach and detach.
type ProcessEvent struct {
	Attached bool                       `json:"attached"`
	Metadata types.CheatProcessMetadata `json:"metadata"`
}

type CheatProcessManager struct {
	mu    sync.Mutex
	host  host.Host
	store storage.CheatStore
	cfg   types.CommandConfig

	// session
	debugger      host.Debugger
	meta          types.CheatProcessMetadata
	sessionCtx    context.Context
	sessionCancel context.CancelFunc
	broken        *gate
	newSession    chan struct{}

	cheats               []types.CheatEntry
	needsReloadVMProgram bool
	overCapacityLogged   bool
	shouldSaveToggles    bool
	frozen               *frozenTable
	vm                   *cheatvm.VM

	subsMu  sync.Mutex
	subs    map[int]chan ProcessEvent
	nextSub int
}

func NewCheatProcessManager(h host.Host, store storage.CheatStore, cfg types.CommandConfig) *CheatProcessManager {
	return &CheatProcessManager{
		host:       h,
		store:      store,
		cfg:        cfg,
		broken:     newGate(),
		newSession: make(chan struct{}, 1),
		cheats:     NewCheatTable(),
		frozen:     newFrozenTable(),
		vm:         cheatvm.NewVM(),
		subs:       make(map[int]chan ProcessEvent),
	}
}

// VM exposes the cheat VM, for installing a DebugLog sink before Start.
func (cpm *CheatProcessManager) VM() *cheatvm.VM { return cpm.vm }

// hasActiveCheatProcess reports whether the session still targets the
// current application process, detaching if it does not. Lock held.
func (cpm *CheatProcessManager) hasActiveCheatProcess() bool {
	if cpm.debugger == nil {
		return false
	}
	pid, err := cpm.host.ApplicationProcessID()
	if err != nil || pid != cpm.meta.ProcessID {
		cpm.closeActiveCheatProcess()
		return false
	}
	return true
}

func (cpm *CheatProcessManager) ensureCheatProcess() error {
	if !cpm.hasActiveCheatProcess() {
		return cheaterrors.ErrNotAttached
	}
	return nil
}

func (cpm *CheatProcessManager) HasCheatProcess() bool {
	cpm.mu.Lock()
	defer cpm.mu.Unlock()
	return cpm.hasActiveCheatProcess()
}

func (cpm *CheatProcessManager) GetCheatProcessMetadata() (types.CheatProcessMetadata, error) {
	cpm.mu.Lock()
	defer cpm.mu.Unlock()
	if err := cpm.ensureCheatProcess(); err != nil {
		return types.CheatProcessMetadata{}, err
	}
	return cpm.meta, nil
}

// SubscribeProcessEvents returns a channel receiving attach and detach
// events and a function that cancels the subscription. Slow subscribers
// miss events rather than block the manager.
func (cpm *CheatProcessManager) SubscribeProcessEvents() (<-chan ProcessEvent, func()) {
	cpm.subsMu.Lock()
	defer cpm.subsMu.Unlock()
	id := cpm.nextSub
	cpm.nextSub++
	ch := make(chan ProcessEvent, 8)
	cpm.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			cpm.subsMu.Lock()
			delete(cpm.subs, id)
			cpm.subsMu.Unlock()
			close(ch)
		})
	}
}

func (cpm *CheatProcessManager) publish(ev ProcessEvent) {
	cpm.subsMu.Lock()
	defer cpm.subsMu.Unlock()
	for _, ch := range cpm.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// gate is open while the process is not broken by a user pause.
type gate struct {
	mu   sync.Mutex
	open chan struct{}
}

func newGate() *gate {
	g := &gate{open: make(chan struct{})}
	close(g.open)
	return g
}

func (g *gate) hold() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.open:
		g.open = make(chan struct{})
	default:
	}
}

func (g *gate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.open:
	default:
		close(g.open)
	}
}

func (g *gate) held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.open:
		return false
	default:
		return true
	}
}

func (g *gate) wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.open
	g.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
