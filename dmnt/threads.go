package dmnt

import (
	"context"
	"errors"
	"time"

	"github.com/colorfulnotion/dmnt/cheaterrors"
	"github.com/colorfulnotion/dmnt/host"
	log "github.com/colorfulnotion/dmnt/log"
	"golang.org/x/sync/errgroup"
)

// Start runs the launch detector, the VM loop and the debug event drainer
// until ctx is done. The active session is closed on the way out.
func (cpm *CheatProcessManager) Start(ctx context.Context) error {
	stop := context.AfterFunc(ctx, cpm.ForceCloseCheatProcess)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return cpm.detectLaunchLoop(gctx) })
	g.Go(func() error { return cpm.vmLoop(gctx) })
	g.Go(func() error { return cpm.debugEventsLoop(gctx) })
	err := g.Wait()
	cpm.ForceCloseCheatProcess()
	return err
}

func (cpm *CheatProcessManager) detectLaunchLoop(ctx context.Context) error {
	for {
		pid, err := cpm.host.WaitForLaunch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn(log.ProcessMonitoring, "wait for launch", "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		log.Debug(log.ProcessMonitoring, "launch", "pid", pid)
		cpm.mu.Lock()
		err = cpm.attachToApplicationProcess(true)
		cpm.mu.Unlock()
		if err != nil && !errors.Is(err, cheaterrors.ErrNotAttached) {
			log.Warn(log.ProcessMonitoring, "attach on launch", "pid", pid, "err", err)
		}
	}
}

func (cpm *CheatProcessManager) vmLoop(ctx context.Context) error {
	ticker := time.NewTicker(cpm.cfg.TickInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := cpm.Tick(); err != nil {
				return err
			}
		}
	}
}

// Tick runs one VM pass and reasserts frozen addresses. A mismatched
// conditional depth inside the VM is returned as a fatal error.
func (cpm *CheatProcessManager) Tick() (err error) {
	cpm.mu.Lock()
	defer cpm.mu.Unlock()
	if !cpm.hasActiveCheatProcess() {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			perr, ok := r.(error)
			if !ok || !cheaterrors.IsFatal(perr) {
				panic(r)
			}
			log.Error(log.VMMonitoring, "cheat vm aborted", "err", perr)
			err = perr
		}
	}()

	if !cpm.needsReloadVMProgram || cpm.vm.LoadProgram(cpm.cheats) {
		cpm.needsReloadVMProgram = false
		cpm.overCapacityLogged = false
		if cpm.vm.ProgramSize() > 0 {
			cpm.vm.Execute(&cpm.meta, vmEnv{cpm})
		}
	} else if !cpm.overCapacityLogged {
		// retried every tick; warn once per failing table
		cpm.overCapacityLogged = true
		log.Warn(log.VMMonitoring, "enabled cheats exceed program capacity", "err", cheaterrors.ErrVMProgramTooLarge)
	}
	cpm.applyFrozenAddresses()
	return nil
}

// debugEventsLoop continues debug events of the attached process so it
// keeps running. While paused by the user, events stay pending.
func (cpm *CheatProcessManager) debugEventsLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-cpm.newSession:
		}
		cpm.drainSession()
	}
}

func (cpm *CheatProcessManager) drainSession() {
	cpm.mu.Lock()
	dbg, sctx := cpm.debugger, cpm.sessionCtx
	cpm.mu.Unlock()
	if dbg == nil {
		return
	}
	for {
		ev, err := dbg.WaitEvent(sctx)
		if err != nil {
			if errors.Is(err, host.ErrProcessTerminated) {
				cpm.mu.Lock()
				if cpm.debugger == dbg {
					cpm.closeActiveCheatProcess()
				}
				cpm.mu.Unlock()
			} else if sctx.Err() == nil {
				log.Warn(log.ProcessMonitoring, "wait debug event", "err", err)
			}
			return
		}
		log.Trace(log.ProcessMonitoring, "debug event", "type", ev.Type, "thread", ev.ThreadID)
		if !cpm.continueUnbroken(sctx, dbg) {
			return
		}
	}
}

// continueUnbroken waits for the pause gate and continues the process. The
// gate is checked again under the lock since a pause may land in between.
func (cpm *CheatProcessManager) continueUnbroken(sctx context.Context, dbg host.Debugger) bool {
	for {
		if err := cpm.broken.wait(sctx); err != nil {
			return false
		}
		cpm.mu.Lock()
		if cpm.debugger != dbg {
			cpm.mu.Unlock()
			return false
		}
		if cpm.broken.held() {
			cpm.mu.Unlock()
			continue
		}
		if err := dbg.Continue(); err != nil {
			log.Warn(log.ProcessMonitoring, "continue", "err", err)
		}
		cpm.mu.Unlock()
		return true
	}
}
