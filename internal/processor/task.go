package processor

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/dyluth/warren/internal/modules"
	"github.com/dyluth/warren/internal/spool"
	"github.com/dyluth/warren/pkg/pxp"
)

// runNonBlockingTask is the body of one background task. It executes the
// action, pushes the outcome notification when requested, and persists the
// final metadata.
//
// The cleanup region runs on every exit path, panics included: it locks
// the transaction mutex if execution never reached the lock, writes the
// captured output and final metadata, removes the mutex-table entry and
// flags the done flag for the pool. Nothing a task does may terminate the
// agent.
func (p *Processor) runNonBlockingTask(mod modules.Module, req *pxp.Request, store *spool.Store, done *atomic.Bool) {
	start := time.Now()
	tid := req.TransactionID()
	resp := store.Metadata()

	var (
		execError string
		outcome   modules.ActionOutcome
		locked    bool
	)
	exitcode := 1

	mtx, err := p.mutexes.Get(tid)
	if err != nil {
		// Unexpected: the store registered the mutex before this task was
		// enqueued. Proceed without locking rather than dropping the task.
		log.Printf("[ERROR] Failed to obtain the mutex for transaction %s: %v", tid, err)
		mtx = nil
	}

	defer func() {
		if r := recover(); r != nil {
			execError = fmt.Sprintf("unexpected failure: %v", r)
			log.Printf("[ERROR] Task for transaction %s panicked: %v", tid, r)
		}

		if mtx != nil && !locked {
			log.Printf("[TRACE] Locking transaction mutex %s - the action did not complete successfully", tid)
			mtx.Lock()
			locked = true
		}

		if resp.Status == pxp.StatusRunning {
			if markErr := resp.MarkFailure(execError); markErr != nil {
				log.Printf("[ERROR] Failed to finalize metadata of transaction %s: %v", tid, markErr)
			}
		}

		if outcome.Kind == modules.KindExternal {
			if writeErr := store.WriteOutput(outcome.Stdout, outcome.Stderr, exitcode); writeErr != nil {
				log.Printf("[ERROR] Failed to write output files of transaction %s: %v", tid, writeErr)
			}
		}

		if writeErr := store.WriteMetadata(exitcode, execError, time.Since(start)); writeErr != nil {
			log.Printf("[ERROR] Failed to write metadata of non-blocking request %s: %v", tid, writeErr)
		}

		if mtx != nil {
			if removeErr := p.mutexes.Remove(tid); removeErr != nil {
				log.Printf("[ERROR] Failed to remove the mutex entry for transaction %s: %v", tid, removeErr)
			}
			mtx.Unlock()
			log.Printf("[TRACE] Unlocked transaction mutex %s", tid)
		}

		done.Store(true)
	}()

	outcome, err = mod.Execute(req)
	if err != nil {
		execError = fmt.Sprintf("failed to execute: %v", err)
		if outcome.Kind == modules.KindExternal {
			exitcode = outcome.Exitcode
		}
		log.Printf("[ERROR] Failed to execute '%s %s' %s: %v", req.Module(), req.Action(), tid, err)

		if markErr := resp.MarkFailure(execError); markErr != nil {
			log.Printf("[ERROR] Failed to record failure of transaction %s: %v", tid, markErr)
		}
		if sendErr := p.connector.SendPXPError(req, err.Error()); sendErr != nil {
			log.Printf("[ERROR] Failed to send PXP error for (failed) '%s %s' %s: %v",
				req.Module(), req.Action(), tid, sendErr)
		}
		return
	}

	if mtx != nil {
		log.Printf("[TRACE] Locking transaction mutex %s", tid)
		mtx.Lock()
		locked = true
	} else {
		log.Printf("[TRACE] No mutex was obtained for transaction %s; metadata access will not be locked", tid)
	}

	exitcode = 0
	if outcome.Kind == modules.KindExternal {
		exitcode = outcome.Exitcode
	}

	log.Printf("[INFO] Non-blocking request %s by %s, transaction %s, has completed",
		req.ID(), req.Sender(), tid)

	if req.NotifyOutcome() {
		if sendErr := p.connector.SendNonBlockingResponse(req, outcome.Results, tid); sendErr != nil {
			// The action itself succeeded; record the transport problem in
			// the metadata instead of failing the transaction.
			execError = fmt.Sprintf("failed to send non blocking response: %v", sendErr)
			log.Printf("[ERROR] Failed to send non-blocking response for '%s %s' %s: %v",
				req.Module(), req.Action(), tid, sendErr)
		}
	}

	if markErr := resp.MarkSuccess(outcome.Results, execError); markErr != nil {
		log.Printf("[ERROR] Failed to record success of transaction %s: %v", tid, markErr)
	}
}
