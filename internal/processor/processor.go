// Package processor implements the request-processing core of the Warren
// agent: it validates parsed inbound messages, dispatches them to modules
// on the blocking or non-blocking path, and maintains the durable spool
// state of non-blocking transactions.
package processor

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/dyluth/warren/internal/config"
	"github.com/dyluth/warren/internal/modules"
	"github.com/dyluth/warren/internal/spool"
	"github.com/dyluth/warren/pkg/pxp"
)

// Processor is the top-level orchestrator. It is driven by the transport's
// inbound goroutines; concurrent ProcessRequest calls are safe. The module
// registry is immutable after New returns.
type Processor struct {
	connector pxp.Connector
	spoolDir  string
	registry  *modules.Registry
	mutexes   *spool.MutexTable
	pool      *Pool
}

// New builds a processor from the agent configuration: it loads the module
// configurations, registers the built-in modules, scans the modules
// directory for external executables and logs the result.
func New(connector pxp.Connector, cfg *config.Agent) (*Processor, error) {
	if cfg.SpoolDir == "" {
		return nil, fmt.Errorf("no spool directory configured")
	}

	mutexes := spool.NewMutexTable()
	registry, err := LoadRegistry(cfg, mutexes)
	if err != nil {
		return nil, err
	}

	return &Processor{
		connector: connector,
		spoolDir:  cfg.SpoolDir,
		registry:  registry,
		mutexes:   mutexes,
		pool:      NewPool(),
	}, nil
}

// LoadRegistry builds the module registry exactly as the agent does at
// startup. It is shared with the CLI so operator commands observe the same
// module set as the running agent.
func LoadRegistry(cfg *config.Agent, mutexes *spool.MutexTable) (*modules.Registry, error) {
	modulesConfig := loadModulesConfig(cfg.ModulesConfigDir)

	registry := modules.NewRegistry()
	registry.Register(modules.NewEcho())
	registry.Register(modules.NewPing())
	registry.Register(modules.NewStatus(cfg.SpoolDir, mutexes))

	if cfg.ModulesDir != "" {
		loadExternalModules(registry, cfg.ModulesDir, modulesConfig)
	} else {
		log.Printf("[WARN] The modules directory was not provided; no external module will be loaded")
	}

	registry.LogLoaded()
	return registry, nil
}

// Registry exposes the loaded modules.
func (p *Processor) Registry() *modules.Registry { return p.registry }

// MutexTable exposes the transaction mutex table, shared with status-query
// paths outside the core.
func (p *Processor) MutexTable() *spool.MutexTable { return p.mutexes }

// Pending returns the number of in-flight non-blocking tasks.
func (p *Processor) Pending() int { return p.pool.Pending() }

// Drain awaits all in-flight non-blocking tasks. Called on shutdown; tasks
// are never forcibly terminated.
func (p *Processor) Drain() { p.pool.Drain() }

// ProcessRequest validates and dispatches one parsed inbound message.
//
// Failure routing: a message that cannot be turned into a Request gets a
// transport-level error addressed from the raw envelope; a well-formed
// request with invalid content or a failed blocking execution gets an
// application-level (PXP) error.
func (p *Processor) ProcessRequest(reqType pxp.RequestType, chunks pxp.ParsedChunks) {
	req, err := pxp.NewRequest(reqType, chunks)
	if err != nil {
		id, sender := rawEnvelopeIdentity(chunks.Envelope)
		log.Printf("[ERROR] Invalid request by %s: %v", sender, err)
		if sendErr := p.connector.SendTransportError(id, err.Error(), []string{sender}); sendErr != nil {
			log.Printf("[ERROR] Failed to send transport error to %s: %v", sender, sendErr)
		}
		return
	}

	log.Printf("[INFO] Processing %s request %s by %s, transaction %s",
		req.Type(), req.ID(), req.Sender(), req.TransactionID())

	if err := p.validateRequestContent(req); err != nil {
		log.Printf("[ERROR] Invalid %s request %s by %s, transaction %s: %v",
			req.Type(), req.ID(), req.Sender(), req.TransactionID(), err)
		if sendErr := p.connector.SendPXPError(req, err.Error()); sendErr != nil {
			log.Printf("[ERROR] Failed to send PXP error for request %s: %v", req.ID(), sendErr)
		}
		return
	}

	log.Printf("[DEBUG] The %s request, transaction %s, has been successfully validated",
		req.Type(), req.TransactionID())

	if req.Type() == pxp.RequestTypeBlocking {
		if err := p.processBlockingRequest(req); err != nil {
			log.Printf("[ERROR] Failed to process %s request %s by %s, transaction %s: %v",
				req.Type(), req.ID(), req.Sender(), req.TransactionID(), err)
			if sendErr := p.connector.SendPXPError(req, err.Error()); sendErr != nil {
				log.Printf("[ERROR] Failed to send PXP error for request %s: %v", req.ID(), sendErr)
			}
		}
		return
	}

	p.processNonBlockingRequest(req)
}

// validateRequestContent checks the routing fields and the action input of
// a well-formed request. Any failure here is reported as a PXP error and
// the transaction is not registered.
func (p *Processor) validateRequestContent(req *pxp.Request) error {
	mod, ok := p.registry.Lookup(req.Module())
	if !ok {
		return fmt.Errorf("unknown module: %s", req.Module())
	}
	if !mod.HasAction(req.Action()) {
		return fmt.Errorf("unknown action '%s' for module '%s'", req.Action(), req.Module())
	}

	// Internal modules complete synchronously by contract.
	if mod.Kind() == modules.KindInternal && req.Type() == pxp.RequestTypeNonBlocking {
		return fmt.Errorf("the module '%s' supports only blocking requests", req.Module())
	}

	// The transaction id becomes a spool path component.
	if req.Type() == pxp.RequestTypeNonBlocking && !safePathComponent(req.TransactionID()) {
		return fmt.Errorf("invalid transaction id: %s", req.TransactionID())
	}

	if err := mod.InputValidator().Validate(req.Action(), req.Params()); err != nil {
		log.Printf("[DEBUG] Invalid '%s %s' request %s: %v",
			req.Module(), req.Action(), req.ID(), err)
		return fmt.Errorf("invalid input for '%s %s'", req.Module(), req.Action())
	}

	return nil
}

// processBlockingRequest executes the action inline and replies on the
// connection. No spool state is created for blocking requests.
func (p *Processor) processBlockingRequest(req *pxp.Request) error {
	mod, _ := p.registry.Lookup(req.Module())

	outcome, err := mod.Execute(req)
	if err != nil {
		return err
	}

	log.Printf("[INFO] Blocking request %s by %s, transaction %s, has completed",
		req.ID(), req.Sender(), req.TransactionID())

	if err := p.connector.SendBlockingResponse(req, outcome.Results); err != nil {
		return err
	}
	return nil
}

// processNonBlockingRequest registers the transaction's durable state and
// hands execution to a background task, then acknowledges the request.
// The provisional response is sent strictly before the task can emit any
// outcome notification.
func (p *Processor) processNonBlockingRequest(req *pxp.Request) {
	req.SetResultsDir(filepath.Join(p.spoolDir, req.TransactionID()))

	log.Printf("[DEBUG] Starting '%s %s' job for non-blocking request %s by %s, transaction %s",
		req.Module(), req.Action(), req.ID(), req.Sender(), req.TransactionID())

	var errMsg string

	// The task waits for this to be closed, i.e. for the provisional
	// response to have been sent, before it executes the action.
	acked := make(chan struct{})

	store, err := spool.NewStore(req, p.mutexes)
	if err != nil {
		log.Printf("[ERROR] Failed to initialize the result files for '%s %s', transaction %s: %v",
			req.Module(), req.Action(), req.TransactionID(), err)
		errMsg = fmt.Sprintf("failed to initialize result files: %v", err)
	} else {
		mod, _ := p.registry.Lookup(req.Module())
		done := &atomic.Bool{}
		label := fmt.Sprintf("%s %s %s", req.Module(), req.Action(), req.TransactionID())
		p.pool.Add(label, done, func() {
			<-acked
			p.runNonBlockingTask(mod, req, store, done)
		})
	}

	if errMsg == "" {
		if sendErr := p.connector.SendProvisionalResponse(req); sendErr != nil {
			log.Printf("[ERROR] Failed to send provisional response for transaction %s: %v",
				req.TransactionID(), sendErr)
		}
		close(acked)
	} else {
		if sendErr := p.connector.SendPXPError(req, errMsg); sendErr != nil {
			log.Printf("[ERROR] Failed to send PXP error for transaction %s: %v",
				req.TransactionID(), sendErr)
		}
	}
}

// loadModulesConfig reads the optional <module-name>.conf JSON files.
// Files with invalid JSON are skipped with a warning.
func loadModulesConfig(dir string) map[string]json.RawMessage {
	configs := make(map[string]json.RawMessage)
	if dir == "" {
		return configs
	}

	log.Printf("[INFO] Loading external modules configuration from %s", dir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Printf("[DEBUG] Modules config directory %s cannot be read; no module configuration will be loaded", dir)
		return configs
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".conf") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("[WARN] Cannot read module config file %s: %v", path, err)
			continue
		}
		if !json.Valid(data) {
			log.Printf("[WARN] Cannot load module config file %s: file contains invalid JSON", path)
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".conf")
		configs[name] = json.RawMessage(data)
		log.Printf("[DEBUG] Loaded module configuration for module '%s' from %s", name, path)
	}

	return configs
}

// loadExternalModules scans a flat directory of executables. On Unix,
// candidates are files with no extension; on Windows, .bat files. A module
// that fails to load is logged and skipped so one broken executable cannot
// take out the agent.
func loadExternalModules(registry *modules.Registry, dir string, configs map[string]json.RawMessage) {
	log.Printf("[INFO] Loading external modules from %s", dir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Printf("[WARN] Failed to read the modules directory; no external modules will be loaded")
		return
	}

	wantExt := ""
	if runtime.GOOS == "windows" {
		wantExt = ".bat"
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != wantExt {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		name := strings.TrimSuffix(entry.Name(), wantExt)

		mod, err := modules.NewExternal(path, configs[name])
		if err != nil {
			log.Printf("[ERROR] Failed to load %s: %v", path, err)
			continue
		}
		registry.Register(mod)
	}
}

// rawEnvelopeIdentity extracts id and sender directly from a raw envelope
// for transport-level error reporting; missing fields come back empty.
func rawEnvelopeIdentity(envelope json.RawMessage) (string, string) {
	var fields struct {
		ID     string `json:"id"`
		Sender string `json:"sender"`
	}
	_ = json.Unmarshal(envelope, &fields)
	return fields.ID, fields.Sender
}

// safePathComponent rejects transaction ids that could escape the spool.
func safePathComponent(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return false
	}
	return true
}
