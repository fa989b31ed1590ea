// Package app runs the scan pipeline and tracks asynchronous scan tasks.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/wrenlabs/websentry/internal/analyzer"
	"github.com/wrenlabs/websentry/internal/cache"
	"github.com/wrenlabs/websentry/internal/config"
	"github.com/wrenlabs/websentry/internal/history"
	"github.com/wrenlabs/websentry/internal/logging"
	"github.com/wrenlabs/websentry/internal/model"
	"github.com/wrenlabs/websentry/internal/report"
	"github.com/wrenlabs/websentry/internal/scanerr"
	"github.com/wrenlabs/websentry/internal/target"
	"github.com/wrenlabs/websentry/internal/webclient"
)

const cacheKeyPrefix = "scan:"

// TargetValidator is the URL validation seam. Implemented by
// target.Validator.
type TargetValidator interface {
	Validate(ctx context.Context, rawURL string) (*target.Result, error)
}

// DNSChecker is the SPF/DMARC lookup seam. Implemented by dnscheck.Checker.
type DNSChecker interface {
	CheckDomain(ctx context.Context, domain string) (spf, dmarc model.Finding)
}

// SubmitOutcome is what Submit hands back. Exactly one of the three fields
// is set: Cached for a cache hit, Result for a synchronous scan, Task for an
// accepted asynchronous scan.
type SubmitOutcome struct {
	Cached *model.ScanResult
	Result *model.ScanResult
	Task   *model.Task
}

// Orchestrator owns the scan pipeline: validation, fetch, analysis, scoring,
// caching and persistence, plus the task bookkeeping around it.
type Orchestrator struct {
	cfg       *config.Config
	validator TargetValidator
	client    webclient.Client
	dns       DNSChecker
	cache     cache.Cache
	store     history.Store
	logger    logging.Logger

	// sem bounds concurrently executing scans; sf collapses concurrent
	// scans of the same host into one pipeline run.
	sem chan struct{}
	sf  singleflight.Group

	tasksMu sync.Mutex
	tasks   map[string]*model.Task
	cancels map[string]context.CancelFunc
}

func NewOrchestrator(cfg *config.Config, validator TargetValidator, client webclient.Client,
	dns DNSChecker, c cache.Cache, store history.Store, logger logging.Logger) *Orchestrator {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	workers := cfg.MaxWorkers
	if workers < 1 {
		workers = 1
	}
	return &Orchestrator{
		cfg:       cfg,
		validator: validator,
		client:    client,
		dns:       dns,
		cache:     c,
		store:     store,
		logger:    logger,
		sem:       make(chan struct{}, workers),
		tasks:     make(map[string]*model.Task),
		cancels:   make(map[string]context.CancelFunc),
	}
}

// Submit validates the URL and either serves the cached result, runs the
// scan inline (sync mode), or enqueues a task. Validation and SSRF failures
// surface here so the caller gets an immediate 400.
func (o *Orchestrator) Submit(ctx context.Context, rawURL, callerID string) (*SubmitOutcome, error) {
	res, err := o.validator.Validate(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	if cached, ok := o.cachedResult(res.Host); ok {
		o.logger.Debug("cache hit", logging.Field{Key: "domain", Value: res.Host})
		return &SubmitOutcome{Cached: cached}, nil
	}

	if o.cfg.SyncMode {
		result, err := o.scanShared(ctx, res.NormalizedURL, res.Host, callerID, nil)
		if err != nil {
			return nil, err
		}
		return &SubmitOutcome{Result: result}, nil
	}

	task := o.startTask(res.NormalizedURL, res.Host, callerID)
	return &SubmitOutcome{Task: task}, nil
}

// GetTask returns a snapshot of the task, or nil if unknown. The copy keeps
// callers from racing the worker goroutine on mutable fields.
func (o *Orchestrator) GetTask(taskID string) *model.Task {
	o.tasksMu.Lock()
	defer o.tasksMu.Unlock()
	t, ok := o.tasks[taskID]
	if !ok {
		return nil
	}
	snapshot := *t
	snapshot.Events = nil
	return &snapshot
}

// Events returns the live event channel for a running task, nil if unknown.
func (o *Orchestrator) Events(taskID string) <-chan model.TaskEvent {
	o.tasksMu.Lock()
	defer o.tasksMu.Unlock()
	t, ok := o.tasks[taskID]
	if !ok {
		return nil
	}
	return t.Events
}

// CancelTask cancels an in-flight task. Canceling a finished task is a
// no-op; the return reports whether the task is known at all.
func (o *Orchestrator) CancelTask(taskID string) bool {
	o.tasksMu.Lock()
	_, known := o.tasks[taskID]
	cancel := o.cancels[taskID]
	o.tasksMu.Unlock()
	if cancel != nil {
		cancel()
	}
	return known
}

// Close releases the cache and the fetch client.
func (o *Orchestrator) Close() {
	if o.client != nil {
		_ = o.client.Close()
	}
	if o.cache != nil {
		o.cache.Close()
	}
}

func (o *Orchestrator) cachedResult(host string) (*model.ScanResult, bool) {
	if o.cache == nil {
		return nil, false
	}
	payload, ok := o.cache.Get(cacheKeyPrefix + host)
	if !ok {
		return nil, false
	}
	var result model.ScanResult
	if err := json.Unmarshal(payload, &result); err != nil {
		o.logger.Warn("dropping unreadable cache entry",
			logging.Field{Key: "domain", Value: host},
			logging.Field{Key: "error", Value: err.Error()})
		o.cache.Delete(cacheKeyPrefix + host)
		return nil, false
	}
	return &result, true
}

func (o *Orchestrator) startTask(normalizedURL, domain, callerID string) *model.Task {
	taskID := uuid.New().String()
	task := &model.Task{
		ID:        taskID,
		URL:       normalizedURL,
		Domain:    domain,
		CallerID:  callerID,
		Status:    model.TaskQueued,
		StartedAt: time.Now().UTC(),
		Events:    make(chan model.TaskEvent, 16),
	}

	// The task outlives the submitting request, so its context derives from
	// Background with the hard time budget, not from the request context.
	taskCtx, cancel := context.WithTimeout(context.Background(), o.cfg.TaskTimeLimit)

	o.tasksMu.Lock()
	o.tasks[taskID] = task
	o.cancels[taskID] = cancel
	o.tasksMu.Unlock()

	o.emit(taskID, model.TaskEvent{
		TaskID: taskID,
		Type:   model.TaskEventStatus,
		Status: model.TaskQueued,
	})

	go o.runTask(taskCtx, cancel, task)
	return task
}

func (o *Orchestrator) runTask(ctx context.Context, cancel context.CancelFunc, task *model.Task) {
	defer cancel()
	defer func() {
		// Nil the Events field under the lock before closing so a shared
		// flight that outlives this task cannot emit on a closed channel.
		o.tasksMu.Lock()
		var events chan model.TaskEvent
		if t, ok := o.tasks[task.ID]; ok {
			t.EndedAt = time.Now().UTC()
			events = t.Events
			t.Events = nil
		}
		delete(o.cancels, task.ID)
		o.tasksMu.Unlock()
		if events != nil {
			close(events)
		}
	}()

	select {
	case o.sem <- struct{}{}:
		defer func() { <-o.sem }()
	case <-ctx.Done():
		o.finishTaskError(task.ID, scanerr.Wrap(scanerr.KindTimeout, "scan timed out while queued", ctx.Err()))
		return
	}

	o.setTaskStatus(task.ID, model.TaskInProgress)
	o.emit(task.ID, model.TaskEvent{
		TaskID: task.ID,
		Type:   model.TaskEventStatus,
		Status: model.TaskInProgress,
	})

	softTimer := time.AfterFunc(o.cfg.TaskSoftTimeLimit, func() {
		o.logger.Warn("scan running past soft time limit",
			logging.Field{Key: "task_id", Value: task.ID},
			logging.Field{Key: "domain", Value: task.Domain})
	})
	defer softTimer.Stop()

	result, err := o.scanShared(ctx, task.URL, task.Domain, task.CallerID, func(progress int, stage string) {
		o.setTaskProgress(task.ID, progress, stage)
		o.emit(task.ID, model.TaskEvent{
			TaskID:   task.ID,
			Type:     model.TaskEventProgress,
			Progress: progress,
			Stage:    stage,
		})
	})
	if err != nil {
		o.finishTaskError(task.ID, err)
		return
	}

	o.tasksMu.Lock()
	if t, ok := o.tasks[task.ID]; ok {
		t.Status = model.TaskComplete
		t.Progress = 100
		t.Stage = ""
		t.Result = result
	}
	o.tasksMu.Unlock()
	o.emit(task.ID, model.TaskEvent{
		TaskID: task.ID,
		Type:   model.TaskEventResult,
		Status: model.TaskComplete,
	})
}

// scanShared funnels concurrent scans of one host through a single pipeline
// run. The flight is detached from any one caller's context so canceling a
// task neither fails its peers nor goes unnoticed: a canceled waiter returns
// immediately while the shared run continues for everyone else. Caching and
// persistence happen per caller after the flight returns, so every caller
// gets its own history row. Only the flight that executes reports the
// intermediate progress steps.
func (o *Orchestrator) scanShared(ctx context.Context, normalizedURL, domain, callerID string, progress func(int, string)) (*model.ScanResult, error) {
	ch := o.sf.DoChan(domain, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.TaskTimeLimit)
		defer cancel()
		return o.runScan(flightCtx, normalizedURL, domain, progress)
	})

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, scanerr.Wrap(scanerr.KindCanceled, "scan canceled", ctx.Err())
		}
		return nil, scanerr.Wrap(scanerr.KindTimeout, "request timeout - site took too long to respond", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		result := res.Val.(*model.ScanResult)
		if progress != nil {
			progress(90, "Saving results")
		}
		o.cacheResult(domain, result)
		o.persistResult(ctx, callerID, result)
		return result, nil
	}
}

// runScan is the pipeline itself: fetch, analyze, score. The URL has
// already passed validation; caching and persistence belong to the callers.
func (o *Orchestrator) runScan(ctx context.Context, normalizedURL, domain string, progress func(int, string)) (result *model.ScanResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("scan panicked",
				logging.Field{Key: "domain", Value: domain},
				logging.Field{Key: "panic", Value: fmt.Sprint(r)})
			result = nil
			err = scanerr.New(scanerr.KindInternal, fmt.Sprintf("scan panicked: %v", r))
		}
	}()

	step := func(pct int, stage string) {
		if progress != nil {
			progress(pct, stage)
		}
	}

	started := time.Now()
	step(10, "Resolving DNS")

	step(20, "Fetching headers")
	resp, err := o.client.Fetch(ctx, normalizedURL)
	if err != nil {
		return nil, err
	}

	step(50, "Analyzing headers")
	findings := model.Findings{
		Headers: analyzer.Headers(resp.Headers, resp.FinalURL),
		Cookies: analyzer.Cookies(resp.Headers),
	}

	step(70, "Checking DNS")
	spf, dmarc := o.dns.CheckDomain(ctx, domain)
	findings.DNS = map[model.FindingKey]model.Finding{
		model.KeyDNSSPF:   spf,
		model.KeyDNSDMARC: dmarc,
	}

	result = report.Build(report.Input{
		URL:        normalizedURL,
		Domain:     domain,
		FinalURL:   resp.FinalURL,
		StatusCode: resp.StatusCode,
		Started:    started,
		Findings:   findings,
	})

	o.logger.Info("scan complete",
		logging.Field{Key: "domain", Value: domain},
		logging.Field{Key: "score", Value: result.Score},
		logging.Field{Key: "duration_ms", Value: result.DurationMS})
	return result, nil
}

// cacheResult stores only successful results; failures must retry fresh.
func (o *Orchestrator) cacheResult(domain string, result *model.ScanResult) {
	if o.cache == nil || result.Error != "" {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		o.logger.Warn("failed to marshal result for cache",
			logging.Field{Key: "domain", Value: domain},
			logging.Field{Key: "error", Value: err.Error()})
		return
	}
	o.cache.Set(cacheKeyPrefix+domain, payload, o.cfg.CacheTTL)
}

// persistResult saves the scan to history. Failures are logged and swallowed.
func (o *Orchestrator) persistResult(ctx context.Context, callerID string, result *model.ScanResult) {
	if o.store == nil {
		return
	}
	err := o.store.Save(ctx, history.Record{
		CallerID:   callerID,
		URL:        result.URL,
		Domain:     result.Domain,
		Score:      result.Score,
		Report:     result.Report,
		DurationMS: result.DurationMS,
		CreatedAt:  result.ScannedAt,
	})
	if err != nil {
		o.logger.Warn("failed to persist scan",
			logging.Field{Key: "domain", Value: result.Domain},
			logging.Field{Key: "error", Value: err.Error()})
	}
}

func (o *Orchestrator) emit(taskID string, ev model.TaskEvent) {
	// Sending under the lock keeps the send ordered before the channel is
	// nil'd and closed by task cleanup; the send itself never blocks.
	o.tasksMu.Lock()
	defer o.tasksMu.Unlock()
	task, ok := o.tasks[taskID]
	if !ok || task.Events == nil {
		return
	}

	// Non-blocking send; a slow consumer loses intermediate events, never
	// blocks the worker.
	select {
	case task.Events <- ev:
	default:
	}
}

func (o *Orchestrator) setTaskStatus(taskID string, status model.TaskStatus) {
	o.tasksMu.Lock()
	defer o.tasksMu.Unlock()
	if t, ok := o.tasks[taskID]; ok {
		t.Status = status
	}
}

func (o *Orchestrator) setTaskProgress(taskID string, progress int, stage string) {
	o.tasksMu.Lock()
	defer o.tasksMu.Unlock()
	// A shared flight can outlive a canceled task; never un-finish it.
	if t, ok := o.tasks[taskID]; ok && !t.Status.Terminal() {
		t.Progress = progress
		t.Stage = stage
	}
}

func (o *Orchestrator) finishTaskError(taskID string, err error) {
	msg := scanerr.UserMessage(err)
	o.tasksMu.Lock()
	if t, ok := o.tasks[taskID]; ok {
		t.Status = model.TaskFailed
		t.Error = msg
	}
	o.tasksMu.Unlock()
	o.emit(taskID, model.TaskEvent{
		TaskID: taskID,
		Type:   model.TaskEventStatus,
		Status: model.TaskFailed,
		Error:  msg,
	})
}
