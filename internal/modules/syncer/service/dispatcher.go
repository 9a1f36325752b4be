package service

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"sync"
	"time"

	"cdr.dev/slog/v3"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/xerrors"

	activity "dwell/internal/modules/activity/domain"
	activityin "dwell/internal/modules/activity/port/in"
	ledgerdto "dwell/internal/modules/ledger/dto"
	sessiondomain "dwell/internal/modules/session/domain"
	sessionin "dwell/internal/modules/session/port/in"
	"dwell/internal/modules/syncer/domain"
	syncerout "dwell/internal/modules/syncer/port/out"
	"dwell/internal/platform/clock"
	apperrors "dwell/internal/platform/errors"
	"dwell/internal/platform/httpapi"
)

type Options struct {
	UserID    string
	Intervals activityin.SyncSource
	Sessions  sessionin.SyncSource
	Remote    syncerout.RemoteClient
	Clock     clock.Clock

	Interval       time.Duration
	BatchSize      int
	RequestTimeout time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// CursorHorizon bounds how long acknowledged keys are remembered for
	// duplicate suppression.
	CursorHorizon time.Duration

	Registerer prometheus.Registerer
	Logger     slog.Logger
}

// Dispatcher moves buffered intervals and queued session ops to the server.
// Delivery is at-least-once: nothing is acknowledged locally before the
// server accepted it, and the server ignores spans it already applied.
type Dispatcher struct {
	userID    string
	intervals activityin.SyncSource
	sessions  sessionin.SyncSource
	remote    syncerout.RemoteClient
	clock     clock.Clock
	metrics   *Metrics
	logger    slog.Logger

	interval       time.Duration
	batchSize      int
	requestTimeout time.Duration
	backoffInitial time.Duration
	backoffMax     time.Duration
	horizon        time.Duration

	flight singleflight.Group
	reset  chan struct{}

	// Owned by the running dispatch; singleflight keeps it exclusive.
	cursor       *domain.Cursor
	recovered    bool
	groupGates   map[string]*retryGate
	sessionGates map[string]*retryGate

	mu     sync.Mutex
	status domain.Status
}

func NewDispatcher(opts Options) (*Dispatcher, error) {
	metrics, err := NewMetrics(opts.Registerer)
	if err != nil {
		return nil, xerrors.Errorf("register sync metrics: %w", err)
	}
	d := &Dispatcher{
		userID:         opts.UserID,
		intervals:      opts.Intervals,
		sessions:       opts.Sessions,
		remote:         opts.Remote,
		clock:          opts.Clock,
		metrics:        metrics,
		logger:         opts.Logger.Named("dispatcher"),
		interval:       opts.Interval,
		batchSize:      opts.BatchSize,
		requestTimeout: opts.RequestTimeout,
		backoffInitial: opts.BackoffInitial,
		backoffMax:     opts.BackoffMax,
		horizon:        opts.CursorHorizon,
		reset:          make(chan struct{}, 1),
		cursor:         domain.NewCursor(),
		groupGates:     map[string]*retryGate{},
		sessionGates:   map[string]*retryGate{},
	}
	if d.interval <= 0 {
		d.interval = 5 * time.Minute
	}
	if d.batchSize <= 0 {
		d.batchSize = 200
	}
	if d.requestTimeout <= 0 {
		d.requestTimeout = 15 * time.Second
	}
	if d.backoffInitial <= 0 {
		d.backoffInitial = 30 * time.Second
	}
	if d.backoffMax < d.backoffInitial {
		d.backoffMax = 30 * time.Minute
	}
	if d.horizon <= 0 {
		d.horizon = 7 * 24 * time.Hour
	}
	return d, nil
}

// DispatchPending runs one dispatch cycle now. A call made while a cycle is
// in flight joins it instead of starting another. The scheduled ticker is
// pushed out by a full interval.
func (d *Dispatcher) DispatchPending(ctx context.Context) (domain.Result, error) {
	result, err := d.do(ctx, "manual")
	select {
	case d.reset <- struct{}{}:
	default:
	}
	return result, err
}

// Run dispatches once at start and then on every tick until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := d.clock.NewTicker(d.interval, "dispatcher", "tick")
	defer ticker.Stop()

	d.scheduled(ctx, "start")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.scheduled(ctx, "tick")
		case <-d.reset:
			ticker.Reset(d.interval, "dispatcher", "reset")
		}
	}
}

func (d *Dispatcher) Status() domain.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *Dispatcher) scheduled(ctx context.Context, trigger string) {
	if _, err := d.do(ctx, trigger); err != nil && ctx.Err() == nil {
		d.logger.Warn(ctx, "scheduled dispatch failed", slog.F("trigger", trigger), slog.Error(err))
	}
}

func (d *Dispatcher) do(ctx context.Context, trigger string) (domain.Result, error) {
	ch := d.flight.DoChan("dispatch", func() (any, error) {
		return d.dispatch(ctx, trigger)
	})
	select {
	case res := <-ch:
		result, _ := res.Val.(domain.Result)
		return result, res.Err
	case <-ctx.Done():
		return domain.Result{}, ctx.Err()
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, trigger string) (domain.Result, error) {
	start := d.clock.Now("dispatcher", "start")
	d.metrics.dispatches.WithLabelValues(trigger).Inc()

	var result domain.Result
	err := d.dispatchIntervals(ctx, &result)
	if err == nil {
		err = d.dispatchSessions(ctx, &result)
	}
	d.metrics.duration.Observe(d.clock.Since(start, "dispatcher", "end").Seconds())
	d.metrics.backingOff.Set(float64(len(d.groupGates) + len(d.sessionGates)))

	d.record(start, result, err)
	fields := []slog.Field{
		slog.F("trigger", trigger),
		slog.F("synced", result.Synced),
		slog.F("failed", result.Failed),
		slog.F("dropped", result.Dropped),
		slog.F("deferred", result.Deferred),
		slog.F("suppressed", result.Suppressed),
		slog.F("sessions", result.Sessions),
		slog.F("sessions_failed", result.SessionsFailed),
	}
	switch {
	case err != nil:
		d.logger.Error(ctx, "dispatch aborted", append(fields, slog.Error(err))...)
	case result.Empty():
		d.logger.Debug(ctx, "nothing to dispatch", fields...)
	default:
		d.logger.Info(ctx, "dispatch finished", fields...)
	}
	return result, err
}

func (d *Dispatcher) record(start time.Time, result domain.Result, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status.Runs++
	d.status.LastRunAt = start.UnixMilli()
	d.status.LastResult = result
	d.status.LastError = ""
	if err == nil {
		err = result.Err()
	}
	if err != nil {
		d.status.LastError = err.Error()
	}
	d.status.BackingOff = len(d.groupGates) + len(d.sessionGates)
	d.status.CursorSize = d.cursor.Len()
	d.status.NextRetry = 0
	for _, gates := range []map[string]*retryGate{d.groupGates, d.sessionGates} {
		for _, g := range gates {
			if until := g.until.UnixMilli(); d.status.NextRetry == 0 || until < d.status.NextRetry {
				d.status.NextRetry = until
			}
		}
	}
}

func (d *Dispatcher) recoverCursor(ctx context.Context) error {
	if d.recovered {
		return nil
	}
	items, err := d.intervals.Recovery(ctx)
	if err != nil {
		return xerrors.Errorf("rebuild sync cursor: %w", err)
	}
	d.cursor.Rebuild(items)
	d.recovered = true
	d.logger.Debug(ctx, "sync cursor rebuilt", slog.F("acknowledged_keys", d.cursor.Len()))
	return nil
}

func (d *Dispatcher) dispatchIntervals(ctx context.Context, result *domain.Result) error {
	if err := d.recoverCursor(ctx); err != nil {
		return err
	}
	pending, err := d.intervals.Pending(ctx, d.batchSize)
	if err != nil {
		return xerrors.Errorf("drain buffer: %w", err)
	}
	now := d.clock.Now("dispatcher", "intervals")
	d.cursor.Prune(now.Add(-d.horizon).UnixMilli())

	var (
		fresh      []activity.Interval
		suppressed []string
	)
	for _, in := range pending {
		switch {
		case d.cursor.InFlight(in.ID):
		case d.cursor.Acked(in.Key()):
			suppressed = append(suppressed, in.ID)
		default:
			fresh = append(fresh, in)
		}
	}
	if len(suppressed) > 0 {
		if err := d.intervals.Acknowledge(ctx, suppressed); err != nil {
			return xerrors.Errorf("acknowledge duplicates: %w", err)
		}
		result.Suppressed += len(suppressed)
		d.metrics.addIntervals(OutcomeSuppressed, len(suppressed))
		d.logger.Debug(ctx, "suppressed already acknowledged intervals", slog.F("count", len(suppressed)))
	}

	groups, err := domain.GroupIntervals(fresh)
	if err != nil {
		return err
	}
	for i, g := range groups {
		gate := d.groupGates[g.Key.String()]
		if gate != nil && gate.blocked(now) {
			result.Deferred += len(g.Intervals)
			d.metrics.addIntervals(OutcomeDeferred, len(g.Intervals))
			continue
		}
		abort, err := d.sendGroup(ctx, g, result)
		if err != nil {
			return err
		}
		if abort {
			for _, rest := range groups[i+1:] {
				result.Deferred += len(rest.Intervals)
				d.metrics.addIntervals(OutcomeDeferred, len(rest.Intervals))
			}
			break
		}
	}
	return nil
}

// sendGroup upserts one group. It reports abort when the server is
// unreachable so the remaining groups wait for the next cycle.
func (d *Dispatcher) sendGroup(ctx context.Context, g domain.Group, result *domain.Result) (bool, error) {
	category, err := d.intervals.Category(ctx, g.Key.Domain)
	if err != nil {
		return false, xerrors.Errorf("resolve category: %w", err)
	}
	logger := d.logger.With(slog.F("domain", g.Key.Domain), slog.F("local_date", g.Key.LocalDate))

	batch := g.Intervals
	for {
		if len(batch) == 0 {
			// Everything was rejected; nothing is left to retry.
			delete(d.groupGates, g.Key.String())
			return false, nil
		}
		req := d.aggregateRequest(g.Key, category, batch)
		resp, sendErr := d.upsert(ctx, req, batch)
		if ctx.Err() != nil {
			return true, ctx.Err()
		}

		var validation *apperrors.ValidationError
		switch {
		case sendErr == nil:
			return false, d.acknowledgeGroup(ctx, g.Key, batch, resp, result)

		case errors.As(sendErr, &validation):
			bad, rest := partitionRejected(batch, validation.Fields)
			if err := d.intervals.Drop(ctx, ids(bad)); err != nil {
				return false, xerrors.Errorf("drop rejected intervals: %w", err)
			}
			result.Dropped += len(bad)
			d.metrics.addIntervals(OutcomeDropped, len(bad))
			logger.Warn(ctx, "dropped intervals rejected by validation",
				slog.F("dropped", len(bad)),
				slog.F("remaining", len(rest)),
				slog.Error(sendErr),
			)
			batch = rest

		default:
			gate := d.gate(d.groupGates, g.Key.String())
			delay := gate.fail(d.clock.Now("dispatcher", "backoff"))
			result.Failed += len(batch)
			d.metrics.addIntervals(OutcomeFailed, len(batch))
			logger.Warn(ctx, "upsert failed, backing off",
				slog.F("intervals", len(batch)),
				slog.F("retry_in", delay),
				slog.Error(sendErr),
			)
			return unreachable(sendErr), nil
		}
	}
}

func (d *Dispatcher) upsert(ctx context.Context, req ledgerdto.AggregateRequest, batch []activity.Interval) (ledgerdto.AggregateResponse, error) {
	if err := validateLocally(req); err != nil {
		return ledgerdto.AggregateResponse{}, err
	}
	batchIDs := ids(batch)
	d.cursor.Begin(batchIDs...)
	defer d.cursor.Done(batchIDs...)
	reqCtx, cancel := context.WithTimeout(ctx, d.requestTimeout)
	defer cancel()
	return d.remote.UpsertAggregate(reqCtx, req)
}

func (d *Dispatcher) acknowledgeGroup(ctx context.Context, key domain.GroupKey, batch []activity.Interval, resp ledgerdto.AggregateResponse, result *domain.Result) error {
	if err := d.intervals.Acknowledge(ctx, ids(batch)); err != nil {
		return xerrors.Errorf("acknowledge intervals: %w", err)
	}
	for _, in := range batch {
		d.cursor.MarkAcked(in.Key())
	}
	delete(d.groupGates, key.String())
	result.Synced += len(batch)
	d.metrics.addIntervals(OutcomeSynced, len(batch))

	remote := activity.Aggregate{
		UserID:    d.userID,
		LocalDate: resp.LocalDate,
		Domain:    resp.Domain,
		Category:  resp.Category,
		TotalTime: resp.TotalTime,
		Timezone:  activity.Timezone{Name: resp.Timezone.Name, OffsetMinutes: resp.Timezone.OffsetMinutes},
		UpdatedAt: resp.UpdatedAt,
	}
	if remote.LocalDate == "" {
		remote.LocalDate = key.LocalDate
	}
	if remote.Domain == "" {
		remote.Domain = key.Domain
	}
	if _, err := d.intervals.Reconcile(ctx, remote); err != nil {
		d.logger.Warn(ctx, "reconcile remote total", slog.F("domain", key.Domain), slog.Error(err))
	}
	return nil
}

func (d *Dispatcher) aggregateRequest(key domain.GroupKey, category string, batch []activity.Interval) ledgerdto.AggregateRequest {
	spans := make([]ledgerdto.Span, len(batch))
	for i, in := range batch {
		spans[i] = ledgerdto.Span{StartTime: in.StartMs, EndTime: in.EndMs, Duration: in.Duration}
	}
	return ledgerdto.AggregateRequest{
		UserID:    d.userID,
		LocalDate: key.LocalDate,
		Domain:    key.Domain,
		Category:  category,
		Timezone:  ledgerdto.Timezone{Name: key.TimezoneName, OffsetMinutes: key.OffsetMinutes},
		Sessions:  spans,
	}
}

func (d *Dispatcher) dispatchSessions(ctx context.Context, result *domain.Result) error {
	if d.sessions == nil {
		return nil
	}
	ops, err := d.sessions.PendingOps(ctx, d.batchSize)
	if err != nil {
		return xerrors.Errorf("read session outbox: %w", err)
	}
	var order []string
	byLocal := map[string][]sessiondomain.Op{}
	for _, op := range ops {
		if _, ok := byLocal[op.LocalID]; !ok {
			order = append(order, op.LocalID)
		}
		byLocal[op.LocalID] = append(byLocal[op.LocalID], op)
	}

	now := d.clock.Now("dispatcher", "sessions")
	for i, localID := range order {
		if gate := d.sessionGates[localID]; gate != nil && gate.blocked(now) {
			result.SessionsDeferred++
			d.metrics.addSessions(OutcomeDeferred, 1)
			continue
		}
		abort, err := d.sendSession(ctx, byLocal[localID], result)
		if err != nil {
			return err
		}
		if abort {
			result.SessionsDeferred += len(order) - i - 1
			d.metrics.addSessions(OutcomeDeferred, len(order)-i-1)
			break
		}
	}
	return nil
}

// sendSession delivers the queued ops of one local session. They collapse
// into the latest snapshot: a create when the server has not assigned an id
// yet, otherwise a patch.
func (d *Dispatcher) sendSession(ctx context.Context, ops []sessiondomain.Op, result *domain.Result) (bool, error) {
	latest := ops[len(ops)-1].Snapshot
	localID := latest.LocalID
	seqs := make([]int64, len(ops))
	for i, op := range ops {
		seqs[i] = op.Seq
	}
	logger := d.logger.With(slog.F("local_id", localID), slog.F("ops", len(ops)))

	sendErr := d.deliverSession(ctx, latest)
	if ctx.Err() != nil {
		return true, ctx.Err()
	}
	switch {
	case sendErr == nil:
		if err := d.sessions.AckOps(ctx, seqs); err != nil {
			return false, xerrors.Errorf("ack session ops: %w", err)
		}
		delete(d.sessionGates, localID)
		result.Sessions++
		d.metrics.addSessions(OutcomeSynced, 1)
		return false, nil

	case errors.Is(sendErr, apperrors.ErrActiveSessionExists):
		record, err := d.sessions.ResolveConflict(ctx, localID)
		if err != nil {
			return false, xerrors.Errorf("resolve session conflict: %w", err)
		}
		delete(d.sessionGates, localID)
		result.Conflicts = append(result.Conflicts, localID)
		d.metrics.addSessions(OutcomeConflict, 1)
		logger.Warn(ctx, "server holds another active session, interrupted local session",
			slog.F("status", record.Status))
		return false, nil

	case errors.Is(sendErr, apperrors.ErrSyncValidation):
		if err := d.sessions.AckOps(ctx, seqs); err != nil {
			return false, xerrors.Errorf("drop session ops: %w", err)
		}
		delete(d.sessionGates, localID)
		result.SessionsDropped++
		d.metrics.addSessions(OutcomeDropped, 1)
		logger.Warn(ctx, "dropped session ops rejected by validation", slog.Error(sendErr))
		return false, nil

	default:
		delay := d.gate(d.sessionGates, localID).fail(d.clock.Now("dispatcher", "backoff"))
		result.SessionsFailed++
		d.metrics.addSessions(OutcomeFailed, 1)
		logger.Warn(ctx, "session sync failed, backing off", slog.F("retry_in", delay), slog.Error(sendErr))
		return unreachable(sendErr), nil
	}
}

func (d *Dispatcher) deliverSession(ctx context.Context, record sessiondomain.Record) error {
	reqCtx, cancel := context.WithTimeout(ctx, d.requestTimeout)
	defer cancel()

	if record.SessionID == "" {
		req := sessionRequest(d.userID, record)
		if err := validateLocally(req); err != nil {
			return err
		}
		created, err := d.remote.CreateSession(reqCtx, req)
		if err != nil {
			return err
		}
		if err := d.sessions.AssignRemoteID(ctx, record.LocalID, created.SessionID); err != nil {
			return xerrors.Errorf("assign remote session id: %w", err)
		}
		return nil
	}
	patch := sessionPatch(record)
	if err := validateLocally(patch); err != nil {
		return err
	}
	return d.remote.UpdateSession(reqCtx, record.SessionID, patch)
}

func (d *Dispatcher) gate(gates map[string]*retryGate, key string) *retryGate {
	g, ok := gates[key]
	if !ok {
		g = newRetryGate(d.clock, d.backoffInitial, d.backoffMax)
		gates[key] = g
	}
	return g
}

func sessionRequest(userID string, r sessiondomain.Record) ledgerdto.SessionRequest {
	return ledgerdto.SessionRequest{
		UserID:          userID,
		ClientSessionID: r.LocalID,
		SessionType:     string(r.Type),
		Status:          string(r.Status),
		PlannedDuration: r.PlannedDuration,
		StartTime:       r.StartTime,
		EndTime:         r.EndTime,
		Duration:        r.Duration,
		PausedDuration:  r.PausedDuration,
		PauseHistory:    pauseHistory(r.PauseHistory),
		Notes:           r.Notes,
		WasSuccessful:   r.WasSuccessful,
		EndReason:       r.EndReason,
	}
}

func sessionPatch(r sessiondomain.Record) ledgerdto.SessionPatch {
	return ledgerdto.SessionPatch{
		Status:         string(r.Status),
		EndTime:        r.EndTime,
		Duration:       r.Duration,
		PausedDuration: r.PausedDuration,
		PauseHistory:   pauseHistory(r.PauseHistory),
		Notes:          r.Notes,
		WasSuccessful:  r.WasSuccessful,
		EndReason:      r.EndReason,
	}
}

func pauseHistory(entries []sessiondomain.PauseEntry) []ledgerdto.PauseEntry {
	out := make([]ledgerdto.PauseEntry, len(entries))
	for i, e := range entries {
		out[i] = ledgerdto.PauseEntry{PausedAt: e.PausedAt, ResumedAt: e.ResumedAt, Reason: e.Reason}
	}
	return out
}

// validateLocally applies the server's request validation before sending, so
// payloads the server would reject are dropped without a round trip.
func validateLocally(body any) error {
	fields, err := httpapi.Validate(body)
	if err != nil {
		return xerrors.Errorf("validate request: %w", err)
	}
	if len(fields) == 0 {
		return nil
	}
	out := make([]apperrors.FieldError, len(fields))
	for i, f := range fields {
		out[i] = apperrors.FieldError{Field: f.Field, Detail: f.Detail}
	}
	return &apperrors.ValidationError{
		Code:    apperrors.CodeValidationFailed,
		Message: "rejected by local validation",
		Fields:  out,
	}
}

var sessionIndex = regexp.MustCompile(`^sessions\[(\d+)\]`)

// partitionRejected splits batch into the intervals addressed by field errors
// and the rest. Errors that do not address a single span reject the batch.
func partitionRejected(batch []activity.Interval, fields []apperrors.FieldError) (bad, rest []activity.Interval) {
	rejected := map[int]bool{}
	for _, f := range fields {
		m := sessionIndex.FindStringSubmatch(f.Field)
		if m == nil {
			return batch, nil
		}
		i, err := strconv.Atoi(m[1])
		if err != nil || i >= len(batch) {
			return batch, nil
		}
		rejected[i] = true
	}
	if len(rejected) == 0 {
		return batch, nil
	}
	for i, in := range batch {
		if rejected[i] {
			bad = append(bad, in)
		} else {
			rest = append(rest, in)
		}
	}
	return bad, rest
}

// unreachable reports failures where no response arrived at all.
func unreachable(err error) bool {
	var transport *apperrors.TransportError
	if errors.As(err, &transport) {
		return transport.Status == 0
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func ids(intervals []activity.Interval) []string {
	out := make([]string, len(intervals))
	for i, in := range intervals {
		out[i] = in.ID
	}
	return out
}
