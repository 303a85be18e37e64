// Package engine owns the thread-state reconciliation: mapping mailbox
// threads to ticket rows, deciding create/update/skip per cycle, and keeping
// labels, rows, and local caches consistent under at-least-once delivery.
//
// The duplicate-creation guard (re-check before allocate, watermark durable
// before the row write) is best effort: under truly concurrent external
// writers a race can still double-create. The bias is deliberate — prefer a
// missed status write over a duplicate row.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/ticketwatch/internal/autoreply"
	"github.com/nhle/ticketwatch/internal/classify"
	"github.com/nhle/ticketwatch/internal/identity"
	"github.com/nhle/ticketwatch/internal/mailbox"
	"github.com/nhle/ticketwatch/internal/metrics"
	"github.com/nhle/ticketwatch/internal/model"
	"github.com/nhle/ticketwatch/internal/state"
	"github.com/nhle/ticketwatch/internal/ticketstore"
)

// Mailbox label names mirroring ticket status.
const (
	LabelAwaitingAdmin    = "Awaiting_Admin_Reply"
	LabelAwaitingCustomer = "Awaiting_Customer_Reply"
)

// Config holds the engine's cadence and policy knobs.
type Config struct {
	// AdminEmails seeds the admin set; the admin worksheet and the
	// authenticated address are merged in each cycle.
	AdminEmails []string

	// LookbackDays bounds the first-ever mailbox query.
	LookbackDays int

	// CursorSkew is subtracted from "now" when advancing the sync cursor.
	CursorSkew time.Duration

	// MapRefreshEvery is the cycle cadence for wholesale thread-map reloads,
	// bounding the staleness left by incremental refreshes.
	MapRefreshEvery int

	// StateBackupEvery is the cycle cadence for snapshotting watermarks and
	// the cursor into the spreadsheet.
	StateBackupEvery int

	AutoClose model.AutoCloseConfig
}

// Engine reconciles mailbox threads into ticket rows. All mutable caches
// (thread map, watermarks, known senders, cursor) are owned by one Engine
// instance; cycles run one at a time.
type Engine struct {
	mb        mailbox.Mailbox
	tickets   *ticketstore.Store
	state     *state.Store
	responder *autoreply.Responder // nil when auto-reply is disabled
	cfg       Config
	logger    zerolog.Logger
	now       func() time.Time

	self         string
	threadMap    map[string]int
	watermarks   map[string]int64
	knownSenders map[string]struct{}
	cursor       int64

	cycleCount     int
	lastMapRefresh int
	bootstrapped   bool
}

// New creates an engine. responder may be nil to disable acknowledgements.
func New(
	mb mailbox.Mailbox,
	tickets *ticketstore.Store,
	st *state.Store,
	responder *autoreply.Responder,
	cfg Config,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		mb:        mb,
		tickets:   tickets,
		state:     st,
		responder: responder,
		cfg:       cfg,
		logger:    logger.With().Str("component", "engine").Logger(),
		now:       time.Now,
	}
}

// cycleLabels holds the resolved label ids for one cycle.
type cycleLabels struct {
	awaitingAdmin    string
	awaitingCustomer string
}

// RunCycle executes one reconciliation pass. A failed provider call aborts
// the remaining work; nothing already written is rolled back, and the next
// scheduled cycle is the unit of retry.
func (e *Engine) RunCycle(ctx context.Context) error {
	e.cycleCount++
	start := e.now()

	err := e.runCycle(ctx)

	metrics.CycleDuration.Observe(e.now().Sub(start).Seconds())
	if err != nil {
		metrics.CyclesTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.CyclesTotal.WithLabelValues("ok").Inc()
	return nil
}

func (e *Engine) runCycle(ctx context.Context) error {
	if err := e.bootstrap(ctx); err != nil {
		return err
	}

	// Labels are re-resolved every cycle: cheap, and self-healing against
	// manual label deletion.
	labels, err := e.ensureLabels(ctx)
	if err != nil {
		return err
	}

	cls, err := e.buildClassifier(ctx)
	if err != nil {
		return err
	}

	if err := e.refreshThreadMapIfDue(ctx); err != nil {
		return err
	}

	if e.knownSenders == nil {
		senders, err := e.tickets.KnownSenders(ctx)
		if err != nil {
			metrics.ProviderErrors.WithLabelValues("sheet").Inc()
			return err
		}
		e.knownSenders = senders
	}

	query := e.query()
	ids, err := e.mb.ListThreadIDs(ctx, query)
	if err != nil {
		metrics.ProviderErrors.WithLabelValues("mailbox").Inc()
		return fmt.Errorf("listing threads: %w", err)
	}

	// Provider listings may contain repeats; process each thread once.
	unique := dedupe(ids)
	if len(unique) != len(ids) {
		e.logger.Warn().Int("duplicates", len(ids)-len(unique)).
			Msg("removed duplicate threads from listing")
	}

	var created, updated, skipped int
	for _, tid := range unique {
		outcome, err := e.processThread(ctx, tid, cls, labels)
		if err != nil {
			return err
		}
		switch outcome {
		case outcomeCreated:
			created++
		case outcomeUpdated:
			updated++
		default:
			skipped++
		}
	}

	if err := e.commitState(ctx); err != nil {
		return err
	}

	if e.cfg.AutoClose.Enabled &&
		e.cfg.AutoClose.EveryCycles > 0 &&
		e.cycleCount%e.cfg.AutoClose.EveryCycles == 0 {
		if err := e.CloseStale(ctx); err != nil {
			return err
		}
	}

	e.logger.Info().
		Int("cycle", e.cycleCount).
		Str("query", query).
		Int("threads", len(unique)).
		Int("created", created).
		Int("updated", updated).
		Int("skipped", skipped).
		Msg("cycle complete")
	return nil
}

// bootstrap loads persisted state on the first cycle: local watermarks and
// cursor, with the spreadsheet backups as fallback, and the state-backup
// worksheets themselves.
func (e *Engine) bootstrap(ctx context.Context) error {
	if e.bootstrapped {
		return nil
	}

	if err := e.tickets.InitStateSheets(ctx); err != nil {
		metrics.ProviderErrors.WithLabelValues("sheet").Inc()
		return err
	}

	watermarks, err := e.state.Watermarks(ctx)
	if err != nil {
		return err
	}
	if len(watermarks) == 0 {
		// Fresh local db; recover from the spreadsheet backup if one exists.
		restored, err := e.tickets.RestoreWatermarks(ctx)
		if err != nil {
			metrics.ProviderErrors.WithLabelValues("sheet").Inc()
			return err
		}
		watermarks = restored
		if len(restored) > 0 {
			e.logger.Info().Int("threads", len(restored)).
				Msg("restored watermarks from spreadsheet backup")
		}
	}
	e.watermarks = watermarks

	cursor, err := e.state.Cursor(ctx)
	if err != nil {
		return err
	}
	if cursor == 0 {
		cursor, err = e.tickets.SheetCursor(ctx)
		if err != nil {
			metrics.ProviderErrors.WithLabelValues("sheet").Inc()
			return err
		}
	}
	e.cursor = cursor

	self, err := e.mb.SelfAddress(ctx)
	if err != nil {
		metrics.ProviderErrors.WithLabelValues("mailbox").Inc()
		return fmt.Errorf("resolving self address: %w", err)
	}
	e.self = self

	e.bootstrapped = true
	e.logger.Info().
		Str("self", self).
		Int("watermarks", len(watermarks)).
		Int64("cursor", cursor).
		Msg("engine state loaded")
	return nil
}

func (e *Engine) ensureLabels(ctx context.Context) (cycleLabels, error) {
	adminID, err := e.mb.GetOrCreateLabel(ctx, LabelAwaitingAdmin)
	if err != nil {
		metrics.ProviderErrors.WithLabelValues("mailbox").Inc()
		return cycleLabels{}, fmt.Errorf("resolving label %s: %w", LabelAwaitingAdmin, err)
	}
	custID, err := e.mb.GetOrCreateLabel(ctx, LabelAwaitingCustomer)
	if err != nil {
		metrics.ProviderErrors.WithLabelValues("mailbox").Inc()
		return cycleLabels{}, fmt.Errorf("resolving label %s: %w", LabelAwaitingCustomer, err)
	}
	return cycleLabels{awaitingAdmin: adminID, awaitingCustomer: custID}, nil
}

// buildClassifier recomputes the admin union for this cycle: configured
// addresses, the admin worksheet, and the authenticated self address.
func (e *Engine) buildClassifier(ctx context.Context) (*identity.Classifier, error) {
	sheetAdmins, err := e.tickets.AdminEmails(ctx)
	if err != nil {
		metrics.ProviderErrors.WithLabelValues("sheet").Inc()
		return nil, err
	}

	admins := make([]string, 0, len(e.cfg.AdminEmails)+len(sheetAdmins))
	admins = append(admins, e.cfg.AdminEmails...)
	admins = append(admins, sheetAdmins...)
	return identity.NewClassifier(admins, e.self), nil
}

func (e *Engine) refreshThreadMapIfDue(ctx context.Context) error {
	if e.threadMap != nil &&
		e.cycleCount-e.lastMapRefresh < e.cfg.MapRefreshEvery {
		return nil
	}

	threadMap, err := e.tickets.ThreadMap(ctx)
	if err != nil {
		metrics.ProviderErrors.WithLabelValues("sheet").Inc()
		return err
	}
	e.threadMap = threadMap
	e.lastMapRefresh = e.cycleCount
	e.logger.Debug().Int("tickets", len(threadMap)).Msg("thread map refreshed")
	return nil
}

// query builds the mailbox filter: cursor-bounded after the first run,
// fixed lookback window before a cursor exists.
func (e *Engine) query() string {
	if e.cursor > 0 {
		return fmt.Sprintf("after:%d", e.cursor)
	}
	return fmt.Sprintf("newer_than:%dd", e.cfg.LookbackDays)
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeCreated
	outcomeUpdated
)

// processThread runs steps 2–10 of the per-cycle algorithm for one thread.
// A returned error aborts the cycle; skips are normal flow.
func (e *Engine) processThread(
	ctx context.Context,
	tid string,
	cls *identity.Classifier,
	labels cycleLabels,
) (outcome, error) {
	log := e.logger.With().Str("thread_id", tid).Logger()

	thread, err := e.mb.GetThread(ctx, tid)
	if err != nil {
		metrics.ProviderErrors.WithLabelValues("mailbox").Inc()
		return outcomeSkipped, err
	}

	res, ok := classify.Thread(thread)
	if !ok {
		// Zero-message thread: data anomaly, no watermark change.
		log.Debug().Msg("skipping thread with no messages")
		metrics.ThreadsSkipped.WithLabelValues("empty").Inc()
		return outcomeSkipped, nil
	}

	// Watermark gate: idempotence against re-delivery of processed state.
	if res.Timestamp <= e.watermarks[tid] {
		log.Debug().Int64("ts", res.Timestamp).Msg("skipping already-processed thread")
		metrics.ThreadsSkipped.WithLabelValues("watermark").Inc()
		return outcomeSkipped, nil
	}

	rowNum, exists := e.threadMap[tid]
	isAdmin := cls.IsAdmin(res.FromEmail)

	// Outbound-only thread: no customer ticket warranted. Advance the
	// watermark so it is not re-examined, touch nothing else.
	if !exists && isAdmin {
		e.watermarks[tid] = res.Timestamp
		log.Debug().Str("from", res.FromEmail).Msg("skipping admin-initiated thread")
		metrics.ThreadsSkipped.WithLabelValues("admin_initiated").Inc()
		return outcomeSkipped, nil
	}

	status := model.StatusAwaitingAdmin
	add, remove := []string{labels.awaitingAdmin}, []string{labels.awaitingCustomer}
	if isAdmin {
		status = model.StatusAwaitingCustomer
		add, remove = remove, add
	}

	// Label sync is unconditional, even when status is unchanged: cheap,
	// and self-healing against manual label edits. It also runs before any
	// state write: a failure here aborts the thread with the watermark
	// untouched, so the next cycle retries the whole step.
	if err := e.mb.ModifyLabels(ctx, tid, add, remove); err != nil {
		metrics.ProviderErrors.WithLabelValues("mailbox").Inc()
		return outcomeSkipped, fmt.Errorf("syncing labels on thread %s: %w", tid, err)
	}

	var ticketID string
	var newSender bool

	if exists {
		ticketID, newSender, err = e.tickets.TicketRowInfo(ctx, rowNum)
		if err != nil {
			metrics.ProviderErrors.WithLabelValues("sheet").Inc()
			return outcomeSkipped, err
		}
	} else {
		// Last-moment duplicate check against the authoritative map: another
		// process (or an earlier creation in this batch that we somehow lost
		// track of) may have just created this ticket.
		freshMap, err := e.tickets.ThreadMap(ctx)
		if err != nil {
			metrics.ProviderErrors.WithLabelValues("sheet").Inc()
			return outcomeSkipped, err
		}
		if _, found := freshMap[tid]; found {
			e.threadMap = freshMap
			e.lastMapRefresh = e.cycleCount
			log.Warn().Msg("thread was created concurrently; abandoning creation")
			metrics.ThreadsSkipped.WithLabelValues("duplicate_create").Inc()
			return outcomeSkipped, nil
		}

		ticketID, err = e.tickets.NextTicketID(ctx)
		if err != nil {
			metrics.ProviderErrors.WithLabelValues("sheet").Inc()
			return outcomeSkipped, err
		}

		// Record the watermark durably before the row write. If the cycle
		// dies between here and the append, the retry sees the thread as
		// processed and skips re-creating it: one missed status write
		// instead of a possible duplicate row.
		e.watermarks[tid] = res.Timestamp
		if err := e.state.SetWatermark(ctx, tid, res.Timestamp); err != nil {
			return outcomeSkipped, err
		}
	}

	if !exists {
		if _, known := e.knownSenders[res.FromEmail]; !known {
			newSender = true
			e.knownSenders[res.FromEmail] = struct{}{}
			if err := e.tickets.RecordKnownSender(ctx, res.FromEmail, e.now()); err != nil {
				log.Warn().Err(err).Msg("could not record known sender")
			}
			log.Info().Str("from", res.FromEmail).Msg("first contact from sender")
		}
	}

	ticket := model.Ticket{
		ID:        ticketID,
		ThreadID:  tid,
		Timestamp: time.Unix(res.Timestamp, 0),
		FromEmail: res.FromEmail,
		Subject:   res.Subject,
		Status:    status,
		NewSender: newSender,
		Link:      model.ThreadLink(tid),
		RowNum:    rowNum,
	}

	if exists {
		if err := e.tickets.UpdateTicket(ctx, ticket); err != nil {
			metrics.ProviderErrors.WithLabelValues("sheet").Inc()
			return outcomeSkipped, err
		}
		e.watermarks[tid] = res.Timestamp
		metrics.TicketsUpdated.Inc()
		log.Info().Str("ticket_id", ticketID).Str("status", string(status)).
			Msg("ticket updated")
		return outcomeUpdated, nil
	}

	if err := e.tickets.AppendTicket(ctx, ticket); err != nil {
		metrics.ProviderErrors.WithLabelValues("sheet").Inc()
		return outcomeSkipped, err
	}

	// Refresh the map immediately so the next thread in this batch sees the
	// new row and cannot re-create it.
	freshMap, err := e.tickets.ThreadMap(ctx)
	if err != nil {
		metrics.ProviderErrors.WithLabelValues("sheet").Inc()
		return outcomeSkipped, err
	}
	e.threadMap = freshMap
	e.lastMapRefresh = e.cycleCount

	metrics.TicketsCreated.Inc()
	log.Info().Str("ticket_id", ticketID).Str("from", res.FromEmail).
		Str("status", string(status)).Bool("new_sender", newSender).
		Msg("ticket created")

	// Notification is not transactional with creation: a failed send is
	// logged and the ticket stands.
	if e.responder != nil {
		if err := e.responder.Acknowledge(ctx, thread, ticketID, e.self); err != nil {
			log.Error().Err(err).Msg("acknowledgement failed")
		}
	}

	return outcomeCreated, nil
}

// commitState persists watermarks locally, advances the cursor, and takes
// the periodic spreadsheet backup.
func (e *Engine) commitState(ctx context.Context) error {
	if err := e.state.SaveWatermarks(ctx, e.watermarks); err != nil {
		return err
	}

	e.cursor = e.now().Add(-e.cfg.CursorSkew).Unix()
	if err := e.state.SetCursor(ctx, e.cursor); err != nil {
		return err
	}

	if e.cfg.StateBackupEvery > 0 && e.cycleCount%e.cfg.StateBackupEvery == 0 {
		if err := e.tickets.SnapshotWatermarks(ctx, e.watermarks); err != nil {
			metrics.ProviderErrors.WithLabelValues("sheet").Inc()
			return err
		}
		if err := e.tickets.SnapshotCursor(ctx, e.cursor); err != nil {
			metrics.ProviderErrors.WithLabelValues("sheet").Inc()
			return err
		}
		e.logger.Debug().Int("cycle", e.cycleCount).Msg("state backed up to spreadsheet")
	}
	return nil
}

// dedupe returns ids with duplicates removed, order preserved.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	return unique
}
