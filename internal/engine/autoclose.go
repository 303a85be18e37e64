package engine

import (
	"context"
	"sort"
	"time"

	"github.com/nhle/ticketwatch/internal/metrics"
	"github.com/nhle/ticketwatch/internal/model"
)

// CloseStale sweeps tickets awaiting a customer reply whose last activity is
// older than the configured threshold. Depending on the action, each stale
// ticket is either closed with a terminal status or its row is deleted and
// the thread trashed. Tickets awaiting an admin reply are never touched.
func (e *Engine) CloseStale(ctx context.Context) error {
	tickets, skipped, err := e.tickets.AllTickets(ctx)
	if err != nil {
		metrics.ProviderErrors.WithLabelValues("sheet").Inc()
		return err
	}
	if skipped > 0 {
		e.logger.Warn().Int("rows", skipped).
			Msg("skipped malformed ticket rows during stale sweep")
	}

	threshold := time.Duration(e.cfg.AutoClose.AfterHours) * time.Hour
	now := e.now()

	var stale []model.Ticket
	for _, t := range tickets {
		if t.Status != model.StatusAwaitingCustomer {
			continue
		}
		if now.Sub(t.Timestamp) >= threshold {
			stale = append(stale, t)
		}
	}
	if len(stale) == 0 {
		return nil
	}

	// Row deletion shifts every later row up, so deletions run bottom-to-top
	// to keep the remaining row numbers valid.
	sort.Slice(stale, func(i, j int) bool { return stale[i].RowNum > stale[j].RowNum })

	deleted := false
	for _, t := range stale {
		log := e.logger.With().
			Str("ticket_id", t.ID).
			Str("thread_id", t.ThreadID).
			Logger()

		switch e.cfg.AutoClose.Action {
		case model.AutoCloseActionDelete:
			if err := e.tickets.DeleteTicketRow(ctx, t.RowNum); err != nil {
				metrics.ProviderErrors.WithLabelValues("sheet").Inc()
				return err
			}
			deleted = true
			// Trash failure leaves an orphan thread, not an inconsistent
			// sheet; log and move on.
			if err := e.mb.TrashThread(ctx, t.ThreadID); err != nil {
				metrics.ProviderErrors.WithLabelValues("mailbox").Inc()
				log.Warn().Err(err).Msg("could not trash thread")
			}
			metrics.TicketsAutoDeleted.Inc()
			log.Info().Msg("stale ticket deleted")

		default:
			t.Status = model.StatusClosedNoResponse
			if err := e.tickets.UpdateTicket(ctx, t); err != nil {
				metrics.ProviderErrors.WithLabelValues("sheet").Inc()
				return err
			}
			metrics.TicketsAutoClosed.Inc()
			log.Info().Msg("stale ticket closed")
		}
	}

	// Deletions renumber the surviving rows; the cached map is now wrong.
	if deleted {
		threadMap, err := e.tickets.ThreadMap(ctx)
		if err != nil {
			metrics.ProviderErrors.WithLabelValues("sheet").Inc()
			return err
		}
		e.threadMap = threadMap
		e.lastMapRefresh = e.cycleCount
	}

	e.logger.Info().Int("stale", len(stale)).
		Str("action", string(e.cfg.AutoClose.Action)).
		Msg("stale sweep complete")
	return nil
}
