package service

import (
	"context"
	"errors"
	"time"

	"github.com/timmy/scrapewatch/internal/domain"
	"github.com/timmy/scrapewatch/internal/logger"
	"github.com/timmy/scrapewatch/internal/metrics"
)

// NotifyConfig holds configuration for the change processor.
type NotifyConfig struct {
	// BatchSamples is how many events a batched summary carries.
	BatchSamples int
	// RetryDelay is the pause before the single dispatch retry.
	RetryDelay time.Duration
}

// ChangeProcessor consumes run completions: it diffs each run against its
// predecessor, stores the change events and notifies the owner. Notification
// is best-effort and never affects what was stored.
type ChangeProcessor struct {
	runs     RunStore
	settings SettingsStore
	notifier Notifier
	logger   *logger.Logger
	cfg      NotifyConfig
}

// NewChangeProcessor creates a new ChangeProcessor. notifier may be nil, in
// which case events are stored but nobody is notified.
func NewChangeProcessor(runs RunStore, settings SettingsStore, notifier Notifier, log *logger.Logger, cfg *NotifyConfig) *ChangeProcessor {
	c := *cfg
	if c.BatchSamples <= 0 {
		c.BatchSamples = 5
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	return &ChangeProcessor{runs: runs, settings: settings, notifier: notifier, logger: log, cfg: c}
}

func (p *ChangeProcessor) log(ctx context.Context) *logger.Logger {
	return logger.FromContextOr(ctx, p.logger)
}

// Consume processes completions until the channel is closed.
func (p *ChangeProcessor) Consume(ctx context.Context, completions <-chan domain.RunCompletion) {
	ctx = logger.SetComponent(ctx, "changes")
	for c := range completions {
		p.Process(ctx, c)
	}
}

// Process handles one completion and returns the stored change events.
func (p *ChangeProcessor) Process(ctx context.Context, c domain.RunCompletion) []domain.ChangeEvent {
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldInstructionID: c.Instruction.ID,
		logger.FieldUserID:        c.Instruction.UserID,
	})

	events := Diff(c.Previous, c.Current)
	if len(events) == 0 {
		return nil
	}

	if err := p.runs.SaveChanges(ctx, events); err != nil {
		p.log(ctx).WithError(err).Error("Failed to save change events")
		return nil
	}
	for _, e := range events {
		metrics.ChangeEventsTotal.WithLabelValues(string(e.ChangeType)).Inc()
	}
	logger.With(logger.Fields{logger.FieldCount: len(events)}).Info(ctx, "Change events stored")

	p.notify(ctx, &c.Instruction, events)
	return events
}

func (p *ChangeProcessor) notify(ctx context.Context, ins *domain.Instruction, events []domain.ChangeEvent) {
	if p.notifier == nil {
		return
	}

	settings, err := p.settings.Get(ctx, ins.UserID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			p.log(ctx).WithError(err).Warn("Failed to load notification settings")
		}
		return
	}

	for _, n := range PlanNotifications(ins, events, settings, p.cfg.BatchSamples) {
		n := n
		kind := "single"
		if n.Batched {
			kind = "batch"
		}
		err := p.dispatch(ctx, &n)
		if errors.Is(err, domain.ErrNoDeliveryChannel) {
			metrics.NotificationsTotal.WithLabelValues(kind, "skipped").Inc()
			p.log(ctx).Debug("No channel of the user is enabled on this server, notification skipped")
			continue
		}
		if err != nil {
			metrics.NotificationsTotal.WithLabelValues(kind, "failed").Inc()
			p.log(ctx).WithError(err).Warn("Notification dispatch failed")
			continue
		}
		metrics.NotificationsTotal.WithLabelValues(kind, "sent").Inc()
	}
}

// dispatch sends n, retrying once on failure. A missing channel is final.
func (p *ChangeProcessor) dispatch(ctx context.Context, n *domain.Notification) error {
	err := p.notifier.Notify(ctx, n)
	if err == nil || errors.Is(err, domain.ErrNoDeliveryChannel) {
		return err
	}
	p.log(ctx).WithError(err).Debug("Notification failed, retrying once")

	if p.cfg.RetryDelay > 0 {
		timer := time.NewTimer(p.cfg.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return p.notifier.Notify(ctx, n)
}

// PlanNotifications decides what to send for one run's events. Below the
// user's alert threshold every event gets its own notification; at or above
// it a single summary with the first samples events is sent. Nothing is
// planned without events or without a configured channel.
func PlanNotifications(ins *domain.Instruction, events []domain.ChangeEvent, settings *domain.NotificationSettings, samples int) []domain.Notification {
	if len(events) == 0 || !settings.HasChannel() {
		return nil
	}

	threshold := settings.AlertThreshold
	if threshold <= 0 {
		threshold = domain.DefaultAlertThreshold
	}

	base := domain.Notification{
		UserID:         ins.UserID,
		InstructionID:  ins.ID,
		SiteURL:        ins.SiteURL,
		Total:          len(events),
		TelegramChatID: settings.TelegramChatID,
		Email:          settings.NotificationEmail,
	}

	if len(events) >= threshold {
		n := base
		n.Batched = true
		if samples > len(events) {
			samples = len(events)
		}
		n.Events = append([]domain.ChangeEvent(nil), events[:samples]...)
		return []domain.Notification{n}
	}

	out := make([]domain.Notification, 0, len(events))
	for _, e := range events {
		n := base
		n.Total = 1
		n.Events = []domain.ChangeEvent{e}
		out = append(out, n)
	}
	return out
}
