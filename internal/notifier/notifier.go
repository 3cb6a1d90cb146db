// Package notifier delivers change alerts over the channels a user configured.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/timmy/scrapewatch/internal/domain"
)

// Channel delivers a rendered message to one recipient.
type Channel interface {
	Name() string
	Send(ctx context.Context, recipient, subject, body string) error
}

// Dispatcher fans a notification out to the recipient's channels.
type Dispatcher struct {
	telegram Channel
	email    Channel
}

// NewDispatcher creates a Dispatcher. Either channel may be nil when it is
// not configured; notifications for it are then skipped.
func NewDispatcher(telegram, email Channel) *Dispatcher {
	return &Dispatcher{telegram: telegram, email: email}
}

// Notify sends n to every channel that both the user and the server have
// configured. Failures of individual channels are joined.
func (d *Dispatcher) Notify(ctx context.Context, n *domain.Notification) error {
	subject, body := Format(n)

	var errs []error
	sent := 0
	if d.telegram != nil && n.TelegramChatID != "" {
		sent++
		if err := d.telegram.Send(ctx, n.TelegramChatID, subject, body); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.telegram.Name(), err))
		}
	}
	if d.email != nil && n.Email != "" {
		sent++
		if err := d.email.Send(ctx, n.Email, subject, body); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.email.Name(), err))
		}
	}
	if sent == 0 {
		return domain.ErrNoDeliveryChannel
	}
	return errors.Join(errs...)
}

// Format renders the subject and plain-text body of a notification.
func Format(n *domain.Notification) (string, string) {
	var b strings.Builder

	if n.Batched {
		subject := fmt.Sprintf("%d changes on %s", n.Total, n.SiteURL)
		fmt.Fprintf(&b, "%d changes detected on %s.\n", n.Total, n.SiteURL)
		if len(n.Events) > 0 {
			fmt.Fprintf(&b, "\nFirst %d:\n", len(n.Events))
		}
		for _, e := range n.Events {
			b.WriteString("- ")
			b.WriteString(describe(e))
			b.WriteString("\n")
		}
		return subject, b.String()
	}

	if len(n.Events) == 0 {
		return "No changes on " + n.SiteURL, ""
	}
	e := n.Events[0]
	subject := fmt.Sprintf("%s: %s", changeLabel(e.ChangeType), n.SiteURL)
	fmt.Fprintf(&b, "%s\n", describe(e))
	if e.ChangeType == domain.ChangeModified {
		for _, line := range fieldChanges(e.PreviousValue, e.NewValue) {
			b.WriteString("  ")
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return subject, b.String()
}

func changeLabel(t domain.ChangeType) string {
	switch t {
	case domain.ChangeAdded:
		return "New item"
	case domain.ChangeRemoved:
		return "Item removed"
	case domain.ChangeModified:
		return "Item changed"
	}
	return string(t)
}

func describe(e domain.ChangeEvent) string {
	return fmt.Sprintf("[%s] %s", e.ChangeType, e.RecordKey)
}

// fieldChanges lists the fields that differ, sorted by name.
func fieldChanges(prev, next domain.FieldMap) []string {
	names := make(map[string]struct{}, len(prev)+len(next))
	for k := range prev {
		names[k] = struct{}{}
	}
	for k := range next {
		names[k] = struct{}{}
	}
	sorted := make([]string, 0, len(names))
	for k := range names {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	var lines []string
	for _, k := range sorted {
		if strings.TrimSpace(prev[k]) != strings.TrimSpace(next[k]) {
			lines = append(lines, fmt.Sprintf("%s: %q -> %q", k, prev[k], next[k]))
		}
	}
	return lines
}
