// Package alert delivers operational notifications for compliance findings.
// Chain divergences are fatal findings that halt automated trust in the
// ledger; they must reach a human, so the nightly verification job reports
// them through a Notifier rather than only a log line.
package alert

import "context"

// Notifier delivers an operational notification.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}
