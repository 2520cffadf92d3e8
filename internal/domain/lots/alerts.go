package lots

import (
	"fmt"
	"strings"
	"time"

	"lotledger/internal/core/apperror"
)

// AlertType classifies a lot alert.
type AlertType string

const (
	AlertExpiry   AlertType = "vencimiento"
	AlertLowStock AlertType = "stock_bajo"
	AlertQuality  AlertType = "calidad"
	AlertReview   AlertType = "revision"
)

// Alert is attached to a lot.
type Alert struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Active    bool      `json:"active"`
}

// Alerts is stored as a JSONB array.
type Alerts []Alert

// ActiveAlerts returns the alerts currently raised.
func (a Alerts) ActiveAlerts() Alerts {
	out := make(Alerts, 0, len(a))
	for _, al := range a {
		if al.Active {
			out = append(out, al)
		}
	}
	return out
}

func (a Alerts) find(t AlertType) int {
	for i := range a {
		if a[i].Type == t {
			return i
		}
	}
	return -1
}

// set raises or clears the derived alert of type t, keeping the original
// timestamp while the condition holds.
func (a Alerts) set(t AlertType, active bool, msg string, now time.Time) Alerts {
	i := a.find(t)
	switch {
	case i < 0 && active:
		return append(a, Alert{Type: t, Message: msg, Timestamp: now, Active: true})
	case i >= 0 && active:
		if !a[i].Active {
			a[i].Timestamp = now
		}
		a[i].Active = true
		a[i].Message = msg
	case i >= 0:
		a[i].Active = false
	}
	return a
}

// refreshAlerts derives expiry and low-stock alerts and caches the next time
// an expiry alert becomes due. windowDays applies when the lot sets no window
// of its own. Manual quality and review alerts are left untouched.
func (e *Entry) refreshAlerts(now time.Time, windowDays int) {
	live := e.State != StateInactive && e.State != StateDepleted

	expiring := live && e.ExpiresWithin(now, windowDays)
	msg := ""
	if expiring {
		msg = fmt.Sprintf("lot %s expires on %s", e.EntryNumber, e.ExpiryDate.Format("2006-01-02"))
	}
	e.Alerts = e.Alerts.set(AlertExpiry, expiring, msg, now)

	low := live && e.IsLowStock()
	msg = ""
	if low {
		msg = fmt.Sprintf("lot %s is at or below minimum stock (%s)", e.EntryNumber, e.Config.MinimumStock)
	}
	e.Alerts = e.Alerts.set(AlertLowStock, low, msg, now)

	e.NextAlertAt = nil
	if live && !expiring && e.ExpiryDate != nil {
		days := e.Config.ExpiryAlertDays
		if days <= 0 {
			days = windowDays
		}
		due := e.ExpiryDate.AddDate(0, 0, -days)
		e.NextAlertAt = &due
	}
}

// IsManual reports whether alerts of type t are raised by operators rather
// than derived from stock and expiry.
func (t AlertType) IsManual() bool {
	return t == AlertQuality || t == AlertReview
}

// applyAlert raises or clears a manual alert. It does not persist.
func (e *Entry) applyAlert(t AlertType, active bool, msg string, now time.Time) error {
	if !t.IsManual() {
		return apperror.NewInvalidInput(fmt.Sprintf("alert type %q is derived and cannot be set manually", t))
	}
	if active && strings.TrimSpace(msg) == "" {
		return apperror.NewInvalidInput("alert message is required")
	}
	if !active && e.Alerts.find(t) < 0 {
		return apperror.NewNotFound("alert", string(t)).
			WithDetail("entry_id", e.ID.String())
	}
	e.Alerts = e.Alerts.set(t, active, msg, now)
	return nil
}
