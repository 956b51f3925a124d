package notify

import (
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"market-pipeline/pkg/types"
)

// Severity of a notification
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

const (
	DefaultPlacement  = "top-right"
	DefaultDurationMs = 5000
)

// Notification is a transient message shown to the user
type Notification struct {
	Message    string
	Severity   Severity
	Placement  string
	DurationMs int
}

// Notifier shows transient messages. Implementations must not block.
type Notifier interface {
	Notify(n Notification)
}

// FundingRequest describes why the funding flow was opened
type FundingRequest struct {
	Account   string
	Asset     string
	Required  decimal.Decimal
	Available decimal.Decimal
}

// Funding opens the on-ramp flow. Fire and forget.
type Funding interface {
	OpenFunding(req FundingRequest)
}

// ListingRefresher reloads listing views with the original filters and pagination
type ListingRefresher interface {
	RefreshListings(ctx types.ListingContext)
}

// Options fill in placement and duration for notifications that leave them empty
type Options struct {
	Placement  string
	DurationMs int
}

// Apply returns n with missing display options set
func (o Options) Apply(n Notification) Notification {
	if n.Placement == "" {
		n.Placement = o.Placement
		if n.Placement == "" {
			n.Placement = DefaultPlacement
		}
	}
	if n.DurationMs <= 0 {
		n.DurationMs = o.DurationMs
		if n.DurationMs <= 0 {
			n.DurationMs = DefaultDurationMs
		}
	}
	return n
}

// LogNotifier writes notifications to the logger
type LogNotifier struct{}

// Notify implements Notifier
func (LogNotifier) Notify(n Notification) {
	entry := log.WithFields(log.Fields{
		"placement":   n.Placement,
		"duration_ms": n.DurationMs,
	})
	switch n.Severity {
	case SeverityError:
		entry.Error(n.Message)
	case SeverityWarning:
		entry.Warn(n.Message)
	default:
		entry.Info(n.Message)
	}
}

// LogRefresher logs listing refreshes for headless use
type LogRefresher struct{}

// RefreshListings implements ListingRefresher
func (LogRefresher) RefreshListings(ctx types.ListingContext) {
	log.WithFields(log.Fields{
		"filters":   ctx.Filters,
		"page":      ctx.Page,
		"page_size": ctx.PageSize,
	}).Info("listings refreshed")
}
