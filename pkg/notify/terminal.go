package notify

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
)

// Terminal prints colored notifications and the funding redirect
type Terminal struct {
	out       io.Writer
	onrampURL string
	mu        sync.Mutex
}

// NewTerminal creates a terminal notifier writing to out
func NewTerminal(out io.Writer, onrampURL string) *Terminal {
	return &Terminal{out: out, onrampURL: onrampURL}
}

// Notify implements Notifier
func (t *Terminal) Notify(n Notification) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := colorFor(n.Severity)
	c.Fprintf(t.out, "%s %s\n", symbolFor(n.Severity), n.Message)
}

// OpenFunding implements Funding
func (t *Terminal) OpenFunding(req FundingRequest) {
	t.mu.Lock()
	defer t.mu.Unlock()

	color.New(color.FgYellow).Fprintf(t.out, "\nInsufficient %s balance: need %s, have %s\n",
		req.Asset, req.Required.String(), req.Available.String())
	if t.onrampURL == "" {
		fmt.Fprintf(t.out, "Fund account %s and try again.\n", req.Account)
		return
	}
	fmt.Fprintf(t.out, "Fund account %s at: %s\n", req.Account, color.CyanString(t.onrampURL))
}

func colorFor(s Severity) *color.Color {
	switch s {
	case SeveritySuccess:
		return color.New(color.FgGreen)
	case SeverityWarning:
		return color.New(color.FgYellow)
	case SeverityError:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgCyan)
	}
}

func symbolFor(s Severity) string {
	switch s {
	case SeveritySuccess:
		return "✓"
	case SeverityWarning:
		return "!"
	case SeverityError:
		return "✗"
	default:
		return "›"
	}
}
