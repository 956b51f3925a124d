package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"

	"market-pipeline/pkg/approval"
	"market-pipeline/pkg/types"
)

// terminalApprover shows the approval dialog on the terminal and reports the
// user's decision back to the gate
type terminalApprover struct {
	gate        *approval.Gate
	in          *bufio.Reader
	out         io.Writer
	autoConfirm bool
	spin        *spinner.Spinner

	mu sync.Mutex
}

func newTerminalApprover(gate *approval.Gate, in io.Reader, out io.Writer, autoConfirm, quiet bool) *terminalApprover {
	a := &terminalApprover{
		gate:        gate,
		in:          bufio.NewReader(in),
		out:         out,
		autoConfirm: autoConfirm,
	}
	if !quiet {
		a.spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(out))
	}
	gate.Subscribe(a.observe)
	return a
}

// Loading shows the spinner with a message until the dialog opens
func (a *terminalApprover) Loading(message string) {
	if a.spin == nil {
		return
	}
	a.spin.Suffix = " " + message
	a.spin.Start()
}

// Done stops the spinner
func (a *terminalApprover) Done() {
	if a.spin != nil {
		a.spin.Stop()
	}
}

func (a *terminalApprover) observe(ev approval.Event) {
	switch ev.State {
	case approval.StateAwaitingApproval:
		a.Done()
		go a.prompt(ev)
	case approval.StateConfirmed:
		a.Loading("Submitting transaction...")
	default:
		a.Done()
	}
}

func (a *terminalApprover) prompt(ev approval.Event) {
	// One dialog on screen at a time
	a.mu.Lock()
	defer a.mu.Unlock()

	if t := a.gate.Current(ev.Subject); t == nil || t.ID != ev.TicketID {
		return
	}

	a.display(ev)

	confirmed := a.autoConfirm
	if !confirmed {
		confirmed = a.ask()
	}

	var err error
	if confirmed {
		err = a.gate.Confirm(ev.Subject, ev.TicketID)
	} else {
		err = a.gate.Reject(ev.Subject, ev.TicketID)
	}
	if errors.Is(err, approval.ErrStaleApproval) {
		log.WithFields(log.Fields{
			"subject": ev.Subject,
			"ticket":  ev.TicketID,
		}).Debug("approval answered after it was superseded")
	}
}

func (a *terminalApprover) display(ev approval.Event) {
	req := ev.Request
	est := ev.Estimate

	fmt.Fprintln(a.out)
	color.New(color.FgYellow, color.Bold).Fprintln(a.out, "Approve transaction")
	fmt.Fprintln(a.out, strings.Repeat("─", 50))
	fmt.Fprintf(a.out, "  Action:  %s\n", color.CyanString(actionName(req.Kind)))
	fmt.Fprintf(a.out, "  Token:   %s\n", req.SubjectID)
	if !req.Amount.IsZero() {
		amount := req.Amount.String()
		if req.PriceCurrency != "" {
			amount += " " + strings.ToUpper(req.PriceCurrency)
		}
		fmt.Fprintf(a.out, "  Amount:  %s\n", amount)
		if req.Conversion != nil {
			fmt.Fprintf(a.out, "           ≈ %s %s\n", req.Conversion.NativeAmount.String(), est.AssetType)
		}
	}
	if w := req.AuctionWindow; w != nil {
		fmt.Fprintf(a.out, "  Starts:  %s\n", w.StartTime.Local().Format(time.RFC1123))
		fmt.Fprintf(a.out, "  Ends:    %s\n", w.EndTime.Local().Format(time.RFC1123))
	}
	fmt.Fprintf(a.out, "  Fee:     %s %s\n", color.GreenString(est.FeeAmount.String()), est.AssetType)
	fmt.Fprintf(a.out, "           includes a %d%% buffer\n", est.BufferPercent)
	if req.FollowOn != "" {
		fmt.Fprintf(a.out, "  Next:    %s\n", actionName(req.FollowOn))
	}
	fmt.Fprintln(a.out, strings.Repeat("─", 50))
}

func (a *terminalApprover) ask() bool {
	fmt.Fprint(a.out, "\nConfirm? (y/N): ")
	answer, err := a.in.ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func actionName(kind types.Kind) string {
	switch kind {
	case types.KindApprove:
		return "Approve marketplace"
	case types.KindListFixed:
		return "List at fixed price"
	case types.KindListAuction:
		return "List for auction"
	case types.KindBid:
		return "Place bid"
	case types.KindAcceptOffer:
		return "Accept offer"
	case types.KindClaim:
		return "Claim auction"
	case types.KindCancelFixed:
		return "Cancel listing"
	case types.KindCancelAuction:
		return "Cancel auction"
	default:
		return string(kind)
	}
}
