package cmd

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-pipeline/pkg/approval"
	"market-pipeline/pkg/pricing"
	"market-pipeline/pkg/types"
)

func TestParseWhen(t *testing.T) {
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

	got, err := parseWhen("10m", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(10*time.Minute), got)

	got, err = parseWhen("+24h", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(24*time.Hour), got)

	got, err = parseWhen("2026-11-01T12:00:00Z", now)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2026, 11, 1, 12, 0, 0, 0, time.UTC)))

	_, err = parseWhen("", now)
	assert.Error(t, err)
	_, err = parseWhen("tomorrow", now)
	assert.Error(t, err)
}

func TestParseAmount(t *testing.T) {
	got, err := parseAmount(" 0.75 ")
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.RequireFromString("0.75")))

	for _, in := range []string{"0", "-1", "abc"} {
		_, err := parseAmount(in)
		assert.Error(t, err, in)
	}
}

func TestFilterTokens(t *testing.T) {
	tokens := []pricing.Token{
		{Symbol: "USDC", Blockchain: "eth"},
		{Symbol: "USDT", Blockchain: "eth"},
		{Symbol: "USDC", Blockchain: "sol"},
		{Symbol: "WETH", Blockchain: "eth"},
	}

	assert.Len(t, filterTokens(tokens, "", ""), 4)
	assert.Len(t, filterTokens(tokens, "ETH", ""), 3)
	assert.Len(t, filterTokens(tokens, "eth", "usd"), 2)
	assert.Empty(t, filterTokens(tokens, "near", ""))
}

func openTicket(t *testing.T, answer string, autoConfirm bool) (approval.Decision, string) {
	t.Helper()
	color.NoColor = true

	var out bytes.Buffer
	gate := approval.NewGate()
	newTerminalApprover(gate, strings.NewReader(answer), &out, autoConfirm, true)

	req := types.TransactionRequest{
		ID:        "req-1",
		Kind:      types.KindBid,
		SubjectID: "42",
		SignerRef: "0xabc",
		Amount:    decimal.RequireFromString("0.7"),
	}
	est := types.GasEstimate{
		FeeAmount:     decimal.RequireFromString("0.0012"),
		BufferPercent: 20,
		AssetType:     "ETH",
	}

	ticket, err := gate.Open(req, est)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d, err := gate.Wait(ctx, ticket)
	require.NoError(t, err)
	return d, out.String()
}

func TestTerminalApproverConfirms(t *testing.T) {
	d, out := openTicket(t, "y\n", false)
	assert.Equal(t, approval.DecisionConfirmed, d)
	assert.Contains(t, out, "Place bid")
	assert.Contains(t, out, "0.0012 ETH")
	assert.Contains(t, out, "20% buffer")
}

func TestTerminalApproverRejects(t *testing.T) {
	for _, answer := range []string{"n\n", "\n", "", "maybe\n"} {
		d, _ := openTicket(t, answer, false)
		assert.Equal(t, approval.DecisionRejected, d, "answer %q", answer)
	}
}

func TestTerminalApproverAutoConfirm(t *testing.T) {
	d, out := openTicket(t, "", true)
	assert.Equal(t, approval.DecisionConfirmed, d)
	assert.NotContains(t, out, "Confirm?")
}

func TestActionNameCoversEveryKind(t *testing.T) {
	for _, k := range types.AllKinds {
		assert.NotEqual(t, string(k), actionName(k))
	}
}

func newTxCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	c := &cobra.Command{Use: "bid"}
	c.Flags().BoolP("json", "j", false, "")
	c.Flags().BoolP("yes", "y", false, "")
	require.NoError(t, c.ParseFlags(args))
	return c
}

func TestApprovalSettings(t *testing.T) {
	auto, out := approvalSettings(newTxCommand(t))
	assert.False(t, auto)
	assert.Equal(t, os.Stdout, out)

	auto, out = approvalSettings(newTxCommand(t, "--json"))
	assert.False(t, auto, "json output must not confirm on its own")
	assert.Equal(t, os.Stderr, out)

	auto, _ = approvalSettings(newTxCommand(t, "--json", "--yes"))
	assert.True(t, auto)

	auto, _ = approvalSettings(newTxCommand(t, "-y"))
	assert.True(t, auto)
}

func TestJSONOutputStillAsksForApproval(t *testing.T) {
	auto, _ := approvalSettings(newTxCommand(t, "--json"))

	d, out := openTicket(t, "\n", auto)
	assert.Equal(t, approval.DecisionRejected, d)
	assert.Contains(t, out, "Confirm?")

	d, _ = openTicket(t, "yes\n", auto)
	assert.Equal(t, approval.DecisionConfirmed, d)
}
