package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"market-pipeline/pkg/approval"
	"market-pipeline/pkg/balance"
	"market-pipeline/pkg/metrics"
	"market-pipeline/pkg/notify"
	"market-pipeline/pkg/provider"
	"market-pipeline/pkg/store"
	"market-pipeline/pkg/types"
)

// DefaultPriceTTL is how long a price conversion stays valid for a chained listing
const DefaultPriceTTL = 60 * time.Second

// BalanceGuard checks asset requirements of a signer
type BalanceGuard interface {
	CheckRequirements(ctx context.Context, signerRef string, reqs []balance.Requirement) (*balance.Shortfall, error)
}

// FeeEstimator returns a buffered fee for a request
type FeeEstimator interface {
	Estimate(ctx context.Context, kind types.Kind, req types.TransactionRequest) (types.GasEstimate, error)
}

// Executor submits a confirmed request
type Executor interface {
	Submit(ctx context.Context, req types.TransactionRequest, est types.GasEstimate) (types.TransactionResult, error)
}

// PriceConverter converts a listing price into the native asset
type PriceConverter interface {
	Convert(ctx context.Context, amount decimal.Decimal, currency string) (types.PriceConversion, error)
}

// Config wires the orchestrator collaborators
type Config struct {
	Guard     BalanceGuard
	Estimator FeeEstimator
	Executor  Executor
	Gate      *approval.Gate
	Store     *store.Store

	Market    provider.MarketReader // Optional, enables the approval pre-check and claim validation
	Converter PriceConverter        // Optional, required for listings priced in another currency
	Notifier  notify.Notifier
	Funding   notify.Funding
	Refresher notify.ListingRefresher
	Metrics   *metrics.Pipeline

	FeeAsset        string
	MinFeeReserve   decimal.Decimal
	PriceTTL        time.Duration
	ApprovalTimeout time.Duration // Zero waits until the caller's context is done
	Notify          notify.Options
}

// Orchestrator drives every transaction kind through one approval pipeline
type Orchestrator struct {
	guard     BalanceGuard
	estimator FeeEstimator
	executor  Executor
	gate      *approval.Gate
	store     *store.Store
	market    provider.MarketReader
	converter PriceConverter
	notifier  notify.Notifier
	funding   notify.Funding
	refresher notify.ListingRefresher
	metrics   *metrics.Pipeline

	feeAsset        string
	minFeeReserve   decimal.Decimal
	priceTTL        time.Duration
	approvalTimeout time.Duration
	notifyOpts      notify.Options
	now             func() time.Time

	mu        sync.Mutex
	tokens    uint64
	latest    map[string]uint64
	processed map[string]struct{}
}

// New creates an orchestrator
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Guard == nil || cfg.Estimator == nil || cfg.Executor == nil {
		return nil, fmt.Errorf("guard, estimator and executor are required")
	}
	if cfg.Gate == nil || cfg.Store == nil {
		return nil, fmt.Errorf("gate and store are required")
	}
	if cfg.FeeAsset == "" {
		return nil, fmt.Errorf("fee asset is required")
	}

	o := &Orchestrator{
		guard:           cfg.Guard,
		estimator:       cfg.Estimator,
		executor:        cfg.Executor,
		gate:            cfg.Gate,
		store:           cfg.Store,
		market:          cfg.Market,
		converter:       cfg.Converter,
		notifier:        cfg.Notifier,
		funding:         cfg.Funding,
		refresher:       cfg.Refresher,
		metrics:         cfg.Metrics,
		feeAsset:        strings.ToUpper(cfg.FeeAsset),
		minFeeReserve:   cfg.MinFeeReserve,
		priceTTL:        cfg.PriceTTL,
		approvalTimeout: cfg.ApprovalTimeout,
		notifyOpts:      cfg.Notify,
		now:             time.Now,
		latest:          make(map[string]uint64),
		processed:       make(map[string]struct{}),
	}
	if o.notifier == nil {
		o.notifier = notify.LogNotifier{}
	}
	if o.refresher == nil {
		o.refresher = notify.LogRefresher{}
	}
	if o.metrics == nil {
		o.metrics = metrics.New()
	}
	if o.priceTTL <= 0 {
		o.priceTTL = DefaultPriceTTL
	}

	o.gate.Subscribe(o.store.ApplyApproval)
	return o, nil
}

// SetClock overrides the time source used for validation and price staleness
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// Approve approves the marketplace for a token, then runs req.FollowOn if set
func (o *Orchestrator) Approve(ctx context.Context, req types.TransactionRequest) (*types.TransactionResult, error) {
	req.Kind = types.KindApprove
	return o.execute(ctx, req)
}

// ListFixed lists a token at a fixed price
func (o *Orchestrator) ListFixed(ctx context.Context, req types.TransactionRequest) (*types.TransactionResult, error) {
	req.Kind = types.KindListFixed
	return o.list(ctx, req)
}

// ListAuction lists a token for auction
func (o *Orchestrator) ListAuction(ctx context.Context, req types.TransactionRequest) (*types.TransactionResult, error) {
	req.Kind = types.KindListAuction
	return o.list(ctx, req)
}

// Bid places a bid on an auction
func (o *Orchestrator) Bid(ctx context.Context, req types.TransactionRequest) (*types.TransactionResult, error) {
	req.Kind = types.KindBid
	return o.execute(ctx, req)
}

// AcceptOffer accepts the best offer on a token
func (o *Orchestrator) AcceptOffer(ctx context.Context, req types.TransactionRequest) (*types.TransactionResult, error) {
	req.Kind = types.KindAcceptOffer
	return o.execute(ctx, req)
}

// Claim claims a finished auction
func (o *Orchestrator) Claim(ctx context.Context, req types.TransactionRequest) (*types.TransactionResult, error) {
	req.Kind = types.KindClaim
	return o.execute(ctx, req)
}

// CancelFixed cancels a fixed price listing
func (o *Orchestrator) CancelFixed(ctx context.Context, req types.TransactionRequest) (*types.TransactionResult, error) {
	req.Kind = types.KindCancelFixed
	return o.execute(ctx, req)
}

// CancelAuction cancels an auction
func (o *Orchestrator) CancelAuction(ctx context.Context, req types.TransactionRequest) (*types.TransactionResult, error) {
	req.Kind = types.KindCancelAuction
	return o.execute(ctx, req)
}

// Run dispatches a request to the entry point of its kind
func (o *Orchestrator) Run(ctx context.Context, req types.TransactionRequest) (*types.TransactionResult, error) {
	switch req.Kind {
	case types.KindListFixed, types.KindListAuction:
		return o.list(ctx, req)
	default:
		return o.execute(ctx, req)
	}
}

// list converts the price and routes through APPROVE when the marketplace may
// not yet move the token
func (o *Orchestrator) list(ctx context.Context, req types.TransactionRequest) (*types.TransactionResult, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	req, err := o.freshConversion(ctx, req)
	if err != nil {
		return nil, o.fail(req, err)
	}

	if o.market != nil && req.SignerRef != "" {
		approved, err := o.market.IsApproved(ctx, req.SignerRef, req.SubjectID)
		if err != nil {
			return nil, o.fail(req, newError(types.ErrorProviderReadFailed, fmt.Errorf("failed to read approval: %w", err)))
		}
		if !approved {
			log.WithFields(log.Fields{
				"kind":    req.Kind,
				"subject": req.SubjectID,
			}).Info("marketplace not approved, approving first")

			approve := req.WithKind(types.KindApprove, uuid.New().String())
			approve.FollowOn = req.Kind
			return o.execute(ctx, approve)
		}
	}

	return o.execute(ctx, req)
}

// execute runs one request and then its follow-on listing
func (o *Orchestrator) execute(ctx context.Context, req types.TransactionRequest) (*types.TransactionResult, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	result, err := o.run(ctx, req)
	if err != nil || !result.Succeeded() || req.FollowOn == "" {
		return result, err
	}

	next := req.WithKind(req.FollowOn, uuid.New().String())
	next, err = o.freshConversion(ctx, next)
	if err != nil {
		return result, o.fail(next, err)
	}

	log.WithFields(log.Fields{
		"kind":    next.Kind,
		"subject": next.SubjectID,
		"request": next.ID,
	}).Info("continuing with listing")

	return o.execute(ctx, next)
}

// run drives a single request through the pipeline
func (o *Orchestrator) run(ctx context.Context, req types.TransactionRequest) (result *types.TransactionResult, err error) {
	c, ok := capabilities[req.Kind]
	if !ok {
		return nil, o.fail(req, newError(types.ErrorValidation, fmt.Errorf("unsupported kind %q", req.Kind)))
	}

	logger := log.WithFields(log.Fields{
		"kind":    req.Kind,
		"subject": req.SubjectID,
		"request": req.ID,
	})

	if o.isProcessed(req.ID) {
		logger.Debug("request already processed")
		return nil, nil
	}

	// A newer request withdraws the dialog still awaiting an answer, so a
	// late confirm on it is stale
	if err := o.gate.Supersede(req.SubjectID); errors.Is(err, approval.ErrSubmissionInFlight) {
		logger.Info("transaction already submitting, dropping request")
		o.notify(userMessage(types.ErrorSubmissionInFlight, nil), notify.SeverityInfo)
		o.outcome(req.Kind, types.ErrorSubmissionInFlight)
		return nil, newError(types.ErrorSubmissionInFlight, approval.ErrSubmissionInFlight)
	}

	o.metrics.RunsTotal.WithLabelValues(string(req.Kind)).Inc()

	token := o.supersede(req.SubjectID)
	key := store.LoadingKey{Subject: req.SubjectID, Kind: req.Kind}
	var ticket *approval.Ticket

	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Error("pipeline panicked")
			result = nil
			err = o.fail(req, newError(types.ErrorInternal, fmt.Errorf("panic: %v", r)))
		}
		o.store.EndLoading(key, token)
		if ticket != nil {
			o.gate.Close(ticket)
		}
	}()

	// Step 1
	o.store.BeginLoading(key, token)

	if err := validateCommon(req); err != nil {
		return nil, o.fail(req, newError(types.ErrorValidation, err))
	}
	if c.validate != nil {
		if err := c.validate(ctx, o, req); err != nil {
			return nil, o.fail(req, asValidation(err))
		}
	}

	// Step 2
	value := c.valueOf(req)
	if err := o.checkBalance(ctx, req, value.Add(o.minFeeReserve)); err != nil {
		return nil, err
	}
	if !o.isLatest(req.SubjectID, token) {
		return nil, o.stale(req, logger)
	}

	// Step 3
	est, err := o.estimator.Estimate(ctx, req.Kind, req)
	if !o.isLatest(req.SubjectID, token) {
		return nil, o.stale(req, logger)
	}
	if err != nil {
		return nil, o.fail(req, classifyEstimate(err))
	}
	fee, _ := est.FeeAmount.Float64()
	o.metrics.FeeEstimate.WithLabelValues(string(req.Kind)).Observe(fee)

	// Step 4
	if err := o.checkBalance(ctx, req, value.Add(est.FeeAmount)); err != nil {
		return nil, err
	}
	if !o.isLatest(req.SubjectID, token) {
		return nil, o.stale(req, logger)
	}

	// Step 5
	ticket, err = o.gate.Open(req, est)
	if err != nil {
		e := classify(err)
		if e.Kind == types.ErrorSubmissionInFlight {
			o.notify(userMessage(e.Kind, nil), notify.SeverityInfo)
			o.outcome(req.Kind, e.Kind)
			return nil, e
		}
		return nil, o.fail(req, e)
	}
	o.store.EndLoading(key, token)
	logger = logger.WithField("ticket", ticket.ID)
	logger.Info("awaiting approval")

	decision := o.await(ctx, ticket, logger)

	switch decision {
	case approval.DecisionSuperseded:
		ticket = nil
		return nil, o.stale(req, logger)

	case approval.DecisionRejected:
		logger.Info("transaction rejected")
		rejected := types.TransactionResult{
			RequestID:   req.ID,
			Kind:        req.Kind,
			SubjectID:   req.SubjectID,
			Status:      types.StatusRejected,
			ErrorKind:   types.ErrorUserRejected,
			Message:     userMessage(types.ErrorUserRejected, nil),
			CompletedAt: o.now(),
		}
		if !o.consume(req, c, rejected, ticket) {
			return nil, nil
		}
		o.outcome(req.Kind, types.ErrorUserRejected)
		return &rejected, nil
	}

	if !o.gate.IsCurrent(ticket) {
		ticket = nil
		return nil, o.stale(req, logger)
	}
	// Still current in the gate but a newer request has started: the deferred
	// Close returns the subject to idle
	if !o.isLatest(req.SubjectID, token) {
		return nil, o.stale(req, logger)
	}

	// Step 6
	o.store.BeginLoading(key, token)
	started := time.Now()
	res, xerr := o.executor.Submit(ctx, req, est)
	o.metrics.SubmitDuration.WithLabelValues(string(req.Kind)).Observe(time.Since(started).Seconds())

	// Step 7
	o.store.EndLoading(key, token)

	if xerr != nil {
		logger.WithError(xerr).Error("executor fault")
		res = types.TransactionResult{
			RequestID:   req.ID,
			Kind:        req.Kind,
			SubjectID:   req.SubjectID,
			Status:      types.StatusFailed,
			ErrorKind:   types.ErrorInternal,
			Message:     xerr.Error(),
			CompletedAt: o.now(),
		}
		o.consume(req, c, res, ticket)
		o.outcome(req.Kind, types.ErrorInternal)
		return &res, newError(types.ErrorInternal, xerr)
	}

	if !o.consume(req, c, res, ticket) {
		return nil, nil
	}
	o.outcome(req.Kind, res.ErrorKind)
	return &res, nil
}

// await waits for the human decision. An unanswered approval counts as a rejection.
func (o *Orchestrator) await(ctx context.Context, ticket *approval.Ticket, logger *log.Entry) approval.Decision {
	o.metrics.ApprovalsPending.Inc()
	defer o.metrics.ApprovalsPending.Dec()

	waitCtx := ctx
	if o.approvalTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, o.approvalTimeout)
		defer cancel()
	}

	decision, err := o.gate.Wait(waitCtx, ticket)
	if err == nil {
		return decision
	}

	logger.WithError(err).Info("approval not answered")
	if rerr := o.gate.Reject(ticket.Subject, ticket.ID); rerr == nil {
		// Drain the decision the rejection resolved
		decision, _ = o.gate.Wait(context.Background(), ticket)
		return decision
	}

	// The ticket was decided or superseded concurrently and already holds its decision
	decision, _ = o.gate.Wait(context.Background(), ticket)
	return decision
}

// checkBalance verifies the signer can cover amount of the fee asset and opens
// the funding flow when it cannot
func (o *Orchestrator) checkBalance(ctx context.Context, req types.TransactionRequest, amount decimal.Decimal) error {
	shortfall, err := o.guard.CheckRequirements(ctx, req.SignerRef, []balance.Requirement{
		{Asset: o.feeAsset, Amount: amount},
	})
	if err != nil {
		return o.fail(req, err)
	}
	if shortfall == nil {
		return nil
	}

	log.WithFields(log.Fields{
		"kind":      req.Kind,
		"subject":   req.SubjectID,
		"asset":     shortfall.Asset,
		"required":  shortfall.Required.String(),
		"available": shortfall.Available.String(),
	}).Warn("insufficient balance")

	if o.funding != nil {
		o.funding.OpenFunding(notify.FundingRequest{
			Account:   req.SignerRef,
			Asset:     shortfall.Asset,
			Required:  shortfall.Required,
			Available: shortfall.Available,
		})
	}
	o.notify(userMessage(types.ErrorInsufficientBalance, nil), notify.SeverityWarning)
	o.outcome(req.Kind, types.ErrorInsufficientBalance)
	return newError(types.ErrorInsufficientBalance, errors.New(shortfall.String()))
}

// consume applies a result exactly once per request id
func (o *Orchestrator) consume(req types.TransactionRequest, c capability, res types.TransactionResult, ticket *approval.Ticket) bool {
	if !o.markProcessed(req.ID) {
		log.WithField("request", req.ID).Debug("result already consumed")
		return false
	}

	if err := o.store.SetResult(res); err != nil {
		log.WithError(err).Warn("failed to journal result")
	}
	o.gate.Close(ticket)

	switch {
	case res.Succeeded():
		msg := c.success
		if res.Hash != "" {
			msg = fmt.Sprintf("%s (%s)", c.success, res.Hash)
		}
		o.notify(msg, notify.SeveritySuccess)
		if c.refreshes {
			o.refresher.RefreshListings(req.Context)
		}
	case res.Status == types.StatusRejected:
		o.notify(res.Message, notify.SeverityInfo)
	default:
		o.notify(userMessage(res.ErrorKind, nil), notify.SeverityError)
	}
	return true
}

// freshConversion converts non-native listing prices, reusing a conversion
// younger than the price ttl
func (o *Orchestrator) freshConversion(ctx context.Context, req types.TransactionRequest) (types.TransactionRequest, error) {
	if !req.Kind.IsListing() || req.PriceCurrency == "" || strings.EqualFold(req.PriceCurrency, o.feeAsset) {
		return req, nil
	}
	if req.Conversion != nil && req.Conversion.Age(o.now()) <= o.priceTTL {
		return req, nil
	}
	if o.converter == nil {
		return req, newError(types.ErrorValidation, fmt.Errorf("no price converter for %s", req.PriceCurrency))
	}

	conv, err := o.converter.Convert(ctx, req.Amount, req.PriceCurrency)
	if err != nil {
		return req, newError(types.ErrorProviderReadFailed, fmt.Errorf("failed to convert price: %w", err))
	}

	log.WithFields(log.Fields{
		"subject":  req.SubjectID,
		"currency": req.PriceCurrency,
		"amount":   req.Amount.String(),
		"native":   conv.NativeAmount.String(),
	}).Debug("price converted")

	return req.WithConversion(conv), nil
}

// fail logs and notifies a classified failure
func (o *Orchestrator) fail(req types.TransactionRequest, err error) error {
	e := classify(err)
	entry := log.WithFields(log.Fields{
		"kind":    req.Kind,
		"subject": req.SubjectID,
		"request": req.ID,
	}).WithError(e)

	switch e.Kind {
	case types.ErrorValidation:
		entry.Warn("request rejected")
		o.notify(userMessage(e.Kind, e), notify.SeverityWarning)
	default:
		entry.Error("pipeline failed")
		o.notify(userMessage(e.Kind, e), notify.SeverityError)
	}
	o.outcome(req.Kind, e.Kind)
	return e
}

// stale drops a superseded request without surfacing it
func (o *Orchestrator) stale(req types.TransactionRequest, logger *log.Entry) error {
	logger.Debug("subject superseded, discarding")
	o.metrics.StaleDropsTotal.WithLabelValues(string(req.Kind)).Inc()
	o.outcome(req.Kind, types.ErrorStaleApproval)
	return newError(types.ErrorStaleApproval, approval.ErrStaleApproval)
}

func (o *Orchestrator) notify(msg string, severity notify.Severity) {
	o.notifier.Notify(o.notifyOpts.Apply(notify.Notification{
		Message:  msg,
		Severity: severity,
	}))
}

func (o *Orchestrator) outcome(kind types.Kind, errKind types.ErrorKind) {
	label := "success"
	if errKind != "" {
		label = strings.ToLower(string(errKind))
	}
	o.metrics.OutcomesTotal.WithLabelValues(string(kind), label).Inc()
}

// supersede makes a new invocation the latest for its subject
func (o *Orchestrator) supersede(subject string) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.tokens++
	o.latest[subject] = o.tokens
	return o.tokens
}

func (o *Orchestrator) isLatest(subject string, token uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.latest[subject] == token
}

func (o *Orchestrator) isProcessed(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	_, ok := o.processed[id]
	return ok
}

func (o *Orchestrator) markProcessed(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.processed[id]; ok {
		return false
	}
	o.processed[id] = struct{}{}
	return true
}

func asValidation(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return newError(types.ErrorValidation, err)
}

// classifyEstimate keeps window errors as validation and everything else as an
// estimation failure
func classifyEstimate(err error) *Error {
	e := classify(err)
	if e.Kind == types.ErrorInternal {
		return newError(types.ErrorEstimationFailed, err)
	}
	return e
}
