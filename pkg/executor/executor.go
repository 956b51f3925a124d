package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"market-pipeline/pkg/gas"
	"market-pipeline/pkg/provider"
	"market-pipeline/pkg/signer"
	"market-pipeline/pkg/types"
)

// RequiredConfirmations is the number of confirmations a submission waits for
const RequiredConfirmations = 1

// Executor performs the on-chain call for a confirmed approval
type Executor struct {
	submitter provider.Submitter
	calls     gas.CallBuilder
	signers   signer.Source
	now       func() time.Time
}

// New creates an executor
func New(submitter provider.Submitter, calls gas.CallBuilder, signers signer.Source) *Executor {
	return &Executor{
		submitter: submitter,
		calls:     calls,
		signers:   signers,
		now:       time.Now,
	}
}

// SetClock overrides the time source used for result timestamps
func (e *Executor) SetClock(now func() time.Time) {
	e.now = now
}

// Submit signs and broadcasts the request and waits for it to be confirmed.
// Provider failures are reported in the result. The returned error is only set
// for internal faults such as an unusable signer or an unencodable request.
func (e *Executor) Submit(ctx context.Context, req types.TransactionRequest, est types.GasEstimate) (types.TransactionResult, error) {
	result := types.TransactionResult{
		RequestID: req.ID,
		Kind:      req.Kind,
		SubjectID: req.SubjectID,
	}

	call, err := e.calls.BuildCall(req)
	if err != nil {
		return result, fmt.Errorf("failed to build %s call: %w", req.Kind, err)
	}

	logger := log.WithFields(log.Fields{
		"kind":    req.Kind,
		"subject": req.SubjectID,
		"request": req.ID,
		"fee":     est.FeeAmount.String(),
	})

	var receipt *provider.Receipt
	var submitErr error
	err = signer.With(ctx, e.signers, req.SignerRef, func(h *signer.Handle) error {
		receipt, submitErr = e.submitter.Submit(ctx, h, call)
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("failed to acquire signer: %w", err)
	}

	result.CompletedAt = e.now()

	if submitErr != nil {
		result.Status = types.StatusFailed
		result.ErrorKind = classify(submitErr)
		result.Message = submitErr.Error()
		if receipt != nil {
			result.Hash = receipt.Hash
		}
		logger.WithError(submitErr).WithField("error_kind", result.ErrorKind).Error("transaction failed")
		return result, nil
	}

	if receipt == nil || receipt.Confirmations < RequiredConfirmations {
		result.Status = types.StatusFailed
		result.ErrorKind = types.ErrorProviderSubmitFailed
		result.Message = "transaction was not confirmed"
		if receipt != nil {
			result.Hash = receipt.Hash
		}
		logger.Error("transaction not confirmed")
		return result, nil
	}

	result.Status = types.StatusSuccess
	result.Hash = receipt.Hash
	logger.WithFields(log.Fields{
		"hash":  receipt.Hash,
		"block": receipt.BlockNumber,
	}).Info("transaction confirmed")

	return result, nil
}

func classify(err error) types.ErrorKind {
	if errors.Is(err, provider.ErrUserDenied) {
		return types.ErrorUserRejected
	}
	return types.ErrorProviderSubmitFailed
}
