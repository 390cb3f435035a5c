package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"BlinkPay/internal/metrics"
	"BlinkPay/internal/models"
	"BlinkPay/utils"
)

// RefundMemoPrefix marks a merchant-initiated refund, e.g. "refund:inv-1".
const RefundMemoPrefix = "refund:"

// Outcome is the per-event result of a reconcile pass.
type Outcome string

const (
	OutcomeSettled         Outcome = "settled"
	OutcomeUnmatched       Outcome = "unmatched"
	OutcomeAlreadySettled  Outcome = "already_settled"
	OutcomeNoMerchant      Outcome = "no_merchant"
	OutcomeConcurrentClaim Outcome = "concurrent_claim"
	OutcomeFailed          Outcome = "failed"
	OutcomeRefund          Outcome = "refund"
	OutcomeFee             Outcome = "fee"
)

// EventResult reports what happened to one TransferEvent.
type EventResult struct {
	Signature    string
	ToAddress    string
	Token        models.Token
	Outcome      Outcome
	Reason       models.MatchReason
	ObligationID string
	Err          error
}

// ReconcileReport lists one result per input event, in input order.
type ReconcileReport struct {
	Results []EventResult
}

func (r ReconcileReport) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Processed counts events that produced a settlement record.
func (r ReconcileReport) Processed() int {
	return r.Count(OutcomeSettled) + r.Count(OutcomeUnmatched) + r.Count(OutcomeRefund) + r.Count(OutcomeFee)
}

// Failed counts events that should be retried.
func (r ReconcileReport) Failed() int {
	return r.Count(OutcomeFailed) + r.Count(OutcomeConcurrentClaim)
}

// Skipped counts replays and transfers to unknown addresses.
func (r ReconcileReport) Skipped() int {
	return r.Count(OutcomeAlreadySettled) + r.Count(OutcomeNoMerchant)
}

// Retryable reports whether any event failed with a retryable error.
func (r ReconcileReport) Retryable() bool {
	for _, res := range r.Results {
		if res.Err != nil && IsRetryable(res.Err) {
			return true
		}
	}
	return false
}

type ReconcilerConfig struct {
	// Workers bounds how many signatures are reconciled concurrently.
	Workers int
	// PlatformWallet receives fee legs; empty disables fee recognition.
	PlatformWallet string
}

// Reconciler turns decoded transfers into settlement records and obligation
// transitions, at most once per signature leg.
type Reconciler struct {
	store          Store
	matcher        *Matcher
	metrics        metrics.Recorder
	log            *utils.Logger
	workers        int
	platformWallet string

	now   func() time.Time
	newID func() string
}

func NewReconciler(store Store, matcher *Matcher, cfg ReconcilerConfig, rec metrics.Recorder, log *utils.Logger) *Reconciler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	if log == nil {
		log = utils.NopLogger()
	}
	return &Reconciler{
		store:          store,
		matcher:        matcher,
		metrics:        rec,
		log:            log,
		workers:        cfg.Workers,
		platformWallet: cfg.PlatformWallet,
		now:            func() time.Time { return time.Now().UTC() },
		newID:          uuid.NewString,
	}
}

// Reconcile processes the batch. Events sharing a signature run serially in
// one goroutine; distinct signatures run concurrently. A failing event never
// affects its siblings.
func (r *Reconciler) Reconcile(ctx context.Context, batch []models.TransferEvent) ReconcileReport {
	start := time.Now()
	results := make([]EventResult, len(batch))

	// 按签名分组，保持首次出现的顺序
	var order []string
	groups := make(map[string][]int)
	for i, ev := range batch {
		if _, ok := groups[ev.Signature]; !ok {
			order = append(order, ev.Signature)
		}
		groups[ev.Signature] = append(groups[ev.Signature], i)
	}

	var wg sync.WaitGroup
	workerPool := make(chan struct{}, r.workers)
	for _, sig := range order {
		idx := groups[sig]
		wg.Add(1)
		workerPool <- struct{}{}
		go func(idx []int) {
			defer wg.Done()
			defer func() { <-workerPool }()
			r.reconcileGroup(ctx, batch, idx, results)
		}(idx)
	}
	wg.Wait()

	for _, res := range results {
		r.metrics.IncCounter(metrics.EventReconcile, map[string]string{
			"token":   res.Token.String(),
			"outcome": string(res.Outcome),
		})
	}
	r.metrics.ObserveLatency(metrics.OpReconcileBatch, time.Since(start), nil)

	return ReconcileReport{Results: results}
}

// groupState carries the merchant leg of a signature to its fee leg.
type groupState struct {
	merchant     *models.Merchant
	obligationID *string
	reason       models.MatchReason
}

func (r *Reconciler) reconcileGroup(ctx context.Context, batch []models.TransferEvent, idx []int, results []EventResult) {
	var (
		state   groupState
		feeLegs []int
	)
	for _, i := range idx {
		if r.isPlatformLeg(batch[i]) {
			feeLegs = append(feeLegs, i)
			continue
		}
		results[i] = r.reconcileEvent(ctx, batch[i], &state)
	}
	// 平台手续费腿放在最后，归属于同一签名下的商户
	for _, i := range feeLegs {
		if state.merchant == nil {
			state.merchant = r.siblingMerchant(ctx, batch, idx)
		}
		results[i] = r.reconcileFeeLeg(ctx, batch[i], &state)
	}
	for _, i := range idx {
		r.logResult(results[i])
	}
}

func (r *Reconciler) isPlatformLeg(ev models.TransferEvent) bool {
	return r.platformWallet != "" && ev.ToAddress == r.platformWallet
}

func (r *Reconciler) reconcileEvent(ctx context.Context, ev models.TransferEvent, state *groupState) EventResult {
	res := EventResult{Signature: ev.Signature, ToAddress: ev.ToAddress, Token: ev.Token}
	if err := ctx.Err(); err != nil {
		return failed(res, err)
	}

	exists, err := r.store.SettlementExists(ctx, ev.Signature, ev.ToAddress, ev.Token)
	if err != nil {
		return failed(res, err)
	}
	if exists {
		res.Outcome = OutcomeAlreadySettled
		res.Err = ErrAlreadySettled
		return res
	}

	merchant, err := r.store.MerchantByAddress(ctx, ev.ToAddress)
	if errors.Is(err, ErrUnknownMerchant) {
		return r.reconcileRefund(ctx, ev, res)
	}
	if err != nil {
		return failed(res, err)
	}
	if state.merchant == nil {
		state.merchant = merchant
	}

	candidates, err := r.store.PendingObligations(ctx, merchant.ID, ev.Token)
	if err != nil {
		return failed(res, err)
	}
	matched, reason := r.matcher.Match(ev, candidates)

	// 先在内存副本上走状态机，库里再以 pending 为条件更新；不能支付的候选按未匹配记录
	if matched != nil {
		if err := matched.MarkPaid(models.Payment{
			Amount:       ev.Amount,
			Token:        ev.Token,
			PayerAddress: ev.FromAddress,
			Signature:    ev.Signature,
			PaidAt:       r.paidAt(ev),
		}); err != nil {
			r.log.Warn("matched obligation not payable, recording unmatched",
				"signature", ev.Signature, "obligation", matched.ID, "err", err)
			matched, reason = nil, models.MatchUnmatched
		}
	}

	rec := r.newRecord(ev, merchant.ID, models.DirectionPayment, reason)
	if matched != nil {
		rec.ObligationID = &matched.ID
	}

	err = r.store.WithinUnitOfWork(ctx, func(uow UnitOfWork) error {
		if err := uow.InsertSettlement(ctx, rec); err != nil {
			return err
		}
		if matched == nil {
			return nil
		}
		return uow.MarkPaid(ctx, matched.ID, *matched.Payment)
	})

	res.Reason = reason
	if matched != nil {
		res.ObligationID = matched.ID
	}
	if err != nil {
		return r.classifyWriteErr(res, err)
	}

	if matched != nil {
		res.Outcome = OutcomeSettled
		if state.obligationID == nil {
			state.obligationID = &matched.ID
			state.reason = reason
		}
	} else {
		res.Outcome = OutcomeUnmatched
		res.Err = ErrNoMatch
	}
	return res
}

// reconcileRefund records a transfer leaving a merchant wallet. A memo of
// "refund:<id>" links it to that merchant's obligation; the obligation
// status is never changed.
func (r *Reconciler) reconcileRefund(ctx context.Context, ev models.TransferEvent, res EventResult) EventResult {
	merchant, err := r.store.MerchantByAddress(ctx, ev.FromAddress)
	if errors.Is(err, ErrUnknownMerchant) {
		res.Outcome = OutcomeNoMerchant
		res.Err = ErrUnknownMerchant
		return res
	}
	if err != nil {
		return failed(res, err)
	}

	reason := models.MatchUnmatched
	var obligationID *string
	if ref := strings.TrimSpace(strings.TrimPrefix(ev.Memo, RefundMemoPrefix)); strings.HasPrefix(ev.Memo, RefundMemoPrefix) && ref != "" {
		o, err := r.store.Obligation(ctx, ref)
		switch {
		case err == nil && o.MerchantID == merchant.ID:
			obligationID = &o.ID
			reason = models.MatchRefundMemo
		case err == nil, errors.Is(err, ErrObligationNotFound):
			r.log.Warn("refund memo references unknown obligation",
				"signature", ev.Signature, "merchant", merchant.ID, "ref", ref)
		default:
			return failed(res, err)
		}
	}

	rec := r.newRecord(ev, merchant.ID, models.DirectionRefund, reason)
	rec.ObligationID = obligationID
	err = r.store.WithinUnitOfWork(ctx, func(uow UnitOfWork) error {
		return uow.InsertSettlement(ctx, rec)
	})
	res.Reason = reason
	if obligationID != nil {
		res.ObligationID = *obligationID
	}
	if err != nil {
		return r.classifyWriteErr(res, err)
	}
	res.Outcome = OutcomeRefund
	return res
}

func (r *Reconciler) reconcileFeeLeg(ctx context.Context, ev models.TransferEvent, state *groupState) EventResult {
	res := EventResult{Signature: ev.Signature, ToAddress: ev.ToAddress, Token: ev.Token}
	if err := ctx.Err(); err != nil {
		return failed(res, err)
	}

	exists, err := r.store.SettlementExists(ctx, ev.Signature, ev.ToAddress, ev.Token)
	if err != nil {
		return failed(res, err)
	}
	if exists {
		res.Outcome = OutcomeAlreadySettled
		res.Err = ErrAlreadySettled
		return res
	}
	if state.merchant == nil {
		res.Outcome = OutcomeNoMerchant
		res.Err = ErrUnknownMerchant
		return res
	}

	reason := state.reason
	if reason == "" {
		reason = models.MatchUnmatched
	}
	rec := r.newRecord(ev, state.merchant.ID, models.DirectionFee, reason)
	rec.ObligationID = state.obligationID

	err = r.store.WithinUnitOfWork(ctx, func(uow UnitOfWork) error {
		return uow.InsertSettlement(ctx, rec)
	})
	res.Reason = reason
	if state.obligationID != nil {
		res.ObligationID = *state.obligationID
	}
	if err != nil {
		return r.classifyWriteErr(res, err)
	}
	res.Outcome = OutcomeFee
	return res
}

// siblingMerchant resolves the merchant paid by another leg of the same
// signature, for fee legs whose merchant leg was settled earlier.
func (r *Reconciler) siblingMerchant(ctx context.Context, batch []models.TransferEvent, idx []int) *models.Merchant {
	for _, i := range idx {
		ev := batch[i]
		if r.isPlatformLeg(ev) {
			continue
		}
		m, err := r.store.MerchantByAddress(ctx, ev.ToAddress)
		if err == nil {
			return m
		}
	}
	return nil
}

func (r *Reconciler) newRecord(ev models.TransferEvent, merchantID string, dir models.Direction, reason models.MatchReason) *models.SettlementRecord {
	return &models.SettlementRecord{
		ID:          r.newID(),
		Signature:   ev.Signature,
		MerchantID:  merchantID,
		Amount:      ev.Amount,
		Token:       ev.Token,
		Direction:   dir,
		MatchReason: reason,
		FromAddress: ev.FromAddress,
		ToAddress:   ev.ToAddress,
		Slot:        ev.Slot,
		BlockTime:   ev.BlockTime,
		Raw:         ev.Raw,
		CreatedAt:   r.now(),
	}
}

func (r *Reconciler) paidAt(ev models.TransferEvent) time.Time {
	if ev.BlockTime.IsZero() {
		return r.now()
	}
	return ev.BlockTime
}

func (r *Reconciler) classifyWriteErr(res EventResult, err error) EventResult {
	switch {
	case errors.Is(err, ErrAlreadySettled):
		res.Outcome = OutcomeAlreadySettled
		res.Err = err
	case errors.Is(err, ErrConcurrentClaim):
		res.Outcome = OutcomeConcurrentClaim
		res.Err = err
	default:
		return failed(res, err)
	}
	return res
}

func failed(res EventResult, err error) EventResult {
	res.Outcome = OutcomeFailed
	res.Err = err
	if !errors.Is(err, ErrStoreUnavailable) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		res.Err = fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return res
}

func (r *Reconciler) logResult(res EventResult) {
	kv := []interface{}{
		"signature", res.Signature,
		"to", res.ToAddress,
		"token", res.Token.String(),
		"outcome", string(res.Outcome),
	}
	if res.ObligationID != "" {
		kv = append(kv, "obligation", res.ObligationID)
	}
	if res.Reason != "" {
		kv = append(kv, "reason", string(res.Reason))
	}

	switch res.Outcome {
	case OutcomeSettled, OutcomeRefund, OutcomeFee, OutcomeUnmatched:
		r.log.Info("reconciled transfer", kv...)
	case OutcomeAlreadySettled, OutcomeNoMerchant:
		r.log.Debug("skipped transfer", kv...)
	case OutcomeConcurrentClaim:
		r.log.Warn("obligation claimed concurrently", append(kv, "err", res.Err)...)
	default:
		r.log.Error("reconcile failed", append(kv, "err", res.Err)...)
	}
}
