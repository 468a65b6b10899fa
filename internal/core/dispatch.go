package core

import (
	"errors"
	"fmt"

	"TroveLedger/internal/event"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/state"
)

// dispatch routes a command to the protocol. The returned value is the
// operation's result.
func (c *DeterministicCore) dispatch(pm *state.ProtocolManager, evt event.Event) (interface{}, error) {
	switch e := evt.(type) {
	case *event.ProtocolInit:
		return nil, pm.InitGenesis(e.Admin)

	case *event.RegisterAsset:
		return nil, pm.RegisterAsset(e.Sender, e.Params)

	case *event.UpdateAssetParams:
		return nil, pm.UpdateAssetParams(e.Sender, e.Params)

	case *event.PriceUpdate:
		return nil, pm.PostPrice(e.Source, e.Asset, e.Price)

	case *event.OpenTrove:
		inst, err := pm.Asset(e.Asset)
		if err != nil {
			return nil, err
		}
		return inst.Borrower.OpenTrove(e.Owner, e.Coll, e.Debt, e.UpperHint, e.LowerHint)

	case *event.AdjustTrove:
		return c.handleAdjustTrove(pm, e)

	case *event.CloseTrove:
		inst, err := pm.Asset(e.Asset)
		if err != nil {
			return nil, err
		}
		return inst.Borrower.CloseTrove(e.Owner)

	case *event.ClaimCollateral:
		inst, err := pm.Asset(e.Asset)
		if err != nil {
			return nil, err
		}
		return inst.Borrower.ClaimCollateral(e.Owner)

	case *event.StabilityDeposit:
		return nil, pm.StabilityPool().Provide(e.Depositor, e.Amount)

	case *event.Liquidate:
		inst, err := pm.Asset(e.Asset)
		if err != nil {
			return nil, err
		}
		if e.Batch {
			return inst.Liquidations.BatchLiquidate(e.Owners, e.Liquidator)
		}
		if len(e.Owners) != 1 {
			return nil, fmt.Errorf("%w: single liquidation takes one owner, got %d", state.ErrInvalidAmount, len(e.Owners))
		}
		return inst.Liquidations.Liquidate(e.Owners[0], e.Liquidator)

	case *event.LiquidateTroves:
		if e.N == 0 {
			return nil, fmt.Errorf("%w: n must be > 0", state.ErrInvalidAmount)
		}
		inst, err := pm.Asset(e.Asset)
		if err != nil {
			return nil, err
		}
		return inst.Liquidations.LiquidateTroves(e.N, e.Liquidator)

	case *event.Redeem:
		inst, err := pm.Asset(e.Asset)
		if err != nil {
			return nil, err
		}
		return inst.Redemptions.RedeemCollateral(state.RedemptionRequest{
			Redeemer:      e.Redeemer,
			Amount:        e.Amount,
			MaxIterations: e.MaxIterations,
			PartialNICR:   e.PartialNICR,
			UpperHint:     e.UpperHint,
			LowerHint:     e.LowerHint,
		})

	case *event.RedeemAcrossAssets:
		return pm.RedeemAcrossAssets(e.Redeemer, e.Amount, e.MaxIterations)

	default:
		return nil, fmt.Errorf("unsupported event type: %T", evt)
	}
}

func (c *DeterministicCore) handleAdjustTrove(pm *state.ProtocolManager, e *event.AdjustTrove) (interface{}, error) {
	inst, err := pm.Asset(e.Asset)
	if err != nil {
		return nil, err
	}
	b := inst.Borrower
	switch e.Action {
	case event.AdjustAddColl:
		return b.AddColl(e.Owner, e.Amount, e.UpperHint, e.LowerHint)
	case event.AdjustWithdrawColl:
		return b.WithdrawColl(e.Owner, e.Amount, e.UpperHint, e.LowerHint)
	case event.AdjustWithdrawDebt:
		return b.WithdrawDebtToken(e.Owner, e.Amount, e.UpperHint, e.LowerHint)
	case event.AdjustRepayDebt:
		return b.RepayDebtToken(e.Owner, e.Amount, e.UpperHint, e.LowerHint)
	default:
		return nil, fmt.Errorf("%w: unknown adjust action %d", state.ErrInvalidAmount, e.Action)
	}
}

var rejectReasons = []struct {
	err    error
	reason string
}{
	{state.ErrNotOwner, "not_owner"},
	{state.ErrNotAuthorized, "not_authorized"},
	{state.ErrBelowMinimumCollateralRatio, "below_mcr"},
	{state.ErrBelowMinimumDebt, "below_min_debt"},
	{state.ErrTroveNotActive, "trove_not_active"},
	{state.ErrTroveAlreadyActive, "trove_already_active"},
	{state.ErrListFull, "list_full"},
	{state.ErrStaleHint, "stale_hint"},
	{state.ErrInvalidAsset, "invalid_asset"},
	{state.ErrNothingToLiquidate, "nothing_to_liquidate"},
	{state.ErrInvalidAmount, "invalid_amount"},
	{state.ErrInsufficientBalance, "insufficient_balance"},
	{state.ErrLastTrove, "last_trove"},
	{state.ErrNothingToRedeem, "nothing_to_redeem"},
	{state.ErrNothingToClaim, "nothing_to_claim"},
	{state.ErrPriceUnavailable, "price_unavailable"},
	{state.ErrAssetAlreadyRegistered, "asset_already_registered"},
	{state.ErrInvalidICR, "invalid_icr"},
	{state.ErrInvalidIdentity, "invalid_identity"},
	{state.ErrFeeExceedsCollateral, "fee_exceeds_collateral"},
	{state.ErrInvalidParams, "invalid_params"},
}

// RejectReason maps a protocol error to a short metric label.
func RejectReason(err error) string {
	for _, r := range rejectReasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "other"
}

func units(v uint64) float64 {
	return float64(v) / float64(fpmath.Precision)
}

// record updates metrics and logs the outcome of a logged command. Gauges
// are read from committed state.
func (c *DeterministicCore) record(pm *state.ProtocolManager, evt event.Event, out *CoreOutput, dispatchErr error) {
	eventType := evt.EventType().String()
	log := c.logger.With().
		Int64("seq", out.Envelope.Sequence).
		Str("event_type", eventType).
		Str("key", evt.IdempotencyKey()).
		Logger()

	if dispatchErr != nil {
		reason := RejectReason(dispatchErr)
		c.countRejected(eventType, reason)
		log.Info().Str("reason", reason).Err(dispatchErr).Msg("command rejected")
		return
	}
	log.Debug().Int("journals", len(out.Batch.Journals)).Msg("command applied")

	if c.metrics == nil {
		return
	}
	c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
	for _, j := range out.Batch.Journals {
		c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
	}

	switch r := out.Result.(type) {
	case *state.LiquidationResult:
		for _, tl := range r.Liquidated {
			c.metrics.TrovesLiquidated.WithLabelValues(r.Asset, tl.State.String()).Inc()
		}
		c.metrics.DebtOffset.WithLabelValues(r.Asset).Add(units(r.DebtOffset))
		c.metrics.DebtRedistributed.WithLabelValues(r.Asset).Add(units(r.DebtRedistributed))
		log.Info().Str("asset", r.Asset).Int("liquidated", len(r.Liquidated)).Int("skipped", len(r.Skipped)).
			Str("debt_offset", fpmath.FormatAmount(r.DebtOffset)).
			Str("debt_redistributed", fpmath.FormatAmount(r.DebtRedistributed)).
			Msg("liquidation")
	case *state.RedemptionResult:
		c.metrics.DebtRedeemed.WithLabelValues(r.Asset).Add(units(r.DebtRedeemed))
	case *state.SweepResult:
		for _, a := range r.Assets {
			c.metrics.DebtRedeemed.WithLabelValues(a.Asset).Add(units(a.DebtRedeemed))
		}
	}

	assets, err := touchedAssets(pm, evt)
	if err != nil {
		log.Warn().Err(err).Msg("list assets for gauges")
		return
	}
	for _, asset := range assets {
		c.observeAsset(pm, asset)
	}
}

func (c *DeterministicCore) observeAsset(pm *state.ProtocolManager, asset string) {
	inst, err := pm.Asset(asset)
	if err != nil {
		return
	}
	if n, err := inst.Troves.ActiveTroveCount(); err == nil {
		c.metrics.ActiveTroves.WithLabelValues(asset).Set(float64(n))
	}
	c.metrics.TotalDebt.WithLabelValues(asset).Set(units(inst.Troves.GetEntireSystemDebt()))
	if totals, err := inst.Troves.Rewards().Totals(); err == nil {
		c.metrics.BaseRate.WithLabelValues(asset).Set(units(totals.BaseRate))
	}
	if price, err := pm.Oracle().GetPrice(asset); err == nil {
		c.metrics.Price.WithLabelValues(asset).Set(units(price))
	}
}
