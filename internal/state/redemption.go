package state

import (
	"fmt"

	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
)

// RedemptionRequest carries the caller's redemption parameters. A zero
// MaxIterations means unbounded; a zero PartialNICR disables the stale-hint
// check on the last, partially redeemed trove.
type RedemptionRequest struct {
	Redeemer      Identity
	Amount        uint64
	MaxIterations uint64
	PartialNICR   uint64
	UpperHint     Identity
	LowerHint     Identity
}

// TroveRedemption is the effect of a redemption on one trove.
type TroveRedemption struct {
	Owner        Identity
	DebtRedeemed uint64
	CollDrawn    uint64
	Closed       bool
	CollSurplus  uint64
	NewNICR      uint64
}

// RedemptionResult aggregates one redemption call on one asset.
type RedemptionResult struct {
	Asset        string
	Price        uint64
	DebtRedeemed uint64
	CollDrawn    uint64
	Fee          uint64
	CollPaid     uint64
	BaseRate     uint64
	Troves       []TroveRedemption
}

// RedemptionEngine swaps debt tokens for collateral, drawing from the lowest
// ICR troves first.
type RedemptionEngine struct {
	tm      *TroveManager
	fees    *FeeDecayModel
	oracle  Oracle
	token   *DebtToken
	surplus CollSurplusPool
}

func NewRedemptionEngine(tm *TroveManager, fees *FeeDecayModel, oracle Oracle, token *DebtToken, surplus CollSurplusPool) *RedemptionEngine {
	return &RedemptionEngine{tm: tm, fees: fees, oracle: oracle, token: token, surplus: surplus}
}

// RedeemCollateral redeems up to req.Amount against this asset.
func (re *RedemptionEngine) RedeemCollateral(req RedemptionRequest) (*RedemptionResult, error) {
	if req.Amount == 0 {
		return nil, ErrInvalidAmount
	}
	if bal := re.token.BalanceOf(req.Redeemer); bal < req.Amount {
		return nil, fmt.Errorf("%w: redeemer holds %d, requested %d", ErrInsufficientBalance, bal, req.Amount)
	}

	s, err := re.begin()
	if err != nil {
		return nil, err
	}
	remaining := req.Amount
	for iter := uint64(0); remaining > 0 && (req.MaxIterations == 0 || iter < req.MaxIterations); iter++ {
		tr, done, err := s.step(remaining, req.PartialNICR, req.UpperHint, req.LowerHint)
		if err != nil {
			return nil, err
		}
		if tr != nil {
			remaining -= tr.DebtRedeemed
		}
		if done {
			break
		}
	}
	return s.finish(req.Redeemer)
}

// redemptionSession walks one asset's list from the tail. It is shared by
// the single-asset entry point and the cross-asset sweep.
type redemptionSession struct {
	re        *RedemptionEngine
	price     uint64
	totalDebt uint64 // system debt before the redemption, for the fee
	cursor    Identity
	done      bool
	result    *RedemptionResult
}

func (re *RedemptionEngine) begin() (*redemptionSession, error) {
	price, err := re.oracle.GetPrice(re.tm.asset)
	if err != nil {
		return nil, err
	}
	s := &redemptionSession{
		re:        re,
		price:     price,
		totalDebt: re.tm.GetEntireSystemDebt(),
		result:    &RedemptionResult{Asset: re.tm.asset, Price: price},
	}
	if s.cursor, err = re.firstRedeemable(price); err != nil {
		return nil, err
	}
	return s, nil
}

// firstRedeemable returns the lowest-ICR trove at or above MCR. Troves below
// MCR are left to liquidation.
func (re *RedemptionEngine) firstRedeemable(price uint64) (Identity, error) {
	cur, err := re.tm.list.Last()
	if err != nil {
		return ZeroIdentity, err
	}
	for !cur.IsZero() {
		icr, err := re.tm.GetCurrentICR(cur, price)
		if err != nil {
			return ZeroIdentity, err
		}
		if icr >= re.tm.params.MCR {
			return cur, nil
		}
		if cur, err = re.tm.list.Prev(cur); err != nil {
			return ZeroIdentity, err
		}
	}
	return ZeroIdentity, nil
}

// peekICR returns the current ICR of the trove the next step would hit.
func (s *redemptionSession) peekICR() (Identity, uint64, error) {
	if s.cursor.IsZero() {
		return ZeroIdentity, 0, nil
	}
	icr, err := s.re.tm.GetCurrentICR(s.cursor, s.price)
	return s.cursor, icr, err
}

// step redeems against the trove under the cursor. done reports that the
// walk cannot continue: list exhausted, partial cancelled, or last trove.
func (s *redemptionSession) step(remaining, partialNICR uint64, upper, lower Identity) (*TroveRedemption, bool, error) {
	if s.cursor.IsZero() || remaining == 0 {
		return nil, true, nil
	}
	tm := s.re.tm
	owner := s.cursor
	next, err := tm.list.Prev(owner)
	if err != nil {
		return nil, false, err
	}

	if err := tm.ApplyPendingRewards(owner); err != nil {
		return nil, false, err
	}
	t, err := tm.GetTrove(owner)
	if err != nil {
		return nil, false, err
	}

	debtLot := fpmath.Min(remaining, t.Debt)
	collLot := fpmath.MulDivDown(debtLot, fpmath.Precision, s.price)
	if collLot > t.Coll {
		collLot = t.Coll
	}
	newDebt := t.Debt - debtLot
	newColl := t.Coll - collLot
	tr := &TroveRedemption{Owner: owner, DebtRedeemed: debtLot, CollDrawn: collLot}

	if newDebt == 0 {
		size, err := tm.list.Size()
		if err != nil {
			return nil, false, err
		}
		if size <= 1 {
			return nil, true, nil
		}
		if err := tm.Close(owner, StatusClosedByRedemption); err != nil {
			return nil, false, err
		}
		if err := s.re.surplus.AccountSurplus(owner, tm.asset, newColl); err != nil {
			return nil, false, err
		}
		tr.Closed = true
		tr.CollSurplus = newColl
		tr.NewNICR = fpmath.MaxICR
	} else {
		if newDebt < tm.params.MinNetDebt {
			// Partial would leave dust debt; stop here.
			return nil, true, nil
		}
		nicr := fpmath.NominalICR(newColl, newDebt)
		if partialNICR != 0 && nicr != partialNICR {
			return nil, false, fmt.Errorf("%w: partial redemption of %s gives nicr %d, hint %d",
				ErrStaleHint, owner, nicr, partialNICR)
		}
		if err := tm.update(owner, newColl, newDebt, upper, lower); err != nil {
			return nil, false, err
		}
		tr.NewNICR = nicr
	}

	if err := tm.pools.DecreaseDebt(debtLot, ledger.JournalTypeRedemption); err != nil {
		return nil, false, err
	}

	s.result.Troves = append(s.result.Troves, *tr)
	s.result.DebtRedeemed += debtLot
	s.result.CollDrawn += collLot
	s.cursor = next
	// A partially redeemed trove ends the walk.
	return tr, !tr.Closed || next.IsZero(), nil
}

// finish charges the fee, burns the redeemed tokens and pays out collateral.
func (s *redemptionSession) finish(redeemer Identity) (*RedemptionResult, error) {
	res := s.result
	if res.DebtRedeemed == 0 {
		return nil, ErrNothingToRedeem
	}
	tm := s.re.tm

	fee, err := s.re.fees.RedemptionFee(res.CollDrawn, res.DebtRedeemed, s.totalDebt)
	if err != nil {
		return nil, err
	}
	res.Fee = fee
	res.CollPaid = res.CollDrawn - fee
	if res.BaseRate, err = s.re.fees.DecayedBaseRate(); err != nil {
		return nil, err
	}

	if err := s.re.token.Burn(walletKey(redeemer, ledger.DebtToken), res.DebtRedeemed, ledger.JournalTypeRedemption); err != nil {
		return nil, err
	}
	if err := tm.pools.SendColl(ledger.NewSystemAccountKey(ledger.SubTypeFees, tm.asset), fee, ledger.JournalTypeRedemptionFee); err != nil {
		return nil, err
	}
	if err := tm.pools.SendColl(walletKey(redeemer, tm.asset), res.CollPaid, ledger.JournalTypeRedemption); err != nil {
		return nil, err
	}
	return res, nil
}
