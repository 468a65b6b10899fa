package state

import (
	"fmt"
	"math/rand"
	"testing"

	"TroveLedger/internal/ledger"
)

// Random interleavings of borrower, liquidation and redemption operations.
// Every step either commits or leaves nothing behind, and the ledger and
// list invariants hold after each one.
func TestProtocol_RandomOperations(t *testing.T) {
	for seed := int64(1); seed <= 12; seed++ {
		t.Run(fmt.Sprintf("seed_%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			f := newFixture(t, "ETH")
			users := make([]Identity, 8)
			for i := range users {
				users[i] = user(byte(i + 1))
			}
			pick := func() Identity { return users[rng.Intn(len(users))] }
			amount := func(lo, hi uint64) uint64 { return e9(lo + uint64(rng.Int63n(int64(hi-lo+1)))) }
			borrower := func(fn func(b *BorrowerOperations) error) error {
				return f.exec(func(pm *ProtocolManager) error {
					inst, err := pm.Asset("ETH")
					if err != nil {
						return err
					}
					return fn(inst.Borrower)
				})
			}

			for step := 0; step < 200; step++ {
				owner := pick()
				switch rng.Intn(10) {
				case 0, 1:
					coll, debt := amount(600, 6000), amount(500, 3000)
					_ = borrower(func(b *BorrowerOperations) error {
						_, err := b.OpenTrove(owner, coll, debt, pick(), pick())
						return err
					})
				case 2:
					n := amount(1, 500)
					_ = borrower(func(b *BorrowerOperations) error {
						_, err := b.AddColl(owner, n, pick(), ZeroIdentity)
						return err
					})
				case 3:
					n := amount(1, 400)
					_ = borrower(func(b *BorrowerOperations) error {
						_, err := b.WithdrawDebtToken(owner, n, ZeroIdentity, pick())
						return err
					})
				case 4:
					n := amount(1, 300)
					_ = borrower(func(b *BorrowerOperations) error {
						_, err := b.RepayDebtToken(owner, n, pick(), pick())
						return err
					})
				case 5:
					_ = borrower(func(b *BorrowerOperations) error {
						_, err := b.CloseTrove(owner)
						return err
					})
				case 6:
					price := uint64(700_000_000 + rng.Int63n(800_000_001))
					f.setPrice("ETH", price)
				case 7:
					if rng.Intn(2) == 0 {
						_, _ = f.liquidate("ETH", owner)
						break
					}
					n := uint64(1 + rng.Intn(4))
					_ = f.exec(func(pm *ProtocolManager) error {
						inst, err := pm.Asset("ETH")
						if err != nil {
							return err
						}
						_, err = inst.Liquidations.LiquidateTroves(n, liquidator)
						return err
					})
				case 8:
					held := f.wallet(owner, ledger.DebtToken)
					if held == 0 {
						continue
					}
					n := uint64(1 + rng.Int63n(int64(held)))
					_, _ = f.redeem("ETH", RedemptionRequest{Redeemer: owner, Amount: n, MaxIterations: uint64(rng.Intn(4))})
				case 9:
					held := f.wallet(owner, ledger.DebtToken)
					if held == 0 {
						continue
					}
					n := uint64(1 + rng.Int63n(int64(held)))
					_ = f.exec(func(pm *ProtocolManager) error { return pm.StabilityPool().Provide(owner, n) })
				}
				f.advance(uint64(rng.Intn(3600)))
				f.checkInvariants()
			}
		})
	}
}
