package state

import (
	"fmt"

	"TroveLedger/internal/ledger"
)

// Oracle returns the current price of one collateral unit in debt-token
// units, Precision scale.
type Oracle interface {
	GetPrice(asset string) (uint64, error)
}

// StabilityPool absorbs liquidated debt with pooled debt tokens and receives
// the matching collateral.
type StabilityPool interface {
	AvailableDebtToken() uint64
	Offset(asset string, debtToCancel, collToAdd uint64) error
}

// CollSurplusPool holds collateral owed back to owners of closed troves.
type CollSurplusPool interface {
	AccountSurplus(owner Identity, asset string, amount uint64) error
	ClaimColl(owner Identity, asset string) (uint64, error)
}

// Pools is the ActivePool/DefaultPool pair of one asset, expressed as ledger
// accounts. Collateral lives under the asset symbol and recorded debt under
// ledger.DebtAsset(asset).
type Pools struct {
	asset   string
	journal *ledger.JournalGenerator
}

func NewPools(asset string, journal *ledger.JournalGenerator) *Pools {
	return &Pools{asset: asset, journal: journal}
}

func (p *Pools) debtAsset() string { return ledger.DebtAsset(p.asset) }

func (p *Pools) activeColl() ledger.AccountKey {
	return ledger.NewSystemAccountKey(ledger.SubTypeActivePool, p.asset)
}
func (p *Pools) activeDebt() ledger.AccountKey {
	return ledger.NewSystemAccountKey(ledger.SubTypeActivePool, p.debtAsset())
}
func (p *Pools) defaultColl() ledger.AccountKey {
	return ledger.NewSystemAccountKey(ledger.SubTypeDefaultPool, p.asset)
}
func (p *Pools) defaultDebt() ledger.AccountKey {
	return ledger.NewSystemAccountKey(ledger.SubTypeDefaultPool, p.debtAsset())
}
func (p *Pools) custody() ledger.AccountKey {
	return ledger.NewExternalAccountKey(ledger.SubTypeCustody, p.asset)
}
func (p *Pools) debtIssuance() ledger.AccountKey {
	return ledger.NewExternalAccountKey(ledger.SubTypeIssuance, p.debtAsset())
}

func walletKey(owner Identity, asset string) ledger.AccountKey {
	return ledger.NewUserAccountKey(owner.String(), ledger.SubTypeWallet, asset)
}

func surplusKey(owner Identity, asset string) ledger.AccountKey {
	return ledger.NewUserAccountKey(owner.String(), ledger.SubTypeCollSurplus, asset)
}

func (p *Pools) ActiveColl() uint64  { return p.journal.Tracker().Available(p.activeColl()) }
func (p *Pools) ActiveDebt() uint64  { return p.journal.Tracker().Available(p.activeDebt()) }
func (p *Pools) DefaultColl() uint64 { return p.journal.Tracker().Available(p.defaultColl()) }
func (p *Pools) DefaultDebt() uint64 { return p.journal.Tracker().Available(p.defaultDebt()) }

// DepositColl brings collateral from outside into the active pool.
func (p *Pools) DepositColl(amount uint64) error {
	return p.journal.Transfer(p.activeColl(), p.custody(), amount, ledger.JournalTypeCollDeposit)
}

// SendColl pays collateral out of the active pool.
func (p *Pools) SendColl(to ledger.AccountKey, amount uint64, jt ledger.JournalType) error {
	return p.journal.Transfer(to, p.activeColl(), amount, jt)
}

func (p *Pools) IncreaseDebt(amount uint64) error {
	return p.journal.Transfer(p.activeDebt(), p.debtIssuance(), amount, ledger.JournalTypeDebtIssue)
}

func (p *Pools) DecreaseDebt(amount uint64, jt ledger.JournalType) error {
	return p.journal.Transfer(p.debtIssuance(), p.activeDebt(), amount, jt)
}

// MoveToDefault parks redistributed debt and collateral until troves pull it.
func (p *Pools) MoveToDefault(debt, coll uint64) error {
	if err := p.journal.Transfer(p.defaultDebt(), p.activeDebt(), debt, ledger.JournalTypeRedistribution); err != nil {
		return err
	}
	return p.journal.Transfer(p.defaultColl(), p.activeColl(), coll, ledger.JournalTypeRedistribution)
}

// MoveFromDefault returns pending rewards to the active pool.
func (p *Pools) MoveFromDefault(debt, coll uint64) error {
	if err := p.journal.Transfer(p.activeDebt(), p.defaultDebt(), debt, ledger.JournalTypeRewardPull); err != nil {
		return err
	}
	return p.journal.Transfer(p.activeColl(), p.defaultColl(), coll, ledger.JournalTypeRewardPull)
}

// --- Debt token ---

// DebtToken moves the shared debt token between wallets, the stability pool,
// the fee account and external issuance.
type DebtToken struct {
	journal *ledger.JournalGenerator
}

func NewDebtToken(journal *ledger.JournalGenerator) *DebtToken {
	return &DebtToken{journal: journal}
}

func (d *DebtToken) issuance() ledger.AccountKey {
	return ledger.NewExternalAccountKey(ledger.SubTypeIssuance, ledger.DebtToken)
}

func (d *DebtToken) BalanceOf(owner Identity) uint64 {
	return d.journal.Tracker().Available(walletKey(owner, ledger.DebtToken))
}

func (d *DebtToken) Mint(to ledger.AccountKey, amount uint64, jt ledger.JournalType) error {
	return d.journal.Transfer(to, d.issuance(), amount, jt)
}

func (d *DebtToken) Burn(from ledger.AccountKey, amount uint64, jt ledger.JournalType) error {
	if d.journal.Tracker().Available(from) < amount {
		return fmt.Errorf("%w: %s holds %d, needs %d",
			ErrInsufficientBalance, from.AccountPath(), d.journal.Tracker().GetBalance(from), amount)
	}
	return d.journal.Transfer(d.issuance(), from, amount, jt)
}

// --- Stability pool ---

// LedgerStabilityPool implements StabilityPool on the ledger. Depositor
// accounting is outside this system; only the pooled totals are tracked.
type LedgerStabilityPool struct {
	journal *ledger.JournalGenerator
	token   *DebtToken
}

func NewLedgerStabilityPool(journal *ledger.JournalGenerator) *LedgerStabilityPool {
	return &LedgerStabilityPool{journal: journal, token: NewDebtToken(journal)}
}

func (sp *LedgerStabilityPool) debtTokenKey() ledger.AccountKey {
	return ledger.NewSystemAccountKey(ledger.SubTypeStabilityPool, ledger.DebtToken)
}

func (sp *LedgerStabilityPool) AvailableDebtToken() uint64 {
	return sp.journal.Tracker().Available(sp.debtTokenKey())
}

// CollateralGain returns the collateral the pool has accumulated for asset.
func (sp *LedgerStabilityPool) CollateralGain(asset string) uint64 {
	return sp.journal.Tracker().Available(ledger.NewSystemAccountKey(ledger.SubTypeStabilityPool, asset))
}

// Offset burns pooled debt tokens against the asset's active debt and moves
// the matching collateral into the pool.
func (sp *LedgerStabilityPool) Offset(asset string, debtToCancel, collToAdd uint64) error {
	if debtToCancel == 0 {
		return nil
	}
	if err := sp.token.Burn(sp.debtTokenKey(), debtToCancel, ledger.JournalTypeOffset); err != nil {
		return err
	}
	pools := NewPools(asset, sp.journal)
	if err := pools.DecreaseDebt(debtToCancel, ledger.JournalTypeOffset); err != nil {
		return err
	}
	return pools.SendColl(ledger.NewSystemAccountKey(ledger.SubTypeStabilityPool, asset), collToAdd, ledger.JournalTypeOffset)
}

// Provide moves debt tokens from a depositor's wallet into the pool.
func (sp *LedgerStabilityPool) Provide(depositor Identity, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	from := walletKey(depositor, ledger.DebtToken)
	if sp.journal.Tracker().Available(from) < amount {
		return fmt.Errorf("%w: stability deposit of %d", ErrInsufficientBalance, amount)
	}
	return sp.journal.Transfer(sp.debtTokenKey(), from, amount, ledger.JournalTypeStabilityDeposit)
}

// --- Collateral surplus ---

type LedgerCollSurplusPool struct {
	journal *ledger.JournalGenerator
}

func NewLedgerCollSurplusPool(journal *ledger.JournalGenerator) *LedgerCollSurplusPool {
	return &LedgerCollSurplusPool{journal: journal}
}

// AccountSurplus credits owner with collateral taken from the active pool.
func (cs *LedgerCollSurplusPool) AccountSurplus(owner Identity, asset string, amount uint64) error {
	return NewPools(asset, cs.journal).SendColl(surplusKey(owner, asset), amount, ledger.JournalTypeSurplus)
}

func (cs *LedgerCollSurplusPool) Surplus(owner Identity, asset string) uint64 {
	return cs.journal.Tracker().Available(surplusKey(owner, asset))
}

// ClaimColl releases the owner's whole surplus to their wallet.
func (cs *LedgerCollSurplusPool) ClaimColl(owner Identity, asset string) (uint64, error) {
	amount := cs.Surplus(owner, asset)
	if amount == 0 {
		return 0, ErrNothingToClaim
	}
	err := cs.journal.Transfer(walletKey(owner, asset), surplusKey(owner, asset), amount, ledger.JournalTypeSurplusClaim)
	return amount, err
}
