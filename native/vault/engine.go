package vault

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"zusd/core/events"
	"zusd/crypto"
	nativecommon "zusd/native/common"
	"zusd/native/oracle"
	"zusd/native/token"
)

// Engine keeps collateral positions over-backed at all times. Accounts
// deposit registered collateral, mint ZUSD against it and stay above the
// minimum health factor; positions that fall below it can be liquidated by
// anyone willing to cover the debt.
//
// Every mutating operation runs single-flight: a second call while one is in
// progress fails immediately with ErrReentrantCall instead of queueing. State
// effects are journaled against a snapshot and either commit as one batch or
// revert wholesale, so a failure at any step leaves no trace. Token moves
// must be backed by the same State as the ledger writes for that guarantee
// to cover them.
type Engine struct {
	mu            sync.Mutex
	state         State
	registry      *Registry
	adapter       *oracle.Adapter
	synthetic     token.Minter
	collateral    map[string]token.Token
	moduleAddress crypto.Address
	params        RiskParams
	minHealth     *big.Int
	pauses        nativecommon.PauseView
	emitter       events.Emitter
	nowFunc       func() time.Time
}

// NewEngine constructs an engine holding custody at moduleAddr with the
// default risk parameters. State, registry, oracle adapter and tokens are
// wired afterwards through the Set methods.
func NewEngine(moduleAddr crypto.Address) *Engine {
	return &Engine{
		collateral:    make(map[string]token.Token),
		moduleAddress: moduleAddr,
		params:        DefaultRiskParams(),
		minHealth:     new(big.Int).Set(MinHealthFactor),
		nowFunc:       time.Now,
	}
}

// SetState configures the ledger backing the engine.
func (e *Engine) SetState(state State) {
	if e == nil {
		return
	}
	e.state = state
}

// SetRegistry configures the accepted collateral set.
func (e *Engine) SetRegistry(registry *Registry) {
	if e == nil {
		return
	}
	e.registry = registry
}

// SetAdapter configures the price oracle adapter.
func (e *Engine) SetAdapter(adapter *oracle.Adapter) {
	if e == nil {
		return
	}
	e.adapter = adapter
}

// SetSynthetic configures the ZUSD minter. The handle must act for the
// engine's module address so burns can consume what TransferFrom pulled in.
func (e *Engine) SetSynthetic(minter token.Minter) {
	if e == nil {
		return
	}
	e.synthetic = minter
}

// BindCollateralToken attaches the token handle used to custody one asset.
// The handle must act for the engine's module address.
func (e *Engine) BindCollateralToken(asset string, tok token.Token) {
	if e == nil || tok == nil {
		return
	}
	e.collateral[normaliseAsset(asset)] = tok
}

// SetPauses wires the module pause switchboard.
func (e *Engine) SetPauses(pauses nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = pauses
}

// SetEmitter wires the event sink. Events publish only after a successful
// commit, so subscribers never observe a reverted operation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	e.emitter = emitter
}

// SetRiskParams replaces the liquidation threshold and bonus.
func (e *Engine) SetRiskParams(params RiskParams) error {
	if e == nil {
		return errNilState
	}
	if err := params.Validate(); err != nil {
		return err
	}
	e.params = params
	return nil
}

// SetMinimumHealthFactor overrides the liquidation boundary. Intended for
// test networks that want a looser or tighter band than 1e18.
func (e *Engine) SetMinimumHealthFactor(min *big.Int) error {
	if e == nil {
		return errNilState
	}
	if min == nil || min.Sign() <= 0 {
		return fmt.Errorf("vault engine: minimum health factor must be positive")
	}
	e.minHealth = new(big.Int).Set(min)
	return nil
}

// Params returns the active risk parameters.
func (e *Engine) Params() RiskParams {
	if e == nil {
		return RiskParams{}
	}
	return e.params
}

// ModuleAddress returns the custody address collateral is escrowed under.
func (e *Engine) ModuleAddress() crypto.Address {
	return e.moduleAddress
}

// DepositCollateral escrows amount of a registered asset under the module
// address and credits the caller's position. Depositing can only raise the
// health factor, so no post-check runs.
func (e *Engine) DepositCollateral(from crypto.Address, asset string, amount *big.Int) error {
	release, err := e.begin()
	if err != nil {
		return err
	}
	defer release()
	snap := e.state.Snapshot()
	ev, err := e.depositCollateral(from, asset, amount)
	if err != nil {
		e.state.RevertToSnapshot(snap)
		return err
	}
	return e.finish(snap, ev)
}

// Mint issues ZUSD against the caller's collateral. The resulting position
// must be healthy before any tokens move.
func (e *Engine) Mint(caller crypto.Address, amount *big.Int) error {
	release, err := e.begin()
	if err != nil {
		return err
	}
	defer release()
	snap := e.state.Snapshot()
	ev, err := e.mintSynthetic(caller, amount)
	if err != nil {
		e.state.RevertToSnapshot(snap)
		return err
	}
	return e.finish(snap, ev)
}

// DepositAndMint performs DepositCollateral and Mint as one atomic
// operation: if the mint leg fails the deposit is rolled back too.
func (e *Engine) DepositAndMint(caller crypto.Address, asset string, collateralAmount, mintAmount *big.Int) error {
	release, err := e.begin()
	if err != nil {
		return err
	}
	defer release()
	snap := e.state.Snapshot()
	depositEv, err := e.depositCollateral(caller, asset, collateralAmount)
	if err != nil {
		e.state.RevertToSnapshot(snap)
		return err
	}
	mintEv, err := e.mintSynthetic(caller, mintAmount)
	if err != nil {
		e.state.RevertToSnapshot(snap)
		return err
	}
	return e.finish(snap, depositEv, mintEv)
}

// RedeemCollateral returns amount of a deposited asset to the caller. The
// remaining position must still be healthy after the withdrawal.
func (e *Engine) RedeemCollateral(caller crypto.Address, asset string, amount *big.Int) error {
	release, err := e.begin()
	if err != nil {
		return err
	}
	defer release()
	snap := e.state.Snapshot()
	ev, err := e.redeemCollateral(caller, asset, amount)
	if err != nil {
		e.state.RevertToSnapshot(snap)
		return err
	}
	return e.finish(snap, ev)
}

// Burn retires amount of the caller's minted ZUSD. Burning debt cannot
// worsen a position; the trailing health check is a backstop only.
func (e *Engine) Burn(caller crypto.Address, amount *big.Int) error {
	release, err := e.begin()
	if err != nil {
		return err
	}
	defer release()
	snap := e.state.Snapshot()
	ev, err := e.burnSynthetic(caller, amount)
	if err != nil {
		e.state.RevertToSnapshot(snap)
		return err
	}
	factor, err := e.healthFactor(caller)
	if err != nil {
		e.state.RevertToSnapshot(snap)
		return err
	}
	if !e.isHealthy(factor) {
		e.state.RevertToSnapshot(snap)
		return newHealthFactorError(factor)
	}
	return e.finish(snap, ev)
}

// RedeemForZUSD burns ZUSD and withdraws collateral as one atomic operation.
// The health check after the withdrawal leg is the authoritative one.
func (e *Engine) RedeemForZUSD(caller crypto.Address, asset string, collateralAmount, burnAmount *big.Int) error {
	release, err := e.begin()
	if err != nil {
		return err
	}
	defer release()
	snap := e.state.Snapshot()
	burnEv, err := e.burnSynthetic(caller, burnAmount)
	if err != nil {
		e.state.RevertToSnapshot(snap)
		return err
	}
	redeemEv, err := e.redeemCollateral(caller, asset, collateralAmount)
	if err != nil {
		e.state.RevertToSnapshot(snap)
		return err
	}
	return e.finish(snap, burnEv, redeemEv)
}

// Liquidate lets the caller cover debtToCover of an unhealthy target
// position in exchange for the equivalent collateral plus the liquidation
// bonus. Partial liquidations are allowed; the target's health factor must
// strictly improve and the liquidator must end healthy. Returns the
// collateral amount seized.
func (e *Engine) Liquidate(liquidator, target crypto.Address, asset string, debtToCover *big.Int) (*big.Int, error) {
	release, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer release()
	snap := e.state.Snapshot()
	ev, err := e.liquidatePosition(liquidator, target, asset, debtToCover)
	if err != nil {
		e.state.RevertToSnapshot(snap)
		return nil, err
	}
	if err := e.finish(snap, ev); err != nil {
		return nil, err
	}
	return new(big.Int).Set(ev.CollateralSeized), nil
}

func (e *Engine) depositCollateral(from crypto.Address, asset string, amount *big.Int) (*CollateralDeposited, error) {
	symbol := normaliseAsset(asset)
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrAmountMustBePositive
	}
	tok, err := e.collateralToken(symbol)
	if err != nil {
		return nil, err
	}
	balance, err := e.state.CollateralBalance(from.Bytes(), symbol)
	if err != nil {
		return nil, err
	}
	if err := e.state.SetCollateralBalance(from.Bytes(), symbol, new(big.Int).Add(balance, amount)); err != nil {
		return nil, err
	}
	if err := tok.TransferFrom(from, e.moduleAddress, amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCollateralTransferFailed, err)
	}
	return &CollateralDeposited{
		Account: from,
		Asset:   symbol,
		Amount:  new(big.Int).Set(amount),
		Time:    e.nowFunc(),
	}, nil
}

func (e *Engine) mintSynthetic(to crypto.Address, amount *big.Int) (*SyntheticMinted, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrAmountMustBePositive
	}
	debt, err := e.state.DebtBalance(to.Bytes())
	if err != nil {
		return nil, err
	}
	if err := e.state.SetDebtBalance(to.Bytes(), new(big.Int).Add(debt, amount)); err != nil {
		return nil, err
	}
	factor, err := e.healthFactor(to)
	if err != nil {
		return nil, err
	}
	if !e.isHealthy(factor) {
		return nil, newHealthFactorError(factor)
	}
	if err := e.synthetic.Mint(to, amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMintFailed, err)
	}
	return &SyntheticMinted{
		Account:      to,
		Amount:       new(big.Int).Set(amount),
		HealthFactor: factor,
		Time:         e.nowFunc(),
	}, nil
}

func (e *Engine) redeemCollateral(addr crypto.Address, asset string, amount *big.Int) (*CollateralRedeemed, error) {
	symbol := normaliseAsset(asset)
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrAmountMustBePositive
	}
	tok, err := e.collateralToken(symbol)
	if err != nil {
		return nil, err
	}
	balance, err := e.state.CollateralBalance(addr.Bytes(), symbol)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: deposited %s %s, redeeming %s", ErrInsufficientCollateral, balance, symbol, amount)
	}
	if err := e.state.SetCollateralBalance(addr.Bytes(), symbol, new(big.Int).Sub(balance, amount)); err != nil {
		return nil, err
	}
	if err := tok.Transfer(addr, amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCollateralTransferFailed, err)
	}
	factor, err := e.healthFactor(addr)
	if err != nil {
		return nil, err
	}
	if !e.isHealthy(factor) {
		return nil, newHealthFactorError(factor)
	}
	return &CollateralRedeemed{
		Account: addr,
		Asset:   symbol,
		Amount:  new(big.Int).Set(amount),
		Time:    e.nowFunc(),
	}, nil
}

func (e *Engine) burnSynthetic(from crypto.Address, amount *big.Int) (*SyntheticBurned, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrAmountMustBePositive
	}
	debt, err := e.state.DebtBalance(from.Bytes())
	if err != nil {
		return nil, err
	}
	if debt.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: minted %s, burning %s", ErrInsufficientDebt, debt, amount)
	}
	if err := e.state.SetDebtBalance(from.Bytes(), new(big.Int).Sub(debt, amount)); err != nil {
		return nil, err
	}
	if err := e.synthetic.TransferFrom(from, e.moduleAddress, amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntheticTransferFailed, err)
	}
	if err := e.synthetic.Burn(e.moduleAddress, amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntheticTransferFailed, err)
	}
	return &SyntheticBurned{
		Account: from,
		Amount:  new(big.Int).Set(amount),
		Time:    e.nowFunc(),
	}, nil
}

func (e *Engine) liquidatePosition(liquidator, target crypto.Address, asset string, debtToCover *big.Int) (*PositionLiquidated, error) {
	symbol := normaliseAsset(asset)
	if debtToCover == nil || debtToCover.Sign() <= 0 {
		return nil, ErrAmountMustBePositive
	}
	tok, err := e.collateralToken(symbol)
	if err != nil {
		return nil, err
	}

	startingFactor, err := e.healthFactor(target)
	if err != nil {
		return nil, err
	}
	if e.isHealthy(startingFactor) {
		return nil, fmt.Errorf("%w: factor %s", ErrHealthFactorOK, startingFactor)
	}

	feed, err := e.feedFor(symbol)
	if err != nil {
		return nil, err
	}
	seized, err := e.adapter.AssetAmountForUSD(feed, debtToCover)
	if err != nil {
		return nil, err
	}
	bonus := new(big.Int).Mul(seized, new(big.Int).SetUint64(e.params.LiquidationBonusBps))
	bonus.Quo(bonus, basisPoints)
	seized.Add(seized, bonus)

	position, err := e.state.CollateralBalance(target.Bytes(), symbol)
	if err != nil {
		return nil, err
	}
	if position.Cmp(seized) < 0 {
		return nil, fmt.Errorf("%w: position holds %s %s, seizing %s", ErrInsufficientCollateral, position, symbol, seized)
	}
	if err := e.state.SetCollateralBalance(target.Bytes(), symbol, new(big.Int).Sub(position, seized)); err != nil {
		return nil, err
	}
	debt, err := e.state.DebtBalance(target.Bytes())
	if err != nil {
		return nil, err
	}
	if debt.Cmp(debtToCover) < 0 {
		return nil, fmt.Errorf("%w: minted %s, covering %s", ErrInsufficientDebt, debt, debtToCover)
	}
	if err := e.state.SetDebtBalance(target.Bytes(), new(big.Int).Sub(debt, debtToCover)); err != nil {
		return nil, err
	}

	if err := tok.Transfer(liquidator, seized); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCollateralTransferFailed, err)
	}
	if err := e.synthetic.TransferFrom(liquidator, e.moduleAddress, debtToCover); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntheticTransferFailed, err)
	}
	if err := e.synthetic.Burn(e.moduleAddress, debtToCover); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntheticTransferFailed, err)
	}

	endingFactor, err := e.healthFactor(target)
	if err != nil {
		return nil, err
	}
	if endingFactor.Cmp(startingFactor) <= 0 {
		return nil, fmt.Errorf("%w: %s to %s", ErrHealthFactorNotImproved, startingFactor, endingFactor)
	}
	liquidatorFactor, err := e.healthFactor(liquidator)
	if err != nil {
		return nil, err
	}
	if !e.isHealthy(liquidatorFactor) {
		return nil, newHealthFactorError(liquidatorFactor)
	}

	now := e.nowFunc()
	return &PositionLiquidated{
		Liquidator:         liquidator,
		Target:             target,
		Asset:              symbol,
		DebtCovered:        new(big.Int).Set(debtToCover),
		CollateralSeized:   seized,
		TargetFactorBefore: startingFactor,
		TargetFactorAfter:  endingFactor,
		Time:               now,
		Receipt:            liquidationReceipt(liquidator, target, symbol, debtToCover, seized, now),
	}, nil
}

// collateralToken resolves the bound token handle for a registered asset.
func (e *Engine) collateralToken(symbol string) (token.Token, error) {
	if !e.registry.IsAllowed(symbol) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAsset, symbol)
	}
	tok, ok := e.collateral[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: no token bound for %s", ErrUnsupportedAsset, symbol)
	}
	return tok, nil
}

// begin verifies the wiring, honours the pause switch and takes the
// operation lock without blocking.
func (e *Engine) begin() (func(), error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.registry == nil {
		return nil, errNilRegistry
	}
	if e.adapter == nil {
		return nil, errNilAdapter
	}
	if e.synthetic == nil {
		return nil, errNilSynthetic
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if !e.mu.TryLock() {
		return nil, ErrReentrantCall
	}
	return e.mu.Unlock, nil
}

// finish commits the journaled batch and publishes the operation's events.
// A failed commit reverts the batch so memory and disk stay aligned.
func (e *Engine) finish(snap int, evs ...events.Event) error {
	if err := e.state.Commit(); err != nil {
		e.state.RevertToSnapshot(snap)
		return fmt.Errorf("vault engine: %w", err)
	}
	for _, ev := range evs {
		e.emit(ev)
	}
	return nil
}

func (e *Engine) emit(ev events.Event) {
	if e.emitter == nil || ev == nil {
		return
	}
	e.emitter.Emit(ev)
}
