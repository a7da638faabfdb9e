package vault

import (
	"errors"
	"math/big"
	"testing"

	"zusd/crypto"
	"zusd/native/oracle"
)

func TestHealthFactorValue(t *testing.T) {
	cases := []struct {
		name       string
		collateral *big.Int
		minted     *big.Int
		threshold  uint64
		want       *big.Int
	}{
		{"exactly at minimum", e18(20000), e18(10000), 5000, e18(1)},
		{"double cover", e18(20000), e18(5000), 5000, e18(2)},
		{"under water", e18(20000), e18(20000), 5000, big.NewInt(500_000_000_000_000_000)},
		{"looser threshold", e18(20000), e18(10000), 8000, big.NewInt(1_600_000_000_000_000_000)},
		{"no collateral", big.NewInt(0), e18(100), 5000, big.NewInt(0)},
		{"truncates toward zero", e18(1000), e18(1001), 5000, big.NewInt(499_500_499_500_499_500)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := healthFactorValue(tc.collateral, tc.minted, tc.threshold)
			if got.Cmp(tc.want) != 0 {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestHealthFactorValueNoDebt(t *testing.T) {
	got := healthFactorValue(e18(20000), big.NewInt(0), 5000)
	if got.Cmp(MaxHealthFactor) != 0 {
		t.Fatalf("expected max factor for debt-free account, got %s", got)
	}
	got = healthFactorValue(big.NewInt(0), nil, 5000)
	if got.Cmp(MaxHealthFactor) != 0 {
		t.Fatalf("expected max factor for nil debt, got %s", got)
	}
	// The returned value must be a copy.
	got.SetInt64(0)
	if MaxHealthFactor.Sign() == 0 {
		t.Fatalf("caller mutated the shared maximum")
	}
}

// twoAssetEngine wires WETH at $2000 and WBTC at $30,000, the latter through
// an initially unpublished feed so tests can exercise dead-feed handling.
func twoAssetEngine(t *testing.T) (*Engine, *mockState, *oracle.ManualFeed) {
	t.Helper()
	registry, err := NewRegistry([]string{"WETH", "WBTC"}, []string{"weth-usd", "wbtc-usd"})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	wethFeed := oracle.NewManualFeed()
	wethFeed.SetPrice(big.NewInt(2000_00000000), 8)
	wbtcFeed := oracle.NewManualFeed()
	adapter := oracle.NewAdapter()
	adapter.Bind("weth-usd", wethFeed)
	adapter.Bind("wbtc-usd", wbtcFeed)

	state := newMockState()
	engine := NewEngine(makeAddress(crypto.VaultPrefix, 0xfe))
	engine.SetState(state)
	engine.SetRegistry(registry)
	engine.SetAdapter(adapter)
	engine.SetSynthetic(&mockMinter{mockToken: mockToken{symbol: "ZUSD"}})
	engine.BindCollateralToken("WETH", &mockToken{symbol: "WETH"})
	engine.BindCollateralToken("WBTC", &mockToken{symbol: "WBTC"})
	return engine, state, wbtcFeed
}

func TestAccountInfoAggregatesAssets(t *testing.T) {
	engine, state, wbtcFeed := twoAssetEngine(t)
	wbtcFeed.SetPrice(big.NewInt(30000_00000000), 8)
	account := makeAddress(crypto.AccountPrefix, 0x07)

	if err := state.SetCollateralBalance(account.Bytes(), "WETH", e18(5)); err != nil {
		t.Fatalf("seed weth: %v", err)
	}
	if err := state.SetCollateralBalance(account.Bytes(), "WBTC", e18(1)); err != nil {
		t.Fatalf("seed wbtc: %v", err)
	}
	if err := state.SetDebtBalance(account.Bytes(), e18(10000)); err != nil {
		t.Fatalf("seed debt: %v", err)
	}

	info, err := engine.AccountInfo(account)
	if err != nil {
		t.Fatalf("account info: %v", err)
	}
	if info.CollateralUSD.Cmp(e18(40000)) != 0 {
		t.Fatalf("expected $40,000 collateral, got %s", info.CollateralUSD)
	}
	if info.Minted.Cmp(e18(10000)) != 0 {
		t.Fatalf("expected 10000 minted, got %s", info.Minted)
	}
	if info.HealthFactor.Cmp(e18(2)) != 0 {
		t.Fatalf("expected health factor 2.0, got %s", info.HealthFactor)
	}
}

func TestCollateralValueSkipsUntouchedAssets(t *testing.T) {
	engine, state, _ := twoAssetEngine(t)
	account := makeAddress(crypto.AccountPrefix, 0x08)

	// WBTC's feed is unpublished, but the account never deposited WBTC.
	if err := state.SetCollateralBalance(account.Bytes(), "WETH", e18(2)); err != nil {
		t.Fatalf("seed weth: %v", err)
	}
	value, err := engine.CollateralValueUSD(account)
	if err != nil {
		t.Fatalf("collateral value: %v", err)
	}
	if value.Cmp(e18(4000)) != 0 {
		t.Fatalf("expected $4000, got %s", value)
	}

	// Once the account holds the asset, a dead feed must surface.
	if err := state.SetCollateralBalance(account.Bytes(), "WBTC", e18(1)); err != nil {
		t.Fatalf("seed wbtc: %v", err)
	}
	if _, err := engine.CollateralValueUSD(account); err == nil {
		t.Fatalf("expected dead feed error for held asset")
	}
}

func TestUSDConversionViews(t *testing.T) {
	fix := newEngineFixture(t)

	value, err := fix.engine.USDValue("weth", e18(15))
	if err != nil {
		t.Fatalf("usd value: %v", err)
	}
	if value.Cmp(e18(30000)) != 0 {
		t.Fatalf("expected $30,000, got %s", value)
	}
	amount, err := fix.engine.AssetAmountForUSD("WETH", e18(100))
	if err != nil {
		t.Fatalf("asset amount: %v", err)
	}
	if amount.Cmp(big.NewInt(50_000_000_000_000_000)) != 0 {
		t.Fatalf("expected 0.05 WETH, got %s", amount)
	}
	if _, err := fix.engine.USDValue("DOGE", e18(1)); !errors.Is(err, ErrUnsupportedAsset) {
		t.Fatalf("expected ErrUnsupportedAsset, got %v", err)
	}
}

func TestCollateralBalanceOfRejectsUnknownAsset(t *testing.T) {
	fix := newEngineFixture(t)

	if _, err := fix.engine.CollateralBalanceOf(fix.account, "DOGE"); !errors.Is(err, ErrUnsupportedAsset) {
		t.Fatalf("expected ErrUnsupportedAsset, got %v", err)
	}
	balance, err := fix.engine.CollateralBalanceOf(fix.account, "weth")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("expected empty balance, got %s", balance)
	}
}

func TestViewsRequireWiring(t *testing.T) {
	engine := NewEngine(makeAddress(crypto.VaultPrefix, 0x02))

	if _, err := engine.HealthFactor(makeAddress(crypto.AccountPrefix, 0x01)); !errors.Is(err, errNilState) {
		t.Fatalf("expected errNilState, got %v", err)
	}
	engine.SetState(newMockState())
	if _, err := engine.AccountInfo(makeAddress(crypto.AccountPrefix, 0x01)); !errors.Is(err, errNilRegistry) {
		t.Fatalf("expected errNilRegistry, got %v", err)
	}
}

func TestMinimumHealthFactorOverride(t *testing.T) {
	fix := newEngineFixture(t)

	if err := fix.engine.SetMinimumHealthFactor(nil); err == nil {
		t.Fatalf("expected rejection of nil minimum")
	}
	if err := fix.engine.SetMinimumHealthFactor(big.NewInt(0)); err == nil {
		t.Fatalf("expected rejection of zero minimum")
	}
	if err := fix.engine.SetMinimumHealthFactor(e18(2)); err != nil {
		t.Fatalf("set minimum: %v", err)
	}
	if got := fix.engine.MinimumHealthFactor(); got.Cmp(e18(2)) != 0 {
		t.Fatalf("expected minimum 2.0, got %s", got)
	}

	if err := fix.engine.DepositCollateral(fix.account, "WETH", e18(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// $10,000 borrowing power: 5000 sits exactly at the raised minimum.
	if err := fix.engine.Mint(fix.account, e18(5000)); err != nil {
		t.Fatalf("mint at raised boundary: %v", err)
	}
	if err := fix.engine.Mint(fix.account, e18(100)); !errors.Is(err, ErrHealthFactorBroken) {
		t.Fatalf("expected ErrHealthFactorBroken under raised minimum, got %v", err)
	}
}
