package settlement

import (
	"errors"
	"math/big"
	"testing"

	"superswap/state"
	"superswap/storage"
)

func TestInitializeOnce(t *testing.T) {
	env := newTestEnv(t, 30)
	if _, err := env.engine.Initialize(testAdmin, InitParams{
		Collector:        testCollector,
		RoutingAuthority: testAuthority,
		SourceAsset:      testSourceAsset,
		FeeRecipient:     testFeeRecipient,
	}); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestInitializeRejectsExcessiveFee(t *testing.T) {
	engine := NewEngine()
	engine.SetState(state.NewManager(storage.NewMemDB()))
	if _, err := engine.Initialize(testAdmin, InitParams{
		Collector:        testCollector,
		RoutingAuthority: testAuthority,
		SourceAsset:      testSourceAsset,
		FeeRecipient:     testFeeRecipient,
		FeeBps:           1001,
	}); !errors.Is(err, ErrFeeRateOutOfRange) {
		t.Fatalf("expected ErrFeeRateOutOfRange, got %v", err)
	}
}

func TestUpdateConfigPatchSemantics(t *testing.T) {
	env := newTestEnv(t, 30)
	newCollector := newTestIdentity(0x22)
	newFee := uint32(1000)

	cfg, err := env.engine.UpdateConfig(testAdmin, ConfigPatch{Collector: &newCollector, FeeBps: &newFee})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if cfg.Collector != newCollector {
		t.Fatalf("collector not updated")
	}
	if cfg.FeeBps != 1000 {
		t.Fatalf("fee not updated: %d", cfg.FeeBps)
	}
	// Untouched fields survive the patch.
	if cfg.RoutingAuthority != testAuthority || cfg.FeeRecipient != testFeeRecipient {
		t.Fatalf("unrelated fields mutated: %+v", cfg)
	}
	if cfg.Version != 2 {
		t.Fatalf("version not bumped: %d", cfg.Version)
	}

	overCap := uint32(1001)
	if _, err := env.engine.UpdateConfig(testAdmin, ConfigPatch{FeeBps: &overCap}); !errors.Is(err, ErrFeeRateOutOfRange) {
		t.Fatalf("expected ErrFeeRateOutOfRange, got %v", err)
	}
}

func TestUpdateConfigRequiresAdmin(t *testing.T) {
	env := newTestEnv(t, 30)
	fee := uint32(10)
	if _, err := env.engine.UpdateConfig(testCollector, ConfigPatch{FeeBps: &fee}); !errors.Is(err, ErrUnauthorizedAdmin) {
		t.Fatalf("expected ErrUnauthorizedAdmin, got %v", err)
	}
	if err := env.engine.Pause(testCollector); !errors.Is(err, ErrUnauthorizedAdmin) {
		t.Fatalf("expected ErrUnauthorizedAdmin, got %v", err)
	}
}

func TestAdminTransferHandover(t *testing.T) {
	env := newTestEnv(t, 30)
	newAdmin := newTestIdentity(0x33)
	if _, err := env.engine.UpdateConfig(testAdmin, ConfigPatch{Admin: &newAdmin}); err != nil {
		t.Fatalf("handover: %v", err)
	}
	if err := env.engine.Pause(testAdmin); !errors.Is(err, ErrUnauthorizedAdmin) {
		t.Fatalf("old admin must lose access, got %v", err)
	}
	if err := env.engine.Pause(newAdmin); err != nil {
		t.Fatalf("new admin pause: %v", err)
	}
}

func TestRecoverFunds(t *testing.T) {
	env := newTestEnv(t, 30)
	strayAsset := newTestIdentity(0xC9)
	if err := env.manager.Credit(env.authority, strayAsset, big.NewInt(5_000)); err != nil {
		t.Fatalf("seed stray balance: %v", err)
	}
	sink := newTestIdentity(0x44)
	if err := env.engine.RecoverFunds(testAdmin, strayAsset, sink, 5_000); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if got := env.balance(t, sink, strayAsset); got != 5_000 {
		t.Fatalf("sink balance: %d", got)
	}
	if err := env.engine.RecoverFunds(testCollector, strayAsset, sink, 1); !errors.Is(err, ErrUnauthorizedAdmin) {
		t.Fatalf("expected ErrUnauthorizedAdmin, got %v", err)
	}
}
