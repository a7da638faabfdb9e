package vault

import (
	"errors"
	"testing"
)

func TestNewRegistryRejectsLengthMismatch(t *testing.T) {
	if _, err := NewRegistry([]string{"WETH", "WBTC"}, []string{"weth-usd"}); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
}

func TestNewRegistryRejectsEmptyEntries(t *testing.T) {
	if _, err := NewRegistry([]string{"WETH", "  "}, []string{"weth-usd", "wbtc-usd"}); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected rejection of blank symbol, got %v", err)
	}
	if _, err := NewRegistry([]string{"WETH"}, []string{""}); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected rejection of blank feed, got %v", err)
	}
}

func TestRegistryNormalisesSymbols(t *testing.T) {
	registry, err := NewRegistry([]string{" weth "}, []string{"weth-usd"})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	if !registry.IsAllowed("WETH") || !registry.IsAllowed("weth") || !registry.IsAllowed(" Weth ") {
		t.Fatalf("expected case-insensitive symbol matching")
	}
	if registry.IsAllowed("WBTC") {
		t.Fatalf("unexpected asset accepted")
	}
	feed, ok := registry.FeedID("weth")
	if !ok || feed != "weth-usd" {
		t.Fatalf("unexpected feed binding %q ok=%v", feed, ok)
	}
}

func TestRegistryDuplicateKeepsLastFeed(t *testing.T) {
	registry, err := NewRegistry(
		[]string{"WETH", "WBTC", "weth"},
		[]string{"stale-feed", "wbtc-usd", "weth-usd"},
	)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	feed, ok := registry.FeedID("WETH")
	if !ok || feed != "weth-usd" {
		t.Fatalf("expected last binding to win, got %q", feed)
	}
	assets := registry.Assets()
	if len(assets) != 2 || assets[0] != "WETH" || assets[1] != "WBTC" {
		t.Fatalf("unexpected asset order %v", assets)
	}
}

func TestRegistryAssetsReturnsCopy(t *testing.T) {
	registry, err := NewRegistry([]string{"WETH"}, []string{"weth-usd"})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	assets := registry.Assets()
	assets[0] = "HACKED"
	if got := registry.Assets()[0]; got != "WETH" {
		t.Fatalf("caller mutated registry order: %s", got)
	}
}
