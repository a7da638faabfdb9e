// Command vaultloader drives collateral deposits against a running daemon at a
// fixed rate and measures submit-to-event latency over the websocket stream.
// The supplied key must belong to an account already holding the collateral
// asset; deposits stop succeeding once that balance is exhausted.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"log"
	"math/big"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"nhooyr.io/websocket"

	"zusd/core/events"
	zusdcrypto "zusd/crypto"
	"zusd/native/vault"
	sdk "zusd/sdk/zusd"
)

const (
	defaultDuration = 2 * time.Minute
	defaultRate     = 300 // deposits per minute
)

// latencyTracker correlates submitted deposits with their stream events by the
// unique amount each deposit carries.
type latencyTracker struct {
	mu        sync.Mutex
	pending   map[string]time.Time
	latencies []time.Duration
}

func newLatencyTracker() *latencyTracker {
	return &latencyTracker{pending: make(map[string]time.Time)}
}

func (lt *latencyTracker) track(amount string, at time.Time) {
	lt.mu.Lock()
	lt.pending[amount] = at
	lt.mu.Unlock()
}

func (lt *latencyTracker) finalize(amount string, at time.Time) {
	lt.mu.Lock()
	start, ok := lt.pending[amount]
	if ok {
		lt.latencies = append(lt.latencies, at.Sub(start))
		delete(lt.pending, amount)
	}
	lt.mu.Unlock()
}

func (lt *latencyTracker) snapshot() (latencies []time.Duration, pending int) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	latencies = append([]time.Duration(nil), lt.latencies...)
	pending = len(lt.pending)
	return latencies, pending
}

func (lt *latencyTracker) waitForEmpty(ctx context.Context) bool {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		lt.mu.Lock()
		remaining := len(lt.pending)
		lt.mu.Unlock()
		if remaining == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func main() {
	var (
		rpcURL       string
		privateHex   string
		asset        string
		baseAmount   string
		depositRate  int
		durationFlag time.Duration
	)
	flag.StringVar(&rpcURL, "rpc", "http://127.0.0.1:8645", "RPC endpoint of the daemon under load")
	flag.StringVar(&privateHex, "key", "", "hex-encoded secp256k1 private key for the funded account (overrides VAULTLOADER_KEY)")
	flag.StringVar(&asset, "asset", "WETH", "collateral symbol to deposit")
	flag.StringVar(&baseAmount, "base-amount", "1000000000000", "smallest deposit amount; each deposit adds its index so amounts stay unique")
	flag.IntVar(&depositRate, "rate", defaultRate, "target deposits per minute")
	flag.DurationVar(&durationFlag, "duration", defaultDuration, "load duration")
	flag.Parse()

	if privateHex == "" {
		privateHex = os.Getenv("VAULTLOADER_KEY")
	}
	privateHex = strings.TrimSpace(privateHex)
	if privateHex == "" {
		log.Fatal("missing private key: provide --key or VAULTLOADER_KEY")
	}

	keyBytes, err := hex.DecodeString(strings.TrimPrefix(privateHex, "0x"))
	if err != nil {
		log.Fatalf("decode private key: %v", err)
	}
	signer, err := zusdcrypto.PrivateKeyFromBytes(keyBytes)
	if err != nil {
		log.Fatalf("load private key: %v", err)
	}
	account := signer.PubKey().Address().String()

	token := strings.TrimSpace(os.Getenv("ZUSD_RPC_TOKEN"))
	if token == "" {
		log.Fatal("missing ZUSD_RPC_TOKEN for RPC authentication")
	}
	parsed, err := url.Parse(rpcURL)
	if err != nil {
		log.Fatalf("parse rpc url: %v", err)
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "http"
	}

	base, ok := new(big.Int).SetString(strings.TrimSpace(baseAmount), 10)
	if !ok || base.Sign() <= 0 {
		log.Fatalf("base amount must be a positive integer, got %q", baseAmount)
	}
	if depositRate <= 0 {
		log.Fatalf("rate must be positive, got %d", depositRate)
	}
	if durationFlag <= 0 {
		durationFlag = defaultDuration
	}

	client, err := sdk.New(sdk.Config{URL: parsed.String(), AuthToken: token})
	if err != nil {
		log.Fatalf("build rpc client: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tracker := newLatencyTracker()

	wsURL := *parsed
	switch strings.ToLower(parsed.Scheme) {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path = "/ws/events"
	wsURL.RawQuery = ""

	wsCtx, wsCancel := context.WithTimeout(ctx, 5*time.Second)
	conn, _, err := websocket.Dial(wsCtx, wsURL.String(), nil)
	wsCancel()
	if err != nil {
		log.Fatalf("connect event stream: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "load complete")

	streamCtx, streamCancel := context.WithCancel(ctx)
	defer streamCancel()
	go consumeEvents(streamCtx, conn, account, tracker)

	interval := time.Minute / time.Duration(depositRate)
	if interval <= 0 {
		interval = time.Millisecond
	}
	deadline := time.Now().Add(durationFlag)
	var submitted int
	for i := 0; time.Now().Before(deadline); i++ {
		select {
		case <-ctx.Done():
			log.Printf("context cancelled: %v", ctx.Err())
			return
		default:
		}
		amount := new(big.Int).Add(base, big.NewInt(int64(i)))
		if _, err := client.DepositCollateral(ctx, account, asset, amount.String()); err != nil {
			log.Printf("deposit %d failed: %v", i, err)
		} else {
			tracker.track(amount.String(), time.Now())
			submitted++
		}
		time.Sleep(interval)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer waitCancel()
	if !tracker.waitForEmpty(waitCtx) {
		_, pending := tracker.snapshot()
		log.Printf("still waiting on events for %d deposits", pending)
	}

	streamCancel()

	latencies, pending := tracker.snapshot()
	reportLoadSummary(latencies, pending, submitted)
}

func consumeEvents(ctx context.Context, conn *websocket.Conn, account string, tracker *latencyTracker) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var envelope events.Envelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			log.Printf("decode event envelope: %v", err)
			continue
		}
		if envelope.Type != vault.TypeCollateralDeposited {
			continue
		}
		if !strings.EqualFold(envelope.Attributes["account"], account) {
			continue
		}
		tracker.finalize(envelope.Attributes["amount"], time.Now())
	}
}

func reportLoadSummary(latencies []time.Duration, pending int, submitted int) {
	var max time.Duration
	var total time.Duration
	for _, latency := range latencies {
		if latency > max {
			max = latency
		}
		total += latency
	}
	avg := time.Duration(0)
	if len(latencies) > 0 {
		avg = time.Duration(int64(total) / int64(len(latencies)))
	}
	log.Printf("Vault loader submitted %d deposits", submitted)
	log.Printf("Observed %d deposit events (pending: %d)", len(latencies), pending)
	log.Printf("Latency avg=%s max=%s", avg, max)
}
