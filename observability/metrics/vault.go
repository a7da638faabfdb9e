package metrics

import (
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type VaultMetrics struct {
	operations       *prometheus.CounterVec
	latency          *prometheus.HistogramVec
	healthRejections *prometheus.CounterVec
	liquidations     *prometheus.CounterVec
	collateralLocked *prometheus.GaugeVec
	syntheticSupply  prometheus.Gauge
}

var (
	vaultOnce     sync.Once
	vaultRegistry *VaultMetrics
)

func Vault() *VaultMetrics {
	vaultOnce.Do(func() {
		vaultRegistry = &VaultMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "vault_operations_total",
				Help: "Count of vault engine operations by name and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "vault_operation_duration_seconds",
				Help:    "Latency distribution for vault engine operations.",
				Buckets: prometheus.DefBuckets,
			}, []string{"operation"}),
			healthRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "vault_health_rejections_total",
				Help: "Count of operations refused because they would break the health factor floor.",
			}, []string{"operation"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "vault_liquidations_total",
				Help: "Count of settled liquidations by seized asset.",
			}, []string{"asset"}),
			collateralLocked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "vault_collateral_locked",
				Help: "Collateral held by the vault module per asset in base units.",
			}, []string{"asset"}),
			syntheticSupply: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "vault_synthetic_supply",
				Help: "Outstanding synthetic supply in base units.",
			}),
		}
		prometheus.MustRegister(
			vaultRegistry.operations,
			vaultRegistry.latency,
			vaultRegistry.healthRejections,
			vaultRegistry.liquidations,
			vaultRegistry.collateralLocked,
			vaultRegistry.syntheticSupply,
		)
	})
	return vaultRegistry
}

func (m *VaultMetrics) ObserveOperation(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op := labelOperation(operation)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *VaultMetrics) RecordHealthRejection(operation string) {
	if m == nil {
		return
	}
	m.healthRejections.WithLabelValues(labelOperation(operation)).Inc()
}

func (m *VaultMetrics) RecordLiquidation(asset string) {
	if m == nil {
		return
	}
	m.liquidations.WithLabelValues(labelTicker(asset)).Inc()
}

func (m *VaultMetrics) SetCollateralLocked(asset string, amount *big.Int) {
	if m == nil {
		return
	}
	m.collateralLocked.WithLabelValues(labelTicker(asset)).Set(amountToFloat(amount))
}

func (m *VaultMetrics) SetSyntheticSupply(amount *big.Int) {
	if m == nil {
		return
	}
	m.syntheticSupply.Set(amountToFloat(amount))
}

func (m *VaultMetrics) InitOperation(operation string) {
	if m == nil {
		return
	}
	op := labelOperation(operation)
	m.operations.WithLabelValues(op, "success").Add(0)
	m.operations.WithLabelValues(op, "error").Add(0)
	m.healthRejections.WithLabelValues(op).Add(0)
}

func labelOperation(operation string) string {
	op := strings.TrimSpace(strings.ToLower(operation))
	if op == "" {
		return "unknown"
	}
	return op
}

func labelTicker(asset string) string {
	ticker := strings.TrimSpace(strings.ToUpper(asset))
	if ticker == "" {
		return "UNKNOWN"
	}
	return ticker
}

func amountToFloat(amount *big.Int) float64 {
	if amount == nil {
		return 0
	}
	value, acc := new(big.Float).SetInt(amount).Float64()
	if acc != big.Exact && (math.IsNaN(value) || math.IsInf(value, 0)) {
		return 0
	}
	return value
}
