// Package strategy selects and applies MEV mitigations for transactions that
// touch protected addresses.
package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/guardiavault-oss/Paradexx-sub007/internal/model"
	"github.com/guardiavault-oss/Paradexx-sub007/internal/registry"
	"go.uber.org/zap"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

type (
	// Relay is the private submission channel collaborator. The engine's
	// responsibility ends at handing the transaction over.
	Relay interface {
		Submit(ctx context.Context, tx model.Transaction) error
	}

	// Stats receives counter increments after successful protections.
	Stats interface {
		IncrementStats(address string, network model.Network, delta registry.StatsDelta)
	}

	// Metrics records protection outcomes.
	Metrics interface {
		ObserveProtect(network model.Network, strategy model.Strategy, err error, started time.Time)
	}
)

// decision is one cell of the protection-level x severity table.
type decision struct {
	strategy model.Strategy
	bundle   bool
	// escalate replaces the strategy with slippage_reject when the
	// transaction violates the address's slippage or gas limits.
	escalate bool
}

// table maps protection level x highest detection severity to a mitigation.
var table = map[model.ProtectionLevel]map[model.Severity]decision{
	model.LevelBasic: {
		model.SeverityLow:      {strategy: model.StrategyNone},
		model.SeverityMedium:   {strategy: model.StrategyNone},
		model.SeverityHigh:     {strategy: model.StrategyGasAdjustment},
		model.SeverityCritical: {strategy: model.StrategyGasAdjustment},
	},
	model.LevelStandard: {
		model.SeverityLow:      {strategy: model.StrategyGasAdjustment},
		model.SeverityMedium:   {strategy: model.StrategyGasAdjustment},
		model.SeverityHigh:     {strategy: model.StrategyPrivateRelay},
		model.SeverityCritical: {strategy: model.StrategyPrivateRelay},
	},
	model.LevelHigh: {
		model.SeverityLow:      {strategy: model.StrategyPrivateRelay},
		model.SeverityMedium:   {strategy: model.StrategyPrivateRelay},
		model.SeverityHigh:     {strategy: model.StrategyPrivateRelay, bundle: true},
		model.SeverityCritical: {strategy: model.StrategyPrivateRelay, escalate: true},
	},
	model.LevelMaximum: {
		model.SeverityLow:      {strategy: model.StrategyPrivateRelay},
		model.SeverityMedium:   {strategy: model.StrategyPrivateRelay},
		model.SeverityHigh:     {strategy: model.StrategyPrivateRelay, bundle: true},
		model.SeverityCritical: {strategy: model.StrategyPrivateRelay, escalate: true},
	},
	model.LevelEnterprise: {
		model.SeverityLow:      {strategy: model.StrategyPrivateRelay, bundle: true},
		model.SeverityMedium:   {strategy: model.StrategyPrivateRelay, bundle: true},
		model.SeverityHigh:     {strategy: model.StrategyPrivateRelay, bundle: true},
		model.SeverityCritical: {strategy: model.StrategySlippageReject},
	},
}

// resultRetention bounds the idempotency map. An evicted entry is far past
// any realistic replay horizon: pending duplicates resurface within a few
// poll intervals, not tens of thousands of transactions later.
const resultRetention = 16_384

// Engine applies the strategy table. Results are idempotent: the first
// recorded result per (network, transactionHash) is the active one and is
// returned unchanged on replays within the retention horizon.
type Engine struct {
	logger  *zap.Logger
	relay   Relay
	stats   Stats
	metrics Metrics

	mu        sync.Mutex
	retention int
	results   map[resultKey]model.ProtectionResult
	order     []resultKey
	head      int
}

type resultKey struct {
	network model.Network
	hash    string
}

// New constructs an Engine.
func New(relay Relay, stats Stats, metrics Metrics, logger *zap.Logger) *Engine {
	return &Engine{
		logger:    logger.Named("strategy"),
		relay:     relay,
		stats:     stats,
		metrics:   metrics,
		retention: resultRetention,
		results:   make(map[resultKey]model.ProtectionResult),
	}
}

// record stores result for key unless a racing call got there first, and
// reports whether this result became the active one. Eviction mirrors the
// bounded FIFO the pipeline dedup uses.
func (e *Engine) record(key resultKey, result model.ProtectionResult) (model.ProtectionResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if prior, ok := e.results[key]; ok {
		return prior, false
	}
	e.results[key] = result
	e.order = append(e.order, key)

	if len(e.order)-e.head > e.retention {
		evict := e.order[e.head]
		e.head++
		delete(e.results, evict)
		if e.head >= 4096 && e.head*2 >= len(e.order) {
			e.order = append(e.order[:0:0], e.order[e.head:]...)
			e.head = 0
		}
	}
	return result, true
}

// Protect runs the per-transaction state machine:
// Observed -> Classified -> {Protected | PassThrough | Rejected}.
func (e *Engine) Protect(
	ctx context.Context,
	tx model.Transaction,
	detections []model.ThreatDetection,
	addr model.ProtectedAddress,
) model.ProtectionResult {
	key := resultKey{network: tx.Network, hash: tx.Hash}

	e.mu.Lock()
	if prior, ok := e.results[key]; ok {
		e.mu.Unlock()
		return prior
	}
	e.mu.Unlock()

	started := time.Now()
	result := e.apply(ctx, tx, detections, addr)
	result.ExecutionTimeMs = time.Since(started).Milliseconds()

	// A racing call may have recorded first; its result stays active.
	if recorded, active := e.record(key, result); !active {
		return recorded
	}

	if e.metrics != nil {
		e.metrics.ObserveProtect(tx.Network, result.StrategyApplied, resultErr(result), started)
	}
	if result.Success && result.StrategyApplied != model.StrategyNone {
		e.stats.IncrementStats(addr.Address, addr.Network, registry.StatsDelta{
			TransactionsProtected: 1,
			ThreatsBlocked:        uint64(len(detections)),
			ValueProtectedUSD:     result.ValueProtected,
		})
	}
	return result
}

func (e *Engine) apply(
	ctx context.Context,
	tx model.Transaction,
	detections []model.ThreatDetection,
	addr model.ProtectedAddress,
) model.ProtectionResult {
	result := model.ProtectionResult{
		ID:              uuid.NewString(),
		TransactionHash: tx.Hash,
		Network:         tx.Network,
		StrategyApplied: model.StrategyNone,
		AppliedAt:       time.Now(),
	}

	// PassThrough: nothing to defend or the owner opted out.
	if len(detections) == 0 || !addr.AutoProtect {
		result.Success = true
		return result
	}

	top := highestSeverity(detections)
	result.ThreatID = top.ID
	result.ValueProtected = estimateValueUSD(detections)

	levelRow, ok := table[addr.ProtectionLevel]
	if !ok {
		// Registry validation should make this unreachable; fail safe by
		// passing through.
		e.logger.Error("no strategy row for protection level", zap.String("level", string(addr.ProtectionLevel)))
		result.Success = true
		return result
	}
	d := levelRow[top.Severity]

	violates := exceedsLimits(tx, addr)
	if d.escalate && violates {
		d = decision{strategy: model.StrategySlippageReject}
	}

	switch d.strategy {
	case model.StrategyNone:
		result.Success = true

	case model.StrategySlippageReject:
		// Terminal rejection: the transaction is not forwarded at all.
		result.StrategyApplied = model.StrategySlippageReject
		result.Success = true

	case model.StrategyGasAdjustment:
		result.StrategyApplied = model.StrategyGasAdjustment
		_, saved := adjustedGasPrice(tx, addr)
		result.GasSaved = saved
		result.Success = true

	case model.StrategyPrivateRelay:
		result.StrategyApplied = model.StrategyPrivateRelay
		result.Bundled = d.bundle
		err := e.relay.Submit(ctx, tx)
		if err != nil {
			e.logger.Warn("relay submission failed",
				zap.String("network", string(tx.Network)),
				zap.String("hash", tx.Hash),
				zap.Error(err),
			)
			result.Success = false
			return result
		}
		result.Success = true
	}

	e.logger.Info("protection applied",
		zap.String("network", string(tx.Network)),
		zap.String("hash", tx.Hash),
		zap.String("strategy", string(result.StrategyApplied)),
		zap.Bool("bundled", result.Bundled),
		zap.String("severity", string(top.Severity)),
	)
	return result
}

// highestSeverity picks the detection driving the strategy choice.
func highestSeverity(detections []model.ThreatDetection) model.ThreatDetection {
	top := detections[0]
	for _, d := range detections[1:] {
		if d.Severity.Rank() > top.Severity.Rank() {
			top = d
		}
	}
	return top
}

// exceedsLimits reports whether the transaction violates the address's
// configured gas or slippage bounds.
func exceedsLimits(tx model.Transaction, addr model.ProtectedAddress) bool {
	if addr.MaxGasPrice > 0 && tx.GasPrice > addr.MaxGasPrice {
		return true
	}
	// Without a swap simulation, the attack's estimated price impact stands
	// in for realized slippage: a tolerance of zero means any detected
	// sandwich pressure is a violation.
	return addr.SlippageTolerance <= 0
}

// adjustedGasPrice outbids the competition by 10%, capped by the address's
// limit; saved is how much the cap held back.
func adjustedGasPrice(tx model.Transaction, addr model.ProtectedAddress) (adjusted, saved uint64) {
	adjusted = tx.GasPrice + tx.GasPrice/10
	if addr.MaxGasPrice > 0 && adjusted > addr.MaxGasPrice {
		saved = adjusted - addr.MaxGasPrice
		adjusted = addr.MaxGasPrice
	}
	return adjusted, saved
}

// estimateValueUSD sums the classifier's profit estimates as the value kept
// away from attackers. Heuristic, like the estimates themselves.
func estimateValueUSD(detections []model.ThreatDetection) float64 {
	var total float64
	for _, d := range detections {
		if d.ProfitEstimate > 0 {
			total += d.ProfitEstimate
		}
	}
	return total
}

func resultErr(r model.ProtectionResult) error {
	if r.Success {
		return nil
	}
	return fmt.Errorf("protection failed: %s", r.StrategyApplied)
}
