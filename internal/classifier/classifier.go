// Package classifier scores pending transactions against known MEV attack
// patterns. Classification is CPU-bound, performs no I/O, and honors a hard
// per-call budget: when the budget is exhausted the partial detections found
// so far are returned and the transaction proceeds unclassified (fail-open).
package classifier

import (
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/guardiavault-oss/Paradexx-sub007/internal/model"
	"go.uber.org/zap"
)

// Config tunes the heuristics.
type Config struct {
	// Budget is the hard per-call classification deadline.
	Budget time.Duration
	// WindowSpan mirrors the sliding window span, used for proximity scaling.
	WindowSpan time.Duration
	// FrontrunGasMultiplier is the minimum competitor/victim gas-price ratio
	// for a frontrun detection.
	FrontrunGasMultiplier float64
	// LargeValueWei marks a transfer as unusually large for the flash-loan
	// and arbitrage heuristics.
	LargeValueWei *big.Int
	// BridgeContracts are cross-chain bridge addresses watched for
	// validator-level attacks.
	BridgeContracts []string
	// BridgeOperators are senders allowed to call privileged bridge
	// functions.
	BridgeOperators []string
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	large, _ := new(big.Int).SetString("100000000000000000000", 10) // 100 ETH
	return Config{
		Budget:                500 * time.Millisecond,
		WindowSpan:            2 * time.Second,
		FrontrunGasMultiplier: 1.3,
		LargeValueWei:         large,
	}
}

// Classifier is safe for concurrent use by many pipeline workers.
type Classifier struct {
	logger *zap.Logger
	cfg    Config

	bridges   map[string]struct{}
	operators map[string]struct{}

	// flagged holds addresses seen in prior detections; their presence
	// raises the reputation component of later scores.
	mu      sync.RWMutex
	flagged map[string]struct{}
}

// New builds a Classifier.
func New(cfg Config, logger *zap.Logger) *Classifier {
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultConfig().Budget
	}
	if cfg.WindowSpan <= 0 {
		cfg.WindowSpan = DefaultConfig().WindowSpan
	}
	if cfg.FrontrunGasMultiplier <= 1 {
		cfg.FrontrunGasMultiplier = DefaultConfig().FrontrunGasMultiplier
	}
	if cfg.LargeValueWei == nil {
		cfg.LargeValueWei = DefaultConfig().LargeValueWei
	}

	c := &Classifier{
		logger:    logger.Named("classifier"),
		cfg:       cfg,
		bridges:   make(map[string]struct{}, len(cfg.BridgeContracts)),
		operators: make(map[string]struct{}, len(cfg.BridgeOperators)),
		flagged:   make(map[string]struct{}),
	}
	for _, a := range cfg.BridgeContracts {
		c.bridges[strings.ToLower(a)] = struct{}{}
	}
	for _, a := range cfg.BridgeOperators {
		c.operators[strings.ToLower(a)] = struct{}{}
	}
	return c
}

// MarkAttackers records addresses involved in confirmed detections so later
// scores can weight counterpart reputation.
func (c *Classifier) MarkAttackers(addrs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range addrs {
		if a != "" {
			c.flagged[strings.ToLower(a)] = struct{}{}
		}
	}
}

func (c *Classifier) reputation(addrs ...string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, a := range addrs {
		if _, ok := c.flagged[strings.ToLower(a)]; ok {
			return 1
		}
	}
	return 0
}

// Classify evaluates tx against the window of concurrent transactions on the
// same network. A single malformed transaction never fails the call: patterns
// that cannot decode their inputs are skipped.
func (c *Classifier) Classify(tx model.Transaction, window []model.Transaction) []model.ThreatDetection {
	deadline := time.Now().Add(c.cfg.Budget)

	checks := []func(model.Transaction, []model.Transaction) []model.ThreatDetection{
		c.checkSandwich,
		c.checkFrontrun,
		c.checkBackrun,
		c.checkFlashLoan,
		c.checkArbitrage,
		c.checkReplay,
		c.checkBridgeAttacks,
	}

	var detections []model.ThreatDetection
	for _, check := range checks {
		if time.Now().After(deadline) {
			c.logger.Warn("classification budget exhausted, returning partial detections",
				zap.String("network", string(tx.Network)),
				zap.String("hash", tx.Hash),
				zap.Int("detections", len(detections)),
			)
			break
		}
		detections = append(detections, check(tx, window)...)
	}
	return detections
}

// checkSandwich looks for one higher-gas transaction on the same target just
// before tx and one after with the opposing trade direction.
func (c *Classifier) checkSandwich(tx model.Transaction, window []model.Transaction) []model.ThreatDetection {
	if tx.To == "" {
		return nil
	}
	victimDir := direction(tx.Calldata)
	if victimDir == DirectionUnknown {
		return nil
	}

	var front, back *model.Transaction
	for i := range window {
		w := &window[i]
		if !strings.EqualFold(w.To, tx.To) {
			continue
		}
		switch {
		case w.FirstSeenAt.Before(tx.FirstSeenAt) && w.GasPrice > tx.GasPrice:
			d := direction(w.Calldata)
			if d == victimDir || d == DirectionUnknown {
				if front == nil || w.GasPrice > front.GasPrice {
					front = w
				}
			}
		case w.FirstSeenAt.After(tx.FirstSeenAt) && w.GasPrice < tx.GasPrice:
			if d := direction(w.Calldata); d != DirectionUnknown && d != victimDir {
				if back == nil || w.FirstSeenAt.Before(back.FirstSeenAt) {
					back = w
				}
			}
		}
	}
	if front == nil || back == nil {
		return nil
	}

	gasDelta := float64(front.GasPrice-tx.GasPrice) / float64(max64(tx.GasPrice, 1))
	span := back.FirstSeenAt.Sub(front.FirstSeenAt)
	proximity := 1 - clip01(span.Seconds()/c.cfg.WindowSpan.Seconds())
	conf := clip01(0.4 + 0.3*clip01(gasDelta) + 0.2*proximity + 0.1*c.reputation(front.From, back.From))

	profit := float64(front.GasPrice-back.GasPrice) * float64(tx.GasLimit) / 1e18

	return []model.ThreatDetection{c.detection(tx, model.ThreatSandwich, conf, model.SeverityMedium, profit, front.From, back.From)}
}

// checkFrontrun looks for a later-seen competitor on the same contract and
// function with a materially higher gas price.
func (c *Classifier) checkFrontrun(tx model.Transaction, window []model.Transaction) []model.ThreatDetection {
	sel := selector(tx.Calldata)
	if sel == "" || tx.To == "" {
		return nil
	}

	var out []model.ThreatDetection
	for i := range window {
		w := &window[i]
		if !strings.EqualFold(w.To, tx.To) || selector(w.Calldata) != sel {
			continue
		}
		if !w.FirstSeenAt.After(tx.FirstSeenAt) || tx.GasPrice == 0 {
			continue
		}
		ratio := float64(w.GasPrice) / float64(tx.GasPrice)
		if ratio < c.cfg.FrontrunGasMultiplier {
			continue
		}

		proximity := 1 - clip01(w.FirstSeenAt.Sub(tx.FirstSeenAt).Seconds()/c.cfg.WindowSpan.Seconds())
		conf := clip01(0.35 +
			0.4*clip01((ratio-c.cfg.FrontrunGasMultiplier)/c.cfg.FrontrunGasMultiplier) +
			0.15*proximity +
			0.1*c.reputation(w.From))

		profit := float64(w.GasPrice-tx.GasPrice) * float64(tx.GasLimit) / 1e18
		out = append(out, c.detection(tx, model.ThreatFrontrun, conf, model.SeverityMedium, profit, w.From))
	}
	return out
}

// checkBackrun is the mirror image: a competitor ordered after tx that
// exploits the state change tx causes, typically at equal or lower gas.
func (c *Classifier) checkBackrun(tx model.Transaction, window []model.Transaction) []model.ThreatDetection {
	if tx.To == "" {
		return nil
	}
	victimDir := direction(tx.Calldata)
	if victimDir == DirectionUnknown {
		return nil
	}

	for i := range window {
		w := &window[i]
		if !strings.EqualFold(w.To, tx.To) || !w.FirstSeenAt.After(tx.FirstSeenAt) || w.GasPrice > tx.GasPrice {
			continue
		}
		d := direction(w.Calldata)
		exploits := (d != DirectionUnknown && d != victimDir) || isMultiHop(w.Calldata)
		if !exploits {
			continue
		}

		proximity := 1 - clip01(w.FirstSeenAt.Sub(tx.FirstSeenAt).Seconds()/c.cfg.WindowSpan.Seconds())
		conf := clip01(0.3 + 0.3*proximity + 0.2 + 0.1*c.reputation(w.From))
		return []model.ThreatDetection{c.detection(tx, model.ThreatBackrun, conf, model.SeverityLow, 0, w.From)}
	}
	return nil
}

// checkFlashLoan flags known flash-loan entrypoints, weighted up when the
// transaction moves an unusually large value.
func (c *Classifier) checkFlashLoan(tx model.Transaction, _ []model.Transaction) []model.ThreatDetection {
	if !isFlashLoan(tx.Calldata) {
		return nil
	}

	conf := 0.6
	if tx.ValueWei().Cmp(c.cfg.LargeValueWei) >= 0 {
		conf += 0.25
	}
	conf = clip01(conf + 0.1*c.reputation(tx.From))
	return []model.ThreatDetection{c.detection(tx, model.ThreatFlashLoan, conf, model.SeverityHigh, 0, tx.From)}
}

// checkArbitrage flags multi-hop router calls carrying large value.
func (c *Classifier) checkArbitrage(tx model.Transaction, _ []model.Transaction) []model.ThreatDetection {
	if !isMultiHop(tx.Calldata) || !isKnownRouter(tx.To) {
		return nil
	}
	if tx.ValueWei().Cmp(c.cfg.LargeValueWei) < 0 {
		return nil
	}

	conf := clip01(0.5 + 0.2 + 0.1*c.reputation(tx.From))
	return []model.ThreatDetection{c.detection(tx, model.ThreatArbitrage, conf, model.SeverityMedium, 0, tx.From)}
}

// checkReplay flags a window transaction reusing tx's sender and nonce with
// identical calldata under a different hash.
func (c *Classifier) checkReplay(tx model.Transaction, window []model.Transaction) []model.ThreatDetection {
	for i := range window {
		w := &window[i]
		if w.Hash == tx.Hash {
			continue
		}
		if strings.EqualFold(w.From, tx.From) && w.Nonce == tx.Nonce && w.Calldata == tx.Calldata && w.Calldata != "" {
			return []model.ThreatDetection{c.detection(tx, model.ThreatReplay, 0.85, model.SeverityHigh, 0, w.From)}
		}
	}
	return nil
}

// checkBridgeAttacks covers validator-level threats on configured bridge
// contracts: privileged calls from unknown senders (compromise) and bursts of
// distinct senders hitting the same privileged function (quorum
// manipulation).
func (c *Classifier) checkBridgeAttacks(tx model.Transaction, window []model.Transaction) []model.ThreatDetection {
	if len(c.bridges) == 0 || tx.To == "" {
		return nil
	}
	if _, ok := c.bridges[strings.ToLower(tx.To)]; !ok {
		return nil
	}
	if !isPrivileged(tx.Calldata) {
		return nil
	}

	var out []model.ThreatDetection
	if _, trusted := c.operators[strings.ToLower(tx.From)]; !trusted {
		conf := clip01(0.7 + 0.1*c.reputation(tx.From))
		out = append(out, c.detection(tx, model.ThreatValidatorCompromise, conf, model.SeverityCritical, 0, tx.From))
	}

	senders := map[string]struct{}{strings.ToLower(tx.From): {}}
	sel := selector(tx.Calldata)
	for i := range window {
		w := &window[i]
		if strings.EqualFold(w.To, tx.To) && selector(w.Calldata) == sel {
			senders[strings.ToLower(w.From)] = struct{}{}
		}
	}
	if len(senders) >= 3 {
		out = append(out, c.detection(tx, model.ThreatQuorumManipulation, 0.6, model.SeverityHigh, 0, tx.From))
	}
	return out
}

func (c *Classifier) detection(
	tx model.Transaction,
	t model.ThreatType,
	confidence float64,
	floor model.Severity,
	profit float64,
	involved ...string,
) model.ThreatDetection {
	return model.ThreatDetection{
		ID:                uuid.NewString(),
		TransactionHash:   tx.Hash,
		Network:           tx.Network,
		Type:              t,
		Severity:          severityFor(confidence, floor),
		Confidence:        clip01(confidence),
		ProfitEstimate:    profit,
		InvolvedAddresses: involved,
		DetectedAt:        time.Now(),
	}
}

// severityFor grades by confidence, never below the pattern's floor.
func severityFor(confidence float64, floor model.Severity) model.Severity {
	var s model.Severity
	switch {
	case confidence >= 0.85:
		s = model.SeverityCritical
	case confidence >= 0.65:
		s = model.SeverityHigh
	case confidence >= 0.45:
		s = model.SeverityMedium
	default:
		s = model.SeverityLow
	}
	if s.Rank() < floor.Rank() {
		return floor
	}
	return s
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
