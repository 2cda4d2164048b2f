// Package model holds the canonical types shared across the engine.
package model

import (
	"errors"
	"math/big"
	"time"
)

// Network identifies a blockchain network ("ethereum", "polygon", ...).
type Network string

// AddressType classifies what a protected address is.
type AddressType string

const (
	AddressTypeToken    AddressType = "token"
	AddressTypeContract AddressType = "contract"
	AddressTypeWallet   AddressType = "wallet"
	AddressTypeDAO      AddressType = "dao"
)

// ProtectionLevel controls how aggressively a protected address is defended.
type ProtectionLevel string

const (
	LevelBasic      ProtectionLevel = "basic"
	LevelStandard   ProtectionLevel = "standard"
	LevelHigh       ProtectionLevel = "high"
	LevelMaximum    ProtectionLevel = "maximum"
	LevelEnterprise ProtectionLevel = "enterprise"
)

// ThreatType names a detected MEV attack pattern.
type ThreatType string

const (
	ThreatSandwich            ThreatType = "sandwich"
	ThreatFrontrun            ThreatType = "frontrun"
	ThreatBackrun             ThreatType = "backrun"
	ThreatArbitrage           ThreatType = "arbitrage"
	ThreatFlashLoan           ThreatType = "flash_loan"
	ThreatReplay              ThreatType = "replay"
	ThreatValidatorCompromise ThreatType = "validator_compromise"
	ThreatQuorumManipulation  ThreatType = "quorum_manipulation"
)

// ThreatTypes lists every known threat type, used to pre-size counter maps.
var ThreatTypes = []ThreatType{
	ThreatSandwich,
	ThreatFrontrun,
	ThreatBackrun,
	ThreatArbitrage,
	ThreatFlashLoan,
	ThreatReplay,
	ThreatValidatorCompromise,
	ThreatQuorumManipulation,
}

// Severity grades a detection.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities so the strategy table can pick the highest one.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return -1
	}
}

// Strategy names a mitigation applied to a transaction.
type Strategy string

const (
	StrategyPrivateRelay   Strategy = "private_relay"
	StrategyGasAdjustment  Strategy = "gas_adjustment"
	StrategyBundling       Strategy = "bundling"
	StrategySlippageReject Strategy = "slippage_reject"
	StrategyNone           Strategy = "none"
)

// ConnectionStatus reflects a chain connector's health.
type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusDegraded     ConnectionStatus = "degraded"
	StatusDisconnected ConnectionStatus = "disconnected"
)

var (
	ErrUnknownProtectionLevel = errors.New("unknown protection level")
	ErrUnknownAddressType     = errors.New("unknown address type")
)

// ParseProtectionLevel validates a protection level received from the API.
func ParseProtectionLevel(s string) (ProtectionLevel, error) {
	switch ProtectionLevel(s) {
	case LevelBasic, LevelStandard, LevelHigh, LevelMaximum, LevelEnterprise:
		return ProtectionLevel(s), nil
	}
	return "", ErrUnknownProtectionLevel
}

// ParseAddressType validates an address type received from the API.
func ParseAddressType(s string) (AddressType, error) {
	switch AddressType(s) {
	case AddressTypeToken, AddressTypeContract, AddressTypeWallet, AddressTypeDAO:
		return AddressType(s), nil
	}
	return "", ErrUnknownAddressType
}

// Transaction is the canonical pending-transaction record. Identity is
// (Network, Hash). Immutable after creation except BlockNumber/Confirmed,
// which transition once on inclusion.
type Transaction struct {
	Hash        string    `json:"hash"`
	Network     Network   `json:"network"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Value       string    `json:"value"`
	GasPrice    uint64    `json:"gasPrice"`
	GasLimit    uint64    `json:"gasLimit"`
	Nonce       uint64    `json:"nonce"`
	Calldata    string    `json:"calldata"`
	// Raw is the RLP-encoded signed transaction ("0x..."), kept for relay
	// resubmission. Empty when the source could not provide it.
	Raw         string    `json:"raw,omitempty"`
	FirstSeenAt time.Time `json:"firstSeenAt"`
	BlockNumber *uint64   `json:"blockNumber,omitempty"`
	Confirmed   bool      `json:"confirmed"`
}

// Selector returns the 4-byte function selector of the calldata ("0x12345678"),
// or "" when the calldata is too short to carry one.
func (t Transaction) Selector() string {
	if len(t.Calldata) < 10 {
		return ""
	}
	return t.Calldata[:10]
}

// ValueWei parses the decimal Value field. Returns zero for unparseable input.
func (t Transaction) ValueWei() *big.Int {
	v, ok := new(big.Int).SetString(t.Value, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}

// ProtectedAddress is the configuration plus accumulated statistics for one
// address under protection. Identity is (Address, Network); adds are upserts
// that preserve the counters.
type ProtectedAddress struct {
	Address           string          `json:"address"`
	Network           Network         `json:"network"`
	AddressType       AddressType     `json:"addressType"`
	ProtectionLevel   ProtectionLevel `json:"protectionLevel"`
	AutoProtect       bool            `json:"autoProtect"`
	MaxGasPrice       uint64          `json:"maxGasPrice"`
	SlippageTolerance float64         `json:"slippageTolerance"`

	TransactionsProtected uint64  `json:"transactionsProtected"`
	ThreatsBlocked        uint64  `json:"threatsBlocked"`
	ValueProtectedUSD     float64 `json:"valueProtectedUsd"`
}

// ThreatDetection is an append-only audit record produced by the classifier.
type ThreatDetection struct {
	ID                string     `json:"id"`
	TransactionHash   string     `json:"transactionHash"`
	Network           Network    `json:"network"`
	Type              ThreatType `json:"type"`
	Severity          Severity   `json:"severity"`
	Confidence        float64    `json:"confidence"`
	ProfitEstimate    float64    `json:"profitEstimate"`
	InvolvedAddresses []string   `json:"involvedAddresses"`
	DetectedAt        time.Time  `json:"detectedAt"`
}

// ProtectionResult is an append-only audit record produced by the strategy
// engine. At most one active result exists per (Network, TransactionHash).
type ProtectionResult struct {
	ID              string    `json:"id"`
	ThreatID        string    `json:"threatId,omitempty"`
	TransactionHash string    `json:"transactionHash"`
	Network         Network   `json:"network"`
	StrategyApplied Strategy  `json:"strategyApplied"`
	Bundled         bool      `json:"bundled"`
	Success         bool      `json:"success"`
	GasSaved        uint64    `json:"gasSaved"`
	ValueProtected  float64   `json:"valueProtectedUsd"`
	ExecutionTimeMs int64     `json:"executionTimeMs"`
	AppliedAt       time.Time `json:"appliedAt"`
}

// NetworkState is owned by a network's chain connector; everyone else reads
// snapshots.
type NetworkState struct {
	Network          Network          `json:"network"`
	ConnectionStatus ConnectionStatus `json:"connectionStatus"`
	LastBlockNumber  uint64           `json:"lastBlockNumber"`
	CurrentGasPrice  uint64           `json:"currentGasPrice"`
	LatencyMs        int64            `json:"latencyMs"`
	LastUpdatedAt    time.Time        `json:"lastUpdatedAt"`
}
