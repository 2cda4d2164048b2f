package classifier

import (
	"strings"
)

// TradeDirection is the buy/sell side inferred from a swap's calldata.
type TradeDirection int

const (
	DirectionUnknown TradeDirection = iota
	DirectionBuy
	DirectionSell
)

// Router function selectors, keyed by 4-byte prefix. Covers Uniswap V2/V3
// and compatible forks (Sushiswap, Pancake).
var swapSelectors = map[string]TradeDirection{
	"0x7ff36ab5": DirectionBuy,  // swapExactETHForTokens
	"0xfb3bdb41": DirectionBuy,  // swapETHForExactTokens
	"0xb6f9de95": DirectionBuy,  // swapExactETHForTokensSupportingFeeOnTransferTokens
	"0x18cbafe5": DirectionSell, // swapExactTokensForETH
	"0x4a25d94a": DirectionSell, // swapTokensForExactETH
	"0x791ac947": DirectionSell, // swapExactTokensForETHSupportingFeeOnTransferTokens
	"0x38ed1739": DirectionBuy,  // swapExactTokensForTokens
	"0x8803dbee": DirectionSell, // swapTokensForExactTokens
	"0x414bf389": DirectionBuy,  // exactInputSingle (V3)
	"0xc04b8d59": DirectionBuy,  // exactInput (V3)
	"0xdb3e2198": DirectionSell, // exactOutputSingle (V3)
	"0xf28c0498": DirectionSell, // exactOutput (V3)
}

// Flash-loan entrypoints and callbacks.
var flashLoanSelectors = map[string]struct{}{
	"0xab9c4b5d": {}, // Aave V2 flashLoan
	"0x42b0b77c": {}, // Aave V3 flashLoanSimple
	"0x5c38449e": {}, // Balancer flashLoan
	"0x490e6cbc": {}, // Uniswap V3 flash
	"0x10d1e85c": {}, // uniswapV2Call callback
}

// Multi-hop / batched execution selectors typical of arbitrage bundles.
var multiHopSelectors = map[string]struct{}{
	"0xac9650d8": {}, // multicall(bytes[])
	"0x5ae401dc": {}, // multicall(uint256,bytes[])
	"0x38ed1739": {}, // swapExactTokensForTokens (multi-hop path)
	"0xc04b8d59": {}, // exactInput (encoded path)
}

// Privileged selectors on bridge/validator-set contracts. Calls from unknown
// senders are treated as compromise attempts.
var privilegedSelectors = map[string]struct{}{
	"0xf2fde38b": {}, // transferOwnership
	"0x3659cfe6": {}, // upgradeTo
	"0x4f1ef286": {}, // upgradeToAndCall
	"0x2f2ff15d": {}, // grantRole
	"0xd547741f": {}, // revokeRole
}

// Well-known DEX router addresses (mainnet); direction decoding is attempted
// for any contract, these only strengthen the arbitrage heuristic.
var knownRouters = map[string]struct{}{
	"0x7a250d5630b4cf539739df2c5dacb4c659f2488d": {}, // Uniswap V2
	"0xe592427a0aece92de3edee1f18e0157c05861564": {}, // Uniswap V3
	"0x68b3465833fb72a70ecdf485e0e4c7bd8665fc45": {}, // Uniswap V3 router 2
	"0xd9e1ce17f2641f24ae83637ab66a2cca9c378b9f": {}, // Sushiswap
}

// direction decodes a trade direction from calldata. Malformed or unknown
// calldata yields DirectionUnknown; callers skip direction-dependent checks.
func direction(calldata string) TradeDirection {
	sel := selector(calldata)
	if sel == "" {
		return DirectionUnknown
	}
	if d, ok := swapSelectors[sel]; ok {
		return d
	}
	return DirectionUnknown
}

// selector extracts the lowercase 4-byte selector, or "" when the calldata
// is not well-formed hex of sufficient length.
func selector(calldata string) string {
	if len(calldata) < 10 || !strings.HasPrefix(calldata, "0x") {
		return ""
	}
	sel := strings.ToLower(calldata[:10])
	for _, c := range sel[2:] {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return ""
		}
	}
	return sel
}

func isFlashLoan(calldata string) bool {
	_, ok := flashLoanSelectors[selector(calldata)]
	return ok
}

func isMultiHop(calldata string) bool {
	_, ok := multiHopSelectors[selector(calldata)]
	return ok
}

func isPrivileged(calldata string) bool {
	_, ok := privilegedSelectors[selector(calldata)]
	return ok
}

func isKnownRouter(addr string) bool {
	_, ok := knownRouters[strings.ToLower(addr)]
	return ok
}
