package connector

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/guardiavault-oss/Paradexx-sub007/internal/model"
)

var errMalformed = errors.New("malformed transaction")

// normalize converts a provider payload into the canonical Transaction.
// Anything with unparseable fields is rejected; malformed records are
// dropped and counted upstream, never forwarded.
func normalize(raw RawTransaction, network model.Network) (model.Transaction, error) {
	hash := strings.ToLower(raw.Hash)
	if len(hash) != 66 || !strings.HasPrefix(hash, "0x") {
		return model.Transaction{}, fmt.Errorf("%w: bad hash %q", errMalformed, raw.Hash)
	}
	if !common.IsHexAddress(raw.From) {
		return model.Transaction{}, fmt.Errorf("%w: bad from address %q", errMalformed, raw.From)
	}
	// Empty To is a contract creation, anything else must parse.
	if raw.To != "" && !common.IsHexAddress(raw.To) {
		return model.Transaction{}, fmt.Errorf("%w: bad to address %q", errMalformed, raw.To)
	}

	value := raw.Value
	if value == "" {
		value = "0"
	}
	if _, ok := new(big.Int).SetString(value, 10); !ok {
		return model.Transaction{}, fmt.Errorf("%w: bad value %q", errMalformed, raw.Value)
	}

	calldata := strings.ToLower(raw.Input)
	if calldata == "" {
		calldata = "0x"
	}
	if !strings.HasPrefix(calldata, "0x") || !isHex(calldata[2:]) {
		return model.Transaction{}, fmt.Errorf("%w: bad calldata", errMalformed)
	}

	rawPayload := strings.ToLower(raw.Raw)
	if rawPayload != "" && (!strings.HasPrefix(rawPayload, "0x") || !isHex(rawPayload[2:])) {
		return model.Transaction{}, fmt.Errorf("%w: bad raw payload", errMalformed)
	}

	return model.Transaction{
		Hash:        hash,
		Network:     network,
		From:        strings.ToLower(raw.From),
		To:          strings.ToLower(raw.To),
		Value:       value,
		GasPrice:    raw.GasPrice,
		GasLimit:    raw.GasLimit,
		Nonce:       raw.Nonce,
		Calldata:    calldata,
		Raw:         rawPayload,
		FirstSeenAt: time.Now(),
		BlockNumber: raw.BlockNumber,
		Confirmed:   raw.BlockNumber != nil,
	}, nil
}

func isHex(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
