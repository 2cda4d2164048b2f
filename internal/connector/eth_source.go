package connector

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// fetchBatchLimit caps how many pending hashes are resolved per poll so a
// mempool burst cannot blow the poll budget.
const fetchBatchLimit = 100

// EthSource feeds pending transactions from an EVM node over JSON-RPC, using
// a pending-transaction filter that is recreated when the node forgets it.
type EthSource struct {
	logger *zap.Logger
	rpc    *rpc.Client
	eth    *ethclient.Client

	mu       sync.Mutex
	filterID string
	chainID  *big.Int
}

// DialEthSource connects to an EVM JSON-RPC endpoint.
func DialEthSource(ctx context.Context, endpoint string, logger *zap.Logger) (*EthSource, error) {
	rc, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return &EthSource{
		logger: logger.Named("ethSource"),
		rpc:    rc,
		eth:    ethclient.NewClient(rc),
	}, nil
}

// Close releases the underlying RPC connection.
func (s *EthSource) Close() {
	s.rpc.Close()
}

// PendingTransactions drains newly seen pending hashes and resolves them to
// raw payloads. Hashes that vanish before resolution (already mined or
// evicted) are skipped.
func (s *EthSource) PendingTransactions(ctx context.Context) ([]RawTransaction, error) {
	id, err := s.filter(ctx)
	if err != nil {
		return nil, err
	}

	var hashes []common.Hash
	if err := s.rpc.CallContext(ctx, &hashes, "eth_getFilterChanges", id); err != nil {
		// The node may have dropped the filter (restart, timeout); recreate
		// on the next poll.
		s.mu.Lock()
		s.filterID = ""
		s.mu.Unlock()
		return nil, err
	}

	if len(hashes) > fetchBatchLimit {
		hashes = hashes[len(hashes)-fetchBatchLimit:]
	}

	signer, err := s.signer(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]RawTransaction, 0, len(hashes))
	for _, h := range hashes {
		tx, isPending, err := s.eth.TransactionByHash(ctx, h)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if !isPending {
			continue
		}
		out = append(out, convertTx(tx, signer))
	}
	return out, nil
}

// Head returns the latest block number and suggested gas price.
func (s *EthSource) Head(ctx context.Context) (uint64, uint64, error) {
	block, err := s.eth.BlockNumber(ctx)
	if err != nil {
		return 0, 0, err
	}
	gasPrice, err := s.eth.SuggestGasPrice(ctx)
	if err != nil {
		return 0, 0, err
	}
	return block, gasPrice.Uint64(), nil
}

func (s *EthSource) filter(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.filterID != "" {
		return s.filterID, nil
	}
	var id string
	if err := s.rpc.CallContext(ctx, &id, "eth_newPendingTransactionFilter"); err != nil {
		return "", err
	}
	s.filterID = id
	s.logger.Debug("pending transaction filter installed", zap.String("filterId", id))
	return id, nil
}

func (s *EthSource) signer(ctx context.Context) (types.Signer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chainID == nil {
		chainID, err := s.eth.ChainID(ctx)
		if err != nil {
			return nil, err
		}
		s.chainID = chainID
	}
	return types.LatestSignerForChainID(s.chainID), nil
}

func convertTx(tx *types.Transaction, signer types.Signer) RawTransaction {
	raw := RawTransaction{
		Hash:     tx.Hash().Hex(),
		Value:    tx.Value().String(),
		GasPrice: tx.GasPrice().Uint64(),
		GasLimit: tx.Gas(),
		Nonce:    tx.Nonce(),
		Input:    hexutil.Encode(tx.Data()),
	}
	if encoded, err := tx.MarshalBinary(); err == nil {
		raw.Raw = hexutil.Encode(encoded)
	}
	if from, err := types.Sender(signer, tx); err == nil {
		raw.From = from.Hex()
	}
	if to := tx.To(); to != nil {
		raw.To = to.Hex()
	}
	return raw
}
