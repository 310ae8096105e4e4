// Package chainverify is the on-chain verification collaborator spec.md
// §1 places out of scope for the settlement core itself ("wallet adapters
// and on-chain verification... through defined interfaces"). It is kept
// and adapted from the teacher's pkg/blockchain/bsc.go: when MOCK_MODE is
// false, internal/finalize calls through this package instead of moving
// balances in-book, to confirm an escrow transfer actually landed on
// chain before trusting a caller-supplied tx hash.
package chainverify

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/oxzoid/ospay-core/internal/obs"
)

const (
	bscRPCURL    = "https://bsc-dataseed.binance.org/"
	bscUSDAddress = "0x55d398326f99059fF775485246999027B3197955" // BSC-USD (BUSD-T)
)

// Verifier checks that a claimed on-chain transfer actually occurred.
// internal/finalize depends on this interface, not the concrete BSC client,
// so tests and MOCK_MODE can swap in a stub.
type Verifier interface {
	VerifyTransfer(ctx context.Context, txHash, destAddress string, expectedAmount *big.Int) (bool, error)
}

// BSCVerifier verifies BSC-USD (BEP-20) transfers via a public RPC
// endpoint, throttled to avoid overloading it.
type BSCVerifier struct {
	log *obs.Logger

	clientOnce sync.Once
	client     *ethclient.Client
	clientErr  error
	sem        chan struct{}
}

func NewBSCVerifier(log *obs.Logger) *BSCVerifier {
	return &BSCVerifier{log: log, sem: make(chan struct{}, 20)}
}

func (v *BSCVerifier) getClient() (*ethclient.Client, error) {
	v.clientOnce.Do(func() {
		v.client, v.clientErr = ethclient.Dial(bscRPCURL)
	})
	return v.client, v.clientErr
}

// VerifyTransfer checks that txHash contains a BSC-USD Transfer log paying
// exactly expectedAmount to destAddress.
func (v *BSCVerifier) VerifyTransfer(ctx context.Context, txHash, destAddress string, expectedAmount *big.Int) (bool, error) {
	v.sem <- struct{}{}
	defer func() { <-v.sem }()

	client, err := v.getClient()
	if err != nil {
		return false, err
	}

	hash := common.HexToHash(txHash)
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	receipt, err := client.TransactionReceipt(ctx, hash)
	if err != nil {
		v.log.Warn("bsc verification: failed to fetch receipt", "tx_hash", txHash, "err", err)
		return false, err
	}

	usdAddr := common.HexToAddress(bscUSDAddress)
	destAddr := common.HexToAddress(destAddress)
	transferSigHash := crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

	for _, vLog := range receipt.Logs {
		if vLog.Address != usdAddr || len(vLog.Topics) != 3 || vLog.Topics[0] != transferSigHash {
			continue
		}
		to := common.HexToAddress(vLog.Topics[2].Hex())
		amount := new(big.Int).SetBytes(vLog.Data)
		if !strings.EqualFold(to.Hex(), destAddr.Hex()) {
			continue
		}
		if amount.Cmp(expectedAmount) == 0 {
			return true, nil
		}
	}
	return false, errors.New("no matching BSC-USD transfer found")
}
