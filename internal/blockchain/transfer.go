package blockchain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// keccak256("Transfer(address,address,uint256)")
var transferEventTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Transfer is a decoded ERC-20 Transfer event.
type Transfer struct {
	From     common.Address
	To       common.Address
	Value    *big.Int
	Amount   decimal.Decimal
	LogIndex uint
}

// decodeTransfers returns every Transfer event emitted by contract, in log order.
func decodeTransfers(logs []*types.Log, contract common.Address, decimals int32) []Transfer {
	var out []Transfer
	for _, lg := range logs {
		if lg == nil || lg.Removed || lg.Address != contract {
			continue
		}
		if len(lg.Topics) != 3 || lg.Topics[0] != transferEventTopic || len(lg.Data) != 32 {
			continue
		}
		value := new(big.Int).SetBytes(lg.Data)
		out = append(out, Transfer{
			From:     common.BytesToAddress(lg.Topics[1].Bytes()),
			To:       common.BytesToAddress(lg.Topics[2].Bytes()),
			Value:    value,
			Amount:   decimal.NewFromBigInt(value, -decimals),
			LogIndex: lg.Index,
		})
	}
	return out
}
