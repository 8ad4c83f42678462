package blockchain

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type fakeClient struct {
	mu           sync.Mutex
	head         uint64
	headErr      error
	receipts     map[common.Hash]*types.Receipt
	receiptErr   error
	hangHead     bool
	hangReceipt  bool
	release      chan struct{}
	headCalls    int
	receiptCalls int
	closed       bool
}

func newFakeClient(t *testing.T, head uint64) *fakeClient {
	c := &fakeClient{head: head, receipts: make(map[common.Hash]*types.Receipt), release: make(chan struct{})}
	t.Cleanup(func() { close(c.release) })
	return c
}

// BlockNumber ignores ctx on purpose when hanging, like a wedged transport.
func (c *fakeClient) BlockNumber(context.Context) (uint64, error) {
	c.mu.Lock()
	c.headCalls++
	hang, head, err := c.hangHead, c.head, c.headErr
	c.mu.Unlock()
	if hang {
		<-c.release
	}
	return head, err
}

func (c *fakeClient) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	c.receiptCalls++
	hang, err := c.hangReceipt, c.receiptErr
	r, ok := c.receipts[hash]
	c.mu.Unlock()
	if hang {
		<-c.release
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (c *fakeClient) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeClient) setHeadErr(err error) {
	c.mu.Lock()
	c.headErr = err
	c.mu.Unlock()
}

func (c *fakeClient) calls() (head, receipt int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.headCalls, c.receiptCalls
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1700000000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func staticDialer(clients map[string]*fakeClient) Dialer {
	return func(_ context.Context, url string) (RPCClient, error) {
		c, ok := clients[url]
		if !ok {
			return nil, errUnknownURL
		}
		return c, nil
	}
}

var errUnknownURL = errorString("unknown url")

type errorString string

func (e errorString) Error() string { return string(e) }

func transferLog(contract, from, to common.Address, units int64) *types.Log {
	return &types.Log{
		Address: contract,
		Topics: []common.Hash{
			transferEventTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: common.LeftPadBytes(big.NewInt(units).Bytes(), 32),
	}
}

func receiptAt(block int64, logs ...*types.Log) *types.Receipt {
	for i, lg := range logs {
		lg.Index = uint(i)
	}
	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(block),
		Logs:        logs,
	}
}
