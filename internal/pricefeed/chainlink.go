package pricefeed

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"

	"github.com/bitpesa/bitpesa/internal/domain"
)

// aggregatorV3ABI covers the two read methods of a Chainlink price feed.
const aggregatorV3ABI = `[
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"latestRoundData","outputs":[
 {"internalType":"uint80","name":"roundId","type":"uint80"},
 {"internalType":"int256","name":"answer","type":"int256"},
 {"internalType":"uint256","name":"startedAt","type":"uint256"},
 {"internalType":"uint256","name":"updatedAt","type":"uint256"},
 {"internalType":"uint80","name":"answeredInRound","type":"uint80"}],
 "stateMutability":"view","type":"function"}
]`

// ContractCaller is the read-only slice of an Ethereum client the Chainlink
// source needs.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Chainlink reads an AggregatorV3 feed over JSON-RPC.
type Chainlink struct {
	caller     ContractCaller
	aggregator common.Address
	abi        abi.ABI
	decimals   *uint8
}

// DialChainlink connects to rpcURL and returns a source for the aggregator at
// address. The returned close func releases the RPC connection.
func DialChainlink(ctx context.Context, rpcURL, address string) (*Chainlink, func(), error) {
	if !common.IsHexAddress(address) {
		return nil, nil, fmt.Errorf("pricefeed: chainlink: malformed aggregator address %q", address)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("pricefeed: chainlink: dial: %w", err)
	}
	src, err := NewChainlink(client, common.HexToAddress(address))
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return src, client.Close, nil
}

// NewChainlink builds a source on an existing caller.
func NewChainlink(caller ContractCaller, aggregator common.Address) (*Chainlink, error) {
	parsed, err := abi.JSON(strings.NewReader(aggregatorV3ABI))
	if err != nil {
		return nil, fmt.Errorf("pricefeed: chainlink: parse abi: %w", err)
	}
	return &Chainlink{caller: caller, aggregator: aggregator, abi: parsed}, nil
}

func (c *Chainlink) Name() string { return "chainlink" }

func (c *Chainlink) call(ctx context.Context, method string) ([]interface{}, error) {
	data, err := c.abi.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &c.aggregator, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	vals, err := c.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return vals, nil
}

// Fetch reads decimals once, then latestRoundData on every call.
func (c *Chainlink) Fetch(ctx context.Context, asset string) (domain.PriceReading, error) {
	if c.decimals == nil {
		vals, err := c.call(ctx, "decimals")
		if err != nil {
			return domain.PriceReading{}, fmt.Errorf("pricefeed: chainlink %s: %w", asset, err)
		}
		d, ok := vals[0].(uint8)
		if !ok {
			return domain.PriceReading{}, fmt.Errorf("pricefeed: chainlink %s: decimals has type %T", asset, vals[0])
		}
		c.decimals = &d
	}

	vals, err := c.call(ctx, "latestRoundData")
	if err != nil {
		return domain.PriceReading{}, fmt.Errorf("pricefeed: chainlink %s: %w", asset, err)
	}
	answer, ok1 := vals[1].(*big.Int)
	updatedAt, ok2 := vals[3].(*big.Int)
	if !ok1 || !ok2 {
		return domain.PriceReading{}, fmt.Errorf("pricefeed: chainlink %s: unexpected round data", asset)
	}
	if answer.Sign() <= 0 {
		return domain.PriceReading{}, fmt.Errorf("pricefeed: chainlink %s: non-positive answer %s", asset, answer)
	}
	price, overflow := uint256.FromBig(answer)
	if overflow {
		return domain.PriceReading{}, fmt.Errorf("pricefeed: chainlink %s: answer overflows", asset)
	}
	if !updatedAt.IsInt64() {
		return domain.PriceReading{}, fmt.Errorf("pricefeed: chainlink %s: bad updatedAt %s", asset, updatedAt)
	}
	return domain.PriceReading{
		Asset:     asset,
		Price:     *price,
		Decimals:  *c.decimals,
		UpdatedAt: time.Unix(updatedAt.Int64(), 0).UTC(),
	}, nil
}
