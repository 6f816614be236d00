// Package quote obtains swap quotes from a smart order router and keeps only
// the answer to the most recent request.
package quote

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/yourorg/vault-rewards/internal/model"
)

// SwapExactIn is the only swap type the quoter requests
const SwapExactIn = "swapExactIn"

var (
	// ErrStaleQuote is returned when a newer request was issued while this one
	// was in flight. The result is discarded.
	ErrStaleQuote = errors.New("quote: superseded by a newer request")

	// ErrNoPairData is returned when the router knows no pool for the pair
	ErrNoPairData = errors.New("quote: router has no data for pair")

	// ErrNoRoute is returned when the router found no route for the amount
	ErrNoRoute = errors.New("quote: no route for amount")
)

// Swap is the router's answer. SpotPrice is the marginal price in offer
// token per receive token, in whole units.
type Swap struct {
	Route       []common.Address
	TradeAmount *big.Int
	SpotPrice   decimal.Decimal

	// To, Data and Value are the transaction that executes the route
	To    common.Address
	Data  []byte
	Value *big.Int
}

// Router is a smart order router
type Router interface {
	HasDataForPair(ctx context.Context, tokenIn, tokenOut common.Address) (bool, error)
	GetSwaps(ctx context.Context, tokenIn, tokenOut common.Address, swapType string, amount *big.Int) (Swap, error)
}

// Quoter sequences quote requests. Every call queries the router; a response
// that arrives after a newer request was issued is dropped.
type Quoter struct {
	router Router

	mu     sync.Mutex
	issued uint64
	latest *model.SwapQuote
}

// NewQuoter creates a quoter over router
func NewQuoter(router Router) *Quoter {
	return &Quoter{router: router}
}

// Quote asks the router for the trade of amount offer tokens into receive
// tokens and computes the slippage against the spot price.
func (q *Quoter) Quote(ctx context.Context, offer, receive model.Token, amount *big.Int) (model.SwapQuote, Swap, error) {
	q.mu.Lock()
	q.issued++
	seq := q.issued
	q.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return model.SwapQuote{}, Swap{}, fmt.Errorf("%w: amount must be positive", ErrNoRoute)
	}

	ok, err := q.router.HasDataForPair(ctx, offer.Address, receive.Address)
	if err != nil {
		return model.SwapQuote{}, Swap{}, fmt.Errorf("pair lookup: %w", err)
	}
	if !ok {
		return model.SwapQuote{}, Swap{}, fmt.Errorf("%w: %s/%s", ErrNoPairData, offer.Symbol, receive.Symbol)
	}

	swap, err := q.router.GetSwaps(ctx, offer.Address, receive.Address, SwapExactIn, amount)
	if err != nil {
		return model.SwapQuote{}, Swap{}, fmt.Errorf("get swaps: %w", err)
	}
	if swap.TradeAmount == nil || swap.TradeAmount.Sign() <= 0 {
		return model.SwapQuote{}, Swap{}, ErrNoRoute
	}

	result := model.SwapQuote{
		OfferToken:   offer,
		ReceiveToken: receive,
		OfferAmount:  new(big.Int).Set(amount),
		TradeAmount:  new(big.Int).Set(swap.TradeAmount),
		SpotPrice:    swap.SpotPrice,
		Slippage:     Slippage(amount, offer.Decimals, swap.TradeAmount, receive.Decimals, swap.SpotPrice),
		Sequence:     seq,
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if seq != q.issued {
		logrus.WithFields(logrus.Fields{
			"sequence": seq,
			"latest":   q.issued,
		}).Debug("Dropping stale quote")
		return model.SwapQuote{}, Swap{}, ErrStaleQuote
	}
	q.latest = &result
	return result, swap, nil
}

// Latest returns the last accepted quote
func (q *Quoter) Latest() (model.SwapQuote, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.latest == nil {
		return model.SwapQuote{}, false
	}
	return *q.latest, true
}

// Reset forgets the accepted quote and invalidates requests in flight
func (q *Quoter) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.issued++
	q.latest = nil
}

// Slippage is effectivePrice/spotPrice - 1 where the effective price is the
// offer paid per received token. A better than spot fill reports zero.
func Slippage(offerAmount *big.Int, offerDecimals int, tradeAmount *big.Int, receiveDecimals int, spot decimal.Decimal) decimal.Decimal {
	if spot.Sign() <= 0 || tradeAmount == nil || tradeAmount.Sign() <= 0 || offerAmount == nil {
		return decimal.Zero
	}
	offer := decimal.NewFromBigInt(offerAmount, -int32(offerDecimals))
	received := decimal.NewFromBigInt(tradeAmount, -int32(receiveDecimals))
	effective := offer.DivRound(received, 18)
	slippage := effective.DivRound(spot, 18).Sub(decimal.NewFromInt(1))
	if slippage.IsNegative() {
		return decimal.Zero
	}
	return slippage
}
