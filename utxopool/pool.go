// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package utxopool

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/corylabs/graphfixture/fixture"
	"github.com/corylabs/graphfixture/harness"
	"github.com/corylabs/graphfixture/txbuild"
)

const (
	// BatchSize is the most recipients funded by one payment.
	BatchSize = 80

	// DefaultSeedValue is the value of every pool outpoint.
	DefaultSeedValue btcutil.Amount = btcutil.SatoshiPerBitcoin
)

// Funder creates pool outpoints owned by the graph wallet out of miner
// wallet funds.
type Funder struct {
	h        *harness.Harness
	spender  *txbuild.Spender
	recorder txbuild.Recorder
}

// NewFunder returns a Funder for h.  Destination addresses are registered
// with spender so later reuse is caught, and funding transactions are passed
// to recorder when it is not nil.
func NewFunder(h *harness.Harness, spender *txbuild.Spender, recorder txbuild.Recorder) *Funder {
	return &Funder{h: h, spender: spender, recorder: recorder}
}

// Fund produces count independently spendable outpoints of value.  Each
// batch of at most BatchSize outputs is paid by one miner wallet
// transaction and confirmed by exactly one block before its outputs are
// resolved.  Outpoints are returned in batch order.
func (f *Funder) Fund(count int, value btcutil.Amount) ([]fixture.Outpoint, error) {
	if value <= 0 {
		return nil, fixture.Errorf(fixture.ErrNonPositiveValue,
			"pool value %d must be positive", value)
	}

	outpoints := make([]fixture.Outpoint, 0, count)
	for remaining := count; remaining > 0; {
		n := remaining
		if n > BatchSize {
			n = BatchSize
		}
		batch, err := f.fundBatch(n, value)
		if err != nil {
			return nil, err
		}
		outpoints = append(outpoints, batch...)
		remaining -= n
	}

	log.Infof("Funded %d pool outpoints of %v in %d batches", len(outpoints),
		value, (count+BatchSize-1)/BatchSize)
	return outpoints, nil
}

func (f *Funder) fundBatch(n int, value btcutil.Amount) ([]fixture.Outpoint, error) {
	addrs := make([]btcutil.Address, 0, n)
	values := make([]btcutil.Amount, 0, n)
	amounts := make(map[btcutil.Address]btcutil.Amount, n)
	for i := 0; i < n; i++ {
		addr, err := f.h.Graph.NewAddress()
		if err != nil {
			return nil, fmt.Errorf("getnewaddress: %w", err)
		}
		if err := f.spender.MarkIssued(addr); err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
		values = append(values, value)
		amounts[addr] = value
	}

	txid, err := f.h.Miner.SendMany(amounts)
	if err != nil {
		return nil, fmt.Errorf("sendmany %d outputs: %w", n, err)
	}
	if err := f.h.Mine(); err != nil {
		return nil, err
	}

	raw, err := f.h.Node.GetRawTransactionVerbose(txid)
	if err != nil {
		return nil, fmt.Errorf("getrawtransaction %v: %w", txid, err)
	}
	if f.recorder != nil {
		tx, err := txbuild.DecodeTx(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %v: %w", txid, err)
		}
		if err := f.recorder.Record(tx, nil); err != nil {
			return nil, err
		}
	}

	log.Debugf("Funding batch %v confirmed with %d outputs", txid, n)
	return txbuild.ResolveOutpoints(f.h.Node, txid, addrs, values)
}

// Pool is a FIFO queue of unspent outpoints shared by the scenario builders.
type Pool struct {
	outpoints []fixture.Outpoint
	taken     map[wire.OutPoint]struct{}
}

// New returns a pool holding outpoints in order.
func New(outpoints []fixture.Outpoint) *Pool {
	p := &Pool{
		outpoints: make([]fixture.Outpoint, len(outpoints)),
		taken:     make(map[wire.OutPoint]struct{}),
	}
	copy(p.outpoints, outpoints)
	return p
}

// Len returns the number of outpoints left.
func (p *Pool) Len() int {
	return len(p.outpoints)
}

// Take removes and returns the oldest outpoint.  An empty pool is a
// construction error.
func (p *Pool) Take() (fixture.Outpoint, error) {
	if len(p.outpoints) == 0 {
		return fixture.Outpoint{}, fixture.NewError(fixture.ErrPoolExhausted,
			"utxo pool exhausted")
	}
	op := p.outpoints[0]
	p.outpoints = p.outpoints[1:]

	key := op.OutPoint()
	if _, ok := p.taken[key]; ok {
		return fixture.Outpoint{}, fixture.Errorf(fixture.ErrDoubleSpend,
			"pool outpoint %v handed out twice", op)
	}
	p.taken[key] = struct{}{}
	return op, nil
}

// TakeN removes and returns the n oldest outpoints, failing without
// removing anything when fewer remain.
func (p *Pool) TakeN(n int) ([]fixture.Outpoint, error) {
	if n > len(p.outpoints) {
		return nil, fixture.Errorf(fixture.ErrPoolExhausted,
			"utxo pool has %d outpoints, %d requested", len(p.outpoints), n)
	}
	result := make([]fixture.Outpoint, 0, n)
	for i := 0; i < n; i++ {
		op, err := p.Take()
		if err != nil {
			return nil, err
		}
		result = append(result, op)
	}
	return result, nil
}
