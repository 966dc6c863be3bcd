// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package consolidate

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/corylabs/graphfixture/fixture"
	"github.com/corylabs/graphfixture/txbuild"
)

// Miner confirms pending transactions.
type Miner interface {
	Mine() error
}

// Result describes a finished consolidation.
type Result struct {
	// TxID is the final merge transaction.
	TxID chainhash.Hash

	// Outputs holds the single output of the final merge.
	Outputs []fixture.Outpoint

	// Inputs are the outpoints spent by the final merge, in input order.
	Inputs []fixture.Outpoint

	// Rounds is the number of merge rounds, the final one included.
	Rounds int

	// Merges is the number of merge transactions created.
	Merges int
}

// Compressor reduces an arbitrarily large set of outpoints to a single
// spendable outpoint, never exceeding the per-transaction input ceiling.
type Compressor struct {
	spender *txbuild.Spender
	miner   Miner
	fee     btcutil.Amount
	chunk   int
}

// New returns a Compressor spending through spender and confirming each
// intermediate round with miner.
func New(spender *txbuild.Spender, miner Miner) *Compressor {
	return &Compressor{
		spender: spender,
		miner:   miner,
		fee:     txbuild.DefaultFee,
		chunk:   txbuild.MaxInputsPerTx,
	}
}

// Plan returns the number of rounds and merge transactions needed to
// compress n outpoints with at most chunk inputs per transaction.
func Plan(n, chunk int) (rounds, merges int) {
	for n > chunk {
		groups := (n + chunk - 1) / chunk
		rounds++
		merges += groups
		n = groups
	}
	return rounds + 1, merges + 1
}

// Compress merges outpoints down to one.  While the set exceeds the input
// ceiling it is cut into consecutive groups that each merge into one output
// worth the group sum less the fee, and a block is mined after every such
// round.  The remaining set is spent by one final merge.
func (c *Compressor) Compress(outpoints []fixture.Outpoint) (*Result, error) {
	if len(outpoints) == 0 {
		return nil, fixture.NewError(fixture.ErrNoInputs,
			"nothing to consolidate")
	}

	current := outpoints
	rounds, merges := 0, 0
	for len(current) > c.chunk {
		next := make([]fixture.Outpoint, 0, (len(current)+c.chunk-1)/c.chunk)
		for i := 0; i < len(current); i += c.chunk {
			end := i + c.chunk
			if end > len(current) {
				end = len(current)
			}
			out, err := c.merge(current[i:end])
			if err != nil {
				return nil, err
			}
			next = append(next, out)
			merges++
		}
		if err := c.miner.Mine(); err != nil {
			return nil, err
		}
		rounds++
		log.Debugf("Consolidation round %d: %d -> %d outpoints", rounds,
			len(current), len(next))
		current = next
	}

	value := fixture.SumValues(current) - c.fee
	if value <= 0 {
		return nil, fixture.Errorf(fixture.ErrNonPositiveValue,
			"final merge of %d outpoints leaves %d", len(current), value)
	}
	txid, outs, err := c.spender.Spend(current, []btcutil.Amount{value})
	if err != nil {
		return nil, err
	}
	rounds++
	merges++

	log.Infof("Consolidated %d outpoints into %v in %d rounds (%d merges)",
		len(outpoints), txid, rounds, merges)
	return &Result{
		TxID:    txid,
		Outputs: outs,
		Inputs:  current,
		Rounds:  rounds,
		Merges:  merges,
	}, nil
}

func (c *Compressor) merge(group []fixture.Outpoint) (fixture.Outpoint, error) {
	value := fixture.SumValues(group) - c.fee
	if value <= 0 {
		return fixture.Outpoint{}, fixture.Errorf(fixture.ErrNonPositiveValue,
			"merge of %d outpoints leaves %d", len(group), value)
	}
	_, outs, err := c.spender.Spend(group, []btcutil.Amount{value})
	if err != nil {
		return fixture.Outpoint{}, err
	}
	return outs[0], nil
}
