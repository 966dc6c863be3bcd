// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package topology

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/corylabs/graphfixture/fixture"
	"github.com/corylabs/graphfixture/txbuild"
)

// chainMineInterval is the number of unconfirmed hops a chain may grow
// before a block is mined.  It stays below the node's default limit of 25
// unconfirmed ancestors.
const chainMineInterval = 20

// hop is one transaction of a linear chain.  It spends the previous hop's
// sole output and creates out.
type hop struct {
	txid chainhash.Hash
	in   fixture.Outpoint
	out  fixture.Outpoint
}

// edge returns the edge from the hop to the output it spends.
func (h *hop) edge() fixture.Edge {
	return fixture.NewEdge(h.txid, 0, h.in)
}

// buildChain spends start through n single-output hops, each paying fee.
// When mineEvery is positive a block is mined after every mineEvery hops.
// The tail is left unconfirmed.
func buildChain(env *Env, start fixture.Outpoint, n int, fee btcutil.Amount,
	mineEvery int) ([]hop, error) {

	hops := make([]hop, 0, n)
	prev := start
	for i := 0; i < n; i++ {
		txid, outs, err := env.Spender.Spend([]fixture.Outpoint{prev},
			[]btcutil.Amount{prev.Value - fee})
		if err != nil {
			return nil, err
		}
		hops = append(hops, hop{txid: txid, in: prev, out: outs[0]})
		prev = outs[0]

		if mineEvery > 0 && (i+1)%mineEvery == 0 {
			if err := env.mine(); err != nil {
				return nil, err
			}
			log.Debugf("Chain progress: %d/%d", i+1, n)
		}
	}
	return hops, nil
}

// chainTxIDs returns the txids of hops in order.
func chainTxIDs(hops []hop) []chainhash.Hash {
	txids := make([]chainhash.Hash, 0, len(hops))
	for i := range hops {
		txids = append(txids, hops[i].txid)
	}
	return txids
}

// spendEach spends every input on its own to a single output worth the
// input less DefaultFee.  Outputs are returned in input order.
func spendEach(env *Env, inputs []fixture.Outpoint) ([]fixture.Outpoint, error) {
	outs := make([]fixture.Outpoint, 0, len(inputs))
	for i, in := range inputs {
		_, out, err := env.Spender.Spend([]fixture.Outpoint{in},
			[]btcutil.Amount{in.Value - txbuild.DefaultFee})
		if err != nil {
			return nil, err
		}
		outs = append(outs, out...)

		if (i+1)%50 == 0 {
			log.Debugf("Spent %d/%d parents", i+1, len(inputs))
		}
	}
	return outs, nil
}

// boundaryEdges returns the edges of the first and last inputs of a
// transaction spending inputs in order.
func boundaryEdges(txid chainhash.Hash, inputs []fixture.Outpoint) []fixture.Edge {
	last := len(inputs) - 1
	edges := []fixture.Edge{fixture.NewEdge(txid, 0, inputs[0])}
	if last > 0 {
		edges = append(edges, fixture.NewEdge(txid, uint32(last), inputs[last]))
	}
	return edges
}

// fundingTxIDs returns the distinct txids of outpoints in order.
func fundingTxIDs(outpoints []fixture.Outpoint) []chainhash.Hash {
	seen := make(map[chainhash.Hash]struct{}, len(outpoints))
	txids := make([]chainhash.Hash, 0, len(outpoints))
	for _, op := range outpoints {
		if _, ok := seen[op.TxID]; ok {
			continue
		}
		seen[op.TxID] = struct{}{}
		txids = append(txids, op.TxID)
	}
	return txids
}
