// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package harness

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const (
	// MatureBlocks is the number of blocks mined to the miner wallet
	// before any scenario is built.  It leaves enough coinbase outputs
	// past maturity to fund a full stress run.
	MatureBlocks = 130

	// DefaultMinerWallet is the wallet that receives block rewards and
	// funds the pool.
	DefaultMinerWallet = "miner"

	// DefaultGraphWallet is the wallet that owns every scenario output.
	DefaultGraphWallet = "graph"
)

// Harness bundles a chain node with the two wallets scenario construction
// runs against.  All blocks pay to MiningAddress.
type Harness struct {
	Node ChainNode

	Miner Wallet
	Graph Wallet

	MiningAddress btcutil.Address

	height int64
}

// New opens the miner and graph wallets on node and derives the mining
// address.  It does not mine; see SetUp.
func New(node ChainNode, minerWallet, graphWallet string) (*Harness, error) {
	miner, err := node.Wallet(minerWallet)
	if err != nil {
		return nil, fmt.Errorf("wallet %s: %w", minerWallet, err)
	}
	graph, err := node.Wallet(graphWallet)
	if err != nil {
		return nil, fmt.Errorf("wallet %s: %w", graphWallet, err)
	}
	addr, err := miner.NewAddress()
	if err != nil {
		return nil, fmt.Errorf("mining address: %w", err)
	}

	log.Debugf("Mining to %v (wallet %s)", addr, minerWallet)
	return &Harness{
		Node:          node,
		Miner:         miner,
		Graph:         graph,
		MiningAddress: addr,
	}, nil
}

// SetUp mines MatureBlocks blocks so the miner wallet holds spendable
// coinbase outputs.
func (h *Harness) SetUp() error {
	log.Infof("Mining %d blocks to mature coinbase outputs", MatureBlocks)
	_, err := h.MineBlocks(MatureBlocks)
	return err
}

// MineBlocks mines n blocks to the mining address.
func (h *Harness) MineBlocks(n int64) ([]*chainhash.Hash, error) {
	hashes, err := h.Node.GenerateToAddress(n, h.MiningAddress)
	if err != nil {
		return nil, fmt.Errorf("generate %d blocks: %w", n, err)
	}
	h.height += int64(len(hashes))
	log.Tracef("Mined %d blocks (%d this run)", len(hashes), h.height)
	return hashes, nil
}

// Mine mines a single block.
func (h *Harness) Mine() error {
	_, err := h.MineBlocks(1)
	return err
}

// BlocksMined returns the number of blocks mined through the harness.
func (h *Harness) BlocksMined() int64 {
	return h.height
}

// TearDown releases the node connection.
func (h *Harness) TearDown() {
	h.Node.Shutdown()
}
