// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package harness

import (
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ChainNode wraps the node scoped calls the generator needs from a
// regression test chain.
type ChainNode interface {
	// Network returns the network parameters of the node.
	Network() *chaincfg.Params

	// Wallet returns a handle for the named wallet, creating it on the
	// node when it does not exist yet.
	Wallet(name string) (Wallet, error)

	// GenerateToAddress mines numBlocks blocks paying the coinbase to
	// addr and returns their hashes.
	GenerateToAddress(numBlocks int64, addr btcutil.Address) ([]*chainhash.Hash, error)

	// SendRawTransaction submits a fully signed transaction to the
	// mempool.
	SendRawTransaction(tx *wire.MsgTx) (*chainhash.Hash, error)

	// GetRawTransactionVerbose returns the decoded form of a mempool or
	// confirmed transaction.
	GetRawTransactionVerbose(txHash *chainhash.Hash) (*btcjson.TxRawResult, error)

	// Shutdown releases the node connection.
	Shutdown()
}

// Wallet wraps the wallet scoped calls used to fund and sign transactions.
type Wallet interface {
	// Name returns the wallet name on the node.
	Name() string

	// NewAddress returns a fresh bech32 address owned by the wallet.
	NewAddress() (btcutil.Address, error)

	// SendMany pays every address its amount in one wallet funded
	// transaction.
	SendMany(amounts map[btcutil.Address]btcutil.Amount) (*chainhash.Hash, error)

	// CreateRawTransaction returns an unsigned transaction spending
	// inputs to amounts.
	CreateRawTransaction(inputs []btcjson.TransactionInput,
		amounts map[btcutil.Address]btcutil.Amount) (*wire.MsgTx, error)

	// SignRawTransaction signs every input the wallet owns and reports
	// whether the signature set is complete.
	SignRawTransaction(tx *wire.MsgTx) (*wire.MsgTx, bool, error)
}
