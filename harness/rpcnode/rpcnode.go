// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rpcnode

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	"github.com/corylabs/graphfixture/harness"
)

// Error codes returned by bitcoind for wallet management calls.
const (
	rpcWalletError         btcjson.RPCErrorCode = -4
	rpcWalletAlreadyLoaded btcjson.RPCErrorCode = -35
)

// DefaultMaxConnRetries is the number of readiness probes made before the
// node is considered unreachable.
const DefaultMaxConnRetries = 8

// Config describes how to reach the node.
type Config struct {
	// Host is the host:port of the node RPC server.
	Host string

	User string
	Pass string

	// Params selects the address encoding.  Defaults to regtest.
	Params *chaincfg.Params

	// MaxConnRetries bounds the readiness probes made by New.
	MaxConnRetries int
}

// Node is a harness.ChainNode backed by a bitcoind JSON-RPC endpoint.
// Implements harness.ChainNode.
type Node struct {
	cfg    Config
	client *rpcclient.Client

	mtx     sync.Mutex
	wallets map[string]*Wallet
}

// Ensure Node implements the harness.ChainNode interface.
var _ harness.ChainNode = (*Node)(nil)

// New connects to the node described by cfg, probing until it answers.
func New(cfg *Config) (*Node, error) {
	c := *cfg
	if c.Params == nil {
		c.Params = &chaincfg.RegressionNetParams
	}
	if c.MaxConnRetries <= 0 {
		c.MaxConnRetries = DefaultMaxConnRetries
	}

	client, err := newConnection(c.connConfig(""), c.MaxConnRetries)
	if err != nil {
		return nil, err
	}
	return &Node{
		cfg:     c,
		client:  client,
		wallets: make(map[string]*Wallet),
	}, nil
}

// connConfig returns the client configuration for path on the node,
// which is empty for node scoped calls.
func (c *Config) connConfig(path string) *rpcclient.ConnConfig {
	return &rpcclient.ConnConfig{
		Host:         c.Host + path,
		User:         c.User,
		Pass:         c.Pass,
		Params:       c.Params.Name,
		HTTPPostMode: true,
		DisableTLS:   true,
	}
}

// newConnection creates a client and waits for the node to answer a cheap
// call, backing off between attempts.
func newConnection(config *rpcclient.ConnConfig, maxConnRetries int) (*rpcclient.Client, error) {
	client, err := rpcclient.New(config, nil)
	if err != nil {
		return nil, err
	}

	for i := 0; i < maxConnRetries; i++ {
		var height int64
		height, err = client.GetBlockCount()
		if err == nil {
			log.Debugf("Connected to %s at height %d", config.Host, height)
			return client, nil
		}
		log.Debugf("Node %s not ready: %v", config.Host, err)
		time.Sleep(time.Duration(math.Log(float64(i+3))) * 50 * time.Millisecond)
	}
	client.Shutdown()
	return nil, fmt.Errorf("node %s did not answer after %d attempts: %w",
		config.Host, maxConnRetries, err)
}

// Network returns the network parameters of the node.
func (n *Node) Network() *chaincfg.Params {
	return n.cfg.Params
}

// Wallet returns a handle for the named wallet, creating or loading it on
// the node as needed.
func (n *Node) Wallet(name string) (harness.Wallet, error) {
	n.mtx.Lock()
	defer n.mtx.Unlock()

	if w, ok := n.wallets[name]; ok {
		return w, nil
	}

	if err := n.ensureWallet(name); err != nil {
		return nil, err
	}
	client, err := rpcclient.New(n.cfg.connConfig("/wallet/"+name), nil)
	if err != nil {
		return nil, err
	}

	w := &Wallet{name: name, client: client}
	n.wallets[name] = w
	return w, nil
}

func (n *Node) ensureWallet(name string) error {
	_, err := n.client.CreateWallet(name)
	if err == nil {
		log.Infof("Created wallet %s", name)
		return nil
	}
	if !isRPCError(err, rpcWalletError) {
		return fmt.Errorf("createwallet %s: %w", name, err)
	}

	_, err = n.client.LoadWallet(name)
	switch {
	case err == nil:
		log.Infof("Loaded existing wallet %s", name)
	case isRPCError(err, rpcWalletAlreadyLoaded):
		log.Debugf("Wallet %s already loaded", name)
	default:
		return fmt.Errorf("loadwallet %s: %w", name, err)
	}
	return nil
}

func isRPCError(err error, code btcjson.RPCErrorCode) bool {
	var rpcErr *btcjson.RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == code
}

// GenerateToAddress mines numBlocks blocks paying to addr.
func (n *Node) GenerateToAddress(numBlocks int64, addr btcutil.Address) ([]*chainhash.Hash, error) {
	return n.client.GenerateToAddress(numBlocks, addr, nil)
}

// SendRawTransaction submits tx to the node mempool.
func (n *Node) SendRawTransaction(tx *wire.MsgTx) (*chainhash.Hash, error) {
	return n.client.SendRawTransaction(tx, false)
}

// GetRawTransactionVerbose returns the decoded form of a transaction.
func (n *Node) GetRawTransactionVerbose(txHash *chainhash.Hash) (*btcjson.TxRawResult, error) {
	return n.client.GetRawTransactionVerbose(txHash)
}

// Shutdown stops every client opened by the node.
func (n *Node) Shutdown() {
	n.mtx.Lock()
	defer n.mtx.Unlock()

	for name, w := range n.wallets {
		w.client.Shutdown()
		delete(n.wallets, name)
	}
	n.client.Shutdown()
}

// Wallet is a harness.Wallet reached through the node's per wallet
// endpoint.
type Wallet struct {
	name   string
	client *rpcclient.Client
}

// Name returns the wallet name.
func (w *Wallet) Name() string {
	return w.name
}

// NewAddress returns a fresh bech32 address.
func (w *Wallet) NewAddress() (btcutil.Address, error) {
	return w.client.GetNewAddressType("", "bech32")
}

// SendMany funds a payment to every address from the wallet.
func (w *Wallet) SendMany(amounts map[btcutil.Address]btcutil.Amount) (*chainhash.Hash, error) {
	return w.client.SendMany("", amounts)
}

// CreateRawTransaction returns an unsigned transaction.
func (w *Wallet) CreateRawTransaction(inputs []btcjson.TransactionInput,
	amounts map[btcutil.Address]btcutil.Amount) (*wire.MsgTx, error) {

	return w.client.CreateRawTransaction(inputs, amounts, nil)
}

// SignRawTransaction signs the inputs the wallet owns.
func (w *Wallet) SignRawTransaction(tx *wire.MsgTx) (*wire.MsgTx, bool, error) {
	return w.client.SignRawTransactionWithWallet(tx)
}
