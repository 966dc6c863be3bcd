// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package memnode

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/corylabs/graphfixture/harness"
)

const (
	// DefaultAncestorLimit is the maximum number of unconfirmed
	// transactions in a chain, the transaction itself included.
	DefaultAncestorLimit = 25

	// DefaultMinRelayFeeRate is the minimum relay fee in satoshis per
	// 1000 virtual bytes.
	DefaultMinRelayFeeRate btcutil.Amount = 100

	// maxBIP125Sequence is the highest input sequence number that still
	// signals replaceability.
	maxBIP125Sequence = wire.MaxTxInSequenceNum - 2

	// rpcInvalidAddressOrKey is returned for unknown transactions.
	rpcInvalidAddressOrKey btcjson.RPCErrorCode = -5

	// rpcVerifyRejected is returned for policy and consensus rejections.
	rpcVerifyRejected btcjson.RPCErrorCode = -26

	// rpcVerifyAlreadyInChain is returned for duplicate submissions.
	rpcVerifyAlreadyInChain btcjson.RPCErrorCode = -27
)

// Config tunes the mempool policy of the node.
type Config struct {
	// Params defaults to the regression test network.
	Params *chaincfg.Params

	// AncestorLimit defaults to DefaultAncestorLimit.
	AncestorLimit int

	// MinRelayFeeRate defaults to DefaultMinRelayFeeRate.
	MinRelayFeeRate btcutil.Amount

	// RejectReplacements makes every conflicting submission fail as if
	// replacement was disabled on the node.
	RejectReplacements bool
}

// utxoEntry is an unspent output known to the node.  Height is -1 while the
// creating transaction sits in the mempool.
type utxoEntry struct {
	txOut    *wire.TxOut
	height   int32
	coinbase bool
}

// txEntry is a transaction in the mempool or in a block.
type txEntry struct {
	tx        *wire.MsgTx
	fee       btcutil.Amount
	vsize     int64
	height    int32
	blockHash chainhash.Hash
	blockTime time.Time
}

func (e *txEntry) inMempool() bool {
	return e.height < 0
}

// Node is an in-memory regression test chain with a mempool and wallets.
// Blocks are produced on demand and contain every mempool transaction.
// Implements harness.ChainNode.
type Node struct {
	cfg Config

	mtx sync.Mutex

	height    int32
	tip       chainhash.Hash
	tipTime   time.Time
	txs       map[chainhash.Hash]*txEntry
	utxos     map[wire.OutPoint]*utxoEntry
	spentBy   map[wire.OutPoint]chainhash.Hash
	mempool   map[chainhash.Hash]struct{}
	wallets   map[string]*Wallet
	nextSalt  uint32
	shutdown  bool
	evictions int
}

// Ensure Node implements the harness.ChainNode interface.
var _ harness.ChainNode = (*Node)(nil)

// New returns a node at the genesis block of the configured network.
func New(cfg *Config) *Node {
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	if c.Params == nil {
		c.Params = &chaincfg.RegressionNetParams
	}
	if c.AncestorLimit <= 0 {
		c.AncestorLimit = DefaultAncestorLimit
	}
	if c.MinRelayFeeRate <= 0 {
		c.MinRelayFeeRate = DefaultMinRelayFeeRate
	}

	return &Node{
		cfg:      c,
		tip:      *c.Params.GenesisHash,
		tipTime:  c.Params.GenesisBlock.Header.Timestamp,
		txs:      make(map[chainhash.Hash]*txEntry),
		utxos:    make(map[wire.OutPoint]*utxoEntry),
		spentBy:  make(map[wire.OutPoint]chainhash.Hash),
		mempool:  make(map[chainhash.Hash]struct{}),
		wallets:  make(map[string]*Wallet),
		nextSalt: 1,
	}
}

// Network returns the network parameters of the node.
func (n *Node) Network() *chaincfg.Params {
	return n.cfg.Params
}

// Height returns the current chain height.
func (n *Node) Height() int32 {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	return n.height
}

// MempoolSize returns the number of unconfirmed transactions.
func (n *Node) MempoolSize() int {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	return len(n.mempool)
}

// InMempool returns whether txid is an unconfirmed transaction.
func (n *Node) InMempool(txid chainhash.Hash) bool {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	_, ok := n.mempool[txid]
	return ok
}

// Evictions returns the number of transactions removed by replacement.
func (n *Node) Evictions() int {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	return n.evictions
}

// Wallet returns the named wallet, creating it on first use.  Every wallet
// derives its keys from its own deterministic seed.
func (n *Node) Wallet(name string) (harness.Wallet, error) {
	n.mtx.Lock()
	defer n.mtx.Unlock()

	if n.shutdown {
		return nil, fmt.Errorf("node is shut down")
	}
	if w, ok := n.wallets[name]; ok {
		return w, nil
	}
	w, err := newWallet(n, name, harness.NewSeed(n.nextSalt))
	if err != nil {
		return nil, err
	}
	n.nextSalt++
	n.wallets[name] = w
	log.Debugf("Created wallet %s", name)
	return w, nil
}

// Shutdown marks the node unusable.
func (n *Node) Shutdown() {
	n.mtx.Lock()
	n.shutdown = true
	n.mtx.Unlock()
}

// GenerateToAddress mines numBlocks blocks.  The first block confirms the
// whole mempool.
func (n *Node) GenerateToAddress(numBlocks int64, addr btcutil.Address) ([]*chainhash.Hash, error) {
	n.mtx.Lock()
	defer n.mtx.Unlock()

	if n.shutdown {
		return nil, fmt.Errorf("node is shut down")
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}

	hashes := make([]*chainhash.Hash, 0, numBlocks)
	for i := int64(0); i < numBlocks; i++ {
		hash := n.connectBlock(pkScript)
		hashes = append(hashes, &hash)
	}
	return hashes, nil
}

// connectBlock builds a block paying the subsidy and mempool fees to
// pkScript and applies it.
//
// NOTE: The node mutex must be held.
func (n *Node) connectBlock(pkScript []byte) chainhash.Hash {
	height := n.height + 1

	// Confirm parents before children so the block is ordered
	// topologically.
	pending := n.mempoolOrder()
	var fees btcutil.Amount
	for _, txid := range pending {
		fees += n.txs[txid].fee
	}

	coinbase := wire.NewMsgTx(wire.TxVersion)
	sigScript, _ := txscript.NewScriptBuilder().AddInt64(int64(height)).
		AddInt64(0).Script()
	coinbase.AddTxIn(&wire.TxIn{
		PreviousOutPoint: *wire.NewOutPoint(&chainhash.Hash{},
			wire.MaxPrevOutIndex),
		SignatureScript: sigScript,
		Sequence:        wire.MaxTxInSequenceNum,
	})
	subsidy := blockchain.CalcBlockSubsidy(height, n.cfg.Params)
	coinbase.AddTxOut(wire.NewTxOut(subsidy+int64(fees), pkScript))

	txns := make([]*btcutil.Tx, 0, len(pending)+1)
	txns = append(txns, btcutil.NewTx(coinbase))
	for _, txid := range pending {
		txns = append(txns, btcutil.NewTx(n.txs[txid].tx))
	}
	merkles := blockchain.BuildMerkleTreeStore(txns, false)

	blockTime := n.tipTime.Add(time.Minute * 10)
	header := wire.BlockHeader{
		Version:    4,
		PrevBlock:  n.tip,
		MerkleRoot: *merkles[len(merkles)-1],
		Timestamp:  blockTime,
		Bits:       n.cfg.Params.PowLimitBits,
		Nonce:      uint32(height),
	}
	blockHash := header.BlockHash()

	cbHash := coinbase.TxHash()
	n.txs[cbHash] = &txEntry{
		tx:        coinbase,
		vsize:     vsize(coinbase),
		height:    height,
		blockHash: blockHash,
		blockTime: blockTime,
	}
	n.utxos[wire.OutPoint{Hash: cbHash, Index: 0}] = &utxoEntry{
		txOut:    coinbase.TxOut[0],
		height:   height,
		coinbase: true,
	}

	for _, txid := range pending {
		entry := n.txs[txid]
		entry.height = height
		entry.blockHash = blockHash
		entry.blockTime = blockTime
		for i := range entry.tx.TxOut {
			op := wire.OutPoint{Hash: txid, Index: uint32(i)}
			if u, ok := n.utxos[op]; ok {
				u.height = height
			}
		}
		for _, txIn := range entry.tx.TxIn {
			delete(n.spentBy, txIn.PreviousOutPoint)
		}
		delete(n.mempool, txid)
	}

	n.height = height
	n.tip = blockHash
	n.tipTime = blockTime

	log.Tracef("Connected block %v at height %d with %d transactions",
		blockHash, height, len(txns))
	return blockHash
}

// mempoolOrder returns the mempool in an order where every parent precedes
// its children.  Ties are broken by txid for determinism.
//
// NOTE: The node mutex must be held.
func (n *Node) mempoolOrder() []chainhash.Hash {
	txids := make([]chainhash.Hash, 0, len(n.mempool))
	for txid := range n.mempool {
		txids = append(txids, txid)
	}
	sort.Slice(txids, func(i, j int) bool {
		return txids[i].String() < txids[j].String()
	})

	done := make(map[chainhash.Hash]struct{}, len(txids))
	order := make([]chainhash.Hash, 0, len(txids))
	var visit func(txid chainhash.Hash)
	visit = func(txid chainhash.Hash) {
		if _, ok := done[txid]; ok {
			return
		}
		done[txid] = struct{}{}
		for _, txIn := range n.txs[txid].tx.TxIn {
			parent := txIn.PreviousOutPoint.Hash
			if _, ok := n.mempool[parent]; ok {
				visit(parent)
			}
		}
		order = append(order, txid)
	}
	for _, txid := range txids {
		visit(txid)
	}
	return order
}

// SendRawTransaction validates tx against the chain and mempool policy and
// adds it to the mempool.
func (n *Node) SendRawTransaction(tx *wire.MsgTx) (*chainhash.Hash, error) {
	n.mtx.Lock()
	defer n.mtx.Unlock()

	if n.shutdown {
		return nil, fmt.Errorf("node is shut down")
	}
	return n.acceptTx(tx)
}

// acceptTx implements SendRawTransaction.
//
// NOTE: The node mutex must be held.
func (n *Node) acceptTx(tx *wire.MsgTx) (*chainhash.Hash, error) {
	txid := tx.TxHash()
	if entry, ok := n.txs[txid]; ok {
		if entry.inMempool() {
			return nil, rejectf(rpcVerifyAlreadyInChain, "txn-already-in-mempool")
		}
		return nil, rejectf(rpcVerifyAlreadyInChain, "txn-already-known")
	}
	if blockchain.IsCoinBaseTx(tx) {
		return nil, rejectf(rpcVerifyRejected, "coinbase")
	}
	if len(tx.TxIn) == 0 || len(tx.TxOut) == 0 {
		return nil, rejectf(rpcVerifyRejected, "bad-txns-vin-or-vout-empty")
	}

	// Resolve every input, collecting the mempool transactions the
	// submission conflicts with.
	prevOuts := txscript.NewMultiPrevOutFetcher(nil)
	conflicts := make(map[chainhash.Hash]struct{})
	seen := make(map[wire.OutPoint]struct{}, len(tx.TxIn))
	var inputValue btcutil.Amount
	for _, txIn := range tx.TxIn {
		op := txIn.PreviousOutPoint
		if _, ok := seen[op]; ok {
			return nil, rejectf(rpcVerifyRejected, "bad-txns-inputs-duplicate")
		}
		seen[op] = struct{}{}

		txOut, err := n.prevOut(op, conflicts)
		if err != nil {
			return nil, err
		}
		prevOuts.AddPrevOut(op, txOut)
		inputValue += btcutil.Amount(txOut.Value)
	}

	var outputValue btcutil.Amount
	for _, txOut := range tx.TxOut {
		class := txscript.GetScriptClass(txOut.PkScript)
		if txOut.Value <= 0 && class != txscript.NullDataTy {
			return nil, rejectf(rpcVerifyRejected, "dust")
		}
		outputValue += btcutil.Amount(txOut.Value)
	}
	if outputValue > inputValue {
		return nil, rejectf(rpcVerifyRejected, "bad-txns-in-belowout")
	}

	fee := inputValue - outputValue
	size := vsize(tx)
	minFee := n.cfg.MinRelayFeeRate * btcutil.Amount(size) / 1000
	if fee < minFee || fee <= 0 {
		return nil, rejectf(rpcVerifyRejected, "min relay fee not met, "+
			"%d < %d", fee, minFee)
	}

	sigHashes := txscript.NewTxSigHashes(tx, prevOuts)
	for i, txIn := range tx.TxIn {
		prev := prevOuts.FetchPrevOutput(txIn.PreviousOutPoint)
		vm, err := txscript.NewEngine(prev.PkScript, tx, i,
			txscript.StandardVerifyFlags, nil, sigHashes, prev.Value,
			prevOuts)
		if err == nil {
			err = vm.Execute()
		}
		if err != nil {
			return nil, rejectf(rpcVerifyRejected, "mandatory-script-"+
				"verify-flag-failed (input %d: %v)", i, err)
		}
	}

	if len(conflicts) > 0 {
		if err := n.checkReplacement(conflicts, fee, size); err != nil {
			return nil, err
		}
	}

	if ancestors := n.ancestorCount(tx, conflicts); ancestors+1 > n.cfg.AncestorLimit {
		return nil, rejectf(rpcVerifyRejected, "too-long-mempool-chain, "+
			"too many unconfirmed ancestors [limit: %d]",
			n.cfg.AncestorLimit)
	}

	for txid := range conflicts {
		n.evict(txid)
	}

	n.txs[txid] = &txEntry{tx: tx, fee: fee, vsize: size, height: -1}
	n.mempool[txid] = struct{}{}
	for _, txIn := range tx.TxIn {
		delete(n.utxos, txIn.PreviousOutPoint)
		n.spentBy[txIn.PreviousOutPoint] = txid
	}
	for i, txOut := range tx.TxOut {
		if txscript.GetScriptClass(txOut.PkScript) == txscript.NullDataTy {
			continue
		}
		n.utxos[wire.OutPoint{Hash: txid, Index: uint32(i)}] = &utxoEntry{
			txOut:  txOut,
			height: -1,
		}
	}

	log.Tracef("Accepted %v (fee %v, %d vbytes, %d conflicts)", txid,
		fee, size, len(conflicts))
	return &txid, nil
}

// prevOut returns the output op refers to.  Outputs already spent by a
// mempool transaction are returned as well, with the spender added to
// conflicts.
//
// NOTE: The node mutex must be held.
func (n *Node) prevOut(op wire.OutPoint, conflicts map[chainhash.Hash]struct{}) (*wire.TxOut, error) {
	if u, ok := n.utxos[op]; ok {
		if u.coinbase {
			spendHeight := n.height + 1
			if spendHeight-u.height < int32(n.cfg.Params.CoinbaseMaturity) {
				return nil, rejectf(rpcVerifyRejected,
					"bad-txns-premature-spend-of-coinbase")
			}
		}
		return u.txOut, nil
	}

	spender, ok := n.spentBy[op]
	if !ok {
		return nil, rejectf(rpcVerifyRejected, "bad-txns-inputs-missingorspent")
	}
	conflicts[spender] = struct{}{}

	parent, ok := n.txs[op.Hash]
	if !ok || int(op.Index) >= len(parent.tx.TxOut) {
		return nil, rejectf(rpcVerifyRejected, "bad-txns-inputs-missingorspent")
	}
	return parent.tx.TxOut[op.Index], nil
}

// checkReplacement applies the replace-by-fee rules against the directly
// conflicting transactions and everything that descends from them.
//
// NOTE: The node mutex must be held.
func (n *Node) checkReplacement(conflicts map[chainhash.Hash]struct{},
	fee btcutil.Amount, size int64) error {

	if n.cfg.RejectReplacements {
		return rejectf(rpcVerifyRejected, "txn-mempool-conflict")
	}

	var evictedFees btcutil.Amount
	for txid := range conflicts {
		entry := n.txs[txid]
		if !signalsReplacement(entry.tx) {
			return rejectf(rpcVerifyRejected, "txn-mempool-conflict")
		}
		// The replacement must pay a strictly higher feerate than each
		// transaction it directly replaces.
		if int64(fee)*entry.vsize <= int64(entry.fee)*size {
			return rejectf(rpcVerifyRejected, "insufficient fee, "+
				"rejecting replacement %v", txid)
		}
		for _, d := range n.descendants(txid) {
			evictedFees += n.txs[d].fee
		}
	}

	relayFee := n.cfg.MinRelayFeeRate * btcutil.Amount(size) / 1000
	if fee < evictedFees+relayFee {
		return rejectf(rpcVerifyRejected, "insufficient fee, "+
			"%d < %d", fee, evictedFees+relayFee)
	}
	return nil
}

func signalsReplacement(tx *wire.MsgTx) bool {
	for _, txIn := range tx.TxIn {
		if txIn.Sequence <= maxBIP125Sequence {
			return true
		}
	}
	return false
}

// descendants returns txid and every mempool transaction spending from it,
// directly or indirectly.
//
// NOTE: The node mutex must be held.
func (n *Node) descendants(txid chainhash.Hash) []chainhash.Hash {
	result := []chainhash.Hash{txid}
	seen := map[chainhash.Hash]struct{}{txid: {}}
	for i := 0; i < len(result); i++ {
		entry := n.txs[result[i]]
		for vout := range entry.tx.TxOut {
			op := wire.OutPoint{Hash: result[i], Index: uint32(vout)}
			child, ok := n.spentBy[op]
			if !ok {
				continue
			}
			if _, dup := seen[child]; dup {
				continue
			}
			seen[child] = struct{}{}
			result = append(result, child)
		}
	}
	return result
}

// ancestorCount returns the number of distinct unconfirmed ancestors of tx,
// ignoring transactions that are about to be evicted.
//
// NOTE: The node mutex must be held.
func (n *Node) ancestorCount(tx *wire.MsgTx, evicting map[chainhash.Hash]struct{}) int {
	seen := make(map[chainhash.Hash]struct{})
	stack := []*wire.MsgTx{tx}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, txIn := range cur.TxIn {
			parent := txIn.PreviousOutPoint.Hash
			if _, ok := n.mempool[parent]; !ok {
				continue
			}
			if _, ok := evicting[parent]; ok {
				continue
			}
			if _, ok := seen[parent]; ok {
				continue
			}
			seen[parent] = struct{}{}
			stack = append(stack, n.txs[parent].tx)
		}
	}
	return len(seen)
}

// evict removes txid and its descendants from the mempool, restoring the
// outputs they spent.  Evicted transactions are forgotten entirely.
//
// NOTE: The node mutex must be held.
func (n *Node) evict(txid chainhash.Hash) {
	for _, d := range n.descendants(txid) {
		entry, ok := n.txs[d]
		if !ok {
			continue
		}
		for i := range entry.tx.TxOut {
			delete(n.utxos, wire.OutPoint{Hash: d, Index: uint32(i)})
		}
		for _, txIn := range entry.tx.TxIn {
			op := txIn.PreviousOutPoint
			if n.spentBy[op] != d {
				continue
			}
			delete(n.spentBy, op)
			if parent, ok := n.txs[op.Hash]; ok {
				n.utxos[op] = &utxoEntry{
					txOut:    parent.tx.TxOut[op.Index],
					height:   parent.height,
					coinbase: blockchain.IsCoinBaseTx(parent.tx),
				}
			}
		}
		delete(n.txs, d)
		delete(n.mempool, d)
		n.evictions++
		log.Debugf("Evicted %v from the mempool", d)
	}
}

// vsize returns the virtual size of tx.
func vsize(tx *wire.MsgTx) int64 {
	weight := int64(tx.SerializeSizeStripped()*(blockchain.WitnessScaleFactor-1) +
		tx.SerializeSize())
	return (weight + blockchain.WitnessScaleFactor - 1) / blockchain.WitnessScaleFactor
}

func rejectf(code btcjson.RPCErrorCode, format string, args ...interface{}) error {
	return btcjson.NewRPCError(code, fmt.Sprintf(format, args...))
}
