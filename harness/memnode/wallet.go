// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package memnode

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/corylabs/graphfixture/harness"
)

const (
	// sendManyFeeRate is the fee rate in satoshis per virtual byte used
	// by wallet funded payments.
	sendManyFeeRate = 20

	// dustLimit is the smallest change output the wallet creates.
	dustLimit = 546

	// Virtual size estimates for a P2WPKH spend.
	txOverheadVSize = 11
	inputVSize      = 68
	outputVSize     = 31
)

// Wallet is a deterministic HD wallet living inside a Node.  The wallet uses
// a hard-coded HD key hierarchy which promotes reproducibility between runs.
// Implements harness.Wallet.
type Wallet struct {
	node *Node
	name string

	// hdRoot is the root master private key for the wallet.
	hdRoot *hdkeychain.ExtendedKey

	// hdIndex is the next available key index offset from the hdRoot.
	hdIndex uint32

	// scripts maps every issued pkScript to its key index.
	scripts map[string]uint32
}

// Ensure Wallet implements the harness.Wallet interface.
var _ harness.Wallet = (*Wallet)(nil)

func newWallet(n *Node, name string, seed [chainhash.HashSize + 4]byte) (*Wallet, error) {
	hdRoot, err := hdkeychain.NewMaster(seed[:], n.cfg.Params)
	if err != nil {
		return nil, err
	}
	return &Wallet{
		node:    n,
		name:    name,
		hdRoot:  hdRoot,
		scripts: make(map[string]uint32),
	}, nil
}

// keyToAddr maps the passed private key to its P2WPKH address.
func keyToAddr(key *btcec.PrivateKey, net *chaincfg.Params) (btcutil.Address, error) {
	pubKeyHash := btcutil.Hash160(key.PubKey().SerializeCompressed())
	return btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, net)
}

// Name returns the wallet name.
func (w *Wallet) Name() string {
	return w.name
}

// NewAddress returns a fresh address from the wallet's hd key chain.
func (w *Wallet) NewAddress() (btcutil.Address, error) {
	w.node.mtx.Lock()
	defer w.node.mtx.Unlock()

	return w.newAddress()
}

// newAddress implements NewAddress.
//
// NOTE: The node mutex must be held.
func (w *Wallet) newAddress() (btcutil.Address, error) {
	index := w.hdIndex

	privKey, err := w.privKey(index)
	if err != nil {
		return nil, err
	}
	addr, err := keyToAddr(privKey, w.node.cfg.Params)
	if err != nil {
		return nil, err
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}

	w.scripts[string(pkScript)] = index
	w.hdIndex++
	return addr, nil
}

func (w *Wallet) privKey(index uint32) (*btcec.PrivateKey, error) {
	childKey, err := w.hdRoot.Derive(index)
	if err != nil {
		return nil, err
	}
	return childKey.ECPrivKey()
}

// owns returns the key index for pkScript when the wallet issued it.
func (w *Wallet) owns(pkScript []byte) (uint32, bool) {
	index, ok := w.scripts[string(pkScript)]
	return index, ok
}

type spendable struct {
	op    wire.OutPoint
	value btcutil.Amount
}

// spendables returns the confirmed mature outputs of the wallet ordered by
// value, largest first, then by outpoint.
//
// NOTE: The node mutex must be held.
func (w *Wallet) spendables() []spendable {
	n := w.node
	var result []spendable
	for op, u := range n.utxos {
		if u.height < 0 {
			continue
		}
		if u.coinbase && n.height+1-u.height < int32(n.cfg.Params.CoinbaseMaturity) {
			continue
		}
		if _, ok := w.owns(u.txOut.PkScript); !ok {
			continue
		}
		result = append(result, spendable{op: op, value: btcutil.Amount(u.txOut.Value)})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].value != result[j].value {
			return result[i].value > result[j].value
		}
		if c := bytes.Compare(result[i].op.Hash[:], result[j].op.Hash[:]); c != 0 {
			return c < 0
		}
		return result[i].op.Index < result[j].op.Index
	})
	return result
}

// SendMany pays every address from the wallet's confirmed outputs, adding a
// change output when the remainder is above dust.
func (w *Wallet) SendMany(amounts map[btcutil.Address]btcutil.Amount) (*chainhash.Hash, error) {
	w.node.mtx.Lock()
	defer w.node.mtx.Unlock()

	if len(amounts) == 0 {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCInvalidParameter,
			"Transaction must have at least one recipient")
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	var target btcutil.Amount
	for _, out := range sortedOutputs(amounts) {
		pkScript, err := txscript.PayToAddrScript(out.addr)
		if err != nil {
			return nil, err
		}
		tx.AddTxOut(wire.NewTxOut(int64(out.amount), pkScript))
		target += out.amount
	}

	var selected btcutil.Amount
	var fee btcutil.Amount
	funded := false
	for _, s := range w.spendables() {
		op := s.op
		tx.AddTxIn(wire.NewTxIn(&op, nil, nil))
		selected += s.value

		size := txOverheadVSize + inputVSize*len(tx.TxIn) +
			outputVSize*(len(tx.TxOut)+1)
		fee = btcutil.Amount(size * sendManyFeeRate)
		if selected >= target+fee {
			funded = true
			break
		}
	}
	if !funded {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCWallet,
			"Insufficient funds")
	}

	if change := selected - target - fee; change > dustLimit {
		addr, err := w.newAddress()
		if err != nil {
			return nil, err
		}
		pkScript, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return nil, err
		}
		tx.AddTxOut(wire.NewTxOut(int64(change), pkScript))
	}

	signed, complete, err := w.sign(tx)
	if err != nil {
		return nil, err
	}
	if !complete {
		return nil, fmt.Errorf("wallet %s could not sign its own inputs", w.name)
	}
	return w.node.acceptTx(signed)
}

type addrAmount struct {
	addr   btcutil.Address
	amount btcutil.Amount
}

// sortedOutputs orders a payment map by encoded address, matching the key
// order of the JSON object the RPC client sends.
func sortedOutputs(amounts map[btcutil.Address]btcutil.Amount) []addrAmount {
	outs := make([]addrAmount, 0, len(amounts))
	for addr, amount := range amounts {
		outs = append(outs, addrAmount{addr: addr, amount: amount})
	}
	sort.Slice(outs, func(i, j int) bool {
		return outs[i].addr.EncodeAddress() < outs[j].addr.EncodeAddress()
	})
	return outs
}

// CreateRawTransaction returns an unsigned transaction spending inputs.
// Outputs are ordered by encoded address, not by caller order.
func (w *Wallet) CreateRawTransaction(inputs []btcjson.TransactionInput,
	amounts map[btcutil.Address]btcutil.Amount) (*wire.MsgTx, error) {

	tx := wire.NewMsgTx(wire.TxVersion)
	for _, in := range inputs {
		hash, err := chainhash.NewHashFromStr(in.Txid)
		if err != nil {
			return nil, btcjson.NewRPCError(btcjson.ErrRPCDecodeHexString,
				fmt.Sprintf("txid %q: %v", in.Txid, err))
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, in.Vout), nil, nil))
	}
	for _, out := range sortedOutputs(amounts) {
		if out.amount <= 0 {
			return nil, btcjson.NewRPCError(btcjson.ErrRPCType,
				"Invalid amount")
		}
		pkScript, err := txscript.PayToAddrScript(out.addr)
		if err != nil {
			return nil, err
		}
		tx.AddTxOut(wire.NewTxOut(int64(out.amount), pkScript))
	}
	return tx, nil
}

// SignRawTransaction signs every input paying to a wallet key.  The result
// is incomplete when any input is unknown or foreign.
func (w *Wallet) SignRawTransaction(tx *wire.MsgTx) (*wire.MsgTx, bool, error) {
	w.node.mtx.Lock()
	defer w.node.mtx.Unlock()

	return w.sign(tx)
}

// sign implements SignRawTransaction.
//
// NOTE: The node mutex must be held.
func (w *Wallet) sign(tx *wire.MsgTx) (*wire.MsgTx, bool, error) {
	signed := tx.Copy()

	// Sighashes commit to every spent output, so an unknown input leaves
	// the whole transaction unsigned.
	prevOuts := txscript.NewMultiPrevOutFetcher(nil)
	for _, txIn := range signed.TxIn {
		txOut := w.node.lookupOutput(txIn.PreviousOutPoint)
		if txOut == nil {
			return signed, false, nil
		}
		prevOuts.AddPrevOut(txIn.PreviousOutPoint, txOut)
	}
	sigHashes := txscript.NewTxSigHashes(signed, prevOuts)

	complete := true
	for i, txIn := range signed.TxIn {
		prev := prevOuts.FetchPrevOutput(txIn.PreviousOutPoint)
		index, ok := w.owns(prev.PkScript)
		if !ok {
			complete = false
			continue
		}
		privKey, err := w.privKey(index)
		if err != nil {
			return nil, false, err
		}
		witness, err := txscript.WitnessSignature(signed, sigHashes, i,
			prev.Value, prev.PkScript, txscript.SigHashAll, privKey, true)
		if err != nil {
			return nil, false, err
		}
		txIn.Witness = witness
	}
	return signed, complete, nil
}

// lookupOutput returns the output op refers to, whether unspent or spent by
// a mempool transaction.
//
// NOTE: The node mutex must be held.
func (n *Node) lookupOutput(op wire.OutPoint) *wire.TxOut {
	if u, ok := n.utxos[op]; ok {
		return u.txOut
	}
	if _, ok := n.spentBy[op]; !ok {
		return nil
	}
	entry, ok := n.txs[op.Hash]
	if !ok || int(op.Index) >= len(entry.tx.TxOut) {
		return nil
	}
	return entry.tx.TxOut[op.Index]
}
