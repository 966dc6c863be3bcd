// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package memnode

import (
	"bytes"
	"encoding/hex"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// GetRawTransactionVerbose returns the decoded form of a mempool or
// confirmed transaction.  Transactions evicted by a replacement are unknown.
func (n *Node) GetRawTransactionVerbose(txHash *chainhash.Hash) (*btcjson.TxRawResult, error) {
	n.mtx.Lock()
	defer n.mtx.Unlock()

	entry, ok := n.txs[*txHash]
	if !ok {
		return nil, btcjson.NewRPCError(rpcInvalidAddressOrKey,
			"No such mempool or blockchain transaction. Use gettransaction "+
				"for wallet transactions.")
	}
	return n.txRawResult(entry)
}

// txRawResult builds the verbose result in the same shape bitcoind returns.
//
// NOTE: The node mutex must be held.
func (n *Node) txRawResult(entry *txEntry) (*btcjson.TxRawResult, error) {
	tx := entry.tx

	var buf bytes.Buffer
	buf.Grow(tx.SerializeSize())
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}

	weight := int32(tx.SerializeSizeStripped()*(blockchain.WitnessScaleFactor-1) +
		tx.SerializeSize())
	result := &btcjson.TxRawResult{
		Hex:      hex.EncodeToString(buf.Bytes()),
		Txid:     tx.TxHash().String(),
		Hash:     tx.WitnessHash().String(),
		Size:     int32(tx.SerializeSize()),
		Vsize:    int32(entry.vsize),
		Weight:   weight,
		Version:  uint32(tx.Version),
		LockTime: tx.LockTime,
		Vin:      n.vinList(tx),
		Vout:     n.voutList(tx),
	}
	if !entry.inMempool() {
		result.BlockHash = entry.blockHash.String()
		result.Confirmations = uint64(n.height - entry.height + 1)
		result.Time = entry.blockTime.Unix()
		result.Blocktime = entry.blockTime.Unix()
	}
	return result, nil
}

func (n *Node) vinList(tx *wire.MsgTx) []btcjson.Vin {
	vinList := make([]btcjson.Vin, len(tx.TxIn))
	if blockchain.IsCoinBaseTx(tx) {
		txIn := tx.TxIn[0]
		vinList[0].Coinbase = hex.EncodeToString(txIn.SignatureScript)
		vinList[0].Sequence = txIn.Sequence
		return vinList
	}

	for i, txIn := range tx.TxIn {
		vin := &vinList[i]
		vin.Txid = txIn.PreviousOutPoint.Hash.String()
		vin.Vout = txIn.PreviousOutPoint.Index
		vin.Sequence = txIn.Sequence
		vin.ScriptSig = &btcjson.ScriptSig{
			Hex: hex.EncodeToString(txIn.SignatureScript),
		}
		if len(txIn.Witness) > 0 {
			vin.Witness = make([]string, len(txIn.Witness))
			for j, item := range txIn.Witness {
				vin.Witness[j] = hex.EncodeToString(item)
			}
		}
	}
	return vinList
}

func (n *Node) voutList(tx *wire.MsgTx) []btcjson.Vout {
	voutList := make([]btcjson.Vout, 0, len(tx.TxOut))
	for i, v := range tx.TxOut {
		var vout btcjson.Vout
		vout.N = uint32(i)
		vout.Value = btcutil.Amount(v.Value).ToBTC()
		vout.ScriptPubKey.Hex = hex.EncodeToString(v.PkScript)
		vout.ScriptPubKey.Asm, _ = txscript.DisasmString(v.PkScript)

		class, addrs, reqSigs, _ := txscript.ExtractPkScriptAddrs(
			v.PkScript, n.cfg.Params)
		vout.ScriptPubKey.Type = class.String()
		vout.ScriptPubKey.ReqSigs = int32(reqSigs)
		for _, addr := range addrs {
			vout.ScriptPubKey.Addresses = append(vout.ScriptPubKey.Addresses,
				addr.EncodeAddress())
		}
		voutList = append(voutList, vout)
	}
	return voutList
}
