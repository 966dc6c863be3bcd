// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txbuild

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/corylabs/graphfixture/fixture"
	"github.com/corylabs/graphfixture/harness"
)

// OutputAddress decodes the single address an output pays to.  Outputs that
// do not pay to exactly one address, such as data carriers, return "".
func OutputAddress(vout *btcjson.Vout, params *chaincfg.Params) string {
	pkScript, err := hex.DecodeString(vout.ScriptPubKey.Hex)
	if err != nil {
		return ""
	}
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, params)
	if err != nil || len(addrs) != 1 {
		return ""
	}
	return addrs[0].EncodeAddress()
}

// AddressIndex maps every single-address output of a decoded transaction to
// its output index.
func AddressIndex(raw *btcjson.TxRawResult, params *chaincfg.Params) map[string]uint32 {
	byAddr := make(map[string]uint32, len(raw.Vout))
	for i := range raw.Vout {
		if addr := OutputAddress(&raw.Vout[i], params); addr != "" {
			byAddr[addr] = raw.Vout[i].N
		}
	}
	return byAddr
}

// DecodeTx deserializes the hex of a decoded transaction.
func DecodeTx(raw *btcjson.TxRawResult) (*wire.MsgTx, error) {
	b, err := hex.DecodeString(raw.Hex)
	if err != nil {
		return nil, err
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(b)); err != nil {
		return nil, err
	}
	return &tx, nil
}

// ResolveOutpoints fetches txid and returns, in caller order, the outpoint
// paying each address the corresponding value.  The node may order outputs
// differently from the request, so positions are never assumed.
func ResolveOutpoints(node harness.ChainNode, txid *chainhash.Hash,
	addrs []btcutil.Address, values []btcutil.Amount) ([]fixture.Outpoint, error) {

	raw, err := node.GetRawTransactionVerbose(txid)
	if err != nil {
		return nil, fmt.Errorf("getrawtransaction %v: %w", txid, err)
	}
	return resolve(raw, txid, addrs, values, node.Network())
}

func resolve(raw *btcjson.TxRawResult, txid *chainhash.Hash,
	addrs []btcutil.Address, values []btcutil.Amount,
	params *chaincfg.Params) ([]fixture.Outpoint, error) {

	byAddr := AddressIndex(raw, params)
	outpoints := make([]fixture.Outpoint, 0, len(addrs))
	for i, addr := range addrs {
		enc := addr.EncodeAddress()
		vout, ok := byAddr[enc]
		if !ok {
			return nil, fixture.Errorf(fixture.ErrOutputNotFound,
				"output address %s not found in tx %v", enc, txid)
		}
		outpoints = append(outpoints, fixture.Outpoint{
			TxID:    *txid,
			Vout:    vout,
			Value:   values[i],
			Address: enc,
		})
	}
	return outpoints, nil
}
