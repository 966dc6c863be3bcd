// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txbuild

import (
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/corylabs/graphfixture/fixture"
	"github.com/corylabs/graphfixture/harness"
	"github.com/davecgh/go-spew/spew"
	"github.com/decred/dcrd/lru"
)

const (
	// MaxInputsPerTx is the most inputs a constructed transaction may
	// spend.
	MaxInputsPerTx = 100

	// MaxOutputsPerTx is the most outputs a constructed transaction may
	// create.
	MaxOutputsPerTx = 100

	// DefaultFee is the fee paid by each hop of a chain or merge.
	DefaultFee btcutil.Amount = 1000

	// ReplaceableSequence is the input sequence number used to signal
	// that a transaction may be replaced.
	ReplaceableSequence uint32 = wire.MaxTxInSequenceNum - 2

	// DefaultAddrCapacity is the number of issued addresses the reuse
	// guard of a Spender made by NewSpender remembers.
	DefaultAddrCapacity = 1 << 16
)

// BroadcastError is returned when the node refuses a signed transaction.
// Nothing about the transaction reached the node or the recorder.
type BroadcastError struct {
	TxID chainhash.Hash
	Err  error
}

// Error satisfies the error interface.
func (e *BroadcastError) Error() string {
	return fmt.Sprintf("sendrawtransaction %v: %v", e.TxID, e.Err)
}

// Unwrap returns the node error.
func (e *BroadcastError) Unwrap() error {
	return e.Err
}

// Recorder is notified of every transaction the Spender broadcasts.  When
// tx deliberately conflicts with an earlier transaction, replaces names it.
type Recorder interface {
	Record(tx *wire.MsgTx, replaces *chainhash.Hash) error
}

// Output is one output of a custom transaction.  A non-nil Data makes it a
// zero value data carrier output instead of a payment to a fresh address.
type Output struct {
	Value btcutil.Amount
	Data  []byte
}

// SendOptions adjusts how SendOutputs builds a transaction.
type SendOptions struct {
	// Sequence is applied to every input.  Zero selects the final
	// sequence number.
	Sequence uint32

	// Replaces names the transaction this one is meant to replace.
	Replaces *chainhash.Hash
}

// Spender turns a set of owned outpoints into a broadcast transaction and
// returns the outpoints it created.  All spending goes through one wallet.
type Spender struct {
	node     harness.ChainNode
	wallet   harness.Wallet
	recorder Recorder
	issued   lru.Cache
	sent     int
}

// NewSpender returns a Spender signing with wallet and broadcasting to
// node.  The recorder is optional.
func NewSpender(node harness.ChainNode, wallet harness.Wallet, recorder Recorder) *Spender {
	return NewSpenderSize(node, wallet, recorder, DefaultAddrCapacity)
}

// NewSpenderSize is NewSpender with a reuse guard remembering addrCapacity
// addresses.  Reuse is only detected while the first issue of an address is
// still remembered, so addrCapacity should cover every address of the run.
func NewSpenderSize(node harness.ChainNode, wallet harness.Wallet,
	recorder Recorder, addrCapacity int) *Spender {

	if addrCapacity < 1 {
		addrCapacity = DefaultAddrCapacity
	}
	return &Spender{
		node:     node,
		wallet:   wallet,
		recorder: recorder,
		issued:   lru.NewCache(uint(addrCapacity)),
	}
}

// Node returns the node transactions are broadcast to.
func (s *Spender) Node() harness.ChainNode {
	return s.node
}

// Sent returns the number of transactions broadcast so far.
func (s *Spender) Sent() int {
	return s.sent
}

// Spend creates one transaction spending inputs to one fresh address per
// entry of values.  Outpoints are returned in the order of values.
func (s *Spender) Spend(inputs []fixture.Outpoint, values []btcutil.Amount) (chainhash.Hash, []fixture.Outpoint, error) {
	if err := checkSpend(inputs, values); err != nil {
		return chainhash.Hash{}, nil, err
	}

	addrs, err := s.freshAddresses(len(values))
	if err != nil {
		return chainhash.Hash{}, nil, err
	}
	rawInputs := make([]btcjson.TransactionInput, 0, len(inputs))
	for _, in := range inputs {
		rawInputs = append(rawInputs, btcjson.TransactionInput{
			Txid: in.TxID.String(),
			Vout: in.Vout,
		})
	}
	amounts := make(map[btcutil.Address]btcutil.Amount, len(values))
	for i, addr := range addrs {
		amounts[addr] = values[i]
	}

	tx, err := s.wallet.CreateRawTransaction(rawInputs, amounts)
	if err != nil {
		return chainhash.Hash{}, nil, fmt.Errorf("createrawtransaction: %w", err)
	}
	txid, err := s.signAndSend(tx, nil)
	if err != nil {
		return chainhash.Hash{}, nil, err
	}
	outpoints, err := ResolveOutpoints(s.node, txid, addrs, values)
	if err != nil {
		return chainhash.Hash{}, nil, err
	}
	return *txid, outpoints, nil
}

// SendOutputs builds a transaction locally so input sequence numbers and
// data carrier outputs can be chosen, then signs and broadcasts it like
// Spend.  Outpoints are returned for the value outputs only, in order.
// Data carrier outputs must have a zero Value.
func (s *Spender) SendOutputs(inputs []fixture.Outpoint, outputs []Output, opts *SendOptions) (chainhash.Hash, []fixture.Outpoint, error) {
	var values []btcutil.Amount
	for i, out := range outputs {
		if out.Data == nil {
			values = append(values, out.Value)
			continue
		}
		if out.Value != 0 {
			return chainhash.Hash{}, nil, fixture.Errorf(
				fixture.ErrDataOutputValue, "data output %d has "+
					"value %d", i, out.Value)
		}
	}
	if len(outputs) > MaxOutputsPerTx {
		return chainhash.Hash{}, nil, fixture.Errorf(fixture.ErrTooManyOutputs,
			"output count %d exceeds %d", len(outputs), MaxOutputsPerTx)
	}
	if err := checkSpend(inputs, values); err != nil {
		return chainhash.Hash{}, nil, err
	}

	sequence := wire.MaxTxInSequenceNum
	var replaces *chainhash.Hash
	if opts != nil {
		if opts.Sequence != 0 {
			sequence = opts.Sequence
		}
		replaces = opts.Replaces
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	for _, in := range inputs {
		op := in.OutPoint()
		txIn := wire.NewTxIn(&op, nil, nil)
		txIn.Sequence = sequence
		tx.AddTxIn(txIn)
	}

	addrs, err := s.freshAddresses(len(values))
	if err != nil {
		return chainhash.Hash{}, nil, err
	}
	next := 0
	for _, out := range outputs {
		var pkScript []byte
		if out.Data != nil {
			pkScript, err = txscript.NullDataScript(out.Data)
		} else {
			pkScript, err = txscript.PayToAddrScript(addrs[next])
			next++
		}
		if err != nil {
			return chainhash.Hash{}, nil, err
		}
		tx.AddTxOut(wire.NewTxOut(int64(out.Value), pkScript))
	}

	txid, err := s.signAndSend(tx, replaces)
	if err != nil {
		return chainhash.Hash{}, nil, err
	}
	outpoints, err := ResolveOutpoints(s.node, txid, addrs, values)
	if err != nil {
		return chainhash.Hash{}, nil, err
	}
	return *txid, outpoints, nil
}

// checkSpend enforces the invariants every constructed transaction obeys.
func checkSpend(inputs []fixture.Outpoint, values []btcutil.Amount) error {
	if len(inputs) == 0 {
		return fixture.NewError(fixture.ErrNoInputs, "inputs must not be empty")
	}
	if len(inputs) > MaxInputsPerTx {
		return fixture.Errorf(fixture.ErrTooManyInputs,
			"input count %d exceeds %d", len(inputs), MaxInputsPerTx)
	}
	if len(values) > MaxOutputsPerTx {
		return fixture.Errorf(fixture.ErrTooManyOutputs,
			"output count %d exceeds %d", len(values), MaxOutputsPerTx)
	}

	var outputSum btcutil.Amount
	for i, v := range values {
		if v <= 0 {
			return fixture.Errorf(fixture.ErrNonPositiveValue,
				"output %d has value %d", i, v)
		}
		outputSum += v
	}
	inputSum := fixture.SumValues(inputs)
	if outputSum >= inputSum {
		return fixture.Errorf(fixture.ErrNonPositiveFee,
			"output sum %d must be less than input sum %d", outputSum,
			inputSum)
	}
	return nil
}

// freshAddresses returns n new wallet addresses, failing if the wallet ever
// hands out an address twice.
func (s *Spender) freshAddresses(n int) ([]btcutil.Address, error) {
	addrs := make([]btcutil.Address, 0, n)
	for i := 0; i < n; i++ {
		addr, err := s.wallet.NewAddress()
		if err != nil {
			return nil, fmt.Errorf("getnewaddress: %w", err)
		}
		if err := s.MarkIssued(addr); err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// MarkIssued registers addr as handed out, failing if it already was.
func (s *Spender) MarkIssued(addr btcutil.Address) error {
	enc := addr.EncodeAddress()
	if s.issued.Contains(enc) {
		return fixture.Errorf(fixture.ErrAddressReuse,
			"wallet %s returned address %s twice", s.wallet.Name(), enc)
	}
	s.issued.Add(enc)
	return nil
}

func (s *Spender) signAndSend(tx *wire.MsgTx, replaces *chainhash.Hash) (*chainhash.Hash, error) {
	signed, complete, err := s.wallet.SignRawTransaction(tx)
	if err != nil {
		return nil, fmt.Errorf("signrawtransactionwithwallet: %w", err)
	}
	if !complete {
		return nil, fixture.Errorf(fixture.ErrIncompleteSignature,
			"wallet %s returned an incomplete signature set for %v",
			s.wallet.Name(), tx.TxHash())
	}

	log.Tracef("Broadcasting %v", newLogClosure(func() string {
		return spew.Sdump(signed)
	}))

	txid, err := s.node.SendRawTransaction(signed)
	if err != nil {
		return nil, &BroadcastError{TxID: signed.TxHash(), Err: err}
	}
	s.sent++

	if s.recorder != nil {
		if err := s.recorder.Record(signed, replaces); err != nil {
			return nil, err
		}
	}

	log.Debugf("Sent %v (%d inputs, %d outputs)", txid, len(signed.TxIn),
		len(signed.TxOut))
	return txid, nil
}
