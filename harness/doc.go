// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package harness

/*

Package harness provides the chain node and wallet abstractions the fixture
generator drives, together with a Harness that prepares a fresh regression
test chain for scenario construction.

Two implementations are provided.  The rpcnode package talks JSON-RPC to a
running bitcoind in regtest mode, addressing each wallet through its own
/wallet/<name> endpoint.  The memnode package is a deterministic in-memory
chain with a mempool and wallets, used by the package tests and by the
simnet dry run mode.

*/
