// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package graphcheck replays the scenarios of a fixture against a running
graph service and asserts every expectation the fixture records.

For each scenario the ancestry graph of the root is requested with the
scenario limits and checked for:

  - the truncation flag and the presence of the root node
  - node and edge counts within the limits and equal to the reported stats
  - every required node and required edge
  - exact node and edge counts when the scenario pins them
  - a closed edge set when the graph is not truncated
  - the number of unresolved root inputs when the scenario pins it
*/
package graphcheck
