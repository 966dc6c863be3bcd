// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/corylabs/graphfixture/fixture"
	"github.com/corylabs/graphfixture/graphcheck"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, args ...string) (*config, error) {
	t.Helper()

	for _, env := range []string{"GRAPH_FIXTURE_FILE", "CORY_API_TOKEN"} {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
	args = append([]string{
		"--configfile=" + filepath.Join(t.TempDir(), "missing.conf"),
	}, args...)
	return loadConfig(args)
}

func TestLoadConfig(t *testing.T) {
	cfg, err := testConfig(t, "--fixturefile=f.json")
	require.NoError(t, err)
	require.Equal(t, defaultServer, cfg.Server)
	require.Equal(t, graphcheck.DefaultTimeout, cfg.Timeout)
	require.Empty(t, cfg.APIToken)

	t.Setenv("CORY_API_TOKEN", "secret")
	cfg, err = loadConfig([]string{"--fixturefile=f.json",
		"--timeout=5s", "--server=https://cory.example:8443",
		"--configfile=" + filepath.Join(t.TempDir(), "missing.conf")})
	require.NoError(t, err)
	require.Equal(t, "secret", cfg.APIToken)
	require.Equal(t, 5*time.Second, cfg.Timeout)

	for _, args := range [][]string{
		{},
		{"--fixturefile=f.json", "--server=cory.example"},
		{"--fixturefile=f.json", "--timeout=10ms"},
		{"--fixturefile=f.json", "--debuglevel=nope"},
	} {
		_, err := testConfig(t, args...)
		require.Error(t, err, args)
	}
}

func TestCheck(t *testing.T) {
	root := chainhash.Hash{1}.String()
	f := fixture.New(fixture.TierFunctional, 500)
	f.Scenarios = []fixture.Scenario{{
		Name:            "node_limit_truncation",
		Tier:            fixture.TierFunctional,
		RootTxID:        root,
		Limits:          fixture.Limits{MaxDepth: 50, MaxNodes: 1, MaxEdges: 2000},
		ExpectTruncated: true,
		RequiredNodes:   []string{root},
	}}

	mt := httpmock.NewMockTransport()
	client := graphcheck.NewClient("http://cory.test", "",
		&http.Client{Transport: mt})
	reply := map[string]interface{}{
		"nodes": map[string]interface{}{
			root: map[string]interface{}{"txid": root, "inputs": []interface{}{}},
		},
		"edges":     []interface{}{},
		"root_txid": root,
		"truncated": true,
		"stats":     map[string]int{"node_count": 1},
	}
	mt.RegisterResponder(http.MethodGet, "=~^http://cory.test/api/v1/graph/tx/",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, reply))
	require.NoError(t, check(context.Background(), client, f))

	// The service reports a complete graph where the fixture expects a
	// truncated one.
	reply["truncated"] = false
	mt.Reset()
	mt.RegisterResponder(http.MethodGet, "=~^http://cory.test/api/v1/graph/tx/",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, reply))
	require.ErrorIs(t, check(context.Background(), client, f), errMismatch)
}
