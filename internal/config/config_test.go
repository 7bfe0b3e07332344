// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/vbank/txs"
)

const testPubKey = "02a1633cafcc01ebfb6d78e39f687a1f0995c62fc95f51ead10a02ee0be551b5dc"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vbank.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
databasePath: "/var/lib/vbank"
metricsPort: 9100
tracingExporter: stdout
chains:
  - chainId: 1
    addressPrefix: "tvb"
    timeSkew: "10m"
    maxBankMembers: 7
    seeds:
      - agentAddress: "seed-0"
        publicKey: "`+testPubKey+`"
    stakingAssets:
      - chainId: 1
        assetId: 1
        minDeposit: 100
        cap: 5000
    candidates:
      - agentAddress: "agent-0"
        packingAddress: "tvb1xyz"
        publicKey: "`+testPubKey+`"
        stake: 400
    signer:
      address: "tvb1xyz"
      publicKey: "`+testPubKey+`"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/vbank", cfg.DatabasePath)
	assert.Equal(t, uint(9100), cfg.MetricsPort)
	assert.Equal(t, TracingStdout, cfg.TracingExporter)
	// Defaults survive for keys the file leaves out
	assert.Equal(t, DefaultBlobPlugin, cfg.BlobPlugin)
	assert.Equal(t, DefaultShutdownTimeout, cfg.ShutdownTimeout)
	assert.Same(t, cfg, GetConfig())

	require.Len(t, cfg.Chains, 1)
	chain, err := cfg.Chains[0].LedgerConfig()
	require.NoError(t, err)
	assert.Equal(t, uint16(1), chain.ChainID)
	assert.Equal(t, 10*time.Minute, chain.TimeSkew)
	assert.Equal(t, 7, chain.MaxBankMembers)
	require.Len(t, chain.Seeds, 1)
	assert.Len(t, chain.Seeds[0].SignPublicKey, 33)
	asset, ok := chain.StakingAsset(txs.NewAssetRef(1, 1))
	require.True(t, ok)
	assert.Equal(t, uint64(5000), asset.Cap)

	cands, err := cfg.Chains[0].CandidateList()
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, uint64(400), cands[0].Stake)
	signer, err := cfg.Chains[0].SignIdentity()
	require.NoError(t, err)
	require.NotNil(t, signer)
	assert.Equal(t, "tvb1xyz", signer.Address)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := writeConfig(t, "databasePath: /from/file\n")
	t.Setenv("VBANK_DATABASE_PATH", "/from/env")
	t.Setenv("VBANK_DATABASE_BLOB_PLUGIN", "custom")
	t.Setenv("VBANK_METRICS_PORT", "9200")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.DatabasePath)
	assert.Equal(t, "custom", cfg.BlobPlugin)
	assert.Equal(t, uint(9200), cfg.MetricsPort)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{
			name: "duplicate chain",
			content: `
chains:
  - chainId: 1
    seeds: [{agentAddress: a, publicKey: "`+testPubKey+`"}]
  - chainId: 1
    seeds: [{agentAddress: a, publicKey: "`+testPubKey+`"}]
`,
			wantErr: ErrDuplicateChain,
		},
		{
			name:    "no seeds",
			content: "chains:\n  - chainId: 2\n",
			wantErr: ErrNoSeeds,
		},
		{
			name: "bad key",
			content: `
chains:
  - chainId: 3
    seeds: [{agentAddress: a, publicKey: "zz"}]
`,
		},
		{
			name:    "bad duration",
			content: "shutdownTimeout: soon\n",
		},
		{
			name:    "bad exporter",
			content: "tracingExporter: jaeger\n",
		},
		{
			name:    "bad yaml",
			content: "chains: [\n",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.content))
			require.Error(t, err)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}

func TestContext(t *testing.T) {
	cfg := defaultConfig()
	ctx := WithContext(t.Context(), cfg)
	assert.Same(t, cfg, FromContext(ctx))
	assert.Nil(t, FromContext(t.Context()))
}
