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
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/blinklabs-io/vbank/committee"
	"github.com/blinklabs-io/vbank/ledger"
	"github.com/blinklabs-io/vbank/txs"
)

type ctxKey string

const configContextKey ctxKey = "vbank.config"

const DefaultShutdownTimeout = "30s"

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

const (
	DefaultBlobPlugin     = "badger"
	DefaultMetadataPlugin = "sqlite"
)

var (
	ErrNoChains       = errors.New("no chains configured")
	ErrDuplicateChain = errors.New("duplicate chain id")
	ErrNoSeeds        = errors.New("chain has no seed members")
)

// TracingExporter selects where spans are sent
type TracingExporter string

const (
	TracingNone   TracingExporter = ""
	TracingOtlp   TracingExporter = "otlp"
	TracingStdout TracingExporter = "stdout"
)

func (e TracingExporter) Valid() bool {
	switch e {
	case TracingNone, TracingOtlp, TracingStdout:
		return true
	default:
		return false
	}
}

type AssetConfig struct {
	ChainID    uint16 `yaml:"chainId"`
	AssetID    uint16 `yaml:"assetId"`
	MinDeposit uint64 `yaml:"minDeposit"`
	Cap        uint64 `yaml:"cap"`
}

type SeedConfig struct {
	AgentAddress  string `yaml:"agentAddress"`
	RewardAddress string `yaml:"rewardAddress"`
	PublicKey     string `yaml:"publicKey"`
}

// CandidateConfig is a statically configured committee candidate
type CandidateConfig struct {
	AgentAddress   string `yaml:"agentAddress"`
	PackingAddress string `yaml:"packingAddress"`
	RewardAddress  string `yaml:"rewardAddress"`
	PublicKey      string `yaml:"publicKey"`
	Stake          uint64 `yaml:"stake"`
	RedCarded      bool   `yaml:"redCarded"`
}

// SignerConfig is the local signing identity on a chain
type SignerConfig struct {
	Address   string `yaml:"address"`
	PublicKey string `yaml:"publicKey"`
}

type ChainConfig struct {
	Signer               *SignerConfig     `yaml:"signer,omitempty"`
	StakingAssets        []AssetConfig     `yaml:"stakingAssets"`
	Seeds                []SeedConfig      `yaml:"seeds"`
	Candidates           []CandidateConfig `yaml:"candidates"`
	AddressPrefix        string            `yaml:"addressPrefix"`
	TimeSkew             string            `yaml:"timeSkew"`
	MaxBankMembers       int               `yaml:"maxBankMembers"`
	ProposalVotingPeriod uint64            `yaml:"proposalVotingPeriod"`
	ArchiveDepth         uint64            `yaml:"archiveDepth"`
	ChainID              uint16            `yaml:"chainId"`
}

type Config struct {
	Chains           []ChainConfig   `yaml:"chains"           ignored:"true"`
	BlobPlugin       string          `yaml:"blobPlugin"       envconfig:"VBANK_DATABASE_BLOB_PLUGIN"`
	MetadataPlugin   string          `yaml:"metadataPlugin"   envconfig:"VBANK_DATABASE_METADATA_PLUGIN"`
	DatabasePath     string          `yaml:"databasePath"                                                split_words:"true"`
	BindAddr         string          `yaml:"bindAddr"                                                    split_words:"true"`
	ShutdownTimeout  string          `yaml:"shutdownTimeout"                                             split_words:"true"`
	OutboxBackoffMax string          `yaml:"outboxBackoffMax"                                            split_words:"true"`
	TracingExporter  TracingExporter `yaml:"tracingExporter"                                             split_words:"true"`
	MetricsPort      uint            `yaml:"metricsPort"                                                 split_words:"true"`
}

func defaultConfig() *Config {
	return &Config{
		BlobPlugin:       DefaultBlobPlugin,
		MetadataPlugin:   DefaultMetadataPlugin,
		DatabasePath:     ".vbank",
		BindAddr:         "0.0.0.0",
		ShutdownTimeout:  DefaultShutdownTimeout,
		OutboxBackoffMax: "1m",
		MetricsPort:      12799,
	}
}

var globalConfig = defaultConfig()

// LoadConfig reads the YAML config file, falling back to ~/.vbank/vbank.yaml
// and /etc/vbank/vbank.yaml, and then applies VBANK_* environment variables
func LoadConfig(configFile string) (*Config, error) {
	cfg := defaultConfig()
	if configFile == "" {
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".vbank", "vbank.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}
		if configFile == "" {
			systemPath := "/etc/vbank/vbank.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}
	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	if err := envconfig.Process("vbank", cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	globalConfig = cfg
	return cfg, nil
}

func GetConfig() *Config {
	return globalConfig
}

// Validate checks the settings that can be checked without opening any
// storage. An empty chain list is allowed so that commands such as version
// run without a config file.
func (c *Config) Validate() error {
	if !c.TracingExporter.Valid() {
		return fmt.Errorf(
			"invalid tracingExporter: %q (must be 'otlp' or 'stdout')",
			c.TracingExporter,
		)
	}
	for _, d := range []struct {
		name  string
		value string
	}{
		{"shutdownTimeout", c.ShutdownTimeout},
		{"outboxBackoffMax", c.OutboxBackoffMax},
	} {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
	}
	seen := make(map[uint16]struct{}, len(c.Chains))
	for _, chain := range c.Chains {
		if _, ok := seen[chain.ChainID]; ok {
			return fmt.Errorf("%w: %d", ErrDuplicateChain, chain.ChainID)
		}
		seen[chain.ChainID] = struct{}{}
		if _, err := chain.LedgerConfig(); err != nil {
			return fmt.Errorf("chain %d: %w", chain.ChainID, err)
		}
	}
	return nil
}

// LedgerConfig converts the chain section into the protocol configuration
func (c ChainConfig) LedgerConfig() (ledger.ChainConfig, error) {
	ret := ledger.ChainConfig{
		ChainID:              c.ChainID,
		AddressPrefix:        c.AddressPrefix,
		MaxBankMembers:       c.MaxBankMembers,
		ProposalVotingPeriod: c.ProposalVotingPeriod,
		ArchiveDepth:         c.ArchiveDepth,
	}
	if c.ChainID == 0 {
		return ret, errors.New("chain id must not be zero")
	}
	if len(c.Seeds) == 0 {
		return ret, ErrNoSeeds
	}
	if c.TimeSkew != "" {
		skew, err := time.ParseDuration(c.TimeSkew)
		if err != nil {
			return ret, fmt.Errorf("invalid timeSkew: %w", err)
		}
		ret.TimeSkew = skew
	}
	for _, s := range c.Seeds {
		pubKey, err := decodeKey(s.PublicKey)
		if err != nil {
			return ret, fmt.Errorf("seed %s: %w", s.AgentAddress, err)
		}
		ret.Seeds = append(ret.Seeds, committee.Seed{
			AgentAddress:  s.AgentAddress,
			RewardAddress: s.RewardAddress,
			SignPublicKey: pubKey,
		})
	}
	for _, a := range c.StakingAssets {
		ret.StakingAssets = append(ret.StakingAssets, ledger.StakingAsset{
			Asset:      txs.NewAssetRef(a.ChainID, a.AssetID),
			MinDeposit: a.MinDeposit,
			Cap:        a.Cap,
		})
	}
	return ret, nil
}

// CandidateList returns the statically configured candidates
func (c ChainConfig) CandidateList() ([]committee.CandidateInfo, error) {
	ret := make([]committee.CandidateInfo, 0, len(c.Candidates))
	for _, cand := range c.Candidates {
		pubKey, err := decodeKey(cand.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("candidate %s: %w", cand.AgentAddress, err)
		}
		ret = append(ret, committee.CandidateInfo{
			AgentAddress:   cand.AgentAddress,
			PackingAddress: cand.PackingAddress,
			RewardAddress:  cand.RewardAddress,
			SignPublicKey:  pubKey,
			Stake:          cand.Stake,
			RedCarded:      cand.RedCarded,
		})
	}
	return ret, nil
}

// SignIdentity returns the local signer, or nil when the node does not sign
// on this chain
func (c ChainConfig) SignIdentity() (*committee.SignIdentity, error) {
	if c.Signer == nil {
		return nil, nil
	}
	pubKey, err := decodeKey(c.Signer.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}
	return &committee.SignIdentity{
		Address:   c.Signer.Address,
		PublicKey: pubKey,
	}, nil
}

func decodeKey(s string) ([]byte, error) {
	if s == "" {
		return nil, errors.New("missing public key")
	}
	ret, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}
	return ret, nil
}
