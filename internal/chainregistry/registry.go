// Copyright 2025 Certen Protocol
//
// Package chainregistry holds the named-network configuration a deployment
// anchors to. Switching the active network is a single atomic pointer swap
// over a copy-on-write map: readers always see a consistent snapshot, and
// there's exactly one writer at a time.
package chainregistry

import (
	"fmt"
	"sync/atomic"
)

// Platform identifies the chain execution strategy a network uses. Only
// PlatformEVM has a working client (internal/chainclient); the rest are
// carried as declared-but-disabled platforms so the registry shape
// survives without requiring live non-EVM SDKs.
type Platform string

const (
	PlatformEVM      Platform = "evm"
	PlatformCosmWasm Platform = "cosmwasm"
	PlatformSolana   Platform = "solana"
	PlatformMove     Platform = "move"
	PlatformTON      Platform = "ton"
	PlatformNEAR     Platform = "near"
)

// Deployment is the per-network anchor contract deployment record.
type Deployment struct {
	ContractAddress string
	DeployedAtBlock uint64
}

// Network is a named blockchain endpoint plus its deployment record.
type Network struct {
	Name             string
	Platform         Platform
	ChainID          string
	RPCURL           string
	NativeDecimals   int
	ExplorerBase     string
	Deployment       Deployment
	Enabled          bool
}

type snapshot struct {
	networks map[string]*Network
	active   string
}

// Registry is the single-writer/multi-reader chain registry.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// New builds a Registry seeded with networks, with active as the default
// selection. active must name one of networks.
func New(networks []*Network, active string) (*Registry, error) {
	m := make(map[string]*Network, len(networks))
	for _, n := range networks {
		m[n.Name] = n
	}
	if _, ok := m[active]; !ok {
		return nil, fmt.Errorf("chainregistry: active network %q not present", active)
	}
	r := &Registry{}
	r.snap.Store(&snapshot{networks: m, active: active})
	return r, nil
}

// Get returns the named network's configuration.
func (r *Registry) Get(name string) (*Network, bool) {
	s := r.snap.Load()
	n, ok := s.networks[name]
	return n, ok
}

// List returns all configured networks.
func (r *Registry) List() []*Network {
	s := r.snap.Load()
	out := make([]*Network, 0, len(s.networks))
	for _, n := range s.networks {
		out = append(out, n)
	}
	return out
}

// Active returns the currently active network.
func (r *Registry) Active() (*Network, bool) {
	s := r.snap.Load()
	n, ok := s.networks[s.active]
	return n, ok
}

// SetActive atomically switches the active network name. The switch is a
// single write: readers either see the old or the new active name, never a
// partial state.
func (r *Registry) SetActive(name string) error {
	old := r.snap.Load()
	if _, ok := old.networks[name]; !ok {
		return fmt.Errorf("chainregistry: unknown network %q", name)
	}
	next := &snapshot{networks: old.networks, active: name}
	r.snap.Store(next)
	return nil
}

// Upsert atomically installs or replaces a network's configuration without
// disturbing the active selection. It copies the network map so concurrent
// readers of the prior snapshot are unaffected (copy-on-write).
func (r *Registry) Upsert(n *Network) {
	old := r.snap.Load()
	next := &snapshot{networks: make(map[string]*Network, len(old.networks)+1), active: old.active}
	for k, v := range old.networks {
		next.networks[k] = v
	}
	next.networks[n.Name] = n
	r.snap.Store(next)
}

// SetDeployment records the anchor contract deployment for a network.
func (r *Registry) SetDeployment(name string, d Deployment) error {
	old := r.snap.Load()
	n, ok := old.networks[name]
	if !ok {
		return fmt.Errorf("chainregistry: unknown network %q", name)
	}
	updated := *n
	updated.Deployment = d
	r.Upsert(&updated)
	return nil
}
