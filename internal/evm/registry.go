package evm

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Registry manages a set of EVM clients keyed by human readable chain names.
type Registry struct {
	clients map[string]*Client
}

// NewRegistry dials every configured chain and returns the populated registry.
// Chains without an RPC endpoint are skipped so that a partially configured
// deployment can still serve the chains it knows about.
func NewRegistry(ctx context.Context, configs map[string]Config) (*Registry, error) {
	clients := make(map[string]*Client)
	for name, cfg := range configs {
		if cfg.RPCURL == "" {
			continue
		}
		cfg.Name = name
		client, err := NewClient(ctx, cfg)
		if err != nil {
			for _, ready := range clients {
				ready.Close()
			}
			return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
		}
		clients[name] = client
	}
	return &Registry{clients: clients}, nil
}

// NewStaticRegistry wraps pre-built clients, mainly for tests.
func NewStaticRegistry(clients map[string]*Client) *Registry {
	if clients == nil {
		clients = map[string]*Client{}
	}
	return &Registry{clients: clients}
}

// Client returns the chain client identified by name.
func (r *Registry) Client(name string) (*Client, error) {
	if r == nil {
		return nil, errors.New("未初始化的 EVM 客户端注册表")
	}
	client, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("链 %s 未在注册表中", name)
	}
	return client, nil
}

// Has reports whether the registry holds a client for the chain.
func (r *Registry) Has(name string) bool {
	if r == nil {
		return false
	}
	_, ok := r.clients[name]
	return ok
}

// Chains returns the sorted list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, name)
	}
}
