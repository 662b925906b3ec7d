// Package networks provides the registry of configured EVM networks and the
// selector that tracks which one is active.
//
// The registry is loaded from a YAML file:
//
//	networks:
//	  - name: mainnet
//	    chainId: 1
//	    httpUrl: https://eth-mainnet.g.alchemy.com/v2/${ALCHEMY_API_KEY}
//	    wsUrl: wss://eth-mainnet.g.alchemy.com/v2/${ALCHEMY_API_KEY}
//	    addresses: ["0x6B175474E89094C44Da98b954EedeAC495271d0F"]
//	    topics: [["0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"]]
//
// ${VAR} references are expanded from the environment.
package networks

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"gopkg.in/yaml.v3"
)

// ErrUnknownNetwork is returned when a network name is not registered.
var ErrUnknownNetwork = errors.New("unknown network")

// Filter restricts which logs are fetched and subscribed to.
// Empty fields match everything.
type Filter struct {
	Addresses []common.Address
	// Topics follows eth_getLogs semantics: position i matches any of Topics[i];
	// an empty position is a wildcard.
	Topics [][]common.Hash
}

// Network describes one remote chain the log feed can follow.
type Network struct {
	Name         string
	ChainID      int64
	HTTPURL      string
	WebSocketURL string
	Filter       Filter
}

type fileNetwork struct {
	Name      string     `yaml:"name"`
	ChainID   int64      `yaml:"chainId"`
	HTTPURL   string     `yaml:"httpUrl"`
	WSURL     string     `yaml:"wsUrl"`
	Addresses []string   `yaml:"addresses"`
	Topics    [][]string `yaml:"topics"`
}

type fileRegistry struct {
	Networks []fileNetwork `yaml:"networks"`
}

// Registry is an immutable set of networks keyed by name.
type Registry struct {
	networks map[string]Network
	names    []string
}

// LoadRegistry reads and parses a registry file.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read network registry: %w", err)
	}
	return ParseRegistry(data)
}

// ParseRegistry parses registry YAML.
func ParseRegistry(data []byte) (*Registry, error) {
	var file fileRegistry
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &file); err != nil {
		return nil, fmt.Errorf("failed to parse network registry: %w", err)
	}
	if len(file.Networks) == 0 {
		return nil, errors.New("network registry defines no networks")
	}

	nets := make([]Network, 0, len(file.Networks))
	for i, fn := range file.Networks {
		n, err := fn.toNetwork()
		if err != nil {
			return nil, fmt.Errorf("network #%d (%q): %w", i, fn.Name, err)
		}
		nets = append(nets, n)
	}
	return NewRegistry(nets...)
}

// NewRegistry builds a registry from already validated networks.
func NewRegistry(nets ...Network) (*Registry, error) {
	r := &Registry{networks: make(map[string]Network, len(nets))}
	for _, n := range nets {
		if n.Name == "" {
			return nil, errors.New("network name is required")
		}
		if _, dup := r.networks[n.Name]; dup {
			return nil, fmt.Errorf("duplicate network %q", n.Name)
		}
		r.networks[n.Name] = n
		r.names = append(r.names, n.Name)
	}
	slices.Sort(r.names)
	return r, nil
}

// Get returns the named network.
func (r *Registry) Get(name string) (Network, error) {
	n, ok := r.networks[name]
	if !ok {
		return Network{}, fmt.Errorf("%w: %q", ErrUnknownNetwork, name)
	}
	return n, nil
}

// Has reports whether the network is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.networks[name]
	return ok
}

// Names returns the registered network names in sorted order.
func (r *Registry) Names() []string {
	return slices.Clone(r.names)
}

func (fn fileNetwork) toNetwork() (Network, error) {
	if fn.Name == "" {
		return Network{}, errors.New("name is required")
	}
	if fn.HTTPURL == "" {
		return Network{}, errors.New("httpUrl is required")
	}
	if fn.WSURL == "" {
		return Network{}, errors.New("wsUrl is required")
	}

	n := Network{
		Name:         fn.Name,
		ChainID:      fn.ChainID,
		HTTPURL:      fn.HTTPURL,
		WebSocketURL: fn.WSURL,
	}

	for _, a := range fn.Addresses {
		if !common.IsHexAddress(a) {
			return Network{}, fmt.Errorf("invalid address %q", a)
		}
		n.Filter.Addresses = append(n.Filter.Addresses, common.HexToAddress(a))
	}

	for pos, alternatives := range fn.Topics {
		hashes := make([]common.Hash, 0, len(alternatives))
		for _, topic := range alternatives {
			b, err := hexutil.Decode(topic)
			if err != nil || len(b) != common.HashLength {
				return Network{}, fmt.Errorf("invalid topic %q at position %d", topic, pos)
			}
			hashes = append(hashes, common.BytesToHash(b))
		}
		n.Filter.Topics = append(n.Filter.Topics, hashes)
	}

	return n, nil
}
