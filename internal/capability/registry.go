// Package capability holds the static registry of metered capabilities: the
// pay-per-call endpoints the orchestrator may invoke on behalf of the model.
package capability

import "github.com/peagelabs/peage/internal/config"

// Capability describes one externally metered, read-only operation.
type Capability struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	PriceUSD    float64  `json:"price_usd"`
	Payee       string   `json:"payee"`
	Network     string   `json:"network"`
	BaseURL     string   `json:"-"`
	Prefixes    []string `json:"prefixes"`
}

// Registry is an immutable lookup of capabilities by agent ID. It is built
// once at startup from configuration; there is no runtime mutation.
type Registry struct {
	byID  map[string]Capability
	order []string
}

// NewRegistry builds a registry from config entries, falling back to the
// built-in defaults when none are declared.
func NewRegistry(entries []config.CapabilityConfig) *Registry {
	caps := fromConfig(entries)
	if len(caps) == 0 {
		caps = Defaults()
	}

	r := &Registry{byID: make(map[string]Capability, len(caps))}
	for _, c := range caps {
		if _, dup := r.byID[c.ID]; dup {
			continue
		}
		r.byID[c.ID] = c
		r.order = append(r.order, c.ID)
	}
	return r
}

// Get returns the capability for the given agent ID.
func (r *Registry) Get(id string) (Capability, bool) {
	c, ok := r.byID[id]
	return c, ok
}

// List returns all capabilities in declaration order.
func (r *Registry) List() []Capability {
	out := make([]Capability, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

func fromConfig(entries []config.CapabilityConfig) []Capability {
	var caps []Capability
	for _, e := range entries {
		if e.ID == "" {
			continue
		}
		caps = append(caps, Capability{
			ID:          e.ID,
			Name:        e.Name,
			Description: e.Description,
			PriceUSD:    e.PriceUSD,
			Payee:       e.Payee,
			Network:     e.Network,
			BaseURL:     e.BaseURL,
			Prefixes:    e.Prefixes,
		})
	}
	return caps
}

// Defaults returns the built-in demo capability set. Payees are the
// facilitator-registered settlement addresses for each provider.
func Defaults() []Capability {
	return []Capability{
		{
			ID:          "oracle",
			Name:        "Oracle Price Lookup",
			Description: "Spot prices and 24h stats for major crypto assets.",
			PriceUSD:    0.02,
			Payee:       "0xA11CE00000000000000000000000000000000001",
			Network:     "base",
			BaseURL:     "https://oracle.peage.dev",
			Prefixes:    []string{"/capability/oracle/"},
		},
		{
			ID:          "wallet",
			Name:        "Wallet Analytics",
			Description: "Holdings, PnL and activity breakdown for a wallet address.",
			PriceUSD:    0.05,
			Payee:       "0xA11CE00000000000000000000000000000000002",
			Network:     "base",
			BaseURL:     "https://wallet.peage.dev",
			Prefixes:    []string{"/capability/wallet/"},
		},
		{
			ID:          "news",
			Name:        "Crypto News",
			Description: "Curated market headlines with sentiment tags.",
			PriceUSD:    0.01,
			Payee:       "0xA11CE00000000000000000000000000000000003",
			Network:     "base",
			BaseURL:     "https://news.peage.dev",
			Prefixes:    []string{"/capability/news/"},
		},
		{
			ID:          "yields",
			Name:        "Yield Rates",
			Description: "Current lending and staking yields across venues.",
			PriceUSD:    0.03,
			Payee:       "0xA11CE00000000000000000000000000000000004",
			Network:     "base",
			BaseURL:     "https://yields.peage.dev",
			Prefixes:    []string{"/capability/yields/"},
		},
		{
			ID:          "nft",
			Name:        "NFT Collection Stats",
			Description: "Floor, volume and holder stats for NFT collections.",
			PriceUSD:    0.04,
			Payee:       "0xA11CE00000000000000000000000000000000005",
			Network:     "base",
			BaseURL:     "https://nft.peage.dev",
			Prefixes:    []string{"/capability/nft/"},
		},
	}
}
