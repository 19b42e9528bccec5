package orchestrator

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/peagelabs/peage/internal/capability"
	"github.com/peagelabs/peage/internal/llm"
)

// Tool names offered to the model. The set is closed: a requested name
// outside this table is rejected, never guessed at.
const (
	ToolOraclePrice     = "oracle_price"
	ToolWalletAnalytics = "wallet_analytics"
	ToolCryptoNews      = "crypto_news"
	ToolYieldRates      = "yield_rates"
	ToolNFTStats        = "nft_stats"
)

// CallPlan is a fully resolved paid call: which capability, which endpoint,
// and what it will cost. Built from a tool-use request before any policy or
// budget check runs.
type CallPlan struct {
	ToolName       string
	CapabilityID   string
	BaseURL        string
	Endpoint       string
	Method         string
	QuotedPriceUSD float64
	Payee          string
	Network        string
}

type planSpec struct {
	capabilityID string
	description  string
	required     []string
	properties   map[string]any
	path         func(args map[string]string) string
}

var planTable = map[string]planSpec{
	ToolOraclePrice: {
		capabilityID: "oracle",
		description:  "Get the current spot price and 24h stats for a crypto asset.",
		required:     []string{"symbol"},
		properties: map[string]any{
			"symbol": map[string]any{"type": "string", "description": "Asset ticker, e.g. BTC or ETH."},
		},
		path: func(args map[string]string) string {
			return "/capability/oracle/price?" + query("symbol", args["symbol"])
		},
	},
	ToolWalletAnalytics: {
		capabilityID: "wallet",
		description:  "Analyze a wallet address: holdings, PnL and recent activity.",
		required:     []string{"address"},
		properties: map[string]any{
			"address": map[string]any{"type": "string", "description": "Wallet address, 0x-prefixed."},
		},
		path: func(args map[string]string) string {
			return "/capability/wallet/analytics?" + query("address", args["address"])
		},
	},
	ToolCryptoNews: {
		capabilityID: "news",
		description:  "Fetch recent crypto news headlines, optionally filtered by topic.",
		properties: map[string]any{
			"topic": map[string]any{"type": "string", "description": "Optional topic filter, e.g. defi or regulation."},
		},
		path: func(args map[string]string) string {
			if args["topic"] == "" {
				return "/capability/news/latest"
			}
			return "/capability/news/latest?" + query("topic", args["topic"])
		},
	},
	ToolYieldRates: {
		capabilityID: "yields",
		description:  "Get current DeFi yield rates, optionally for one asset.",
		properties: map[string]any{
			"asset": map[string]any{"type": "string", "description": "Optional asset filter, e.g. USDC."},
		},
		path: func(args map[string]string) string {
			if args["asset"] == "" {
				return "/capability/yields/rates"
			}
			return "/capability/yields/rates?" + query("asset", args["asset"])
		},
	},
	ToolNFTStats: {
		capabilityID: "nft",
		description:  "Get floor price and volume stats for an NFT collection.",
		required:     []string{"collection"},
		properties: map[string]any{
			"collection": map[string]any{"type": "string", "description": "Collection slug or contract address."},
		},
		path: func(args map[string]string) string {
			return "/capability/nft/stats?" + query("collection", args["collection"])
		},
	},
}

func query(key, value string) string {
	v := url.Values{}
	v.Set(key, value)
	return v.Encode()
}

// BuildTools returns the tool definitions for every capability present in
// the registry, with the price stated in each description so the model can
// weigh cost.
func BuildTools(caps *capability.Registry) []llm.Tool {
	names := []string{ToolOraclePrice, ToolWalletAnalytics, ToolCryptoNews, ToolYieldRates, ToolNFTStats}

	var tools []llm.Tool
	for _, name := range names {
		spec := planTable[name]
		c, ok := caps.Get(spec.capabilityID)
		if !ok {
			continue
		}
		required := spec.required
		if required == nil {
			required = []string{}
		}
		tools = append(tools, llm.Tool{
			Name:        name,
			Description: fmt.Sprintf("%s Costs $%.2f per call.", spec.description, c.PriceUSD),
			InputSchema: map[string]any{
				"type":       "object",
				"properties": spec.properties,
				"required":   required,
			},
		})
	}
	return tools
}

// ResolvePlan turns one tool-use request into a CallPlan. Unknown tool
// names, missing capabilities and missing required arguments are errors.
func ResolvePlan(caps *capability.Registry, toolName string, input json.RawMessage) (CallPlan, error) {
	spec, ok := planTable[toolName]
	if !ok {
		return CallPlan{}, fmt.Errorf("unknown tool %q", toolName)
	}
	c, ok := caps.Get(spec.capabilityID)
	if !ok {
		return CallPlan{}, fmt.Errorf("capability %q not registered", spec.capabilityID)
	}

	args := map[string]string{}
	if len(input) > 0 {
		var raw map[string]any
		if err := json.Unmarshal(input, &raw); err != nil {
			return CallPlan{}, fmt.Errorf("parsing tool input: %w", err)
		}
		for k, v := range raw {
			if s, ok := v.(string); ok {
				args[k] = strings.TrimSpace(s)
			}
		}
	}
	for _, req := range spec.required {
		if args[req] == "" {
			return CallPlan{}, fmt.Errorf("tool %q requires %q", toolName, req)
		}
	}

	return CallPlan{
		ToolName:       toolName,
		CapabilityID:   c.ID,
		BaseURL:        c.BaseURL,
		Endpoint:       spec.path(args),
		Method:         http.MethodGet,
		QuotedPriceUSD: c.PriceUSD,
		Payee:          c.Payee,
		Network:        c.Network,
	}, nil
}
