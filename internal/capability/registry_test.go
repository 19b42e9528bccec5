package capability

import (
	"testing"

	"github.com/peagelabs/peage/internal/config"
)

func TestNewRegistryDefaults(t *testing.T) {
	r := NewRegistry(nil)

	if len(r.List()) != len(Defaults()) {
		t.Fatalf("expected %d default capabilities, got %d", len(Defaults()), len(r.List()))
	}

	c, ok := r.Get("oracle")
	if !ok {
		t.Fatal("expected oracle capability in defaults")
	}
	if c.PriceUSD != 0.02 {
		t.Errorf("expected oracle price 0.02, got %v", c.PriceUSD)
	}
	if len(c.Prefixes) == 0 || c.Prefixes[0] != "/capability/oracle/" {
		t.Errorf("expected oracle prefix /capability/oracle/, got %v", c.Prefixes)
	}
}

func TestNewRegistryFromConfig(t *testing.T) {
	r := NewRegistry([]config.CapabilityConfig{
		{ID: "oracle", Name: "Custom Oracle", PriceUSD: 0.09, Payee: "0xdead", Prefixes: []string{"/p/"}},
		{ID: "", Name: "ignored"},
		{ID: "oracle", Name: "duplicate, dropped"},
	})

	caps := r.List()
	if len(caps) != 1 {
		t.Fatalf("expected 1 capability, got %d", len(caps))
	}
	if caps[0].Name != "Custom Oracle" {
		t.Errorf("expected first declaration to win, got %q", caps[0].Name)
	}

	if _, ok := r.Get("wallet"); ok {
		t.Error("config-declared registry must not include defaults")
	}
}
