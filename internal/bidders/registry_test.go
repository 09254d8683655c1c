package bidders

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewAppliesDefaults(t *testing.T) {
	reg, err := New([]Config{
		{Name: "acme", Endpoint: "https://acme.example/bid"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg, ok := reg.Get("acme")
	if !ok {
		t.Fatal("acme not found")
	}
	if cfg.TimeoutMS != 200 {
		t.Errorf("timeout = %d, want 200", cfg.TimeoutMS)
	}
	if len(cfg.Pools) != 1 || cfg.Pools[0] != "default" {
		t.Errorf("pools = %v, want [default]", cfg.Pools)
	}
}

func TestNewRejectsDuplicatesAndEmptyNames(t *testing.T) {
	if _, err := New([]Config{{Name: "a"}, {Name: "a"}}); err == nil {
		t.Error("expected error for duplicate name")
	}
	if _, err := New([]Config{{Name: ""}}); err == nil {
		t.Error("expected error for empty name")
	}
}

func TestFilterByPoolsInsertionOrder(t *testing.T) {
	reg, err := New([]Config{
		{Name: "gamma", Pools: []string{"travel", "gaming"}},
		{Name: "alpha", Pools: []string{"travel"}},
		{Name: "beta", Pools: []string{"electronics"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	got := reg.FilterByPools([]string{"travel"})
	if len(got) != 2 {
		t.Fatalf("expected 2 bidders, got %d", len(got))
	}
	// Insertion order, not alphabetical
	if got[0].Name != "gamma" || got[1].Name != "alpha" {
		t.Errorf("order = %v", Names(got))
	}

	if got := reg.FilterByPools([]string{"automotive"}); len(got) != 0 {
		t.Errorf("expected no bidders, got %v", Names(got))
	}
}

func TestLoadInventory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bidders.yaml")
	content := `
bidders:
  - name: acme
    endpoint: https://acme.example/bid
    public_key: |
      -----BEGIN PUBLIC KEY-----
      MCowBQYDK2VwAyEAGb9ECWmEzf6FQbrBZ9w7lshQhqowtrbLDFw4rXAxZuE=
      -----END PUBLIC KEY-----
    timeout_ms: 150
    pools: [electronics, gaming]
  - name: globex
    endpoint: https://globex.example/bid
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	reg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reg.Count() != 2 {
		t.Fatalf("count = %d", reg.Count())
	}

	acme, _ := reg.Get("acme")
	if acme.TimeoutMS != 150 {
		t.Errorf("timeout = %d", acme.TimeoutMS)
	}
	if !acme.IsSubscribed([]string{"gaming"}) {
		t.Error("acme should subscribe to gaming")
	}
	if acme.IsSubscribed([]string{"default"}) {
		t.Error("acme should not subscribe to default")
	}

	globex, _ := reg.Get("globex")
	if !globex.IsSubscribed([]string{"default"}) {
		t.Error("globex should default to the default pool")
	}
}
