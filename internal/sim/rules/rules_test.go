package rules

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaults_Validate(t *testing.T) {
	r := Defaults()
	if err := r.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if _, ok := r.Unit("warrior"); !ok {
		t.Fatalf("expected warrior unit")
	}
	if i, ok := r.TerrainIndex("water"); !ok || r.Terrains[i].Passable {
		t.Fatalf("expected impassable water terrain")
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "rules.yaml")
	raw := []byte(`
version: "test-1"
map:
  width: 12
  height: 9
max_turns: 40
`)
	if err := os.WriteFile(p, raw, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	r, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if r.Version != "test-1" || r.Map.Width != 12 || r.Map.Height != 9 || r.MaxTurns != 40 {
		t.Fatalf("unexpected rules: version=%s map=%+v max_turns=%d", r.Version, r.Map, r.MaxTurns)
	}
	if len(r.Units) == 0 {
		t.Fatalf("units should keep defaults when not overridden")
	}
}

func TestLoad_RejectsUnknownPrereq(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "rules.yaml")
	raw := []byte(`
techs:
  - id: writing
    cost: 5
    prereqs: [alchemy]
`)
	if err := os.WriteFile(p, raw, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(p); err == nil {
		t.Fatalf("expected unknown prereq to be rejected")
	}
}

func TestDigest_Stable(t *testing.T) {
	a := Defaults().Digest()
	b := Defaults().Digest()
	if a != b || len(a) != 64 {
		t.Fatalf("digest unstable: %s vs %s", a, b)
	}
	r := Defaults()
	r.MaxTurns = 99
	if r.Digest() == a {
		t.Fatalf("digest should change with content")
	}
}

func TestLoad_ShippedConfig(t *testing.T) {
	r, err := Load(filepath.Join("..", "..", "..", "configs", "rules.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if r.Map.Width != 32 || r.Map.Height != 20 || r.PolicySlots != 2 || r.MaxPendingDeals != 4 {
		t.Fatalf("unexpected rules: map=%+v slots=%d deals=%d", r.Map, r.PolicySlots, r.MaxPendingDeals)
	}
	if len(r.Techs) == 0 {
		t.Fatalf("techs should keep defaults")
	}
}

func TestValidate_RejectsNegativeYields(t *testing.T) {
	cases := map[string]func(r *Rules){
		"policy":    func(r *Rules) { r.Policies = append(r.Policies, PolicyDef{ID: "tribute", Cost: 5, Yields: Yields{Gold: -50}}) },
		"district":  func(r *Rules) { r.Districts[0].Yields.Science = -1 },
		"terrain":   func(r *Rules) { r.Terrains[0].Yields.Food = -2 },
		"city_base": func(r *Rules) { r.CityBase.Production = -1 },
		"per_pop":   func(r *Rules) { r.PerPop.Culture = -1 },
	}
	for name, mutate := range cases {
		r := Defaults()
		mutate(r)
		r.Normalize()
		if err := r.Validate(); err == nil || !strings.Contains(err.Error(), "negative") {
			t.Fatalf("%s: expected negative yield rejection, got %v", name, err)
		}
	}
}

func TestLoad_RejectsNegativePolicyYield(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "rules.yaml")
	raw := []byte(`
policies:
  - id: tribute
    cost: 5
    yields: {gold: -50}
`)
	if err := os.WriteFile(p, raw, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(p); err == nil {
		t.Fatalf("expected negative policy yield to be rejected")
	}
}

func TestValidate_CapsUnitMoves(t *testing.T) {
	r := Defaults()
	r.Units[0].Moves = MaxUnitMoves
	if err := r.Validate(); err != nil {
		t.Fatalf("moves at cap rejected: %v", err)
	}
	r.Units[0].Moves = 8
	if err := r.Validate(); err == nil {
		t.Fatalf("expected moves 8 to be rejected")
	}
}
