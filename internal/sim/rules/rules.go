package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Rules struct {
	Version string `yaml:"version" json:"version"`

	Map MapRules `yaml:"map" json:"map"`

	Terrains  []TerrainDef  `yaml:"terrains" json:"terrains"`
	Units     []UnitDef     `yaml:"units" json:"units"`
	Districts []DistrictDef `yaml:"districts" json:"districts"`
	Techs     []TechDef     `yaml:"techs" json:"techs"`
	Policies  []PolicyDef   `yaml:"policies" json:"policies"`

	PolicySlots int `yaml:"policy_slots" json:"policy_slots"`
	CityRadius  int `yaml:"city_radius" json:"city_radius"`
	SightRadius int `yaml:"sight_radius" json:"sight_radius"`

	StartResources Resources `yaml:"start_resources" json:"start_resources"`
	StartUnits     []string  `yaml:"start_units" json:"start_units"`
	StartTechs     []string  `yaml:"start_techs" json:"start_techs"`

	CityBase   Yields `yaml:"city_base" json:"city_base"`
	PerPop     Yields `yaml:"per_pop" json:"per_pop"`
	FoodPerPop int    `yaml:"food_per_pop" json:"food_per_pop"`
	Growth     Growth `yaml:"growth" json:"growth"`
	Combat     Combat `yaml:"combat" json:"combat"`
	Heal       Heal   `yaml:"heal" json:"heal"`

	MaxPendingDeals int `yaml:"max_pending_deals" json:"max_pending_deals"`
	DealExpiryTurns int `yaml:"deal_expiry_turns" json:"deal_expiry_turns"`
	// MaxTurns ends the match once reached; 0 disables the limit.
	MaxTurns int `yaml:"max_turns" json:"max_turns"`

	terrainIdx  map[string]int
	unitIdx     map[string]int
	districtIdx map[string]int
	techIdx     map[string]int
	policyIdx   map[string]int
}

type MapRules struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
	// RegionSize groups tiles so terrain forms patches instead of noise.
	RegionSize int `yaml:"region_size" json:"region_size"`
	// RegionPermille is the share of tiles that follow their region's terrain.
	RegionPermille int `yaml:"region_permille" json:"region_permille"`
}

type TerrainDef struct {
	ID       string `yaml:"id" json:"id"`
	Passable bool   `yaml:"passable" json:"passable"`
	MoveCost int    `yaml:"move_cost" json:"move_cost"`
	Weight   int    `yaml:"weight" json:"weight"`
	Yields   Yields `yaml:"yields" json:"yields"`
	// DefensePermille is added to a defender's strength on this terrain.
	DefensePermille int `yaml:"defense_permille" json:"defense_permille"`
}

type UnitDef struct {
	ID           string `yaml:"id" json:"id"`
	Combat       bool   `yaml:"combat" json:"combat"`
	Strength     int    `yaml:"strength" json:"strength"`
	Moves        int    `yaml:"moves" json:"moves"`
	Cost         int    `yaml:"cost" json:"cost"`
	Upkeep       int    `yaml:"upkeep" json:"upkeep"`
	RequiresTech string `yaml:"requires_tech,omitempty" json:"requires_tech,omitempty"`
}

type DistrictDef struct {
	ID           string `yaml:"id" json:"id"`
	Cost         int    `yaml:"cost" json:"cost"`
	RequiresTech string `yaml:"requires_tech,omitempty" json:"requires_tech,omitempty"`
	Yields       Yields `yaml:"yields" json:"yields"`
}

type TechDef struct {
	ID      string   `yaml:"id" json:"id"`
	Cost    int      `yaml:"cost" json:"cost"`
	Prereqs []string `yaml:"prereqs,omitempty" json:"prereqs,omitempty"`
}

type PolicyDef struct {
	ID     string `yaml:"id" json:"id"`
	Cost   int    `yaml:"cost" json:"cost"`
	Yields Yields `yaml:"yields" json:"yields"`
}

type Resources struct {
	Gold       int64 `yaml:"gold" json:"gold"`
	Production int64 `yaml:"production" json:"production"`
	Science    int64 `yaml:"science" json:"science"`
	Culture    int64 `yaml:"culture" json:"culture"`
}

type Yields struct {
	Food       int `yaml:"food" json:"food"`
	Production int `yaml:"production" json:"production"`
	Gold       int `yaml:"gold" json:"gold"`
	Science    int `yaml:"science" json:"science"`
	Culture    int `yaml:"culture" json:"culture"`
}

func (y Yields) Add(o Yields) Yields {
	return Yields{
		Food:       y.Food + o.Food,
		Production: y.Production + o.Production,
		Gold:       y.Gold + o.Gold,
		Science:    y.Science + o.Science,
		Culture:    y.Culture + o.Culture,
	}
}

// Negative reports the name of the first negative component, if any.
func (y Yields) Negative() (string, bool) {
	switch {
	case y.Food < 0:
		return "food", true
	case y.Production < 0:
		return "production", true
	case y.Gold < 0:
		return "gold", true
	case y.Science < 0:
		return "science", true
	case y.Culture < 0:
		return "culture", true
	}
	return "", false
}

func (y Yields) Scale(n int) Yields {
	return Yields{
		Food:       y.Food * n,
		Production: y.Production * n,
		Gold:       y.Gold * n,
		Science:    y.Science * n,
		Culture:    y.Culture * n,
	}
}

type Growth struct {
	BaseCost int `yaml:"base_cost" json:"base_cost"`
	PerPop   int `yaml:"per_pop" json:"per_pop"`
}

type Combat struct {
	BaseDamage int `yaml:"base_damage" json:"base_damage"`
	MinDamage  int `yaml:"min_damage" json:"min_damage"`
	MaxDamage  int `yaml:"max_damage" json:"max_damage"`
	// DamagePerStrength scales the attacker/defender strength difference.
	DamagePerStrength    int `yaml:"damage_per_strength" json:"damage_per_strength"`
	FortifyBonusPermille int `yaml:"fortify_bonus_permille" json:"fortify_bonus_permille"`
	// RollPermille is the +/- spread of the seeded damage roll.
	RollPermille int `yaml:"roll_permille" json:"roll_permille"`
}

type Heal struct {
	Fortified int `yaml:"fortified" json:"fortified"`
	Idle      int `yaml:"idle" json:"idle"`
}

// Load reads a rules file on top of the defaults. An empty path yields the
// defaults unchanged.
func Load(path string) (*Rules, error) {
	r := Defaults()
	if strings.TrimSpace(path) == "" {
		return r, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(raw, r); err != nil {
		return nil, fmt.Errorf("rules.yaml: %w", err)
	}
	r.Normalize()
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("rules.yaml: %w", err)
	}
	return r, nil
}

func (r *Rules) Normalize() {
	if r.Map.Width <= 0 {
		r.Map.Width = 32
	}
	if r.Map.Height <= 0 {
		r.Map.Height = 20
	}
	if r.Map.RegionSize <= 0 {
		r.Map.RegionSize = 4
	}
	if r.Map.RegionPermille < 0 || r.Map.RegionPermille > 1000 {
		r.Map.RegionPermille = 700
	}
	if r.CityRadius <= 0 {
		r.CityRadius = 2
	}
	if r.SightRadius <= 0 {
		r.SightRadius = 2
	}
	if r.FoodPerPop <= 0 {
		r.FoodPerPop = 2
	}
	if r.Growth.BaseCost <= 0 {
		r.Growth.BaseCost = 10
	}
	if r.MaxPendingDeals <= 0 {
		r.MaxPendingDeals = 4
	}
	if r.DealExpiryTurns <= 0 {
		r.DealExpiryTurns = 5
	}
	if r.Combat.MinDamage <= 0 {
		r.Combat.MinDamage = 1
	}
	if r.Combat.MaxDamage < r.Combat.MinDamage {
		r.Combat.MaxDamage = r.Combat.MinDamage
	}
	for i := range r.Terrains {
		if r.Terrains[i].MoveCost <= 0 {
			r.Terrains[i].MoveCost = 1
		}
	}
	r.reindex()
}

func (r *Rules) reindex() {
	r.terrainIdx = make(map[string]int, len(r.Terrains))
	for i, t := range r.Terrains {
		r.terrainIdx[t.ID] = i
	}
	r.unitIdx = make(map[string]int, len(r.Units))
	for i, u := range r.Units {
		r.unitIdx[u.ID] = i
	}
	r.districtIdx = make(map[string]int, len(r.Districts))
	for i, d := range r.Districts {
		r.districtIdx[d.ID] = i
	}
	r.techIdx = make(map[string]int, len(r.Techs))
	for i, t := range r.Techs {
		r.techIdx[t.ID] = i
	}
	r.policyIdx = make(map[string]int, len(r.Policies))
	for i, p := range r.Policies {
		r.policyIdx[p.ID] = i
	}
}

// MaxUnitMoves bounds UnitDef.Moves; move enumeration walks every path.
const MaxUnitMoves = 4

func checkYields(what string, y Yields) error {
	if f, ok := y.Negative(); ok {
		return fmt.Errorf("%s: negative %s yield", what, f)
	}
	return nil
}

func (r *Rules) Validate() error {
	if strings.TrimSpace(r.Version) == "" {
		return fmt.Errorf("missing version")
	}
	if len(r.Terrains) == 0 || len(r.Terrains) > 255 {
		return fmt.Errorf("terrains: need 1..255 entries, have %d", len(r.Terrains))
	}
	passable := 0
	weight := 0
	for _, t := range r.Terrains {
		if t.Weight < 0 {
			return fmt.Errorf("terrain %s: negative weight", t.ID)
		}
		weight += t.Weight
		if t.Passable && t.Weight > 0 {
			passable++
		}
	}
	for _, t := range r.Terrains {
		if err := checkYields("terrain "+t.ID, t.Yields); err != nil {
			return err
		}
	}
	if err := checkYields("city_base", r.CityBase); err != nil {
		return err
	}
	if err := checkYields("per_pop", r.PerPop); err != nil {
		return err
	}
	if passable == 0 || weight == 0 {
		return fmt.Errorf("terrains: no passable terrain can be generated")
	}
	if err := uniqueIDs("terrain", len(r.Terrains), func(i int) string { return r.Terrains[i].ID }); err != nil {
		return err
	}
	if err := uniqueIDs("unit", len(r.Units), func(i int) string { return r.Units[i].ID }); err != nil {
		return err
	}
	if err := uniqueIDs("district", len(r.Districts), func(i int) string { return r.Districts[i].ID }); err != nil {
		return err
	}
	if err := uniqueIDs("tech", len(r.Techs), func(i int) string { return r.Techs[i].ID }); err != nil {
		return err
	}
	if err := uniqueIDs("policy", len(r.Policies), func(i int) string { return r.Policies[i].ID }); err != nil {
		return err
	}
	for _, u := range r.Units {
		if u.Moves <= 0 || u.Cost < 0 || u.Upkeep < 0 {
			return fmt.Errorf("unit %s: moves must be positive, cost/upkeep non-negative", u.ID)
		}
		if u.Moves > MaxUnitMoves {
			return fmt.Errorf("unit %s: moves %d exceeds %d", u.ID, u.Moves, MaxUnitMoves)
		}
		if u.RequiresTech != "" && !r.HasTech(u.RequiresTech) {
			return fmt.Errorf("unit %s: unknown tech %s", u.ID, u.RequiresTech)
		}
	}
	for _, d := range r.Districts {
		if d.Cost < 0 {
			return fmt.Errorf("district %s: negative cost", d.ID)
		}
		if err := checkYields("district "+d.ID, d.Yields); err != nil {
			return err
		}
		if d.RequiresTech != "" && !r.HasTech(d.RequiresTech) {
			return fmt.Errorf("district %s: unknown tech %s", d.ID, d.RequiresTech)
		}
	}
	for _, t := range r.Techs {
		if t.Cost <= 0 {
			return fmt.Errorf("tech %s: cost must be positive", t.ID)
		}
		for _, p := range t.Prereqs {
			if !r.HasTech(p) {
				return fmt.Errorf("tech %s: unknown prereq %s", t.ID, p)
			}
		}
	}
	for _, p := range r.Policies {
		if p.Cost < 0 {
			return fmt.Errorf("policy %s: negative cost", p.ID)
		}
		if err := checkYields("policy "+p.ID, p.Yields); err != nil {
			return err
		}
	}
	for _, id := range r.StartUnits {
		if _, ok := r.Unit(id); !ok {
			return fmt.Errorf("start_units: unknown unit %s", id)
		}
	}
	for _, id := range r.StartTechs {
		if !r.HasTech(id) {
			return fmt.Errorf("start_techs: unknown tech %s", id)
		}
	}
	if r.StartResources.Gold < 0 || r.StartResources.Production < 0 || r.StartResources.Science < 0 || r.StartResources.Culture < 0 {
		return fmt.Errorf("start_resources must be non-negative")
	}
	if r.PolicySlots < 0 {
		return fmt.Errorf("policy_slots must be non-negative")
	}
	return nil
}

func uniqueIDs(kind string, n int, id func(int) string) error {
	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		v := id(i)
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%s #%d: empty id", kind, i)
		}
		if seen[v] {
			return fmt.Errorf("%s %s: duplicate id", kind, v)
		}
		seen[v] = true
	}
	return nil
}

// TerrainIndex returns the index used to store a terrain in the map grid.
func (r *Rules) TerrainIndex(id string) (int, bool) {
	i, ok := r.terrainIdx[id]
	return i, ok
}

func (r *Rules) Terrain(i byte) (TerrainDef, bool) {
	if int(i) >= len(r.Terrains) {
		return TerrainDef{}, false
	}
	return r.Terrains[i], true
}

func (r *Rules) Unit(id string) (UnitDef, bool) {
	i, ok := r.unitIdx[id]
	if !ok {
		return UnitDef{}, false
	}
	return r.Units[i], true
}

func (r *Rules) District(id string) (DistrictDef, bool) {
	i, ok := r.districtIdx[id]
	if !ok {
		return DistrictDef{}, false
	}
	return r.Districts[i], true
}

func (r *Rules) Tech(id string) (TechDef, bool) {
	i, ok := r.techIdx[id]
	if !ok {
		return TechDef{}, false
	}
	return r.Techs[i], true
}

func (r *Rules) HasTech(id string) bool {
	_, ok := r.techIdx[id]
	return ok
}

func (r *Rules) Policy(id string) (PolicyDef, bool) {
	i, ok := r.policyIdx[id]
	if !ok {
		return PolicyDef{}, false
	}
	return r.Policies[i], true
}

// Digest is the sha256 of the canonical JSON form of the rules.
func (r *Rules) Digest() string {
	b, _ := json.Marshal(r)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
