package rules

// Defaults is the built-in ruleset. Rules files override it field by field;
// list fields (terrains, units, ...) are replaced wholesale.
func Defaults() *Rules {
	r := &Rules{
		Version: "0.1.0",
		Map: MapRules{
			Width:          32,
			Height:         20,
			RegionSize:     4,
			RegionPermille: 700,
		},
		Terrains: []TerrainDef{
			{ID: "grassland", Passable: true, MoveCost: 1, Weight: 30, Yields: Yields{Food: 2}},
			{ID: "plains", Passable: true, MoveCost: 1, Weight: 30, Yields: Yields{Food: 1, Production: 1}},
			{ID: "hills", Passable: true, MoveCost: 2, Weight: 12, Yields: Yields{Production: 2}, DefensePermille: 250},
			{ID: "forest", Passable: true, MoveCost: 2, Weight: 12, Yields: Yields{Food: 1, Production: 1}, DefensePermille: 250},
			{ID: "desert", Passable: true, MoveCost: 1, Weight: 6},
			{ID: "mountain", Passable: false, MoveCost: 1, Weight: 5},
			{ID: "water", Passable: false, MoveCost: 1, Weight: 5, Yields: Yields{Food: 1, Gold: 1}},
		},
		Units: []UnitDef{
			{ID: "warrior", Combat: true, Strength: 20, Moves: 2, Cost: 10, Upkeep: 1},
			{ID: "scout", Combat: true, Strength: 10, Moves: 3, Cost: 8, Upkeep: 1},
			{ID: "worker", Combat: false, Strength: 0, Moves: 2, Cost: 8, Upkeep: 0},
			{ID: "settler", Combat: false, Strength: 0, Moves: 2, Cost: 25, Upkeep: 1, RequiresTech: "pottery"},
			{ID: "archer", Combat: true, Strength: 25, Moves: 2, Cost: 18, Upkeep: 1, RequiresTech: "archery"},
			{ID: "swordsman", Combat: true, Strength: 35, Moves: 2, Cost: 28, Upkeep: 2, RequiresTech: "iron_working"},
		},
		Districts: []DistrictDef{
			{ID: "campus", Cost: 20, RequiresTech: "writing", Yields: Yields{Science: 2}},
			{ID: "market", Cost: 20, RequiresTech: "currency", Yields: Yields{Gold: 3}},
			{ID: "workshop", Cost: 15, RequiresTech: "mining", Yields: Yields{Production: 2}},
			{ID: "farm", Cost: 10, Yields: Yields{Food: 2}},
			{ID: "theater", Cost: 20, RequiresTech: "writing", Yields: Yields{Culture: 2}},
		},
		Techs: []TechDef{
			{ID: "agriculture", Cost: 10},
			{ID: "pottery", Cost: 12, Prereqs: []string{"agriculture"}},
			{ID: "mining", Cost: 12},
			{ID: "archery", Cost: 14, Prereqs: []string{"agriculture"}},
			{ID: "writing", Cost: 16, Prereqs: []string{"pottery"}},
			{ID: "currency", Cost: 18, Prereqs: []string{"writing"}},
			{ID: "bronze_working", Cost: 16, Prereqs: []string{"mining"}},
			{ID: "iron_working", Cost: 22, Prereqs: []string{"bronze_working"}},
		},
		Policies: []PolicyDef{
			{ID: "discipline", Cost: 3, Yields: Yields{Production: 1}},
			{ID: "god_king", Cost: 3, Yields: Yields{Gold: 1, Culture: 1}},
			{ID: "urban_planning", Cost: 5, Yields: Yields{Production: 1, Food: 1}},
			{ID: "inspiration", Cost: 5, Yields: Yields{Science: 2}},
		},
		PolicySlots: 2,
		CityRadius:  2,
		SightRadius: 2,
		StartResources: Resources{
			Gold:       20,
			Production: 10,
			Science:    0,
			Culture:    0,
		},
		StartUnits: []string{"warrior", "worker"},
		StartTechs: []string{"agriculture"},
		CityBase:   Yields{Food: 2, Production: 1, Gold: 2, Science: 1, Culture: 1},
		PerPop:     Yields{Food: 1, Production: 1, Science: 1},
		FoodPerPop: 2,
		Growth:     Growth{BaseCost: 10, PerPop: 5},
		Combat: Combat{
			BaseDamage:           30,
			MinDamage:            5,
			MaxDamage:            80,
			DamagePerStrength:    1,
			FortifyBonusPermille: 250,
			RollPermille:         200,
		},
		Heal:            Heal{Fortified: 15, Idle: 5},
		MaxPendingDeals: 4,
		DealExpiryTurns: 5,
		MaxTurns:        0,
	}
	r.Normalize()
	return r
}
