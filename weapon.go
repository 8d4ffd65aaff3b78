package main

// WeaponDef holds the stats for one weapon
type WeaponDef struct {
	Name       string
	Damage     int
	Range      float64
	ProjSpeed  float64
	MaxAmmo    int
	Identifier int
}

var Weapons = [3]WeaponDef{
	{Name: "Plasma Rifle", Damage: 25, Range: 10000, ProjSpeed: 70, MaxAmmo: 50, Identifier: 1},
	{Name: "Quantum Sniper", Damage: 35, Range: 70000, ProjSpeed: 80, MaxAmmo: 20, Identifier: 2},
	{Name: "Fusion Cannon", Damage: 45, Range: 120000, ProjSpeed: 100, MaxAmmo: 7, Identifier: 3},
}

// GetWeaponDef returns the definition for a weapon identifier,
// falling back to the default rifle for unknown ids
func GetWeaponDef(identifier int) WeaponDef {
	for _, w := range Weapons {
		if w.Identifier == identifier {
			return w
		}
	}
	return Weapons[0]
}
