// Package servers validates FFXIV world names and expands datacenter names
// to their member worlds. The topology and default world are injected at
// construction so tests and deployments can swap them.
package servers

import (
	"sort"

	"github.com/ffxiv-tools/marketboard-backend/internal/models"
)

// Set is an enumerated set of valid world names grouped into datacenters,
// with one designated default world.
type Set struct {
	datacenters  map[string][]string
	worlds       map[string]bool
	defaultWorld string
}

// New builds a Set from a datacenter -> worlds map and a default world.
// The default must be a member of one of the datacenters.
func New(datacenters map[string][]string, defaultWorld string) (*Set, error) {
	worlds := make(map[string]bool)
	for _, members := range datacenters {
		for _, world := range members {
			worlds[world] = true
		}
	}
	if !worlds[defaultWorld] {
		return nil, models.NewInvalidArgument("default world %q is not in any datacenter", defaultWorld)
	}
	return &Set{
		datacenters:  datacenters,
		worlds:       worlds,
		defaultWorld: defaultWorld,
	}, nil
}

// Validate checks every name against the known worlds. An empty input
// yields the default world; otherwise the input comes back unchanged,
// order and duplicates preserved.
func (s *Set) Validate(worlds []string) ([]string, error) {
	for _, world := range worlds {
		if !s.worlds[world] {
			return nil, models.NewInvalidArgument("server %s is not a valid server name", world)
		}
	}
	if len(worlds) == 0 {
		return []string{s.defaultWorld}, nil
	}
	return worlds, nil
}

// Resolve expands a datacenter name to its member worlds, or a world name
// to a one-element list. The second return is false when the name matches
// neither.
func (s *Set) Resolve(nameOrDatacenter string) ([]string, bool) {
	if members, ok := s.datacenters[nameOrDatacenter]; ok {
		out := make([]string, len(members))
		copy(out, members)
		return out, true
	}
	if s.worlds[nameOrDatacenter] {
		return []string{nameOrDatacenter}, true
	}
	return nil, false
}

// DefaultWorld returns the configured default world
func (s *Set) DefaultWorld() string {
	return s.defaultWorld
}

// Datacenters returns the datacenter -> worlds topology
func (s *Set) Datacenters() map[string][]string {
	out := make(map[string][]string, len(s.datacenters))
	for name, members := range s.datacenters {
		worlds := make([]string, len(members))
		copy(worlds, members)
		out[name] = worlds
	}
	return out
}

// Worlds returns all known world names, sorted
func (s *Set) Worlds() []string {
	out := make([]string, 0, len(s.worlds))
	for world := range s.worlds {
		out = append(out, world)
	}
	sort.Strings(out)
	return out
}

// DefaultDatacenters returns the FFXIV datacenter topology
func DefaultDatacenters() map[string][]string {
	return map[string][]string{
		"Aether": {
			"Adamantoise", "Cactuar", "Faerie", "Gilgamesh",
			"Jenova", "Midgardsormr", "Sargatanas", "Siren",
		},
		"Chaos": {
			"Cerberus", "Louisoix", "Moogle", "Omega", "Ragnarok", "Spriggan",
		},
		"Crystal": {
			"Balmung", "Brynhildr", "Coeurl", "Diabolos",
			"Goblin", "Malboro", "Mateus", "Zalera",
		},
		"Elemental": {
			"Aegis", "Atomos", "Carbuncle", "Garuda", "Gungnir",
			"Kujata", "Ramuh", "Tonberry", "Typhon", "Unicorn",
		},
		"Gaia": {
			"Alexander", "Bahamut", "Durandal", "Fenrir", "Ifrit",
			"Ridill", "Tiamat", "Ultima", "Valefor", "Yojimbo", "Zeromus",
		},
		"Light": {
			"Lich", "Odin", "Phoenix", "Shiva", "Zodiark", "Twintania",
		},
		"Mana": {
			"Anima", "Asura", "Belias", "Chocobo", "Hades", "Ixion",
			"Mandragora", "Masamune", "Pandaemonium", "Shinryu", "Titan",
		},
		"Primal": {
			"Behemoth", "Excalibur", "Exodus", "Famfrit",
			"Hyperion", "Lamia", "Leviathan", "Ultros",
		},
	}
}
