// Package subsystem defines the contract between the orchestrator and the
// domain subsystems it integrates: the closed set of subsystem identities,
// the static descriptor each one is declared with, the factory registry
// construction goes through, and the runtime instance record.
package subsystem

// Kind identifies a subsystem. The set is closed: every integrable
// subsystem of the platform is named here, and descriptors referring to
// any other value are rejected at registration time.
type Kind string

// The integrable subsystems of the agrisim platform
const (
	KindEconomy        Kind = "economy"
	KindCropGrowth     Kind = "crop_growth"
	KindEmployees      Kind = "employees"
	KindDiseasePest    Kind = "disease_pest"
	KindResearch       Kind = "research"
	KindEnvironment    Kind = "environment"
	KindInnovation     Kind = "innovation"
	KindSpecialization Kind = "specialization"
	KindWeather        Kind = "weather"
	KindMarket         Kind = "market"
	KindSoil           Kind = "soil"
	KindIrrigation     Kind = "irrigation"
)

// knownKinds is the authoritative membership set
var knownKinds = map[Kind]struct{}{
	KindEconomy:        {},
	KindCropGrowth:     {},
	KindEmployees:      {},
	KindDiseasePest:    {},
	KindResearch:       {},
	KindEnvironment:    {},
	KindInnovation:     {},
	KindSpecialization: {},
	KindWeather:        {},
	KindMarket:         {},
	KindSoil:           {},
	KindIrrigation:     {},
}

// Valid reports whether k is a member of the closed enumeration
func (k Kind) Valid() bool {
	_, ok := knownKinds[k]
	return ok
}

// String returns the identity as a string
func (k Kind) String() string {
	return string(k)
}
