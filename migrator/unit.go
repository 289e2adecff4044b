package migrator

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/mr-tron/base58"
	"gopkg.in/yaml.v3"

	"go.hackfix.me/schemer/operation"
)

// Status is the execution status of a migration unit.
type Status string

// All unit statuses.
const (
	StatusPending Status = "pending"
	StatusApplied Status = "applied"
	// StatusMissing is reported for applied units whose definition can't be
	// found in the repository.
	StatusMissing Status = "missing"
)

// Unit is a migration unit: an ordered pair of forward and backward operation
// sequences, identified by a monotonic version.
type Unit struct {
	// Version orders units. By convention it's a UTC timestamp in
	// YYYYMMDDhhmmss format.
	Version uint64
	// Name is a human-readable label.
	Name string
	Up   []operation.Operation
	Down []operation.Operation

	Status    Status
	AppliedAt time.Time
}

// ID returns the identity of the unit as a string.
func (u Unit) ID() string {
	return fmt.Sprintf("%d_%s", u.Version, u.Name)
}

// Checksum returns a digest of the unit's operations. It's recorded when the
// unit is applied, and used to detect definitions modified afterwards.
func (u Unit) Checksum() string {
	data, err := yaml.Marshal(struct {
		Up   []operation.Operation `yaml:"up"`
		Down []operation.Operation `yaml:"down"`
	}{u.Up, u.Down})
	if err != nil {
		// Operations only contain plain data, so this never happens.
		panic(fmt.Sprintf("failed serializing unit %s: %s", u.ID(), err))
	}
	sum := sha256.Sum256(data)
	return base58.Encode(sum[:])
}

// Validate checks that the unit is well-formed.
func (u Unit) Validate() error {
	if u.Version == 0 {
		return fmt.Errorf("unit '%s': version is required", u.Name)
	}
	if u.Name == "" {
		return fmt.Errorf("unit %d: name is required", u.Version)
	}
	if err := operation.ValidateAll(u.Up); err != nil {
		return fmt.Errorf("unit %s: invalid up operations: %w", u.ID(), err)
	}
	if err := operation.ValidateAll(u.Down); err != nil {
		return fmt.Errorf("unit %s: invalid down operations: %w", u.ID(), err)
	}
	return nil
}

// NewVersion returns the conventional version for a unit created at t.
func NewVersion(t time.Time) uint64 {
	t = t.UTC()
	return uint64(t.Year())*1e10 + uint64(t.Month())*1e8 + uint64(t.Day())*1e6 +
		uint64(t.Hour())*1e4 + uint64(t.Minute())*1e2 + uint64(t.Second())
}

// Repository is the store of migration unit definitions.
type Repository interface {
	// Units returns all units ordered by version. Their status is pending.
	Units(ctx context.Context) ([]Unit, error)

	// Register stores a new unit. It fails if a unit with the same version
	// already exists.
	Register(ctx context.Context, unit Unit) error
}
