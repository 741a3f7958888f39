// Package moves implements the trial-move abstraction: ephemeral values that
// describe a proposed transformation of a configuration together with enough
// information to construct its inverse. Proposing never mutates shared
// state; callers explicitly apply or discard a proposal.
package moves

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/copyleftdev/LATTIS/internal/optimization"
	"github.com/copyleftdev/LATTIS/internal/optimization/particle"
)

// Kind identifies the transformation a proposal describes.
type Kind int

const (
	// KindExchange swaps the species at two occupied sites of differing
	// species. Always reversible by re-swapping.
	KindExchange Kind = iota
	// KindInsertion adds one atom of a chosen species at a generated
	// position. Reversible by deleting the newly added atom.
	KindInsertion
	// KindDeletion removes one randomly chosen atom of a chosen species.
	// Reversible only by re-insertion at the same position, which the
	// proposal retains.
	KindDeletion
	// KindDisplacement perturbs one atom's position by a bounded random
	// vector. Reversible by subtracting the same displacement.
	KindDisplacement
)

// String returns the name of the move kind.
func (k Kind) String() string {
	switch k {
	case KindExchange:
		return "exchange"
	case KindInsertion:
		return "insertion"
	case KindDeletion:
		return "deletion"
	case KindDisplacement:
		return "displacement"
	default:
		return "unknown"
	}
}

// Proposal is an ephemeral description of one trial move. It is created by a
// Move, consumed by Apply/Revert and the energy model within one step, and
// discarded after accept/reject resolution.
type Proposal struct {
	Kind Kind

	// Sites participating in the move. Exchanges use both entries; the
	// other kinds use only the first.
	Sites [2]int

	// Species of the atom being inserted or deleted.
	Species string

	// Position of the inserted atom, or of the deleted atom (retained so
	// the deletion can be reversed).
	Position r3.Vec

	// Displacement applied to the moved atom.
	Displacement r3.Vec

	// OK is false when the move's preconditions were not met and the
	// proposal is a no-op sentinel. Callers treat a failed proposal as
	// "try a different pick", never as fatal.
	OK bool
}

// Move proposes trial transformations of a configuration.
type Move interface {
	// Propose generates a proposal against the current state without
	// mutating it.
	Propose(p *particle.Particle) (Proposal, error)

	// Reversible reports whether an applied proposal of this move can be
	// reverted exactly.
	Reversible() bool
}

// ExchangeMove proposes swapping the species at two occupied sites of
// differing species, chosen uniformly at random.
type ExchangeMove struct {
	rng *rand.Rand
}

// NewExchangeMove creates an exchange move drawing from the given generator.
func NewExchangeMove(rng *rand.Rand) *ExchangeMove {
	return &ExchangeMove{rng: rng}
}

// Propose picks two occupied sites of differing species. It signals
// ErrExhaustedMoveSpace when fewer than two species are present.
func (m *ExchangeMove) Propose(p *particle.Particle) (Proposal, error) {
	symbols := p.AllSymbols()
	if len(symbols) < 2 {
		return Proposal{}, optimization.WrapError(optimization.ErrExhaustedMoveSpace,
			"exchange requires two species").WithComponent("moves")
	}
	first := p.IndicesBySymbol(symbols[0])
	rest := make([]int, 0, p.NSites()-len(first))
	for _, s := range symbols[1:] {
		rest = append(rest, p.IndicesBySymbol(s)...)
	}

	return Proposal{
		Kind:  KindExchange,
		Sites: [2]int{first[m.rng.Intn(len(first))], rest[m.rng.Intn(len(rest))]},
		OK:    true,
	}, nil
}

// Reversible reports that exchanges are always reversible.
func (m *ExchangeMove) Reversible() bool { return true }

// InsertionMove proposes adding one atom of a random species at a position
// drawn uniformly inside the periodic cell.
type InsertionMove struct {
	species []string
	rng     *rand.Rand
}

// NewInsertionMove creates an insertion move over the given species set.
func NewInsertionMove(species []string, rng *rand.Rand) *InsertionMove {
	return &InsertionMove{species: append([]string(nil), species...), rng: rng}
}

// Propose generates an insertion at a uniform position inside the cell.
func (m *InsertionMove) Propose(p *particle.Particle) (Proposal, error) {
	if !p.HasGeometry() {
		return Proposal{}, optimization.NewError("insertion requires site positions").
			WithComponent("moves").WithOperation("Propose")
	}
	cell := p.Cell()
	return Proposal{
		Kind:    KindInsertion,
		Species: m.species[m.rng.Intn(len(m.species))],
		Position: r3.Vec{
			X: m.rng.Float64() * cell.X,
			Y: m.rng.Float64() * cell.Y,
			Z: m.rng.Float64() * cell.Z,
		},
		OK: true,
	}, nil
}

// Reversible reports that insertions are reversible by deletion.
func (m *InsertionMove) Reversible() bool { return true }

// DeletionMove proposes removing one random atom of a random species.
type DeletionMove struct {
	species []string
	rng     *rand.Rand
}

// NewDeletionMove creates a deletion move over the given species set.
func NewDeletionMove(species []string, rng *rand.Rand) *DeletionMove {
	return &DeletionMove{species: append([]string(nil), species...), rng: rng}
}

// Propose picks a random atom of a random species. If no atom of the chosen
// species exists the proposal comes back with OK=false, the no-op sentinel
// for an invalid move request.
func (m *DeletionMove) Propose(p *particle.Particle) (Proposal, error) {
	species := m.species[m.rng.Intn(len(m.species))]
	indices := p.IndicesBySymbol(species)
	if len(indices) == 0 {
		return Proposal{Kind: KindDeletion, Species: species, OK: false}, nil
	}
	site := indices[m.rng.Intn(len(indices))]
	prop := Proposal{
		Kind:    KindDeletion,
		Sites:   [2]int{site, -1},
		Species: species,
		OK:      true,
	}
	if p.HasGeometry() {
		prop.Position = p.Position(site)
	}
	return prop, nil
}

// Reversible reports that deletions are reversible given the retained
// position.
func (m *DeletionMove) Reversible() bool { return true }

// DisplacementMove proposes perturbing one atom's position by a bounded
// random vector, wrapped into the periodic cell.
type DisplacementMove struct {
	dist distuv.Uniform
	rng  *rand.Rand
}

// NewDisplacementMove creates a displacement move with the given maximum
// per-axis displacement.
func NewDisplacementMove(maxDisplacement float64, rng *rand.Rand) *DisplacementMove {
	return &DisplacementMove{
		dist: distuv.Uniform{Min: -maxDisplacement, Max: maxDisplacement, Src: rng},
		rng:  rng,
	}
}

// Propose picks a random atom and a bounded random displacement vector.
func (m *DisplacementMove) Propose(p *particle.Particle) (Proposal, error) {
	if !p.HasGeometry() {
		return Proposal{}, optimization.NewError("displacement requires site positions").
			WithComponent("moves").WithOperation("Propose")
	}
	if p.NSites() == 0 {
		return Proposal{}, optimization.WrapError(optimization.ErrExhaustedMoveSpace,
			"no atoms to displace").WithComponent("moves")
	}
	return Proposal{
		Kind:  KindDisplacement,
		Sites: [2]int{m.rng.Intn(p.NSites()), -1},
		Displacement: r3.Vec{
			X: m.dist.Rand(),
			Y: m.dist.Rand(),
			Z: m.dist.Rand(),
		},
		OK: true,
	}, nil
}

// Reversible reports that displacements are reversible by subtraction.
func (m *DisplacementMove) Reversible() bool { return true }

// Apply commits a proposal to the particle. Failed proposals (OK=false) are
// reported as ErrInvalidMove.
func Apply(p *particle.Particle, prop Proposal) error {
	if !prop.OK {
		return optimization.WrapErrorf(optimization.ErrInvalidMove,
			"%s move could not be proposed", prop.Kind).WithComponent("moves")
	}
	switch prop.Kind {
	case KindExchange:
		p.SwapSymbols([][2]int{prop.Sites})
	case KindInsertion:
		p.AppendSite(prop.Species, prop.Position)
	case KindDeletion:
		p.RemoveSite(prop.Sites[0])
	case KindDisplacement:
		site := prop.Sites[0]
		p.SetPosition(site, wrap(r3.Add(p.Position(site), prop.Displacement), p.Cell()))
	}
	return nil
}

// Revert undoes a previously applied proposal exactly.
func Revert(p *particle.Particle, prop Proposal) error {
	if !prop.OK {
		return optimization.WrapErrorf(optimization.ErrInvalidMove,
			"%s move was never applied", prop.Kind).WithComponent("moves")
	}
	switch prop.Kind {
	case KindExchange:
		p.SwapSymbols([][2]int{prop.Sites})
	case KindInsertion:
		p.RemoveSite(p.NSites() - 1)
	case KindDeletion:
		p.AppendSite(prop.Species, prop.Position)
	case KindDisplacement:
		site := prop.Sites[0]
		p.SetPosition(site, wrap(r3.Sub(p.Position(site), prop.Displacement), p.Cell()))
	}
	return nil
}

func wrap(pos, cell r3.Vec) r3.Vec {
	pos.X = wrapAxis(pos.X, cell.X)
	pos.Y = wrapAxis(pos.Y, cell.Y)
	pos.Z = wrapAxis(pos.Z, cell.Z)
	return pos
}

func wrapAxis(x, l float64) float64 {
	if l <= 0 {
		return x
	}
	x = math.Mod(x, l)
	if x < 0 {
		x += l
	}
	return x
}
