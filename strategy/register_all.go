package strategy

import "fmt"

// FloorID is the registry id of the floor strategy.
const FloorID ID = "floor"

// Known lists every strategy type this build ships.
var Known = []ID{FloorID}

// definitionFor maps a known id to its definition.
func definitionFor(id ID) (Definition, error) {
	switch id {
	case FloorID:
		return floorDefinition(), nil
	default:
		return Definition{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
}

// RegisterAll registers every known strategy type into r.
func RegisterAll(r *Registry) error {
	for _, id := range Known {
		def, err := definitionFor(id)
		if err != nil {
			return err
		}
		if err := r.Register(id, def); err != nil {
			return err
		}
	}
	return nil
}
