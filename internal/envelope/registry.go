package envelope

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/goccy/go-json"
)

type kindDef struct {
	deps   []Kind
	decode func(json.RawMessage) (Entity, error)
}

// registry lists every exportable kind with the kinds its records
// reference. Apply order is derived from these references.
var registry = map[Kind]kindDef{
	KindPatients:      define[Patient](),
	KindConsultations: define[Consultation](KindPatients),
	KindPrescriptions: define[Prescription](KindConsultations, KindPatients),
	KindAppointments:  define[Appointment](KindPatients),
	KindInvoices:      define[Invoice](KindPatients, KindConsultations),
}

func define[T Entity](deps ...Kind) kindDef {
	fields := jsonFields(reflect.TypeFor[T]())
	return kindDef{
		deps: deps,
		decode: func(raw json.RawMessage) (Entity, error) {
			var v T
			if err := decodeExact(raw, &v, fields); err != nil {
				return nil, fmt.Errorf("decode %s record: %w", v.Kind(), err)
			}
			return v, nil
		},
	}
}

// Kinds returns every registered kind sorted by name.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Known reports whether k is a registered kind.
func Known(k Kind) bool {
	_, ok := registry[k]
	return ok
}

// DependsOn returns the kinds whose records k references.
func DependsOn(k Kind) []Kind {
	return slices.Clone(registry[k].deps)
}

// ApplyOrder returns every kind ordered so that a kind always comes after
// the kinds it references. Ties are broken by name so the order is stable.
func ApplyOrder() ([]Kind, error) {
	deps := make(map[Kind][]Kind, len(registry))
	for k, def := range registry {
		deps[k] = def.deps
	}
	return topoSort(deps)
}

func topoSort(deps map[Kind][]Kind) ([]Kind, error) {
	pending := make(map[Kind]int, len(deps))
	dependents := make(map[Kind][]Kind, len(deps))
	for k, ds := range deps {
		pending[k] += 0
		for _, d := range ds {
			if _, ok := deps[d]; !ok {
				return nil, fmt.Errorf("%s references unregistered kind %s", k, d)
			}
			pending[k]++
			dependents[d] = append(dependents[d], k)
		}
	}

	var ready []Kind
	for k, n := range pending {
		if n == 0 {
			ready = append(ready, k)
		}
	}

	order := make([]Kind, 0, len(deps))
	for len(ready) > 0 {
		slices.Sort(ready)
		k := ready[0]
		ready = ready[1:]
		order = append(order, k)
		for _, d := range dependents[k] {
			pending[d]--
			if pending[d] == 0 {
				ready = append(ready, d)
			}
		}
	}
	if len(order) != len(deps) {
		return nil, fmt.Errorf("reference cycle among kinds")
	}
	return order, nil
}
