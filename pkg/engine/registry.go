package engine

import (
	"fmt"
	"maps"
)

// ProbeFactory is a function that creates an instance of a probe. This allows
// the pipeline to instantiate a configured battery by name.
type ProbeFactory func() Probe

// Global probe registry. Probes register themselves in init().
var probeRegistry = make(map[string]ProbeFactory)

// RegisterProbeFactory adds a probe factory to the registry. The name should
// correspond to the probe's metadata Name and the battery ordering entries.
func RegisterProbeFactory(name string, factory ProbeFactory) {
	if _, exists := probeRegistry[name]; exists {
		fmt.Printf("Warning: Probe factory for '%s' is being overwritten.\n", name)
	}
	probeRegistry[name] = factory
}

// GetProbeInstance creates a new instance of a probe given its registered
// name and initializes it with the provided configuration.
func GetProbeInstance(name string, config map[string]any) (Probe, error) {
	factory, ok := probeRegistry[name]
	if !ok {
		return nil, fmt.Errorf("no probe factory registered for name: %s", name)
	}
	probe := factory()
	if err := probe.Init(config); err != nil {
		return nil, fmt.Errorf("failed to initialize probe '%s': %w", name, err)
	}
	return probe, nil
}

// RegisteredProbeFactories returns a shallow copy of the probe registry, so
// callers can discover available probes without being able to mutate the
// registry itself.
func RegisteredProbeFactories() map[string]ProbeFactory {
	registryCopy := make(map[string]ProbeFactory, len(probeRegistry))
	maps.Copy(registryCopy, probeRegistry)
	return registryCopy
}

// BuildBattery instantiates the named probes in order, applying per-probe
// configuration, and optionally filters by include/exclude tags. The returned
// slice preserves the requested order: the battery is a fixed ordered list,
// not a dependency graph.
func BuildBattery(names []string, configs map[string]map[string]any, include, exclude []string) ([]Probe, error) {
	battery := make([]Probe, 0, len(names))
	for _, name := range names {
		probe, err := GetProbeInstance(name, configs[name])
		if err != nil {
			return nil, err
		}
		meta := probe.Metadata()
		if len(include) > 0 && !hasAnyTag(meta.Tags, include) {
			continue
		}
		if hasAnyTag(meta.Tags, exclude) {
			continue
		}
		battery = append(battery, probe)
	}
	if len(battery) == 0 {
		return nil, fmt.Errorf("battery is empty after tag filtering")
	}
	return battery, nil
}

// FieldsOf collects the union of field keys a battery can produce, in battery
// order. Records are pre-seeded from this list.
func FieldsOf(battery []Probe) []string {
	seen := make(map[string]struct{})
	var fields []string
	for _, p := range battery {
		for _, f := range p.Metadata().Fields {
			if _, dup := seen[f]; dup {
				continue
			}
			seen[f] = struct{}{}
			fields = append(fields, f)
		}
	}
	return fields
}

func hasAnyTag(tags, wanted []string) bool {
	for _, w := range wanted {
		for _, t := range tags {
			if t == w {
				return true
			}
		}
	}
	return false
}
