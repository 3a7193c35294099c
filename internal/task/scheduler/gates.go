package scheduler

import (
	"time"

	"adaptived/internal/task/model"
	"adaptived/internal/task/registry"
)

// Gate names reported in CycleReport.Skipped.
const (
	GateInFlight     = "in_flight"
	GateCooldown     = "cooldown"
	GateWindow       = "outside_preferred_window"
	GateAvoidWindow  = "avoid_window"
	GateDependencies = "missing_dependency"
	GateConditions   = "condition_not_met"
	GateNoHook       = "no_hook"
)

// definitions indexes definitions by task id and by category.
type definitions struct {
	byID       map[string]model.Definition
	byCategory map[model.Category]model.Definition
}

func indexDefinitions(defs []model.Definition) definitions {
	out := definitions{
		byID:       make(map[string]model.Definition),
		byCategory: make(map[model.Category]model.Definition),
	}
	for _, d := range defs {
		if d.ID != "" {
			out.byID[d.ID] = d
			continue
		}
		out.byCategory[d.Category] = d
	}
	return out
}

// lookup prefers the definition for the task id over the category one.
func (d definitions) lookup(st *model.State) (model.Definition, bool) {
	if def, ok := d.byID[st.ID]; ok {
		return def, true
	}
	def, ok := d.byCategory[st.Category]
	return def, ok
}

type gateInput struct {
	now      time.Time
	loc      *time.Location
	market   model.MarketCondition
	system   model.SystemStatus
	inFlight map[string]string
	reg      *registry.Registry
}

// gate returns the name of the first gate that holds st back, or "".
func (d definitions) gate(st *model.State, in gateInput) string {
	if _, busy := in.inFlight[st.ID]; busy {
		return GateInFlight
	}
	def, ok := d.lookup(st)
	if !ok {
		return ""
	}
	if def.Cooldown > 0 && !st.LastExecution.IsZero() && st.LastExecution.Add(def.Cooldown).After(in.now) {
		return GateCooldown
	}
	local := in.now.In(in.loc)
	if len(def.PreferredWindows) > 0 && !model.AnyMatch(def.PreferredWindows, local) {
		return GateWindow
	}
	if model.AnyMatch(def.AvoidWindows, local) {
		return GateAvoidWindow
	}
	for _, dep := range def.Dependencies {
		if !in.reg.Has(dep) {
			return GateDependencies
		}
	}
	for _, c := range def.Conditions {
		if !c.Holds(in.market, in.system) {
			return GateConditions
		}
	}
	return ""
}
