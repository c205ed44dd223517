package models

// SkipReason explains why a signal was not admitted for fetching.
type SkipReason string

const (
	SkipStepLimitExceeded SkipReason = "step_limit_exceeded"
	SkipFlowLimitExceeded SkipReason = "flow_limit_exceeded"
)

// SignalRef identifies a signal in diagnostic maps.
type SignalRef struct {
	Name string     `json:"name"`
	Type SignalType `json:"type"`
}

// SkippedSignal is a SkipTree leaf.
type SkippedSignal struct {
	Name   string     `json:"name"`
	Type   SignalType `json:"type"`
	Reason SkipReason `json:"reason"`
}

// GuidSet holds the guids to fetch this cycle, keyed by fetch kind.
type GuidSet struct {
	Entity map[string]struct{} `json:"-"`
	Alert  map[string]struct{} `json:"-"`
}

// NewGuidSet returns an empty set.
func NewGuidSet() GuidSet {
	return GuidSet{Entity: map[string]struct{}{}, Alert: map[string]struct{}{}}
}

// For returns the set backing the given signal type.
func (g GuidSet) For(t SignalType) map[string]struct{} {
	if t.FetchKind() == SignalTypeAlert {
		return g.Alert
	}
	return g.Entity
}

// Contains reports whether guid is fetchable as type t.
func (g GuidSet) Contains(t SignalType, guid string) bool {
	_, ok := g.For(t)[guid]
	return ok
}

// Len counts guids across both kinds.
func (g GuidSet) Len() int {
	return len(g.Entity) + len(g.Alert)
}

// SkipTree is stageId → levelId → stepId → guid → skipped signal.
type SkipTree map[string]map[string]map[string]map[string]SkippedSignal

// Add records a skipped signal.
func (t SkipTree) Add(stageID, levelID, stepID, guid string, entry SkippedSignal) {
	levels, ok := t[stageID]
	if !ok {
		levels = map[string]map[string]map[string]SkippedSignal{}
		t[stageID] = levels
	}
	steps, ok := levels[levelID]
	if !ok {
		steps = map[string]map[string]SkippedSignal{}
		levels[levelID] = steps
	}
	signals, ok := steps[stepID]
	if !ok {
		signals = map[string]SkippedSignal{}
		steps[stepID] = signals
	}
	signals[guid] = entry
}

// Lookup finds the skip entry for a signal in a step.
func (t SkipTree) Lookup(stageID, levelID, stepID, guid string) (SkippedSignal, bool) {
	entry, ok := t[stageID][levelID][stepID][guid]
	return entry, ok
}

// Guids returns every guid of type t recorded anywhere in the tree.
func (t SkipTree) Guids(typ SignalType) map[string]struct{} {
	out := map[string]struct{}{}
	for _, levels := range t {
		for _, steps := range levels {
			for _, signals := range steps {
				for guid, entry := range signals {
					if entry.Type.FetchKind() == typ.FetchKind() {
						out[guid] = struct{}{}
					}
				}
			}
		}
	}
	return out
}

// NoAccessSet holds guids whose account is not accessible to the caller.
type NoAccessSet map[string]SignalRef

// Classification is the atomic output of one classifier pass. Consumers
// always receive all of its parts together.
type Classification struct {
	Flow                Flow                `json:"-"`
	GuidSet             GuidSet             `json:"-"`
	NoAccess            NoAccessSet         `json:"noAccess"`
	Skipped             SkipTree            `json:"skipped"`
	DynamicQuerySignals map[string][]Signal `json:"dynamicQuerySignals"`
	Accounts            map[int64]struct{}  `json:"-"`
}

// SkippedOnly returns guids of type t that are skipped and not fetched via
// another step.
func (c *Classification) SkippedOnly(t SignalType) map[string]struct{} {
	out := map[string]struct{}{}
	for guid := range c.Skipped.Guids(t) {
		if c.GuidSet.Contains(t, guid) {
			continue
		}
		if _, ok := c.NoAccess[guid]; ok {
			continue
		}
		out[guid] = struct{}{}
	}
	return out
}
