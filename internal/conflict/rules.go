package conflict

import "fieldsync-server/internal/domain"

// Rule describes how one event type maps onto canonical state: which record
// type it targets and which resolution strategy its conflicts get. The
// mapping is static configuration, not inferred per event.
type Rule struct {
	RecordType domain.RecordType
	Strategy   domain.ResolutionStrategy
}

// Safety-critical types (inspection outcomes, repair narratives, well status
// transitions) must stay on manual review and must never be reassigned to an
// automatic strategy.
var rules = map[domain.EventType]Rule{
	domain.EventProductionLogged:   {domain.RecordProduction, domain.StrategyHighestValue},
	domain.EventSensorReading:      {domain.RecordSensor, domain.StrategyNewestWins},
	domain.EventNotesAdded:         {domain.RecordNotes, domain.StrategyMerge},
	domain.EventPhotoAdded:         {domain.RecordPhotos, domain.StrategyKeepBoth},
	domain.EventEquipmentInspected: {domain.RecordInspection, domain.StrategyManualReview},
	domain.EventEquipmentRepaired:  {domain.RecordRepair, domain.StrategyManualReview},
	domain.EventWellStatusChanged:  {domain.RecordWellStatus, domain.StrategyManualReview},
}

// RuleFor returns the detection rule for an event type, if one is
// registered.
func RuleFor(t domain.EventType) (Rule, bool) {
	r, ok := rules[t]
	return r, ok
}

// SafetyCritical reports whether the event type is locked to manual review.
func SafetyCritical(t domain.EventType) bool {
	r, ok := rules[t]
	return ok && r.Strategy == domain.StrategyManualReview
}
