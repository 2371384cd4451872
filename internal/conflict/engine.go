package conflict

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"fieldsync-server/internal/domain"
)

type Decision string

const (
	DecisionUpdateServer Decision = "update_server"
	DecisionKeepServer   Decision = "keep_server"
	DecisionManualReview Decision = "requires_manual_review"
	DecisionMerge        Decision = "merge"
	DecisionKeepBoth     Decision = "keep_both"
)

// Effect is a side effect the coordinator must execute after a decision.
// Strategies themselves stay pure; they only describe the fan-out.
type Effect string

const (
	EffectAudit        Effect = "audit"
	EffectNotifyReview Effect = "notify_review"
)

// Resolution is the outcome of running a strategy over a conflict. Data
// carries the payload to write: the winning snapshot for update_server, the
// combined payload for merge, and the local snapshot for keep_both.
type Resolution struct {
	Decision Decision
	Data     json.RawMessage
	Reason   string
	Effects  []Effect
}

// Engine computes resolutions from (local, server) data pairs. Resolve is
// deterministic: identical inputs always produce the identical Resolution.
type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

func (e *Engine) Resolve(c *domain.Conflict) (Resolution, error) {
	switch c.RecommendedStrategy {
	case domain.StrategyNewestWins:
		return e.resolveNewestWins(c)
	case domain.StrategyHighestValue:
		return e.resolveHighestValue(c)
	case domain.StrategyManualReview:
		// Hard rule: no automatic winner is ever computed here, whatever
		// the payloads contain.
		return Resolution{
			Decision: DecisionManualReview,
			Reason:   "safety-critical type requires supervisor review",
			Effects:  []Effect{EffectNotifyReview},
		}, nil
	case domain.StrategyMerge:
		return e.resolveMerge(c)
	case domain.StrategyKeepBoth:
		return Resolution{
			Decision: DecisionKeepBoth,
			Data:     c.LocalData,
			Reason:   "both snapshots independently valid, persisting sibling",
			Effects:  []Effect{EffectAudit},
		}, nil
	default:
		return Resolution{}, fmt.Errorf("unknown resolution strategy: %s", c.RecommendedStrategy)
	}
}

// resolveNewestWins compares the embedded device timestamps of both
// snapshots. Equal timestamps keep the server value: already-committed state
// wins ties.
func (e *Engine) resolveNewestWins(c *domain.Conflict) (Resolution, error) {
	local, server, err := e.decodeBoth(c)
	if err != nil {
		return Resolution{}, err
	}

	if local.EffectiveAt().After(server.EffectiveAt()) {
		return Resolution{
			Decision: DecisionUpdateServer,
			Data:     c.LocalData,
			Reason:   "local snapshot is newer",
			Effects:  []Effect{EffectAudit},
		}, nil
	}
	return Resolution{
		Decision: DecisionKeepServer,
		Reason:   "server snapshot is newer or same age",
		Effects:  []Effect{EffectAudit},
	}, nil
}

// resolveHighestValue prefers the strictly larger metric. Reporting must
// never under-report, so the larger of two plausible readings beats recency.
// Ties keep the server value.
func (e *Engine) resolveHighestValue(c *domain.Conflict) (Resolution, error) {
	local, server, err := e.decodeBoth(c)
	if err != nil {
		return Resolution{}, err
	}

	lv, ok := local.(interface{ MetricValue() float64 })
	if !ok {
		return Resolution{}, fmt.Errorf("%w: %s has no comparable metric", domain.ErrMalformedPayload, c.EventType)
	}
	sv, ok := server.(interface{ MetricValue() float64 })
	if !ok {
		return Resolution{}, fmt.Errorf("%w: server snapshot has no comparable metric", domain.ErrMalformedPayload)
	}

	if lv.MetricValue() > sv.MetricValue() {
		return Resolution{
			Decision: DecisionUpdateServer,
			Data:     c.LocalData,
			Reason:   fmt.Sprintf("local value %v exceeds server value %v", lv.MetricValue(), sv.MetricValue()),
			Effects:  []Effect{EffectAudit},
		}, nil
	}
	return Resolution{
		Decision: DecisionKeepServer,
		Reason:   fmt.Sprintf("server value %v is highest", sv.MetricValue()),
		Effects:  []Effect{EffectAudit},
	}, nil
}

// resolveMerge combines both free-text notes into a single payload, keeping
// each author's identity attached to their text.
func (e *Engine) resolveMerge(c *domain.Conflict) (Resolution, error) {
	local, server, err := e.decodeBoth(c)
	if err != nil {
		return Resolution{}, err
	}

	ln, ok := local.(domain.NotesPayload)
	if !ok {
		return Resolution{}, fmt.Errorf("%w: merge strategy only applies to notes", domain.ErrMalformedPayload)
	}
	sn, ok := server.(domain.NotesPayload)
	if !ok {
		return Resolution{}, fmt.Errorf("%w: merge strategy only applies to notes", domain.ErrMalformedPayload)
	}

	merged := domain.NotesPayload{
		Well:      sn.Well,
		Date:      sn.Date,
		Text:      attributed(sn) + "\n---\n" + attributed(ln),
		Author:    joinAuthors(sn.Author, ln.Author),
		WrittenAt: laterOf(sn, ln),
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return Resolution{}, err
	}

	return Resolution{
		Decision: DecisionMerge,
		Data:     data,
		Reason:   "notes from both authors combined",
		Effects:  []Effect{EffectAudit},
	}, nil
}

func (e *Engine) decodeBoth(c *domain.Conflict) (local, server domain.Payload, err error) {
	local, err = domain.DecodePayload(c.EventType, c.LocalData)
	if err != nil {
		return nil, nil, err
	}
	server, err = domain.DecodePayload(c.EventType, c.ServerData)
	if err != nil {
		return nil, nil, err
	}
	return local, server, nil
}

func attributed(n domain.NotesPayload) string {
	if strings.HasPrefix(n.Text, "[") {
		// Already carries attribution from an earlier merge.
		return n.Text
	}
	return "[" + n.Author + "] " + n.Text
}

func joinAuthors(a, b string) string {
	if a == b {
		return a
	}
	return a + ", " + b
}

func laterOf(a, b domain.NotesPayload) time.Time {
	if a.WrittenAt.After(b.WrittenAt) {
		return a.WrittenAt
	}
	return b.WrittenAt
}
