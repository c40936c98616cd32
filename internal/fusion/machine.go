package fusion

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackzampolin/ocrfuse/internal/align"
	"github.com/jackzampolin/ocrfuse/internal/quality"
)

// State is a step of the per-page fusion sequence.
type State int

const (
	StateCollected State = iota + 1
	StateOutlierFiltered
	StateAligned
	StateLineResolved
	StateFragmentFiltered
	StateQualityScored
	StateEscalationRequested
	StateEscalated
	StateEscalationSkipped
	StateEmitted
)

var stateNames = map[State]string{
	StateCollected:           "COLLECTED",
	StateOutlierFiltered:     "OUTLIER_FILTERED",
	StateAligned:             "ALIGNED",
	StateLineResolved:        "LINE_RESOLVED",
	StateFragmentFiltered:    "FRAGMENT_FILTERED",
	StateQualityScored:       "QUALITY_SCORED",
	StateEscalationRequested: "ESCALATION_REQUESTED",
	StateEscalated:           "ESCALATED",
	StateEscalationSkipped:   "ESCALATION_SKIPPED",
	StateEmitted:             "EMITTED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	if _, ok := stateNames[s]; !ok {
		return nil, fmt.Errorf("unknown fusion state %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	for state, name := range stateNames {
		if name == string(b) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown fusion state %q", string(b))
}

// pageRun is the value threaded through the state machine. Each transition
// receives a copy and returns the next one; nothing here performs I/O.
type pageRun struct {
	state  State
	page   PageInput
	record FusedPageRecord

	used    []EngineOutput // primary first, then alts in preference order
	pairs   [][]align.Pair // primary aligned against each alt in used[1:]
	lines   []FusedLine
	outcome *escalationOutcome
}

func newPageRun(page PageInput) pageRun {
	return pageRun{
		state: StateCollected,
		page:  page,
		record: FusedPageRecord{
			PageID: page.PageID,
			Trace:  []State{StateCollected},
		},
	}
}

func (r pageRun) enter(s State) pageRun {
	r.state = s
	r.record.Trace = append(r.record.Trace, s)
	return r
}

// step advances r by one transition. A non-nil request asks the driver to
// reserve budget and call the escalator, then store the outcome in r before
// the next step.
func step(cfg Config, r pageRun) (pageRun, *EscalationRequest) {
	switch r.state {
	case StateCollected:
		return filterEngines(cfg, r).enter(StateOutlierFiltered), nil
	case StateOutlierFiltered:
		return alignEngines(r).enter(StateAligned), nil
	case StateAligned:
		return resolveLines(cfg, r).enter(StateLineResolved), nil
	case StateLineResolved:
		return filterFragments(cfg, r).enter(StateFragmentFiltered), nil
	case StateFragmentFiltered:
		return scoreQuality(cfg, r).enter(StateQualityScored), nil
	case StateQualityScored:
		if !r.record.Escalation.NeedsEscalation {
			return finish(r), nil
		}
		r = r.enter(StateEscalationRequested)
		return r, &EscalationRequest{
			PageID:   r.page.PageID,
			ImageRef: r.page.ImageRef,
			Reasons:  append([]string(nil), r.record.Escalation.Reasons...),
		}
	case StateEscalationRequested:
		return applyEscalation(cfg, r), nil
	case StateEscalated, StateEscalationSkipped:
		return finish(r), nil
	case StateEmitted:
		return r, nil
	default:
		panic(fmt.Sprintf("unhandled fusion state %d", int(r.state)))
	}
}

// filterEngines drops malformed and unavailable engines, orders the rest by
// preference and sets aside outliers.
func filterEngines(cfg Config, r pageRun) pageRun {
	seen := make(map[string]bool, len(r.page.Engines))
	r.record.DroppedEngines = append(r.record.DroppedEngines, r.page.Rejected...)
	var valid []EngineOutput
	for _, eng := range r.page.Engines {
		drop := func(reason string) {
			r.record.DroppedEngines = append(r.record.DroppedEngines, DroppedEngine{EngineID: eng.EngineID, Reason: reason})
		}
		if err := ValidateEngineOutput(r.page.PageID, eng); err != nil {
			var inputErr *InputError
			if errors.As(err, &inputErr) {
				drop(inputErr.Reason)
			} else {
				drop(err.Error())
			}
			continue
		}
		switch {
		case seen[eng.EngineID]:
			drop("duplicate engine_id")
		case !eng.Available:
			drop("engine unavailable")
		default:
			seen[eng.EngineID] = true
			valid = append(valid, eng)
		}
	}
	valid = orderByPreference(valid, cfg.Engines)

	texts := make(map[string]string, len(valid))
	for _, eng := range valid {
		texts[eng.EngineID] = eng.PageText()
	}
	report := DetectOutliers(texts, cfg.OutlierThreshold)
	r.record.Outliers = report
	r.record.OutlierEngines = report.Outliers

	var candidates []EngineOutput
	for _, eng := range valid {
		if report.IsOutlier(eng.EngineID) {
			continue
		}
		if strings.TrimSpace(eng.PageText()) == "" && report.Status != OutlierNoData {
			r.record.DroppedEngines = append(r.record.DroppedEngines, DroppedEngine{EngineID: eng.EngineID, Reason: "empty output"})
			continue
		}
		candidates = append(candidates, eng)
	}

	switch {
	case len(candidates) == 0 && report.Status == OutlierOK:
		for _, eng := range valid {
			if report.IsOutlier(eng.EngineID) {
				candidates = []EngineOutput{eng}
				break
			}
		}
		r.record.Notes = append(r.record.Notes,
			fmt.Sprintf("every engine flagged as outlier; using %s alone", candidates[0].EngineID))
	case len(candidates) > 1 && report.Status == OutlierNoData:
		// All blank: one engine is enough to produce the empty record.
		candidates = candidates[:1]
	}

	r.used = candidates
	r.record.EnginesUsed = make([]string, 0, len(candidates))
	for _, eng := range candidates {
		r.record.EnginesUsed = append(r.record.EnginesUsed, eng.EngineID)
	}
	if len(candidates) > 0 {
		r.record.PrimaryEngine = candidates[0].EngineID
	}
	return r
}

// orderByPreference sorts engines listed in prefs first, in that order;
// unlisted engines follow in input order.
func orderByPreference(engines []EngineOutput, prefs []string) []EngineOutput {
	ordered := make([]EngineOutput, 0, len(engines))
	taken := make([]bool, len(engines))
	for _, id := range prefs {
		for i, eng := range engines {
			if !taken[i] && eng.EngineID == id {
				ordered = append(ordered, eng)
				taken[i] = true
			}
		}
	}
	for i, eng := range engines {
		if !taken[i] {
			ordered = append(ordered, eng)
		}
	}
	return ordered
}

func alignEngines(r pageRun) pageRun {
	if len(r.used) == 0 {
		return r
	}
	primary := r.used[0].Texts()
	if len(r.used) == 1 {
		r.pairs = [][]align.Pair{align.Lines(primary, nil)}
		return r
	}
	r.pairs = make([][]align.Pair, 0, len(r.used)-1)
	for _, alt := range r.used[1:] {
		r.pairs = append(r.pairs, align.Lines(primary, alt.Texts()))
	}
	return r
}

// resolveLines produces one fused line per position of the reference
// alignment: the alignment against the alt closest to the primary. Each
// primary line is resolved against whichever alt matched it most closely.
func resolveLines(cfg Config, r pageRun) pageRun {
	if len(r.used) == 0 {
		return r
	}
	primary := r.used[0]
	if len(r.used) == 1 {
		r.lines = make([]FusedLine, 0, len(r.pairs[0]))
		for _, p := range r.pairs[0] {
			line := Resolve(p, nil, cfg.Thresholds)
			line.Engine = primary.EngineID
			line.Confidence = primary.LineConfidence(p.PrimaryIndex)
			r.lines = append(r.lines, line)
		}
		return r
	}

	alts := r.used[1:]
	ref := referenceAlt(r.record.Outliers, primary, alts)

	// byPrimary[k][i] is alt k's pair holding primary line i.
	byPrimary := make([]map[int]align.Pair, len(alts))
	for k, pairs := range r.pairs {
		byPrimary[k] = make(map[int]align.Pair, len(pairs))
		for _, p := range pairs {
			if p.HasPrimary() {
				byPrimary[k][p.PrimaryIndex] = p
			}
		}
	}

	r.lines = make([]FusedLine, 0, len(r.pairs[ref]))
	for _, p := range r.pairs[ref] {
		k := ref
		if p.HasPrimary() {
			k, p = closestAlt(byPrimary, ref, p)
		}
		alt := alts[k]

		var altConf *float64
		if p.HasAlt() {
			altConf = alt.LineConfidence(p.AltIndex)
		}
		line := Resolve(p, altConf, cfg.Thresholds)
		if p.HasAlt() {
			line.AltEngine = alt.EngineID
		}
		switch line.Source {
		case SourceAlt, SourceAltConfident:
			line.Engine = alt.EngineID
			line.Confidence = altConf
		case SourceEmpty:
			if p.HasPrimary() {
				line.Engine = primary.EngineID
			} else {
				line.Engine = alt.EngineID
			}
		default:
			line.Engine = primary.EngineID
			line.Confidence = primary.LineConfidence(p.PrimaryIndex)
		}
		r.lines = append(r.lines, line)
	}
	return r
}

// referenceAlt picks the alt whose page text is closest to the primary,
// earliest in preference order on ties.
func referenceAlt(report OutlierReport, primary EngineOutput, alts []EngineOutput) int {
	best, bestDist := 0, 2.0
	for k, alt := range alts {
		d, ok := report.Distance(primary.EngineID, alt.EngineID)
		if !ok {
			d = align.Distance(primary.PageText(), alt.PageText())
		}
		if d < bestDist {
			best, bestDist = k, d
		}
	}
	return best
}

// closestAlt returns the alt pair for the primary line of p with the lowest
// distance. The reference alt is tried first so it wins ties; a pair with an
// alt line always beats one without.
func closestAlt(byPrimary []map[int]align.Pair, ref int, p align.Pair) (int, align.Pair) {
	bestK, best := ref, p
	for k := range byPrimary {
		if k == ref {
			continue
		}
		cand, ok := byPrimary[k][p.PrimaryIndex]
		if !ok || !cand.HasAlt() {
			continue
		}
		if !best.HasAlt() || cand.Distance < best.Distance {
			bestK, best = k, cand
		}
	}
	return bestK, best
}

func filterFragments(cfg Config, r pageRun) pageRun {
	texts := make([]string, len(r.lines))
	for i, l := range r.lines {
		texts[i] = l.Text
	}
	_, removed := FilterFragments(texts, cfg.Fragments)
	if len(removed) == 0 {
		return r
	}
	drop := make(map[int]bool, len(removed))
	for _, rm := range removed {
		drop[rm.Index] = true
	}
	kept := make([]FusedLine, 0, len(r.lines)-len(removed))
	for i, l := range r.lines {
		if !drop[i] {
			kept = append(kept, l)
		}
	}
	r.lines = kept
	r.record.RemovedFragments = removed
	return r
}

func scoreQuality(cfg Config, r pageRun) pageRun {
	in := quality.Input{
		HasAlt:              len(r.used) > 1,
		CharFusionThreshold: cfg.Thresholds.CharFusion,
		FormHint:            r.page.FormPage,
		Dictionary:          cfg.Dictionary,
		FragmentMaxLen:      cfg.Fragments.MaxLen,
		ConfusableDigits:    cfg.Thresholds.Confusions.Digits(),
	}
	for _, l := range r.lines {
		in.Lines = append(in.Lines, l.Text)
		in.Distances = append(in.Distances, l.Distance)
	}
	for _, eng := range r.used {
		in.EngineTexts = append(in.EngineTexts, eng.PageText())
	}

	r.record.Metrics = quality.Compute(in)
	critical, reasons := quality.IsCriticalFailure(r.record.Metrics, cfg.Quality)
	r.record.Escalation.NeedsEscalation = critical
	r.record.Escalation.Reasons = reasons
	return r
}

func applyEscalation(cfg Config, r pageRun) pageRun {
	out := r.outcome
	if out == nil {
		out = &escalationOutcome{err: fmt.Errorf("%w: no outcome recorded", ErrEscalationFailed)}
	}
	esc := &r.record.Escalation
	esc.BudgetConsumed = out.reserved
	esc.Attempts = out.attempts

	switch {
	case !out.reserved && out.err == nil:
		esc.Reasons = append(esc.Reasons, ErrBudgetExhausted.Error())
		return r.enter(StateEscalationSkipped)
	case out.err != nil:
		esc.Reasons = append(esc.Reasons, out.err.Error())
		return r.enter(StateEscalationSkipped)
	}

	r.record.PreEscalationLines = r.lines
	lines := make([]FusedLine, 0, len(out.result.Lines))
	for _, l := range out.result.Lines {
		line := emit(FusedLine{Distance: 1, Confidence: l.Confidence, Engine: cfg.EscalatorName}, l.Text, SourceEscalated)
		lines = append(lines, line)
	}
	r.lines = lines
	esc.Escalated = true
	return r.enter(StateEscalated)
}

func finish(r pageRun) pageRun {
	r.record.Lines = r.lines
	if r.record.Lines == nil {
		r.record.Lines = []FusedLine{}
	}
	r.record.Status = pageStatus(r.record)
	return r.enter(StateEmitted)
}

func pageStatus(rec FusedPageRecord) PageStatus {
	esc := rec.Escalation
	switch {
	case esc.Escalated && rec.Error == "":
		return StatusSucceeded
	case esc.BudgetConsumed:
		return StatusEscalationFailed
	case rec.Error != "", len(rec.DroppedEngines) > 0, len(rec.Notes) > 0, esc.NeedsEscalation:
		return StatusDegraded
	}
	return StatusSucceeded
}
