package appads

import (
	"strings"

	"github.com/patrickwarner/adscan/internal/models"
)

// matchGroup is one AND-group of lower-cased substring conditions. A line
// matches the group when every condition is found in it; groups combine with
// OR at the line level.
type matchGroup struct {
	label string
	conds []string
}

// termTracker accounts matches for one individual search term.
type termTracker struct {
	label   string
	conds   []string
	lines   []models.MatchedLine
	count   int
	maxKeep int
}

// Matcher applies grouped search terms to lines and keeps bounded match lists.
type Matcher struct {
	groups   []matchGroup
	perTerm  []*termTracker
	lines    []models.MatchedLine
	count    int
	maxKeep  int
	perTermCap int
}

// NewMatcher builds the group structure from validated terms: plain terms form
// a single AND-group, each structured term forms its own group.
func NewMatcher(terms []models.SearchTerm, maxMatches, maxPerTerm int) *Matcher {
	if maxMatches <= 0 {
		maxMatches = 1000
	}
	if maxPerTerm <= 0 {
		maxPerTerm = 1000
	}
	m := &Matcher{maxKeep: maxMatches, perTermCap: maxPerTerm}

	var plainConds []string
	for _, t := range terms {
		if t.IsStructured() {
			conds := lowerAll(t.Structured.Fields())
			m.groups = append(m.groups, matchGroup{label: t.Label(), conds: conds})
			m.perTerm = append(m.perTerm, &termTracker{label: t.Label(), conds: conds, maxKeep: maxPerTerm})
			continue
		}
		cond := strings.ToLower(t.Plain)
		plainConds = append(plainConds, cond)
		m.perTerm = append(m.perTerm, &termTracker{label: t.Plain, conds: []string{cond}, maxKeep: maxPerTerm})
	}
	if len(plainConds) > 0 {
		m.groups = append(m.groups, matchGroup{label: strings.Join(plainConds, " "), conds: plainConds})
	}
	return m
}

// Empty reports whether the matcher has no terms at all.
func (m *Matcher) Empty() bool { return len(m.groups) == 0 }

// Offer tests one line against every group and updates the accounting.
func (m *Matcher) Offer(lineNumber int, content string) {
	if m.Empty() {
		return
	}
	lower := strings.ToLower(content)

	matched := false
	for _, g := range m.groups {
		if matchesAll(lower, g.conds) {
			matched = true
			break
		}
	}
	if matched {
		m.count++
		if len(m.lines) < m.maxKeep {
			m.lines = append(m.lines, models.MatchedLine{LineNumber: lineNumber, Content: content})
		}
	}

	for _, t := range m.perTerm {
		if matchesAll(lower, t.conds) {
			t.count++
			if len(t.lines) < t.maxKeep {
				t.lines = append(t.lines, models.MatchedLine{LineNumber: lineNumber, Content: content})
			}
		}
	}
}

// ReduceCaps shrinks the retained match lists under memory pressure. Counts
// keep accumulating; only the retained lines are trimmed.
func (m *Matcher) ReduceCaps(maxMatches int) {
	if maxMatches <= 0 || maxMatches >= m.maxKeep {
		return
	}
	m.maxKeep = maxMatches
	if len(m.lines) > maxMatches {
		m.lines = m.lines[:maxMatches]
	}
}

// Result assembles the SearchResult, flagging truncation where the retained
// lists are shorter than the true counts.
func (m *Matcher) Result() *models.SearchResult {
	if m.Empty() {
		return nil
	}

	res := &models.SearchResult{
		MatchingLines: m.lines,
		Count:         len(m.lines),
	}
	if m.count > len(m.lines) {
		res.Truncated = true
		res.OriginalCount = m.count
	}

	for _, t := range m.perTerm {
		res.Terms = append(res.Terms, t.label)
		tr := models.TermResult{
			Term:          t.label,
			MatchingLines: t.lines,
			Count:         t.count,
		}
		if t.count > len(t.lines) {
			tr.Truncated = true
			tr.OriginalCount = t.count
			tr.Count = t.count
		}
		res.PerTerm = append(res.PerTerm, tr)
	}
	return res
}

func matchesAll(lower string, conds []string) bool {
	for _, c := range conds {
		if !strings.Contains(lower, c) {
			return false
		}
	}
	return true
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
