// Package course derives navigation facts from a test sequence's outline: the
// module a unit belongs to and how many questions it holds are both encoded in
// the unit's display title.
package course

import (
	"strings"

	"mocktest-backend/internal/models"
)

type Unit struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Link       string `json:"link"`
	TemplateID string `json:"template_id,omitempty"`
}

// Sequence is the ordered unit list of one test.
type Sequence struct {
	CourseID string `json:"course_id"`
	ID       string `json:"sequence_id"`
	Units    []Unit `json:"units"`
	// DeclaredTotals are per-module question totals reported by the server, if any.
	DeclaredTotals map[int]int `json:"declared_totals,omitempty"`
}

// ParseModuleNumber reads the leading integer of title up to the first
// delimiter, so "2.3" and "2. Reading" both belong to module 2.
func ParseModuleNumber(title string) (int, bool) {
	title = strings.TrimSpace(title)
	n, digits := 0, 0
	for _, r := range title {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
		digits++
		if digits > 6 {
			return 0, false
		}
	}
	if digits == 0 || n == 0 {
		return 0, false
	}
	return n, true
}

// QuestionCount is the number of hyphen-delimited segments in title.
func QuestionCount(title string) int {
	return strings.Count(title, "-") + 1
}

// ModuleTotals sums QuestionCount per module. Units without a module number
// are not counted.
func ModuleTotals(units []Unit) map[int]int {
	totals := make(map[int]int)
	for _, u := range units {
		m, ok := ParseModuleNumber(u.Title)
		if !ok {
			continue
		}
		totals[m] += QuestionCount(u.Title)
	}
	return totals
}

// DisplayTotals reconciles the title-derived totals with the server-declared
// ones, keeping the larger value per module.
func (s Sequence) DisplayTotals() map[int]int {
	totals := ModuleTotals(s.Units)
	for m, declared := range s.DeclaredTotals {
		if declared > totals[m] {
			totals[m] = declared
		}
	}
	return totals
}

// UnitQuestions is the displayed question count of one unit given the number
// of answers the quiz surface reported for it.
func UnitQuestions(u Unit, reported int) int {
	if n := QuestionCount(u.Title); n > reported {
		return n
	}
	return reported
}

func (s Sequence) IndexOf(unitID string) int {
	for i, u := range s.Units {
		if u.ID == unitID {
			return i
		}
	}
	return -1
}

// ModuleOf returns the module number of the unit at index i, or 0.
func (s Sequence) ModuleOf(i int) int {
	if i < 0 || i >= len(s.Units) {
		return 0
	}
	m, _ := ParseModuleNumber(s.Units[i].Title)
	return m
}

// LastModule is the highest module number in the sequence, or 0.
func (s Sequence) LastModule() int {
	last := 0
	for i := range s.Units {
		if m := s.ModuleOf(i); m > last {
			last = m
		}
	}
	return last
}

// Context builds the navigation context for the unit at index i with the
// following unit as next.
func (s Sequence) Context(i int) models.NavigationContext {
	return s.ContextTo(i, i+1)
}

// ContextTo builds the navigation context from unit i to unit next. A next
// index past the end means there is no next unit.
func (s Sequence) ContextTo(i, next int) models.NavigationContext {
	ctx := models.NavigationContext{
		CourseID:      s.CourseID,
		SequenceID:    s.ID,
		CurrentModule: s.ModuleOf(i),
	}
	if i >= 0 && i < len(s.Units) {
		ctx.CurrentUnitID = s.Units[i].ID
	}
	if next >= 0 && next < len(s.Units) {
		ctx.NextUnitID = s.Units[next].ID
		ctx.NextModule = s.ModuleOf(next)
	}
	return ctx
}

// NextModuleStart returns the index of the first unit after i whose module
// differs from unit i's, or len(Units) when none remains. When unit i has no
// parsable module number it returns i+1.
func (s Sequence) NextModuleStart(i int) int {
	cur := s.ModuleOf(i)
	if cur == 0 {
		return i + 1
	}
	for j := i + 1; j < len(s.Units); j++ {
		if m := s.ModuleOf(j); m != 0 && m != cur {
			return j
		}
	}
	return len(s.Units)
}

// IsModuleBoundary reports whether moving along ctx crosses into a different
// module. Unparsable module numbers never count as a boundary.
func IsModuleBoundary(ctx models.NavigationContext) bool {
	if ctx.NextUnitID == "" || ctx.CurrentModule == 0 || ctx.NextModule == 0 {
		return false
	}
	return ctx.CurrentModule != ctx.NextModule
}

// SectionID strips the structured prefix off a sequence identifier such as
// "block-v1:Org+Course+Run+type@sequential+block@abc123".
func SectionID(sequenceID string) string {
	if i := strings.LastIndex(sequenceID, "@"); i >= 0 {
		return sequenceID[i+1:]
	}
	return sequenceID
}
