package course

import "testing"

func TestParseModuleNumber(t *testing.T) {
	tests := []struct {
		title  string
		want   int
		wantOK bool
	}{
		{"2.3", 2, true},
		{"2. Reading and Writing - Q1 - Q2", 2, true},
		{"  12 Algebra", 12, true},
		{"3", 3, true},
		{"Module 2", 0, false},
		{"", 0, false},
		{".5", 0, false},
		{"0.1", 0, false},
	}

	for _, tc := range tests {
		t.Run(tc.title, func(t *testing.T) {
			got, ok := ParseModuleNumber(tc.title)
			if got != tc.want || ok != tc.wantOK {
				t.Errorf("ParseModuleNumber(%q) = %d, %v; want %d, %v", tc.title, got, ok, tc.want, tc.wantOK)
			}
		})
	}
}

func TestQuestionCount(t *testing.T) {
	tests := []struct {
		title string
		want  int
	}{
		{"2.3", 1},
		{"2.3 - Q2", 2},
		{"1.1 Passage-A-B-C", 4},
	}
	for _, tc := range tests {
		if got := QuestionCount(tc.title); got != tc.want {
			t.Errorf("QuestionCount(%q) = %d; want %d", tc.title, got, tc.want)
		}
	}
}

func testSequence() Sequence {
	return Sequence{
		CourseID: "course-v1:Org+SAT+2026",
		ID:       "block-v1:Org+SAT+2026+type@sequential+block@practice1",
		Units: []Unit{
			{ID: "u1", Title: "1.1 - a - b"},
			{ID: "u2", Title: "1.2"},
			{ID: "u3", Title: "Break"},
			{ID: "u4", Title: "2.1 - a"},
			{ID: "u5", Title: "2.2"},
		},
	}
}

func TestModuleTotalsAndDisplayTotals(t *testing.T) {
	seq := testSequence()

	totals := ModuleTotals(seq.Units)
	if totals[1] != 4 || totals[2] != 3 || len(totals) != 2 {
		t.Fatalf("ModuleTotals = %v; want map[1:4 2:3]", totals)
	}

	seq.DeclaredTotals = map[int]int{1: 2, 2: 10}
	display := seq.DisplayTotals()
	if display[1] != 4 {
		t.Errorf("module 1 display total = %d; want title-derived 4", display[1])
	}
	if display[2] != 10 {
		t.Errorf("module 2 display total = %d; want declared 10", display[2])
	}
}

func TestContextAndBoundaries(t *testing.T) {
	seq := testSequence()

	ctx := seq.Context(0)
	if ctx.CurrentUnitID != "u1" || ctx.NextUnitID != "u2" || IsModuleBoundary(ctx) {
		t.Errorf("u1->u2 = %+v; want same module", ctx)
	}

	// An unparsable title on either side never forms a boundary.
	if IsModuleBoundary(seq.Context(1)) || IsModuleBoundary(seq.Context(2)) {
		t.Error("unparsable title produced a module boundary")
	}

	if !IsModuleBoundary(seq.ContextTo(1, 3)) {
		t.Error("1.2 -> 2.1 should be a module boundary")
	}

	last := seq.Context(4)
	if last.NextUnitID != "" || IsModuleBoundary(last) {
		t.Errorf("last unit context = %+v; want no next unit", last)
	}

	if seq.LastModule() != 2 {
		t.Errorf("LastModule = %d; want 2", seq.LastModule())
	}
	if i := seq.IndexOf("u4"); i != 3 {
		t.Errorf("IndexOf(u4) = %d; want 3", i)
	}
}

func TestNextModuleStart(t *testing.T) {
	seq := testSequence()
	if got := seq.NextModuleStart(0); got != 3 {
		t.Errorf("NextModuleStart(0) = %d; want 3", got)
	}
	if got := seq.NextModuleStart(3); got != len(seq.Units) {
		t.Errorf("NextModuleStart(3) = %d; want end", got)
	}
	if got := seq.NextModuleStart(2); got != 3 {
		t.Errorf("NextModuleStart on unparsable unit = %d; want 3", got)
	}
}

func TestSectionID(t *testing.T) {
	if got := SectionID("block-v1:Org+SAT+2026+type@sequential+block@practice1"); got != "practice1" {
		t.Errorf("SectionID = %q", got)
	}
	if got := SectionID("plain"); got != "plain" {
		t.Errorf("SectionID(plain) = %q", got)
	}
}

func TestUnitQuestions(t *testing.T) {
	u := Unit{Title: "1.1 - a - b"}
	if got := UnitQuestions(u, 2); got != 3 {
		t.Errorf("UnitQuestions = %d; want 3", got)
	}
	if got := UnitQuestions(u, 5); got != 5 {
		t.Errorf("UnitQuestions = %d; want 5", got)
	}
}
