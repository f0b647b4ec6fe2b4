package models

import "testing"

func TestCategory_Valid(t *testing.T) {
	for _, c := range AllCategories() {
		if !c.Valid() {
			t.Errorf("Category(%q).Valid() = false, want true", c)
		}
	}

	for _, c := range []Category{"", "wizard", "Coder", "code"} {
		if c.Valid() {
			t.Errorf("Category(%q).Valid() = true, want false", c)
		}
	}
}

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in     string
		want   Category
		wantOK bool
	}{
		{"coder", CategoryCoder, true},
		{"  Tester ", CategoryTester, true},
		{"DEVOPS", CategoryDevOps, true},
		{"wizard", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseCategory(tt.in)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseCategory(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestPriority_Rank(t *testing.T) {
	if !(PriorityHigh.Rank() > PriorityMedium.Rank() && PriorityMedium.Rank() > PriorityLow.Rank()) {
		t.Errorf("expected high > medium > low, got %d %d %d",
			PriorityHigh.Rank(), PriorityMedium.Rank(), PriorityLow.Rank())
	}
	if Priority("urgent").Rank() != 0 {
		t.Error("unknown priority should rank 0")
	}
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in     string
		want   Priority
		wantOK bool
	}{
		{"", PriorityMedium, true},
		{"high", PriorityHigh, true},
		{" LOW", PriorityLow, true},
		{"urgent", "", false},
	}

	for _, tt := range tests {
		got, ok := ParsePriority(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParsePriority(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestContextEntry_HasTagAndClone(t *testing.T) {
	e := ContextEntry{ID: "e1", Tags: []string{"coder", "result"}}
	if !e.HasTag("coder") {
		t.Error("expected HasTag(coder)")
	}
	if e.HasTag("tester") {
		t.Error("unexpected HasTag(tester)")
	}

	c := e.Clone()
	c.Tags[0] = "changed"
	if e.Tags[0] != "coder" {
		t.Error("Clone shares tag slice with original")
	}
}

func TestEntryType_Valid(t *testing.T) {
	for _, et := range []EntryType{EntryKnowledge, EntryDecision, EntryError, EntryResult, EntryDelegation} {
		if !et.Valid() {
			t.Errorf("EntryType(%q).Valid() = false", et)
		}
	}
	if EntryType("note").Valid() {
		t.Error("EntryType(note).Valid() = true")
	}
}
