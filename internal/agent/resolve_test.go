package agent

import "testing"

func TestMatchTasks(t *testing.T) {
	candidates := []Candidate{
		{ID: 1, Title: "Buy milk"},
		{ID: 2, Title: "Buy milk and eggs"},
		{ID: 3, Title: "Call dentist", Description: "about the crown"},
		{ID: 4, Title: "Walk the dog"},
		{ID: 5, Title: "dentist followup"},
	}

	cases := []struct {
		name      string
		reference string
		wantIDs   []int64
	}{
		{"exact title wins over substring", "buy milk", []int64{1}},
		{"substring match", "milk and eggs", []int64{2}},
		{"substring across multiple", "dentist", []int64{3, 5}},
		{"all words in title and description", "crown dentist", []int64{3}},
		{"case insensitive", "WALK THE DOG", []int64{4}},
		{"no match", "file taxes", nil},
		{"empty reference", "   ", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := MatchTasks(tc.reference, candidates)
			if len(got) != len(tc.wantIDs) {
				t.Fatalf("expected %d matches, got %d: %+v", len(tc.wantIDs), len(got), got)
			}
			for i, want := range tc.wantIDs {
				if got[i].ID != want {
					t.Errorf("match %d: expected id %d, got %d", i, want, got[i].ID)
				}
			}
		})
	}
}

func TestMatchTasksEmptyCandidates(t *testing.T) {
	if got := MatchTasks("anything", nil); len(got) != 0 {
		t.Errorf("expected no matches, got %+v", got)
	}
}
