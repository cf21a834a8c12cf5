package tracker

import "testing"

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	cases := []struct {
		req       PageRequest
		want      []int
		next, prv bool
		pages     int
	}{
		{PageRequest{Page: 1, Limit: 2}, []int{1, 2}, true, false, 3},
		{PageRequest{Page: 3, Limit: 2}, []int{5}, false, true, 3},
		{PageRequest{Page: 9, Limit: 2}, []int{}, false, true, 3},
		{PageRequest{Page: 0, Limit: -1}, items, false, false, 1},
	}
	for _, tc := range cases {
		page := Paginate(items, tc.req)
		if len(page.Items) != len(tc.want) {
			t.Fatalf("%+v: items %v, want %v", tc.req, page.Items, tc.want)
		}
		for i := range tc.want {
			if page.Items[i] != tc.want[i] {
				t.Fatalf("%+v: items %v, want %v", tc.req, page.Items, tc.want)
			}
		}
		if page.HasNextPage != tc.next || page.HasPreviousPage != tc.prv || page.TotalPages != tc.pages || page.TotalCount != 5 {
			t.Fatalf("%+v: unexpected metadata %+v", tc.req, page)
		}
	}
}

func TestParseStatus(t *testing.T) {
	if st, err := ParseStatus(" in_progress "); err != nil || st != StatusInProgress {
		t.Fatalf("ParseStatus = %q, %v", st, err)
	}
	if _, err := ParseStatus("PAUSED"); err == nil {
		t.Fatal("expected error")
	}
}
