package compute

import "testing"

func TestNormalizeStatus(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"QUEUED", "queued"},
		{"waiting", "queued"},
		{"BUILDING", "building"},
		{"in_progress", "building"},
		{"SUCCESS", "success"},
		{"ACTIVE", "success"},
		{"CRASHED", "crashed"},
		{"TIMED_OUT", "timeout"},
		{"FAILED", "failed"},
		{"something-new", "failed"},
	}
	for _, tc := range cases {
		if got := string(normalizeStatus(tc.in)); got != tc.want {
			t.Errorf("normalizeStatus(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
