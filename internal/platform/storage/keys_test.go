package storage

import "testing"

func TestCleanObjectKey(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "exports/catalog/2026/05/01/a.csv", want: "exports/catalog/2026/05/01/a.csv"},
		{in: " /exports/a.csv/ ", want: "exports/a.csv"},
		{in: "", wantErr: true},
		{in: "exports/../secrets", wantErr: true},
		{in: "exports//a.csv", wantErr: true},
		{in: "exports\\a.csv", wantErr: true},
	}
	for _, tc := range cases {
		got, err := CleanObjectKey(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("CleanObjectKey(%q): expected error, got %q", tc.in, got)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("CleanObjectKey(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
}

func TestJoinKey(t *testing.T) {
	if got := JoinKey("", "a.csv"); got != "a.csv" {
		t.Fatalf("unexpected %q", got)
	}
	if got := JoinKey("/orderops/", "a.csv"); got != "orderops/a.csv" {
		t.Fatalf("unexpected %q", got)
	}
}
