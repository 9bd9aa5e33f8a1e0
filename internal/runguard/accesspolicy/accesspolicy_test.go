package accesspolicy

import "testing"

func TestAllowed(t *testing.T) {
	cases := []struct {
		name      string
		allowList string
		uid       int
		username  string
		want      bool
	}{
		{"empty allow-list permits everything", "", 1000, "alice", true},
		{"exact uid match", "1000,1001", 1000, "alice", true},
		{"uid not in list", "1001,1002", 1000, "alice", false},
		{"exact username match", "alice,bob", 2000, "alice", true},
		{"glob match", "contestant-*", 2000, "contestant-42", true},
		{"glob no match", "contestant-*", 2000, "admin", false},
		{"whitespace tolerant", " alice , bob ", 2000, "bob", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Allowed(tc.allowList, tc.uid, tc.username); got != tc.want {
				t.Fatalf("Allowed(%q, %d, %q) = %v, want %v", tc.allowList, tc.uid, tc.username, got, tc.want)
			}
		})
	}
}
