package audittrail

import "testing"

func TestRebindPostgresPlaceholders(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"simple", "SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = $1 AND b = $2"},
		{"no placeholders", "SELECT * FROM t", "SELECT * FROM t"},
		{"question mark inside string literal is untouched", "SELECT ? FROM t WHERE note = 'is this ok?'", "SELECT $1 FROM t WHERE note = 'is this ok?'"},
		{"escaped single quote inside literal", "SELECT ? WHERE note = 'it''s ?fine'", "SELECT $1 WHERE note = 'it''s ?fine'"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := rebindPostgresPlaceholders(tc.in); got != tc.want {
				t.Fatalf("rebindPostgresPlaceholders(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestBoolToInt(t *testing.T) {
	if boolToInt(true) != 1 {
		t.Fatal("expected true -> 1")
	}
	if boolToInt(false) != 0 {
		t.Fatal("expected false -> 0")
	}
}
