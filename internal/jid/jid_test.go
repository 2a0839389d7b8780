package jid

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"leading zero", "08123", "628123@c.us", false},
		{"plus prefix", "+628123", "628123@c.us", false},
		{"bare 8 prefix", "8123", "628123@c.us", false},
		{"already canonical group", "123456-789@g.us", "123456-789@g.us", false},
		{"already canonical user", "628123@c.us", "628123@c.us", false},
		{"contains at", "foo@bar", "foo@bar", false},
		{"unsupported prefix", "7123", "", true},
		{"empty", "", "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Normalize(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"08123", "+628123", "8123", "628123@c.us", "g@g.us"}
	for _, in := range inputs {
		once, err := Normalize(in)
		if err != nil {
			t.Fatalf("Normalize(%q) failed: %v", in, err)
		}
		twice, err := Normalize(once)
		if err != nil {
			t.Fatalf("Normalize(Normalize(%q)) failed: %v", in, err)
		}
		if once != twice {
			t.Fatalf("not idempotent: Normalize(%q)=%q but Normalize of that=%q", in, once, twice)
		}
	}
}
