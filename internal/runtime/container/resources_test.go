package container

import "testing"

func TestParseMemory(t *testing.T) {
	cases := map[string]int64{
		"256Mi": 256 * 1024 * 1024,
		"2Gi":   2 * 1024 * 1024 * 1024,
		"500M":  500 * 1000 * 1000,
		"":      0,
	}
	for in, want := range cases {
		got, err := parseMemory(in)
		if err != nil {
			t.Fatalf("parseMemory(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("parseMemory(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestParseCPU(t *testing.T) {
	cases := map[string]int64{
		"500m": 500_000_000,
		"1":    1_000_000_000,
		"0.5":  500_000_000,
		"":     0,
	}
	for in, want := range cases {
		got, err := parseCPU(in)
		if err != nil {
			t.Fatalf("parseCPU(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("parseCPU(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestParseMemory_Invalid(t *testing.T) {
	if _, err := parseMemory("not-a-number"); err == nil {
		t.Fatal("expected error for invalid memory quantity")
	}
}
