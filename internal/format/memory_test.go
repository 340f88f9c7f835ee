package format

import "testing"

func TestParseMemorySizeBytes(t *testing.T) {
	cases := map[string]int64{
		"100":  100,
		"0":    0,
		"1024": 1024,
		"100b": 100,
		"100B": 100,
		"0b":   0,
	}
	for in, want := range cases {
		got, err := ParseMemorySize(in)
		if err != nil {
			t.Fatalf("ParseMemorySize(%q) unexpected error: %v", in, err)
		}
		if got != want {
			t.Errorf("ParseMemorySize(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestParseMemorySizeUnits(t *testing.T) {
	cases := map[string]int64{
		"1k":   1024,
		"1K":   1024,
		"1kb":  1024,
		"1KB":  1024,
		"2k":   2048,
		"1m":   1024 * 1024,
		"1mb":  1024 * 1024,
		"2m":   2 * 1024 * 1024,
		"1g":   1024 * 1024 * 1024,
		"1gb":  1024 * 1024 * 1024,
		"2g":   2 * 1024 * 1024 * 1024,
		"1t":   1024 * 1024 * 1024 * 1024,
		"1tb":  1024 * 1024 * 1024 * 1024,
	}
	for in, want := range cases {
		got, err := ParseMemorySize(in)
		if err != nil {
			t.Fatalf("ParseMemorySize(%q) unexpected error: %v", in, err)
		}
		if got != want {
			t.Errorf("ParseMemorySize(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestParseMemorySizeDecimal(t *testing.T) {
	got, _ := ParseMemorySize("1.5k")
	if want := int64(1.5 * 1024); got != want {
		t.Errorf("1.5k = %d, want %d", got, want)
	}
	got, _ = ParseMemorySize("0.5g")
	if want := int64(0.5 * 1024 * 1024 * 1024); got != want {
		t.Errorf("0.5g = %d, want %d", got, want)
	}
}

func TestParseMemorySizeWhitespace(t *testing.T) {
	cases := map[string]int64{
		" 100 ": 100,
		" 1k ":  1024,
		"1 k":   1024,
		" 1 mb ": 1024 * 1024,
	}
	for in, want := range cases {
		got, err := ParseMemorySize(in)
		if err != nil {
			t.Fatalf("ParseMemorySize(%q) unexpected error: %v", in, err)
		}
		if got != want {
			t.Errorf("ParseMemorySize(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestParseMemorySizeInvalidFormat(t *testing.T) {
	for _, in := range []string{"abc", "1.2.3k", ""} {
		if _, err := ParseMemorySize(in); err == nil {
			t.Errorf("ParseMemorySize(%q) expected error, got nil", in)
		}
	}
}

func TestParseMemorySizeUnknownUnit(t *testing.T) {
	for _, in := range []string{"100x", "100pb"} {
		if _, err := ParseMemorySize(in); err == nil {
			t.Errorf("ParseMemorySize(%q) expected error, got nil", in)
		}
	}
}

func TestParseMemorySizeEdgeCases(t *testing.T) {
	cases := map[string]int64{
		"0.0":  0,
		"0.0k": 0,
		"1000": 1000,
	}
	for in, want := range cases {
		got, err := ParseMemorySize(in)
		if err != nil {
			t.Fatalf("ParseMemorySize(%q) unexpected error: %v", in, err)
		}
		if got != want {
			t.Errorf("ParseMemorySize(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestMemorySizeRoundTrip(t *testing.T) {
	for u := 0; u <= 4; u++ {
		scale := int64(1)
		for i := 0; i < u; i++ {
			scale *= 1024
		}
		n := 3 * scale
		canon := CanonicalMemoryString(n)
		got, err := ParseMemorySize(canon)
		if err != nil {
			t.Fatalf("round trip parse of %q failed: %v", canon, err)
		}
		if got != n {
			t.Errorf("round trip: canonical(%d)=%q, parsed back=%d", n, canon, got)
		}
	}
}

func TestFormatByteSize(t *testing.T) {
	if got := FormatByteSize(512); got != "512 bytes" {
		t.Errorf("FormatByteSize(512) = %q", got)
	}
	if got := FormatByteSize(2048); got != "2.00 KB" {
		t.Errorf("FormatByteSize(2048) = %q", got)
	}
}
