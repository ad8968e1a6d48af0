package wire

import "testing"

func TestLatencyResponseRoundTrip(t *testing.T) {
	t.Parallel()
	r := LatencyResponse{
		LatencyMillis: 12.5,
		Now:           1700000000.25,
		Catalogue:     []string{"clipA", "clipB"},
	}

	encoded := EncodeLatencyResponse(r, true)
	got, hasData, err := ParseLatencyResponse(encoded)
	if err != nil {
		t.Fatalf("ParseLatencyResponse: %v", err)
	}
	if !hasData {
		t.Fatal("expected hasData=true")
	}
	if got.LatencyMillis != r.LatencyMillis {
		t.Errorf("LatencyMillis = %v, want %v", got.LatencyMillis, r.LatencyMillis)
	}
	if len(got.Catalogue) != 2 {
		t.Errorf("Catalogue = %v, want 2 entries", got.Catalogue)
	}
}

func TestLatencyResponseNoData(t *testing.T) {
	t.Parallel()
	encoded := EncodeLatencyResponse(LatencyResponse{}, false)
	if encoded != NoData {
		t.Fatalf("encoded = %q, want %q", encoded, NoData)
	}
	_, hasData, err := ParseLatencyResponse(encoded)
	if err != nil {
		t.Fatalf("ParseLatencyResponse: %v", err)
	}
	if hasData {
		t.Fatal("expected hasData=false")
	}
}

func TestParseLatencyResponseMalformed(t *testing.T) {
	t.Parallel()
	if _, _, err := ParseLatencyResponse("not,enough"); err == nil {
		t.Error("expected error for single-field payload")
	}
	if _, _, err := ParseLatencyResponse("abc,123,clipA"); err == nil {
		t.Error("expected error for non-numeric latency")
	}
}
