package points

import (
	"encoding/json"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Amount
		err  bool
	}{
		{in: "12", want: 1200},
		{in: "12.5", want: 1250},
		{in: "0.05", want: 5},
		{in: "-3.25", want: -325},
		{in: "1.005", want: 101},
		{in: "1.994", want: 199},
		{in: ".5", want: 50},
		{in: "", err: true},
		{in: "abc", err: true},
		{in: "1.2x", err: true},
		{in: "--5", err: true},
		{in: "-+5", err: true},
		{in: "+-5", err: true},
		{in: "+7", want: 700},
		{in: "92233720368547758", err: true},
		{in: "92233720368547757.99", want: 9223372036854775799},
	}
	for _, tc := range tests {
		got, err := Parse(tc.in)
		if tc.err {
			if err == nil {
				t.Fatalf("Parse(%q) expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Parse(%q) unexpected error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("Parse(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestDivFloorTruncatesToCents(t *testing.T) {
	tests := []struct {
		total Amount
		n     int
		want  Amount
	}{
		{total: FromInt(10), n: 3, want: 333},
		{total: FromInt(100), n: 7, want: 1428},
		{total: FromInt(5), n: 0, want: 0},
		{total: -100, n: 2, want: 0},
	}
	for _, tc := range tests {
		if got := tc.total.DivFloor(tc.n); got != tc.want {
			t.Fatalf("%s.DivFloor(%d) = %s, want %s", tc.total, tc.n, got, tc.want)
		}
	}
}

func TestDivRoundHalfAwayFromZero(t *testing.T) {
	tests := []struct {
		total Amount
		n     int
		want  Amount
	}{
		{total: 13333, n: 2, want: 6667},
		{total: FromInt(10), n: 3, want: 333},
		{total: FromInt(20), n: 3, want: 667},
		{total: -13333, n: 2, want: -6667},
		{total: FromInt(5), n: 0, want: 0},
	}
	for _, tc := range tests {
		if got := tc.total.DivRound(tc.n); got != tc.want {
			t.Fatalf("%s.DivRound(%d) = %s, want %s", tc.total, tc.n, got, tc.want)
		}
	}
}

func TestPercentRoundsHalfAwayFromZero(t *testing.T) {
	tests := []struct {
		part, whole Amount
		want        Amount
	}{
		{part: FromInt(5), whole: FromInt(10), want: 5000},
		{part: FromInt(1), whole: FromInt(3), want: 3333},
		{part: FromInt(2), whole: FromInt(3), want: 6667},
		{part: 1, whole: FromInt(8), want: 13},
		{part: FromInt(3), whole: 0, want: 0},
	}
	for _, tc := range tests {
		if got := Percent(tc.part, tc.whole); got != tc.want {
			t.Fatalf("Percent(%s, %s) = %s, want %s", tc.part, tc.whole, got, tc.want)
		}
	}
}

func TestScanSources(t *testing.T) {
	var a Amount
	for _, src := range []any{int64(3), float64(3), []byte("3.00"), "3"} {
		if err := a.Scan(src); err != nil {
			t.Fatalf("Scan(%T) error: %v", src, err)
		}
		if a != 300 {
			t.Fatalf("Scan(%T) = %d", src, a)
		}
	}

	var n NullAmount
	if err := n.Scan(nil); err != nil || n.Valid {
		t.Fatalf("Scan(nil) = %+v, %v", n, err)
	}
	if err := n.Scan(float64(2.5)); err != nil || !n.Valid || n.Amount != 250 {
		t.Fatalf("Scan(2.5) = %+v, %v", n, err)
	}
}

func TestJSONNumbers(t *testing.T) {
	var payload struct {
		Points NullAmount `json:"points"`
		Total  Amount     `json:"total"`
	}
	if err := json.Unmarshal([]byte(`{"points":2.5,"total":"10"}`), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !payload.Points.Valid || payload.Points.Amount != 250 || payload.Total != 1000 {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	out, err := json.Marshal(struct {
		A Amount     `json:"a"`
		B NullAmount `json:"b"`
	}{A: 1250})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"a":12.50,"b":null}` {
		t.Fatalf("unexpected json: %s", out)
	}
}
