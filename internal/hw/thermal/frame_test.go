package thermal

import "testing"

func TestNewFrame_RaggedRowsRejected(t *testing.T) {
	if _, err := NewFrame([][]int{{1, 2}, {3}}); err == nil {
		t.Error("expected error for ragged rows")
	}
}

func TestNewFrame_CopiesInput(t *testing.T) {
	rows := [][]int{{1, 2, 3}, {4, 5, 6}}
	f, err := NewFrame(rows)
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	rows[0][0] = 99
	if f.At(0, 0) != 1 {
		t.Error("frame must not alias caller slices")
	}
	r := f.Row(1)
	r[0] = 42
	if f.At(1, 0) != 4 {
		t.Error("Row must return a copy")
	}
	if f.Rows() != 2 || f.Columns() != 3 {
		t.Errorf("geometry = %dx%d, want 2x3", f.Rows(), f.Columns())
	}
}

func TestNormalize_ScalesToLimits(t *testing.T) {
	raw := []float64{
		20, 25, 30,
		20, 20, 20,
	}
	f, err := Normalize(raw, 2, 3, 0, 100, false)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	want := [][]int{{0, 50, 100}, {0, 0, 0}}
	for r := range want {
		for c := range want[r] {
			if f.At(r, c) != want[r][c] {
				t.Errorf("At(%d,%d) = %d, want %d", r, c, f.At(r, c), want[r][c])
			}
		}
	}
}

func TestNormalize_Mirror(t *testing.T) {
	raw := []float64{1, 2, 3, 4}
	f, err := Normalize(raw, 1, 4, 0, 3, true)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	want := []int{3, 2, 1, 0}
	for c, w := range want {
		if f.At(0, c) != w {
			t.Errorf("At(0,%d) = %d, want %d", c, f.At(0, c), w)
		}
	}
}

func TestNormalize_FlatFrame(t *testing.T) {
	f, err := Normalize([]float64{7, 7, 7, 7}, 2, 2, 5, 100, false)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	for r := 0; r < 2; r++ {
		for c := 0; c < 2; c++ {
			if f.At(r, c) != 5 {
				t.Errorf("flat frame pixel = %d, want 5", f.At(r, c))
			}
		}
	}
}

func TestNormalize_BadGeometry(t *testing.T) {
	if _, err := Normalize([]float64{1, 2, 3}, 2, 2, 0, 100, false); err == nil {
		t.Error("expected error for sample count mismatch")
	}
	if _, err := Normalize(nil, 0, 2, 0, 100, false); err == nil {
		t.Error("expected error for zero rows")
	}
}

func TestSimulated_ReadyAfterPolls(t *testing.T) {
	s := NewSimulated(SimConfig{TargetColumn: 20, TargetRow: 12, Peak: 10, Ambient: 22, PollsPerFrame: 3})

	for i := 0; i < 2; i++ {
		if f, ok, err := s.CaptureNonBlocking(); ok || f != nil || err != nil {
			t.Fatalf("poll %d: expected not ready, got ok=%v err=%v", i, ok, err)
		}
	}
	f, ok, err := s.CaptureNonBlocking()
	if err != nil || !ok {
		t.Fatalf("third poll: ok=%v err=%v", ok, err)
	}
	if f.Columns() != DefaultColumns || f.Rows() != DefaultRows {
		t.Errorf("geometry = %dx%d", f.Columns(), f.Rows())
	}
	if f.At(12, 20) != 100 {
		t.Errorf("blob center = %d, want 100", f.At(12, 20))
	}
}
