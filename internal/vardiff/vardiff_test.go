package vardiff

import "testing"

func approxEqual(a, b, tol float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= tol
}

func TestEMASequenceMatchesSpecExample(t *testing.T) {
	ema := EMA(0, 1.0, 0.3)
	if !approxEqual(ema, 0.3, 1e-9) {
		t.Fatalf("first raw EMA step = %v, want 0.3 (Worker.Adjust special-cases the seed step)", ema)
	}

	var w Worker
	cfg := DefaultConfig()
	w.Diff = 1

	d1 := Adjust(&w, 1.0, cfg)
	if !approxEqual(d1.EMA, 1.0, 1e-9) {
		t.Fatalf("ema after first sample = %v, want 1.0 (seeded directly)", d1.EMA)
	}

	d2 := Adjust(&w, 2.0, cfg)
	if !approxEqual(d2.EMA, 1.3, 1e-9) {
		t.Fatalf("ema after second sample = %v, want 1.3", d2.EMA)
	}

	d3 := Adjust(&w, 2.0, cfg)
	if !approxEqual(d3.EMA, 1.51, 0.01) {
		t.Fatalf("ema after third sample = %v, want 1.51±0.01", d3.EMA)
	}
}

func TestAdjustNoChangeWithinDeadband(t *testing.T) {
	var w Worker
	cfg := DefaultConfig()
	w.Diff = 100

	// measuredHashrate == Diff keeps ratio at 1.0, squarely inside [0.8, 1.2].
	d := Adjust(&w, 100, cfg)
	if d.Kind != NoChange {
		t.Fatalf("Kind = %v, want NoChange", d.Kind)
	}
	if d.Diff != 100 {
		t.Fatalf("Diff changed to %v on a no-change decision", d.Diff)
	}
	if w.StableRounds() != 1 {
		t.Fatalf("StableRounds = %d, want 1", w.StableRounds())
	}
}

func TestAdjustDampenedStepOutsideDeadband(t *testing.T) {
	var w Worker
	cfg := DefaultConfig()
	w.Diff = 100

	// ratio = 1.5, outside [0.8, 1.2] but below the fast-ramp threshold.
	d := Adjust(&w, 150, cfg)
	if d.Kind != Adjusted {
		t.Fatalf("Kind = %v, want Adjusted", d.Kind)
	}
	want := 100 * (1 + 0.5*(1.5-1))
	if !approxEqual(d.Diff, want, 1e-9) {
		t.Fatalf("Diff = %v, want %v", d.Diff, want)
	}
	if w.StableRounds() != 0 {
		t.Fatalf("StableRounds = %d, want 0 after an adjustment", w.StableRounds())
	}
}

func TestAdjustFastRampWithinFirstThreeAdjustments(t *testing.T) {
	var w Worker
	cfg := DefaultConfig()
	w.Diff = 100

	// ratio = 10, above FastRampRatio (4.0); capped by FastRampMaxJump (8.0).
	d := Adjust(&w, 1000, cfg)
	if d.Kind != FastRamped {
		t.Fatalf("Kind = %v, want FastRamped", d.Kind)
	}
	want := 100 * cfg.FastRampMaxJump
	if !approxEqual(d.Diff, want, 1e-9) {
		t.Fatalf("Diff = %v, want %v (capped at FastRampMaxJump)", d.Diff, want)
	}
}

func TestAdjustFastRampOnlyAppliesToFirstThreeAdjustments(t *testing.T) {
	cfg := DefaultConfig()

	// Once a worker has already used up its fast-ramp allowance, an
	// equally extreme ratio must fall back to a dampened step.
	w := Worker{Diff: 100, adjustments: cfg.FastRampAdjustments}
	d := Adjust(&w, 1000, cfg)
	if d.Kind != Adjusted {
		t.Fatalf("Kind = %v, want Adjusted (fast ramp allowance already spent)", d.Kind)
	}
}

func TestAdjustClampsToMinAndMaxDiff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinDiff = 10
	cfg.MaxDiff = 20

	var low Worker
	low.Diff = 10
	d := Adjust(&low, 0.01, cfg)
	if d.Diff < cfg.MinDiff {
		t.Fatalf("Diff = %v, want >= MinDiff %v", d.Diff, cfg.MinDiff)
	}

	var high Worker
	high.Diff = 10
	d = Adjust(&high, 1000, cfg)
	if d.Diff > cfg.MaxDiff {
		t.Fatalf("Diff = %v, want <= MaxDiff %v", d.Diff, cfg.MaxDiff)
	}
}

func TestAdjustSeedsNonPositiveDiffFromMinDiff(t *testing.T) {
	var w Worker
	cfg := DefaultConfig()
	cfg.MinDiff = 5

	d := Adjust(&w, 5, cfg)
	if d.Kind != NoChange {
		t.Fatalf("Kind = %v, want NoChange (ratio should be 1.0 once Diff seeds from MinDiff)", d.Kind)
	}
}

func TestWorkerRecentSamplesTracksHistoryInOrder(t *testing.T) {
	var w Worker
	cfg := DefaultConfig()
	w.Diff = 100

	Adjust(&w, 1, cfg)
	Adjust(&w, 2, cfg)
	Adjust(&w, 3, cfg)

	samples := w.RecentSamples()
	want := []float64{1, 2, 3}
	if len(samples) != len(want) {
		t.Fatalf("RecentSamples = %v, want %v", samples, want)
	}
	for i := range want {
		if samples[i] != want[i] {
			t.Fatalf("RecentSamples = %v, want %v", samples, want)
		}
	}
}

func TestSampleRingEvictsOldestWhenFull(t *testing.T) {
	r := newSampleRing[float64](4)
	for i := 1; i <= 6; i++ {
		r.Push(float64(i))
	}
	got := r.Slice()
	want := []float64{3, 4, 5, 6}
	if len(got) != len(want) {
		t.Fatalf("Slice() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Slice() = %v, want %v", got, want)
		}
	}
}
