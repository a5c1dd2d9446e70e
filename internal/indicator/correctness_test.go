package indicator

import (
	"errors"
	"math"
	"testing"

	"macd-backtester/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helper
// ────────────────────────────────────────────────────────────

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// ────────────────────────────────────────────────────────────
// EMA Correctness
// ────────────────────────────────────────────────────────────

func TestEMA_Correctness_Period3(t *testing.T) {
	// EMA(3): multiplier = 2/(3+1) = 0.5
	// Prices: 100, 102, 104, 103, 105
	// Seed after price 3: SMA = (100+102+104)/3 = 102.0
	// Price 4: 102 + 0.5*(103-102) = 102.5
	// Price 5: 102.5 + 0.5*(105-102.5) = 103.75

	ema := NewEMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 102.5, 103.75}
	ready := []bool{false, false, true, true, true}

	for i, p := range prices {
		ema.Update(p)
		if ema.Ready() != ready[i] {
			t.Errorf("price %d: Ready()=%v, want %v", i, ema.Ready(), ready[i])
		}
		if ready[i] {
			assertClose(t, "EMA(3)", ema.Value(), expected[i], 0.0001)
		}
	}
}

func TestEMA_Peek_DoesNotMutate(t *testing.T) {
	ema := NewEMA(3)
	for _, p := range []float64{100, 102, 104} {
		ema.Update(p)
	}
	before := ema.Value()

	peeked := ema.Peek(110)
	assertClose(t, "Peek", peeked, 106.0, 0.0001)

	if ema.Value() != before {
		t.Errorf("Peek mutated state: before=%.4f after=%.4f", before, ema.Value())
	}
}

func TestEMA_Peek_DuringWarmUp(t *testing.T) {
	ema := NewEMA(3)
	ema.Update(100)
	ema.Update(102)
	// Third value completes the seed: (100+102+104)/3
	assertClose(t, "Peek seed", ema.Peek(104), 102.0, 0.0001)
}

func TestEMA_ConstantInputStaysExact(t *testing.T) {
	ema := NewEMA(12)
	for i := 0; i < 500; i++ {
		ema.Update(50.0)
	}
	if ema.Value() != 50.0 {
		t.Errorf("constant input drifted: %.17f", ema.Value())
	}
}

func TestEMA_Reset(t *testing.T) {
	ema := NewEMA(2)
	ema.Update(10)
	ema.Update(20)
	ema.Reset()
	if ema.Ready() || ema.Value() != 0 {
		t.Errorf("Reset left state: ready=%v value=%.4f", ema.Ready(), ema.Value())
	}
}

// ────────────────────────────────────────────────────────────
// MACD Correctness
// ────────────────────────────────────────────────────────────

func TestMACD_Correctness_Small(t *testing.T) {
	// MACD(2,3,2) over a doubling series, hand-calculated:
	//   fast EMA(2), k=2/3: -, 1.5, 3.16667, 6.38889, 12.79630, 25.59877
	//   slow EMA(3), k=1/2: -, -, 2.33333, 5.16667, 10.58333, 21.29167
	//   MACD:               -, -, 0.83333, 1.22222, 2.21296, 4.30710
	//   signal EMA(2):      -, -, -, 1.02778, 1.81790, 3.47737
	//   histogram:          -, -, -, 0.19444, 0.39506, 0.82973
	frame, err := ComputeMACD([]float64{1, 2, 4, 8, 16, 32}, 2, 3, 2)
	if err != nil {
		t.Fatalf("ComputeMACD: %v", err)
	}

	wantMACD := []float64{0, 0, 0.833333, 1.222222, 2.212963, 4.307099}
	wantSignal := []float64{0, 0, 0, 1.027778, 1.817901, 3.477366}
	wantHist := []float64{0, 0, 0, 0.194444, 0.395062, 0.829733}

	for i, p := range frame.Points {
		if p.MACDReady != (i >= 2) {
			t.Errorf("bar %d: MACDReady=%v", i, p.MACDReady)
		}
		if p.Ready != (i >= 3) {
			t.Errorf("bar %d: Ready=%v", i, p.Ready)
		}
		if p.MACDReady {
			assertClose(t, "macd", p.MACD, wantMACD[i], 0.00001)
		}
		if p.Ready {
			assertClose(t, "signal", p.Signal, wantSignal[i], 0.00001)
			assertClose(t, "histogram", p.Histogram, wantHist[i], 0.00001)
		}
	}
}

func TestComputeMACD_WarmUpAlignment(t *testing.T) {
	prices := make([]float64, 80)
	for i := range prices {
		prices[i] = 100 + 10*math.Sin(float64(i)/5)
	}

	frame, err := ComputeMACD(prices, 12, 26, 9)
	if err != nil {
		t.Fatalf("ComputeMACD: %v", err)
	}
	if frame.Len() != len(prices) {
		t.Fatalf("frame length %d, want %d", frame.Len(), len(prices))
	}
	for i := 0; i < 25; i++ {
		if frame.Points[i].MACDReady || frame.Points[i].Ready {
			t.Errorf("bar %d should be undefined during warm-up", i)
		}
	}
	if !frame.Points[25].MACDReady {
		t.Error("bar 25 should have a MACD value")
	}
	if got := frame.FirstReady(); got != 33 {
		t.Errorf("FirstReady = %d, want 33", got)
	}
}

func TestComputeMACD_ConstantSeriesIsFlat(t *testing.T) {
	prices := make([]float64, 100)
	for i := range prices {
		prices[i] = 50.0
	}
	frame, err := ComputeMACD(prices, 12, 26, 9)
	if err != nil {
		t.Fatalf("ComputeMACD: %v", err)
	}
	for i, p := range frame.Points {
		if p.MACDReady && p.MACD != 0 {
			t.Errorf("bar %d: macd=%g, want 0", i, p.MACD)
		}
		if p.Ready && p.Histogram != 0 {
			t.Errorf("bar %d: histogram=%g, want 0", i, p.Histogram)
		}
	}
}

func TestComputeMACD_Errors(t *testing.T) {
	short := make([]float64, 25)
	for i := range short {
		short[i] = float64(i + 1)
	}

	if _, err := ComputeMACD(short, 12, 26, 9); !errors.Is(err, model.ErrInsufficientData) {
		t.Errorf("25 prices with slow=26: expected ErrInsufficientData, got %v", err)
	}
	if _, err := ComputeMACD(short, 12, 12, 9); !errors.Is(err, model.ErrInvalidParameter) {
		t.Errorf("fast == slow: expected ErrInvalidParameter, got %v", err)
	}
	if _, err := ComputeMACD(short, 3, 5, 0); !errors.Is(err, model.ErrInvalidParameter) {
		t.Errorf("signal=0: expected ErrInvalidParameter, got %v", err)
	}
	// Exactly slow_period prices is enough for a MACD line.
	if _, err := ComputeMACD(short[:5], 3, 5, 2); err != nil {
		t.Errorf("len == slow: unexpected error %v", err)
	}
}

func TestComputeMACD_Deterministic(t *testing.T) {
	prices := []float64{10, 11, 13, 12, 15, 14, 16, 18, 17, 19, 22, 21}
	a, _ := ComputeMACD(prices, 3, 6, 3)
	b, _ := ComputeMACD(prices, 3, 6, 3)
	for i := range a.Points {
		if a.Points[i] != b.Points[i] {
			t.Fatalf("bar %d differs between identical runs", i)
		}
	}
}

func TestMACD_StreamingMatchesBatch(t *testing.T) {
	prices := make([]float64, 60)
	for i := range prices {
		prices[i] = 200 + 15*math.Cos(float64(i)/4) + float64(i)/3
	}
	frame, err := ComputeMACD(prices, 5, 13, 4)
	if err != nil {
		t.Fatal(err)
	}

	m, _ := NewMACD(5, 13, 4)
	for i, p := range prices {
		peek := m.Peek(p)
		got := m.Next(p)
		if got != frame.Points[i] {
			t.Fatalf("bar %d: streaming %+v != batch %+v", i, got, frame.Points[i])
		}
		if got.Ready {
			assertClose(t, "peek", peek, got.Histogram, 1e-9)
		}
	}
	if m.Name() != "MACD_5_13_4" {
		t.Errorf("Name = %s", m.Name())
	}
}
