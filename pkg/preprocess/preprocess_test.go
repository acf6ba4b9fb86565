package preprocess

import (
	"errors"
	"math"
	"testing"

	"nucleiradial/internal/models"
	"nucleiradial/pkg/config"
)

func ramp(n int) *models.Field {
	f := models.NewField(1, n)
	for i := range f.Data {
		f.Data[i] = float64(10 + 2*i)
	}
	return f
}

// TestGamma verifies rescaling and the power curve
func TestGamma(t *testing.T) {
	f := ramp(5) // 10..18
	out, err := Gamma(f, 2)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	want := []float64{0, 0.0625, 0.25, 0.5625, 1}
	for i, w := range want {
		if math.Abs(out.Data[i]-w) > 1e-12 {
			t.Errorf("Pixel %d: expected %f, got %f", i, w, out.Data[i])
		}
	}
	if f.Data[0] != 10 {
		t.Error("Input field was modified")
	}

	flat := models.NewField(2, 2)
	for i := range flat.Data {
		flat.Data[i] = 4
	}
	out, _ = Gamma(flat, 0.9)
	for i, v := range out.Data {
		if v != 0 {
			t.Errorf("Flat pixel %d: expected 0, got %f", i, v)
		}
	}

	if _, err := Gamma(f, 0); !errors.Is(err, models.ErrInvalidConfiguration) {
		t.Errorf("Expected ErrInvalidConfiguration, got %v", err)
	}
}

// TestToUint16 checks the range endpoints
func TestToUint16(t *testing.T) {
	out := ToUint16(ramp(3))
	if out[0] != 0 || out[2] != math.MaxUint16 {
		t.Errorf("Expected 0..65535, got %v", out)
	}
	if out[1] != 32768 {
		t.Errorf("Expected midpoint 32768, got %d", out[1])
	}
}

// TestChannelSignal checks channel selection and max projection
func TestChannelSignal(t *testing.T) {
	a := &models.Field{Shape: models.Shape{Rows: 1, Cols: 3}, Data: []float64{1, 5, 2}}
	b := &models.Field{Shape: models.Shape{Rows: 1, Cols: 3}, Data: []float64{4, 0, 3}}

	got, err := ChannelSignal([]*models.Field{a, b}, 1)
	if err != nil || got != b {
		t.Errorf("Expected channel 1, got %v (%v)", got, err)
	}

	proj, err := ChannelSignal([]*models.Field{a, b}, -1)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	want := []float64{4, 5, 3}
	for i, w := range want {
		if proj.Data[i] != w {
			t.Errorf("Pixel %d: expected %.0f, got %.0f", i, w, proj.Data[i])
		}
	}

	if _, err := ChannelSignal([]*models.Field{a}, 2); !errors.Is(err, models.ErrInvalidConfiguration) {
		t.Errorf("Expected ErrInvalidConfiguration, got %v", err)
	}
	c := models.NewField(2, 2)
	if _, err := ChannelSignal([]*models.Field{a, c}, -1); !errors.Is(err, models.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}
}

// TestReference verifies the configured preprocessing chain
func TestReference(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Nucleus.Channel = 0
	cfg.Preprocess.ApplyGamma = true
	cfg.Preprocess.Gamma = 1
	cfg.Preprocess.GaussianSigma = 0

	ref, err := Reference([]*models.Field{ramp(5)}, cfg)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if ref.Data[0] != 0 || ref.Data[4] != 1 || math.Abs(ref.Data[2]-0.5) > 1e-12 {
		t.Errorf("Unexpected reference values %v", ref.Data)
	}
}
