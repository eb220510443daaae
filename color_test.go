package lampd

import (
	"errors"
	"testing"

	"dev.acmcsuf.com/christmas/lib/xcolor"
)

func TestParseColor(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    RGB
		wantErr bool
	}{
		{
			name: "default",
			text: "171,20,158",
			want: RGB{171, 20, 158},
		},
		{
			name: "whitespace",
			text: " 1 , 2 , 3 ",
			want: RGB{1, 2, 3},
		},
		{
			name: "out of range is kept",
			text: "300,-1,0",
			want: RGB{300, -1, 0},
		},
		{
			name:    "garbage",
			text:    "bad",
			wantErr: true,
		},
		{
			name:    "two fields",
			text:    "1,2",
			wantErr: true,
		},
		{
			name:    "four fields",
			text:    "1,2,3,4",
			wantErr: true,
		},
		{
			name:    "non-integer field",
			text:    "1,2.5,3",
			wantErr: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := ParseColor(test.text)
			if test.wantErr {
				if !errors.Is(err, ErrMalformedColor) {
					t.Fatalf("expected ErrMalformedColor, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal("unexpected error:", err)
			}
			assertEq(t, test.want, got)
		})
	}
}

func TestRGBStringRoundTrip(t *testing.T) {
	c, err := ParseColor(DefaultColor.String())
	if err != nil {
		t.Fatal(err)
	}
	assertEq(t, DefaultColor, c)
}

func TestBrightnessScale(t *testing.T) {
	want := map[Brightness]int{1: 16, 4: 82, 8: 255}
	for level, scale := range want {
		if got := level.Scale(); got != scale {
			t.Errorf("level %d: expected scale %d, got %d", level, scale, got)
		}
	}

	for level := MinBrightness + 1; level <= MaxBrightness; level++ {
		if level.Scale() <= (level - 1).Scale() {
			t.Errorf("scale is not increasing at level %d: %d <= %d",
				level, level.Scale(), (level - 1).Scale())
		}
	}
}

func TestClampBrightness(t *testing.T) {
	tests := []struct {
		in   int
		want Brightness
	}{
		{-5, 1},
		{0, 1},
		{1, 1},
		{5, 5},
		{8, 8},
		{12, 8},
	}
	for _, test := range tests {
		if got := ClampBrightness(test.in); got != test.want {
			t.Errorf("ClampBrightness(%d) = %d, want %d", test.in, got, test.want)
		}
	}
}

func TestBrightnessApply(t *testing.T) {
	assertEq(t,
		xcolor.RGB{R: 54, G: 6, B: 50},
		DefaultBrightness.Apply(DefaultColor))

	assertEq(t,
		xcolor.RGB{R: 255, G: 0, B: 1},
		MaxBrightness.Apply(RGB{400, -20, 1}))
}

func TestHueToRGB(t *testing.T) {
	assertEq(t, xcolor.RGB{R: 255, G: 0, B: 0}, HueToRGB(0, 6, MaxBrightness))
	assertEq(t, xcolor.RGB{R: 255, G: 255, B: 0}, HueToRGB(1, 6, MaxBrightness))
	assertEq(t, xcolor.RGB{R: 0, G: 255, B: 0}, HueToRGB(2, 6, MaxBrightness))
	assertEq(t, xcolor.RGB{R: 0, G: 0, B: 255}, HueToRGB(4, 6, MaxBrightness))

	// Scaled by the brightness curve.
	assertEq(t, xcolor.RGB{R: 82, G: 0, B: 0}, HueToRGB(0, 6, DefaultBrightness))
}

func TestHueToRGBWrapsAround(t *testing.T) {
	for n := 1; n <= 64; n++ {
		for _, level := range []Brightness{MinBrightness, DefaultBrightness, MaxBrightness} {
			first := HueToRGB(0, n, level)
			if wrapped := HueToRGB(n, n, level); wrapped != first {
				t.Fatalf("n=%d level=%d: index n is %v, index 0 is %v", n, level, wrapped, first)
			}
			if wrapped := HueToRGB(-n, n, level); wrapped != first {
				t.Fatalf("n=%d level=%d: index -n is %v, index 0 is %v", n, level, wrapped, first)
			}
		}
	}
}
