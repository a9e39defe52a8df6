package cell

import "testing"

func TestPath(t *testing.T) {
	p, err := Path("app", "main", 1, 1)
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	if p != "/app/grid:main/cell:1-1.json" {
		t.Fatalf("unexpected path %q", p)
	}
	if _, err := Path("app", "main", -1, 0); err == nil {
		t.Fatal("expected error for negative coordinate")
	}
}

func TestConfigPath(t *testing.T) {
	p, err := ConfigPath(DefaultNamespace, "main")
	if err != nil {
		t.Fatalf("config path: %v", err)
	}
	if p != "/wafflegram-v1/grid:main/config.json" {
		t.Fatalf("unexpected path %q", p)
	}
}

func TestParsePath(t *testing.T) {
	tmpl := Template("app")
	tests := []struct {
		path string
		want Location
		ok   bool
	}{
		{"/app/grid:main/cell:2-3.json", Location{"main", 2, 3}, true},
		{"/app/grid:other/cell:0-10.json", Location{"other", 0, 10}, true},
		{"/app/grid:main/cell:a-3.json", Location{}, false},
		{"/app/grid:main/cell:02-3.json", Location{}, false},
		{"/app/grid:main/cell:+2-3.json", Location{}, false},
		{"/app/grid:main/config.json", Location{}, false},
		{"/wafflegram-v1/grid:main/cell:2-3.json", Location{}, false},
	}
	for _, tt := range tests {
		got, ok := ParsePath(tmpl, tt.path)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("ParsePath(%q) = %+v, %v; want %+v, %v", tt.path, got, ok, tt.want, tt.ok)
		}
	}
}

func TestGridTemplateRoundTrip(t *testing.T) {
	tmpl, err := GridTemplate("app", "main")
	if err != nil {
		t.Fatalf("grid template: %v", err)
	}
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			p, err := Path("app", "main", x, y)
			if err != nil {
				t.Fatalf("path: %v", err)
			}
			loc, ok := ParsePath(tmpl, p)
			if !ok || loc.X != x || loc.Y != y {
				t.Fatalf("round trip (%d,%d): got %+v, %v", x, y, loc, ok)
			}
		}
	}
}

func TestParseCoordinate(t *testing.T) {
	for s, want := range map[string]int{"0": 0, "7": 7, "120": 120} {
		got, ok := ParseCoordinate(s)
		if !ok || got != want {
			t.Fatalf("ParseCoordinate(%q) = %d, %v", s, got, ok)
		}
	}
	for _, s := range []string{"", "-1", "01", "1e3", " 1", "1234567890"} {
		if _, ok := ParseCoordinate(s); ok {
			t.Fatalf("ParseCoordinate(%q) should fail", s)
		}
	}
}
