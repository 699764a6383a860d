package runtime

import "testing"

func TestRegistryGet(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		language     string
		needsCompile bool
	}{
		{"c", true},
		{"cpp", true},
		{"rust", true},
		{"python", false},
		{"nodejs", false},
	}

	for _, tt := range tests {
		t.Run(tt.language, func(t *testing.T) {
			p, err := r.Get(tt.language)
			if err != nil {
				t.Fatalf("Get(%q) = %v", tt.language, err)
			}
			if p.NeedsCompile != tt.needsCompile {
				t.Errorf("NeedsCompile = %v, want %v", p.NeedsCompile, tt.needsCompile)
			}
			if p.SourceName == "" {
				t.Error("SourceName is empty")
			}
			if p.RuntimeImage == "" {
				t.Error("RuntimeImage is empty")
			}
			if len(p.RunCmd) == 0 {
				t.Error("RunCmd is empty")
			}
			if tt.needsCompile && (p.CompileImage == "" || len(p.CompileCmd) == 0) {
				t.Error("compiled languages must have CompileImage and CompileCmd set")
			}
		})
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("cobol"); err == nil {
		t.Error("expected error for unsupported language")
	}
}

func TestRegistryImagesDeduplicated(t *testing.T) {
	r := NewRegistry()
	images := r.Images()

	seen := make(map[string]int)
	for _, img := range images {
		seen[img]++
	}
	for img, count := range seen {
		if count > 1 {
			t.Errorf("image %q listed %d times, want 1", img, count)
		}
	}

	// c, cpp, and rust all share the "alpine" runtime image.
	alpineCount := 0
	for _, img := range images {
		if img == "alpine" {
			alpineCount++
		}
	}
	if alpineCount != 1 {
		t.Errorf("alpine runtime image counted %d times, want 1 (dedup across profiles)", alpineCount)
	}
}

func TestCompiledLanguagesUseStaticLinking(t *testing.T) {
	r := NewRegistry()
	for _, lang := range []string{"c", "cpp", "rust"} {
		p, err := r.Get(lang)
		if err != nil {
			t.Fatal(err)
		}
		found := false
		for _, arg := range p.CompileCmd {
			if arg == "--static" || arg == "target-feature=+crt-static" {
				found = true
			}
		}
		if !found {
			t.Errorf("%s: compile command missing static-linking flag: %v", lang, p.CompileCmd)
		}
	}
}
