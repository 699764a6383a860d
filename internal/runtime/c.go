package runtime

import "os"

// C_COMPILE_IMAGE / C_RUNTIME_IMAGE allow operators to override the images via env,
// matching spec's {LANG}_*_IMAGE variables (read once at profile build
// time; the registry is rebuilt at process startup, never mutated live).
func cProfile() Profile {
	return Profile{
		Language:     "c",
		NeedsCompile: true,
		CompileImage: envOr("C_COMPILE_IMAGE", "gcc-alpine"),
		CompileCmd:   []string{"gcc", "--static", "code.c", "-o", "code"},
		SourceName:   "code.c",
		RuntimeImage: envOr("C_RUNTIME_IMAGE", "alpine"),
		RunCmd:       []string{"./code"},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
