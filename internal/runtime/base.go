// Package runtime holds the static Language Profile Registry: the table
// mapping a submission's language tag to the images and commands needed
// to compile (if applicable) and run it.
package runtime

import "fmt"

// Profile is the static, per-language configuration the Executor needs.
// Unlike a polymorphic Runtime interface, a Profile is plain data — the
// Executor already knows the compile-then-run protocol; only the
// concrete images/commands vary per language.
type Profile struct {
	Language string

	// NeedsCompile is true iff CompileImage is non-empty.
	NeedsCompile bool

	CompileImage string   // image used for the compile-stage container
	CompileCmd   []string // command run inside the compile-stage container

	SourceName string // source filename written into the workdir, e.g. "code.c"

	RuntimeImage string   // image used for the run-stage container
	RunCmd       []string // command run inside the run-stage container
}

// Registry maps language tags to their Profile.
type Registry struct {
	profiles map[string]Profile
}

// NewRegistry creates a registry pre-populated with the reference
// language profiles (c, cpp, rust, python, nodejs).
func NewRegistry() *Registry {
	r := &Registry{profiles: make(map[string]Profile)}
	r.Register(cProfile())
	r.Register(cppProfile())
	r.Register(rustProfile())
	r.Register(pythonProfile())
	r.Register(nodejsProfile())
	return r
}

// Register adds or replaces a profile in the registry.
func (r *Registry) Register(p Profile) {
	r.profiles[p.Language] = p
}

// Get returns the profile for the given language.
func (r *Registry) Get(language string) (Profile, error) {
	p, ok := r.profiles[language]
	if !ok {
		return Profile{}, fmt.Errorf("unsupported language: %q", language)
	}
	return p, nil
}

// Languages returns all registered language tags.
func (r *Registry) Languages() []string {
	langs := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		langs = append(langs, name)
	}
	return langs
}

// Images returns every distinct image referenced by registered profiles,
// compile and runtime images both — used by Bootstrap to pre-pull.
func (r *Registry) Images() []string {
	seen := make(map[string]struct{})
	var images []string
	add := func(image string) {
		if image == "" {
			return
		}
		if _, ok := seen[image]; ok {
			return
		}
		seen[image] = struct{}{}
		images = append(images, image)
	}
	for _, p := range r.profiles {
		add(p.CompileImage)
		add(p.RuntimeImage)
	}
	return images
}
