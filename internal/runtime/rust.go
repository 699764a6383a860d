package runtime

func rustProfile() Profile {
	return Profile{
		Language:     "rust",
		NeedsCompile: true,
		CompileImage: envOr("RUST_COMPILE_IMAGE", "rust-alpine"),
		CompileCmd:   []string{"rustc", "-C", "target-feature=+crt-static", "code.rs", "-o", "code"},
		SourceName:   "code.rs",
		RuntimeImage: envOr("RUST_RUNTIME_IMAGE", "alpine"),
		RunCmd:       []string{"./code"},
	}
}
