package runtime

func cppProfile() Profile {
	return Profile{
		Language:     "cpp",
		NeedsCompile: true,
		CompileImage: envOr("CPP_COMPILE_IMAGE", "gxx-alpine"),
		CompileCmd:   []string{"c++", "--static", "code.cpp", "-o", "code"},
		SourceName:   "code.cpp",
		RuntimeImage: envOr("CPP_RUNTIME_IMAGE", "alpine"),
		RunCmd:       []string{"./code"},
	}
}
