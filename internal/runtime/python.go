package runtime

func pythonProfile() Profile {
	return Profile{
		Language:     "python",
		NeedsCompile: false,
		SourceName:   "code.py",
		RuntimeImage: envOr("PYTHON_RUNTIME_IMAGE", "python-alpine"),
		RunCmd:       []string{"python", "code.py"},
	}
}
