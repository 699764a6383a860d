package runtime

func nodejsProfile() Profile {
	return Profile{
		Language:     "nodejs",
		NeedsCompile: false,
		SourceName:   "code.js",
		RuntimeImage: envOr("NODEJS_RUNTIME_IMAGE", "node-alpine"),
		RunCmd:       []string{"node", "code.js"},
	}
}
