package config

// Backends lists the provider identifiers llm.backend accepts.
var Backends = []string{"openai", "anthropic", "xai", "google", "ollama"}

func knownBackend(name string) bool {
	for _, b := range Backends {
		if b == name {
			return true
		}
	}
	return false
}

type LLMConfig struct {
	// Backend names the preferred provider. Empty means the usual
	// priority order with the sidecar as terminal fallback.
	Backend string `yaml:"backend"`

	// ProbeURL decides online/offline before trying cloud providers.
	ProbeURL string `yaml:"probe_url"`

	OpenAI    ProviderConfig `yaml:"openai"`
	Anthropic ProviderConfig `yaml:"anthropic"`
	XAI       ProviderConfig `yaml:"xai"`
	Google    ProviderConfig `yaml:"google"`
}

type ProviderConfig struct {
	// APIKey may reference the environment in the file, e.g.
	// ${OPENAI_API_KEY}.
	APIKey string `yaml:"api_key"`

	// Model overrides the provider's default model.
	Model string `yaml:"model"`

	// BaseURL overrides the API endpoint, for proxies and compatible
	// backends.
	BaseURL string `yaml:"base_url"`
}

type SidecarConfig struct {
	// BaseURL of the local server. Empty means the supervisor default.
	BaseURL string `yaml:"base_url"`

	// Model the sidecar chats with.
	Model string `yaml:"model"`

	// ModelsDir overrides where the server keeps model weights. Empty
	// means the models directory in the state layout.
	ModelsDir string `yaml:"models_dir"`

	// ResourcesDir holds bundled server binaries, one subdirectory per
	// platform. Empty means PATH lookup only.
	ResourcesDir string `yaml:"resources_dir"`

	// AutoStart spawns the server at startup when no healthy one is
	// reachable.
	AutoStart bool `yaml:"auto_start"`
}
