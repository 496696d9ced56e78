package config

const (
	defaultStorageDriver = "sqlite"

	defaultAPIListen = ":8082"

	defaultInferenceProvider = "ollama"
	defaultInferenceTarget   = "http://localhost:11434"
	defaultInferenceModel    = "llama3.2"
	defaultExtractModel      = "llama3.2"

	defaultContextWindow  = 8192
	defaultPruneThreshold = 120
	defaultHardCap        = 150
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Storage: StorageConfig{
			Driver: defaultStorageDriver,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Inference: InferenceConfig{
			Provider:     defaultInferenceProvider,
			Target:       defaultInferenceTarget,
			Model:        defaultInferenceModel,
			ExtractModel: defaultExtractModel,
		},
		Memory: MemoryConfig{
			Enabled:        true,
			ContextWindow:  defaultContextWindow,
			PruneThreshold: defaultPruneThreshold,
			HardCap:        defaultHardCap,
		},
	}
}
