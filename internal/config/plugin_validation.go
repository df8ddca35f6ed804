package config

// PluginValidator lets external packages inject extra config validation
// without this package importing them.
type PluginValidator func(*Config) []string

var pluginValidator PluginValidator

// RegisterPluginValidator installs fn as the plugin validator. Only one
// may be registered; later calls overwrite earlier ones.
func RegisterPluginValidator(fn PluginValidator) {
	pluginValidator = fn
}

func pluginValidationIssues(cfg *Config) []string {
	if pluginValidator == nil || cfg == nil {
		return nil
	}
	return pluginValidator(cfg)
}
