// Package app wires the adapters and use cases behind the CLI.
package app

import (
	"github.com/spf13/viper"
)

// ConfigureViper sets up viper with the standard config file search paths.
// Config file: dockship.yaml
// Search paths (in order): /etc/dockship, ~/.config/dockship, current directory
func ConfigureViper(v *viper.Viper, configPath string) {
	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.SetConfigName("dockship")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/dockship")
	v.AddConfigPath("$HOME/.config/dockship")
	v.AddConfigPath(".")
}
