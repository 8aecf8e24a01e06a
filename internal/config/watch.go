package config

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watch warns whenever the configuration file changes. The running server keeps
// the configuration it started with; edits take effect on the next restart.
// onChange, when non-nil, runs after the warning. Watch is a no-op when no
// configuration file was found.
func Watch(configPath string, onChange func(fsnotify.Event)) error {
	v, err := newViper(configPath)
	if err != nil {
		return err
	}
	if v.ConfigFileUsed() == "" {
		return nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		slog.Warn("configuration file changed; restart the server to apply it",
			"file", e.Name, "op", e.Op.String())
		if onChange != nil {
			onChange(e)
		}
	})
	v.WatchConfig()
	slog.Info("watching configuration file", "file", v.ConfigFileUsed())
	return nil
}
