// Package config provides the relay configuration model and its loading.
//
// Configuration is built in layers: built-in defaults, an optional YAML
// file with ${VAR} and ${VAR:-default} substitution, then AVARELAY_*
// environment overrides. The result is validated and any problems are
// returned together as ValidationErrors.
//
// # Loading
//
//	cfg, err := config.Load("avarelay.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// An empty path yields defaults plus environment overrides.
//
// # File Watching
//
//	watcher, err := config.NewWatcher("avarelay.yaml", func(cfg *config.Config) {
//	    connector.SetPolicy(cfg.Retry.Policy())
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := watcher.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer watcher.Stop()
package config
