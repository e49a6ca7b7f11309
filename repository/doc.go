// Package repository mirrors (bare clones) a single Bitbucket repository
// locally and keeps it current across runs. The mirror is created with
// `git clone --mirror` hence everything in `refs/*` on the remote is
// directly mirrored into `refs/*` in the local repository.
//
// The local state of a repository is implicit: existence of the
// `<root>/<slug>.git` directory means the repository has already been
// cloned and only needs updating. On update the remote URL is rewritten
// first so rotated credentials take effect before fetching.
//
// # Logging:
//
// package takes slog reference for logging and prints logs up to 'trace' level
//
// Example:
//
//	loggerLevel  = new(slog.LevelVar)
//	levelStrings = map[string]slog.Level{
//		"trace": slog.Level(-8),
//		"debug": slog.LevelDebug,
//		"info":  slog.LevelInfo,
//		"warn":  slog.LevelWarn,
//		"error": slog.LevelError,
//	}
//
//	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//		Level: loggerLevel,
//	}))
//	loggerLevel.Set(levelStrings["trace"])
//
//	repo, err := repository.New(repoConf, runner, logger)
//	if err != nil {
//		panic(err)
//	}
package repository
