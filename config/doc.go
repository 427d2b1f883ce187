// Package config resolves layered YAML configuration for the pipeline.
//
// Values merge from four layers, lowest precedence first: schema
// defaults, the per-user file (~/.config/pipewright/config.yaml), the
// per-repository file (.pipewright.yaml at the git root), and prefixed
// environment variables. Secrets belong in the per-user file or the
// environment; routing and repository settings in the local file.
//
// A Schema declares the full surface once and drives both reading and
// writing:
//
//	schema := config.Schema{
//	    EnvPrefix: "PIPEWRIGHT_",
//	    AppDir:    "pipewright",
//	    LocalFile: ".pipewright.yaml",
//	    Defaults: map[string]string{
//	        "provider":    "github",
//	        "base_branch": "main",
//	    },
//	    GlobalKeys: []string{"github_token"},
//	    LocalKeys:  []string{"provider", "github_repo", "base_branch"},
//	}
//
//	cfg := config.New(schema).Resolve()
//	cfg.Get("base_branch")    // "main"
//	cfg.Source("base_branch") // config.SourceDefault
//
// With PIPEWRIGHT_BASE_BRANCH=develop in the environment the same key
// resolves to "develop" with source config.SourceEnv.
//
// Writes go through the same schema, so a key can only be saved where
// Resolve will read it back:
//
//	schema.WriteGlobal("github_token", token)
//	schema.WriteLocal(root, "base_branch", "develop")
package config
