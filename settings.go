package pipewright

import (
	"fmt"

	"github.com/tormod/pipewright/config"
)

// Config keys resolved by LoadSettings. Environment variables use the
// PIPEWRIGHT_ prefix, so "github_token" maps to PIPEWRIGHT_GITHUB_TOKEN.
const (
	KeyProvider        = "provider" // "github" or "gitlab"
	KeyGitHubToken     = "github_token"
	KeyGitHubRepo      = "github_repo" // "owner/repo"
	KeyGitLabToken     = "gitlab_token"
	KeyGitLabProject   = "gitlab_project"
	KeyGitLabURL       = "gitlab_url"
	KeyTelegramToken   = "telegram_bot_token"
	KeyTelegramChatID  = "telegram_chat_id"
	KeyBaseBranch      = "base_branch"
	KeyStoreBackend    = "store" // "local" or "tracker"
	KeyStorePath       = "store_path"
	KeyArtifactBaseURL = "artifact_base_url" // bucket store; empty uses files
	KeyArtifactDir     = "artifact_dir"
)

// Settings is the resolved pipeline configuration.
type Settings struct {
	Provider       string
	GitHubToken    string
	GitHubRepo     string
	GitLabToken    string
	GitLabProject  string
	GitLabURL      string
	TelegramToken  string
	TelegramChatID string
	BaseBranch     string
	StoreBackend   string
	StorePath      string
	ArtifactURL    string
	ArtifactDir    string
}

// ConfigSchema declares the pipeline's config surface: tokens live in
// the per-user file, routing and storage settings in the repository
// file.
func ConfigSchema() config.Schema {
	return config.Schema{
		EnvPrefix: "PIPEWRIGHT_",
		AppDir:    "pipewright",
		LocalFile: ".pipewright.yaml",
		Defaults: map[string]string{
			KeyProvider:     "github",
			KeyBaseBranch:   "main",
			KeyStoreBackend: "local",
			KeyStorePath:    ".pipewright/items.db",
			KeyArtifactDir:  ".pipewright",
		},
		GlobalKeys: []string{
			KeyGitHubToken, KeyGitLabToken, KeyGitLabURL,
			KeyTelegramToken, KeyTelegramChatID,
		},
		LocalKeys: []string{
			KeyProvider, KeyGitHubRepo, KeyGitLabProject,
			KeyBaseBranch, KeyStoreBackend, KeyStorePath,
			KeyArtifactBaseURL, KeyArtifactDir,
		},
	}
}

// NewConfigResolver builds the hierarchical resolver: environment over the
// local .pipewright.yaml over ~/.config/pipewright/config.yaml over
// defaults.
func NewConfigResolver() *config.Resolver {
	return config.New(ConfigSchema())
}

// SaveSetting persists a setting to the layer its key belongs to:
// secrets go to ~/.config/pipewright/config.yaml, everything else to
// .pipewright.yaml at the enclosing git root.
func SaveSetting(key, value string) error {
	schema := ConfigSchema()
	for _, k := range schema.GlobalKeys {
		if k == key {
			return schema.WriteGlobal(key, value)
		}
	}
	return schema.WriteLocal(config.FindGitRoot("."), key, value)
}

// DeleteSetting removes a secret from the per-user config file,
// typically after a token rotation.
func DeleteSetting(key string) error {
	return ConfigSchema().DeleteGlobal(key)
}

// LoadSettings resolves the pipeline configuration.
func LoadSettings() *Settings {
	cfg := NewConfigResolver().Resolve()
	return &Settings{
		Provider:       cfg.Get(KeyProvider),
		GitHubToken:    cfg.Get(KeyGitHubToken),
		GitHubRepo:     cfg.Get(KeyGitHubRepo),
		GitLabToken:    cfg.Get(KeyGitLabToken),
		GitLabProject:  cfg.Get(KeyGitLabProject),
		GitLabURL:      cfg.Get(KeyGitLabURL),
		TelegramToken:  cfg.Get(KeyTelegramToken),
		TelegramChatID: cfg.Get(KeyTelegramChatID),
		BaseBranch:     cfg.Get(KeyBaseBranch),
		StoreBackend:   cfg.Get(KeyStoreBackend),
		StorePath:      cfg.Get(KeyStorePath),
		ArtifactURL:    cfg.Get(KeyArtifactBaseURL),
		ArtifactDir:    cfg.Get(KeyArtifactDir),
	}
}

// NewGateway builds the tracker gateway the settings select.
func (s *Settings) NewGateway() (Gateway, error) {
	switch s.Provider {
	case "", "github":
		owner, repo, err := splitRepo(s.GitHubRepo)
		if err != nil {
			return nil, err
		}
		return NewGitHubGateway(s.GitHubToken, owner, repo)
	case "gitlab":
		return NewGitLabGateway(s.GitLabToken, s.GitLabURL, s.GitLabProject)
	default:
		return nil, fmt.Errorf("unknown provider %q", s.Provider)
	}
}

// NewNotifier builds the configured notifier, NopNotifier when Telegram is
// not configured.
func (s *Settings) NewNotifier() Notifier {
	if s.TelegramToken == "" || s.TelegramChatID == "" {
		return NopNotifier{}
	}
	return NewTelegramNotifier(s.TelegramToken, s.TelegramChatID, "")
}

// NewArtifactStore builds the configured artifact store: the HTTP bucket
// when a base URL is set, local files otherwise.
func (s *Settings) NewArtifactStore() ArtifactStore {
	if s.ArtifactURL != "" {
		return NewBucketArtifactStore(s.ArtifactURL, nil)
	}
	return NewFileArtifactStore(s.ArtifactDir)
}

func splitRepo(full string) (owner, repo string, err error) {
	for i := 0; i < len(full); i++ {
		if full[i] == '/' {
			if i == 0 || i == len(full)-1 {
				break
			}
			return full[:i], full[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("github_repo must be owner/repo, got %q", full)
}
