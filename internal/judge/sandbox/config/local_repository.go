package config

import (
	"context"
	"sort"

	"judgecore/internal/judge/sandbox/profile"
	"judgecore/internal/judge/sandbox/spec"
	appErr "judgecore/pkg/errors"
)

// LocalRepository serves language specs from memory. Configured entries
// replace built-ins with the same ID; an entry without a profile keeps the
// built-in (or default) profile.
type LocalRepository struct {
	languages map[string]profile.LanguageSpec
}

// NewLocalRepository creates a repository from the built-ins overlaid with languages.
func NewLocalRepository(languages []profile.LanguageSpec) *LocalRepository {
	langMap := make(map[string]profile.LanguageSpec)
	for _, lang := range profile.Builtins() {
		langMap[lang.ID] = lang
	}
	for _, lang := range languages {
		if lang.ID == "" {
			continue
		}
		if emptyProfile(lang.Profile) {
			if base, ok := langMap[lang.ID]; ok {
				lang.Profile = base.Profile
			} else {
				lang.Profile = profile.DefaultProfile(0)
			}
		}
		langMap[lang.ID] = lang
	}
	return &LocalRepository{languages: langMap}
}

// GetLanguageSpec returns a language spec.
func (r *LocalRepository) GetLanguageSpec(ctx context.Context, id string) (profile.LanguageSpec, error) {
	if id == "" {
		return profile.LanguageSpec{}, appErr.ValidationError("language_id", "required")
	}
	lang, ok := r.languages[id]
	if !ok {
		return profile.LanguageSpec{}, appErr.Newf(appErr.LanguageNotSupported, "language %q not supported", id).
			WithDetail("language_id", id)
	}
	lang.Profile = lang.Profile.Clone()
	return lang, nil
}

// IDs lists the known language ids in order.
func (r *LocalRepository) IDs() []string {
	ids := make([]string, 0, len(r.languages))
	for id := range r.languages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Validate checks every record.
func (r *LocalRepository) Validate() error {
	for _, id := range r.IDs() {
		if err := r.languages[id].Validate(); err != nil {
			return appErr.Wrapf(err, appErr.ValidationFailed, "language %s invalid", id)
		}
	}
	return nil
}

func emptyProfile(p spec.ResourceProfile) bool {
	return len(p.Rlimits) == 0 && len(p.Denylist) == 0 &&
		p.MemoryLimit == 0 && p.ProcessLimit == 0 && p.TimeLimit == 0
}
