// Package i18n localizes the messages relayed to students after an exam
// is finalized: summary sentences, denial reasons and API errors.
package i18n

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"path"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"

	"github.com/pavelanni/examcore/internal/model"
)

//go:embed locales/*.json
var localeFS embed.FS

type ctxKey struct{}

var (
	bundle      *i18n.Bundle
	defaultLang string
)

// Init builds the message bundle from the embedded locale files, with
// lang as the language used when a request names none we carry.
func Init(lang string) error {
	tag, err := language.Parse(lang)
	if err != nil {
		return fmt.Errorf("parse language %q: %w", lang, err)
	}

	b := i18n.NewBundle(tag)
	b.RegisterUnmarshalFunc("json", json.Unmarshal)

	files, err := fs.Glob(localeFS, "locales/*.json")
	if err != nil {
		return fmt.Errorf("list locales: %w", err)
	}
	for _, name := range files {
		data, err := localeFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read locale file %s: %w", name, err)
		}
		if _, err := b.ParseMessageFileBytes(data, path.Base(name)); err != nil {
			return fmt.Errorf("parse locale file %s: %w", name, err)
		}
		slog.Debug("loaded locale file", "file", name)
	}

	bundle = b
	defaultLang = tag.String()
	return nil
}

// NewLocalizer creates a localizer for the given languages, most preferred
// first. Each entry may be a tag or an Accept-Language header value.
func NewLocalizer(langs ...string) *i18n.Localizer {
	return i18n.NewLocalizer(bundle, langs...)
}

// WithLocalizer stores a localizer in the context.
func WithLocalizer(ctx context.Context, loc *i18n.Localizer) context.Context {
	return context.WithValue(ctx, ctxKey{}, loc)
}

func localizerFromCtx(ctx context.Context) *i18n.Localizer {
	if loc, ok := ctx.Value(ctxKey{}).(*i18n.Localizer); ok {
		return loc
	}
	return i18n.NewLocalizer(bundle, defaultLang)
}

// localize renders cfg, falling back to the message ID so a summary is
// never left blank by a missing translation.
func localize(ctx context.Context, cfg *i18n.LocalizeConfig) string {
	s, err := localizerFromCtx(ctx).Localize(cfg)
	if err != nil {
		slog.Warn("missing translation", "id", cfg.MessageID, "error", err)
		return cfg.MessageID
	}
	return s
}

// T translates a message by ID.
func T(ctx context.Context, msgID string) string {
	return localize(ctx, &i18n.LocalizeConfig{MessageID: msgID})
}

// Td translates a message by ID with template data such as the exam ID
// or a list of courses.
func Td(ctx context.Context, msgID string, data map[string]any) string {
	return localize(ctx, &i18n.LocalizeConfig{MessageID: msgID, TemplateData: data})
}

// Tp translates a counted message; count is available to the template
// as {{.Count}}.
func Tp(ctx context.Context, msgID string, count int) string {
	return localize(ctx, &i18n.LocalizeConfig{
		MessageID:    msgID,
		PluralCount:  count,
		TemplateData: map[string]any{"Count": count},
	})
}

var reasonIDs = map[model.DenialReason]string{
	model.DeniedByPrereq:     "DeniedPrerequisite",
	model.DeniedByValidation: "DeniedValidation",
	model.DeniedByIllegal:    "DeniedIllegal",
}

// Reason translates a denial reason code. Unknown codes are returned as is.
func Reason(ctx context.Context, r model.DenialReason) string {
	id, ok := reasonIDs[r]
	if !ok {
		return string(r)
	}
	return T(ctx, id)
}
