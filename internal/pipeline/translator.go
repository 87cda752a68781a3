package pipeline

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/dhintech/translate-gateway/internal/cache"
	"github.com/dhintech/translate-gateway/internal/engine"
	"github.com/dhintech/translate-gateway/internal/observability"
)

// Source tells where a translation came from.
type Source string

const (
	SourceCache  Source = "cache"
	SourceFuzzy  Source = "fuzzy"
	SourceEngine Source = "engine"
)

// Translation is the outcome of a single translate request.
type Translation struct {
	Text       string
	Source     Source
	Similarity float64
}

// Translator resolves text through the cache first and the inference engine
// on a miss. Concurrent identical engine calls are collapsed into one flight
// so a popular phrase hits the engine at most once at a time.
type Translator struct {
	cache  *cache.Cache
	engine engine.Engine
	flight singleflight.Group
}

// NewTranslator wires the shared cache to an engine.
func NewTranslator(c *cache.Cache, e engine.Engine) *Translator {
	return &Translator{cache: c, engine: e}
}

// Translate resolves text for one language pair. The result is written back
// to the cache only when store is set; provisional partials must not pollute
// the cache.
func (t *Translator) Translate(ctx context.Context, text, srcLang, tgtLang string, store bool) (Translation, error) {
	if res, ok := t.cache.Lookup(text, srcLang, tgtLang); ok {
		src := SourceCache
		if res.Fuzzy {
			src = SourceFuzzy
		}
		observability.RecordTranslation(string(src))
		return Translation{Text: res.Translation, Source: src, Similarity: res.Similarity}, nil
	}

	// The flight is shared across callers, so it must not die with whichever
	// caller happened to start it. The engine's own timeout still bounds it.
	key := text + "|" + srcLang + ">" + tgtLang
	flightCtx := context.WithoutCancel(ctx)
	v, err, _ := t.flight.Do(key, func() (interface{}, error) {
		return t.engine.Translate(flightCtx, text, srcLang, tgtLang)
	})
	if err != nil {
		return Translation{}, err
	}

	translated := v.(string)
	if store {
		t.cache.Store(text, srcLang, tgtLang, translated)
	}
	observability.RecordTranslation(string(SourceEngine))
	return Translation{Text: translated, Source: SourceEngine, Similarity: 1}, nil
}

// DetectLanguage asks the engine for the language of text.
func (t *Translator) DetectLanguage(ctx context.Context, text string) (string, error) {
	return t.engine.DetectLanguage(ctx, text)
}
