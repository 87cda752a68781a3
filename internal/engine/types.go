package engine

import (
	"context"
	"errors"
)

// Engine is the boundary to the external inference service. Implementations
// must honor the context deadline on every call.
type Engine interface {
	// Translate returns the translation of text from srcLang to tgtLang.
	Translate(ctx context.Context, text, srcLang, tgtLang string) (string, error)

	// DetectLanguage returns the language code of text, or LangUnknown.
	DetectLanguage(ctx context.Context, text string) (string, error)
}

// LangUnknown is returned when the engine cannot identify a language.
const LangUnknown = "und"

var (
	// ErrTimeout indicates the engine did not answer within the deadline.
	ErrTimeout = errors.New("engine call timed out")

	// ErrModel indicates the engine answered with a failure.
	ErrModel = errors.New("engine model error")
)
