package engine

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Stub is an in-process Engine for tests and local development. It prefixes
// translations deterministically and counts calls.
type Stub struct {
	mu sync.Mutex

	// Delay is applied before every call returns.
	Delay time.Duration

	// Err, when set, is returned by every call.
	Err error

	// DetectedLang is returned by DetectLanguage. Defaults to "en".
	DetectedLang string

	translateCalls int
	detectCalls    int
}

// Translate implements Engine.
func (s *Stub) Translate(ctx context.Context, text, srcLang, tgtLang string) (string, error) {
	s.mu.Lock()
	s.translateCalls++
	delay, err := s.Delay, s.Err
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ErrTimeout
		}
	}
	if err != nil {
		return "", err
	}
	if ctx.Err() != nil {
		return "", ErrTimeout
	}
	return fmt.Sprintf("[%s] %s", tgtLang, text), nil
}

// DetectLanguage implements Engine.
func (s *Stub) DetectLanguage(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	s.detectCalls++
	lang, err := s.DetectedLang, s.Err
	s.mu.Unlock()

	if err != nil {
		return LangUnknown, err
	}
	if lang == "" {
		lang = "en"
	}
	return lang, nil
}

// TranslateCalls returns how many times Translate was invoked.
func (s *Stub) TranslateCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.translateCalls
}

// DetectCalls returns how many times DetectLanguage was invoked.
func (s *Stub) DetectCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detectCalls
}

// SetErr changes the error returned by subsequent calls.
func (s *Stub) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Err = err
}
