package normalize

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// Normalizer cleans raw utterance text before translation. It is pure: the
// worst outcome of a lookup miss is returning the input word unchanged.
type Normalizer interface {
	Normalize(text, lang string) string
}

// Passthrough folds whitespace only, for rooms without a dictionary.
type Passthrough struct{}

func (Passthrough) Normalize(text, lang string) string {
	return foldWhitespace(text)
}

// Dictionary repairs close misspellings against per-language word lists in
// addition to whitespace folding. Each dictionary file holds one lowercase
// word per line.
type Dictionary struct {
	words           map[string]map[string]struct{} // lang -> word set
	maxEditDistance int
}

// NewDictionary creates a dictionary normalizer with the given edit-distance
// budget per word.
func NewDictionary(maxEditDistance int) *Dictionary {
	if maxEditDistance <= 0 {
		maxEditDistance = 2
	}
	return &Dictionary{
		words:           make(map[string]map[string]struct{}),
		maxEditDistance: maxEditDistance,
	}
}

// LoadWordList loads a word list for one language. A missing file is not an
// error; the normalizer degrades to whitespace folding for that language.
func (d *Dictionary) LoadWordList(lang, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to open word list: %w", err)
	}
	defer f.Close()

	set := d.words[lang]
	if set == nil {
		set = make(map[string]struct{})
		d.words[lang] = set
	}

	loaded := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		word := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if word == "" {
			continue
		}
		set[word] = struct{}{}
		loaded++
	}
	if err := scanner.Err(); err != nil {
		return loaded, fmt.Errorf("failed to read word list: %w", err)
	}
	return loaded, nil
}

// Normalize folds whitespace and repairs each unknown word against the
// language's word list when a unique close match exists.
func (d *Dictionary) Normalize(text, lang string) string {
	text = foldWhitespace(text)

	set, ok := d.words[lang]
	if !ok || len(set) == 0 {
		return text
	}

	fields := strings.Fields(text)
	changed := false
	for i, word := range fields {
		bare, prefix, suffix := stripPunct(word)
		if bare == "" {
			continue
		}
		lower := strings.ToLower(bare)
		if _, known := set[lower]; known {
			continue
		}
		if fixed, found := d.closest(lower, set); found {
			fields[i] = prefix + fixed + suffix
			changed = true
		}
	}
	if !changed {
		return text
	}
	return strings.Join(fields, " ")
}

// closest returns the dictionary word within the edit-distance budget,
// if exactly one minimal candidate exists.
func (d *Dictionary) closest(word string, set map[string]struct{}) (string, bool) {
	best := ""
	bestDist := d.maxEditDistance + 1
	ambiguous := false

	for candidate := range set {
		// Length difference is a lower bound on edit distance
		if diff := len(candidate) - len(word); diff > bestDist || -diff > bestDist {
			continue
		}
		dist := editDistance(word, candidate, bestDist)
		if dist < bestDist {
			bestDist = dist
			best = candidate
			ambiguous = false
		} else if dist == bestDist && candidate != best {
			ambiguous = true
		}
	}

	if best == "" || ambiguous || bestDist > d.maxEditDistance {
		return "", false
	}
	return best, true
}

func foldWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// stripPunct splits leading/trailing punctuation from a token.
func stripPunct(word string) (bare, prefix, suffix string) {
	runes := []rune(word)
	start := 0
	for start < len(runes) && !unicode.IsLetter(runes[start]) && !unicode.IsNumber(runes[start]) {
		start++
	}
	end := len(runes)
	for end > start && !unicode.IsLetter(runes[end-1]) && !unicode.IsNumber(runes[end-1]) {
		end--
	}
	return string(runes[start:end]), string(runes[:start]), string(runes[end:])
}

// editDistance computes Levenshtein distance, bailing out early once the
// distance provably exceeds limit.
func editDistance(a, b string, limit int) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := 0; j <= len(rb); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		rowMin := cur[0]
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min3(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
			if cur[j] < rowMin {
				rowMin = cur[j]
			}
		}
		if rowMin > limit {
			return rowMin
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
