// Package complexity scores how hard a preprocessed artifact will be to
// extract from and recommends an extraction backend. The scoring is a
// deterministic weighted sum of text heuristics, so the same artifact
// always routes the same way.
package complexity

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/classtable/timetable-api/internal/models"
	"github.com/classtable/timetable-api/internal/preprocessor"
)

// Factor weights. They sum to 0.80; the score saturates well before 1.0
// only for genuinely messy artifacts.
const (
	weightOCRConfidence = 0.25
	weightHandwriting   = 0.30
	weightLayout        = 0.15
	weightScannedPDF    = 0.05
	weightImageQuality  = 0.05
)

// Level thresholds.
const (
	simpleBelow = 0.30
	mediumBelow = 0.60
)

// imageQualityIndicator is a fixed stand-in for a real sharpness or
// resolution measurement. Kept constant so routing stays deterministic
// until a real metric lands.
const imageQualityIndicator = 0.5

// Classification is the router's verdict for one artifact.
type Classification struct {
	Level       models.ComplexityLevel
	Score       float64
	Reasons     []string
	Recommended models.ProcessingMethod
	Handwriting bool
}

// Classify scores the artifact and picks a recommended backend.
func Classify(a *preprocessor.Artifact) Classification {
	var (
		score   float64
		reasons []string
	)

	ocr := ocrConfidencePenalty(a.Text)
	if ocr > 0 {
		score += weightOCRConfidence * ocr
		reasons = append(reasons, fmt.Sprintf("low OCR confidence (penalty %.2f)", ocr))
	}

	handwriting := handwritingIndicator(a.Text)
	if handwriting {
		score += weightHandwriting
		reasons = append(reasons, "handwriting indicators present")
	}

	if strings.TrimSpace(a.Text) == "" {
		// No text evidence at all: the structured backend has nothing to
		// work with, so bias away from it.
		score += weightLayout
		reasons = append(reasons, "no OCR text available")
	} else if layout := layoutPenalty(a.Text); layout > 0 {
		score += weightLayout * layout
		reasons = append(reasons, "complex layout (short OCR lines)")
	}

	if a.MimeType == preprocessor.MimePDF && len(strings.TrimSpace(a.Text)) < 40 {
		score += weightScannedPDF
		reasons = append(reasons, "scanned PDF with negligible text layer")
	}

	score += weightImageQuality * imageQualityIndicator

	level := models.ComplexitySimple
	switch {
	case score >= mediumBelow:
		level = models.ComplexityComplex
	case score >= simpleBelow:
		level = models.ComplexityMedium
	}

	recommended := models.MethodStructured
	switch {
	case level == models.ComplexityComplex || handwriting:
		recommended = models.MethodVision
	case level == models.ComplexityMedium:
		recommended = models.MethodHybrid
	}

	return Classification{
		Level:       level,
		Score:       score,
		Reasons:     reasons,
		Recommended: recommended,
		Handwriting: handwriting,
	}
}

// ocrConfidencePenalty estimates OCR noise in [0,1] from the ratio of
// punctuation, single-character words, and vowel-less words.
func ocrConfidencePenalty(text string) float64 {
	words := strings.Fields(text)
	if len(words) == 0 {
		return 1
	}

	var punct, letters int
	for _, r := range text {
		switch {
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			punct++
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			letters++
		}
	}
	punctRatio := 0.0
	if punct+letters > 0 {
		punctRatio = float64(punct) / float64(punct+letters)
	}

	var single, vowelless int
	for _, w := range words {
		stripped := strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if len([]rune(stripped)) == 1 {
			single++
		}
		if len([]rune(stripped)) >= 3 && isVowelless(stripped) {
			vowelless++
		}
	}
	singleRatio := float64(single) / float64(len(words))
	vowellessRatio := float64(vowelless) / float64(len(words))

	// Each indicator is normalized against a "clearly noisy" ceiling.
	penalty := clamp01(punctRatio/0.25)*0.4 + clamp01(singleRatio/0.30)*0.3 + clamp01(vowellessRatio/0.20)*0.3
	return clamp01(penalty)
}

// handwritingIndicator looks for inconsistent mid-word capitalization
// combined with the glyph confusions OCR makes on handwriting.
func handwritingIndicator(text string) bool {
	if text == "" {
		return false
	}

	var midCaps, alphaWords int
	for _, w := range strings.Fields(text) {
		runes := []rune(w)
		if len(runes) < 3 {
			continue
		}
		hasLetter := false
		for _, r := range runes {
			if unicode.IsLetter(r) {
				hasLetter = true
				break
			}
		}
		if !hasLetter {
			continue
		}
		alphaWords++
		for _, r := range runes[1:] {
			if unicode.IsUpper(r) && unicode.IsLower(runes[0]) {
				midCaps++
				break
			}
		}
	}
	if alphaWords == 0 {
		return false
	}
	inconsistentCaps := float64(midCaps)/float64(alphaWords) > 0.15

	confusionGlyphs := strings.ContainsAny(text, "|") ||
		strings.Contains(text, "l1") || strings.Contains(text, "1l") ||
		strings.Contains(text, "O0") || strings.Contains(text, "0O")

	return inconsistentCaps && confusionGlyphs
}

// layoutPenalty returns 1 when OCR lines are very short on average,
// which typically means a fragmented multi-column layout.
func layoutPenalty(text string) float64 {
	lines := nonEmptyLines(text)
	if len(lines) == 0 {
		return 0
	}
	var total int
	for _, line := range lines {
		total += len([]rune(line))
	}
	avg := float64(total) / float64(len(lines))
	if avg >= 24 {
		return 0
	}
	return clamp01((24 - avg) / 24)
}

func nonEmptyLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, strings.TrimSpace(line))
		}
	}
	return out
}

func isVowelless(w string) bool {
	hasLetter := false
	for _, r := range strings.ToLower(w) {
		if unicode.IsLetter(r) {
			hasLetter = true
			if strings.ContainsRune("aeiouy", r) {
				return false
			}
		}
	}
	return hasLetter
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
