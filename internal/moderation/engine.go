package moderation

import (
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
	"github.com/samber/lo"

	"hostchat/internal/domain"
)

type PatternType string

const (
	IndianPhone     PatternType = "INDIAN_PHONE"
	SpacedPhone     PatternType = "SPACED_PHONE"
	Email           PatternType = "EMAIL"
	ObfuscatedEmail PatternType = "OBFUSCATED_EMAIL"
	WhatsApp        PatternType = "WHATSAPP"
	Telegram        PatternType = "TELEGRAM"
	Signal          PatternType = "SIGNAL"
	ContactIntent   PatternType = "CONTACT_INTENT"
)

const (
	BlockThreshold = 0.9
	FlagThreshold  = 0.6
)

const (
	blockedWarning = "Your message was blocked because it appears to contain contact information. Please use the platform for all communications to ensure safety and security for both parties."
	flaggedWarning = "Your message has been flagged for review. Please avoid sharing personal contact information. Use the platform messaging system for all communications."
)

type detector struct {
	pattern PatternType
	weight  float64
	re      *regexp.Regexp
}

// detectors run in this order; flags keep it.
var detectors = []detector{
	{IndianPhone, 0.9, regexp.MustCompile(`(?i)(?:\+91[\s.-]?)?[6-9]\d{4}[\s.-]?\d{5}`)},
	{SpacedPhone, 0.85, regexp.MustCompile(`(?i)[6-9](?:\s*\d){9}`)},
	{Email, 0.9, regexp.MustCompile(`(?i)[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)},
	{ObfuscatedEmail, 0.85, regexp.MustCompile(`(?i)[a-zA-Z0-9._%+-]+\s*[\(\[]?\s*at\s*[\)\]]?\s*[a-zA-Z0-9.-]+\s*[\(\[]?\s*dot\s*[\)\]]?\s*[a-zA-Z]{2,}`)},
	{WhatsApp, 0.7, regexp.MustCompile(`(?i)whats?\s*app|wa\.me/|watsap`)},
	{Telegram, 0.7, regexp.MustCompile(`(?i)telegram|t\.me/|@[a-zA-Z][a-zA-Z0-9_]{4,}`)},
	{Signal, 0.7, regexp.MustCompile(`(?i)\bsignal\s*(?:app|number|me)\b`)},
	{ContactIntent, 0.4, regexp.MustCompile(`(?i)(?:call|text|reach|contact|message|ping|dm)\s*(?:me|us)\s*(?:on|at|via|@)?`)},
}

var weights = lo.SliceToMap(detectors, func(d detector) (PatternType, float64) {
	return d.pattern, d.weight
})

// keywords catch app names written with spacing, punctuation or leet
// substitutions, e.g. "w h a t s a p p" or "t3l3gram".
var keywords = map[string]PatternType{
	"whatsapp": WhatsApp,
	"whatapp":  WhatsApp,
	"watsapp":  WhatsApp,
	"watsap":   WhatsApp,
	"telegram": Telegram,
}

// Engine classifies message text for attempts to move contact off-platform.
type Engine struct {
	matcher *goahocorasick.Machine
	log     *slog.Logger
}

func NewEngine(log *slog.Logger) (*Engine, error) {
	words := lo.Keys(keywords)
	sort.Strings(words)
	patterns := make([][]rune, 0, len(words))
	for _, w := range words {
		patterns = append(patterns, normalizeRunes([]rune(w)))
	}
	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, fmt.Errorf("building keyword matcher: %w", err)
	}
	return &Engine{matcher: m, log: log.With("component", "moderation")}, nil
}

// Classify scores text. It never fails: an internal error yields a clean result.
func (e *Engine) Classify(text string) (res domain.ModerationResult) {
	clean := domain.ModerationResult{Status: domain.ModerationClean, Flags: []string{}, Confidence: 0}
	if strings.TrimSpace(text) == "" {
		return clean
	}

	defer func() {
		if r := recover(); r != nil {
			e.log.Error("moderation check failed", "panic", r)
			res = clean
		}
	}()

	matched := e.detect(text)
	if len(matched) == 0 {
		return clean
	}

	confidence := Confidence(matched)
	res = domain.ModerationResult{
		Status:          StatusFor(confidence),
		Flags:           lo.Map(matched, func(p PatternType, _ int) string { return string(p) }),
		Confidence:      confidence,
		OriginalContent: text,
	}
	if res.Status != domain.ModerationClean {
		e.log.Warn("content moderation triggered",
			"status", res.Status,
			"confidence", res.Confidence,
			"flags", res.Flags,
		)
	}
	return res
}

// detect returns the distinct pattern types found, in detector order.
func (e *Engine) detect(text string) []PatternType {
	found := make(map[PatternType]bool)
	for _, d := range detectors {
		if d.re.MatchString(text) {
			found[d.pattern] = true
		}
	}
	for _, p := range e.keywordHits(text) {
		found[p] = true
	}
	return lo.FilterMap(detectors, func(d detector, _ int) (PatternType, bool) {
		return d.pattern, found[d.pattern]
	})
}

func (e *Engine) keywordHits(text string) []PatternType {
	orig := []rune(text)
	norm, origIdx := normalize(orig)
	if len(norm) == 0 {
		return nil
	}
	var hits []PatternType
	for _, term := range e.matcher.MultiPatternSearch(norm, false) {
		start := term.Pos
		end := start + len(term.Word)
		if start < 0 || end > len(origIdx) {
			continue
		}
		// the match must not be glued to surrounding letters: "somewhat sapphire"
		// normalizes to "...whatsapp..." but is not a mention.
		first, last := origIdx[start], origIdx[end-1]
		if first > 0 && isWordRune(orig[first-1]) {
			continue
		}
		if last+1 < len(orig) && unicode.IsLetter(orig[last+1]) {
			continue
		}
		if p, ok := keywords[string(term.Word)]; ok {
			hits = append(hits, p)
		}
	}
	return hits
}

// Confidence combines the weights of distinct pattern types; several
// distinct types raise the score by up to 20%.
func Confidence(patterns []PatternType) float64 {
	if len(patterns) == 0 {
		return 0
	}
	total := 0.0
	for _, p := range lo.Uniq(patterns) {
		total += weights[p]
	}
	multiplier := math.Min(1.2, 1+float64(len(lo.Uniq(patterns)))*0.1)
	return math.Min(1.0, total*multiplier)
}

func StatusFor(confidence float64) domain.ModerationStatus {
	switch {
	case confidence >= BlockThreshold:
		return domain.ModerationBlocked
	case confidence >= FlagThreshold:
		return domain.ModerationFlagged
	default:
		return domain.ModerationClean
	}
}

// WarningMessage returns the notice shown to the sender, or "" for clean results.
func WarningMessage(r domain.ModerationResult) string {
	switch r.Status {
	case domain.ModerationBlocked:
		return blockedWarning
	case domain.ModerationFlagged:
		return flaggedWarning
	default:
		return ""
	}
}

func normalize(orig []rune) ([]rune, []int) {
	norm := make([]rune, 0, len(orig))
	idx := make([]int, 0, len(orig))
	for i, r := range orig {
		c := simplifyRune(r)
		if isNoise(c) {
			continue
		}
		norm = append(norm, unicode.ToLower(c))
		idx = append(idx, i)
	}
	return norm, idx
}

func normalizeRunes(in []rune) []rune {
	out, _ := normalize(in)
	return out
}

func simplifyRune(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3', '€':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	default:
		return r
	}
}

// isNoise reports runes dropped before keyword matching. Apostrophes are kept
// so contractions like "what's app" do not merge into an app name.
func isNoise(r rune) bool {
	if r == '\'' || r == '’' {
		return false
	}
	return unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
