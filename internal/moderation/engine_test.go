package moderation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostchat/internal/domain"
	"hostchat/internal/logging"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(logging.Discard())
	require.NoError(t, err)
	return e
}

func TestEngine_Classify(t *testing.T) {
	e := newEngine(t)

	tests := []struct {
		name     string
		input    string
		status   domain.ModerationStatus
		flags    []string
		contains []string
		original bool
		minConf  float64
		maxConf  float64
	}{
		{
			name:   "empty",
			input:  "",
			status: domain.ModerationClean,
			flags:  []string{},
		},
		{
			name:   "whitespace only",
			input:  "   \n\t ",
			status: domain.ModerationClean,
			flags:  []string{},
		},
		{
			name:   "ordinary question",
			input:  "Hello, is the property available next weekend?",
			status: domain.ModerationClean,
			flags:  []string{},
		},
		{
			name:     "phone number with intent",
			input:    "call me at 9876543210",
			status:   domain.ModerationBlocked,
			contains: []string{"INDIAN_PHONE", "CONTACT_INTENT"},
			original: true,
			minConf:  1,
			maxConf:  1,
		},
		{
			name:     "prefixed phone with intent",
			input:    "call me at +919876543210",
			status:   domain.ModerationBlocked,
			contains: []string{"INDIAN_PHONE", "CONTACT_INTENT"},
			original: true,
			minConf:  1,
			maxConf:  1,
		},
		{
			name:   "friendly phrasing without contact details",
			input:  "let's connect sometime",
			status: domain.ModerationClean,
			flags:  []string{},
		},
		{
			name:   "contraction is not an app name",
			input:  "What's app do you use?",
			status: domain.ModerationClean,
			flags:  []string{},
		},
		{
			name:     "international phone format",
			input:    "+91 98765 43210",
			status:   domain.ModerationBlocked,
			contains: []string{"INDIAN_PHONE", "SPACED_PHONE"},
			original: true,
			minConf:  1,
			maxConf:  1,
		},
		{
			name:     "plain email",
			input:    "write to john@example.com",
			status:   domain.ModerationBlocked,
			contains: []string{"EMAIL"},
			original: true,
			minConf:  0.9,
			maxConf:  1,
		},
		{
			name:     "obfuscated email",
			input:    "john (at) gmail (dot) com",
			status:   domain.ModerationBlocked,
			flags:    []string{"OBFUSCATED_EMAIL"},
			original: true,
			minConf:  0.935,
			maxConf:  0.935,
		},
		{
			name:     "app mention only is flagged",
			input:    "Do you use whatsapp?",
			status:   domain.ModerationFlagged,
			flags:    []string{"WHATSAPP"},
			original: true,
			minConf:  0.77,
			maxConf:  0.77,
		},
		{
			name:     "spaced out app name",
			input:    "w h a t s a p p",
			status:   domain.ModerationFlagged,
			flags:    []string{"WHATSAPP"},
			original: true,
			minConf:  0.77,
			maxConf:  0.77,
		},
		{
			name:     "leet app name",
			input:    "find me on t3l3gram",
			status:   domain.ModerationFlagged,
			flags:    []string{"TELEGRAM"},
			original: true,
			minConf:  0.77,
			maxConf:  0.77,
		},
		{
			name:     "signal app",
			input:    "add me on signal app",
			status:   domain.ModerationFlagged,
			flags:    []string{"SIGNAL"},
			original: true,
			minConf:  0.77,
			maxConf:  0.77,
		},
		{
			name:     "intent and app together",
			input:    "message me on whatsapp",
			status:   domain.ModerationBlocked,
			flags:    []string{"WHATSAPP", "CONTACT_INTENT"},
			original: true,
			minConf:  1,
			maxConf:  1,
		},
		{
			name:     "intent alone stays clean but keeps the original",
			input:    "Please text me",
			status:   domain.ModerationClean,
			flags:    []string{"CONTACT_INTENT"},
			original: true,
			minConf:  0.44,
			maxConf:  0.44,
		},
		{
			name:   "app name inside other words",
			input:  "somewhat sapphire blue",
			status: domain.ModerationClean,
			flags:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.Classify(tt.input)
			assert.Equal(t, tt.status, res.Status)
			if tt.flags != nil {
				assert.Equal(t, tt.flags, res.Flags)
			}
			for _, f := range tt.contains {
				assert.Contains(t, res.Flags, f)
			}
			if tt.original {
				assert.Equal(t, tt.input, res.OriginalContent)
			} else {
				assert.Empty(t, res.OriginalContent)
			}
			assert.GreaterOrEqual(t, res.Confidence, tt.minConf-1e-9)
			assert.LessOrEqual(t, res.Confidence, tt.maxConf+1e-9)
		})
	}
}

func TestEngine_ConfidenceIsBounded(t *testing.T) {
	e := newEngine(t)
	inputs := []string{
		"call me 9876543210 john@example.com whatsapp telegram signal app t.me/abcde",
		"x",
		"reach us via @somehandle",
	}
	for _, in := range inputs {
		res := e.Classify(in)
		assert.GreaterOrEqual(t, res.Confidence, 0.0)
		assert.LessOrEqual(t, res.Confidence, 1.0)
		assert.Equal(t, StatusFor(res.Confidence), res.Status)
	}
}

func TestEngine_FlagsAreDistinct(t *testing.T) {
	e := newEngine(t)
	res := e.Classify("whatsapp whatsapp WhatsApp w.h.a.t.s.a.p.p")
	assert.Equal(t, []string{"WHATSAPP"}, res.Flags)
}

func TestEngine_InternalFailureDegradesToClean(t *testing.T) {
	e := &Engine{log: logging.Discard()}

	res := e.Classify("whatsapp me")
	assert.Equal(t, domain.ModerationClean, res.Status)
	assert.Zero(t, res.Confidence)
	assert.Empty(t, res.Flags)
}

func TestConfidence(t *testing.T) {
	assert.Zero(t, Confidence(nil))
	assert.InDelta(t, 0.44, Confidence([]PatternType{ContactIntent}), 1e-9)
	assert.InDelta(t, 0.44, Confidence([]PatternType{ContactIntent, ContactIntent}), 1e-9)
	assert.InDelta(t, 0.99, Confidence([]PatternType{Email}), 1e-9)
	assert.Equal(t, 1.0, Confidence([]PatternType{WhatsApp, Telegram}))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, domain.ModerationBlocked, StatusFor(0.9))
	assert.Equal(t, domain.ModerationFlagged, StatusFor(0.6))
	assert.Equal(t, domain.ModerationFlagged, StatusFor(0.89))
	assert.Equal(t, domain.ModerationClean, StatusFor(0.59))
}

func TestWarningMessage(t *testing.T) {
	assert.Contains(t, WarningMessage(domain.ModerationResult{Status: domain.ModerationBlocked}), "blocked")
	assert.Contains(t, WarningMessage(domain.ModerationResult{Status: domain.ModerationFlagged}), "flagged")
	assert.Empty(t, WarningMessage(domain.ModerationResult{Status: domain.ModerationClean}))
}
