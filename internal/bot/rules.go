// Package bot implements the deterministic conversation flow that runs
// before and around the external AI agents: code entry, the option menu,
// agent switching, and the continuation question.
package bot

import (
	"regexp"
	"strings"

	"github.com/sureline/whatsapp-orchestrator/internal/model"
)

// codePattern matches access codes: letters followed by digits, e.g. AB12.
var codePattern = regexp.MustCompile(`^[A-Za-z]+\d+$`)

var nonDigits = regexp.MustCompile(`\D`)

var greetingWords = map[string]bool{
	"hi":       true,
	"hello":    true,
	"hey":      true,
	"hi there": true,
}

var productKeywords = []string{"1", "product", "recommendation", "recommend"}

var salesKeywords = []string{"2", "sales", "pitch"}

// backPhrases return the user to the main menu from anywhere.
var backPhrases = map[string]bool{
	"menu":      true,
	"back":      true,
	"options":   true,
	"switch":    true,
	"main menu": true,
}

var switchToProduct = map[string]bool{
	"switch to product":                true,
	"product recommendation":           true,
	"switch to product recommendation": true,
}

var switchToSales = map[string]bool{
	"switch to sales":       true,
	"sales pitch":           true,
	"switch to sales pitch": true,
}

var continuationYes = map[string]bool{
	"yes":        true,
	"1":          true,
	"continue":   true,
	"more":       true,
	"yes please": true,
	"y":          true,
}

var continuationNo = map[string]bool{
	"no":         true,
	"2":          true,
	"done":       true,
	"that's all": true,
	"no thanks":  true,
	"thats all":  true,
	"n":          true,
}

var feedbackPhrases = []string{
	"very satisfied",
	"satisfied",
	"very good",
	"good",
	"excellent",
	"not good",
	"bad",
	"need improvement",
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeContact reduces a phone number to bare digits so formats like
// "whatsapp:+1 (555) 000-1111" and "15550001111" compare equal. The result
// is also the stable per-user session key input.
func NormalizeContact(s string) string {
	return nonDigits.ReplaceAllString(s, "")
}

func normalizePhone(s string) string {
	return NormalizeContact(s)
}

func isGreeting(msg string) bool {
	return greetingWords[normalize(msg)]
}

func isAccessCode(msg string) bool {
	return codePattern.MatchString(strings.TrimSpace(msg))
}

func isBackPhrase(msg string) bool {
	return backPhrases[normalize(msg)]
}

// matchSwitch reports an explicit request to move to the other agent type.
func matchSwitch(msg string) (model.AgentType, bool) {
	n := normalize(msg)
	if switchToProduct[n] {
		return model.AgentProductRecommendation, true
	}
	if switchToSales[n] {
		return model.AgentSalesPitch, true
	}
	return "", false
}

// matchOption maps a menu reply to an agent type. When the message matches
// keywords from both sets, sales wins only on an unambiguous "2"; any other
// overlap resolves to product, the primary flow.
func matchOption(msg string) (model.AgentType, bool) {
	n := normalize(msg)

	var product, sales bool
	for _, kw := range productKeywords {
		if strings.Contains(n, kw) {
			product = true
			break
		}
	}
	for _, kw := range salesKeywords {
		if strings.Contains(n, kw) {
			sales = true
			break
		}
	}

	switch {
	case product && sales:
		if strings.Contains(n, "2") && !strings.Contains(n, "1") {
			return model.AgentSalesPitch, true
		}
		return model.AgentProductRecommendation, true
	case product:
		return model.AgentProductRecommendation, true
	case sales:
		return model.AgentSalesPitch, true
	}
	return "", false
}

func isContinuationYes(msg string) bool {
	return continuationYes[normalize(msg)]
}

func isContinuationNo(msg string) bool {
	return continuationNo[normalize(msg)]
}

// IsFeedback reports whether the message is a rating for the engagement.
// Outside a feedback prompt only exact vocabulary matches count, so ordinary
// chat like "good morning" is not swallowed; once the agent has asked for
// feedback a containing match suffices.
func IsFeedback(msg string, awaitingFeedback bool) bool {
	n := normalize(msg)
	for _, phrase := range feedbackPhrases {
		if n == phrase {
			return true
		}
		if awaitingFeedback && strings.Contains(n, phrase) {
			return true
		}
	}
	return false
}

// IsFeedbackPrompt reports whether an agent reply is asking the user to rate
// the engagement.
func IsFeedbackPrompt(reply string) bool {
	n := strings.ToLower(reply)
	for _, phrase := range []string{
		"how was this sales pitch",
		"how was this recommendation",
		"how was this product recommendation",
		"how was this interaction",
		"please rate this",
		"how was the sales pitch",
	} {
		if strings.Contains(n, phrase) {
			return true
		}
	}
	return false
}
