package classify

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/tbourn/whatsapp-storefront/internal/domain"
)

func user(s string) domain.Turn {
	return domain.Turn{Role: domain.RoleUser, Content: s}
}

func assistant(s string) domain.Turn {
	return domain.Turn{Role: domain.RoleAssistant, Content: s}
}

func TestAnalyze_RepetitionTriggers(t *testing.T) {
	d := AnalyzeConversationForHelp([]domain.Turn{
		user("I need help"), user("I need help"), user("I need help"),
	}, DefaultThresholds)
	assert.True(t, d.NeedsHelp)
	assert.Equal(t, ReasonRepetition, d.Reason)
}

func TestAnalyze_RepetitionIgnoresAssistantTurnsAndPunctuation(t *testing.T) {
	d := AnalyzeConversationForHelp([]domain.Turn{
		user("where is it?"), assistant("Let me check"),
		user("Where is it"), assistant("One moment"),
		user("WHERE   is it!!"),
	}, DefaultThresholds)
	assert.True(t, d.NeedsHelp)
	assert.Equal(t, ReasonRepetition, d.Reason)
}

func TestAnalyze_TwoRepeatsIsNotEnough(t *testing.T) {
	d := AnalyzeConversationForHelp([]domain.Turn{
		user("hi"), user("I need help"), user("I need help"),
	}, DefaultThresholds)
	assert.False(t, d.NeedsHelp)
}

func TestAnalyze_RepeatsOutsideWindowAreIgnored(t *testing.T) {
	d := AnalyzeConversationForHelp([]domain.Turn{
		user("same"), user("same"), user("same"),
		assistant("a"), assistant("b"), user("different"), assistant("c"), user("other"),
	}, DefaultThresholds)
	assert.False(t, d.NeedsHelp)
}

func TestAnalyze_FrustrationInLookback(t *testing.T) {
	d := AnalyzeConversationForHelp([]domain.Turn{
		user("this is useless"), assistant("sorry"), user("ok what colours"),
	}, DefaultThresholds)
	assert.True(t, d.NeedsHelp)
	assert.Equal(t, ReasonFrustration, d.Reason)

	// Three customer turns back is outside the 2-turn lookback.
	d = AnalyzeConversationForHelp([]domain.Turn{
		user("this is useless"), user("ok"), user("what colours"),
	}, DefaultThresholds)
	assert.False(t, d.NeedsHelp)
}

func TestAnalyze_ComplexityOnlyInLatestTurn(t *testing.T) {
	d := AnalyzeConversationForHelp([]domain.Turn{user("hi"), user("my item arrived broken")}, DefaultThresholds)
	assert.True(t, d.NeedsHelp)
	assert.Equal(t, ReasonComplexity, d.Reason)

	d = AnalyzeConversationForHelp([]domain.Turn{user("I want a refund"), user("fine"), user("thanks")}, DefaultThresholds)
	assert.False(t, d.NeedsHelp)
}

func TestAnalyze_EmptyAndAssistantOnly(t *testing.T) {
	assert.False(t, AnalyzeConversationForHelp(nil, DefaultThresholds).NeedsHelp)
	assert.False(t, AnalyzeConversationForHelp([]domain.Turn{assistant("I don't understand")}, DefaultThresholds).NeedsHelp)
}

func TestAnalyze_DeterministicProperty(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	properties.Property("same input, same decision", prop.ForAll(
		func(a, b, c string) bool {
			turns := []domain.Turn{user(a), assistant(b), user(c)}
			return AnalyzeConversationForHelp(turns, DefaultThresholds) == AnalyzeConversationForHelp(turns, DefaultThresholds)
		},
		gen.AlphaString(), gen.AlphaString(), gen.AlphaString(),
	))
	properties.Property("N identical customer turns always escalate", prop.ForAll(
		func(s string) bool {
			turns := []domain.Turn{user(s), user(s), user(s)}
			return AnalyzeConversationForHelp(turns, DefaultThresholds).NeedsHelp
		},
		gen.Identifier(),
	))
	properties.TestingRun(t)
}

func TestDetectAIConfusion(t *testing.T) {
	d := DetectAIConfusion("Sure! Let me connect you with my manager.")
	assert.True(t, d.NeedsHelp)
	assert.Equal(t, ReasonAIConfusion, d.Reason)

	assert.True(t, DetectAIConfusion("Sorry, I don’t understand what you mean").NeedsHelp)
	assert.True(t, DetectAIConfusion("That is beyond my knowledge").NeedsHelp)
	assert.False(t, DetectAIConfusion("The Blue Shirt costs GHS 49.99").NeedsHelp)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "i need help", Normalize("  I need HELP!! "))
	assert.Equal(t, "don't stop", Normalize("Don't   stop."))
	assert.Equal(t, "", Normalize("?!"))
}
