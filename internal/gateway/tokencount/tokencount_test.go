package tokencount

import (
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
)

func TestEstimate_EmptyIsZero(t *testing.T) {
	assert.Zero(t, Estimate(""))
}

func TestEstimate_GrowsWithInput(t *testing.T) {
	short := Estimate("hello")
	long := Estimate("hello hello hello hello hello hello hello hello hello hello")

	assert.Greater(t, short, 0)
	assert.Greater(t, long, short)
}

func TestEstimateMessages_IncludesFramingOverhead(t *testing.T) {
	messages := []openai.ChatCompletionMessage{
		{Role: "system", Content: "Be brief."},
		{Role: "user", Content: "Hello"},
	}

	total := EstimateMessages(messages)
	assert.GreaterOrEqual(t, total, Estimate("Be brief.")+Estimate("Hello")+8)
}

func TestEstimateMessages_EmptyRequest(t *testing.T) {
	assert.Zero(t, EstimateMessages(nil))
}
