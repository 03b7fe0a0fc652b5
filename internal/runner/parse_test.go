package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/baleyhq/baley/internal/model"
)

func TestParseModelOutput_JSONObject(t *testing.T) {
	out := ParseModelOutput(`{"answer": 42, "done": true}`)
	assert.Equal(t, float64(42), out["answer"])
	assert.Equal(t, true, out["done"])
}

func TestParseModelOutput_FencedJSON(t *testing.T) {
	out := ParseModelOutput("```json\n{\"answer\": 42}\n```")
	assert.Equal(t, float64(42), out["answer"])

	out = ParseModelOutput("```\n{\"answer\": 7}\n```")
	assert.Equal(t, float64(7), out["answer"])
}

func TestParseModelOutput_NonObjectJSON(t *testing.T) {
	out := ParseModelOutput(`[1, 2, 3]`)
	assert.Equal(t, []any{float64(1), float64(2), float64(3)}, out["result"])

	out = ParseModelOutput(`"just a string"`)
	assert.Equal(t, "just a string", out["result"])
}

func TestParseModelOutput_PlainText(t *testing.T) {
	out := ParseModelOutput("  the model rambled here  ")
	assert.Equal(t, map[string]any{"text": "the model rambled here"}, out)
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripCodeFence("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripCodeFence(`{"a":1}`))
	// A brace on the fence line is content, not a language tag.
	assert.Equal(t, `{"a":
1}`, StripCodeFence("```{\"a\":\n1}```"))
}

func TestNoopRunnerEchoes(t *testing.T) {
	n := NewNoop()
	res, err := n.Run(t.Context(), Request{
		Agent: model.Agent{Name: "echoer"},
		Input: map[string]any{"q": "hello"},
	})
	assert.NoError(t, err)
	assert.Equal(t, "echoer", res.Output["agent"])
	assert.Equal(t, map[string]any{"q": "hello"}, res.Output["echo"])
	assert.Equal(t, "noop", n.Name())
}
