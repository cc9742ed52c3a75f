package guidance

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrompt(t *testing.T) {
	got := Prompt(Request{Location: "Pune", ImageClass: "Mouse"})
	assert.Equal(t, "Hi, I'm located at Pune and I have a Mouse that I need to dispose of. Can you help me with the process?", got)
}

func TestSystemInstruction(t *testing.T) {
	c, err := ParseCatalog([]byte(`{
		"disposal_types": {"mouse": "Take mice to a recycler."},
		"disposal_locations": [{"id": "1", "state": "MH", "city": "Pune", "address": "1 Road", "contact": "111"}]
	}`))
	require.NoError(t, err)

	got := c.SystemInstruction(Request{Location: "Pune", ImageClass: "Mouse", Language: "Hindi"})
	assert.True(t, strings.HasPrefix(got, "You are an AI assistant specializing in electronic waste disposal guidance in India"))
	assert.Contains(t, got, "always start with: Here’s how you can dispose of a Mouse:")
	assert.Contains(t, got, "by referencing 1 Road, 111 and describing the appropriate disposal method from Take mice to a recycler.")
	assert.Contains(t, got, "Respond using Hindi.")
	assert.NotContains(t, got, "%!")

	t.Run("default language", func(t *testing.T) {
		got := c.SystemInstruction(Request{Location: "Pune", ImageClass: "Mouse"})
		assert.Contains(t, got, "Respond using English.")
	})
}
