package model

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAgentName(t *testing.T) {
	valid := []string{"researcher", "data.collector", "Agent 7", "a-b_c", strings.Repeat("x", 255)}
	for _, name := range valid {
		assert.NoError(t, ValidateAgentName(name), "name %q should be valid", name)
	}

	invalid := []string{"", strings.Repeat("x", 256), "bad!name", "comma,here", "slash/name"}
	for _, name := range invalid {
		assert.Error(t, ValidateAgentName(name), "name %q should be invalid", name)
	}
}

func TestValidateToolName(t *testing.T) {
	assert.NoError(t, ValidateToolName("my_tool"))
	assert.NoError(t, ValidateToolName("Tool2"))

	err := ValidateToolName("My-Tool!")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed")

	assert.Error(t, ValidateToolName(""))
	assert.Error(t, ValidateToolName("2tool"))
	assert.Error(t, ValidateToolName(strings.Repeat("a", 65)))
}

func TestRoleAtLeast(t *testing.T) {
	assert.True(t, RoleAtLeast(RoleAdmin, RoleReader))
	assert.True(t, RoleAtLeast(RoleAdmin, RoleAgent))
	assert.True(t, RoleAtLeast(RoleAgent, RoleReader))
	assert.True(t, RoleAtLeast(RoleReader, RoleReader))

	assert.False(t, RoleAtLeast(RoleReader, RoleAgent))
	assert.False(t, RoleAtLeast(RoleAgent, RoleAdmin))
	assert.False(t, RoleAtLeast(AgentRole("bogus"), RoleReader))
}

func TestExecutionStatusTerminal(t *testing.T) {
	assert.True(t, ExecutionCompleted.Terminal())
	assert.True(t, ExecutionFailed.Terminal())
	assert.True(t, ExecutionCancelled.Terminal())
	assert.False(t, ExecutionPending.Terminal())
	assert.False(t, ExecutionRunning.Terminal())
}

func TestApprovalPatternExpiry(t *testing.T) {
	now := time.Now().UTC()

	p := ApprovalPattern{}
	assert.False(t, p.ExpiredAt(now), "no expiry means never expired")
	assert.False(t, p.Revoked())

	past := now.Add(-time.Minute)
	p.ExpiresAt = &past
	assert.True(t, p.ExpiredAt(now))

	future := now.Add(time.Minute)
	p.ExpiresAt = &future
	assert.False(t, p.ExpiredAt(now))
	// Expiry boundary is inclusive.
	assert.True(t, p.ExpiredAt(future))

	p.RevokedAt = &now
	assert.True(t, p.Revoked())
}

func TestValidateKVKey(t *testing.T) {
	assert.NoError(t, ValidateKVKey("progress"))
	assert.Error(t, ValidateKVKey(""))
	assert.Error(t, ValidateKVKey(strings.Repeat("k", 256)))
}

func TestValidTriggerType(t *testing.T) {
	assert.True(t, ValidTriggerType(TriggerOnCompletion))
	assert.True(t, ValidTriggerType(TriggerOnSuccess))
	assert.True(t, ValidTriggerType(TriggerOnFailure))
	assert.False(t, ValidTriggerType(TriggerType("sometimes")))
}
