package logx

import "testing"

func TestNewLogger(t *testing.T) {
	logger := NewLogger("agent-1")
	if logger == nil {
		t.Fatal("Expected NewLogger to return non-nil instance")
	}
	if logger.GetAgentID() != "agent-1" {
		t.Errorf("Expected agent ID 'agent-1', got '%s'", logger.GetAgentID())
	}
}

func TestWithAgentID(t *testing.T) {
	logger := NewLogger("agent-1")
	derived := logger.WithAgentID("agent-2")

	if derived.GetAgentID() != "agent-2" {
		t.Errorf("Expected derived agent ID 'agent-2', got '%s'", derived.GetAgentID())
	}
	if logger.GetAgentID() != "agent-1" {
		t.Errorf("Expected original agent ID unchanged, got '%s'", logger.GetAgentID())
	}
}

func TestDomainFiltering(t *testing.T) {
	SetDebugConfig(true, []string{"loop", "executor"})
	defer SetDebugConfig(false, nil)

	if !IsDebugEnabledForDomain("loop") {
		t.Error("Expected 'loop' domain to be enabled")
	}
	if !IsDebugEnabledForDomain("executor") {
		t.Error("Expected 'executor' domain to be enabled")
	}
	if IsDebugEnabledForDomain("contextwin") {
		t.Error("Expected 'contextwin' domain to be disabled")
	}
}

func TestAllDomainsEnabledByDefault(t *testing.T) {
	SetDebugConfig(true, nil)
	defer SetDebugConfig(false, nil)

	if !IsDebugEnabledForDomain("anything") {
		t.Error("Expected all domains enabled when no domain filter configured")
	}
}

func TestDebugDisabled(t *testing.T) {
	SetDebugConfig(false, nil)

	if IsDebugEnabled() {
		t.Error("Expected debug to be disabled")
	}
	if IsDebugEnabledForDomain("loop") {
		t.Error("Expected domain debug to be disabled when debug is off")
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(nil, "context"); err != nil {
		t.Errorf("Expected Wrap(nil) to return nil, got %v", err)
	}
}
