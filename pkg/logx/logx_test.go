package logx

import "testing"

func TestDebugEnabledForDomain(t *testing.T) {
	SetDebug(false)
	if DebugEnabledFor("ratelimit") {
		t.Fatal("expected debug disabled by default")
	}

	SetDebug(true, "ratelimit")
	if !DebugEnabledFor("ratelimit") {
		t.Fatal("expected ratelimit domain enabled")
	}
	if DebugEnabledFor("approval") {
		t.Fatal("expected approval domain to remain disabled")
	}

	SetDebug(true)
	if !DebugEnabledFor("approval") {
		t.Fatal("expected all domains enabled when no filter given")
	}

	SetDebug(false)
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Fatal("expected nil passthrough")
	}
}
