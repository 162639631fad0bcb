package main

import "testing"

func TestRunClearRequiresTargetsWithoutAllFlag(t *testing.T) {
	oldAll := clearAll
	clearAll = false
	defer func() { clearAll = oldAll }()

	if err := runClear(clearCmd, nil); err == nil {
		t.Fatal("runClear: expected error when no targets and --all not set, got nil")
	}
}
