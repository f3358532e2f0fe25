package domain

import "testing"

func TestTurnTableName(t *testing.T) {
	if got := (Turn{}).TableName(); got != "turns" {
		t.Fatalf("TableName = %q, want %q", got, "turns")
	}
}

func TestRoleConstants(t *testing.T) {
	if RoleUser != "user" || RoleBot != "bot" {
		t.Fatalf("unexpected role constants: %q %q", RoleUser, RoleBot)
	}
}
