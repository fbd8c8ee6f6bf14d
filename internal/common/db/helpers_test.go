package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
)

func TestUniqueViolation(t *testing.T) {
	err := fmt.Errorf("exec failed: %w", &mysql.MySQLError{
		Number:  1062,
		Message: "Duplicate entry 'r1-7' for key 'room_participants.uniq_room_user'",
	})
	key, ok := UniqueViolation(err)
	if !ok {
		t.Fatalf("expected duplicate entry to be detected")
	}
	if key != "room_participants.uniq_room_user" {
		t.Fatalf("unexpected key: %q", key)
	}
	if _, ok := UniqueViolation(errors.New("boom")); ok {
		t.Fatalf("plain error must not be a unique violation")
	}
}

func TestIsLockConflict(t *testing.T) {
	if !IsLockConflict(&mysql.MySQLError{Number: 1213}) {
		t.Fatalf("deadlock should be a lock conflict")
	}
	if !IsLockConflict(fmt.Errorf("wrapped: %w", &mysql.MySQLError{Number: 1205})) {
		t.Fatalf("lock wait timeout should be a lock conflict")
	}
	if IsLockConflict(&mysql.MySQLError{Number: 1062}) {
		t.Fatalf("duplicate entry is not a lock conflict")
	}
}

func TestPlaceholders(t *testing.T) {
	cases := map[int]string{0: "", 1: "?", 3: "?, ?, ?"}
	for n, want := range cases {
		if got := Placeholders(n); got != want {
			t.Fatalf("Placeholders(%d) = %q, want %q", n, got, want)
		}
	}
}
