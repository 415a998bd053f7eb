package repo

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestRunFilter_EffectiveLimit(t *testing.T) {
	tests := []struct {
		limit int
		want  int
	}{
		{0, 100},
		{-1, 100},
		{10, 10},
		{100, 100},
		{5000, 100},
	}
	for _, tt := range tests {
		if got := (RunFilter{Limit: tt.limit}).EffectiveLimit(); got != tt.want {
			t.Errorf("RunFilter{Limit: %d}.EffectiveLimit() = %d, want %d", tt.limit, got, tt.want)
		}
	}
}

func TestLogFilter_EffectiveLimit(t *testing.T) {
	tests := []struct {
		limit int
		want  int
	}{
		{0, 500},
		{1, 1},
		{2000, 2000},
		{2001, 2000},
	}
	for _, tt := range tests {
		if got := (LogFilter{Limit: tt.limit}).EffectiveLimit(); got != tt.want {
			t.Errorf("LogFilter{Limit: %d}.EffectiveLimit() = %d, want %d", tt.limit, got, tt.want)
		}
	}
}

func TestMigrations_Ordered(t *testing.T) {
	if len(Migrations) == 0 {
		t.Fatal("no migrations")
	}
	for i, m := range Migrations {
		if m.Version != i+1 {
			t.Errorf("migration %d has version %d", i, m.Version)
		}
		if strings.TrimSpace(m.SQL) == "" {
			t.Errorf("migration %d has empty SQL", m.Version)
		}
	}
}

func TestMigrations_RunNumberBackfill(t *testing.T) {
	sql := Migrations[1].SQL
	for _, want := range []string{"ADD COLUMN IF NOT EXISTS run_number", "ROW_NUMBER()", "ux_runs_pipeline_number"} {
		if !strings.Contains(sql, want) {
			t.Errorf("migration 2 should contain %q", want)
		}
	}
}

func TestMigrations_StepProgress(t *testing.T) {
	sql := Migrations[2].SQL
	for _, want := range []string{"rows_processed", "rows_total"} {
		if !strings.Contains(sql, want) {
			t.Errorf("migration 3 should contain %q", want)
		}
	}
}

func TestRunSelect_DerivesNumberOnlyWhenMissing(t *testing.T) {
	if strings.Contains(runSelect, "OVER (") {
		t.Error("runSelect should not scan the whole table with a window function")
	}
	if !strings.Contains(runSelect, "COALESCE(run_number,") {
		t.Error("runSelect should fall back only for rows without run_number")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})) {
		t.Error("wrapped 23505 should be a unique violation")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Error("23503 is not a unique violation")
	}
	if isUniqueViolation(errors.New("boom")) {
		t.Error("plain error is not a unique violation")
	}
}

func TestNullHelpers(t *testing.T) {
	if nullString("") != nil {
		t.Error("empty string should map to nil")
	}
	if v := nullString("x"); v == nil || *v != "x" {
		t.Error("non-empty string should be kept")
	}

	nilID := uuid.Nil
	if nullUUID(&nilID) != nil || nullUUID(nil) != nil {
		t.Error("nil uuid should map to nil")
	}
	id := uuid.New()
	if got := nullUUID(&id); got == nil || *got != id {
		t.Error("uuid should be kept")
	}
}
