package errors

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestDumpCapturesPostgresFields(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23514", ConstraintName: "products_inventory_check", TableName: "products"}
	err := Wrap(CodeDependency, fmt.Errorf("update: %w", pgErr), "reserve stock")

	d := Dump(err)
	if d.Code != CodeDependency {
		t.Fatalf("expected dependency code, got %s", d.Code)
	}
	if d.Postgres == nil || d.Postgres.Code != "23514" || d.Postgres.Constraint != "products_inventory_check" {
		t.Fatalf("unexpected pg fields %+v", d)
	}
	if len(d.Chain) != 3 {
		t.Fatalf("expected 3 chain entries, got %d", len(d.Chain))
	}
	if _, ok := d.Fields()["pg_table"]; !ok {
		t.Fatalf("expected pg_table in fields")
	}
}

func TestDumpOmitsPostgresFieldsWhenAbsent(t *testing.T) {
	d := Dump(New(CodeConflict, "stock changed"))
	if _, ok := d.Fields()["pg_code"]; ok || d.Postgres != nil {
		t.Fatalf("did not expect postgres details for plain error")
	}
	if empty := Dump(nil); empty.TopMessage != "" || empty.Chain != nil {
		t.Fatalf("expected zero dump for nil")
	}
}
