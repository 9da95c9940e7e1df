package errors

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestDumpCapturesPostgresConstraint(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_vendor_ledger_order_vendor_type", TableName: "vendor_ledger_entries"}
	err := Wrap(CodeConflict, fmt.Errorf("insert ledger: %w", pgErr), "commission already credited")

	d := Dump(err)
	if d.Code != CodeConflict {
		t.Fatalf("expected conflict code, got %s", d.Code)
	}
	if d.PG == nil || d.PG.Code != "23505" || d.PG.Constraint != "ux_vendor_ledger_order_vendor_type" {
		t.Fatalf("expected postgres details, got %+v", d.PG)
	}
	if len(d.Chain) != 3 {
		t.Fatalf("expected three links in chain, got %v", d.Chain)
	}

	fields := d.Fields()
	if fields["pg_code"] != "23505" || fields["error_code"] != string(CodeConflict) {
		t.Fatalf("unexpected log fields %v", fields)
	}
}

func TestDumpPlainError(t *testing.T) {
	d := Dump(New(CodeNotFound, "missing").WithReason(ReasonProductNotFound))
	if d.PG != nil {
		t.Fatalf("unexpected pg details %+v", d.PG)
	}
	if d.Reason != ReasonProductNotFound {
		t.Fatalf("expected reason, got %q", d.Reason)
	}
	fields := d.Fields()
	if _, ok := fields["error_chain"]; ok {
		t.Fatalf("single-link chain should be omitted: %v", fields)
	}
	if Dump(nil).Message != "" {
		t.Fatal("nil error should dump empty")
	}
}
