package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"subscription-ledger/internal/adapters/cli"
	"subscription-ledger/internal/app"
	"subscription-ledger/internal/core"
	"subscription-ledger/internal/store/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newService(t *testing.T) app.ApplicationService {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	store := memory.New()
	t.Cleanup(func() { _ = store.Close() })
	ledger := core.NewLedger(store, core.Options{
		Clock:  fixedClock{now: time.Date(2024, time.June, 15, 0, 0, 0, 0, time.UTC)},
		Logger: log,
	})
	return app.NewAppService(store, ledger, nil, app.Options{Currency: "USD", DelinquencyDays: 30, Logger: log})
}

// execute runs one command line against svc and returns its stdout.
func execute(t *testing.T, svc app.ApplicationService, args ...string) (string, error) {
	t.Helper()
	root := cli.New(func() (app.ApplicationService, error) { return svc, nil })
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func mustExecute(t *testing.T, svc app.ApplicationService, args ...string) string {
	t.Helper()
	out, err := execute(t, svc, args...)
	if err != nil {
		t.Fatalf("%s: %v", strings.Join(args, " "), err)
	}
	return out
}

func TestBillingCycle(t *testing.T) {
	svc := newService(t)

	mustExecute(t, svc, "customers", "add", "--name", "Acme")
	mustExecute(t, svc, "plans", "add", "--name", "Basic", "--amount", "100")
	mustExecute(t, svc, "subscriptions", "add", "--customer", "1", "--plan", "2", "--start", "2024-01-01")

	out := mustExecute(t, svc, "generate", "--period", "2024-05")
	if !strings.Contains(out, "1 created, 0 already present") {
		t.Errorf("unexpected generate output:\n%s", out)
	}
	out = mustExecute(t, svc, "generate", "--period", "2024-05")
	if !strings.Contains(out, "0 created, 1 already present") {
		t.Errorf("rerun should report the duplicate:\n%s", out)
	}

	out = mustExecute(t, svc, "pay", "--customer", "1", "--amount", "60", "--date", "2024-06-01", "--auto")
	if !strings.Contains(out, "Allocated 60.00, remaining 0.00") {
		t.Errorf("unexpected pay output:\n%s", out)
	}

	out = mustExecute(t, svc, "balance", "1")
	if !strings.Contains(out, "40.00") {
		t.Errorf("balance should show 40.00 owed:\n%s", out)
	}

	out = mustExecute(t, svc, "export", "accruals")
	if !strings.HasPrefix(out, "id,") || !strings.Contains(out, "PARTIALLY_PAID") {
		t.Errorf("unexpected export:\n%s", out)
	}
}

func TestManualAllocationLines(t *testing.T) {
	svc := newService(t)
	mustExecute(t, svc, "customers", "add", "--name", "Acme")
	mustExecute(t, svc, "plans", "add", "--name", "Basic", "--amount", "100")
	mustExecute(t, svc, "subscriptions", "add", "--customer", "1", "--plan", "2", "--start", "2024-01-01")
	mustExecute(t, svc, "generate", "--period", "2024-05")
	mustExecute(t, svc, "pay", "--customer", "1", "--amount", "50")

	// ids share one sequence: customer 1, plan 2, subscription 3, accrual 4, payment 5
	_, err := execute(t, svc, "allocate", "5", "--line", "4:70")
	var over *core.OverAllocationError
	if !errors.As(err, &over) {
		t.Fatalf("expected OverAllocationError, got %v", err)
	}

	out := mustExecute(t, svc, "--json", "allocate", "5", "--line", "4:30")
	var res core.AllocationResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
	if len(res.Allocations) != 1 || res.Remaining.StringFixed(2) != "20.00" {
		t.Errorf("unexpected allocation result: %+v", res)
	}

	if _, err := execute(t, svc, "allocate", "5", "--line", "nonsense"); err == nil {
		t.Error("expected a malformed line to be rejected")
	}
}

func TestArgumentErrors(t *testing.T) {
	svc := newService(t)
	tests := []struct {
		name string
		args []string
	}{
		{"missing id", []string{"balance"}},
		{"bad id", []string{"balance", "abc"}},
		{"bad amount", []string{"pay", "--customer", "1", "--amount", "lots"}},
		{"unknown table", []string{"export", "ledgers"}},
		{"missing required flag", []string{"customers", "add"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := execute(t, svc, tt.args...); err == nil {
				t.Errorf("expected an error for %v", tt.args)
			}
		})
	}
}

func TestServiceResolvedLazily(t *testing.T) {
	called := false
	root := cli.New(func() (app.ApplicationService, error) {
		called = true
		return nil, errors.New("no store")
	})
	root.SetOut(io.Discard)
	root.SetArgs([]string{"--help"})
	if err := root.Execute(); err != nil {
		t.Fatalf("help: %v", err)
	}
	if called {
		t.Error("help should not open the store")
	}
}
