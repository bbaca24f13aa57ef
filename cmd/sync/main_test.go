package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"spsync/internal/config"
	"spsync/internal/pipeline"
	"spsync/internal/source"
)

// fakeRunner is a deterministic runner used by CLI tests.
type fakeRunner struct {
	result pipeline.MultiResult
	calls  atomic.Int64

	gotTables []config.TableSpec
}

func (r *fakeRunner) Run(ctx context.Context, tables []config.TableSpec) pipeline.MultiResult {
	r.calls.Add(1)
	r.gotTables = tables
	return r.result
}

type nopSource struct{}

func (nopSource) Query(ctx context.Context, sql string) (*source.ResultSet, error) {
	return &source.ResultSet{}, nil
}
func (nopSource) Ping(ctx context.Context) error { return nil }
func (nopSource) Close() error                   { return nil }

func testSettings() config.Settings {
	return config.Settings{
		SourceKind:      "synapse",
		SynapseServer:   "s",
		SynapseDatabase: "d",
		BatchSize:       100,
	}
}

func testRegistry() config.Registry {
	return config.Registry{Tables: []config.TableSpec{
		{Name: "customers", Query: "SELECT 1", List: "Customers"},
		{Name: "orders", Query: "SELECT 2", List: "Orders"},
	}}
}

// testDeps wires every seam to a working fake; individual tests override.
func testDeps(r *fakeRunner) appDeps {
	return appDeps{
		loadSettings: func() (config.Settings, error) { return testSettings(), nil },
		loadRegistry: func(string) (config.Registry, error) { return testRegistry(), nil },
		connect: func(ctx context.Context, s config.Settings) (source.Source, pipeline.Destination, error) {
			return nopSource{}, nil, nil
		},
		newRunner: func(config.Settings, source.Source, pipeline.Destination, bool, func(string, ...any)) runner {
			return r
		},
		initMetrics: func(context.Context, string) (func(), error) { return func() {}, nil },
	}
}

func successResult() pipeline.MultiResult {
	return pipeline.MultiResult{
		RunID:  "run-1",
		Status: pipeline.StatusSuccess,
		Tables: []pipeline.Result{{Table: "customers", List: "Customers", Status: pipeline.StatusSuccess}},
	}
}

func TestRunMain_ExitCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   pipeline.Status
		wantCode int
	}{
		{name: "success", status: pipeline.StatusSuccess, wantCode: 0},
		{name: "partial", status: pipeline.StatusPartial, wantCode: 1},
		{name: "failed", status: pipeline.StatusFailed, wantCode: 2},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			r := &fakeRunner{result: pipeline.MultiResult{Status: tc.status}}
			var stdout, stderr bytes.Buffer
			code := runMain(context.Background(), nil, &stdout, &stderr, testDeps(r))
			if code != tc.wantCode {
				t.Fatalf("exit code = %d, want %d; stderr=%q", code, tc.wantCode, stderr.String())
			}
			if r.calls.Load() != 1 {
				t.Fatalf("runner called %d times, want 1", r.calls.Load())
			}
		})
	}
}

func TestRunMain_ConfigurationErrorsExit3(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		args   []string
		mutate func(*appDeps)
	}{
		{
			name: "unknown_flag",
			args: []string{"-nope"},
		},
		{
			name: "settings_error",
			mutate: func(d *appDeps) {
				d.loadSettings = func() (config.Settings, error) {
					return config.Settings{}, errors.New("SYNAPSE_SERVER is required")
				}
			},
		},
		{
			name: "registry_read_error",
			mutate: func(d *appDeps) {
				d.loadRegistry = func(string) (config.Registry, error) {
					return config.Registry{}, errors.New("no such file")
				}
			},
		},
		{
			name: "registry_invalid",
			mutate: func(d *appDeps) {
				d.loadRegistry = func(string) (config.Registry, error) {
					return config.Registry{Tables: []config.TableSpec{{Name: "x"}}}, nil
				}
			},
		},
		{
			name: "unknown_table_subset",
			args: []string{"-tables", "customers,typo"},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			r := &fakeRunner{result: successResult()}
			deps := testDeps(r)
			if tc.mutate != nil {
				tc.mutate(&deps)
			}

			var stdout, stderr bytes.Buffer
			code := runMain(context.Background(), tc.args, &stdout, &stderr, deps)
			if code != 3 {
				t.Fatalf("exit code = %d, want 3; stderr=%q", code, stderr.String())
			}
			if r.calls.Load() != 0 {
				t.Fatal("runner ran despite configuration error")
			}
		})
	}
}

func TestRunMain_ConnectFailureExits2(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{result: successResult()}
	deps := testDeps(r)
	deps.connect = func(ctx context.Context, s config.Settings) (source.Source, pipeline.Destination, error) {
		return nil, nil, errors.New("login timeout")
	}

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), nil, &stdout, &stderr, deps)
	if code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "login timeout") {
		t.Fatalf("stderr %q lost the connect error", stderr.String())
	}
	if r.calls.Load() != 0 {
		t.Fatal("runner ran despite connect failure")
	}
}

func TestRunMain_TableSubset(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{result: successResult()}
	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"-tables", " orders "}, &stdout, &stderr, testDeps(r))
	if code != 0 {
		t.Fatalf("exit code = %d; stderr=%q", code, stderr.String())
	}
	if len(r.gotTables) != 1 || r.gotTables[0].Name != "orders" {
		t.Fatalf("runner got tables %+v, want [orders]", r.gotTables)
	}
}

func TestRunMain_ValidateOnly(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{result: successResult()}
	deps := testDeps(r)
	connectCalled := false
	deps.connect = func(ctx context.Context, s config.Settings) (source.Source, pipeline.Destination, error) {
		connectCalled = true
		return nopSource{}, nil, nil
	}

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"-validate"}, &stdout, &stderr, deps)
	if code != 0 {
		t.Fatalf("exit code = %d; stderr=%q", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "registry is valid") {
		t.Fatalf("stdout = %q", stdout.String())
	}
	if connectCalled || r.calls.Load() != 0 {
		t.Fatal("-validate caused side effects")
	}
}

func TestRunMain_SummaryOnStdout(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{result: successResult()}
	var stdout, stderr bytes.Buffer
	if code := runMain(context.Background(), nil, &stdout, &stderr, testDeps(r)); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	for _, want := range []string{"Sync Results", "run-1", "customers -> Customers"} {
		if !strings.Contains(stdout.String(), want) {
			t.Fatalf("summary missing %q:\n%s", want, stdout.String())
		}
	}
}

func TestSplitCSV(t *testing.T) {
	t.Parallel()

	if got := splitCSV(""); got != nil {
		t.Fatalf("splitCSV(\"\") = %v, want nil", got)
	}
	got := splitCSV(" a, ,b ,")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("splitCSV = %v, want [a b]", got)
	}
}

func TestSourceConfig_SynapseDSN(t *testing.T) {
	t.Parallel()

	s := testSettings()
	s.SynapseUsername, s.SynapsePassword = "u", "p"
	cfg := sourceConfig(s)
	if cfg.Kind != "synapse" {
		t.Fatalf("kind = %q", cfg.Kind)
	}
	for _, want := range []string{"server=s", "database=d", "user id=u"} {
		if !strings.Contains(cfg.DSN, want) {
			t.Fatalf("DSN %q missing %q", cfg.DSN, want)
		}
	}

	s.SourceKind = "postgres"
	s.SourceDSN = "postgres://u@localhost/dw"
	if cfg := sourceConfig(s); cfg.DSN != s.SourceDSN {
		t.Fatalf("non-synapse DSN rewritten: %q", cfg.DSN)
	}
}
