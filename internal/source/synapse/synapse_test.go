package synapse

import (
	"strings"
	"testing"
	"time"
)

func TestBuildDSN_SQLAuth(t *testing.T) {
	t.Parallel()

	dsn := BuildDSN(Options{
		Server:         "ws.sql.azuresynapse.net",
		Database:       "dw",
		Username:       "loader",
		Password:       "s3cret",
		ConnectTimeout: 30 * time.Second,
	})

	for _, want := range []string{
		"server=ws.sql.azuresynapse.net",
		"database=dw",
		"user id=loader",
		"password=s3cret",
		"encrypt=true",
		"TrustServerCertificate=false",
		"dial timeout=30",
	} {
		if !strings.Contains(dsn, want) {
			t.Fatalf("DSN %q missing %q", dsn, want)
		}
	}
	if strings.Contains(dsn, "fedauth") {
		t.Fatalf("SQL-auth DSN carries fedauth: %q", dsn)
	}
}

func TestBuildDSN_ManagedIdentity(t *testing.T) {
	t.Parallel()

	dsn := BuildDSN(Options{
		Server:             "ws.sql.azuresynapse.net",
		Database:           "dw",
		UseManagedIdentity: true,
	})

	if !strings.Contains(dsn, "fedauth=ActiveDirectoryManagedIdentity") {
		t.Fatalf("DSN %q missing fedauth", dsn)
	}
	if strings.Contains(dsn, "user id=") || strings.Contains(dsn, "password=") {
		t.Fatalf("managed-identity DSN carries SQL credentials: %q", dsn)
	}
}

func TestBuildDSN_SubSecondTimeoutRoundsUp(t *testing.T) {
	t.Parallel()

	dsn := BuildDSN(Options{Server: "s", Database: "d", ConnectTimeout: 200 * time.Millisecond})
	if !strings.Contains(dsn, "dial timeout=1") {
		t.Fatalf("DSN %q should clamp sub-second timeouts to 1", dsn)
	}
}

func TestDriverName(t *testing.T) {
	t.Parallel()

	sqlAuth := BuildDSN(Options{Server: "s", Database: "d", Username: "u", Password: "p"})
	if got := driverName(sqlAuth); got != "sqlserver" {
		t.Fatalf("driverName = %q, want sqlserver", got)
	}
	fedauth := BuildDSN(Options{Server: "s", Database: "d", UseManagedIdentity: true})
	if got := driverName(fedauth); got == "sqlserver" {
		t.Fatal("fedauth DSN should select the azuread driver")
	}
}
