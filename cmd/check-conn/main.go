// Command check-conn verifies both ends of the sync path before a real run:
// it connects to the configured source and runs a probe query, then acquires
// a Graph token, resolves the SharePoint site and enumerates its lists.
//
// Exit code 0 when every check passes, 1 otherwise.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"spsync/internal/config"
	"spsync/internal/sharepoint"
	"spsync/internal/source"
	"spsync/internal/source/synapse"

	_ "spsync/internal/source/all"
)

func main() {
	timeout := flag.Duration("timeout", 60*time.Second, "overall deadline for all checks")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	settings, err := config.LoadSettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	failed := 0
	check := func(name string, fn func() error) {
		if err := fn(); err != nil {
			fmt.Printf("FAIL  %s: %v\n", name, err)
			failed++
			return
		}
		fmt.Printf("PASS  %s\n", name)
	}

	var src source.Source
	check("source connect ("+settings.SourceKind+")", func() error {
		s, err := source.New(ctx, sourceConfig(settings))
		if err != nil {
			return err
		}
		src = s
		return nil
	})
	if src != nil {
		defer src.Close()
		check("source probe query", func() error {
			rs, err := src.Query(ctx, "SELECT 1 AS probe")
			if err != nil {
				return err
			}
			if rs.Len() != 1 {
				return fmt.Errorf("probe returned %d rows, want 1", rs.Len())
			}
			return nil
		})
	}

	sp := sharepoint.New(ctx, sharepoint.Options{
		TenantID:          settings.TenantID,
		ClientID:          settings.ClientID,
		ClientSecret:      settings.ClientSecret,
		SiteURL:           settings.SiteURL,
		Timeout:           settings.HTTPTimeout,
		RequestsPerSecond: settings.RequestsPerSecond,
	})

	check("sharepoint site resolve", func() error {
		id, err := sp.ResolveSite(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("      site id: %s\n", id)
		return nil
	})
	check("sharepoint list enumeration", func() error {
		lists, err := sp.Lists(ctx)
		if err != nil {
			return err
		}
		for _, l := range lists {
			fmt.Printf("      list: %s\n", l.DisplayName)
		}
		return nil
	})

	if failed > 0 {
		fmt.Printf("%d check(s) failed\n", failed)
		os.Exit(1)
	}
	fmt.Println("all checks passed")
}

func sourceConfig(s config.Settings) source.Config {
	cfg := source.Config{
		Kind:         s.SourceKind,
		DSN:          s.SourceDSN,
		QueryTimeout: s.HTTPTimeout,
	}
	if s.SourceKind == "synapse" {
		cfg.DSN = synapse.BuildDSN(synapse.Options{
			Server:             s.SynapseServer,
			Database:           s.SynapseDatabase,
			Username:           s.SynapseUsername,
			Password:           s.SynapsePassword,
			UseManagedIdentity: s.UseManagedIdentity,
			ConnectTimeout:     s.HTTPTimeout,
		})
	}
	return cfg
}
