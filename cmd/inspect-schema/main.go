// Command inspect-schema reports what the source holds so an operator can
// prepare the SharePoint side: column names and types, suggested list column
// types, row counts and a few sample rows. With -fieldmap it prints a ready
// field_map skeleton for the table registry instead of the report.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"spsync/internal/config"
	"spsync/internal/inspect"
	"spsync/internal/source"
	"spsync/internal/source/synapse"

	_ "spsync/internal/source/all"
)

func main() {
	var (
		table    string
		schema   string
		sampleN  int
		fieldMap bool
	)
	flag.StringVar(&table, "table", "", "table to inspect as schema.table (schema defaults to dbo)")
	flag.StringVar(&schema, "schema", "dbo", "schema to list tables from when -table is not set")
	flag.IntVar(&sampleN, "sample", 3, "number of sample rows to show (0 disables)")
	flag.BoolVar(&fieldMap, "fieldmap", false, "print a field_map JSON skeleton instead of the report")
	timeout := flag.Duration("timeout", 60*time.Second, "overall deadline")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	settings, err := config.LoadSettings()
	if err != nil {
		fatalf("%v", err)
	}

	src, err := source.New(ctx, sourceConfig(settings))
	if err != nil {
		fatalf("connect: %v", err)
	}
	defer src.Close()

	if table == "" {
		tables, err := inspect.Tables(ctx, src, schema)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("tables in %s (%d):\n", schema, len(tables))
		for _, t := range tables {
			fmt.Printf("  %s.%s\n", schema, t)
		}
		return
	}

	sch, tbl := inspect.SplitTable(table)
	cols, err := inspect.Columns(ctx, src, sch, tbl)
	if err != nil {
		fatalf("%v", err)
	}
	if len(cols) == 0 {
		fatalf("no such table: %s.%s", sch, tbl)
	}

	if fieldMap {
		skel := inspect.MappingSkeleton(cols)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(skel); err != nil {
			fatalf("encode field map: %v", err)
		}
		return
	}

	fmt.Printf("%s.%s\n\n", sch, tbl)
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COLUMN\tTYPE\tNULL\tSHAREPOINT COLUMN\tTARGET FIELD")
	for _, c := range cols {
		null := "no"
		if c.Nullable {
			null = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			c.Name, c.TypeName(), null, inspect.SharePointType(c.SQLType), inspect.FieldName(c.Name))
	}
	tw.Flush()

	n, err := inspect.RowCount(ctx, src, sch, tbl)
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("\nrows: %d\n", n)

	if sampleN > 0 && n > 0 {
		rs, err := inspect.Sample(ctx, src, sch, tbl, sampleN)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("\nsample (%d):\n", rs.Len())
		for _, row := range rs.Rows {
			fmt.Printf("  %v\n", row)
		}
	}
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

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
