// Command schema-gen prints the DDL for the event store tables.
//
// Usage:
//
//	go run github.com/getpup/recordstore/cmd/schema-gen -adapter postgres
//
// Or with go generate:
//
//	//go:generate go run github.com/getpup/recordstore/cmd/schema-gen -adapter sqlite -output schema.sql
//
// Generate the schema for different database adapters:
//
//	go run github.com/getpup/recordstore/cmd/schema-gen -adapter postgres
//	go run github.com/getpup/recordstore/cmd/schema-gen -adapter mysql
//	go run github.com/getpup/recordstore/cmd/schema-gen -adapter sqlite
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/getpup/recordstore/es/adapters/mysql"
	"github.com/getpup/recordstore/es/adapters/postgres"
	"github.com/getpup/recordstore/es/adapters/sqlite"
)

func main() {
	var (
		adapter       = flag.String("adapter", "postgres", "Database adapter: postgres, mysql, or sqlite")
		output        = flag.String("output", "", "Output file (default: stdout)")
		eventsTable   = flag.String("events-table", "stored_events", "Name of the events table")
		headsTable    = flag.String("heads-table", "stream_heads", "Name of the stream heads table")
		sequenceTable = flag.String("sequence-table", "notification_sequence", "Name of the notification sequence table")
		trackingTable = flag.String("tracking-table", "tracking", "Name of the tracking table")
	)

	flag.Parse()

	var ddl string
	switch *adapter {
	case "postgres":
		ddl = postgres.Schema(postgres.NewStoreConfig(
			postgres.WithEventsTable(*eventsTable),
			postgres.WithStreamHeadsTable(*headsTable),
			postgres.WithSequenceTable(*sequenceTable),
			postgres.WithTrackingTable(*trackingTable),
		))
	case "mysql":
		ddl = mysql.Schema(mysql.NewStoreConfig(
			mysql.WithEventsTable(*eventsTable),
			mysql.WithStreamHeadsTable(*headsTable),
			mysql.WithSequenceTable(*sequenceTable),
			mysql.WithTrackingTable(*trackingTable),
		))
	case "sqlite":
		ddl = sqlite.Schema(sqlite.NewStoreConfig(
			sqlite.WithEventsTable(*eventsTable),
			sqlite.WithStreamHeadsTable(*headsTable),
			sqlite.WithSequenceTable(*sequenceTable),
			sqlite.WithTrackingTable(*trackingTable),
		))
	default:
		fmt.Fprintf(os.Stderr, "Error: unsupported adapter '%s'. Supported adapters are: postgres, mysql, sqlite\n", *adapter)
		os.Exit(1)
	}

	if *output == "" {
		fmt.Print(ddl)
		return
	}

	if err := os.WriteFile(*output, []byte(ddl), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing schema: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Generated %s schema: %s\n", *adapter, *output)
}
