package migrations

import "embed"

// PostgresFS embeds the PostgreSQL migrations: listings, webhook events,
// the asset echo cache, positions cache and tx audit log.
//
//go:embed postgres/*.sql
var PostgresFS embed.FS

// ClickhouseFS embeds the ClickHouse migrations for the append-only
// position diff history.
//
//go:embed clickhouse/*.sql
var ClickhouseFS embed.FS
