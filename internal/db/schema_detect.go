package db

import (
	"fmt"
	"io/fs"
	"sort"
)

// schemaSignature captures the table and column layout of a database,
// excluding SQLite internals and the migration bookkeeping table.
type schemaSignature map[string][]string

func (db *DB) readSchemaSignature() (schemaSignature, error) {
	rows, err := db.Query(`
		SELECT name FROM sqlite_master
		WHERE type='table'
		  AND name NOT LIKE 'sqlite_%'
		  AND name != 'schema_migrations'
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tables: %w", err)
	}

	sig := make(schemaSignature, len(tables))
	for _, table := range tables {
		cols, err := db.tableColumns(table)
		if err != nil {
			return nil, err
		}
		sig[table] = cols
	}

	return sig, nil
}

func (db *DB) tableColumns(table string) ([]string, error) {
	rows, err := db.Query("SELECT name FROM pragma_table_info(?) ORDER BY name", table)
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan column name: %w", err)
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating columns of %s: %w", table, err)
	}

	return cols, nil
}

// DetectSchemaVersion compares the live schema against the schema produced by
// each migration version and returns the closest match. Used to baseline
// databases created before migration tracking was introduced. The match score
// is a percentage; 100 means the live schema is exactly the schema at that
// version.
func (db *DB) DetectSchemaVersion(migrationsFS fs.FS) (version uint, matchScore int, differences []string, err error) {
	latest, err := GetLatestMigrationVersion(migrationsFS)
	if err != nil {
		return 0, 0, nil, err
	}

	live, err := db.readSchemaSignature()
	if err != nil {
		return 0, 0, nil, fmt.Errorf("failed to read live schema: %w", err)
	}

	// Replay the migration history version by version in a scratch database
	// and score each stop against the live schema.
	scratch, err := OpenDB(":memory:")
	if err != nil {
		return 0, 0, nil, fmt.Errorf("failed to open scratch database: %w", err)
	}
	defer scratch.Close()

	var (
		bestVersion uint
		bestScore   int
		bestDiffs   []string
	)

	for v := uint(1); v <= latest; v++ {
		if err := scratch.MigrateTo(migrationsFS, v); err != nil {
			return 0, 0, nil, fmt.Errorf("failed to replay migration %d: %w", v, err)
		}
		sig, err := scratch.readSchemaSignature()
		if err != nil {
			return 0, 0, nil, fmt.Errorf("failed to read schema at version %d: %w", v, err)
		}
		score, diffs := compareSchemas(live, sig)
		// On a tie, prefer the later version so baselines land as far
		// forward as possible.
		if score >= bestScore {
			bestVersion, bestScore, bestDiffs = v, score, diffs
		}
	}

	return bestVersion, bestScore, bestDiffs, nil
}

// compareSchemas scores how closely the live schema matches the wanted one.
// Tables and columns each count as one schema object; the score is the
// percentage of objects present in both.
func compareSchemas(live, want schemaSignature) (int, []string) {
	names := make(map[string]bool, len(live)+len(want))
	for t := range live {
		names[t] = true
	}
	for t := range want {
		names[t] = true
	}
	tables := make([]string, 0, len(names))
	for t := range names {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	var diffs []string
	matched, total := 0, 0

	for _, table := range tables {
		liveCols, inLive := live[table]
		wantCols, inWant := want[table]
		total++
		if !inLive {
			diffs = append(diffs, fmt.Sprintf("missing table %s", table))
			total += len(wantCols)
			continue
		}
		if !inWant {
			diffs = append(diffs, fmt.Sprintf("unexpected table %s", table))
			total += len(liveCols)
			continue
		}
		matched++

		cols := make(map[string]int, len(liveCols)+len(wantCols))
		for _, c := range liveCols {
			cols[c] |= 1
		}
		for _, c := range wantCols {
			cols[c] |= 2
		}
		colNames := make([]string, 0, len(cols))
		for c := range cols {
			colNames = append(colNames, c)
		}
		sort.Strings(colNames)

		for _, col := range colNames {
			total++
			switch cols[col] {
			case 3:
				matched++
			case 1:
				diffs = append(diffs, fmt.Sprintf("table %s: unexpected column %s", table, col))
			case 2:
				diffs = append(diffs, fmt.Sprintf("table %s: missing column %s", table, col))
			}
		}
	}

	if total == 0 {
		return 100, nil
	}
	return (matched * 100) / total, diffs
}
