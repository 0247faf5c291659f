package engine

import (
	"context"
	"fmt"

	"duck-gateway/internal/policy"
	"duck-gateway/internal/pool"
)

// DemoTable is the table created by SeedDemo.
const DemoTable = "county_population"

// DemoColumns are the columns of DemoTable in insert order.
var DemoColumns = []string{"county", "state", "year", "population", "median_age"}

const demoDDL = `CREATE TABLE IF NOT EXISTS county_population (
	county     VARCHAR NOT NULL,
	state      VARCHAR NOT NULL,
	year       INTEGER NOT NULL,
	population BIGINT  NOT NULL,
	median_age DOUBLE,
	PRIMARY KEY (county, state, year)
)`

type demoCounty struct {
	county, state string
	base          int64
	growth        float64
	medianAge     float64
}

var demoCounties = []demoCounty{
	{"Cook", "IL", 5_275_000, -0.004, 37.1},
	{"Harris", "TX", 4_731_000, 0.012, 33.9},
	{"Maricopa", "AZ", 4_420_000, 0.015, 36.8},
	{"King", "WA", 2_269_000, 0.009, 37.5},
	{"Kent", "DE", 181_000, 0.011, 37.9},
	{"Travis", "TX", 1_290_000, 0.021, 34.2},
	{"Wayne", "MI", 1_793_000, -0.006, 38.4},
	{"Orange", "CA", 3_186_000, 0.001, 38.7},
}

// SeedDemo creates DemoTable and fills it through the pool's batch insert
// path. It does nothing when the table already holds rows.
func SeedDemo(ctx context.Context, p *pool.Pool) (int64, error) {
	if _, err := p.Query(ctx, demoDDL, nil, pool.QueryOptions{Role: pool.RoleWriter}); err != nil {
		return 0, fmt.Errorf("create %s: %w", DemoTable, err)
	}
	res, err := p.Query(ctx, "SELECT count(*) FROM county_population", nil, pool.QueryOptions{})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", DemoTable, err)
	}
	if len(res.Rows) == 1 && toInt64(res.Rows[0][0]) > 0 {
		return 0, nil
	}

	rows := DemoRows()
	n, err := p.BatchInsert(ctx, DemoTable, DemoColumns, rows, 0)
	if err != nil {
		return n, fmt.Errorf("seed %s: %w", DemoTable, err)
	}
	return n, nil
}

// DemoRows generates ten years of figures for every demo county.
func DemoRows() [][]interface{} {
	rows := make([][]interface{}, 0, len(demoCounties)*10)
	for _, c := range demoCounties {
		pop := float64(c.base)
		for year := 2014; year < 2024; year++ {
			rows = append(rows, []interface{}{c.county, c.state, year, int64(pop), c.medianAge})
			pop *= 1 + c.growth
		}
	}
	return rows
}

// DemoPolicy returns a policy definition allowing read access to DemoTable.
func DemoPolicy() policy.Definition {
	return policy.Definition{
		Version:           policy.SupportedVersion,
		AllowedStatements: []string{"select"},
		DefaultSchema:     policy.DefaultSchemaName,
		MaxRows:           1000,
		Tables: map[string][]string{
			DemoTable: append([]string(nil), DemoColumns...),
		},
	}
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
