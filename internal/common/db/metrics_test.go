package db

import (
	"database/sql"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

type fixedStats struct{ stats sql.DBStats }

func (f *fixedStats) Stats() Stats { return ConvertSQLStats(f.stats) }

func TestRegisterPoolMetricsSamplesAtScrape(t *testing.T) {
	reg := prometheus.NewRegistry()
	src := &fixedStats{stats: sql.DBStats{OpenConnections: 4, InUse: 1, Idle: 3, WaitCount: 7}}
	RegisterPoolMetrics(reg, src)

	src.stats.InUse = 2
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	got := map[string]float64{}
	for _, mf := range families {
		m := mf.GetMetric()[0]
		if m.GetGauge() != nil {
			got[mf.GetName()] = m.GetGauge().GetValue()
		} else {
			got[mf.GetName()] = m.GetCounter().GetValue()
		}
	}
	want := map[string]float64{
		"codearena_db_open_connections":   4,
		"codearena_db_in_use_connections": 2,
		"codearena_db_idle_connections":   3,
		"codearena_db_wait_count_total":   7,
	}
	for name, v := range want {
		if got[name] != v {
			t.Fatalf("%s = %v, want %v", name, got[name], v)
		}
	}
}
