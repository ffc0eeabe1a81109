package recorddb

import (
	"testing"

	"github.com/cybercinch/directdnsonly/internal/zoneparser"
)

func intPtr(n int) *int { return &n }

func TestPlanDiffInsertUpdateDelete(t *testing.T) {
	existing := map[rrKey]existingRow{
		{name: "example.com", typ: "A"}:     {content: "1.1.1.1", ttl: 300},
		{name: "stale.example.com", typ: "A"}: {content: "9.9.9.9", ttl: 300},
	}
	records := []zoneparser.Record{
		{Name: "example.com", Type: "A", Content: "2.2.2.2", TTL: 300},
		{Name: "www.example.com", Type: "CNAME", Content: "example.com", TTL: 300},
	}

	plan := planDiff(records, existing)

	if len(plan.toInsert) != 1 || plan.toInsert[0].Name != "www.example.com" {
		t.Fatalf("toInsert = %+v", plan.toInsert)
	}
	if len(plan.toUpdate) != 1 || plan.toUpdate[0].Name != "example.com" {
		t.Fatalf("toUpdate = %+v", plan.toUpdate)
	}
	if len(plan.toDelete) != 1 || plan.toDelete[0].name != "stale.example.com" {
		t.Fatalf("toDelete = %+v", plan.toDelete)
	}
}

func TestPlanDiffNoChangeIsStable(t *testing.T) {
	existing := map[rrKey]existingRow{
		{name: "example.com", typ: "MX"}: {content: "mx1.example.com", ttl: 300, priority: intPtr(10)},
	}
	records := []zoneparser.Record{
		{Name: "example.com", Type: "MX", Content: "mx1.example.com", TTL: 300, Priority: intPtr(10)},
	}

	plan := planDiff(records, existing)
	if len(plan.toInsert) != 0 || len(plan.toUpdate) != 0 || len(plan.toDelete) != 0 {
		t.Fatalf("expected no-op diff, got %+v", plan)
	}
}

func TestExistingRowChangedPriority(t *testing.T) {
	row := existingRow{content: "mx1.example.com", ttl: 300, priority: intPtr(10)}
	if !row.changed(zoneparser.Record{Content: "mx1.example.com", TTL: 300, Priority: intPtr(20)}) {
		t.Fatal("expected priority change to be detected")
	}
	if row.changed(zoneparser.Record{Content: "mx1.example.com", TTL: 300, Priority: intPtr(10)}) {
		t.Fatal("expected identical record to report unchanged")
	}
}
