package application

import (
	"testing"

	rules "devicehub/internal/alarmrules/domain"
)

func TestSnapshotMergeChangeDetection(t *testing.T) {
	key := rules.TimeSeriesKey("temperature")
	snapshot := NewDataSnapshot(map[rules.ConditionKey]struct{}{key: {}})

	if !snapshot.Merge(key, 1000, rules.FromDouble(42)) {
		t.Fatal("first merge must report a change")
	}
	if snapshot.Merge(key, 1000, rules.FromDouble(42)) {
		t.Fatal("identical value at the same timestamp must not report a change")
	}
	if !snapshot.Merge(key, 2000, rules.FromDouble(42)) {
		t.Fatal("a newer timestamp is a change even with the same value")
	}
	if !snapshot.Merge(key, 2000, rules.FromDouble(43)) {
		t.Fatal("a different value at the same timestamp is a change")
	}
}

func TestSnapshotIgnoresUntrackedKeys(t *testing.T) {
	key := rules.TimeSeriesKey("temperature")
	snapshot := NewDataSnapshot(map[rules.ConditionKey]struct{}{key: {}})

	other := rules.TimeSeriesKey("humidity")
	if snapshot.Merge(other, 1000, rules.FromDouble(80)) {
		t.Fatal("untracked key must not merge")
	}
	if _, ok := snapshot.Value(other); ok {
		t.Fatal("untracked key must not be stored")
	}
}

func TestSnapshotRemove(t *testing.T) {
	key := rules.AttributeKey("mode")
	snapshot := NewDataSnapshot(map[rules.ConditionKey]struct{}{key: {}})
	snapshot.Merge(key, 1000, rules.FromString("auto"))

	snapshot.Remove(key)
	if _, ok := snapshot.Value(key); ok {
		t.Fatal("removed key must be absent")
	}
	// The key stays tracked: a later update is stored again.
	if !snapshot.Merge(key, 2000, rules.FromString("manual")) {
		t.Fatal("re-merge after remove must succeed")
	}
}

func TestSnapshotExtendKeys(t *testing.T) {
	temperature := rules.TimeSeriesKey("temperature")
	humidity := rules.TimeSeriesKey("humidity")
	snapshot := NewDataSnapshot(map[rules.ConditionKey]struct{}{temperature: {}})
	snapshot.Merge(temperature, 1000, rules.FromDouble(42))

	added := snapshot.ExtendKeys(map[rules.ConditionKey]struct{}{temperature: {}, humidity: {}})
	if len(added) != 1 || added[0] != humidity {
		t.Fatalf("expected only the new key, got %v", added)
	}
	if !snapshot.Merge(humidity, 2000, rules.FromDouble(80)) {
		t.Fatal("extended key must accept merges")
	}
	// Extending again adds nothing.
	if added := snapshot.ExtendKeys(map[rules.ConditionKey]struct{}{humidity: {}}); len(added) != 0 {
		t.Fatalf("already-tracked key reported as added: %v", added)
	}
}

func TestSnapshotValuesForTemplates(t *testing.T) {
	temperature := rules.TimeSeriesKey("temperature")
	mode := rules.AttributeKey("mode")
	snapshot := NewDataSnapshot(map[rules.ConditionKey]struct{}{temperature: {}, mode: {}})
	snapshot.Merge(temperature, 1000, rules.FromDouble(42.5))
	snapshot.Merge(mode, 1000, rules.FromString("auto"))

	values := snapshot.Values()
	if values["temperature"] != "42.5" {
		t.Fatalf("expected 42.5, got %q", values["temperature"])
	}
	if values["mode"] != "auto" {
		t.Fatalf("expected auto, got %q", values["mode"])
	}
}

func TestSnapshotUpdateIntersects(t *testing.T) {
	temperature := rules.TimeSeriesKey("temperature")
	humidity := rules.TimeSeriesKey("humidity")

	update := NewSnapshotUpdate(rules.KeyTypeTimeSeries)
	if update.HasUpdate() {
		t.Fatal("empty update must report no update")
	}
	update.Add(temperature)
	if !update.HasUpdate() {
		t.Fatal("update with a key must report an update")
	}
	if !update.Intersects(map[rules.ConditionKey]struct{}{temperature: {}}) {
		t.Fatal("expected intersection")
	}
	if update.Intersects(map[rules.ConditionKey]struct{}{humidity: {}}) {
		t.Fatal("unexpected intersection")
	}
}
