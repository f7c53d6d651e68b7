package sqlstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/chronicle-run/chronicle/internal/domain"
)

func newTestStore(t *testing.T, name string) *Store {
	t.Helper()
	store, err := NewSQLite("file:" + name + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// decodeEvent decodes raw wire JSON through domain.Event's real UnmarshalJSON,
// the same path POST /events/POST /event use, rather than constructing a Go
// struct literal that bypasses it.
func decodeEvent(t *testing.T, raw string) domain.Event {
	t.Helper()
	var e domain.Event
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		t.Fatalf("json.Unmarshal(%q) error = %v", raw, err)
	}
	return e
}

func TestStore_InsertChronicleEvents(t *testing.T) {
	store := newTestStore(t, "memdb_events1")
	ctx := context.Background()

	events := []domain.ChronicleEvent{
		{ID: "evt-1", Kind: "chat", OrganizationID: "org1", Provider: "openai", Model: "gpt-4o", Status: "ok"},
	}
	if err := store.InsertChronicleEvents(ctx, events); err != nil {
		t.Fatalf("InsertChronicleEvents() error = %v", err)
	}

	var count int
	store.DB().Get(&count, "SELECT COUNT(*) FROM chronicle_events WHERE id = ?", "evt-1")
	if count != 1 {
		t.Errorf("row count = %d, want 1", count)
	}
}

func TestStore_ApplyEvents_ImplicitRunCreationFromStep(t *testing.T) {
	store := newTestStore(t, "memdb_events2")
	ctx := context.Background()

	events := []domain.Event{
		{Type: domain.EventStepStart, RunID: "run-1", StepID: "step-1", Name: "fetch"},
	}
	ids, err := store.ApplyEvents(ctx, "org1", events)
	if err != nil {
		t.Fatalf("ApplyEvents() error = %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("ids = %v, want 1 entry", ids)
	}

	run, found, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if !found {
		t.Fatal("expected implicit run creation, found none")
	}
	if run.Status != domain.StatusRunning {
		t.Errorf("Status = %q, want running", run.Status)
	}

	steps, err := store.ListSteps(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListSteps() error = %v", err)
	}
	if len(steps) != 1 || steps[0].Name != "fetch" {
		t.Errorf("steps = %+v, want one step named fetch", steps)
	}
}

func TestStore_ApplyEvents_RunStartUpdatesExistingRow(t *testing.T) {
	store := newTestStore(t, "memdb_events3")
	ctx := context.Background()

	if _, err := store.ApplyEvents(ctx, "org1", []domain.Event{
		{Type: domain.EventRunStart, RunID: "run-2", Name: "first", Info: map[string]any{"a": 1}},
	}); err != nil {
		t.Fatalf("ApplyEvents() first error = %v", err)
	}
	if _, err := store.ApplyEvents(ctx, "org1", []domain.Event{
		{Type: domain.EventRunStart, RunID: "run-2", Name: "renamed", Info: map[string]any{"b": 2}},
	}); err != nil {
		t.Fatalf("ApplyEvents() second error = %v", err)
	}

	run, found, err := store.GetRun(ctx, "run-2")
	if err != nil || !found {
		t.Fatalf("GetRun() error = %v, found = %v", err, found)
	}
	if run.Name != "renamed" {
		t.Errorf("Name = %q, want renamed (run:start should update, not ignore)", run.Name)
	}
	if run.Info["a"] != float64(1) || run.Info["b"] != float64(2) {
		t.Errorf("Info = %+v, want shallow-merged {a:1, b:2}", run.Info)
	}
}

func TestStore_ApplyEvents_TagsReplacedNotMerged(t *testing.T) {
	store := newTestStore(t, "memdb_events4")
	ctx := context.Background()

	if _, err := store.ApplyEvents(ctx, "org1", []domain.Event{
		{Type: domain.EventRunStart, RunID: "run-3", Tags: []string{"a", "b"}},
	}); err != nil {
		t.Fatalf("ApplyEvents() error = %v", err)
	}
	if _, err := store.ApplyEvents(ctx, "org1", []domain.Event{
		{Type: domain.EventRunUpdate, RunID: "run-3", Tags: []string{"c"}},
	}); err != nil {
		t.Fatalf("ApplyEvents() error = %v", err)
	}

	run, _, err := store.GetRun(ctx, "run-3")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if len(run.Tags) != 1 || run.Tags[0] != "c" {
		t.Errorf("Tags = %v, want [c] (replace, not merge)", run.Tags)
	}
}

func TestStore_ApplyEvents_StepEndSetsEndTime(t *testing.T) {
	store := newTestStore(t, "memdb_events5")
	ctx := context.Background()

	if _, err := store.ApplyEvents(ctx, "org1", []domain.Event{
		{Type: domain.EventStepStart, RunID: "run-4", StepID: "step-4", Name: "compute"},
	}); err != nil {
		t.Fatalf("ApplyEvents() start error = %v", err)
	}
	if _, err := store.ApplyEvents(ctx, "org1", []domain.Event{
		{Type: domain.EventStepEnd, RunID: "run-4", StepID: "step-4"},
	}); err != nil {
		t.Fatalf("ApplyEvents() end error = %v", err)
	}

	steps, err := store.ListSteps(ctx, "run-4")
	if err != nil {
		t.Fatalf("ListSteps() error = %v", err)
	}
	if len(steps) != 1 {
		t.Fatalf("steps = %+v, want 1", steps)
	}
	if steps[0].Status != domain.StatusFinished {
		t.Errorf("Status = %q, want finished", steps[0].Status)
	}
	if steps[0].EndTime == nil {
		t.Error("EndTime = nil, want set")
	}
}

// TestStore_ApplyEvents_OutOfOrderStepEndThenStart exercises the exact
// ordering from the spec's worked example: step:end arrives before its
// own step:start, followed by run:start for the run it belongs to. The
// late step:start must not regress the step's terminal status back to
// running, and run:start against the run implicitly created by the step
// must update (not ignore) its name. Events are decoded from JSON shaped
// exactly like spec.md §8 scenario 5 — step:start's name/type nested under
// "data", per the original implementation's tag/content encoding — so this
// exercises domain.Event's real UnmarshalJSON, not a Go struct literal that
// bypasses it.
func TestStore_ApplyEvents_OutOfOrderStepEndThenStart(t *testing.T) {
	store := newTestStore(t, "memdb_events6")
	ctx := context.Background()

	stepEnd := decodeEvent(t, `{"type":"step:end","run_id":"run-5","step_id":"step-5"}`)
	if _, err := store.ApplyEvents(ctx, "org1", []domain.Event{stepEnd}); err != nil {
		t.Fatalf("ApplyEvents() end error = %v", err)
	}

	stepStart := decodeEvent(t, `{"type":"step:start","run_id":"run-5","step_id":"step-5","data":{"name":"x","type":"t"}}`)
	if stepStart.Name != "x" || stepStart.StepType != "t" {
		t.Fatalf("decoded step:start Name/StepType = %q/%q, want x/t", stepStart.Name, stepStart.StepType)
	}
	if _, err := store.ApplyEvents(ctx, "org1", []domain.Event{stepStart}); err != nil {
		t.Fatalf("ApplyEvents() start error = %v", err)
	}

	runStart := decodeEvent(t, `{"type":"run:start","run_id":"run-5","name":"r"}`)
	if _, err := store.ApplyEvents(ctx, "org1", []domain.Event{runStart}); err != nil {
		t.Fatalf("ApplyEvents() run:start error = %v", err)
	}

	run, found, err := store.GetRun(ctx, "run-5")
	if err != nil || !found {
		t.Fatalf("GetRun() error = %v, found = %v", err, found)
	}
	if run.Name != "r" {
		t.Errorf("run.Name = %q, want r", run.Name)
	}

	steps, err := store.ListSteps(ctx, "run-5")
	if err != nil {
		t.Fatalf("ListSteps() error = %v", err)
	}
	if len(steps) != 1 {
		t.Fatalf("steps = %+v, want 1", steps)
	}
	if steps[0].Name != "x" {
		t.Errorf("Name = %q, want x", steps[0].Name)
	}
	if steps[0].Status != domain.StatusFinished {
		t.Errorf("Status = %q, want finished (late step:start must not regress a terminal status)", steps[0].Status)
	}
	if steps[0].EndTime == nil {
		t.Error("EndTime = nil, want still set from the earlier step:end")
	}
}

func TestStore_Alias_CreateAndLookup(t *testing.T) {
	store := newTestStore(t, "memdb_alias1")
	ctx := context.Background()

	a := &domain.Alias{
		ID:   "alias-1",
		Name: "fast-chat",
		Models: []domain.AliasModel{
			{Sort: 0, Provider: "openai", Model: "gpt-4o-mini"},
			{Sort: 1, Provider: "anthropic", Model: "claude-3-5-haiku"},
		},
	}
	if err := store.CreateAlias(ctx, "org1", a); err != nil {
		t.Fatalf("CreateAlias() error = %v", err)
	}

	got, found, err := store.Lookup(ctx, "org1", "fast-chat")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if !found {
		t.Fatal("Lookup() found = false, want true")
	}
	if len(got.Models) != 2 || got.Models[0].Provider != "openai" || got.Models[1].Provider != "anthropic" {
		t.Errorf("Models = %+v, want ordered openai, anthropic", got.Models)
	}
}

func TestStore_APIKey_CreateAndLookup(t *testing.T) {
	store := newTestStore(t, "memdb_keys1")
	ctx := context.Background()

	k := &domain.ProviderApiKey{ID: "key-1", Name: "default", Provider: "openai", Source: "raw", Value: "sk-test"}
	if err := store.CreateAPIKey(ctx, "org1", k); err != nil {
		t.Fatalf("CreateAPIKey() error = %v", err)
	}

	got, found, err := store.LookupAPIKey(ctx, "openai", "default")
	if err != nil {
		t.Fatalf("LookupAPIKey() error = %v", err)
	}
	if !found || got.Value != "sk-test" {
		t.Errorf("got = %+v, found = %v, want sk-test", got, found)
	}
}

func TestStore_MigrationVersionSeeded(t *testing.T) {
	store := newTestStore(t, "memdb_migration1")
	version, err := store.migrationVersion()
	if err != nil {
		t.Fatalf("migrationVersion() error = %v", err)
	}
	if version != SchemaVersion {
		t.Errorf("migrationVersion() = %d, want %d", version, SchemaVersion)
	}
}

func TestStore_CustomProvider_CRUD(t *testing.T) {
	store := newTestStore(t, "memdb_providers1")
	ctx := context.Background()

	p := &domain.CustomProvider{
		ID: "prov-1", Name: "my-groq", URL: "https://api.groq.com/openai/v1", Format: "openai",
		APIKeySource: "env", APIKeyValue: "GROQ_API_KEY", Headers: map[string]string{"x-custom": "1"},
	}
	if err := store.CreateCustomProvider(ctx, "org1", p); err != nil {
		t.Fatalf("CreateCustomProvider() error = %v", err)
	}

	got, found, err := store.GetCustomProvider(ctx, "org1", "my-groq")
	if err != nil || !found {
		t.Fatalf("GetCustomProvider() error = %v, found = %v", err, found)
	}
	if got.Headers["x-custom"] != "1" {
		t.Errorf("Headers = %+v, want x-custom=1", got.Headers)
	}

	if err := store.DeleteCustomProvider(ctx, "prov-1"); err != nil {
		t.Fatalf("DeleteCustomProvider() error = %v", err)
	}
	if _, found, _ := store.GetCustomProvider(ctx, "org1", "my-groq"); found {
		t.Error("provider still found after delete")
	}
}

func TestStore_ApplyEvents_GenericEventStored(t *testing.T) {
	store := newTestStore(t, "memdb_generic1")
	ctx := context.Background()

	now := time.Now()
	ids, err := store.ApplyEvents(ctx, "org1", []domain.Event{
		{Type: "custom:deploy", Time: &now, Data: map[string]any{"version": "1.2.3"}},
	})
	if err != nil {
		t.Fatalf("ApplyEvents() error = %v", err)
	}
	if len(ids) != 1 || ids[0] == "" {
		t.Fatalf("ids = %v, want one generated id", ids)
	}

	var kind, eventType string
	if err := store.DB().QueryRow("SELECT kind, event_type FROM chronicle_events WHERE id = ?", ids[0]).Scan(&kind, &eventType); err != nil {
		t.Fatalf("query error = %v", err)
	}
	if kind != "generic" || eventType != "custom:deploy" {
		t.Errorf("kind=%q event_type=%q, want generic/custom:deploy", kind, eventType)
	}
}
