package service

import "testing"

func ghDef() ServiceDefinition {
	return ServiceDefinition{
		Name:               "gh",
		UpstreamBaseURL:    "https://api.github.com",
		InterceptHostnames: []string{"Api.GitHub.com"},
		Policy:             Policy{DefaultAction: ActionAutoApprove},
	}
}

func TestTable_SetGetAll(t *testing.T) {
	table := NewTable()
	table.Set([]ServiceDefinition{ghDef()})

	def, ok := table.Get("gh")
	if !ok {
		t.Fatal("expected gh service to exist")
	}
	if def.UpstreamBaseURL != "https://api.github.com" {
		t.Fatalf("unexpected upstream base URL: %s", def.UpstreamBaseURL)
	}

	if len(table.All()) != 1 {
		t.Fatalf("expected 1 service, got %d", len(table.All()))
	}
	if len(table.Names()) != 1 || table.Names()[0] != "gh" {
		t.Fatalf("unexpected Names(): %v", table.Names())
	}
}

func TestTable_ByHostIsCaseInsensitive(t *testing.T) {
	table := NewTable()
	table.Set([]ServiceDefinition{ghDef()})

	def, ok := table.ByHost("api.github.com")
	if !ok || def.Name != "gh" {
		t.Fatalf("expected lowercase host lookup to resolve gh, got %v, %v", def, ok)
	}

	_, ok = table.ByHost("unknown.example.com")
	if ok {
		t.Fatal("expected unknown host to miss")
	}
}

func TestTable_UpsertReplacesExisting(t *testing.T) {
	table := NewTable()
	table.Set([]ServiceDefinition{ghDef()})

	updated := ghDef()
	updated.UpstreamBaseURL = "https://api.github.example"
	table.Upsert(updated)

	def, ok := table.Get("gh")
	if !ok {
		t.Fatal("expected gh to still exist after upsert")
	}
	if def.UpstreamBaseURL != "https://api.github.example" {
		t.Fatalf("upsert did not replace upstream base URL, got %s", def.UpstreamBaseURL)
	}
	if len(table.All()) != 1 {
		t.Fatalf("upsert of existing name should not grow the table, got %d entries", len(table.All()))
	}
}

func TestTable_UpsertInsertsNew(t *testing.T) {
	table := NewTable()
	table.Set([]ServiceDefinition{ghDef()})

	table.Upsert(ServiceDefinition{Name: "slack", UpstreamBaseURL: "https://slack.com/api"})

	if len(table.All()) != 2 {
		t.Fatalf("expected 2 services after upsert of new name, got %d", len(table.All()))
	}
	if _, ok := table.Get("slack"); !ok {
		t.Fatal("expected slack to be present")
	}
}

func TestTable_Delete(t *testing.T) {
	table := NewTable()
	table.Set([]ServiceDefinition{ghDef()})
	table.Delete("gh")

	if _, ok := table.Get("gh"); ok {
		t.Fatal("expected gh to be removed")
	}
	if len(table.All()) != 0 {
		t.Fatalf("expected empty table after delete, got %d entries", len(table.All()))
	}
}
