package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"relquery/internal/planner"
	"relquery/internal/relmeta"
)

func intPtr(v int) *int { return &v }

func TestParseRequest_EntityOnly(t *testing.T) {
	input, err := parseRequest(requestFlags{Entity: " Invoice "}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if input.Entity != "Invoice" {
		t.Fatalf("expected entity Invoice, got %q", input.Entity)
	}
	if input.Where != nil || input.OrderBy != nil || input.Relations != nil || input.Pagination != nil {
		t.Fatalf("expected an otherwise empty input, got %+v", input)
	}
}

func TestParseRequest_FlagsAssembleInput(t *testing.T) {
	flags := requestFlags{
		Entity:      "Invoice",
		WhereJSON:   `{"total":{"_gte":100}}`,
		OrderByJSON: `[{"date":"DESC"}]`,
		Relations:   "client, details.product, ",
		Skip:        intPtr(10),
		Take:        intPtr(5),
	}

	input, err := parseRequest(flags, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantWhere := planner.Where{"total": map[string]interface{}{"_gte": float64(100)}}
	if !reflect.DeepEqual(input.Where, wantWhere) {
		t.Fatalf("where mismatch: got %#v", input.Where)
	}

	wantOrder := []interface{}{map[string]interface{}{"date": "DESC"}}
	if !reflect.DeepEqual(input.OrderBy, wantOrder) {
		t.Fatalf("orderBy mismatch: got %#v", input.OrderBy)
	}

	wantRelations := []string{"client", "details.product"}
	if !reflect.DeepEqual(input.Relations, wantRelations) {
		t.Fatalf("relations mismatch: got %#v", input.Relations)
	}

	if input.Pagination == nil || input.Pagination.Skip == nil || *input.Pagination.Skip != 10 {
		t.Fatalf("expected skip=10, got %+v", input.Pagination)
	}
	if input.Pagination.Take == nil || *input.Pagination.Take != 5 {
		t.Fatalf("expected take=5, got %+v", input.Pagination)
	}
	if input.Pagination.Page != nil || input.Pagination.Limit != nil {
		t.Fatalf("page form should be unset, got %+v", input.Pagination)
	}
}

func TestParseRequest_Errors(t *testing.T) {
	tests := []struct {
		name  string
		flags requestFlags
	}{
		{name: "missing entity", flags: requestFlags{}},
		{name: "invalid where JSON", flags: requestFlags{Entity: "Invoice", WhereJSON: `{"total":`}},
		{name: "invalid order-by JSON", flags: requestFlags{Entity: "Invoice", OrderByJSON: `[{"date"`}},
		{name: "missing input file", flags: requestFlags{InputPath: "/nonexistent/request.json"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseRequest(tt.flags, nil)
			if err == nil {
				t.Fatalf("expected error, got none")
			}
			if !errors.Is(err, planner.ErrInvalidInput) {
				t.Fatalf("expected invalid-input class, got %v", err)
			}
		})
	}
}

func TestParseRequest_StdinInput(t *testing.T) {
	request := `{
		"entity": "Invoice",
		"where": {"client": {"country": "NL"}},
		"relations": ["details"],
		"pagination": {"page": 2, "limit": 10}
	}`

	input, err := parseRequest(requestFlags{InputPath: "-"}, strings.NewReader(request))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if input.Entity != "Invoice" {
		t.Fatalf("expected entity Invoice, got %q", input.Entity)
	}
	if input.Pagination == nil || input.Pagination.Page == nil || *input.Pagination.Page != 2 {
		t.Fatalf("expected page=2, got %+v", input.Pagination)
	}
	if input.Pagination.Limit == nil || *input.Pagination.Limit != 10 {
		t.Fatalf("expected limit=10, got %+v", input.Pagination)
	}
}

func TestParseRequest_InputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "request.json")
	if err := os.WriteFile(path, []byte(`{"entity":"Client","relations":["invoices"]}`), 0600); err != nil {
		t.Fatalf("write request file: %v", err)
	}

	input, err := parseRequest(requestFlags{InputPath: path}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if input.Entity != "Client" {
		t.Fatalf("expected entity Client, got %q", input.Entity)
	}
	if !reflect.DeepEqual(input.Relations, []string{"invoices"}) {
		t.Fatalf("relations mismatch: got %#v", input.Relations)
	}
}

func TestParseRequest_InputFileRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "request.json")
	if err := os.WriteFile(path, []byte(`{"entity":"Client","filter":{}}`), 0600); err != nil {
		t.Fatalf("write request file: %v", err)
	}

	_, err := parseRequest(requestFlags{InputPath: path}, nil)
	if err == nil {
		t.Fatalf("expected error for unknown key")
	}
	if !errors.Is(err, planner.ErrInvalidInput) {
		t.Fatalf("expected invalid-input class, got %v", err)
	}
	if !strings.Contains(err.Error(), "filter") {
		t.Fatalf("expected the unknown key in the message, got %v", err)
	}
}

func TestParseRequest_InputFileRequiresEntity(t *testing.T) {
	input := `{"where": {"total": 1}}`
	_, err := parseRequest(requestFlags{InputPath: "-"}, strings.NewReader(input))
	if err == nil {
		t.Fatalf("expected error for missing entity")
	}
	if !errors.Is(err, planner.ErrInvalidInput) {
		t.Fatalf("expected invalid-input class, got %v", err)
	}
}

func TestNewPlanView(t *testing.T) {
	direct := &planner.FindPlan{
		Mode:   planner.PlanDirect,
		Entity: "Invoice",
		Query:  &planner.SQLQuery{SQL: "SELECT 1", Args: []interface{}{"x"}},
	}
	view := newPlanView(direct)
	if view.Query == nil || view.Query.SQL != "SELECT 1" {
		t.Fatalf("expected direct query in view, got %+v", view)
	}
	if view.Probe != nil {
		t.Fatalf("direct plan should have no probe, got %+v", view.Probe)
	}

	twoPhase := &planner.FindPlan{
		Mode:   planner.PlanTwoPhase,
		Entity: "Invoice",
		Probe:  &planner.SQLQuery{SQL: "SELECT DISTINCT id", Args: []interface{}{}},
	}
	view = newPlanView(twoPhase)
	if view.Probe == nil || view.Probe.SQL != "SELECT DISTINCT id" {
		t.Fatalf("expected probe in view, got %+v", view)
	}
	if view.Query != nil {
		t.Fatalf("two-phase plan should carry only the probe, got %+v", view.Query)
	}

	data, err := json.Marshal(view)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"mode":"two-phase"`) {
		t.Fatalf("expected textual mode in output, got %s", data)
	}
}

func TestNewSchemaView(t *testing.T) {
	schema := relmeta.NewSchema(&relmeta.Entity{
		Name:  "Invoice",
		Table: "invoices",
		Fields: []relmeta.Field{
			{Name: "id", Column: "id", Type: relmeta.FieldInt, PrimaryKey: true},
			{Name: "total", Column: "total", Type: relmeta.FieldDecimal, Nullable: true},
		},
		Relations: []relmeta.Relation{
			{Name: "details", Kind: relmeta.OneToMany, Target: "InvoiceDetail",
				LocalColumns: []string{"id"}, RemoteColumns: []string{"invoice_id"}},
		},
	})

	view := newSchemaView(schema)
	if len(view.Entities) != 1 {
		t.Fatalf("expected one entity, got %d", len(view.Entities))
	}

	data, err := json.Marshal(view)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	for _, want := range []string{`"table":"invoices"`, `"type":"decimal"`, `"kind":"one-to-many"`, `"primaryKey":true`} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("expected %s in schema output, got %s", want, data)
		}
	}

	empty := newSchemaView(nil)
	if empty.Entities == nil || len(empty.Entities) != 0 {
		t.Fatalf("nil schema should render an empty entity list, got %+v", empty)
	}
}
