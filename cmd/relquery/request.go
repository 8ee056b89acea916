package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"relquery/internal/logging"
	"relquery/internal/planner"
	"relquery/internal/relmeta"
)

// requestFlags carries the raw find request flags. Nil pagination fields
// mean the flag was not set, which keeps an explicit 0 distinguishable from
// an omitted value.
type requestFlags struct {
	Entity      string
	WhereJSON   string
	OrderByJSON string
	Relations   string
	Skip        *int
	Take        *int
	Page        *int
	Limit       *int
	InputPath   string
}

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", planner.ErrInvalidInput, fmt.Sprintf(format, args...))
}

// parseRequest assembles a find input from flags, or from the bundled JSON
// request when InputPath is set.
func parseRequest(flags requestFlags, stdin io.Reader) (planner.FindInput, error) {
	if flags.InputPath != "" {
		return readRequestFile(flags.InputPath, stdin)
	}

	input := planner.FindInput{Entity: strings.TrimSpace(flags.Entity)}
	if input.Entity == "" {
		return planner.FindInput{}, invalidf("an entity is required (use --entity or --input)")
	}

	if flags.WhereJSON != "" {
		var where planner.Where
		if err := json.Unmarshal([]byte(flags.WhereJSON), &where); err != nil {
			return planner.FindInput{}, invalidf("invalid --where JSON: %v", err)
		}
		input.Where = where
	}

	if flags.OrderByJSON != "" {
		var orderBy interface{}
		if err := json.Unmarshal([]byte(flags.OrderByJSON), &orderBy); err != nil {
			return planner.FindInput{}, invalidf("invalid --order-by JSON: %v", err)
		}
		input.OrderBy = orderBy
	}

	if relations := strings.TrimSpace(flags.Relations); relations != "" {
		for _, part := range strings.Split(relations, ",") {
			if path := strings.TrimSpace(part); path != "" {
				input.Relations = append(input.Relations, path)
			}
		}
	}

	if flags.Skip != nil || flags.Take != nil || flags.Page != nil || flags.Limit != nil {
		input.Pagination = &planner.Pagination{
			Skip:  flags.Skip,
			Take:  flags.Take,
			Page:  flags.Page,
			Limit: flags.Limit,
		}
	}

	return input, nil
}

func readRequestFile(path string, stdin io.Reader) (planner.FindInput, error) {
	var reader io.Reader
	if path == "-" {
		reader = stdin
	} else {
		file, err := os.Open(path)
		if err != nil {
			return planner.FindInput{}, invalidf("cannot read input file %q: %v", path, err)
		}
		defer func() {
			_ = file.Close()
		}()
		reader = file
	}

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	var input planner.FindInput
	if err := decoder.Decode(&input); err != nil {
		return planner.FindInput{}, invalidf("invalid find request JSON: %v", err)
	}
	if strings.TrimSpace(input.Entity) == "" {
		return planner.FindInput{}, invalidf("an entity is required (use --entity or --input)")
	}
	return input, nil
}

// planView is the explain-mode rendering of a compiled plan. A direct plan
// carries the complete statement in Query; a two-phase plan carries the key
// probe, whose fetch statement is completed per probe result at run time.
type planView struct {
	Entity string           `json:"entity"`
	Mode   planner.PlanMode `json:"mode"`
	Probe  *queryView       `json:"probe,omitempty"`
	Query  *queryView       `json:"query,omitempty"`
}

type queryView struct {
	SQL  string        `json:"sql"`
	Args []interface{} `json:"args"`
}

func newPlanView(plan *planner.FindPlan) planView {
	view := planView{Entity: plan.Entity, Mode: plan.Mode}
	if plan.Probe != nil {
		view.Probe = &queryView{SQL: plan.Probe.SQL, Args: plan.Probe.Args}
	}
	if plan.Query != nil {
		view.Query = &queryView{SQL: plan.Query.SQL, Args: plan.Query.Args}
	}
	return view
}

// schemaView is the schema-mode rendering of the discovered entity model.
type schemaView struct {
	Entities []entityView `json:"entities"`
}

type entityView struct {
	Name      string         `json:"name"`
	Table     string         `json:"table"`
	Fields    []fieldView    `json:"fields"`
	Relations []relationView `json:"relations,omitempty"`
}

type fieldView struct {
	Name          string            `json:"name"`
	Column        string            `json:"column"`
	Type          relmeta.FieldType `json:"type"`
	DataType      string            `json:"dataType,omitempty"`
	Nullable      bool              `json:"nullable"`
	PrimaryKey    bool              `json:"primaryKey,omitempty"`
	AutoIncrement bool              `json:"autoIncrement,omitempty"`
	EnumValues    []string          `json:"enumValues,omitempty"`
}

type relationView struct {
	Name          string       `json:"name"`
	Kind          relmeta.Kind `json:"kind"`
	Target        string       `json:"target"`
	LocalColumns  []string     `json:"localColumns,omitempty"`
	RemoteColumns []string     `json:"remoteColumns,omitempty"`
	JunctionTable string       `json:"junctionTable,omitempty"`
	Nullable      bool         `json:"nullable,omitempty"`
	Cascade       bool         `json:"cascade,omitempty"`
}

func newSchemaView(schema *relmeta.Schema) schemaView {
	view := schemaView{Entities: []entityView{}}
	if schema == nil {
		return view
	}
	for _, entity := range schema.Entities {
		ev := entityView{
			Name:   entity.Name,
			Table:  entity.Table,
			Fields: make([]fieldView, 0, len(entity.Fields)),
		}
		for _, field := range entity.Fields {
			ev.Fields = append(ev.Fields, fieldView{
				Name:          field.Name,
				Column:        field.Column,
				Type:          field.Type,
				DataType:      field.DataType,
				Nullable:      field.Nullable,
				PrimaryKey:    field.PrimaryKey,
				AutoIncrement: field.AutoIncrement,
				EnumValues:    field.EnumValues,
			})
		}
		for _, relation := range entity.Relations {
			ev.Relations = append(ev.Relations, relationView{
				Name:          relation.Name,
				Kind:          relation.Kind,
				Target:        relation.Target,
				LocalColumns:  relation.LocalColumns,
				RemoteColumns: relation.RemoteColumns,
				JunctionTable: relation.JunctionTable,
				Nullable:      relation.Nullable,
				Cascade:       relation.Cascade,
			})
		}
		view.Entities = append(view.Entities, ev)
	}
	return view
}

func printJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// dumpMetricFamilies prints the gathered metric families in Prometheus text
// exposition format. Results go to stderr so piped JSON output stays clean.
func dumpMetricFamilies(gatherer prometheus.Gatherer, w io.Writer, logger *logging.Logger) {
	if gatherer == nil {
		logger.Warn("metrics dump requested but metrics are disabled")
		return
	}

	families, err := gatherer.Gather()
	if err != nil {
		logger.Warn("failed to gather metrics", slog.String("error", err.Error()))
		return
	}

	encoder := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if err := encoder.Encode(family); err != nil {
			logger.Warn("failed to encode metric family",
				slog.String("family", family.GetName()),
				slog.String("error", err.Error()),
			)
			return
		}
	}
}
