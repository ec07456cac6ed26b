package schema

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/gridcast/pkg/columnar"
	"github.com/ajitpratap0/gridcast/pkg/errors"
)

// Warehouse table names.
const (
	TableEnergy    = "fact_energy_usage"
	TableBuilding  = "dim_building"
	TableWeather   = "dim_weather"
	TableInference = "inference_logs"
)

// Table is a warehouse table declaration.
type Table struct {
	Name    string
	Kind    DatasetKind
	Columns []Field
	// Engine is the MariaDB storage engine, ColumnStore for analytics tables.
	Engine string
	// AutoID adds an auto increment primary key.
	AutoID bool
	// Lineage names the DATETIME column recording when a row was written.
	Lineage string
	// LineageDefault lets the database fill Lineage on insert.
	LineageDefault bool
}

// LineageColumn is the ingestion timestamp added to every raw chunk.
const LineageColumn = "ingested_at"

// ColumnNames returns the table's column names in order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// TableFor returns the warehouse table a dataset kind is stored in.
func TableFor(kind DatasetKind) (Table, error) {
	d, err := For(kind)
	if err != nil {
		return Table{}, err
	}
	switch kind {
	case KindTrain:
		return Table{Name: TableEnergy, Kind: kind, Columns: d.Fields(), Engine: "ColumnStore", Lineage: LineageColumn}, nil
	case KindBuilding:
		return Table{Name: TableBuilding, Kind: kind, Columns: d.Fields(), Engine: "ColumnStore", Lineage: LineageColumn}, nil
	case KindWeather:
		cols := append(d.Fields(),
			field("datetime", columnar.ColumnTypeTimestamp),
			field("day", columnar.ColumnTypeInt8),
			field("month", columnar.ColumnTypeInt8),
			field("week", columnar.ColumnTypeInt8),
			field("hour", columnar.ColumnTypeInt8),
		)
		return Table{Name: TableWeather, Kind: kind, Columns: cols, Engine: "ColumnStore", Lineage: LineageColumn}, nil
	case KindInference:
		return Table{
			Name:           TableInference,
			Kind:           kind,
			Columns:        d.Fields(),
			Engine:         "InnoDB",
			AutoID:         true,
			Lineage:        "logged_at",
			LineageDefault: true,
		}, nil
	default:
		return Table{}, errors.Newf(errors.ErrorTypeConfig, "no table for %s", kind)
	}
}

// ProductionTables returns the three ingestion targets.
func ProductionTables() []Table {
	out := make([]Table, 0, 3)
	for _, k := range []DatasetKind{KindTrain, KindBuilding, KindWeather} {
		t, _ := TableFor(k)
		out = append(out, t)
	}
	return out
}

// SQLType maps a column type to a MariaDB column type.
func SQLType(t columnar.ColumnType) string {
	switch t {
	case columnar.ColumnTypeInt8:
		return "TINYINT"
	case columnar.ColumnTypeInt16:
		return "SMALLINT"
	case columnar.ColumnTypeInt32:
		return "INT"
	case columnar.ColumnTypeInt64:
		return "BIGINT"
	case columnar.ColumnTypeFloat16, columnar.ColumnTypeFloat32:
		return "FLOAT"
	case columnar.ColumnTypeFloat64:
		return "DOUBLE"
	case columnar.ColumnTypeTimestamp:
		return "DATETIME"
	default:
		return "VARCHAR(255)"
	}
}

// CreateStatement renders an idempotent CREATE TABLE for t.
func (t Table) CreateStatement() string {
	defs := make([]string, 0, len(t.Columns)+2)
	if t.AutoID {
		defs = append(defs, "`id` INT AUTO_INCREMENT PRIMARY KEY")
	}
	for _, c := range t.Columns {
		defs = append(defs, fmt.Sprintf("`%s` %s", c.Name, SQLType(c.Type)))
	}
	switch {
	case t.Lineage != "" && t.LineageDefault:
		defs = append(defs, fmt.Sprintf("`%s` DATETIME DEFAULT CURRENT_TIMESTAMP", t.Lineage))
	case t.Lineage != "":
		defs = append(defs, fmt.Sprintf("`%s` DATETIME", t.Lineage))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS `%s` (\n    %s\n) ENGINE=%s",
		t.Name, strings.Join(defs, ",\n    "), t.Engine)
}
