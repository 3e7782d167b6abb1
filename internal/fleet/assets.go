package fleet

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/fleet-feedback/internal/db"
	"github.com/sells-group/fleet-feedback/internal/plate"
)

// Tables names the fleet-management tables and columns this service reads.
type Tables struct {
	Schema             string
	ActivationTag      string
	ActivationColumn   string
	CancellationColumn string

	// Stable vehicle table.
	VehicleTable       string
	VehiclePlateColumn string

	// Unstable assignment table. An empty AssignmentPlateColumn means the
	// identifier column is discovered by the resolver.
	AssignmentTable       string
	AssignmentPlateColumn string
	AssignmentStartColumn string

	// Personnel registry.
	PersonnelTable             string
	PersonnelIDColumn          string
	PersonnelNameColumn        string
	PersonnelTerminationColumn string
}

// AssignmentTarget describes the assignment table for a ColumnResolver.
func (t Tables) AssignmentTarget() Target {
	return Target{
		Schema:             t.Schema,
		Table:              t.AssignmentTable,
		ActivationColumn:   t.ActivationColumn,
		CancellationColumn: t.CancellationColumn,
		ActivationTag:      t.ActivationTag,
		ExcludedColumns:    []string{t.PersonnelIDColumn, t.AssignmentStartColumn},
	}
}

// normalizedSQL is the SQL twin of plate.Normalize.
const normalizedSQL = `regexp_replace(upper(btrim(%s::text)), '[^A-Z0-9]', '', 'g')`

// AssetChecker answers activation and operator questions against the fleet
// store. It holds no entity state.
type AssetChecker struct {
	pool     db.Pool
	tables   Tables
	resolver *ColumnResolver

	activeVehicleSQL   string
	activePersonnelSQL string
}

// NewAssetChecker validates every configured identifier and prepares the
// fixed-schema queries. resolver may be nil only when the assignment plate
// column is pinned.
func NewAssetChecker(pool db.Pool, tables Tables, resolver *ColumnResolver) (*AssetChecker, error) {
	if resolver == nil && tables.AssignmentPlateColumn == "" {
		return nil, eris.New("fleet: asset checker needs a resolver or a pinned assignment plate column")
	}
	q, err := quoteAll([]string{
		tables.Schema + "." + tables.VehicleTable,
		tables.Schema + "." + tables.PersonnelTable,
	}, tables.ActivationColumn, tables.CancellationColumn, tables.VehiclePlateColumn,
		tables.PersonnelIDColumn, tables.PersonnelTerminationColumn)
	if err != nil {
		return nil, err
	}

	c := &AssetChecker{pool: pool, tables: tables, resolver: resolver}
	c.activeVehicleSQL = fmt.Sprintf(
		`SELECT EXISTS (SELECT 1 FROM %s WHERE upper(btrim(%s::text)) = upper($1) AND %s IS NULL AND `+normalizedSQL+` = $2)`,
		q[tables.Schema+"."+tables.VehicleTable], q[tables.ActivationColumn], q[tables.CancellationColumn], q[tables.VehiclePlateColumn],
	)
	c.activePersonnelSQL = fmt.Sprintf(
		`SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1 AND %s IS NULL)`,
		q[tables.Schema+"."+tables.PersonnelTable], q[tables.PersonnelIDColumn], q[tables.PersonnelTerminationColumn],
	)
	return c, nil
}

// ExistsActiveAsset reports whether key denotes a vehicle tagged as operative
// fleet (case-insensitive) with no cancellation timestamp. Store failures are
// returned as errors, never as false.
func (c *AssetChecker) ExistsActiveAsset(ctx context.Context, key plate.Key) (bool, error) {
	if key == "" {
		return false, nil
	}
	var exists bool
	if err := c.pool.QueryRow(ctx, c.activeVehicleSQL, c.tables.ActivationTag, string(key)).Scan(&exists); err != nil {
		return false, eris.Wrapf(err, "fleet: active asset check %s", key)
	}
	return exists, nil
}

// ExistsActivePersonnel reports whether matricula belongs to a person with no
// termination date.
func (c *AssetChecker) ExistsActivePersonnel(ctx context.Context, matricula int64) (bool, error) {
	var exists bool
	if err := c.pool.QueryRow(ctx, c.activePersonnelSQL, matricula).Scan(&exists); err != nil {
		return false, eris.Wrapf(err, "fleet: active personnel check %d", matricula)
	}
	return exists, nil
}

// LookupOperator returns the name of the non-terminated person most recently
// assigned to key. ok is false when nobody matches. A *ResolutionError from the
// resolver is returned unwrapped.
func (c *AssetChecker) LookupOperator(ctx context.Context, key plate.Key) (name string, ok bool, err error) {
	if key == "" {
		return "", false, nil
	}
	column, err := c.assignmentColumn(ctx)
	if err != nil {
		return "", false, err
	}
	query, err := c.operatorQuery(column)
	if err != nil {
		return "", false, err
	}

	var raw string
	err = c.pool.QueryRow(ctx, query, string(key)).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrapf(err, "fleet: lookup operator %s", key)
	}
	return DisplayName(raw), true, nil
}

func (c *AssetChecker) assignmentColumn(ctx context.Context) (string, error) {
	if c.tables.AssignmentPlateColumn != "" {
		return c.tables.AssignmentPlateColumn, nil
	}
	return c.resolver.Resolve(ctx)
}

func (c *AssetChecker) operatorQuery(column string) (string, error) {
	t := c.tables
	q, err := quoteAll([]string{
		t.Schema + "." + t.AssignmentTable,
		t.Schema + "." + t.PersonnelTable,
	}, column, t.AssignmentStartColumn, t.PersonnelIDColumn, t.PersonnelNameColumn, t.PersonnelTerminationColumn)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		`SELECT p.%[1]s FROM %[2]s a JOIN %[3]s p ON p.%[4]s = a.%[4]s WHERE `+
			fmt.Sprintf(normalizedSQL, "a.%[5]s")+
			` = $1 AND p.%[6]s IS NULL ORDER BY a.%[7]s DESC NULLS LAST LIMIT 1`,
		q[t.PersonnelNameColumn], q[t.Schema+"."+t.AssignmentTable], q[t.Schema+"."+t.PersonnelTable],
		q[t.PersonnelIDColumn], q[column], q[t.PersonnelTerminationColumn], q[t.AssignmentStartColumn],
	), nil
}

// quoteAll whitelists and quotes schema-qualified tables and columns, keyed by
// their raw names.
func quoteAll(tables []string, columns ...string) (map[string]string, error) {
	out := make(map[string]string, len(tables)+len(columns))
	for _, tbl := range tables {
		q, err := db.QuoteTable(tbl)
		if err != nil {
			return nil, eris.Wrap(err, "fleet: table name")
		}
		out[tbl] = q
	}
	for _, col := range columns {
		q, err := db.QuoteIdent(col)
		if err != nil {
			return nil, eris.Wrap(err, "fleet: column name")
		}
		out[col] = q
	}
	return out, nil
}

// Portuguese particles stay lowercase inside a name.
var nameParticles = map[string]bool{"da": true, "das": true, "de": true, "do": true, "dos": true, "e": true}

// DisplayName turns a registry name like "JOAO  DA SILVA" into "Joao da Silva".
func DisplayName(raw string) string {
	words := strings.Fields(raw)
	caser := cases.Title(language.BrazilianPortuguese)
	for i, w := range words {
		lower := strings.ToLower(w)
		if i > 0 && nameParticles[lower] {
			words[i] = lower
			continue
		}
		words[i] = caser.String(w)
	}
	return strings.Join(words, " ")
}
