package db

import (
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

var safeIdent = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// IsSafeIdent reports whether name is made only of ASCII letters, digits and
// underscores.
func IsSafeIdent(name string) bool {
	return safeIdent.MatchString(name)
}

// QuoteIdent validates name against the identifier whitelist and returns it
// quoted for interpolation into SQL. Every identifier that reaches a
// dynamically built query goes through here, including ones that were already
// filtered upstream.
func QuoteIdent(name string) (string, error) {
	if !IsSafeIdent(name) {
		return "", eris.Errorf("db: unsafe identifier %q", name)
	}
	return pgx.Identifier{name}.Sanitize(), nil
}

// QuoteTable handles schema-qualified table names like "frota.veiculos".
// Both parts must pass the whitelist.
func QuoteTable(table string) (string, error) {
	parts := strings.SplitN(table, ".", 2)
	for _, p := range parts {
		if !IsSafeIdent(p) {
			return "", eris.Errorf("db: unsafe identifier %q", table)
		}
	}
	return pgx.Identifier(parts).Sanitize(), nil
}
