package entity

import (
	"fmt"
	"strings"
)

// CreateTableSQL renders the CREATE TABLE IF NOT EXISTS statement for conv
func CreateTableSQL(conv Converter) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (%s INTEGER PRIMARY KEY AUTOINCREMENT",
		quoteIdent(conv.Table()), quoteIdent(IDColumn))
	for _, col := range conv.Columns() {
		fmt.Fprintf(&b, ", %s %s", quoteIdent(col.Name), col.Type)
		if !col.Nullable {
			b.WriteString(" NOT NULL")
		}
	}
	b.WriteString(")")
	return b.String()
}

// CreateTableSQL renders the DDL for every registered converter
func (r *Registry) CreateTableSQL() []string {
	convs := r.Converters()
	stmts := make([]string, 0, len(convs))
	for _, conv := range convs {
		stmts = append(stmts, CreateTableSQL(conv))
	}
	return stmts
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
