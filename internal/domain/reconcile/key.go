package reconcile

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
)

const pgUniqueViolation = "23505"

// KeySpec is a uniqueness rule whose violations the service heals.
type KeySpec struct {
	Name       string   `json:"name"`
	Table      string   `json:"table"`
	Columns    []string `json:"columns"`
	Constraint string   `json:"constraint"`
	// Nullable lists columns where NULL takes part in the key. A NULL value
	// is carried as NullValue, the way PostgreSQL prints it in key details.
	Nullable []string `json:"nullable,omitempty"`
}

// NullValue stands for NULL in Key.Values.
const NullValue = "null"

// IsNullable reports whether NULL in column c takes part in the key.
func (s KeySpec) IsNullable(c string) bool {
	return slices.Contains(s.Nullable, c)
}

// Known uniqueness rules.
var (
	ProductCatalogCategory = KeySpec{
		Name:       "product_catalog_category",
		Table:      "products",
		Columns:    []string{"catalog_ref", "category_ref"},
		Constraint: "products_catalog_ref_category_ref_key",
		Nullable:   []string{"category_ref"},
	}
	ProductCode = KeySpec{
		Name:       "product_code",
		Table:      "products",
		Columns:    []string{"code"},
		Constraint: "products_code_key",
	}
	LotEntryNumber = KeySpec{
		Name:       "lot_entry_number",
		Table:      "lot_entries",
		Columns:    []string{"entry_number"},
		Constraint: "lot_entries_entry_number_key",
	}
)

// DefaultSpecs returns the rules covered by a full sweep.
func DefaultSpecs() []KeySpec {
	return []KeySpec{ProductCatalogCategory, ProductCode, LotEntryNumber}
}

// Key is one concrete value combination of a KeySpec. Values follow Spec.Columns.
type Key struct {
	Spec   KeySpec
	Values []string
}

func (k Key) String() string {
	pairs := make([]string, len(k.Spec.Columns))
	for i, c := range k.Spec.Columns {
		pairs[i] = fmt.Sprintf("%s=%s", c, k.Values[i])
	}
	return k.Spec.Table + "(" + strings.Join(pairs, ", ") + ")"
}

// IsDuplicateKeyError classifies err as a uniqueness violation.
func IsDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if apperror.HasCode(err, apperror.CodeDuplicate) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate key")
}

// "Key (catalog_ref, category_ref)=(a, b) already exists."
var keyDetailRe = regexp.MustCompile(`Key \((.+?)\)=\((.*?)\)`)

// ParseKeyDetail splits a PostgreSQL unique-violation detail into column/value pairs.
func ParseKeyDetail(detail string) (map[string]string, bool) {
	m := keyDetailRe.FindStringSubmatch(detail)
	if m == nil {
		return nil, false
	}
	cols := strings.Split(m[1], ", ")
	if len(cols) == 1 {
		return map[string]string{strings.TrimSpace(cols[0]): m[2]}, true
	}
	vals := strings.Split(m[2], ", ")
	if len(cols) != len(vals) {
		return nil, false
	}
	out := make(map[string]string, len(cols))
	for i, c := range cols {
		out[strings.TrimSpace(c)] = strings.TrimSpace(vals[i])
	}
	return out, true
}

// ExtractKey finds the violated key in err. The structured key map attached by
// the repositories is preferred; the driver payload and finally the message
// text are used when it is missing.
func ExtractKey(err error, specs []KeySpec) (Key, bool) {
	var constraint string

	if appErr, ok := apperror.AsAppError(err); ok && appErr.Details != nil {
		constraint, _ = appErr.Details["constraint"].(string)
		if fields := detailMap(appErr.Details["key"]); fields != nil {
			if k, ok := match(specs, constraint, fields); ok {
				return k, true
			}
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.ConstraintName != "" {
			constraint = pgErr.ConstraintName
		}
		if fields, ok := ParseKeyDetail(pgErr.Detail); ok {
			if k, ok := match(specs, constraint, fields); ok {
				return k, true
			}
		}
	}

	if fields, ok := ParseKeyDetail(err.Error()); ok {
		return match(specs, constraint, fields)
	}
	return Key{}, false
}

func detailMap(v any) map[string]string {
	switch m := v.(type) {
	case map[string]string:
		return m
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, val := range m {
			out[k] = fmt.Sprint(val)
		}
		return out
	}
	return nil
}

// match picks the spec by constraint name, else by exact column set.
func match(specs []KeySpec, constraint string, fields map[string]string) (Key, bool) {
	build := func(s KeySpec) (Key, bool) {
		if len(s.Columns) != len(fields) {
			return Key{}, false
		}
		vals := make([]string, len(s.Columns))
		for i, c := range s.Columns {
			v, ok := fields[c]
			if !ok {
				return Key{}, false
			}
			vals[i] = v
		}
		return Key{Spec: s, Values: vals}, true
	}

	if constraint != "" {
		for _, s := range specs {
			if s.Constraint == constraint {
				return build(s)
			}
		}
	}

	var found []Key
	for _, s := range specs {
		if k, ok := build(s); ok {
			found = append(found, k)
		}
	}
	// ambiguous column sets need the constraint name
	if len(found) != 1 {
		return Key{}, false
	}
	return found[0], true
}

func sortNewestFirst(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.After(rows[j].CreatedAt)
		}
		return id.Less(rows[j].ID, rows[i].ID)
	})
}
