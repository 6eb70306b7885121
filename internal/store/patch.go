package store

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Patch is a typed builder for atomic document mutations, generalizing the
// $set/$addToSet/$pull/$unset/$setOnInsert/$currentDate vocabulary the
// original domain expresses against MongoDB into a single
// UPDATE ... SET doc = <expr> statement against a JSONB column. Every
// mutation collapses into one atomic round trip, so there is no
// user-visible window where a reader can observe a half-applied update —
// this is the typed path-builder called for by the REDESIGN FLAGS note on
// dynamic nested field names.
type Patch struct {
	sets        []fieldValue
	setOnInsert []fieldValue
	addToSet    []fieldValue
	pulls       []fieldValue
	unsets      []string
	currentDate []string
}

// fieldValue holds a path and its value already encoded as a JSON literal,
// so Build can bind it straight as a ::jsonb parameter instead of assuming
// every value is a string.
type fieldValue struct {
	path  string
	value json.RawMessage
}

// NewPatch returns an empty patch builder.
func NewPatch() *Patch { return &Patch{} }

// jsonLiteral encodes value as a JSON literal for use as a jsonb parameter.
// A marshal failure (only possible for unsupported Go types such as
// channels or funcs, never the domain's own structs/slices/scalars)
// degrades to a JSON null rather than panicking a caller mid-chain.
func jsonLiteral(value any) json.RawMessage {
	raw, err := json.Marshal(value)
	if err != nil {
		return json.RawMessage("null")
	}
	return raw
}

// Set stages a $set-equivalent: the field at path is overwritten with value.
func (p *Patch) Set(path string, value any) *Patch {
	p.sets = append(p.sets, fieldValue{path, jsonLiteral(value)})
	return p
}

// SetOnInsert stages a $setOnInsert-equivalent: the field is only written
// if it is not already present in the document, mirroring Mongo's
// $setOnInsert semantics for an idmg mapping that may already exist.
func (p *Patch) SetOnInsert(path string, value any) *Patch {
	p.setOnInsert = append(p.setOnInsert, fieldValue{path, jsonLiteral(value)})
	return p
}

// AddToSet stages a $addToSet-equivalent: value is appended to the array at
// path only if not already present.
func (p *Patch) AddToSet(path string, value any) *Patch {
	p.addToSet = append(p.addToSet, fieldValue{path, jsonLiteral(value)})
	return p
}

// Pull stages a $pull-equivalent: any array element at path equal to value
// is removed. Safe to call repeatedly; pulling an absent value is a no-op.
func (p *Patch) Pull(path string, value any) *Patch {
	p.pulls = append(p.pulls, fieldValue{path, jsonLiteral(value)})
	return p
}

// Unset stages a $unset-equivalent: the field at path is removed entirely.
func (p *Patch) Unset(path string) *Patch {
	p.unsets = append(p.unsets, path)
	return p
}

// CurrentDate stages a $currentDate-equivalent: the field at path is set to
// the server's current timestamp.
func (p *Patch) CurrentDate(path string) *Patch {
	p.currentDate = append(p.currentDate, path)
	return p
}

// jsonPath renders a dotted field path ("attachments.abc") as a Postgres
// text[] path literal ('{attachments,abc}').
func jsonPath(path string) string {
	segs := strings.Split(path, ".")
	return "{" + strings.Join(segs, ",") + "}"
}

// Build renders the accumulated operations into a single SQL expression
// assignable to a `doc JSONB` column, e.g. for use as:
//
//	UPDATE tbl SET doc = <expr> WHERE <filter>
//
// argOffset is the 1-based index of the first placeholder Build may use;
// callers composing Build with their own WHERE-clause args pass the count
// of args already reserved ahead of it plus one.
func (p *Patch) Build(argOffset int) (expr string, args []any) {
	expr = "doc"
	n := argOffset

	for _, u := range p.unsets {
		expr = fmt.Sprintf("(%s #- '%s')", expr, jsonPath(u))
	}

	for _, fv := range p.sets {
		expr = fmt.Sprintf("jsonb_set(%s, '%s', $%d::jsonb, true)", expr, jsonPath(fv.path), n)
		args = append(args, string(fv.value))
		n++
	}

	for _, fv := range p.setOnInsert {
		expr = fmt.Sprintf(
			"CASE WHEN (%s #> '%s') IS NULL THEN jsonb_set(%s, '%s', $%d::jsonb, true) ELSE %s END",
			expr, jsonPath(fv.path), expr, jsonPath(fv.path), n, expr,
		)
		args = append(args, string(fv.value))
		n++
	}

	for _, fv := range p.addToSet {
		expr = fmt.Sprintf(`CASE WHEN COALESCE(%s #> '%s', '[]'::jsonb) @> $%d::jsonb
			THEN %s
			ELSE jsonb_set(%s, '%s', COALESCE(%s #> '%s', '[]'::jsonb) || $%d::jsonb, true)
			END`,
			expr, jsonPath(fv.path), n,
			expr,
			expr, jsonPath(fv.path), expr, jsonPath(fv.path), n,
		)
		args = append(args, string(fv.value))
		n++
	}

	for _, fv := range p.pulls {
		expr = fmt.Sprintf(`jsonb_set(%s, '%s', (
			SELECT COALESCE(jsonb_agg(elem), '[]'::jsonb)
			FROM jsonb_array_elements(COALESCE(%s #> '%s', '[]'::jsonb)) elem
			WHERE elem <> $%d::jsonb
		), true)`, expr, jsonPath(fv.path), expr, jsonPath(fv.path), n)
		args = append(args, string(fv.value))
		n++
	}

	for _, path := range p.currentDate {
		expr = fmt.Sprintf("jsonb_set(%s, '%s', to_jsonb(now()), true)", expr, jsonPath(path))
	}

	return expr, args
}

// IsEmpty reports whether the patch has no staged operations.
func (p *Patch) IsEmpty() bool {
	return len(p.sets)+len(p.setOnInsert)+len(p.addToSet)+len(p.pulls)+len(p.unsets)+len(p.currentDate) == 0
}
