// Package query implements the QueryCompiler (spec §4.8): parse a
// free-form filter expression into keyed terms, free-text terms, and
// range terms, enforce per-role complexity caps, and emit a parameterized
// SQL WHERE/ORDER BY fragment — the only component in this repository
// that produces SQL from user input, so every dynamic value must pass
// through a parameter slot (spec §9).
//
// New component; grounded on the teacher's ListByPrefix parameterized
// LIKE query (internal/storage/database.go) as the seed pattern, extended
// into a small recursive-descent-free tokenizer/compiler. Stdlib only for
// parsing; the caller applies the emitted fragment through GORM's raw
// Where()/Order() (teacher stack), per SPEC_FULL.md's DOMAIN STACK table.
package query

import (
	"fmt"
	"strings"
	"time"
)

// Caller carries the authorization context the compiler needs to apply
// spec §4.8's visibility rules.
type Caller struct {
	IsModerator bool
	ListAll     bool // caller requested "list all uploads" rather than "my uploads"
	WithinAlbum bool // listing is already scoped to one album (suppresses albumid keys)
	TZOffsetMin int  // client-reported timezone offset, minutes east of UTC
}

// Limits are the per-role caps from spec §4.8; a moderator Caller bypasses
// all of them.
type Limits struct {
	MaxTextQueries    int
	MaxWildcardsInKey int
	MaxSortKeys       int
	MaxIsKeys         int
}

// Compiled is the emitted, parameterized SQL fragment.
type Compiled struct {
	Where   string
	Args    []any
	OrderBy string
}

var isCategoryExtensions = map[string][]string{
	"image": {"jpg", "jpeg", "png", "gif", "webp", "bmp", "svg", "avif", "heic"},
	"video": {"mp4", "webm", "mov", "avi", "mkv", "m4v"},
	"audio": {"mp3", "wav", "flac", "ogg", "m4a", "aac"},
}

// sortableColumns whitelists ORDER BY targets so no user-controlled
// identifier is ever concatenated into SQL verbatim.
var sortableColumns = map[string]string{
	"id":       "id",
	"name":     "name",
	"size":     "size",
	"date":     "timestamp",
	"timestamp": "timestamp",
	"expiry":   "expirydate",
	"userid":   "userid",
	"ip":       "ip",
}

type term struct {
	key     string
	value   string
	exclude bool
}

// Compile parses raw and emits a WHERE/ORDER BY fragment scoped to
// caller, enforcing limits unless caller.IsModerator.
func Compile(raw string, caller Caller, limits Limits) (Compiled, error) {
	terms, free, sortTerms, err := tokenize(raw)
	if err != nil {
		return Compiled{}, err
	}

	if !caller.IsModerator {
		if err := enforceLimits(terms, free, sortTerms, limits); err != nil {
			return Compiled{}, err
		}
	}

	var where []string
	var args []any

	byKey := map[string][]term{}
	for _, t := range terms {
		byKey[t.key] = append(byKey[t.key], t)
	}

	// (userid scope) / (ip) — visibility rule: only when listing all as a
	// moderator.
	for _, key := range []string{"user", "ip"} {
		ts := byKey[key]
		if len(ts) == 0 {
			continue
		}
		if !(caller.ListAll && caller.IsModerator) {
			continue
		}
		col := "userid"
		if key == "ip" {
			col = "ip"
		}
		frag, a, ok := nullAwareEquals(col, ts)
		if ok {
			where = append(where, frag)
			args = append(args, a...)
		}
	}

	// (album scope) — suppressed within a specific album listing.
	if !caller.WithinAlbum {
		if ts, ok := byKey["albumid"]; ok {
			frag, a, ok := nullAwareEquals("albumid", ts)
			if ok {
				where = append(where, frag)
				args = append(args, a...)
			}
		}
	}

	// (date)
	if ts, ok := byKey["date"]; ok {
		for _, t := range ts {
			frag, a, err := compileDateRange("timestamp", t, caller.TZOffsetMin)
			if err != nil {
				return Compiled{}, err
			}
			where = append(where, frag)
			args = append(args, a...)
		}
	}

	// (expiry)
	if ts, ok := byKey["expiry"]; ok {
		for _, t := range ts {
			frag, a, err := compileDateRange("expirydate", t, caller.TZOffsetMin)
			if err != nil {
				return Compiled{}, err
			}
			where = append(where, frag)
			args = append(args, a...)
		}
	}

	// (type-is name-suffix)
	if ts, ok := byKey["is"]; ok {
		for _, t := range ts {
			exts, known := isCategoryExtensions[strings.ToLower(t.value)]
			if !known {
				return Compiled{}, fmt.Errorf("query: unknown is: category %q", t.value)
			}
			var sub []string
			for _, ext := range exts {
				sub = append(sub, "name LIKE ?")
				args = append(args, "%."+ext)
			}
			joiner := " OR "
			frag := "(" + strings.Join(sub, joiner) + ")"
			if t.exclude {
				frag = "NOT " + frag
			}
			where = append(where, frag)
		}
	}

	// (type)
	if ts, ok := byKey["type"]; ok {
		for _, t := range ts {
			pattern, _ := globToLike(t.value)
			op := "LIKE"
			if t.exclude {
				op = "NOT LIKE"
			}
			where = append(where, fmt.Sprintf("type %s ? ESCAPE '\\'", op))
			args = append(args, pattern)
		}
	}

	// free text: (text LIKE) AND (text NOT LIKE)
	var likeIncl, likeExcl []string
	for _, f := range free {
		pattern, _ := globToLike(f.value)
		if f.exclude {
			likeExcl = append(likeExcl, "original NOT LIKE ? ESCAPE '\\'")
			args = append(args, pattern)
		} else {
			likeIncl = append(likeIncl, "original LIKE ? ESCAPE '\\'")
			args = append(args, pattern)
		}
	}
	if len(likeIncl) > 0 {
		where = append(where, "("+strings.Join(likeIncl, " AND ")+")")
	}
	if len(likeExcl) > 0 {
		where = append(where, "("+strings.Join(likeExcl, " AND ")+")")
	}

	orderBy := compileOrderBy(sortTerms, caller)

	return Compiled{
		Where:   strings.Join(where, " AND "),
		Args:    args,
		OrderBy: orderBy,
	}, nil
}

func enforceLimits(terms []term, free []term, sortTerms []term, limits Limits) error {
	if limits.MaxTextQueries > 0 && len(free) > limits.MaxTextQueries {
		return fmt.Errorf("query: too many free-text terms (max %d)", limits.MaxTextQueries)
	}
	if limits.MaxSortKeys > 0 && len(sortTerms) > limits.MaxSortKeys {
		return fmt.Errorf("query: too many sort keys (max %d)", limits.MaxSortKeys)
	}
	isCount := 0
	for _, t := range terms {
		if t.key == "is" {
			isCount++
		}
		if limits.MaxWildcardsInKey > 0 {
			n := strings.Count(t.value, "*") + strings.Count(t.value, "?")
			if n > limits.MaxWildcardsInKey {
				return fmt.Errorf("query: too many wildcards in key %q (max %d)", t.key, limits.MaxWildcardsInKey)
			}
		}
	}
	if limits.MaxIsKeys > 0 && isCount > limits.MaxIsKeys {
		return fmt.Errorf("query: too many is: keys (max %d)", limits.MaxIsKeys)
	}
	return nil
}

// nullAwareEquals implements the null-flag convention: a "-" value is
// rewritten to IS NULL/IS NOT NULL; exclusion wins on conflict.
func nullAwareEquals(column string, ts []term) (string, []any, bool) {
	var incl, excl []string
	var args []any
	sawInclNull, sawExclNull := false, false

	for _, t := range ts {
		if t.value == "-" {
			if t.exclude {
				sawExclNull = true
			} else {
				sawInclNull = true
			}
			continue
		}
		if t.exclude {
			excl = append(excl, fmt.Sprintf("%s != ?", column))
		} else {
			incl = append(incl, fmt.Sprintf("%s = ?", column))
		}
		args = append(args, t.value)
	}

	var frags []string
	if sawExclNull {
		frags = append(frags, column+" IS NOT NULL")
	} else if sawInclNull {
		frags = append(frags, column+" IS NULL")
	}
	frags = append(frags, incl...)
	frags = append(frags, excl...)
	if len(frags) == 0 {
		return "", nil, false
	}
	return "(" + strings.Join(frags, " AND ") + ")", args, true
}

// compileDateRange parses spec §4.8's date grammar: an absolute
// "[YYYY][/MM][/DD] [HH][:MM][:SS]" timestamp, or a relative "<duration"/
// ">duration" range, converted to epoch seconds after applying the
// client's timezone offset.
func compileDateRange(column string, t term, tzOffsetMin int) (string, []any, error) {
	v := strings.TrimSpace(t.value)
	if v == "" {
		return "", nil, fmt.Errorf("query: empty date value for %s", t.key)
	}

	if v[0] == '<' || v[0] == '>' {
		dur, err := time.ParseDuration(strings.TrimSpace(v[1:]))
		if err != nil {
			return "", nil, fmt.Errorf("query: invalid duration %q: %w", v[1:], err)
		}
		cutoff := time.Now().Add(-dur).Unix()
		op := ">="
		if v[0] == '>' {
			op = "<="
		}
		if t.exclude {
			op = invertOp(op)
		}
		return fmt.Sprintf("%s %s ?", column, op), []any{cutoff}, nil
	}

	ts, err := parseAbsoluteDate(v, tzOffsetMin)
	if err != nil {
		return "", nil, err
	}
	op := "="
	if t.exclude {
		op = "!="
	}
	return fmt.Sprintf("%s %s ?", column, op), []any{ts}, nil
}

func invertOp(op string) string {
	switch op {
	case ">=":
		return "<"
	case "<=":
		return ">"
	default:
		return op
	}
}

// parseAbsoluteDate accepts the spec's partial date/time grammar, e.g.
// "2024/01/15 10:30:00", "2024/01", "10:30".
func parseAbsoluteDate(v string, tzOffsetMin int) (int64, error) {
	loc := time.FixedZone("client", tzOffsetMin*60)

	layouts := []string{
		"2006/01/02 15:04:05",
		"2006/01/02 15:04",
		"2006/01/02 15",
		"2006/01/02",
		"2006/01",
		"2006",
		"15:04:05",
		"15:04",
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t.Unix(), nil
		}
	}
	return 0, fmt.Errorf("query: unrecognized date value %q", v)
}

// globToLike translates glob wildcards */? into SQL %/_ while escaping
// any literal %/_ the user supplied, per spec §4.8/§9.
func globToLike(v string) (pattern string, escaped bool) {
	var b strings.Builder
	for _, r := range v {
		switch r {
		case '%', '_', '\\':
			escaped = true
			b.WriteByte('\\')
			b.WriteRune(r)
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String(), escaped
}

// compileOrderBy builds the ORDER BY clause from `sort`/`orderby` terms,
// defaulting to "id DESC" when none are present.
func compileOrderBy(sortTerms []term, caller Caller) string {
	if len(sortTerms) == 0 {
		return "id DESC"
	}

	var parts []string
	for _, t := range sortTerms {
		for _, field := range strings.Split(t.value, ",") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			desc := t.exclude
			if strings.HasPrefix(field, "-") {
				desc = true
				field = field[1:]
			}
			col, ok := sortableColumns[strings.ToLower(field)]
			if !ok {
				continue
			}
			if (col == "userid" || col == "ip") && !(caller.ListAll && caller.IsModerator) {
				continue
			}
			cast := col
			if col == "size" {
				cast = "CAST(size AS INTEGER)"
			}
			dir := "ASC"
			if desc {
				dir = "DESC"
			}
			parts = append(parts, fmt.Sprintf("%s %s", cast, dir))
		}
	}
	if len(parts) == 0 {
		return "id DESC"
	}
	return strings.Join(parts, ", ")
}

// tokenize splits raw into keyed terms, sort terms (key sort/orderby),
// and free-text terms. Tokens are whitespace-separated.
func tokenize(raw string) (terms []term, free []term, sortTerms []term, err error) {
	for _, tok := range strings.Fields(raw) {
		exclude := false
		if strings.HasPrefix(tok, "-") && len(tok) > 1 {
			exclude = true
			tok = tok[1:]
		}

		idx := strings.Index(tok, ":")
		if idx < 0 {
			free = append(free, term{value: tok, exclude: exclude})
			continue
		}

		key := strings.ToLower(tok[:idx])
		value := tok[idx+1:]
		t := term{key: key, value: value, exclude: exclude}

		switch key {
		case "sort", "orderby":
			sortTerms = append(sortTerms, t)
		default:
			terms = append(terms, t)
		}
	}
	return terms, free, sortTerms, nil
}

// Paginate computes LIMIT/OFFSET per spec §4.8: negative offsets address
// from the tail.
func Paginate(pageSize, totalCount int, offset int) (limit, sqlOffset int) {
	if pageSize <= 0 {
		pageSize = 50
	}
	if offset >= 0 {
		return pageSize, offset * pageSize
	}
	pages := (totalCount + pageSize - 1) / pageSize
	page := pages + offset
	if page < 0 {
		page = 0
	}
	return pageSize, page * pageSize
}
