package engine

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"chaos-orm/internal/dialect"
	"chaos-orm/internal/metadata"
)

// QueryPlan is a parsed list request.
type QueryPlan struct {
	Entity     *metadata.Entity
	Conditions dialect.Map
	Order      dialect.Map
	Page       int
	PerPage    int
	Includes   []string
}

// filterOperators maps the filter[field.op] suffixes onto condition
// operators. eq is rendered as a plain field match.
var filterOperators = map[string]string{
	"eq":       "",
	"neq":      "<>",
	"gt":       ">",
	"gte":      ">=",
	"lt":       "<",
	"lte":      "<=",
	"in":       ":in",
	"not_in":   ":not in",
	"like":     ":like",
	"not_like": ":not like",
	"null":     "",
}

// ParseQueryParams parses Fiber query parameters into a QueryPlan.
func ParseQueryParams(c *fiber.Ctx, entity *metadata.Entity, reg *metadata.Registry) (*QueryPlan, error) {
	plan := &QueryPlan{
		Entity:  entity,
		Page:    1,
		PerPage: 25,
	}

	// Parse filters: filter[field]=val or filter[field.op]=val
	queries := c.Queries()
	keys := make([]string, 0, len(queries))
	for key := range queries {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		if !strings.HasPrefix(key, "filter[") || !strings.HasSuffix(key, "]") {
			continue
		}
		field, op := parseFilterKey(key[7 : len(key)-1])
		pair, err := buildFilter(entity, field, op, queries[key])
		if err != nil {
			return nil, err
		}
		plan.Conditions = append(plan.Conditions, pair)
	}

	// Parse sort: sort=-created_at,name
	if sortParam := c.Query("sort"); sortParam != "" {
		for _, part := range strings.Split(sortParam, ",") {
			part = strings.TrimSpace(part)
			dir := "ASC"
			field := part
			if strings.HasPrefix(part, "-") {
				dir = "DESC"
				field = part[1:]
			}
			if !entity.HasField(field) && field != entity.PrimaryKey.Field {
				return nil, unknownField("sort field", field)
			}
			plan.Order = append(plan.Order, dialect.Pair{Key: field, Value: dir})
		}
	}

	// Parse pagination
	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			plan.Page = v
		}
	}
	if pp := c.Query("per_page"); pp != "" {
		if v, err := strconv.Atoi(pp); err == nil && v > 0 {
			plan.PerPage = min(v, 100)
		}
	}

	includes, err := parseIncludes(c, entity, reg)
	if err != nil {
		return nil, err
	}
	plan.Includes = includes
	return plan, nil
}

// Query returns the source query of the plan.
func (p *QueryPlan) Query() Query {
	q := Query{
		Limit:  p.PerPage,
		Offset: (p.Page - 1) * p.PerPage,
	}
	if len(p.Conditions) > 0 {
		q.Conditions = p.Conditions
	}
	if len(p.Order) > 0 {
		q.Order = p.Order
	}
	return q
}

func buildFilter(entity *metadata.Entity, field, op, val string) (dialect.Pair, error) {
	f := entity.GetField(field)
	if f == nil {
		if field != entity.PrimaryKey.Field {
			return dialect.Pair{}, unknownField("filter field", field)
		}
		f = &metadata.Field{Name: field, Type: entity.PrimaryKey.Type}
	}
	operator, ok := filterOperators[op]
	if !ok {
		return dialect.Pair{}, NewAppError("INVALID_PAYLOAD", 400, fmt.Sprintf("Unknown filter operator: %s", op))
	}
	if op == "null" {
		null, err := strconv.ParseBool(val)
		if err != nil {
			return dialect.Pair{}, invalidFilter(field, err)
		}
		if null {
			return dialect.Pair{Key: field, Value: nil}, nil
		}
		return dialect.Pair{Key: field, Value: dialect.M("<>", nil)}, nil
	}

	coerced, err := coerceValue(f, val, op)
	if err != nil {
		return dialect.Pair{}, invalidFilter(field, err)
	}
	if operator == "" {
		return dialect.Pair{Key: field, Value: coerced}, nil
	}
	return dialect.Pair{Key: field, Value: dialect.M(operator, coerced)}, nil
}

// parseIncludes validates include=images,images.tags against the relations
// reachable from entity.
func parseIncludes(c *fiber.Ctx, entity *metadata.Entity, reg *metadata.Registry) ([]string, error) {
	inc := c.Query("include")
	if inc == "" {
		return nil, nil
	}
	var includes []string
	for _, path := range strings.Split(inc, ",") {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		from := entity.Name
		for _, name := range strings.Split(path, ".") {
			rel, err := reg.Relation(from, name)
			if err != nil {
				return nil, NewAppError("UNKNOWN_FIELD", 400, fmt.Sprintf("Unknown include: %s", path))
			}
			from = rel.To()
		}
		includes = append(includes, path)
	}
	return includes, nil
}

func unknownField(what, field string) *AppError {
	return &AppError{
		Code:    "UNKNOWN_FIELD",
		Status:  400,
		Message: fmt.Sprintf("Unknown %s: %s", what, field),
	}
}

func invalidFilter(field string, err error) *AppError {
	return &AppError{
		Code:    "INVALID_PAYLOAD",
		Status:  400,
		Message: fmt.Sprintf("Invalid filter value for %s: %v", field, err),
	}
}

// parseFilterKey splits "score.gte" into ("score", "gte") or "name" into ("name", "eq").
func parseFilterKey(key string) (string, string) {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return key, "eq"
}

// coerceValue converts string query param values to appropriate Go types based on field metadata.
func coerceValue(field *metadata.Field, val string, op string) (any, error) {
	// Handle "in" and "not_in" as comma-separated arrays
	if op == "in" || op == "not_in" {
		parts := strings.Split(val, ",")
		coerced := make([]any, len(parts))
		for i, p := range parts {
			v, err := coerceSingleValue(field, strings.TrimSpace(p))
			if err != nil {
				return nil, err
			}
			coerced[i] = v
		}
		return coerced, nil
	}

	return coerceSingleValue(field, val)
}

func coerceSingleValue(field *metadata.Field, val string) (any, error) {
	switch field.Type {
	case "", "serial", "int", "integer":
		return strconv.Atoi(val)
	case "bigint":
		return strconv.ParseInt(val, 10, 64)
	case "float", "decimal":
		return strconv.ParseFloat(val, 64)
	case "boolean":
		return strconv.ParseBool(val)
	default:
		return val, nil
	}
}
