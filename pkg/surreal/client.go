package surreal

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

type Client struct {
	db *surrealdb.DB
}

// identifierRegex ensures that table names and fields only contain alphanumeric characters and underscores
var identifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

func validateIdentifier(s string) error {
	if !identifierRegex.MatchString(s) {
		return fmt.Errorf("invalid identifier: %s", s)
	}
	return nil
}

func NewClient(ctx context.Context, host, user, pass, namespace, database string) (*Client, error) {
	db, err := surrealdb.New(host)
	if err != nil {
		return nil, fmt.Errorf("failed to create surrealdb client: %w", err)
	}

	if _, err = db.SignIn(ctx, map[string]interface{}{
		"user": user,
		"pass": pass,
	}); err != nil {
		return nil, fmt.Errorf("failed to signin to surrealdb: %w", err)
	}

	if err = db.Use(ctx, namespace, database); err != nil {
		return nil, fmt.Errorf("failed to use surrealdb namespace/database: %w", err)
	}

	return &Client{db: db}, nil
}

// Endpoint turns a bare host into the websocket RPC address the driver expects.
func Endpoint(host string) string {
	if strings.HasPrefix(host, "ws://") || strings.HasPrefix(host, "wss://") {
		return host
	}
	return "wss://" + host + "/rpc"
}

func (c *Client) Close() {
	c.db.Close(context.Background())
}

// Query runs sql and returns the result of the last statement.
func (c *Client) Query(ctx context.Context, sql string, vars map[string]interface{}) (interface{}, error) {
	if vars == nil {
		vars = map[string]interface{}{}
	}
	result, err := surrealdb.Query[interface{}](ctx, c.db, sql, vars)
	if err != nil {
		return nil, err
	}

	// Unwrap the result: *RawQueryResponse -> Result field
	rv := reflect.ValueOf(result)
	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}

	if rv.Kind() == reflect.Struct {
		resField := rv.FieldByName("Result")
		if resField.IsValid() {
			return resField.Interface(), nil
		}
	} else if rv.Kind() == reflect.Slice {
		if rv.Len() > 0 {
			lastElem := rv.Index(rv.Len() - 1)
			if lastElem.Kind() == reflect.Struct {
				if status := lastElem.FieldByName("Status"); status.IsValid() && status.Kind() == reflect.String && status.String() == "ERR" {
					return nil, fmt.Errorf("surrealdb query failed: %v", lastElem.FieldByName("Result").Interface())
				}
				resField := lastElem.FieldByName("Result")
				if resField.IsValid() {
					return resField.Interface(), nil
				}
			}
		}
	}

	return result, nil
}

// Rows flattens a Query result into its row maps. The driver hands back
// either the rows directly or a one-element slice of {result: rows}.
func Rows(result interface{}) []map[string]interface{} {
	items, ok := result.([]interface{})
	if !ok {
		return nil
	}
	if len(items) == 1 {
		if wrapped, ok := items[0].(map[string]interface{}); ok {
			if inner, ok := wrapped["result"].([]interface{}); ok {
				items = inner
			}
		}
	}

	rows := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		if row, ok := item.(map[string]interface{}); ok {
			rows = append(rows, row)
		}
	}
	return rows
}

// BuildWhereClause renders an equality match on every filter key, each
// read from field prefix.key and bound to $prefix_key. Keys are sorted so
// the same filter always produces the same statement.
func BuildWhereClause(prefix string, filter map[string]string) (string, map[string]interface{}, error) {
	vars := map[string]interface{}{}
	if len(filter) == 0 {
		return "true", vars, nil
	}
	if prefix != "" {
		if err := validateIdentifier(prefix); err != nil {
			return "", nil, err
		}
	}

	keys := make([]string, 0, len(filter))
	for k := range filter {
		if err := validateIdentifier(k); err != nil {
			return "", nil, err
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	for _, k := range keys {
		field, param := k, "f_"+k
		if prefix != "" {
			field = prefix + "." + k
			param = "f_" + prefix + "_" + k
		}
		clauses = append(clauses, fmt.Sprintf("%s = $%s", field, param))
		vars[param] = filter[k]
	}
	return strings.Join(clauses, " AND "), vars, nil
}
