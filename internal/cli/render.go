package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"chaos-orm/internal/config"
	"chaos-orm/internal/dialect"
	"chaos-orm/internal/store"
)

func newRenderCommand() *cobra.Command {
	var driver string
	var params bool

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render condition trees, statements or the schema as SQL",
	}
	cmd.PersistentFlags().StringVarP(&driver, "dialect", "d", "", "postgres, sqlite or mysql (default: database.driver)")
	cmd.PersistentFlags().BoolVar(&params, "params", false, "render statements with placeholders and print the bound values")

	cmd.AddCommand(&cobra.Command{
		Use:   "conditions [file]",
		Short: "Render a YAML or JSON condition tree",
		Example: `  echo '{name: Amiga, score: {">": 3}}' | chaos render conditions -d mysql`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, tree, err := readTree(cmd, args, driver)
			if err != nil {
				return err
			}
			s, err := d.Conditions(tree)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), s)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "statement [file]",
		Short: "Render a statement described in YAML",
		Example: `  chaos render statement query.yaml
  # query.yaml
  select:
    from: image
    fields: [id, name]
    where: {gallery_id: {":in": [1, 2]}}
    order: id DESC
    limit: 10`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, tree, err := readTree(cmd, args, driver)
			if err != nil {
				return err
			}
			st, err := buildStatement(d, tree)
			if err != nil {
				return err
			}
			if params {
				return printQuery(cmd.OutOrStdout(), st)
			}
			s, err := st.SQL()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), s)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Render the CREATE TABLE statements of the schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return renderSchema(cmd, configFrom(cmd), driver)
		},
	})
	return cmd
}

func dialectFor(cmd *cobra.Command, driver string) (*dialect.Dialect, error) {
	if driver == "" {
		driver = configFrom(cmd).Database.Driver
	}
	if driver == "" {
		driver = dialect.Postgres
	}
	return dialect.New(driver)
}

// readTree parses the tree in the named file, or stdin without one.
func readTree(cmd *cobra.Command, args []string, driver string) (*dialect.Dialect, any, error) {
	d, err := dialectFor(cmd, driver)
	if err != nil {
		return nil, nil, err
	}
	var data []byte
	if len(args) == 1 && args[0] != "-" {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return nil, nil, err
	}
	tree, err := dialect.ParseTree(data)
	if err != nil {
		return nil, nil, err
	}
	return d, tree, nil
}

func printQuery(w io.Writer, st dialect.Statement) error {
	sql, args, err := st.Query()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, sql)
	for i, a := range args {
		fmt.Fprintf(w, "  %d: %#v\n", i+1, a)
	}
	return nil
}

func renderSchema(cmd *cobra.Command, cfg *config.Config, driver string) error {
	d, err := dialectFor(cmd, driver)
	if err != nil {
		return err
	}
	reg, err := loadRegistry(cfg)
	if err != nil {
		return err
	}
	for _, entity := range reg.AllEntities() {
		s, err := store.CreateStatement(d, entity).SQL()
		if err != nil {
			return fmt.Errorf("%s: %w", entity.Name, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s;\n", s)
	}
	return nil
}

// buildStatement turns a one-key document {select|insert|update|delete: ...}
// into a statement.
func buildStatement(d *dialect.Dialect, tree any) (dialect.Statement, error) {
	doc, ok := tree.(dialect.Map)
	if !ok || len(doc) != 1 {
		return nil, fmt.Errorf("statement document must have exactly one of select, insert, update, delete")
	}
	kind := strings.ToLower(doc[0].Key)
	body, _ := doc[0].Value.(dialect.Map)
	get := func(key string) any {
		v, _ := body.Get(key)
		return v
	}

	switch kind {
	case "select":
		s := d.Select().
			From(list(get("from"))...).
			Fields(list(get("fields"))...).
			Where(get("where")).
			Group(list(get("group"))...).
			Having(get("having")).
			Order(list(get("order"))...)
		if distinct, _ := get("distinct").(bool); distinct {
			s.Distinct(true)
		}
		for _, j := range list(get("join")) {
			jm, _ := j.(dialect.Map)
			table, _ := jm.Get("table")
			on, _ := jm.Get("on")
			joinKind, _ := jm.Get("kind")
			if k, ok := joinKind.(string); ok {
				s.Join(table, on, k)
			} else {
				s.Join(table, on)
			}
		}
		limitOf(get, s.Limit)
		return s, nil
	case "insert":
		ins := d.Insert().Into(str(get("into")))
		for _, row := range list(get("values")) {
			ins.Values(row)
		}
		return ins.Returning(list(get("returning"))...), nil
	case "update":
		u := d.Update().Table(list(get("table"))...).Values(get("set")).Where(get("where")).Order(list(get("order"))...)
		limitOf(get, u.Limit)
		return u, nil
	case "delete":
		del := d.Delete().From(list(get("from"))...).Where(get("where")).Order(list(get("order"))...)
		limitOf(get, del.Limit)
		return del, nil
	}
	return nil, fmt.Errorf("unknown statement kind %q", doc[0].Key)
}

func limitOf[T any](get func(string) any, limit func(int, ...int) T) {
	n, ok := get("limit").(int)
	if !ok {
		return
	}
	if offset, ok := get("offset").(int); ok {
		limit(n, offset)
		return
	}
	limit(n)
}

// list wraps a scalar in a slice; nil stays empty.
func list(v any) []any {
	switch x := v.(type) {
	case nil:
		return nil
	case []any:
		return x
	}
	return []any{v}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
