package schema

import (
	"database/sql"
	"fmt"

	"gopkg.in/yaml.v3"
)

type columnWrapper struct {
	Name      string  `yaml:"name"`
	Type      string  `yaml:"type"`
	Nullable  bool    `yaml:"nullable,omitempty"`
	Default   *string `yaml:"default,omitempty"`
	Size      int     `yaml:"size,omitempty"`
	Precision int     `yaml:"precision,omitempty"`
	Scale     int     `yaml:"scale,omitempty"`
}

// MarshalYAML implements the yaml.Marshaler interface. A missing default is
// omitted from the output.
func (c Column) MarshalYAML() (any, error) {
	w := columnWrapper{
		Name:      c.Name,
		Type:      string(c.Type),
		Nullable:  c.Nullable,
		Size:      c.Size,
		Precision: c.Precision,
		Scale:     c.Scale,
	}
	if c.Default.Valid {
		def := c.Default.V
		w.Default = &def
	}
	return w, nil
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (c *Column) UnmarshalYAML(value *yaml.Node) error {
	var w columnWrapper
	if err := value.Decode(&w); err != nil {
		return err //nolint:wrapcheck // This is fine.
	}

	if w.Name == "" {
		return fmt.Errorf("line %d: column name is required", value.Line)
	}
	typ, err := TypeFromString(w.Type)
	if err != nil {
		return fmt.Errorf("line %d: column '%s': %w", value.Line, w.Name, err)
	}

	*c = Column{
		Name:      w.Name,
		Type:      typ,
		Nullable:  w.Nullable,
		Size:      w.Size,
		Precision: w.Precision,
		Scale:     w.Scale,
	}
	if w.Default != nil {
		c.Default = sql.Null[string]{V: *w.Default, Valid: true}
	}

	return nil
}
