package config

import (
	"fmt"
	"maps"
	"net/url"
	"slices"
	"sort"
	"strings"
	"text/template"
)

// AllEntities returns the declared entities followed by the entities
// generated from every group, in declaration order.
func (c *Config) AllEntities() ([]EntityConfig, error) {
	out := make([]EntityConfig, 0, len(c.Entities))
	out = append(out, c.Entities...)

	for i := range c.Groups {
		expanded, err := c.Groups[i].Expand()
		if err != nil {
			return nil, fmt.Errorf("groups[%d] (%s): %w", i, c.Groups[i].Name, err)
		}
		out = append(out, expanded...)
	}
	return out, nil
}

// Expand generates one entity per combination of dimension values.
//
// Dimension values are substituted into the ID template and into feed URLs,
// headers, bodies, commands, SSH hosts and users, and registration settings.
// Values rendered into URLs are query-escaped. Referencing an unknown
// dimension is an error.
func (g GroupConfig) Expand() ([]EntityConfig, error) {
	combos := cartesianProduct(g.Dimensions)
	out := make([]EntityConfig, 0, len(combos))

	for _, combo := range combos {
		id, err := g.entityID(combo)
		if err != nil {
			return nil, fmt.Errorf("id_template: %w", err)
		}

		feeds := make([]FeedConfig, len(g.Feeds))
		for j, f := range g.Feeds {
			rendered, err := renderFeed(f, combo)
			if err != nil {
				return nil, fmt.Errorf("entity %s: feeds[%d] (%s): %w", id, j, f.Name, err)
			}
			feeds[j] = rendered
		}

		out = append(out, EntityConfig{ID: id, Feeds: feeds})
	}
	return out, nil
}

func (g GroupConfig) entityID(combo map[string]string) (string, error) {
	if g.IDTemplate == "" {
		return formatEntityID(g.Name, combo), nil
	}
	return render(g.IDTemplate, combo)
}

// renderFeed returns a deep copy of f with templates rendered for combo.
func renderFeed(f FeedConfig, combo map[string]string) (FeedConfig, error) {
	encoded := urlEncodeMap(combo)
	var err error

	if f.URL, err = render(f.URL, encoded); err != nil {
		return f, fmt.Errorf("url: %w", err)
	}
	if f.Body, err = render(f.Body, combo); err != nil {
		return f, fmt.Errorf("body: %w", err)
	}
	if f.Command, err = render(f.Command, combo); err != nil {
		return f, fmt.Errorf("command: %w", err)
	}

	if f.Headers != nil {
		headers := make(map[string]string, len(f.Headers))
		for k, v := range f.Headers {
			if headers[k], err = render(v, combo); err != nil {
				return f, fmt.Errorf("headers[%s]: %w", k, err)
			}
		}
		f.Headers = headers
	}

	if f.Register != nil {
		reg := *f.Register
		if reg.URL, err = render(reg.URL, encoded); err != nil {
			return f, fmt.Errorf("register.url: %w", err)
		}
		if reg.Body, err = render(reg.Body, combo); err != nil {
			return f, fmt.Errorf("register.body: %w", err)
		}
		f.Register = &reg
	}

	if f.SSH != nil {
		conn := *f.SSH
		if conn.Host, err = render(conn.Host, combo); err != nil {
			return f, fmt.Errorf("ssh.host: %w", err)
		}
		if conn.User, err = render(conn.User, combo); err != nil {
			return f, fmt.Errorf("ssh.user: %w", err)
		}
		f.SSH = &conn
	}

	attrs := slices.Clone(f.Attributes)
	for k := range attrs {
		if attrs[k].Command, err = render(attrs[k].Command, combo); err != nil {
			return f, fmt.Errorf("attributes[%d] (%s): command: %w", k, attrs[k].Name, err)
		}
	}
	f.Attributes = attrs

	return f, nil
}

// render executes tmpl against data. Strings without actions are returned
// unchanged.
func render(tmpl string, data map[string]string) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	t, err := template.New("").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", err
	}

	var buf strings.Builder
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// cartesianProduct generates all combinations of dimension values.
// Keys are sorted for deterministic output order.
// Values maintain their original slice order.
//
// Example:
//
//	Input:  {"x": ["a","b"], "y": ["1","2"]}
//	Output: [{"x":"a","y":"1"}, {"x":"a","y":"2"}, {"x":"b","y":"1"}, {"x":"b","y":"2"}]
func cartesianProduct(dims map[string][]string) []map[string]string {
	if len(dims) == 0 {
		return nil
	}

	keys := slices.Sorted(maps.Keys(dims))
	for _, k := range keys {
		if len(dims[k]) == 0 {
			return nil
		}
	}

	total := 1
	for _, k := range keys {
		total *= len(dims[k])
	}
	result := make([]map[string]string, 0, total)

	indices := make([]int, len(keys))
	for {
		combo := make(map[string]string, len(keys))
		for i, k := range keys {
			combo[k] = dims[k][indices[i]]
		}
		result = append(result, combo)

		// increment indices (rightmost first)
		for i := len(keys) - 1; i >= 0; i-- {
			indices[i]++
			if indices[i] < len(dims[keys[i]]) {
				break
			}
			indices[i] = 0
			if i == 0 {
				return result
			}
		}
	}
}

// urlEncodeMap returns a new map with all values URL-encoded.
func urlEncodeMap(m map[string]string) map[string]string {
	result := make(map[string]string, len(m))
	for k, v := range m {
		result[k] = url.QueryEscape(v)
	}
	return result
}

// formatEntityID creates an id in the format "base-v1-v2".
// Values are ordered by sorted keys for consistent naming.
func formatEntityID(base string, combo map[string]string) string {
	keys := make([]string, 0, len(combo))
	for k := range combo {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys)+1)
	parts = append(parts, base)
	for _, k := range keys {
		parts = append(parts, combo[k])
	}
	return strings.Join(parts, "-")
}
