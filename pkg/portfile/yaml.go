package portfile

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// UnmarshalYAML accepts "name", "name>=1.0" or a mapping.
func (d *dependency) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		d.Name = n.Value
		return nil
	case yaml.MappingNode:
		type plain dependency
		return n.Decode((*plain)(d))
	}
	return fmt.Errorf("line %d: dependency must be a string or a mapping", n.Line)
}

// UnmarshalYAML accepts a single URL, a list of URLs, a single
// mapping or a list mixing both.
func (s *sourceList) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		*s = sourceList{{URL: stringList{n.Value}}}
		return nil
	case yaml.MappingNode:
		var one source
		if err := n.Decode(&one); err != nil {
			return err
		}
		*s = sourceList{one}
		return nil
	case yaml.SequenceNode:
		out := make(sourceList, 0, len(n.Content))
		for _, c := range n.Content {
			var one source
			switch c.Kind {
			case yaml.ScalarNode:
				one.URL = stringList{c.Value}
			case yaml.MappingNode:
				if err := c.Decode(&one); err != nil {
					return err
				}
			default:
				return fmt.Errorf("line %d: source entry must be a string or a mapping", c.Line)
			}
			out = append(out, one)
		}
		*s = out
		return nil
	}
	return fmt.Errorf("line %d: unsupported source block", n.Line)
}

// UnmarshalYAML lets single commands be written without a list.
func (l *stringList) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		*l = stringList{n.Value}
		return nil
	case yaml.SequenceNode:
		var out []string
		if err := n.Decode(&out); err != nil {
			return err
		}
		*l = out
		return nil
	}
	return fmt.Errorf("line %d: expected a string or a list of strings", n.Line)
}
