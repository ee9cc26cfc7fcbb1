package deploy

import (
	"bytes"
	"io"

	"gopkg.in/yaml.v2"
)

// validateYAML decodes every document in a (possibly multi-doc) YAML
// stream, discarding the values. We never re-serialize through the
// YAML library; it is only here to refuse edits to, or of, garbage.
func validateYAML(content []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(content))
	for {
		var doc interface{}
		err := dec.Decode(&doc)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
