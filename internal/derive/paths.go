package derive

import (
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// rewriteServicePaths rewrites every path-bearing field in a service
// mapping node to an absolute path resolved against baseDir, per §4.2 step
// 2. It is type-aware: build.context, build.additional_contexts.*,
// env_file (scalar or list), volumes short form `src:dst[:mode]`, volumes
// long form with `type: bind` sources, extends.file, configs.*.file,
// secrets.*.file. `${VAR:-default}` expressions are rewritten in place,
// preserving the variable name and operator.
func rewriteServicePaths(service *yaml.Node, baseDir string) {
	if b := mapValue(service, "build"); b != nil {
		if b.Kind == yaml.ScalarNode {
			rewriteScalarPath(b, baseDir)
		} else if b.Kind == yaml.MappingNode {
			if ctx := mapValue(b, "context"); ctx != nil && ctx.Kind == yaml.ScalarNode {
				rewriteScalarPath(ctx, baseDir)
			}

			if ac := mapValue(b, "additional_contexts"); ac != nil {
				rewriteAdditionalContexts(ac, baseDir)
			}
		}
	}

	if ef := mapValue(service, "env_file"); ef != nil {
		rewritePathOrList(ef, baseDir)
	}

	if vols := mapValue(service, "volumes"); vols != nil && vols.Kind == yaml.SequenceNode {
		for _, v := range vols.Content {
			rewriteVolumeEntry(v, baseDir)
		}
	}

	if ext := mapValue(service, "extends"); ext != nil && ext.Kind == yaml.MappingNode {
		if f := mapValue(ext, "file"); f != nil && f.Kind == yaml.ScalarNode {
			rewriteScalarPath(f, baseDir)
		}
	}

	rewriteFileRefMap(mapValue(service, "configs"), baseDir)
	rewriteFileRefMap(mapValue(service, "secrets"), baseDir)
}

// rewriteTopLevelFileRefs rewrites the `file:` entries under top-level
// `configs:`/`secrets:` blocks, which share the same shape as a service's
// configs/secrets entries.
func rewriteTopLevelFileRefs(doc *yaml.Node, baseDir string) {
	rewriteFileRefMap(mapValue(doc, "configs"), baseDir)
	rewriteFileRefMap(mapValue(doc, "secrets"), baseDir)
}

func rewriteFileRefMap(node *yaml.Node, baseDir string) {
	if node == nil || node.Kind != yaml.MappingNode {
		return
	}

	for i := 1; i < len(node.Content); i += 2 {
		entry := node.Content[i]
		if entry.Kind != yaml.MappingNode {
			continue
		}

		if f := mapValue(entry, "file"); f != nil && f.Kind == yaml.ScalarNode {
			rewriteScalarPath(f, baseDir)
		}
	}
}

func rewriteAdditionalContexts(node *yaml.Node, baseDir string) {
	switch node.Kind {
	case yaml.SequenceNode:
		for _, item := range node.Content {
			rewriteScalarPath(item, baseDir)
		}
	case yaml.MappingNode:
		for i := 1; i < len(node.Content); i += 2 {
			rewriteScalarPath(node.Content[i], baseDir)
		}
	}
}

func rewritePathOrList(node *yaml.Node, baseDir string) {
	switch node.Kind {
	case yaml.ScalarNode:
		rewriteScalarPath(node, baseDir)
	case yaml.SequenceNode:
		for _, item := range node.Content {
			rewriteScalarPath(item, baseDir)
		}
	}
}

func rewriteVolumeEntry(node *yaml.Node, baseDir string) {
	switch node.Kind {
	case yaml.ScalarNode:
		node.Value = rewriteShortVolume(node.Value, baseDir)
	case yaml.MappingNode:
		typ := mapValue(node, "type")
		if typ == nil || typ.Value != "bind" {
			return
		}

		if src := mapValue(node, "source"); src != nil && src.Kind == yaml.ScalarNode && looksLikeBindPath(src.Value) {
			rewriteScalarPath(src, baseDir)
		}
	}
}

// rewriteShortVolume rewrites the source half of `src:dst[:mode]`, leaving
// named-volume references (no path separator) untouched.
func rewriteShortVolume(spec, baseDir string) string {
	parts := splitHostAware(spec)
	if len(parts) < 2 {
		return spec
	}

	if !looksLikeBindPath(parts[0]) {
		return spec
	}

	parts[0] = rewritePathString(parts[0], baseDir)

	return strings.Join(parts, ":")
}

// looksLikeBindPath applies the same heuristic the derivation engine uses
// to tell a bind-mount source from a named volume: presence of a path
// separator, `./`, `../`, `~`, or a leading `/`.
func looksLikeBindPath(s string) bool {
	return strings.HasPrefix(s, "/") ||
		strings.HasPrefix(s, "./") ||
		strings.HasPrefix(s, "../") ||
		strings.HasPrefix(s, "~") ||
		strings.ContainsRune(s, filepath.Separator)
}

func rewriteScalarPath(node *yaml.Node, baseDir string) {
	if node.Kind != yaml.ScalarNode {
		return
	}

	node.Value = rewritePathString(node.Value, baseDir)
}

// rewritePathString resolves a possibly-relative path (or a
// `${VAR:-path}`/`${VAR-path}` expression wrapping one) against baseDir,
// preserving the variable name and operator and leaving absolute paths
// and non-path-looking tokens unchanged.
func rewritePathString(value, baseDir string) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		inner := value[2 : len(value)-1]

		op := ":-"
		idx := strings.Index(inner, op)

		if idx < 0 {
			op = "-"
			idx = strings.IndexByte(inner, '-')
		}

		if idx < 0 {
			return value
		}

		name := inner[:idx]
		def := inner[idx+len(op):]

		if filepath.IsAbs(def) {
			return value
		}

		return "${" + name + op + resolveAgainst(def, baseDir) + "}"
	}

	if filepath.IsAbs(value) {
		return value
	}

	return resolveAgainst(value, baseDir)
}

func resolveAgainst(value, baseDir string) string {
	if value == "" {
		return value
	}

	expanded := value
	if strings.HasPrefix(value, "~") {
		expanded = value // left for the engine to expand at runtime; not a relative path
		return expanded
	}

	return filepath.Join(baseDir, value)
}

// mapValue looks up a key's value node in a mapping node, returning nil if
// absent or node is not a mapping.
func mapValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}

	return nil
}

// setMapValue inserts or replaces a key's value in a mapping node.
func setMapValue(node *yaml.Node, key string, value *yaml.Node) {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			node.Content[i+1] = value

			return
		}
	}

	keyNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
	node.Content = append(node.Content, keyNode, value)
}

// deleteMapValue removes a key from a mapping node if present.
func deleteMapValue(node *yaml.Node, key string) {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			node.Content = append(node.Content[:i], node.Content[i+2:]...)

			return
		}
	}
}

func scalarString(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
}
