package engineadapter

import "strings"

// stripServiceSuffix recovers a service name from an engine-generated
// container name by stripping the `<project>_`/`<project>-` prefix and a
// trailing `_1`/`-1` replica index, grounded on the original's
// strip_service_suffix.
func stripServiceSuffix(name, project string) string {
	name = strings.TrimPrefix(name, project+"_")
	name = strings.TrimPrefix(name, project+"-")

	for _, sep := range []byte{'_', '-'} {
		if idx := strings.LastIndexByte(name, sep); idx >= 0 {
			suffix := name[idx+1:]
			if isReplicaIndex(suffix) {
				name = name[:idx]

				break
			}
		}
	}

	return name
}

func isReplicaIndex(s string) bool {
	if s == "" {
		return false
	}

	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}
