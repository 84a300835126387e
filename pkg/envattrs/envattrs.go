// Package envattrs turns LABRAT_TEST_* variables into run attributes.
package envattrs

import (
	"strings"
)

// Prefix marks variables that become run attributes.
const Prefix = "LABRAT_TEST_"

// Collect returns the attributes encoded in environ, a list of KEY=VALUE
// entries as returned by os.Environ. LABRAT_TEST_BUILD_ID=42 yields
// build_id=42. Entries with an empty suffix are ignored; later entries win.
func Collect(environ []string) map[string]string {
	attrs := make(map[string]string, 4)

	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, Prefix) {
			continue
		}

		name := strings.ToLower(strings.TrimPrefix(key, Prefix))
		if name == "" {
			continue
		}

		attrs[name] = value
	}

	return attrs
}
