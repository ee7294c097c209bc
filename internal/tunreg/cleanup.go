package tunreg

import (
	"strings"
)

// staleInterfaceNames extracts interface names carrying Prefix from the
// output of `ip -o link show`. Pulled out as a pure function so the
// parsing logic can be tested without a Linux host.
func staleInterfaceNames(ipLinkShowOutput []byte) []string {
	var names []string
	for _, line := range strings.Split(string(ipLinkShowOutput), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		// format: "<idx>: <name>: <flags> ..." or "<idx>: <name>@<peer>: ..."
		name := strings.TrimSuffix(fields[1], ":")
		if idx := strings.IndexByte(name, '@'); idx >= 0 {
			name = name[:idx]
		}
		if strings.HasPrefix(name, Prefix) {
			names = append(names, name)
		}
	}
	return names
}
