package cliconfig

import (
	"os"
	"strings"
)

func lookupEnv(name string) (string, bool) {
	return os.LookupEnv(name)
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
