package agent

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ParseOSRelease parses the KEY=VALUE lines of /etc/os-release (or
// /usr/lib/os-release) into a map, stripping surrounding quotes the
// way the shell would when sourcing the file.
func ParseOSRelease(content string) map[string]string {
	fields := map[string]string{}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			continue
		}
		key := line[:idx]
		value := strings.Trim(line[idx+1:], `"'`)
		fields[key] = value
	}
	return fields
}

// classifyFamily maps os-release's ID/ID_LIKE fields to the driver
// family names spec §4.3 selects on.
func classifyFamily(fields map[string]string) (string, error) {
	id := strings.ToLower(fields["ID"])
	idLike := strings.ToLower(fields["ID_LIKE"])

	switch {
	case id == "fedora" || id == "qubes" || strings.Contains(idLike, "fedora"):
		return "RedHat", nil
	case id == "debian" || id == "ubuntu" || strings.Contains(idLike, "debian"):
		return "Debian", nil
	case id == "arch" || id == "archlinux" || strings.Contains(idLike, "arch"):
		return "ArchLinux", nil
	case id == "alpine" || strings.Contains(idLike, "alpine"):
		return "Alpine", nil
	case id == "nixos":
		return "NixOS", nil
	default:
		return "", errors.Errorf("unrecognized os-release ID %q (ID_LIKE %q)", fields["ID"], fields["ID_LIKE"])
	}
}

// fedoraVersion extracts the numeric VERSION_ID from os-release,
// returning 0 when absent or unparsable (treated as "below 41", the
// conservative choice for spec §4.3's dnf5 gate).
func fedoraVersion(fields map[string]string) int {
	n, err := strconv.Atoi(strings.TrimSpace(fields["VERSION_ID"]))
	if err != nil {
		return 0
	}
	return n
}
