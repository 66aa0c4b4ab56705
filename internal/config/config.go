// Package config holds mdcollab's runtime settings: the handful of
// values spec.md's command line and role file define. This is a small,
// direct struct rather than the teacher's pluggable, raft-backed
// config.Store, since this server has no multi-node configuration to
// agree on — everything here is resolved once at process startup from
// flags and a role file.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"mdcollab/internal/session"
)

// Runtime is the fully resolved set of settings a server process runs
// with.
type Runtime struct {
	TickInterval time.Duration
	SocketPath   string
	RolesPath    string
	SnapshotPath string
}

// DefaultTickInterval is used when the command-line interval is
// non-positive, per spec.md §6.
const DefaultTickInterval = 100 * time.Millisecond

// Roles is the parsed roles.txt mapping: username -> role.
type Roles map[string]session.Role

// Lookup resolves username to its role. A miss returns (_, false), the
// signal for handshake rejection (spec.md §4.D).
func (r Roles) Lookup(username string) (session.Role, bool) {
	role, ok := r[username]
	return role, ok
}

// LoadRoles parses a roles file: one "<username> <role>" entry per
// line, role in {read, write}. Blank lines and lines starting with "#"
// are skipped.
func LoadRoles(path string) (Roles, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open roles file %s: %w", path, err)
	}
	defer f.Close()

	roles := make(Roles)
	sc := bufio.NewScanner(f)
	lineNum := 0
	for sc.Scan() {
		lineNum++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("roles file %s:%d: expected \"<username> <role>\", got %q", path, lineNum, line)
		}
		username, roleStr := fields[0], fields[1]
		role := session.Role(roleStr)
		if role != session.RoleRead && role != session.RoleWrite {
			return nil, fmt.Errorf("roles file %s:%d: unknown role %q for user %q", path, lineNum, roleStr, username)
		}
		roles[username] = role
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read roles file %s: %w", path, err)
	}
	return roles, nil
}

// ResolveTickInterval applies spec.md §6's "non-positive -> default"
// rule to a command-line millisecond value.
func ResolveTickInterval(ms int) time.Duration {
	if ms <= 0 {
		return DefaultTickInterval
	}
	return time.Duration(ms) * time.Millisecond
}
