// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package testutil

import (
	"os"
	"testing"
)

// RequireRoot skips the test unless it runs as root. Loading XDP programs
// and running them through BPF_PROG_TEST_RUN needs CAP_BPF/CAP_SYS_ADMIN.
func RequireRoot(t *testing.T) {
	t.Helper()
	if os.Getuid() != 0 {
		t.Skip("Skipping test: requires root privileges")
	}
}
