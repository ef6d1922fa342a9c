package setup

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/azure-vm-tools/ephemeral-disk-setup/utils/log"
)

const defaultWaagentConfPath = "/etc/waagent.conf"

// The provisioning agent's setting that claims ownership of resource disk
// formatting. Whitespace around the = is tolerated.
var waagentFormatRegexp = regexp.MustCompile(`^\s*ResourceDisk\.Format\s*=\s*y\s*$`)

// ConflictGuard rejects configurations that would race with the provisioning
// agent over the resource disk. The check is about intent, not current disk
// state, so it runs before any discovery.
type ConflictGuard struct {
	WaagentConfPath string
}

func NewConflictGuard() *ConflictGuard {
	return &ConflictGuard{WaagentConfPath: defaultWaagentConfPath}
}

// Check fails when this tool is configured to manage the resource disk while
// the provisioning agent is configured to format it as well.
func (g *ConflictGuard) Check(manageResourceDisk bool) error {
	if !manageResourceDisk {
		return nil
	}

	data, err := os.ReadFile(g.WaagentConfPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debugf("no provisioning agent configuration at %s", g.WaagentConfPath)
			return nil
		}
		return fmt.Errorf("failed to read %s: %v", g.WaagentConfPath, err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		if waagentFormatRegexp.MatchString(line) {
			return conflictErrorf("MANAGE_SCSI_RESOURCE_DISK conflicts with %s: %q", g.WaagentConfPath, strings.TrimSpace(line))
		}
	}
	return nil
}
