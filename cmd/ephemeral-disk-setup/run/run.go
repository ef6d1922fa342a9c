/*
   Copyright @ 2024 The ephemeral-disk-setup authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package run

import (
	"fmt"

	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/configuration"
	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/setup"
	"github.com/azure-vm-tools/ephemeral-disk-setup/utils/log"
)

func subMain() error {
	cfg, err := configuration.Load(config.configPath)
	if err != nil {
		return err
	}
	log.Infof("starting with aggregation=%s fs_type=%s mount_point=%s manage_scsi_resource_disk=%t",
		cfg.Aggregation, cfg.FsType, cfg.MountPoint, cfg.ManageScsiResourceDisk)

	outcome, err := setup.NewPipeline(cfg).Run()
	if err != nil {
		return err
	}

	fmt.Println(outcome.Summary)
	return nil
}
