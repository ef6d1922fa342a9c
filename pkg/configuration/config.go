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

package configuration

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/azure-vm-tools/ephemeral-disk-setup/utils"
	"github.com/azure-vm-tools/ephemeral-disk-setup/utils/log"
)

const DefaultConfigPath = "/etc/azure-ephemeral-disk-setup/config"

// Aggregation modes
const (
	AggregationAuto  = "auto"
	AggregationMdadm = "mdadm"
	AggregationNone  = "none"
)

// Filesystem kinds
const (
	FsExt4 = "ext4"
	FsXfs  = "xfs"
)

// Config is loaded once at start; invalid values abort before any disk is
// touched.
type Config struct {
	Aggregation              string `mapstructure:"aggregation"`
	FsType                   string `mapstructure:"fs_type"`
	ChunkSize                string `mapstructure:"chunk_size"`
	RaidName                 string `mapstructure:"raid_name"`
	MountPoint               string `mapstructure:"mount_point"`
	ManageScsiResourceDisk   bool   `mapstructure:"manage_scsi_resource_disk"`
	UdevSettleTimeoutSeconds int    `mapstructure:"udev_settle_timeout_seconds"`
	MountWaitTimeoutSeconds  int    `mapstructure:"mount_wait_timeout_seconds"`
}

var knownKeys = []string{
	"aggregation",
	"fs_type",
	"chunk_size",
	"raid_name",
	"mount_point",
	"manage_scsi_resource_disk",
	"udev_settle_timeout_seconds",
	"mount_wait_timeout_seconds",
}

var (
	chunkSizeRegexp  = regexp.MustCompile(`^[1-9][0-9]*[KMGT]$`)
	raidNameRegexp   = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	mountPointRegexp = regexp.MustCompile(`^/[A-Za-z0-9_/-]*$`)
)

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	// KEY=VALUE lines, whitespace- and quote-tolerant
	v.SetConfigType("env")

	v.SetDefault("aggregation", AggregationAuto)
	v.SetDefault("fs_type", FsExt4)
	v.SetDefault("chunk_size", "512K")
	v.SetDefault("raid_name", "ephemeral")
	v.SetDefault("mount_point", "/mnt")
	v.SetDefault("manage_scsi_resource_disk", false)
	v.SetDefault("udev_settle_timeout_seconds", 30)
	v.SetDefault("mount_wait_timeout_seconds", 60)
	return v
}

// Load reads the configuration file at path. A missing file yields the
// defaults; a present but invalid file is fatal.
func Load(path string) (*Config, error) {
	v := newViper(path)

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			log.Infof("No configuration file at %s, using defaults", path)
		} else {
			return nil, fmt.Errorf("failed to read configuration %s: %v", path, err)
		}
	}

	for _, key := range v.AllKeys() {
		if !utils.ContainsString(knownKeys, key) {
			log.Warnf("unknown configuration key %q ignored", strings.ToUpper(key))
		}
	}

	var cfg Config
	opt := func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}
	if err := v.Unmarshal(&cfg, opt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %v", err)
	}

	cfg.Aggregation = strings.ToLower(strings.TrimSpace(cfg.Aggregation))
	cfg.FsType = strings.ToLower(strings.TrimSpace(cfg.FsType))
	cfg.ChunkSize = strings.TrimSpace(cfg.ChunkSize)
	cfg.RaidName = strings.TrimSpace(cfg.RaidName)
	cfg.MountPoint = strings.TrimSpace(cfg.MountPoint)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if !utils.ContainsString([]string{AggregationAuto, AggregationMdadm, AggregationNone}, c.Aggregation) {
		return fmt.Errorf("AGGREGATION must be one of auto, mdadm, none: %q", c.Aggregation)
	}
	if !utils.ContainsString([]string{FsExt4, FsXfs}, c.FsType) {
		return fmt.Errorf("FS_TYPE must be either ext4 or xfs: %q", c.FsType)
	}
	if !chunkSizeRegexp.MatchString(c.ChunkSize) {
		return fmt.Errorf("CHUNK_SIZE must match %s: %q", chunkSizeRegexp.String(), c.ChunkSize)
	}
	if !raidNameRegexp.MatchString(c.RaidName) {
		return fmt.Errorf("RAID_NAME must match %s: %q", raidNameRegexp.String(), c.RaidName)
	}
	if !mountPointRegexp.MatchString(c.MountPoint) {
		return fmt.Errorf("MOUNT_POINT must be an absolute path matching %s: %q", mountPointRegexp.String(), c.MountPoint)
	}
	if c.UdevSettleTimeoutSeconds <= 0 {
		return fmt.Errorf("UDEV_SETTLE_TIMEOUT_SECONDS must be a positive integer: %d", c.UdevSettleTimeoutSeconds)
	}
	if c.MountWaitTimeoutSeconds <= 0 {
		return fmt.Errorf("MOUNT_WAIT_TIMEOUT_SECONDS must be a positive integer: %d", c.MountWaitTimeoutSeconds)
	}
	return nil
}
