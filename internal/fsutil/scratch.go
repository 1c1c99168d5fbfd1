package fsutil

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ScratchDisk manages a temporary memory-based staging area for batch
// runs. Input volumes are copied in once so repeated decoding hits RAM
// instead of slow network or spinning storage.
type ScratchDisk struct {
	MountPoint string
	Size       int64 // Size in MB
	mounted    bool
	logger     *slog.Logger
}

// GetSystemMemory returns available memory in MB
func GetSystemMemory() (int64, error) {
	// Try to read /proc/meminfo for more accurate available memory
	content, err := os.ReadFile("/proc/meminfo")
	if err == nil {
		lines := strings.Split(string(content), "\n")
		for _, line := range lines {
			if strings.HasPrefix(line, "MemAvailable:") {
				fields := strings.Fields(line)
				if len(fields) >= 2 {
					if kb, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
						return kb / 1024, nil // Convert KB to MB
					}
				}
			}
		}
	}

	// Fallback to syscall if /proc/meminfo parsing fails
	var sysinfo syscall.Sysinfo_t
	if err := syscall.Sysinfo(&sysinfo); err != nil {
		return 0, err
	}

	availableBytes := int64(sysinfo.Freeram) * int64(sysinfo.Unit)
	availableMB := availableBytes / (1024 * 1024)

	return availableMB, nil
}

// EstimateDatasetSize estimates the space needed to stage the given
// volume files, in MB. A handful of files is sampled for the average
// size instead of statting the whole dataset.
func EstimateDatasetSize(volumeFiles []string) (int64, error) {
	if len(volumeFiles) == 0 {
		return 0, nil
	}

	sampleSize := len(volumeFiles)
	if sampleSize > 5 {
		sampleSize = 5
	}

	var totalSampleSize int64
	for i := 0; i < sampleSize; i++ {
		if stat, err := os.Stat(volumeFiles[i]); err == nil {
			totalSampleSize += stat.Size()
		}
	}

	if totalSampleSize == 0 {
		return 0, fmt.Errorf("could not determine file sizes")
	}

	avgFileSize := totalSampleSize / int64(sampleSize)

	// 1.2x safety margin on top of the staged copies
	estimatedTotalBytes := int64(len(volumeFiles)) * avgFileSize * 12 / 10
	estimatedMB := estimatedTotalBytes / (1024 * 1024)

	return estimatedMB, nil
}

// ShouldUseScratch determines if staging to a memory disk is worthwhile
// given available RAM and the dataset size.
func ShouldUseScratch(volumeFiles []string, logger *slog.Logger) (bool, int64, error) {
	if len(volumeFiles) == 0 {
		return false, 0, nil
	}

	availableRAM, err := GetSystemMemory()
	if err != nil {
		if logger != nil {
			logger.Debug("failed to get system memory info", "error", err)
		}
		return false, 0, nil
	}

	datasetSizeMB, err := EstimateDatasetSize(volumeFiles)
	if err != nil {
		if logger != nil {
			logger.Debug("failed to estimate dataset size", "error", err)
		}
		return false, 0, nil
	}

	// Stage only if the dataset fits in half the available RAM with at
	// least 512MB left over afterwards.
	scratchSize := datasetSizeMB + 100 // Add 100MB buffer
	minFreeRAM := int64(512)

	if logger != nil {
		logger.Info("scratch disk feasibility check",
			"available_ram_mb", availableRAM,
			"estimated_dataset_mb", datasetSizeMB,
			"required_scratch_mb", scratchSize,
			"min_free_ram_mb", minFreeRAM,
		)
	}

	if scratchSize < availableRAM/2 && (availableRAM-scratchSize) > minFreeRAM {
		return true, scratchSize, nil
	}

	if logger != nil {
		logger.Info("scratch disk not recommended",
			"reason", "insufficient RAM or dataset too large",
			"available_ram_mb", availableRAM,
			"required_mb", scratchSize,
		)
	}

	return false, 0, nil
}

// NewScratchDisk creates a new scratch disk with the specified size.
// When mounting a dedicated tmpfs fails, an existing tmpfs under /tmp
// is used instead.
func NewScratchDisk(sizeMB int64, logger *slog.Logger) (*ScratchDisk, error) {
	mountPoint := filepath.Join("/tmp", fmt.Sprintf("brainprep-scratch-%d", os.Getpid()))

	sd := &ScratchDisk{
		MountPoint: mountPoint,
		Size:       sizeMB,
		logger:     logger,
	}

	if err := sd.Mount(); err != nil {
		if logger != nil {
			logger.Info("tmpfs mount failed, checking for existing tmpfs mount", "error", err)
		}

		if sd.isTmpfsAvailable() {
			sd.mounted = true
			if logger != nil {
				logger.Info("using existing tmpfs at /tmp for scratch disk", "mount_point", mountPoint)
			}
			if err := os.MkdirAll(sd.MountPoint, 0755); err != nil {
				return nil, fmt.Errorf("failed to create directory in tmpfs: %v", err)
			}
			return sd, nil
		}

		return nil, err
	}

	return sd, nil
}

// isTmpfsAvailable checks if /tmp is mounted on tmpfs
func (sd *ScratchDisk) isTmpfsAvailable() bool {
	content, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return false
	}

	lines := strings.Split(string(content), "\n")
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) >= 3 && fields[1] == "/tmp" && fields[2] == "tmpfs" {
			if sd.logger != nil {
				sd.logger.Info("detected existing tmpfs mount", "mount_point", "/tmp", "filesystem", fields[2])
			}
			return true
		}
	}

	return false
}

// Mount creates and mounts the tmpfs
func (sd *ScratchDisk) Mount() error {
	if err := os.MkdirAll(sd.MountPoint, 0755); err != nil {
		return fmt.Errorf("failed to create mount point: %v", err)
	}

	sizeOpt := fmt.Sprintf("size=%dM", sd.Size)
	cmd := exec.Command("mount", "-t", "tmpfs", "-o", sizeOpt, "tmpfs", sd.MountPoint)

	if sd.logger != nil {
		sd.logger.Info("mounting scratch disk",
			"mount_point", sd.MountPoint,
			"size_mb", sd.Size,
		)
	}

	if output, err := cmd.CombinedOutput(); err != nil {
		os.RemoveAll(sd.MountPoint) // Clean up directory
		return fmt.Errorf("failed to mount tmpfs: %v, output: %s", err, string(output))
	}

	sd.mounted = true

	if sd.logger != nil {
		sd.logger.Info("scratch disk mounted successfully",
			"mount_point", sd.MountPoint,
			"size_mb", sd.Size,
		)
	}

	return nil
}

// Stage copies the volume files under root into the scratch area and
// returns the staged root.
func (sd *ScratchDisk) Stage(root string) (string, error) {
	staged := filepath.Join(sd.MountPoint, "data")
	if err := CopyTree(root, staged); err != nil {
		return "", fmt.Errorf("staging %s: %w", root, err)
	}
	return staged, nil
}

// Cleanup unmounts and removes the scratch disk
func (sd *ScratchDisk) Cleanup() error {
	if !sd.mounted {
		return nil
	}

	if sd.logger != nil {
		sd.logger.Info("cleaning up scratch disk", "mount_point", sd.MountPoint)
	}

	cmd := exec.Command("umount", sd.MountPoint)
	if output, err := cmd.CombinedOutput(); err != nil {
		if sd.logger != nil {
			sd.logger.Warn("failed to unmount scratch disk",
				"error", err,
				"output", string(output),
				"mount_point", sd.MountPoint,
			)
		}
		// Continue with cleanup even if unmount fails
	}

	if err := os.RemoveAll(sd.MountPoint); err != nil {
		if sd.logger != nil {
			sd.logger.Warn("failed to remove mount point directory",
				"error", err,
				"mount_point", sd.MountPoint,
			)
		}
	}

	sd.mounted = false

	if sd.logger != nil {
		sd.logger.Info("scratch disk cleanup completed", "mount_point", sd.MountPoint)
	}

	return nil
}

// GetPath returns the mount point path for storing temporary files
func (sd *ScratchDisk) GetPath() string {
	return sd.MountPoint
}

// IsActive returns true if the scratch disk is mounted and active
func (sd *ScratchDisk) IsActive() bool {
	return sd.mounted
}
