package cmd

import (
	"fmt"

	"github.com/audiolibrelab/camcapture/internal/camera"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List available camera devices",
	Long:  `List the V4L2 camera devices that can be used for recording, with their facing and sensor orientation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		discovery := camera.NewDiscovery(cfg.Camera.Codename)
		devices, err := discovery.ListDevices()
		if err != nil {
			return fmt.Errorf("failed to list camera devices: %w", err)
		}

		fmt.Printf("CAMERA DEVICES (%d found):\n", len(devices))
		for _, d := range devices {
			marker := " "
			if d.Path == cfg.Camera.Device {
				marker = "*"
			}
			fmt.Printf(" %s %-12s %-28s orientation=%d name=%q\n", marker, d.Path, d.Description, d.Orientation, d.Name)
		}

		if camera.IsVirtual(cfg.Camera.Device) {
			fmt.Printf("\nConfigured device %q is the virtual test source\n", cfg.Camera.Device)
		}
		return nil
	},
}
