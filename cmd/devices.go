package cmd

import (
	"log/slog"
	"os"

	"github.com/BioHazard786/discushy/internal/config"
	"github.com/BioHazard786/discushy/internal/device"
	"github.com/BioHazard786/discushy/internal/ui"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List capture devices",
	Long: `List the cameras, microphones and screen source a meeting would use,
as configured by --camera, --mic and --screen or the matching config keys.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(config.Options{
			ConfigFile: flagConfigFile,
			CameraFile: flagCameraFile,
			MicFile:    flagMicFile,
			ScreenFile: flagScreenFile,
		})
		if err != nil {
			return err
		}
		ctl := device.New(fileDevices(cfg, slog.Default()), slog.Default())
		defer ctl.Close()

		devices, err := ctl.Devices(cmd.Context())
		if err != nil {
			return err
		}
		ui.RenderDeviceTable(os.Stdout, devices)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)

	devicesCmd.Flags().StringVar(&flagCameraFile, "camera", "", "IVF file to use as the camera")
	devicesCmd.Flags().StringVar(&flagMicFile, "mic", "", "Ogg/Opus file to use as the microphone")
	devicesCmd.Flags().StringVar(&flagScreenFile, "screen", "", "IVF file to use for screen sharing")
}
