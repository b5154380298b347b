package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/metal-stack/nmrpflash/nmrp"
	"github.com/metal-stack/nmrpflash/nmrpflash"
)

var flashCmd = &cobra.Command{
	Use:   "flash",
	Short: "Discover a device in recovery mode and flash a firmware image",
	Long: `Flash advertises an NMRP server on the given interface until a
device in recovery mode answers, assigns it the given IP
configuration, and uploads the firmware image via TFTP once the
device asks for it.

Power up the device while holding its reset button to put it into
recovery mode, then run e.g.

  nmrpflash flash -i eth0 -a 192.168.1.1 -f firmware.img

Raw sockets require root (or CAP_NET_RAW).`,
	Run: func(cmd *cobra.Command, args []string) {
		log, err := newLogger()
		if err != nil {
			fatalf("building logger: %s", err)
		}
		defer func() { _ = log.Sync() }()

		cfg := &nmrpflash.Config{
			Interface:         viper.GetString("interface"),
			MAC:               viper.GetString("mac"),
			Addr:              viper.GetString("addr"),
			Mask:              viper.GetString("mask"),
			File:              viper.GetString("file"),
			Command:           viper.GetString("command"),
			Capture:           viper.GetString("capture"),
			ReceiveTimeout:    viper.GetDuration("timeout"),
			UploadDoneTimeout: viper.GetDuration("upload-timeout"),
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := nmrpflash.Run(ctx, cfg, log); err != nil {
			fatalf("%s", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(flashCmd)

	flashCmd.Flags().StringP("interface", "i", "", "network interface connected to the device")
	flashCmd.Flags().StringP("mac", "m", "ff:ff:ff:ff:ff:ff", "MAC address of the device")
	flashCmd.Flags().StringP("addr", "a", "", "IP address to assign to the device")
	flashCmd.Flags().StringP("mask", "M", "255.255.255.0", "subnet mask to assign to the device")
	flashCmd.Flags().StringP("file", "f", "", "firmware image to upload")
	flashCmd.Flags().StringP("command", "c", "", "command to run instead of the built-in TFTP upload")
	flashCmd.Flags().String("capture", "", "write the raw NMRP exchange to a pcap file")
	flashCmd.Flags().DurationP("timeout", "t", nmrp.DefaultReceiveTimeout, "receive timeout for protocol messages")
	flashCmd.Flags().DurationP("upload-timeout", "T", nmrp.DefaultUploadDoneTimeout, "time to wait for the device to respond after the upload")

	if err := viper.BindPFlags(flashCmd.Flags()); err != nil {
		fatalf("binding flags: %s", err)
	}
}
