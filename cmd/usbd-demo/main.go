package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bulwarkid/virtual-usb/hid"
	"github.com/bulwarkid/virtual-usb/usb"
	"github.com/bulwarkid/virtual-usb/usbip"
	"github.com/bulwarkid/virtual-usb/util"
	"github.com/spf13/cobra"
)

var profileFilename string
var listenAddr string
var verbose bool
var immediateAddress bool

func start(cmd *cobra.Command, args []string) {
	util.SetLogOutput(os.Stdout)
	if verbose {
		util.SetLogLevel(util.LogLevelTrace)
	} else {
		util.SetLogLevel(util.LogLevelDebug)
	}

	profile, err := loadProfile(profileFilename)
	util.CheckErr(err, "Could not load device profile")

	keyboard := newKeyboard()
	class, subclass, protocol := keyboard.InterfaceClass()
	port := usbip.NewPort(usbip.DeviceInfo{
		BusNum: profile.BusNum,
		DevNum: profile.DevNum,
		Interfaces: []usbip.InterfaceInfo{
			{Class: class, Subclass: subclass, Protocol: protocol},
		},
	})

	device, err := usb.NewDevice(profile.description(), port)
	util.CheckErr(err, "Could not create device")
	if immediateAddress {
		device.SetAddressPolicy(usb.SetAddressImmediate)
	}
	util.CheckErr(keyboard.Mount(device), "Could not mount keyboard interface")
	util.CheckErr(device.Connect(), "Could not attach device")

	server := usbip.NewServer(port)
	server.SetAddr(listenAddr)
	util.CheckErr(server.Start(), "Could not start usbip server")
	fmt.Printf("Exporting device %s on %s\n", port.BusID(), listenAddr)
	fmt.Println("Attach with: usbip attach -r 127.0.0.1 -b " + port.BusID())
	fmt.Println("Type lines to send them as keystrokes; Ctrl-C to exit.")

	go typeFromStdin(keyboard)

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	<-interrupts

	if err := server.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "Shutdown: %v\n", err)
	}
	if err := device.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Shutdown: %v\n", err)
	}
}

func typeFromStdin(keyboard *hid.HID) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		typeString(keyboard, scanner.Text()+"\n")
	}
}

func initProfile(cmd *cobra.Command, args []string) {
	if _, err := os.Stat(profileFilename); err == nil {
		cmd.PrintErrf("Profile '%s' already exists\n", profileFilename)
		return
	}
	err := saveProfile(profileFilename, defaultProfile())
	util.CheckErr(err, "Could not write device profile")
	cmd.Printf("Wrote default profile to '%s'\n", profileFilename)
}

var rootCmd = &cobra.Command{
	Use:   "usbd-demo",
	Short: "Run a virtual USB keyboard",
	Long:  `usbd-demo exports a virtual USB HID keyboard over the usbip protocol`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&profileFilename, "profile", "", "device-profile.cbor", "Device profile filename")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	startCommand := &cobra.Command{
		Use:   "start",
		Short: "Attach the virtual keyboard",
		Run:   start,
	}
	startCommand.Flags().StringVar(&listenAddr, "addr", ":3240", "usbip listen address")
	startCommand.Flags().BoolVar(&immediateAddress, "immediate-address", false, "Commit SET_ADDRESS before the status stage")
	rootCmd.AddCommand(startCommand)

	profileCommand := &cobra.Command{
		Use:   "profile",
		Short: "Manage the device profile",
	}
	initCommand := &cobra.Command{
		Use:   "init",
		Short: "Write a default device profile",
		Run:   initProfile,
	}
	profileCommand.AddCommand(initCommand)
	rootCmd.AddCommand(profileCommand)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
