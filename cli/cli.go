/*
  stc-isp
  Copyright (c) 2021 Arduino LLC.  All right reserved.

  This library is free software; you can redistribute it and/or
  modify it under the terms of the GNU Lesser General Public
  License as published by the Free Software Foundation; either
  version 2.1 of the License, or (at your option) any later version.
*/

package cli

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"time"

	"github.com/arduino/go-paths-helper"
	"github.com/mattn/go-colorable"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	clversion "github.com/mdraculin/stc-isp/cli/version"
	"github.com/mdraculin/stc-isp/cliopts"
	"github.com/mdraculin/stc-isp/session"
	"github.com/mdraculin/stc-isp/transport"
	v "github.com/mdraculin/stc-isp/version"
)

var (
	opts       = &cliopts.Options{}
	showVersion bool
	logFile    string
)

var validDialects = []string{"stc89", "stc12a", "stc12b", "stc12", "stc15a", "stc15", "stc8", "usb15", "auto"}

// NewCommand builds the root command, matching the CLI surface
// exactly: a single verb taking the optional positional image
// arguments, plus a `version` subcommand.
func NewCommand() *cobra.Command {
	root := &cobra.Command{
		Use:              "stc-isp [flags] [code_image] [eeprom_image]",
		Short:            "stc-isp programs 8051-compatible STC microcontrollers over their boot strap loader.",
		Args:             cobra.MaximumNArgs(2),
		RunE:             run,
		PersistentPreRunE: preRun,
	}

	root.AddCommand(clversion.NewCommand())

	root.Flags().BoolVarP(&opts.Autoreset, "autoreset", "a", false, "Pulse the reset pin before connecting")
	root.Flags().StringVarP(&opts.ResetPin, "resetpin", "A", "dtr", "Pin to use for --autoreset: dtr or rts")
	root.Flags().StringVarP(&opts.ResetCmd, "resetcmd", "r", "", "Shell command to run for board reset instead of a pin pulse")
	root.Flags().StringVarP(&opts.Protocol, "protocol", "P", "auto", "BSL dialect: "+strings.Join(validDialects, ", "))
	root.Flags().StringVarP(&opts.Port, "port", "p", "", "Serial port to use")
	root.Flags().IntVarP(&opts.Baud, "baud", "b", 19200, "Transfer baud rate")
	root.Flags().IntVarP(&opts.Handshake, "handshake", "l", 2400, "Handshake baud rate")
	root.Flags().StringArrayVarP(&opts.SetOptions, "option", "o", nil, "Set an option byte as name=value, may be repeated")
	root.Flags().Float64VarP(&opts.Trim, "trim", "t", 0, "Target RC oscillator frequency in kHz, enables trim")
	root.Flags().BoolVarP(&opts.Debug, "debug", "D", false, "Enable debug logging")
	root.Flags().BoolVarP(&showVersion, "version", "V", false, "Show version and exit")
	root.Flags().StringVar(&logFile, "log-file", "", "Path to a file to also write logs to")

	return root
}

func preRun(cmd *cobra.Command, args []string) error {
	logrus.SetOutput(colorable.NewColorableStdout())
	logrus.SetFormatter(&logrus.TextFormatter{ForceColors: true})
	if opts.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("unable to open log file: %w", err)
		}
		logrus.AddHook(lfshook.NewHook(file, &logrus.TextFormatter{}))
	}
	return nil
}

func run(cmd *cobra.Command, args []string) error {
	if showVersion {
		fmt.Println(v.Info)
		return nil
	}

	if opts.Port == "" {
		return fmt.Errorf("please specify a serial port with -p/--port")
	}
	if !isValidDialect(opts.Protocol) {
		return fmt.Errorf("invalid protocol %q, must be one of: %s", opts.Protocol, strings.Join(validDialects, ", "))
	}

	setOpts := map[string]string{}
	for _, kv := range opts.SetOptions {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid -o value %q, expected name=value", kv)
		}
		setOpts[parts[0]] = parts[1]
	}

	sessOpts := session.Options{
		Port:            opts.Port,
		DialectName:     opts.Protocol,
		HandshakeBaud:   opts.Handshake,
		TransferBaud:    opts.Baud,
		Trim:            opts.Trim,
		SetOptions:      setOpts,
		Autoreset:       opts.Autoreset,
		ResetPin:        opts.ResetPin,
		ResetCmd:        opts.ResetCmd,
	}
	if len(args) >= 1 {
		sessOpts.CodeImagePath = paths.New(args[0])
	}
	if len(args) >= 2 {
		sessOpts.EepromImagePath = paths.New(args[1])
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		logrus.Warn("interrupted, aborting")
		cancel()
	}()
	defer signal.Stop(sigCh)

	cycle := buildPowerCycle(sessOpts)
	sess := session.New(sessOpts, cycle, nil)
	code := sess.Run(ctx)
	if code != 0 {
		os.Exit(code)
	}
	return nil
}

func isValidDialect(name string) bool {
	for _, d := range validDialects {
		if d == name {
			return true
		}
	}
	return false
}

// buildPowerCycle returns the injected reset hook: a shell command if
// --resetcmd was given, a DTR/RTS pulse if --autoreset was given, or a
// no-op otherwise.
func buildPowerCycle(o session.Options) session.PowerCycle {
	if o.ResetCmd != "" {
		return func() error {
			return runShell(o.ResetCmd)
		}
	}
	if o.Autoreset {
		return func() error {
			tr, err := transport.OpenSerial(o.Port, o.HandshakeBaud, false)
			if err != nil {
				return err
			}
			defer tr.Close()
			if o.ResetPin == "rts" {
				return tr.AssertResetRTS(250 * time.Millisecond)
			}
			return tr.AssertReset(250 * time.Millisecond)
		}
	}
	return nil
}

func runShell(cmdline string) error {
	shell := "/bin/sh"
	cmd := exec.Command(shell, "-c", cmdline)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
