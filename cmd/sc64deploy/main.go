// Command sc64deploy is the host-side control tool for an SC64 flash
// cartridge: upload ROM/save images, configure runtime behavior, service
// real-time 64DD/debug/save-writeback traffic, read/write an attached SD
// card, update firmware, and run or dial a relay. Subcommand surface and
// global --port/--remote flags per spec §6, styled after HASHER's
// cmd/driver/hasher-host stdlib-flag option parsing.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"sc64/internal/backend"
	"sc64/internal/config"
	"sc64/internal/deployer"
	"sc64/internal/disk"
	"sc64/internal/realtime"
	"sc64/internal/relay"
	"sc64/internal/sc64err"
	"sc64/internal/types"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, errorLine(err))
		os.Exit(1)
	}
}

// errorLine renders any error as the single, category-prefixed line spec
// §7 requires for user-visible failures.
func errorLine(err error) string {
	if se, ok := err.(*sc64err.Error); ok {
		return se.Error()
	}
	return fmt.Sprintf("error: %s", err.Error())
}

type globalFlags struct {
	port   string
	remote string
}

// parseGlobalFlags consumes a leading run of --port/--remote pairs (in
// either order) before the subcommand token, per spec §6's "global --port
// and --remote option (mutually exclusive)".
func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	var g globalFlags
	i := 0
	for i < len(args) {
		switch args[i] {
		case "--port":
			if i+1 >= len(args) {
				return g, nil, sc64err.New(sc64err.Io, "--port requires a value")
			}
			g.port = args[i+1]
			i += 2
		case "--remote":
			if i+1 >= len(args) {
				return g, nil, sc64err.New(sc64err.Io, "--remote requires a value")
			}
			g.remote = args[i+1]
			i += 2
		default:
			return g, args[i:], nil
		}
	}
	return g, args[i:], nil
}

func run(args []string) error {
	g, rest, err := parseGlobalFlags(args)
	if err != nil {
		return err
	}
	if g.port != "" && g.remote != "" {
		return sc64err.New(sc64err.Io, "--port and --remote are mutually exclusive")
	}
	if len(rest) == 0 {
		return sc64err.New(sc64err.Io, "expected a subcommand")
	}

	cmd, cmdArgs := rest[0], rest[1:]

	// `server` never needs a device connection up front: it opens one
	// fresh per accepted client (spec §4.8).
	if cmd == "server" {
		return cmdServer(g, cmdArgs)
	}

	d, err := openDeployer(g)
	if err != nil {
		return err
	}
	defer d.Close()

	switch cmd {
	case "list":
		return cmdList()
	case "info":
		return cmdInfo(d)
	case "reset":
		return d.ResetState()
	case "upload":
		return cmdUpload(d, cmdArgs)
	case "download":
		return cmdDownload(d, cmdArgs)
	case "64dd":
		return cmd64DD(d, cmdArgs)
	case "debug":
		return cmdDebug(d, cmdArgs)
	case "dump":
		return cmdDump(d, cmdArgs)
	case "sd":
		return cmdSD(d, cmdArgs)
	case "set":
		return cmdSet(d, cmdArgs)
	case "firmware":
		return cmdFirmware(d, cmdArgs)
	case "test":
		return cmdTest(d)
	default:
		return sc64err.New(sc64err.Io, "unrecognized subcommand: "+cmd)
	}
}

// openDeployer resolves the effective port/remote (flag, then .env/
// environment default) and connects.
func openDeployer(g globalFlags) (*deployer.Deployer, error) {
	remote := g.remote
	if remote == "" && g.port == "" {
		remote = config.DefaultRemote()
	}
	if remote != "" {
		return deployer.OpenRemote(remote)
	}
	if g.port == "" {
		return nil, sc64err.New(sc64err.Io, "no --port, --remote, or configured default remote")
	}
	b, err := backend.OpenPort(g.port)
	if err != nil {
		return nil, err
	}
	if err := backend.Reset(b); err != nil {
		b.Close()
		return nil, err
	}
	return deployer.OpenLocal(b), nil
}

func cmdList() error {
	devices, err := backend.ListFTDI()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("no SC64 devices found")
		return nil
	}
	for _, d := range devices {
		fmt.Printf("ftdi://i:0403:6014:%d  (serial %s)\n", d.Index, d.SerialNumber)
	}
	return nil
}

func cmdInfo(d *deployer.Deployer) error {
	if err := d.CheckDevice(); err != nil {
		return err
	}
	v, err := d.CheckFirmwareVersion()
	if err != nil {
		return err
	}
	state, err := d.GetDeviceState()
	if err != nil {
		return err
	}
	fmt.Printf("firmware: %d.%d.%d\n", v.Major, v.Minor, v.Revision)
	fmt.Printf("boot mode: %s\n", state.BootMode)
	fmt.Printf("save type: %s\n", state.SaveType)
	fmt.Printf("cic seed: 0x%02X\n", state.CicSeed.Value())
	fmt.Printf("tv type: %d\n", state.TvType)
	fmt.Printf("64dd mode: %s\n", state.DdMode)
	fmt.Printf("rtc: %s\n", state.DateTime.Format(time.RFC3339))

	if hi, err := host.Info(); err == nil {
		fmt.Printf("host: %s %s\n", hi.Platform, hi.KernelVersion)
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		fmt.Printf("host memory: %d/%d MiB used\n", vm.Used/1024/1024, vm.Total/1024/1024)
	}
	return nil
}

func cmdUpload(d *deployer.Deployer, args []string) error {
	fs := newFlagSet("upload")
	rom := fs.String("rom", "", "ROM image to upload")
	save := fs.String("save", "", "save file to preload")
	saveType := fs.String("save-type", "", "save type (none, eeprom4k, eeprom16k, sram, flashram, sram-banked, sram1m, ...)")
	tvType := fs.Int("tv-type", -1, "TV type override (0=PAL,1=NTSC,2=MPAL)")
	forcedSeedHex := fs.String("cic-seed", "", "force a CIC seed (hex), instead of auto-detecting")
	noShadow := fs.Bool("no-shadow", false, "disable ROM shadow when the image fits entirely in SDRAM")
	run := fs.Bool("run", false, "service the real-time loop until Ctrl-C after upload")
	if err := fs.Parse(args); err != nil {
		return sc64err.Wrap(sc64err.Io, err)
	}
	if *rom == "" {
		return sc64err.New(sc64err.Io, "upload: --rom is required")
	}
	data, err := os.ReadFile(*rom)
	if err != nil {
		return sc64err.Wrap(sc64err.Io, err)
	}

	if err := d.ResetState(); err != nil {
		return err
	}

	var forcedSeed *byte
	if *forcedSeedHex != "" {
		v, err := strconv.ParseUint(*forcedSeedHex, 16, 8)
		if err != nil {
			return sc64err.New(sc64err.Io, "invalid --cic-seed hex value")
		}
		b := byte(v)
		forcedSeed = &b
	}
	params, err := deployer.CalculateCicParameters(data, forcedSeed)
	if err != nil {
		return err
	}
	if err := d.SetCicParameters(params); err != nil {
		return err
	}

	if *tvType >= 0 {
		if err := d.SetTvType(types.TvType(*tvType)); err != nil {
			return err
		}
	}
	if *saveType != "" {
		st, err := parseSaveType(*saveType)
		if err != nil {
			return err
		}
		if err := d.SetSaveType(st); err != nil {
			return err
		}
	}

	if err := d.UploadROM(data, *noShadow); err != nil {
		return err
	}

	if *save != "" {
		saveData, err := os.ReadFile(*save)
		if err != nil {
			return sc64err.Wrap(sc64err.Io, err)
		}
		if err := d.UploadSave(saveData); err != nil {
			return err
		}
	}

	if err := d.SetBootMode(types.BootModeRom); err != nil {
		return err
	}

	if *run {
		return serviceRealtime(d, nil, *save)
	}
	return nil
}

func cmdDownload(d *deployer.Deployer, args []string) error {
	if len(args) == 0 || args[0] != "save" {
		return sc64err.New(sc64err.Io, "download: expected 'save'")
	}
	fs := newFlagSet("download save")
	out := fs.String("out", "", "output file")
	if err := fs.Parse(args[1:]); err != nil {
		return sc64err.Wrap(sc64err.Io, err)
	}
	if *out == "" {
		return sc64err.New(sc64err.Io, "download save: --out is required")
	}
	data, err := d.DownloadSave()
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		return sc64err.Wrap(sc64err.Io, err)
	}
	return nil
}

func cmd64DD(d *deployer.Deployer, args []string) error {
	fs := newFlagSet("64dd")
	ipl := fs.String("ipl", "", "64DD IPL image")
	disks := fs.String("disks", "", "comma-separated .ndd disk images, in insert order")
	if err := fs.Parse(args); err != nil {
		return sc64err.Wrap(sc64err.Io, err)
	}

	if err := d.ResetState(); err != nil {
		return err
	}
	if *ipl != "" {
		iplData, err := os.ReadFile(*ipl)
		if err != nil {
			return sc64err.Wrap(sc64err.Io, err)
		}
		if err := d.UploadDDIPL(iplData); err != nil {
			return err
		}
	}
	if err := d.Configure64DD(types.DdModeFull); err != nil {
		return err
	}

	var diskImages []*disk.Disk
	if *disks != "" {
		paths := strings.Split(*disks, ",")
		opened, err := disk.OpenMultiple(paths)
		if err != nil {
			return err
		}
		diskImages = opened
	}
	if err := d.Set64DDDiskState(types.DiskInserted); err != nil {
		return err
	}

	return serviceRealtime(d, diskImages, "")
}

func cmdDebug(d *deployer.Deployer, args []string) error {
	fs := newFlagSet("debug")
	eucjp := fs.Bool("eucjp", false, "decode console debug text as EUC-JP instead of UTF-8")
	if err := fs.Parse(args); err != nil {
		return sc64err.Wrap(sc64err.Io, err)
	}

	h := &realtime.Handlers{DebugWriter: os.Stdout}
	if *eucjp {
		h.DebugDecoding = realtime.DebugEUCJP
	}
	return runRealtimeLoop(d, h)
}

func cmdDump(d *deployer.Deployer, args []string) error {
	fs := newFlagSet("dump")
	address := fs.String("address", "0", "start address (hex or decimal)")
	length := fs.Int("length", 0, "byte length to read")
	out := fs.String("out", "", "output file (default: stdout)")
	if err := fs.Parse(args); err != nil {
		return sc64err.Wrap(sc64err.Io, err)
	}
	addr, err := parseUint32(*address)
	if err != nil {
		return err
	}
	if *length <= 0 {
		return sc64err.New(sc64err.Io, "dump: --length must be positive")
	}
	data, err := d.DumpMemory(addr, *length)
	if err != nil {
		return err
	}
	if *out == "" {
		_, err := os.Stdout.Write(data)
		return sc64err.Wrap(sc64err.Io, err)
	}
	return sc64err.Wrap(sc64err.Io, os.WriteFile(*out, data, 0o644))
}

// cmdSD implements the SD operations this tool owns directly (stat).
// Path-addressed operations (ls/mv/rm/mkdir/download/upload/mkfs) need
// an embedded FAT filesystem library, which spec §1 names as an external
// collaborator out of scope for this tool; they're recognized as valid
// tokens but report that gap rather than silently doing nothing.
func cmdSD(d *deployer.Deployer, args []string) error {
	if len(args) == 0 {
		return sc64err.New(sc64err.Io, "sd: expected an action")
	}
	action, rest := args[0], args[1:]

	switch action {
	case "stat":
		if err := d.InstallSDDriver(d); err != nil {
			return err
		}
		defer d.UninstallSDDriver()
		status, err := d.SDStatus()
		if err != nil {
			return err
		}
		fmt.Println(status.String())
		return nil
	case "ls", "mv", "rm", "mkdir", "download", "upload", "mkfs":
		return sc64err.New(sc64err.ReadError, fmt.Sprintf("sd %s: requires an embedded FAT filesystem library, not wired into this tool (spec non-goal)", action))
	default:
		_ = rest
		return sc64err.New(sc64err.Io, "sd: unrecognized action "+action)
	}
}

func cmdSet(d *deployer.Deployer, args []string) error {
	if len(args) == 0 {
		return sc64err.New(sc64err.Io, "set: expected rtc, blink-on, or blink-off")
	}
	switch args[0] {
	case "rtc":
		return d.SetDateTime(time.Now())
	case "blink-on":
		return d.SetLEDBlink(true)
	case "blink-off":
		return d.SetLEDBlink(false)
	default:
		return sc64err.New(sc64err.Io, "set: unrecognized target "+args[0])
	}
}

func cmdFirmware(d *deployer.Deployer, args []string) error {
	if len(args) == 0 {
		return sc64err.New(sc64err.Io, "firmware: expected info, backup, or update")
	}
	switch args[0] {
	case "info":
		v, err := d.CheckFirmwareVersion()
		if err != nil {
			return err
		}
		fmt.Printf("firmware %d.%d.%d\n", v.Major, v.Minor, v.Revision)
		return nil
	case "backup":
		fs := newFlagSet("firmware backup")
		out := fs.String("out", "", "output file")
		if err := fs.Parse(args[1:]); err != nil {
			return sc64err.Wrap(sc64err.Io, err)
		}
		if *out == "" {
			return sc64err.New(sc64err.Io, "firmware backup: --out is required")
		}
		data, err := d.BackupFirmware()
		if err != nil {
			return err
		}
		return sc64err.Wrap(sc64err.Io, os.WriteFile(*out, data, 0o644))
	case "update":
		fs := newFlagSet("firmware update")
		file := fs.String("file", "", "firmware update package")
		if err := fs.Parse(args[1:]); err != nil {
			return sc64err.Wrap(sc64err.Io, err)
		}
		if *file == "" {
			return sc64err.New(sc64err.Io, "firmware update: --file is required")
		}
		data, err := os.ReadFile(*file)
		if err != nil {
			return sc64err.Wrap(sc64err.Io, err)
		}
		return d.UpdateFirmware(data)
	default:
		return sc64err.New(sc64err.Io, "firmware: unrecognized action "+args[0])
	}
}

func cmdTest(d *deployer.Deployer) error {
	if err := d.CheckDevice(); err != nil {
		return err
	}
	if _, err := d.CheckFirmwareVersion(); err != nil {
		return err
	}
	if _, err := d.GetDeviceState(); err != nil {
		return err
	}
	if pct, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(pct) > 0 {
		fmt.Printf("host cpu load: %.1f%%\n", pct[0])
	}
	fmt.Println("test: ok")
	return nil
}

func cmdServer(g globalFlags, args []string) error {
	fs := newFlagSet("server")
	bind := fs.String("bind", "", "TCP bind address (default: configured or 127.0.0.1:9064)")
	admin := fs.String("admin", "", "optional admin HTTP bind address for /status and /healthz")
	if err := fs.Parse(args); err != nil {
		return sc64err.Wrap(sc64err.Io, err)
	}

	address := *bind
	if address == "" {
		cfg, err := config.LoadDeployConfig()
		if err != nil {
			return err
		}
		address = fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port)
	}

	port := g.port
	open := func() (backend.Backend, error) {
		if port == "" {
			return nil, sc64err.New(sc64err.Io, "server: --port is required to know which local device to relay")
		}
		return backend.OpenPort(port)
	}

	srv, err := relay.Listen(address, open, func(e relay.Event) {
		if e.Err != nil {
			fmt.Fprintf(os.Stderr, "relay %s (%s): %v\n", e.Kind, e.Address, e.Err)
		} else {
			fmt.Printf("relay %s (%s)\n", e.Kind, e.Address)
		}
	})
	if err != nil {
		return err
	}
	fmt.Printf("listening on %s\n", srv.Addr())

	if *admin != "" {
		go func() {
			_ = relay.AdminRouter(srv).Run(*admin)
		}()
	}

	return srv.Serve()
}

// serviceRealtime runs the real-time loop with the given disk set/save
// path until Ctrl-C, the way `upload --run` and `64dd` stay attached to
// service disk/debug/save-writeback traffic after configuring the device.
func serviceRealtime(d *deployer.Deployer, disks []*disk.Disk, savePath string) error {
	h := &realtime.Handlers{
		Disks:       disks,
		ActiveDisk:  0,
		SavePath:    savePath,
		DebugWriter: os.Stdout,
	}
	return runRealtimeLoop(d, h)
}

func runRealtimeLoop(d *deployer.Deployer, h *realtime.Handlers) error {
	stdinLines := make(chan string)
	go func() {
		defer close(stdinLines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			stdinLines <- scanner.Text()
		}
	}()

	loop := realtime.New(d, h, stdinLines)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		loop.Stop()
	}()

	return loop.Run()
}

// newFlagSet builds a per-subcommand flag.FlagSet, one per flag.NewFlagSet
// call as each subcommand is dispatched, rather than one global flag set.
func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ContinueOnError)
}

func parseUint32(s string) (uint32, error) {
	base := 10
	if hex, ok := strings.CutPrefix(s, "0x"); ok {
		s, base = hex, 16
	}
	v, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		return 0, sc64err.New(sc64err.Io, "invalid numeric value: "+s)
	}
	return uint32(v), nil
}

func parseSaveType(name string) (types.SaveType, error) {
	switch strings.ToLower(name) {
	case "none":
		return types.SaveNone, nil
	case "eeprom4k":
		return types.SaveEeprom4k, nil
	case "eeprom16k":
		return types.SaveEeprom16k, nil
	case "sram":
		return types.SaveSram, nil
	case "flashram":
		return types.SaveFlashram, nil
	case "sram-banked":
		return types.SaveSramBanked, nil
	case "sram1m":
		return types.SaveSram1m, nil
	default:
		return 0, sc64err.New(sc64err.Io, "unrecognized save type: "+name)
	}
}
