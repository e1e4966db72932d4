package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/klauspost/compress/zstd"

	"github.com/PageVault/pagevault/pkg/cache"
	"github.com/PageVault/pagevault/pkg/common/log"
	"github.com/PageVault/pagevault/pkg/config"
	"github.com/PageVault/pagevault/pkg/device"
	"github.com/PageVault/pagevault/pkg/storage"
	"github.com/PageVault/pagevault/pkg/token"
)

// Command completer for readline
var completer = readline.NewPrefixCompleter(
	readline.PcItem(".help"),
	readline.PcItem(".exit"),
	readline.PcItem(".stats"),
	readline.PcItem("READ"),
	readline.PcItem("WRITE"),
	readline.PcItem("LOAD"),
	readline.PcItem("FLUSH"),
	readline.PcItem("CLEAR"),
	readline.PcItem("PUT"),
	readline.PcItem("CHECK"),
	readline.PcItem("GET"),
	readline.PcItem("SCAN"),
	readline.PcItem("LOCATE"),
	readline.PcItem("DATAID"),
	readline.PcItem("SNAPSHOT"),
	readline.PcItem("RESTORE"),
)

const helpText = `
pagevault - page cache and integrity-checked storage inspector

Usage:
  pagevault [options] -image PATH

Options:
  -image string      - Device image file (required)
  -manifest string   - Manifest path (default: <image>.manifest)
  -create            - Create a fresh image and manifest
  -page-size uint    - Page size in bytes for -create (default 256)
  -pages uint        - Page count for -create (default 2048)
  -checksum string   - Checksum algorithm for -create: crc32 or xxh64
  -data-id string    - Dataset identity token (default: random)
  -verbose           - Debug logging

Commands (interactive mode):
  .help                   - Show this help message
  .stats                  - Show cache and device state
  .exit                   - Exit the program

  READ addr len           - Read len bytes at addr through the cache
  WRITE addr hexbytes     - Write bytes at addr through the cache
  LOAD addr               - Make the page containing addr resident (clean)
  FLUSH                   - Flush the cache slot if dirty
  CLEAR                   - Discard the cache slot without flushing

  PUT addr hexbytes       - Write a checksummed single block at addr
  CHECK addr              - Verify the single block at addr
  GET len [offset]        - Read from the last verified block

  SCAN first last         - Verify chain pages in page range [first, last]
  LOCATE offset           - Find the chain page covering a payload offset
  DATAID uuid             - Switch the dataset identity token

  SNAPSHOT file           - Save a zstd-compressed image snapshot
  RESTORE file            - Load a snapshot back into the image

Addresses and offsets accept decimal or 0x-prefixed hex.
`

func main() {
	var (
		imagePath    = flag.String("image", "", "device image file")
		manifestPath = flag.String("manifest", "", "manifest path (default: <image>.manifest)")
		create       = flag.Bool("create", false, "create a fresh image and manifest")
		pageSize     = flag.Uint("page-size", 256, "page size in bytes for -create")
		pageCount    = flag.Uint("pages", 2048, "page count for -create")
		checksum     = flag.String("checksum", config.ChecksumCRC32, "checksum algorithm for -create")
		dataIDStr    = flag.String("data-id", "", "dataset identity token")
		verbose      = flag.Bool("verbose", false, "debug logging")
	)
	flag.Parse()

	if *imagePath == "" {
		fmt.Fprintf(os.Stderr, "Error: -image is required\n")
		flag.Usage()
		os.Exit(1)
	}
	if *manifestPath == "" {
		*manifestPath = *imagePath + ".manifest"
	}

	logger := log.NewStandardLogger()
	if *verbose {
		logger.SetLevel(log.LevelDebug)
	}

	var cfg *config.Config
	var err error
	if *create {
		cfg = &config.Config{
			Version:   config.CurrentManifestVersion,
			PageSize:  uint32(*pageSize),
			PageCount: uint32(*pageCount),
			Checksum:  *checksum,
		}
		if err := cfg.Save(*manifestPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating manifest: %s\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created manifest %s\n", *manifestPath)
	} else {
		cfg, err = config.Load(*manifestPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading manifest %s: %s\n", *manifestPath, err)
			os.Exit(1)
		}
	}

	dataID := token.New()
	if *dataIDStr != "" {
		dataID, err = token.Parse(*dataIDStr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
	}

	fmt.Printf("Image %s: %d pages of %d bytes, %s checksums\n",
		*imagePath, cfg.PageCount, cfg.PageSize, cfg.Checksum)
	fmt.Printf("Dataset identity: %s\n", dataID)

	switch cfg.Checksum {
	case config.ChecksumCRC32:
		err = run[uint32](*imagePath, cfg, dataID, device.SumCRC32, logger)
	case config.ChecksumXXH64:
		err = run[uint64](*imagePath, cfg, dataID, device.SumXXH64, logger)
	default:
		err = fmt.Errorf("unsupported checksum %q", cfg.Checksum)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// session holds the open image and the layers over it, instantiated for the
// manifest's checksum width.
type session[C device.Uint] struct {
	cfg    *config.Config
	dev    *device.FileDevice[uint32, C]
	cache  *cache.Cache[uint32]
	reader *storage.Reader[uint32, C]
	chain  *storage.PageStore[uint32, uint32, C]
	sum    device.Checksum[C]
	dataID token.Token
}

func run[C device.Uint](imagePath string, cfg *config.Config, dataID token.Token, sum device.Checksum[C], logger log.Logger) error {
	dev, err := device.OpenFile[uint32, C](imagePath, cfg.DeviceSize(), sum, device.WithLogger(logger))
	if err != nil {
		return err
	}
	defer dev.Close()

	pc, err := cache.New[uint32](dev, int(cfg.PageSize))
	if err != nil {
		return err
	}

	s := &session[C]{
		cfg:    cfg,
		dev:    dev,
		cache:  pc,
		reader: storage.NewReader[uint32, C](dev),
		chain:  storage.NewPageStore[uint32, uint32, C](dev, dataID),
		sum:    sum,
		dataID: dataID,
	}
	return s.interact()
}

func (s *session[C]) interact() error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "pagevault> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()

	fmt.Println("Enter .help for usage hints.")

	for {
		line, readErr := rl.Readline()
		if readErr != nil {
			if readErr == readline.ErrInterrupt {
				if len(line) == 0 {
					break
				}
				continue
			} else if readErr == io.EOF {
				break
			}
			fmt.Fprintf(os.Stderr, "Error reading input: %s\n", readErr)
			continue
		}
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToUpper(parts[0])
		args := parts[1:]

		if strings.HasPrefix(cmd, ".") {
			switch strings.ToLower(cmd) {
			case ".help":
				fmt.Print(helpText)
			case ".stats":
				s.printStats()
			case ".exit":
				return s.shutdown()
			default:
				fmt.Printf("Unknown command: %s\n", cmd)
			}
			continue
		}

		if err := s.dispatch(cmd, args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
	}
	return s.shutdown()
}

func (s *session[C]) shutdown() error {
	if s.cache.Status() == cache.StatusDirty {
		fmt.Println("Flushing dirty cache slot...")
		if err := s.cache.Flush(nil); err != nil {
			return err
		}
	}
	fmt.Println("Goodbye!")
	return nil
}

func (s *session[C]) dispatch(cmd string, args []string) error {
	switch cmd {
	case "READ":
		return s.cmdRead(args)
	case "WRITE":
		return s.cmdWrite(args)
	case "LOAD":
		addr, err := parseAddr(args, 0)
		if err != nil {
			return err
		}
		return s.cache.Load(addr, nil)
	case "FLUSH":
		return s.cache.Flush(nil)
	case "CLEAR":
		s.cache.Clear()
		return nil
	case "PUT":
		return s.cmdPut(args)
	case "CHECK":
		return s.cmdCheck(args)
	case "GET":
		return s.cmdGet(args)
	case "SCAN":
		return s.cmdScan(args)
	case "LOCATE":
		return s.cmdLocate(args)
	case "DATAID":
		if len(args) < 1 {
			return errors.New("usage: DATAID uuid")
		}
		id, err := token.Parse(args[0])
		if err != nil {
			return err
		}
		s.dataID = id
		s.chain = storage.NewPageStore[uint32, uint32, C](s.dev, id)
		s.reader = storage.NewReader[uint32, C](s.dev)
		fmt.Printf("Dataset identity: %s\n", id)
		return nil
	case "SNAPSHOT":
		if len(args) < 1 {
			return errors.New("usage: SNAPSHOT file")
		}
		return s.cmdSnapshot(args[0])
	case "RESTORE":
		if len(args) < 1 {
			return errors.New("usage: RESTORE file")
		}
		return s.cmdRestore(args[0])
	default:
		return fmt.Errorf("unknown command %s, try .help", cmd)
	}
}

func (s *session[C]) printStats() {
	fmt.Printf("Device:   %d bytes (%d pages of %d)\n", s.cfg.DeviceSize(), s.cfg.PageCount, s.cfg.PageSize)
	fmt.Printf("Checksum: %s\n", s.cfg.Checksum)
	fmt.Printf("Identity: %s\n", s.dataID)
	fmt.Printf("Cache:    %s", s.cache.Status())
	if s.cache.Status() != cache.StatusEmpty {
		fmt.Printf(", page at %#x", s.cache.Address())
	}
	fmt.Println()
	if length, ok := s.reader.Length(); ok {
		fmt.Printf("Block:    active, payload %d bytes\n", length)
	} else {
		fmt.Println("Block:    none verified")
	}
}

func (s *session[C]) cmdRead(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: READ addr len")
	}
	addr, err := parseAddr(args, 0)
	if err != nil {
		return err
	}
	n, err := parseNum(args[1])
	if err != nil {
		return err
	}
	buf := make([]byte, n)
	if err := s.cache.GetData(buf, addr); err != nil {
		return err
	}
	dumpHex(buf, addr)
	return nil
}

func (s *session[C]) cmdWrite(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: WRITE addr hexbytes")
	}
	addr, err := parseAddr(args, 0)
	if err != nil {
		return err
	}
	data, err := hex.DecodeString(args[1])
	if err != nil {
		return fmt.Errorf("invalid hex payload: %w", err)
	}
	if err := s.cache.SetData(data, addr, nil); err != nil {
		return err
	}
	fmt.Printf("%d bytes staged at %#x (cache %s)\n", len(data), addr, s.cache.Status())
	return nil
}

func (s *session[C]) cmdPut(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: PUT addr hexbytes")
	}
	addr, err := parseAddr(args, 0)
	if err != nil {
		return err
	}
	payload, err := hex.DecodeString(args[1])
	if err != nil {
		return fmt.Errorf("invalid hex payload: %w", err)
	}
	w := storage.NewWriter[uint32, C](s.dev, addr, s.dataID)
	if err := w.SetData(payload, s.sum(payload)); err != nil {
		return err
	}
	fmt.Printf("Block written at %#x: %d payload bytes\n", addr, len(payload))
	return nil
}

func (s *session[C]) cmdCheck(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: CHECK addr")
	}
	addr, err := parseAddr(args, 0)
	if err != nil {
		return err
	}
	res, err := s.reader.Check(addr, s.dataID)
	switch res {
	case storage.CheckOK:
		length, _ := s.reader.Length()
		fmt.Printf("Block at %#x: ok, payload %d bytes\n", addr, length)
		return nil
	case storage.CheckDeviceError:
		return err
	default:
		fmt.Printf("Block at %#x: %s", addr, res)
		if err != nil {
			fmt.Printf(" (%s)", err)
		}
		fmt.Println()
		return nil
	}
}

func (s *session[C]) cmdGet(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: GET len [offset]")
	}
	n, err := parseNum(args[0])
	if err != nil {
		return err
	}
	var offset uint32
	if len(args) > 1 {
		offset, err = parseNum(args[1])
		if err != nil {
			return err
		}
	}
	buf := make([]byte, n)
	if err := s.reader.GetData(buf, offset); err != nil {
		return err
	}
	dumpHex(buf, offset)
	return nil
}

func (s *session[C]) cmdScan(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: SCAN first last")
	}
	first, err := parseNum(args[0])
	if err != nil {
		return err
	}
	last, err := parseNum(args[1])
	if err != nil {
		return err
	}
	if last >= s.cfg.PageCount {
		return fmt.Errorf("page %d beyond device (%d pages)", last, s.cfg.PageCount)
	}

	found := 0
	for page := first; page <= last; page++ {
		addr := page * s.cfg.PageSize
		res, err := s.chain.CheckPage(addr, s.cfg.PageSize, storage.CheckOptions{})
		switch res {
		case storage.CheckOK:
			m, merr := s.chain.ReadMetrics(addr)
			if merr != nil {
				return merr
			}
			fmt.Printf("page %4d @ %#08x: ok, payload [%d, %d) of %d\n",
				page, addr, m.PageOffset, m.PageOffset+m.PageLength, m.TotalLength)
			found++
		case storage.CheckNoStorage:
			// blank or foreign page, stay quiet
		case storage.CheckDeviceError:
			return err
		default:
			fmt.Printf("page %4d @ %#08x: %s\n", page, addr, res)
		}
	}
	fmt.Printf("%d chain pages verified\n", found)
	return nil
}

func (s *session[C]) cmdLocate(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: LOCATE offset")
	}
	offset, err := parseNum(args[0])
	if err != nil {
		return err
	}

	candidates := make([]uint32, s.cfg.PageCount)
	for i := range candidates {
		candidates[i] = uint32(i) * s.cfg.PageSize
	}
	addr, m, err := storage.Locate(s.chain, candidates, s.cfg.PageSize, offset)
	if err != nil {
		return err
	}
	fmt.Printf("offset %d: page @ %#08x, payload [%d, %d) of %d\n",
		offset, addr, m.PageOffset, m.PageOffset+m.PageLength, m.TotalLength)
	return nil
}

func (s *session[C]) cmdSnapshot(path string) error {
	if err := s.cache.Flush(nil); err != nil {
		return err
	}

	buf := make([]byte, s.cfg.DeviceSize())
	if err := s.dev.Read(buf, 0); err != nil {
		return err
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	compressed := enc.EncodeAll(buf, nil)
	enc.Close()

	if err := os.WriteFile(path, compressed, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	fmt.Printf("Snapshot %s: %d -> %d bytes\n", path, len(buf), len(compressed))
	return nil
}

func (s *session[C]) cmdRestore(path string) error {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer dec.Close()

	buf, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return fmt.Errorf("failed to decompress snapshot: %w", err)
	}
	if int64(len(buf)) != s.cfg.DeviceSize() {
		return fmt.Errorf("snapshot is %d bytes, image is %d", len(buf), s.cfg.DeviceSize())
	}

	if err := s.dev.Write(buf, 0); err != nil {
		return err
	}
	s.cache.Clear()
	fmt.Printf("Restored %d bytes from %s\n", len(buf), path)
	return nil
}

func parseAddr(args []string, i int) (uint32, error) {
	if len(args) <= i {
		return 0, errors.New("missing address argument")
	}
	return parseNum(args[i])
}

func parseNum(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return uint32(v), nil
}

func dumpHex(buf []byte, base uint32) {
	for off := 0; off < len(buf); off += 16 {
		end := min(off+16, len(buf))
		fmt.Printf("%08x  % x\n", base+uint32(off), buf[off:end])
	}
}
