package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/gregLibert/mrtd/internal/config"
	"github.com/gregLibert/mrtd/pkg/icao"
	"github.com/gregLibert/mrtd/pkg/mrtd"
	"github.com/gregLibert/mrtd/pkg/pcsc"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the reader configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})))

	// --- 1. Credential Setup ---
	key, err := buildAccessKey(cfg)
	if err != nil {
		log.Fatalf("Error building access key: %v", err)
	}

	// --- 2. Hardware Setup ---
	transport := &pcsc.Transport{Reader: cfg.Reader.Name}
	if cfg.Reader.ForceExtendedLength != nil {
		transport.ForceExtendedLength = *cfg.Reader.ForceExtendedLength
	}

	// --- 3. Execution Flow ---
	session := mrtd.NewSession(transport, mrtd.SessionConfig{
		DataGroups: cfg.Document.DataGroups,
		Progress: func(fid uint16, read, total int) {
			fmt.Printf("\r>> Reading %04X: %d/%d bytes", fid, read, total)
			if read >= total {
				fmt.Println()
			}
		},
	})

	doc, err := session.ReadDocument(key)
	if err != nil {
		log.Fatalf("Document read failed: %v", err)
	}

	summarize(doc)
	fmt.Println("\n>> Document read and verified successfully")
}

func buildAccessKey(cfg *config.Config) (*mrtd.AccessKey, error) {
	if cfg.Document.CAN != "" {
		return mrtd.NewCANKey(cfg.Document.CAN)
	}
	return mrtd.NewMRZKey(cfg.Document.Number, cfg.Document.BirthDate, cfg.Document.ExpiryDate)
}

func summarize(doc *mrtd.Document) {
	fmt.Printf("\n>> Access protocol: %s\n", doc.AccessProtocol)
	if doc.Common != nil {
		fmt.Printf(">> LDS %s, Unicode %s\n", doc.Common.LDSVersion, doc.Common.UnicodeVersion)
		fmt.Printf(">> Announced data groups: %v\n", doc.Common.DataGroups())
		slog.Debug("EF.COM fields\n" + doc.Common.Describe())
	}
	for dg, content := range doc.DataGroups {
		fid, _ := icao.FileForDataGroup(dg)
		fmt.Printf(">> DG%-2d (%04X): %d bytes\n", dg, fid, len(content))
	}
	fmt.Printf(">> Chip key hash: %X\n", doc.ChipKeyHash)
}
