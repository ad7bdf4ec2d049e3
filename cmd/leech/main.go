// Command leech is a bare-bones BitTorrent leech client: it fetches a
// peer list from a tracker and downloads a .torrent file's content to
// disk, drawing a progress bar on stderr as it goes. A magnet URI is
// parsed but then refused, since fetching a torrent's metadata from peers
// is not implemented. It has no seeding path, no DHT, and no UI beyond the
// terminal.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/schollz/progressbar/v3"

	"leech/internal/config"
	"leech/internal/download"
	"leech/internal/magnet"
	"leech/internal/metainfo"
	"leech/internal/progress"
	"leech/internal/tracker"
	"leech/internal/xlog"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "info":
		err = runInfo(os.Args[2:])
	case "download":
		err = runDownload(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "leech:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: leech info <file.torrent>")
	fmt.Fprintln(os.Stderr, "       leech download <file.torrent|magnet-uri> [--output dir] [--port n] [--verbose]")
}

func runInfo(args []string) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("info: expected a .torrent file path")
	}

	mi, err := metainfo.FromFile(fs.Arg(0))
	if err != nil {
		return err
	}

	fmt.Printf("Name:          %s\n", mi.Info.Name)
	fmt.Printf("Announce:      %s\n", mi.Announce)
	if len(mi.AnnounceList) > 0 {
		fmt.Printf("Announce List: %d tier(s)\n", len(mi.AnnounceList))
	}
	fmt.Printf("Info Hash:     %s\n", mi.InfoHashHex())
	fmt.Printf("Private:       %t\n", mi.Info.Private)
	fmt.Printf("Piece Length:  %d bytes\n", mi.Info.PieceLength)
	fmt.Printf("Pieces:        %d\n", mi.NumPieces())
	fmt.Printf("Total Size:    %d bytes\n", mi.Info.TotalLength)

	if len(mi.Info.Files) > 1 {
		fmt.Printf("Files:\n")
		for _, f := range mi.Info.Files {
			fmt.Printf("  %10d  %s\n", f.Length, strings.Join(f.Path, "/"))
		}
	}
	return nil
}

func runDownload(args []string) error {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	output := fs.String("output", config.DefaultOutputDir, "directory to write downloaded files into")
	port := fs.Int("port", config.DefaultPort, "port advertised to the tracker")
	verbose := fs.Bool("verbose", false, "enable structured logging to stderr")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("download: expected a .torrent file path or magnet URI")
	}

	cfg := config.ResolveDownload(*output, uint16(*port), *verbose)
	xlog.SetVerbose(cfg.Verbose)

	mi, err := resolveSource(fs.Arg(0))
	if err != nil {
		return err
	}

	sink := progress.NewSink(16)
	defer sink.Close()

	peerID := tracker.GeneratePeerID()
	mgr, err := download.NewManager(mi, cfg.OutputDir, peerID, cfg.Port, sink)
	if err != nil {
		return err
	}

	client := tracker.NewClient()
	resp, err := client.Announce(mi.Announce, tracker.Request{
		InfoHash: mi.InfoHash,
		PeerID:   peerID,
		Port:     cfg.Port,
		Left:     mi.Info.TotalLength,
	})
	if err != nil {
		return fmt.Errorf("initial tracker announce failed: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- mgr.Run(ctx, resp.Peers) }()

	bar := progressbar.NewOptions(mi.NumPieces(),
		progressbar.OptionSetDescription(mi.Info.Name),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWriter(os.Stderr),
	)

	for {
		select {
		case snap := <-sink.Snapshots():
			bar.Set(snap.CompletedPieces)
		case err := <-done:
			bar.Finish()
			if err != nil {
				return err
			}
			fmt.Printf("\nDownload complete: %s\n", cfg.OutputDir)
			return nil
		}
	}
}

func resolveSource(arg string) (*metainfo.Metainfo, error) {
	if strings.HasPrefix(arg, "magnet:") {
		link, err := magnet.Parse(arg)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("magnet-only download (info hash %s) requires a metadata exchange extension this engine does not implement; supply a .torrent file instead", link.InfoHashHex())
	}
	return metainfo.FromFile(arg)
}
