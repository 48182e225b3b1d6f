package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"image-converter-go/internal/batch"
	"image-converter-go/internal/converter"
	"image-converter-go/internal/formats"
	"image-converter-go/internal/inspect"
	"image-converter-go/internal/progress"
)

const drainTimeout = 2 * time.Second

var (
	targetFormat string
	quality      string
	compression  string
	width        int
	height       int
	keepAspect   bool
	upscale      bool
	outputPath   string

	watchURL     string
	watchSession string
)

// convertCmd converts local files.
var convertCmd = &cobra.Command{
	Use:   "convert <file>...",
	Short: "Convert local image files",
	Long: `Converts one or more local images. A single file is written next to the
source (or to --output); several files are packed into a ZIP archive.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConvert(cmd.Context(), args)
	},
}

// inspectCmd prints what the converter detects about a file.
var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Show detected format, dimensions and EXIF data of an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(args[0])
	},
}

// formatsCmd lists the format registry.
var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List supported input and output formats",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFormats()
	},
}

// watchCmd follows the progress stream of a batch session on a server.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the progress of a batch session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatch(cmd.Context())
	},
}

func init() {
	convertCmd.Flags().StringVarP(&targetFormat, "format", "f", "png", "target format (png, jpg, jpeg, webp, avif, bmp)")
	convertCmd.Flags().StringVarP(&quality, "quality", "q", "", "encoder quality 0-100")
	convertCmd.Flags().StringVar(&compression, "compression", "", "compression level 1-3")
	convertCmd.Flags().IntVar(&width, "width", 0, "target width in pixels")
	convertCmd.Flags().IntVar(&height, "height", 0, "target height in pixels")
	convertCmd.Flags().BoolVar(&keepAspect, "keep-aspect", true, "preserve aspect ratio when resizing")
	convertCmd.Flags().BoolVar(&upscale, "upscale", true, "allow enlarging when both dimensions are given")
	convertCmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file (single) or archive (several)")

	watchCmd.Flags().StringVar(&watchURL, "url", "ws://localhost:8080/ws", "progress stream endpoint")
	watchCmd.Flags().StringVar(&watchSession, "session", "", "session id to follow")
	_ = watchCmd.MarkFlagRequired("session")
}

func runConvert(ctx context.Context, paths []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := setupLogger(cfg)

	p, err := buildPipeline(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer p.Close()

	reqs := make([]converter.Request, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		reqs = append(reqs, converter.Request{
			Source:          data,
			SourceName:      filepath.Base(path),
			TargetFormat:    formats.ID(targetFormat),
			Quality:         quality,
			Compression:     compression,
			Width:           width,
			Height:          height,
			KeepAspectRatio: keepAspect,
			AllowUpscale:    upscale,
		})
	}

	if len(reqs) == 1 {
		res, err := p.conv.Convert(ctx, reqs[0])
		if err != nil {
			return err
		}
		out := outputPath
		if out == "" {
			out = filepath.Join(filepath.Dir(paths[0]), res.FileName)
		}
		if err := os.WriteFile(out, res.Bytes, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", out, err)
		}
		if !quiet {
			fmt.Printf("%s -> %s (%dx%d, %s)\n", paths[0], out, res.Width, res.Height, formatSize(len(res.Bytes)))
		}
		return nil
	}

	sessionID := batch.NewSessionID()
	sub, err := p.broker.Subscribe(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to subscribe to progress: %w", err)
	}
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range sub.C {
			if !quiet {
				printFrame(progress.FrameFromEvent(e))
			}
		}
	}()

	archive, err := p.coord.ConvertBatch(ctx, sessionID, reqs)
	select {
	case <-done:
	case <-time.After(drainTimeout):
		// a remote broker may never deliver the terminal event
		sub.Close()
		<-done
	}
	if err != nil {
		return err
	}

	out := outputPath
	if out == "" {
		out = "converted_images.zip"
	}
	if err := os.WriteFile(out, archive, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	if !quiet {
		fmt.Printf("\nWrote %d files to %s (%s)\n", len(reqs), out, formatSize(len(archive)))
	}
	return nil
}

func runInspect(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	info := inspect.New(setupLogger(cfg)).Inspect(data, filepath.Base(path))

	fmt.Printf("File:        %s\n", path)
	fmt.Printf("MIME:        %s\n", info.MIME)
	if info.Registered {
		fmt.Printf("Format:      %s\n", info.Format)
	} else {
		fmt.Printf("Format:      unsupported\n")
	}
	fmt.Printf("Container:   %s\n", info.Container)
	if info.Width > 0 {
		fmt.Printf("Dimensions:  %dx%d\n", info.Width, info.Height)
	}
	if info.Orientation != 0 {
		fmt.Printf("Orientation: %s\n", info.Orientation)
	}
	if info.TakenAt != nil {
		fmt.Printf("Taken:       %s\n", info.TakenAt.Format("2006-01-02 15:04:05"))
	}
	if info.Camera != "" {
		fmt.Printf("Camera:      %s\n", info.Camera)
	}
	return nil
}

func runFormats() error {
	fmt.Printf("%-6s %-24s %-6s %-6s %-8s %s\n", "ID", "MIME", "INPUT", "OUTPUT", "QUALITY", "COMPRESSION")
	for _, f := range formats.All() {
		fmt.Printf("%-6s %-24s %-6s %-6s %-8s %s\n",
			f.ID, f.MIMEType, yesNo(f.Input), yesNo(f.Output), yesNo(f.UsesQuality), yesNo(f.UsesCompression))
	}
	return nil
}

func runWatch(ctx context.Context) error {
	u, err := url.Parse(watchURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	q := u.Query()
	q.Set("session_id", watchSession)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", u.Redacted(), err)
	}
	defer conn.Close()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("progress stream closed: %w", err)
		}
		frame, err := progress.ParseFrame(msg)
		if err != nil {
			continue
		}
		printFrame(frame)
		if frame.Terminal() {
			return nil
		}
	}
}

func printFrame(f progress.Frame) {
	var b strings.Builder
	fmt.Fprintf(&b, "[%3d%%] %-10s", f.Progress, f.Status)
	if f.Filename != "" {
		b.WriteString(" " + f.Filename)
	}
	if f.Error != "" {
		b.WriteString(" error: " + f.Error)
	}
	fmt.Println(b.String())
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func formatSize(n int) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := int64(n) / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
