package main

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const mermaidASCIIVersion = "1.1.0"

// SHA-256 checksums for mermaid-ascii v1.1.0 release assets.
var mermaidASCIIChecksums = map[string]string{
	"mermaid-ascii_Darwin_arm64.tar.gz":  "068d2ff869d4921655cab471500fffd8c3ed28155b100518ed3cf3835d53d3d0",
	"mermaid-ascii_Darwin_x86_64.tar.gz": "0cd4c9c01a03284fe866f39a1ce1aaee1e6a2fbd91deedc4ec254cb87622eec8",
	"mermaid-ascii_Linux_arm64.tar.gz":   "3b7d0a95141bfbca838e445ea802ffb7fba8873b3c4af498482c84f83526f2db",
	"mermaid-ascii_Linux_x86_64.tar.gz":  "838ea93d561b3bc83aa15531c6ed7d2d261a8edc521d5484f7e91fe831cc4c65",
}

func runInstall(_ context.Context, cfg Config, args []string, out io.Writer) error {
	fs := newFlagSet("install", &cfg)
	storeFlags(fs, &cfg)
	fs.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "TCP listen address")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: text or json")
	fs.IntVar(&cfg.FPS, "fps", cfg.FPS, "frame rate of real-time sessions")
	fs.BoolVar(&cfg.Record, "record", cfg.Record, "record terminal playback by default")
	fs.BoolVar(&cfg.Panel, "panel", cfg.Panel, "enable the web player")
	skipTools := fs.Bool("skip-tools", false, "do not download mermaid-ascii")
	if _, err := parseArgs(fs, args, 0); err != nil {
		return err
	}

	if err := os.MkdirAll(authflowDir(), 0o700); err != nil {
		return fmt.Errorf("cannot create %s: %w", authflowDir(), err)
	}
	path := settingsPath()
	if err := writeSettings(path, cfg); err != nil {
		return err
	}
	fmt.Fprintf(out, "Config written to %s\n", path)

	if !*skipTools {
		installMermaidASCII(binDir(), out)
	}

	if !signalRunningServer(out) {
		fmt.Fprintln(out, "Start the player with: authflow serve")
	}
	return nil
}

func writeSettings(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	return nil
}

// signalRunningServer sends SIGHUP to a running authflow server (via pidfile).
// Returns true if a server was signaled.
func signalRunningServer(out io.Writer) bool {
	data, err := os.ReadFile(pidPath())
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return false
	}
	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return false
	}
	fmt.Fprintf(out, "Signaled running server (PID %d) to reload configuration\n", pid)
	return true
}

// installMermaidASCII downloads the mermaid-ascii binary to binDir. Failures
// are reported and ignored: ASCII diagrams then use the built-in renderer.
func installMermaidASCII(binDir string, out io.Writer) {
	destPath := filepath.Join(binDir, "mermaid-ascii")
	if _, err := os.Stat(destPath); err == nil {
		fmt.Fprintf(out, "mermaid-ascii already installed at %s\n", destPath)
		return
	}
	warn := func(format string, args ...any) {
		fmt.Fprintf(out, "Warning: "+format+"; ASCII diagrams will use the built-in renderer\n", args...)
	}

	assetName, err := mermaidASCIIAssetName(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		warn("%v", err)
		return
	}
	url := fmt.Sprintf("https://github.com/AlexanderGrooff/mermaid-ascii/releases/download/%s/%s",
		mermaidASCIIVersion, assetName)
	fmt.Fprintf(out, "Downloading mermaid-ascii %s...\n", mermaidASCIIVersion)

	if err := os.MkdirAll(binDir, 0o755); err != nil {
		warn("cannot create %s: %v", binDir, err)
		return
	}
	client := &http.Client{Timeout: 60 * time.Second}
	tmpPath, err := downloadToTempFile(url, binDir, client)
	if err != nil {
		warn("download failed: %v", err)
		return
	}
	defer os.Remove(tmpPath)

	if err := verifyChecksum(tmpPath, assetName); err != nil {
		warn("%v", err)
		return
	}

	f, err := os.Open(tmpPath)
	if err != nil {
		warn("cannot open archive: %v", err)
		return
	}
	defer f.Close()
	if err := extractTarGz(f, binDir, "mermaid-ascii"); err != nil {
		_ = os.Remove(destPath)
		warn("extraction failed: %v", err)
		return
	}
	if err := os.Chmod(destPath, 0o755); err != nil {
		warn("chmod failed: %v", err)
		return
	}
	fmt.Fprintf(out, "mermaid-ascii installed to %s\n", destPath)
}

func verifyChecksum(path, assetName string) error {
	expected, ok := mermaidASCIIChecksums[assetName]
	if !ok {
		return fmt.Errorf("no known checksum for %s", assetName)
	}
	actual, err := sha256File(path)
	if err != nil {
		return fmt.Errorf("cannot compute checksum: %w", err)
	}
	if actual != expected {
		return fmt.Errorf("checksum mismatch for %s (expected %s, got %s)", assetName, expected, actual)
	}
	return nil
}

// mermaidASCIIAssetName returns the release asset name for a platform.
func mermaidASCIIAssetName(goos, goarch string) (string, error) {
	var osName string
	switch goos {
	case "darwin":
		osName = "Darwin"
	case "linux":
		osName = "Linux"
	default:
		return "", fmt.Errorf("mermaid-ascii: unsupported OS %q", goos)
	}

	var archName string
	switch goarch {
	case "amd64":
		archName = "x86_64"
	case "arm64":
		archName = "arm64"
	default:
		return "", fmt.Errorf("mermaid-ascii: unsupported architecture %q", goarch)
	}
	return fmt.Sprintf("mermaid-ascii_%s_%s.tar.gz", osName, archName), nil
}

// extractTarGz extracts the regular file named targetName (at any depth) from
// a tar.gz stream into destDir.
func extractTarGz(r io.Reader, destDir, targetName string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("gzip: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return fmt.Errorf("file %q not found in archive", targetName)
		}
		if err != nil {
			return fmt.Errorf("tar: %w", err)
		}
		if filepath.Base(hdr.Name) != targetName || hdr.Typeflag != tar.TypeReg {
			continue
		}

		destPath := filepath.Join(destDir, targetName)
		f, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
		if err != nil {
			return fmt.Errorf("create %s: %w", destPath, err)
		}
		if _, err := io.Copy(f, tr); err != nil { //nolint:gosec // bounded by tar header size
			f.Close()
			return fmt.Errorf("write %s: %w", destPath, err)
		}
		return f.Close()
	}
}
