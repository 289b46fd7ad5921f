package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/felixgeelhaar/assay/internal/config"
)

var httpClient = &http.Client{Timeout: 2 * time.Second}

// daemonAddr returns the base URL of the local daemon
func daemonAddr() string {
	cfg, err := config.Load()
	if err != nil {
		cfg = config.DefaultLocalConfig()
	}
	return daemonURL(cfg)
}

func daemonURL(cfg *config.LocalConfig) string {
	host := cfg.Daemon.Bind
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, cfg.Daemon.Port)
}

// cmdStart starts the daemon in the background
func cmdStart() error {
	addr := daemonAddr()
	if isRunning(addr) {
		fmt.Println("✓ Daemon is already running")
		return nil
	}

	assayDir, err := config.EnsureAssayDir()
	if err != nil {
		return fmt.Errorf("setup assay directory: %w", err)
	}

	assaydPath, err := findDaemonBinary()
	if err != nil {
		return fmt.Errorf("find daemon binary: %w", err)
	}

	cmd := exec.Command(assaydPath)
	cmd.Dir = assayDir
	cmd.Stdout = nil
	cmd.Stderr = nil
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	fmt.Print("Starting daemon...")
	for range 30 {
		time.Sleep(100 * time.Millisecond)
		if isRunning(addr) {
			fmt.Println(" ✓")
			fmt.Printf("Daemon running at %s\n", addr)
			return nil
		}
		fmt.Print(".")
	}

	fmt.Println(" ✗")
	return fmt.Errorf("daemon failed to start (check logs with 'assay logs')")
}

// cmdStop sends SIGTERM to the daemon recorded in the PID file
func cmdStop() error {
	addr := daemonAddr()
	if !isRunning(addr) {
		fmt.Println("Daemon is not running")
		return nil
	}

	pid, err := readPID()
	if err != nil {
		return err
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process: %w", err)
	}

	fmt.Print("Stopping daemon...")
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("send signal: %w", err)
	}

	for range 50 {
		time.Sleep(100 * time.Millisecond)
		if !isRunning(addr) {
			fmt.Println(" ✓")
			return nil
		}
		fmt.Print(".")
	}

	fmt.Println(" ✗")
	return fmt.Errorf("daemon did not stop gracefully")
}

func readPID() (int, error) {
	assayDir, err := config.AssayDir()
	if err != nil {
		return 0, err
	}

	data, err := os.ReadFile(filepath.Join(assayDir, pidFile))
	if err != nil {
		return 0, fmt.Errorf("read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse PID: %w", err)
	}
	return pid, nil
}

// daemonStatus is the body of GET /v1/status
type daemonStatus struct {
	Status          string `json:"status"`
	Version         string `json:"version"`
	Storage         string `json:"storage"`
	History         bool   `json:"history"`
	QueueEnabled    bool   `json:"queue_enabled"`
	CacheEnabled    bool   `json:"cache_enabled"`
	ExercisesLoaded bool   `json:"exercises_loaded"`
	PackCount       int    `json:"pack_count"`
	ExerciseCount   int    `json:"exercise_count"`
	RuleCount       int    `json:"rule_count"`
}

// cmdStatus shows daemon status
func cmdStatus(w io.Writer) error {
	addr := daemonAddr()
	if !isRunning(addr) {
		fmt.Fprintln(w, "Status: stopped")
		return nil
	}

	status, err := fetchStatus(addr)
	if err != nil {
		return err
	}
	printStatus(w, addr, status)
	return nil
}

func fetchStatus(addr string) (*daemonStatus, error) {
	resp, err := httpClient.Get(addr + "/v1/status")
	if err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get status: unexpected status %d", resp.StatusCode)
	}

	var status daemonStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("parse status: %w", err)
	}
	return &status, nil
}

func printStatus(w io.Writer, addr string, s *daemonStatus) {
	fmt.Fprintf(w, "Status:    %s\n", s.Status)
	fmt.Fprintf(w, "Version:   %s\n", s.Version)
	fmt.Fprintf(w, "Address:   %s\n", addr)
	fmt.Fprintf(w, "Storage:   %s\n", s.Storage)
	fmt.Fprintf(w, "Queue:     %s\n", onOff(s.QueueEnabled))
	fmt.Fprintf(w, "Cache:     %s\n", onOff(s.CacheEnabled))
	fmt.Fprintf(w, "Exercises: %d in %d packs (%d rules)\n", s.ExerciseCount, s.PackCount, s.RuleCount)
	if !s.ExercisesLoaded {
		fmt.Fprintln(w, "Warning:   exercise packs are not loaded")
	}
}

func onOff(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

// cmdLogs prints the tail of the daemon log
func cmdLogs(w io.Writer) error {
	assayDir, err := config.AssayDir()
	if err != nil {
		return err
	}

	logPath := filepath.Join(assayDir, "logs", logFile)
	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		fmt.Fprintln(w, "No log file found. Start the daemon first.")
		return nil
	}

	file, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	return tail(file, w, 4096)
}

// tail copies the complete lines within the last n bytes of f
func tail(f *os.File, w io.Writer, n int64) error {
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat log file: %w", err)
	}
	offset := max(info.Size()-n, 0)
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek log file: %w", err)
	}

	reader := bufio.NewReader(f)
	if offset > 0 {
		// Skip the partial first line
		_, _ = reader.ReadString('\n')
	}

	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		fmt.Fprintln(w, scanner.Text())
	}
	return scanner.Err()
}

// isRunning checks if the daemon answers its health endpoint
func isRunning(addr string) bool {
	resp, err := httpClient.Get(addr + "/v1/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// findDaemonBinary locates the assayd binary
func findDaemonBinary() (string, error) {
	if path, err := exec.LookPath("assayd"); err == nil {
		return path, nil
	}

	if self, err := os.Executable(); err == nil {
		path := filepath.Join(filepath.Dir(self), "assayd")
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	locations := []string{
		"/usr/local/bin/assayd",
		"./assayd",
		"./cmd/assayd/assayd",
	}
	for _, path := range locations {
		if _, err := os.Stat(path); err == nil {
			return filepath.Abs(path)
		}
	}

	return "", fmt.Errorf("assayd binary not found (build with 'go build ./cmd/assayd')")
}
