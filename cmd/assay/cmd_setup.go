package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/assay/internal/config"
	"gopkg.in/yaml.v3"
)

// cmdInit creates ~/.assay, a default config and the bundled exercise packs
func cmdInit(w io.Writer) error {
	fmt.Fprintln(w, "Assay - First-Time Setup")
	fmt.Fprintln(w, "========================")
	fmt.Fprintln(w)

	fmt.Fprint(w, "Creating ~/.assay directory structure... ")
	assayDir, err := config.EnsureAssayDir()
	if err != nil {
		return fmt.Errorf("create directories: %w", err)
	}
	fmt.Fprintln(w, "✓")

	configPath := filepath.Join(assayDir, "config.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Fprint(w, "Creating default configuration... ")
		if err := config.SaveLocalConfig(config.DefaultLocalConfig()); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Fprintln(w, "✓")
	} else {
		fmt.Fprintln(w, "Configuration already exists ✓")
	}

	fmt.Fprint(w, "Setting up exercise packs... ")
	dest := filepath.Join(assayDir, "exercises")
	if _, err := os.Stat("./exercises"); err == nil {
		if err := copyDir("./exercises", dest); err != nil {
			fmt.Fprintf(w, "⚠ (%v)\n", err)
		} else {
			fmt.Fprintln(w, "✓")
		}
	} else {
		fmt.Fprintf(w, "skipped (copy packs into %s)\n", dest)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Next steps:")
	fmt.Fprintln(w, "  1. assay exercise list   # See available exercises")
	fmt.Fprintln(w, "  2. assay start           # Start the daemon")
	fmt.Fprintln(w, "  3. assay mcp             # Use from an MCP client")
	return nil
}

// copyDir copies a directory tree, leaving existing files untouched
func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if _, err := os.Stat(target); err == nil {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0644)
	})
}

// cmdConfig prints the effective configuration. Secrets are never shown.
func cmdConfig(w io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	assayDir, _ := config.AssayDir()
	fmt.Fprintf(w, "# %s\n", filepath.Join(assayDir, "config.yaml"))
	_, err = w.Write(data)
	return err
}
