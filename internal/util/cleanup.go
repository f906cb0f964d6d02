package util

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
)

// SetupInterruptHandler runs teardown once on SIGINT/SIGTERM and exits.
// Teardown is where the session clears its cache, the same way the page
// did on unload.
func SetupInterruptHandler(outputDir string, teardown func()) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sig
		fmt.Println("\nInterrupt received. Cleaning up...")

		if teardown != nil {
			teardown()
		}
		CleanupPartialFiles(outputDir)
		fmt.Println("\nExiting due to interrupt.")

		os.Exit(1)
	}()
}

// CleanupPartialFiles removes *.tmp leftovers from interrupted asset writes.
func CleanupPartialFiles(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".tmp") {
			return nil
		}

		if rerr := os.Remove(path); rerr != nil {
			fmt.Printf("Error cleaning up %s: %v\n", path, rerr)
		} else {
			fmt.Printf("Removed %s\n", path)
		}
		return nil
	})
}

// WriteFileAtomic writes via a sibling .tmp file and renames it into place.
func WriteFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}
