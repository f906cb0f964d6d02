package util

import (
	"archive/zip"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
)

// CreateArchive zips files into output, storing each under its path
// relative to root so the gallery keeps working once extracted.
func CreateArchive(root string, files []string, output string) error {
	out, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}

	defer func() {
		if cerr := out.Close(); cerr != nil {
			log.Printf("error closing output file %s: %v", output, cerr)
		}
	}()

	z := zip.NewWriter(out)
	defer func() {
		if cerr := z.Close(); cerr != nil {
			log.Printf("error closing zip writer for %s: %v", output, cerr)
		}
	}()

	sorted := append([]string(nil), files...)
	sort.Strings(sorted)

	for _, file := range sorted {
		if err := addFileToZip(z, root, file); err != nil {
			return err
		}
	}

	return nil
}

func addFileToZip(z *zip.Writer, root, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			log.Printf("error closing input file %s: %v", file, cerr)
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}

	name, err := filepath.Rel(root, file)
	if err != nil {
		name = filepath.Base(file)
	}
	header.Name = filepath.ToSlash(name)
	header.Method = zip.Deflate

	w, err := z.CreateHeader(header)
	if err != nil {
		return err
	}

	_, err = io.Copy(w, f)
	return err
}
