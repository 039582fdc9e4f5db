// Package packager bundles encrypted batch output into a single zip
// archive. Each file contributes three members: the ciphertext body, the
// container manifest and the wrapped key record. Ciphertext is stored
// uncompressed; it does not compress.
package packager

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/avolkov/cryptoflow/internal/crypto"
)

const (
	cipherSuffix   = ".enc"
	manifestSuffix = ".meta.json"
	keySuffix      = ".key.json"
)

// Entry is one encrypted file heading into a package.
type Entry struct {
	Name      string
	Container *crypto.Container
	Record    *crypto.WrappedKeyRecord
}

// Write streams a package for the given entries. Member names derive from
// the entry names, so names must be unique within a batch.
func Write(w io.Writer, entries []Entry) error {
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.Name == "" {
			return fmt.Errorf("package entry %q has no name", e.Record.FileID)
		}
		if seen[e.Name] {
			return fmt.Errorf("duplicate package entry name %q", e.Name)
		}
		seen[e.Name] = true
	}

	zw := zip.NewWriter(w)

	for _, e := range entries {
		cw, err := zw.CreateHeader(&zip.FileHeader{
			Name:   e.Name + cipherSuffix,
			Method: zip.Store,
		})
		if err != nil {
			return fmt.Errorf("failed to create package member: %w", err)
		}
		if _, err := cw.Write(e.Container.Ciphertext); err != nil {
			return fmt.Errorf("failed to write ciphertext for %q: %w", e.Name, err)
		}

		manifest, err := crypto.EncodeManifest(e.Container)
		if err != nil {
			return err
		}
		if err := writeMember(zw, e.Name+manifestSuffix, manifest); err != nil {
			return err
		}

		record, err := json.Marshal(e.Record)
		if err != nil {
			return fmt.Errorf("failed to encode key record for %q: %w", e.Name, err)
		}
		if err := writeMember(zw, e.Name+keySuffix, record); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize package: %w", err)
	}
	return nil
}

func writeMember(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create package member: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write package member %q: %w", name, err)
	}
	return nil
}

// Read parses a package back into its entries, ciphertext attached to each
// container. Entries come back sorted by name. A member triple with any
// piece missing is an error; the decrypt path needs all three.
func Read(r io.ReaderAt, size int64) ([]Entry, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("failed to open package: %w", err)
	}

	type parts struct {
		cipher   []byte
		manifest []byte
		record   []byte
	}
	byName := make(map[string]*parts)
	get := func(name string) *parts {
		p, ok := byName[name]
		if !ok {
			p = &parts{}
			byName[name] = p
		}
		return p
	}

	for _, f := range zr.File {
		data, err := readMember(f)
		if err != nil {
			return nil, err
		}
		switch {
		case strings.HasSuffix(f.Name, manifestSuffix):
			get(strings.TrimSuffix(f.Name, manifestSuffix)).manifest = data
		case strings.HasSuffix(f.Name, keySuffix):
			get(strings.TrimSuffix(f.Name, keySuffix)).record = data
		case strings.HasSuffix(f.Name, cipherSuffix):
			get(strings.TrimSuffix(f.Name, cipherSuffix)).cipher = data
		default:
			return nil, fmt.Errorf("unexpected package member %q", f.Name)
		}
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		p := byName[name]
		if p.cipher == nil || p.manifest == nil || p.record == nil {
			return nil, fmt.Errorf("package entry %q is incomplete", name)
		}

		container, err := crypto.DecodeManifest(p.manifest)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", name, err)
		}
		container.Ciphertext = p.cipher

		var record crypto.WrappedKeyRecord
		if err := json.Unmarshal(p.record, &record); err != nil {
			return nil, fmt.Errorf("entry %q: failed to parse key record: %w", name, err)
		}

		entries = append(entries, Entry{Name: name, Container: container, Record: &record})
	}
	return entries, nil
}

func readMember(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open package member %q: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read package member %q: %w", f.Name, err)
	}
	return data, nil
}
