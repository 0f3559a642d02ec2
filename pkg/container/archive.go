// Package container reads and writes class archives: tar streams,
// optionally zstd-compressed, holding a manifest and one CBOR entry per
// class.
package container

import (
	"archive/tar"
	"bufio"
	"bytes"
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/fortiblox/X1-Patcher/internal/types"
	"github.com/fortiblox/X1-Patcher/pkg/classfile"
)

// Errors returned by the container package.
var (
	// ErrArchiveNotFound indicates the archive file does not exist.
	ErrArchiveNotFound = errors.New("archive not found")

	// ErrMissingManifest indicates the archive has no manifest entry.
	ErrMissingManifest = errors.New("missing archive manifest")

	// ErrMissingClass indicates a class listed in the manifest is absent.
	ErrMissingClass = errors.New("missing class entry")

	// ErrDigestMismatch indicates a class entry does not hash to the
	// digest recorded in the manifest.
	ErrDigestMismatch = errors.New("class digest mismatch")

	// ErrUnsupportedVersion indicates an unknown manifest version.
	ErrUnsupportedVersion = errors.New("unsupported archive version")

	// ErrCorruptedData indicates an entry could not be decoded.
	ErrCorruptedData = errors.New("corrupted archive data")

	// ErrDecompressionFailed indicates the zstd stream could not be read.
	ErrDecompressionFailed = errors.New("decompression failed")
)

// FormatVersion is the manifest version written by this package.
const FormatVersion = 1

const (
	manifestName = "manifest.cbor"
	classPrefix  = "classes/"
	classSuffix  = ".cbor"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// ClassEntry is one manifest line.
type ClassEntry struct {
	Name   string
	Digest types.Digest
}

// Manifest describes the archive contents in provider order.
type Manifest struct {
	Version   int
	Algorithm types.Algorithm
	Classes   []ClassEntry
}

type wireManifest struct {
	Version   int              `cbor:"1,keyasint"`
	Algorithm string           `cbor:"2,keyasint"`
	Classes   []wireClassEntry `cbor:"3,keyasint"`
}

type wireClassEntry struct {
	Name   string `cbor:"1,keyasint"`
	Digest []byte `cbor:"2,keyasint"`
}

func entryName(class string) string {
	return classPrefix + class + classSuffix
}

// Archive is a decoded class archive. It implements
// classfile.ClassProvider, yielding classes in manifest order.
type Archive struct {
	Path       string
	Compressed bool
	Manifest   Manifest

	classes []*classfile.Class
}

var _ classfile.ClassProvider = (*Archive)(nil)

// Classes implements classfile.ClassProvider.
func (a *Archive) Classes() []*classfile.Class {
	return a.classes
}

// Class returns the class with the given internal name, or nil.
func (a *Archive) Class(name string) *classfile.Class {
	for _, c := range a.classes {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Open reads the archive at path. Compression is detected from the
// stream, not the file name.
func Open(path string) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrArchiveNotFound, "%s", path)
		}
		return nil, errors.Wrap(err, "open archive")
	}
	defer f.Close()

	a, err := Read(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	a.Path = path
	return a, nil
}

// Read decodes an archive from r and verifies every class digest.
func Read(r io.Reader) (*Archive, error) {
	br := bufio.NewReader(r)
	a := &Archive{}

	var src io.Reader = br
	if head, _ := br.Peek(len(zstdMagic)); bytes.Equal(head, zstdMagic) {
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, errors.Wrapf(ErrDecompressionFailed, "%v", err)
		}
		defer dec.Close()
		src = dec
		a.Compressed = true
	}

	manifestData, entries, err := scan(tar.NewReader(src))
	if err != nil {
		return nil, err
	}
	if manifestData == nil {
		return nil, ErrMissingManifest
	}

	var wm wireManifest
	if err := cbor.Unmarshal(manifestData, &wm); err != nil {
		return nil, errors.Wrapf(ErrCorruptedData, "manifest: %v", err)
	}
	if wm.Version != FormatVersion {
		return nil, errors.Wrapf(ErrUnsupportedVersion, "%d", wm.Version)
	}
	algo, err := types.ParseAlgorithm(wm.Algorithm)
	if err != nil {
		return nil, err
	}
	a.Manifest = Manifest{Version: wm.Version, Algorithm: algo}

	for _, ce := range wm.Classes {
		want, err := types.DigestFromBytes(ce.Digest)
		if err != nil {
			return nil, errors.Wrapf(ErrCorruptedData, "digest of %s", ce.Name)
		}
		data, ok := entries[entryName(ce.Name)]
		if !ok {
			return nil, errors.Wrapf(ErrMissingClass, "%s", ce.Name)
		}
		got, err := types.Sum(algo, data)
		if err != nil {
			return nil, err
		}
		if got != want {
			return nil, errors.Wrapf(ErrDigestMismatch, "%s: manifest %s, entry %s", ce.Name, want, got)
		}
		c, err := unmarshalClass(data)
		if err != nil {
			return nil, errors.Wrapf(err, "class %s", ce.Name)
		}
		if c.Name != ce.Name {
			return nil, errors.Wrapf(ErrCorruptedData, "entry %s holds class %s", ce.Name, c.Name)
		}
		a.Manifest.Classes = append(a.Manifest.Classes, ClassEntry{Name: ce.Name, Digest: want})
		a.classes = append(a.classes, c)
	}
	return a, nil
}

// scan reads every regular entry of the tar stream. Entries other than
// the manifest and class files are skipped.
func scan(tr *tar.Reader) ([]byte, map[string][]byte, error) {
	var manifest []byte
	entries := make(map[string][]byte)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, errors.Wrap(err, "read tar header")
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := strings.TrimPrefix(hdr.Name, "./")
		isClass := strings.HasPrefix(name, classPrefix) && strings.HasSuffix(name, classSuffix)
		if name != manifestName && !isClass {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "read %s", name)
		}
		if name == manifestName {
			manifest = data
		} else {
			entries[name] = data
		}
	}
	return manifest, entries, nil
}
