package container

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"

	"github.com/fortiblox/X1-Patcher/internal/types"
	"github.com/fortiblox/X1-Patcher/pkg/classfile"
)

// Options configures a Writer.
type Options struct {
	// Compress wraps the tar stream in zstd.
	Compress bool

	// Level is the zstd level (1-22). Zero uses the library default.
	Level int

	// Algorithm is the class digest. Empty means blake3.
	Algorithm types.Algorithm

	// ModTime is stamped on every tar entry. Zero gives the Unix epoch,
	// so the same classes always produce the same bytes.
	ModTime time.Time
}

// DefaultOptions returns compressed output with blake3 digests.
func DefaultOptions() Options {
	return Options{Compress: true, Algorithm: types.Blake3}
}

// Writer serializes classes into an archive. It implements
// classfile.ContainerWriter. Each call to WriteClasses writes one
// complete archive to the underlying writer.
type Writer struct {
	w    io.Writer
	opts Options

	// Manifest is the manifest of the last archive written.
	Manifest Manifest
}

var _ classfile.ContainerWriter = (*Writer)(nil)

// NewWriter returns a writer to w.
func NewWriter(w io.Writer, opts Options) *Writer {
	return &Writer{w: w, opts: opts}
}

// WriteClasses implements classfile.ContainerWriter.
func (wr *Writer) WriteClasses(classes []*classfile.Class) error {
	algo, err := types.ParseAlgorithm(string(wr.opts.Algorithm))
	if err != nil {
		return err
	}

	var dst io.Writer = wr.w
	var enc *zstd.Encoder
	if wr.opts.Compress {
		zopts := []zstd.EOption{}
		if wr.opts.Level > 0 {
			zopts = append(zopts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(wr.opts.Level)))
		}
		enc, err = zstd.NewWriter(wr.w, zopts...)
		if err != nil {
			return errors.Wrap(err, "zstd writer")
		}
		defer func() {
			if enc != nil {
				enc.Close()
			}
		}()
		dst = enc
	}

	tw := tar.NewWriter(dst)
	manifest := Manifest{Version: FormatVersion, Algorithm: algo}
	wm := wireManifest{Version: FormatVersion, Algorithm: string(algo)}
	seen := make(map[string]struct{}, len(classes))

	type pending struct {
		name string
		data []byte
	}
	bodies := make([]pending, 0, len(classes))
	for _, c := range classes {
		if _, dup := seen[c.Name]; dup {
			return errors.Newf("duplicate class %s", c.Name)
		}
		seen[c.Name] = struct{}{}

		data, err := marshalClass(c)
		if err != nil {
			return errors.Wrapf(err, "encode class %s", c.Name)
		}
		d, err := types.Sum(algo, data)
		if err != nil {
			return err
		}
		manifest.Classes = append(manifest.Classes, ClassEntry{Name: c.Name, Digest: d})
		wm.Classes = append(wm.Classes, wireClassEntry{Name: c.Name, Digest: d.Bytes()})
		bodies = append(bodies, pending{name: entryName(c.Name), data: data})
	}

	md, err := encMode.Marshal(wm)
	if err != nil {
		return errors.Wrap(err, "encode manifest")
	}
	if err := wr.entry(tw, manifestName, md); err != nil {
		return err
	}
	for _, b := range bodies {
		if err := wr.entry(tw, b.name, b.data); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return errors.Wrap(err, "close tar")
	}
	if enc != nil {
		err := enc.Close()
		enc = nil
		if err != nil {
			return errors.Wrap(err, "close zstd")
		}
	}
	wr.Manifest = manifest
	return nil
}

func (wr *Writer) entry(tw *tar.Writer, name string, data []byte) error {
	mod := wr.opts.ModTime
	if mod.IsZero() {
		mod = time.Unix(0, 0)
	}
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(data)),
		ModTime:  mod,
		Typeflag: tar.TypeReg,
		Format:   tar.FormatPAX,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return errors.Wrapf(err, "write header %s", name)
	}
	if _, err := tw.Write(data); err != nil {
		return errors.Wrapf(err, "write %s", name)
	}
	return nil
}

// FileWriter writes an archive to a path. The file is replaced only after
// the whole archive has been written.
type FileWriter struct {
	Path string
	Opts Options
}

var _ classfile.ContainerWriter = FileWriter{}

// WriteClasses implements classfile.ContainerWriter.
func (fw FileWriter) WriteClasses(classes []*classfile.Class) error {
	dir := filepath.Dir(fw.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create directory")
	}
	tmp, err := os.CreateTemp(dir, ".archive-*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	defer os.Remove(tmp.Name())

	if err := NewWriter(tmp, fw.Opts).WriteClasses(classes); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}
	return errors.Wrap(os.Rename(tmp.Name(), fw.Path), "rename archive")
}
