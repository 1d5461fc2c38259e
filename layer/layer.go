// Package layer implements the Layer Materializer (C4): it applies an
// ordered sequence of OCI tar-gzip layers onto a build directory, honoring
// OCI whiteouts, producing a fully populated rootfs tree.
package layer

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	digest "github.com/opencontainers/go-digest"
	"github.com/projecteru2/core/log"

	"github.com/tinythings/bootr/bootrerr"
	"github.com/tinythings/bootr/catalog"
)

// whiteoutPrefix marks a deletion of a sibling entry within a layer.
const whiteoutPrefix = ".wh."

// opaqueWhiteout marks "remove all existing children" for its directory.
const opaqueWhiteout = ".wh..wh..opq"

// Input is one layer to apply: its digest, used to locate the blob file
// within the slot directory passed to Materialize and to name its scratch
// sub-tree.
type Input struct {
	Digest digest.Digest
}

// Materialize builds rootfsDir from layers, reading each layer's blob from
// slotDir/<hex-digest>. Layers must be in manifest order; the first is the
// base layer, every subsequent one is a diff. On success every referenced
// blob file has been removed from slotDir.
func Materialize(ctx context.Context, slotDir, rootfsDir string, layers []Input) error {
	logger := log.WithFunc("layer.Materialize")

	if err := prepareBuildDir(rootfsDir); err != nil {
		return err
	}

	for i, l := range layers {
		blobPath := filepath.Join(slotDir, l.Digest.Encoded())
		if _, err := os.Stat(blobPath); err != nil {
			return bootrerr.NotFoundf("layer blob %s not found at %s", l.Digest, blobPath)
		}

		if i == 0 {
			logger.Infof(ctx, "applying base layer %s", l.Digest)
			if err := unpackBase(blobPath, rootfsDir); err != nil {
				return err
			}
		} else {
			logger.Infof(ctx, "applying diff layer %s", l.Digest)
			if err := applyDiff(ctx, blobPath, rootfsDir, l.Digest); err != nil {
				return err
			}
		}

		if err := os.Remove(blobPath); err != nil {
			return bootrerr.IOf(err, "remove consumed blob %s", blobPath)
		}
	}
	return nil
}

// prepareBuildDir recreates rootfsDir empty and pre-creates reserved host
// mountpoints, per spec §4.4 step 1 and §3 invariant 5.
func prepareBuildDir(rootfsDir string) error {
	if _, err := os.Stat(rootfsDir); err == nil {
		if err := os.RemoveAll(rootfsDir); err != nil {
			return bootrerr.IOf(err, "clear build directory %s", rootfsDir)
		}
	}
	if err := os.MkdirAll(rootfsDir, 0o755); err != nil {
		return bootrerr.IOf(err, "create build directory %s", rootfsDir)
	}
	for _, d := range catalog.ReservedHostDirs {
		if err := os.MkdirAll(filepath.Join(rootfsDir, d), 0o755); err != nil {
			return bootrerr.IOf(err, "create reserved directory %s", d)
		}
	}
	return nil
}

// unpackBase stream-decompresses and unpacks a layer directly into rootfsDir.
func unpackBase(blobPath, rootfsDir string) error {
	f, err := os.Open(blobPath) //nolint:gosec // blob path derived from catalog
	if err != nil {
		return bootrerr.IOf(err, "open blob %s", blobPath)
	}
	defer f.Close() //nolint:errcheck

	gz, err := gzip.NewReader(f)
	if err != nil {
		return bootrerr.InvalidDataf(err, "gzip header for %s", blobPath)
	}
	defer gz.Close() //nolint:errcheck

	return unpackTar(tar.NewReader(gz), rootfsDir)
}

// applyDiff unpacks a diff layer into a scratch sub-tree, resolves whiteouts
// against rootfsDir, then merges the scratch sub-tree over rootfsDir.
func applyDiff(ctx context.Context, blobPath, rootfsDir string, d digest.Digest) error {
	logger := log.WithFunc("layer.applyDiff")
	buildTmp := filepath.Join(rootfsDir, "tmp")
	scratch := scratchDir(buildTmp, d)

	// Idempotent re-application: a prior interrupted run may have left this
	// scratch sub-tree behind.
	if err := os.RemoveAll(scratch); err != nil {
		return bootrerr.IOf(err, "clear stale scratch dir %s", scratch)
	}
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return bootrerr.IOf(err, "create scratch dir %s", scratch)
	}

	f, err := os.Open(blobPath) //nolint:gosec // blob path derived from catalog
	if err != nil {
		return bootrerr.IOf(err, "open blob %s", blobPath)
	}
	defer f.Close() //nolint:errcheck

	gz, err := gzip.NewReader(f)
	if err != nil {
		return bootrerr.InvalidDataf(err, "gzip header for %s", blobPath)
	}
	defer gz.Close() //nolint:errcheck

	if err := unpackTar(tar.NewReader(gz), scratch); err != nil {
		return err
	}

	if err := resolveWhiteouts(ctx, scratch, rootfsDir); err != nil {
		return err
	}

	if err := mergeTree(scratch, rootfsDir); err != nil {
		return err
	}

	if err := os.RemoveAll(scratch); err != nil {
		return bootrerr.IOf(err, "remove scratch dir %s", scratch)
	}
	if entries, err := os.ReadDir(buildTmp); err == nil && len(entries) == 0 {
		_ = os.Remove(buildTmp)
	}
	logger.Infof(ctx, "merged diff layer %s", d)
	return nil
}

// scratchDir names a layer's scratch sub-tree by digest; Encoded() (the hex
// part) is always filesystem-safe, but a UUID fallback guards against any
// digest algorithm whose encoded form isn't (defense in depth).
func scratchDir(buildTmp string, d digest.Digest) string {
	name := d.Encoded()
	if name == "" || strings.ContainsAny(name, "/\\") {
		name = uuid.NewSHA1(uuid.NameSpaceOID, []byte(d.String())).String()
	}
	return filepath.Join(buildTmp, name)
}

// unpackTar extracts every entry of tr under dir.
func unpackTar(tr *tar.Reader, dir string) error {
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return bootrerr.InvalidDataf(err, "read tar entry under %s", dir)
		}
		if err := unpackEntry(hdr, tr, dir); err != nil {
			return err
		}
	}
	return nil
}

func unpackEntry(hdr *tar.Header, tr *tar.Reader, dir string) error {
	name := filepath.Clean(strings.TrimPrefix(hdr.Name, "./"))
	if name == "." {
		return nil
	}
	target := filepath.Join(dir, name)
	if !strings.HasPrefix(target, filepath.Clean(dir)+string(filepath.Separator)) && target != filepath.Clean(dir) {
		return bootrerr.InvalidDataf(nil, "tar entry %q escapes build directory", hdr.Name)
	}
	// Reserved host directories stay the empty mountpoints prepareBuildDir
	// created: neither they nor anything beneath them is taken from a layer.
	top := strings.SplitN(name, string(filepath.Separator), 2)[0]
	for _, r := range catalog.ReservedHostDirs {
		if top == r {
			return nil
		}
	}

	switch hdr.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(target, os.FileMode(hdr.Mode)&0o777); err != nil { //nolint:gosec
			return bootrerr.IOf(err, "mkdir %s", target)
		}
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return bootrerr.IOf(err, "mkdir parent of %s", target)
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode)&0o777) //nolint:gosec
		if err != nil {
			return bootrerr.IOf(err, "create %s", target)
		}
		if _, err := io.Copy(out, tr); err != nil { //nolint:gosec // size bounded by the layer itself
			_ = out.Close()
			return bootrerr.IOf(err, "write %s", target)
		}
		if err := out.Close(); err != nil {
			return bootrerr.IOf(err, "close %s", target)
		}
	case tar.TypeSymlink:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return bootrerr.IOf(err, "mkdir parent of %s", target)
		}
		_ = os.Remove(target)
		if err := os.Symlink(hdr.Linkname, target); err != nil {
			return bootrerr.IOf(err, "symlink %s", target)
		}
	case tar.TypeLink:
		linkTarget := filepath.Join(dir, filepath.Clean(strings.TrimPrefix(hdr.Linkname, "./")))
		if err := os.Link(linkTarget, target); err != nil {
			return bootrerr.IOf(err, "hardlink %s", target)
		}
	default:
		// Device nodes, fifos etc. are not expected in a layer targeting a
		// host rootfs update and are skipped rather than failing the install.
	}
	return nil
}

// resolveWhiteouts walks scratch for .wh.* markers and removes the
// corresponding target inside rootfsDir, failing NotFound if the target is
// absent (partial application is not acceptable). Opaque directory markers
// (.wh..wh..opq) remove every existing child of the corresponding target
// directory instead of a single sibling.
func resolveWhiteouts(ctx context.Context, scratch, rootfsDir string) error {
	logger := log.WithFunc("layer.resolveWhiteouts")
	var markers []string

	err := filepath.WalkDir(scratch, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), whiteoutPrefix) {
			markers = append(markers, path)
		}
		return nil
	})
	if err != nil {
		return bootrerr.IOf(err, "walk scratch dir %s", scratch)
	}

	for _, marker := range markers {
		rel, err := filepath.Rel(scratch, marker)
		if err != nil {
			return bootrerr.IOf(err, "relativize %s", marker)
		}
		dir := filepath.Dir(rel)
		base := filepath.Base(rel)

		if base == opaqueWhiteout {
			targetDir := filepath.Join(rootfsDir, dir)
			if err := clearDirChildren(targetDir); err != nil {
				return err
			}
			logger.Infof(ctx, "opaque whiteout cleared %s", targetDir)
		} else {
			targetName := strings.TrimPrefix(base, whiteoutPrefix)
			target := filepath.Join(rootfsDir, dir, targetName)
			if _, err := os.Lstat(target); err != nil {
				if os.IsNotExist(err) {
					return bootrerr.NotFoundf("whiteout target %s does not exist", target)
				}
				return bootrerr.IOf(err, "stat whiteout target %s", target)
			}
			if err := os.RemoveAll(target); err != nil {
				return bootrerr.IOf(err, "remove whiteout target %s", target)
			}
			logger.Infof(ctx, "whiteout removed %s", target)
		}

		if err := os.Remove(marker); err != nil {
			return bootrerr.IOf(err, "remove whiteout marker %s", marker)
		}
	}
	return nil
}

func clearDirChildren(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return bootrerr.NotFoundf("opaque whiteout target %s does not exist", dir)
		}
		return bootrerr.IOf(err, "read dir %s", dir)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return bootrerr.IOf(err, "remove %s", filepath.Join(dir, e.Name()))
		}
	}
	return nil
}

// mergeTree copies scratch over rootfsDir with overwrite semantics,
// preserving symlinks and file modes.
func mergeTree(scratch, rootfsDir string) error {
	return filepath.WalkDir(scratch, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(scratch, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(rootfsDir, rel)

		info, err := d.Info()
		if err != nil {
			return bootrerr.IOf(err, "stat %s", path)
		}

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			linkTarget, err := os.Readlink(path)
			if err != nil {
				return bootrerr.IOf(err, "readlink %s", path)
			}
			_ = os.Remove(target)
			if err := os.Symlink(linkTarget, target); err != nil {
				return bootrerr.IOf(err, "symlink %s", target)
			}
		case d.IsDir():
			if err := os.MkdirAll(target, info.Mode().Perm()); err != nil {
				return bootrerr.IOf(err, "mkdir %s", target)
			}
		default:
			if err := copyFile(path, target, info.Mode().Perm()); err != nil {
				return err
			}
		}
		return nil
	})
}

func copyFile(src, dst string, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return bootrerr.IOf(err, "mkdir parent of %s", dst)
	}
	in, err := os.Open(src) //nolint:gosec // path derived from scratch tree under our control
	if err != nil {
		return bootrerr.IOf(err, "open %s", src)
	}
	defer in.Close() //nolint:errcheck

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return bootrerr.IOf(err, "create %s", dst)
	}
	if _, err := io.Copy(out, in); err != nil { //nolint:gosec // bounded by source file size
		_ = out.Close()
		return bootrerr.IOf(err, "copy to %s", dst)
	}
	return out.Close()
}
