// Package registry implements the Registry Client (C3, collaborator): it
// resolves an image reference against an OCI registry and returns the
// manifest plus the bytes of any layer not already known to the caller,
// fetching unknown layers concurrently with a fixed fan-out bound.
package registry

import (
	"context"
	"io"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	gcrv1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	digest "github.com/opencontainers/go-digest"
	"github.com/projecteru2/core/log"
	"golang.org/x/sync/errgroup"

	"github.com/tinythings/bootr/bootrerr"
)

// maxFanOut bounds concurrent blob downloads (spec §4.3/§5).
const maxFanOut = 16

// Layer is one fetched (or skipped) layer blob.
type Layer struct {
	MediaType   string
	Digest      digest.Digest
	Annotations map[string]string
	// Data is nil when Digest was present in the knownDigests passed to
	// Pull — the caller already has this blob on disk.
	Data []byte
}

// PulledImage is the result of a successful Pull.
type PulledImage struct {
	Manifest    *gcrv1.Manifest
	ConfigBytes []byte
	Digest      digest.Digest
	Layers      []Layer
}

// Credentials are optional registry login details (spec §6 oci-registry.login).
type Credentials struct {
	Username string
	Password string
}

// Pull resolves imageRef, fetches its manifest, and fetches the bytes of
// every layer whose digest is not present in knownDigests. The full
// manifest is always returned regardless of which layers were skipped.
func Pull(ctx context.Context, imageRef string, knownDigests []digest.Digest, creds *Credentials) (*PulledImage, error) {
	logger := log.WithFunc("registry.Pull")

	ref, err := name.ParseReference(imageRef)
	if err != nil {
		return nil, bootrerr.InvalidArgumentf("invalid image reference %q: %v", imageRef, err)
	}

	opts := []remote.Option{
		remote.WithContext(ctx),
		remote.WithAuthFromKeychain(authn.DefaultKeychain),
	}
	if creds != nil && (creds.Username != "" || creds.Password != "") {
		opts = []remote.Option{
			remote.WithContext(ctx),
			remote.WithAuth(&authn.Basic{Username: creds.Username, Password: creds.Password}),
		}
	}

	logger.Infof(ctx, "pulling %s", ref.String())
	img, err := remote.Image(ref, opts...)
	if err != nil {
		return nil, bootrerr.Unavailablef(err, "fetch image %s", ref.String())
	}

	manifest, err := img.Manifest()
	if err != nil {
		return nil, bootrerr.InvalidDataf(err, "parse manifest for %s", ref.String())
	}

	imgDigest, err := img.Digest()
	if err != nil {
		return nil, bootrerr.InvalidDataf(err, "compute manifest digest for %s", ref.String())
	}

	configBytes, err := img.RawConfigFile()
	if err != nil {
		return nil, bootrerr.InvalidDataf(err, "read config blob for %s", ref.String())
	}

	gcrLayers, err := img.Layers()
	if err != nil {
		return nil, bootrerr.InvalidDataf(err, "list layers for %s", ref.String())
	}
	if len(manifest.Layers) != len(gcrLayers) {
		return nil, bootrerr.InvalidDataf(nil, "manifest/layer count mismatch for %s", ref.String())
	}

	known := make(map[digest.Digest]struct{}, len(knownDigests))
	for _, d := range knownDigests {
		known[d] = struct{}{}
	}

	out := make([]Layer, len(gcrLayers))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(maxFanOut)
	for i, l := range gcrLayers {
		i, l := i, l
		desc := manifest.Layers[i]
		d := digest.Digest(desc.Digest.String())
		out[i] = Layer{
			MediaType:   string(desc.MediaType),
			Digest:      d,
			Annotations: desc.Annotations,
		}
		if _, ok := known[d]; ok {
			logger.Infof(ctx, "layer %s already known, skipping fetch", d)
			continue
		}
		g.Go(func() error {
			// Compressed, not Uncompressed: the manifest's media type is
			// tar+gzip (spec §2) and the Materializer gzip-decodes blobs
			// straight off disk.
			rc, err := l.Compressed()
			if err != nil {
				return bootrerr.Unavailablef(err, "open layer %s", d)
			}
			defer rc.Close() //nolint:errcheck

			data, err := io.ReadAll(rc)
			if err != nil {
				return bootrerr.Unavailablef(err, "read layer %s", d)
			}
			out[i].Data = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	logger.Infof(ctx, "pulled %s: %d layers (%d fetched)", ref.String(), len(out), countFetched(out))
	return &PulledImage{
		Manifest:    manifest,
		ConfigBytes: configBytes,
		Digest:      digest.Digest(imgDigest.String()),
		Layers:      out,
	}, nil
}

func countFetched(layers []Layer) int {
	n := 0
	for _, l := range layers {
		if l.Data != nil {
			n++
		}
	}
	return n
}
