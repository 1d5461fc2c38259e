package status

import (
	"encoding/json"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/tinythings/bootr/bootrerr"
)

// FromImageConfig parses the raw OCI image config JSON blob returned by the
// registry client (registry.PulledImage.ConfigBytes) into a Status Record.
// Only the subset of the config the Status Record carries is kept; the rest
// (env, entrypoint, exposed ports, ...) belongs to the image, not the slot.
func FromImageConfig(data []byte) (*Record, error) {
	var img ocispec.Image
	if err := json.Unmarshal(data, &img); err != nil {
		return nil, bootrerr.InvalidDataf(err, "parse OCI image config")
	}
	if img.Architecture == "" || img.OS == "" {
		return nil, bootrerr.InvalidDataf(nil, "OCI image config missing required architecture/os")
	}

	diffIDs := make([]string, len(img.RootFS.DiffIDs))
	for i, d := range img.RootFS.DiffIDs {
		diffIDs[i] = d.String()
	}

	history := make([]HistoryEntry, len(img.History))
	for i, h := range img.History {
		history[i] = HistoryEntry{
			Created:    h.Created,
			Author:     h.Author,
			CreatedBy:  h.CreatedBy,
			Comment:    h.Comment,
			EmptyLayer: h.EmptyLayer,
		}
	}

	return &Record{
		Created:      img.Created,
		Author:       img.Author,
		Architecture: img.Architecture,
		OS:           img.OS,
		OSVersion:    img.OSVersion,
		Config: Config{
			Cmd:    img.Config.Cmd,
			Labels: img.Config.Labels,
		},
		Rootfs: Rootfs{
			Type:    img.RootFS.Type,
			DiffIDs: diffIDs,
		},
		History: history,
	}, nil
}
