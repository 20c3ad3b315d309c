package playback

import (
	"bytes"
	"fmt"
	"path"
	"strings"

	"github.com/grafov/m3u8"
)

type PlaylistKind string

const (
	PlaylistMedia  PlaylistKind = "media"
	PlaylistMaster PlaylistKind = "master"
)

// ManifestInfo is the subset of a decoded playlist that the cache and its debug
// endpoints care about.
type ManifestInfo struct {
	Kind           PlaylistKind `json:"kind"`
	MediaSequence  uint64       `json:"media_sequence,omitempty"`
	TargetDuration float64      `json:"target_duration,omitempty"`
	Closed         bool         `json:"closed,omitempty"`
	SegmentURIs    []string     `json:"segment_uris,omitempty"`
	VariantURIs    []string     `json:"variant_uris,omitempty"`
}

// InspectManifest decodes an HLS playlist in strict mode
func InspectManifest(manifest []byte) (ManifestInfo, error) {
	if len(bytes.TrimSpace(manifest)) == 0 {
		return ManifestInfo{}, fmt.Errorf("empty manifest")
	}

	p, listType, err := m3u8.DecodeFrom(bytes.NewReader(manifest), true)
	if err != nil {
		return ManifestInfo{}, fmt.Errorf("failed to read manifest contents: %w", err)
	}

	switch listType {
	case m3u8.MASTER:
		masterPl := p.(*m3u8.MasterPlaylist)
		info := ManifestInfo{Kind: PlaylistMaster}
		for _, variant := range masterPl.Variants {
			if variant == nil {
				break
			}
			info.VariantURIs = append(info.VariantURIs, variant.URI)
		}
		return info, nil
	case m3u8.MEDIA:
		mediaPl := p.(*m3u8.MediaPlaylist)
		info := ManifestInfo{
			Kind:           PlaylistMedia,
			MediaSequence:  mediaPl.SeqNo,
			TargetDuration: mediaPl.TargetDuration,
			Closed:         mediaPl.Closed,
		}
		for _, segment := range mediaPl.Segments {
			if segment == nil {
				break
			}
			info.SegmentURIs = append(info.SegmentURIs, segment.URI)
		}
		return info, nil
	}
	return ManifestInfo{}, fmt.Errorf("unknown playlist type")
}

// SegmentNames maps the playlist's segment URIs to the names segments are
// published under, which is the last path element with any query stripped.
func (i ManifestInfo) SegmentNames() []string {
	names := make([]string, 0, len(i.SegmentURIs))
	for _, uri := range i.SegmentURIs {
		name := uri
		if q := strings.IndexByte(name, '?'); q >= 0 {
			name = name[:q]
		}
		names = append(names, path.Base(name))
	}
	return names
}
