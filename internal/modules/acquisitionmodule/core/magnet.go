package core

import (
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/anacrolix/torrent/metainfo"
	acqerrors "github.com/mantonx/cinerelay/internal/modules/acquisitionmodule/errors"
)

// BuildMagnet turns a source identifier into a magnet URI. A string that
// already starts with "magnet:" is returned byte for byte; a bare info hash
// (40 hex or 32 base32 characters) gets a display name and the trackers. A
// hex hash keeps the case it was supplied in. The returned hash is lowercase
// hex, or empty when it cannot be determined.
func BuildMagnet(source, title string, trackers []string) (magnet string, infoHash string, err error) {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return "", "", acqerrors.InvalidInput("build_magnet", acqerrors.ErrInvalidSource)
	}

	if strings.HasPrefix(trimmed, "magnet:") {
		if m, err := metainfo.ParseMagnetUri(trimmed); err == nil {
			infoHash = m.InfoHash.HexString()
		}
		return source, infoHash, nil
	}

	hash, err := parseInfoHash(trimmed)
	if err != nil {
		return "", "", acqerrors.InvalidInput("build_magnet", fmt.Errorf("%w: %v", acqerrors.ErrInvalidSource, err))
	}

	m := metainfo.Magnet{
		InfoHash:    hash,
		DisplayName: title,
		Trackers:    append([]string(nil), trackers...),
	}
	magnet = m.String()
	if len(trimmed) == 40 {
		magnet = strings.Replace(magnet, "urn:btih:"+hash.HexString(), "urn:btih:"+trimmed, 1)
	}
	return magnet, hash.HexString(), nil
}

func parseInfoHash(s string) (metainfo.Hash, error) {
	var h metainfo.Hash
	switch len(s) {
	case 40:
		if err := h.FromHexString(s); err != nil {
			return h, err
		}
		return h, nil
	case 32:
		raw, err := base32.StdEncoding.DecodeString(strings.ToUpper(s))
		if err != nil {
			return h, err
		}
		copy(h[:], raw)
		return h, nil
	}
	return h, fmt.Errorf("info hash must be 40 hex or 32 base32 characters, got %d", len(s))
}
